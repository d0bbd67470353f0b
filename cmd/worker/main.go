// Package main - точка входа для фонового обслуживания FocusHall.
//
// Worker запускается отдельно от бота и отвечает за хозяйственные задачи,
// которым не нужен Discord gateway:
// - Ночная чистка журнала сессий по сроку хранения
//
// На инсталляциях с одним инстансом бота те же задачи выполняет встроенный
// планировщик бота; worker нужен, когда бот работает в нескольких копиях и
// чистку базы должен делать ровно один процесс.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/focushall/focushall-bot/config"
	"github.com/focushall/focushall-bot/internal/infrastructure/persistence/postgres"
	"github.com/focushall/focushall-bot/internal/infrastructure/scheduler"
	"github.com/focushall/focushall-bot/internal/infrastructure/scheduler/jobs"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. ЗАГРУЗКА КОНФИГУРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. НАСТРОЙКА ЛОГИРОВАНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	log := setupLogger(cfg)
	log.Info("starting FocusHall Worker",
		"env", cfg.App.Environment,
		"timezone", cfg.App.Location.String(),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ПОДКЛЮЧЕНИЕ К БАЗЕ ДАННЫХ
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("connecting to database...")
	dbConn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		log.Info("closing database connection...")
		dbConn.Close()
	}()

	if err := dbConn.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	log.Info("database connection established")

	// ─────────────────────────────────────────────────────────────────────────
	// 4. ЗАПУСК МИГРАЦИЙ
	// ─────────────────────────────────────────────────────────────────────────
	// Worker может стартовать раньше бота, миграции должны быть идемпотентны.
	log.Info("running database migrations...")
	migrator := postgres.NewMigrator(dbConn)
	if err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. ПЛАНИРОВЩИК
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing scheduler...")
	sched := scheduler.NewScheduler(scheduler.SchedulerConfig{
		Logger:        log,
		Timezone:      cfg.App.Location,
		EnableMetrics: true,
	})

	sessionLogRepo := postgres.NewSessionLogRepository(dbConn)

	purgeSchedule, err := scheduler.ParseCronExpression(cfg.Scheduler.AuditPurgeCron)
	if err != nil {
		return fmt.Errorf("invalid audit purge cron %q: %w", cfg.Scheduler.AuditPurgeCron, err)
	}
	purgeJob := jobs.NewPurgeAuditJob(jobs.PurgeAuditConfig{
		Purger:    sessionLogRepo,
		Retention: cfg.Scheduler.AuditRetention,
		Logger:    log,
	})
	if err := sched.Register(purgeJob, purgeSchedule); err != nil {
		return fmt.Errorf("failed to register audit purge job: %w", err)
	}

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer func() {
		log.Info("stopping scheduler...")
		_ = sched.Stop()
	}()

	log.Info("FocusHall Worker is running",
		"purge_cron", cfg.Scheduler.AuditPurgeCron,
		"retention", cfg.Scheduler.AuditRetention.String(),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 6. ОЖИДАНИЕ ЗАВЕРШЕНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		log.Info("root context cancelled")
	}

	log.Info("shutting down...")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// setupLogger настраивает структурированное логирование.
func setupLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	if cfg.App.Debug {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Observability.LogFormat == "json" || cfg.App.Environment == config.EnvProduction {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	log := slog.New(handler)
	slog.SetDefault(log)

	return log
}
