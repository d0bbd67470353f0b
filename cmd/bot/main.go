// Package main - точка входа для FocusHall Discord Bot.
//
// FocusHall следит за тем, чтобы учебные голосовые комнаты оставались
// рабочими: периодические проверки присутствия с кнопкой подтверждения,
// наблюдение за комнатами отдыха и учёт XP/стриков в леджере.
//
// Архитектура следует принципам Clean Architecture и DDD:
// - Domain: чистая бизнес-логика без внешних зависимостей
// - Application: presence engine, trigger detector, break monitor
// - Infrastructure: PostgreSQL, Redis, event bus, Discord REST/Gateway
// - Interface: Discord handlers, операционные HTTP endpoints
package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/focushall/focushall-bot/config"

	// Application layer
	"github.com/focushall/focushall-bot/internal/application/breakwatch"
	"github.com/focushall/focushall-bot/internal/application/engine"
	"github.com/focushall/focushall-bot/internal/application/trigger"

	// Domain layer
	"github.com/focushall/focushall-bot/internal/domain/shared"

	// Infrastructure layer
	"github.com/focushall/focushall-bot/internal/infrastructure/external/discord"
	"github.com/focushall/focushall-bot/internal/infrastructure/messaging"
	"github.com/focushall/focushall-bot/internal/infrastructure/persistence/postgres"
	"github.com/focushall/focushall-bot/internal/infrastructure/persistence/projections"
	"github.com/focushall/focushall-bot/internal/infrastructure/persistence/redis"
	"github.com/focushall/focushall-bot/internal/infrastructure/scheduler"
	"github.com/focushall/focushall-bot/internal/infrastructure/scheduler/jobs"
	"github.com/focushall/focushall-bot/internal/infrastructure/service"

	// Interface layer
	botiface "github.com/focushall/focushall-bot/internal/interface/discord"
	httpserver "github.com/focushall/focushall-bot/internal/interface/http"

	// Packages
	"github.com/focushall/focushall-bot/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	// Создаём корневой контекст с возможностью отмены
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Запускаем приложение
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
	log.Info("starting FocusHall Bot",
		"env", cfg.App.Environment,
		"debug", cfg.App.Debug,
		"timezone", cfg.App.Location.String(),
		"version", cfg.App.Version,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ПОДКЛЮЧЕНИЕ К БАЗЕ ДАННЫХ (PostgreSQL)
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

	// Проверяем соединение
	if err := dbConn.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	log.Info("database connection established")

	// ─────────────────────────────────────────────────────────────────────────
	// 4. ЗАПУСК МИГРАЦИЙ
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("running database migrations...")
	migrator := postgres.NewMigrator(dbConn)
	if err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	status, err := migrator.Status(ctx)
	if err != nil {
		log.Warn("failed to get migration status", "error", err)
	} else {
		appliedCount := 0
		for _, m := range status {
			if m.IsApplied {
				appliedCount++
			}
		}
		log.Info("migrations completed", "applied", appliedCount, "total", len(status))
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. ИНИЦИАЛИЗАЦИЯ REDIS (опционально)
	// ─────────────────────────────────────────────────────────────────────────
	// Redis даёт кеш статистики и cross-instance шину событий. Без него бот
	// работает полностью, просто на одном инстансе и с холодными чтениями.
	var redisCache *redis.Cache

	if !cfg.Redis.Disabled {
		log.Info("connecting to Redis...", "host", cfg.Redis.Host, "port", cfg.Redis.Port)
		redisCfg := redis.DefaultConfig()
		redisCfg.Host = cfg.Redis.Host
		redisCfg.Port = cfg.Redis.Port
		redisCfg.Password = cfg.Redis.Password
		redisCfg.DB = cfg.Redis.DB
		redisCfg.PoolSize = cfg.Redis.PoolSize

		redisCache, err = redis.NewCache(redisCfg)
		if err != nil {
			log.Warn("failed to connect to Redis, continuing without cache", "error", err)
			redisCache = nil
		} else {
			defer func() {
				log.Info("closing Redis connection...")
				_ = redisCache.Close()
			}()
			log.Info("Redis connection established")
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. ИНИЦИАЛИЗАЦИЯ РЕПОЗИТОРИЕВ
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing repositories...")
	userStatsRepo := postgres.NewUserStatsRepository(dbConn)
	infractionRepo := postgres.NewInfractionRepository(dbConn)
	sessionLogRepo := postgres.NewSessionLogRepository(dbConn)

	// ─────────────────────────────────────────────────────────────────────────
	// 7. ИНИЦИАЛИЗАЦИЯ EVENT BUS И ДИСПЕТЧЕРА
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing event bus...")
	localBusConfig := messaging.DefaultInMemoryEventBusConfig()
	localBusConfig.Logger = log

	var eventBus closableEventBus
	if redisCache != nil {
		redisBus, err := messaging.NewRedisEventBus(messaging.RedisEventBusConfig{
			Client:         redis.NewEventBusClient(redisCache),
			InstanceID:     uuid.NewString(),
			LocalBusConfig: localBusConfig,
			Logger:         log,
		})
		if err != nil {
			return fmt.Errorf("failed to create redis event bus: %w", err)
		}
		eventBus = redisBus
		log.Info("using Redis event bus")
	} else {
		eventBus = messaging.NewInMemoryEventBus(localBusConfig)
		log.Info("using in-memory event bus")
	}
	defer func() {
		log.Info("closing event bus...")
		_ = eventBus.Close()
	}()

	dispatcher := messaging.NewDispatcher(messaging.DefaultDispatcherConfig(eventBus))
	dispatcher.Use(messaging.RecoveryMiddleware(log))
	dispatcher.Use(messaging.LoggingMiddleware(log))
	dispatcher.Use(messaging.MetricsMiddleware(dispatcher.Metrics()))

	// ─────────────────────────────────────────────────────────────────────────
	// 8. ПРОЕКЦИЯ АУДИТА СЕССИЙ
	// ─────────────────────────────────────────────────────────────────────────
	auditProjection := projections.NewSessionAuditProjection(projections.SessionAuditConfig{
		Sessions:    sessionLogRepo,
		Infractions: infractionRepo,
		Logger:      log,
	})
	if err := auditProjection.Register(dispatcher); err != nil {
		return fmt.Errorf("failed to register audit projection: %w", err)
	}

	if err := dispatcher.Start(); err != nil {
		return fmt.Errorf("failed to start dispatcher: %w", err)
	}
	defer func() {
		log.Info("stopping dispatcher...")
		_ = dispatcher.Stop()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 9. ИНИЦИАЛИЗАЦИЯ DISCORD КЛИЕНТОВ
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing Discord REST client...")
	clientConfig := discord.DefaultClientConfig(cfg.Discord.Token)
	clientConfig.Logger = log
	clientConfig.Debug = cfg.App.Debug
	restClient := discord.NewClient(clientConfig)

	tracker := discord.NewVoiceTracker()
	gateway := discord.NewGatewayAdapter(restClient, tracker)

	// ─────────────────────────────────────────────────────────────────────────
	// 10. ЛЕДЖЕР (write-behind поверх PostgreSQL + Redis)
	// ─────────────────────────────────────────────────────────────────────────
	// Типизированный nil в интерфейсе сломает проверку cache != nil,
	// поэтому собираем интерфейсное значение только при живом Redis.
	var statsCache service.LedgerCache
	if redisCache != nil {
		statsCache = redis.NewLedgerCache(redisCache)
	}

	bufferedLedger := service.NewBufferedLedger(userStatsRepo, statsCache, service.BufferedLedgerConfig{
		FlushInterval: cfg.Engine.LedgerFlushInterval,
		Logger:        log,
	})
	defer func() {
		log.Info("flushing ledger...")
		if err := bufferedLedger.Close(); err != nil {
			log.Error("ledger flush on close failed", "error", err)
		}
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 11. APPLICATION LAYER (engine, break monitor, trigger detector)
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing application core...")

	engineConfig := engine.DefaultConfig()
	engineConfig.ConfirmWindow = cfg.Engine.ConfirmWindow
	engineConfig.XPReward = cfg.Engine.XPReward
	engineConfig.RoomChannels = cfg.Engine.RoomChannels
	engineConfig.Logger = log
	engineConfig.Events = eventBus

	// Engine получает «сырой» gateway: enforcement-уведомления не глушим
	// никогда, даже ночью.
	presenceEngine := engine.New(gateway, bufferedLedger, engineConfig)
	defer presenceEngine.Shutdown()

	// Советующие напоминания монитора идут через quiet-hours декоратор.
	quietGateway := service.NewQuietHoursGateway(gateway, cfg.App.Location, func() bool {
		return cfg.Features.IsEnabled(config.FeatureNotifyQuietHours, nil)
	}, log)

	breakConfig := breakwatch.DefaultConfig()
	breakConfig.NagDelay = cfg.Break.NagDelay
	breakConfig.JoinThreshold = cfg.Break.JoinThreshold
	breakConfig.BreakRooms = make(map[string]struct{}, len(cfg.Break.BreakRooms))
	for _, roomID := range cfg.Break.BreakRooms {
		breakConfig.BreakRooms[roomID] = struct{}{}
	}
	breakConfig.Logger = log
	breakConfig.Events = eventBus
	// Рубильник на весь инстанс: процентная раскатка по пользователям тут
	// не делится, порог просто уводится в недостижимость.
	if !cfg.Features.IsEnabled(config.FeatureBreakFrequencyNag, nil) {
		breakConfig.JoinThreshold = math.MaxInt
	}

	monitor := breakwatch.New(quietGateway, breakConfig)
	defer monitor.Shutdown()

	resolvers := []trigger.Resolver{
		trigger.ExplicitResolver{},
		trigger.ChannelMapResolver{ChannelRooms: invertRoomChannels(cfg.Engine.RoomChannels)},
		trigger.MentionResolver{MonitoredRooms: monitoredRoomSet(cfg.Engine.RoomChannels)},
	}
	if cfg.Features.IsEnabled(config.FeatureTriggerKeywords, nil) {
		resolvers = append(resolvers, trigger.KeywordResolver{RoomNames: cfg.Engine.KeywordRooms})
	}

	triggerConfig := trigger.DefaultConfig()
	triggerConfig.RoomDedupWindow = cfg.Engine.RoomDedupWindow
	triggerConfig.MessageDedupWindow = cfg.Engine.MessageDedupWindow
	triggerConfig.Logger = log
	triggerConfig.Events = eventBus

	detector := trigger.New(presenceEngine, resolvers, triggerConfig)

	// ─────────────────────────────────────────────────────────────────────────
	// 12. ПЛАНИРОВЩИК ФОНОВЫХ ЗАДАЧ
	// ─────────────────────────────────────────────────────────────────────────
	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		log.Info("initializing scheduler...")
		sched = scheduler.NewScheduler(scheduler.SchedulerConfig{
			Logger:        log,
			Timezone:      cfg.App.Location,
			EnableMetrics: true,
		})

		pruneJob := jobs.NewPruneDedupJob(detector, log)
		if err := sched.Register(pruneJob, scheduler.NewIntervalSchedule(cfg.Scheduler.DedupPruneInterval)); err != nil {
			return fmt.Errorf("failed to register dedup prune job: %w", err)
		}

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
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 13. СОЗДАНИЕ DISCORD BOT
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing Discord bot...")

	botConfig := botiface.DefaultBotConfig(cfg.Discord.Token)
	botConfig.GatewayURL = cfg.Discord.GatewayURL
	botConfig.AdminUserIDs = cfg.Discord.AdminIDs
	botConfig.UserRateLimit = cfg.Discord.UserRateLimit
	botConfig.UserRateBurst = cfg.Discord.UserRateBurst
	botConfig.UserBanDuration = cfg.Discord.UserRateLimitBan
	botConfig.Logger = log

	bot, err := botiface.NewBot(botConfig, botiface.BotDependencies{
		Client:   restClient,
		Tracker:  tracker,
		Engine:   presenceEngine,
		Detector: detector,
		Monitor:  monitor,
		Ledger:   bufferedLedger,
		Activity: auditProjection,
	})
	if err != nil {
		return fmt.Errorf("failed to create bot: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 14. СОЗДАНИЕ HTTP SERVER (health, readiness, stats)
	// ─────────────────────────────────────────────────────────────────────────
	var httpServer *httpserver.Server
	if cfg.HTTP.Enabled {
		log.Info("initializing HTTP server...")

		httpConfig := httpserver.DefaultConfig()
		httpConfig.Host = cfg.HTTP.Host
		httpConfig.Port = cfg.HTTP.Port

		// Та же история с типизированным nil, что и у кеша леджера.
		var cachePinger httpserver.CachePinger
		if redisCache != nil {
			cachePinger = redisCache
		}

		statsSources := map[string]httpserver.StatsSource{
			"bot":        bot,
			"dispatcher": &dispatcherStatsSource{dispatcher: dispatcher},
		}
		if sched != nil {
			statsSources["scheduler"] = &schedulerStatsSource{scheduler: sched}
		}

		httpServer = httpserver.NewServer(httpConfig, httpserver.Dependencies{
			Database:     dbConn,
			Cache:        cachePinger,
			Gateway:      bot,
			StatsSources: statsSources,
			Logger:       logger.Default(),
		})
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 15. ЗАПУСК СЕРВИСОВ И GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("starting services...")

	if httpServer != nil {
		if err := httpServer.Start(); err != nil {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		log.Info("HTTP server listening", "address", httpServer.Address())
	}

	if err := bot.Start(ctx); err != nil {
		return fmt.Errorf("failed to start bot: %w", err)
	}

	log.Info("FocusHall Bot is running")

	// Ожидаем сигнал завершения
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		log.Info("root context cancelled")
	}

	// Начинаем graceful shutdown
	log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer shutdownCancel()

	var shutdownErr error

	// 1. Гасим gateway: новые события больше не приходят
	log.Info("stopping Discord bot...")
	if err := bot.Stop(shutdownCtx); err != nil {
		log.Error("failed to stop bot gracefully", "error", err)
		shutdownErr = err
	}

	// 2. Останавливаем HTTP сервер
	if httpServer != nil {
		log.Info("stopping HTTP server...")
		if err := httpServer.Stop(shutdownCtx); err != nil {
			log.Error("failed to stop HTTP server gracefully", "error", err)
			shutdownErr = err
		}
	}

	// 3. Планировщик, мониторы, engine, леджер, диспетчер, шина и база
	//    закрываются через defer в обратном порядке создания.

	if shutdownErr != nil {
		log.Warn("shutdown completed with errors")
	} else {
		log.Info("shutdown completed successfully")
	}

	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// closableEventBus объединяет шину событий и её закрытие: обе реализации
// (in-memory и Redis) закрываются при shutdown.
type closableEventBus interface {
	shared.EventBus
	Close() error
}

// setupLogger настраивает структурированное логирование.
func setupLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Observability.LogLevel),
	}
	if cfg.App.Debug {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Observability.LogFormat == "json" || cfg.App.Environment == config.EnvProduction {
		// JSON формат для production (лучше для агрегаторов логов)
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		// Текстовый формат для development (лучше читается)
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	log := slog.New(handler)
	slog.SetDefault(log)

	return log
}

// parseLogLevel переводит строку уровня в slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// invertRoomChannels разворачивает voice→text в text→voice для резолвера
// по каналу сообщения.
func invertRoomChannels(roomChannels map[string]string) map[string]string {
	inverted := make(map[string]string, len(roomChannels))
	for voiceID, textID := range roomChannels {
		inverted[textID] = voiceID
	}
	return inverted
}

// monitoredRoomSet собирает множество отслеживаемых голосовых комнат.
func monitoredRoomSet(roomChannels map[string]string) map[string]struct{} {
	rooms := make(map[string]struct{}, len(roomChannels))
	for voiceID := range roomChannels {
		rooms[voiceID] = struct{}{}
	}
	return rooms
}

// ══════════════════════════════════════════════════════════════════════════════
// ADAPTERS
// These adapt infrastructure metrics to the HTTP stats source interface.
// ══════════════════════════════════════════════════════════════════════════════

// dispatcherStatsSource exposes dispatcher metrics on /api/v1/stats.
type dispatcherStatsSource struct {
	dispatcher *messaging.Dispatcher
}

func (s *dispatcherStatsSource) GetStats() map[string]interface{} {
	snap := s.dispatcher.Metrics().Snapshot()
	return map[string]interface{}{
		"total_dispatched": snap.TotalDispatched,
		"total_executions": snap.TotalExecutions,
		"total_failures":   snap.TotalFailures,
		"total_retries":    snap.TotalRetries,
		"success_rate":     snap.SuccessRate,
		"avg_duration_ms":  snap.AverageDuration.Milliseconds(),
	}
}

// schedulerStatsSource exposes scheduler metrics on /api/v1/stats.
type schedulerStatsSource struct {
	scheduler *scheduler.Scheduler
}

func (s *schedulerStatsSource) GetStats() map[string]interface{} {
	snap := s.scheduler.GetMetrics().Snapshot()
	return map[string]interface{}{
		"total_executions": snap.TotalExecutions,
		"total_successes":  snap.TotalSuccesses,
		"total_failures":   snap.TotalFailures,
		"success_rate":     snap.SuccessRate,
		"avg_duration_ms":  snap.AverageDuration.Milliseconds(),
		"jobs":             len(s.scheduler.ListJobs()),
	}
}
