package http

import (
	"context"
	"net/http"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

type componentHealth struct {
	Healthy   bool   `json:"healthy"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

type healthReport struct {
	Status     string                     `json:"status"` // "ok" or "degraded"
	UptimeSecs int64                      `json:"uptime_seconds"`
	CheckedAt  time.Time                  `json:"checked_at"`
	Components map[string]componentHealth `json:"components"`
}

// handleHealth runs the composite health probe: database, cache, gateway.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.config.HealthTimeout)
	defer cancel()

	report := healthReport{
		Status:     "ok",
		UptimeSecs: int64(s.Uptime().Seconds()),
		CheckedAt:  time.Now().UTC(),
		Components: make(map[string]componentHealth),
	}

	report.Components["database"] = s.probe(ctx, s.deps.Database)
	report.Components["cache"] = s.probe(ctx, s.deps.Cache)

	gateway := componentHealth{Healthy: true}
	if s.deps.Gateway != nil && !s.deps.Gateway.IsConnected() {
		gateway = componentHealth{Healthy: false, Error: "gateway disconnected"}
	}
	report.Components["gateway"] = gateway

	status := http.StatusOK
	for _, c := range report.Components {
		if !c.Healthy {
			report.Status = "degraded"
			status = http.StatusServiceUnavailable
			break
		}
	}

	writeJSON(w, status, report)
}

type pinger interface {
	Ping(ctx context.Context) error
}

func (s *Server) probe(ctx context.Context, p pinger) componentHealth {
	if p == nil {
		return componentHealth{Healthy: true}
	}
	start := time.Now()
	if err := p.Ping(ctx); err != nil {
		return componentHealth{
			Healthy:   false,
			LatencyMS: time.Since(start).Milliseconds(),
			Error:     err.Error(),
		}
	}
	return componentHealth{Healthy: true, LatencyMS: time.Since(start).Milliseconds()}
}

// handleReady reports readiness: storage reachable and gateway connected.
// Load balancers should stop routing when this fails; /live stays green so
// the process is not restarted during a Discord outage.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.config.HealthTimeout)
	defer cancel()

	if s.deps.Database != nil {
		if err := s.deps.Database.Ping(ctx); err != nil {
			writeJSONError(w, http.StatusServiceUnavailable, "not_ready", "database unreachable")
			return
		}
	}
	if s.deps.Gateway != nil && !s.deps.Gateway.IsConnected() {
		writeJSONError(w, http.StatusServiceUnavailable, "not_ready", "gateway disconnected")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive is the liveness probe. Always 200 while the process serves.
func (s *Server) handleLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// handleRoot gives a minimal service banner.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeJSONError(w, http.StatusNotFound, "not_found", "Unknown endpoint")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "focushall-bot",
		"uptime":  s.Uptime().String(),
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// STATS
// ══════════════════════════════════════════════════════════════════════════════

// handleStats aggregates runtime statistics from all registered sources.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	stats := make(map[string]interface{}, len(s.deps.StatsSources)+1)
	stats["uptime_seconds"] = int64(s.Uptime().Seconds())
	for name, source := range s.deps.StatsSources {
		if source != nil {
			stats[name] = source.GetStats()
		}
	}
	writeJSON(w, http.StatusOK, stats)
}
