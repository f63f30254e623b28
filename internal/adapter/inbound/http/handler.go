package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hmcelik/aegis-moderation/internal/service"
)

// Server is the observability HTTP endpoint: /metrics, /healthz, /stats.
type Server struct {
	addr    string
	logger  *slog.Logger
	sources Sources
	extras  StatsExtras
	checks  map[string]HealthChecker
	httpSrv *http.Server
}

// NewServer builds the server and registers the collector with the given
// registry (pass prometheus.NewRegistry() in tests to avoid global state).
func NewServer(addr string, sources Sources, reg *prometheus.Registry, logger *slog.Logger) *Server {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	reg.MustRegister(NewCollector(sources))

	s := &Server{
		addr:    addr,
		logger:  logger,
		sources: sources,
		checks:  make(map[string]HealthChecker),
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		healthHandler(s.checks)(w, r)
	})
	mux.HandleFunc("/stats", s.handleStats)

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// AddHealthCheck registers a named dependency check for /healthz.
// Call before Start.
func (s *Server) AddHealthCheck(name string, c HealthChecker) {
	s.checks[name] = c
}

// statsResponse is the /stats JSON body.
type statsResponse struct {
	Queue    queueStatsDTO                `json:"queue"`
	Worker   *service.WorkerMetrics       `json:"worker,omitempty"`
	Cache    *service.VerdictCacheMetrics `json:"cache,omitempty"`
	Budget   *service.BudgetCacheStats    `json:"budgetCache,omitempty"`
	Outbox   map[string]int64             `json:"outbox,omitempty"`
	Platform map[string]any               `json:"platform,omitempty"`
	Strikes  map[string]int               `json:"strikes,omitempty"`
}

// StatsExtras are optional snapshot sources beyond the metrics collector's.
type StatsExtras struct {
	Budget  *service.BudgetEnforcer
	Strikes *service.StrikeCounter
}

// SetStatsExtras wires the optional /stats sources. Call before Start.
func (s *Server) SetStatsExtras(e StatsExtras) {
	s.extras = e
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{Queue: queueStats(s.sources.Queue)}

	if wkr := s.sources.Worker; wkr != nil {
		m := wkr.GetMetrics()
		resp.Worker = &m
	}
	if vc := s.sources.Cache; vc != nil {
		m := vc.GetMetrics()
		resp.Cache = &m
	}
	if b := s.extras.Budget; b != nil {
		st := b.GetCacheStats()
		resp.Budget = &st
	}
	if om := s.sources.Outbox; om != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if m, err := om.GetMetrics(ctx); err == nil {
			resp.Outbox = map[string]int64{
				"total":      m.Total,
				"pending":    m.Pending,
				"processing": m.Processing,
				"completed":  m.Completed,
				"failed":     m.Failed,
			}
		}
	}
	if p := s.sources.Platform; p != nil {
		m := p.GetMetrics()
		resp.Platform = map[string]any{
			"totalCalls":      m.TotalCalls,
			"errorCount":      m.ErrorCount,
			"successRate":     m.SuccessRate,
			"circuitState":    string(m.CircuitState),
			"circuitFailures": m.CircuitFailures,
		}
	}
	if sc := s.extras.Strikes; sc != nil {
		resp.Strikes = sc.Snapshot()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("observability endpoint listening", "addr", s.addr)
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Handler exposes the mux, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
