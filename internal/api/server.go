package api

import (
	"log"
	"net/http"
	"time"

	"github.com/taskforge/orchestrator/internal/idempotency"
	"github.com/taskforge/orchestrator/internal/report"
	"github.com/taskforge/orchestrator/internal/resource"
	"github.com/taskforge/orchestrator/internal/runner"
	"github.com/taskforge/orchestrator/pkg/httpx"
)

type Server struct {
	store       report.Store
	runner      *runner.Runner
	pool        *resource.Pool
	events      *Broadcaster
	idem        idempotency.Store
	idemTTL     time.Duration
	idemLockTTL time.Duration
	logger      *log.Logger
}

type Config struct {
	IdempotencyTTL     time.Duration
	IdempotencyLockTTL time.Duration
}

func NewServer(store report.Store, taskRunner *runner.Runner, pool *resource.Pool, events *Broadcaster, idem idempotency.Store, cfg Config, logger *log.Logger) *Server {
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 24 * time.Hour
	}
	if cfg.IdempotencyLockTTL <= 0 {
		cfg.IdempotencyLockTTL = 30 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		store:       store,
		runner:      taskRunner,
		pool:        pool,
		events:      events,
		idem:        idem,
		idemTTL:     cfg.IdempotencyTTL,
		idemLockTTL: cfg.IdempotencyLockTTL,
		logger:      logger,
	}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/tasks", s.handleTasks)
	mux.HandleFunc("/v1/tasks/", s.handleTaskByID)
	mux.HandleFunc("/v1/pool", s.handlePool)
	mux.HandleFunc("/v1/stats", s.handleStats)
	mux.HandleFunc("/v1/events", s.handleEvents)

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if !s.pool.HealthCheck() {
		httpx.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePool(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"healthy":   s.pool.HealthCheck(),
		"resources": s.pool.Snapshot(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, s.runner.Stats().Snapshot())
}
