// Package httpapi serves the operational surface: liveness, a JSON status
// snapshot, and Prometheus metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/findash/fdp/internal/audit"
	"github.com/findash/fdp/internal/budget"
	"github.com/findash/fdp/internal/circuit"
	"github.com/findash/fdp/internal/config"
	"github.com/findash/fdp/internal/metrics"
	"github.com/findash/fdp/internal/ops"
	"github.com/findash/fdp/internal/queue"
	"github.com/findash/fdp/internal/tiers"
)

// Server exposes the API over the shared component set.
type Server struct {
	cfg      config.Config
	redis    redis.UniversalClient
	store    audit.Store
	registry *tiers.Registry
	circuits *circuit.Manager
	ledger   budget.Ledger
	queue    queue.Queue
	kill     *ops.KillSwitch
	metrics  *metrics.Registry
}

// New wires the server. redis may be nil when running on the in-memory
// queue; health then skips the Redis probe.
func New(cfg config.Config, rdb redis.UniversalClient, store audit.Store, registry *tiers.Registry, circuits *circuit.Manager, ledger budget.Ledger, q queue.Queue, kill *ops.KillSwitch, m *metrics.Registry) *Server {
	return &Server{
		cfg:      cfg,
		redis:    rdb,
		store:    store,
		registry: registry,
		circuits: circuits,
		ledger:   ledger,
		queue:    q,
		kill:     kill,
		metrics:  m,
	}
}

// Router builds the HTTP routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Prometheus(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return r
}

// Serve runs the HTTP server until ctx is done.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("http shutdown")
		}
	}()

	log.Info().Str("addr", addr).Msg("http api listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

type healthResponse struct {
	Status   string `json:"status"`
	Redis    string `json:"redis,omitempty"`
	Database string `json:"database"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Database: "ok"}
	code := http.StatusOK

	if s.redis != nil {
		resp.Redis = "ok"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			resp.Redis = err.Error()
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	if err := s.store.Ping(ctx); err != nil {
		resp.Database = err.Error()
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, resp)
}

type statusResponse struct {
	ExecutionMode config.ExecutionMode      `json:"execution_mode"`
	KillSwitch    bool                      `json:"kill_switch"`
	Budget        budget.Snapshot           `json:"budget"`
	Providers     []tiers.ProviderStatus    `json:"providers"`
	Circuits      map[string]circuit.Status `json:"circuits"`
	QueueLen      int64                     `json:"queue_len"`
	QueuePending  []queue.PendingEntry      `json:"queue_pending"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := statusResponse{
		ExecutionMode: s.cfg.ExecutionMode,
		KillSwitch:    s.kill.Engaged(),
		Providers:     s.registry.Status(),
		Circuits:      s.circuits.Status(),
	}

	if snap, err := s.ledger.Snapshot(ctx); err == nil {
		resp.Budget = snap
	} else {
		log.Warn().Err(err).Msg("status: budget snapshot failed")
	}
	if n, err := s.queue.Len(ctx); err == nil {
		resp.QueueLen = n
	}
	if pending, err := s.queue.Pending(ctx); err == nil {
		resp.QueuePending = pending
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("response encode failed")
	}
}
