// Package debug serves the operational endpoints: liveness and runtime stats.
package debug

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/webitel/im-relay-service/internal/service"
)

const pingTimeout = time.Second

// Pinger reports whether a dependency answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BreakerStates exposes circuit breaker states by name.
type BreakerStates interface {
	State() map[string]string
}

type Health struct {
	Status   string            `json:"status"`
	Storage  string            `json:"storage"`
	Breakers map[string]string `json:"breakers,omitempty"`
}

type StatsHandler struct {
	logger    *slog.Logger
	deliverer service.Deliverer
	storage   Pinger
	breakers  BreakerStates
}

func NewStatsHandler(logger *slog.Logger, deliverer service.Deliverer, storage Pinger, breakers BreakerStates) *StatsHandler {
	return &StatsHandler{
		logger:    logger,
		deliverer: deliverer,
		storage:   storage,
		breakers:  breakers,
	}
}

func (h *StatsHandler) Register(r chi.Router) {
	r.Get("/healthz", h.Health)
	r.Get("/debug/stats", h.Stats)
}

// Health answers 503 when the database does not respond.
func (h *StatsHandler) Health(w http.ResponseWriter, r *http.Request) {
	out := Health{Status: "ok", Storage: "ok"}
	code := http.StatusOK

	if h.storage != nil {
		ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
		defer cancel()

		if err := h.storage.Ping(ctx); err != nil {
			h.logger.Warn("HEALTH_STORAGE_DOWN", "err", err)
			out.Status, out.Storage = "degraded", err.Error()
			code = http.StatusServiceUnavailable
		}
	}
	if h.breakers != nil {
		out.Breakers = h.breakers.State()
	}

	h.write(w, code, out)
}

func (h *StatsHandler) Stats(w http.ResponseWriter, _ *http.Request) {
	h.write(w, http.StatusOK, h.deliverer.Stats())
}

func (h *StatsHandler) write(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Debug("HTTP_WRITE_FAILED", "err", err)
	}
}
