package api

import (
	"context"
	"net/http"

	"github.com/yuvabe/care-companion/internal/log"
	"github.com/yuvabe/care-companion/internal/vecindex"
)

// Pinger checks connectivity to a backing service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// IndexStater reports the search index lifecycle state.
type IndexStater interface {
	State(ctx context.Context) (vecindex.State, error)
}

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	db     Pinger
	store  Pinger
	index  IndexStater
	logger log.Logger
}

// NewHealthHandler creates a health handler. store may be nil when no
// object store is configured.
func NewHealthHandler(db, store Pinger, index IndexStater, logger log.Logger) *HealthHandler {
	return &HealthHandler{db: db, store: store, index: index, logger: logger}
}

// RegisterRoutes registers probe routes on the mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.liveness)
	mux.HandleFunc("GET /ready", h.readiness)
}

// liveness reports that the process is up.
func (h *HealthHandler) liveness(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// readiness reports whether the service can answer queries. The database
// and object store must respond; the index state is reported but a
// still-provisioning index does not fail the probe, because queries fall
// back to sequential scans.
func (h *HealthHandler) readiness(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		writeError(w, http.StatusServiceUnavailable, "not_ready", "database pool not configured")
		return
	}
	if err := h.db.Ping(r.Context()); err != nil {
		h.logger.Error("readiness check failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "not_ready", "database not reachable")
		return
	}
	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			h.logger.Error("readiness check failed", "error", err)
			writeError(w, http.StatusServiceUnavailable, "not_ready", "object store not reachable")
			return
		}
	}

	state := vecindex.StateAbsent
	if h.index != nil {
		s, err := h.index.State(r.Context())
		if err != nil {
			h.logger.Warn("index state check failed", "error", err)
		} else {
			state = s
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":      "ready",
		"index_state": string(state),
	})
}
