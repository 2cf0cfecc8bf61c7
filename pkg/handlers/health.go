package handlers

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/minidb/pkg/config"
	"github.com/ekaya-inc/minidb/pkg/database"
	"github.com/ekaya-inc/minidb/pkg/logging"
	"github.com/ekaya-inc/minidb/pkg/pool"
)

// pingTimeout bounds a full /ping round over every connection.
const pingTimeout = 5 * time.Second

// Databases is the part of database.Manager the health endpoints need.
type Databases interface {
	PingAll(ctx context.Context, names []string) []database.PingResult
	PoolStats() []pool.Stats
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Service     string `json:"service"`
	GoVersion   string `json:"go_version"`
	Hostname    string `json:"hostname"`
	Environment string `json:"environment"`
}

// ConnectionStatus is one entry of the /ping response.
type ConnectionStatus struct {
	Name      string  `json:"name"`
	Status    string  `json:"status"`
	ElapsedMS float64 `json:"elapsed_ms"`
	Error     string  `json:"error,omitempty"`
}

// PingResponse is returned by GET /ping.
type PingResponse struct {
	Status      string             `json:"status"`
	Connections []ConnectionStatus `json:"connections"`
}

// PoolsResponse is returned by GET /pools.
type PoolsResponse struct {
	Pools []pool.Stats `json:"pools"`
}

// HealthHandler serves liveness, connection checks and pool occupancy.
type HealthHandler struct {
	cfg    *config.Config
	db     Databases
	logger *zap.Logger
}

// NewHealthHandler creates a new HealthHandler with the given configuration.
func NewHealthHandler(cfg *config.Config, db Databases, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{cfg: cfg, db: db, logger: logger}
}

// RegisterRoutes registers the handler's routes on the given mux. Every route
// runs inside a request scope.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	scoped := database.WithRequestScope(h.logger)
	mux.HandleFunc("GET /health", scoped(h.Health))
	mux.HandleFunc("GET /ping", scoped(h.Ping))
	mux.HandleFunc("GET /pools", scoped(h.Pools))
}

// Health handles GET /health requests.
// Returns service information without touching any database.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	hostname, err := os.Hostname()
	if err != nil {
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "failed to get hostname")
		return
	}

	response := HealthResponse{
		Status:      "ok",
		Version:     h.cfg.Version,
		Service:     "minidb",
		GoVersion:   runtime.Version(),
		Hostname:    hostname,
		Environment: h.cfg.Env,
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode health response", zap.Error(err))
	}
}

// Ping handles GET /ping requests. Connections are checked concurrently;
// ?name=a&name=b restricts the check. Any failure answers 503.
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	results := h.db.PingAll(ctx, r.URL.Query()["name"])

	response := PingResponse{Status: "ok", Connections: make([]ConnectionStatus, 0, len(results))}
	status := http.StatusOK
	for _, res := range results {
		cs := ConnectionStatus{
			Name:      res.Name,
			Status:    "ok",
			ElapsedMS: float64(res.Elapsed.Microseconds()) / 1000,
		}
		if res.Err != nil {
			cs.Status = "error"
			cs.Error = logging.SanitizeError(res.Err)
			response.Status = "degraded"
			status = http.StatusServiceUnavailable
			h.logger.Warn("Connection ping failed",
				zap.String("connection", res.Name),
				zap.String("error", cs.Error))
		}
		response.Connections = append(response.Connections, cs)
	}

	if err := WriteJSON(w, status, response); err != nil {
		h.logger.Error("Failed to encode ping response", zap.Error(err))
	}
}

// Pools handles GET /pools requests.
func (h *HealthHandler) Pools(w http.ResponseWriter, r *http.Request) {
	stats := h.db.PoolStats()
	if stats == nil {
		stats = []pool.Stats{}
	}
	if err := WriteJSON(w, http.StatusOK, PoolsResponse{Pools: stats}); err != nil {
		h.logger.Error("Failed to encode pools response", zap.Error(err))
	}
}
