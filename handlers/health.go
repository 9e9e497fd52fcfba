package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/veriguard/veriguard/cache"
	"github.com/veriguard/veriguard/database"
)

// HealthHandler reports liveness and the state of the two hard dependencies.
type HealthHandler struct {
	db     *database.Database
	cache  cache.Cache
	logger *zap.Logger
}

func NewHealthHandler(db *database.Database, c cache.Cache, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{db: db, cache: c, logger: logger}
}

// Health handles GET /health. Degraded cache keeps the service healthy since
// every cached path falls through to the authoritative store.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	deps := map[string]string{
		"database": "up",
		"cache":    "up",
	}

	if err := h.db.Ping(); err != nil {
		h.logger.Error("database ping failed", zap.Error(err))
		deps["database"] = "down"
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	if _, err := h.cache.Exists(r.Context(), "health:probe"); err != nil {
		h.logger.Warn("cache probe failed", zap.Error(err))
		deps["cache"] = "down"
		if status == "healthy" {
			status = "degraded"
		}
	}

	writeJSON(w, code, map[string]interface{}{
		"status":       status,
		"service":      "veriguard",
		"dependencies": deps,
	})
}
