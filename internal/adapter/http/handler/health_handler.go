package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler handles health check requests.
type HealthHandler struct {
	db          Pinger
	redisClient *redis.Client
	identity    string
}

// NewHealthHandler creates a new HealthHandler. redisClient may be nil when
// Redis is disabled.
func NewHealthHandler(db Pinger, redisClient *redis.Client, identity string) *HealthHandler {
	return &HealthHandler{
		db:          db,
		redisClient: redisClient,
		identity:    identity,
	}
}

// Liveness returns 200 if the service is alive.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "identity": h.identity})
}

// Readiness returns 200 if the service is ready to accept traffic.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "postgres unhealthy", err.Error())
		return
	}

	redisStatus := "disabled"
	if h.redisClient != nil {
		if err := h.redisClient.Ping(ctx).Err(); err != nil {
			writeError(w, http.StatusServiceUnavailable, "redis unhealthy", err.Error())
			return
		}
		redisStatus = "ok"
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ready",
		"identity": h.identity,
		"postgres": "ok",
		"redis":    redisStatus,
	})
}
