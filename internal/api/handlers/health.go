package handlers

import (
	"context"
	"time"

	"github.com/kebiao-app/timetable-server/internal/browser"
	"github.com/kebiao-app/timetable-server/internal/memwatch"
	"github.com/kebiao-app/timetable-server/internal/models"
	"github.com/kebiao-app/timetable-server/internal/session"
	"github.com/kebiao-app/timetable-server/internal/version"
)

// HealthHandler reports service liveness plus pool, session and memory
// occupancy.
type HealthHandler struct {
	pool     *browser.Pool
	sessions *session.Registry
	mem      *memwatch.Monitor
	started  time.Time
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(pool *browser.Pool, sessions *session.Registry, mem *memwatch.Monitor) *HealthHandler {
	return &HealthHandler{
		pool:     pool,
		sessions: sessions,
		mem:      mem,
		started:  time.Now(),
	}
}

// Handle returns the health status. Status degrades to "overloaded" when
// the memory watchdog is rejecting new browser work.
func (h *HealthHandler) Handle(ctx context.Context) *models.HealthResponse {
	stats := h.pool.Stats()

	status := "healthy"
	if h.mem.Overloaded() {
		status = "overloaded"
	}

	return &models.HealthResponse{
		Status:        status,
		Version:       version.Get().Version,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
		Pool: models.PoolHealth{
			Total:     stats.Total,
			InUse:     stats.InUse,
			Available: stats.Available,
			MaxSize:   stats.MaxSize,
			Waiting:   stats.Waiting,
			Ready:     stats.Ready,
		},
		ActiveSessions: h.sessions.Count(),
		MemoryMB:       h.mem.RSSMB(),
	}
}
