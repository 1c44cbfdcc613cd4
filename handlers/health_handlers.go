package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/doc-catalog/services"
	"github.com/doc-catalog/services/session"
)

type HealthHandlers struct {
	db       *gorm.DB
	cache    services.CacheService
	queue    services.QueueService
	sessions *session.Manager
	log      *logrus.Entry
}

func NewHealthHandlers(db *gorm.DB, cache services.CacheService, queue services.QueueService, sessions *session.Manager, log *logrus.Entry) *HealthHandlers {
	return &HealthHandlers{db: db, cache: cache, queue: queue, sessions: sessions, log: log}
}

// Health reports liveness of the database, cache, and queue. The overall
// status degrades to 503 only when the database is down; cache and queue
// outages are reported but survivable.
func (h *HealthHandlers) Health(c *gin.Context) {
	ctx := c.Request.Context()

	dbOK := true
	if sqlDB, err := h.db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
		dbOK = false
	}

	cacheHealth := h.cache.Health(ctx)

	depth, queueErr := h.queue.Depth(ctx, services.ProcessQueue)
	queueOK := queueErr == nil

	status := http.StatusOK
	overall := "ok"
	if !dbOK {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}

	c.JSON(status, gin.H{
		"status": overall,
		"database": gin.H{
			"ok": dbOK,
		},
		"cache": gin.H{
			"ok":         cacheHealth.OK,
			"latency_ms": cacheHealth.LatencyMs,
		},
		"queue": gin.H{
			"ok":    queueOK,
			"depth": depth,
		},
	})
}

// SessionHealth reports the session subsystem: backend reachability,
// encryption readiness, and whether the in-memory fallback is active.
func (h *HealthHandlers) SessionHealth(c *gin.Context) {
	health := h.sessions.Health(c.Request.Context())

	status := http.StatusOK
	if !health.BackendUp && !health.Fallback {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, health)
}
