package handlers

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/muoit/CLIProxyAPI-Monitor/internal/models"
	"github.com/muoit/CLIProxyAPI-Monitor/internal/services"
)

// HealthHandler provides liveness and subsystem health endpoints.
type HealthHandler struct {
	db          *gorm.DB
	cache       *services.QueryCache
	syncService *services.SyncService
}

func NewHealthHandler(db *gorm.DB, cache *services.QueryCache, syncService *services.SyncService) *HealthHandler {
	return &HealthHandler{
		db:          db,
		cache:       cache,
		syncService: syncService,
	}
}

// Liveness is the public probe endpoint: process up, nothing else checked.
// GET /health
func (h *HealthHandler) Liveness(c *gin.Context) {
	c.JSON(200, gin.H{"status": "ok", "service": "cliproxy-monitor"})
}

// CheckHealth returns the health status of all subsystems.
// GET /api/health
func (h *HealthHandler) CheckHealth(c *gin.Context) {
	overall := "healthy"

	// Database check
	dbStatus := "ok"
	sqlDB, err := h.db.DB()
	if err != nil {
		dbStatus = "error: " + err.Error()
		overall = "unhealthy"
	} else if err := sqlDB.Ping(); err != nil {
		dbStatus = "error: " + err.Error()
		overall = "unhealthy"
	}

	// Queue mode
	taskQueue := services.GetTaskQueue()
	queueMode := "sync"
	if taskQueue != nil && taskQueue.IsAsync() {
		queueMode = "async (Redis)"
	}

	// Cache occupancy
	cacheEntries := 0
	if h.cache != nil {
		cacheEntries = h.cache.Len()
	}

	// Stored event count
	var eventCount int64
	h.db.Model(&models.UsageEvent{}).Count(&eventCount)

	status := h.syncService.Status()

	c.JSON(200, gin.H{
		"status":  overall,
		"service": "cliproxy-monitor",
		"components": gin.H{
			"database":      dbStatus,
			"queue_mode":    queueMode,
			"cache_entries": cacheEntries,
			"usage_events":  eventCount,
			"sync": gin.H{
				"running":         status.Running,
				"last_error":      status.LastError,
				"last_success_at": status.LastSuccessAt,
			},
		},
	})
}
