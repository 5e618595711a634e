package handlers

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/muoit/CLIProxyAPI-Monitor/internal/models"
	"github.com/muoit/CLIProxyAPI-Monitor/internal/services"
)

var startTime = time.Now()

// MetricsHandler exposes Prometheus-compatible text format metrics.
type MetricsHandler struct {
	db          *gorm.DB
	cache       *services.QueryCache
	syncService *services.SyncService
}

func NewMetricsHandler(db *gorm.DB, cache *services.QueryCache, syncService *services.SyncService) *MetricsHandler {
	return &MetricsHandler{
		db:          db,
		cache:       cache,
		syncService: syncService,
	}
}

// Metrics renders all gauges in Prometheus text exposition format.
// GET /api/metrics
func (h *MetricsHandler) Metrics(c *gin.Context) {
	var b strings.Builder

	// -- Runtime metrics --
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	writeGauge(&b, "cliproxymonitor_uptime_seconds", "Time since server start in seconds", float64(time.Since(startTime).Seconds()))
	writeGauge(&b, "cliproxymonitor_goroutines", "Number of active goroutines", float64(runtime.NumGoroutine()))
	writeGauge(&b, "cliproxymonitor_memory_alloc_bytes", "Current heap allocation in bytes", float64(m.Alloc))
	writeGauge(&b, "cliproxymonitor_memory_sys_bytes", "Total memory obtained from OS in bytes", float64(m.Sys))
	writeGauge(&b, "cliproxymonitor_gc_runs_total", "Total number of GC runs", float64(m.NumGC))

	// -- Database metrics --
	if h.db != nil {
		if sqlDB, err := h.db.DB(); err == nil {
			stats := sqlDB.Stats()
			writeGauge(&b, "cliproxymonitor_db_open_connections", "Number of open DB connections", float64(stats.OpenConnections))
			writeGauge(&b, "cliproxymonitor_db_in_use_connections", "Number of in-use DB connections", float64(stats.InUse))
			writeGauge(&b, "cliproxymonitor_db_idle_connections", "Number of idle DB connections", float64(stats.Idle))
		}
	}

	// -- Queue metrics --
	taskQueue := services.GetTaskQueue()
	queueAsync := 0.0
	if taskQueue != nil && taskQueue.IsAsync() {
		queueAsync = 1.0
	}
	writeGauge(&b, "cliproxymonitor_queue_async_enabled", "Whether async queue (Redis) is enabled (1=yes, 0=no)", queueAsync)

	// -- Cache metrics --
	if h.cache != nil {
		writeGauge(&b, "cliproxymonitor_cache_entries", "Number of cached query results", float64(h.cache.Len()))
	}

	// -- Sync metrics --
	if h.syncService != nil {
		status := h.syncService.Status()
		syncRunning := 0.0
		if status.Running {
			syncRunning = 1.0
		}
		writeGauge(&b, "cliproxymonitor_sync_running", "Whether a sync run is in flight (1=yes, 0=no)", syncRunning)
		if status.LastSuccessAt != nil {
			writeGauge(&b, "cliproxymonitor_last_sync_age_seconds", "Seconds since the last successful sync", time.Since(*status.LastSuccessAt).Seconds())
		}
	}

	// -- Data metrics --
	if h.db != nil {
		var eventCount, userCount int64
		h.db.Model(&models.UsageEvent{}).Count(&eventCount)
		h.db.Model(&models.User{}).Where("deleted_at IS NULL AND is_active = ?", true).Count(&userCount)

		writeGauge(&b, "cliproxymonitor_usage_events_total", "Total number of stored usage events", float64(eventCount))
		writeGauge(&b, "cliproxymonitor_users_active", "Number of active users", float64(userCount))
	}

	c.Data(200, "text/plain; version=0.0.4; charset=utf-8", []byte(b.String()))
}

func writeGauge(b *strings.Builder, name, help string, value float64) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s gauge\n", name)
	fmt.Fprintf(b, "%s %g\n\n", name, value)
}
