package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/muoit/CLIProxyAPI-Monitor/internal/middleware"
	"github.com/muoit/CLIProxyAPI-Monitor/internal/services"
	"github.com/muoit/CLIProxyAPI-Monitor/internal/services/upstream"
	"github.com/muoit/CLIProxyAPI-Monitor/pkg/response"
)

// SyncHandler exposes manual ingestion control and status.
type SyncHandler struct {
	syncService *services.SyncService
}

func NewSyncHandler(syncService *services.SyncService) *SyncHandler {
	return &SyncHandler{syncService: syncService}
}

// Trigger runs one sync cycle inline with the short manual timeout and
// returns the run counters. Upstream failures map to 502 so clients can
// distinguish a broken proxy from broken storage.
// POST /api/sync
func (h *SyncHandler) Trigger(c *gin.Context) {
	result, err := h.syncService.Run(c.Request.Context(), services.TriggerManual)
	if err != nil {
		if errors.Is(err, upstream.ErrUpstream) {
			response.BadGateway(c, "upstream proxy unavailable: "+err.Error())
			return
		}
		response.ServerError(c, "sync failed: "+err.Error())
		return
	}
	response.Success(c, result)
}

// Status reports the last run, last error and last success time.
// GET /api/sync/status
func (h *SyncHandler) Status(c *gin.Context) {
	response.Success(c, h.syncService.Status())
}

// ResetEvents deletes every stored usage event. The next sync repopulates
// the lookback window from upstream.
// POST /api/events/reset
func (h *SyncHandler) ResetEvents(c *gin.Context) {
	deleted, err := h.syncService.ResetEvents(c.Request.Context())
	if err != nil {
		response.ServerError(c, "failed to reset events: "+err.Error())
		return
	}

	username := middleware.GetUsername(c)
	if username == "" {
		username = "unknown"
	}

	response.Success(c, gin.H{
		"deleted": deleted,
		"resetBy": username,
	})
}
