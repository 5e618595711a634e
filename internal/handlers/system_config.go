package handlers

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/muoit/CLIProxyAPI-Monitor/internal/services"
	"github.com/muoit/CLIProxyAPI-Monitor/pkg/response"
)

type SystemConfigHandler struct {
	configService *services.SystemConfigService
	scheduler     *services.SyncScheduler
}

// NewSystemConfigHandler wires the settings API to the scheduler so interval
// changes take effect without a restart.
func NewSystemConfigHandler(db *gorm.DB, scheduler *services.SyncScheduler) *SystemConfigHandler {
	return &SystemConfigHandler{
		configService: services.NewSystemConfigService(db),
		scheduler:     scheduler,
	}
}

// GetSyncSettings returns the runtime-tunable sync settings.
// GET /api/system-config/sync
func (h *SystemConfigHandler) GetSyncSettings(c *gin.Context) {
	response.Success(c, h.configService.GetSyncSettings())
}

// UpdateSyncSettings persists changed settings and re-arms the cron entry.
// PUT /api/system-config/sync
func (h *SystemConfigHandler) UpdateSyncSettings(c *gin.Context) {
	var req services.UpdateSyncSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if err := h.configService.UpdateSyncSettings(&req); err != nil {
		response.ServerError(c, "failed to update sync settings: "+err.Error())
		return
	}

	if h.scheduler != nil {
		h.scheduler.UpdateSchedule()
	}

	response.Success(c, h.configService.GetSyncSettings())
}
