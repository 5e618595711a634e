package handlers

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/muoit/CLIProxyAPI-Monitor/internal/services"
	"github.com/muoit/CLIProxyAPI-Monitor/pkg/response"
)

type SystemLogHandler struct {
	systemLogService *services.SystemLogService
}

func NewSystemLogHandler(db *gorm.DB) *SystemLogHandler {
	return &SystemLogHandler{
		systemLogService: services.NewSystemLogService(db),
	}
}

// List returns system logs with filters and pagination.
// GET /api/system-logs
func (h *SystemLogHandler) List(c *gin.Context) {
	var req services.SystemLogListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	resp, err := h.systemLogService.List(&req)
	if err != nil {
		response.ServerError(c, "failed to list system logs: "+err.Error())
		return
	}

	response.Success(c, resp)
}

// GetModules returns the distinct module names present in the logs.
// GET /api/system-logs/modules
func (h *SystemLogHandler) GetModules(c *gin.Context) {
	modules, err := h.systemLogService.GetModules()
	if err != nil {
		response.ServerError(c, "failed to list modules: "+err.Error())
		return
	}
	response.Success(c, gin.H{"modules": modules})
}

// GetRetention returns the configured retention in days.
// GET /api/system-logs/retention
func (h *SystemLogHandler) GetRetention(c *gin.Context) {
	response.Success(c, gin.H{"retention_days": h.systemLogService.GetRetentionDays()})
}

type updateRetentionRequest struct {
	RetentionDays int `json:"retention_days" binding:"required,min=1,max=365"`
}

// UpdateRetention sets the retention in days.
// PUT /api/system-logs/retention
func (h *SystemLogHandler) UpdateRetention(c *gin.Context) {
	var req updateRetentionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if err := h.systemLogService.SetRetentionDays(req.RetentionDays); err != nil {
		response.ServerError(c, "failed to update retention: "+err.Error())
		return
	}

	response.Success(c, gin.H{"retention_days": req.RetentionDays})
}

// Cleanup prunes logs older than the configured retention immediately.
// POST /api/system-logs/cleanup
func (h *SystemLogHandler) Cleanup(c *gin.Context) {
	deleted, err := h.systemLogService.CleanupOldLogs(h.systemLogService.GetRetentionDays())
	if err != nil {
		response.ServerError(c, "failed to cleanup logs: "+err.Error())
		return
	}
	response.Success(c, gin.H{"deleted": deleted})
}
