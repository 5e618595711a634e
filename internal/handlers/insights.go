package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/muoit/CLIProxyAPI-Monitor/internal/services"
	"github.com/muoit/CLIProxyAPI-Monitor/internal/services/upstream"
	"github.com/muoit/CLIProxyAPI-Monitor/pkg/response"
)

// InsightsHandler serves LLM-written summaries of recent usage.
type InsightsHandler struct {
	insightsService *services.InsightsService
}

func NewInsightsHandler(insightsService *services.InsightsService) *InsightsHandler {
	return &InsightsHandler{insightsService: insightsService}
}

// Summary generates a natural-language digest of the recent usage window.
// GET /api/insights/summary?days=7
func (h *InsightsHandler) Summary(c *gin.Context) {
	if h.insightsService == nil || !h.insightsService.Enabled() {
		response.NotFound(c, "insights are not enabled on this server")
		return
	}

	days := intQuery(c, "days")

	summary, err := h.insightsService.Summarize(c.Request.Context(), days)
	if err != nil {
		if errors.Is(err, upstream.ErrUpstream) {
			response.BadGateway(c, "insight generation failed: "+err.Error())
			return
		}
		response.ServerError(c, "failed to generate insights: "+err.Error())
		return
	}

	response.Success(c, summary)
}
