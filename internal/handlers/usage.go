package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/muoit/CLIProxyAPI-Monitor/internal/services"
	"github.com/muoit/CLIProxyAPI-Monitor/pkg/response"
)

// UsageHandler serves the dashboard's two query endpoints. Their JSON bodies
// are the UI contract and are returned as-is, without the envelope.
type UsageHandler struct {
	overviewService *services.OverviewService
	exploreService  *services.ExploreService
}

func NewUsageHandler(overviewService *services.OverviewService, exploreService *services.ExploreService) *UsageHandler {
	return &UsageHandler{
		overviewService: overviewService,
		exploreService:  exploreService,
	}
}

// Overview returns windowed aggregates: totals, per-model page, daily and
// hourly series, top routes.
// GET /api/usage/overview
func (h *UsageHandler) Overview(c *gin.Context) {
	query := services.OverviewQuery{
		Days:     intQuery(c, "days"),
		Start:    c.Query("start"),
		End:      c.Query("end"),
		Model:    c.Query("model"),
		Route:    c.Query("route"),
		Page:     intQuery(c, "page"),
		PageSize: intQuery(c, "pageSize"),
	}

	resp, err := h.overviewService.ComputeOverview(c.Request.Context(), query)
	if err != nil {
		response.ServerError(c, "failed to compute overview: "+err.Error())
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Explore returns a systematically sampled series of single-request events
// for scatter plotting.
// GET /api/usage/explore
func (h *UsageHandler) Explore(c *gin.Context) {
	query := services.ExploreQuery{
		Days:      intQuery(c, "days"),
		Start:     c.Query("start"),
		End:       c.Query("end"),
		MaxPoints: intQuery(c, "maxPoints"),
	}

	resp, err := h.exploreService.ComputeExplorePoints(c.Request.Context(), query)
	if err != nil {
		response.ServerError(c, "failed to compute explore points: "+err.Error())
		return
	}

	c.JSON(http.StatusOK, resp)
}

// intQuery parses an integer query parameter leniently: absent or malformed
// values become 0 and are clamped to defaults downstream.
func intQuery(c *gin.Context, name string) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return 0
	}
	return v
}
