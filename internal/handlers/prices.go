package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/muoit/CLIProxyAPI-Monitor/internal/models"
	"github.com/muoit/CLIProxyAPI-Monitor/internal/services"
	"github.com/muoit/CLIProxyAPI-Monitor/pkg/response"
)

// PriceHandler manages the model price catalogue.
type PriceHandler struct {
	pricingService *services.PricingService
}

func NewPriceHandler(pricingService *services.PricingService) *PriceHandler {
	return &PriceHandler{pricingService: pricingService}
}

// List returns all price rows ordered by model name.
// GET /api/prices
func (h *PriceHandler) List(c *gin.Context) {
	prices, err := h.pricingService.List(c.Request.Context())
	if err != nil {
		response.ServerError(c, "failed to list prices: "+err.Error())
		return
	}
	response.Success(c, prices)
}

type upsertPriceRequest struct {
	Model            string  `json:"model" binding:"required"`
	InputPricePer1M  float64 `json:"inputPricePer1M"`
	CachedInputPer1M float64 `json:"cachedInputPricePer1M"`
	OutputPricePer1M float64 `json:"outputPricePer1M"`
}

// Upsert creates or replaces the price row for a model (trailing-* patterns
// included). Aggregates recompute with the new rates on the next request.
// PUT /api/prices
func (h *PriceHandler) Upsert(c *gin.Context) {
	var req upsertPriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	price := models.ModelPrice{
		Model:                 req.Model,
		InputPricePer1M:       req.InputPricePer1M,
		CachedInputPricePer1M: req.CachedInputPer1M,
		OutputPricePer1M:      req.OutputPricePer1M,
	}
	if err := h.pricingService.Upsert(c.Request.Context(), &price); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	response.Success(c, price)
}

// Delete removes a price row; affected models fall back to default rates.
// DELETE /api/prices/:model
func (h *PriceHandler) Delete(c *gin.Context) {
	model := c.Param("model")
	if err := h.pricingService.Delete(c.Request.Context(), model); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c, "no price configured for model "+model)
			return
		}
		response.ServerError(c, "failed to delete price: "+err.Error())
		return
	}
	response.Success(c, gin.H{"model": model})
}
