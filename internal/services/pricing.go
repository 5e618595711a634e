package services

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/muoit/CLIProxyAPI-Monitor/internal/models"
)

// PriceRates bundles the three per-million-token rates used by the cost
// formula.
type PriceRates struct {
	Input  float64
	Cached float64
	Output float64
}

// PricingService manages the model price catalogue and builds resolvers for
// cost estimation. Mutations clear the query cache because cached overview
// responses embed computed costs.
type PricingService struct {
	db       *gorm.DB
	cache    *QueryCache
	defaults PriceRates
}

func NewPricingService(db *gorm.DB, cache *QueryCache, defaults PriceRates) *PricingService {
	return &PricingService{db: db, cache: cache, defaults: defaults}
}

// List returns the full catalogue ordered by model name.
func (s *PricingService) List(ctx context.Context) ([]models.ModelPrice, error) {
	var prices []models.ModelPrice
	if err := s.db.WithContext(ctx).Order("model ASC").Find(&prices).Error; err != nil {
		return nil, err
	}
	return prices, nil
}

// Upsert creates or replaces the rates for one model name. The name may be a
// trailing-* pattern; it is stored as-is.
func (s *PricingService) Upsert(ctx context.Context, price *models.ModelPrice) error {
	price.Model = strings.TrimSpace(price.Model)
	if price.Model == "" {
		return errors.New("model name is required")
	}
	if price.InputPricePer1M < 0 || price.CachedInputPricePer1M < 0 || price.OutputPricePer1M < 0 {
		return errors.New("prices must not be negative")
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "model"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"input_price_per_1m", "cached_input_price_per_1m", "output_price_per_1m", "updated_at",
		}),
	}).Create(price).Error
	if err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.Clear()
	}
	return nil
}

// Delete removes one price row by model name. Missing rows report
// gorm.ErrRecordNotFound so handlers can answer 404.
func (s *PricingService) Delete(ctx context.Context, model string) error {
	res := s.db.WithContext(ctx).Where("model = ?", model).Delete(&models.ModelPrice{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	if s.cache != nil {
		s.cache.Clear()
	}
	return nil
}

// Resolver snapshots the catalogue into an immutable lookup structure so one
// overview computation prices every row against a consistent catalogue.
func (s *PricingService) Resolver(ctx context.Context) (*PriceResolver, error) {
	var prices []models.ModelPrice
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&prices).Error; err != nil {
		return nil, err
	}
	return NewPriceResolver(prices, s.defaults), nil
}

type pricePattern struct {
	prefix string
	rates  PriceRates
}

// PriceResolver resolves a model name to billing rates. Lookup order: exact
// name, then the trailing-* pattern with the longest matching literal prefix
// (ties go to the earliest-created row), then the configured default rates.
type PriceResolver struct {
	exact    map[string]PriceRates
	patterns []pricePattern
	defaults PriceRates
	average  PriceRates
	catalog  int
}

func NewPriceResolver(prices []models.ModelPrice, defaults PriceRates) *PriceResolver {
	r := &PriceResolver{
		exact:    make(map[string]PriceRates, len(prices)),
		defaults: defaults,
		catalog:  len(prices),
	}
	var sumIn, sumCached, sumOut float64
	for _, p := range prices {
		rates := PriceRates{Input: p.InputPricePer1M, Cached: p.CachedInputPricePer1M, Output: p.OutputPricePer1M}
		if strings.HasSuffix(p.Model, "*") {
			r.patterns = append(r.patterns, pricePattern{prefix: strings.TrimSuffix(p.Model, "*"), rates: rates})
		} else {
			r.exact[p.Model] = rates
		}
		sumIn += p.InputPricePer1M
		sumCached += p.CachedInputPricePer1M
		sumOut += p.OutputPricePer1M
	}
	if len(prices) > 0 {
		n := float64(len(prices))
		r.average = PriceRates{Input: sumIn / n, Cached: sumCached / n, Output: sumOut / n}
	} else {
		r.average = defaults
	}
	return r
}

// Rates returns the billing rates for a model name.
func (r *PriceResolver) Rates(model string) PriceRates {
	if rates, ok := r.exact[model]; ok {
		return rates
	}
	bestLen := -1
	var best PriceRates
	for _, pat := range r.patterns {
		if len(pat.prefix) > bestLen && strings.HasPrefix(model, pat.prefix) {
			bestLen = len(pat.prefix)
			best = pat.rates
		}
	}
	if bestLen >= 0 {
		return best
	}
	return r.defaults
}

// Estimate prices one model's token counts in USD.
func (r *PriceResolver) Estimate(model string, inputTokens, cachedTokens, outputTokens int64) float64 {
	return costWith(r.Rates(model), inputTokens, cachedTokens, outputTokens)
}

// EstimateAverage prices token counts with the mean of all catalogue rates.
// Route rows carry no model breakdown, so their cost is this approximation.
func (r *PriceResolver) EstimateAverage(inputTokens, cachedTokens, outputTokens int64) float64 {
	return costWith(r.average, inputTokens, cachedTokens, outputTokens)
}

// costWith applies the cost formula. Cached tokens are a subset of input
// tokens and billed at the cached rate; the clamp keeps malformed rows from
// producing negative costs.
func costWith(rates PriceRates, input, cached, output int64) float64 {
	if cached < 0 {
		cached = 0
	}
	if cached > input {
		cached = input
	}
	return float64(input-cached)/1e6*rates.Input +
		float64(cached)/1e6*rates.Cached +
		float64(output)/1e6*rates.Output
}
