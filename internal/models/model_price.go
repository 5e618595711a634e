package models

import "time"

// ModelPrice is one billing-rate row, keyed by model name. The name may be a
// trailing-* pattern (e.g. "gemini-2*"); patterns are stored literally and
// matched only at cost-estimation time. Rates are USD per one million tokens.
// Prices are not versioned: the latest row prices all history on read.
type ModelPrice struct {
	ID                    uint      `gorm:"primaryKey" json:"id"`
	Model                 string    `gorm:"uniqueIndex;size:200;not null" json:"model"`
	InputPricePer1M       float64   `gorm:"column:input_price_per_1m;not null;default:0" json:"inputPricePer1M"`
	CachedInputPricePer1M float64   `gorm:"column:cached_input_price_per_1m;not null;default:0" json:"cachedInputPricePer1M"`
	OutputPricePer1M      float64   `gorm:"column:output_price_per_1m;not null;default:0" json:"outputPricePer1M"`
	CreatedAt             time.Time `json:"createdAt"`
	UpdatedAt             time.Time `json:"updatedAt"`
}

func (ModelPrice) TableName() string { return "model_prices" }
