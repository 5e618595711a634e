package models

import "time"

// UsageEvent is one immutable fact row of API consumption pulled from the
// upstream proxy. Rows are append-only; nothing updates or deletes them
// except the explicit bulk reset.
//
// The composite unique index on (occurred_at, route, model) is the
// deduplication invariant: re-ingesting the same upstream tuple is a no-op.
type UsageEvent struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	OccurredAt time.Time `gorm:"uniqueIndex:idx_usage_events_dedup,priority:1;index;not null" json:"occurred_at"`
	SyncedAt   time.Time `gorm:"not null" json:"synced_at"`
	Route      string    `gorm:"uniqueIndex:idx_usage_events_dedup,priority:2;size:200;index;not null" json:"route"`
	Model      string    `gorm:"uniqueIndex:idx_usage_events_dedup,priority:3;size:200;index;not null" json:"model"`

	TotalTokens     int64 `gorm:"not null;default:0" json:"total_tokens"`
	InputTokens     int64 `gorm:"not null;default:0" json:"input_tokens"`
	OutputTokens    int64 `gorm:"not null;default:0" json:"output_tokens"`
	ReasoningTokens int64 `gorm:"not null;default:0" json:"reasoning_tokens"`
	CachedTokens    int64 `gorm:"not null;default:0" json:"cached_tokens"`

	// TotalRequests is 1 for a genuine single-request row; pre-aggregated
	// upstream batches carry the batch size.
	TotalRequests int64 `gorm:"not null;default:1" json:"total_requests"`
	SuccessCount  int64 `gorm:"not null;default:0" json:"success_count"`
	FailureCount  int64 `gorm:"not null;default:0" json:"failure_count"`
	IsError       bool  `gorm:"not null;default:false" json:"is_error"`

	// Raw preserves the upstream record verbatim for audit.
	Raw string `gorm:"type:text" json:"-"`
}

func (UsageEvent) TableName() string { return "usage_events" }
