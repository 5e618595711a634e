// Package upstream talks to the proxy's management API to pull usage
// telemetry for ingestion.
package upstream

import (
	"encoding/json"
	"time"
)

// UsageRecord is one telemetry row from the proxy. A row represents either a
// single request (total_requests 0 or 1) or a pre-aggregated batch. Raw keeps
// the undecoded payload so ingestion can preserve it verbatim for audit.
type UsageRecord struct {
	APIKey          string    `json:"api_key"`
	Model           string    `json:"model"`
	Timestamp       time.Time `json:"timestamp"`
	Failed          bool      `json:"failed"`
	TotalRequests   int64     `json:"total_requests"`
	SuccessCount    int64     `json:"success_count"`
	FailureCount    int64     `json:"failure_count"`
	InputTokens     int64     `json:"input_tokens"`
	OutputTokens    int64     `json:"output_tokens"`
	ReasoningTokens int64     `json:"reasoning_tokens"`
	CachedTokens    int64     `json:"cached_tokens"`
	TotalTokens     int64     `json:"total_tokens"`

	Raw json.RawMessage `json:"-"`
}
