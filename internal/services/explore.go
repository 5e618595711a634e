package services

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/muoit/CLIProxyAPI-Monitor/internal/models"
)

const (
	minExplorePoints = 1_000
	maxExplorePoints = 100_000
)

// ExplorePoint is one sampled raw event.
type ExplorePoint struct {
	Ts              time.Time `json:"ts" gorm:"column:ts"`
	Tokens          int64     `json:"tokens" gorm:"column:tokens"`
	InputTokens     int64     `json:"inputTokens" gorm:"column:input_tokens"`
	OutputTokens    int64     `json:"outputTokens" gorm:"column:output_tokens"`
	ReasoningTokens int64     `json:"reasoningTokens" gorm:"column:reasoning_tokens"`
	CachedTokens    int64     `json:"cachedTokens" gorm:"column:cached_tokens"`
	Model           string    `json:"model" gorm:"column:model"`
}

type ExploreQuery struct {
	Days      int
	Start     string
	End       string
	MaxPoints int
}

// ExploreResponse reports the sampled point set plus the sampling ratio so
// the UI can disclose how much was dropped.
type ExploreResponse struct {
	Days     int            `json:"days"`
	Total    int64          `json:"total"`
	Returned int            `json:"returned"`
	Step     int64          `json:"step"`
	Points   []ExplorePoint `json:"points"`
}

// ExploreService downsamples raw single-request events for point-cloud
// rendering. Sampling is systematic by row rank, never random: repeated
// queries over an unchanged window return the identical point set, which is
// what makes the result cacheable and visually stable.
type ExploreService struct {
	db            *gorm.DB
	cache         *QueryCache
	loc           *time.Location
	windowOpts    WindowOptions
	defaultPoints int
}

func NewExploreService(db *gorm.DB, cache *QueryCache, loc *time.Location, opts AnalyticsOptions) *ExploreService {
	if loc == nil {
		loc = time.UTC
	}
	opts = opts.withDefaults()
	return &ExploreService{
		db:            db,
		cache:         cache,
		loc:           loc,
		windowOpts:    WindowOptions{DefaultDays: opts.DefaultDays, MaxDays: opts.MaxDays},
		defaultPoints: minExplorePoints * 5,
	}
}

// ComputeExplorePoints returns every Nth single-request row in the window,
// N = max(1, floor(total/maxPoints)). Pre-aggregated batch rows are excluded
// because per-point granularity is meaningless for them.
func (s *ExploreService) ComputeExplorePoints(ctx context.Context, q ExploreQuery) (*ExploreResponse, error) {
	window := ResolveWindow(q.Days, q.Start, q.End, time.Now(), s.loc, s.windowOpts)
	maxPoints := q.MaxPoints
	if maxPoints == 0 {
		maxPoints = s.defaultPoints
	}
	maxPoints = clampInt(maxPoints, minExplorePoints, maxExplorePoints)

	key := fmt.Sprintf("explore|%d|%d|%d", window.Start.Unix(), window.End.Unix(), maxPoints)
	if s.cache != nil {
		if hit, ok := s.cache.Get(key); ok {
			if resp, ok := hit.(*ExploreResponse); ok {
				return resp, nil
			}
		}
	}

	var total int64
	err := s.db.WithContext(ctx).Model(&models.UsageEvent{}).
		Where("occurred_at >= ? AND occurred_at < ?", window.Start.UTC(), window.End.UTC()).
		Where("total_requests = 1").
		Count(&total).Error
	if err != nil {
		return nil, fmt.Errorf("count explore rows: %w", err)
	}

	resp := &ExploreResponse{Days: window.Days, Total: total, Step: 1, Points: []ExplorePoint{}}
	if total == 0 {
		if s.cache != nil {
			s.cache.Set(key, resp)
		}
		return resp, nil
	}

	step := total / int64(maxPoints)
	if step < 1 {
		step = 1
	}
	resp.Step = step

	// Rank rows by time (id breaks timestamp ties deterministically) and
	// keep the ranks that are multiples of step.
	query := fmt.Sprintf(`
SELECT ts, tokens, input_tokens, output_tokens, reasoning_tokens, cached_tokens, model
FROM (
	SELECT occurred_at AS ts, total_tokens AS tokens, input_tokens, output_tokens,
	       reasoning_tokens, cached_tokens, model,
	       ROW_NUMBER() OVER (ORDER BY occurred_at ASC, id ASC) AS rn
	FROM %s
	WHERE occurred_at >= ? AND occurred_at < ? AND total_requests = 1
) ranked
WHERE (rn %% ?) = 0
ORDER BY rn ASC`, models.UsageEvent{}.TableName())

	var points []ExplorePoint
	err = s.db.WithContext(ctx).Raw(query, window.Start.UTC(), window.End.UTC(), step).Scan(&points).Error
	if err != nil {
		return nil, fmt.Errorf("sample explore rows: %w", err)
	}
	if points == nil {
		points = []ExplorePoint{}
	}

	resp.Returned = len(points)
	resp.Points = points
	if s.cache != nil {
		s.cache.Set(key, resp)
	}
	return resp, nil
}
