package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/muoit/CLIProxyAPI-Monitor/internal/models"
)

// ModelStat is one row of the paginated per-model breakdown.
type ModelStat struct {
	Model           string  `json:"model"`
	TotalRequests   int64   `json:"totalRequests"`
	TotalTokens     int64   `json:"totalTokens"`
	InputTokens     int64   `json:"inputTokens"`
	OutputTokens    int64   `json:"outputTokens"`
	ReasoningTokens int64   `json:"reasoningTokens"`
	CachedTokens    int64   `json:"cachedTokens"`
	SuccessCount    int64   `json:"successCount"`
	FailureCount    int64   `json:"failureCount"`
	Cost            float64 `json:"cost"`
}

// DayStat is one calendar day of the gap-filled daily series. Cost is the
// sum of per-model-per-day estimates, never a repriced daily total.
type DayStat struct {
	Date            string  `json:"date"`
	TotalRequests   int64   `json:"totalRequests"`
	TotalTokens     int64   `json:"totalTokens"`
	InputTokens     int64   `json:"inputTokens"`
	OutputTokens    int64   `json:"outputTokens"`
	ReasoningTokens int64   `json:"reasoningTokens"`
	CachedTokens    int64   `json:"cachedTokens"`
	Cost            float64 `json:"cost"`
}

// HourStat is one hour slice of the gap-filled hourly series.
type HourStat struct {
	Ts              string `json:"ts"`
	TotalRequests   int64  `json:"totalRequests"`
	TotalTokens     int64  `json:"totalTokens"`
	InputTokens     int64  `json:"inputTokens"`
	OutputTokens    int64  `json:"outputTokens"`
	ReasoningTokens int64  `json:"reasoningTokens"`
	CachedTokens    int64  `json:"cachedTokens"`
}

// RouteStat is one row of the top-routes list. Route rows carry no per-model
// breakdown, so Cost is estimated with the mean of all catalogue rates — an
// explicit approximation, not exact billing.
type RouteStat struct {
	Route           string  `json:"route"`
	TotalRequests   int64   `json:"totalRequests"`
	TotalTokens     int64   `json:"totalTokens"`
	InputTokens     int64   `json:"inputTokens"`
	OutputTokens    int64   `json:"outputTokens"`
	ReasoningTokens int64   `json:"reasoningTokens"`
	CachedTokens    int64   `json:"cachedTokens"`
	Cost            float64 `json:"cost"`
}

type OverviewStats struct {
	TotalRequests        int64       `json:"totalRequests"`
	TotalTokens          int64       `json:"totalTokens"`
	TotalInputTokens     int64       `json:"totalInputTokens"`
	TotalOutputTokens    int64       `json:"totalOutputTokens"`
	TotalReasoningTokens int64       `json:"totalReasoningTokens"`
	TotalCachedTokens    int64       `json:"totalCachedTokens"`
	SuccessCount         int64       `json:"successCount"`
	FailureCount         int64       `json:"failureCount"`
	SuccessRate          float64     `json:"successRate"`
	TotalCost            float64     `json:"totalCost"`
	Models               []ModelStat `json:"models"`
	ByDay                []DayStat   `json:"byDay"`
	ByHour               []HourStat  `json:"byHour"`
}

type PageMeta struct {
	Page        int `json:"page"`
	PageSize    int `json:"pageSize"`
	TotalModels int `json:"totalModels"`
	TotalPages  int `json:"totalPages"`
}

// FilterValues lists the distinct models and routes of the unfiltered window
// so filter dropdowns are not self-restricting.
type FilterValues struct {
	Models []string `json:"models"`
	Routes []string `json:"routes"`
}

// OverviewResponse is the full aggregation result served to the dashboard.
// Cached instances are shared between requests and must be treated as
// read-only.
type OverviewResponse struct {
	Overview      OverviewStats    `json:"overview"`
	Empty         bool             `json:"empty"`
	Days          int              `json:"days"`
	Meta          PageMeta         `json:"meta"`
	Filters       FilterValues     `json:"filters"`
	TopRoutes     []RouteStat      `json:"topRoutes"`
	TokensByRoute map[string]int64 `json:"tokensByRoute"`
}

// OverviewQuery carries the raw, not yet clamped request parameters.
type OverviewQuery struct {
	Days     int
	Start    string
	End      string
	Model    string
	Route    string
	Page     int
	PageSize int
}

// AnalyticsOptions bound the query surface.
type AnalyticsOptions struct {
	DefaultDays     int
	MaxDays         int
	TopRoutes       int
	MaxFilterLen    int
	DefaultPageSize int
}

func (o AnalyticsOptions) withDefaults() AnalyticsOptions {
	if o.DefaultDays <= 0 {
		o.DefaultDays = 14
	}
	if o.MaxDays <= 0 {
		o.MaxDays = 90
	}
	if o.TopRoutes <= 0 {
		o.TopRoutes = 10
	}
	if o.MaxFilterLen <= 0 {
		o.MaxFilterLen = 200
	}
	if o.DefaultPageSize <= 0 {
		o.DefaultPageSize = 100
	}
	return o
}

// OverviewService computes windowed aggregates over the event store. Each
// call is a pure read: results depend only on the stored rows, the price
// catalogue and the resolved query.
type OverviewService struct {
	db      *gorm.DB
	pricing *PricingService
	cache   *QueryCache
	loc     *time.Location
	opts    AnalyticsOptions
}

func NewOverviewService(db *gorm.DB, pricing *PricingService, cache *QueryCache, loc *time.Location, opts AnalyticsOptions) *OverviewService {
	if loc == nil {
		loc = time.UTC
	}
	return &OverviewService{db: db, pricing: pricing, cache: cache, loc: loc, opts: opts.withDefaults()}
}

type totalsRow struct {
	TotalRequests   int64
	TotalTokens     int64
	InputTokens     int64
	OutputTokens    int64
	ReasoningTokens int64
	CachedTokens    int64
	SuccessCount    int64
	FailureCount    int64
}

type modelAggRow struct {
	Model           string
	TotalRequests   int64
	TotalTokens     int64
	InputTokens     int64
	OutputTokens    int64
	ReasoningTokens int64
	CachedTokens    int64
	SuccessCount    int64
	FailureCount    int64
}

type bucketAggRow struct {
	Bucket          int64
	Model           string
	TotalRequests   int64
	TotalTokens     int64
	InputTokens     int64
	OutputTokens    int64
	ReasoningTokens int64
	CachedTokens    int64
}

type hourAggRow struct {
	Bucket          int64
	TotalRequests   int64
	TotalTokens     int64
	InputTokens     int64
	OutputTokens    int64
	ReasoningTokens int64
	CachedTokens    int64
}

type routeAggRow struct {
	Route           string
	TotalRequests   int64
	TotalTokens     int64
	InputTokens     int64
	OutputTokens    int64
	ReasoningTokens int64
	CachedTokens    int64
}

// ComputeOverview resolves the query, serves it from cache when possible and
// otherwise runs the seven sub-aggregations concurrently: each is an
// independent read over the same immutable window, so total latency is
// bounded by the slowest single query instead of their sum.
func (s *OverviewService) ComputeOverview(ctx context.Context, q OverviewQuery) (*OverviewResponse, error) {
	window := ResolveWindow(q.Days, q.Start, q.End, time.Now(), s.loc, WindowOptions{
		DefaultDays: s.opts.DefaultDays,
		MaxDays:     s.opts.MaxDays,
	})
	model := clampFilter(strings.TrimSpace(q.Model), s.opts.MaxFilterLen)
	route := clampFilter(strings.TrimSpace(q.Route), s.opts.MaxFilterLen)
	page := q.Page
	if page < 1 {
		page = 1
	}
	pageSize := q.PageSize
	if pageSize == 0 {
		pageSize = s.opts.DefaultPageSize
	}
	pageSize = clampInt(pageSize, 5, 500)

	key := fmt.Sprintf("overview|%d|%d|%q|%q|%d|%d",
		window.Start.Unix(), window.End.Unix(), model, route, page, pageSize)
	if s.cache != nil {
		if hit, ok := s.cache.Get(key); ok {
			if resp, ok := hit.(*OverviewResponse); ok {
				return resp, nil
			}
		}
	}

	resolver, err := s.pricing.Resolver(ctx)
	if err != nil {
		return nil, fmt.Errorf("load price catalogue: %w", err)
	}

	bucket := quarterBucketExpr(s.db)
	sums := "SUM(total_requests) AS total_requests, SUM(total_tokens) AS total_tokens, " +
		"SUM(input_tokens) AS input_tokens, SUM(output_tokens) AS output_tokens, " +
		"SUM(reasoning_tokens) AS reasoning_tokens, SUM(cached_tokens) AS cached_tokens"

	var (
		totals      totalsRow
		modelRows   []modelAggRow
		totalModels int64
		dayRows     []bucketAggRow
		hourRows    []hourAggRow
		routeRows   []routeAggRow
		allModels   []string
		allRoutes   []string
	)

	g, gctx := errgroup.WithContext(ctx)

	// 1. Window totals.
	g.Go(func() error {
		return s.baseQuery(gctx, window, model, route).
			Select("COALESCE(SUM(total_requests),0) AS total_requests, " +
				"COALESCE(SUM(total_tokens),0) AS total_tokens, " +
				"COALESCE(SUM(input_tokens),0) AS input_tokens, " +
				"COALESCE(SUM(output_tokens),0) AS output_tokens, " +
				"COALESCE(SUM(reasoning_tokens),0) AS reasoning_tokens, " +
				"COALESCE(SUM(cached_tokens),0) AS cached_tokens, " +
				"COALESCE(SUM(success_count),0) AS success_count, " +
				"COALESCE(SUM(failure_count),0) AS failure_count").
			Scan(&totals).Error
	})

	// 2. Per-model breakdown, paginated and ordered by model name.
	g.Go(func() error {
		return s.baseQuery(gctx, window, model, route).
			Select(sums + ", model, SUM(success_count) AS success_count, SUM(failure_count) AS failure_count").
			Group("model").
			Order("model ASC").
			Limit(pageSize).
			Offset((page - 1) * pageSize).
			Scan(&modelRows).Error
	})

	// 3. Distinct model count over the filtered window, for pagination.
	g.Go(func() error {
		return s.baseQuery(gctx, window, model, route).
			Distinct("model").
			Count(&totalModels).Error
	})

	// 4. Daily series, grouped per model so costs are computed at model
	// granularity before folding into days.
	g.Go(func() error {
		return s.baseQuery(gctx, window, model, route).
			Select(bucket + " AS bucket, model, " + sums).
			Group("bucket, model").
			Scan(&dayRows).Error
	})

	// 5. Hourly series.
	g.Go(func() error {
		return s.baseQuery(gctx, window, model, route).
			Select(bucket + " AS bucket, " + sums).
			Group("bucket").
			Scan(&hourRows).Error
	})

	// 6. Top routes by request volume.
	g.Go(func() error {
		return s.baseQuery(gctx, window, model, route).
			Select("route, " + sums).
			Group("route").
			Order("total_requests DESC, route ASC").
			Limit(s.opts.TopRoutes).
			Scan(&routeRows).Error
	})

	// 7. Distinct filter values over the unfiltered window.
	g.Go(func() error {
		base := s.db.WithContext(gctx).Model(&models.UsageEvent{}).
			Where("occurred_at >= ? AND occurred_at < ?", window.Start.UTC(), window.End.UTC())
		if err := base.Session(&gorm.Session{}).Distinct("model").Order("model ASC").
			Pluck("model", &allModels).Error; err != nil {
			return err
		}
		return base.Session(&gorm.Session{}).Distinct("route").Order("route ASC").
			Pluck("route", &allRoutes).Error
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("compute overview: %w", err)
	}

	resp := s.assemble(window, resolver, totals, modelRows, int(totalModels), dayRows, hourRows, routeRows, allModels, allRoutes, page, pageSize)
	if s.cache != nil {
		s.cache.Set(key, resp)
	}
	return resp, nil
}

// baseQuery applies the window bounds and optional filters. Bind parameters
// are normalized to UTC to match the stored representation on every driver.
func (s *OverviewService) baseQuery(ctx context.Context, w Window, model, route string) *gorm.DB {
	q := s.db.WithContext(ctx).Model(&models.UsageEvent{}).
		Where("occurred_at >= ? AND occurred_at < ?", w.Start.UTC(), w.End.UTC())
	if model != "" {
		q = q.Where("model = ?", model)
	}
	if route != "" {
		q = q.Where("route = ?", route)
	}
	return q
}

func (s *OverviewService) assemble(window Window, resolver *PriceResolver, totals totalsRow,
	modelRows []modelAggRow, totalModels int, dayRows []bucketAggRow, hourRows []hourAggRow,
	routeRows []routeAggRow, allModels, allRoutes []string, page, pageSize int) *OverviewResponse {

	modelStats := make([]ModelStat, 0, len(modelRows))
	for _, row := range modelRows {
		modelStats = append(modelStats, ModelStat{
			Model:           row.Model,
			TotalRequests:   row.TotalRequests,
			TotalTokens:     row.TotalTokens,
			InputTokens:     row.InputTokens,
			OutputTokens:    row.OutputTokens,
			ReasoningTokens: row.ReasoningTokens,
			CachedTokens:    row.CachedTokens,
			SuccessCount:    row.SuccessCount,
			FailureCount:    row.FailureCount,
			Cost:            resolver.Estimate(row.Model, row.InputTokens, row.CachedTokens, row.OutputTokens),
		})
	}

	byDay := s.foldDays(window, resolver, dayRows)
	byHour := s.foldHours(window, hourRows)

	var totalCost float64
	for i := range byDay {
		totalCost += byDay[i].Cost
	}

	var successRate float64
	if totals.TotalRequests > 0 {
		successRate = float64(totals.SuccessCount) / float64(totals.TotalRequests)
	}

	topRoutes := make([]RouteStat, 0, len(routeRows))
	tokensByRoute := make(map[string]int64, len(routeRows))
	for _, row := range routeRows {
		topRoutes = append(topRoutes, RouteStat{
			Route:           row.Route,
			TotalRequests:   row.TotalRequests,
			TotalTokens:     row.TotalTokens,
			InputTokens:     row.InputTokens,
			OutputTokens:    row.OutputTokens,
			ReasoningTokens: row.ReasoningTokens,
			CachedTokens:    row.CachedTokens,
			Cost:            resolver.EstimateAverage(row.InputTokens, row.CachedTokens, row.OutputTokens),
		})
		tokensByRoute[row.Route] = row.TotalTokens
	}

	if allModels == nil {
		allModels = []string{}
	}
	if allRoutes == nil {
		allRoutes = []string{}
	}
	totalPages := (totalModels + pageSize - 1) / pageSize

	return &OverviewResponse{
		Overview: OverviewStats{
			TotalRequests:        totals.TotalRequests,
			TotalTokens:          totals.TotalTokens,
			TotalInputTokens:     totals.InputTokens,
			TotalOutputTokens:    totals.OutputTokens,
			TotalReasoningTokens: totals.ReasoningTokens,
			TotalCachedTokens:    totals.CachedTokens,
			SuccessCount:         totals.SuccessCount,
			FailureCount:         totals.FailureCount,
			SuccessRate:          successRate,
			TotalCost:            totalCost,
			Models:               modelStats,
			ByDay:                byDay,
			ByHour:               byHour,
		},
		Empty: totals.TotalRequests == 0,
		Days:  window.Days,
		Meta: PageMeta{
			Page:        page,
			PageSize:    pageSize,
			TotalModels: totalModels,
			TotalPages:  totalPages,
		},
		Filters:       FilterValues{Models: allModels, Routes: allRoutes},
		TopRoutes:     topRoutes,
		TokensByRoute: tokensByRoute,
	}
}

// foldDays merges 15-minute buckets into gap-filled local calendar days.
// Cost is estimated per (model, day) first; only then summed into the day,
// because rates vary by model and repricing a mixed daily total would be
// wrong whenever several models share a day.
func (s *OverviewService) foldDays(window Window, resolver *PriceResolver, rows []bucketAggRow) []DayStat {
	index := make(map[string]*DayStat, window.Days)
	byDay := make([]DayStat, window.Days)
	for i, d := 0, window.Start; i < window.Days; i++ {
		label := d.Format("2006-01-02")
		byDay[i] = DayStat{Date: label}
		index[label] = &byDay[i]
		d = addDays(d, 1, s.loc)
	}

	type modelDay struct {
		model string
		date  string
	}
	costAgg := make(map[modelDay]*bucketAggRow)
	for _, row := range rows {
		label := LocalDate(time.Unix(row.Bucket*900, 0), s.loc)
		day, ok := index[label]
		if !ok {
			continue
		}
		day.TotalRequests += row.TotalRequests
		day.TotalTokens += row.TotalTokens
		day.InputTokens += row.InputTokens
		day.OutputTokens += row.OutputTokens
		day.ReasoningTokens += row.ReasoningTokens
		day.CachedTokens += row.CachedTokens

		k := modelDay{model: row.Model, date: label}
		agg, ok := costAgg[k]
		if !ok {
			agg = &bucketAggRow{Model: row.Model}
			costAgg[k] = agg
		}
		agg.InputTokens += row.InputTokens
		agg.CachedTokens += row.CachedTokens
		agg.OutputTokens += row.OutputTokens
	}
	for k, agg := range costAgg {
		if day, ok := index[k.date]; ok {
			day.Cost += resolver.Estimate(agg.Model, agg.InputTokens, agg.CachedTokens, agg.OutputTokens)
		}
	}
	return byDay
}

// foldHours merges 15-minute buckets into gap-filled one-hour slices
// anchored at the window start.
func (s *OverviewService) foldHours(window Window, rows []hourAggRow) []HourStat {
	n := int((window.End.Sub(window.Start) + time.Hour - 1) / time.Hour)
	if n < 1 {
		n = 1
	}
	byHour := make([]HourStat, n)
	for i := range byHour {
		ts := window.Start.Add(time.Duration(i) * time.Hour)
		byHour[i].Ts = ts.In(s.loc).Format(time.RFC3339)
	}

	startUnix := window.Start.Unix()
	for _, row := range rows {
		offset := row.Bucket*900 - startUnix
		if offset < 0 {
			continue
		}
		idx := int(offset / 3600)
		if idx >= n {
			continue
		}
		byHour[idx].TotalRequests += row.TotalRequests
		byHour[idx].TotalTokens += row.TotalTokens
		byHour[idx].InputTokens += row.InputTokens
		byHour[idx].OutputTokens += row.OutputTokens
		byHour[idx].ReasoningTokens += row.ReasoningTokens
		byHour[idx].CachedTokens += row.CachedTokens
	}
	return byHour
}

// quarterBucketExpr groups occurred_at into 15-minute epoch buckets in SQL.
// Every modern UTC offset is a multiple of 15 minutes, so local calendar
// days in any configured zone are exact unions of these buckets and the Go
// side can fold them without driver-specific timezone support.
func quarterBucketExpr(db *gorm.DB) string {
	switch db.Dialector.Name() {
	case "mysql":
		return "CAST(FLOOR(UNIX_TIMESTAMP(occurred_at) / 900) AS SIGNED)"
	case "postgres":
		return "CAST(FLOOR(EXTRACT(EPOCH FROM occurred_at) / 900) AS BIGINT)"
	default:
		return "CAST(strftime('%s', occurred_at) AS INTEGER) / 900"
	}
}
