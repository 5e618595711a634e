package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/muoit/CLIProxyAPI-Monitor/internal/models"
	"github.com/muoit/CLIProxyAPI-Monitor/internal/services/upstream"
	"github.com/muoit/CLIProxyAPI-Monitor/pkg/logger"
)

const (
	TriggerManual    = "manual"
	TriggerScheduled = "scheduled"
)

// UsageFetcher pulls usage telemetry from the proxy. *upstream.Client is the
// production implementation.
type UsageFetcher interface {
	FetchUsage(ctx context.Context, since time.Time) ([]upstream.UsageRecord, error)
}

// SyncResult reports the outcome of one ingestion run. Attempted counts the
// schema-valid records submitted to storage; Inserted the rows that were
// actually new; Skipped the rows dropped by the dedup constraint; Invalid
// the records excluded before storage.
type SyncResult struct {
	RunID      string    `json:"runId"`
	Trigger    string    `json:"trigger"`
	StartedAt  time.Time `json:"startedAt"`
	DurationMS int64     `json:"durationMs"`
	Attempted  int       `json:"attempted"`
	Inserted   int       `json:"inserted"`
	Skipped    int       `json:"skipped"`
	Invalid    int       `json:"invalid"`
}

// SyncStatus is the last observed state of the sync loop.
type SyncStatus struct {
	Running       bool        `json:"running"`
	LastRun       *SyncResult `json:"lastRun,omitempty"`
	LastError     string      `json:"lastError,omitempty"`
	LastSuccessAt *time.Time  `json:"lastSuccessAt,omitempty"`
}

// SyncOptions bounds upstream calls and the default lookback when no
// system-config override exists.
type SyncOptions struct {
	ManualTimeout    time.Duration
	ScheduledTimeout time.Duration
	LookbackDays     int
}

// SyncService pulls usage records from the proxy and inserts them
// idempotently. Concurrent or repeated runs are safe: the dedup constraint
// on (occurred_at, route, model) is the sole consistency mechanism, no
// application-level locking is involved.
type SyncService struct {
	db        *gorm.DB
	fetcher   UsageFetcher
	cache     *QueryCache
	configSvc *SystemConfigService
	opts      SyncOptions

	mu     sync.Mutex
	status SyncStatus
}

func NewSyncService(db *gorm.DB, fetcher UsageFetcher, cache *QueryCache, configSvc *SystemConfigService, opts SyncOptions) *SyncService {
	if opts.ManualTimeout <= 0 {
		opts.ManualTimeout = 10 * time.Second
	}
	if opts.ScheduledTimeout <= 0 {
		opts.ScheduledTimeout = 60 * time.Second
	}
	if opts.LookbackDays <= 0 {
		opts.LookbackDays = 2
	}
	return &SyncService{db: db, fetcher: fetcher, cache: cache, configSvc: configSvc, opts: opts}
}

// Run executes one sync cycle: fetch from the proxy, validate, insert with
// duplicates silently skipped. Storage errors abort the whole batch, so a
// partial batch is never reported as inserted.
func (s *SyncService) Run(ctx context.Context, trigger string) (*SyncResult, error) {
	timeout := s.opts.ScheduledTimeout
	if trigger == TriggerManual {
		timeout = s.opts.ManualTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := &SyncResult{
		RunID:     uuid.NewString(),
		Trigger:   trigger,
		StartedAt: time.Now(),
	}
	s.setRunning(true)
	defer s.setRunning(false)

	since := time.Now().AddDate(0, 0, -s.lookbackDays())
	records, err := s.fetcher.FetchUsage(ctx, since)
	if err != nil {
		err = fmt.Errorf("fetch usage records: %w", err)
		s.finish(result, err)
		return nil, err
	}

	syncedAt := time.Now().UTC()
	rows := make([]models.UsageEvent, 0, len(records))
	for _, rec := range records {
		event, convErr := eventFromRecord(rec, syncedAt)
		if convErr != nil {
			result.Invalid++
			logger.Warn().Err(convErr).Str("model", rec.Model).Msg("skipping invalid usage record")
			continue
		}
		rows = append(rows, event)
	}
	result.Attempted = len(rows)

	if len(rows) > 0 {
		var inserted int64
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(&rows, 200)
			if res.Error != nil {
				return res.Error
			}
			inserted = res.RowsAffected
			return nil
		})
		if err != nil {
			err = fmt.Errorf("store usage events: %w", err)
			s.finish(result, err)
			return nil, err
		}
		result.Inserted = int(inserted)
		result.Skipped = result.Attempted - result.Inserted
	}

	if result.Inserted > 0 && s.cache != nil {
		s.cache.Clear()
	}

	s.finish(result, nil)
	return result, nil
}

// ProcessTask adapts Run to the task queue's processor signature.
func (s *SyncService) ProcessTask(ctx context.Context, task *SyncTask) error {
	_, err := s.Run(ctx, task.Trigger)
	return err
}

// ResetEvents wipes the whole event store. The only sanctioned mutation of
// usage rows besides insertion.
func (s *SyncService) ResetEvents(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.UsageEvent{})
	if res.Error != nil {
		return 0, res.Error
	}
	if s.cache != nil {
		s.cache.Clear()
	}
	LogWarning("sync", "reset", fmt.Sprintf("deleted %d usage events", res.RowsAffected), nil, "", "", nil)
	return res.RowsAffected, nil
}

// Status returns a copy of the last observed sync state.
func (s *SyncService) Status() SyncStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *SyncService) setRunning(running bool) {
	s.mu.Lock()
	s.status.Running = running
	s.mu.Unlock()
}

func (s *SyncService) finish(result *SyncResult, err error) {
	result.DurationMS = time.Since(result.StartedAt).Milliseconds()

	s.mu.Lock()
	s.status.LastRun = result
	if err != nil {
		s.status.LastError = err.Error()
	} else {
		s.status.LastError = ""
		now := time.Now()
		s.status.LastSuccessAt = &now
	}
	s.mu.Unlock()

	extra := map[string]interface{}{
		"run_id":      result.RunID,
		"attempted":   result.Attempted,
		"inserted":    result.Inserted,
		"skipped":     result.Skipped,
		"invalid":     result.Invalid,
		"duration_ms": result.DurationMS,
	}
	if err != nil {
		LogError("sync", result.Trigger, err.Error(), nil, "", "", extra)
		logger.Error().Err(err).Str("run_id", result.RunID).Str("trigger", result.Trigger).Msg("usage sync failed")
		return
	}
	LogInfo("sync", result.Trigger,
		fmt.Sprintf("synced usage records: %d attempted, %d inserted, %d skipped", result.Attempted, result.Inserted, result.Skipped),
		nil, "", "", extra)
	logger.Info().
		Str("run_id", result.RunID).
		Str("trigger", result.Trigger).
		Int("attempted", result.Attempted).
		Int("inserted", result.Inserted).
		Int("skipped", result.Skipped).
		Int("invalid", result.Invalid).
		Int64("duration_ms", result.DurationMS).
		Msg("usage sync finished")
}

func (s *SyncService) lookbackDays() int {
	days := s.opts.LookbackDays
	if s.configSvc != nil {
		days = s.configSvc.GetIntWithDefault("sync_lookback_days", days)
	}
	return clampInt(days, 1, 90)
}

// eventFromRecord validates one upstream record and converts it to a fact
// row. Timestamps are normalized to UTC before storage so range predicates
// and epoch bucketing compare consistently across drivers.
func eventFromRecord(rec upstream.UsageRecord, syncedAt time.Time) (models.UsageEvent, error) {
	model := strings.TrimSpace(rec.Model)
	route := strings.TrimSpace(rec.APIKey)

	switch {
	case model == "":
		return models.UsageEvent{}, errors.New("missing model")
	case route == "":
		return models.UsageEvent{}, errors.New("missing route")
	case rec.Timestamp.IsZero():
		return models.UsageEvent{}, errors.New("missing timestamp")
	case rec.InputTokens < 0 || rec.OutputTokens < 0 || rec.ReasoningTokens < 0 || rec.CachedTokens < 0 || rec.TotalTokens < 0:
		return models.UsageEvent{}, errors.New("negative token count")
	case rec.TotalRequests < 0 || rec.SuccessCount < 0 || rec.FailureCount < 0:
		return models.UsageEvent{}, errors.New("negative request count")
	}

	totalRequests := rec.TotalRequests
	if totalRequests == 0 {
		totalRequests = 1
	}
	success, failure := rec.SuccessCount, rec.FailureCount
	if success == 0 && failure == 0 {
		if rec.Failed {
			failure = totalRequests
		} else {
			success = totalRequests
		}
	}
	totalTokens := rec.TotalTokens
	if totalTokens == 0 {
		totalTokens = rec.InputTokens + rec.OutputTokens + rec.ReasoningTokens
	}

	return models.UsageEvent{
		OccurredAt:      rec.Timestamp.UTC(),
		SyncedAt:        syncedAt,
		Route:           route,
		Model:           model,
		TotalTokens:     totalTokens,
		InputTokens:     rec.InputTokens,
		OutputTokens:    rec.OutputTokens,
		ReasoningTokens: rec.ReasoningTokens,
		CachedTokens:    rec.CachedTokens,
		TotalRequests:   totalRequests,
		SuccessCount:    success,
		FailureCount:    failure,
		IsError:         rec.Failed,
		Raw:             string(rec.Raw),
	}, nil
}
