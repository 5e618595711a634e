package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/muoit/CLIProxyAPI-Monitor/internal/models"
	"github.com/muoit/CLIProxyAPI-Monitor/internal/services/upstream"
)

type fakeFetcher struct {
	records []upstream.UsageRecord
	err     error
	calls   int
	since   time.Time
}

func (f *fakeFetcher) FetchUsage(ctx context.Context, since time.Time) ([]upstream.UsageRecord, error) {
	f.calls++
	f.since = since
	return f.records, f.err
}

func usageRecord(model, apiKey string, ts time.Time, input, output int64) upstream.UsageRecord {
	return upstream.UsageRecord{
		APIKey:       apiKey,
		Model:        model,
		Timestamp:    ts,
		InputTokens:  input,
		OutputTokens: output,
		Raw:          []byte(`{"model":"` + model + `"}`),
	}
}

func newSyncService(t *testing.T, fetcher UsageFetcher) (*SyncService, *QueryCache) {
	t.Helper()
	db := newTestDB(t)
	cache := NewQueryCache(time.Minute, 16)
	svc := NewSyncService(db, fetcher, cache, NewSystemConfigService(db), SyncOptions{
		ManualTimeout:    time.Second,
		ScheduledTimeout: 5 * time.Second,
		LookbackDays:     2,
	})
	return svc, cache
}

func TestSyncRunInsertsRecords(t *testing.T) {
	base := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	fetcher := &fakeFetcher{records: []upstream.UsageRecord{
		usageRecord("gpt-4o", "key-1", base, 100, 50),
		usageRecord("gpt-4o", "key-1", base.Add(time.Minute), 200, 80),
		usageRecord("claude-sonnet-4", "key-2", base, 300, 120),
	}}
	svc, _ := newSyncService(t, fetcher)

	result, err := svc.Run(context.Background(), TriggerManual)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Attempted != 3 || result.Inserted != 3 || result.Skipped != 0 || result.Invalid != 0 {
		t.Errorf("result = %+v", result)
	}
	if result.RunID == "" {
		t.Error("run id missing")
	}
	if fetcher.since.IsZero() {
		t.Error("since not passed to fetcher")
	}

	status := svc.Status()
	if status.LastRun == nil || status.LastRun.Inserted != 3 {
		t.Errorf("status = %+v", status)
	}
	if status.LastSuccessAt == nil {
		t.Error("LastSuccessAt not set")
	}
	if status.Running {
		t.Error("Running should be false after the run")
	}
}

func TestSyncRunIsIdempotent(t *testing.T) {
	base := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	fetcher := &fakeFetcher{records: []upstream.UsageRecord{
		usageRecord("gpt-4o", "key-1", base, 100, 50),
		usageRecord("claude-sonnet-4", "key-2", base, 300, 120),
	}}
	svc, _ := newSyncService(t, fetcher)
	ctx := context.Background()

	first, err := svc.Run(ctx, TriggerScheduled)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Inserted != 2 {
		t.Fatalf("first run inserted = %d, want 2", first.Inserted)
	}

	second, err := svc.Run(ctx, TriggerScheduled)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Attempted != 2 || second.Inserted != 0 || second.Skipped != 2 {
		t.Errorf("second run = %+v, want attempted 2 inserted 0 skipped 2", second)
	}

	var count int64
	svc.db.Model(&models.UsageEvent{}).Count(&count)
	if count != 2 {
		t.Errorf("row count = %d after duplicate sync, want 2", count)
	}
}

func TestSyncRunPartialOverlap(t *testing.T) {
	base := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	fetcher := &fakeFetcher{records: []upstream.UsageRecord{
		usageRecord("gpt-4o", "key-1", base, 100, 50),
	}}
	svc, _ := newSyncService(t, fetcher)
	ctx := context.Background()

	if _, err := svc.Run(ctx, TriggerScheduled); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// Same tuple plus one new event: only the new one lands.
	fetcher.records = append(fetcher.records, usageRecord("gpt-4o", "key-1", base.Add(time.Hour), 10, 5))
	result, err := svc.Run(ctx, TriggerScheduled)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if result.Attempted != 2 || result.Inserted != 1 || result.Skipped != 1 {
		t.Errorf("result = %+v, want attempted 2 inserted 1 skipped 1", result)
	}
}

func TestSyncRunExcludesInvalidRecords(t *testing.T) {
	base := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	fetcher := &fakeFetcher{records: []upstream.UsageRecord{
		usageRecord("gpt-4o", "key-1", base, 100, 50),
		usageRecord("", "key-1", base, 100, 50),               // missing model
		usageRecord("gpt-4o", "", base, 100, 50),              // missing route
		usageRecord("gpt-4o", "key-1", time.Time{}, 100, 50),  // missing timestamp
		usageRecord("gpt-4o", "key-3", base.Add(time.Minute), -1, 50), // negative tokens
	}}
	svc, _ := newSyncService(t, fetcher)

	result, err := svc.Run(context.Background(), TriggerManual)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Invalid != 4 {
		t.Errorf("Invalid = %d, want 4", result.Invalid)
	}
	if result.Attempted != 1 || result.Inserted != 1 {
		t.Errorf("result = %+v, want attempted 1 inserted 1", result)
	}
}

func TestSyncRunUpstreamFailure(t *testing.T) {
	fetcher := &fakeFetcher{err: upstream.ErrUpstream}
	svc, _ := newSyncService(t, fetcher)

	_, err := svc.Run(context.Background(), TriggerScheduled)
	if !errors.Is(err, upstream.ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}

	status := svc.Status()
	if status.LastError == "" {
		t.Error("LastError should be recorded")
	}
	if status.LastSuccessAt != nil {
		t.Error("LastSuccessAt should stay nil after failure")
	}
}

func TestSyncRunCacheInvalidation(t *testing.T) {
	base := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	fetcher := &fakeFetcher{records: []upstream.UsageRecord{
		usageRecord("gpt-4o", "key-1", base, 100, 50),
	}}
	svc, cache := newSyncService(t, fetcher)
	ctx := context.Background()

	cache.Set("overview|stale", 1)
	if _, err := svc.Run(ctx, TriggerScheduled); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if cache.Len() != 0 {
		t.Error("cache should clear when rows were inserted")
	}

	// Re-running with only duplicates must not clear the cache.
	cache.Set("overview|fresh", 1)
	if _, err := svc.Run(ctx, TriggerScheduled); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if cache.Len() != 1 {
		t.Error("cache should survive a run that inserted nothing")
	}
}

func TestSyncResetEvents(t *testing.T) {
	base := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	fetcher := &fakeFetcher{records: []upstream.UsageRecord{
		usageRecord("gpt-4o", "key-1", base, 100, 50),
		usageRecord("gpt-4o", "key-2", base, 100, 50),
	}}
	svc, cache := newSyncService(t, fetcher)
	ctx := context.Background()

	if _, err := svc.Run(ctx, TriggerManual); err != nil {
		t.Fatalf("Run: %v", err)
	}

	cache.Set("overview|stale", 1)
	deleted, err := svc.ResetEvents(ctx)
	if err != nil {
		t.Fatalf("ResetEvents: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}
	if cache.Len() != 0 {
		t.Error("reset should clear the cache")
	}

	var count int64
	svc.db.Model(&models.UsageEvent{}).Count(&count)
	if count != 0 {
		t.Errorf("row count = %d after reset, want 0", count)
	}
}

func TestEventFromRecordDerivations(t *testing.T) {
	syncedAt := time.Now().UTC()
	ts := time.Date(2026, 8, 25, 10, 0, 0, 0, time.FixedZone("IST", 5*3600+1800))

	t.Run("single success", func(t *testing.T) {
		event, err := eventFromRecord(upstream.UsageRecord{
			APIKey: "key-1", Model: "gpt-4o", Timestamp: ts,
			InputTokens: 100, OutputTokens: 40, ReasoningTokens: 10,
		}, syncedAt)
		if err != nil {
			t.Fatalf("eventFromRecord: %v", err)
		}
		if event.TotalRequests != 1 || event.SuccessCount != 1 || event.FailureCount != 0 {
			t.Errorf("request counts = %d/%d/%d", event.TotalRequests, event.SuccessCount, event.FailureCount)
		}
		if event.TotalTokens != 150 {
			t.Errorf("TotalTokens = %d, want derived 150", event.TotalTokens)
		}
		if event.OccurredAt.Location() != time.UTC {
			t.Error("OccurredAt should be normalized to UTC")
		}
	})

	t.Run("single failure", func(t *testing.T) {
		event, err := eventFromRecord(upstream.UsageRecord{
			APIKey: "key-1", Model: "gpt-4o", Timestamp: ts, Failed: true,
		}, syncedAt)
		if err != nil {
			t.Fatalf("eventFromRecord: %v", err)
		}
		if event.FailureCount != 1 || event.SuccessCount != 0 || !event.IsError {
			t.Errorf("failure not derived: %+v", event)
		}
	})

	t.Run("pre-aggregated batch kept as reported", func(t *testing.T) {
		event, err := eventFromRecord(upstream.UsageRecord{
			APIKey: "key-1", Model: "gpt-4o", Timestamp: ts,
			TotalRequests: 10, SuccessCount: 7, FailureCount: 3, TotalTokens: 999,
		}, syncedAt)
		if err != nil {
			t.Fatalf("eventFromRecord: %v", err)
		}
		if event.TotalRequests != 10 || event.SuccessCount != 7 || event.FailureCount != 3 {
			t.Errorf("batch counts changed: %+v", event)
		}
		if event.TotalTokens != 999 {
			t.Errorf("reported total overridden: %d", event.TotalTokens)
		}
	})

	t.Run("whitespace trimmed", func(t *testing.T) {
		event, err := eventFromRecord(upstream.UsageRecord{
			APIKey: " key-1 ", Model: " gpt-4o ", Timestamp: ts,
		}, syncedAt)
		if err != nil {
			t.Fatalf("eventFromRecord: %v", err)
		}
		if event.Route != "key-1" || event.Model != "gpt-4o" {
			t.Errorf("not trimmed: %q %q", event.Route, event.Model)
		}
	})
}
