package services

import (
	"context"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/muoit/CLIProxyAPI-Monitor/internal/models"
)

func seedSingleRequests(t *testing.T, db *gorm.DB, base time.Time, n int) {
	t.Helper()
	events := make([]models.UsageEvent, 0, n)
	for i := 0; i < n; i++ {
		event := usageEvent(base.Add(time.Duration(i)*time.Second), "key-1", "gpt-4o", int64(i), 0, 0)
		// Tag each row with its insertion order so tests can verify which
		// ranks were kept.
		event.TotalTokens = int64(i)
		events = append(events, event)
	}
	if err := db.CreateInBatches(&events, 500).Error; err != nil {
		t.Fatalf("seed explore rows: %v", err)
	}
}

func TestComputeExplorePointsReturnsAllWhenSmall(t *testing.T) {
	db := newTestDB(t)
	svc := NewExploreService(db, nil, time.UTC, AnalyticsOptions{})
	base := time.Date(2026, 8, 3, 10, 0, 0, 0, time.UTC)
	seedSingleRequests(t, db, base, 10)

	resp, err := svc.ComputeExplorePoints(context.Background(), ExploreQuery{Start: "2026-08-01", End: "2026-08-07"})
	if err != nil {
		t.Fatalf("ComputeExplorePoints: %v", err)
	}
	if resp.Total != 10 || resp.Step != 1 || resp.Returned != 10 {
		t.Errorf("resp = total %d step %d returned %d, want 10/1/10", resp.Total, resp.Step, resp.Returned)
	}
	for i := 1; i < len(resp.Points); i++ {
		if resp.Points[i].Ts.Before(resp.Points[i-1].Ts) {
			t.Fatalf("points not in ascending time order at %d", i)
		}
	}
}

func TestComputeExplorePointsSystematicSampling(t *testing.T) {
	db := newTestDB(t)
	svc := NewExploreService(db, nil, time.UTC, AnalyticsOptions{})
	base := time.Date(2026, 8, 3, 10, 0, 0, 0, time.UTC)
	seedSingleRequests(t, db, base, 2500)
	ctx := context.Background()
	q := ExploreQuery{Start: "2026-08-01", End: "2026-08-07", MaxPoints: 1000}

	resp, err := svc.ComputeExplorePoints(ctx, q)
	if err != nil {
		t.Fatalf("ComputeExplorePoints: %v", err)
	}
	if resp.Total != 2500 {
		t.Fatalf("Total = %d, want 2500", resp.Total)
	}
	if resp.Step != 2 {
		t.Fatalf("Step = %d, want floor(2500/1000) = 2", resp.Step)
	}
	if resp.Returned != 1250 {
		t.Fatalf("Returned = %d, want 1250", resp.Returned)
	}

	// step * returned stays within [N - step, N].
	product := resp.Step * int64(resp.Returned)
	if product < resp.Total-resp.Step || product > resp.Total {
		t.Errorf("step*returned = %d outside [%d, %d]", product, resp.Total-resp.Step, resp.Total)
	}

	// Row i was seeded with TotalTokens = i, so rank r carries tokens r-1.
	// Kept ranks are 2, 4, ..., 2500.
	if resp.Points[0].Tokens != 1 {
		t.Errorf("first kept rank tokens = %d, want 1", resp.Points[0].Tokens)
	}
	if resp.Points[1].Tokens != 3 {
		t.Errorf("second kept rank tokens = %d, want 3", resp.Points[1].Tokens)
	}
	if last := resp.Points[len(resp.Points)-1].Tokens; last != 2499 {
		t.Errorf("last kept rank tokens = %d, want 2499", last)
	}

	// Repeating the query over an unchanged store returns the identical
	// sequence.
	again, err := svc.ComputeExplorePoints(ctx, q)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if len(again.Points) != len(resp.Points) {
		t.Fatalf("point count changed between calls: %d vs %d", len(again.Points), len(resp.Points))
	}
	for i := range resp.Points {
		if resp.Points[i] != again.Points[i] {
			t.Fatalf("point %d differs between identical queries", i)
		}
	}
}

func TestComputeExplorePointsClampsMaxPoints(t *testing.T) {
	db := newTestDB(t)
	svc := NewExploreService(db, nil, time.UTC, AnalyticsOptions{})
	base := time.Date(2026, 8, 3, 10, 0, 0, 0, time.UTC)
	seedSingleRequests(t, db, base, 2500)

	// 50 is below the floor of 1000, so the effective step is 2, not 50.
	resp, err := svc.ComputeExplorePoints(context.Background(), ExploreQuery{
		Start: "2026-08-01", End: "2026-08-07", MaxPoints: 50,
	})
	if err != nil {
		t.Fatalf("ComputeExplorePoints: %v", err)
	}
	if resp.Step != 2 {
		t.Errorf("Step = %d, want clamp to keep step 2", resp.Step)
	}
}

func TestComputeExplorePointsEmptyWindow(t *testing.T) {
	db := newTestDB(t)
	svc := NewExploreService(db, nil, time.UTC, AnalyticsOptions{})

	resp, err := svc.ComputeExplorePoints(context.Background(), ExploreQuery{Start: "2026-08-01", End: "2026-08-07"})
	if err != nil {
		t.Fatalf("ComputeExplorePoints: %v", err)
	}
	if resp.Total != 0 || resp.Step != 1 || resp.Returned != 0 {
		t.Errorf("resp = %+v, want empty result with step 1", resp)
	}
	if resp.Points == nil {
		t.Error("Points must be an empty slice, not nil")
	}
	if resp.Days != 7 {
		t.Errorf("Days = %d, want 7", resp.Days)
	}
}

func TestComputeExplorePointsExcludesBatchRows(t *testing.T) {
	db := newTestDB(t)
	svc := NewExploreService(db, nil, time.UTC, AnalyticsOptions{})
	base := time.Date(2026, 8, 3, 10, 0, 0, 0, time.UTC)
	seedSingleRequests(t, db, base, 5)

	batch := usageEvent(base.Add(time.Hour), "key-9", "gpt-4o", 999, 0, 999)
	batch.TotalRequests = 20
	batch.SuccessCount = 20
	if err := db.Create(&batch).Error; err != nil {
		t.Fatalf("seed batch row: %v", err)
	}

	resp, err := svc.ComputeExplorePoints(context.Background(), ExploreQuery{Start: "2026-08-01", End: "2026-08-07"})
	if err != nil {
		t.Fatalf("ComputeExplorePoints: %v", err)
	}
	if resp.Total != 5 || resp.Returned != 5 {
		t.Errorf("batch row leaked into sampling: total %d returned %d", resp.Total, resp.Returned)
	}
	for _, p := range resp.Points {
		if p.Model != "gpt-4o" || p.Tokens > 4 {
			t.Errorf("unexpected point %+v", p)
		}
	}
}

func TestComputeExplorePointsCaching(t *testing.T) {
	db := newTestDB(t)
	cache := NewQueryCache(time.Minute, 8)
	svc := NewExploreService(db, cache, time.UTC, AnalyticsOptions{})
	base := time.Date(2026, 8, 3, 10, 0, 0, 0, time.UTC)
	seedSingleRequests(t, db, base, 10)
	ctx := context.Background()
	q := ExploreQuery{Start: "2026-08-01", End: "2026-08-07"}

	first, err := svc.ComputeExplorePoints(ctx, q)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := svc.ComputeExplorePoints(ctx, q)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if first != second {
		t.Error("identical explore queries should share one cache entry")
	}
	if cache.Len() != 1 {
		t.Errorf("cache entries = %d, want 1", cache.Len())
	}
}
