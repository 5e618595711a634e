package services

import (
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/muoit/CLIProxyAPI-Monitor/internal/models"
)

func seedLogs(t *testing.T, db *gorm.DB) {
	t.Helper()
	now := time.Now()
	entries := []models.SystemLog{
		{Level: "info", Module: "Sync", Action: "Run", Message: "sync finished: 12 inserted", CreatedAt: now.Add(-1 * time.Hour)},
		{Level: "error", Module: "Sync", Action: "Run", Message: "upstream error: status 502", CreatedAt: now.Add(-2 * time.Hour)},
		{Level: "info", Module: "Prices", Action: "Update", Message: "price updated: gpt-4o", CreatedAt: now.Add(-3 * time.Hour)},
		{Level: "info", Module: "Prices", Action: "Delete", Message: "price removed: old-model", CreatedAt: now.AddDate(0, 0, -45)},
	}
	for i := range entries {
		if err := db.Create(&entries[i]).Error; err != nil {
			t.Fatalf("seed log: %v", err)
		}
	}
}

func TestSystemLogList(t *testing.T) {
	db := newTestDB(t)
	svc := NewSystemLogService(db)
	seedLogs(t, db)

	resp, err := svc.List(&SystemLogListRequest{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if resp.Total != 4 {
		t.Errorf("Total = %d, want 4", resp.Total)
	}
	if resp.Page != 1 || resp.PageSize != 20 {
		t.Errorf("defaults = page %d size %d, want 1/20", resp.Page, resp.PageSize)
	}
	// Newest first.
	for i := 1; i < len(resp.Items); i++ {
		if resp.Items[i].CreatedAt.After(resp.Items[i-1].CreatedAt) {
			t.Fatalf("items not ordered newest-first at %d", i)
		}
	}
}

func TestSystemLogListFilters(t *testing.T) {
	db := newTestDB(t)
	svc := NewSystemLogService(db)
	seedLogs(t, db)

	tests := []struct {
		name string
		req  SystemLogListRequest
		want int64
	}{
		{"by level", SystemLogListRequest{Level: "error"}, 1},
		{"by module", SystemLogListRequest{Module: "Prices"}, 2},
		{"by action substring", SystemLogListRequest{Action: "Run"}, 2},
		{"by message search", SystemLogListRequest{Search: "gpt-4o"}, 1},
		{"level and module", SystemLogListRequest{Level: "info", Module: "Sync"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := svc.List(&tt.req)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if resp.Total != tt.want {
				t.Errorf("Total = %d, want %d", resp.Total, tt.want)
			}
		})
	}
}

func TestSystemLogListPagination(t *testing.T) {
	db := newTestDB(t)
	svc := NewSystemLogService(db)
	seedLogs(t, db)

	resp, err := svc.List(&SystemLogListRequest{Page: 2, PageSize: 3})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if resp.Total != 4 {
		t.Errorf("Total = %d, want 4", resp.Total)
	}
	if len(resp.Items) != 1 {
		t.Errorf("page 2 of size 3 should carry 1 item, got %d", len(resp.Items))
	}
}

func TestSystemLogGetModules(t *testing.T) {
	db := newTestDB(t)
	svc := NewSystemLogService(db)
	seedLogs(t, db)

	modules, err := svc.GetModules()
	if err != nil {
		t.Fatalf("GetModules: %v", err)
	}
	seen := make(map[string]bool, len(modules))
	for _, m := range modules {
		seen[m] = true
	}
	if !seen["Sync"] || !seen["Prices"] {
		t.Errorf("modules = %v, want Sync and Prices", modules)
	}
	if len(modules) != 2 {
		t.Errorf("got %d modules, want 2 distinct", len(modules))
	}
}

func TestSystemLogCleanup(t *testing.T) {
	db := newTestDB(t)
	svc := NewSystemLogService(db)
	seedLogs(t, db)

	deleted, err := svc.CleanupOldLogs(30)
	if err != nil {
		t.Fatalf("CleanupOldLogs: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1 (only the 45-day-old row)", deleted)
	}

	// Non-positive retention is a no-op, never a full wipe.
	deleted, err = svc.CleanupOldLogs(0)
	if err != nil {
		t.Fatalf("CleanupOldLogs(0): %v", err)
	}
	if deleted != 0 {
		t.Errorf("CleanupOldLogs(0) deleted %d rows", deleted)
	}

	resp, _ := svc.List(&SystemLogListRequest{})
	if resp.Total != 3 {
		t.Errorf("remaining = %d, want 3", resp.Total)
	}
}

func TestSystemLogRetentionSetting(t *testing.T) {
	db := newTestDB(t)
	svc := NewSystemLogService(db)

	if got := svc.GetRetentionDays(); got != 30 {
		t.Errorf("default retention = %d, want 30", got)
	}
	if err := svc.SetRetentionDays(90); err != nil {
		t.Fatalf("SetRetentionDays: %v", err)
	}
	if got := svc.GetRetentionDays(); got != 90 {
		t.Errorf("retention = %d, want 90", got)
	}
}

func TestWriteLogHelpers(t *testing.T) {
	db := newTestDB(t)
	prev := globalDB
	InitSystemLogger(db)
	defer InitSystemLogger(prev)

	uid := uint(3)
	LogInfo("Sync", "Run", "manual sync", &uid, "10.0.0.1", "go-test", map[string]interface{}{"inserted": 5})
	LogError("Sync", "Run", "upstream down", nil, "", "", nil)

	var rows []models.SystemLog
	if err := db.Order("id").Find(&rows).Error; err != nil {
		t.Fatalf("loading logs: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0].Level != "info" || rows[0].UserID == nil || *rows[0].UserID != 3 {
		t.Errorf("first row = %+v", rows[0])
	}
	if rows[0].Extra == "" {
		t.Error("extra payload should be serialized")
	}
	if rows[1].Level != "error" || rows[1].Extra != "" {
		t.Errorf("second row = %+v", rows[1])
	}
}
