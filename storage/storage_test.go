package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"zoopla_fetcher/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleResult() *models.RunResult {
	run := models.NewQueryRun("se23", models.NewQuerySpec("SE23"), models.ModeDetails)
	return &models.RunResult{
		Run: run,
		URLs: []string{
			"https://www.zoopla.co.uk/for-sale/details/66001122/",
			"https://www.zoopla.co.uk/for-sale/details/66003344/",
		},
		Records: []models.Record{
			{"listingId": "66001122", "price": 450000.0, "total_sq_footage": 900.0, "pounds_per_sq_foot": 500.0},
			{},
		},
	}
}

func TestSQLiteStore_RunLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	result := sampleResult()
	run := result.Run

	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("create run: %v", err)
	}

	run.Status = models.RunStatusCompleted
	run.ListingsFound = 2
	run.RecordsOK = 1
	run.RecordsFailed = 1
	now := time.Now()
	run.FinishedAt = &now
	if err := store.UpdateRun(ctx, run); err != nil {
		t.Fatalf("update run: %v", err)
	}
	if err := store.SaveResult(ctx, result); err != nil {
		t.Fatalf("save result: %v", err)
	}
	if err := store.Log(ctx, &models.RunLog{RunID: run.ID.String(), Timestamp: now, Level: models.LogLevelError, Message: "boom", Component: "se23"}); err != nil {
		t.Fatalf("log: %v", err)
	}

	got, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != models.RunStatusCompleted || got.RecordsFailed != 1 || got.FinishedAt == nil {
		t.Fatalf("unexpected stored run %+v", got)
	}
	if got.Mode != models.ModeDetails || got.QueryName != "se23" {
		t.Fatalf("unexpected run metadata %+v", got)
	}

	records, err := store.GetRecords(ctx, run.ID)
	if err != nil {
		t.Fatalf("get records: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 stored rows, got %d", len(records))
	}
	if records[0].ListingID != "66001122" || records[0].Failed || records[0].Fingerprint == "" {
		t.Fatalf("unexpected first row %+v", records[0])
	}
	if !records[1].Failed || records[1].ListingID != "66003344" {
		t.Fatalf("expected failed second row keyed by url id, got %+v", records[1])
	}
	var rec models.Record
	if err := json.Unmarshal(records[0].Data, &rec); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if rec["pounds_per_sq_foot"] != 500.0 {
		t.Fatalf("unexpected stored record %v", rec)
	}

	runs, err := store.ListRuns(ctx, 10)
	if err != nil || len(runs) != 1 {
		t.Fatalf("expected 1 run listed, got %d (%v)", len(runs), err)
	}

	logs, err := store.GetLogs(ctx, run.ID)
	if err != nil || len(logs) != 1 || logs[0].Message != "boom" {
		t.Fatalf("unexpected logs %v (%v)", logs, err)
	}
}

func TestSQLiteStore_History(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	run := models.NewQueryRun("hist", models.NewQuerySpec("SE23"), models.ModeHistory)
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("create run: %v", err)
	}
	day := time.Date(2023, 4, 10, 0, 0, 0, 0, time.UTC)
	err := store.SaveResult(ctx, &models.RunResult{Run: run, History: []models.PriceHistoryEntry{
		{ListingID: "1", Date: day, Price: 430000, ChangeType: models.ChangeListing},
		{ListingID: "1", Date: day.AddDate(0, 1, 0), Price: 420000, ChangeType: models.ChangeListing},
	}})
	if err != nil {
		t.Fatalf("save result: %v", err)
	}

	entries, err := store.GetHistory(ctx, run.ID)
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if len(entries) != 2 || entries[1].Price != 420000 || !entries[0].Date.Equal(day) {
		t.Fatalf("unexpected history %+v", entries)
	}
}

func TestSQLiteStore_PreviousFingerprints(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	first := sampleResult()
	first.Run.StartedAt = time.Now().Add(-time.Hour)
	first.Run.Status = models.RunStatusCompleted
	store.CreateRun(ctx, first.Run)
	store.SaveResult(ctx, first)

	second := sampleResult()
	store.CreateRun(ctx, second.Run)

	prev, err := store.PreviousFingerprints(ctx, second.Run)
	if err != nil {
		t.Fatalf("previous fingerprints: %v", err)
	}
	if len(prev) != 1 || prev["66001122"] == "" {
		t.Fatalf("expected one fingerprint from the earlier run, got %v", prev)
	}
}

func TestWriteRecordsCSV(t *testing.T) {
	var buf bytes.Buffer
	err := WriteRecordsCSV(&buf, []models.Record{
		{"listingId": "1", "price": 450000.0, "latitude": 51.4433, "detailedDescription": "Three bed, garden"},
		{},
		{"listingId": "3", "price": 300000.0, "numBeds": 2},
	})
	if err != nil {
		t.Fatalf("write csv: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header plus 3 rows, got %d: %q", len(lines), lines)
	}
	if lines[0] != "listingId,detailedDescription,latitude,numBeds,price" {
		t.Fatalf("unexpected header %q", lines[0])
	}
	if lines[1] != `1,"Three bed, garden",51.4433,,450000` {
		t.Fatalf("unexpected first row %q", lines[1])
	}
	if lines[2] != ",,,," {
		t.Fatalf("expected blank row for failed listing, got %q", lines[2])
	}
	if lines[3] != "3,,,2,300000" {
		t.Fatalf("unexpected third row %q", lines[3])
	}
}

func TestExportRun_History(t *testing.T) {
	dir := t.TempDir()
	run := models.NewQueryRun("hist", models.NewQuerySpec("SE23"), models.ModeHistory)
	result := &models.RunResult{Run: run, History: []models.PriceHistoryEntry{
		{ListingID: "7", Date: time.Date(2023, 4, 10, 0, 0, 0, 0, time.UTC), Price: 430000, ChangeType: models.ChangeListing},
	}}

	path, err := ExportRun(filepath.Join(dir, "exports"), result)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	want := "listingId,date,price,price_change_type\n7,2023-04-10T00:00:00Z,430000,listing_change\n"
	if string(data) != want {
		t.Fatalf("unexpected export:\n%s", data)
	}
}
