package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"sync"
	"testing"
	"time"

	"watchtrackd/internal/models"
)

func setupTestStore(t *testing.T) (*Store, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "watchtrackd-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	dbPath := filepath.Join(tmpDir, "test.db")
	st, err := Open(dbPath)
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("Failed to create test store: %v", err)
	}

	cleanup := func() {
		st.Close()
		os.RemoveAll(tmpDir)
	}

	return st, cleanup
}

func TestOpen(t *testing.T) {
	st, cleanup := setupTestStore(t)
	defer cleanup()

	if st == nil {
		t.Fatal("Expected non-nil store")
	}

	var version int
	if err := st.db.QueryRow("SELECT version FROM schema_info").Scan(&version); err != nil {
		t.Fatalf("Failed to read schema version: %v", err)
	}
	if version != schemaVersion {
		t.Errorf("Expected schema version %d, got %d", schemaVersion, version)
	}
}

func TestGetRecordAbsent(t *testing.T) {
	st, cleanup := setupTestStore(t)
	defer cleanup()

	record, err := st.GetRecord("never-watched")
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if record != nil {
		t.Errorf("Expected nil record for unwatched video, got %+v", record)
	}
}

func TestRecordWatchCountsAndOrdering(t *testing.T) {
	st, cleanup := setupTestStore(t)
	defer cleanup()

	const n = 5
	for i := 1; i <= n; i++ {
		count, err := st.RecordWatch("abc123", "Some Video")
		if err != nil {
			t.Fatalf("RecordWatch #%d failed: %v", i, err)
		}
		if count != i {
			t.Errorf("Expected count %d after %d watches, got %d", i, i, count)
		}
	}

	record, err := st.GetRecord("abc123")
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if record == nil {
		t.Fatal("Expected record after watches")
	}
	if record.WatchCount != n {
		t.Errorf("Expected watchCount %d, got %d", n, record.WatchCount)
	}
	if len(record.Events) != n {
		t.Errorf("Expected %d events, got %d", n, len(record.Events))
	}
	if record.LastSeenAt != record.Events[len(record.Events)-1] {
		t.Errorf("lastSeenAt %q does not match final event %q", record.LastSeenAt, record.Events[len(record.Events)-1])
	}

	// Events must be chronologically non-decreasing.
	for i := 1; i < len(record.Events); i++ {
		prev, err := time.Parse(time.RFC3339Nano, record.Events[i-1])
		if err != nil {
			t.Fatalf("Failed to parse event timestamp %q: %v", record.Events[i-1], err)
		}
		cur, err := time.Parse(time.RFC3339Nano, record.Events[i])
		if err != nil {
			t.Fatalf("Failed to parse event timestamp %q: %v", record.Events[i], err)
		}
		if cur.Before(prev) {
			t.Errorf("Events out of order: %q before %q", record.Events[i], record.Events[i-1])
		}
	}
}

func TestRecordWatchTitleHandling(t *testing.T) {
	st, cleanup := setupTestStore(t)
	defer cleanup()

	tests := []struct {
		name      string
		title     string
		wantTitle string
	}{
		{name: "initial title", title: "First Title", wantTitle: "First Title"},
		{name: "empty title retained", title: "", wantTitle: "First Title"},
		{name: "non-empty title overwrites", title: "Renamed", wantTitle: "Renamed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := st.RecordWatch("abc123", tt.title); err != nil {
				t.Fatalf("RecordWatch failed: %v", err)
			}
			record, err := st.GetRecord("abc123")
			if err != nil {
				t.Fatalf("GetRecord failed: %v", err)
			}
			if record.Title != tt.wantTitle {
				t.Errorf("Expected title %q, got %q", tt.wantTitle, record.Title)
			}
		})
	}
}

func TestRecordWatchEmptyVideoID(t *testing.T) {
	st, cleanup := setupTestStore(t)
	defer cleanup()

	if _, err := st.RecordWatch("", "title"); err == nil {
		t.Fatal("Expected error for empty video id, got nil")
	}
}

func TestRecordWatchUsesInjectedClock(t *testing.T) {
	st, cleanup := setupTestStore(t)
	defer cleanup()

	fixed := time.Date(2009, 2, 13, 23, 31, 30, 0, time.UTC)
	st.now = func() time.Time { return fixed }

	if _, err := st.RecordWatch("abc123", ""); err != nil {
		t.Fatalf("RecordWatch failed: %v", err)
	}

	record, err := st.GetRecord("abc123")
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if record.LastSeenAt != fixed.Format(time.RFC3339Nano) {
		t.Errorf("Expected lastSeenAt %q, got %q", fixed.Format(time.RFC3339Nano), record.LastSeenAt)
	}
}

func TestListRecordsSnapshot(t *testing.T) {
	st, cleanup := setupTestStore(t)
	defer cleanup()

	if _, err := st.RecordWatch("abc123", "Video A"); err != nil {
		t.Fatalf("RecordWatch failed: %v", err)
	}
	if _, err := st.RecordWatch("abc123", ""); err != nil {
		t.Fatalf("RecordWatch failed: %v", err)
	}
	if _, err := st.RecordWatch("def456", "Video B"); err != nil {
		t.Fatalf("RecordWatch failed: %v", err)
	}

	records, err := st.ListRecords()
	if err != nil {
		t.Fatalf("ListRecords failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}

	byID := map[string]models.WatchRecord{}
	for _, record := range records {
		byID[record.VideoID] = record
	}
	if byID["abc123"].WatchCount != 2 {
		t.Errorf("Expected abc123 watchCount 2, got %d", byID["abc123"].WatchCount)
	}
	if byID["def456"].WatchCount != 1 {
		t.Errorf("Expected def456 watchCount 1, got %d", byID["def456"].WatchCount)
	}
	if byID["abc123"].Title != "Video A" {
		t.Errorf("Expected title Video A, got %q", byID["abc123"].Title)
	}
}

func TestExportJSONMatchesListRecords(t *testing.T) {
	st, cleanup := setupTestStore(t)
	defer cleanup()

	for _, videoID := range []string{"abc123", "abc123", "def456"} {
		if _, err := st.RecordWatch(videoID, ""); err != nil {
			t.Fatalf("RecordWatch failed: %v", err)
		}
	}

	listed, err := st.ListRecords()
	if err != nil {
		t.Fatalf("ListRecords failed: %v", err)
	}
	exported, err := st.ExportJSON()
	if err != nil {
		t.Fatalf("ExportJSON failed: %v", err)
	}

	var parsed []models.WatchRecord
	if err := json.Unmarshal([]byte(exported), &parsed); err != nil {
		t.Fatalf("Failed to parse export: %v", err)
	}

	// Order is unspecified for both, compare as sets.
	sort.Slice(listed, func(i, j int) bool { return listed[i].VideoID < listed[j].VideoID })
	sort.Slice(parsed, func(i, j int) bool { return parsed[i].VideoID < parsed[j].VideoID })
	if !reflect.DeepEqual(listed, parsed) {
		t.Errorf("Export does not reproduce ListRecords:\nlist:   %+v\nexport: %+v", listed, parsed)
	}
}

func TestClear(t *testing.T) {
	st, cleanup := setupTestStore(t)
	defer cleanup()

	if _, err := st.RecordWatch("abc123", "Video A"); err != nil {
		t.Fatalf("RecordWatch failed: %v", err)
	}
	if err := st.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	record, err := st.GetRecord("abc123")
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if record != nil {
		t.Errorf("Expected nil record after clear, got %+v", record)
	}

	records, err := st.ListRecords()
	if err != nil {
		t.Fatalf("ListRecords failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("Expected 0 records after clear, got %d", len(records))
	}
}

func TestConcurrentRecordWatchSameItem(t *testing.T) {
	st, cleanup := setupTestStore(t)
	defer cleanup()

	const writers = 10
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := st.RecordWatch("abc123", ""); err != nil {
				t.Errorf("RecordWatch failed: %v", err)
			}
		}()
	}
	wg.Wait()

	record, err := st.GetRecord("abc123")
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if record.WatchCount != writers {
		t.Errorf("Expected %d watches after concurrent writes, got %d", writers, record.WatchCount)
	}
}
