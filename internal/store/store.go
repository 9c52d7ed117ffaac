package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // CGO-free SQLite

	"watchtrackd/internal/models"
)

const schemaVersion = 1

// Schema for the watch-tracking store. Counts are never stored: watch_events
// is the append-only log and watchCount is derived from it on every read.
const schema = `
CREATE TABLE IF NOT EXISTS schema_info(
  version INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS videos(
  video_id      TEXT PRIMARY KEY,
  title         TEXT NOT NULL DEFAULT '',
  last_seen_utc INTEGER,
  last_seen_iso TEXT
);
CREATE TABLE IF NOT EXISTS watch_events(
  id       INTEGER PRIMARY KEY,
  video_id TEXT NOT NULL REFERENCES videos(video_id),
  ts_utc   INTEGER NOT NULL,
  ts_iso   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_watch_events_video ON watch_events(video_id, id);
`

// Store is the durable aggregation store: one WatchRecord per video id,
// backed by an append-only event log.
type Store struct {
	db  *sql.DB
	now func() time.Time

	mu        sync.Mutex
	itemLocks map[string]*sync.Mutex
}

// Open opens or creates the SQLite database at the given path and applies the
// schema on first run.
func Open(databasePath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(databasePath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// WAL + busy timeout to avoid "database is locked"
	db, err := sql.Open("sqlite", databasePath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		db:        db,
		now:       time.Now,
		itemLocks: make(map[string]*sync.Mutex),
	}, nil
}

func createTables(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create database tables: %w", err)
	}
	if _, err := db.Exec(
		`INSERT INTO schema_info(version) SELECT ? WHERE NOT EXISTS (SELECT 1 FROM schema_info)`,
		schemaVersion,
	); err != nil {
		return fmt.Errorf("failed to write schema version: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// itemLock returns the mutex serializing read-modify-write cycles for one
// video id. SQLite serializes individual statements but not the whole
// load/append/count cycle, so the per-item lock carries that contract.
func (s *Store) itemLock(videoID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.itemLocks[videoID]
	if !ok {
		l = &sync.Mutex{}
		s.itemLocks[videoID] = l
	}
	return l
}

// GetRecord returns the record for the given video id, or nil if the video
// has never been watched. A nil record is a distinct state from a record
// with zero events; callers must not treat it as a confirmed zero.
func (s *Store) GetRecord(videoID string) (*models.WatchRecord, error) {
	if videoID == "" {
		return nil, fmt.Errorf("video id cannot be empty")
	}

	record := models.WatchRecord{VideoID: videoID, Events: []string{}}
	err := s.db.QueryRow(`SELECT title FROM videos WHERE video_id = ?`, videoID).Scan(&record.Title)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load video: %w", err)
	}

	rows, err := s.db.Query(`SELECT ts_iso FROM watch_events WHERE video_id = ? ORDER BY id`, videoID)
	if err != nil {
		return nil, fmt.Errorf("failed to load watch events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ts string
		if err := rows.Scan(&ts); err != nil {
			return nil, fmt.Errorf("failed to scan watch event: %w", err)
		}
		record.Events = append(record.Events, ts)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read watch events: %w", err)
	}

	record.WatchCount = len(record.Events)
	if record.WatchCount > 0 {
		record.LastSeenAt = record.Events[record.WatchCount-1]
	}
	return &record, nil
}

// RecordWatch appends one watch event for the video at the current wall-clock
// time and returns the new count, which always reflects the just-appended
// event. A non-empty title replaces the stored one; an empty title retains it.
//
// Atomicity within one process comes from the per-item lock plus the
// transaction; two agent processes sharing a database file are serialized by
// SQLite's WAL busy handling instead.
func (s *Store) RecordWatch(videoID, title string) (int, error) {
	if videoID == "" {
		return 0, fmt.Errorf("video id cannot be empty")
	}

	lock := s.itemLock(videoID)
	lock.Lock()
	defer lock.Unlock()

	now := s.now().UTC()
	tsUTC := now.UnixMilli()
	tsISO := now.Format(time.RFC3339Nano)

	transaction, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}

	_, err = transaction.Exec(`
		INSERT INTO videos(video_id, title, last_seen_utc, last_seen_iso) VALUES(?,?,?,?)
		ON CONFLICT(video_id) DO UPDATE SET
		  title         = CASE WHEN excluded.title != '' THEN excluded.title ELSE videos.title END,
		  last_seen_utc = excluded.last_seen_utc,
		  last_seen_iso = excluded.last_seen_iso`,
		videoID, title, tsUTC, tsISO)
	if err != nil {
		_ = transaction.Rollback()
		return 0, fmt.Errorf("failed to upsert video: %w", err)
	}

	if _, err := transaction.Exec(
		`INSERT INTO watch_events(video_id, ts_utc, ts_iso) VALUES(?,?,?)`,
		videoID, tsUTC, tsISO,
	); err != nil {
		_ = transaction.Rollback()
		return 0, fmt.Errorf("failed to append watch event: %w", err)
	}

	var count int
	if err := transaction.QueryRow(
		`SELECT COUNT(*) FROM watch_events WHERE video_id = ?`, videoID,
	).Scan(&count); err != nil {
		_ = transaction.Rollback()
		return 0, fmt.Errorf("failed to count watch events: %w", err)
	}

	if err := transaction.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return count, nil
}

// ListRecords returns a snapshot of every record. Order is unspecified.
func (s *Store) ListRecords() ([]models.WatchRecord, error) {
	rows, err := s.db.Query(`
		SELECT v.video_id, v.title, e.ts_iso
		FROM videos v LEFT JOIN watch_events e ON e.video_id = v.video_id
		ORDER BY v.video_id, e.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list videos: %w", err)
	}
	defer rows.Close()

	records := []models.WatchRecord{}
	index := map[string]int{}
	for rows.Next() {
		var videoID, title string
		var ts sql.NullString
		if err := rows.Scan(&videoID, &title, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan video row: %w", err)
		}
		i, ok := index[videoID]
		if !ok {
			i = len(records)
			index[videoID] = i
			records = append(records, models.WatchRecord{VideoID: videoID, Title: title, Events: []string{}})
		}
		if ts.Valid {
			records[i].Events = append(records[i].Events, ts.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read video rows: %w", err)
	}

	for i := range records {
		records[i].WatchCount = len(records[i].Events)
		if records[i].WatchCount > 0 {
			records[i].LastSeenAt = records[i].Events[records[i].WatchCount-1]
		}
	}
	return records, nil
}

// ExportJSON serializes the ListRecords snapshot.
func (s *Store) ExportJSON() (string, error) {
	records, err := s.ListRecords()
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(records)
	if err != nil {
		return "", fmt.Errorf("failed to marshal records: %w", err)
	}
	return string(data), nil
}

// Clear deletes every record and its events. Administrative operation, not
// part of the message protocol.
func (s *Store) Clear() error {
	transaction, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if _, err := transaction.Exec(`DELETE FROM watch_events`); err != nil {
		_ = transaction.Rollback()
		return fmt.Errorf("failed to clear watch events: %w", err)
	}
	if _, err := transaction.Exec(`DELETE FROM videos`); err != nil {
		_ = transaction.Rollback()
		return fmt.Errorf("failed to clear videos: %w", err)
	}
	if err := transaction.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
