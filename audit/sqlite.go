package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/layermesh/core"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists records in a SQLite database file.
type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

// NewSQLiteStore creates a store for the database at path. Call Init before use.
func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

// Init opens the database and creates the tables. It is idempotent.
func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}
	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

// RecordCostEvent implements Sink.
func (s *SQLiteStore) RecordCostEvent(ctx context.Context, e core.CostEvent) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO cost_events (endpoint, kind, spent, limit_value, window_start, at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.Endpoint, int(e.Kind), e.Spent, e.Limit, unixNano(e.WindowStart), unixNano(e.At))
	return err
}

// RecordResult implements Sink. Recording the same submission twice keeps
// the latest result.
func (s *SQLiteStore) RecordResult(ctx context.Context, r core.Result) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	outputs, err := json.Marshal(r.Outputs)
	if err != nil {
		return fmt.Errorf("encode outputs of %d: %w", r.SubmissionID, err)
	}
	reasons, err := json.Marshal(r.DropReasons)
	if err != nil {
		return fmt.Errorf("encode drop reasons of %d: %w", r.SubmissionID, err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO results (submission_id, entry, status, processed, expired, absorbed, dropped,
			drop_reasons, outputs, submitted_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(submission_id) DO UPDATE SET
			entry = excluded.entry,
			status = excluded.status,
			processed = excluded.processed,
			expired = excluded.expired,
			absorbed = excluded.absorbed,
			dropped = excluded.dropped,
			drop_reasons = excluded.drop_reasons,
			outputs = excluded.outputs,
			submitted_at = excluded.submitted_at,
			finished_at = excluded.finished_at
	`, int64(r.SubmissionID), string(r.Entry), int(r.Status), r.Processed, r.Expired, r.Absorbed, r.Dropped,
		reasons, outputs, unixNano(r.SubmittedAt), unixNano(r.FinishedAt))
	return err
}

// CostEvents implements Store.
func (s *SQLiteStore) CostEvents(ctx context.Context, endpoint string) ([]core.CostEvent, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT endpoint, kind, spent, limit_value, window_start, at
		FROM cost_events
		WHERE ? = '' OR endpoint = ?
		ORDER BY id
	`, endpoint, endpoint)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.CostEvent
	for rows.Next() {
		var (
			e           core.CostEvent
			kind        int
			windowStart int64
			at          int64
		)
		if err := rows.Scan(&e.Endpoint, &kind, &e.Spent, &e.Limit, &windowStart, &at); err != nil {
			return nil, err
		}
		e.Kind = core.CostEventKind(kind)
		e.WindowStart = fromUnixNano(windowStart)
		e.At = fromUnixNano(at)
		out = append(out, e)
	}
	return out, rows.Err()
}

const resultColumns = `submission_id, entry, status, processed, expired, absorbed, dropped,
	drop_reasons, outputs, submitted_at, finished_at`

// Result implements Store.
func (s *SQLiteStore) Result(ctx context.Context, id core.SignalID) (core.Result, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return core.Result{}, false, err
	}
	row := db.QueryRowContext(ctx, `SELECT `+resultColumns+` FROM results WHERE submission_id = ?`, int64(id))
	r, err := scanResult(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Result{}, false, nil
		}
		return core.Result{}, false, err
	}
	return r, true, nil
}

// Results implements Store.
func (s *SQLiteStore) Results(ctx context.Context, limit int) ([]core.Result, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.QueryContext(ctx, `
		SELECT `+resultColumns+`
		FROM results
		ORDER BY finished_at DESC, submission_id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Result
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	return s.db, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanResult(sc scanner) (core.Result, error) {
	var (
		r         core.Result
		id        int64
		entry     string
		status    int
		reasons   []byte
		outputs   []byte
		submitted int64
		finished  int64
	)
	if err := sc.Scan(&id, &entry, &status, &r.Processed, &r.Expired, &r.Absorbed, &r.Dropped,
		&reasons, &outputs, &submitted, &finished); err != nil {
		return core.Result{}, err
	}
	r.SubmissionID = core.SignalID(id)
	r.Entry = core.NodeID(entry)
	r.Status = core.Status(status)
	r.SubmittedAt = fromUnixNano(submitted)
	r.FinishedAt = fromUnixNano(finished)
	if err := json.Unmarshal(reasons, &r.DropReasons); err != nil {
		return core.Result{}, fmt.Errorf("decode drop reasons of %d: %w", id, err)
	}
	if err := json.Unmarshal(outputs, &r.Outputs); err != nil {
		return core.Result{}, fmt.Errorf("decode outputs of %d: %w", id, err)
	}
	return r, nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS cost_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			endpoint TEXT NOT NULL,
			kind INTEGER NOT NULL,
			spent REAL NOT NULL,
			limit_value REAL NOT NULL,
			window_start INTEGER NOT NULL,
			at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS cost_events_endpoint ON cost_events (endpoint);
		CREATE TABLE IF NOT EXISTS results (
			submission_id INTEGER PRIMARY KEY,
			entry TEXT NOT NULL,
			status INTEGER NOT NULL,
			processed INTEGER NOT NULL,
			expired INTEGER NOT NULL,
			absorbed INTEGER NOT NULL,
			dropped INTEGER NOT NULL,
			drop_reasons BLOB NOT NULL,
			outputs BLOB NOT NULL,
			submitted_at INTEGER NOT NULL,
			finished_at INTEGER NOT NULL
		);
	`)
	return err
}
