// Package eventstore persists crossing events and job completion summaries
// to sqlite3, with an on-disk journal fallback so a storage outage never
// rewinds an in-memory counter (SPEC_FULL §7: journal, never roll back).
package eventstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/metrics"
	"github.com/Md-Abu-Omayer-Babu/Rickshaw-Detector-AI/internal/types"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// JobCompletion summarizes a job at terminal phase.
type JobCompletion struct {
	JobID       string
	CameraID    string
	Kind        types.JobKind
	Source      string
	EntryCount  uint64
	ExitCount   uint64
	NetCount    int64
	FinalPhase  types.Phase
	Error       string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// EventFilter narrows a QueryEvents call. Zero values mean "no filter" for
// that field.
type EventFilter struct {
	CameraID  string
	Direction types.Direction
	Since     time.Time
	Until     time.Time
	Limit     int
}

// EventStore records crossing events and job completions durably.
type EventStore interface {
	RecordEvent(ctx context.Context, jobID string, ev types.CrossingEvent) error
	RecordCompletion(ctx context.Context, c JobCompletion) error
	ReadEvents(ctx context.Context, jobID string, limit int) ([]types.CrossingEvent, error)
	QueryEvents(ctx context.Context, filter EventFilter) ([]types.CrossingEvent, error)
	Close() error
}

// SQLiteStore is the default EventStore, backed by database/sql +
// mattn/go-sqlite3, migrated on Open via embedded goose migrations. Any
// write that fails after the in-memory counters have already advanced is
// appended to a newline-delimited-JSON journal instead of being discarded,
// so operators can replay it later without ever rolling back a counter that
// already reported success upstream.
type SQLiteStore struct {
	db          *sql.DB
	log         *slog.Logger
	journalPath string
	journalMu   sync.Mutex
	metrics     *metrics.Metrics
}

// SetMetrics attaches a metrics sink; StoreErrors increments on every
// journal fallback. Optional — a nil sink (the default) disables telemetry.
func (s *SQLiteStore) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// Open connects to the sqlite3 file at path, running embedded migrations,
// and returns a ready SQLiteStore.
func Open(path string, journalPath string, log *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("eventstore: open sqlite3: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("eventstore: ping sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite3 driver: single writer avoids SQLITE_BUSY under our own load
	db.SetMaxIdleConns(1)

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return nil, fmt.Errorf("eventstore: set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return nil, fmt.Errorf("eventstore: run migrations: %w", err)
	}

	return &SQLiteStore{db: db, log: log, journalPath: journalPath}, nil
}

const storeMaxAttempts = 3

// RecordEvent inserts a single crossing event, trying up to storeMaxAttempts
// times in all with exponential backoff between tries. On exhaustion it
// journals the event to disk and returns the journal write's error (nil when
// the journal write succeeds): the caller's counters have already incremented
// and must not be reversed by a downstream storage hiccup.
func (s *SQLiteStore) RecordEvent(ctx context.Context, jobID string, ev types.CrossingEvent) error {
	var err error
	for attempt := 1; attempt <= storeMaxAttempts; attempt++ {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO crossing_events
				(job_id, camera_id, line_id, track_id, direction, frame_index, confidence, bbox_x1, bbox_y1, bbox_x2, bbox_y2, occurred_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			jobID, ev.CameraID, ev.LineID, ev.TrackID, string(ev.Direction), ev.FrameIndex, ev.Confidence,
			ev.BBox.X1, ev.BBox.Y1, ev.BBox.X2, ev.BBox.Y2, ev.Timestamp,
		)
		if err == nil {
			return nil
		}
		if attempt < storeMaxAttempts {
			time.Sleep(storeBackoff(attempt))
		}
	}
	s.log.Error("eventstore: insert failed after retries, journaling", "error", err, "track_id", ev.TrackID)
	if s.metrics != nil {
		s.metrics.StoreErrors.Inc()
	}
	return s.journal("crossing_event", struct {
		JobID string
		types.CrossingEvent
	}{jobID, ev})
}

func storeBackoff(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt-1)) * 10 * time.Millisecond
}

// RecordCompletion upserts the terminal summary for a job.
func (s *SQLiteStore) RecordCompletion(ctx context.Context, c JobCompletion) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_completions
			(job_id, camera_id, kind, source, entry_count, exit_count, net_count, final_phase, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			entry_count=excluded.entry_count, exit_count=excluded.exit_count, net_count=excluded.net_count,
			final_phase=excluded.final_phase, error=excluded.error, finished_at=excluded.finished_at`,
		c.JobID, c.CameraID, string(c.Kind), c.Source, c.EntryCount, c.ExitCount, c.NetCount,
		string(c.FinalPhase), c.Error, c.StartedAt, c.FinishedAt,
	)
	if err != nil {
		s.log.Error("eventstore: completion insert failed, journaling", "error", err, "job_id", c.JobID)
		if s.metrics != nil {
			s.metrics.StoreErrors.Inc()
		}
		return s.journal("job_completion", c)
	}
	return nil
}

// ReadEvents returns up to limit crossing events for a job, most recent
// first. limit <= 0 means no limit.
func (s *SQLiteStore) ReadEvents(ctx context.Context, jobID string, limit int) ([]types.CrossingEvent, error) {
	query := `SELECT camera_id, line_id, track_id, direction, frame_index, confidence, bbox_x1, bbox_y1, bbox_x2, bbox_y2, occurred_at
		FROM crossing_events WHERE job_id = ? ORDER BY occurred_at DESC`
	args := []any{jobID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("eventstore: query events: %w", err)
	}
	defer rows.Close()

	var out []types.CrossingEvent
	for rows.Next() {
		var ev types.CrossingEvent
		var direction string
		if err := rows.Scan(&ev.CameraID, &ev.LineID, &ev.TrackID, &direction, &ev.FrameIndex, &ev.Confidence,
			&ev.BBox.X1, &ev.BBox.Y1, &ev.BBox.X2, &ev.BBox.Y2, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("eventstore: scan event row: %w", err)
		}
		ev.Direction = types.Direction(direction)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// QueryEvents returns crossing events across all jobs matching filter, most
// recent first, backing the GET /events read-only projection.
func (s *SQLiteStore) QueryEvents(ctx context.Context, filter EventFilter) ([]types.CrossingEvent, error) {
	query := `SELECT camera_id, line_id, track_id, direction, frame_index, confidence, bbox_x1, bbox_y1, bbox_x2, bbox_y2, occurred_at
		FROM crossing_events WHERE 1=1`
	var args []any

	if filter.CameraID != "" {
		query += " AND camera_id = ?"
		args = append(args, filter.CameraID)
	}
	if filter.Direction != "" {
		query += " AND direction = ?"
		args = append(args, string(filter.Direction))
	}
	if !filter.Since.IsZero() {
		query += " AND occurred_at >= ?"
		args = append(args, filter.Since)
	}
	if !filter.Until.IsZero() {
		query += " AND occurred_at <= ?"
		args = append(args, filter.Until)
	}
	query += " ORDER BY occurred_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("eventstore: query events: %w", err)
	}
	defer rows.Close()

	var out []types.CrossingEvent
	for rows.Next() {
		var ev types.CrossingEvent
		var direction string
		if err := rows.Scan(&ev.CameraID, &ev.LineID, &ev.TrackID, &direction, &ev.FrameIndex, &ev.Confidence,
			&ev.BBox.X1, &ev.BBox.Y1, &ev.BBox.X2, &ev.BBox.Y2, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("eventstore: scan event row: %w", err)
		}
		ev.Direction = types.Direction(direction)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// journal appends a failed write to the on-disk newline-delimited-JSON
// journal for later manual replay.
func (s *SQLiteStore) journal(kind string, payload any) error {
	if s.journalPath == "" {
		return nil
	}
	s.journalMu.Lock()
	defer s.journalMu.Unlock()

	f, err := os.OpenFile(s.journalPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("eventstore: open journal: %w", err)
	}
	defer f.Close()

	line := struct {
		Kind      string    `json:"kind"`
		Payload   any       `json:"payload"`
		LoggedAt  time.Time `json:"logged_at"`
	}{Kind: kind, Payload: payload, LoggedAt: time.Now()}

	enc, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("eventstore: marshal journal entry: %w", err)
	}
	if _, err := f.Write(append(enc, '\n')); err != nil {
		return fmt.Errorf("eventstore: write journal entry: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
