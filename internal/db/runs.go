package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/roomview/internal/capture"
	"github.com/banshee-data/roomview/internal/export"
	"github.com/banshee-data/roomview/internal/timeutil"
	"github.com/banshee-data/roomview/internal/viewer"
)

// ErrRunNotFound is returned when a run id has no row.
var ErrRunNotFound = errors.New("capture run not found")

// Run is one row of the capture run history.
type Run struct {
	ID         string     `json:"run_id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	State      string     `json:"state"`
	Error      string     `json:"error,omitempty"`
	RoomCount  int        `json:"room_count"`
}

// RunStore persists capture runs and their exported results. It records run
// lifecycle events for the orchestrator and acts as an export sink.
type RunStore struct {
	db    *sql.DB
	clock timeutil.Clock
}

// NewRunStore creates a RunStore over db.
func NewRunStore(db *sql.DB) *RunStore {
	return &RunStore{db: db, clock: timeutil.RealClock{}}
}

// CreateRun inserts a run. If run.ID is empty, a new UUID is generated.
func (s *RunStore) CreateRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = s.clock.Now()
	}
	if run.State == "" {
		run.State = capture.StateIdle.String()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO capture_runs (run_id, started_at_ns, state, error, room_count)
		VALUES (?, ?, ?, ?, ?)
	`, run.ID, run.StartedAt.UnixNano(), run.State, run.Error, run.RoomCount)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by id.
func (s *RunStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, started_at_ns, finished_at_ns, state, error, room_count
		FROM capture_runs
		WHERE run_id = ?
	`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs first. A limit <= 0 returns all.
func (s *RunStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, started_at_ns, finished_at_ns, state, error, room_count
		FROM capture_runs
		ORDER BY started_at_ns DESC, run_id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var startedNs int64
	var finishedNs sql.NullInt64
	if err := row.Scan(&run.ID, &startedNs, &finishedNs, &run.State, &run.Error, &run.RoomCount); err != nil {
		return nil, err
	}
	run.StartedAt = time.Unix(0, startedNs).UTC()
	if finishedNs.Valid {
		t := time.Unix(0, finishedNs.Int64).UTC()
		run.FinishedAt = &t
	}
	return &run, nil
}

// RunStarted implements capture.Recorder.
func (s *RunStore) RunStarted(ctx context.Context, runID string, at time.Time) error {
	return s.CreateRun(ctx, &Run{ID: runID, StartedAt: at, State: capture.StatePlanning.String()})
}

// RunFinished implements capture.Recorder.
func (s *RunStore) RunFinished(ctx context.Context, runID string, state capture.State, at time.Time, runErr error) error {
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE capture_runs
		SET finished_at_ns = ?, state = ?, error = ?
		WHERE run_id = ?
	`, at.UnixNano(), state.String(), msg, runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

// Name implements export.Sink.
func (s *RunStore) Name() string { return "runstore" }

// WriteDataset implements export.Sink. It replaces any results previously
// stored for the run and creates the run row if the recorder never did.
func (s *RunStore) WriteDataset(ctx context.Context, ds export.Dataset) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO capture_runs (run_id, started_at_ns, state, room_count)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (run_id) DO UPDATE SET room_count = excluded.room_count
	`, ds.RunID, s.clock.Now().UnixNano(), capture.StateDone.String(), len(ds.Results))
	if err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM capture_results WHERE run_id = ?`, ds.RunID); err != nil {
		return fmt.Errorf("clear results: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO capture_results (run_id, ordinal, room_name, visible_ids, properties, error)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare result insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range ds.Results {
		ids, err := json.Marshal(nonNilIDs(r.DbIDsInView))
		if err != nil {
			return fmt.Errorf("marshal ids of %q: %w", r.Name, err)
		}
		props, err := json.Marshal(nonNilRecords(r.Properties))
		if err != nil {
			return fmt.Errorf("marshal properties of %q: %w", r.Name, err)
		}
		if _, err := stmt.ExecContext(ctx, ds.RunID, i, r.Name, string(ids), string(props), r.Error); err != nil {
			return fmt.Errorf("insert result %q: %w", r.Name, err)
		}
	}
	return tx.Commit()
}

// Results returns the stored results of a run in export order.
func (s *RunStore) Results(ctx context.Context, runID string) ([]capture.Result, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT room_name, visible_ids, properties, error
		FROM capture_results
		WHERE run_id = ?
		ORDER BY ordinal
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	out := []capture.Result{}
	for rows.Next() {
		var r capture.Result
		var ids, props string
		if err := rows.Scan(&r.Name, &ids, &props, &r.Error); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		if err := json.Unmarshal([]byte(ids), &r.DbIDsInView); err != nil {
			return nil, fmt.Errorf("decode ids of %q: %w", r.Name, err)
		}
		if err := json.Unmarshal([]byte(props), &r.Properties); err != nil {
			return nil, fmt.Errorf("decode properties of %q: %w", r.Name, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func nonNilIDs(ids []viewer.ObjectID) []viewer.ObjectID {
	if ids == nil {
		return []viewer.ObjectID{}
	}
	return ids
}

func nonNilRecords(recs []viewer.PropertyRecord) []viewer.PropertyRecord {
	if recs == nil {
		return []viewer.PropertyRecord{}
	}
	return recs
}

var (
	_ capture.Recorder = (*RunStore)(nil)
	_ export.Sink      = (*RunStore)(nil)
)
