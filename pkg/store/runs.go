package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// RunStatus is the lifecycle state of an ingest run row.
type RunStatus string

const (
	RunRunning        RunStatus = "running"
	RunSuccess        RunStatus = "success"
	RunPartialFailure RunStatus = "partial_failure"
	RunFailed         RunStatus = "failed"
)

// Run is one row of ingest_runs.
type Run struct {
	ID            string          `json:"ingest_run_id"`
	StartedAt     time.Time       `json:"started_at_utc"`
	FinishedAt    *time.Time      `json:"finished_at_utc,omitempty"`
	Status        RunStatus       `json:"status"`
	SourceRoot    string          `json:"source_root"`
	EventsRead    int             `json:"events_read"`
	EventsWritten int             `json:"events_written"`
	WarningsCount int             `json:"warnings_count"`
	ErrorsCount   int             `json:"errors_count"`
	ErrorSummary  json.RawMessage `json:"error_summary"`
}

// RunOutcome is the terminal state written by FinalizeRun.
type RunOutcome struct {
	Status        RunStatus
	FinishedAt    time.Time
	EventsRead    int
	EventsWritten int
	WarningsCount int
	ErrorsCount   int
	// ErrorSummary is a JSON object; empty means {}.
	ErrorSummary json.RawMessage
}

// ErrorSummary builds the {"message": ...} summary stored on failed runs.
func ErrorSummary(err error) json.RawMessage {
	b, _ := json.Marshal(map[string]string{"message": err.Error()})
	return b
}

// StartRun inserts a running row before any event is written.
func (s *Store) StartRun(ctx context.Context, id, sourceRoot string, startedAt time.Time, eventsRead, warnings int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ingest_runs (ingest_run_id, started_at_utc, status, source_root,
			events_read, events_written, warnings_count, errors_count, error_summary_json)
		VALUES ($1, $2, 'running', $3, $4, 0, $5, 0, '{}')`,
		id, FormatTime(startedAt), sourceRoot, eventsRead, warnings,
	)
	if err != nil {
		return fmt.Errorf("failed to insert ingest run start row %s: %w", id, err)
	}
	return nil
}

// FinalizeRun moves a running row to its terminal state. A run is
// finalized at most once: rows no longer running are left untouched and
// ErrRunFinalized is returned.
func (s *Store) FinalizeRun(ctx context.Context, id string, out RunOutcome) error {
	summary := string(out.ErrorSummary)
	if summary == "" {
		summary = "{}"
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE ingest_runs
		SET finished_at_utc = $2,
			status = $3,
			events_read = $4,
			events_written = $5,
			warnings_count = $6,
			errors_count = $7,
			error_summary_json = $8
		WHERE ingest_run_id = $1 AND status = 'running'`,
		id, FormatTime(out.FinishedAt), string(out.Status),
		out.EventsRead, out.EventsWritten, out.WarningsCount, out.ErrorsCount, summary,
	)
	if err != nil {
		return fmt.Errorf("failed to finalize ingest run row %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to finalize ingest run row %s: %w", id, err)
	}
	if n == 1 {
		return nil
	}
	if _, err := s.GetRun(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", ErrRunFinalized, id)
}

const runColumns = `ingest_run_id, started_at_utc, finished_at_utc, status, source_root,
	events_read, events_written, warnings_count, errors_count, error_summary_json`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		r        Run
		started  string
		finished sql.NullString
		status   string
		summary  string
	)
	if err := row.Scan(&r.ID, &started, &finished, &status, &r.SourceRoot,
		&r.EventsRead, &r.EventsWritten, &r.WarningsCount, &r.ErrorsCount, &summary); err != nil {
		return Run{}, err
	}
	r.Status = RunStatus(status)
	r.StartedAt = parseTime(started)
	if finished.Valid {
		t := parseTime(finished.String)
		r.FinishedAt = &t
	}
	r.ErrorSummary = json.RawMessage(summary)
	return r, nil
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// GetRun loads one run by id.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM ingest_runs WHERE ingest_run_id = $1`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load ingest run %s: %w", id, err)
	}
	return &r, nil
}

// ListRuns returns the most recent runs first. A limit of zero or less
// returns every run.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM ingest_runs ORDER BY started_at_utc DESC, ingest_run_id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list ingest runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ingest run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// OrphanedRunSummary is stored on runs closed by ReconcileOrphanedRuns.
var OrphanedRunSummary = json.RawMessage(`{"message":"orphaned running row reconciled"}`)

// ReconcileOrphanedRuns marks every row still running as failed. Only call
// it when no ingestion is in progress against this store.
func (s *Store) ReconcileOrphanedRuns(ctx context.Context, finishedAt time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ingest_run_id FROM ingest_runs WHERE status = 'running' ORDER BY started_at_utc, ingest_run_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list running ingest runs: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		_, err := s.db.ExecContext(ctx, `
			UPDATE ingest_runs
			SET finished_at_utc = $2, status = 'failed', errors_count = errors_count + 1,
				error_summary_json = $3
			WHERE ingest_run_id = $1 AND status = 'running'`,
			id, FormatTime(finishedAt), string(OrphanedRunSummary),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to reconcile ingest run %s: %w", id, err)
		}
		s.logger.WarnContext(ctx, "reconciled orphaned ingest run", "ingest_run_id", id)
	}
	return ids, nil
}
