package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/leapstack-labs/agrisim/pkg/core"
)

// timeFormat has fixed width so stored timestamps sort as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// RunSummary is one row of rebuild_runs.
type RunSummary struct {
	RunID       string         `json:"run_id"`
	Status      core.RunStatus `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// CreateRun records the start of a rebuild and returns its report.
func (s *Store) CreateRun(ctx context.Context) (*core.RunReport, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	report := core.NewRunReport(uuid.NewString(), time.Now().UTC())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rebuild_runs (run_id, status, started_at) VALUES (?, ?, ?)`,
		report.RunID, string(report.Status), report.StartedAt.Format(timeFormat),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return report, nil
}

// CompleteRun stores the final status and report of a run.
func (s *Store) CompleteRun(ctx context.Context, report *core.RunReport) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode run report: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE rebuild_runs SET status = ?, completed_at = ?, report = ? WHERE run_id = ?`,
		string(report.Status), report.CompletedAt.UTC().Format(timeFormat), string(data), report.RunID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", report.RunID, core.ErrNotFound)
	}
	return nil
}

// RecordIssues appends issues to a run, numbering them after existing ones.
func (s *Store) RecordIssues(ctx context.Context, runID string, issues []core.Issue) error {
	if len(issues) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var next int
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(seq), 0) FROM rebuild_issues WHERE run_id = ?`, runID).Scan(&next); err != nil {
			return fmt.Errorf("failed to read issue sequence: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO rebuild_issues
			(run_id, seq, source, table_name, kind, line, raw_name, message)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare issue insert: %w", err)
		}
		defer func() { _ = stmt.Close() }()
		for _, is := range issues {
			next++
			if _, err := stmt.ExecContext(ctx, runID, next, is.Source, is.Table, string(is.Kind), is.Line, is.RawName, is.Message); err != nil {
				return fmt.Errorf("failed to record issue: %w", err)
			}
		}
		return nil
	})
}

// RunIssues returns the recorded issues of a run in order.
func (s *Store) RunIssues(ctx context.Context, runID string) ([]core.Issue, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	rows, err := s.db.QueryContext(ctx, `SELECT source, table_name, kind, line, raw_name, message
		FROM rebuild_issues WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list issues: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []core.Issue
	for rows.Next() {
		var is core.Issue
		var kind string
		if err := rows.Scan(&is.Source, &is.Table, &kind, &is.Line, &is.RawName, &is.Message); err != nil {
			return nil, fmt.Errorf("failed to scan issue: %w", err)
		}
		is.Kind = core.ErrorKind(kind)
		out = append(out, is)
	}
	return out, rows.Err()
}

// LatestRun returns the report of the most recently started finished run.
func (s *Store) LatestRun(ctx context.Context) (*core.RunReport, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT report FROM rebuild_runs
		WHERE report IS NOT NULL ORDER BY started_at DESC, run_id DESC LIMIT 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no completed rebuild: %w", core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read latest run: %w", err)
	}
	var report core.RunReport
	if err := json.Unmarshal([]byte(data), &report); err != nil {
		return nil, fmt.Errorf("failed to decode run report: %w", err)
	}
	return &report, nil
}

// ListRuns returns up to limit runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT run_id, status, started_at, completed_at
		FROM rebuild_runs ORDER BY started_at DESC, run_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []RunSummary
	for rows.Next() {
		var (
			r         RunSummary
			status    string
			started   string
			completed sql.NullString
		)
		if err := rows.Scan(&r.RunID, &status, &started, &completed); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.Status = core.RunStatus(status)
		if r.StartedAt, err = time.Parse(timeFormat, started); err != nil {
			return nil, fmt.Errorf("run %s: bad started_at: %w", r.RunID, err)
		}
		if completed.Valid {
			t, err := time.Parse(timeFormat, completed.String)
			if err != nil {
				return nil, fmt.Errorf("run %s: bad completed_at: %w", r.RunID, err)
			}
			r.CompletedAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
