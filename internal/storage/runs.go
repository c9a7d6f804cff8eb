package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/instrument-sync/internal/domain"
)

// runColumns must match scanRun
const runColumns = `id, trigger_kind, selector, day_of_month, jobs, status, error, results, started_at, COALESCE(finished_at, 0)`

const saveRunSQL = `
	INSERT INTO runs
	(id, trigger_kind, selector, day_of_month, jobs, status, error, results, started_at, finished_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		status = excluded.status,
		error = excluded.error,
		results = excluded.results,
		finished_at = excluded.finished_at
`

// SaveRun inserts the run or updates its outcome when it already exists
func (s *Store) SaveRun(ctx context.Context, run domain.RunRecord) error {
	if run.ID == "" {
		return fmt.Errorf("run: %w", errMissingKey)
	}

	jobs := make([]string, len(run.Jobs))
	for i, j := range run.Jobs {
		jobs[i] = string(j)
	}

	results := run.Results
	if results == nil {
		results = []domain.JobResult{}
	}
	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("failed to encode run results: %w", err)
	}

	var finishedAt any
	if run.FinishedAt != nil {
		finishedAt = run.FinishedAt.UnixMilli()
	}

	err = s.q.exec(ctx, saveRunSQL,
		run.ID,
		string(run.Trigger),
		run.Selector,
		run.DayOfMonth,
		strings.Join(jobs, ","),
		string(run.Status),
		run.Error,
		string(resultsJSON),
		run.StartedAt.UnixMilli(),
		finishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.ID, err)
	}
	return nil
}

// GetRun returns one run by id
func (s *Store) GetRun(ctx context.Context, id string) (domain.RunRecord, error) {
	row := s.q.queryRow(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", id)
	run, err := scanRun(row)
	if isNoRows(err) {
		return domain.RunRecord{}, ErrRunNotFound
	}
	if err != nil {
		return domain.RunRecord{}, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	return run, nil
}

// RecentRuns returns up to limit runs, newest first
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]domain.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.q.query(ctx, "SELECT "+runColumns+" FROM runs ORDER BY started_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]domain.RunRecord, 0, limit)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

func scanRun(row rowScanner) (domain.RunRecord, error) {
	var (
		run        domain.RunRecord
		trigger    string
		status     string
		jobs       string
		results    string
		startedAt  int64
		finishedAt int64
		dayOfMonth int64
	)

	err := row.Scan(
		&run.ID,
		&trigger,
		&run.Selector,
		&dayOfMonth,
		&jobs,
		&status,
		&run.Error,
		&results,
		&startedAt,
		&finishedAt,
	)
	if err != nil {
		return domain.RunRecord{}, err
	}

	run.Trigger = domain.TriggerKind(trigger)
	run.Status = domain.RunStatus(status)
	run.DayOfMonth = int(dayOfMonth)
	run.StartedAt = time.UnixMilli(startedAt).UTC()
	if finishedAt > 0 {
		t := time.UnixMilli(finishedAt).UTC()
		run.FinishedAt = &t
	}

	run.Jobs = []domain.JobName{}
	if jobs != "" {
		for _, j := range strings.Split(jobs, ",") {
			run.Jobs = append(run.Jobs, domain.JobName(j))
		}
	}

	if err := json.Unmarshal([]byte(results), &run.Results); err != nil {
		return domain.RunRecord{}, fmt.Errorf("failed to decode results of run %s: %w", run.ID, err)
	}

	return run, nil
}
