package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vishnuvardhanburri/Geospatial-AI-Analysis-Pipeline-SAM-PostGIS/internal/estimate"
	"github.com/vishnuvardhanburri/Geospatial-AI-Analysis-Pipeline-SAM-PostGIS/internal/scheduler"
)

// RecordTaskResult saves or updates the terminal state of a task.
// Uses ON CONFLICT to make saves idempotent.
func (s *SQLiteStore) RecordTaskResult(ctx context.Context, result scheduler.TaskResult) error {
	history, err := json.Marshal(result.History)
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}

	errorStr := ""
	if result.Err != nil {
		errorStr = result.Err.Error()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO task_runs (task_id, source_id, tenant_id, status, attempts, last_error, history, total_cost, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(task_id) DO UPDATE SET
			source_id = excluded.source_id,
			tenant_id = excluded.tenant_id,
			status = excluded.status,
			attempts = excluded.attempts,
			last_error = excluded.last_error,
			history = excluded.history,
			total_cost = excluded.total_cost,
			updated_at = CURRENT_TIMESTAMP
	`, result.Task.TaskID, result.Task.SourceID, result.Task.TenantID, result.Status.String(),
		result.Attempts, errorStr, string(history), estimate.Total(result.Estimates))
	if err != nil {
		return fmt.Errorf("failed to upsert task run: %w", err)
	}

	return nil
}

// GetTaskRun retrieves the audited state of a task.
// Returns an error wrapping ErrNotFound if the task was never recorded.
func (s *SQLiteStore) GetTaskRun(ctx context.Context, taskID string) (*TaskRun, error) {
	var (
		run     TaskRun
		status  string
		lastErr sql.NullString
		history sql.NullString
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT task_id, source_id, tenant_id, status, attempts, last_error, history, total_cost, updated_at
		FROM task_runs
		WHERE task_id = ?
	`, taskID).Scan(&run.Task.TaskID, &run.Task.SourceID, &run.Task.TenantID, &status,
		&run.Attempts, &lastErr, &history, &run.TotalCost, &run.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task run %s: %w", taskID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query task run: %w", err)
	}

	if run.Status, err = scheduler.ParseTaskStatus(status); err != nil {
		return nil, err
	}
	run.LastError = lastErr.String
	if history.Valid && history.String != "" {
		if err := json.Unmarshal([]byte(history.String), &run.History); err != nil {
			return nil, fmt.Errorf("failed to decode history: %w", err)
		}
	}

	return &run, nil
}
