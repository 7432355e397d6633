package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/avriley/syncopate/internal/models"
	"github.com/avriley/syncopate/internal/shared"
)

// JobRepository persists use-case results so past imports and syncs can be
// inspected later.
type JobRepository struct {
	dbtx DBTX
}

// SaveResult upserts the bookkeeping row for a result, keyed by batch id.
func (r *JobRepository) SaveResult(ctx context.Context, result *models.OperationResult) error {
	if result.BatchID == "" {
		return fmt.Errorf("%w: result has no batch id", models.ErrInvalidModel)
	}

	status := "completed"
	switch {
	case result.Cancelled:
		status = "cancelled"
	case !result.Success:
		status = "failed"
	}

	details, err := models.MarshalAttributes(result.Details)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	_, err = r.dbtx.ExecContext(ctx, `
		INSERT INTO import_jobs
			(batch_id, operation, service, strategy, status, processed, imported, exported, skipped, errors, error_messages, details, started_at, finished_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (batch_id) DO UPDATE SET
			status = excluded.status,
			processed = excluded.processed,
			imported = excluded.imported,
			exported = excluded.exported,
			skipped = excluded.skipped,
			errors = excluded.errors,
			error_messages = excluded.error_messages,
			details = excluded.details,
			finished_at = excluded.finished_at,
			updated_at = excluded.updated_at
	`, result.BatchID, result.Operation, result.Service, result.Strategy, status,
		result.Processed, result.Imported, result.Exported, result.Skipped,
		len(result.Errors), strings.Join(result.Errors, "\n"), details,
		result.StartedAt, nullTimeValue(result.FinishedAt), now, now)
	if err != nil {
		return fmt.Errorf("failed to save job result: %w", err)
	}
	return nil
}

// GetByBatch loads a past result by batch id, or [shared.ErrNotFound].
func (r *JobRepository) GetByBatch(ctx context.Context, batchID string) (*models.OperationResult, error) {
	row := r.dbtx.QueryRowContext(ctx, `
		SELECT batch_id, operation, service, strategy, status, processed, imported, exported, skipped, error_messages, details, started_at, finished_at
		FROM import_jobs WHERE batch_id = ? AND deleted_at IS NULL
	`, batchID)

	result, err := scanJob(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: job %s", shared.ErrNotFound, batchID)
	}
	return result, err
}

// List returns past results newest first, up to limit (0 means all).
func (r *JobRepository) List(ctx context.Context, limit int) ([]*models.OperationResult, error) {
	query := `
		SELECT batch_id, operation, service, strategy, status, processed, imported, exported, skipped, error_messages, details, started_at, finished_at
		FROM import_jobs WHERE deleted_at IS NULL ORDER BY started_at DESC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.dbtx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var results []*models.OperationResult
	for rows.Next() {
		result, err := scanJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

func scanJob(scan func(...any) error) (*models.OperationResult, error) {
	var (
		batchID     string
		operation   string
		service     string
		strategy    sql.NullString
		status      string
		processed   int
		imported    int
		exported    int
		skipped     int
		errorText   sql.NullString
		detailsText sql.NullString
		startedAt   time.Time
		finishedAt  sql.NullTime
	)

	err := scan(&batchID, &operation, &service, &strategy, &status,
		&processed, &imported, &exported, &skipped, &errorText, &detailsText,
		&startedAt, &finishedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}

	details, err := models.UnmarshalAttributes(detailsText.String)
	if err != nil {
		return nil, err
	}

	result := &models.OperationResult{
		Operation: operation,
		Service:   service,
		Strategy:  strategy.String,
		BatchID:   batchID,
		Success:   status == "completed",
		Cancelled: status == "cancelled",
		Processed: processed,
		Imported:  imported,
		Exported:  exported,
		Skipped:   skipped,
		Details:   details,
		StartedAt: startedAt.UTC(),
	}
	if errorText.Valid && errorText.String != "" {
		result.Errors = strings.Split(errorText.String, "\n")
	}
	if finishedAt.Valid {
		result.FinishedAt = finishedAt.Time.UTC()
	}
	return result, nil
}
