package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/avriley/syncopate/internal/models"
	"github.com/avriley/syncopate/internal/shared"
)

// CheckpointRepository persists incremental-sync cursors keyed by
// (user, service, entity type). Saves never move a checkpoint backwards;
// rewinding for a full re-import goes through Reset.
type CheckpointRepository struct {
	dbtx DBTX
}

const checkpointColumns = "id, user_id, service, entity_type, last_timestamp, cursor, created_at, updated_at, deleted_at"

// Get loads one checkpoint, or [shared.ErrNotFound] when the feed has never
// been synced.
func (r *CheckpointRepository) Get(ctx context.Context, userID int64, service, entityType string) (*models.SyncCheckpoint, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM sync_checkpoints
		WHERE user_id = ? AND service = ? AND entity_type = ? AND deleted_at IS NULL
	`, checkpointColumns)

	cp, err := scanCheckpoint(r.dbtx.QueryRowContext(ctx, query, userID, service, entityType).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: checkpoint %s/%s for user %d", shared.ErrNotFound, service, entityType, userID)
	}
	return cp, err
}

// Save upserts a checkpoint. The stored timestamp only moves forward: a save
// carrying an older timestamp, or none at all, leaves the persisted row
// untouched and returns nil. Clearing a checkpoint goes through [Reset].
func (r *CheckpointRepository) Save(ctx context.Context, cp *models.SyncCheckpoint) error {
	if err := cp.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	existing, err := r.Get(ctx, cp.UserID(), cp.Service(), cp.EntityType())
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return err
	}
	if existing != nil && existing.LastTimestamp() != nil &&
		(cp.LastTimestamp() == nil || cp.LastTimestamp().Before(*existing.LastTimestamp())) {
		return nil
	}

	now := time.Now().UTC()
	cp.SetUpdatedAt(now)

	_, err = r.dbtx.ExecContext(ctx, `
		INSERT INTO sync_checkpoints (user_id, service, entity_type, last_timestamp, cursor, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, service, entity_type) DO UPDATE SET
			last_timestamp = excluded.last_timestamp,
			cursor = excluded.cursor,
			updated_at = excluded.updated_at,
			deleted_at = NULL
	`, cp.UserID(), cp.Service(), cp.EntityType(), nullTime(cp.LastTimestamp()),
		cp.Cursor(), cp.CreatedAt(), now)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	if cp.ID() == 0 {
		var id int64
		if err := r.dbtx.QueryRowContext(ctx,
			"SELECT id FROM sync_checkpoints WHERE user_id = ? AND service = ? AND entity_type = ?",
			cp.UserID(), cp.Service(), cp.EntityType(),
		).Scan(&id); err != nil {
			return fmt.Errorf("failed to read checkpoint id: %w", err)
		}
		cp.SetID(id)
	}
	return nil
}

// Reset clears the stored timestamp and cursor so the next incremental run
// starts from the beginning of the feed.
func (r *CheckpointRepository) Reset(ctx context.Context, userID int64, service, entityType string) error {
	res, err := r.dbtx.ExecContext(ctx, `
		UPDATE sync_checkpoints
		SET last_timestamp = NULL, cursor = '', updated_at = ?
		WHERE user_id = ? AND service = ? AND entity_type = ? AND deleted_at IS NULL
	`, time.Now().UTC(), userID, service, entityType)
	if err != nil {
		return fmt.Errorf("failed to reset checkpoint: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: checkpoint %s/%s for user %d", shared.ErrNotFound, service, entityType, userID)
	}
	return nil
}

func scanCheckpoint(scan func(...any) error) (*models.SyncCheckpoint, error) {
	var (
		id         int64
		userID     int64
		service    string
		entityType string
		lastTS     sql.NullTime
		cursor     sql.NullString
		createdAt  time.Time
		updatedAt  time.Time
		deletedAt  sql.NullTime
	)

	err := scan(&id, &userID, &service, &entityType, &lastTS, &cursor, &createdAt, &updatedAt, &deletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
	}

	cp := models.NewSyncCheckpoint(userID, service, entityType)
	cp.SetID(id)
	cp.SetLastTimestamp(timePtr(lastTS))
	cp.SetCursor(cursor.String)
	cp.SetCreatedAt(createdAt)
	cp.SetUpdatedAt(updatedAt)
	cp.SetDeletedAt(timePtr(deletedAt))
	return cp, nil
}
