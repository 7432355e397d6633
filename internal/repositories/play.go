package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/avriley/syncopate/internal/models"
)

// PlayRepository persists listening events. Bulk insert is idempotent on the
// value-based dedup key, so re-importing the same export creates no new rows.
type PlayRepository struct {
	dbtx DBTX
}

const playColumns = "id, track_id, service, played_at, ms_played, context, import_timestamp, import_source, import_batch_id, created_at, updated_at, deleted_at"

// BulkInsert writes plays, skipping rows whose dedup key already exists.
// Returns how many rows were actually inserted; the difference against
// len(plays) is the duplicate count.
func (r *PlayRepository) BulkInsert(ctx context.Context, plays []*models.Play) (int, error) {
	inserted := 0

	query := `
		INSERT OR IGNORE INTO plays
			(track_id, service, played_at, ms_played, context, import_timestamp, import_source, import_batch_id, dedup_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	for _, p := range plays {
		if err := p.Validate(); err != nil {
			return inserted, fmt.Errorf("validation failed for play at %v: %w", p.PlayedAt(), err)
		}

		context_, err := models.MarshalAttributes(p.Context())
		if err != nil {
			return inserted, err
		}

		res, err := r.dbtx.ExecContext(ctx, query,
			nullInt64(p.TrackID()), p.Service(), p.PlayedAt(), nullInt64(p.MSPlayed()),
			context_, p.ImportTimestamp(), p.ImportSource(), p.ImportBatchID(),
			p.DedupKey(), p.CreatedAt(), p.UpdatedAt(),
		)
		if err != nil {
			return inserted, fmt.Errorf("failed to insert play: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return inserted, fmt.Errorf("failed to get affected rows: %w", err)
		}
		if rows > 0 {
			inserted++
			if id, err := res.LastInsertId(); err == nil {
				p.SetID(id)
			}
		}
	}
	return inserted, nil
}

// GetByBatch retrieves the plays persisted under one import batch id.
func (r *PlayRepository) GetByBatch(ctx context.Context, batchID string) ([]*models.Play, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM plays
		WHERE import_batch_id = ? AND deleted_at IS NULL
		ORDER BY played_at ASC
	`, playColumns)

	rows, err := r.dbtx.QueryContext(ctx, query, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query plays: %w", err)
	}
	defer rows.Close()

	var plays []*models.Play
	for rows.Next() {
		play, err := scanPlay(rows.Scan)
		if err != nil {
			return nil, err
		}
		plays = append(plays, play)
	}
	return plays, rows.Err()
}

// CountByService returns how many plays a service has, for summaries.
func (r *PlayRepository) CountByService(ctx context.Context, service string) (int, error) {
	var count int
	err := r.dbtx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM plays WHERE service = ? AND deleted_at IS NULL", service,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count plays: %w", err)
	}
	return count, nil
}

// LatestPlayedAt returns the newest played-at timestamp a service has, or nil
// when the service has no plays.
func (r *PlayRepository) LatestPlayedAt(ctx context.Context, service string) (*time.Time, error) {
	var latest sql.NullTime
	err := r.dbtx.QueryRowContext(ctx,
		"SELECT MAX(played_at) FROM plays WHERE service = ? AND deleted_at IS NULL", service,
	).Scan(&latest)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest play: %w", err)
	}
	return timePtr(latest), nil
}

func scanPlay(scan func(...any) error) (*models.Play, error) {
	var (
		id            int64
		trackID       sql.NullInt64
		service       string
		playedAt      time.Time
		msPlayed      sql.NullInt64
		contextText   sql.NullString
		importStamp   time.Time
		importSource  string
		importBatchID string
		createdAt     time.Time
		updatedAt     time.Time
		deletedAt     sql.NullTime
	)

	err := scan(&id, &trackID, &service, &playedAt, &msPlayed, &contextText,
		&importStamp, &importSource, &importBatchID, &createdAt, &updatedAt, &deletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan play: %w", err)
	}

	bag, err := models.UnmarshalAttributes(contextText.String)
	if err != nil {
		return nil, err
	}

	play := models.NewPlay(service, playedAt)
	play.SetID(id)
	play.SetTrackID(int64Ptr(trackID))
	play.SetMSPlayed(int64Ptr(msPlayed))
	play.SetContext(bag)
	play.SetImportTimestamp(importStamp)
	play.SetImportSource(importSource)
	play.SetImportBatchID(importBatchID)
	play.SetCreatedAt(createdAt)
	play.SetUpdatedAt(updatedAt)
	play.SetDeletedAt(timePtr(deletedAt))
	return play, nil
}
