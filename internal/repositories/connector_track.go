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

// ConnectorTrackRepository persists per-service track records keyed by the
// unique pair (service, external id).
type ConnectorTrackRepository struct {
	dbtx DBTX
}

const connectorTrackColumns = "id, service, external_id, title, artists, album, duration_ms, release_date, isrc, raw_metadata, last_updated, created_at, updated_at, deleted_at"

// BulkUpsert inserts or refreshes connector tracks in one statement batch.
// Existing rows (matched on service and external id) get their descriptive
// fields, metadata bag and last-updated timestamp replaced; the input records
// come back carrying their row ids.
func (r *ConnectorTrackRepository) BulkUpsert(ctx context.Context, records []*models.ConnectorTrack) error {
	if len(records) == 0 {
		return nil
	}

	query := `
		INSERT INTO connector_tracks
			(service, external_id, title, artists, album, duration_ms, release_date, isrc, raw_metadata, last_updated, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (service, external_id) DO UPDATE SET
			title = excluded.title,
			artists = excluded.artists,
			album = excluded.album,
			duration_ms = excluded.duration_ms,
			release_date = excluded.release_date,
			isrc = excluded.isrc,
			raw_metadata = excluded.raw_metadata,
			last_updated = excluded.last_updated,
			updated_at = excluded.updated_at,
			deleted_at = NULL
	`

	now := time.Now().UTC()
	for _, rec := range records {
		if err := rec.Validate(); err != nil {
			return fmt.Errorf("validation failed for %s/%s: %w", rec.Service(), rec.ExternalID(), err)
		}

		artists, err := marshalStrings(rec.Artists())
		if err != nil {
			return err
		}
		metadata, err := models.MarshalAttributes(rec.RawMetadata())
		if err != nil {
			return err
		}

		rec.SetUpdatedAt(now)
		if _, err := r.dbtx.ExecContext(ctx, query,
			rec.Service(), rec.ExternalID(), rec.Title(), artists, rec.Album(),
			nullInt64(rec.DurationMS()), rec.ReleaseDate(), rec.ISRC(),
			metadata, rec.LastUpdated(), rec.CreatedAt(), now,
		); err != nil {
			return fmt.Errorf("failed to upsert connector track %s/%s: %w", rec.Service(), rec.ExternalID(), err)
		}

		var id int64
		if err := r.dbtx.QueryRowContext(ctx,
			"SELECT id FROM connector_tracks WHERE service = ? AND external_id = ?",
			rec.Service(), rec.ExternalID(),
		).Scan(&id); err != nil {
			return fmt.Errorf("failed to read upserted connector track id: %w", err)
		}
		rec.SetID(id)
	}
	return nil
}

// GetByExternal retrieves one connector track, or [shared.ErrNotFound].
func (r *ConnectorTrackRepository) GetByExternal(ctx context.Context, service, externalID string) (*models.ConnectorTrack, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM connector_tracks
		WHERE service = ? AND external_id = ? AND deleted_at IS NULL
	`, connectorTrackColumns)

	rec, err := scanConnectorTrack(r.dbtx.QueryRowContext(ctx, query, service, externalID).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: connector track %s/%s", shared.ErrNotFound, service, externalID)
	}
	return rec, err
}

// GetByIDs retrieves connector tracks by row id.
func (r *ConnectorTrackRepository) GetByIDs(ctx context.Context, ids []int64) (map[int64]*models.ConnectorTrack, error) {
	found := make(map[int64]*models.ConnectorTrack, len(ids))
	if len(ids) == 0 {
		return found, nil
	}

	query := fmt.Sprintf(`
		SELECT %s FROM connector_tracks
		WHERE id IN (%s) AND deleted_at IS NULL
	`, connectorTrackColumns, placeholders(len(ids)))

	rows, err := r.dbtx.QueryContext(ctx, query, int64Args(ids)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query connector tracks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanConnectorTrack(rows.Scan)
		if err != nil {
			return nil, err
		}
		found[rec.ID()] = rec
	}
	return found, rows.Err()
}

// UpdateMetadata replaces the raw metadata bag and last-updated stamp for an
// already-known connector track.
func (r *ConnectorTrackRepository) UpdateMetadata(ctx context.Context, service, externalID string, metadata models.Attributes, observed time.Time) error {
	text, err := models.MarshalAttributes(metadata)
	if err != nil {
		return err
	}

	res, err := r.dbtx.ExecContext(ctx, `
		UPDATE connector_tracks
		SET raw_metadata = ?, last_updated = ?, updated_at = ?
		WHERE service = ? AND external_id = ? AND deleted_at IS NULL
	`, text, observed.UTC(), time.Now().UTC(), service, externalID)
	if err != nil {
		return fmt.Errorf("failed to update connector track metadata: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: connector track %s/%s", shared.ErrNotFound, service, externalID)
	}
	return nil
}

func scanConnectorTrack(scan func(...any) error) (*models.ConnectorTrack, error) {
	var (
		id          int64
		service     string
		externalID  string
		title       string
		artistsText string
		album       sql.NullString
		durationMS  sql.NullInt64
		releaseDate sql.NullString
		isrc        sql.NullString
		metadata    sql.NullString
		lastUpdated sql.NullTime
		createdAt   time.Time
		updatedAt   time.Time
		deletedAt   sql.NullTime
	)

	err := scan(&id, &service, &externalID, &title, &artistsText, &album, &durationMS,
		&releaseDate, &isrc, &metadata, &lastUpdated, &createdAt, &updatedAt, &deletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan connector track: %w", err)
	}

	artists, err := unmarshalStrings(artistsText)
	if err != nil {
		return nil, err
	}
	bag, err := models.UnmarshalAttributes(metadata.String)
	if err != nil {
		return nil, err
	}

	rec := models.NewConnectorTrack(service, externalID, title, artists)
	rec.SetID(id)
	rec.SetAlbum(album.String)
	rec.SetDurationMS(int64Ptr(durationMS))
	rec.SetReleaseDate(releaseDate.String)
	rec.SetISRC(isrc.String)
	if lastUpdated.Valid {
		rec.SetRawMetadata(bag, lastUpdated.Time)
	} else {
		rec.SetRawMetadata(bag, createdAt)
	}
	rec.SetCreatedAt(createdAt)
	rec.SetUpdatedAt(updatedAt)
	rec.SetDeletedAt(timePtr(deletedAt))
	return rec, nil
}
