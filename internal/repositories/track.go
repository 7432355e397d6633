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

// TrackRepository persists canonical internal tracks.
//
// Connector ids are stored on mapping rows; reads here rehydrate them onto the
// returned tracks so workflow code can navigate without extra queries.
type TrackRepository struct {
	dbtx DBTX
}

const trackColumns = "id, title, artists, album, duration_ms, release_date, isrc, created_at, updated_at, deleted_at"

// Save inserts a new track or updates an existing one. The row id is assigned
// on first insert and never changes afterwards.
func (r *TrackRepository) Save(ctx context.Context, track *models.Track) error {
	if err := track.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	artists, err := marshalStrings(track.Artists())
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	track.SetUpdatedAt(now)

	if track.ID() == 0 {
		query := `
			INSERT INTO tracks (title, artists, album, duration_ms, release_date, isrc, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`
		res, err := r.dbtx.ExecContext(ctx, query,
			track.Title(), artists, track.Album(), nullInt64(track.DurationMS()),
			track.ReleaseDate(), track.ISRC(), track.CreatedAt(), now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert track: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get inserted track id: %w", err)
		}
		track.SetID(id)
		return nil
	}

	query := `
		UPDATE tracks
		SET title = ?, artists = ?, album = ?, duration_ms = ?, release_date = ?, isrc = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`
	res, err := r.dbtx.ExecContext(ctx, query,
		track.Title(), artists, track.Album(), nullInt64(track.DurationMS()),
		track.ReleaseDate(), track.ISRC(), now, track.ID(),
	)
	if err != nil {
		return fmt.Errorf("failed to update track: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: track %d", shared.ErrNotFound, track.ID())
	}
	return nil
}

// FindByIDs retrieves tracks by id, excluding soft-deleted rows. The returned
// map contains an entry per found id; missing ids simply have no entry.
func (r *TrackRepository) FindByIDs(ctx context.Context, ids []int64) (map[int64]*models.Track, error) {
	found := make(map[int64]*models.Track, len(ids))
	if len(ids) == 0 {
		return found, nil
	}

	query := fmt.Sprintf(`
		SELECT %s FROM tracks
		WHERE id IN (%s) AND deleted_at IS NULL
	`, trackColumns, placeholders(len(ids)))

	rows, err := r.dbtx.QueryContext(ctx, query, int64Args(ids)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		track, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		found[track.ID()] = track
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	if err := r.attachConnectorIDs(ctx, found); err != nil {
		return nil, err
	}
	return found, nil
}

// FindByExternal retrieves the canonical track mapped to a service's external
// id, or [shared.ErrNotFound] when no live mapping exists.
func (r *TrackRepository) FindByExternal(ctx context.Context, service, externalID string) (*models.Track, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM tracks t
		JOIN track_mappings m ON m.track_id = t.id AND m.deleted_at IS NULL
		JOIN connector_tracks c ON c.id = m.connector_track_id AND c.deleted_at IS NULL
		WHERE c.service = ? AND c.external_id = ? AND t.deleted_at IS NULL
		LIMIT 1
	`, prefixColumns("t", trackColumns))

	track, err := r.scanOne(r.dbtx.QueryRowContext(ctx, query, service, externalID))
	if err != nil {
		return nil, err
	}
	track.SetConnectorID(service, externalID)
	return track, nil
}

// Delete soft-deletes a track.
func (r *TrackRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.dbtx.ExecContext(ctx,
		"UPDATE tracks SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL",
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete track: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: track %d", shared.ErrNotFound, id)
	}
	return nil
}

// attachConnectorIDs loads the live service to external-id map for each track.
func (r *TrackRepository) attachConnectorIDs(ctx context.Context, tracks map[int64]*models.Track) error {
	if len(tracks) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(tracks))
	for id := range tracks {
		ids = append(ids, id)
	}

	query := fmt.Sprintf(`
		SELECT m.track_id, c.service, c.external_id
		FROM track_mappings m
		JOIN connector_tracks c ON c.id = m.connector_track_id AND c.deleted_at IS NULL
		WHERE m.track_id IN (%s) AND m.deleted_at IS NULL
	`, placeholders(len(ids)))

	rows, err := r.dbtx.QueryContext(ctx, query, int64Args(ids)...)
	if err != nil {
		return fmt.Errorf("failed to query connector ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var trackID int64
		var service, externalID string
		if err := rows.Scan(&trackID, &service, &externalID); err != nil {
			return fmt.Errorf("failed to scan connector id: %w", err)
		}
		if track, ok := tracks[trackID]; ok {
			track.SetConnectorID(service, externalID)
		}
	}
	return rows.Err()
}

// scanOne scans a single [sql.Row] into a [models.Track]
func (r *TrackRepository) scanOne(row *sql.Row) (*models.Track, error) {
	track, err := scanTrack(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: track", shared.ErrNotFound)
	}
	return track, err
}

// scanRow scans a row from [sql.Rows] into a [models.Track]
func (r *TrackRepository) scanRow(rows *sql.Rows) (*models.Track, error) {
	return scanTrack(rows.Scan)
}

func scanTrack(scan func(...any) error) (*models.Track, error) {
	var (
		id          int64
		title       string
		artistsText string
		album       sql.NullString
		durationMS  sql.NullInt64
		releaseDate sql.NullString
		isrc        sql.NullString
		createdAt   time.Time
		updatedAt   time.Time
		deletedAt   sql.NullTime
	)

	err := scan(&id, &title, &artistsText, &album, &durationMS, &releaseDate, &isrc, &createdAt, &updatedAt, &deletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan track: %w", err)
	}

	artists, err := unmarshalStrings(artistsText)
	if err != nil {
		return nil, err
	}

	track := models.NewTrack(title, artists)
	track.SetID(id)
	track.SetAlbum(album.String)
	track.SetDurationMS(int64Ptr(durationMS))
	track.SetReleaseDate(releaseDate.String)
	track.SetISRC(isrc.String)
	track.SetCreatedAt(createdAt)
	track.SetUpdatedAt(updatedAt)
	track.SetDeletedAt(timePtr(deletedAt))
	return track, nil
}

// prefixColumns qualifies a comma-separated column list with a table alias.
func prefixColumns(alias, columns string) string {
	out := ""
	for i, col := range splitColumns(columns) {
		if i > 0 {
			out += ", "
		}
		out += alias + "." + col
	}
	return out
}

func splitColumns(columns string) []string {
	var cols []string
	for _, c := range splitAndTrim(columns, ",") {
		if c != "" {
			cols = append(cols, c)
		}
	}
	return cols
}
