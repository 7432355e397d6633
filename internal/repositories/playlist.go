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

// PlaylistRepository persists playlists with their ordered track lists and the
// connector playlist ids they have been published under.
type PlaylistRepository struct {
	dbtx DBTX
}

// Save writes the playlist row, replaces its ordered track list, and upserts
// its connector id links. Call inside a unit of work so the replace is atomic.
func (r *PlaylistRepository) Save(ctx context.Context, playlist *models.Playlist) error {
	if err := playlist.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := time.Now().UTC()
	playlist.SetUpdatedAt(now)

	if playlist.ID() == 0 {
		res, err := r.dbtx.ExecContext(ctx, `
			INSERT INTO playlists (name, description, created_at, updated_at)
			VALUES (?, ?, ?, ?)
		`, playlist.Name(), playlist.Description(), playlist.CreatedAt(), now)
		if err != nil {
			return fmt.Errorf("failed to insert playlist: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get playlist id: %w", err)
		}
		playlist.SetID(id)
	} else {
		res, err := r.dbtx.ExecContext(ctx, `
			UPDATE playlists SET name = ?, description = ?, updated_at = ?
			WHERE id = ? AND deleted_at IS NULL
		`, playlist.Name(), playlist.Description(), now, playlist.ID())
		if err != nil {
			return fmt.Errorf("failed to update playlist: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get affected rows: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("%w: playlist %d", shared.ErrNotFound, playlist.ID())
		}
	}

	if _, err := r.dbtx.ExecContext(ctx,
		"DELETE FROM playlist_tracks WHERE playlist_id = ?", playlist.ID(),
	); err != nil {
		return fmt.Errorf("failed to clear playlist tracks: %w", err)
	}
	for position, trackID := range playlist.TrackIDs() {
		if _, err := r.dbtx.ExecContext(ctx,
			"INSERT INTO playlist_tracks (playlist_id, track_id, position) VALUES (?, ?, ?)",
			playlist.ID(), trackID, position,
		); err != nil {
			return fmt.Errorf("failed to insert playlist track: %w", err)
		}
	}

	for service, externalID := range playlist.ConnectorIDs() {
		if _, err := r.dbtx.ExecContext(ctx, `
			INSERT INTO connector_playlists (playlist_id, service, external_id, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (playlist_id, service) DO UPDATE SET
				external_id = excluded.external_id,
				updated_at = excluded.updated_at,
				deleted_at = NULL
		`, playlist.ID(), service, externalID, now, now); err != nil {
			return fmt.Errorf("failed to upsert connector playlist: %w", err)
		}
	}
	return nil
}

// Get loads one playlist with its track ordering and connector ids, or
// [shared.ErrNotFound].
func (r *PlaylistRepository) Get(ctx context.Context, id int64) (*models.Playlist, error) {
	playlist, err := r.scanPlaylistRow(r.dbtx.QueryRowContext(ctx, `
		SELECT id, name, description, created_at, updated_at, deleted_at
		FROM playlists WHERE id = ? AND deleted_at IS NULL
	`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: playlist %d", shared.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	if err := r.attachDetails(ctx, playlist); err != nil {
		return nil, err
	}
	return playlist, nil
}

// GetByName loads a playlist by exact name, or [shared.ErrNotFound].
func (r *PlaylistRepository) GetByName(ctx context.Context, name string) (*models.Playlist, error) {
	playlist, err := r.scanPlaylistRow(r.dbtx.QueryRowContext(ctx, `
		SELECT id, name, description, created_at, updated_at, deleted_at
		FROM playlists WHERE name = ? AND deleted_at IS NULL
	`, name).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: playlist %q", shared.ErrNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	if err := r.attachDetails(ctx, playlist); err != nil {
		return nil, err
	}
	return playlist, nil
}

// List returns all live playlists with their details attached.
func (r *PlaylistRepository) List(ctx context.Context) ([]*models.Playlist, error) {
	rows, err := r.dbtx.QueryContext(ctx, `
		SELECT id, name, description, created_at, updated_at, deleted_at
		FROM playlists WHERE deleted_at IS NULL ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query playlists: %w", err)
	}
	defer rows.Close()

	var playlists []*models.Playlist
	for rows.Next() {
		playlist, err := r.scanPlaylistRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		playlists = append(playlists, playlist)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, playlist := range playlists {
		if err := r.attachDetails(ctx, playlist); err != nil {
			return nil, err
		}
	}
	return playlists, nil
}

// Delete soft-deletes a playlist.
func (r *PlaylistRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.dbtx.ExecContext(ctx,
		"UPDATE playlists SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL",
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to delete playlist: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: playlist %d", shared.ErrNotFound, id)
	}
	return nil
}

// SaveConnectorItems snapshots the entries of a published connector playlist,
// replacing any previous snapshot.
func (r *PlaylistRepository) SaveConnectorItems(ctx context.Context, playlistID int64, service string, items []models.ConnectorPlaylistItem) error {
	var connectorPlaylistID int64
	err := r.dbtx.QueryRowContext(ctx, `
		SELECT id FROM connector_playlists
		WHERE playlist_id = ? AND service = ? AND deleted_at IS NULL
	`, playlistID, service).Scan(&connectorPlaylistID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: connector playlist %d/%s", shared.ErrNotFound, playlistID, service)
	}
	if err != nil {
		return fmt.Errorf("failed to resolve connector playlist: %w", err)
	}

	if _, err := r.dbtx.ExecContext(ctx,
		"DELETE FROM connector_playlist_items WHERE connector_playlist_id = ?", connectorPlaylistID,
	); err != nil {
		return fmt.Errorf("failed to clear connector playlist items: %w", err)
	}

	now := time.Now().UTC()
	for _, item := range items {
		if _, err := r.dbtx.ExecContext(ctx, `
			INSERT INTO connector_playlist_items
				(connector_playlist_id, connector_track_id, position, added_at, added_by, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, connectorPlaylistID, item.ConnectorTrackID, item.Position,
			nullTime(item.AddedAt), item.AddedBy, now, now); err != nil {
			return fmt.Errorf("failed to insert connector playlist item: %w", err)
		}
	}
	return nil
}

func (r *PlaylistRepository) attachDetails(ctx context.Context, playlist *models.Playlist) error {
	rows, err := r.dbtx.QueryContext(ctx, `
		SELECT track_id FROM playlist_tracks
		WHERE playlist_id = ? ORDER BY position ASC
	`, playlist.ID())
	if err != nil {
		return fmt.Errorf("failed to query playlist tracks: %w", err)
	}
	defer rows.Close()

	var trackIDs []int64
	for rows.Next() {
		var trackID int64
		if err := rows.Scan(&trackID); err != nil {
			return fmt.Errorf("failed to scan playlist track: %w", err)
		}
		trackIDs = append(trackIDs, trackID)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	playlist.SetTrackIDs(trackIDs)

	connectorRows, err := r.dbtx.QueryContext(ctx, `
		SELECT service, external_id FROM connector_playlists
		WHERE playlist_id = ? AND deleted_at IS NULL
	`, playlist.ID())
	if err != nil {
		return fmt.Errorf("failed to query connector playlists: %w", err)
	}
	defer connectorRows.Close()

	for connectorRows.Next() {
		var service, externalID string
		if err := connectorRows.Scan(&service, &externalID); err != nil {
			return fmt.Errorf("failed to scan connector playlist: %w", err)
		}
		if err := playlist.SetConnectorID(service, externalID); err != nil {
			return err
		}
	}
	return connectorRows.Err()
}

func (r *PlaylistRepository) scanPlaylistRow(scan func(...any) error) (*models.Playlist, error) {
	var (
		id          int64
		name        string
		description sql.NullString
		createdAt   time.Time
		updatedAt   time.Time
		deletedAt   sql.NullTime
	)

	err := scan(&id, &name, &description, &createdAt, &updatedAt, &deletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan playlist: %w", err)
	}

	playlist := models.NewPlaylist(name, description.String)
	playlist.SetID(id)
	playlist.SetCreatedAt(createdAt)
	playlist.SetUpdatedAt(updatedAt)
	playlist.SetDeletedAt(timePtr(deletedAt))
	return playlist, nil
}
