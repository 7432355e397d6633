package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/avriley/syncopate/internal/models"
)

// LikeRepository persists per-service liked flags keyed by (track id, service).
type LikeRepository struct {
	dbtx DBTX
}

const likeColumns = "id, track_id, service, is_liked, liked_at, last_synced, created_at, updated_at, deleted_at"

// Get returns the like rows a track has for the given services.
func (r *LikeRepository) Get(ctx context.Context, trackID int64, services []string) ([]*models.TrackLike, error) {
	if len(services) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
		SELECT %s FROM track_likes
		WHERE track_id = ? AND service IN (%s) AND deleted_at IS NULL
	`, likeColumns, placeholders(len(services)))

	args := []any{trackID}
	for _, s := range services {
		args = append(args, s)
	}

	rows, err := r.dbtx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query likes: %w", err)
	}
	defer rows.Close()

	var likes []*models.TrackLike
	for rows.Next() {
		like, err := scanLike(rows.Scan)
		if err != nil {
			return nil, err
		}
		likes = append(likes, like)
	}
	return likes, rows.Err()
}

// Put upserts a like row for its (track, service) key.
func (r *LikeRepository) Put(ctx context.Context, like *models.TrackLike) error {
	if err := like.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := time.Now().UTC()
	like.SetUpdatedAt(now)

	_, err := r.dbtx.ExecContext(ctx, `
		INSERT INTO track_likes (track_id, service, is_liked, liked_at, last_synced, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (track_id, service) DO UPDATE SET
			is_liked = excluded.is_liked,
			liked_at = excluded.liked_at,
			last_synced = excluded.last_synced,
			updated_at = excluded.updated_at,
			deleted_at = NULL
	`, like.TrackID(), like.Service(), like.IsLiked(), nullTime(like.LikedAt()),
		nullTime(like.LastSynced()), like.CreatedAt(), now)
	if err != nil {
		return fmt.Errorf("failed to upsert like for track %d: %w", like.TrackID(), err)
	}
	return nil
}

// GetUnsynced returns source-service like rows whose flag has not yet been
// reconciled with the target service, optionally restricted to likes recorded
// after since. A like is unsynced when the target has no row for the track or
// the target row disagrees on the flag.
func (r *LikeRepository) GetUnsynced(ctx context.Context, source, target string, isLiked bool, since *time.Time) ([]*models.TrackLike, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM track_likes src
		WHERE src.service = ? AND src.is_liked = ? AND src.deleted_at IS NULL
			AND NOT EXISTS (
				SELECT 1 FROM track_likes dst
				WHERE dst.track_id = src.track_id AND dst.service = ?
					AND dst.is_liked = src.is_liked AND dst.deleted_at IS NULL
			)
	`, prefixColumns("src", likeColumns))

	args := []any{source, isLiked, target}
	if since != nil {
		query += " AND src.updated_at > ?"
		args = append(args, since.UTC())
	}
	query += " ORDER BY src.updated_at ASC"

	rows, err := r.dbtx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query unsynced likes: %w", err)
	}
	defer rows.Close()

	var likes []*models.TrackLike
	for rows.Next() {
		like, err := scanLike(rows.Scan)
		if err != nil {
			return nil, err
		}
		likes = append(likes, like)
	}
	return likes, rows.Err()
}

// GetAllLiked returns every like row for a service matching the flag.
func (r *LikeRepository) GetAllLiked(ctx context.Context, service string, isLiked bool) ([]*models.TrackLike, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM track_likes
		WHERE service = ? AND is_liked = ? AND deleted_at IS NULL
		ORDER BY liked_at DESC
	`, likeColumns)

	rows, err := r.dbtx.QueryContext(ctx, query, service, isLiked)
	if err != nil {
		return nil, fmt.Errorf("failed to query liked tracks: %w", err)
	}
	defer rows.Close()

	var likes []*models.TrackLike
	for rows.Next() {
		like, err := scanLike(rows.Scan)
		if err != nil {
			return nil, err
		}
		likes = append(likes, like)
	}
	return likes, rows.Err()
}

func scanLike(scan func(...any) error) (*models.TrackLike, error) {
	var (
		id         int64
		trackID    int64
		service    string
		isLiked    bool
		likedAt    sql.NullTime
		lastSynced sql.NullTime
		createdAt  time.Time
		updatedAt  time.Time
		deletedAt  sql.NullTime
	)

	err := scan(&id, &trackID, &service, &isLiked, &likedAt, &lastSynced, &createdAt, &updatedAt, &deletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan like: %w", err)
	}

	like := models.NewTrackLike(trackID, service, isLiked)
	like.SetID(id)
	like.SetLikedAt(timePtr(likedAt))
	like.SetLastSynced(timePtr(lastSynced))
	like.SetCreatedAt(createdAt)
	like.SetUpdatedAt(updatedAt)
	like.SetDeletedAt(timePtr(deletedAt))
	return like, nil
}
