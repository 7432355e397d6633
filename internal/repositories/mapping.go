package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/avriley/syncopate/internal/models"
	"github.com/avriley/syncopate/internal/shared"
)

// MappingInfo is a read-side projection of one mapping edge joined with its
// connector track.
type MappingInfo struct {
	TrackID          int64
	ConnectorTrackID int64
	Service          string
	ExternalID       string
	Method           string
	Confidence       int
	Evidence         *models.MatchEvidence
}

// MappingRepository persists track↔connector edges. It enforces the core
// invariant that a track has at most one live mapping per service: an upsert
// that would create a second one updates the existing row instead.
type MappingRepository struct {
	dbtx DBTX
}

// BulkUpsert writes mapping edges. Each record's connector track must already
// be persisted (non-zero connector track id).
func (r *MappingRepository) BulkUpsert(ctx context.Context, mappings []*models.TrackMapping) error {
	now := time.Now().UTC()

	for _, m := range mappings {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("validation failed for mapping %d->%d: %w", m.TrackID(), m.ConnectorTrackID(), err)
		}

		var service string
		if err := r.dbtx.QueryRowContext(ctx,
			"SELECT service FROM connector_tracks WHERE id = ?", m.ConnectorTrackID(),
		).Scan(&service); err != nil {
			return fmt.Errorf("failed to resolve connector track %d: %w", m.ConnectorTrackID(), err)
		}

		evidence, err := marshalEvidence(m.Evidence())
		if err != nil {
			return err
		}

		// One live mapping per (track, service): redirect the existing row
		// when the track is already mapped to this service.
		var existingID, existingConnector int64
		err = r.dbtx.QueryRowContext(ctx, `
			SELECT m.id, m.connector_track_id
			FROM track_mappings m
			JOIN connector_tracks c ON c.id = m.connector_track_id
			WHERE m.track_id = ? AND c.service = ? AND m.deleted_at IS NULL
			LIMIT 1
		`, m.TrackID(), service).Scan(&existingID, &existingConnector)

		switch {
		case err == nil:
			if _, err := r.dbtx.ExecContext(ctx, `
				UPDATE track_mappings
				SET connector_track_id = ?, match_method = ?, confidence = ?, confidence_evidence = ?, updated_at = ?
				WHERE id = ?
			`, m.ConnectorTrackID(), m.MatchMethod(), m.Confidence(), evidence, now, existingID); err != nil {
				return fmt.Errorf("failed to update mapping %d: %w", existingID, err)
			}
			m.SetID(existingID)

		case errors.Is(err, sql.ErrNoRows):
			if _, err := r.dbtx.ExecContext(ctx, `
				INSERT INTO track_mappings (track_id, connector_track_id, match_method, confidence, confidence_evidence, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (track_id, connector_track_id) DO UPDATE SET
					match_method = excluded.match_method,
					confidence = excluded.confidence,
					confidence_evidence = excluded.confidence_evidence,
					updated_at = excluded.updated_at,
					deleted_at = NULL
			`, m.TrackID(), m.ConnectorTrackID(), m.MatchMethod(), m.Confidence(), evidence, m.CreatedAt(), now); err != nil {
				return fmt.Errorf("failed to insert mapping: %w", err)
			}
			var id int64
			if err := r.dbtx.QueryRowContext(ctx,
				"SELECT id FROM track_mappings WHERE track_id = ? AND connector_track_id = ?",
				m.TrackID(), m.ConnectorTrackID(),
			).Scan(&id); err != nil {
				return fmt.Errorf("failed to read upserted mapping id: %w", err)
			}
			m.SetID(id)

		default:
			return fmt.Errorf("failed to check existing mapping: %w", err)
		}
	}
	return nil
}

// GetByTracks loads the live mappings for a set of tracks, optionally
// filtered to one service (empty service means all).
func (r *MappingRepository) GetByTracks(ctx context.Context, trackIDs []int64, service string) ([]*MappingInfo, error) {
	if len(trackIDs) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
		SELECT m.track_id, m.connector_track_id, c.service, c.external_id, m.match_method, m.confidence, m.confidence_evidence
		FROM track_mappings m
		JOIN connector_tracks c ON c.id = m.connector_track_id AND c.deleted_at IS NULL
		WHERE m.track_id IN (%s) AND m.deleted_at IS NULL
	`, placeholders(len(trackIDs)))
	args := int64Args(trackIDs)
	if service != "" {
		query += " AND c.service = ?"
		args = append(args, service)
	}

	rows, err := r.dbtx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query mappings: %w", err)
	}
	defer rows.Close()

	var infos []*MappingInfo
	for rows.Next() {
		info, err := scanMappingInfo(rows.Scan)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// GetMappingsByTrack returns a track id → service → external id map for the
// given tracks, optionally filtered to one service.
func (r *MappingRepository) GetMappingsByTrack(ctx context.Context, trackIDs []int64, service string) (map[int64]map[string]string, error) {
	infos, err := r.GetByTracks(ctx, trackIDs, service)
	if err != nil {
		return nil, err
	}

	out := make(map[int64]map[string]string, len(infos))
	for _, info := range infos {
		if out[info.TrackID] == nil {
			out[info.TrackID] = map[string]string{}
		}
		out[info.TrackID][info.Service] = info.ExternalID
	}
	return out, nil
}

// GetMappingInfo loads the confidence annotation for one concrete edge, or
// [shared.ErrNotFound].
func (r *MappingRepository) GetMappingInfo(ctx context.Context, trackID int64, service, externalID string) (*MappingInfo, error) {
	row := r.dbtx.QueryRowContext(ctx, `
		SELECT m.track_id, m.connector_track_id, c.service, c.external_id, m.match_method, m.confidence, m.confidence_evidence
		FROM track_mappings m
		JOIN connector_tracks c ON c.id = m.connector_track_id AND c.deleted_at IS NULL
		WHERE m.track_id = ? AND c.service = ? AND c.external_id = ? AND m.deleted_at IS NULL
	`, trackID, service, externalID)

	info, err := scanMappingInfo(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: mapping %d->%s/%s", shared.ErrNotFound, trackID, service, externalID)
	}
	return info, err
}

// Delete soft-deletes one mapping edge.
func (r *MappingRepository) Delete(ctx context.Context, trackID, connectorTrackID int64) error {
	res, err := r.dbtx.ExecContext(ctx, `
		UPDATE track_mappings SET deleted_at = ?
		WHERE track_id = ? AND connector_track_id = ? AND deleted_at IS NULL
	`, time.Now().UTC(), trackID, connectorTrackID)
	if err != nil {
		return fmt.Errorf("failed to delete mapping: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: mapping %d->%d", shared.ErrNotFound, trackID, connectorTrackID)
	}
	return nil
}

func scanMappingInfo(scan func(...any) error) (*MappingInfo, error) {
	var (
		info         MappingInfo
		evidenceText sql.NullString
	)
	err := scan(&info.TrackID, &info.ConnectorTrackID, &info.Service, &info.ExternalID,
		&info.Method, &info.Confidence, &evidenceText)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan mapping: %w", err)
	}

	if evidenceText.Valid && evidenceText.String != "" {
		var evidence models.MatchEvidence
		if err := json.Unmarshal([]byte(evidenceText.String), &evidence); err != nil {
			return nil, fmt.Errorf("failed to unmarshal evidence: %w", err)
		}
		info.Evidence = &evidence
	}
	return &info, nil
}

func marshalEvidence(e *models.MatchEvidence) (sql.NullString, error) {
	if e == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(e)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal evidence: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
