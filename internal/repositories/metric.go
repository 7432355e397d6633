package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/avriley/syncopate/internal/models"
)

// MetricRepository persists per-service per-track metric observations keyed by
// (track id, service, metric name).
type MetricRepository struct {
	dbtx DBTX
}

// Get returns metric values for the given tracks that are younger than
// maxAge. Stale and missing observations have no entry in the result.
func (r *MetricRepository) Get(ctx context.Context, trackIDs []int64, metric, service string, maxAge time.Duration) (map[int64]float64, error) {
	values := make(map[int64]float64, len(trackIDs))
	if len(trackIDs) == 0 {
		return values, nil
	}

	cutoff := time.Now().UTC().Add(-maxAge)
	query := fmt.Sprintf(`
		SELECT track_id, value FROM track_metrics
		WHERE track_id IN (%s) AND service = ? AND metric_name = ?
			AND observed_at >= ? AND deleted_at IS NULL
	`, placeholders(len(trackIDs)))

	args := append(int64Args(trackIDs), service, metric, cutoff)
	rows, err := r.dbtx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query metrics: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var trackID int64
		var value float64
		if err := rows.Scan(&trackID, &value); err != nil {
			return nil, fmt.Errorf("failed to scan metric: %w", err)
		}
		values[trackID] = value
	}
	return values, rows.Err()
}

// BulkPut upserts metric observations, stamping observed-at now.
func (r *MetricRepository) BulkPut(ctx context.Context, metrics []*models.TrackMetric) error {
	now := time.Now().UTC()

	query := `
		INSERT INTO track_metrics (track_id, service, metric_name, value, observed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (track_id, service, metric_name) DO UPDATE SET
			value = excluded.value,
			observed_at = excluded.observed_at,
			updated_at = excluded.updated_at,
			deleted_at = NULL
	`

	for _, m := range metrics {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("validation failed for metric %s: %w", m.MetricName(), err)
		}
		m.SetObservedAt(now)
		if _, err := r.dbtx.ExecContext(ctx, query,
			m.TrackID(), m.Service(), m.MetricName(), m.Value(), now, m.CreatedAt(), now,
		); err != nil {
			return fmt.Errorf("failed to upsert metric %s for track %d: %w", m.MetricName(), m.TrackID(), err)
		}
	}
	return nil
}

// Stale returns the subset of track ids whose observation for a metric is
// missing or older than ttl.
func (r *MetricRepository) Stale(ctx context.Context, trackIDs []int64, metric, service string, ttl time.Duration) ([]int64, error) {
	if len(trackIDs) == 0 {
		return nil, nil
	}

	fresh, err := r.Get(ctx, trackIDs, metric, service, ttl)
	if err != nil {
		return nil, err
	}

	var stale []int64
	for _, id := range trackIDs {
		if _, ok := fresh[id]; !ok {
			stale = append(stale, id)
		}
	}
	return stale, nil
}

// ObservedAt returns the last observation time per track for a metric.
func (r *MetricRepository) ObservedAt(ctx context.Context, trackIDs []int64, metric, service string) (map[int64]time.Time, error) {
	observed := make(map[int64]time.Time, len(trackIDs))
	if len(trackIDs) == 0 {
		return observed, nil
	}

	query := fmt.Sprintf(`
		SELECT track_id, observed_at FROM track_metrics
		WHERE track_id IN (%s) AND service = ? AND metric_name = ? AND deleted_at IS NULL
	`, placeholders(len(trackIDs)))

	args := append(int64Args(trackIDs), service, metric)
	rows, err := r.dbtx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query metric timestamps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var trackID int64
		var at time.Time
		if err := rows.Scan(&trackID, &at); err != nil {
			return nil, fmt.Errorf("failed to scan metric timestamp: %w", err)
		}
		observed[trackID] = at.UTC()
	}
	return observed, rows.Err()
}
