package models

import (
	"strings"
	"time"
)

// TrackMetric is a per-service per-track metric observation, keyed by
// (track id, service, metric name). Writes upsert the row and stamp
// observed-at; a metric is fresh while now minus observed-at stays under the
// metric's registered TTL.
type TrackMetric struct {
	id         int64
	trackID    int64
	service    string
	metricName string
	value      float64
	observedAt time.Time
	createdAt  time.Time
	updatedAt  time.Time
	deletedAt  *time.Time
}

// NewTrackMetric creates a metric observation stamped now.
func NewTrackMetric(trackID int64, service, metricName string, value float64) *TrackMetric {
	now := time.Now().UTC()
	return &TrackMetric{
		trackID:    trackID,
		service:    service,
		metricName: metricName,
		value:      value,
		observedAt: now,
		createdAt:  now,
		updatedAt:  now,
	}
}

func (m *TrackMetric) ID() int64            { return m.id }
func (m *TrackMetric) CreatedAt() time.Time { return m.createdAt }
func (m *TrackMetric) UpdatedAt() time.Time { return m.updatedAt }

// Validate checks the key triple.
func (m *TrackMetric) Validate() error {
	if m.trackID == 0 {
		return ErrInvalidModel
	}
	if strings.TrimSpace(m.service) == "" || strings.TrimSpace(m.metricName) == "" {
		return ErrInvalidModel
	}
	return nil
}

func (m *TrackMetric) TrackID() int64        { return m.trackID }
func (m *TrackMetric) Service() string       { return m.service }
func (m *TrackMetric) MetricName() string    { return m.metricName }
func (m *TrackMetric) Value() float64        { return m.value }
func (m *TrackMetric) ObservedAt() time.Time { return m.observedAt }
func (m *TrackMetric) DeletedAt() *time.Time { return m.deletedAt }

func (m *TrackMetric) SetID(id int64) {
	if m.id == 0 {
		m.id = id
	}
}

func (m *TrackMetric) SetValue(v float64)           { m.value = v }
func (m *TrackMetric) SetObservedAt(ts time.Time)   { m.observedAt = ts.UTC() }
func (m *TrackMetric) SetCreatedAt(ts time.Time)    { m.createdAt = ts }
func (m *TrackMetric) SetUpdatedAt(ts time.Time)    { m.updatedAt = ts }
func (m *TrackMetric) SetDeletedAt(ts *time.Time)   { m.deletedAt = ts }

// Fresh reports whether the observation is younger than ttl at the given time.
func (m *TrackMetric) Fresh(now time.Time, ttl time.Duration) bool {
	return now.Sub(m.observedAt) < ttl
}
