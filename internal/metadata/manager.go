package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/avriley/syncopate/internal/models"
	"github.com/avriley/syncopate/internal/repositories"
	"github.com/avriley/syncopate/internal/services"
	"github.com/avriley/syncopate/internal/shared"
)

// Manager caches per-service track metadata and metrics.
//
// The one hard rule: an already-mapped track is never re-matched. Refresh
// always goes through the stored external id with the adapter's direct bulk
// get; identity decisions belong to the resolver alone.
type Manager struct {
	store    *repositories.Store
	registry *Registry
	adapters *services.Registry
	logger   *log.Logger
}

// NewManager creates a metadata manager.
func NewManager(store *repositories.Store, registry *Registry, adapters *services.Registry, logger *log.Logger) *Manager {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Manager{store: store, registry: registry, adapters: adapters, logger: logger}
}

// RefreshMetadata fetches current metadata for the given tracks from a
// service and caches it. Tracks without a live mapping for the service are
// reported failed, never searched. Remote I/O happens before the write unit
// of work so no transaction spans a network call.
//
// Returns the fresh attribute bags by track id and the set of ids that could
// not be refreshed.
func (m *Manager) RefreshMetadata(ctx context.Context, trackIDs []int64, service string) (map[int64]models.Attributes, map[int64]bool, error) {
	fresh := make(map[int64]models.Attributes, len(trackIDs))
	failed := make(map[int64]bool)
	if len(trackIDs) == 0 {
		return fresh, failed, nil
	}

	adapter, err := m.adapters.Get(service)
	if err != nil {
		return nil, nil, err
	}
	getter, ok := adapter.(services.TrackInfoBatchGetter)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s cannot batch-get track info", shared.ErrCapability, service)
	}

	tracks, err := m.store.Tracks.FindByIDs(ctx, trackIDs)
	if err != nil {
		return nil, nil, err
	}

	mapped := make([]*models.Track, 0, len(tracks))
	for _, id := range trackIDs {
		track, ok := tracks[id]
		if !ok {
			failed[id] = true
			continue
		}
		if _, ok := track.ConnectorID(service); !ok {
			failed[id] = true
			continue
		}
		mapped = append(mapped, track)
	}
	if len(mapped) == 0 {
		return fresh, failed, nil
	}

	infos, err := getter.BatchGetTrackInfo(ctx, mapped)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch track info from %s: %w", service, err)
	}

	specs := m.registry.ForService(service)
	now := time.Now().UTC()
	var metrics []*models.TrackMetric

	for _, track := range mapped {
		raw, ok := infos[track.ID()]
		if !ok {
			failed[track.ID()] = true
			continue
		}
		bag, err := asAttributes(raw)
		if err != nil {
			m.logger.Warn("unconvertible track info", "track_id", track.ID(), "err", err)
			failed[track.ID()] = true
			continue
		}
		fresh[track.ID()] = bag

		for _, spec := range specs {
			if value, ok := bag.Float(spec.FieldKey); ok {
				metrics = append(metrics, models.NewTrackMetric(track.ID(), service, spec.Name, value))
			}
		}
	}
	if len(fresh) == 0 {
		return fresh, failed, nil
	}

	err = m.store.WithUnitOfWork(ctx, func(tx *repositories.Store) error {
		if len(metrics) > 0 {
			if err := tx.Metrics.BulkPut(ctx, metrics); err != nil {
				return err
			}
		}
		for _, track := range mapped {
			bag, ok := fresh[track.ID()]
			if !ok {
				continue
			}
			externalID, _ := track.ConnectorID(service)
			if err := tx.ConnectorTracks.UpdateMetadata(ctx, service, externalID, bag, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to persist metadata: %w", err)
	}
	return fresh, failed, nil
}

// GetCachedMetadata returns the stored attribute bags for the given tracks on
// a service, without touching the network. Tracks without a mapping or a
// cached bag have no entry.
func (m *Manager) GetCachedMetadata(ctx context.Context, trackIDs []int64, service string) (map[int64]models.Attributes, error) {
	cached := make(map[int64]models.Attributes, len(trackIDs))
	if len(trackIDs) == 0 {
		return cached, nil
	}

	mappings, err := m.store.Mappings.GetByTracks(ctx, trackIDs, service)
	if err != nil {
		return nil, err
	}
	if len(mappings) == 0 {
		return cached, nil
	}

	connectorIDs := make([]int64, 0, len(mappings))
	byConnector := make(map[int64]int64, len(mappings))
	for _, info := range mappings {
		connectorIDs = append(connectorIDs, info.ConnectorTrackID)
		byConnector[info.ConnectorTrackID] = info.TrackID
	}

	records, err := m.store.ConnectorTracks.GetByIDs(ctx, connectorIDs)
	if err != nil {
		return nil, err
	}
	for connectorID, rec := range records {
		if bag := rec.RawMetadata(); len(bag) > 0 {
			cached[byConnector[connectorID]] = bag
		}
	}
	return cached, nil
}

// GetAllMetadata returns cached bags overlaid with any entries from fresh.
func (m *Manager) GetAllMetadata(ctx context.Context, trackIDs []int64, service string, fresh map[int64]models.Attributes) (map[int64]models.Attributes, error) {
	merged, err := m.GetCachedMetadata(ctx, trackIDs, service)
	if err != nil {
		return nil, err
	}
	for id, bag := range fresh {
		merged[id] = bag
	}
	return merged, nil
}

// StaleTrackIDs returns the tracks whose stored observation for a metric is
// missing or older than the metric's registered TTL.
func (m *Manager) StaleTrackIDs(ctx context.Context, trackIDs []int64, service, metric string) ([]int64, error) {
	return m.store.Metrics.Stale(ctx, trackIDs, metric, service, m.registry.TTL(metric))
}

// MetricValues returns fresh values for a metric, honoring its TTL.
func (m *Manager) MetricValues(ctx context.Context, trackIDs []int64, service, metric string) (map[int64]float64, error) {
	return m.store.Metrics.Get(ctx, trackIDs, metric, service, m.registry.TTL(metric))
}

// asAttributes is the sole conversion point from adapter payloads to
// attribute bags. Dispatch: [models.AttributeMapper] implementations flatten
// themselves; plain maps pass through; anything else takes a JSON structural
// round trip.
func asAttributes(v any) (models.Attributes, error) {
	switch payload := v.(type) {
	case models.AttributeMapper:
		return models.Attributes(payload.AttributeMap()), nil
	case models.Attributes:
		return payload, nil
	case map[string]any:
		return models.Attributes(payload), nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to convert %T to attributes: %w", v, err)
	}
	var bag models.Attributes
	if err := json.Unmarshal(data, &bag); err != nil {
		return nil, fmt.Errorf("failed to convert %T to attributes: %w", v, err)
	}
	return bag, nil
}
