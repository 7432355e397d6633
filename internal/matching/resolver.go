package matching

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/avriley/syncopate/internal/models"
	"github.com/avriley/syncopate/internal/repositories"
	"github.com/avriley/syncopate/internal/services"
	"github.com/avriley/syncopate/internal/shared"
)

// Resolver settles cross-service track identity. Stored mappings are
// authoritative: a track already mapped to the target service keeps that
// mapping with its persisted confidence, and only residuals go out to the
// matching provider. New resolutions are persisted before being returned.
type Resolver struct {
	store         *repositories.Store
	adapters      *services.Registry
	sync          shared.SyncConfig
	minConfidence int
	logger        *log.Logger
}

// NewResolver creates an identity resolver with the default confidence floor.
func NewResolver(store *repositories.Store, adapters *services.Registry, sync shared.SyncConfig, logger *log.Logger) *Resolver {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Resolver{
		store:         store,
		adapters:      adapters,
		sync:          sync,
		minConfidence: DefaultMinConfidence,
		logger:        logger,
	}
}

// SetMinConfidence overrides the acceptance floor. Refresh flows set zero so
// an existing identity is never silently dropped for scoring low.
func (r *Resolver) SetMinConfidence(n int) { r.minConfidence = n }

// ResolveTracks resolves the given tracks against one service. The returned
// map has an entry per resolved track id; per-track lookup failures leave
// gaps. A database failure while persisting is fatal for the whole call.
func (r *Resolver) ResolveTracks(ctx context.Context, tracks []*models.Track, service string) (map[int64]models.MatchResult, error) {
	results := make(map[int64]models.MatchResult, len(tracks))
	if len(tracks) == 0 {
		return results, nil
	}

	valid := make([]*models.Track, 0, len(tracks))
	byID := make(map[int64]*models.Track, len(tracks))
	for _, track := range tracks {
		if track.ID() == 0 {
			continue
		}
		valid = append(valid, track)
		byID[track.ID()] = track
	}
	if len(valid) == 0 {
		return nil, fmt.Errorf("%w: no resolvable tracks", shared.ErrTrackWithoutID)
	}

	adapter, err := r.adapters.Get(service)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(valid))
	for _, track := range valid {
		ids = append(ids, track.ID())
	}
	existing, err := r.store.Mappings.GetByTracks(ctx, ids, service)
	if err != nil {
		return nil, err
	}
	for _, info := range existing {
		track := byID[info.TrackID]
		if track == nil {
			continue
		}
		track.SetConnectorID(service, info.ExternalID)
		results[info.TrackID] = models.MatchResult{
			Track:       track,
			ConnectorID: info.ExternalID,
			Confidence:  info.Confidence,
			Method:      models.MethodExistingMapping,
			Evidence:    info.Evidence,
		}
	}

	var residual []*models.Track
	for _, track := range valid {
		if _, ok := results[track.ID()]; !ok {
			residual = append(residual, track)
		}
	}
	if len(residual) == 0 {
		return results, nil
	}

	provider := NewProvider(adapter, r.sync.MatchBatchSize, r.minConfidence, r.logger)
	matched := provider.Match(ctx, residual)
	if len(matched) == 0 {
		return results, nil
	}

	if err := r.persist(ctx, service, matched); err != nil {
		return nil, err
	}
	for id, result := range matched {
		result.Track.SetConnectorID(service, result.ConnectorID)
		results[id] = result
	}

	r.logger.Info("resolved tracks",
		"service", service, "requested", len(valid),
		"existing", len(existing), "matched", len(matched))
	return results, nil
}

// persist writes the connector tracks and mapping edges for freshly matched
// tracks in one unit of work.
func (r *Resolver) persist(ctx context.Context, service string, matched map[int64]models.MatchResult) error {
	records := make([]*models.ConnectorTrack, 0, len(matched))
	order := make([]models.MatchResult, 0, len(matched))
	for _, result := range matched {
		records = append(records, connectorTrackFromInfo(service, result.Candidate))
		order = append(order, result)
	}

	return r.store.WithUnitOfWork(ctx, func(tx *repositories.Store) error {
		if err := tx.ConnectorTracks.BulkUpsert(ctx, records); err != nil {
			return err
		}
		mappings := make([]*models.TrackMapping, 0, len(order))
		for i, result := range order {
			mappings = append(mappings, models.NewTrackMapping(
				result.Track.ID(), records[i].ID(), result.Method, result.Confidence, result.Evidence))
		}
		return tx.Mappings.BulkUpsert(ctx, mappings)
	})
}

// trackFromInfo builds a library track from an external description.
func trackFromInfo(info models.TrackInfo) *models.Track {
	track := models.NewTrack(info.Title, info.Artists)
	track.SetAlbum(info.Album)
	track.SetDurationMS(info.DurationMS)
	track.SetReleaseDate(info.ReleaseDate)
	track.SetISRC(info.ISRC)
	return track
}

// connectorTrackFromInfo builds a connector track record from a candidate
// description.
func connectorTrackFromInfo(service string, info models.TrackInfo) *models.ConnectorTrack {
	rec := models.NewConnectorTrack(service, info.ExternalID, info.Title, info.Artists)
	rec.SetAlbum(info.Album)
	rec.SetDurationMS(info.DurationMS)
	rec.SetReleaseDate(info.ReleaseDate)
	rec.SetISRC(info.ISRC)
	return rec
}
