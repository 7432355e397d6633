package matching

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/avriley/syncopate/internal/batch"
	"github.com/avriley/syncopate/internal/models"
	"github.com/avriley/syncopate/internal/repositories"
	"github.com/avriley/syncopate/internal/services"
	"github.com/avriley/syncopate/internal/shared"
)

// PlayResolver turns raw play records into track references. Three stages,
// each feeding the next its leftovers: direct id lookup against the service,
// then a scored artist/title search, then preservation. Every input record
// yields exactly one resolution; nothing is ever dropped for being
// unresolvable, a record without an identity keeps its metadata and a nil
// track id.
type PlayResolver struct {
	store   *repositories.Store
	adapter services.Adapter
	logger  *log.Logger
}

// NewPlayResolver creates a play resolver over one service adapter.
func NewPlayResolver(store *repositories.Store, adapter services.Adapter, logger *log.Logger) *PlayResolver {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &PlayResolver{store: store, adapter: adapter, logger: logger}
}

// pendingIngest is a track observed during resolution that does not exist in
// the library yet. Persisted in one unit of work at the end of the run.
type pendingIngest struct {
	track    *models.Track
	record   *models.ConnectorTrack
	method   string
	score    int
	evidence *models.MatchEvidence
}

// ResolvePlays resolves a batch of raw play records. Returns one resolution
// per input record, in input order, plus per-stage counts. A database failure
// while persisting newly observed tracks is fatal; remote lookup failures
// only push records to the next stage.
func (pr *PlayResolver) ResolvePlays(ctx context.Context, records []models.PlayRecord) ([]models.PlayResolution, models.ResolutionStats, error) {
	resolutions := make([]models.PlayResolution, len(records))
	var stats models.ResolutionStats
	if len(records) == 0 {
		return resolutions, stats, nil
	}

	service := pr.adapter.Name()
	bags := pr.fetchDirect(ctx, records)

	known := map[string]int64{}
	pending := map[string]*pendingIngest{}
	type deferred struct {
		index int
		extID string
	}
	var fills []deferred
	var unresolved []int

	for i, record := range records {
		extID, relinked, bag, ok := pr.directIdentity(record, bags)
		if !ok {
			unresolved = append(unresolved, i)
			continue
		}

		info := playInfo(record)
		meta := preservedMetadata(record)
		if bag != nil {
			info = InfoFromAttributes(bag)
			meta = bag
		}
		info.ExternalID = extID

		ingested, err := pr.ensureTrack(ctx, service, extID, info, models.MethodDirect, 100, nil, known, pending)
		if err != nil {
			return nil, stats, err
		}
		if !ingested {
			unresolved = append(unresolved, i)
			continue
		}

		method := models.MethodDirectID
		if relinked {
			method = models.MethodRelinkedID
		}
		resolutions[i] = models.PlayResolution{
			URI:        recordURI(record),
			Method:     method,
			Confidence: 100,
			Metadata:   meta,
		}
		fills = append(fills, deferred{i, extID})
	}

	if searcher, ok := pr.adapter.(services.TrackSearcher); ok && len(unresolved) > 0 {
		searchable := make([]int, 0, len(unresolved))
		for _, i := range unresolved {
			if records[i].Title != "" && records[i].Artist != "" {
				searchable = append(searchable, i)
			}
		}

		out := batch.Run(ctx, searchable, func(ctx context.Context, i int) (models.Attributes, error) {
			return searcher.SearchTrack(ctx, records[i].Artist, records[i].Title)
		}, batch.Options{Retryable: lookupRetryable})

		for k, res := range out.Results {
			i := searchable[k]
			if res.Err != nil {
				if !errors.Is(res.Err, shared.ErrTrackNotFound) {
					pr.logger.Warn("play search failed", "service", service, "title", records[i].Title, "err", res.Err)
				}
				continue
			}

			candidate := InfoFromAttributes(res.Value)
			if candidate.ExternalID == "" || candidate.Title == "" {
				continue
			}
			score, evidence := Score(playInfo(records[i]), candidate, models.MethodArtistTitle)
			if score < DefaultMinConfidence {
				continue
			}

			ingested, err := pr.ensureTrack(ctx, service, candidate.ExternalID, candidate,
				models.MethodArtistTitle, score, &evidence, known, pending)
			if err != nil {
				return nil, stats, err
			}
			if !ingested {
				continue
			}

			resolutions[i] = models.PlayResolution{
				URI:        recordURI(records[i]),
				Method:     models.MethodSearchMatch,
				Confidence: score,
				Evidence:   &evidence,
				Metadata:   res.Value,
			}
			fills = append(fills, deferred{i, candidate.ExternalID})
		}
	}

	if err := pr.persist(ctx, pending); err != nil {
		return nil, stats, err
	}
	for _, f := range fills {
		id, ok := known[f.extID]
		if !ok {
			if p := pending[f.extID]; p != nil {
				id = p.track.ID()
			}
		}
		if id != 0 {
			trackID := id
			resolutions[f.index].TrackID = &trackID
		}
	}

	for i, record := range records {
		if resolutions[i].Method == "" {
			resolutions[i] = models.PlayResolution{
				URI:      recordURI(record),
				Method:   models.MethodPreservedMetadata,
				Metadata: preservedMetadata(record),
			}
		}
	}

	for _, res := range resolutions {
		switch res.Method {
		case models.MethodDirectID:
			stats.DirectID++
		case models.MethodRelinkedID:
			stats.RelinkedID++
		case models.MethodSearchMatch:
			stats.SearchMatch++
		case models.MethodPreservedMetadata:
			stats.PreservedMetadata++
		}
		if res.TrackID != nil {
			stats.TotalWithTrackID++
		}
	}
	return resolutions, stats, nil
}

// fetchDirect bulk-fetches current track descriptions for records carrying a
// parseable track URI, when the adapter can batch-get. A failed fetch is not
// fatal: the affected records just fall through to the search stage.
func (pr *PlayResolver) fetchDirect(ctx context.Context, records []models.PlayRecord) map[string]models.Attributes {
	getter, ok := pr.adapter.(services.TrackBatchGetter)
	if !ok {
		return nil
	}

	seen := map[string]bool{}
	var ids []string
	for _, record := range records {
		if id, ok := parseTrackURI(record.ExternalID); ok && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	bags, err := getter.BatchGetTracks(ctx, ids)
	if err != nil {
		pr.logger.Warn("bulk track fetch failed", "service", pr.adapter.Name(), "ids", len(ids), "err", err)
		return nil
	}
	return bags
}

// directIdentity extracts the stage-one identity of a record: the external id
// to resolve against, whether the service relinked it, and the fetched
// description when one exists. Records with a MusicBrainz id resolve on it
// directly without a fetch.
func (pr *PlayResolver) directIdentity(record models.PlayRecord, bags map[string]models.Attributes) (string, bool, models.Attributes, bool) {
	if id, ok := parseTrackURI(record.ExternalID); ok {
		bag, ok := bags[id]
		if !ok {
			return "", false, nil, false
		}
		extID := bag.String("external_id")
		if extID == "" {
			extID = id
		}
		return extID, bag.String("linked_from") != "", bag, true
	}
	if record.MBID != "" {
		return record.MBID, false, nil, true
	}
	return "", false, nil, false
}

// ensureTrack makes sure a library track exists for an external id, either by
// finding the one already mapped to it or by queueing a new ingest. Returns
// false when the description is too thin to create a valid track.
func (pr *PlayResolver) ensureTrack(ctx context.Context, service, extID string, info models.TrackInfo, method string, score int, evidence *models.MatchEvidence, known map[string]int64, pending map[string]*pendingIngest) (bool, error) {
	if _, ok := known[extID]; ok {
		return true, nil
	}
	if _, ok := pending[extID]; ok {
		return true, nil
	}

	track, err := pr.store.Tracks.FindByExternal(ctx, service, extID)
	switch {
	case err == nil:
		known[extID] = track.ID()
		return true, nil
	case errors.Is(err, shared.ErrNotFound):
	default:
		return false, fmt.Errorf("failed to look up track %s/%s: %w", service, extID, err)
	}

	created := trackFromInfo(info)
	if created.Validate() != nil {
		return false, nil
	}
	info.ExternalID = extID
	pending[extID] = &pendingIngest{
		track:    created,
		record:   connectorTrackFromInfo(service, info),
		method:   method,
		score:    score,
		evidence: evidence,
	}
	return true, nil
}

// persist writes all queued ingests in one unit of work.
func (pr *PlayResolver) persist(ctx context.Context, pending map[string]*pendingIngest) error {
	if len(pending) == 0 {
		return nil
	}

	return pr.store.WithUnitOfWork(ctx, func(tx *repositories.Store) error {
		records := make([]*models.ConnectorTrack, 0, len(pending))
		order := make([]*pendingIngest, 0, len(pending))
		for _, p := range pending {
			if err := tx.Tracks.Save(ctx, p.track); err != nil {
				return err
			}
			records = append(records, p.record)
			order = append(order, p)
		}
		if err := tx.ConnectorTracks.BulkUpsert(ctx, records); err != nil {
			return err
		}

		mappings := make([]*models.TrackMapping, 0, len(order))
		for i, p := range order {
			mappings = append(mappings, models.NewTrackMapping(
				p.track.ID(), records[i].ID(), p.method, p.score, p.evidence))
		}
		return tx.Mappings.BulkUpsert(ctx, mappings)
	})
}

// parseTrackURI extracts the 22-character id from a spotify track URI.
func parseTrackURI(uri string) (string, bool) {
	m := services.SpotifyTrackURI.FindStringSubmatch(uri)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// recordURI names the record in resolutions: the service's id when present,
// otherwise the MusicBrainz id.
func recordURI(record models.PlayRecord) string {
	if record.ExternalID != "" {
		return record.ExternalID
	}
	return record.MBID
}

// playInfo flattens a play record into the scorer's input shape. Track
// duration is unknown for plays, only the listened time is, so the duration
// field stays nil.
func playInfo(record models.PlayRecord) models.TrackInfo {
	info := models.TrackInfo{Title: record.Title, Album: record.Album, MBID: record.MBID}
	if record.Artist != "" {
		info.Artists = []string{record.Artist}
	}
	return info
}

// preservedMetadata builds the resolution bag for a record out of its own
// fields, layered over the raw service payload.
func preservedMetadata(record models.PlayRecord) models.Attributes {
	bag := models.Attributes{}
	for k, v := range record.Raw {
		bag[k] = v
	}
	if record.Title != "" {
		bag["title"] = record.Title
	}
	if record.Artist != "" {
		bag["artist"] = record.Artist
	}
	if record.Album != "" {
		bag["album"] = record.Album
	}
	return bag
}
