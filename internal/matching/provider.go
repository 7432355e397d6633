package matching

import (
	"context"
	"errors"

	"github.com/charmbracelet/log"

	"github.com/avriley/syncopate/internal/batch"
	"github.com/avriley/syncopate/internal/models"
	"github.com/avriley/syncopate/internal/services"
	"github.com/avriley/syncopate/internal/shared"
)

// DefaultMinConfidence is the acceptance floor for matches produced while
// resolving unmapped tracks.
const DefaultMinConfidence = 70

// Provider matches internal tracks against one service through whatever
// search capabilities its adapter exposes. Two passes: an ISRC lookup for
// tracks that carry one, then an artist/title search for the rest. Candidates
// are scored and dropped below the confidence floor.
type Provider struct {
	adapter       services.Adapter
	batchSize     int
	minConfidence int
	logger        *log.Logger
}

// NewProvider creates a matching provider over an adapter. A zero batch size
// falls back to the executor default; minConfidence 0 accepts everything.
func NewProvider(adapter services.Adapter, batchSize, minConfidence int, logger *log.Logger) *Provider {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Provider{adapter: adapter, batchSize: batchSize, minConfidence: minConfidence, logger: logger}
}

// Match resolves tracks against the provider's service. The returned map has
// an entry per track that produced an accepted candidate; lookup failures and
// rejected candidates leave gaps.
func (p *Provider) Match(ctx context.Context, tracks []*models.Track) map[int64]models.MatchResult {
	results := make(map[int64]models.MatchResult, len(tracks))
	if len(tracks) == 0 {
		return results
	}

	remaining := tracks

	if searcher, ok := p.adapter.(services.ISRCSearcher); ok {
		var withISRC, without []*models.Track
		for _, track := range remaining {
			if track.ISRC() != "" {
				withISRC = append(withISRC, track)
			} else {
				without = append(without, track)
			}
		}

		p.runPass(ctx, withISRC, results, models.MethodISRC, func(ctx context.Context, track *models.Track) (models.Attributes, error) {
			return searcher.SearchByISRC(ctx, track.ISRC())
		})

		remaining = without
		for _, track := range withISRC {
			if _, ok := results[track.ID()]; !ok {
				remaining = append(remaining, track)
			}
		}
	}

	if searcher, ok := p.adapter.(services.TrackSearcher); ok {
		p.runPass(ctx, remaining, results, models.MethodArtistTitle, func(ctx context.Context, track *models.Track) (models.Attributes, error) {
			return searcher.SearchTrack(ctx, track.FirstArtist(), track.Title())
		})
	}

	return results
}

// runPass maps a lookup over tracks through the batch executor, scores each
// candidate and records the accepted ones.
func (p *Provider) runPass(ctx context.Context, tracks []*models.Track, results map[int64]models.MatchResult, passMethod string, lookup func(context.Context, *models.Track) (models.Attributes, error)) {
	if len(tracks) == 0 {
		return
	}

	out := batch.Run(ctx, tracks, lookup, batch.Options{BatchSize: p.batchSize, Retryable: lookupRetryable})
	for i, res := range out.Results {
		track := tracks[i]
		if res.Err != nil {
			if !errors.Is(res.Err, shared.ErrTrackNotFound) {
				p.logger.Warn("track lookup failed",
					"service", p.adapter.Name(), "track_id", track.ID(), "err", res.Err)
			}
			continue
		}

		candidate := InfoFromAttributes(res.Value)
		if candidate.ExternalID == "" {
			continue
		}

		method := candidateMethod(passMethod, candidate)
		score, evidence := Score(track.Info(), candidate, method)
		if score < p.minConfidence {
			p.logger.Debug("candidate below confidence floor",
				"service", p.adapter.Name(), "track_id", track.ID(),
				"candidate", candidate.ExternalID, "score", score)
			continue
		}

		result := models.MatchResult{
			Track:       track,
			ConnectorID: candidate.ExternalID,
			Confidence:  score,
			Method:      method,
			Evidence:    &evidence,
			Candidate:   candidate,
		}
		if existing, ok := results[track.ID()]; !ok || betterResult(result, existing) {
			results[track.ID()] = result
		}
	}
}

// candidateMethod names the lookup behind a candidate. An ISRC lookup whose
// candidate is identified by a MusicBrainz id records mbid instead of isrc.
func candidateMethod(passMethod string, candidate models.TrackInfo) string {
	if passMethod == models.MethodISRC && candidate.MBID != "" && candidate.MBID == candidate.ExternalID {
		return models.MethodMBID
	}
	return passMethod
}

// lookupRetryable keeps the executor's default policy but treats an empty
// search result as final rather than transient.
func lookupRetryable(err error) bool {
	return batch.DefaultRetryable(err) && !errors.Is(err, shared.ErrTrackNotFound)
}

// methodRank orders match methods for tie-breaking: identifier lookups beat
// fuzzy search.
func methodRank(method string) int {
	switch method {
	case models.MethodISRC:
		return 3
	case models.MethodMBID:
		return 2
	case models.MethodArtistTitle:
		return 1
	}
	return 0
}

// betterResult decides whether a beats b: method rank, then score, then the
// candidate's own popularity, then lexicographically smaller external id so
// the choice is deterministic.
func betterResult(a, b models.MatchResult) bool {
	if ra, rb := methodRank(a.Method), methodRank(b.Method); ra != rb {
		return ra > rb
	}
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if a.Candidate.Popularity != b.Candidate.Popularity {
		return a.Candidate.Popularity > b.Candidate.Popularity
	}
	return a.ConnectorID < b.ConnectorID
}

// InfoFromAttributes flattens an adapter search payload into the scorer's
// input shape. Missing keys yield zero fields; a candidate with an MBID but no
// external id uses the MBID as its id.
func InfoFromAttributes(bag models.Attributes) models.TrackInfo {
	info := models.TrackInfo{
		Title:       bag.String("title"),
		Artists:     bag.Strings("artists"),
		Album:       bag.String("album"),
		ReleaseDate: bag.String("release_date"),
		ISRC:        models.NormalizeISRC(bag.String("isrc")),
		MBID:        bag.String("mbid"),
		ExternalID:  bag.String("external_id"),
	}
	if len(info.Artists) == 0 {
		if artist := bag.String("artist"); artist != "" {
			info.Artists = []string{artist}
		}
	}
	if ms, ok := bag.Int("duration_ms"); ok {
		info.DurationMS = &ms
	}
	if pop, ok := bag.Float("popularity"); ok {
		info.Popularity = pop
	} else if listeners, ok := bag.Float("listeners"); ok {
		info.Popularity = listeners
	}
	if info.ExternalID == "" && info.MBID != "" {
		info.ExternalID = info.MBID
	}
	return info
}
