package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"

	"github.com/avriley/syncopate/internal/models"
	"github.com/avriley/syncopate/internal/repositories"
	"github.com/avriley/syncopate/internal/services"
	"github.com/avriley/syncopate/internal/shared"
)

// DefaultPageLimit is the page size strategies use when the caller gives none.
const DefaultPageLimit = 50

// spotifyExportRecord is one entry of a Spotify personal-data export file.
type spotifyExportRecord struct {
	TS            string `json:"ts"`
	TrackURI      string `json:"spotify_track_uri"`
	TrackName     string `json:"master_metadata_track_name"`
	ArtistName    string `json:"master_metadata_album_artist_name"`
	AlbumName     string `json:"master_metadata_album_album_name"`
	MSPlayed      *int64 `json:"ms_played"`
	Platform      string `json:"platform"`
	ConnCountry   string `json:"conn_country"`
	ReasonStart   string `json:"reason_start"`
	ReasonEnd     string `json:"reason_end"`
	Shuffle       bool   `json:"shuffle"`
	Skipped       bool   `json:"skipped"`
	Offline       bool   `json:"offline"`
	IncognitoMode bool   `json:"incognito_mode"`
}

// SpotifyFileStrategy feeds the import engine from a Spotify personal-data
// export file. The file is parsed once on the first fetch and served in pages;
// records without a track URI or title are skipped with a warning. File runs
// never touch checkpoints.
type SpotifyFileStrategy struct {
	path    string
	logger  *log.Logger
	records []models.PlayRecord
	loaded  bool
}

// NewSpotifyFileStrategy creates a file-mode strategy for an export at path.
func NewSpotifyFileStrategy(path string, logger *log.Logger) *SpotifyFileStrategy {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &SpotifyFileStrategy{path: path, logger: logger}
}

func (s *SpotifyFileStrategy) Service() string  { return models.ServiceSpotify }
func (s *SpotifyFileStrategy) Strategy() string { return StrategyFile }

// Fetch parses the export on first call, then serves one page per call.
func (s *SpotifyFileStrategy) Fetch(ctx context.Context, state *FetchState) ([]models.PlayRecord, bool, error) {
	if !s.loaded {
		if err := s.load(state); err != nil {
			return nil, false, err
		}
		s.loaded = true
	}

	limit := state.Limit
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	start := (state.Page - 1) * limit
	if start >= len(s.records) {
		return nil, false, nil
	}
	end := min(start+limit, len(s.records))
	return s.records[start:end], end < len(s.records), nil
}

// Checkpoint is a no-op: a file is a fixed snapshot, not a feed.
func (s *SpotifyFileStrategy) Checkpoint(ctx context.Context, state *FetchState, maxPlayedAt time.Time) error {
	return nil
}

func (s *SpotifyFileStrategy) load(state *FetchState) error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read export file: %w", err)
	}

	var raw []spotifyExportRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: export file is not a JSON record array: %v", shared.ErrInvalidInput, err)
	}

	s.records = make([]models.PlayRecord, 0, len(raw))
	for i, entry := range raw {
		if entry.TrackURI == "" || entry.TrackName == "" {
			s.logger.Warn("skipping export record without track", "index", i, "ts", entry.TS)
			state.Malformed++
			continue
		}
		playedAt, err := time.Parse(time.RFC3339, entry.TS)
		if err != nil {
			s.logger.Warn("skipping export record with bad timestamp", "index", i, "ts", entry.TS)
			state.Malformed++
			continue
		}
		s.records = append(s.records, models.PlayRecord{
			Service:    models.ServiceSpotify,
			ExternalID: entry.TrackURI,
			Title:      entry.TrackName,
			Artist:     entry.ArtistName,
			Album:      entry.AlbumName,
			PlayedAt:   playedAt.UTC(),
			MSPlayed:   entry.MSPlayed,
			Raw: models.Attributes{
				"platform":       entry.Platform,
				"conn_country":   entry.ConnCountry,
				"reason_start":   entry.ReasonStart,
				"reason_end":     entry.ReasonEnd,
				"shuffle":        entry.Shuffle,
				"skipped":        entry.Skipped,
				"offline":        entry.Offline,
				"incognito_mode": entry.IncognitoMode,
			},
		})
	}
	return nil
}

// RecentStrategy imports the head of a service's listening history, up to the
// caller's limit. It never advances checkpoints, so it composes with the
// explicit full-history reset.
type RecentStrategy struct {
	service string
	pager   services.RecentPlaysPager
	served  int
}

// NewRecentStrategy creates a head-only strategy over a service's pager.
func NewRecentStrategy(service string, pager services.RecentPlaysPager) *RecentStrategy {
	return &RecentStrategy{service: service, pager: pager}
}

func (s *RecentStrategy) Service() string  { return s.service }
func (s *RecentStrategy) Strategy() string { return StrategyRecent }

// Fetch pages forward through the head of history until the limit is served
// or the feed runs out.
func (s *RecentStrategy) Fetch(ctx context.Context, state *FetchState) ([]models.PlayRecord, bool, error) {
	limit := state.Limit
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	remaining := limit - s.served
	if remaining <= 0 {
		return nil, false, nil
	}

	pageSize := min(remaining, DefaultPageLimit)
	records, more, err := s.pager.GetRecentPlays(ctx, pageSize, nil, state.Page)
	if err != nil {
		return nil, false, err
	}
	if len(records) > remaining {
		records = records[:remaining]
		more = false
	}
	s.served += len(records)
	return records, more && s.served < limit, nil
}

// Checkpoint is a no-op for recent imports.
func (s *RecentStrategy) Checkpoint(ctx context.Context, state *FetchState, maxPlayedAt time.Time) error {
	return nil
}

// IncrementalStrategy imports everything after the stored checkpoint and
// advances it to the newest play seen. The repository enforces that advances
// stay monotonic.
type IncrementalStrategy struct {
	service string
	pager   services.RecentPlaysPager
	store   *repositories.Store
}

// NewIncrementalStrategy creates a checkpoint-driven strategy over a service's
// pager.
func NewIncrementalStrategy(service string, pager services.RecentPlaysPager, store *repositories.Store) *IncrementalStrategy {
	return &IncrementalStrategy{service: service, pager: pager, store: store}
}

func (s *IncrementalStrategy) Service() string  { return s.service }
func (s *IncrementalStrategy) Strategy() string { return StrategyIncremental }

// Fetch pages forward from the checkpoint timestamp. A nil checkpoint
// timestamp means full history.
func (s *IncrementalStrategy) Fetch(ctx context.Context, state *FetchState) ([]models.PlayRecord, bool, error) {
	limit := state.Limit
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	var from *time.Time
	if state.Checkpoint != nil {
		from = state.Checkpoint.LastTimestamp()
	}
	return s.pager.GetRecentPlays(ctx, limit, from, state.Page)
}

// Checkpoint advances the stored timestamp to the newest play seen.
func (s *IncrementalStrategy) Checkpoint(ctx context.Context, state *FetchState, maxPlayedAt time.Time) error {
	cp := state.Checkpoint
	if cp == nil {
		cp = models.NewSyncCheckpoint(state.UserID, s.service, models.EntityPlays)
		state.Checkpoint = cp
	}
	if !cp.Advance(maxPlayedAt) {
		return nil
	}
	if err := s.store.Checkpoints.Save(ctx, cp); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// ResetCheckpoint clears the stored play checkpoint for a user and service.
// Full-history imports call this before running a recent import with a large
// limit; it is the only way a checkpoint moves backwards.
func (e *ImportEngine) ResetCheckpoint(ctx context.Context, username, service string) error {
	if username == "" {
		username = DefaultUsername
	}
	user, err := e.store.Users.GetOrCreate(ctx, username)
	if err != nil {
		return err
	}
	if err := e.store.Checkpoints.Reset(ctx, user.ID(), service, models.EntityPlays); err != nil {
		return fmt.Errorf("failed to reset checkpoint: %w", err)
	}
	e.logger.Info("checkpoint reset", "user", username, "service", service)
	return nil
}
