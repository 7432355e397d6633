package tasks

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/avriley/syncopate/internal/matching"
	"github.com/avriley/syncopate/internal/models"
	"github.com/avriley/syncopate/internal/repositories"
	"github.com/avriley/syncopate/internal/services"
	"github.com/avriley/syncopate/internal/shared"
)

// PlaylistEngine publishes library playlists to external services. Track
// identity goes through the resolver, so pushing never re-matches tracks the
// library already knows on the target service.
type PlaylistEngine struct {
	store    *repositories.Store
	adapters *services.Registry
	resolver *matching.Resolver
	logger   *log.Logger
}

// NewPlaylistEngine creates a playlist push engine.
func NewPlaylistEngine(store *repositories.Store, adapters *services.Registry, resolver *matching.Resolver, logger *log.Logger) *PlaylistEngine {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &PlaylistEngine{store: store, adapters: adapters, resolver: resolver, logger: logger}
}

// Push publishes a named library playlist to a service, creating the remote
// playlist on first push and replacing its contents afterwards. Tracks that
// cannot be resolved on the target are skipped and counted.
func (e *PlaylistEngine) Push(ctx context.Context, name, service string) *models.OperationResult {
	result := models.NewOperationResult("push_playlist", service, "", uuid.NewString())

	adapter, err := e.adapters.Get(service)
	if err != nil {
		return result.Fail(err)
	}
	writer, ok := adapter.(services.PlaylistWriter)
	if !ok {
		return result.Fail(fmt.Errorf("%w: %s cannot write playlists", shared.ErrCapability, service))
	}

	playlist, err := e.store.Playlists.GetByName(ctx, name)
	if err != nil {
		return result.Fail(err)
	}

	trackIDs := playlist.TrackIDs()
	result.Processed = len(trackIDs)
	if len(trackIDs) == 0 {
		result.Details["playlist_id"] = playlist.ID()
		return result.Finish()
	}

	tracks, err := e.store.Tracks.FindByIDs(ctx, trackIDs)
	if err != nil {
		return result.Fail(err)
	}
	ordered := make([]*models.Track, 0, len(trackIDs))
	for _, id := range trackIDs {
		if track, ok := tracks[id]; ok {
			ordered = append(ordered, track)
		}
	}

	resolved, err := e.resolver.ResolveTracks(ctx, ordered, service)
	if err != nil {
		return result.Fail(err)
	}

	externalIDs := make([]string, 0, len(trackIDs))
	for _, id := range trackIDs {
		match, ok := resolved[id]
		if !ok {
			result.Skipped++
			if track, found := tracks[id]; found {
				result.AddError("no %s identity for %q", service, track.Title())
			} else {
				result.AddError("track %d not found in library", id)
			}
			continue
		}
		externalIDs = append(externalIDs, match.ConnectorID)
	}
	if len(externalIDs) == 0 {
		result.Success = false
		result.AddError("no tracks resolvable on %s", service)
		return result.Finish()
	}

	externalPlaylistID, hasRemote := playlist.ConnectorID(service)
	if !hasRemote {
		externalPlaylistID, err = writer.CreatePlaylist(ctx, playlist.Name(), playlist.Description())
		if err != nil {
			return result.Fail(fmt.Errorf("failed to create playlist on %s: %w", service, err))
		}
		if err := playlist.SetConnectorID(service, externalPlaylistID); err != nil {
			return result.Fail(err)
		}
		if err := e.store.WithUnitOfWork(ctx, func(tx *repositories.Store) error {
			return tx.Playlists.Save(ctx, playlist)
		}); err != nil {
			return result.Fail(err)
		}
	}

	if err := writer.ReplacePlaylistTracks(ctx, externalPlaylistID, externalIDs); err != nil {
		return result.Fail(fmt.Errorf("failed to replace playlist tracks on %s: %w", service, err))
	}

	result.Exported = len(externalIDs)
	result.Details["playlist_id"] = playlist.ID()
	result.Details["external_playlist_id"] = externalPlaylistID
	e.logger.Info("playlist pushed",
		"playlist", playlist.Name(), "service", service,
		"tracks", len(externalIDs), "skipped", result.Skipped)
	return result.Finish()
}
