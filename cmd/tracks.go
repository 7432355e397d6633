package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/avriley/syncopate/internal/models"
)

// TracksResolve resolves a playlist's tracks against a target service and
// prints the resulting mappings. Stored mappings are reused; only unmapped
// tracks hit the service.
func (r *Runner) TracksResolve(ctx context.Context, cmd *cli.Command) error {
	if err := r.bootstrap(ctx); err != nil {
		return err
	}
	service := cmd.String("service")

	ordered, err := r.playlistTracks(ctx, cmd.String("playlist"))
	if err != nil {
		return err
	}
	if len(ordered) == 0 {
		return r.writePlain("playlist has no tracks\n")
	}

	resolved, err := r.resolver().ResolveTracks(ctx, ordered, service)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		rows := make([]models.Attributes, 0, len(ordered))
		for _, track := range ordered {
			row := models.Attributes{
				"track_id": track.ID(),
				"title":    track.Title(),
				"artist":   track.FirstArtist(),
			}
			if match, ok := resolved[track.ID()]; ok {
				row["external_id"] = match.ConnectorID
				row["method"] = match.Method
				row["confidence"] = match.Confidence
			}
			rows = append(rows, row)
		}
		return r.writeJSON(rows, true)
	}

	for _, track := range ordered {
		match, ok := resolved[track.ID()]
		if !ok {
			if err := r.writePlain("  ? %s - %s: no %s identity\n", track.FirstArtist(), track.Title(), service); err != nil {
				return err
			}
			continue
		}
		if err := r.writePlain("  %3d %s - %s -> %s (%s)\n",
			match.Confidence, track.FirstArtist(), track.Title(), match.ConnectorID, match.Method); err != nil {
			return err
		}
	}
	return r.writePlain("resolved %d of %d tracks on %s\n", len(resolved), len(ordered), service)
}

// TracksRefresh refreshes per-service metadata for the playlist tracks whose
// gating metric has gone stale. Tracks without a mapping are reported, never
// re-matched.
func (r *Runner) TracksRefresh(ctx context.Context, cmd *cli.Command) error {
	if err := r.bootstrap(ctx); err != nil {
		return err
	}
	service := cmd.String("service")
	metric := cmd.String("metric")

	ordered, err := r.playlistTracks(ctx, cmd.String("playlist"))
	if err != nil {
		return err
	}
	ids := make([]int64, 0, len(ordered))
	for _, track := range ordered {
		ids = append(ids, track.ID())
	}

	manager := r.manager()
	stale, err := manager.StaleTrackIDs(ctx, ids, service, metric)
	if err != nil {
		return err
	}
	if len(stale) == 0 {
		return r.writePlain("all %d tracks fresh for %s/%s\n", len(ids), service, metric)
	}

	fresh, failed, err := manager.RefreshMetadata(ctx, stale, service)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(models.Attributes{
			"service":   service,
			"metric":    metric,
			"stale":     len(stale),
			"refreshed": len(fresh),
			"failed":    len(failed),
			"metadata":  fresh,
		}, true)
	}
	return r.writePlain("refreshed %d of %d stale tracks on %s (%d failed)\n",
		len(fresh), len(stale), service, len(failed))
}

// playlistTracks loads a playlist by name and returns its tracks in playlist
// order. Missing tracks are skipped; their absence shows in the counts.
func (r *Runner) playlistTracks(ctx context.Context, name string) ([]*models.Track, error) {
	playlist, err := r.store.Playlists.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}
	trackIDs := playlist.TrackIDs()
	if len(trackIDs) == 0 {
		return nil, nil
	}

	tracks, err := r.store.Tracks.FindByIDs(ctx, trackIDs)
	if err != nil {
		return nil, err
	}
	ordered := make([]*models.Track, 0, len(trackIDs))
	for _, id := range trackIDs {
		if track, ok := tracks[id]; ok {
			ordered = append(ordered, track)
		}
	}
	return ordered, nil
}
