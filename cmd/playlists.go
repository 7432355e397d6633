package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/avriley/syncopate/internal/formatter"
	"github.com/avriley/syncopate/internal/shared"
)

// PlaylistsList prints the library playlists with their track counts and
// published services.
func (r *Runner) PlaylistsList(ctx context.Context, cmd *cli.Command) error {
	if err := r.bootstrap(ctx); err != nil {
		return err
	}

	playlists, err := r.store.Playlists.List(ctx)
	if err != nil {
		return err
	}
	if len(playlists) == 0 {
		return r.writePlain("no playlists\n")
	}

	for _, playlist := range playlists {
		services := make([]string, 0, len(playlist.ConnectorIDs()))
		for service := range playlist.ConnectorIDs() {
			services = append(services, service)
		}
		line := fmt.Sprintf("%s (%d tracks)", playlist.Name(), len(playlist.TrackIDs()))
		if len(services) > 0 {
			line += " published: " + strings.Join(services, ", ")
		}
		if err := r.writePlain("%s\n", line); err != nil {
			return err
		}
	}
	return nil
}

// PlaylistsShow renders one playlist with its ordered tracks.
func (r *Runner) PlaylistsShow(ctx context.Context, cmd *cli.Command) error {
	name := cmd.StringArg("name")
	if name == "" {
		return fmt.Errorf("%w: playlist name", shared.ErrMissingArgument)
	}
	if err := r.bootstrap(ctx); err != nil {
		return err
	}

	playlist, err := r.store.Playlists.GetByName(ctx, name)
	if err != nil {
		return err
	}
	tracks, err := r.store.Tracks.FindByIDs(ctx, playlist.TrackIDs())
	if err != nil {
		return err
	}

	data, err := formatter.PlaylistToText(playlist, tracks)
	if err != nil {
		return err
	}
	_, err = r.output.Write(data)
	return err
}

// PlaylistsPush publishes a playlist to a service, creating the remote
// playlist on first push.
func (r *Runner) PlaylistsPush(ctx context.Context, cmd *cli.Command) error {
	name := cmd.StringArg("name")
	if name == "" {
		return fmt.Errorf("%w: playlist name", shared.ErrMissingArgument)
	}
	if err := r.bootstrap(ctx); err != nil {
		return err
	}

	result := r.playlistEngine().Push(ctx, name, cmd.String("service"))
	return r.writeResult(result, cmd.Bool("json"))
}
