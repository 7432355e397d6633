package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/avriley/syncopate/internal/models"
	"github.com/avriley/syncopate/internal/tasks"
)

// LikesImportSpotify pages Spotify liked tracks into the library.
func (r *Runner) LikesImportSpotify(ctx context.Context, cmd *cli.Command) error {
	if err := r.bootstrap(ctx); err != nil {
		return err
	}

	result := r.likeEngine().ImportLikes(ctx, models.ServiceSpotify, tasks.LikeSyncOptions{
		Username: r.checkpointUser(cmd.String("user")),
		Limit:    int(cmd.Int("limit")),
	})
	return r.writeResult(result, cmd.Bool("json"))
}

// LikesExportLastfm loves unsynced library likes on Last.fm.
func (r *Runner) LikesExportLastfm(ctx context.Context, cmd *cli.Command) error {
	if err := r.bootstrap(ctx); err != nil {
		return err
	}

	result := r.likeEngine().ExportLikes(ctx, models.ServiceLastfm, tasks.LikeSyncOptions{
		Username: r.checkpointUser(cmd.String("user")),
	})
	return r.writeResult(result, cmd.Bool("json"))
}
