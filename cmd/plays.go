package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/avriley/syncopate/internal/formatter"
	"github.com/avriley/syncopate/internal/models"
	"github.com/avriley/syncopate/internal/services"
	"github.com/avriley/syncopate/internal/shared"
	"github.com/avriley/syncopate/internal/tasks"
)

// PlaysSpotifyFile imports a Spotify personal-data export file.
func (r *Runner) PlaysSpotifyFile(ctx context.Context, cmd *cli.Command) error {
	path := cmd.StringArg("path")
	if path == "" {
		return fmt.Errorf("%w: path to the export file", shared.ErrMissingArgument)
	}
	if err := r.bootstrap(ctx); err != nil {
		return err
	}

	strategy := tasks.NewSpotifyFileStrategy(path, r.logger)
	result := r.importEngine().ImportPlays(ctx, strategy, tasks.ImportOptions{
		ResolveTracks: cmd.Bool("resolve-tracks"),
		Sink:          r.sink(cmd.Bool("quiet")),
	})
	return r.writeResult(result, cmd.Bool("json"))
}

// PlaysSpotifyRecent imports the head of Spotify listening history.
func (r *Runner) PlaysSpotifyRecent(ctx context.Context, cmd *cli.Command) error {
	if err := r.bootstrap(ctx); err != nil {
		return err
	}
	pager, err := r.playsPager(models.ServiceSpotify)
	if err != nil {
		return err
	}

	strategy := tasks.NewRecentStrategy(models.ServiceSpotify, pager)
	result := r.importEngine().ImportPlays(ctx, strategy, tasks.ImportOptions{
		Limit:         int(cmd.Int("limit")),
		ResolveTracks: cmd.Bool("resolve-tracks"),
		Sink:          r.sink(cmd.Bool("quiet")),
	})
	return r.writeResult(result, cmd.Bool("json"))
}

// PlaysLastfmRecent imports the head of Last.fm listening history.
func (r *Runner) PlaysLastfmRecent(ctx context.Context, cmd *cli.Command) error {
	if err := r.bootstrap(ctx); err != nil {
		return err
	}
	pager, err := r.lastfmPager()
	if err != nil {
		return err
	}

	strategy := tasks.NewRecentStrategy(models.ServiceLastfm, pager)
	result := r.importEngine().ImportPlays(ctx, strategy, tasks.ImportOptions{
		Limit:         int(cmd.Int("limit")),
		ResolveTracks: cmd.Bool("resolve-tracks"),
		Sink:          r.sink(cmd.Bool("quiet")),
	})
	return r.writeResult(result, cmd.Bool("json"))
}

// PlaysLastfmIncremental imports Last.fm scrobbles newer than the checkpoint.
func (r *Runner) PlaysLastfmIncremental(ctx context.Context, cmd *cli.Command) error {
	if err := r.bootstrap(ctx); err != nil {
		return err
	}
	pager, err := r.lastfmPager()
	if err != nil {
		return err
	}

	strategy := tasks.NewIncrementalStrategy(models.ServiceLastfm, pager, r.store)
	result := r.importEngine().ImportPlays(ctx, strategy, tasks.ImportOptions{
		Username:      r.checkpointUser(cmd.String("user")),
		Limit:         int(cmd.Int("limit")),
		ResolveTracks: cmd.Bool("resolve-tracks"),
		Sink:          r.sink(cmd.Bool("quiet")),
	})
	return r.writeResult(result, cmd.Bool("json"))
}

// PlaysLastfmFull resets the play checkpoint and re-imports history from the
// top. The reset is destructive, so it runs only with --confirm.
func (r *Runner) PlaysLastfmFull(ctx context.Context, cmd *cli.Command) error {
	if !cmd.Bool("confirm") {
		return fmt.Errorf("%w: pass --confirm to reset the checkpoint and re-import", shared.ErrMissingArgument)
	}
	if err := r.bootstrap(ctx); err != nil {
		return err
	}
	pager, err := r.lastfmPager()
	if err != nil {
		return err
	}

	engine := r.importEngine()
	username := r.checkpointUser(cmd.String("user"))
	if err := engine.ResetCheckpoint(ctx, username, models.ServiceLastfm); err != nil {
		return err
	}

	strategy := tasks.NewRecentStrategy(models.ServiceLastfm, pager)
	result := engine.ImportPlays(ctx, strategy, tasks.ImportOptions{
		Username: username,
		Limit:    int(cmd.Int("limit")),
		Sink:     r.sink(cmd.Bool("quiet")),
	})
	return r.writeResult(result, cmd.Bool("json"))
}

// PlaysExport writes the plays of one import batch as CSV, text or JSON.
func (r *Runner) PlaysExport(ctx context.Context, cmd *cli.Command) error {
	if err := r.bootstrap(ctx); err != nil {
		return err
	}

	plays, err := r.store.Plays.GetByBatch(ctx, cmd.String("batch-id"))
	if err != nil {
		return err
	}
	if len(plays) == 0 {
		return r.writePlain("no plays recorded for batch %s\n", cmd.String("batch-id"))
	}

	if path := cmd.String("output"); path != "" {
		written, err := formatter.WritePlaysExport(plays, cmd.String("format"), path)
		if err != nil {
			return err
		}
		return r.writePlain("exported %d plays to %s\n", len(plays), written)
	}

	var data []byte
	switch cmd.String("format") {
	case "csv", "":
		data, err = formatter.PlaysToCSV(plays)
	case "text":
		data, err = formatter.PlaysToText(plays)
	default:
		return fmt.Errorf("%w: format %q", shared.ErrInvalidFlag, cmd.String("format"))
	}
	if err != nil {
		return err
	}
	_, err = r.output.Write(data)
	return err
}

// lastfmPager returns the Last.fm adapter's recent-plays capability.
func (r *Runner) lastfmPager() (services.RecentPlaysPager, error) {
	return r.playsPager(models.ServiceLastfm)
}

// playsPager returns a service's recent-plays capability.
func (r *Runner) playsPager(service string) (services.RecentPlaysPager, error) {
	adapter, err := r.adapters.Get(service)
	if err != nil {
		return nil, err
	}
	pager, ok := adapter.(services.RecentPlaysPager)
	if !ok {
		return nil, fmt.Errorf("%w: %s cannot page recent plays", shared.ErrCapability, adapter.Name())
	}
	return pager, nil
}

// checkpointUser picks the checkpoint owner: the flag when given, else the
// configured Last.fm account, else the engine default.
func (r *Runner) checkpointUser(flag string) string {
	if flag != "" {
		return flag
	}
	return r.config.Credentials.Lastfm.Username
}
