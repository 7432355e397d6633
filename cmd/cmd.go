// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

// playsCommand handles play-history imports and exports.
func playsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "plays",
		Usage: "Import and export listening history",
		Commands: []*cli.Command{
			{
				Name:  "spotify-file",
				Usage: "Import a Spotify personal-data export file",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "path"},
				},
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "resolve-tracks",
						Usage: "Resolve plays to library tracks",
						Value: true,
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output result as JSON",
					},
					&cli.BoolFlag{
						Name:    "quiet",
						Aliases: []string{"q"},
						Usage:   "Suppress progress output",
					},
				},
				Action: r.PlaysSpotifyFile,
			},
			{
				Name:  "spotify-recent",
				Usage: "Import recently played Spotify tracks",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of plays to import",
						Value: 50,
					},
					&cli.BoolFlag{
						Name:  "resolve-tracks",
						Usage: "Resolve plays to library tracks",
						Value: true,
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output result as JSON",
					},
					&cli.BoolFlag{
						Name:    "quiet",
						Aliases: []string{"q"},
						Usage:   "Suppress progress output",
					},
				},
				Action: r.PlaysSpotifyRecent,
			},
			{
				Name:  "lastfm-recent",
				Usage: "Import the most recent Last.fm scrobbles",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of plays to import",
						Value: 50,
					},
					&cli.BoolFlag{
						Name:  "resolve-tracks",
						Usage: "Resolve plays to library tracks",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output result as JSON",
					},
					&cli.BoolFlag{
						Name:    "quiet",
						Aliases: []string{"q"},
						Usage:   "Suppress progress output",
					},
				},
				Action: r.PlaysLastfmRecent,
			},
			{
				Name:  "lastfm-incremental",
				Usage: "Import Last.fm scrobbles since the stored checkpoint",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "user",
						Aliases: []string{"u"},
						Usage:   "Checkpoint owner (defaults to the configured account)",
					},
					&cli.BoolFlag{
						Name:  "resolve-tracks",
						Usage: "Resolve plays to library tracks",
						Value: true,
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Page size",
						Value: 50,
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output result as JSON",
					},
					&cli.BoolFlag{
						Name:    "quiet",
						Aliases: []string{"q"},
						Usage:   "Suppress progress output",
					},
				},
				Action: r.PlaysLastfmIncremental,
			},
			{
				Name:  "lastfm-full",
				Usage: "Reset the checkpoint and re-import full Last.fm history",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "user",
						Aliases: []string{"u"},
						Usage:   "Checkpoint owner (defaults to the configured account)",
					},
					&cli.BoolFlag{
						Name:  "confirm",
						Usage: "Confirm the destructive checkpoint reset",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of plays to import",
						Value: 10000,
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output result as JSON",
					},
					&cli.BoolFlag{
						Name:    "quiet",
						Aliases: []string{"q"},
						Usage:   "Suppress progress output",
					},
				},
				Action: r.PlaysLastfmFull,
			},
			{
				Name:  "export",
				Usage: "Export the plays of one import batch",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "batch-id",
						Usage:    "Import batch id to export",
						Required: true,
					},
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   "Export format (csv or text)",
						Value:   "csv",
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output file path (stdout when empty)",
					},
				},
				Action: r.PlaysExport,
			},
		},
	}
}

// likesCommand handles like synchronization between services.
func likesCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "likes",
		Usage: "Synchronize liked tracks between services",
		Commands: []*cli.Command{
			{
				Name:  "import-spotify",
				Usage: "Import Spotify liked tracks into the library",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "user",
						Aliases: []string{"u"},
						Usage:   "Checkpoint owner",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Page size",
						Value: 50,
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output result as JSON",
					},
				},
				Action: r.LikesImportSpotify,
			},
			{
				Name:  "export-lastfm",
				Usage: "Love unsynced library likes on Last.fm",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "user",
						Aliases: []string{"u"},
						Usage:   "Checkpoint owner",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output result as JSON",
					},
				},
				Action: r.LikesExportLastfm,
			},
		},
	}
}

// tracksCommand handles identity resolution and metadata refresh.
func tracksCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "tracks",
		Usage: "Resolve and enrich library tracks",
		Commands: []*cli.Command{
			{
				Name:  "resolve",
				Usage: "Resolve a playlist's tracks against a service",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "playlist",
						Aliases:  []string{"p"},
						Usage:    "Library playlist name",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "service",
						Aliases:  []string{"s"},
						Usage:    "Target service",
						Required: true,
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output matches as JSON",
					},
				},
				Action: r.TracksResolve,
			},
			{
				Name:  "refresh",
				Usage: "Refresh stale per-service metadata for a playlist's tracks",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "playlist",
						Aliases:  []string{"p"},
						Usage:    "Library playlist name",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "service",
						Aliases:  []string{"s"},
						Usage:    "Service to refresh from",
						Required: true,
					},
					&cli.StringFlag{
						Name:    "metric",
						Aliases: []string{"m"},
						Usage:   "Metric whose freshness gates the refresh",
						Value:   "user_playcount",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output refreshed metadata as JSON",
					},
				},
				Action: r.TracksRefresh,
			},
		},
	}
}

// playlistsCommand handles library playlists and publishing.
func playlistsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "playlists",
		Usage: "Manage and publish library playlists",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List library playlists",
				Action: r.PlaylistsList,
			},
			{
				Name:  "show",
				Usage: "Show a playlist and its tracks",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "name"},
				},
				Action: r.PlaylistsShow,
			},
			{
				Name:  "push",
				Usage: "Publish a playlist to a service",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "name"},
				},
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "service",
						Aliases:  []string{"s"},
						Usage:    "Target service",
						Required: true,
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output result as JSON",
					},
				},
				Action: r.PlaylistsPush,
			},
		},
	}
}
