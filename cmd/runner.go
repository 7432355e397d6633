package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/avriley/syncopate/internal/batch"
	"github.com/avriley/syncopate/internal/formatter"
	"github.com/avriley/syncopate/internal/matching"
	"github.com/avriley/syncopate/internal/metadata"
	"github.com/avriley/syncopate/internal/models"
	"github.com/avriley/syncopate/internal/repositories"
	"github.com/avriley/syncopate/internal/services"
	"github.com/avriley/syncopate/internal/shared"
	"github.com/avriley/syncopate/internal/tasks"
)

// Runner holds all dependencies for CLI commands and provides methods for
// each command action. The database and service adapters are opened lazily on
// the first action that needs them, so setup and help run without either.
type Runner struct {
	config   *shared.Config
	logger   *log.Logger
	output   io.Writer
	db       *sql.DB
	store    *repositories.Store
	metrics  *metadata.Registry
	adapters *services.Registry
}

// RunnerOpts contains configuration options for creating a Runner. Store,
// Adapters and Metrics are injectable for tests; production wiring builds
// them in bootstrap.
type RunnerOpts struct {
	Config   *shared.Config
	Logger   *log.Logger
	Output   io.Writer
	Store    *repositories.Store
	Adapters *services.Registry
	Metrics  *metadata.Registry
}

// NewRunner creates a new Runner with the provided configuration.
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	return &Runner{
		config:   opts.Config,
		logger:   opts.Logger,
		output:   opts.Output,
		store:    opts.Store,
		metrics:  opts.Metrics,
		adapters: opts.Adapters,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, authCommand, playsCommand, likesCommand, tracksCommand, playlistsCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// bootstrap opens the database, runs pending migrations and builds the
// adapter registry from the configured credentials. Idempotent; tests that
// inject a store and adapters skip it entirely.
func (r *Runner) bootstrap(ctx context.Context) error {
	if r.store != nil && r.adapters != nil {
		return nil
	}

	if r.store == nil {
		db, err := r.openDatabase()
		if err != nil {
			return err
		}
		if err := shared.RunMigrations(db); err != nil {
			db.Close()
			return fmt.Errorf("failed to migrate database: %w", err)
		}
		r.db = db
		r.store = repositories.NewStore(db)
	}

	if r.adapters == nil {
		if r.metrics == nil {
			r.metrics = metadata.NewRegistry()
		}
		r.adapters = services.NewRegistry()

		spotify := r.config.Credentials.Spotify
		if spotify.ClientID != "" && spotify.ClientSecret != "" {
			adapter, err := services.NewSpotifyAdapter(spotify, r.store.Tokens, r.metrics, r.logger)
			if err != nil {
				return err
			}
			if err := r.adapters.Add(adapter); err != nil {
				return err
			}
		}

		lastfm := r.config.Credentials.Lastfm
		if lastfm.APIKey != "" {
			adapter, err := services.NewLastfmAdapter(lastfm, r.metrics, r.logger)
			if err != nil {
				return err
			}
			if err := r.adapters.Add(adapter); err != nil {
				return err
			}
		}

		r.metrics.Freeze()
		if len(r.adapters.Names()) == 0 {
			r.logger.Warn("no service credentials configured; only local commands will work")
		}
	}
	return nil
}

func (r *Runner) openDatabase() (*sql.DB, error) {
	path := r.config.Database.Path
	if path == "" {
		path = "syncopate.db"
	}
	db, err := shared.NewDatabase(path)
	if err != nil {
		return nil, err
	}
	shared.ConfigureDatabase(db, r.config.Database.MaxOpenConns, r.config.Database.MaxIdleConns)
	return db, nil
}

// Close releases the database handle, if one was opened.
func (r *Runner) Close() {
	if r.db != nil {
		r.db.Close()
	}
}

func (r *Runner) resolver() *matching.Resolver {
	return matching.NewResolver(r.store, r.adapters, r.config.Sync, r.logger)
}

func (r *Runner) manager() *metadata.Manager {
	return metadata.NewManager(r.store, r.metrics, r.adapters, r.logger)
}

func (r *Runner) importEngine() *tasks.ImportEngine {
	return tasks.NewImportEngine(r.store, r.adapters, r.logger)
}

func (r *Runner) likeEngine() *tasks.LikeSyncEngine {
	return tasks.NewLikeSyncEngine(r.store, r.adapters, r.resolver(), r.manager(), r.config.Sync, r.logger)
}

func (r *Runner) playlistEngine() *tasks.PlaylistEngine {
	return tasks.NewPlaylistEngine(r.store, r.adapters, r.resolver(), r.logger)
}

// sink returns the progress sink for a run: quiet gets the no-op sink,
// everything else a console renderer on stderr so stdout stays parseable.
func (r *Runner) sink(quiet bool) batch.ProgressSink {
	if quiet {
		return batch.NoopSink{}
	}
	return newConsoleSink(os.Stderr)
}

// writeResult renders an operation result and maps failure to a non-zero
// exit. Zero work is still success.
func (r *Runner) writeResult(result *models.OperationResult, asJSON bool) error {
	if asJSON {
		data, err := formatter.ResultJSON(result)
		if err != nil {
			return err
		}
		if _, err := r.output.Write(append(data, '\n')); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	} else {
		if _, err := io.WriteString(r.output, formatter.ResultSummary(result)); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}

	if !result.Success {
		return fmt.Errorf("%s failed with %d error(s)", result.Operation, result.ErrorCount())
	}
	return nil
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	output, err := shared.MarshalJSON(data, pretty)
	if err != nil {
		return err
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
