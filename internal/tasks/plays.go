package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/avriley/syncopate/internal/batch"
	"github.com/avriley/syncopate/internal/matching"
	"github.com/avriley/syncopate/internal/models"
	"github.com/avriley/syncopate/internal/repositories"
	"github.com/avriley/syncopate/internal/services"
	"github.com/avriley/syncopate/internal/shared"
)

// checkpointFlushEvery is how many fetched pages pass between mid-import
// checkpoint writes. The final write always happens regardless.
const checkpointFlushEvery = 10

// earlyTerminationDupRatio stops an incremental import once a page brings
// nothing new and is mostly duplicates.
const earlyTerminationDupRatio = 0.8

// DefaultUsername owns checkpoints when no account is configured.
const DefaultUsername = "default"

// Strategy names reported by [PlayStrategy.Strategy].
const (
	StrategyRecent      = "recent"
	StrategyIncremental = "incremental"
	StrategyFile        = "file"
)

// FetchState carries paging state through one import run. The engine advances
// Page after every fetch; strategies own Cursor and read the checkpoint.
type FetchState struct {
	UserID     int64
	Checkpoint *models.SyncCheckpoint
	Page       int // 1-based
	Cursor     string
	Limit      int
	Malformed  int // input records a strategy skipped as unparseable
}

// PlayStrategy abstracts where play records come from and how progress through
// the feed is checkpointed. The engine owns everything else: resolution,
// persistence, dedup accounting and the result.
type PlayStrategy interface {
	Service() string
	Strategy() string // [StrategyRecent], [StrategyIncremental] or [StrategyFile]
	Fetch(ctx context.Context, state *FetchState) ([]models.PlayRecord, bool, error)
	Checkpoint(ctx context.Context, state *FetchState, maxPlayedAt time.Time) error
}

// ImportOptions tunes one play-import run.
type ImportOptions struct {
	BatchID       string // empty means generate
	Username      string // checkpoint owner, DefaultUsername when empty
	Limit         int    // page size hint for the strategy
	ResolveTracks bool
	Sink          batch.ProgressSink
}

// ImportEngine runs play imports: fetch pages from a strategy, resolve the
// records to library tracks, persist with value-based dedup, advance the
// checkpoint, record the result. Failures surface as an error-shaped result,
// never as a panic.
type ImportEngine struct {
	store    *repositories.Store
	adapters *services.Registry
	logger   *log.Logger
}

// NewImportEngine creates a play-import engine.
func NewImportEngine(store *repositories.Store, adapters *services.Registry, logger *log.Logger) *ImportEngine {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &ImportEngine{store: store, adapters: adapters, logger: logger}
}

// ImportPlays executes one import run with the given strategy.
func (e *ImportEngine) ImportPlays(ctx context.Context, strategy PlayStrategy, opts ImportOptions) *models.OperationResult {
	batchID := opts.BatchID
	if batchID == "" {
		batchID = uuid.NewString()
	}
	service := strategy.Service()
	source := fmt.Sprintf("%s_strategy_%s", service, strategy.Strategy())
	result := models.NewOperationResult("import_plays", service, strategy.Strategy(), batchID)
	sink := opts.Sink
	if sink == nil {
		sink = batch.NoopSink{}
	}

	username := opts.Username
	if username == "" {
		username = DefaultUsername
	}
	user, err := e.store.Users.GetOrCreate(ctx, username)
	if err != nil {
		return e.finish(ctx, result.Fail(err))
	}

	checkpoint, err := e.loadCheckpoint(ctx, user.ID(), service)
	if err != nil {
		return e.finish(ctx, result.Fail(err))
	}

	var resolver *matching.PlayResolver
	if opts.ResolveTracks {
		adapter, err := e.adapters.Get(service)
		if err != nil {
			return e.finish(ctx, result.Fail(err))
		}
		resolver = matching.NewPlayResolver(e.store, adapter, e.logger)
	}

	state := &FetchState{UserID: user.ID(), Checkpoint: checkpoint, Page: 1, Limit: opts.Limit}
	var totalStats models.ResolutionStats
	var maxPlayedAt time.Time
	pagesSinceFlush := 0

	for {
		if ctx.Err() != nil {
			result.Cancelled = true
			result.AddError("import cancelled: %v", ctx.Err())
			break
		}

		records, more, err := strategy.Fetch(ctx, state)
		if err != nil {
			return e.finish(ctx, result.Fail(fmt.Errorf("failed to fetch page %d: %w", state.Page, err)))
		}
		if len(records) == 0 && !more {
			break
		}

		inserted, stats, pageMax, err := e.processPage(ctx, records, resolver, source, batchID)
		if err != nil {
			return e.finish(ctx, result.Fail(err))
		}

		result.Processed += len(records)
		result.Imported += inserted
		result.Skipped += len(records) - inserted
		totalStats = addStats(totalStats, stats)
		if pageMax.After(maxPlayedAt) {
			maxPlayedAt = pageMax
		}

		sink.Publish(batch.Event{
			Type: batch.BatchCompleted, Batch: state.Page,
			Completed: result.Processed, Succeeded: result.Imported, Failed: 0,
			Message: fmt.Sprintf("page %d: %d new, %d duplicate", state.Page, inserted, len(records)-inserted),
		})

		// Only incremental runs may stop on an all-duplicate page: their feed
		// is newest-first, so everything past the checkpoint overlap is old
		// news. File and recent runs walk bounded inputs where a duplicate
		// page says nothing about the pages behind it.
		duplicates := len(records) - inserted
		if strategy.Strategy() == StrategyIncremental && len(records) > 0 && inserted == 0 &&
			float64(duplicates) >= earlyTerminationDupRatio*float64(len(records)) {
			e.logger.Info("early termination", "service", service, "page", state.Page, "duplicates", duplicates)
			break
		}
		if !more {
			break
		}

		pagesSinceFlush++
		if pagesSinceFlush >= checkpointFlushEvery && !maxPlayedAt.IsZero() {
			if err := strategy.Checkpoint(ctx, state, maxPlayedAt); err != nil {
				return e.finish(ctx, result.Fail(fmt.Errorf("failed to flush checkpoint: %w", err)))
			}
			pagesSinceFlush = 0
		}
		state.Page++
	}

	if !maxPlayedAt.IsZero() {
		if err := strategy.Checkpoint(ctx, state, maxPlayedAt); err != nil {
			return e.finish(ctx, result.Fail(fmt.Errorf("failed to save checkpoint: %w", err)))
		}
	}

	result.Skipped += state.Malformed
	if opts.ResolveTracks {
		result.Details["resolution_stats"] = statsAttributes(totalStats)
	}
	if state.Malformed > 0 {
		result.Details["malformed_records"] = state.Malformed
	}
	result.Success = result.Success && !result.Cancelled
	return e.finish(ctx, result.Finish())
}

// processPage resolves one page of records and persists the plays.
func (e *ImportEngine) processPage(ctx context.Context, records []models.PlayRecord, resolver *matching.PlayResolver, source, batchID string) (int, models.ResolutionStats, time.Time, error) {
	var stats models.ResolutionStats
	var maxPlayedAt time.Time
	if len(records) == 0 {
		return 0, stats, maxPlayedAt, nil
	}

	var resolutions []models.PlayResolution
	if resolver != nil {
		var err error
		resolutions, stats, err = resolver.ResolvePlays(ctx, records)
		if err != nil {
			return 0, stats, maxPlayedAt, fmt.Errorf("failed to resolve plays: %w", err)
		}
	}

	plays := make([]*models.Play, 0, len(records))
	for i, record := range records {
		play := models.NewPlay(record.Service, record.PlayedAt)
		play.SetMSPlayed(record.MSPlayed)
		play.SetImportSource(source)
		play.SetImportBatchID(batchID)

		bag := models.Attributes{}
		for k, v := range record.Raw {
			bag[k] = v
		}
		bag[models.ContextTitle] = record.Title
		bag[models.ContextArtist] = record.Artist
		bag[models.ContextAlbum] = record.Album

		if resolutions != nil {
			res := resolutions[i]
			play.SetTrackID(res.TrackID)
			if res.Method != "" {
				bag["resolution_method"] = res.Method
			}
		}
		play.SetContext(bag)
		plays = append(plays, play)

		if record.PlayedAt.After(maxPlayedAt) {
			maxPlayedAt = record.PlayedAt
		}
	}

	var inserted int
	err := e.store.WithUnitOfWork(ctx, func(tx *repositories.Store) error {
		n, err := tx.Plays.BulkInsert(ctx, plays)
		inserted = n
		return err
	})
	if err != nil {
		return 0, stats, maxPlayedAt, fmt.Errorf("failed to persist plays: %w", err)
	}
	return inserted, stats, maxPlayedAt, nil
}

// loadCheckpoint returns the plays checkpoint for a user, creating an empty
// one in memory when none is stored yet.
func (e *ImportEngine) loadCheckpoint(ctx context.Context, userID int64, service string) (*models.SyncCheckpoint, error) {
	cp, err := e.store.Checkpoints.Get(ctx, userID, service, models.EntityPlays)
	switch {
	case err == nil:
		return cp, nil
	case errors.Is(err, shared.ErrNotFound):
		return models.NewSyncCheckpoint(userID, service, models.EntityPlays), nil
	default:
		return nil, err
	}
}

// finish stamps and persists the result. A bookkeeping failure is logged, not
// surfaced: the import itself already succeeded or failed on its own terms.
func (e *ImportEngine) finish(ctx context.Context, result *models.OperationResult) *models.OperationResult {
	if result.FinishedAt.IsZero() {
		result.Finish()
	}
	if err := e.store.Jobs.SaveResult(context.WithoutCancel(ctx), result); err != nil {
		e.logger.Warn("failed to record import result", "batch_id", result.BatchID, "err", err)
	}
	return result
}

func addStats(a, b models.ResolutionStats) models.ResolutionStats {
	return models.ResolutionStats{
		DirectID:          a.DirectID + b.DirectID,
		RelinkedID:        a.RelinkedID + b.RelinkedID,
		SearchMatch:       a.SearchMatch + b.SearchMatch,
		PreservedMetadata: a.PreservedMetadata + b.PreservedMetadata,
		TotalWithTrackID:  a.TotalWithTrackID + b.TotalWithTrackID,
	}
}

func statsAttributes(s models.ResolutionStats) models.Attributes {
	return models.Attributes{
		"direct_id":               s.DirectID,
		"relinked_id":             s.RelinkedID,
		"search_match":            s.SearchMatch,
		"preserved_metadata":      s.PreservedMetadata,
		"total_with_track_id":     s.TotalWithTrackID,
		"resolution_rate_percent": s.RatePercent(),
	}
}
