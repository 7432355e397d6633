package tasks

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/avriley/syncopate/internal/matching"
	"github.com/avriley/syncopate/internal/metadata"
	"github.com/avriley/syncopate/internal/models"
	"github.com/avriley/syncopate/internal/repositories"
	"github.com/avriley/syncopate/internal/services"
	"github.com/avriley/syncopate/internal/shared"
)

// LikeSyncOptions tunes one like-sync run.
type LikeSyncOptions struct {
	BatchID  string // empty means generate
	Username string // checkpoint owner, DefaultUsername when empty
	Limit    int    // page size for imports, ignored on export
}

// LikeSyncEngine reconciles the liked flag between services and the library.
// Imports page a source service's liked feed into the library; exports push
// internal likes out to a target service, skipping tracks the target already
// has loved.
type LikeSyncEngine struct {
	store    *repositories.Store
	adapters *services.Registry
	resolver *matching.Resolver
	metadata *metadata.Manager
	sync     shared.SyncConfig
	logger   *log.Logger
}

// NewLikeSyncEngine creates a like-sync engine.
func NewLikeSyncEngine(store *repositories.Store, adapters *services.Registry, resolver *matching.Resolver, manager *metadata.Manager, sync shared.SyncConfig, logger *log.Logger) *LikeSyncEngine {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &LikeSyncEngine{
		store:    store,
		adapters: adapters,
		resolver: resolver,
		metadata: manager,
		sync:     sync,
		logger:   logger,
	}
}

// ImportLikes pulls the source service's liked tracks into the library.
// Unknown tracks are ingested with a direct mapping; every record gets like
// rows for the source and for the internal service. The run resumes from the
// stored cursor and stops early once a page brings nothing new.
func (e *LikeSyncEngine) ImportLikes(ctx context.Context, source string, opts LikeSyncOptions) *models.OperationResult {
	batchID := opts.BatchID
	if batchID == "" {
		batchID = uuid.NewString()
	}
	result := models.NewOperationResult("import_likes", source, "incremental", batchID)

	adapter, err := e.adapters.Get(source)
	if err != nil {
		return e.finish(ctx, result.Fail(err))
	}
	pager, ok := adapter.(services.LikedTracksPager)
	if !ok {
		return e.finish(ctx, result.Fail(fmt.Errorf("%w: %s cannot page liked tracks", shared.ErrCapability, source)))
	}

	username := opts.Username
	if username == "" {
		username = DefaultUsername
	}
	user, err := e.store.Users.GetOrCreate(ctx, username)
	if err != nil {
		return e.finish(ctx, result.Fail(err))
	}
	checkpoint, err := e.loadCheckpoint(ctx, user.ID(), source)
	if err != nil {
		return e.finish(ctx, result.Fail(err))
	}

	cursor := checkpoint.Cursor()
	pagesSinceFlush := 0
	page := 0

	for {
		if ctx.Err() != nil {
			result.Cancelled = true
			result.AddError("import cancelled: %v", ctx.Err())
			break
		}
		page++

		records, next, err := pager.GetLikedTracks(ctx, opts.Limit, cursor)
		if err != nil {
			return e.finish(ctx, result.Fail(fmt.Errorf("failed to fetch liked page %d: %w", page, err)))
		}
		if len(records) == 0 {
			break
		}

		fresh, err := e.importPage(ctx, source, records)
		if err != nil {
			return e.finish(ctx, result.Fail(err))
		}

		result.Processed += len(records)
		result.Imported += fresh
		result.Skipped += len(records) - fresh

		duplicates := len(records) - fresh
		if fresh == 0 && float64(duplicates) >= earlyTerminationDupRatio*float64(len(records)) {
			e.logger.Info("early termination", "service", source, "page", page, "duplicates", duplicates)
			cursor = next
			break
		}

		cursor = next
		if cursor == "" {
			break
		}

		pagesSinceFlush++
		if pagesSinceFlush >= checkpointFlushEvery {
			if err := e.saveCheckpoint(ctx, checkpoint, cursor); err != nil {
				return e.finish(ctx, result.Fail(err))
			}
			pagesSinceFlush = 0
		}
	}

	if err := e.saveCheckpoint(ctx, checkpoint, cursor); err != nil {
		return e.finish(ctx, result.Fail(err))
	}
	result.Success = result.Success && !result.Cancelled
	return e.finish(ctx, result.Finish())
}

// importPage ingests one page of liked records and writes their like rows,
// returning how many likes were new to the library.
func (e *LikeSyncEngine) importPage(ctx context.Context, source string, records []models.LikedRecord) (int, error) {
	now := shared.UTCNow()
	fresh := 0

	type pageEntry struct {
		record  models.LikedRecord
		trackID int64
		ingest  *models.Track
	}
	entries := make([]*pageEntry, 0, len(records))
	var connectors []*models.ConnectorTrack
	var pendingIdx []int

	for i, record := range records {
		entry := &pageEntry{record: record}
		track, err := e.store.Tracks.FindByExternal(ctx, source, record.ExternalID)
		switch {
		case err == nil:
			entry.trackID = track.ID()
		case errors.Is(err, shared.ErrNotFound):
			entry.ingest = trackFromLiked(record)
			connectors = append(connectors, connectorTrackFromLiked(source, record))
			pendingIdx = append(pendingIdx, i)
		default:
			return 0, err
		}
		entries = append(entries, entry)
	}

	err := e.store.WithUnitOfWork(ctx, func(tx *repositories.Store) error {
		if len(connectors) > 0 {
			if err := tx.ConnectorTracks.BulkUpsert(ctx, connectors); err != nil {
				return err
			}
			mappings := make([]*models.TrackMapping, 0, len(connectors))
			for n, i := range pendingIdx {
				entry := entries[i]
				if err := tx.Tracks.Save(ctx, entry.ingest); err != nil {
					return err
				}
				entry.trackID = entry.ingest.ID()
				mappings = append(mappings, models.NewTrackMapping(
					entry.trackID, connectors[n].ID(), models.MethodDirect, 100, nil))
			}
			if err := tx.Mappings.BulkUpsert(ctx, mappings); err != nil {
				return err
			}
		}

		for _, entry := range entries {
			existing, err := tx.Likes.Get(ctx, entry.trackID, []string{source})
			if err != nil {
				return err
			}
			if len(existing) == 0 || !existing[0].IsLiked() {
				fresh++
			}

			for _, service := range []string{source, models.ServiceInternal} {
				like := models.NewTrackLike(entry.trackID, service, true)
				like.SetLikedAt(entry.record.LikedAt)
				like.SetLastSynced(&now)
				if err := tx.Likes.Put(ctx, like); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to persist liked page: %w", err)
	}
	return fresh, nil
}

// ExportLikes pushes unsynced internal likes to a target service. Each batch
// is identity-resolved against the target, checked against the target's own
// loved flag, and loved remotely only when the target does not have it yet.
func (e *LikeSyncEngine) ExportLikes(ctx context.Context, target string, opts LikeSyncOptions) *models.OperationResult {
	batchID := opts.BatchID
	if batchID == "" {
		batchID = uuid.NewString()
	}
	result := models.NewOperationResult("export_likes", target, "incremental", batchID)

	adapter, err := e.adapters.Get(target)
	if err != nil {
		return e.finish(ctx, result.Fail(err))
	}
	lover, ok := adapter.(services.TrackLover)
	if !ok {
		return e.finish(ctx, result.Fail(fmt.Errorf("%w: %s cannot love tracks", shared.ErrCapability, target)))
	}

	username := opts.Username
	if username == "" {
		username = DefaultUsername
	}
	user, err := e.store.Users.GetOrCreate(ctx, username)
	if err != nil {
		return e.finish(ctx, result.Fail(err))
	}
	checkpoint, err := e.loadCheckpoint(ctx, user.ID(), target)
	if err != nil {
		return e.finish(ctx, result.Fail(err))
	}

	likes, err := e.store.Likes.GetUnsynced(ctx, models.ServiceInternal, target, true, checkpoint.LastTimestamp())
	if err != nil {
		return e.finish(ctx, result.Fail(err))
	}
	if len(likes) == 0 {
		return e.finish(ctx, result.Finish())
	}

	batchSize := e.sync.SyncBatchSize
	if batchSize <= 0 {
		batchSize = 20
	}

	for start := 0; start < len(likes); start += batchSize {
		if ctx.Err() != nil {
			result.Cancelled = true
			result.AddError("export cancelled: %v", ctx.Err())
			break
		}
		end := min(start+batchSize, len(likes))
		if err := e.exportBatch(ctx, lover, target, likes[start:end], result); err != nil {
			return e.finish(ctx, result.Fail(err))
		}

		checkpoint.Advance(shared.UTCNow())
		if err := e.store.Checkpoints.Save(ctx, checkpoint); err != nil {
			return e.finish(ctx, result.Fail(fmt.Errorf("failed to save checkpoint: %w", err)))
		}
	}

	result.Success = result.Success && !result.Cancelled
	return e.finish(ctx, result.Finish())
}

// exportBatch resolves one batch of likes against the target and loves the
// tracks the target does not already have. Per-track failures are recorded,
// never fatal.
func (e *LikeSyncEngine) exportBatch(ctx context.Context, lover services.TrackLover, target string, likes []*models.TrackLike, result *models.OperationResult) error {
	ids := make([]int64, 0, len(likes))
	for _, like := range likes {
		ids = append(ids, like.TrackID())
	}
	tracks, err := e.store.Tracks.FindByIDs(ctx, ids)
	if err != nil {
		return err
	}

	ordered := make([]*models.Track, 0, len(ids))
	for _, id := range ids {
		if track, ok := tracks[id]; ok {
			ordered = append(ordered, track)
		}
	}
	result.Processed += len(likes)
	if len(ordered) == 0 {
		result.Skipped += len(likes)
		return nil
	}

	resolved, err := e.resolver.ResolveTracks(ctx, ordered, target)
	if err != nil {
		return err
	}

	resolvedIDs := make([]int64, 0, len(resolved))
	for id := range resolved {
		resolvedIDs = append(resolvedIDs, id)
	}
	loved := map[int64]bool{}
	if len(resolvedIDs) > 0 && e.metadata != nil {
		fresh, _, err := e.metadata.RefreshMetadata(ctx, resolvedIDs, target)
		if err != nil {
			e.logger.Warn("loved-state refresh failed, exporting without skip check", "service", target, "err", err)
		}
		for id, bag := range fresh {
			loved[id] = bag.Bool("userloved")
		}
	}

	now := shared.UTCNow()
	for _, track := range ordered {
		if _, ok := resolved[track.ID()]; !ok {
			result.Skipped++
			result.AddError("no %s identity for %q", target, track.Title())
			continue
		}
		if loved[track.ID()] {
			result.Skipped++
			e.logger.Debug("already loved", "service", target, "track", track.Title())
			continue
		}

		ok, err := lover.LoveTrack(ctx, track.FirstArtist(), track.Title())
		if err != nil {
			result.AddError("failed to love %q: %v", track.Title(), err)
			continue
		}
		if !ok {
			result.Skipped++
			continue
		}

		like := models.NewTrackLike(track.ID(), target, true)
		like.SetLastSynced(&now)
		if err := e.store.Likes.Put(ctx, like); err != nil {
			return err
		}
		result.Exported++
	}
	return nil
}

// loadCheckpoint returns the likes checkpoint for a user and service, creating
// an empty one in memory when none is stored yet.
func (e *LikeSyncEngine) loadCheckpoint(ctx context.Context, userID int64, service string) (*models.SyncCheckpoint, error) {
	cp, err := e.store.Checkpoints.Get(ctx, userID, service, models.EntityLikes)
	switch {
	case err == nil:
		return cp, nil
	case errors.Is(err, shared.ErrNotFound):
		return models.NewSyncCheckpoint(userID, service, models.EntityLikes), nil
	default:
		return nil, err
	}
}

// saveCheckpoint stamps the checkpoint with now and the paging cursor.
func (e *LikeSyncEngine) saveCheckpoint(ctx context.Context, cp *models.SyncCheckpoint, cursor string) error {
	cp.SetCursor(cursor)
	cp.Advance(shared.UTCNow())
	if err := e.store.Checkpoints.Save(ctx, cp); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// finish stamps and persists the result, mirroring the play-import engine.
func (e *LikeSyncEngine) finish(ctx context.Context, result *models.OperationResult) *models.OperationResult {
	if result.FinishedAt.IsZero() {
		result.Finish()
	}
	if err := e.store.Jobs.SaveResult(context.WithoutCancel(ctx), result); err != nil {
		e.logger.Warn("failed to record sync result", "batch_id", result.BatchID, "err", err)
	}
	return result
}

// trackFromLiked builds a library track from a liked record.
func trackFromLiked(record models.LikedRecord) *models.Track {
	track := models.NewTrack(record.Title, record.Artists)
	track.SetAlbum(record.Album)
	track.SetDurationMS(record.DurationMS)
	track.SetISRC(record.ISRC)
	return track
}

// connectorTrackFromLiked builds a connector record from a liked record.
func connectorTrackFromLiked(service string, record models.LikedRecord) *models.ConnectorTrack {
	rec := models.NewConnectorTrack(service, record.ExternalID, record.Title, record.Artists)
	rec.SetAlbum(record.Album)
	rec.SetDurationMS(record.DurationMS)
	rec.SetISRC(record.ISRC)
	if len(record.Raw) > 0 {
		rec.SetRawMetadata(record.Raw, shared.UTCNow())
	}
	return rec
}
