package tasks

import (
	"context"
	"testing"
	"time"

	"github.com/avriley/syncopate/internal/matching"
	"github.com/avriley/syncopate/internal/metadata"
	"github.com/avriley/syncopate/internal/models"
	"github.com/avriley/syncopate/internal/repositories"
	"github.com/avriley/syncopate/internal/shared"
	tu "github.com/avriley/syncopate/internal/testing"
)

func seedTrack(t *testing.T, store *repositories.Store, title string, artists []string) *models.Track {
	t.Helper()

	track := models.NewTrack(title, artists)
	if err := store.Tracks.Save(context.Background(), track); err != nil {
		t.Fatalf("failed to seed track %q: %v", title, err)
	}
	return track
}

func TestImportLikesIngestsUnknownTracks(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	likedAt := utc("2024-02-01T09:00:00Z")

	source := &tu.MockAdapter{
		ServiceName: models.ServiceSpotify,
		GetLikedTracksFn: func(ctx context.Context, limit int, cursor string) ([]models.LikedRecord, string, error) {
			if cursor != "" {
				return nil, "", nil
			}
			return []models.LikedRecord{
				{Service: models.ServiceSpotify, ExternalID: "sp-1", Title: "Pyramid Song", Artists: []string{"Radiohead"}, LikedAt: &likedAt},
				{Service: models.ServiceSpotify, ExternalID: "sp-2", Title: "Nude", Artists: []string{"Radiohead"}, LikedAt: &likedAt},
			}, "", nil
		},
	}

	engine := NewLikeSyncEngine(store, newTestRegistry(t, source), nil, nil, shared.SyncConfig{}, nil)
	result := engine.ImportLikes(ctx, models.ServiceSpotify, LikeSyncOptions{Limit: 50})

	if !result.Success {
		t.Fatalf("expected success, errors: %v", result.Errors)
	}
	if result.Imported != 2 {
		t.Errorf("Imported = %d, want 2", result.Imported)
	}

	track, err := store.Tracks.FindByExternal(ctx, models.ServiceSpotify, "sp-1")
	if err != nil {
		t.Fatalf("ingested track not found: %v", err)
	}
	if track.Title() != "Pyramid Song" {
		t.Errorf("Title = %q, want Pyramid Song", track.Title())
	}

	likes, err := store.Likes.Get(ctx, track.ID(), []string{models.ServiceSpotify, models.ServiceInternal})
	if err != nil {
		t.Fatalf("Get likes failed: %v", err)
	}
	if len(likes) != 2 {
		t.Fatalf("like rows = %d, want source and internal", len(likes))
	}
	for _, like := range likes {
		if !like.IsLiked() {
			t.Errorf("like for %s should be set", like.Service())
		}
		if like.LastSynced() == nil {
			t.Errorf("like for %s should carry a sync timestamp", like.Service())
		}
	}

	internal, err := store.Likes.GetAllLiked(ctx, models.ServiceInternal, true)
	if err != nil {
		t.Fatalf("GetAllLiked failed: %v", err)
	}
	if len(internal) != 2 {
		t.Errorf("internal likes = %d, want 2", len(internal))
	}
}

func TestImportLikesIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	source := &tu.MockAdapter{
		ServiceName: models.ServiceSpotify,
		GetLikedTracksFn: func(ctx context.Context, limit int, cursor string) ([]models.LikedRecord, string, error) {
			if cursor != "" {
				return nil, "", nil
			}
			return []models.LikedRecord{
				{Service: models.ServiceSpotify, ExternalID: "sp-1", Title: "Pyramid Song", Artists: []string{"Radiohead"}},
				{Service: models.ServiceSpotify, ExternalID: "sp-2", Title: "Nude", Artists: []string{"Radiohead"}},
			}, "", nil
		},
	}
	engine := NewLikeSyncEngine(store, newTestRegistry(t, source), nil, nil, shared.SyncConfig{}, nil)

	first := engine.ImportLikes(ctx, models.ServiceSpotify, LikeSyncOptions{})
	if first.Imported != 2 {
		t.Fatalf("first Imported = %d, want 2", first.Imported)
	}

	second := engine.ImportLikes(ctx, models.ServiceSpotify, LikeSyncOptions{})
	if second.Imported != 0 {
		t.Errorf("second Imported = %d, want 0", second.Imported)
	}
	if second.Skipped != 2 {
		t.Errorf("second Skipped = %d, want 2", second.Skipped)
	}

	// A second pass must not mint duplicate library tracks.
	internal, err := store.Likes.GetAllLiked(ctx, models.ServiceInternal, true)
	if err != nil {
		t.Fatalf("GetAllLiked failed: %v", err)
	}
	if len(internal) != 2 {
		t.Errorf("internal likes after rerun = %d, want 2", len(internal))
	}
}

func TestImportLikesPagesThroughCursor(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var cursors []string
	source := &tu.MockAdapter{
		ServiceName: models.ServiceSpotify,
		GetLikedTracksFn: func(ctx context.Context, limit int, cursor string) ([]models.LikedRecord, string, error) {
			cursors = append(cursors, cursor)
			switch cursor {
			case "":
				return []models.LikedRecord{
					{Service: models.ServiceSpotify, ExternalID: "sp-1", Title: "One", Artists: []string{"A"}},
				}, "page-2", nil
			case "page-2":
				return []models.LikedRecord{
					{Service: models.ServiceSpotify, ExternalID: "sp-2", Title: "Two", Artists: []string{"B"}},
				}, "", nil
			default:
				return nil, "", nil
			}
		},
	}

	engine := NewLikeSyncEngine(store, newTestRegistry(t, source), nil, nil, shared.SyncConfig{}, nil)
	result := engine.ImportLikes(ctx, models.ServiceSpotify, LikeSyncOptions{Limit: 1})

	if result.Imported != 2 {
		t.Errorf("Imported = %d, want 2", result.Imported)
	}
	if len(cursors) != 2 || cursors[0] != "" || cursors[1] != "page-2" {
		t.Errorf("cursor sequence = %v, want [\"\" page-2]", cursors)
	}

	user, err := store.Users.GetOrCreate(ctx, DefaultUsername)
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	cp, err := store.Checkpoints.Get(ctx, user.ID(), models.ServiceSpotify, models.EntityLikes)
	if err != nil {
		t.Fatalf("Get checkpoint failed: %v", err)
	}
	if cp.Cursor() != "" {
		t.Errorf("final cursor = %q, want empty after exhausting the feed", cp.Cursor())
	}
	if cp.LastTimestamp() == nil {
		t.Error("checkpoint should carry a run timestamp")
	}
}

// bareAdapter exposes no optional capabilities at all.
type bareAdapter struct{ name string }

func (a bareAdapter) Name() string { return a.name }

func TestImportLikesRequiresPagerCapability(t *testing.T) {
	store := newTestStore(t)
	adapter := bareAdapter{name: models.ServiceSpotify}

	engine := NewLikeSyncEngine(store, newTestRegistry(t, adapter), nil, nil, shared.SyncConfig{}, nil)
	result := engine.ImportLikes(context.Background(), models.ServiceSpotify, LikeSyncOptions{})

	if result.Success {
		t.Error("import against an adapter without liked paging should fail")
	}
	if result.ErrorCount() == 0 {
		t.Error("expected a capability error")
	}
}

func TestExportLikesSkipsAlreadyLoved(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	yesterday := seedTrack(t, store, "Yesterday", []string{"The Beatles"})
	letItBe := seedTrack(t, store, "Let It Be", []string{"The Beatles"})
	for _, track := range []*models.Track{yesterday, letItBe} {
		if err := store.Likes.Put(ctx, models.NewTrackLike(track.ID(), models.ServiceInternal, true)); err != nil {
			t.Fatalf("failed to seed like: %v", err)
		}
	}

	var loved []string
	target := &tu.MockAdapter{
		ServiceName: models.ServiceLastfm,
		SearchTrackFn: func(ctx context.Context, artist, title string) (models.Attributes, error) {
			return models.Attributes{
				"external_id": "lf-" + title,
				"title":       title,
				"artist":      artist,
			}, nil
		},
		BatchGetTrackInfoFn: func(ctx context.Context, tracks []*models.Track) (map[int64]any, error) {
			infos := make(map[int64]any, len(tracks))
			for _, track := range tracks {
				infos[track.ID()] = models.Attributes{"userloved": track.ID() == letItBe.ID()}
			}
			return infos, nil
		},
		LoveTrackFn: func(ctx context.Context, artist, title string) (bool, error) {
			loved = append(loved, title)
			return true, nil
		},
	}

	registry := newTestRegistry(t, target)
	syncCfg := shared.SyncConfig{MatchBatchSize: 10, SyncBatchSize: 20}
	resolver := matching.NewResolver(store, registry, syncCfg, nil)
	manager := metadata.NewManager(store, metadata.NewRegistry(), registry, nil)

	engine := NewLikeSyncEngine(store, registry, resolver, manager, syncCfg, nil)
	result := engine.ExportLikes(ctx, models.ServiceLastfm, LikeSyncOptions{})

	if !result.Success {
		t.Fatalf("expected success, errors: %v", result.Errors)
	}
	if result.Exported != 1 {
		t.Errorf("Exported = %d, want 1", result.Exported)
	}
	if result.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1 (already loved)", result.Skipped)
	}
	if len(loved) != 1 || loved[0] != "Yesterday" {
		t.Errorf("loved = %v, want only Yesterday", loved)
	}

	likes, err := store.Likes.Get(ctx, yesterday.ID(), []string{models.ServiceLastfm})
	if err != nil {
		t.Fatalf("Get likes failed: %v", err)
	}
	if len(likes) != 1 || !likes[0].IsLiked() {
		t.Errorf("exported like row missing for %q", yesterday.Title())
	}
}

func TestExportLikesCountsUnresolvable(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	track := seedTrack(t, store, "Obscure B-Side", []string{"Nobody"})
	if err := store.Likes.Put(ctx, models.NewTrackLike(track.ID(), models.ServiceInternal, true)); err != nil {
		t.Fatalf("failed to seed like: %v", err)
	}

	target := &tu.MockAdapter{
		ServiceName: models.ServiceLastfm,
		SearchTrackFn: func(ctx context.Context, artist, title string) (models.Attributes, error) {
			return nil, shared.ErrTrackNotFound
		},
		LoveTrackFn: func(ctx context.Context, artist, title string) (bool, error) {
			t.Error("LoveTrack must not be called for unresolved tracks")
			return false, nil
		},
	}

	registry := newTestRegistry(t, target)
	resolver := matching.NewResolver(store, registry, shared.SyncConfig{}, nil)
	engine := NewLikeSyncEngine(store, registry, resolver, nil, shared.SyncConfig{}, nil)
	result := engine.ExportLikes(ctx, models.ServiceLastfm, LikeSyncOptions{})

	if !result.Success {
		t.Fatalf("per-track resolution misses should not fail the run, errors: %v", result.Errors)
	}
	if result.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", result.Skipped)
	}
	if result.ErrorCount() == 0 {
		t.Error("expected a per-track error message")
	}
}

func TestExportLikesWithNothingPending(t *testing.T) {
	store := newTestStore(t)
	target := &tu.MockAdapter{
		ServiceName: models.ServiceLastfm,
		LoveTrackFn: func(ctx context.Context, artist, title string) (bool, error) {
			t.Error("LoveTrack must not be called with nothing pending")
			return false, nil
		},
	}

	engine := NewLikeSyncEngine(store, newTestRegistry(t, target), nil, nil, shared.SyncConfig{}, nil)
	result := engine.ExportLikes(context.Background(), models.ServiceLastfm, LikeSyncOptions{})

	if !result.Success {
		t.Fatalf("expected success, errors: %v", result.Errors)
	}
	if result.Processed != 0 || result.Exported != 0 {
		t.Errorf("processed/exported = %d/%d, want 0/0", result.Processed, result.Exported)
	}
}

func TestExportLikesAdvancesCheckpoint(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	track := seedTrack(t, store, "Yesterday", []string{"The Beatles"})
	if err := store.Likes.Put(ctx, models.NewTrackLike(track.ID(), models.ServiceInternal, true)); err != nil {
		t.Fatalf("failed to seed like: %v", err)
	}

	target := &tu.MockAdapter{
		ServiceName: models.ServiceLastfm,
		SearchTrackFn: func(ctx context.Context, artist, title string) (models.Attributes, error) {
			return models.Attributes{"external_id": "lf-1", "title": title, "artist": artist}, nil
		},
		LoveTrackFn: func(ctx context.Context, artist, title string) (bool, error) { return true, nil },
	}

	registry := newTestRegistry(t, target)
	resolver := matching.NewResolver(store, registry, shared.SyncConfig{}, nil)
	engine := NewLikeSyncEngine(store, registry, resolver, nil, shared.SyncConfig{}, nil)

	before := time.Now().UTC().Add(-time.Second)
	if result := engine.ExportLikes(ctx, models.ServiceLastfm, LikeSyncOptions{}); !result.Success {
		t.Fatalf("expected success, errors: %v", result.Errors)
	}

	user, err := store.Users.GetOrCreate(ctx, DefaultUsername)
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	cp, err := store.Checkpoints.Get(ctx, user.ID(), models.ServiceLastfm, models.EntityLikes)
	if err != nil {
		t.Fatalf("Get checkpoint failed: %v", err)
	}
	if ts := cp.LastTimestamp(); ts == nil || ts.Before(before) {
		t.Errorf("checkpoint = %v, want advanced past %v", ts, before)
	}
}
