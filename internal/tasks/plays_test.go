package tasks

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/avriley/syncopate/internal/models"
	"github.com/avriley/syncopate/internal/repositories"
	"github.com/avriley/syncopate/internal/services"
	"github.com/avriley/syncopate/internal/shared"
	tu "github.com/avriley/syncopate/internal/testing"
)

func newTestStore(t *testing.T) *repositories.Store {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := shared.RunMigrations(db); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	return repositories.NewStore(db)
}

func newTestRegistry(t *testing.T, adapters ...services.Adapter) *services.Registry {
	t.Helper()

	registry := services.NewRegistry()
	for _, adapter := range adapters {
		if err := registry.Add(adapter); err != nil {
			t.Fatalf("failed to register adapter: %v", err)
		}
	}
	return registry
}

func utc(value string) time.Time {
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		panic(err)
	}
	return ts.UTC()
}

func TestIncrementalImportAdvancesCheckpoint(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	user, err := store.Users.GetOrCreate(ctx, DefaultUsername)
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	checkpoint := models.NewSyncCheckpoint(user.ID(), models.ServiceLastfm, models.EntityPlays)
	checkpoint.Advance(utc("2024-01-01T10:00:00Z"))
	if err := store.Checkpoints.Save(ctx, checkpoint); err != nil {
		t.Fatalf("Save checkpoint failed: %v", err)
	}

	var gotFrom *time.Time
	pager := &tu.MockAdapter{
		ServiceName: models.ServiceLastfm,
		GetRecentPlaysFn: func(ctx context.Context, limit int, from *time.Time, page int) ([]models.PlayRecord, bool, error) {
			gotFrom = from
			if page > 1 {
				return nil, false, nil
			}
			return []models.PlayRecord{
				{Service: models.ServiceLastfm, Title: "Airbag", Artist: "Radiohead", PlayedAt: utc("2024-01-01T12:00:00Z")},
				{Service: models.ServiceLastfm, Title: "Lucky", Artist: "Radiohead", PlayedAt: utc("2024-01-01T13:00:00Z")},
			}, false, nil
		},
	}

	engine := NewImportEngine(store, newTestRegistry(t, pager), nil)
	strategy := NewIncrementalStrategy(models.ServiceLastfm, pager, store)
	result := engine.ImportPlays(ctx, strategy, ImportOptions{})

	if !result.Success {
		t.Fatalf("expected success, errors: %v", result.Errors)
	}
	if result.Imported != 2 {
		t.Errorf("Imported = %d, want 2", result.Imported)
	}
	if gotFrom == nil || !gotFrom.Equal(utc("2024-01-01T10:00:00Z")) {
		t.Errorf("fetch from = %v, want checkpoint timestamp", gotFrom)
	}

	plays, err := store.Plays.GetByBatch(ctx, result.BatchID)
	if err != nil {
		t.Fatalf("GetByBatch failed: %v", err)
	}
	if len(plays) != 2 {
		t.Fatalf("persisted plays = %d, want 2", len(plays))
	}
	for _, play := range plays {
		if play.ImportSource() != "lastfm_strategy_incremental" {
			t.Errorf("ImportSource = %q, want lastfm_strategy_incremental", play.ImportSource())
		}
	}

	saved, err := store.Checkpoints.Get(ctx, user.ID(), models.ServiceLastfm, models.EntityPlays)
	if err != nil {
		t.Fatalf("Get checkpoint failed: %v", err)
	}
	if ts := saved.LastTimestamp(); ts == nil || !ts.Equal(utc("2024-01-01T13:00:00Z")) {
		t.Errorf("checkpoint = %v, want 2024-01-01T13:00:00Z", ts)
	}
}

func TestIncrementalImportIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	pager := &tu.MockAdapter{
		ServiceName: models.ServiceLastfm,
		GetRecentPlaysFn: func(ctx context.Context, limit int, from *time.Time, page int) ([]models.PlayRecord, bool, error) {
			if page > 1 {
				return nil, false, nil
			}
			return []models.PlayRecord{
				{Service: models.ServiceLastfm, Title: "Airbag", Artist: "Radiohead", PlayedAt: utc("2024-01-01T12:00:00Z")},
				{Service: models.ServiceLastfm, Title: "Lucky", Artist: "Radiohead", PlayedAt: utc("2024-01-01T13:00:00Z")},
			}, false, nil
		},
	}
	engine := NewImportEngine(store, newTestRegistry(t, pager), nil)

	first := engine.ImportPlays(ctx, NewIncrementalStrategy(models.ServiceLastfm, pager, store), ImportOptions{})
	if first.Imported != 2 {
		t.Fatalf("first Imported = %d, want 2", first.Imported)
	}

	second := engine.ImportPlays(ctx, NewIncrementalStrategy(models.ServiceLastfm, pager, store), ImportOptions{})
	if second.Imported != 0 {
		t.Errorf("second Imported = %d, want 0 (dedup)", second.Imported)
	}
	if second.Skipped != 2 {
		t.Errorf("second Skipped = %d, want 2", second.Skipped)
	}
	if !second.Success {
		t.Errorf("second run should still succeed, errors: %v", second.Errors)
	}
}

func TestRecentStrategyHonorsLimit(t *testing.T) {
	pager := &tu.MockAdapter{
		ServiceName: models.ServiceLastfm,
		GetRecentPlaysFn: func(ctx context.Context, limit int, from *time.Time, page int) ([]models.PlayRecord, bool, error) {
			if from != nil {
				t.Error("recent strategy must not pass a from time")
			}
			records := make([]models.PlayRecord, limit)
			for i := range records {
				records[i] = models.PlayRecord{
					Service:  models.ServiceLastfm,
					Title:    "Track",
					Artist:   "Artist",
					PlayedAt: utc("2024-01-01T12:00:00Z").Add(time.Duration(page*100+i) * time.Second),
				}
			}
			return records, true, nil
		},
	}

	strategy := NewRecentStrategy(models.ServiceLastfm, pager)
	state := &FetchState{Page: 1, Limit: 75}
	ctx := context.Background()

	var total int
	for {
		records, more, err := strategy.Fetch(ctx, state)
		if err != nil {
			t.Fatalf("Fetch failed: %v", err)
		}
		total += len(records)
		if !more {
			break
		}
		state.Page++
	}
	if total != 75 {
		t.Errorf("fetched %d records, want 75", total)
	}
}

func writeExportFile(t *testing.T, records string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "streaming_history.json")
	if err := os.WriteFile(path, []byte(records), 0o644); err != nil {
		t.Fatalf("failed to write export file: %v", err)
	}
	return path
}

const exportHeadRecords = `[
	{"ts": "2024-02-01T09:00:00Z", "spotify_track_uri": "spotify:track:0eeeeeeeeeeeeeeeeeeeeE",
	 "master_metadata_track_name": "Track E", "master_metadata_album_artist_name": "Artist E", "ms_played": 120000},
	{"ts": "2024-02-01T09:04:00Z", "spotify_track_uri": "spotify:track:0ffffffffffffffffffffF",
	 "master_metadata_track_name": "Track F", "master_metadata_album_artist_name": "Artist F", "ms_played": 150000}
]`

const exportGrownRecords = `[
	{"ts": "2024-02-01T09:00:00Z", "spotify_track_uri": "spotify:track:0eeeeeeeeeeeeeeeeeeeeE",
	 "master_metadata_track_name": "Track E", "master_metadata_album_artist_name": "Artist E", "ms_played": 120000},
	{"ts": "2024-02-01T09:04:00Z", "spotify_track_uri": "spotify:track:0ffffffffffffffffffffF",
	 "master_metadata_track_name": "Track F", "master_metadata_album_artist_name": "Artist F", "ms_played": 150000},
	{"ts": "2024-02-01T09:08:00Z", "spotify_track_uri": "spotify:track:0ggggggggggggggggggggG",
	 "master_metadata_track_name": "Track G", "master_metadata_album_artist_name": "Artist G", "ms_played": 95000},
	{"ts": "2024-02-01T09:12:00Z", "spotify_track_uri": "spotify:track:0hhhhhhhhhhhhhhhhhhhhH",
	 "master_metadata_track_name": "Track H", "master_metadata_album_artist_name": "Artist H", "ms_played": 200000}
]`

const exportThreeRecords = `[
	{"ts": "2024-01-01T12:00:00Z", "spotify_track_uri": "spotify:track:0aaaaaaaaaaaaaaaaaaaaA",
	 "master_metadata_track_name": "Track A", "master_metadata_album_artist_name": "Artist A",
	 "master_metadata_album_album_name": "Album A", "ms_played": 210000,
	 "platform": "ios", "conn_country": "US", "reason_start": "clickrow", "reason_end": "trackdone",
	 "shuffle": true, "skipped": false, "offline": false, "incognito_mode": false},
	{"ts": "2024-01-01T12:04:00Z", "spotify_track_uri": "spotify:track:0bbbbbbbbbbbbbbbbbbbbB",
	 "master_metadata_track_name": "Track B", "master_metadata_album_artist_name": "Artist B",
	 "ms_played": 180000, "platform": "ios", "conn_country": "US", "shuffle": false,
	 "skipped": false, "offline": false, "incognito_mode": false},
	{"ts": "2024-01-01T12:08:00Z", "spotify_track_uri": "spotify:track:0ccccccccccccccccccccC",
	 "master_metadata_track_name": "Track C", "master_metadata_album_artist_name": "Artist C",
	 "ms_played": 95000, "platform": "ios", "conn_country": "US", "shuffle": false,
	 "skipped": true, "offline": false, "incognito_mode": false}
]`

func TestFileImportScansPastDuplicatePages(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	engine := NewImportEngine(store, newTestRegistry(t), nil)

	first := engine.ImportPlays(ctx,
		NewSpotifyFileStrategy(writeExportFile(t, exportHeadRecords), nil),
		ImportOptions{Limit: 2})
	if first.Imported != 2 {
		t.Fatalf("first Imported = %d, want 2", first.Imported)
	}

	// The grown export starts with the already-imported head, so its first
	// page is all duplicates. The run must keep paging to the new records.
	second := engine.ImportPlays(ctx,
		NewSpotifyFileStrategy(writeExportFile(t, exportGrownRecords), nil),
		ImportOptions{Limit: 2})
	if !second.Success {
		t.Fatalf("expected success, errors: %v", second.Errors)
	}
	if second.Imported != 2 {
		t.Errorf("second Imported = %d, want 2 (records past the duplicate page)", second.Imported)
	}
	if second.Skipped != 2 {
		t.Errorf("second Skipped = %d, want 2", second.Skipped)
	}

	count, err := store.Plays.CountByService(ctx, models.ServiceSpotify)
	if err != nil {
		t.Fatalf("CountByService failed: %v", err)
	}
	if count != 4 {
		t.Errorf("persisted plays = %d, want 4", count)
	}
}

func TestSpotifyFileImportWithMixedResolution(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	path := writeExportFile(t, exportThreeRecords)

	adapter := &tu.MockAdapter{
		ServiceName: models.ServiceSpotify,
		BatchGetTracksFn: func(ctx context.Context, externalIDs []string) (map[string]models.Attributes, error) {
			// Only track A is directly fetchable.
			return map[string]models.Attributes{
				"0aaaaaaaaaaaaaaaaaaaaA": {
					"external_id": "0aaaaaaaaaaaaaaaaaaaaA",
					"title":       "Track A",
					"artists":     []string{"Artist A"},
					"album":       "Album A",
					"duration_ms": int64(215000),
				},
			}, nil
		},
		SearchTrackFn: func(ctx context.Context, artist, title string) (models.Attributes, error) {
			if title == "Track B" {
				return models.Attributes{
					"external_id": "0ddddddddddddddddddddD",
					"title":       "Track B",
					"artists":     []string{"Artist B"},
				}, nil
			}
			return nil, shared.ErrTrackNotFound
		},
	}

	engine := NewImportEngine(store, newTestRegistry(t, adapter), nil)
	strategy := NewSpotifyFileStrategy(path, nil)
	result := engine.ImportPlays(ctx, strategy, ImportOptions{ResolveTracks: true})

	if !result.Success {
		t.Fatalf("expected success, errors: %v", result.Errors)
	}
	if result.Processed != 3 || result.Imported != 3 {
		t.Errorf("processed/imported = %d/%d, want 3/3", result.Processed, result.Imported)
	}

	stats, ok := result.Details["resolution_stats"].(models.Attributes)
	if !ok {
		t.Fatalf("missing resolution_stats in details: %v", result.Details)
	}
	if stats["direct_id"] != 1 || stats["search_match"] != 1 || stats["preserved_metadata"] != 1 {
		t.Errorf("stats = %v, want direct 1 / search 1 / preserved 1", stats)
	}
	if stats["total_with_track_id"] != 2 {
		t.Errorf("total_with_track_id = %v, want 2", stats["total_with_track_id"])
	}
	rate, _ := stats["resolution_rate_percent"].(float64)
	if rate < 66.0 || rate > 67.0 {
		t.Errorf("resolution_rate_percent = %v, want ≈ 66.7", rate)
	}

	plays, err := store.Plays.GetByBatch(ctx, result.BatchID)
	if err != nil {
		t.Fatalf("GetByBatch failed: %v", err)
	}
	if len(plays) != 3 {
		t.Fatalf("persisted plays = %d, want 3", len(plays))
	}

	withID, withoutID := 0, 0
	for _, play := range plays {
		if play.TrackID() != nil {
			withID++
			continue
		}
		withoutID++
		if play.Context().String(models.ContextTitle) == "" {
			t.Error("unresolved play must preserve its original title")
		}
	}
	if withID != 2 || withoutID != 1 {
		t.Errorf("resolved/unresolved = %d/%d, want 2/1", withID, withoutID)
	}
}

func TestSpotifyFileStrategySkipsMalformedRecords(t *testing.T) {
	path := writeExportFile(t, `[
		{"ts": "2024-01-01T12:00:00Z", "spotify_track_uri": "spotify:track:0aaaaaaaaaaaaaaaaaaaaA",
		 "master_metadata_track_name": "Kept", "master_metadata_album_artist_name": "Artist", "ms_played": 1000},
		{"ts": "2024-01-01T12:01:00Z", "master_metadata_track_name": "No URI", "ms_played": 1000},
		{"ts": "2024-01-01T12:02:00Z", "spotify_track_uri": "spotify:track:0bbbbbbbbbbbbbbbbbbbbB", "ms_played": 1000},
		{"ts": "not-a-timestamp", "spotify_track_uri": "spotify:track:0ccccccccccccccccccccC",
		 "master_metadata_track_name": "Bad TS", "ms_played": 1000}
	]`)

	strategy := NewSpotifyFileStrategy(path, nil)
	state := &FetchState{Page: 1}
	records, more, err := strategy.Fetch(context.Background(), state)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if more {
		t.Error("single page expected")
	}
	if len(records) != 1 || records[0].Title != "Kept" {
		t.Errorf("records = %v, want the one valid record", records)
	}
	if state.Malformed != 3 {
		t.Errorf("Malformed = %d, want 3", state.Malformed)
	}
}

func TestSpotifyFileStrategyRejectsBadFile(t *testing.T) {
	strategy := NewSpotifyFileStrategy(filepath.Join(t.TempDir(), "missing.json"), nil)
	if _, _, err := strategy.Fetch(context.Background(), &FetchState{Page: 1}); err == nil {
		t.Error("expected error for missing file")
	}

	strategy = NewSpotifyFileStrategy(writeExportFile(t, `{"not": "an array"}`), nil)
	if _, _, err := strategy.Fetch(context.Background(), &FetchState{Page: 1}); err == nil {
		t.Error("expected error for non-array file")
	}
}

func TestResetCheckpointClearsTimestamp(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	user, err := store.Users.GetOrCreate(ctx, DefaultUsername)
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	checkpoint := models.NewSyncCheckpoint(user.ID(), models.ServiceLastfm, models.EntityPlays)
	checkpoint.Advance(utc("2024-01-01T10:00:00Z"))
	if err := store.Checkpoints.Save(ctx, checkpoint); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	engine := NewImportEngine(store, services.NewRegistry(), nil)
	if err := engine.ResetCheckpoint(ctx, "", models.ServiceLastfm); err != nil {
		t.Fatalf("ResetCheckpoint failed: %v", err)
	}

	saved, err := store.Checkpoints.Get(ctx, user.ID(), models.ServiceLastfm, models.EntityPlays)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if saved.LastTimestamp() != nil {
		t.Errorf("LastTimestamp = %v, want nil after reset", saved.LastTimestamp())
	}
}

func TestImportEmptyFeedSucceedsWithZeroWork(t *testing.T) {
	store := newTestStore(t)
	pager := &tu.MockAdapter{
		ServiceName: models.ServiceLastfm,
		GetRecentPlaysFn: func(ctx context.Context, limit int, from *time.Time, page int) ([]models.PlayRecord, bool, error) {
			return nil, false, nil
		},
	}

	engine := NewImportEngine(store, newTestRegistry(t, pager), nil)
	result := engine.ImportPlays(context.Background(), NewIncrementalStrategy(models.ServiceLastfm, pager, store), ImportOptions{})

	if !result.Success {
		t.Fatalf("expected success, errors: %v", result.Errors)
	}
	if result.Processed != 0 || result.Imported != 0 {
		t.Errorf("processed/imported = %d/%d, want 0/0", result.Processed, result.Imported)
	}
}
