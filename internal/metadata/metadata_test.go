package metadata

import (
	"context"
	"testing"
	"time"

	"github.com/avriley/syncopate/internal/models"
	"github.com/avriley/syncopate/internal/repositories"
	"github.com/avriley/syncopate/internal/services"
	"github.com/avriley/syncopate/internal/shared"
)

func newAdapterRegistry(t *testing.T, adapter services.Adapter) *services.Registry {
	t.Helper()

	registry := services.NewRegistry()
	if err := registry.Add(adapter); err != nil {
		t.Fatalf("failed to register adapter: %v", err)
	}
	return registry
}

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

func defaultRegistry() *Registry {
	registry := NewRegistry()
	registry.Register("popularity", 24*time.Hour, models.ServiceSpotify, "popularity")
	registry.Register("user_playcount", time.Hour, models.ServiceLastfm, "userplaycount")
	registry.Register("global_playcount", 24*time.Hour, models.ServiceLastfm, "playcount")
	registry.Register("listeners", 24*time.Hour, models.ServiceLastfm, "listeners")
	return registry
}

func TestRegistryDefaults(t *testing.T) {
	registry := defaultRegistry()

	tests := []struct {
		metric string
		want   time.Duration
	}{
		{"user_playcount", time.Hour},
		{"global_playcount", 24 * time.Hour},
		{"listeners", 24 * time.Hour},
		{"popularity", 24 * time.Hour},
		{"unregistered", DefaultTTL},
	}
	for _, tt := range tests {
		t.Run(tt.metric, func(t *testing.T) {
			if got := registry.TTL(tt.metric); got != tt.want {
				t.Errorf("TTL(%s) = %v, want %v", tt.metric, got, tt.want)
			}
		})
	}
}

func TestRegistryFreeze(t *testing.T) {
	registry := NewRegistry()
	registry.Register("popularity", time.Hour, models.ServiceSpotify, "popularity")

	// Before the freeze a re-registration overwrites.
	registry.Register("popularity", 2*time.Hour, models.ServiceSpotify, "popularity")
	if got := registry.TTL("popularity"); got != 2*time.Hour {
		t.Errorf("expected overwrite before freeze, got %v", got)
	}

	registry.Freeze()
	defer func() {
		if recover() == nil {
			t.Error("expected registration after freeze to panic")
		}
	}()
	registry.Register("late", time.Hour, models.ServiceSpotify, "late")
}

type flatteningInfo struct {
	Title string
	Plays float64
}

func (f flatteningInfo) AttributeMap() map[string]any {
	return map[string]any{"title": f.Title, "plays": f.Plays}
}

type jsonOnlyInfo struct {
	Title string  `json:"title"`
	Plays float64 `json:"plays"`
}

func TestAsAttributesDispatch(t *testing.T) {
	t.Run("attribute mapper", func(t *testing.T) {
		bag, err := asAttributes(flatteningInfo{Title: "x", Plays: 3})
		if err != nil {
			t.Fatalf("asAttributes failed: %v", err)
		}
		if bag.String("title") != "x" {
			t.Errorf("mapper branch not taken: %v", bag)
		}
	})

	t.Run("plain map", func(t *testing.T) {
		bag, err := asAttributes(map[string]any{"title": "y"})
		if err != nil {
			t.Fatalf("asAttributes failed: %v", err)
		}
		if bag.String("title") != "y" {
			t.Errorf("map branch not taken: %v", bag)
		}
	})

	t.Run("json round trip", func(t *testing.T) {
		bag, err := asAttributes(jsonOnlyInfo{Title: "z", Plays: 5})
		if err != nil {
			t.Fatalf("asAttributes failed: %v", err)
		}
		if bag.String("title") != "z" {
			t.Errorf("round-trip branch not taken: %v", bag)
		}
		if v, _ := bag.Float("plays"); v != 5 {
			t.Errorf("numeric field lost: %v", bag)
		}
	})
}

// infoAdapter is a canned TrackInfoBatchGetter.
type infoAdapter struct {
	name  string
	infos map[int64]any
	calls int
}

func (a *infoAdapter) Name() string { return a.name }

func (a *infoAdapter) BatchGetTrackInfo(ctx context.Context, tracks []*models.Track) (map[int64]any, error) {
	a.calls++
	out := map[int64]any{}
	for _, track := range tracks {
		if info, ok := a.infos[track.ID()]; ok {
			out[track.ID()] = info
		}
	}
	return out, nil
}

func newManagerFixture(t *testing.T, adapter *infoAdapter) (*Manager, *repositories.Store) {
	t.Helper()

	store := newTestStore(t)
	adapters := newAdapterRegistry(t, adapter)
	return NewManager(store, defaultRegistry(), adapters, nil), store
}

func TestRefreshMetadata(t *testing.T) {
	ctx := context.Background()

	adapter := &infoAdapter{name: models.ServiceLastfm, infos: map[int64]any{}}
	manager, store := newManagerFixture(t, adapter)

	mapped := models.NewTrack("Reckoner", []string{"Radiohead"})
	if err := store.Tracks.Save(ctx, mapped); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	rec := models.NewConnectorTrack(models.ServiceLastfm, "lf-reck", "Reckoner", []string{"Radiohead"})
	if err := store.ConnectorTracks.BulkUpsert(ctx, []*models.ConnectorTrack{rec}); err != nil {
		t.Fatalf("BulkUpsert failed: %v", err)
	}
	mapping := models.NewTrackMapping(mapped.ID(), rec.ID(), models.MethodArtistTitle, 90, nil)
	if err := store.Mappings.BulkUpsert(ctx, []*models.TrackMapping{mapping}); err != nil {
		t.Fatalf("mapping upsert failed: %v", err)
	}

	unmapped := models.NewTrack("Orphan", []string{"Nobody"})
	if err := store.Tracks.Save(ctx, unmapped); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	adapter.infos[mapped.ID()] = map[string]any{
		"title":         "Reckoner",
		"userplaycount": float64(12),
		"playcount":     float64(90000),
		"listeners":     float64(4000),
	}

	fresh, failed, err := manager.RefreshMetadata(ctx, []int64{mapped.ID(), unmapped.ID()}, models.ServiceLastfm)
	if err != nil {
		t.Fatalf("RefreshMetadata failed: %v", err)
	}

	t.Run("mapped track is refreshed", func(t *testing.T) {
		bag, ok := fresh[mapped.ID()]
		if !ok {
			t.Fatal("expected fresh bag for mapped track")
		}
		if v, _ := bag.Float("userplaycount"); v != 12 {
			t.Errorf("unexpected bag: %v", bag)
		}
	})

	t.Run("unmapped track fails without search", func(t *testing.T) {
		// Refresh must never fall back to matching; an unmapped track is a
		// refresh failure, full stop.
		if !failed[unmapped.ID()] {
			t.Error("expected unmapped track in failed set")
		}
		if _, ok := fresh[unmapped.ID()]; ok {
			t.Error("unmapped track must not be refreshed")
		}
	})

	t.Run("metrics persisted through the registry field keys", func(t *testing.T) {
		values, err := store.Metrics.Get(ctx, []int64{mapped.ID()}, "user_playcount", models.ServiceLastfm, time.Hour)
		if err != nil {
			t.Fatalf("metric read failed: %v", err)
		}
		if values[mapped.ID()] != 12 {
			t.Errorf("user_playcount not persisted: %v", values)
		}
	})

	t.Run("connector metadata bag persisted", func(t *testing.T) {
		got, err := store.ConnectorTracks.GetByExternal(ctx, models.ServiceLastfm, "lf-reck")
		if err != nil {
			t.Fatalf("GetByExternal failed: %v", err)
		}
		if v, _ := got.RawMetadata().Float("listeners"); v != 4000 {
			t.Errorf("metadata bag not persisted: %v", got.RawMetadata())
		}
	})

	t.Run("cached metadata readable without network", func(t *testing.T) {
		before := adapter.calls
		cached, err := manager.GetCachedMetadata(ctx, []int64{mapped.ID()}, models.ServiceLastfm)
		if err != nil {
			t.Fatalf("GetCachedMetadata failed: %v", err)
		}
		if adapter.calls != before {
			t.Error("cached read must not call the adapter")
		}
		if _, ok := cached[mapped.ID()]; !ok {
			t.Error("expected cached bag")
		}
	})

	t.Run("stale detection honors ttl", func(t *testing.T) {
		stale, err := manager.StaleTrackIDs(ctx, []int64{mapped.ID(), unmapped.ID()}, models.ServiceLastfm, "user_playcount")
		if err != nil {
			t.Fatalf("StaleTrackIDs failed: %v", err)
		}
		// Only the never-observed track is stale right after a refresh.
		if len(stale) != 1 || stale[0] != unmapped.ID() {
			t.Errorf("unexpected stale set: %v", stale)
		}
	})
}
