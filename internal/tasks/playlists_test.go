package tasks

import (
	"context"
	"errors"
	"testing"

	"github.com/avriley/syncopate/internal/matching"
	"github.com/avriley/syncopate/internal/models"
	"github.com/avriley/syncopate/internal/repositories"
	"github.com/avriley/syncopate/internal/shared"
	tu "github.com/avriley/syncopate/internal/testing"
)

func seedPlaylist(t *testing.T, store *repositories.Store, name string, trackIDs []int64) *models.Playlist {
	t.Helper()

	playlist := models.NewPlaylist(name, "test playlist")
	playlist.SetTrackIDs(trackIDs)
	err := store.WithUnitOfWork(context.Background(), func(tx *repositories.Store) error {
		return tx.Playlists.Save(context.Background(), playlist)
	})
	if err != nil {
		t.Fatalf("failed to seed playlist: %v", err)
	}
	return playlist
}

func TestPushPlaylistCreatesRemoteOnFirstPush(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := seedTrack(t, store, "Everything In Its Right Place", []string{"Radiohead"})
	second := seedTrack(t, store, "Kid A", []string{"Radiohead"})
	seedPlaylist(t, store, "morning", []int64{first.ID(), second.ID()})

	var created int
	var replaced [][]string
	adapter := &tu.MockAdapter{
		ServiceName: models.ServiceSpotify,
		SearchTrackFn: func(ctx context.Context, artist, title string) (models.Attributes, error) {
			return models.Attributes{"external_id": "sp-" + title, "title": title, "artist": artist}, nil
		},
		CreatePlaylistFn: func(ctx context.Context, name, description string) (string, error) {
			created++
			if name != "morning" {
				t.Errorf("CreatePlaylist name = %q, want morning", name)
			}
			return "pl-remote-1", nil
		},
		ReplaceTracksFn: func(ctx context.Context, playlistID string, externalIDs []string) error {
			if playlistID != "pl-remote-1" {
				t.Errorf("ReplacePlaylistTracks id = %q, want pl-remote-1", playlistID)
			}
			replaced = append(replaced, externalIDs)
			return nil
		},
	}

	registry := newTestRegistry(t, adapter)
	resolver := matching.NewResolver(store, registry, shared.SyncConfig{}, nil)
	engine := NewPlaylistEngine(store, registry, resolver, nil)

	result := engine.Push(ctx, "morning", models.ServiceSpotify)
	if !result.Success {
		t.Fatalf("expected success, errors: %v", result.Errors)
	}
	if result.Exported != 2 {
		t.Errorf("Exported = %d, want 2", result.Exported)
	}
	if created != 1 {
		t.Errorf("CreatePlaylist calls = %d, want 1", created)
	}
	if len(replaced) != 1 || len(replaced[0]) != 2 {
		t.Fatalf("replaced = %v, want one call with 2 tracks", replaced)
	}
	if replaced[0][0] != "sp-Everything In Its Right Place" || replaced[0][1] != "sp-Kid A" {
		t.Errorf("track order = %v, want playlist order preserved", replaced[0])
	}

	saved, err := store.Playlists.GetByName(ctx, "morning")
	if err != nil {
		t.Fatalf("GetByName failed: %v", err)
	}
	if id, ok := saved.ConnectorID(models.ServiceSpotify); !ok || id != "pl-remote-1" {
		t.Errorf("stored connector id = %q (%v), want pl-remote-1", id, ok)
	}

	// A second push reuses the stored remote playlist.
	if result := engine.Push(ctx, "morning", models.ServiceSpotify); !result.Success {
		t.Fatalf("second push failed: %v", result.Errors)
	}
	if created != 1 {
		t.Errorf("CreatePlaylist calls after second push = %d, want 1", created)
	}
	if len(replaced) != 2 {
		t.Errorf("ReplacePlaylistTracks calls = %d, want 2", len(replaced))
	}
}

func TestPushPlaylistSkipsUnresolvable(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	known := seedTrack(t, store, "Reckoner", []string{"Radiohead"})
	unknown := seedTrack(t, store, "Unreleased Demo", []string{"Radiohead"})
	seedPlaylist(t, store, "mixed", []int64{known.ID(), unknown.ID()})

	adapter := &tu.MockAdapter{
		ServiceName: models.ServiceSpotify,
		SearchTrackFn: func(ctx context.Context, artist, title string) (models.Attributes, error) {
			if title == "Reckoner" {
				return models.Attributes{"external_id": "sp-reckoner", "title": title, "artist": artist}, nil
			}
			return nil, shared.ErrTrackNotFound
		},
		CreatePlaylistFn: func(ctx context.Context, name, description string) (string, error) {
			return "pl-remote-2", nil
		},
		ReplaceTracksFn: func(ctx context.Context, playlistID string, externalIDs []string) error {
			if len(externalIDs) != 1 || externalIDs[0] != "sp-reckoner" {
				t.Errorf("externalIDs = %v, want only the resolved track", externalIDs)
			}
			return nil
		},
	}

	registry := newTestRegistry(t, adapter)
	resolver := matching.NewResolver(store, registry, shared.SyncConfig{}, nil)
	engine := NewPlaylistEngine(store, registry, resolver, nil)

	result := engine.Push(ctx, "mixed", models.ServiceSpotify)
	if !result.Success {
		t.Fatalf("expected success, errors: %v", result.Errors)
	}
	if result.Exported != 1 || result.Skipped != 1 {
		t.Errorf("exported/skipped = %d/%d, want 1/1", result.Exported, result.Skipped)
	}
	if result.ErrorCount() == 0 {
		t.Error("expected a per-track error for the unresolved track")
	}
}

func TestPushPlaylistMissingName(t *testing.T) {
	store := newTestStore(t)
	adapter := &tu.MockAdapter{
		ServiceName:      models.ServiceSpotify,
		CreatePlaylistFn: func(ctx context.Context, name, description string) (string, error) { return "", nil },
		ReplaceTracksFn:  func(ctx context.Context, playlistID string, externalIDs []string) error { return nil },
	}
	engine := NewPlaylistEngine(store, newTestRegistry(t, adapter), nil, nil)

	result := engine.Push(context.Background(), "no-such-playlist", models.ServiceSpotify)
	if result.Success {
		t.Error("push of a missing playlist should fail")
	}
}

func TestPushPlaylistRequiresWriterCapability(t *testing.T) {
	store := newTestStore(t)
	engine := NewPlaylistEngine(store, newTestRegistry(t, bareAdapter{name: models.ServiceLastfm}), nil, nil)

	result := engine.Push(context.Background(), "anything", models.ServiceLastfm)
	if result.Success {
		t.Error("push to a read-only service should fail")
	}
}

func TestPushEmptyPlaylistIsNoop(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedPlaylist(t, store, "empty", nil)

	adapter := &tu.MockAdapter{
		ServiceName: models.ServiceSpotify,
		CreatePlaylistFn: func(ctx context.Context, name, description string) (string, error) {
			t.Error("CreatePlaylist must not be called for an empty playlist")
			return "", errors.New("unexpected")
		},
		ReplaceTracksFn: func(ctx context.Context, playlistID string, externalIDs []string) error {
			t.Error("ReplacePlaylistTracks must not be called for an empty playlist")
			return errors.New("unexpected")
		},
	}
	engine := NewPlaylistEngine(store, newTestRegistry(t, adapter), nil, nil)

	result := engine.Push(ctx, "empty", models.ServiceSpotify)
	if !result.Success {
		t.Fatalf("expected success, errors: %v", result.Errors)
	}
	if result.Exported != 0 {
		t.Errorf("Exported = %d, want 0", result.Exported)
	}
}
