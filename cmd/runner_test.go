package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/avriley/syncopate/internal/batch"
	"github.com/avriley/syncopate/internal/metadata"
	"github.com/avriley/syncopate/internal/models"
	"github.com/avriley/syncopate/internal/repositories"
	"github.com/avriley/syncopate/internal/services"
	"github.com/avriley/syncopate/internal/shared"
	tu "github.com/avriley/syncopate/internal/testing"
)

func newTestRunner(t *testing.T) (*Runner, *bytes.Buffer) {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := shared.RunMigrations(db); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	output := &bytes.Buffer{}
	runner := NewRunner(RunnerOpts{
		Config:   shared.DefaultConfig(),
		Logger:   shared.NewLogger(nil),
		Output:   output,
		Store:    repositories.NewStore(db),
		Adapters: services.NewRegistry(),
		Metrics:  metadata.NewRegistry(),
	})
	return runner, output
}

func TestRunner(t *testing.T) {
	t.Run("NewRunner", func(t *testing.T) {
		t.Run("with all dependencies provided", func(t *testing.T) {
			config := shared.DefaultConfig()
			logger := shared.NewLogger(nil)
			output := &bytes.Buffer{}

			runner := NewRunner(RunnerOpts{Config: config, Logger: logger, Output: output})

			if runner.config != config {
				t.Error("expected config to be set")
			}
			if runner.logger != logger {
				t.Error("expected logger to be set")
			}
			if runner.output != output {
				t.Error("expected output to be set")
			}
		})

		t.Run("with defaults", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{})

			if runner.config == nil {
				t.Error("expected default config")
			}
			if runner.logger == nil {
				t.Error("expected default logger")
			}
			if runner.output != os.Stdout {
				t.Error("expected output to default to stdout")
			}
		})
	})

	t.Run("register wires the full command tree", func(t *testing.T) {
		runner := NewRunner(RunnerOpts{Output: &bytes.Buffer{}})

		names := map[string]bool{}
		for _, cmd := range runner.register() {
			names[cmd.Name] = true
		}
		for _, expected := range []string{"setup", "auth", "plays", "likes", "tracks", "playlists"} {
			if !names[expected] {
				t.Errorf("expected command %q to be registered", expected)
			}
		}
	})

	t.Run("bootstrap skips when store and adapters are injected", func(t *testing.T) {
		runner, _ := newTestRunner(t)
		store := runner.store

		if err := runner.bootstrap(context.Background()); err != nil {
			t.Fatalf("bootstrap failed: %v", err)
		}
		if runner.store != store {
			t.Error("expected injected store to be kept")
		}
	})
}

func TestWriteResult(t *testing.T) {
	t.Run("success renders a summary and returns nil", func(t *testing.T) {
		runner, output := newTestRunner(t)
		result := models.NewOperationResult("import_plays", "lastfm", "recent", "batch-1")
		result.Processed = 3
		result.Imported = 3
		result.Finish()

		if err := runner.writeResult(result, false); err != nil {
			t.Fatalf("writeResult failed: %v", err)
		}
		if !strings.Contains(output.String(), "import_plays") {
			t.Errorf("expected summary output, got %q", output.String())
		}
	})

	t.Run("failure maps to a non-nil error", func(t *testing.T) {
		runner, _ := newTestRunner(t)
		result := models.NewOperationResult("import_plays", "lastfm", "recent", "batch-2")
		result.Fail(shared.ErrUnknownService)

		if err := runner.writeResult(result, false); err == nil {
			t.Error("expected an error for a failed result")
		}
	})

	t.Run("json flag emits valid JSON", func(t *testing.T) {
		runner, output := newTestRunner(t)
		result := models.NewOperationResult("export_likes", "lastfm", "incremental", "batch-3")
		result.Finish()

		if err := runner.writeResult(result, true); err != nil {
			t.Fatalf("writeResult failed: %v", err)
		}
		var decoded models.OperationResult
		if err := json.Unmarshal(output.Bytes(), &decoded); err != nil {
			t.Fatalf("output is not valid JSON: %v", err)
		}
		if decoded.BatchID != "batch-3" {
			t.Errorf("expected batch id batch-3, got %q", decoded.BatchID)
		}
	})

	t.Run("zero work is still success", func(t *testing.T) {
		runner, _ := newTestRunner(t)
		result := models.NewOperationResult("import_likes", "spotify", "incremental", "batch-4")
		result.Finish()

		if err := runner.writeResult(result, false); err != nil {
			t.Errorf("expected zero-work success, got %v", err)
		}
	})
}

func TestConsoleSink(t *testing.T) {
	output := &bytes.Buffer{}
	sink := newConsoleSink(output)

	sink.Publish(batch.Event{Type: batch.BatchStarted, Batch: 1, Batches: 2, Total: 10})
	sink.Publish(batch.Event{Type: batch.BatchProgress, Batch: 1, Batches: 2, Completed: 5, Total: 10})
	sink.Publish(batch.Event{Type: batch.BatchCompleted, Batch: 1, Succeeded: 9, Failed: 1})

	lines := strings.Split(strings.TrimSpace(output.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d: %q", len(lines), output.String())
	}
	if !strings.Contains(lines[2], "9 ok") {
		t.Errorf("expected completion counts, got %q", lines[2])
	}

	t.Run("message overrides the default completion line", func(t *testing.T) {
		output.Reset()
		sink.Publish(batch.Event{Type: batch.BatchCompleted, Batch: 2, Message: "page 2: 4 new, 1 duplicate"})
		if !strings.Contains(output.String(), "4 new") {
			t.Errorf("expected custom message, got %q", output.String())
		}
	})
}

func TestSink(t *testing.T) {
	runner, _ := newTestRunner(t)

	if _, ok := runner.sink(true).(batch.NoopSink); !ok {
		t.Error("expected quiet runs to use the no-op sink")
	}
	if _, ok := runner.sink(false).(*consoleSink); !ok {
		t.Error("expected interactive runs to use the console sink")
	}
}

func TestCallbackAddr(t *testing.T) {
	cases := []struct {
		name     string
		uri      string
		expected string
		wantErr  bool
	}{
		{name: "empty defaults to localhost", uri: "", expected: "localhost:8080"},
		{name: "host and port from redirect", uri: "http://localhost:9090/callback", expected: "localhost:9090"},
		{name: "garbage is rejected", uri: "::not a uri::", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			addr, err := callbackAddr(tc.uri)
			if tc.wantErr {
				if err == nil {
					t.Error("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("callbackAddr failed: %v", err)
			}
			if addr != tc.expected {
				t.Errorf("expected %q, got %q", tc.expected, addr)
			}
		})
	}
}

func TestCheckpointUser(t *testing.T) {
	runner, _ := newTestRunner(t)
	runner.config.Credentials.Lastfm.Username = "listener"

	if got := runner.checkpointUser("override"); got != "override" {
		t.Errorf("expected flag to win, got %q", got)
	}
	if got := runner.checkpointUser(""); got != "listener" {
		t.Errorf("expected configured account, got %q", got)
	}
}

func TestPlaysSpotifyFileAction(t *testing.T) {
	runner, output := newTestRunner(t)

	path := filepath.Join(t.TempDir(), "history.json")
	payload := `[
		{"ts": "2024-01-01T12:00:00Z", "spotify_track_uri": "spotify:track:4uLU6hMCjMI75M1A2tKUQC",
		 "master_metadata_track_name": "Never Gonna Give You Up",
		 "master_metadata_album_artist_name": "Rick Astley",
		 "master_metadata_album_album_name": "Whenever You Need Somebody",
		 "ms_played": 210000, "platform": "ios", "conn_country": "US",
		 "reason_start": "clickrow", "reason_end": "trackdone",
		 "shuffle": false, "skipped": false, "offline": false, "incognito_mode": false},
		{"ts": "2024-01-01T12:05:00Z", "master_metadata_track_name": "No URI Here"}
	]`
	if err := os.WriteFile(path, []byte(payload), 0644); err != nil {
		t.Fatalf("failed to write export file: %v", err)
	}

	cmd := playsCommand(runner)
	args := []string{"plays", "spotify-file", "--resolve-tracks=false", "--quiet", path}
	if err := cmd.Run(context.Background(), args); err != nil {
		t.Fatalf("spotify-file import failed: %v", err)
	}

	if !strings.Contains(output.String(), "import_plays") {
		t.Errorf("expected result summary, got %q", output.String())
	}

	count, err := runner.store.Plays.CountByService(context.Background(), models.ServiceSpotify)
	if err != nil {
		t.Fatalf("CountByService failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 play persisted, got %d", count)
	}
}

func TestLikesImportSpotifyAction(t *testing.T) {
	runner, output := newTestRunner(t)

	adapter := &tu.MockAdapter{
		ServiceName: models.ServiceSpotify,
		GetLikedTracksFn: func(ctx context.Context, limit int, cursor string) ([]models.LikedRecord, string, error) {
			if cursor != "" {
				return nil, "", nil
			}
			return []models.LikedRecord{{
				Service:    models.ServiceSpotify,
				ExternalID: "ext-1",
				Title:      "Creep",
				Artists:    []string{"Radiohead"},
			}}, "", nil
		},
	}
	if err := runner.adapters.Add(adapter); err != nil {
		t.Fatalf("failed to register adapter: %v", err)
	}

	cmd := likesCommand(runner)
	if err := cmd.Run(context.Background(), []string{"likes", "import-spotify"}); err != nil {
		t.Fatalf("import-spotify failed: %v", err)
	}
	if !strings.Contains(output.String(), "import_likes") {
		t.Errorf("expected result summary, got %q", output.String())
	}
}
