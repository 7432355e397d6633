package formatter

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/avriley/syncopate/internal/models"
	th "github.com/avriley/syncopate/internal/testing"
)

func testPlay(title, artist, album string, trackID *int64) *models.Play {
	play := models.NewPlay(models.ServiceLastfm, time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	play.SetImportSource("lastfm_strategy_recent")
	play.SetImportBatchID("batch-1")
	play.SetTrackID(trackID)
	play.SetContext(models.Attributes{
		models.ContextTitle:  title,
		models.ContextArtist: artist,
		models.ContextAlbum:  album,
	})
	return play
}

func TestPlaysRenderings(t *testing.T) {
	id := int64(7)
	plays := []*models.Play{
		testPlay("Airbag", "Radiohead", "OK Computer", &id),
		testPlay("Untitled Bootleg", "Unknown", "", nil),
	}

	t.Run("PlaysToCSV", func(t *testing.T) {
		data, err := PlaysToCSV(plays)
		if err != nil {
			t.Fatalf("PlaysToCSV failed: %v", err)
		}
		output := string(data)

		if !strings.Contains(output, "PlayedAt,Service,Title,Artist,Album,MsPlayed,TrackID,ImportSource") {
			t.Errorf("CSV missing headers, got: %s", output)
		}
		if !strings.Contains(output, "2024-01-01T12:00:00Z") {
			t.Errorf("CSV missing timestamp")
		}
		if !strings.Contains(output, "Airbag") || !strings.Contains(output, "Radiohead") {
			t.Errorf("CSV missing resolved play")
		}
		if !strings.Contains(output, ",7,") {
			t.Errorf("CSV missing track id column")
		}
		if !strings.Contains(output, "Untitled Bootleg") {
			t.Errorf("CSV missing unresolved play")
		}
	})

	t.Run("PlaysToText", func(t *testing.T) {
		data, err := PlaysToText(plays)
		if err != nil {
			t.Fatalf("PlaysToText failed: %v", err)
		}
		output := string(data)

		if !strings.Contains(output, "Plays: 2") {
			t.Errorf("text missing count header")
		}
		if !strings.Contains(output, "1. Radiohead - Airbag (OK Computer)") {
			t.Errorf("text missing resolved play, got: %s", output)
		}
		if !strings.Contains(output, "2. Unknown - Untitled Bootleg [lastfm 2024-01-01 12:00] *") {
			t.Errorf("text missing unresolved marker, got: %s", output)
		}
	})
}

func TestWritePlaysExport(t *testing.T) {
	id := int64(7)
	plays := []*models.Play{testPlay("Airbag", "Radiohead", "OK Computer", &id)}

	t.Run("DefaultPathUsesBatchID", func(t *testing.T) {
		t.Chdir(t.TempDir())

		path, err := WritePlaysExport(plays, "csv", "")
		if err != nil {
			t.Fatalf("WritePlaysExport failed: %v", err)
		}
		if path != "plays_batch-1.csv" {
			t.Errorf("path = %q, want plays_batch-1.csv", path)
		}
		th.AssertFileExists(t, path)

		content := th.MustReadFile(t, path)
		if !strings.Contains(content, "Airbag") {
			t.Errorf("export file missing play data")
		}
	})

	t.Run("TextFormat", func(t *testing.T) {
		path, err := WritePlaysExport(plays, "text", filepath.Join(t.TempDir(), "plays.txt"))
		if err != nil {
			t.Fatalf("WritePlaysExport failed: %v", err)
		}
		content := th.MustReadFile(t, path)
		if !strings.Contains(content, "1. Radiohead - Airbag") {
			t.Errorf("text export missing listing")
		}
	})

	t.Run("UnknownFormat", func(t *testing.T) {
		if _, err := WritePlaysExport(plays, "xml", ""); err == nil {
			t.Error("unknown format should return an error")
		}
	})
}

func TestPlaylistToText(t *testing.T) {
	first := models.NewTrack("Everything In Its Right Place", []string{"Radiohead"})
	first.SetID(1)
	ms := int64(251000)
	first.SetDurationMS(&ms)
	second := models.NewTrack("Kid A", []string{"Radiohead"})
	second.SetID(2)

	playlist := models.NewPlaylist("morning", "slow start")
	playlist.SetTrackIDs([]int64{1, 2, 3})
	if err := playlist.SetConnectorID(models.ServiceSpotify, "pl-remote-1"); err != nil {
		t.Fatalf("SetConnectorID failed: %v", err)
	}

	data, err := PlaylistToText(playlist, map[int64]*models.Track{1: first, 2: second})
	if err != nil {
		t.Fatalf("PlaylistToText failed: %v", err)
	}
	output := string(data)

	if !strings.Contains(output, "Playlist: morning") {
		t.Errorf("missing playlist name")
	}
	if !strings.Contains(output, "Description: slow start") {
		t.Errorf("missing description")
	}
	if !strings.Contains(output, "Tracks: 3") {
		t.Errorf("missing track count")
	}
	if !strings.Contains(output, "Published: spotify (pl-remote-1)") {
		t.Errorf("missing connector line, got: %s", output)
	}
	if !strings.Contains(output, "1. Radiohead - Everything In Its Right Place [4:11]") {
		t.Errorf("missing first track with duration, got: %s", output)
	}
	if !strings.Contains(output, "3. (missing track 3)") {
		t.Errorf("missing placeholder for unknown track")
	}
}

func TestResultSummary(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		result := models.NewOperationResult("import_plays", models.ServiceLastfm, "incremental", "batch-1")
		result.Processed = 120
		result.Imported = 115
		result.Skipped = 5
		result.Details["resolution_stats"] = models.Attributes{"direct_id": 100, "search_match": 15}
		result.Finish()

		output := ResultSummary(result)
		for _, want := range []string{
			"import_plays (lastfm, incremental)",
			"processed", "120",
			"imported", "115",
			"batch", "batch-1",
			"resolution_stats:", "direct_id=100 search_match=15",
		} {
			if !strings.Contains(output, want) {
				t.Errorf("summary missing %q, got: %s", want, output)
			}
		}
	})

	t.Run("Failure", func(t *testing.T) {
		result := models.NewOperationResult("export_likes", models.ServiceLastfm, "", "batch-2")
		result.Fail(nil)
		result.AddError("no lastfm identity for \"Obscure B-Side\"")

		output := ResultSummary(result)
		if !strings.Contains(output, "failed") {
			t.Errorf("summary missing failure marker, got: %s", output)
		}
		if !strings.Contains(output, "Obscure B-Side") {
			t.Errorf("summary missing error message")
		}
	})

	t.Run("TruncatesLongErrorLists", func(t *testing.T) {
		result := models.NewOperationResult("import_plays", models.ServiceSpotify, "file", "batch-3")
		for i := 0; i < 15; i++ {
			result.AddError("record %d failed", i)
		}
		result.Finish()

		output := ResultSummary(result)
		if !strings.Contains(output, "... and 5 more") {
			t.Errorf("summary should truncate errors, got: %s", output)
		}
	})
}

func TestResultJSON(t *testing.T) {
	result := models.NewOperationResult("import_likes", models.ServiceSpotify, "incremental", "batch-4")
	result.Imported = 3
	result.Finish()

	data, err := ResultJSON(result)
	if err != nil {
		t.Fatalf("ResultJSON failed: %v", err)
	}
	output := string(data)
	if !strings.Contains(output, `"operation": "import_likes"`) {
		t.Errorf("JSON missing operation field, got: %s", output)
	}
	if !strings.Contains(output, `"imported": 3`) {
		t.Errorf("JSON missing imported count")
	}
}
