package models

import (
	"testing"
	"time"
)

func TestTrackValidate(t *testing.T) {
	tc := []struct {
		name    string
		track   *Track
		wantErr bool
	}{
		{name: "valid", track: NewTrack("Paranoid Android", []string{"Radiohead"})},
		{name: "empty title", track: NewTrack("", []string{"Radiohead"}), wantErr: true},
		{name: "no artists", track: NewTrack("Paranoid Android", nil), wantErr: true},
		{name: "blank artist", track: NewTrack("Paranoid Android", []string{" "}), wantErr: true},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.track.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected validation error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestTrackISRC(t *testing.T) {
	track := NewTrack("Creep", []string{"Radiohead"})

	track.SetISRC("gbum71505078")
	if track.ISRC() != "GBUM71505078" {
		t.Errorf("expected uppercased isrc, got %s", track.ISRC())
	}
	if err := track.Validate(); err != nil {
		t.Errorf("12-char isrc should validate: %v", err)
	}

	track.SetISRC("SHORT")
	if err := track.Validate(); err == nil {
		t.Error("expected error for wrong-length isrc")
	}
}

func TestTrackIDImmutable(t *testing.T) {
	track := NewTrack("Creep", []string{"Radiohead"})
	track.SetID(7)
	track.SetID(99)

	if track.ID() != 7 {
		t.Errorf("id must be immutable once assigned, got %d", track.ID())
	}
}

func TestPlayDedupKey(t *testing.T) {
	playedAt := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	ms := int64(210000)

	t.Run("resolved plays key on track id", func(t *testing.T) {
		a := NewPlay("spotify", playedAt)
		trackID := int64(42)
		a.SetTrackID(&trackID)
		a.SetMSPlayed(&ms)

		b := NewPlay("spotify", playedAt)
		b.SetTrackID(&trackID)
		b.SetMSPlayed(&ms)

		if a.DedupKey() != b.DedupKey() {
			t.Error("equal plays must share a dedup key")
		}
	})

	t.Run("unresolved plays fall back to fingerprint", func(t *testing.T) {
		a := NewPlay("lastfm", playedAt)
		a.SetContext(Attributes{ContextTitle: "Bohemian Rhapsody", ContextArtist: "Queen"})

		b := NewPlay("lastfm", playedAt)
		b.SetContext(Attributes{ContextTitle: "bohemian rhapsody", ContextArtist: "QUEEN"})

		if a.DedupKey() != b.DedupKey() {
			t.Error("fingerprint must be case-insensitive")
		}
	})

	t.Run("different services never collide", func(t *testing.T) {
		a := NewPlay("spotify", playedAt)
		a.SetContext(Attributes{ContextTitle: "Creep", ContextArtist: "Radiohead"})
		b := NewPlay("lastfm", playedAt)
		b.SetContext(Attributes{ContextTitle: "Creep", ContextArtist: "Radiohead"})

		if a.DedupKey() == b.DedupKey() {
			t.Error("dedup key must include the service")
		}
	})
}

func TestCheckpointAdvance(t *testing.T) {
	cp := NewSyncCheckpoint(1, "lastfm", EntityPlays)
	earlier := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	later := time.Date(2024, 1, 1, 13, 0, 0, 0, time.UTC)

	if !cp.Advance(later) {
		t.Fatal("advance from empty should succeed")
	}
	if cp.Advance(earlier) {
		t.Error("advance to an older timestamp must be a no-op")
	}
	if got := *cp.LastTimestamp(); !got.Equal(later) {
		t.Errorf("expected %v, got %v", later, got)
	}
}

func TestPlaylistReservedConnectorNames(t *testing.T) {
	pl := NewPlaylist("road trip", "")

	if err := pl.SetConnectorID("spotify", "abc123"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, reserved := range ReservedServiceNames {
		if err := pl.SetConnectorID(reserved, "x"); err == nil {
			t.Errorf("expected rejection for reserved name %q", reserved)
		}
	}
}

func TestAttributesRoundTrip(t *testing.T) {
	bag := Attributes{
		"platform": "ios",
		"skipped":  true,
		"ms":       float64(1234),
	}

	text, err := MarshalAttributes(bag)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	got, err := UnmarshalAttributes(text)
	if err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if got.String("platform") != "ios" {
		t.Errorf("string round trip failed: %v", got["platform"])
	}
	if !got.Bool("skipped") {
		t.Error("bool round trip failed")
	}
	if v, ok := got.Int("ms"); !ok || v != 1234 {
		t.Errorf("int round trip failed: %v %v", v, ok)
	}
}

func TestOperationResult(t *testing.T) {
	res := NewOperationResult("plays_import", "lastfm", "incremental", "batch-1")
	res.Processed = 3
	res.AddError("item %d failed", 2)
	res.Finish()

	if !res.Success {
		t.Error("per-item errors should not flip overall success")
	}
	if res.ErrorCount() != 1 {
		t.Errorf("expected 1 error, got %d", res.ErrorCount())
	}

	failed := NewOperationResult("plays_import", "lastfm", "incremental", "batch-2")
	failed.Fail(ErrInvalidModel)
	if failed.Success {
		t.Error("Fail must mark the result unsuccessful")
	}
	if failed.FinishedAt.IsZero() {
		t.Error("Fail must stamp the finish time")
	}
}
