package matching

import (
	"testing"
	"time"

	"github.com/avriley/syncopate/internal/models"
)

func ms(v int64) *int64 { return &v }

func TestScoreISRCPerfectMatch(t *testing.T) {
	internal := models.TrackInfo{
		Title:      "Paranoid Android",
		Artists:    []string{"Radiohead"},
		DurationMS: ms(386000),
		ISRC:       "GBUM71505078",
	}
	external := models.TrackInfo{
		Title:      "Paranoid Android",
		Artists:    []string{"Radiohead"},
		DurationMS: ms(386000),
	}

	score, evidence := Score(internal, external, models.MethodISRC)
	if score != 95 {
		t.Errorf("score = %d, want 95", score)
	}
	if evidence.TitleSimilarity != 1.0 {
		t.Errorf("title similarity = %v, want 1.0", evidence.TitleSimilarity)
	}
	if evidence.ArtistSimilarity < 0.95 {
		t.Errorf("artist similarity = %v, want >= 0.95", evidence.ArtistSimilarity)
	}
	if evidence.DurationDiffMS == nil || *evidence.DurationDiffMS != 0 {
		t.Errorf("duration diff = %v, want 0", evidence.DurationDiffMS)
	}
}

func TestScoreLiveVariation(t *testing.T) {
	internal := models.TrackInfo{
		Title:      "Creep",
		Artists:    []string{"Radiohead"},
		DurationMS: ms(238000),
	}
	external := models.TrackInfo{
		Title:      "Creep - Live",
		Artists:    []string{"Radiohead"},
		DurationMS: ms(245000),
	}

	score, evidence := Score(internal, external, models.MethodArtistTitle)
	if evidence.TitleSimilarity != 0.6 {
		t.Errorf("title similarity = %v, want 0.6", evidence.TitleSimilarity)
	}
	if evidence.ArtistPenalty != 0 {
		t.Errorf("artist penalty = %v, want 0", evidence.ArtistPenalty)
	}
	if evidence.DurationDiffMS == nil || *evidence.DurationDiffMS != 7000 {
		t.Errorf("duration diff = %v, want 7000", evidence.DurationDiffMS)
	}
	if evidence.DurationPenalty != -6 {
		t.Errorf("duration penalty = %v, want -6", evidence.DurationPenalty)
	}
	// 90 minus the truncated penalty sum 13.33 + 6.
	if score != 71 {
		t.Errorf("score = %d, want 71", score)
	}
}

func TestScoreArtistMismatch(t *testing.T) {
	internal := models.TrackInfo{
		Title:      "Yesterday",
		Artists:    []string{"The Beatles"},
		DurationMS: ms(125000),
	}
	external := models.TrackInfo{
		Title:      "Yesterday",
		Artists:    []string{"Frank Sinatra"},
		DurationMS: ms(125000),
	}

	score, evidence := Score(internal, external, models.MethodArtistTitle)
	if evidence.TitlePenalty != 0 {
		t.Errorf("title penalty = %v, want 0", evidence.TitlePenalty)
	}
	if evidence.DurationPenalty != 0 {
		t.Errorf("duration penalty = %v, want 0", evidence.DurationPenalty)
	}
	if evidence.ArtistSimilarity > 0.5 {
		t.Errorf("artist similarity = %v, want low", evidence.ArtistSimilarity)
	}
	if evidence.ArtistPenalty >= -10 {
		t.Errorf("artist penalty = %v, want a substantial deduction", evidence.ArtistPenalty)
	}
	if score < 68 || score > 76 {
		t.Errorf("score = %d, want around 72", score)
	}
}

func TestScoreMissingDuration(t *testing.T) {
	internal := models.TrackInfo{Title: "Idioteque", Artists: []string{"Radiohead"}, DurationMS: ms(309000)}
	external := models.TrackInfo{Title: "Idioteque", Artists: []string{"Radiohead"}}

	score, evidence := Score(internal, external, models.MethodISRC)
	if evidence.DurationPenalty != -10 {
		t.Errorf("duration penalty = %v, want -10", evidence.DurationPenalty)
	}
	if evidence.DurationDiffMS != nil {
		t.Errorf("duration diff = %v, want nil when one side is missing", evidence.DurationDiffMS)
	}
	if score != 85 {
		t.Errorf("score = %d, want 85", score)
	}
}

func TestScoreClampsAtZero(t *testing.T) {
	internal := models.TrackInfo{Title: "aaaa", Artists: []string{"bbbb"}, DurationMS: ms(1000)}
	external := models.TrackInfo{Title: "zzzz zzzz", Artists: []string{"qqqq"}, DurationMS: ms(200_000_000)}

	score, _ := Score(internal, external, models.MethodArtistTitle)
	if score != 0 {
		t.Errorf("score = %d, want 0", score)
	}
}

func TestTitleSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{"identical", "Karma Police", "Karma Police", 1.0},
		{"case insensitive", "Karma Police", "karma police", 1.0},
		{"live suffix", "Creep", "Creep - Live", 0.6},
		{"remix in brackets", "One More Time", "One More Time [Extended Remix]", 0.6},
		{"remaster in parens", "Let It Be", "Let It Be (2009 Remaster)", 0.6},
		{"empty side", "Creep", "", 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TitleSimilarity(tt.a, tt.b); got != tt.want {
				t.Errorf("TitleSimilarity(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}

	t.Run("unrelated titles score low", func(t *testing.T) {
		if got := TitleSimilarity("Paranoid Android", "Bohemian Rhapsody"); got >= 0.5 {
			t.Errorf("similarity = %v, want < 0.5", got)
		}
	})

	t.Run("reordered words survive token set", func(t *testing.T) {
		if got := TitleSimilarity("The Man Who Sold The World", "Man Who Sold The World, The"); got < 0.9 {
			t.Errorf("similarity = %v, want >= 0.9", got)
		}
	})
}

func TestCrossServiceTimeMatch(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	window := 300 * time.Second

	t.Run("within window", func(t *testing.T) {
		score, evidence := CrossServiceTimeMatch(base, base.Add(2*time.Minute), window)
		if score != 82 {
			t.Errorf("score = %d, want 82", score)
		}
		if evidence.DurationDiffMS == nil || *evidence.DurationDiffMS != 120000 {
			t.Errorf("duration diff = %v, want 120000", evidence.DurationDiffMS)
		}
	})

	t.Run("order independent", func(t *testing.T) {
		forward, _ := CrossServiceTimeMatch(base, base.Add(time.Minute), window)
		backward, _ := CrossServiceTimeMatch(base.Add(time.Minute), base, window)
		if forward != backward {
			t.Errorf("asymmetric scores: %d vs %d", forward, backward)
		}
	})

	t.Run("at window boundary", func(t *testing.T) {
		score, _ := CrossServiceTimeMatch(base, base.Add(window), window)
		if score != 0 {
			t.Errorf("score = %d, want 0", score)
		}
	})

	t.Run("outside window", func(t *testing.T) {
		score, _ := CrossServiceTimeMatch(base, base.Add(time.Hour), window)
		if score != 0 {
			t.Errorf("score = %d, want 0", score)
		}
	})
}
