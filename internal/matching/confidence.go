package matching

import (
	"math"
	"strings"
	"time"

	fuzzy "github.com/paul-mannino/go-fuzzywuzzy"

	"github.com/avriley/syncopate/internal/models"
)

// Scoring constants. Bases reflect how trustworthy the lookup method is;
// penalties subtract for disagreement between the two descriptions.
const (
	baseISRC        = 95
	baseMBID        = 95
	baseArtistTitle = 90

	similarityFloor   = 0.9
	maxTitlePenalty   = 40.0
	maxArtistPenalty  = 40.0
	missingDurationPenalty = 10
	durationGraceMS   = 1000
	maxDurationPenalty = 60
)

// variationMarkers are words that, appearing in the non-shared remainder of a
// containment title pair, indicate a deliberate variant recording rather than
// a formatting difference.
var variationMarkers = []string{
	"live", "remix", "acoustic", "demo", "remaster", "radio edit",
	"extended", "instrumental", "album version", "single version",
}

// Score rates how confidently two track descriptions denote the same
// recording, on a 0..100 scale. Pure: no I/O, no randomness. The method names
// the lookup that produced the candidate and sets the base; title, artist and
// duration disagreement subtract from it. The penalty sum is truncated toward
// zero once before clamping.
func Score(internal, external models.TrackInfo, method string) (int, models.MatchEvidence) {
	base := baseArtistTitle
	switch method {
	case models.MethodISRC:
		base = baseISRC
	case models.MethodMBID:
		base = baseMBID
	}

	evidence := models.MatchEvidence{Base: base}
	penalties := 0.0

	titleSim := TitleSimilarity(internal.Title, external.Title)
	evidence.TitleSimilarity = titleSim
	if titleSim < similarityFloor {
		evidence.TitlePenalty = -maxTitlePenalty * (similarityFloor - titleSim) / similarityFloor
		penalties += evidence.TitlePenalty
	}

	artistSim := artistSimilarity(internal.FirstArtist(), external.FirstArtist())
	evidence.ArtistSimilarity = artistSim
	if artistSim < similarityFloor {
		ratio := (similarityFloor - artistSim) / similarityFloor
		evidence.ArtistPenalty = -maxArtistPenalty * ratio * ratio
		penalties += evidence.ArtistPenalty
	}

	switch {
	case internal.DurationMS == nil || external.DurationMS == nil:
		evidence.DurationPenalty = -missingDurationPenalty
		penalties += evidence.DurationPenalty
	default:
		diff := *internal.DurationMS - *external.DurationMS
		if diff < 0 {
			diff = -diff
		}
		evidence.DurationDiffMS = &diff
		if diff > durationGraceMS {
			steps := int(math.Ceil(float64(diff-durationGraceMS) / 1000))
			if steps > maxDurationPenalty {
				steps = maxDurationPenalty
			}
			evidence.DurationPenalty = -float64(steps)
			penalties += evidence.DurationPenalty
		}
	}

	final := base + int(penalties)
	if final < 0 {
		final = 0
	}
	if final > 100 {
		final = 100
	}
	evidence.Final = final
	return final, evidence
}

// TitleSimilarity rates two titles on 0..1. Identical after lowercasing is a
// perfect match. When one title contains the other and the remainder names a
// variation (live, remix, ...), the pair denotes different recordings of the
// same song and scores a fixed 0.6. Everything else falls back to a token set
// ratio, which is word-order and duplication insensitive.
func TitleSimilarity(a, b string) float64 {
	la := strings.ToLower(strings.TrimSpace(a))
	lb := strings.ToLower(strings.TrimSpace(b))
	if la == lb {
		return 1.0
	}
	if la == "" || lb == "" {
		return 0.0
	}

	shorter, longer := la, lb
	if len(shorter) > len(longer) {
		shorter, longer = longer, shorter
	}
	if strings.Contains(longer, shorter) {
		remainder := strings.Replace(longer, shorter, "", 1)
		remainder = strings.TrimSpace(strings.Map(func(r rune) rune {
			switch r {
			case '-', '(', ')', '[', ']':
				return ' '
			}
			return r
		}, remainder))
		for _, marker := range variationMarkers {
			if strings.Contains(remainder, marker) {
				return 0.6
			}
		}
	}

	return float64(fuzzy.TokenSetRatio(la, lb)) / 100
}

// artistSimilarity compares the primary artists with a token sort ratio,
// which tolerates reordering ("Lennon, John" vs "John Lennon").
func artistSimilarity(a, b string) float64 {
	la := strings.ToLower(strings.TrimSpace(a))
	lb := strings.ToLower(strings.TrimSpace(b))
	if la == lb {
		return 1.0
	}
	if la == "" || lb == "" {
		return 0.0
	}
	return float64(fuzzy.TokenSortRatio(la, lb)) / 100
}

// CrossServiceTimeMatch rates whether two plays on different services denote
// the same listening event, from how close their timestamps are. At or past
// the window the score is zero; inside it the score falls linearly from 90.
// The evidence carries the gap in milliseconds.
func CrossServiceTimeMatch(a, b time.Time, window time.Duration) (int, models.MatchEvidence) {
	delta := a.Sub(b)
	if delta < 0 {
		delta = -delta
	}

	diffMS := delta.Milliseconds()
	evidence := models.MatchEvidence{DurationDiffMS: &diffMS}

	if delta >= window {
		evidence.Final = 0
		return 0, evidence
	}

	score := int(90 - 20*(delta.Seconds()/window.Seconds()))
	evidence.Base = 90
	evidence.Final = score
	return score, evidence
}
