package scoring

import "strings"

const (
	pointsPerBuzzword = 25
	// MaxVoiceScore caps the voice total; per-phrase points are not capped.
	MaxVoiceScore = 500
)

// Buzzwords are matched against the lowercased transcription in this order.
var Buzzwords = []string{
	"circle back", "synergize", "synergy", "hop on a call", "jump on a call",
	"take this offline", "touch base", "ping you", "ping me", "bandwidth",
	"move the needle", "low-hanging fruit", "deep dive", "leverage",
	"actionable", "moving forward", "at the end of the day", "per my last email",
}

// BuzzwordHit records how often a phrase was said.
type BuzzwordHit struct {
	Phrase string `json:"phrase"`
	Count  int    `json:"count"`
	Points int    `json:"points"`
}

// ScoreVoice counts non-overlapping buzzword occurrences in the transcription.
// It returns the hits, the capped score and the lowercased transcription.
func ScoreVoice(transcription string) ([]BuzzwordHit, int, string) {
	text := strings.ToLower(transcription)

	hits := make([]BuzzwordHit, 0)
	total := 0
	for _, phrase := range Buzzwords {
		count := strings.Count(text, phrase)
		if count == 0 {
			continue
		}
		points := count * pointsPerBuzzword
		hits = append(hits, BuzzwordHit{Phrase: phrase, Count: count, Points: points})
		total += points
	}
	if total > MaxVoiceScore {
		total = MaxVoiceScore
	}
	return hits, total, text
}
