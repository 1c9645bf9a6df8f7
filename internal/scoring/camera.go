package scoring

import (
	"math"
	"strings"
)

// Prompts are the image-text prompts scored by the matcher, in index order.
var Prompts = []string{
	"person wearing patagonia vest",
	"person wearing quarter-zip pullover",
	"person wearing formal dress shirt with tie",
	"person wearing allbirds shoes",
}

const (
	promptVest = iota
	promptQuarterZip
	promptDressShirt
	promptAllbirds
)

// Item is a detected accessory and the points it earned.
type Item struct {
	Name   string `json:"name"`
	Points int    `json:"points"`
}

// CameraSignals is everything the vision models reported for one image.
type CameraSignals struct {
	Labels       []string
	Caption      string
	Similarities []float64
}

type cameraRule struct {
	item  Item
	match func(CameraSignals) bool
}

// MaxCameraScore is the camera score when every rule matches.
const MaxCameraScore = 310

var cameraRules = []cameraRule{
	{Item{"Patagonia vest/fleece", 50}, similarityAbove(promptVest, 0.35)},
	{Item{"Quarter-zip sweater", 40}, similarityAbove(promptQuarterZip, 0.1)},
	{Item{"Luxury watch", 100}, hasLabel("watch")},
	{Item{"AirPods", 45}, captionMentions("airpods", "earbuds")},
	{Item{"Allbirds shoes", 30}, similarityAbove(promptAllbirds, 0.4)},
	{Item{"Business casual attire", 25}, similarityAbove(promptDressShirt, 0.5)},
	{Item{"MacBook Pro", 20}, hasLabel("laptop")},
}

// ScoreCamera applies the accessory rules in order and returns the matched
// items with their point total.
func ScoreCamera(signals CameraSignals) ([]Item, int) {
	signals.Caption = strings.ToLower(signals.Caption)

	items := make([]Item, 0, len(cameraRules))
	total := 0
	for _, rule := range cameraRules {
		if rule.match(signals) {
			items = append(items, rule.item)
			total += rule.item.Points
		}
	}
	return items, total
}

// Softmax converts matcher logits into probabilities that sum to one.
func Softmax(logits []float64) []float64 {
	if len(logits) == 0 {
		return nil
	}
	maxLogit := math.Inf(-1)
	for _, l := range logits {
		if l > maxLogit {
			maxLogit = l
		}
	}

	out := make([]float64, len(logits))
	var sum float64
	for i, l := range logits {
		out[i] = math.Exp(l - maxLogit)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

func similarityAbove(index int, threshold float64) func(CameraSignals) bool {
	return func(s CameraSignals) bool {
		return index < len(s.Similarities) && s.Similarities[index] > threshold
	}
}

func hasLabel(label string) func(CameraSignals) bool {
	return func(s CameraSignals) bool {
		for _, l := range s.Labels {
			if l == label {
				return true
			}
		}
		return false
	}
}

func captionMentions(words ...string) func(CameraSignals) bool {
	return func(s CameraSignals) bool {
		for _, w := range words {
			if strings.Contains(s.Caption, w) {
				return true
			}
		}
		return false
	}
}
