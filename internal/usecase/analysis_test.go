package usecase

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/broscore/internal/logging"
	"github.com/example/broscore/internal/receipt"
	"github.com/example/broscore/internal/scoring"
)

func newTestUseCase(repo *stubRepository, cache *stubCache, vision *stubVision, speech *stubSpeech, opts Options) *ScoringUseCase {
	uc := NewScoringUseCase(repo, cache, vision, speech, receipt.NewSigner("test-secret", time.Hour), opts, zap.NewNop())
	uc.cacheRetry.InitialBackoff = time.Millisecond
	uc.cacheRetry.MaxBackoff = 2 * time.Millisecond
	return uc
}

func TestAnalyzeImageScoresAndCaches(t *testing.T) {
	vision := &stubVision{
		labels:  []string{"person", "watch"},
		caption: "a man with AirPods",
		// softmax puts ~0.92 on the vest prompt
		logits: []float64{5, 2, 1, 1},
	}
	cache := newStubCache()
	uc := newTestUseCase(&stubRepository{}, cache, vision, &stubSpeech{}, Options{})

	analysis, err := uc.AnalyzeImage(context.Background(), []byte("img"))
	if err != nil {
		t.Fatalf("analyze image: %v", err)
	}
	if analysis.Score != 195 {
		t.Fatalf("expected 195 points, got %d (%+v)", analysis.Score, analysis.Items)
	}
	if analysis.Tier != scoring.TierPeasant {
		t.Fatalf("expected Peasant, got %s", analysis.Tier)
	}
	if len(vision.prompts) != len(scoring.Prompts) {
		t.Fatalf("matcher should receive every prompt, got %v", vision.prompts)
	}
	if analysis.Receipt == "" {
		t.Fatal("expected a receipt")
	}

	cached, err := uc.GetAnalysis(context.Background(), analysis.ID)
	if err != nil {
		t.Fatalf("get analysis: %v", err)
	}
	if cached.Score != analysis.Score || cached.Kind != receipt.KindCamera || len(cached.Items) != 3 {
		t.Fatalf("unexpected cached analysis: %+v", cached)
	}
}

func TestAnalyzeImageInferenceFailure(t *testing.T) {
	vision := &stubVision{detectErr: errors.New("detector down"), logits: []float64{0, 0, 0, 0}}
	uc := newTestUseCase(&stubRepository{}, newStubCache(), vision, &stubSpeech{}, Options{})

	_, err := uc.AnalyzeImage(context.Background(), []byte("img"))
	if !errors.Is(err, ErrInference) {
		t.Fatalf("expected ErrInference, got %v", err)
	}
	var opErr *logging.OperationError
	if !errors.As(err, &opErr) || opErr.Operation != "usecase.analyze_image" {
		t.Fatalf("expected analyze_image OperationError, got %v", err)
	}
}

func TestAnalyzeVoiceRetriesCacheAndCapsScore(t *testing.T) {
	cache := newStubCache()
	cache.setErrs = []error{transientRedisError{}}
	text := ""
	for i := 0; i < 25; i++ {
		text += "Synergy "
	}
	uc := newTestUseCase(&stubRepository{}, cache, &stubVision{}, &stubSpeech{text: text}, Options{})

	analysis, err := uc.AnalyzeVoice(context.Background(), []byte("audio"))
	if err != nil {
		t.Fatalf("analyze voice: %v", err)
	}
	if analysis.Score != scoring.MaxVoiceScore {
		t.Fatalf("expected capped score, got %d", analysis.Score)
	}
	if analysis.Buzzwords[0].Points != 625 {
		t.Fatalf("expected uncapped phrase points, got %+v", analysis.Buzzwords[0])
	}
	if len(cache.setKeys) != 2 || cache.setKeys[0] != cache.setKeys[1] {
		t.Fatalf("expected one retried cache write, got %v", cache.setKeys)
	}
}

func TestAnalyzeVoiceSucceedsWhenCacheFails(t *testing.T) {
	cache := newStubCache()
	cache.setErrs = []error{errors.New("redis down")}
	uc := newTestUseCase(&stubRepository{}, cache, &stubVision{}, &stubSpeech{text: "deep dive"}, Options{})

	analysis, err := uc.AnalyzeVoice(context.Background(), []byte("audio"))
	if err != nil {
		t.Fatalf("cache failures should not fail the analysis: %v", err)
	}
	if analysis.Score != 25 {
		t.Fatalf("expected 25 points, got %d", analysis.Score)
	}
	if _, err := uc.GetAnalysis(context.Background(), analysis.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for uncached analysis, got %v", err)
	}
}

func TestAnalyzeVoiceInferenceFailure(t *testing.T) {
	uc := newTestUseCase(&stubRepository{}, newStubCache(), &stubVision{}, &stubSpeech{err: errors.New("whisper oom")}, Options{})

	if _, err := uc.AnalyzeVoice(context.Background(), []byte("audio")); !errors.Is(err, ErrInference) {
		t.Fatalf("expected ErrInference, got %v", err)
	}
}

func TestSoftmaxMatchesVestThreshold(t *testing.T) {
	probs := scoring.Softmax([]float64{5, 2, 1, 1})
	if probs[0] <= 0.35 || math.Abs(probs[0]+probs[1]+probs[2]+probs[3]-1) > 1e-9 {
		t.Fatalf("unexpected probabilities %v", probs)
	}
}
