package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/broscore/internal/logging"
	"github.com/example/broscore/internal/metrics"
	"github.com/example/broscore/internal/receipt"
	"github.com/example/broscore/internal/scoring"
)

// Analysis is the outcome of one camera or voice analysis.
type Analysis struct {
	ID            string                `json:"id"`
	Kind          receipt.Kind          `json:"kind"`
	Score         int                   `json:"score"`
	Tier          scoring.Tier          `json:"tier"`
	Items         []scoring.Item        `json:"items"`
	Labels        []string              `json:"labels"`
	Caption       string                `json:"caption"`
	Buzzwords     []scoring.BuzzwordHit `json:"buzzwords"`
	Transcription string                `json:"transcription"`
	Receipt       string                `json:"receipt"`
	CreatedAt     time.Time             `json:"created_at"`
}

func analysisCacheKey(id string) string {
	return fmt.Sprintf("analysis:%s", id)
}

// AnalyzeImage runs the vision models over image and scores the outfit.
func (uc *ScoringUseCase) AnalyzeImage(ctx context.Context, image []byte) (*Analysis, error) {
	id := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.analyze_image", id)

	var (
		labels  []string
		caption string
		logits  []float64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		labels, err = uc.vision.Detect(gctx, image)
		return err
	})
	g.Go(func() (err error) {
		caption, err = uc.vision.Caption(gctx, image)
		return err
	})
	g.Go(func() (err error) {
		logits, err = uc.vision.Match(gctx, image, scoring.Prompts)
		return err
	})
	if err := g.Wait(); err != nil {
		wrapped := logging.NewOperationError("usecase.analyze_image", id, fmt.Errorf("%w: %w", ErrInference, err))
		opLogger.Error("vision inference failed", zap.Error(err))
		return nil, wrapped
	}

	if labels == nil {
		labels = []string{}
	}
	items, score := scoring.ScoreCamera(scoring.CameraSignals{
		Labels:       labels,
		Caption:      caption,
		Similarities: scoring.Softmax(logits),
	})

	analysis := &Analysis{
		ID:        id,
		Kind:      receipt.KindCamera,
		Score:     score,
		Tier:      scoring.TierFor(score),
		Items:     items,
		Labels:    labels,
		Caption:   caption,
		CreatedAt: uc.now(),
	}
	if err := uc.finishAnalysis(ctx, analysis, opLogger); err != nil {
		return nil, err
	}
	opLogger.Info("image analyzed", zap.Int("score", score), zap.Int("items", len(items)))
	return analysis, nil
}

// AnalyzeVoice transcribes audio and scores the buzzwords in it.
func (uc *ScoringUseCase) AnalyzeVoice(ctx context.Context, audio []byte) (*Analysis, error) {
	id := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.analyze_voice", id)

	text, err := uc.speech.Transcribe(ctx, audio)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.analyze_voice", id, fmt.Errorf("%w: %w", ErrInference, err))
		opLogger.Error("speech inference failed", zap.Error(err))
		return nil, wrapped
	}

	hits, score, transcription := scoring.ScoreVoice(text)
	analysis := &Analysis{
		ID:            id,
		Kind:          receipt.KindVoice,
		Score:         score,
		Tier:          scoring.TierFor(score),
		Buzzwords:     hits,
		Transcription: transcription,
		CreatedAt:     uc.now(),
	}
	if err := uc.finishAnalysis(ctx, analysis, opLogger); err != nil {
		return nil, err
	}
	opLogger.Info("voice analyzed", zap.Int("score", score), zap.Int("buzzwords", len(hits)))
	return analysis, nil
}

// GetAnalysis returns a recent analysis from the cache.
func (uc *ScoringUseCase) GetAnalysis(ctx context.Context, id string) (*Analysis, error) {
	cached, err := uc.withRedisGet(ctx, id, "cache.get.analysis", analysisCacheKey(id))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var analysis Analysis
	if err := json.Unmarshal([]byte(cached), &analysis); err != nil {
		return nil, logging.NewOperationError("usecase.get_analysis", id, err)
	}
	return &analysis, nil
}

// finishAnalysis signs the receipt, records metrics and caches the result.
// A cache failure is logged and does not fail the analysis.
func (uc *ScoringUseCase) finishAnalysis(ctx context.Context, analysis *Analysis, opLogger *zap.Logger) error {
	token, err := uc.receipts.Issue(analysis.Kind, analysis.ID, analysis.Score)
	if err != nil {
		opLogger.Error("failed to sign receipt", zap.Error(err))
		return logging.NewOperationError("usecase.issue_receipt", analysis.ID, err)
	}
	analysis.Receipt = token
	metrics.ObserveAnalysis(string(analysis.Kind), string(analysis.Tier), analysis.Score)

	serialized, err := json.Marshal(analysis)
	if err != nil {
		opLogger.Error("failed to serialize analysis", zap.Error(err))
		return logging.NewOperationError("usecase.serialize_analysis", analysis.ID, err)
	}
	if err := uc.withRedisRetry(ctx, analysis.ID, "cache.set.analysis", func() error {
		return uc.cache.Set(ctx, analysisCacheKey(analysis.ID), string(serialized), uc.opts.AnalysisTTL)
	}); err != nil {
		opLogger.Warn("failed to cache analysis", zap.Error(err))
	}
	return nil
}
