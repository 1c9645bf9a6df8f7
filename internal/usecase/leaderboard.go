package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/broscore/internal/logging"
	"github.com/example/broscore/internal/metrics"
	"github.com/example/broscore/internal/receipt"
	"github.com/example/broscore/internal/repository"
	"github.com/example/broscore/internal/scoring"
)

const (
	DefaultLeaderboardLimit = 10
	MaxLeaderboardLimit     = 100
	MaxUsernameLength       = 32

	leaderboardCacheKey = "leaderboard:top"
)

// SaveScoreInput is a leaderboard submission. TotalScore nil means "compute it".
type SaveScoreInput struct {
	Username      string
	TotalScore    *int
	CameraScore   int
	VoiceScore    int
	DetectedItems []scoring.Item
	Buzzwords     []scoring.BuzzwordHit
	CameraReceipt string
	VoiceReceipt  string
}

// RankedEntry is one leaderboard row.
type RankedEntry struct {
	Rank       int          `json:"rank"`
	ID         string       `json:"id"`
	Username   string       `json:"username"`
	TotalScore int          `json:"total_score"`
	Tier       scoring.Tier `json:"tier"`
	CreatedAt  time.Time    `json:"created_at"`
}

// Entry is a stored submission with its decoded details.
type Entry struct {
	ID            string                `json:"id"`
	Username      string                `json:"username"`
	TotalScore    int                   `json:"total_score"`
	CameraScore   int                   `json:"camera_score"`
	VoiceScore    int                   `json:"voice_score"`
	Tier          scoring.Tier          `json:"tier"`
	DetectedItems []scoring.Item        `json:"detected_items"`
	Buzzwords     []scoring.BuzzwordHit `json:"buzzwords"`
	CreatedAt     time.Time             `json:"created_at"`
}

// Stats summarises the leaderboard.
type Stats struct {
	TotalEntries int64                  `json:"total_entries"`
	AverageScore float64                `json:"average_score"`
	MaxScore     int                    `json:"max_score"`
	Tiers        map[scoring.Tier]int64 `json:"tiers"`
}

// SaveScore validates a submission and stores it.
func (uc *ScoringUseCase) SaveScore(ctx context.Context, in SaveScoreInput) (*Entry, error) {
	id := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.save_score", id)

	username := strings.TrimSpace(in.Username)
	switch {
	case username == "":
		return nil, fmt.Errorf("%w: username is required", ErrInvalidInput)
	case utf8.RuneCountInString(username) > MaxUsernameLength:
		return nil, fmt.Errorf("%w: username must be at most %d characters", ErrInvalidInput, MaxUsernameLength)
	case in.CameraScore < 0 || in.VoiceScore < 0:
		return nil, fmt.Errorf("%w: scores must not be negative", ErrInvalidInput)
	case in.CameraScore > scoring.MaxCameraScore:
		return nil, fmt.Errorf("%w: camera_score must be at most %d", ErrInvalidInput, scoring.MaxCameraScore)
	case in.VoiceScore > scoring.MaxVoiceScore:
		return nil, fmt.Errorf("%w: voice_score must be at most %d", ErrInvalidInput, scoring.MaxVoiceScore)
	}
	total := in.CameraScore + in.VoiceScore
	if in.TotalScore != nil && *in.TotalScore != total {
		return nil, fmt.Errorf("%w: total_score %d does not equal camera_score + voice_score (%d)", ErrInvalidInput, *in.TotalScore, total)
	}

	cameraClaims, err := uc.checkReceipt(receipt.KindCamera, in.CameraReceipt, in.CameraScore)
	if err != nil {
		return nil, err
	}
	voiceClaims, err := uc.checkReceipt(receipt.KindVoice, in.VoiceReceipt, in.VoiceScore)
	if err != nil {
		return nil, err
	}

	items := in.DetectedItems
	if items == nil {
		items = []scoring.Item{}
	}
	buzzwords := in.Buzzwords
	if buzzwords == nil {
		buzzwords = []scoring.BuzzwordHit{}
	}
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return nil, logging.NewOperationError("usecase.save_score", id, err)
	}
	buzzwordsJSON, err := json.Marshal(buzzwords)
	if err != nil {
		return nil, logging.NewOperationError("usecase.save_score", id, err)
	}

	record := &repository.LeaderboardEntry{
		ID:            id,
		Username:      username,
		TotalScore:    total,
		CameraScore:   in.CameraScore,
		VoiceScore:    in.VoiceScore,
		Tier:          string(scoring.TierFor(total)),
		DetectedItems: string(itemsJSON),
		Buzzwords:     string(buzzwordsJSON),
		CreatedAt:     uc.now(),
	}

	spent, err := uc.spendReceipts(ctx, id, cameraClaims, voiceClaims)
	if err != nil {
		return nil, err
	}
	if err := uc.repo.Save(ctx, record); err != nil {
		opLogger.Error("failed to persist score", zap.Error(err))
		uc.releaseReceipts(ctx, id, spent)
		return nil, err
	}
	metrics.ObserveSave()

	uc.leaderboardGen.Add(1)
	if err := uc.withRedisRetry(ctx, id, "cache.del.leaderboard", func() error {
		return uc.cache.Del(ctx, leaderboardCacheKey)
	}); err != nil {
		opLogger.Warn("failed to invalidate leaderboard cache", zap.Error(err))
	}

	opLogger.Info("score saved", zap.String("username", username), zap.Int("total_score", total))
	return &Entry{
		ID:            id,
		Username:      username,
		TotalScore:    total,
		CameraScore:   in.CameraScore,
		VoiceScore:    in.VoiceScore,
		Tier:          scoring.Tier(record.Tier),
		DetectedItems: items,
		Buzzwords:     buzzwords,
		CreatedAt:     record.CreatedAt,
	}, nil
}

// checkReceipt verifies an optional receipt. It returns nil claims when no
// receipt was sent and none is required.
func (uc *ScoringUseCase) checkReceipt(kind receipt.Kind, token string, score int) (*receipt.Claims, error) {
	if token == "" {
		if uc.opts.RequireReceipts {
			return nil, fmt.Errorf("%w: %s receipt is required", ErrReceipt, kind)
		}
		return nil, nil
	}
	claims, err := uc.receipts.Verify(token, kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReceipt, err)
	}
	if claims.Score != score {
		return nil, fmt.Errorf("%w: %s score %d does not match receipt score %d", ErrReceipt, kind, score, claims.Score)
	}
	return claims, nil
}

func receiptCacheKey(analysisID string) string {
	return fmt.Sprintf("receipt:%s", analysisID)
}

// spendReceipts marks each receipt's analysis as used until the receipt
// would have expired. A receipt that was already spent is rejected.
func (uc *ScoringUseCase) spendReceipts(ctx context.Context, requestID string, claims ...*receipt.Claims) ([]string, error) {
	var spent []string
	for _, c := range claims {
		if c == nil {
			continue
		}
		if c.ID == "" {
			uc.releaseReceipts(ctx, requestID, spent)
			return nil, fmt.Errorf("%w: %s receipt has no analysis id", ErrReceipt, c.Kind)
		}

		ttl := uc.opts.AnalysisTTL
		if c.ExpiresAt != nil {
			ttl = c.ExpiresAt.Time.Sub(uc.now())
		}
		if ttl < time.Second {
			ttl = time.Second
		}

		key := receiptCacheKey(c.ID)
		var fresh bool
		err := uc.withRedisRetry(ctx, requestID, "cache.setnx.receipt", func() error {
			var err error
			fresh, err = uc.cache.SetNX(ctx, key, requestID, ttl)
			return err
		})
		if err != nil {
			uc.releaseReceipts(ctx, requestID, spent)
			return nil, err
		}
		if !fresh {
			uc.releaseReceipts(ctx, requestID, spent)
			return nil, fmt.Errorf("%w: %s receipt was already used", ErrReceipt, c.Kind)
		}
		spent = append(spent, key)
	}
	return spent, nil
}

func (uc *ScoringUseCase) releaseReceipts(ctx context.Context, requestID string, keys []string) {
	if len(keys) == 0 {
		return
	}
	if err := uc.withRedisRetry(ctx, requestID, "cache.del.receipt", func() error {
		return uc.cache.Del(ctx, keys...)
	}); err != nil {
		logging.WithOperation(uc.logger, "usecase.save_score", requestID).Warn("failed to release receipts", zap.Error(err))
	}
}

// ClampLeaderboardLimit maps a non-positive limit to the default and caps
// the rest at MaxLeaderboardLimit.
func ClampLeaderboardLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLeaderboardLimit
	case limit > MaxLeaderboardLimit:
		return MaxLeaderboardLimit
	}
	return limit
}

// Leaderboard returns the top entries. Out-of-range limits are clamped.
func (uc *ScoringUseCase) Leaderboard(ctx context.Context, limit int) ([]RankedEntry, error) {
	limit = ClampLeaderboardLimit(limit)

	requestID := logging.RequestIDFromContext(ctx)
	opLogger := logging.WithOperation(uc.logger, "usecase.leaderboard", requestID)

	ranked, err := uc.cachedLeaderboard(ctx, requestID)
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			opLogger.Warn("failed to read leaderboard cache", zap.Error(err))
		}

		gen := uc.leaderboardGen.Load()
		entries, err := uc.repo.Top(ctx, MaxLeaderboardLimit)
		if err != nil {
			return nil, err
		}
		ranked = make([]RankedEntry, len(entries))
		for i, e := range entries {
			ranked[i] = RankedEntry{
				Rank:       i + 1,
				ID:         e.ID,
				Username:   e.Username,
				TotalScore: e.TotalScore,
				Tier:       scoring.Tier(e.Tier),
				CreatedAt:  e.CreatedAt,
			}
		}

		if serialized, err := json.Marshal(ranked); err == nil {
			if err := uc.withRedisRetry(ctx, requestID, "cache.set.leaderboard", func() error {
				return uc.cache.Set(ctx, leaderboardCacheKey, string(serialized), uc.opts.LeaderboardTTL)
			}); err != nil {
				opLogger.Warn("failed to cache leaderboard", zap.Error(err))
			}
			// A save that landed after the read has already bumped the
			// generation; drop the list we just cached.
			if uc.leaderboardGen.Load() != gen {
				if err := uc.withRedisRetry(ctx, requestID, "cache.del.leaderboard", func() error {
					return uc.cache.Del(ctx, leaderboardCacheKey)
				}); err != nil {
					opLogger.Warn("failed to drop stale leaderboard", zap.Error(err))
				}
			}
		}
	}

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

func (uc *ScoringUseCase) cachedLeaderboard(ctx context.Context, requestID string) ([]RankedEntry, error) {
	cached, err := uc.withRedisGet(ctx, requestID, "cache.get.leaderboard", leaderboardCacheKey)
	if err != nil {
		return nil, err
	}
	var ranked []RankedEntry
	if err := json.Unmarshal([]byte(cached), &ranked); err != nil {
		return nil, err
	}
	return ranked, nil
}

// GetEntry loads one stored submission.
func (uc *ScoringUseCase) GetEntry(ctx context.Context, id string) (*Entry, error) {
	record, err := uc.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	entry := &Entry{
		ID:            record.ID,
		Username:      record.Username,
		TotalScore:    record.TotalScore,
		CameraScore:   record.CameraScore,
		VoiceScore:    record.VoiceScore,
		Tier:          scoring.Tier(record.Tier),
		DetectedItems: []scoring.Item{},
		Buzzwords:     []scoring.BuzzwordHit{},
		CreatedAt:     record.CreatedAt,
	}
	opLogger := logging.WithOperation(uc.logger, "usecase.get_entry", id)
	if record.DetectedItems != "" {
		if err := json.Unmarshal([]byte(record.DetectedItems), &entry.DetectedItems); err != nil {
			opLogger.Warn("stored detected_items is not valid JSON", zap.Error(err))
		}
	}
	if record.Buzzwords != "" {
		if err := json.Unmarshal([]byte(record.Buzzwords), &entry.Buzzwords); err != nil {
			opLogger.Warn("stored buzzwords is not valid JSON", zap.Error(err))
		}
	}
	return entry, nil
}

// Stats aggregates the leaderboard. Every tier is present, zero or not.
func (uc *ScoringUseCase) Stats(ctx context.Context) (*Stats, error) {
	agg, err := uc.repo.Aggregate(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		TotalEntries: agg.TotalCount,
		AverageScore: agg.AverageScore,
		MaxScore:     agg.MaxScore,
		Tiers:        make(map[scoring.Tier]int64, len(scoring.Tiers)),
	}
	for _, tier := range scoring.Tiers {
		stats.Tiers[tier] = agg.TierCounts[string(tier)]
	}
	return stats, nil
}
