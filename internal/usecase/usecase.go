package usecase

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/example/broscore/internal/inference"
	"github.com/example/broscore/internal/receipt"
	"github.com/example/broscore/internal/repository"
	"github.com/example/broscore/internal/retrier"
)

var (
	// ErrInvalidInput marks requests rejected by validation.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound marks lookups of unknown or expired ids.
	ErrNotFound = errors.New("not found")
	// ErrInference marks failures of a model call.
	ErrInference = errors.New("inference failed")
	// ErrReceipt marks missing, invalid or mismatched score receipts.
	ErrReceipt = errors.New("receipt rejected")
)

// LeaderboardRepository defines the persistence operations needed by the use case.
type LeaderboardRepository interface {
	Save(ctx context.Context, entry *repository.LeaderboardEntry) error
	Top(ctx context.Context, limit int) ([]repository.LeaderboardEntry, error)
	FindByID(ctx context.Context, id string) (*repository.LeaderboardEntry, error)
	Aggregate(ctx context.Context) (*repository.Aggregate, error)
}

// Options tune caching and receipt enforcement.
type Options struct {
	AnalysisTTL     time.Duration
	LeaderboardTTL  time.Duration
	RequireReceipts bool
}

// ScoringUseCase runs analyses and manages the leaderboard.
type ScoringUseCase struct {
	repo       LeaderboardRepository
	cache      Cache
	vision     inference.Vision
	speech     inference.Speech
	receipts   *receipt.Signer
	opts       Options
	logger     *zap.Logger
	now        func() time.Time
	cacheRetry retrier.Policy

	// leaderboardGen counts saves so a leaderboard read can tell whether
	// the list it cached was already stale.
	leaderboardGen atomic.Uint64
}

// NewScoringUseCase constructs a new use case instance.
func NewScoringUseCase(
	repo LeaderboardRepository,
	cache Cache,
	vision inference.Vision,
	speech inference.Speech,
	receipts *receipt.Signer,
	opts Options,
	logger *zap.Logger,
) *ScoringUseCase {
	if cache == nil {
		cache = NopCache{}
	}
	if opts.AnalysisTTL <= 0 {
		opts.AnalysisTTL = 10 * time.Minute
	}
	if opts.LeaderboardTTL <= 0 {
		opts.LeaderboardTTL = 30 * time.Second
	}
	logger = logger.Named("scoring_usecase")
	return &ScoringUseCase{
		repo:     repo,
		cache:    cache,
		vision:   vision,
		speech:   speech,
		receipts: receipts,
		opts:     opts,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		cacheRetry: retrier.Policy{
			Attempts:       3,
			InitialBackoff: 50 * time.Millisecond,
			MaxBackoff:     time.Second,
			Transient:      retrier.IsTransient,
			Logger:         logger,
		},
	}
}
