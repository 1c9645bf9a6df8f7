package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/broscore/internal/logging"
	"github.com/example/broscore/internal/retrier"
)

// ErrNotFound is returned when no entry matches the requested id.
var ErrNotFound = errors.New("leaderboard entry not found")

// LeaderboardEntry is one saved score.
type LeaderboardEntry struct {
	ID            string    `gorm:"column:id;primaryKey;size:36"`
	Username      string    `gorm:"column:username;size:64;not null"`
	TotalScore    int       `gorm:"column:total_score;index:idx_leaderboard_rank,priority:1,sort:desc"`
	CameraScore   int       `gorm:"column:camera_score"`
	VoiceScore    int       `gorm:"column:voice_score"`
	Tier          string    `gorm:"column:tier;size:32"`
	DetectedItems string    `gorm:"column:detected_items;type:text"`
	Buzzwords     string    `gorm:"column:buzzwords;type:text"`
	CreatedAt     time.Time `gorm:"column:created_at;index:idx_leaderboard_rank,priority:2"`
}

// TableName overrides the default table name.
func (LeaderboardEntry) TableName() string {
	return "leaderboard"
}

// Aggregate summarises the whole leaderboard.
type Aggregate struct {
	TotalCount   int64
	AverageScore float64
	MaxScore     int
	TierCounts   map[string]int64
}

// LeaderboardRepository persists leaderboard entries.
type LeaderboardRepository struct {
	db    *gorm.DB
	retry retrier.Policy
}

// NewLeaderboardRepository creates a new repository instance.
func NewLeaderboardRepository(db *gorm.DB, logger *zap.Logger) *LeaderboardRepository {
	return &LeaderboardRepository{
		db: db,
		retry: retrier.Policy{
			Attempts:       3,
			InitialBackoff: 25 * time.Millisecond,
			MaxBackoff:     500 * time.Millisecond,
			Transient:      isTransientStoreError,
			Logger:         logger.Named("leaderboard_repository"),
		},
	}
}

// AutoMigrate ensures the schema is available.
func (r *LeaderboardRepository) AutoMigrate(ctx context.Context) error {
	return r.executeWithRetry(ctx, "repository.auto_migrate", "", func() error {
		return r.db.WithContext(ctx).AutoMigrate(&LeaderboardEntry{})
	})
}

// Save inserts a new entry.
func (r *LeaderboardRepository) Save(ctx context.Context, entry *LeaderboardEntry) error {
	return r.executeWithRetry(ctx, "repository.save", entry.ID, func() error {
		return r.db.WithContext(ctx).Create(entry).Error
	})
}

// Top returns the best entries, highest score first; earlier entries win ties.
func (r *LeaderboardRepository) Top(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	var entries []LeaderboardEntry
	err := r.executeWithRetry(ctx, "repository.top", logging.RequestIDFromContext(ctx), func() error {
		entries = entries[:0]
		return r.db.WithContext(ctx).
			Order("total_score DESC").
			Order("created_at ASC").
			Limit(limit).
			Find(&entries).Error
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// FindByID loads a single entry.
func (r *LeaderboardRepository) FindByID(ctx context.Context, id string) (*LeaderboardEntry, error) {
	var entry LeaderboardEntry
	err := r.executeWithRetry(ctx, "repository.find_by_id", id, func() error {
		err := r.db.WithContext(ctx).First(&entry, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Aggregate computes count, average, max and the per-tier distribution.
func (r *LeaderboardRepository) Aggregate(ctx context.Context) (*Aggregate, error) {
	var totals struct {
		TotalCount   int64
		AverageScore float64
		MaxScore     int
	}
	var tiers []struct {
		Tier  string
		Count int64
	}

	err := r.executeWithRetry(ctx, "repository.aggregate", logging.RequestIDFromContext(ctx), func() error {
		tiers = tiers[:0]
		db := r.db.WithContext(ctx).Model(&LeaderboardEntry{})
		if err := db.Select("COUNT(*) AS total_count, COALESCE(AVG(total_score), 0) AS average_score, COALESCE(MAX(total_score), 0) AS max_score").
			Scan(&totals).Error; err != nil {
			return err
		}
		return r.db.WithContext(ctx).Model(&LeaderboardEntry{}).
			Select("tier, COUNT(*) AS count").
			Group("tier").
			Scan(&tiers).Error
	})
	if err != nil {
		return nil, err
	}

	agg := &Aggregate{
		TotalCount:   totals.TotalCount,
		AverageScore: totals.AverageScore,
		MaxScore:     totals.MaxScore,
		TierCounts:   make(map[string]int64, len(tiers)),
	}
	for _, t := range tiers {
		agg.TierCounts[t.Tier] = t.Count
	}
	return agg, nil
}
