package usecase

import (
	"context"
)

func (uc *ScoringUseCase) withRedisRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	return uc.cacheRetry.Run(ctx, operation, requestID, fn)
}

// withRedisGet reads a key; a miss surfaces as redis.Nil inside the
// returned operation error.
func (uc *ScoringUseCase) withRedisGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, requestID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}
