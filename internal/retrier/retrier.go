// Package retrier runs store and cache calls with capped exponential backoff.
package retrier

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"

	"github.com/example/broscore/internal/logging"
)

// Policy decides how often and how long to retry. Only errors for which
// Transient returns true are retried; a nil Transient uses IsTransient.
type Policy struct {
	Attempts       uint
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Transient      func(error) bool
	Logger         *zap.Logger
}

// Run calls fn until it succeeds, returns a non-transient error, runs out of
// attempts or ctx is done. Failures come back as *logging.OperationError.
func (p Policy) Run(ctx context.Context, operation, requestID string, fn func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	transient := p.Transient
	if transient == nil {
		transient = IsTransient
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	opLogger := logging.WithOperation(logger, operation, requestID)

	tries := 0
	err := retry.Do(
		func() error {
			tries++
			return fn()
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(p.InitialBackoff),
		retry.MaxDelay(p.MaxBackoff),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(transient),
		retry.OnRetry(func(n uint, err error) {
			opLogger.Warn("transient error", zap.Error(err), zap.Uint("attempt", n+1))
		}),
	)
	if err != nil {
		return logging.NewOperationError(operation, requestID, err)
	}
	if tries > 1 {
		opLogger.Info("operation succeeded after retry", zap.Int("attempts", tries))
	}
	return nil
}

// IsTransient reports deadline, timeout and temporary network errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return true
	}
	var temporary interface{ Temporary() bool }
	return errors.As(err, &temporary) && temporary.Temporary()
}
