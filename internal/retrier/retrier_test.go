package retrier

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/example/broscore/internal/logging"
)

type flakyError struct{}

func (flakyError) Error() string { return "flaky" }
func (flakyError) Timeout() bool { return true }

func fastPolicy(attempts uint) Policy {
	return Policy{Attempts: attempts, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func TestRunRetriesUntilSuccess(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	p := fastPolicy(3)
	p.Logger = zap.New(core)

	calls := 0
	err := p.Run(context.Background(), "cache.get", "req-1", func() error {
		calls++
		if calls < 3 {
			return flakyError{}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if logs.FilterMessage("operation succeeded after retry").Len() != 1 {
		t.Fatalf("expected a recovery log, got %v", logs.All())
	}
}

func TestRunStopsOnPermanentError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := fastPolicy(5).Run(context.Background(), "repository.save", "req-2", func() error {
		calls++
		return boom
	})

	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
	var opErr *logging.OperationError
	if !errors.As(err, &opErr) || opErr.Operation != "repository.save" || opErr.RequestID != "req-2" {
		t.Fatalf("expected repository.save operation error, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("expected the original error to be wrapped, got %v", err)
	}
}

func TestRunReturnsLastErrorWhenAttemptsRunOut(t *testing.T) {
	calls := 0
	err := fastPolicy(2).Run(context.Background(), "op", "", func() error {
		calls++
		return flakyError{}
	})
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
	var flaky flakyError
	if !errors.As(err, &flaky) {
		t.Fatalf("expected the transient error back, got %v", err)
	}
}

func TestRunUsesCustomClassifier(t *testing.T) {
	busy := errors.New("database is locked")
	p := fastPolicy(3)
	p.Transient = func(err error) bool { return errors.Is(err, busy) }

	calls := 0
	err := p.Run(context.Background(), "op", "", func() error {
		calls++
		if calls == 1 {
			return busy
		}
		return flakyError{}
	})
	if calls != 2 {
		t.Fatalf("expected the classifier to stop on the second error, got %d calls", calls)
	}
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	p := Policy{Attempts: 5, InitialBackoff: time.Second, MaxBackoff: time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := p.Run(ctx, "op", "", func() error {
		calls++
		cancel()
		return flakyError{}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestIsTransient(t *testing.T) {
	cases := map[string]struct {
		err  error
		want bool
	}{
		"nil":      {nil, false},
		"deadline": {context.DeadlineExceeded, true},
		"timeout":  {flakyError{}, true},
		"plain":    {errors.New("nope"), false},
		"canceled": {context.Canceled, false},
	}
	for name, tc := range cases {
		if got := IsTransient(tc.err); got != tc.want {
			t.Errorf("%s: IsTransient = %v, want %v", name, got, tc.want)
		}
	}
}
