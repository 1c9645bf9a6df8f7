package usecase

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/example/broscore/internal/repository"
)

type stubRepository struct {
	saved     []*repository.LeaderboardEntry
	saveErr   error
	topCalls  int
	topErr    error
	aggregate *repository.Aggregate
	// afterTop runs once the rows are read, before Top returns them.
	afterTop func()
}

func (s *stubRepository) Save(ctx context.Context, entry *repository.LeaderboardEntry) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, entry)
	return nil
}

func (s *stubRepository) Top(ctx context.Context, limit int) ([]repository.LeaderboardEntry, error) {
	s.topCalls++
	if s.topErr != nil {
		return nil, s.topErr
	}
	entries := make([]repository.LeaderboardEntry, 0, len(s.saved))
	for _, e := range s.saved {
		entries = append(entries, *e)
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].TotalScore > entries[j].TotalScore })
	if len(entries) > limit {
		entries = entries[:limit]
	}
	if s.afterTop != nil {
		hook := s.afterTop
		s.afterTop = nil
		hook()
	}
	return entries, nil
}

func (s *stubRepository) FindByID(ctx context.Context, id string) (*repository.LeaderboardEntry, error) {
	for _, e := range s.saved {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *stubRepository) Aggregate(ctx context.Context) (*repository.Aggregate, error) {
	if s.aggregate == nil {
		return nil, errors.New("no aggregate")
	}
	return s.aggregate, nil
}

type stubCache struct {
	mu      sync.Mutex
	values  map[string]string
	setErrs []error
	getErrs []error
	setKeys []string
	delKeys []string
}

func newStubCache() *stubCache {
	return &stubCache{values: map[string]string{}}
}

func (s *stubCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setKeys = append(s.setKeys, key)
	if len(s.setErrs) > 0 {
		err := s.setErrs[0]
		s.setErrs = s.setErrs[1:]
		if err != nil {
			return err
		}
	}
	s.values[key] = value.(string)
	return nil
}

func (s *stubCache) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.getErrs) > 0 {
		err := s.getErrs[0]
		s.getErrs = s.getErrs[1:]
		if err != nil {
			return "", err
		}
	}
	value, ok := s.values[key]
	if !ok {
		return "", redis.Nil
	}
	return value, nil
}

func (s *stubCache) Del(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		s.delKeys = append(s.delKeys, k)
		delete(s.values, k)
	}
	return nil
}

func (s *stubCache) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[key]; ok {
		return false, nil
	}
	s.values[key] = value.(string)
	return true, nil
}

type stubVision struct {
	labels    []string
	caption   string
	logits    []float64
	detectErr error
	prompts   []string
}

func (s *stubVision) Detect(ctx context.Context, image []byte) ([]string, error) {
	return s.labels, s.detectErr
}

func (s *stubVision) Caption(ctx context.Context, image []byte) (string, error) {
	return s.caption, nil
}

func (s *stubVision) Match(ctx context.Context, image []byte, prompts []string) ([]float64, error) {
	s.prompts = prompts
	return s.logits, nil
}

type stubSpeech struct {
	text string
	err  error
}

func (s *stubSpeech) Transcribe(ctx context.Context, audio []byte) (string, error) {
	return s.text, s.err
}

type transientRedisError struct{}

func (transientRedisError) Error() string   { return "redis transient" }
func (transientRedisError) Timeout() bool   { return true }
func (transientRedisError) Temporary() bool { return true }
