package service

import (
	"context"
	"sync"
	"time"
)

// AnonymousSubject is the cache subject used when no user is supplied.
const AnonymousSubject = "anonymous"

// EvaluationCacheStore memoizes evaluation results per (flag, subject).
// Subject is the decimal user ID or AnonymousSubject. InvalidateFlag must
// remove every subject's entry for the flag, which backends without pattern
// deletes satisfy by indexing live keys per flag.
type EvaluationCacheStore interface {
	Get(ctx context.Context, flagName, subject string) (enabled bool, found bool, err error)
	Set(ctx context.Context, flagName, subject string, enabled bool, ttl time.Duration) error
	Invalidate(ctx context.Context, flagName, subject string) error
	InvalidateFlag(ctx context.Context, flagName string) error
}

type NoopEvaluationCacheStore struct{}

func NewNoopEvaluationCacheStore() *NoopEvaluationCacheStore { return &NoopEvaluationCacheStore{} }

func (s *NoopEvaluationCacheStore) Get(context.Context, string, string) (bool, bool, error) {
	return false, false, nil
}
func (s *NoopEvaluationCacheStore) Set(context.Context, string, string, bool, time.Duration) error {
	return nil
}
func (s *NoopEvaluationCacheStore) Invalidate(context.Context, string, string) error { return nil }
func (s *NoopEvaluationCacheStore) InvalidateFlag(context.Context, string) error     { return nil }

type evaluationCacheEntry struct {
	enabled   bool
	expiresAt time.Time
}

type InMemoryEvaluationCacheStore struct {
	mu      sync.RWMutex
	entries map[string]map[string]evaluationCacheEntry
}

func NewInMemoryEvaluationCacheStore() *InMemoryEvaluationCacheStore {
	return &InMemoryEvaluationCacheStore{entries: map[string]map[string]evaluationCacheEntry{}}
}

func (s *InMemoryEvaluationCacheStore) Get(_ context.Context, flagName, subject string) (bool, bool, error) {
	now := time.Now().UTC()
	s.mu.RLock()
	entry, ok := s.entries[flagName][subject]
	s.mu.RUnlock()
	if !ok {
		return false, false, nil
	}
	if now.After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.entries[flagName], subject)
		s.mu.Unlock()
		return false, false, nil
	}
	return entry.enabled, true, nil
}

func (s *InMemoryEvaluationCacheStore) Set(_ context.Context, flagName, subject string, enabled bool, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	subjects, ok := s.entries[flagName]
	if !ok {
		subjects = map[string]evaluationCacheEntry{}
		s.entries[flagName] = subjects
	}
	subjects[subject] = evaluationCacheEntry{enabled: enabled, expiresAt: time.Now().UTC().Add(ttl)}
	return nil
}

func (s *InMemoryEvaluationCacheStore) Invalidate(_ context.Context, flagName, subject string) error {
	s.mu.Lock()
	delete(s.entries[flagName], subject)
	s.mu.Unlock()
	return nil
}

func (s *InMemoryEvaluationCacheStore) InvalidateFlag(_ context.Context, flagName string) error {
	s.mu.Lock()
	delete(s.entries, flagName)
	s.mu.Unlock()
	return nil
}
