package service

import (
	"context"
	"sync"
	"time"
)

// IdempotencyOutcome reports which branch an admin mutation request lands
// in when it carries an Idempotency-Key.
type IdempotencyOutcome string

const (
	// IdempotencyFresh means the key was claimed and the handler should run.
	IdempotencyFresh IdempotencyOutcome = "fresh"
	// IdempotencyReplay means a completed response is stored for the key.
	IdempotencyReplay IdempotencyOutcome = "replay"
	// IdempotencyMismatch means the key was reused with a different payload.
	IdempotencyMismatch IdempotencyOutcome = "mismatch"
	// IdempotencyPending means a first attempt is still executing.
	IdempotencyPending IdempotencyOutcome = "pending"
)

// StoredResponse is the recorded HTTP result of a completed mutation,
// replayed verbatim for duplicate requests.
type StoredResponse struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

type IdempotencyClaim struct {
	Outcome  IdempotencyOutcome
	Replayed *StoredResponse
}

// IdempotencyStore coordinates at-most-once execution of admin mutations.
// Claim registers a request fingerprint under a key; Record stores the
// final response so later duplicates can be replayed.
type IdempotencyStore interface {
	Claim(ctx context.Context, scope, key, fingerprint string, ttl time.Duration) (IdempotencyClaim, error)
	Record(ctx context.Context, scope, key, fingerprint string, resp StoredResponse, ttl time.Duration) error
}

type memoryIdempotencyEntry struct {
	fingerprint string
	response    *StoredResponse
	expiresAt   time.Time
}

// MemoryIdempotencyStore is a process-local IdempotencyStore used in tests
// and single-instance deployments without Redis.
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]*memoryIdempotencyEntry
	now     func() time.Time
}

func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{
		entries: make(map[string]*memoryIdempotencyEntry),
		now:     time.Now,
	}
}

func (s *MemoryIdempotencyStore) Claim(_ context.Context, scope, key, fingerprint string, ttl time.Duration) (IdempotencyClaim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mapKey := scope + "\x00" + key
	entry, ok := s.entries[mapKey]
	if ok && s.now().After(entry.expiresAt) {
		delete(s.entries, mapKey)
		ok = false
	}
	if !ok {
		s.entries[mapKey] = &memoryIdempotencyEntry{
			fingerprint: fingerprint,
			expiresAt:   s.now().Add(ttl),
		}
		return IdempotencyClaim{Outcome: IdempotencyFresh}, nil
	}
	if entry.fingerprint != fingerprint {
		return IdempotencyClaim{Outcome: IdempotencyMismatch}, nil
	}
	if entry.response == nil {
		return IdempotencyClaim{Outcome: IdempotencyPending}, nil
	}
	copied := *entry.response
	return IdempotencyClaim{Outcome: IdempotencyReplay, Replayed: &copied}, nil
}

func (s *MemoryIdempotencyStore) Record(_ context.Context, scope, key, fingerprint string, resp StoredResponse, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mapKey := scope + "\x00" + key
	entry, ok := s.entries[mapKey]
	if !ok || entry.fingerprint != fingerprint {
		return nil
	}
	entry.response = &resp
	entry.expiresAt = s.now().Add(ttl)
	return nil
}
