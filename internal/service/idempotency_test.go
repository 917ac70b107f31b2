package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func idempotencyStoresUnderTest(t *testing.T) map[string]IdempotencyStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return map[string]IdempotencyStore{
		"memory": NewMemoryIdempotencyStore(),
		"redis":  NewRedisIdempotencyStore(client, "idem"),
	}
}

func TestIdempotencyClaimRecordReplay(t *testing.T) {
	for name, store := range idempotencyStoresUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			claim, err := store.Claim(ctx, "flag-admin", "key-1", "fp-a", time.Minute)
			if err != nil {
				t.Fatalf("first claim: %v", err)
			}
			if claim.Outcome != IdempotencyFresh {
				t.Fatalf("first claim outcome = %s, want fresh", claim.Outcome)
			}

			claim, err = store.Claim(ctx, "flag-admin", "key-1", "fp-a", time.Minute)
			if err != nil {
				t.Fatalf("pending claim: %v", err)
			}
			if claim.Outcome != IdempotencyPending {
				t.Fatalf("claim before record = %s, want pending", claim.Outcome)
			}

			resp := StoredResponse{StatusCode: 201, ContentType: "application/json", Body: []byte(`{"id":1}`)}
			if err := store.Record(ctx, "flag-admin", "key-1", "fp-a", resp, time.Minute); err != nil {
				t.Fatalf("record: %v", err)
			}

			claim, err = store.Claim(ctx, "flag-admin", "key-1", "fp-a", time.Minute)
			if err != nil {
				t.Fatalf("replay claim: %v", err)
			}
			if claim.Outcome != IdempotencyReplay || claim.Replayed == nil {
				t.Fatalf("claim after record = %+v, want replay with response", claim)
			}
			if claim.Replayed.StatusCode != 201 || string(claim.Replayed.Body) != `{"id":1}` {
				t.Fatalf("unexpected replayed response: %+v", claim.Replayed)
			}
		})
	}
}

func TestIdempotencyFingerprintMismatch(t *testing.T) {
	for name, store := range idempotencyStoresUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := store.Claim(ctx, "flag-admin", "key-2", "fp-a", time.Minute); err != nil {
				t.Fatalf("claim: %v", err)
			}
			claim, err := store.Claim(ctx, "flag-admin", "key-2", "fp-b", time.Minute)
			if err != nil {
				t.Fatalf("mismatch claim: %v", err)
			}
			if claim.Outcome != IdempotencyMismatch {
				t.Fatalf("outcome = %s, want mismatch", claim.Outcome)
			}
		})
	}
}

func TestIdempotencyScopesAreIsolated(t *testing.T) {
	for name, store := range idempotencyStoresUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := store.Claim(ctx, "scope-a", "key", "fp", time.Minute); err != nil {
				t.Fatalf("claim: %v", err)
			}
			claim, err := store.Claim(ctx, "scope-b", "key", "fp", time.Minute)
			if err != nil {
				t.Fatalf("claim other scope: %v", err)
			}
			if claim.Outcome != IdempotencyFresh {
				t.Fatalf("same key in another scope = %s, want fresh", claim.Outcome)
			}
		})
	}
}

func TestIdempotencyRecordIgnoresForeignFingerprint(t *testing.T) {
	for name, store := range idempotencyStoresUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := store.Claim(ctx, "flag-admin", "key-3", "fp-a", time.Minute); err != nil {
				t.Fatalf("claim: %v", err)
			}
			resp := StoredResponse{StatusCode: 200, ContentType: "application/json", Body: []byte("{}")}
			if err := store.Record(ctx, "flag-admin", "key-3", "fp-other", resp, time.Minute); err != nil {
				t.Fatalf("record with foreign fingerprint: %v", err)
			}
			claim, err := store.Claim(ctx, "flag-admin", "key-3", "fp-a", time.Minute)
			if err != nil {
				t.Fatalf("claim: %v", err)
			}
			if claim.Outcome != IdempotencyPending {
				t.Fatalf("outcome = %s, want pending (foreign record must be discarded)", claim.Outcome)
			}
		})
	}
}

func TestMemoryIdempotencyExpiry(t *testing.T) {
	store := NewMemoryIdempotencyStore()
	base := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	now := base
	store.now = func() time.Time { return now }
	ctx := context.Background()

	if _, err := store.Claim(ctx, "flag-admin", "key", "fp", time.Minute); err != nil {
		t.Fatalf("claim: %v", err)
	}
	now = base.Add(2 * time.Minute)
	claim, err := store.Claim(ctx, "flag-admin", "key", "fp", time.Minute)
	if err != nil {
		t.Fatalf("claim after expiry: %v", err)
	}
	if claim.Outcome != IdempotencyFresh {
		t.Fatalf("outcome after expiry = %s, want fresh", claim.Outcome)
	}
}
