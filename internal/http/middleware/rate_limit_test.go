package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/autumn-ma/django-culture/internal/security"
)

type stubLimiter struct {
	allowFunc func(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error)
	lastKey   string
}

func (s *stubLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	s.lastKey = key
	return s.allowFunc(ctx, key, limit, window)
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func doRateLimited(t *testing.T, rl *RateLimiter, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	rl.Middleware()(okHandler()).ServeHTTP(rec, req)
	return rec
}

func TestLocalFixedWindowLimiter(t *testing.T) {
	l := NewLocalFixedWindowLimiter()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, _, err := l.Allow(ctx, "k", 3, time.Minute)
		if err != nil || !allowed {
			t.Fatalf("request %d should be allowed: allowed=%v err=%v", i, allowed, err)
		}
	}
	allowed, retryAfter, err := l.Allow(ctx, "k", 3, time.Minute)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if allowed {
		t.Fatal("fourth request should be rejected")
	}
	if retryAfter <= 0 || retryAfter > time.Minute {
		t.Fatalf("retryAfter out of range: %v", retryAfter)
	}

	// Other keys keep their own window.
	if allowed, _, _ := l.Allow(ctx, "other", 3, time.Minute); !allowed {
		t.Fatal("separate key should not share the counter")
	}
}

func TestRedisFixedWindowLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	l := NewRedisFixedWindowLimiter(client, "rl_test")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, _, err := l.Allow(ctx, "eval:ip:1.2.3.4", 2, time.Minute)
		if err != nil || !allowed {
			t.Fatalf("request %d: allowed=%v err=%v", i, allowed, err)
		}
	}
	allowed, retryAfter, err := l.Allow(ctx, "eval:ip:1.2.3.4", 2, time.Minute)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if allowed {
		t.Fatal("limit exceeded, expected rejection")
	}
	if retryAfter <= 0 {
		t.Fatalf("expected positive retry-after, got %v", retryAfter)
	}

	// The counter expires with the window.
	mr.FastForward(61 * time.Second)
	if allowed, _, _ := l.Allow(ctx, "eval:ip:1.2.3.4", 2, time.Minute); !allowed {
		t.Fatal("new window should admit requests again")
	}
}

func TestRedisFixedWindowLimiterNilClient(t *testing.T) {
	l := NewRedisFixedWindowLimiter(nil, "")
	if _, _, err := l.Allow(context.Background(), "k", 1, time.Second); !errors.Is(err, ErrNoRedisClient) {
		t.Fatalf("expected ErrNoRedisClient, got %v", err)
	}
}

func TestRateLimiterRejectsWithRetryAfter(t *testing.T) {
	stub := &stubLimiter{allowFunc: func(context.Context, string, int, time.Duration) (bool, time.Duration, error) {
		return false, 42 * time.Second, nil
	}}
	rl := NewRateLimiter(stub, 10, time.Minute, FailOpen, "eval", nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/flags/evaluate", nil)
	req.RemoteAddr = "10.0.0.9:5555"
	rec := doRateLimited(t, rl, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "42" {
		t.Fatalf("Retry-After = %q", got)
	}
	if stub.lastKey != "eval:ip:10.0.0.9" {
		t.Fatalf("key = %q", stub.lastKey)
	}
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Error.Code != "RATE_LIMITED" {
		t.Fatalf("error code = %q", body.Error.Code)
	}
}

func TestRateLimiterFailureModes(t *testing.T) {
	stub := &stubLimiter{allowFunc: func(context.Context, string, int, time.Duration) (bool, time.Duration, error) {
		return false, 0, errors.New("backend down")
	}}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.9:5555"

	t.Run("fail open lets the request through", func(t *testing.T) {
		rl := NewRateLimiter(stub, 10, time.Minute, FailOpen, "eval", nil)
		if rec := doRateLimited(t, rl, req); rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
	})
	t.Run("fail closed rejects", func(t *testing.T) {
		rl := NewRateLimiter(stub, 10, time.Minute, FailClosed, "admin", nil)
		rec := doRateLimited(t, rl, req)
		if rec.Code != http.StatusTooManyRequests {
			t.Fatalf("status = %d", rec.Code)
		}
		if rec.Header().Get("Retry-After") == "" {
			t.Fatal("expected Retry-After on fail-closed rejection")
		}
	})
}

func TestSubjectOrIPKey(t *testing.T) {
	mgr := security.NewJWTManager("flags-test", "flags-api", "access-secret", "refresh-secret")
	token, err := mgr.SignAccessToken(17, []string{"admin"}, nil, time.Minute)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	keyFunc := SubjectOrIPKey(mgr)

	authed := httptest.NewRequest(http.MethodGet, "/", nil)
	authed.RemoteAddr = "192.0.2.1:1000"
	authed.Header.Set("Authorization", "Bearer "+token)
	if got := keyFunc(authed); got != "sub:"+strconv.Itoa(17) {
		t.Fatalf("authed key = %q", got)
	}

	anon := httptest.NewRequest(http.MethodGet, "/", nil)
	anon.RemoteAddr = "192.0.2.1:1000"
	if got := keyFunc(anon); got != "ip:192.0.2.1" {
		t.Fatalf("anonymous key = %q", got)
	}

	// A garbage token must not crash key derivation; it falls back to IP.
	garbage := httptest.NewRequest(http.MethodGet, "/", nil)
	garbage.RemoteAddr = "192.0.2.1:1000"
	garbage.Header.Set("Authorization", "Bearer not-a-token")
	if got := keyFunc(garbage); got != "ip:192.0.2.1" {
		t.Fatalf("garbage token key = %q", got)
	}
}
