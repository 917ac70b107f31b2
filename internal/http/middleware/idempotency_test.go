package middleware

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/autumn-ma/django-culture/internal/service"
)

func newIdempotencyHandler(t *testing.T) (http.Handler, *atomic.Int64) {
	t.Helper()
	var calls atomic.Int64
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"call": n})
	})
	mw := NewIdempotency(service.NewMemoryIdempotencyStore(), "admin", time.Minute, slog.Default())
	return mw.Middleware()(inner), &calls
}

func TestIdempotencyPassThroughWithoutHeader(t *testing.T) {
	handler, calls := newIdempotencyHandler(t)

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/flags", strings.NewReader(`{}`)))
		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d", rec.Code)
		}
		if rec.Header().Get("X-Idempotency-Replayed") != "" {
			t.Fatal("pass-through must not set replay header")
		}
	}
	if calls.Load() != 2 {
		t.Fatalf("handler calls = %d, want 2", calls.Load())
	}
}

func TestIdempotencyReplaysStoredResponse(t *testing.T) {
	handler, calls := newIdempotencyHandler(t)
	body := `{"name":"dark-mode"}`

	first := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/flags", strings.NewReader(body))
	req.Header.Set("Idempotency-Key", "key-1")
	handler.ServeHTTP(first, req)
	if first.Code != http.StatusCreated {
		t.Fatalf("first status = %d", first.Code)
	}

	second := httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/flags", strings.NewReader(body))
	req.Header.Set("Idempotency-Key", "key-1")
	handler.ServeHTTP(second, req)

	if calls.Load() != 1 {
		t.Fatalf("handler calls = %d, want 1", calls.Load())
	}
	if second.Code != http.StatusCreated {
		t.Fatalf("replay status = %d", second.Code)
	}
	if second.Header().Get("X-Idempotency-Replayed") != "true" {
		t.Fatal("replay must be flagged")
	}
	if got, want := second.Body.String(), first.Body.String(); got != want {
		t.Fatalf("replayed body %q != original %q", got, want)
	}
	if ct := second.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("replayed content type = %q", ct)
	}
}

func TestIdempotencyRejectsKeyReuseWithDifferentBody(t *testing.T) {
	handler, calls := newIdempotencyHandler(t)

	first := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/flags", strings.NewReader(`{"name":"a"}`))
	req.Header.Set("Idempotency-Key", "key-1")
	handler.ServeHTTP(first, req)

	second := httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/flags", strings.NewReader(`{"name":"b"}`))
	req.Header.Set("Idempotency-Key", "key-1")
	handler.ServeHTTP(second, req)

	if second.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", second.Code)
	}
	if calls.Load() != 1 {
		t.Fatalf("handler calls = %d, want 1", calls.Load())
	}
	var out struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(second.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Error.Code != "IDEMPOTENCY_CONFLICT" {
		t.Fatalf("error code = %q", out.Error.Code)
	}
}

func TestIdempotencyBodyReachesHandlerIntact(t *testing.T) {
	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		seen = string(b)
		w.WriteHeader(http.StatusOK)
	})
	mw := NewIdempotency(service.NewMemoryIdempotencyStore(), "admin", time.Minute, slog.Default())
	handler := mw.Middleware()(inner)

	req := httptest.NewRequest(http.MethodPost, "/flags", strings.NewReader(`{"name":"restored"}`))
	req.Header.Set("Idempotency-Key", "key-1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if seen != `{"name":"restored"}` {
		t.Fatalf("handler saw body %q", seen)
	}
}

func TestIdempotencyDoesNotReplayServerErrors(t *testing.T) {
	var calls atomic.Int64
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})
	mw := NewIdempotency(service.NewMemoryIdempotencyStore(), "admin", time.Minute, slog.Default())
	handler := mw.Middleware()(inner)

	send := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/flags", strings.NewReader(`{}`))
		req.Header.Set("Idempotency-Key", "key-err")
		handler.ServeHTTP(rec, req)
		return rec
	}

	if rec := send(); rec.Code != http.StatusInternalServerError {
		t.Fatalf("first status = %d", rec.Code)
	}
	// The 5xx is never recorded, so the duplicate is treated as in-progress
	// rather than replayed as a success.
	retry := send()
	if retry.Code != http.StatusConflict {
		t.Fatalf("retry status = %d, want 409", retry.Code)
	}
	if retry.Header().Get("X-Idempotency-Replayed") != "" {
		t.Fatal("a server error must never be replayed")
	}
	if calls.Load() != 1 {
		t.Fatalf("handler calls = %d, want 1", calls.Load())
	}
}
