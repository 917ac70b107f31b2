package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/autumn-ma/django-culture/internal/http/response"
	"github.com/autumn-ma/django-culture/internal/service"
)

const idempotencyKeyHeader = "Idempotency-Key"

const maxIdempotencyBodyBytes = 1 << 20

// Idempotency replays the stored response for repeated admin mutations that
// carry the same Idempotency-Key and body, and rejects key reuse with a
// different payload. Requests without the header pass through untouched.
type Idempotency struct {
	store  service.IdempotencyStore
	scope  string
	ttl    time.Duration
	logger *slog.Logger
}

func NewIdempotency(store service.IdempotencyStore, scope string, ttl time.Duration, logger *slog.Logger) *Idempotency {
	return &Idempotency{store: store, scope: scope, ttl: ttl, logger: logger}
}

func (i *Idempotency) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(idempotencyKeyHeader)
			if key == "" || i.store == nil {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxIdempotencyBodyBytes))
			if err != nil {
				response.Error(w, r, http.StatusBadRequest, "INVALID_REQUEST", "unable to read request body", nil)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			fingerprint := requestFingerprint(r.Method, r.URL.Path, body)

			claim, err := i.store.Claim(r.Context(), i.scope, key, fingerprint, i.ttl)
			if err != nil {
				// Store outage must not block admin mutations.
				i.logger.WarnContext(r.Context(), "idempotency claim failed, continuing without replay protection", "error", err)
				next.ServeHTTP(w, r)
				return
			}

			switch claim.Outcome {
			case service.IdempotencyReplay:
				w.Header().Set("X-Idempotency-Replayed", "true")
				if claim.Replayed.ContentType != "" {
					w.Header().Set("Content-Type", claim.Replayed.ContentType)
				}
				w.WriteHeader(claim.Replayed.StatusCode)
				_, _ = w.Write(claim.Replayed.Body)
				return
			case service.IdempotencyMismatch:
				response.Error(w, r, http.StatusConflict, "IDEMPOTENCY_CONFLICT", "Idempotency-Key was already used with a different request", nil)
				return
			case service.IdempotencyPending:
				response.Error(w, r, http.StatusConflict, "IDEMPOTENCY_CONFLICT", "a request with this Idempotency-Key is still in progress", nil)
				return
			}

			recorder := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)

			if recorder.status < 500 {
				stored := service.StoredResponse{
					StatusCode:  recorder.status,
					ContentType: recorder.Header().Get("Content-Type"),
					Body:        recorder.body.Bytes(),
				}
				if recordErr := i.store.Record(r.Context(), i.scope, key, fingerprint, stored, i.ttl); recordErr != nil {
					i.logger.WarnContext(r.Context(), "idempotency record failed", "error", recordErr)
				}
			}
		})
	}
}

func requestFingerprint(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// responseRecorder tees the handler's response so it can be stored for
// replay while still streaming to the client.
type responseRecorder struct {
	http.ResponseWriter
	status      int
	body        bytes.Buffer
	wroteHeader bool
}

func (r *responseRecorder) WriteHeader(status int) {
	if r.wroteHeader {
		return
	}
	r.wroteHeader = true
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(p []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	r.body.Write(p)
	return r.ResponseWriter.Write(p)
}
