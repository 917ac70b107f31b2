package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/autumn-ma/django-culture/internal/security"
)

func newTestJWTManager() *security.JWTManager {
	return security.NewJWTManager("flags-test", "flags-api", "access-secret", "refresh-secret")
}

func claimsEcho(t *testing.T, gotUserID *uint, authed *bool) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, ok := UserIDFromContext(r.Context()); ok {
			*gotUserID = id
			*authed = true
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireAuth(t *testing.T) {
	mgr := newTestJWTManager()
	token, err := mgr.SignAccessToken(7, []string{"admin"}, nil, time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	var userID uint
	var authed bool
	handler := RequireAuth(mgr)(claimsEcho(t, &userID, &authed))

	t.Run("missing token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d", rec.Code)
		}
	})

	t.Run("invalid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer nope")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d", rec.Code)
		}
	})

	t.Run("expired token", func(t *testing.T) {
		expired, err := mgr.SignAccessToken(7, nil, nil, -time.Minute)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+expired)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d", rec.Code)
		}
	})

	t.Run("refresh token rejected on access routes", func(t *testing.T) {
		refresh, err := mgr.SignRefreshToken(7, time.Minute)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+refresh)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d", rec.Code)
		}
	})

	t.Run("valid token passes claims", func(t *testing.T) {
		authed = false
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if !authed || userID != 7 {
			t.Fatalf("claims not propagated: authed=%v userID=%d", authed, userID)
		}
	})
}

func TestOptionalAuth(t *testing.T) {
	mgr := newTestJWTManager()
	token, err := mgr.SignAccessToken(9, nil, nil, time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	var userID uint
	var authed bool
	handler := OptionalAuth(mgr)(claimsEcho(t, &userID, &authed))

	t.Run("anonymous passes through", func(t *testing.T) {
		authed = false
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if authed {
			t.Fatal("anonymous request must not carry claims")
		}
	})

	t.Run("valid token attaches claims", func(t *testing.T) {
		authed = false
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK || !authed || userID != 9 {
			t.Fatalf("status=%d authed=%v userID=%d", rec.Code, authed, userID)
		}
	})

	t.Run("malformed token is rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer broken")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d", rec.Code)
		}
	})
}

func TestRequireRole(t *testing.T) {
	mgr := newTestJWTManager()
	adminToken, err := mgr.SignAccessToken(1, []string{"admin"}, nil, time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	viewerToken, err := mgr.SignAccessToken(2, []string{"viewer"}, nil, time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	handler := RequireAuth(mgr)(RequireRole("admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	send := func(token string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := send(adminToken); code != http.StatusOK {
		t.Fatalf("admin status = %d", code)
	}
	if code := send(viewerToken); code != http.StatusForbidden {
		t.Fatalf("viewer status = %d", code)
	}

	// Without RequireAuth in front there are no claims at all.
	bare := RequireRole("admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	bare.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no-claims status = %d", rec.Code)
	}
}
