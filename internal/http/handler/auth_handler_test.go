package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/autumn-ma/django-culture/internal/domain"
	"github.com/autumn-ma/django-culture/internal/repository"
	"github.com/autumn-ma/django-culture/internal/security"
)

func newAuthHandler(t *testing.T) (*gorm.DB, *security.JWTManager, *AuthHandler) {
	t.Helper()
	dsn := fmt.Sprintf("file:auth_handler_test_%d?mode=memory&cache=shared", handlerTestDBSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.User{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	mgr := security.NewJWTManager("flags-test", "flags-api", "access-secret", "refresh-secret")
	h := NewAuthHandler(repository.NewUserRepository(db), mgr, 15*time.Minute, 24*time.Hour, nil)
	return db, mgr, h
}

func postRefresh(t *testing.T, h *AuthHandler, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	h.Refresh(rec, req)
	return rec
}

func decodeTokenPair(t *testing.T, rec *httptest.ResponseRecorder) tokenPair {
	t.Helper()
	var envelope struct {
		Data tokenPair `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return envelope.Data
}

func TestRefreshRotatesTokenPair(t *testing.T) {
	db, mgr, h := newAuthHandler(t)
	user := &domain.User{Email: "ops@example.com", Username: "ops", IsStaff: true, IsActive: true, DateJoined: time.Now().UTC()}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	refresh, err := mgr.SignRefreshToken(user.ID, time.Hour)
	if err != nil {
		t.Fatalf("sign refresh: %v", err)
	}

	rec := postRefresh(t, h, map[string]string{"refresh_token": refresh})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	pair := decodeTokenPair(t, rec)
	if pair.TokenType != "Bearer" || pair.ExpiresIn != int64((15*time.Minute).Seconds()) {
		t.Fatalf("unexpected pair metadata: %+v", pair)
	}

	claims, err := mgr.ParseAccessToken(pair.AccessToken)
	if err != nil {
		t.Fatalf("parse rotated access token: %v", err)
	}
	if claims.Subject != fmt.Sprint(user.ID) {
		t.Fatalf("access subject = %q", claims.Subject)
	}
	if len(claims.Roles) != 1 || claims.Roles[0] != "admin" {
		t.Fatalf("staff user must get the admin role, got %v", claims.Roles)
	}

	next, err := mgr.ParseRefreshToken(pair.RefreshToken)
	if err != nil {
		t.Fatalf("parse rotated refresh token: %v", err)
	}
	if next.Subject != claims.Subject {
		t.Fatalf("rotated refresh subject = %q", next.Subject)
	}
}

func TestRefreshGrantsViewerRoleToNonStaff(t *testing.T) {
	db, mgr, h := newAuthHandler(t)
	user := &domain.User{Email: "demo@example.com", Username: "demo", IsActive: true, DateJoined: time.Now().UTC()}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	refresh, _ := mgr.SignRefreshToken(user.ID, time.Hour)

	rec := postRefresh(t, h, map[string]string{"refresh_token": refresh})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	claims, err := mgr.ParseAccessToken(decodeTokenPair(t, rec).AccessToken)
	if err != nil {
		t.Fatalf("parse access token: %v", err)
	}
	if len(claims.Roles) != 1 || claims.Roles[0] != "viewer" {
		t.Fatalf("non-staff user must get the viewer role, got %v", claims.Roles)
	}
}

func TestRefreshRejectsBadTokens(t *testing.T) {
	db, mgr, h := newAuthHandler(t)
	user := &domain.User{Email: "gone@example.com", Username: "gone", IsActive: true, DateJoined: time.Now().UTC()}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	access, _ := mgr.SignAccessToken(user.ID, nil, nil, time.Minute)
	expired, _ := mgr.SignRefreshToken(user.ID, -time.Minute)
	orphan, _ := mgr.SignRefreshToken(user.ID+100, time.Hour)

	cases := []struct {
		name   string
		body   any
		status int
	}{
		{"missing token", map[string]string{}, http.StatusBadRequest},
		{"garbage token", map[string]string{"refresh_token": "not-a-jwt"}, http.StatusUnauthorized},
		{"access token rejected", map[string]string{"refresh_token": access}, http.StatusUnauthorized},
		{"expired token", map[string]string{"refresh_token": expired}, http.StatusUnauthorized},
		{"unknown subject", map[string]string{"refresh_token": orphan}, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if rec := postRefresh(t, h, tc.body); rec.Code != tc.status {
				t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestRefreshRejectsInactiveUser(t *testing.T) {
	db, mgr, h := newAuthHandler(t)
	user := &domain.User{Email: "off@example.com", Username: "off", DateJoined: time.Now().UTC()}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	// The column defaults to active, so disable explicitly.
	if err := db.Model(user).Update("is_active", false).Error; err != nil {
		t.Fatalf("deactivate user: %v", err)
	}
	refresh, _ := mgr.SignRefreshToken(user.ID, time.Hour)

	if rec := postRefresh(t, h, map[string]string{"refresh_token": refresh}); rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
}
