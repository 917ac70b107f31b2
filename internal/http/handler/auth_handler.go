package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/autumn-ma/django-culture/internal/domain"
	"github.com/autumn-ma/django-culture/internal/http/response"
	"github.com/autumn-ma/django-culture/internal/repository"
	"github.com/autumn-ma/django-culture/internal/security"
)

// AuthHandler rotates refresh tokens into fresh access/refresh pairs. Initial
// refresh tokens are minted out of band; this surface only keeps an already
// authenticated caller signed in.
type AuthHandler struct {
	users      repository.UserRepository
	tokens     *security.JWTManager
	accessTTL  time.Duration
	refreshTTL time.Duration
	logger     *slog.Logger
}

func NewAuthHandler(users repository.UserRepository, tokens *security.JWTManager, accessTTL, refreshTTL time.Duration, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{users: users, tokens: tokens, accessTTL: accessTTL, refreshTTL: refreshTTL, logger: logger}
}

type refreshPayload struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Refresh exchanges a valid refresh token for a new pair. Roles are
// re-derived from the user record, so a revoked staff bit takes effect at the
// next rotation instead of waiting out the old access token.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var payload refreshPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || strings.TrimSpace(payload.RefreshToken) == "" {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "refresh_token is required", nil)
		return
	}

	claims, err := h.tokens.ParseRefreshToken(payload.RefreshToken)
	if err != nil {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid refresh token", nil)
		return
	}
	userID, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid refresh token", nil)
		return
	}

	user, err := h.users.FindByID(uint(userID))
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "unknown subject", nil)
			return
		}
		h.logger.ErrorContext(r.Context(), "failed to load user for token refresh", "user_id", userID, "error", err)
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "failed to refresh token", nil)
		return
	}
	if !user.IsActive {
		response.Error(w, r, http.StatusForbidden, "FORBIDDEN", "account disabled", nil)
		return
	}

	access, err := h.tokens.SignAccessToken(user.ID, rolesFor(user), nil, h.accessTTL)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to sign access token", "user_id", user.ID, "error", err)
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "failed to refresh token", nil)
		return
	}
	refresh, err := h.tokens.SignRefreshToken(user.ID, h.refreshTTL)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to sign refresh token", "user_id", user.ID, "error", err)
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "failed to refresh token", nil)
		return
	}

	response.JSON(w, r, http.StatusOK, tokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(h.accessTTL.Seconds()),
	})
}

// rolesFor maps the user record onto token roles: staff users administer
// flags, everyone else only evaluates.
func rolesFor(user *domain.User) []string {
	if user.IsStaff {
		return []string{"admin"}
	}
	return []string{"viewer"}
}
