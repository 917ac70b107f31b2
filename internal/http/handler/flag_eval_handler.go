package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/go-chi/chi/v5"

	"github.com/autumn-ma/django-culture/internal/domain"
	"github.com/autumn-ma/django-culture/internal/http/middleware"
	"github.com/autumn-ma/django-culture/internal/http/response"
	"github.com/autumn-ma/django-culture/internal/repository"
	"github.com/autumn-ma/django-culture/internal/service"
)

var flagNameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_\-]{0,127}$`)

// FlagEvalHandler serves the read-side evaluation API. Both endpoints work
// for anonymous callers; strategies that need a user fail closed for them.
type FlagEvalHandler struct {
	flags  *service.FlagService
	users  repository.UserRepository
	logger *slog.Logger
}

func NewFlagEvalHandler(flags *service.FlagService, users repository.UserRepository, logger *slog.Logger) *FlagEvalHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &FlagEvalHandler{flags: flags, users: users, logger: logger}
}

func (h *FlagEvalHandler) EvaluateOne(w http.ResponseWriter, r *http.Request) {
	name := repository.NormalizeFlagName(chi.URLParam(r, "name"))
	if !flagNameRe.MatchString(name) {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid feature flag name", nil)
		return
	}
	user := h.requestUser(r)
	enabled := h.flags.IsEnabled(r.Context(), name, user, nil)
	response.JSON(w, r, http.StatusOK, service.FlagEvaluation{Name: name, Enabled: enabled})
}

func (h *FlagEvalHandler) EvaluateAll(w http.ResponseWriter, r *http.Request) {
	user := h.requestUser(r)
	results, err := h.flags.EvaluateAll(r.Context(), user, nil)
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "failed to evaluate feature flags", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"items": results})
}

// requestUser resolves the authenticated user, or nil for anonymous
// requests. A token whose subject no longer exists evaluates as anonymous
// rather than failing the whole request.
func (h *FlagEvalHandler) requestUser(r *http.Request) *domain.User {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		return nil
	}
	user, err := h.users.FindByID(userID)
	if err != nil {
		if !errors.Is(err, repository.ErrUserNotFound) {
			h.logger.WarnContext(r.Context(), "failed to load user for flag evaluation", "user_id", userID, "error", err)
		}
		return nil
	}
	return user
}
