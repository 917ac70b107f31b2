package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/autumn-ma/django-culture/internal/domain"
	"github.com/autumn-ma/django-culture/internal/http/middleware"
	"github.com/autumn-ma/django-culture/internal/http/response"
	"github.com/autumn-ma/django-culture/internal/observability"
	"github.com/autumn-ma/django-culture/internal/repository"
	"github.com/autumn-ma/django-culture/internal/service"
)

// FlagAdminHandler is the authenticated write surface: flag CRUD, per-user
// overrides, the audit trail, and snapshot exports.
type FlagAdminHandler struct {
	admin    *service.FlagAdminService
	archiver service.FlagArchiver
	logger   *slog.Logger
}

func NewFlagAdminHandler(admin *service.FlagAdminService, archiver service.FlagArchiver, logger *slog.Logger) *FlagAdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &FlagAdminHandler{admin: admin, archiver: archiver, logger: logger}
}

type flagPayload struct {
	Name              string         `json:"name"`
	Description       string         `json:"description"`
	IsActive          bool           `json:"is_active"`
	RolloutStrategy   string         `json:"rollout_strategy"`
	RolloutPercentage int            `json:"rollout_percentage"`
	RolloutConfig     map[string]any `json:"rollout_config"`
}

func (p *flagPayload) toDomain() *domain.FeatureFlag {
	strategy := strings.TrimSpace(p.RolloutStrategy)
	if strategy == "" {
		strategy = domain.StrategyAll
	}
	return &domain.FeatureFlag{
		Name:              repository.NormalizeFlagName(p.Name),
		Description:       strings.TrimSpace(p.Description),
		IsActive:          p.IsActive,
		RolloutStrategy:   strategy,
		RolloutPercentage: p.RolloutPercentage,
		RolloutConfig:     domain.JSONMap(p.RolloutConfig),
	}
}

func (h *FlagAdminHandler) ListFlags(w http.ResponseWriter, r *http.Request) {
	flags, err := h.admin.ListFlags(r.Context())
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "failed to list feature flags", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"items": flags})
}

func (h *FlagAdminHandler) GetFlag(w http.ResponseWriter, r *http.Request) {
	flagID, err := parsePathID(chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid flag id", nil)
		return
	}
	flag, err := h.admin.GetFlagByID(r.Context(), flagID)
	if err != nil {
		h.writeFlagError(w, r, err, "failed to load feature flag")
		return
	}
	response.JSON(w, r, http.StatusOK, flag)
}

func (h *FlagAdminHandler) CreateFlag(w http.ResponseWriter, r *http.Request) {
	var body flagPayload
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	flag := body.toDomain()
	if !flagNameRe.MatchString(flag.Name) {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid feature flag name", nil)
		return
	}
	if err := h.admin.CreateFlag(r.Context(), flag, actorFromRequest(r)); err != nil {
		h.writeFlagError(w, r, err, "failed to create feature flag")
		return
	}
	observability.EmitAudit(r, observability.AuditInput{
		EventName:   "feature_flag.create",
		ActorUserID: actorLogID(r),
		TargetType:  "feature_flag",
		TargetID:    strconv.FormatUint(uint64(flag.ID), 10),
		Action:      "create",
		Outcome:     "success",
		Reason:      "feature_flag_created",
	}, "name", flag.Name)
	response.JSON(w, r, http.StatusCreated, flag)
}

func (h *FlagAdminHandler) UpdateFlag(w http.ResponseWriter, r *http.Request) {
	flagID, err := parsePathID(chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid flag id", nil)
		return
	}
	var body flagPayload
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	flag := body.toDomain()
	flag.ID = flagID
	if !flagNameRe.MatchString(flag.Name) {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid feature flag name", nil)
		return
	}
	if err := h.admin.UpdateFlag(r.Context(), flag, actorFromRequest(r)); err != nil {
		h.writeFlagError(w, r, err, "failed to update feature flag")
		return
	}
	observability.EmitAudit(r, observability.AuditInput{
		EventName:   "feature_flag.update",
		ActorUserID: actorLogID(r),
		TargetType:  "feature_flag",
		TargetID:    strconv.FormatUint(uint64(flagID), 10),
		Action:      "update",
		Outcome:     "success",
		Reason:      "feature_flag_updated",
	}, "name", flag.Name)
	response.JSON(w, r, http.StatusOK, flag)
}

func (h *FlagAdminHandler) DeleteFlag(w http.ResponseWriter, r *http.Request) {
	flagID, err := parsePathID(chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid flag id", nil)
		return
	}
	if err := h.admin.DeleteFlag(r.Context(), flagID, actorFromRequest(r)); err != nil {
		h.writeFlagError(w, r, err, "failed to delete feature flag")
		return
	}
	observability.EmitAudit(r, observability.AuditInput{
		EventName:   "feature_flag.delete",
		ActorUserID: actorLogID(r),
		TargetType:  "feature_flag",
		TargetID:    strconv.FormatUint(uint64(flagID), 10),
		Action:      "delete",
		Outcome:     "success",
		Reason:      "feature_flag_deleted",
	})
	response.JSON(w, r, http.StatusOK, map[string]any{"deleted": true})
}

func (h *FlagAdminHandler) ListOverrides(w http.ResponseWriter, r *http.Request) {
	flagID, err := parsePathID(chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid flag id", nil)
		return
	}
	overrides, err := h.admin.ListOverrides(r.Context(), flagID)
	if err != nil {
		h.writeFlagError(w, r, err, "failed to list overrides")
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"items": overrides})
}

func (h *FlagAdminHandler) SetOverride(w http.ResponseWriter, r *http.Request) {
	flagID, err := parsePathID(chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid flag id", nil)
		return
	}
	var body struct {
		UserID    uint `json:"user_id"`
		IsEnabled bool `json:"is_enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UserID == 0 {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	override, err := h.admin.SetOverride(r.Context(), flagID, body.UserID, body.IsEnabled, actorFromRequest(r))
	if err != nil {
		h.writeFlagError(w, r, err, "failed to set override")
		return
	}
	observability.EmitAudit(r, observability.AuditInput{
		EventName:   "feature_flag.override.set",
		ActorUserID: actorLogID(r),
		TargetType:  "feature_flag_override",
		TargetID:    strconv.FormatUint(uint64(override.ID), 10),
		Action:      "set",
		Outcome:     "success",
		Reason:      "override_set",
	}, "flag_id", flagID, "target_user_id", body.UserID)
	response.JSON(w, r, http.StatusOK, override)
}

func (h *FlagAdminHandler) DeleteOverride(w http.ResponseWriter, r *http.Request) {
	flagID, err := parsePathID(chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid flag id", nil)
		return
	}
	userID, err := parsePathID(chi.URLParam(r, "user_id"))
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid user id", nil)
		return
	}
	if err := h.admin.DeleteOverride(r.Context(), flagID, userID, actorFromRequest(r)); err != nil {
		h.writeFlagError(w, r, err, "failed to delete override")
		return
	}
	observability.EmitAudit(r, observability.AuditInput{
		EventName:   "feature_flag.override.delete",
		ActorUserID: actorLogID(r),
		TargetType:  "feature_flag_override",
		TargetID:    strconv.FormatUint(uint64(userID), 10),
		Action:      "delete",
		Outcome:     "success",
		Reason:      "override_deleted",
	}, "flag_id", flagID)
	response.JSON(w, r, http.StatusOK, map[string]any{"deleted": true})
}

func (h *FlagAdminHandler) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	q := repository.AuditLogQuery{
		Action: strings.TrimSpace(r.URL.Query().Get("action")),
	}
	if raw := r.URL.Query().Get("flag_id"); raw != "" {
		id, err := parsePathID(raw)
		if err != nil {
			response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid flag_id filter", nil)
			return
		}
		q.FlagID = id
	}
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "since must be RFC 3339", nil)
			return
		}
		q.Since = since
	}
	q.Page.Page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	q.Page.PageSize, _ = strconv.Atoi(r.URL.Query().Get("page_size"))

	result, err := h.admin.ListAuditLogs(r.Context(), q)
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "failed to list audit logs", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{
		"items":       result.Items,
		"page":        result.Page,
		"page_size":   result.PageSize,
		"total":       result.Total,
		"total_pages": result.TotalPages,
	})
}

func (h *FlagAdminHandler) Archive(w http.ResponseWriter, r *http.Request) {
	if h.archiver == nil {
		response.Error(w, r, http.StatusServiceUnavailable, "ARCHIVE_DISABLED", "snapshot archiving is not configured", nil)
		return
	}
	result, err := h.archiver.ArchiveSnapshot(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "flag snapshot archive failed", "error", err)
		response.Error(w, r, http.StatusBadGateway, "ARCHIVE_FAILED", "failed to archive flag snapshot", nil)
		return
	}
	observability.EmitAudit(r, observability.AuditInput{
		EventName:   "feature_flag.archive",
		ActorUserID: actorLogID(r),
		TargetType:  "flag_snapshot",
		TargetID:    result.ObjectKey,
		Action:      "archive",
		Outcome:     "success",
		Reason:      "snapshot_archived",
	}, "flag_count", result.FlagCount)
	response.JSON(w, r, http.StatusCreated, result)
}

func (h *FlagAdminHandler) writeFlagError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	switch {
	case errors.Is(err, repository.ErrFeatureFlagNotFound):
		response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "feature flag not found", nil)
	case errors.Is(err, repository.ErrOverrideNotFound):
		response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "override not found", nil)
	case errors.Is(err, repository.ErrUserNotFound):
		response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "user not found", nil)
	case errors.Is(err, service.ErrInvalidRolloutStrategy), errors.Is(err, service.ErrInvalidRolloutConfig):
		response.Error(w, r, http.StatusUnprocessableEntity, "INVALID_ROLLOUT_CONFIG", err.Error(), nil)
	case isConflictError(err):
		response.Error(w, r, http.StatusConflict, "CONFLICT", "feature flag already exists", nil)
	default:
		h.logger.ErrorContext(r.Context(), fallback, "error", err)
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", fallback, nil)
	}
}

func parsePathID(raw string) (uint, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil || id == 0 {
		if err == nil {
			err = errors.New("id must be positive")
		}
		return 0, err
	}
	return uint(id), nil
}

// isConflictError matches the unique-violation spellings of postgres and
// sqlite, the two drivers this service runs against.
func isConflictError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}

func actorFromRequest(r *http.Request) service.Actor {
	actor := service.Actor{
		IPAddress: r.RemoteAddr,
		UserAgent: r.UserAgent(),
	}
	if userID, ok := middleware.UserIDFromContext(r.Context()); ok {
		actor.UserID = &userID
	}
	return actor
}

func actorLogID(r *http.Request) string {
	if userID, ok := middleware.UserIDFromContext(r.Context()); ok {
		return strconv.FormatUint(uint64(userID), 10)
	}
	return "unknown"
}
