package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/autumn-ma/django-culture/internal/domain"
	"github.com/autumn-ma/django-culture/internal/repository"
)

// Actor identifies who performed an administrative mutation, for the audit
// trail. UserID is nil for non-interactive callers.
type Actor struct {
	UserID    *uint
	IPAddress string
	UserAgent string
}

// FlagAdminService is the audited write path for flags and overrides. Each
// mutation persists the change and its audit entry in one transaction, then
// invalidates the affected cache entries; cache failures are logged, never
// rolled back into the mutation.
type FlagAdminService struct {
	flags     repository.FeatureFlagRepository
	overrides repository.OverrideRepository
	audit     repository.AuditLogRepository
	users     repository.UserRepository
	flagSvc   *FlagService
	logger    *slog.Logger
}

func NewFlagAdminService(
	flags repository.FeatureFlagRepository,
	overrides repository.OverrideRepository,
	audit repository.AuditLogRepository,
	users repository.UserRepository,
	flagSvc *FlagService,
	logger *slog.Logger,
) *FlagAdminService {
	if logger == nil {
		logger = slog.Default()
	}
	return &FlagAdminService{
		flags:     flags,
		overrides: overrides,
		audit:     audit,
		users:     users,
		flagSvc:   flagSvc,
		logger:    logger,
	}
}

func flagSnapshot(flag *domain.FeatureFlag) domain.JSONMap {
	return domain.JSONMap{
		"is_active":          flag.IsActive,
		"rollout_strategy":   flag.RolloutStrategy,
		"rollout_percentage": flag.RolloutPercentage,
		"rollout_config":     map[string]any(flag.RolloutConfig),
	}
}

func (s *FlagAdminService) ListFlags(_ context.Context) ([]domain.FeatureFlag, error) {
	return s.flags.ListFlags()
}

func (s *FlagAdminService) GetFlagByID(_ context.Context, id uint) (*domain.FeatureFlag, error) {
	return s.flags.FindFlagByID(id)
}

func (s *FlagAdminService) GetFlagByName(_ context.Context, name string) (*domain.FeatureFlag, error) {
	return s.flags.FindFlagByName(name)
}

func (s *FlagAdminService) CreateFlag(ctx context.Context, flag *domain.FeatureFlag, actor Actor) error {
	if err := s.validateFlag(flag); err != nil {
		return err
	}
	flag.CreatedByID = actor.UserID
	entry := &domain.FeatureFlagAuditLog{
		UserID:    actor.UserID,
		Action:    domain.AuditActionCreated,
		NewValue:  flagSnapshot(flag),
		IPAddress: actor.IPAddress,
		UserAgent: actor.UserAgent,
	}
	if err := s.flags.CreateFlagAudited(flag, entry); err != nil {
		return err
	}
	s.invalidateFlag(ctx, flag.Name, nil)
	return nil
}

func (s *FlagAdminService) UpdateFlag(ctx context.Context, flag *domain.FeatureFlag, actor Actor) error {
	if err := s.validateFlag(flag); err != nil {
		return err
	}
	old, err := s.flags.FindFlagByID(flag.ID)
	if err != nil {
		return err
	}
	entry := &domain.FeatureFlagAuditLog{
		UserID:    actor.UserID,
		Action:    domain.AuditActionUpdated,
		OldValue:  flagSnapshot(old),
		NewValue:  flagSnapshot(flag),
		IPAddress: actor.IPAddress,
		UserAgent: actor.UserAgent,
	}
	if err := s.flags.UpdateFlagAudited(flag, entry); err != nil {
		return err
	}
	s.invalidateFlag(ctx, old.Name, nil)
	if repository.NormalizeFlagName(flag.Name) != old.Name {
		s.invalidateFlag(ctx, flag.Name, nil)
	}
	return nil
}

func (s *FlagAdminService) DeleteFlag(ctx context.Context, id uint, actor Actor) error {
	old, err := s.flags.FindFlagByID(id)
	if err != nil {
		return err
	}
	entry := &domain.FeatureFlagAuditLog{
		UserID:    actor.UserID,
		Action:    domain.AuditActionDeleted,
		OldValue:  flagSnapshot(old),
		IPAddress: actor.IPAddress,
		UserAgent: actor.UserAgent,
	}
	if err := s.flags.DeleteFlagAudited(id, entry); err != nil {
		return err
	}
	s.invalidateFlag(ctx, old.Name, nil)
	return nil
}

func (s *FlagAdminService) ListOverrides(_ context.Context, flagID uint) ([]domain.FeatureFlagUserOverride, error) {
	if _, err := s.flags.FindFlagByID(flagID); err != nil {
		return nil, err
	}
	return s.overrides.ListOverrides(flagID)
}

func (s *FlagAdminService) SetOverride(ctx context.Context, flagID, userID uint, enabled bool, actor Actor) (*domain.FeatureFlagUserOverride, error) {
	flag, err := s.flags.FindFlagByID(flagID)
	if err != nil {
		return nil, err
	}
	if _, err := s.users.FindByID(userID); err != nil {
		return nil, err
	}
	override := &domain.FeatureFlagUserOverride{
		FeatureFlagID: flagID,
		UserID:        userID,
		IsEnabled:     enabled,
	}
	_, err = s.overrides.UpsertOverrideAudited(override, func(old *domain.FeatureFlagUserOverride) *domain.FeatureFlagAuditLog {
		entry := &domain.FeatureFlagAuditLog{
			FeatureFlagID: flagID,
			UserID:        actor.UserID,
			Action:        domain.AuditActionOverrideCreated,
			NewValue:      domain.JSONMap{"target_user": userID, "is_enabled": enabled},
			IPAddress:     actor.IPAddress,
			UserAgent:     actor.UserAgent,
		}
		if old != nil {
			entry.Action = domain.AuditActionOverrideUpdated
			entry.OldValue = domain.JSONMap{"is_enabled": old.IsEnabled}
		}
		return entry
	})
	if err != nil {
		return nil, err
	}
	s.invalidateFlag(ctx, flag.Name, &userID)
	return override, nil
}

func (s *FlagAdminService) DeleteOverride(ctx context.Context, flagID, userID uint, actor Actor) error {
	flag, err := s.flags.FindFlagByID(flagID)
	if err != nil {
		return err
	}
	old, err := s.overrides.FindOverride(flagID, userID)
	if err != nil {
		return err
	}
	entry := &domain.FeatureFlagAuditLog{
		FeatureFlagID: flagID,
		UserID:        actor.UserID,
		Action:        domain.AuditActionOverrideUpdated,
		OldValue:      domain.JSONMap{"target_user": userID, "is_enabled": old.IsEnabled},
		NewValue:      domain.JSONMap{"target_user": userID, "removed": true},
		IPAddress:     actor.IPAddress,
		UserAgent:     actor.UserAgent,
	}
	if err := s.overrides.DeleteOverrideAudited(flagID, userID, entry); err != nil {
		return err
	}
	s.invalidateFlag(ctx, flag.Name, &userID)
	return nil
}

func (s *FlagAdminService) ListAuditLogs(_ context.Context, q repository.AuditLogQuery) (repository.PageResult[domain.FeatureFlagAuditLog], error) {
	return s.audit.ListPaged(q)
}

func (s *FlagAdminService) invalidateFlag(ctx context.Context, flagName string, userID *uint) {
	if err := s.flagSvc.InvalidateCache(ctx, flagName, userID); err != nil {
		s.logger.Warn("feature flag cache invalidation failed", "flag", flagName, "error", err)
	}
}

func (s *FlagAdminService) validateFlag(flag *domain.FeatureFlag) error {
	if flag.RolloutPercentage < 0 || flag.RolloutPercentage > 100 {
		return fmt.Errorf("%w: rollout_percentage must be between 0 and 100", ErrInvalidRolloutConfig)
	}
	return s.validateRolloutConfig(flag.RolloutStrategy, flag.RolloutPercentage, flag.RolloutConfig)
}
