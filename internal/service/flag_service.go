package service

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/autumn-ma/django-culture/internal/domain"
	"github.com/autumn-ma/django-culture/internal/observability"
	"github.com/autumn-ma/django-culture/internal/repository"
)

const DefaultEvaluationCacheTTL = 300 * time.Second

// FlagService resolves whether a flag is enabled for a user: cached result,
// else explicit override, else rollout strategy. Every path terminates in a
// boolean; store and cache failures never surface to callers of IsEnabled.
type FlagService struct {
	flags     repository.FeatureFlagRepository
	overrides repository.OverrideRepository
	audit     repository.AuditLogRepository
	cache     EvaluationCacheStore
	evaluator *RolloutEvaluator
	logger    *slog.Logger
	cacheTTL  time.Duration
}

func NewFlagService(
	flags repository.FeatureFlagRepository,
	overrides repository.OverrideRepository,
	audit repository.AuditLogRepository,
	cache EvaluationCacheStore,
	evaluator *RolloutEvaluator,
	logger *slog.Logger,
	cacheTTL time.Duration,
) *FlagService {
	if cacheTTL <= 0 {
		cacheTTL = DefaultEvaluationCacheTTL
	}
	if evaluator == nil {
		evaluator = NewRolloutEvaluator()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FlagService{
		flags:     flags,
		overrides: overrides,
		audit:     audit,
		cache:     cache,
		evaluator: evaluator,
		logger:    logger,
		cacheTTL:  cacheTTL,
	}
}

func cacheSubject(user *domain.User) string {
	if user == nil {
		return AnonymousSubject
	}
	return strconv.FormatUint(uint64(user.ID), 10)
}

func (s *FlagService) IsEnabled(ctx context.Context, flagName string, user *domain.User, evalContext map[string]any) bool {
	flagName = repository.NormalizeFlagName(flagName)
	subject := cacheSubject(user)

	// Cache errors are treated as misses: caching fails open while the
	// evaluation result still fails closed.
	cached, found, err := s.cache.Get(ctx, flagName, subject)
	if err != nil {
		s.logger.Warn("feature flag cache get failed", "flag", flagName, "error", err)
	} else if found {
		observability.RecordFlagEvaluation(ctx, flagName, "cache_hit", cached)
		return cached
	}

	flag, err := s.flags.FindFlagByName(flagName)
	if err != nil {
		if !errors.Is(err, repository.ErrFeatureFlagNotFound) {
			s.logger.Error("feature flag lookup failed", "flag", flagName, "error", err)
		}
		// Unknown flag: no cache write, no audit entry. Distinct from an
		// inactive flag, whose false result is cached below.
		observability.RecordFlagEvaluation(ctx, flagName, "not_found", false)
		return false
	}

	if !flag.IsActive {
		s.writeCache(ctx, flagName, subject, false)
		observability.RecordFlagEvaluation(ctx, flagName, "inactive", false)
		return false
	}

	if user != nil {
		override, err := s.overrides.FindOverride(flag.ID, user.ID)
		if err != nil && !errors.Is(err, repository.ErrOverrideNotFound) {
			s.logger.Error("feature flag override lookup failed", "flag", flagName, "user_id", user.ID, "error", err)
		}
		if err == nil {
			result := override.IsEnabled
			s.writeCache(ctx, flagName, subject, result)
			s.logEvaluation(flag, user, result, "override")
			observability.RecordFlagEvaluation(ctx, flagName, "override", result)
			return result
		}
	}

	result := s.evaluator.Evaluate(flag, user, evalContext)
	s.writeCache(ctx, flagName, subject, result)
	s.logEvaluation(flag, user, result, "rollout")
	observability.RecordFlagEvaluation(ctx, flagName, "rollout", result)
	return result
}

type FlagEvaluation struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

func (s *FlagService) EvaluateAll(ctx context.Context, user *domain.User, evalContext map[string]any) ([]FlagEvaluation, error) {
	flags, err := s.flags.ListFlags()
	if err != nil {
		return nil, err
	}
	results := make([]FlagEvaluation, 0, len(flags))
	for _, flag := range flags {
		results = append(results, FlagEvaluation{
			Name:    flag.Name,
			Enabled: s.IsEnabled(ctx, flag.Name, user, evalContext),
		})
	}
	return results, nil
}

// InvalidateCache drops the cached result for one user, or for every subject
// of the flag when userID is nil.
func (s *FlagService) InvalidateCache(ctx context.Context, flagName string, userID *uint) error {
	flagName = repository.NormalizeFlagName(flagName)
	if userID != nil {
		return s.cache.Invalidate(ctx, flagName, strconv.FormatUint(uint64(*userID), 10))
	}
	return s.cache.InvalidateFlag(ctx, flagName)
}

func (s *FlagService) writeCache(ctx context.Context, flagName, subject string, result bool) {
	if err := s.cache.Set(ctx, flagName, subject, result, s.cacheTTL); err != nil {
		s.logger.Warn("feature flag cache set failed", "flag", flagName, "error", err)
	}
}

// logEvaluation appends the audit record for a computed (non-cached) check.
// Audit failures must not block returning the result.
func (s *FlagService) logEvaluation(flag *domain.FeatureFlag, user *domain.User, result bool, strategy string) {
	action := domain.AuditActionCheckedDefault
	switch strategy {
	case "override":
		action = domain.AuditActionCheckedOverride
	case "rollout":
		action = domain.AuditActionCheckedRollout
	}
	entry := &domain.FeatureFlagAuditLog{
		FeatureFlagID: flag.ID,
		Action:        action,
		NewValue:      domain.JSONMap{"result": result, "strategy": strategy},
	}
	if user != nil {
		id := user.ID
		entry.UserID = &id
	}
	if err := s.audit.Append(entry); err != nil {
		s.logger.Error("feature flag audit write failed", "flag", flag.Name, "action", action, "error", err)
	}
}
