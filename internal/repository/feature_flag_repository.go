package repository

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/autumn-ma/django-culture/internal/domain"
	"github.com/autumn-ma/django-culture/internal/observability"
)

var ErrFeatureFlagNotFound = errors.New("feature flag not found")

// FeatureFlagRepository persists flag definitions. The audited write methods
// run the record mutation and the audit-log insert in one transaction, so a
// failure between them never leaves an unaudited change.
type FeatureFlagRepository interface {
	ListFlags() ([]domain.FeatureFlag, error)
	FindFlagByID(id uint) (*domain.FeatureFlag, error)
	FindFlagByName(name string) (*domain.FeatureFlag, error)
	CreateFlagAudited(flag *domain.FeatureFlag, entry *domain.FeatureFlagAuditLog) error
	UpdateFlagAudited(flag *domain.FeatureFlag, entry *domain.FeatureFlagAuditLog) error
	DeleteFlagAudited(id uint, entry *domain.FeatureFlagAuditLog) error
}

type GormFeatureFlagRepository struct{ db *gorm.DB }

func NewFeatureFlagRepository(db *gorm.DB) FeatureFlagRepository {
	return &GormFeatureFlagRepository{db: db}
}

func NormalizeFlagName(name string) string {
	return strings.TrimSpace(strings.ToLower(name))
}

func (r *GormFeatureFlagRepository) ListFlags() ([]domain.FeatureFlag, error) {
	var flags []domain.FeatureFlag
	if err := r.db.Order("name asc").Find(&flags).Error; err != nil {
		observability.RecordRepositoryOperation(context.Background(), "feature_flag", "list", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "feature_flag", "list", "success")
	return flags, nil
}

func (r *GormFeatureFlagRepository) FindFlagByID(id uint) (*domain.FeatureFlag, error) {
	var flag domain.FeatureFlag
	if err := r.db.First(&flag, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "feature_flag", "find_by_id", "not_found")
			return nil, ErrFeatureFlagNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "feature_flag", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "feature_flag", "find_by_id", "success")
	return &flag, nil
}

func (r *GormFeatureFlagRepository) FindFlagByName(name string) (*domain.FeatureFlag, error) {
	var flag domain.FeatureFlag
	if err := r.db.Where("name = ?", NormalizeFlagName(name)).First(&flag).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "feature_flag", "find_by_name", "not_found")
			return nil, ErrFeatureFlagNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "feature_flag", "find_by_name", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "feature_flag", "find_by_name", "success")
	return &flag, nil
}

func (r *GormFeatureFlagRepository) CreateFlagAudited(flag *domain.FeatureFlag, entry *domain.FeatureFlagAuditLog) error {
	flag.Name = NormalizeFlagName(flag.Name)
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(flag).Error; err != nil {
			return err
		}
		entry.FeatureFlagID = flag.ID
		return tx.Create(entry).Error
	})
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "feature_flag", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "feature_flag", "create", "success")
	return nil
}

func (r *GormFeatureFlagRepository) UpdateFlagAudited(flag *domain.FeatureFlag, entry *domain.FeatureFlagAuditLog) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.FeatureFlag{}).Where("id = ?", flag.ID).Updates(map[string]any{
			"name":               NormalizeFlagName(flag.Name),
			"description":        strings.TrimSpace(flag.Description),
			"is_active":          flag.IsActive,
			"rollout_strategy":   flag.RolloutStrategy,
			"rollout_percentage": flag.RolloutPercentage,
			"rollout_config":     flag.RolloutConfig,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrFeatureFlagNotFound
		}
		entry.FeatureFlagID = flag.ID
		return tx.Create(entry).Error
	})
	if err != nil {
		if errors.Is(err, ErrFeatureFlagNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "feature_flag", "update", "not_found")
			return err
		}
		observability.RecordRepositoryOperation(context.Background(), "feature_flag", "update", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "feature_flag", "update", "success")
	return nil
}

func (r *GormFeatureFlagRepository) DeleteFlagAudited(id uint, entry *domain.FeatureFlagAuditLog) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		// Audit row first: it must land in the same transaction as the
		// delete, and the flag id is still valid at this point.
		entry.FeatureFlagID = id
		if err := tx.Create(entry).Error; err != nil {
			return err
		}
		if err := tx.Where("feature_flag_id = ?", id).Delete(&domain.FeatureFlagUserOverride{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&domain.FeatureFlag{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrFeatureFlagNotFound
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrFeatureFlagNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "feature_flag", "delete", "not_found")
			return err
		}
		observability.RecordRepositoryOperation(context.Background(), "feature_flag", "delete", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "feature_flag", "delete", "success")
	return nil
}
