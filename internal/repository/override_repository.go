package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/autumn-ma/django-culture/internal/domain"
	"github.com/autumn-ma/django-culture/internal/observability"
)

var ErrOverrideNotFound = errors.New("feature flag override not found")

// OverrideRepository manages per-user forced values. At most one override
// exists per (flag, user) pair; upserts replace the stored value in place.
type OverrideRepository interface {
	FindOverride(flagID, userID uint) (*domain.FeatureFlagUserOverride, error)
	ListOverrides(flagID uint) ([]domain.FeatureFlagUserOverride, error)
	// UpsertOverrideAudited inserts or updates the override and appends the
	// audit entry built by makeEntry from the previous value (nil on insert),
	// all in one transaction.
	UpsertOverrideAudited(override *domain.FeatureFlagUserOverride, makeEntry func(old *domain.FeatureFlagUserOverride) *domain.FeatureFlagAuditLog) (created bool, err error)
	DeleteOverrideAudited(flagID, userID uint, entry *domain.FeatureFlagAuditLog) error
}

type GormOverrideRepository struct{ db *gorm.DB }

func NewOverrideRepository(db *gorm.DB) OverrideRepository {
	return &GormOverrideRepository{db: db}
}

func (r *GormOverrideRepository) FindOverride(flagID, userID uint) (*domain.FeatureFlagUserOverride, error) {
	var override domain.FeatureFlagUserOverride
	err := r.db.Where("feature_flag_id = ? AND user_id = ?", flagID, userID).First(&override).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "feature_flag_override", "find", "not_found")
			return nil, ErrOverrideNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "feature_flag_override", "find", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "feature_flag_override", "find", "success")
	return &override, nil
}

func (r *GormOverrideRepository) ListOverrides(flagID uint) ([]domain.FeatureFlagUserOverride, error) {
	var overrides []domain.FeatureFlagUserOverride
	if err := r.db.Where("feature_flag_id = ?", flagID).Order("user_id asc").Find(&overrides).Error; err != nil {
		observability.RecordRepositoryOperation(context.Background(), "feature_flag_override", "list", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "feature_flag_override", "list", "success")
	return overrides, nil
}

func (r *GormOverrideRepository) UpsertOverrideAudited(override *domain.FeatureFlagUserOverride, makeEntry func(old *domain.FeatureFlagUserOverride) *domain.FeatureFlagAuditLog) (bool, error) {
	created := false
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var existing domain.FeatureFlagUserOverride
		err := tx.Where("feature_flag_id = ? AND user_id = ?", override.FeatureFlagID, override.UserID).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			created = true
			if err := tx.Create(override).Error; err != nil {
				return err
			}
			return tx.Create(makeEntry(nil)).Error
		case err != nil:
			return err
		default:
			override.ID = existing.ID
			override.CreatedAt = existing.CreatedAt
			res := tx.Model(&domain.FeatureFlagUserOverride{}).Where("id = ?", existing.ID).Update("is_enabled", override.IsEnabled)
			if res.Error != nil {
				return res.Error
			}
			return tx.Create(makeEntry(&existing)).Error
		}
	})
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "feature_flag_override", "upsert", "error")
		return false, err
	}
	observability.RecordRepositoryOperation(context.Background(), "feature_flag_override", "upsert", "success")
	return created, nil
}

func (r *GormOverrideRepository) DeleteOverrideAudited(flagID, userID uint, entry *domain.FeatureFlagAuditLog) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Where("feature_flag_id = ? AND user_id = ?", flagID, userID).Delete(&domain.FeatureFlagUserOverride{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrOverrideNotFound
		}
		return tx.Create(entry).Error
	})
	if err != nil {
		if errors.Is(err, ErrOverrideNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "feature_flag_override", "delete", "not_found")
			return err
		}
		observability.RecordRepositoryOperation(context.Background(), "feature_flag_override", "delete", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "feature_flag_override", "delete", "success")
	return nil
}
