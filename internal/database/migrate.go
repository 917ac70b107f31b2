package database

import (
	"gorm.io/gorm"

	"github.com/autumn-ma/django-culture/internal/domain"
)

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.User{},
		&domain.FeatureFlag{},
		&domain.FeatureFlagUserOverride{},
		&domain.FeatureFlagAuditLog{},
	)
}
