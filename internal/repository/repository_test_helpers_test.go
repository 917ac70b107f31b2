package repository

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/autumn-ma/django-culture/internal/domain"
)

var testDBSeq atomic.Int64

// newTestDB opens a private in-memory sqlite database with the full schema.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:repo_test_%d?mode=memory&cache=shared", testDBSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&domain.User{},
		&domain.FeatureFlag{},
		&domain.FeatureFlagUserOverride{},
		&domain.FeatureFlagAuditLog{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func createTestUser(t *testing.T, db *gorm.DB, email, username string) *domain.User {
	t.Helper()
	user := &domain.User{Email: email, Username: username, IsActive: true, DateJoined: time.Now().UTC()}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

func createTestFlag(t *testing.T, repo FeatureFlagRepository, name string) *domain.FeatureFlag {
	t.Helper()
	flag := &domain.FeatureFlag{Name: name, IsActive: true, RolloutStrategy: domain.StrategyAll}
	entry := &domain.FeatureFlagAuditLog{Action: domain.AuditActionCreated}
	if err := repo.CreateFlagAudited(flag, entry); err != nil {
		t.Fatalf("create flag: %v", err)
	}
	return flag
}

func countRows[T any](t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var model T
	var n int64
	if err := db.Model(&model).Count(&n).Error; err != nil {
		t.Fatalf("count rows: %v", err)
	}
	return n
}
