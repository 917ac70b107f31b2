package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/autumn-ma/django-culture/internal/domain"
	"github.com/autumn-ma/django-culture/internal/observability"
)

type AuditLogQuery struct {
	FlagID uint
	Action string
	Since  time.Time
	Page   PageRequest
}

// AuditLogRepository is append-only; nothing updates or deletes entries.
type AuditLogRepository interface {
	Append(entry *domain.FeatureFlagAuditLog) error
	ListPaged(q AuditLogQuery) (PageResult[domain.FeatureFlagAuditLog], error)
}

type GormAuditLogRepository struct{ db *gorm.DB }

func NewAuditLogRepository(db *gorm.DB) AuditLogRepository {
	return &GormAuditLogRepository{db: db}
}

func (r *GormAuditLogRepository) Append(entry *domain.FeatureFlagAuditLog) error {
	if err := r.db.Create(entry).Error; err != nil {
		observability.RecordRepositoryOperation(context.Background(), "feature_flag_audit_log", "append", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "feature_flag_audit_log", "append", "success")
	return nil
}

func (r *GormAuditLogRepository) ListPaged(q AuditLogQuery) (PageResult[domain.FeatureFlagAuditLog], error) {
	page := q.Page.normalized()
	base := r.db.Model(&domain.FeatureFlagAuditLog{})
	if q.FlagID != 0 {
		base = base.Where("feature_flag_id = ?", q.FlagID)
	}
	if q.Action != "" {
		base = base.Where("action = ?", q.Action)
	}
	if !q.Since.IsZero() {
		base = base.Where("timestamp >= ?", q.Since)
	}

	var total int64
	if err := base.Count(&total).Error; err != nil {
		observability.RecordRepositoryOperation(context.Background(), "feature_flag_audit_log", "list", "error")
		return PageResult[domain.FeatureFlagAuditLog]{}, err
	}

	var entries []domain.FeatureFlagAuditLog
	err := base.Order("timestamp desc").Order("id desc").
		Offset(page.offset()).
		Limit(page.PageSize).
		Find(&entries).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "feature_flag_audit_log", "list", "error")
		return PageResult[domain.FeatureFlagAuditLog]{}, err
	}
	observability.RecordRepositoryOperation(context.Background(), "feature_flag_audit_log", "list", "success")
	return newPageResult(entries, page, total), nil
}
