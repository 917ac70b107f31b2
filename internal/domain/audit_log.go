package domain

import "time"

const (
	AuditActionCreated         = "created"
	AuditActionUpdated         = "updated"
	AuditActionDeleted         = "deleted"
	AuditActionOverrideCreated = "override_created"
	AuditActionOverrideUpdated = "override_updated"
	AuditActionCheckedOverride = "checked_override"
	AuditActionCheckedRollout  = "checked_rollout"
	AuditActionCheckedDefault  = "checked_default"
)

// FeatureFlagAuditLog rows are append-only; nothing in the application
// updates or deletes them.
type FeatureFlagAuditLog struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	FeatureFlagID uint      `gorm:"not null;index" json:"feature_flag_id"`
	UserID        *uint     `gorm:"index" json:"user_id,omitempty"`
	Action        string    `gorm:"size:32;not null;index" json:"action"`
	OldValue      JSONMap   `gorm:"type:json" json:"old_value,omitempty"`
	NewValue      JSONMap   `gorm:"type:json" json:"new_value,omitempty"`
	Timestamp     time.Time `gorm:"autoCreateTime;index" json:"timestamp"`
	IPAddress     string    `gorm:"size:64" json:"ip_address,omitempty"`
	UserAgent     string    `gorm:"size:512" json:"user_agent,omitempty"`
}
