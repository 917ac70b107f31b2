package domain

import "time"

const (
	StrategyAll            = "all"
	StrategyPercentage     = "percentage"
	StrategyUserList       = "user_list"
	StrategyUserAttributes = "user_attributes"
	StrategyGradual        = "gradual"
)

func KnownStrategies() []string {
	return []string{StrategyAll, StrategyPercentage, StrategyUserList, StrategyUserAttributes, StrategyGradual}
}

type FeatureFlag struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	Name              string    `gorm:"uniqueIndex;size:128;not null" json:"name"`
	Description       string    `gorm:"size:512" json:"description"`
	IsActive          bool      `gorm:"not null;default:false" json:"is_active"`
	RolloutStrategy   string    `gorm:"size:32;not null;default:all" json:"rollout_strategy"`
	RolloutPercentage int       `gorm:"not null;default:0" json:"rollout_percentage"`
	RolloutConfig     JSONMap   `gorm:"type:json" json:"rollout_config,omitempty"`
	CreatedByID       *uint     `gorm:"index" json:"created_by,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type FeatureFlagUserOverride struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	FeatureFlagID uint      `gorm:"not null;uniqueIndex:idx_feature_flag_user_override" json:"feature_flag_id"`
	UserID        uint      `gorm:"not null;uniqueIndex:idx_feature_flag_user_override" json:"user_id"`
	IsEnabled     bool      `gorm:"not null" json:"is_enabled"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
