package domain

import "time"

type User struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Email      string    `gorm:"uniqueIndex;size:255;not null" json:"email"`
	Username   string    `gorm:"uniqueIndex;size:150;not null" json:"username"`
	IsStaff    bool      `gorm:"not null;default:false" json:"is_staff"`
	IsActive   bool      `gorm:"not null;default:true" json:"is_active"`
	DateJoined time.Time `gorm:"not null" json:"date_joined"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
