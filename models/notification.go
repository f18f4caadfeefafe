package models

import (
	"time"

	"gorm.io/gorm"
)

// Notification is an in-app message, used as the delivery target for
// journey steps with the in_app channel.
type Notification struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	Title string `gorm:"not null" json:"title"`
	Body  string `json:"body"`

	ReadAt *time.Time `json:"read_at"`
}
