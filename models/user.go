package models

import (
	"gorm.io/gorm"
)

// User is an intranet directory entry. Authentication is handled upstream;
// this service only needs identity, address and active flag for targeting
// journeys and newsletters.
type User struct {
	gorm.Model
	Email    string `gorm:"uniqueIndex;not null" json:"email"`
	Name     string `json:"name"`
	IsActive bool   `gorm:"default:true" json:"is_active"`

	// Incremented on credential change upstream; tokens carrying an older
	// version are rejected.
	TokenVersion int `gorm:"default:0" json:"-"`

	// Relations
	Enrollments   []Enrollment   `gorm:"foreignKey:UserID" json:"enrollments,omitempty"`
	Notifications []Notification `gorm:"foreignKey:UserID" json:"notifications,omitempty"`
}
