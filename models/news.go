package models

import (
	"time"

	"gorm.io/gorm"
)

// News article statuses
const (
	ArticleStatusDraft     = "draft"
	ArticleStatusScheduled = "scheduled"
	ArticleStatusPublished = "published"
	ArticleStatusArchived  = "archived"
)

// NewsArticle is an intranet news item. Articles in scheduled state with a
// due scheduled_at are flipped to published by the publishing worker;
// scheduled_at is cleared on transition.
type NewsArticle struct {
	gorm.Model
	AuthorID uint `gorm:"not null;index" json:"author_id"`

	Title   string `gorm:"not null" json:"title"`
	Summary string `json:"summary"`
	Body    string `json:"body"`

	Status      string     `gorm:"default:'draft';index" json:"status"` // draft, scheduled, published, archived
	ScheduledAt *time.Time `json:"scheduled_at"`
	PublishedAt *time.Time `json:"published_at"`

	// Relations
	Author User `json:"-"`
}
