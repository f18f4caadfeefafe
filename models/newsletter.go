package models

import (
	"time"

	"gorm.io/gorm"
)

// Newsletter statuses. Sending is a transient claim state: the dispatcher
// flips scheduled/draft to sending with a conditional update before any
// message goes out, so two instances cannot both process the same send.
const (
	NewsletterStatusDraft     = "draft"
	NewsletterStatusScheduled = "scheduled"
	NewsletterStatusSending   = "sending"
	NewsletterStatusSent      = "sent"
	NewsletterStatusFailed    = "failed"
)

// Recipient statuses. Sent and failed are terminal for the send phase;
// delivered/opened/clicked are downstream tracking events layered on top
// of sent.
const (
	RecipientStatusPending   = "pending"
	RecipientStatusSent      = "sent"
	RecipientStatusDelivered = "delivered"
	RecipientStatusOpened    = "opened"
	RecipientStatusClicked   = "clicked"
	RecipientStatusFailed    = "failed"
)

// Newsletter represents one bulk email send to a set of recipients.
type Newsletter struct {
	gorm.Model
	Name        string `gorm:"not null" json:"name"`
	Subject     string `gorm:"not null" json:"subject"`
	PreviewText string `json:"preview_text"`
	BodyHTML    string `json:"body_html"`

	// Scheduling
	Status      string     `gorm:"default:'draft';index" json:"status"` // draft, scheduled, sending, sent, failed
	ScheduledAt *time.Time `json:"scheduled_at"`
	SentAt      *time.Time `json:"sent_at"`

	// Tracking settings
	TrackOpens  bool `gorm:"default:true" json:"track_opens"`
	TrackClicks bool `gorm:"default:true" json:"track_clicks"`

	// Statistics (denormalized for performance)
	TotalRecipients int `gorm:"default:0" json:"total_recipients"`
	SentCount       int `gorm:"default:0" json:"sent_count"`
	FailedCount     int `gorm:"default:0" json:"failed_count"`
	OpenCount       int `gorm:"default:0" json:"open_count"`
	ClickCount      int `gorm:"default:0" json:"click_count"`

	// Relations
	Recipients []NewsletterRecipient `gorm:"foreignKey:NewsletterID" json:"recipients,omitempty"`
}

// NewsletterRecipient is one per-user target of a newsletter send.
// TrackingToken is embedded in the rendered message and resolved by the
// open/click tracking endpoints.
type NewsletterRecipient struct {
	gorm.Model
	NewsletterID uint  `gorm:"not null;index" json:"newsletter_id"`
	UserID       *uint `gorm:"index" json:"user_id"`

	Email string `gorm:"not null" json:"email"`
	Name  string `json:"name"`

	Status       string `gorm:"default:'pending';index" json:"status"` // pending, sent, delivered, opened, clicked, failed
	ErrorMessage string `json:"error_message"`

	TrackingToken string `gorm:"uniqueIndex" json:"-"`

	SentAt      *time.Time `json:"sent_at"`
	DeliveredAt *time.Time `json:"delivered_at"`
	OpenedAt    *time.Time `json:"opened_at"`
	ClickedAt   *time.Time `json:"clicked_at"`

	// Relations
	Newsletter Newsletter `json:"-"`
}
