package models

import (
	"time"

	"gorm.io/gorm"
)

// Journey statuses
const (
	JourneyStatusDraft  = "draft"
	JourneyStatusActive = "active"
	JourneyStatusPaused = "paused"
)

// Enrollment statuses
const (
	EnrollmentStatusActive    = "active"
	EnrollmentStatusCompleted = "completed"
	EnrollmentStatusCancelled = "cancelled"
	EnrollmentStatusPaused    = "paused"
)

// Step delivery channels
const (
	ChannelEmail = "email"
	ChannelInApp = "in_app"
)

// Journey represents a configured sequence of steps delivered to enrolled
// users over time (onboarding, training tracks, etc.).
type Journey struct {
	gorm.Model
	Name        string `gorm:"not null" json:"name"`
	Description string `json:"description"`
	Status      string `gorm:"default:'draft'" json:"status"` // draft, active, paused

	// Relations
	Steps       []JourneyStep `gorm:"foreignKey:JourneyID" json:"steps,omitempty"`
	Enrollments []Enrollment  `gorm:"foreignKey:JourneyID" json:"enrollments,omitempty"`
}

// JourneyStep is one unit of journey content, gated by a delay (in days)
// from the previous step's delivery. Steps are immutable once the journey
// is active.
type JourneyStep struct {
	gorm.Model
	JourneyID uint `gorm:"not null;index" json:"journey_id"`

	SortOrder   int    `gorm:"not null" json:"sort_order"`
	DelayDays   int    `gorm:"not null;default:0" json:"delay_days"`
	ChannelType string `gorm:"default:'email'" json:"channel_type"` // email, in_app
	IsRequired  bool   `gorm:"default:false" json:"is_required"`

	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Enrollment is one user's progress instance through one Journey.
// CurrentStepIndex is 0-based and only ever moves forward; the journey
// worker advances it, explicit commands complete/pause/cancel it.
type Enrollment struct {
	gorm.Model
	JourneyID uint `gorm:"not null;index" json:"journey_id"`
	UserID    uint `gorm:"not null;index" json:"user_id"`

	StartedAt           time.Time  `gorm:"not null" json:"started_at"`
	CurrentStepIndex    int        `gorm:"not null;default:0" json:"current_step_index"`
	Status              string     `gorm:"default:'active';index" json:"status"` // active, completed, cancelled, paused
	CompletedAt         *time.Time `json:"completed_at"`
	LastStepDeliveredAt *time.Time `json:"last_step_delivered_at"`

	// Relations
	Journey     Journey          `json:"-"`
	User        User             `json:"-"`
	Completions []StepCompletion `gorm:"foreignKey:EnrollmentID" json:"completions,omitempty"`
}

// StepCompletion records delivery and completion of one step for one
// enrollment. At most one record exists per (enrollment, step index);
// absence of a record for the current index means the step has not been
// delivered yet. StepID is the stable identity of the step at delivery
// time, kept alongside the positional index for audit.
type StepCompletion struct {
	gorm.Model
	EnrollmentID uint `gorm:"not null;uniqueIndex:idx_enrollment_step" json:"enrollment_id"`
	StepIndex    int  `gorm:"not null;uniqueIndex:idx_enrollment_step" json:"step_index"`
	StepID       uint `gorm:"not null;index" json:"step_id"`

	DeliveredAt     time.Time  `gorm:"not null" json:"delivered_at"`
	CompletedAt     *time.Time `json:"completed_at"`
	ViewedAt        *time.Time `json:"viewed_at"`
	DeliveryChannel string     `json:"delivery_channel"`
}
