package utils

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"intrahub/models"
)

// JourneyMailer delivers journey steps to enrolled users, by email or as
// an in-app notification depending on the step's channel. Failures
// propagate to the caller so the engine can log and skip the enrollment
// for the cycle.
type JourneyMailer struct {
	DB     *gorm.DB
	Mailer *Mailer
}

func NewJourneyMailer(db *gorm.DB, mailer *Mailer) *JourneyMailer {
	return &JourneyMailer{DB: db, Mailer: mailer}
}

func (jm *JourneyMailer) DeliverStep(ctx context.Context, enrollment *models.Enrollment, step *models.JourneyStep) error {
	var user models.User
	if err := jm.DB.WithContext(ctx).First(&user, enrollment.UserID).Error; err != nil {
		return fmt.Errorf("user %d not found: %w", enrollment.UserID, err)
	}

	switch step.ChannelType {
	case models.ChannelInApp:
		notification := models.Notification{
			UserID: user.ID,
			Title:  step.Subject,
			Body:   step.Body,
		}
		if err := jm.DB.WithContext(ctx).Create(&notification).Error; err != nil {
			return fmt.Errorf("failed to create notification: %w", err)
		}
		return nil
	default:
		return jm.Mailer.Send(OutboundMessage{
			To:      user.Email,
			ToName:  user.Name,
			Subject: step.Subject,
			HTML:    step.Body,
		})
	}
}
