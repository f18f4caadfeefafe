package worker

import (
	"context"
	"errors"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"intrahub/models"
	"intrahub/utils"
)

const journeyLockKey = "journey-progression:lock"

// Non-required steps that stay incomplete this long after delivery are
// completed automatically so the enrollment keeps moving. Required steps
// never auto-complete: the enrollment stalls until the user acts or an
// operator intervenes.
const autoCompleteAfter = 7 * 24 * time.Hour

// StepDeliverer sends one journey step to the enrolled user via the
// step's channel.
type StepDeliverer interface {
	DeliverStep(ctx context.Context, enrollment *models.Enrollment, step *models.JourneyStep) error
}

// JourneyWorker advances active enrollments through their journey's step
// state machine: it delivers the current step once its delay has elapsed,
// auto-completes overdue optional steps, and marks enrollments completed
// when they run out of steps. It only ever advances; pausing and
// cancelling are explicit commands handled elsewhere.
type JourneyWorker struct {
	DB        *gorm.DB
	Lock      utils.Locker
	Deliverer StepDeliverer
	Logger    *log.Logger
	Interval  time.Duration

	now func() time.Time
}

func NewJourneyWorker(db *gorm.DB, lock utils.Locker, deliverer StepDeliverer, logger *log.Logger, interval time.Duration) *JourneyWorker {
	return &JourneyWorker{
		DB:        db,
		Lock:      lock,
		Deliverer: deliverer,
		Logger:    logger,
		Interval:  interval,
		now:       time.Now,
	}
}

func (jw *JourneyWorker) Start(ctx context.Context) {
	loop := &Periodic{
		Name:     "journey",
		Interval: jw.Interval,
		Run:      jw.RunCycle,
		Logger:   jw.Logger,
	}
	loop.Start(ctx)
}

// RunCycle processes all active enrollments under the progression lock.
// Enrollments are isolated from each other: a failure in one is logged
// and the rest of the batch continues; unchanged state is retried on the
// next cycle.
func (jw *JourneyWorker) RunCycle(ctx context.Context) error {
	token := uuid.New().String()
	acquired, err := jw.Lock.TryAcquire(ctx, journeyLockKey, token, lockTTL(jw.Interval))
	if err != nil {
		return err
	}
	if !acquired {
		return nil
	}
	defer func() {
		if err := jw.Lock.Release(ctx, journeyLockKey, token); err != nil {
			jw.Logger.Printf("failed to release journey lock: %v", err)
		}
	}()

	var enrollments []models.Enrollment
	err = jw.DB.WithContext(ctx).
		Joins("JOIN journeys ON journeys.id = enrollments.journey_id AND journeys.status = ? AND journeys.deleted_at IS NULL",
			models.JourneyStatusActive).
		Where("enrollments.status = ?", models.EnrollmentStatusActive).
		Preload("Journey.Steps").
		Preload("Completions").
		Find(&enrollments).Error
	if err != nil {
		return err
	}

	for i := range enrollments {
		if err := jw.processEnrollment(ctx, &enrollments[i]); err != nil {
			jw.Logger.Printf("enrollment %d: %v", enrollments[i].ID, err)
		}
	}
	return nil
}

func (jw *JourneyWorker) processEnrollment(ctx context.Context, enrollment *models.Enrollment) error {
	steps := enrollment.Journey.Steps
	sort.Slice(steps, func(i, j int) bool { return steps[i].SortOrder < steps[j].SortOrder })

	now := jw.now()

	// Out of steps: the journey is done for this user.
	if enrollment.CurrentStepIndex >= len(steps) {
		return jw.DB.WithContext(ctx).Model(enrollment).
			Where("status = ?", models.EnrollmentStatusActive).
			Updates(map[string]interface{}{
				"status":       models.EnrollmentStatusCompleted,
				"completed_at": now,
			}).Error
	}

	step := steps[enrollment.CurrentStepIndex]
	completion := findCompletion(enrollment.Completions, enrollment.CurrentStepIndex)

	if completion == nil {
		// Not delivered yet. The delay is counted from the previous
		// delivery, or from enrollment start for the first step.
		referenceTime := enrollment.StartedAt
		if enrollment.LastStepDeliveredAt != nil {
			referenceTime = *enrollment.LastStepDeliveredAt
		}
		if now.Before(referenceTime.Add(time.Duration(step.DelayDays) * 24 * time.Hour)) {
			return nil
		}

		if err := jw.Deliverer.DeliverStep(ctx, enrollment, &step); err != nil {
			return err
		}

		return jw.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			record := models.StepCompletion{
				EnrollmentID:    enrollment.ID,
				StepIndex:       enrollment.CurrentStepIndex,
				StepID:          step.ID,
				DeliveredAt:     now,
				DeliveryChannel: step.ChannelType,
			}
			if err := tx.Create(&record).Error; err != nil {
				// The unique index on (enrollment, step index) makes
				// concurrent delivery idempotent at the record level.
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return nil
				}
				return err
			}
			return tx.Model(enrollment).
				Update("last_step_delivered_at", now).Error
		})
	}

	// Delivered and explicitly completed: the completion command already
	// advanced the index, nothing to do here.
	if completion.CompletedAt != nil {
		return nil
	}

	// Optional steps complete themselves after the grace window.
	if !step.IsRequired && !now.Before(completion.DeliveredAt.Add(autoCompleteAfter)) {
		return jw.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Model(completion).Update("completed_at", now).Error; err != nil {
				return err
			}
			return tx.Model(enrollment).
				Update("current_step_index", gorm.Expr("current_step_index + ?", 1)).Error
		})
	}

	return nil
}

func findCompletion(completions []models.StepCompletion, stepIndex int) *models.StepCompletion {
	for i := range completions {
		if completions[i].StepIndex == stepIndex {
			return &completions[i]
		}
	}
	return nil
}
