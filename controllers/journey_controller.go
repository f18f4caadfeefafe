package controller

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"intrahub/models"
	"intrahub/utils"
)

type JourneyController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewJourneyController(db *gorm.DB, logger *log.Logger) *JourneyController {
	return &JourneyController{DB: db, Logger: logger}
}

type stepInput struct {
	SortOrder   int    `json:"sort_order"`
	DelayDays   int    `json:"delay_days" validate:"min=0"`
	ChannelType string `json:"channel_type" validate:"omitempty,oneof=email in_app"`
	IsRequired  bool   `json:"is_required"`
	Subject     string `json:"subject" validate:"required"`
	Body        string `json:"body"`
}

type createJourneyInput struct {
	Name        string      `json:"name" validate:"required"`
	Description string      `json:"description"`
	Steps       []stepInput `json:"steps" validate:"required,min=1,dive"`
}

// CreateJourney creates a draft journey with its ordered steps.
func (jc *JourneyController) CreateJourney(c *fiber.Ctx) error {
	var input createJourneyInput
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	journey := models.Journey{
		Name:        input.Name,
		Description: input.Description,
		Status:      models.JourneyStatusDraft,
	}
	err := jc.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&journey).Error; err != nil {
			return err
		}
		for i, s := range input.Steps {
			channel := s.ChannelType
			if channel == "" {
				channel = models.ChannelEmail
			}
			step := models.JourneyStep{
				JourneyID:   journey.ID,
				SortOrder:   i,
				DelayDays:   s.DelayDays,
				ChannelType: channel,
				IsRequired:  s.IsRequired,
				Subject:     s.Subject,
				Body:        s.Body,
			}
			if err := tx.Create(&step).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		jc.Logger.Printf("failed to create journey: %v", err)
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create journey", nil)
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(journey))
}

// ActivateJourney makes a draft journey live. Steps are immutable from
// this point on.
func (jc *JourneyController) ActivateJourney(c *fiber.Ctx) error {
	result := jc.DB.Model(&models.Journey{}).
		Where("id = ? AND status = ?", c.Params("id"), models.JourneyStatusDraft).
		Update("status", models.JourneyStatusActive)
	if result.Error != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to activate journey", nil)
	}
	if result.RowsAffected == 0 {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Journey not found or not in draft state", nil)
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{"status": models.JourneyStatusActive}))
}

type enrollInput struct {
	UserID uint `json:"user_id" validate:"required"`
}

// EnrollUser starts a user on a journey. A user can have at most one
// active enrollment per journey.
func (jc *JourneyController) EnrollUser(c *fiber.Ctx) error {
	var input enrollInput
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	var journey models.Journey
	if err := jc.DB.First(&journey, "id = ? AND status = ?", c.Params("id"), models.JourneyStatusActive).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Active journey not found", nil)
	}

	var existing int64
	jc.DB.Model(&models.Enrollment{}).
		Where("journey_id = ? AND user_id = ? AND status = ?", journey.ID, input.UserID, models.EnrollmentStatusActive).
		Count(&existing)
	if existing > 0 {
		return utils.ErrorResponse(c, fiber.StatusConflict, "User is already enrolled in this journey", nil)
	}

	enrollment := models.Enrollment{
		JourneyID: journey.ID,
		UserID:    input.UserID,
		StartedAt: time.Now(),
		Status:    models.EnrollmentStatusActive,
	}
	if err := jc.DB.Create(&enrollment).Error; err != nil {
		jc.Logger.Printf("failed to enroll user %d: %v", input.UserID, err)
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to enroll user", nil)
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(enrollment))
}

// CompleteStep marks the current step of an enrollment as completed and
// advances the step index. This is the explicit completion command; the
// journey worker only auto-completes optional steps.
func (jc *JourneyController) CompleteStep(c *fiber.Ctx) error {
	var enrollment models.Enrollment
	if err := jc.DB.First(&enrollment, "id = ?", c.Params("id")).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Enrollment not found", nil)
	}
	if enrollment.Status != models.EnrollmentStatusActive {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Enrollment is not active", nil)
	}

	var completion models.StepCompletion
	err := jc.DB.First(&completion,
		"enrollment_id = ? AND step_index = ?", enrollment.ID, enrollment.CurrentStepIndex).Error
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Current step has not been delivered yet", nil)
	}
	if completion.CompletedAt != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Current step is already completed", nil)
	}

	now := time.Now()
	err = jc.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&completion).Update("completed_at", now).Error; err != nil {
			return err
		}
		return tx.Model(&enrollment).
			Update("current_step_index", gorm.Expr("current_step_index + ?", 1)).Error
	})
	if err != nil {
		jc.Logger.Printf("failed to complete step for enrollment %d: %v", enrollment.ID, err)
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to complete step", nil)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"completed_at":       now,
		"current_step_index": enrollment.CurrentStepIndex + 1,
	}))
}

// PauseEnrollment suspends progression; the worker skips paused
// enrollments entirely.
func (jc *JourneyController) PauseEnrollment(c *fiber.Ctx) error {
	return jc.transitionEnrollment(c, models.EnrollmentStatusActive, models.EnrollmentStatusPaused)
}

// ResumeEnrollment reactivates a paused enrollment.
func (jc *JourneyController) ResumeEnrollment(c *fiber.Ctx) error {
	return jc.transitionEnrollment(c, models.EnrollmentStatusPaused, models.EnrollmentStatusActive)
}

// CancelEnrollment permanently ends an enrollment. The record is kept;
// enrollments are never deleted.
func (jc *JourneyController) CancelEnrollment(c *fiber.Ctx) error {
	return jc.transitionEnrollment(c, models.EnrollmentStatusActive, models.EnrollmentStatusCancelled)
}

func (jc *JourneyController) transitionEnrollment(c *fiber.Ctx, from, to string) error {
	result := jc.DB.Model(&models.Enrollment{}).
		Where("id = ? AND status = ?", c.Params("id"), from).
		Update("status", to)
	if result.Error != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update enrollment", nil)
	}
	if result.RowsAffected == 0 {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Enrollment not found or not in expected state", nil)
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{"status": to}))
}

// GetEnrollment returns an enrollment with its step completions.
func (jc *JourneyController) GetEnrollment(c *fiber.Ctx) error {
	var enrollment models.Enrollment
	if err := jc.DB.Preload("Completions").First(&enrollment, "id = ?", c.Params("id")).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Enrollment not found", nil)
	}
	return c.JSON(utils.SuccessResponse(enrollment))
}
