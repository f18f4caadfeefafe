package controller

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"intrahub/models"
	"intrahub/utils"
	"intrahub/worker"
)

type NewsletterController struct {
	DB         *gorm.DB
	Logger     *log.Logger
	Dispatcher *worker.NewsletterDispatcher
}

func NewNewsletterController(db *gorm.DB, logger *log.Logger, dispatcher *worker.NewsletterDispatcher) *NewsletterController {
	return &NewsletterController{DB: db, Logger: logger, Dispatcher: dispatcher}
}

type recipientInput struct {
	Email  string `json:"email" validate:"required"`
	Name   string `json:"name"`
	UserID *uint  `json:"user_id"`
}

type createNewsletterInput struct {
	Name        string           `json:"name" validate:"required"`
	Subject     string           `json:"subject" validate:"required"`
	PreviewText string           `json:"preview_text"`
	BodyHTML    string           `json:"body_html" validate:"required"`
	TrackOpens  *bool            `json:"track_opens"`
	TrackClicks *bool            `json:"track_clicks"`
	Recipients  []recipientInput `json:"recipients" validate:"required,min=1,dive"`
}

// CreateNewsletter creates a draft newsletter with its recipient list.
func (nc *NewsletterController) CreateNewsletter(c *fiber.Ctx) error {
	var input createNewsletterInput
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}
	for _, r := range input.Recipients {
		if err := utils.ValidateEmailFormat(r.Email); err != nil {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid recipient", err)
		}
	}

	newsletter := models.Newsletter{
		Name:            input.Name,
		Subject:         input.Subject,
		PreviewText:     input.PreviewText,
		BodyHTML:        input.BodyHTML,
		Status:          models.NewsletterStatusDraft,
		TrackOpens:      true,
		TrackClicks:     true,
		TotalRecipients: len(input.Recipients),
	}
	if input.TrackOpens != nil {
		newsletter.TrackOpens = *input.TrackOpens
	}
	if input.TrackClicks != nil {
		newsletter.TrackClicks = *input.TrackClicks
	}

	err := nc.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&newsletter).Error; err != nil {
			return err
		}
		for _, r := range input.Recipients {
			recipient := models.NewsletterRecipient{
				NewsletterID:  newsletter.ID,
				UserID:        r.UserID,
				Email:         r.Email,
				Name:          r.Name,
				Status:        models.RecipientStatusPending,
				TrackingToken: utils.GenerateTrackingToken(),
			}
			if err := tx.Create(&recipient).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		nc.Logger.Printf("failed to create newsletter: %v", err)
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create newsletter", nil)
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(newsletter))
}

type scheduleInput struct {
	ScheduledAt time.Time `json:"scheduled_at" validate:"required"`
}

// ScheduleNewsletter moves a draft newsletter to scheduled state; the
// sweep poller will enqueue it once the time arrives.
func (nc *NewsletterController) ScheduleNewsletter(c *fiber.Ctx) error {
	var input scheduleInput
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if input.ScheduledAt.Before(time.Now()) {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "scheduled_at must be in the future", nil)
	}

	result := nc.DB.Model(&models.Newsletter{}).
		Where("id = ? AND status = ?", c.Params("id"), models.NewsletterStatusDraft).
		Updates(map[string]interface{}{
			"status":       models.NewsletterStatusScheduled,
			"scheduled_at": input.ScheduledAt,
		})
	if result.Error != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to schedule newsletter", nil)
	}
	if result.RowsAffected == 0 {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Newsletter not found or not in draft state", nil)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{"scheduled_at": input.ScheduledAt}))
}

// SendNewsletter queues a newsletter for immediate sending.
func (nc *NewsletterController) SendNewsletter(c *fiber.Ctx) error {
	var newsletter models.Newsletter
	if err := nc.DB.First(&newsletter, "id = ?", c.Params("id")).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Newsletter not found", nil)
	}

	switch newsletter.Status {
	case models.NewsletterStatusDraft, models.NewsletterStatusScheduled:
		// queueable
	default:
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Newsletter has already been processed", nil)
	}

	if !nc.Dispatcher.Enqueue(newsletter.ID) {
		return utils.ErrorResponse(c, fiber.StatusServiceUnavailable, "Send queue is full, try again later", nil)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{"queued": true}))
}

// GetNewsletter returns a newsletter with its delivery statistics.
func (nc *NewsletterController) GetNewsletter(c *fiber.Ctx) error {
	var newsletter models.Newsletter
	if err := nc.DB.Preload("Recipients").First(&newsletter, "id = ?", c.Params("id")).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Newsletter not found", nil)
	}
	return c.JSON(utils.SuccessResponse(newsletter))
}

// ListNewsletters returns newsletters, most recent first.
func (nc *NewsletterController) ListNewsletters(c *fiber.Ctx) error {
	var newsletters []models.Newsletter
	if err := nc.DB.Order("created_at DESC").Limit(100).Find(&newsletters).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to list newsletters", nil)
	}
	return c.JSON(utils.SuccessResponse(newsletters))
}
