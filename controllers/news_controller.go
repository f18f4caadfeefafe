package controller

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"intrahub/models"
	"intrahub/utils"
)

type NewsController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewNewsController(db *gorm.DB, logger *log.Logger) *NewsController {
	return &NewsController{DB: db, Logger: logger}
}

type createArticleInput struct {
	Title   string `json:"title" validate:"required"`
	Summary string `json:"summary"`
	Body    string `json:"body" validate:"required"`
}

// CreateArticle creates a draft news article owned by the caller.
func (nc *NewsController) CreateArticle(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var input createArticleInput
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	article := models.NewsArticle{
		AuthorID: user.ID,
		Title:    input.Title,
		Summary:  input.Summary,
		Body:     input.Body,
		Status:   models.ArticleStatusDraft,
	}
	if err := nc.DB.Create(&article).Error; err != nil {
		nc.Logger.Printf("failed to create article: %v", err)
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create article", nil)
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(article))
}

// ScheduleArticle moves a draft article to scheduled state; the
// publishing worker flips it once the time arrives.
func (nc *NewsController) ScheduleArticle(c *fiber.Ctx) error {
	var input scheduleInput
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if input.ScheduledAt.Before(time.Now()) {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "scheduled_at must be in the future", nil)
	}

	result := nc.DB.Model(&models.NewsArticle{}).
		Where("id = ? AND status = ?", c.Params("id"), models.ArticleStatusDraft).
		Updates(map[string]interface{}{
			"status":       models.ArticleStatusScheduled,
			"scheduled_at": input.ScheduledAt,
		})
	if result.Error != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to schedule article", nil)
	}
	if result.RowsAffected == 0 {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Article not found or not in draft state", nil)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{"scheduled_at": input.ScheduledAt}))
}

// PublishArticle publishes a draft or scheduled article immediately.
func (nc *NewsController) PublishArticle(c *fiber.Ctx) error {
	result := nc.DB.Model(&models.NewsArticle{}).
		Where("id = ? AND status IN ?", c.Params("id"),
			[]string{models.ArticleStatusDraft, models.ArticleStatusScheduled}).
		Updates(map[string]interface{}{
			"status":       models.ArticleStatusPublished,
			"published_at": time.Now(),
			"scheduled_at": nil,
		})
	if result.Error != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to publish article", nil)
	}
	if result.RowsAffected == 0 {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Article not found or already published", nil)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{"status": models.ArticleStatusPublished}))
}

// GetArticle returns one article.
func (nc *NewsController) GetArticle(c *fiber.Ctx) error {
	var article models.NewsArticle
	if err := nc.DB.First(&article, "id = ?", c.Params("id")).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Article not found", nil)
	}
	return c.JSON(utils.SuccessResponse(article))
}

// ListArticles returns published articles, newest first.
func (nc *NewsController) ListArticles(c *fiber.Ctx) error {
	var articles []models.NewsArticle
	if err := nc.DB.Where("status = ?", models.ArticleStatusPublished).
		Order("published_at DESC").Limit(100).Find(&articles).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to list articles", nil)
	}
	return c.JSON(utils.SuccessResponse(articles))
}
