package controller

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"intrahub/models"
)

// 1x1 transparent GIF served as the open tracking pixel.
var trackingPixel = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

// Recipient statuses form an advisory engagement funnel; a tracking event
// only ever moves a recipient further along it.
var funnelRank = map[string]int{
	models.RecipientStatusPending:   0,
	models.RecipientStatusSent:      1,
	models.RecipientStatusDelivered: 2,
	models.RecipientStatusOpened:    3,
	models.RecipientStatusClicked:   4,
}

type TrackingController struct {
	DB *gorm.DB
}

func NewTrackingController(db *gorm.DB) *TrackingController {
	return &TrackingController{DB: db}
}

// TrackOpen records an email open and serves the tracking pixel. Unknown
// tokens still get the pixel so broken links never surface to readers.
func (tc *TrackingController) TrackOpen(c *fiber.Ctx) error {
	token := c.Params("token")

	var recipient models.NewsletterRecipient
	if err := tc.DB.First(&recipient, "tracking_token = ?", token).Error; err == nil {
		tc.recordEvent(&recipient, models.RecipientStatusOpened)
	} else {
		logrus.WithFields(logrus.Fields{
			"token": token,
			"ip":    c.IP(),
		}).Warn("open tracking hit with unknown token")
	}

	c.Set("Content-Type", "image/gif")
	c.Set("Cache-Control", "no-store")
	return c.Send(trackingPixel)
}

// TrackClick records a link click and redirects to the original URL.
func (tc *TrackingController) TrackClick(c *fiber.Ctx) error {
	token := c.Params("token")
	targetURL := c.Query("url")
	if targetURL == "" {
		return c.Status(fiber.StatusBadRequest).SendString("missing url")
	}

	var recipient models.NewsletterRecipient
	if err := tc.DB.First(&recipient, "tracking_token = ?", token).Error; err == nil {
		tc.recordEvent(&recipient, models.RecipientStatusClicked)
	} else {
		logrus.WithFields(logrus.Fields{
			"token": token,
			"ip":    c.IP(),
			"url":   targetURL,
		}).Warn("click tracking hit with unknown token")
	}

	return c.Redirect(targetURL, fiber.StatusFound)
}

// recordEvent stamps the funnel timestamps implied by the event (a click
// implies opened and delivered) and upgrades the recipient's status if
// the event is further along the funnel.
func (tc *TrackingController) recordEvent(recipient *models.NewsletterRecipient, event string) {
	now := time.Now()
	updates := map[string]interface{}{}
	counters := map[string]bool{}

	if recipient.DeliveredAt == nil {
		updates["delivered_at"] = now
	}
	if recipient.OpenedAt == nil {
		updates["opened_at"] = now
		counters["open_count"] = true
	}
	if event == models.RecipientStatusClicked && recipient.ClickedAt == nil {
		updates["clicked_at"] = now
		counters["click_count"] = true
	}
	if funnelRank[event] > funnelRank[recipient.Status] {
		updates["status"] = event
	}
	if len(updates) == 0 {
		return
	}

	err := tc.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(recipient).Updates(updates).Error; err != nil {
			return err
		}
		for column := range counters {
			if err := tx.Model(&models.Newsletter{}).
				Where("id = ?", recipient.NewsletterID).
				Update(column, gorm.Expr(column+" + ?", 1)).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"recipient_id":  recipient.ID,
			"newsletter_id": recipient.NewsletterID,
			"event":         event,
		}).WithError(err).Error("failed to record tracking event")
	}
}
