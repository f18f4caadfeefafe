package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"intrahub/models"
	"intrahub/utils"
)

const newsletterSweepLockKey = "newsletter-scheduling:lock"

const (
	recipientBatchSize = 100
	maxSendRetries     = 3
	interBatchDelay    = 500 * time.Millisecond
)

// Backoff schedule between retry attempts; the last delay repeats if
// MaxRetries ever exceeds its length.
var retryDelays = []time.Duration{5 * time.Second, 30 * time.Second, 120 * time.Second}

// Renderer produces the personalized, tracked HTML for one recipient.
type Renderer interface {
	Render(newsletter *models.Newsletter, recipient *models.NewsletterRecipient, baseURL string) (string, error)
}

// BulkSender delivers a batch of messages. Individual failures are
// reported in the results; only systemic transport failure is returned as
// an error.
type BulkSender interface {
	SendBulk(msgs []utils.OutboundMessage) ([]utils.SendResult, error)
}

// NewsletterDispatcher drains an in-process FIFO queue of send jobs, one
// newsletter at a time. It claims each newsletter with a conditional
// status transition before sending, so a job double-enqueued here or
// drained by a second instance is processed at most once. Recipients are
// sent in fixed-size batches with bounded retry and backoff.
type NewsletterDispatcher struct {
	DB       *gorm.DB
	Lock     utils.Locker
	Renderer Renderer
	Sender   BulkSender
	Logger   *log.Logger
	BaseURL  string

	queue chan uint

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)
}

func NewNewsletterDispatcher(db *gorm.DB, lock utils.Locker, renderer Renderer, sender BulkSender, logger *log.Logger, baseURL string, queueLen int) *NewsletterDispatcher {
	return &NewsletterDispatcher{
		DB:       db,
		Lock:     lock,
		Renderer: renderer,
		Sender:   sender,
		Logger:   logger,
		BaseURL:  baseURL,
		queue:    make(chan uint, queueLen),
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// Enqueue adds a newsletter send job to the queue. Returns false when the
// queue is full; callers surface that as a retryable condition.
func (nd *NewsletterDispatcher) Enqueue(newsletterID uint) bool {
	select {
	case nd.queue <- newsletterID:
		return true
	default:
		nd.Logger.Printf("send queue full, dropping job for newsletter %d", newsletterID)
		return false
	}
}

// Run drains the queue sequentially until the context is cancelled.
func (nd *NewsletterDispatcher) Run(ctx context.Context) {
	nd.Logger.Println("newsletter dispatcher started")
	for {
		select {
		case <-ctx.Done():
			nd.Logger.Println("newsletter dispatcher shutting down...")
			return
		case id := <-nd.queue:
			nd.runJob(ctx, id)
		}
	}
}

// StartScheduledSweep runs the lightweight poller that enqueues
// newsletters whose scheduled time has arrived. Re-enqueueing before the
// job claims the newsletter is harmless: the claim is the idempotency
// barrier.
func (nd *NewsletterDispatcher) StartScheduledSweep(ctx context.Context, interval time.Duration) {
	loop := &Periodic{
		Name:     "newsletter-sweep",
		Interval: interval,
		Run: func(ctx context.Context) error {
			return nd.RunScheduledSweep(ctx, interval)
		},
		Logger: nd.Logger,
	}
	loop.Start(ctx)
}

func (nd *NewsletterDispatcher) RunScheduledSweep(ctx context.Context, interval time.Duration) error {
	token := uuid.New().String()
	acquired, err := nd.Lock.TryAcquire(ctx, newsletterSweepLockKey, token, lockTTL(interval))
	if err != nil {
		return err
	}
	if !acquired {
		return nil
	}
	defer func() {
		if err := nd.Lock.Release(ctx, newsletterSweepLockKey, token); err != nil {
			nd.Logger.Printf("failed to release sweep lock: %v", err)
		}
	}()

	var due []models.Newsletter
	err = nd.DB.WithContext(ctx).
		Select("id").
		Where("status = ? AND scheduled_at <= ?", models.NewsletterStatusScheduled, nd.now()).
		Find(&due).Error
	if err != nil {
		return err
	}

	for _, n := range due {
		nd.Enqueue(n.ID)
	}
	return nil
}

// runJob wraps a job in a panic barrier: one broken send must not stop
// the dispatcher, and a half-processed newsletter is marked failed.
func (nd *NewsletterDispatcher) runJob(ctx context.Context, newsletterID uint) {
	defer func() {
		if r := recover(); r != nil {
			nd.Logger.Printf("newsletter %d: job panic recovered: %v", newsletterID, r)
			nd.markFailed(ctx, newsletterID)
		}
	}()

	if err := nd.ProcessJob(ctx, newsletterID); err != nil {
		nd.Logger.Printf("newsletter %d: job failed: %v", newsletterID, err)
		nd.markFailed(ctx, newsletterID)
	}
}

// ProcessJob performs one newsletter send end to end.
func (nd *NewsletterDispatcher) ProcessJob(ctx context.Context, newsletterID uint) error {
	var newsletter models.Newsletter
	if err := nd.DB.WithContext(ctx).First(&newsletter, newsletterID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			nd.Logger.Printf("newsletter %d no longer exists, dropping job", newsletterID)
			return nil
		}
		return err
	}

	// Atomic claim: only one instance wins the scheduled->sending
	// transition; everyone else drops the job.
	claim := nd.DB.WithContext(ctx).Model(&models.Newsletter{}).
		Where("id = ? AND status IN ?", newsletterID,
			[]string{models.NewsletterStatusDraft, models.NewsletterStatusScheduled}).
		Update("status", models.NewsletterStatusSending)
	if claim.Error != nil {
		return claim.Error
	}
	if claim.RowsAffected == 0 {
		nd.Logger.Printf("newsletter %d already claimed (status %s), dropping job", newsletterID, newsletter.Status)
		return nil
	}

	var recipients []models.NewsletterRecipient
	if err := nd.DB.WithContext(ctx).
		Where("newsletter_id = ? AND status = ?", newsletterID, models.RecipientStatusPending).
		Find(&recipients).Error; err != nil {
		return err
	}

	sentTotal, failedTotal := 0, 0
	for start := 0; start < len(recipients); start += recipientBatchSize {
		end := start + recipientBatchSize
		if end > len(recipients) {
			end = len(recipients)
		}
		batch := recipients[start:end]

		sent, failed, err := nd.processBatch(ctx, &newsletter, batch)
		if err != nil {
			return err
		}
		sentTotal += sent
		failedTotal += failed

		// Throttle outbound throughput between batches.
		if end < len(recipients) {
			nd.sleep(ctx, interBatchDelay)
		}
	}

	finalStatus := models.NewsletterStatusSent
	if len(recipients) > 0 && sentTotal == 0 {
		finalStatus = models.NewsletterStatusFailed
	}

	err := nd.DB.WithContext(ctx).Model(&models.Newsletter{}).
		Where("id = ?", newsletterID).
		Updates(map[string]interface{}{
			"status":       finalStatus,
			"sent_at":      nd.now(),
			"sent_count":   gorm.Expr("sent_count + ?", sentTotal),
			"failed_count": gorm.Expr("failed_count + ?", failedTotal),
		}).Error
	if err != nil {
		return err
	}

	nd.Logger.Printf("newsletter %d finished: %d sent, %d failed, status %s",
		newsletterID, sentTotal, failedTotal, finalStatus)
	return nil
}

// messageState tracks one recipient's message through the retry loop.
// A message is attempted at most maxSendRetries+1 times and ends either
// sent or failed.
type messageState struct {
	recipient *models.NewsletterRecipient
	msg       utils.OutboundMessage
	sent      bool
	attempts  int
	errMsg    string
}

func (s *messageState) exhausted() bool {
	return !s.sent && s.attempts > maxSendRetries
}

func (nd *NewsletterDispatcher) processBatch(ctx context.Context, newsletter *models.Newsletter, batch []models.NewsletterRecipient) (sent, failed int, err error) {
	states := make([]*messageState, 0, len(batch))
	for i := range batch {
		recipient := &batch[i]
		html, renderErr := nd.Renderer.Render(newsletter, recipient, nd.BaseURL)
		if renderErr != nil {
			// A recipient that cannot be rendered is failed outright;
			// retrying will not help.
			states = append(states, &messageState{
				recipient: recipient,
				attempts:  maxSendRetries + 1,
				errMsg:    renderErr.Error(),
			})
			continue
		}
		states = append(states, &messageState{
			recipient: recipient,
			msg: utils.OutboundMessage{
				RecipientID: recipient.ID,
				To:          recipient.Email,
				ToName:      recipient.Name,
				Subject:     newsletter.Subject,
				HTML:        html,
			},
		})
	}

	nd.sendWithRetry(ctx, states)

	// Persist this batch's outcomes before moving on to the next batch.
	now := nd.now()
	err = nd.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, s := range states {
			updates := map[string]interface{}{}
			if s.sent {
				updates["status"] = models.RecipientStatusSent
				updates["sent_at"] = now
				updates["error_message"] = ""
			} else {
				updates["status"] = models.RecipientStatusFailed
				updates["error_message"] = s.errMsg
			}
			if err := tx.Model(&models.NewsletterRecipient{}).
				Where("id = ?", s.recipient.ID).
				Updates(updates).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to persist batch results: %w", err)
	}

	for _, s := range states {
		if s.sent {
			sent++
		} else {
			failed++
		}
	}
	return sent, failed, nil
}

// sendWithRetry attempts the batch, then re-attempts only the messages
// that failed, waiting out the backoff schedule between attempts.
func (nd *NewsletterDispatcher) sendWithRetry(ctx context.Context, states []*messageState) {
	byRecipient := make(map[uint]*messageState, len(states))
	for _, s := range states {
		byRecipient[s.msg.RecipientID] = s
	}

	for attempt := 0; attempt <= maxSendRetries; attempt++ {
		var pending []utils.OutboundMessage
		for _, s := range states {
			if !s.sent && !s.exhausted() {
				pending = append(pending, s.msg)
			}
		}
		if len(pending) == 0 {
			return
		}

		if attempt > 0 {
			delay := retryDelays[len(retryDelays)-1]
			if attempt-1 < len(retryDelays) {
				delay = retryDelays[attempt-1]
			}
			nd.sleep(ctx, delay)
		}

		results, err := nd.Sender.SendBulk(pending)
		if err != nil {
			// Systemic transport failure counts as a failed attempt for
			// every in-flight message.
			for _, msg := range pending {
				s := byRecipient[msg.RecipientID]
				s.attempts++
				s.errMsg = err.Error()
			}
			continue
		}

		for _, res := range results {
			s, ok := byRecipient[res.RecipientID]
			if !ok {
				continue
			}
			s.attempts++
			if res.Success {
				s.sent = true
				s.errMsg = ""
			} else {
				s.errMsg = res.ErrorMessage
			}
		}
	}
}

func (nd *NewsletterDispatcher) markFailed(ctx context.Context, newsletterID uint) {
	err := nd.DB.WithContext(ctx).Model(&models.Newsletter{}).
		Where("id = ?", newsletterID).
		Updates(map[string]interface{}{
			"status":  models.NewsletterStatusFailed,
			"sent_at": nd.now(),
		}).Error
	if err != nil {
		nd.Logger.Printf("failed to mark newsletter %d as failed: %v", newsletterID, err)
	}
}
