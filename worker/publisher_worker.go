package worker

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"intrahub/models"
	"intrahub/utils"
)

const publishLockKey = "scheduled-publishing:lock"

// PublisherWorker flips time-scheduled news articles into published state.
// Each cycle is guarded by a distributed lock so that at most one service
// instance performs the sweep per scheduling window; all eligible articles
// are published in a single transaction.
type PublisherWorker struct {
	DB       *gorm.DB
	Lock     utils.Locker
	Logger   *log.Logger
	Interval time.Duration

	now func() time.Time
}

func NewPublisherWorker(db *gorm.DB, lock utils.Locker, logger *log.Logger, interval time.Duration) *PublisherWorker {
	return &PublisherWorker{
		DB:       db,
		Lock:     lock,
		Logger:   logger,
		Interval: interval,
		now:      time.Now,
	}
}

func (pw *PublisherWorker) Start(ctx context.Context) {
	loop := &Periodic{
		Name:     "publisher",
		Interval: pw.Interval,
		Run:      pw.RunCycle,
		Logger:   pw.Logger,
	}
	loop.Start(ctx)
}

// RunCycle performs one publishing sweep. A held lock is not an error:
// another instance is active and this cycle is simply skipped.
func (pw *PublisherWorker) RunCycle(ctx context.Context) error {
	token := uuid.New().String()
	acquired, err := pw.Lock.TryAcquire(ctx, publishLockKey, token, lockTTL(pw.Interval))
	if err != nil {
		return err
	}
	if !acquired {
		return nil
	}
	defer func() {
		if err := pw.Lock.Release(ctx, publishLockKey, token); err != nil {
			pw.Logger.Printf("failed to release publish lock: %v", err)
		}
	}()

	now := pw.now()
	var published int64
	err = pw.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.NewsArticle{}).
			Where("status = ? AND scheduled_at <= ?", models.ArticleStatusScheduled, now).
			Updates(map[string]interface{}{
				"status":       models.ArticleStatusPublished,
				"published_at": now,
				"scheduled_at": nil,
			})
		if result.Error != nil {
			return result.Error
		}
		published = result.RowsAffected
		return nil
	})
	if err != nil {
		return err
	}

	if published > 0 {
		pw.Logger.Printf("published %d scheduled articles", published)
	}
	return nil
}
