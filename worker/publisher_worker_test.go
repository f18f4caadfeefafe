package worker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"intrahub/models"
	"intrahub/utils"
)

func TestPublisherWorker_PublishesDueArticles(t *testing.T) {
	db := newTestDB(t)
	clock := &fixedClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}

	due := models.NewsArticle{
		AuthorID:    1,
		Title:       "Quarterly update",
		Body:        "...",
		Status:      models.ArticleStatusScheduled,
		ScheduledAt: utils.Pointer(clock.t.Add(-time.Minute)),
	}
	future := models.NewsArticle{
		AuthorID:    1,
		Title:       "Next week",
		Body:        "...",
		Status:      models.ArticleStatusScheduled,
		ScheduledAt: utils.Pointer(clock.t.Add(48 * time.Hour)),
	}
	draft := models.NewsArticle{AuthorID: 1, Title: "Draft", Body: "...", Status: models.ArticleStatusDraft}
	for _, a := range []*models.NewsArticle{&due, &future, &draft} {
		if err := db.Create(a).Error; err != nil {
			t.Fatalf("failed to seed article: %v", err)
		}
	}

	pw := NewPublisherWorker(db, utils.NoopMutex{}, newTestLogger(), time.Minute)
	pw.now = clock.now
	if err := pw.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle() error: %v", err)
	}

	var got models.NewsArticle
	if err := db.First(&got, due.ID).Error; err != nil {
		t.Fatalf("failed to reload article: %v", err)
	}
	if got.Status != models.ArticleStatusPublished {
		t.Fatalf("expected published, got %q", got.Status)
	}
	if got.PublishedAt == nil || !got.PublishedAt.Equal(clock.t) {
		t.Fatalf("expected publishedAt %v, got %v", clock.t, got.PublishedAt)
	}
	if got.ScheduledAt != nil {
		t.Fatalf("expected scheduledAt cleared, got %v", got.ScheduledAt)
	}

	got = models.NewsArticle{}
	if err := db.First(&got, future.ID).Error; err != nil {
		t.Fatalf("failed to reload article: %v", err)
	}
	if got.Status != models.ArticleStatusScheduled {
		t.Fatalf("future article must stay scheduled, got %q", got.Status)
	}

	got = models.NewsArticle{}
	if err := db.First(&got, draft.ID).Error; err != nil {
		t.Fatalf("failed to reload article: %v", err)
	}
	if got.Status != models.ArticleStatusDraft {
		t.Fatalf("draft article must stay draft, got %q", got.Status)
	}
}

// A second instance holding the lock makes this instance skip its cycle
// entirely; after the holder releases, the sweep goes through. Exactly
// one publish happens for the article within the window.
func TestPublisherWorker_LockPreventsConcurrentSweep(t *testing.T) {
	db := newTestDB(t)
	clock := &fixedClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	lock := utils.NewRedisMutex(rdb)

	article := models.NewsArticle{
		AuthorID:    1,
		Title:       "Contested",
		Body:        "...",
		Status:      models.ArticleStatusScheduled,
		ScheduledAt: utils.Pointer(clock.t.Add(-time.Minute)),
	}
	if err := db.Create(&article).Error; err != nil {
		t.Fatalf("failed to seed article: %v", err)
	}

	ctx := context.Background()

	// Simulate another instance mid-cycle.
	held, err := lock.TryAcquire(ctx, publishLockKey, "other-instance", time.Minute)
	if err != nil || !held {
		t.Fatalf("failed to pre-acquire lock: held=%v err=%v", held, err)
	}

	pw := NewPublisherWorker(db, lock, newTestLogger(), time.Minute)
	pw.now = clock.now
	if err := pw.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle() error: %v", err)
	}

	var got models.NewsArticle
	if err := db.First(&got, article.ID).Error; err != nil {
		t.Fatalf("failed to reload article: %v", err)
	}
	if got.Status != models.ArticleStatusScheduled {
		t.Fatalf("cycle must be skipped while the lock is held, got status %q", got.Status)
	}

	// Holder finishes; our next cycle wins the lock and publishes.
	if err := lock.Release(ctx, publishLockKey, "other-instance"); err != nil {
		t.Fatalf("failed to release lock: %v", err)
	}
	if err := pw.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle() error: %v", err)
	}
	if err := db.First(&got, article.ID).Error; err != nil {
		t.Fatalf("failed to reload article: %v", err)
	}
	if got.Status != models.ArticleStatusPublished {
		t.Fatalf("expected published after lock released, got %q", got.Status)
	}

	// The cycle's deferred release left the lock free for the next window.
	if mr.Exists(publishLockKey) {
		t.Fatalf("expected lock released after cycle")
	}
}
