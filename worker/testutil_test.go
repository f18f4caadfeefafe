package worker

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"intrahub/models"
	"intrahub/utils"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	// A single connection keeps every session on the same in-memory database.
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(
		&models.User{},
		&models.Journey{},
		&models.JourneyStep{},
		&models.Enrollment{},
		&models.StepCompletion{},
		&models.Newsletter{},
		&models.NewsletterRecipient{},
		&models.NewsArticle{},
		&models.Notification{},
	)
	if err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

func newTestLogger() *log.Logger {
	return log.New(os.Stdout, "TEST: ", log.LstdFlags)
}

// fakeDeliverer records step deliveries and can be programmed to fail for
// specific enrollments.
type fakeDeliverer struct {
	delivered []uint // enrollment IDs in delivery order
	failFor   map[uint]error
}

func (f *fakeDeliverer) DeliverStep(ctx context.Context, enrollment *models.Enrollment, step *models.JourneyStep) error {
	if err, ok := f.failFor[enrollment.ID]; ok {
		return err
	}
	f.delivered = append(f.delivered, enrollment.ID)
	return nil
}

func (f *fakeDeliverer) deliveryCount(enrollmentID uint) int {
	n := 0
	for _, id := range f.delivered {
		if id == enrollmentID {
			n++
		}
	}
	return n
}

// fixedClock returns a settable now() for deterministic time-based tests.
type fixedClock struct {
	t time.Time
}

func (c *fixedClock) now() time.Time {
	return c.t
}

func (c *fixedClock) advance(d time.Duration) {
	c.t = c.t.Add(d)
}

func seedJourney(t *testing.T, db *gorm.DB, steps []models.JourneyStep) *models.Journey {
	t.Helper()
	journey := &models.Journey{Name: "Onboarding", Status: models.JourneyStatusActive}
	if err := db.Create(journey).Error; err != nil {
		t.Fatalf("failed to create journey: %v", err)
	}
	for i := range steps {
		steps[i].JourneyID = journey.ID
		if err := db.Create(&steps[i]).Error; err != nil {
			t.Fatalf("failed to create step: %v", err)
		}
	}
	journey.Steps = steps
	return journey
}

var userSeq atomic.Int64

func seedEnrollment(t *testing.T, db *gorm.DB, journeyID, userID uint, startedAt time.Time) *models.Enrollment {
	t.Helper()
	if userID == 0 {
		user := models.User{
			Email: fmt.Sprintf("user%d@intranet.local", userSeq.Add(1)),
			Name:  "Test User",
		}
		if err := db.Create(&user).Error; err != nil {
			t.Fatalf("failed to create user: %v", err)
		}
		userID = user.ID
	}
	enrollment := &models.Enrollment{
		JourneyID: journeyID,
		UserID:    userID,
		StartedAt: startedAt,
		Status:    models.EnrollmentStatusActive,
	}
	if err := db.Create(enrollment).Error; err != nil {
		t.Fatalf("failed to create enrollment: %v", err)
	}
	return enrollment
}

func newJourneyWorkerForTest(t *testing.T, db *gorm.DB, deliverer StepDeliverer, clock *fixedClock) *JourneyWorker {
	t.Helper()
	jw := NewJourneyWorker(db, utils.NoopMutex{}, deliverer, newTestLogger(), 30*time.Minute)
	if clock != nil {
		jw.now = clock.now
	}
	return jw
}
