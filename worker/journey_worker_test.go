package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"intrahub/models"
)

func TestJourneyWorker_CompletesEnrollmentPastLastStep(t *testing.T) {
	db := newTestDB(t)
	clock := &fixedClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	journey := seedJourney(t, db, []models.JourneyStep{
		{SortOrder: 0, DelayDays: 0, Subject: "Welcome"},
	})
	enrollment := seedEnrollment(t, db, journey.ID, 0, clock.t.Add(-48*time.Hour))
	if err := db.Model(enrollment).Update("current_step_index", 1).Error; err != nil {
		t.Fatalf("failed to set step index: %v", err)
	}

	jw := newJourneyWorkerForTest(t, db, &fakeDeliverer{}, clock)
	if err := jw.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle() error: %v", err)
	}

	var got models.Enrollment
	if err := db.First(&got, enrollment.ID).Error; err != nil {
		t.Fatalf("failed to reload enrollment: %v", err)
	}
	if got.Status != models.EnrollmentStatusCompleted {
		t.Fatalf("expected status %q, got %q", models.EnrollmentStatusCompleted, got.Status)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(clock.t) {
		t.Fatalf("expected completedAt %v, got %v", clock.t, got.CompletedAt)
	}

	// A second cycle must not touch the completed enrollment.
	clock.advance(time.Hour)
	if err := jw.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle() error: %v", err)
	}
	var again models.Enrollment
	if err := db.First(&again, enrollment.ID).Error; err != nil {
		t.Fatalf("failed to reload enrollment: %v", err)
	}
	if !again.CompletedAt.Equal(*got.CompletedAt) {
		t.Fatalf("completedAt changed on second cycle: %v vs %v", again.CompletedAt, got.CompletedAt)
	}
}

func TestJourneyWorker_DeliversDueStepOnce(t *testing.T) {
	db := newTestDB(t)
	clock := &fixedClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	journey := seedJourney(t, db, []models.JourneyStep{
		{SortOrder: 0, DelayDays: 0, Subject: "Welcome", ChannelType: models.ChannelEmail},
		{SortOrder: 1, DelayDays: 3, Subject: "Day three"},
	})
	enrollment := seedEnrollment(t, db, journey.ID, 0, clock.t.Add(-time.Minute))

	deliverer := &fakeDeliverer{}
	jw := newJourneyWorkerForTest(t, db, deliverer, clock)
	if err := jw.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle() error: %v", err)
	}

	if n := deliverer.deliveryCount(enrollment.ID); n != 1 {
		t.Fatalf("expected 1 delivery, got %d", n)
	}

	var completions []models.StepCompletion
	if err := db.Where("enrollment_id = ?", enrollment.ID).Find(&completions).Error; err != nil {
		t.Fatalf("failed to load completions: %v", err)
	}
	if len(completions) != 1 {
		t.Fatalf("expected 1 completion record, got %d", len(completions))
	}
	if completions[0].StepIndex != 0 {
		t.Fatalf("expected step index 0, got %d", completions[0].StepIndex)
	}
	if completions[0].CompletedAt != nil {
		t.Fatalf("delivery must not complete the step, got completedAt=%v", completions[0].CompletedAt)
	}

	var got models.Enrollment
	if err := db.First(&got, enrollment.ID).Error; err != nil {
		t.Fatalf("failed to reload enrollment: %v", err)
	}
	if got.CurrentStepIndex != 0 {
		t.Fatalf("delivery must not advance the index, got %d", got.CurrentStepIndex)
	}
	if got.LastStepDeliveredAt == nil || !got.LastStepDeliveredAt.Equal(clock.t) {
		t.Fatalf("expected lastStepDeliveredAt %v, got %v", clock.t, got.LastStepDeliveredAt)
	}

	// Re-running the cycle must not deliver again: the completion record
	// already exists for the current index.
	clock.advance(time.Hour)
	if err := jw.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle() error: %v", err)
	}
	if n := deliverer.deliveryCount(enrollment.ID); n != 1 {
		t.Fatalf("expected delivery to stay idempotent, got %d deliveries", n)
	}
	var count int64
	db.Model(&models.StepCompletion{}).Where("enrollment_id = ?", enrollment.ID).Count(&count)
	if count != 1 {
		t.Fatalf("expected exactly 1 completion record, got %d", count)
	}
}

func TestJourneyWorker_NoEarlyDelivery(t *testing.T) {
	db := newTestDB(t)
	clock := &fixedClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	journey := seedJourney(t, db, []models.JourneyStep{
		{SortOrder: 0, DelayDays: 2, Subject: "Later"},
	})
	enrollment := seedEnrollment(t, db, journey.ID, 0, clock.t.Add(-24*time.Hour))

	deliverer := &fakeDeliverer{}
	jw := newJourneyWorkerForTest(t, db, deliverer, clock)
	if err := jw.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle() error: %v", err)
	}

	if n := deliverer.deliveryCount(enrollment.ID); n != 0 {
		t.Fatalf("expected no delivery before the delay elapses, got %d", n)
	}

	// Once the delay has elapsed the step goes out.
	clock.advance(25 * time.Hour)
	if err := jw.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle() error: %v", err)
	}
	if n := deliverer.deliveryCount(enrollment.ID); n != 1 {
		t.Fatalf("expected delivery after the delay, got %d", n)
	}
}

func TestJourneyWorker_AutoCompletesOptionalStep(t *testing.T) {
	db := newTestDB(t)
	clock := &fixedClock{t: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	journey := seedJourney(t, db, []models.JourneyStep{
		{SortOrder: 0, DelayDays: 0, Subject: "Optional", IsRequired: false},
		{SortOrder: 1, DelayDays: 1, Subject: "Next"},
	})
	enrollment := seedEnrollment(t, db, journey.ID, 0, clock.t.Add(-10*24*time.Hour))

	deliveredAt := clock.t.Add(-8 * 24 * time.Hour)
	completion := models.StepCompletion{
		EnrollmentID:    enrollment.ID,
		StepIndex:       0,
		StepID:          journey.Steps[0].ID,
		DeliveredAt:     deliveredAt,
		DeliveryChannel: models.ChannelEmail,
	}
	if err := db.Create(&completion).Error; err != nil {
		t.Fatalf("failed to seed completion: %v", err)
	}
	if err := db.Model(enrollment).Update("last_step_delivered_at", deliveredAt).Error; err != nil {
		t.Fatalf("failed to set delivery time: %v", err)
	}

	jw := newJourneyWorkerForTest(t, db, &fakeDeliverer{}, clock)
	if err := jw.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle() error: %v", err)
	}

	var got models.StepCompletion
	if err := db.First(&got, completion.ID).Error; err != nil {
		t.Fatalf("failed to reload completion: %v", err)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(clock.t) {
		t.Fatalf("expected auto-completion at %v, got %v", clock.t, got.CompletedAt)
	}

	var e models.Enrollment
	if err := db.First(&e, enrollment.ID).Error; err != nil {
		t.Fatalf("failed to reload enrollment: %v", err)
	}
	if e.CurrentStepIndex != 1 {
		t.Fatalf("expected index advanced to 1, got %d", e.CurrentStepIndex)
	}
}

func TestJourneyWorker_OptionalStepWaitsOutGraceWindow(t *testing.T) {
	db := newTestDB(t)
	clock := &fixedClock{t: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	journey := seedJourney(t, db, []models.JourneyStep{
		{SortOrder: 0, DelayDays: 0, Subject: "Optional", IsRequired: false},
	})
	enrollment := seedEnrollment(t, db, journey.ID, 0, clock.t.Add(-5*24*time.Hour))

	completion := models.StepCompletion{
		EnrollmentID: enrollment.ID,
		StepIndex:    0,
		StepID:       journey.Steps[0].ID,
		DeliveredAt:  clock.t.Add(-3 * 24 * time.Hour),
	}
	if err := db.Create(&completion).Error; err != nil {
		t.Fatalf("failed to seed completion: %v", err)
	}

	jw := newJourneyWorkerForTest(t, db, &fakeDeliverer{}, clock)
	if err := jw.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle() error: %v", err)
	}

	var got models.StepCompletion
	if err := db.First(&got, completion.ID).Error; err != nil {
		t.Fatalf("failed to reload completion: %v", err)
	}
	if got.CompletedAt != nil {
		t.Fatalf("step auto-completed before 7 days elapsed: %v", got.CompletedAt)
	}
}

func TestJourneyWorker_RequiredStepNeverAutoCompletes(t *testing.T) {
	db := newTestDB(t)
	clock := &fixedClock{t: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	journey := seedJourney(t, db, []models.JourneyStep{
		{SortOrder: 0, DelayDays: 0, Subject: "Mandatory training", IsRequired: true},
	})
	enrollment := seedEnrollment(t, db, journey.ID, 0, clock.t.Add(-60*24*time.Hour))

	completion := models.StepCompletion{
		EnrollmentID: enrollment.ID,
		StepIndex:    0,
		StepID:       journey.Steps[0].ID,
		DeliveredAt:  clock.t.Add(-30 * 24 * time.Hour),
	}
	if err := db.Create(&completion).Error; err != nil {
		t.Fatalf("failed to seed completion: %v", err)
	}

	jw := newJourneyWorkerForTest(t, db, &fakeDeliverer{}, clock)
	if err := jw.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle() error: %v", err)
	}

	var got models.StepCompletion
	if err := db.First(&got, completion.ID).Error; err != nil {
		t.Fatalf("failed to reload completion: %v", err)
	}
	if got.CompletedAt != nil {
		t.Fatalf("required step must stall, got completedAt=%v", got.CompletedAt)
	}
	var e models.Enrollment
	if err := db.First(&e, enrollment.ID).Error; err != nil {
		t.Fatalf("failed to reload enrollment: %v", err)
	}
	if e.CurrentStepIndex != 0 {
		t.Fatalf("required step must not advance the index, got %d", e.CurrentStepIndex)
	}
}

func TestJourneyWorker_IsolatesEnrollmentFailures(t *testing.T) {
	db := newTestDB(t)
	clock := &fixedClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	journey := seedJourney(t, db, []models.JourneyStep{
		{SortOrder: 0, DelayDays: 0, Subject: "Welcome"},
	})
	broken := seedEnrollment(t, db, journey.ID, 0, clock.t.Add(-time.Hour))
	healthy := seedEnrollment(t, db, journey.ID, 0, clock.t.Add(-time.Hour))

	deliverer := &fakeDeliverer{failFor: map[uint]error{broken.ID: errors.New("mailbox unavailable")}}
	jw := newJourneyWorkerForTest(t, db, deliverer, clock)
	if err := jw.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle() error: %v", err)
	}

	if n := deliverer.deliveryCount(healthy.ID); n != 1 {
		t.Fatalf("healthy enrollment should be delivered despite sibling failure, got %d", n)
	}

	// The broken enrollment's state is untouched, so the next cycle
	// retries it naturally.
	var count int64
	db.Model(&models.StepCompletion{}).Where("enrollment_id = ?", broken.ID).Count(&count)
	if count != 0 {
		t.Fatalf("failed delivery must not create a completion record, got %d", count)
	}
}

func TestJourneyWorker_SkipsInactiveJourneysAndEnrollments(t *testing.T) {
	db := newTestDB(t)
	clock := &fixedClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}

	paused := seedJourney(t, db, []models.JourneyStep{{SortOrder: 0, Subject: "A"}})
	if err := db.Model(paused).Update("status", models.JourneyStatusPaused).Error; err != nil {
		t.Fatalf("failed to pause journey: %v", err)
	}
	pausedEnrollment := seedEnrollment(t, db, paused.ID, 0, clock.t.Add(-time.Hour))

	active := seedJourney(t, db, []models.JourneyStep{{SortOrder: 0, Subject: "B"}})
	inactive := seedEnrollment(t, db, active.ID, 0, clock.t.Add(-time.Hour))
	if err := db.Model(inactive).Update("status", models.EnrollmentStatusPaused).Error; err != nil {
		t.Fatalf("failed to pause enrollment: %v", err)
	}

	deliverer := &fakeDeliverer{}
	jw := newJourneyWorkerForTest(t, db, deliverer, clock)
	if err := jw.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle() error: %v", err)
	}

	if len(deliverer.delivered) != 0 {
		t.Fatalf("expected no deliveries, got %v", deliverer.delivered)
	}
	_ = pausedEnrollment
}

// End-to-end: a zero-delay optional step is delivered on the first cycle
// and auto-completed seven days later, advancing the enrollment.
func TestJourneyWorker_OptionalStepLifecycle(t *testing.T) {
	db := newTestDB(t)
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := &fixedClock{t: start.Add(time.Minute)}
	journey := seedJourney(t, db, []models.JourneyStep{
		{SortOrder: 0, DelayDays: 0, Subject: "Optional welcome", IsRequired: false},
	})
	enrollment := seedEnrollment(t, db, journey.ID, 0, start)

	deliverer := &fakeDeliverer{}
	jw := newJourneyWorkerForTest(t, db, deliverer, clock)

	// First cycle delivers step 0.
	if err := jw.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle() error: %v", err)
	}
	if n := deliverer.deliveryCount(enrollment.ID); n != 1 {
		t.Fatalf("expected delivery on first cycle, got %d", n)
	}

	// Seven days later the unanswered optional step auto-completes.
	clock.advance(7 * 24 * time.Hour)
	if err := jw.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle() error: %v", err)
	}
	var e models.Enrollment
	if err := db.First(&e, enrollment.ID).Error; err != nil {
		t.Fatalf("failed to reload enrollment: %v", err)
	}
	if e.CurrentStepIndex != 1 {
		t.Fatalf("expected index 1 after auto-completion, got %d", e.CurrentStepIndex)
	}

	// With no steps left, the following cycle completes the enrollment.
	if err := jw.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle() error: %v", err)
	}
	if err := db.First(&e, enrollment.ID).Error; err != nil {
		t.Fatalf("failed to reload enrollment: %v", err)
	}
	if e.Status != models.EnrollmentStatusCompleted {
		t.Fatalf("expected enrollment completed, got %q", e.Status)
	}
}
