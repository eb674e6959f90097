package services

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/telemind/core/internal/adapters/repository/memory"
	"github.com/telemind/core/internal/domain/entities"
	"github.com/telemind/core/internal/infrastructure/config"
	"github.com/telemind/core/internal/infrastructure/logger"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type delivery struct {
	ownerID string
	message string
}

type recordingNotifier struct {
	mu        sync.Mutex
	delivered []delivery
	calls     int
	fail      func(call int) error
}

func (n *recordingNotifier) Deliver(ctx context.Context, ownerID, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.calls++
	if n.fail != nil {
		if err := n.fail(n.calls); err != nil {
			return err
		}
	}
	n.delivered = append(n.delivered, delivery{ownerID: ownerID, message: message})
	return nil
}

func (n *recordingNotifier) Delivered() []delivery {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]delivery(nil), n.delivered...)
}

func (n *recordingNotifier) Calls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls
}

func testScannerConfig() config.ScannerConfig {
	return config.ScannerConfig{
		MaxAttempts:  3,
		BackoffBase:  time.Minute,
		BackoffMax:   10 * time.Minute,
		ClaimTimeout: 2 * time.Minute,
		OverdueGrace: 10 * time.Minute,
		BatchSize:    100,
	}
}

func seedTask(t *testing.T, store *memory.TaskStore, owner, description string, due time.Time) *entities.Task {
	t.Helper()
	due = due.UTC()
	task := &entities.Task{
		ID:          uuid.New(),
		OwnerID:     owner,
		Kind:        entities.TaskKindTask,
		Description: description,
		CreatedAt:   due.Add(-time.Hour),
		UpdatedAt:   due.Add(-time.Hour),
		DueAt:       &due,
		Timezone:    "UTC",
		State:       entities.TaskStatePending,
	}
	if err := store.Create(context.Background(), task); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return task
}

func newTestScanner(store *memory.TaskStore, notifier *recordingNotifier, clock *fakeClock) *Scanner {
	return NewScanner(store, notifier, testScannerConfig(), nil, logger.NewNop()).WithClock(clock.Now)
}

func TestScanner_DeliversDueTaskOnce(t *testing.T) {
	ctx := context.Background()
	store := memory.NewTaskStore()
	notifier := &recordingNotifier{}
	clock := &fakeClock{now: mustTime(t, "2024-06-02T15:01:00Z")}
	scanner := newTestScanner(store, notifier, clock)

	task := seedTask(t, store, "owner-1", "call John", mustTime(t, "2024-06-02T15:00:00Z"))
	seedTask(t, store, "owner-1", "later", mustTime(t, "2024-06-02T18:00:00Z"))

	report, err := scanner.ScanOwner(ctx, "owner-1")
	if err != nil {
		t.Fatalf("ScanOwner failed: %v", err)
	}
	if report.Candidates != 1 || report.Delivered != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}

	sent := notifier.Delivered()
	if len(sent) != 1 || !strings.Contains(sent[0].message, "call John") {
		t.Fatalf("expected one reminder about John, got %+v", sent)
	}

	got, _ := store.GetByID(ctx, task.ID)
	if got.State != entities.TaskStateNotified || got.DeliveredAt == nil || got.NotificationAttempts != 1 {
		t.Fatalf("unexpected task after delivery: %+v", got)
	}

	if _, err := scanner.ScanOwner(ctx, "owner-1"); err != nil {
		t.Fatalf("second ScanOwner failed: %v", err)
	}
	if len(notifier.Delivered()) != 1 {
		t.Fatalf("rescan must not notify again")
	}
}

func TestScanner_ConcurrentScansNotifyExactlyOnce(t *testing.T) {
	ctx := context.Background()
	store := memory.NewTaskStore()
	notifier := &recordingNotifier{}
	clock := &fakeClock{now: mustTime(t, "2024-06-02T15:01:00Z")}

	seedTask(t, store, "owner-1", "call John", mustTime(t, "2024-06-02T15:00:00Z"))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			scanner := newTestScanner(store, notifier, clock)
			if i%2 == 0 {
				_, _ = scanner.ScanAll(ctx)
			} else {
				_, _ = scanner.ScanOwner(ctx, "owner-1")
			}
		}(i)
	}
	wg.Wait()

	if n := len(notifier.Delivered()); n != 1 {
		t.Fatalf("expected exactly one notification, got %d", n)
	}
}

func TestScanner_CancelBeforeClaimSuppressesNotification(t *testing.T) {
	ctx := context.Background()
	store := memory.NewTaskStore()
	notifier := &recordingNotifier{}
	clock := &fakeClock{now: mustTime(t, "2024-06-02T15:01:00Z")}
	scanner := newTestScanner(store, notifier, clock)

	task := seedTask(t, store, "owner-1", "call John", mustTime(t, "2024-06-02T15:00:00Z"))
	if _, err := store.Transition(ctx, task.ID, entities.TaskStatePending, entities.TaskStateCancelled, entities.TransitionFields{}); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	if _, err := scanner.ScanAll(ctx); err != nil {
		t.Fatalf("ScanAll failed: %v", err)
	}
	if notifier.Calls() != 0 {
		t.Fatalf("cancelled task must not be notified")
	}
}

func TestScanner_CancelAfterNotifyStopsFurtherNotifications(t *testing.T) {
	ctx := context.Background()
	store := memory.NewTaskStore()
	notifier := &recordingNotifier{}
	clock := &fakeClock{now: mustTime(t, "2024-06-02T15:01:00Z")}
	scanner := newTestScanner(store, notifier, clock)

	task := seedTask(t, store, "owner-1", "call John", mustTime(t, "2024-06-02T15:00:00Z"))
	_, _ = scanner.ScanAll(ctx)

	if _, err := store.Transition(ctx, task.ID, entities.TaskStateNotified, entities.TaskStateCancelled, entities.TransitionFields{}); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	clock.Advance(time.Hour)
	_, _ = scanner.ScanAll(ctx)

	if notifier.Calls() != 1 {
		t.Fatalf("expected only the original notification, got %d calls", notifier.Calls())
	}
}

func TestScanner_TransientFailureRetriesWithBackoff(t *testing.T) {
	ctx := context.Background()
	store := memory.NewTaskStore()
	notifier := &recordingNotifier{fail: func(call int) error {
		if call == 1 {
			return entities.NewTransientError("rate limited", nil)
		}
		return nil
	}}
	clock := &fakeClock{now: mustTime(t, "2024-06-02T15:01:00Z")}
	scanner := newTestScanner(store, notifier, clock)

	task := seedTask(t, store, "owner-1", "call John", mustTime(t, "2024-06-02T15:00:00Z"))

	report, err := scanner.ScanAll(ctx)
	if err != nil || report.Retrying != 1 {
		t.Fatalf("expected a retry, got %+v (err %v)", report, err)
	}
	got, _ := store.GetByID(ctx, task.ID)
	if got.State != entities.TaskStatePending || got.NotificationAttempts != 1 || got.LastError == "" {
		t.Fatalf("expected task re-armed with error recorded, got %+v", got)
	}

	clock.Advance(30 * time.Second)
	report, _ = scanner.ScanAll(ctx)
	if report.Skipped != 1 || notifier.Calls() != 1 {
		t.Fatalf("expected backoff to hold the retry, got %+v", report)
	}

	clock.Advance(time.Minute)
	report, _ = scanner.ScanAll(ctx)
	if report.Delivered != 1 {
		t.Fatalf("expected delivery after backoff, got %+v", report)
	}
	got, _ = store.GetByID(ctx, task.ID)
	if got.State != entities.TaskStateNotified || got.NotificationAttempts != 2 || got.LastError != "" {
		t.Fatalf("unexpected task after retry: %+v", got)
	}
}

func TestScanner_AttemptCeilingEndsInFailed(t *testing.T) {
	ctx := context.Background()
	store := memory.NewTaskStore()
	notifier := &recordingNotifier{fail: func(int) error {
		return entities.NewTransientError("timeout", nil)
	}}
	clock := &fakeClock{now: mustTime(t, "2024-06-02T15:01:00Z")}
	scanner := newTestScanner(store, notifier, clock)

	task := seedTask(t, store, "owner-1", "call John", mustTime(t, "2024-06-02T15:00:00Z"))

	for i := 0; i < 10; i++ {
		if _, err := scanner.ScanAll(ctx); err != nil {
			t.Fatalf("ScanAll failed: %v", err)
		}
		clock.Advance(15 * time.Minute)
	}

	if notifier.Calls() != 3 {
		t.Fatalf("expected exactly 3 delivery attempts, got %d", notifier.Calls())
	}
	got, _ := store.GetByID(ctx, task.ID)
	if got.State != entities.TaskStateFailed {
		t.Fatalf("expected failed state, got %s", got.State)
	}
}

func TestScanner_PermanentFailureIsNotRetried(t *testing.T) {
	ctx := context.Background()
	store := memory.NewTaskStore()
	notifier := &recordingNotifier{fail: func(int) error {
		return entities.NewPermanentError("bot was blocked by the user", nil)
	}}
	clock := &fakeClock{now: mustTime(t, "2024-06-02T15:01:00Z")}
	scanner := newTestScanner(store, notifier, clock)

	task := seedTask(t, store, "owner-1", "call John", mustTime(t, "2024-06-02T15:00:00Z"))

	report, _ := scanner.ScanAll(ctx)
	if report.Failed != 1 {
		t.Fatalf("expected failure, got %+v", report)
	}
	clock.Advance(time.Hour)
	_, _ = scanner.ScanAll(ctx)

	if notifier.Calls() != 1 {
		t.Fatalf("permanent failure must not be retried, got %d calls", notifier.Calls())
	}
	got, _ := store.GetByID(ctx, task.ID)
	if got.State != entities.TaskStateFailed || !strings.Contains(got.LastError, "blocked") {
		t.Fatalf("unexpected task: %+v", got)
	}
}

func TestScanner_OverdueWording(t *testing.T) {
	ctx := context.Background()
	store := memory.NewTaskStore()
	notifier := &recordingNotifier{}
	clock := &fakeClock{now: mustTime(t, "2024-06-05T08:00:00Z")}
	scanner := newTestScanner(store, notifier, clock)

	seedTask(t, store, "owner-1", "renew passport", mustTime(t, "2024-06-02T15:00:00Z"))
	_, _ = scanner.ScanAll(ctx)

	sent := notifier.Delivered()
	if len(sent) != 1 || !strings.HasPrefix(sent[0].message, "Overdue reminder: renew passport") {
		t.Fatalf("expected overdue wording, got %+v", sent)
	}
}

func TestScanner_RecoversStaleClaims(t *testing.T) {
	ctx := context.Background()
	store := memory.NewTaskStore()
	notifier := &recordingNotifier{}
	clock := &fakeClock{now: mustTime(t, "2024-06-02T15:01:00Z")}
	scanner := newTestScanner(store, notifier, clock)

	task := seedTask(t, store, "owner-1", "call John", mustTime(t, "2024-06-02T15:00:00Z"))
	claimedAt := clock.Now()
	if _, err := store.Transition(ctx, task.ID, entities.TaskStatePending, entities.TaskStateNotified,
		entities.TransitionFields{IncrementAttempt: true, LastAttemptAt: &claimedAt}); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	report, _ := scanner.ScanAll(ctx)
	if report.Recovered != 0 || notifier.Calls() != 0 {
		t.Fatalf("fresh claim must be left alone, got %+v", report)
	}

	clock.Advance(5 * time.Minute)
	report, _ = scanner.ScanAll(ctx)
	if report.Recovered != 1 || report.Delivered != 1 {
		t.Fatalf("expected stale claim recovered and delivered, got %+v", report)
	}
}

func TestScanner_RescheduleStartsFreshAttemptBudget(t *testing.T) {
	ctx := context.Background()
	store := memory.NewTaskStore()
	notifier := &recordingNotifier{fail: func(call int) error {
		if call == 4 {
			return entities.NewTransientError("gateway timeout", nil)
		}
		return nil
	}}
	clock := &fakeClock{now: mustTime(t, "2024-06-02T15:01:00Z")}
	scanner := newTestScanner(store, notifier, clock)
	tasks := NewTaskService(store, logger.NewNop()).WithClock(clock.Now)

	task := seedTask(t, store, "owner-1", "stretch", mustTime(t, "2024-06-02T15:00:00Z"))

	for i := 0; i < 3; i++ {
		report, err := scanner.ScanAll(ctx)
		if err != nil || report.Delivered != 1 {
			t.Fatalf("round %d: expected a delivery, got %+v (err %v)", i, report, err)
		}
		next := &entities.DueSpec{DueAt: clock.Now().Add(time.Hour), Timezone: "UTC", Phrase: "in an hour"}
		if _, err := tasks.EditTask(ctx, "owner-1", "1", entities.TaskKindTask, entities.TaskChanges{Due: next}); err != nil {
			t.Fatalf("round %d: reschedule failed: %v", i, err)
		}
		clock.Advance(time.Hour + time.Minute)
	}

	report, err := scanner.ScanAll(ctx)
	if err != nil || report.Retrying != 1 || report.Failed != 0 {
		t.Fatalf("a first transient failure must be retried, got %+v (err %v)", report, err)
	}
	got, _ := store.GetByID(ctx, task.ID)
	if got.State != entities.TaskStatePending || got.NotificationAttempts != 4 || got.DueAttempts() != 1 {
		t.Fatalf("unexpected task after transient failure: %+v", got)
	}

	clock.Advance(2 * time.Minute)
	report, _ = scanner.ScanAll(ctx)
	if report.Delivered != 1 {
		t.Fatalf("expected delivery after backoff, got %+v", report)
	}
}

func TestScanner_OwnerScanRecoversOwnStaleClaims(t *testing.T) {
	ctx := context.Background()
	store := memory.NewTaskStore()
	notifier := &recordingNotifier{}
	clock := &fakeClock{now: mustTime(t, "2024-06-02T15:30:00Z")}
	cfg := testScannerConfig()
	cfg.BatchSize = 2
	scanner := NewScanner(store, notifier, cfg, nil, logger.NewNop()).WithClock(clock.Now)

	claim := func(task *entities.Task, at time.Time) {
		t.Helper()
		if _, err := store.Transition(ctx, task.ID, entities.TaskStatePending, entities.TaskStateNotified,
			entities.TransitionFields{IncrementAttempt: true, LastAttemptAt: &at}); err != nil {
			t.Fatalf("claim failed: %v", err)
		}
	}

	for i := 0; i < 3; i++ {
		other := seedTask(t, store, "owner-2", "someone else's", mustTime(t, "2024-06-02T15:00:00Z"))
		claim(other, clock.Now().Add(-20*time.Minute))
	}
	mine := seedTask(t, store, "owner-1", "call John", mustTime(t, "2024-06-02T15:00:00Z"))
	claim(mine, clock.Now().Add(-10*time.Minute))

	report, err := scanner.ScanOwner(ctx, "owner-1")
	if err != nil {
		t.Fatalf("ScanOwner failed: %v", err)
	}
	if report.Recovered != 1 || report.Delivered != 1 {
		t.Fatalf("expected the owner's stale claim recovered and delivered, got %+v", report)
	}
	for _, d := range notifier.Delivered() {
		if d.ownerID != "owner-1" {
			t.Errorf("owner scan delivered to %s", d.ownerID)
		}
	}
}

func TestScanner_Backoff(t *testing.T) {
	s := &Scanner{cfg: testScannerConfig()}
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 0},
		{1, time.Minute},
		{2, 2 * time.Minute},
		{3, 4 * time.Minute},
		{4, 8 * time.Minute},
		{5, 10 * time.Minute},
		{60, 10 * time.Minute},
	}
	for _, tt := range tests {
		if got := s.backoff(tt.attempts); got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}
