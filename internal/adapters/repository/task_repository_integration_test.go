package repository

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/telemind/core/internal/domain/entities"
	"github.com/telemind/core/internal/infrastructure/database"
	"github.com/telemind/core/internal/ports"
)

// testDatabaseEnv names a Postgres DSN used by the integration tests below.
// They are skipped when it is unset.
const testDatabaseEnv = "TELEMIND_TEST_DATABASE_URL"

func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	dsn := os.Getenv(testDatabaseEnv)
	if dsn == "" {
		t.Skipf("%s not set", testDatabaseEnv)
	}

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	path, err := filepath.Abs(filepath.Join("..", "..", "..", "migrations"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := (&database.DB{DB: db}).Migrate(path, "up"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func createDueTask(t *testing.T, repo *TaskRepository, ownerID string, due time.Time) *entities.Task {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	task := &entities.Task{
		OwnerID:     ownerID,
		Kind:        entities.TaskKindTask,
		Description: "call mom",
		CreatedAt:   now,
		UpdatedAt:   now,
		DueAt:       &due,
		Timezone:    "UTC",
		State:       entities.TaskStatePending,
	}
	if err := repo.Create(context.Background(), task); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return task
}

func TestTaskRepository_TransitionCompareAndSet(t *testing.T) {
	db := openTestDB(t)
	repo := NewTaskRepository(db)
	ctx := context.Background()
	owner := "it-" + uuid.NewString()
	due := time.Now().UTC().Add(-time.Minute).Truncate(time.Microsecond)

	task := createDueTask(t, repo, owner, due)
	if task.Priority != entities.PriorityMedium {
		t.Errorf("priority defaulted to %q, want medium", task.Priority)
	}

	claimedAt := time.Now().UTC().Truncate(time.Microsecond)
	claimed, err := repo.Transition(ctx, task.ID, entities.TaskStatePending, entities.TaskStateNotified,
		entities.TransitionFields{IncrementAttempt: true, LastAttemptAt: &claimedAt, UpdatedAt: claimedAt})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.State != entities.TaskStateNotified || claimed.NotificationAttempts != 1 {
		t.Errorf("claimed task = %s/%d, want notified/1", claimed.State, claimed.NotificationAttempts)
	}

	// A second claimer loses the race on the state predicate.
	_, err = repo.Transition(ctx, task.ID, entities.TaskStatePending, entities.TaskStateNotified,
		entities.TransitionFields{IncrementAttempt: true, UpdatedAt: claimedAt})
	if !errors.Is(err, entities.ErrStateConflict) {
		t.Fatalf("second claim error = %v, want ErrStateConflict", err)
	}

	_, err = repo.Transition(ctx, uuid.New(), entities.TaskStatePending, entities.TaskStateNotified,
		entities.TransitionFields{UpdatedAt: claimedAt})
	if !errors.Is(err, entities.ErrTaskNotFound) {
		t.Fatalf("missing task error = %v, want ErrTaskNotFound", err)
	}

	_, err = repo.Transition(ctx, task.ID, entities.TaskStateFailed, entities.TaskStatePending,
		entities.TransitionFields{UpdatedAt: claimedAt})
	if !errors.Is(err, entities.ErrInvalidTransition) {
		t.Fatalf("transition out of failed error = %v, want ErrInvalidTransition", err)
	}

	stored, err := repo.GetByID(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if stored.NotificationAttempts != 1 {
		t.Errorf("losing claim changed attempts to %d", stored.NotificationAttempts)
	}
}

func TestTaskRepository_TransitionRebasesAttempts(t *testing.T) {
	db := openTestDB(t)
	repo := NewTaskRepository(db)
	ctx := context.Background()
	owner := "it-" + uuid.NewString()
	now := time.Now().UTC().Truncate(time.Microsecond)

	task := createDueTask(t, repo, owner, now.Add(-time.Minute))
	for i := 0; i < 2; i++ {
		if _, err := repo.Transition(ctx, task.ID, entities.TaskStatePending, entities.TaskStateNotified,
			entities.TransitionFields{IncrementAttempt: true, LastAttemptAt: &now, UpdatedAt: now}); err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
		if _, err := repo.Transition(ctx, task.ID, entities.TaskStateNotified, entities.TaskStatePending,
			entities.TransitionFields{UpdatedAt: now}); err != nil {
			t.Fatalf("release %d: %v", i, err)
		}
	}

	later := now.Add(24 * time.Hour)
	high := entities.PriorityHigh
	edited, err := repo.Transition(ctx, task.ID, entities.TaskStatePending, entities.TaskStatePending,
		entities.TransitionFields{DueAt: &later, Priority: &high, RebaseAttempts: true, UpdatedAt: now})
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if edited.NotificationAttempts != 2 || edited.AttemptsBase != 2 || edited.DueAttempts() != 0 {
		t.Errorf("attempts=%d base=%d due=%d, want 2/2/0",
			edited.NotificationAttempts, edited.AttemptsBase, edited.DueAttempts())
	}
	if edited.Priority != entities.PriorityHigh {
		t.Errorf("priority = %q, want high", edited.Priority)
	}
	if edited.DueAt == nil || !edited.DueAt.Equal(later) {
		t.Errorf("due = %v, want %v", edited.DueAt, later)
	}
}

func TestTaskRepository_ListUnconfirmedClaimsByOwner(t *testing.T) {
	db := openTestDB(t)
	repo := NewTaskRepository(db)
	ctx := context.Background()
	mine := "it-" + uuid.NewString()
	theirs := "it-" + uuid.NewString()
	now := time.Now().UTC().Truncate(time.Microsecond)

	claim := func(owner string, at time.Time) uuid.UUID {
		task := createDueTask(t, repo, owner, at)
		if _, err := repo.Transition(ctx, task.ID, entities.TaskStatePending, entities.TaskStateNotified,
			entities.TransitionFields{IncrementAttempt: true, LastAttemptAt: &at, UpdatedAt: at}); err != nil {
			t.Fatalf("claim: %v", err)
		}
		return task.ID
	}

	for i := 0; i < 3; i++ {
		claim(theirs, now.Add(-time.Hour))
	}
	want := claim(mine, now.Add(-30*time.Minute))

	got, err := repo.ListUnconfirmedClaims(ctx, ports.ClaimQuery{
		ClaimedBefore: now.Add(-10 * time.Minute),
		OwnerID:       mine,
		Limit:         2,
	})
	if err != nil {
		t.Fatalf("ListUnconfirmedClaims() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != want {
		t.Fatalf("expected only the owner's stale claim, got %d tasks", len(got))
	}
}
