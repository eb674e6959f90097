package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/telemind/core/internal/domain/entities"
	"github.com/telemind/core/internal/ports"
)

const taskColumns = `id, owner_id, kind, description, priority, created_at, updated_at, due_at, due_phrase, timezone,
	state, notification_attempts, attempts_base, last_attempt_at, delivered_at, last_error, failure_reported_at`

// TaskRepository is the Postgres implementation of ports.TaskRepository
type TaskRepository struct {
	db *sqlx.DB
}

// NewTaskRepository creates a new task repository
func NewTaskRepository(db *sqlx.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

func (r *TaskRepository) Create(ctx context.Context, task *entities.Task) error {
	query := `
		INSERT INTO tasks (id, owner_id, kind, description, priority, created_at, updated_at, due_at, due_phrase,
			timezone, state, notification_attempts, attempts_base, last_attempt_at, delivered_at, last_error, failure_reported_at)
		VALUES (:id, :owner_id, :kind, :description, :priority, :created_at, :updated_at, :due_at, :due_phrase,
			:timezone, :state, :notification_attempts, :attempts_base, :last_attempt_at, :delivered_at, :last_error, :failure_reported_at)`

	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	if task.Priority == "" {
		task.Priority = entities.PriorityMedium
	}

	if _, err := r.db.NamedExecContext(ctx, query, task); err != nil {
		return storeError("create task", err)
	}
	return nil
}

func (r *TaskRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`

	var task entities.Task
	if err := r.db.GetContext(ctx, &task, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, entities.ErrTaskNotFound
		}
		return nil, storeError("get task", err)
	}
	return &task, nil
}

// ListDueBefore returns pending dated tasks due at or before query.Before, oldest due first
func (r *TaskRepository) ListDueBefore(ctx context.Context, q ports.DueQuery) ([]*entities.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE state = 'pending' AND due_at IS NOT NULL AND due_at <= $1
			AND ($2 = '' OR owner_id = $2)
		ORDER BY due_at, id
		LIMIT NULLIF($3::int, 0)`

	var tasks []*entities.Task
	if err := r.db.SelectContext(ctx, &tasks, query, q.Before.UTC(), q.OwnerID, q.Limit); err != nil {
		return nil, storeError("list due tasks", err)
	}
	return tasks, nil
}

// Transition is a single conditional UPDATE; the WHERE clause on state is the compare step.
func (r *TaskRepository) Transition(ctx context.Context, id uuid.UUID, from, to entities.TaskState, f entities.TransitionFields) (*entities.Task, error) {
	if !entities.CanTransition(from, to) {
		return nil, entities.ErrInvalidTransition
	}

	query := `
		UPDATE tasks SET
			state = $3,
			kind = COALESCE($4::text, kind),
			description = COALESCE($5::text, description),
			due_at = COALESCE($6::timestamptz, CASE WHEN $7::boolean THEN NULL ELSE due_at END),
			due_phrase = COALESCE($8::text, due_phrase),
			timezone = COALESCE($9::text, timezone),
			notification_attempts = notification_attempts + $10::int,
			last_attempt_at = COALESCE($11::timestamptz, last_attempt_at),
			delivered_at = COALESCE($12::timestamptz, CASE WHEN $13::boolean THEN NULL ELSE delivered_at END),
			last_error = COALESCE($14::text, last_error),
			updated_at = $15,
			priority = COALESCE($16::text, priority),
			attempts_base = CASE WHEN $17::boolean THEN notification_attempts + $10::int ELSE attempts_base END
		WHERE id = $1 AND state = $2
		RETURNING ` + taskColumns

	increment := 0
	if f.IncrementAttempt {
		increment = 1
	}
	updatedAt := f.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	var task entities.Task
	err := r.db.GetContext(ctx, &task, query,
		id, from, to,
		f.Kind, f.Description, utcPtr(f.DueAt), f.ClearDueAt, f.DuePhrase, f.Timezone,
		increment, utcPtr(f.LastAttemptAt), utcPtr(f.DeliveredAt), f.ClearDeliveredAt, f.LastError,
		updatedAt.UTC(), f.Priority, f.RebaseAttempts,
	)
	if err == nil {
		return &task, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, storeError("transition task", err)
	}

	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM tasks WHERE id = $1)`, id); err != nil {
		return nil, storeError("check task", err)
	}
	if !exists {
		return nil, entities.ErrTaskNotFound
	}
	return nil, entities.ErrStateConflict
}

// ListByOwner returns the owner's tasks in creation order
func (r *TaskRepository) ListByOwner(ctx context.Context, ownerID string, filter ports.TaskFilter) ([]*entities.Task, error) {
	query, args := buildOwnerQuery(ownerID, filter)

	var tasks []*entities.Task
	if err := r.db.SelectContext(ctx, &tasks, query, args...); err != nil {
		return nil, storeError("list tasks", err)
	}
	return tasks, nil
}

// ListUnconfirmedClaims returns notified tasks whose delivery was never confirmed
func (r *TaskRepository) ListUnconfirmedClaims(ctx context.Context, q ports.ClaimQuery) ([]*entities.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE state = 'notified' AND delivered_at IS NULL AND last_attempt_at <= $1
			AND ($2 = '' OR owner_id = $2)
		ORDER BY last_attempt_at
		LIMIT NULLIF($3::int, 0)`

	var tasks []*entities.Task
	if err := r.db.SelectContext(ctx, &tasks, query, q.ClaimedBefore.UTC(), q.OwnerID, q.Limit); err != nil {
		return nil, storeError("list unconfirmed claims", err)
	}
	return tasks, nil
}

func (r *TaskRepository) ListUnreportedFailures(ctx context.Context, ownerID string) ([]*entities.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE owner_id = $1 AND state = 'failed' AND failure_reported_at IS NULL
		ORDER BY created_at, id`

	var tasks []*entities.Task
	if err := r.db.SelectContext(ctx, &tasks, query, ownerID); err != nil {
		return nil, storeError("list failed tasks", err)
	}
	return tasks, nil
}

func (r *TaskRepository) MarkFailuresReported(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	query := `
		UPDATE tasks SET failure_reported_at = $2
		WHERE id = ANY($1::uuid[]) AND failure_reported_at IS NULL`

	if _, err := r.db.ExecContext(ctx, query, pq.Array(uuidStrings(ids)), at.UTC()); err != nil {
		return storeError("mark failures reported", err)
	}
	return nil
}

func buildOwnerQuery(ownerID string, filter ports.TaskFilter) (string, []interface{}) {
	conditions := []string{"owner_id = $1"}
	args := []interface{}{ownerID}
	argIndex := 2

	if filter.Kind != nil {
		conditions = append(conditions, fmt.Sprintf("kind = $%d", argIndex))
		args = append(args, string(*filter.Kind))
		argIndex++
	}

	if filter.ActiveOnly {
		conditions = append(conditions, "state NOT IN ('cancelled', 'completed', 'failed')")
	}

	if len(filter.States) > 0 {
		states := make([]string, 0, len(filter.States))
		for _, s := range filter.States {
			states = append(states, string(s))
		}
		conditions = append(conditions, fmt.Sprintf("state = ANY($%d)", argIndex))
		args = append(args, pq.Array(states))
		argIndex++
	}

	query := fmt.Sprintf(`SELECT %s FROM tasks WHERE %s ORDER BY created_at, id`,
		taskColumns, strings.Join(conditions, " AND "))

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, filter.Limit)
	}
	return query, args
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}
