package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/telemind/core/internal/domain/entities"
	"github.com/telemind/core/internal/ports"
)

// TaskStore is an in-memory implementation of ports.TaskRepository.
// It is NOT persistent and is only suitable for tests and local mode.
type TaskStore struct {
	mu    sync.RWMutex
	tasks map[uuid.UUID]*entities.Task
	seq   map[uuid.UUID]uint64
	next  uint64
}

// NewTaskStore creates a new in-memory TaskStore.
func NewTaskStore() *TaskStore {
	return &TaskStore{
		tasks: make(map[uuid.UUID]*entities.Task),
		seq:   make(map[uuid.UUID]uint64),
	}
}

func (s *TaskStore) Create(ctx context.Context, task *entities.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	if task.Priority == "" {
		task.Priority = entities.PriorityMedium
	}
	if _, exists := s.seq[task.ID]; !exists {
		s.next++
		s.seq[task.ID] = s.next
	}
	s.tasks[task.ID] = clone(task)
	return nil
}

func (s *TaskStore) GetByID(ctx context.Context, id uuid.UUID) (*entities.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, entities.ErrTaskNotFound
	}
	return clone(t), nil
}

// ListDueBefore returns pending dated tasks due at or before query.Before, oldest due first.
func (s *TaskStore) ListDueBefore(ctx context.Context, query ports.DueQuery) ([]*entities.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*entities.Task
	for _, t := range s.tasks {
		if t.State != entities.TaskStatePending || t.DueAt == nil || t.DueAt.After(query.Before) {
			continue
		}
		if query.OwnerID != "" && t.OwnerID != query.OwnerID {
			continue
		}
		out = append(out, clone(t))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].DueAt.Before(*out[j].DueAt) })
	return limit(out, query.Limit), nil
}

// Transition moves a task from `from` to `to` only if its current state is `from`.
func (s *TaskStore) Transition(ctx context.Context, id uuid.UUID, from, to entities.TaskState, fields entities.TransitionFields) (*entities.Task, error) {
	if !entities.CanTransition(from, to) {
		return nil, entities.ErrInvalidTransition
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, entities.ErrTaskNotFound
	}
	if t.State != from {
		return nil, entities.ErrStateConflict
	}

	next := clone(t)
	fields.Apply(next, to)
	s.tasks[id] = next
	return clone(next), nil
}

// ListByOwner returns the owner's tasks in creation order.
func (s *TaskStore) ListByOwner(ctx context.Context, ownerID string, filter ports.TaskFilter) ([]*entities.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*entities.Task
	for _, t := range s.tasks {
		if t.OwnerID == ownerID && filter.Matches(t) {
			out = append(out, clone(t))
		}
	}

	s.sortByCreation(out)
	return limit(out, filter.Limit), nil
}

// ListUnconfirmedClaims returns notified tasks that were claimed but never marked delivered.
func (s *TaskStore) ListUnconfirmedClaims(ctx context.Context, q ports.ClaimQuery) ([]*entities.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*entities.Task
	for _, t := range s.tasks {
		if t.State != entities.TaskStateNotified || t.DeliveredAt != nil || t.LastAttemptAt == nil {
			continue
		}
		if t.LastAttemptAt.After(q.ClaimedBefore) || (q.OwnerID != "" && t.OwnerID != q.OwnerID) {
			continue
		}
		out = append(out, clone(t))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].LastAttemptAt.Before(*out[j].LastAttemptAt) })
	return limit(out, q.Limit), nil
}

func (s *TaskStore) ListUnreportedFailures(ctx context.Context, ownerID string) ([]*entities.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*entities.Task
	for _, t := range s.tasks {
		if t.OwnerID == ownerID && t.State == entities.TaskStateFailed && t.FailureReportedAt == nil {
			out = append(out, clone(t))
		}
	}

	s.sortByCreation(out)
	return out, nil
}

func (s *TaskStore) MarkFailuresReported(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		t, ok := s.tasks[id]
		if !ok || t.State != entities.TaskStateFailed {
			continue
		}
		reported := at.UTC()
		next := clone(t)
		next.FailureReportedAt = &reported
		s.tasks[id] = next
	}
	return nil
}

func clone(t *entities.Task) *entities.Task {
	c := *t
	c.DueAt = copyTime(t.DueAt)
	c.LastAttemptAt = copyTime(t.LastAttemptAt)
	c.DeliveredAt = copyTime(t.DeliveredAt)
	c.FailureReportedAt = copyTime(t.FailureReportedAt)
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// sortByCreation orders by creation time, then by insertion order. Callers hold s.mu.
func (s *TaskStore) sortByCreation(tasks []*entities.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return s.seq[tasks[i].ID] < s.seq[tasks[j].ID]
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
}

func limit[T any](items []T, n int) []T {
	if n > 0 && len(items) > n {
		return items[:n]
	}
	return items
}
