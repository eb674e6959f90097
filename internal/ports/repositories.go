package ports

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/telemind/core/internal/domain/entities"
)

// TaskRepository defines the durable task store.
// Transition is a compare-and-swap on the task state and is the only
// synchronization point between the scanner and user edits.
type TaskRepository interface {
	Create(ctx context.Context, task *entities.Task) error
	GetByID(ctx context.Context, id uuid.UUID) (*entities.Task, error)
	ListDueBefore(ctx context.Context, query DueQuery) ([]*entities.Task, error)
	Transition(ctx context.Context, id uuid.UUID, from, to entities.TaskState, fields entities.TransitionFields) (*entities.Task, error)
	ListByOwner(ctx context.Context, ownerID string, filter TaskFilter) ([]*entities.Task, error)
	ListUnconfirmedClaims(ctx context.Context, query ClaimQuery) ([]*entities.Task, error)
	ListUnreportedFailures(ctx context.Context, ownerID string) ([]*entities.Task, error)
	MarkFailuresReported(ctx context.Context, ids []uuid.UUID, at time.Time) error
}

// ConversationRepository persists the bounded conversation window
type ConversationRepository interface {
	AppendTurn(ctx context.Context, turn *entities.Turn) error
	ListTurns(ctx context.Context, ownerID string) ([]*entities.Turn, error)
	// Compact atomically removes the given turns and stores summary in their place.
	Compact(ctx context.Context, ownerID string, summary *entities.Turn, removed []uuid.UUID) error
}

// ProfileRepository stores per-owner preferences
type ProfileRepository interface {
	GetTimezone(ctx context.Context, ownerID string) (string, error)
	SetTimezone(ctx context.Context, ownerID, timezone string) error
}

// EventDeduplicator tracks transport event ids so redeliveries are ignored.
// Claim returns false when the id was already claimed inside the window.
type EventDeduplicator interface {
	Claim(ctx context.Context, eventID string, window time.Duration) (bool, error)
	Release(ctx context.Context, eventID string) error
}

// DueQuery selects pending tasks whose due instant has passed
type DueQuery struct {
	Before  time.Time
	OwnerID string
	Limit   int
}

// ClaimQuery selects notified tasks claimed before ClaimedBefore without a delivery receipt.
// An empty OwnerID matches every owner.
type ClaimQuery struct {
	ClaimedBefore time.Time
	OwnerID       string
	Limit         int
}

// TaskFilter narrows ListByOwner
type TaskFilter struct {
	Kind       *entities.TaskKind
	States     []entities.TaskState
	ActiveOnly bool
	Limit      int
}

// Matches reports whether t passes the filter
func (f TaskFilter) Matches(t *entities.Task) bool {
	if f.Kind != nil && t.Kind != *f.Kind {
		return false
	}
	if f.ActiveOnly && t.State.IsTerminal() {
		return false
	}
	if len(f.States) > 0 {
		found := false
		for _, s := range f.States {
			if t.State == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
