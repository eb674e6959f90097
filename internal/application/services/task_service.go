package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/telemind/core/internal/domain/entities"
	"github.com/telemind/core/internal/infrastructure/logger"
	"github.com/telemind/core/internal/ports"
)

// TaskService applies user intents to the task store
type TaskService struct {
	taskRepo ports.TaskRepository
	validate *validator.Validate
	logger   *logger.Logger
	now      func() time.Time
}

// NewTaskService creates a new task service
func NewTaskService(taskRepo ports.TaskRepository, logger *logger.Logger) *TaskService {
	return &TaskService{
		taskRepo: taskRepo,
		validate: validator.New(),
		logger:   logger.WithComponent("tasks"),
		now:      time.Now,
	}
}

// WithClock replaces the service clock
func (s *TaskService) WithClock(now func() time.Time) *TaskService {
	s.now = now
	return s
}

// CreateTask stores a new pending task or note. A nil due spec creates an undated entry;
// an empty priority means medium.
func (s *TaskService) CreateTask(ctx context.Context, ownerID string, kind entities.TaskKind, description string, priority entities.TaskPriority, due *entities.DueSpec, timezone string) (*entities.Task, error) {
	description, err := checkDescription(description)
	if err != nil {
		return nil, err
	}
	if priority == "" {
		priority = entities.PriorityMedium
	}

	now := s.now().UTC()
	task := &entities.Task{
		ID:          uuid.New(),
		OwnerID:     ownerID,
		Kind:        kind,
		Description: description,
		Priority:    priority,
		CreatedAt:   now,
		UpdatedAt:   now,
		Timezone:    timezone,
		State:       entities.TaskStatePending,
	}
	if due != nil {
		dueAt := due.DueAt.UTC()
		task.DueAt = &dueAt
		task.DuePhrase = due.Phrase
		task.Timezone = due.Timezone
	}

	if err := s.validate.Struct(task); err != nil {
		return nil, fmt.Errorf("invalid task: %w", err)
	}

	if err := s.taskRepo.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	s.logger.Infow("Task created", "task_id", task.ID, "owner_id", ownerID, "kind", kind, "dated", task.IsDated())
	return task, nil
}

// ListTasks returns the owner's active entries of a kind in creation order.
// Ordinals in task references index into this list.
func (s *TaskService) ListTasks(ctx context.Context, ownerID string, kind entities.TaskKind) ([]*entities.Task, error) {
	tasks, err := s.taskRepo.ListByOwner(ctx, ownerID, ports.TaskFilter{Kind: &kind, ActiveOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return tasks, nil
}

// ResolveRef finds the task a user refers to by list ordinal or id
func (s *TaskService) ResolveRef(ctx context.Context, ownerID, ref string, kind entities.TaskKind) (*entities.Task, error) {
	ref = strings.TrimPrefix(strings.TrimSpace(ref), "#")
	if ref == "" {
		return nil, entities.ErrTaskNotFound
	}

	if id, err := uuid.Parse(ref); err == nil {
		task, err := s.taskRepo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if task.OwnerID != ownerID {
			return nil, entities.ErrTaskNotFound
		}
		return task, nil
	}

	n, err := strconv.Atoi(ref)
	if err != nil || n < 1 {
		return nil, entities.ErrTaskNotFound
	}

	tasks, err := s.ListTasks(ctx, ownerID, kind)
	if err != nil {
		return nil, err
	}
	if n > len(tasks) {
		return nil, entities.ErrTaskNotFound
	}
	return tasks[n-1], nil
}

// CancelTask moves a task to cancelled
func (s *TaskService) CancelTask(ctx context.Context, ownerID, ref string, kind entities.TaskKind) (*entities.Task, error) {
	return s.finish(ctx, ownerID, ref, kind, entities.TaskStateCancelled)
}

// CompleteTask moves a task to completed
func (s *TaskService) CompleteTask(ctx context.Context, ownerID, ref string, kind entities.TaskKind) (*entities.Task, error) {
	return s.finish(ctx, ownerID, ref, kind, entities.TaskStateCompleted)
}

func (s *TaskService) finish(ctx context.Context, ownerID, ref string, kind entities.TaskKind, to entities.TaskState) (*entities.Task, error) {
	task, err := s.ResolveRef(ctx, ownerID, ref, kind)
	if err != nil {
		return nil, err
	}
	if task.State.IsTerminal() {
		return task, entities.ErrStaleReference
	}

	updated, err := s.taskRepo.Transition(ctx, task.ID, task.State, to, entities.TransitionFields{UpdatedAt: s.now()})
	s.logger.LogTaskTransition(task.ID.String(), ownerID, string(task.State), string(to), err)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// AcknowledgeTask confirms a delivered reminder. An empty ref picks the most recently notified task.
func (s *TaskService) AcknowledgeTask(ctx context.Context, ownerID, ref string) (*entities.Task, error) {
	var task *entities.Task
	if strings.TrimSpace(ref) == "" {
		notified, err := s.taskRepo.ListByOwner(ctx, ownerID, ports.TaskFilter{
			States: []entities.TaskState{entities.TaskStateNotified},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list notified tasks: %w", err)
		}
		if len(notified) == 0 {
			return nil, entities.ErrTaskNotFound
		}
		sort.SliceStable(notified, func(i, j int) bool {
			return lastAttempt(notified[i]).After(lastAttempt(notified[j]))
		})
		task = notified[0]
	} else {
		var err error
		if task, err = s.ResolveRef(ctx, ownerID, ref, entities.TaskKindTask); err != nil {
			return nil, err
		}
	}

	switch {
	case task.State.IsTerminal():
		return task, entities.ErrStaleReference
	case task.State != entities.TaskStateNotified:
		return task, entities.ErrInvalidTransition
	}

	updated, err := s.taskRepo.Transition(ctx, task.ID, entities.TaskStateNotified, entities.TaskStateAcknowledged, entities.TransitionFields{UpdatedAt: s.now()})
	s.logger.LogTaskTransition(task.ID.String(), ownerID, string(task.State), string(entities.TaskStateAcknowledged), err)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// EditTask changes the description and/or due instant of a task.
// A new due instant on a notified or acknowledged task re-arms it as a new due event;
// a due instant on a note promotes it to a task.
func (s *TaskService) EditTask(ctx context.Context, ownerID, ref string, kind entities.TaskKind, changes entities.TaskChanges) (*entities.Task, error) {
	if changes.IsEmpty() {
		return nil, fmt.Errorf("nothing to change: %w", entities.ErrInvalidTransition)
	}

	task, err := s.ResolveRef(ctx, ownerID, ref, kind)
	if err != nil {
		return nil, err
	}
	if task.State.IsTerminal() {
		return task, entities.ErrStaleReference
	}

	fields := entities.TransitionFields{UpdatedAt: s.now()}
	to := task.State

	if changes.Description != nil {
		description, err := checkDescription(*changes.Description)
		if err != nil {
			return nil, err
		}
		fields.Description = &description
	}
	if changes.Priority != nil {
		fields.Priority = changes.Priority
	}

	if changes.Due != nil {
		dueAt := changes.Due.DueAt.UTC()
		empty := ""
		fields.DueAt = &dueAt
		fields.DuePhrase = &changes.Due.Phrase
		fields.Timezone = &changes.Due.Timezone
		fields.ClearDeliveredAt = true
		fields.RebaseAttempts = true
		fields.LastError = &empty
		if task.Kind == entities.TaskKindNote {
			promoted := entities.TaskKindTask
			fields.Kind = &promoted
		}
		to = entities.TaskStatePending
	}

	updated, err := s.taskRepo.Transition(ctx, task.ID, task.State, to, fields)
	s.logger.LogTaskTransition(task.ID.String(), ownerID, string(task.State), string(to), err)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// UnreportedFailures returns failed tasks the owner has not heard about yet.
// They stay unreported until MarkFailuresReported is called.
func (s *TaskService) UnreportedFailures(ctx context.Context, ownerID string) ([]*entities.Task, error) {
	failed, err := s.taskRepo.ListUnreportedFailures(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed tasks: %w", err)
	}
	return failed, nil
}

// MarkFailuresReported records that the owner was told about the given failed tasks
func (s *TaskService) MarkFailuresReported(ctx context.Context, failed []*entities.Task) error {
	if len(failed) == 0 {
		return nil
	}

	ids := make([]uuid.UUID, 0, len(failed))
	for _, t := range failed {
		ids = append(ids, t.ID)
	}
	if err := s.taskRepo.MarkFailuresReported(ctx, ids, s.now()); err != nil {
		return fmt.Errorf("failed to mark failures reported: %w", err)
	}
	return nil
}

func checkDescription(description string) (string, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return "", entities.ErrEmptyDescription
	}
	if utf8.RuneCountInString(description) > entities.MaxDescriptionLength {
		return "", fmt.Errorf("%w: limit is %d characters", entities.ErrDescriptionLength, entities.MaxDescriptionLength)
	}
	return description, nil
}

// IsUserFacing reports whether err should be phrased to the user instead of failing the request
func IsUserFacing(err error) bool {
	for _, target := range []error{
		entities.ErrTaskNotFound,
		entities.ErrStateConflict,
		entities.ErrStaleReference,
		entities.ErrInvalidTransition,
		entities.ErrUnresolvedTime,
		entities.ErrEmptyDescription,
		entities.ErrDescriptionLength,
		entities.ErrInvalidTimezone,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	var verrs validator.ValidationErrors
	return errors.As(err, &verrs)
}

func lastAttempt(t *entities.Task) time.Time {
	if t.LastAttemptAt == nil {
		return time.Time{}
	}
	return *t.LastAttemptAt
}
