package entities

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Common errors
var (
	ErrTaskNotFound      = errors.New("task not found")
	ErrStateConflict     = errors.New("task state changed concurrently")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrStaleReference    = errors.New("task is already in a terminal state")
	ErrUnresolvedTime    = errors.New("time expression could not be resolved")
	ErrInvalidTimezone   = errors.New("unknown timezone")
	ErrStoreUnavailable  = errors.New("task store unavailable")
	ErrDuplicateEvent    = errors.New("event already processed")
	ErrModelUnavailable  = errors.New("language model unavailable")
	ErrEmptyDescription  = errors.New("description is required")
	ErrDescriptionLength = errors.New("description is too long")
)

// TaskState is the lifecycle state of a task
type TaskState string

const (
	TaskStatePending      TaskState = "pending"
	TaskStateNotified     TaskState = "notified"
	TaskStateAcknowledged TaskState = "acknowledged"
	TaskStateCancelled    TaskState = "cancelled"
	TaskStateCompleted    TaskState = "completed"
	TaskStateFailed       TaskState = "failed"
)

// TaskKind separates reminders from free-text notes
type TaskKind string

const (
	TaskKindTask TaskKind = "task"
	TaskKindNote TaskKind = "note"
)

// TaskPriority ranks tasks in listings
type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
)

// ParsePriority maps user and model wording onto a priority
func ParsePriority(s string) (TaskPriority, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low", "minor", "whenever":
		return PriorityLow, true
	case "medium", "normal", "med":
		return PriorityMedium, true
	case "high", "urgent", "important", "asap":
		return PriorityHigh, true
	}
	return "", false
}

// Rank orders priorities, high first
func (p TaskPriority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityLow:
		return 2
	}
	return 1
}

// MaxDescriptionLength bounds Task.Description
const MaxDescriptionLength = 1000

// Task represents a user task or note
type Task struct {
	ID                   uuid.UUID    `json:"id" db:"id" firestore:"-"`
	OwnerID              string       `json:"owner_id" db:"owner_id" firestore:"owner_id" validate:"required"`
	Kind                 TaskKind     `json:"kind" db:"kind" firestore:"kind" validate:"oneof=task note"`
	Description          string       `json:"description" db:"description" firestore:"description" validate:"required,max=1000"`
	Priority             TaskPriority `json:"priority" db:"priority" firestore:"priority" validate:"oneof=low medium high"`
	CreatedAt            time.Time    `json:"created_at" db:"created_at" firestore:"created_at"`
	UpdatedAt            time.Time    `json:"updated_at" db:"updated_at" firestore:"updated_at"`
	DueAt                *time.Time   `json:"due_at" db:"due_at" firestore:"due_at"`
	DuePhrase            string       `json:"due_phrase,omitempty" db:"due_phrase" firestore:"due_phrase"`
	Timezone             string       `json:"timezone" db:"timezone" firestore:"timezone"`
	State                TaskState    `json:"state" db:"state" firestore:"state"`
	NotificationAttempts int          `json:"notification_attempts" db:"notification_attempts" firestore:"notification_attempts"`
	AttemptsBase         int          `json:"-" db:"attempts_base" firestore:"attempts_base"`
	LastAttemptAt        *time.Time   `json:"last_attempt_at" db:"last_attempt_at" firestore:"last_attempt_at"`
	DeliveredAt          *time.Time   `json:"delivered_at" db:"delivered_at" firestore:"delivered_at"`
	LastError            string       `json:"last_error,omitempty" db:"last_error" firestore:"last_error"`
	FailureReportedAt    *time.Time   `json:"failure_reported_at" db:"failure_reported_at" firestore:"failure_reported_at"`
}

// TransitionFields carries the field updates applied together with a state transition.
// Nil pointers leave the stored value untouched.
type TransitionFields struct {
	Kind             *TaskKind
	Description      *string
	Priority         *TaskPriority
	DueAt            *time.Time
	ClearDueAt       bool
	DuePhrase        *string
	Timezone         *string
	IncrementAttempt bool
	RebaseAttempts   bool
	LastAttemptAt    *time.Time
	DeliveredAt      *time.Time
	ClearDeliveredAt bool
	LastError        *string
	UpdatedAt        time.Time
}

// Apply copies the field updates onto t and moves it to state `to`.
// Stores call it after the compare step succeeded.
func (f TransitionFields) Apply(t *Task, to TaskState) {
	t.State = to
	if f.Kind != nil {
		t.Kind = *f.Kind
	}
	if f.Description != nil {
		t.Description = *f.Description
	}
	if f.Priority != nil {
		t.Priority = *f.Priority
	}
	if f.ClearDueAt {
		t.DueAt = nil
	}
	if f.DueAt != nil {
		due := f.DueAt.UTC()
		t.DueAt = &due
	}
	if f.DuePhrase != nil {
		t.DuePhrase = *f.DuePhrase
	}
	if f.Timezone != nil {
		t.Timezone = *f.Timezone
	}
	if f.IncrementAttempt {
		t.NotificationAttempts++
	}
	if f.RebaseAttempts {
		t.AttemptsBase = t.NotificationAttempts
	}
	if f.LastAttemptAt != nil {
		at := f.LastAttemptAt.UTC()
		t.LastAttemptAt = &at
	}
	if f.ClearDeliveredAt {
		t.DeliveredAt = nil
	}
	if f.DeliveredAt != nil {
		at := f.DeliveredAt.UTC()
		t.DeliveredAt = &at
	}
	if f.LastError != nil {
		t.LastError = *f.LastError
	}
	if !f.UpdatedAt.IsZero() {
		t.UpdatedAt = f.UpdatedAt.UTC()
	} else {
		t.UpdatedAt = time.Now().UTC()
	}
}

var allowedTransitions = map[TaskState][]TaskState{
	TaskStatePending: {
		TaskStatePending, TaskStateNotified, TaskStateCancelled, TaskStateCompleted,
	},
	TaskStateNotified: {
		TaskStateNotified, TaskStatePending, TaskStateAcknowledged,
		TaskStateCancelled, TaskStateCompleted, TaskStateFailed,
	},
	TaskStateAcknowledged: {
		TaskStateAcknowledged, TaskStatePending, TaskStateCancelled, TaskStateCompleted,
	},
}

// IsTerminal reports whether no transition may leave s
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskStateCancelled, TaskStateCompleted, TaskStateFailed:
		return true
	}
	return false
}

// IsValid reports whether s is a known state
func (s TaskState) IsValid() bool {
	switch s {
	case TaskStatePending, TaskStateNotified, TaskStateAcknowledged,
		TaskStateCancelled, TaskStateCompleted, TaskStateFailed:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is permitted by the task lifecycle
func CanTransition(from, to TaskState) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Business logic methods for Task

func (t *Task) IsDated() bool {
	return t.DueAt != nil
}

func (t *Task) IsActive() bool {
	return !t.State.IsTerminal()
}

// DueAttempts counts delivery attempts made for the current due instant.
// NotificationAttempts keeps growing across reschedules; AttemptsBase marks the last re-arm.
func (t *Task) DueAttempts() int {
	n := t.NotificationAttempts - t.AttemptsBase
	if n < 0 {
		return 0
	}
	return n
}

// IsOverdue reports whether the task was due more than grace before now
func (t *Task) IsOverdue(now time.Time, grace time.Duration) bool {
	return t.DueAt != nil && now.Sub(*t.DueAt) > grace
}

// LocalDue returns the due instant in the task's own timezone
func (t *Task) LocalDue() (time.Time, bool) {
	if t.DueAt == nil {
		return time.Time{}, false
	}
	loc, err := time.LoadLocation(t.Timezone)
	if err != nil {
		loc = time.UTC
	}
	return t.DueAt.In(loc), true
}

// DueSpec is the absolute due instant produced by the time resolver
type DueSpec struct {
	DueAt    time.Time `json:"due_at"`
	Timezone string    `json:"timezone"`
	Phrase   string    `json:"phrase"`
	Relative bool      `json:"relative"`
}

// Role identifies the author of a conversation turn
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSummary   Role = "summary"
)

// Turn is one entry of the per-owner conversation window
type Turn struct {
	ID        uuid.UUID `json:"id" db:"id"`
	OwnerID   string    `json:"owner_id" db:"owner_id"`
	Role      Role      `json:"role" db:"role"`
	Text      string    `json:"text" db:"text"`
	Timestamp time.Time `json:"timestamp" db:"created_at"`
}

// Attachment is a file reference delivered with an inbound message.
// Only metadata is kept; the file itself stays with the messaging transport.
type Attachment struct {
	OwnerID    string    `json:"owner_id" db:"owner_id" firestore:"owner_id"`
	FileID     string    `json:"file_id" db:"file_id" firestore:"file_id"`
	FileName   string    `json:"file_name" db:"file_name" firestore:"file_name"`
	MimeType   string    `json:"mime_type" db:"mime_type" firestore:"mime_type"`
	Size       int64     `json:"size" db:"size" firestore:"size"`
	ReceivedAt time.Time `json:"received_at" db:"received_at" firestore:"received_at"`
}

// FileCategory groups attachments for listing
type FileCategory string

const (
	FilePDF      FileCategory = "pdf"
	FileDocument FileCategory = "documents"
	FileImage    FileCategory = "images"
	FileOther    FileCategory = "other"
)

// FileCategories is the listing order
var FileCategories = []FileCategory{FilePDF, FileDocument, FileImage, FileOther}

// ParseFileCategory accepts the filters users type after /files
func ParseFileCategory(s string) (FileCategory, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pdf", "pdfs":
		return FilePDF, true
	case "documents", "document", "docs", "doc":
		return FileDocument, true
	case "images", "image", "photos", "photo", "pictures":
		return FileImage, true
	}
	return "", false
}

// Category derives the listing group from the MIME type, falling back to the file extension
func (a Attachment) Category() FileCategory {
	mime := strings.ToLower(a.MimeType)
	name := strings.ToLower(a.FileName)
	switch {
	case mime == "application/pdf" || strings.HasSuffix(name, ".pdf"):
		return FilePDF
	case strings.HasPrefix(mime, "image/"):
		return FileImage
	case strings.HasPrefix(mime, "text/"),
		strings.Contains(mime, "msword"),
		strings.Contains(mime, "officedocument"),
		strings.Contains(mime, "opendocument"),
		mime == "application/rtf":
		return FileDocument
	}
	for _, ext := range []string{".jpg", ".jpeg", ".png", ".gif", ".webp"} {
		if strings.HasSuffix(name, ext) {
			return FileImage
		}
	}
	for _, ext := range []string{".doc", ".docx", ".txt", ".md", ".odt", ".rtf"} {
		if strings.HasSuffix(name, ext) {
			return FileDocument
		}
	}
	return FileOther
}

// InboundEvent is a message delivered by the messaging transport
type InboundEvent struct {
	EventID     string       `json:"event_id"`
	OwnerID     string       `json:"owner_id"`
	ChatID      string       `json:"chat_id"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments"`
	ReceivedAt  time.Time    `json:"received_at"`
}
