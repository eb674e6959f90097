package entities

import (
	"errors"
	"fmt"
)

// IntentType tags the variant carried by Intent
type IntentType string

const (
	IntentCreateTask      IntentType = "create_task"
	IntentCreateNote      IntentType = "create_note"
	IntentEditTask        IntentType = "edit_task"
	IntentCancelTask      IntentType = "cancel_task"
	IntentCompleteTask    IntentType = "complete_task"
	IntentAcknowledgeTask IntentType = "acknowledge_task"
	IntentListTasks       IntentType = "list_tasks"
	IntentListNotes       IntentType = "list_notes"
	IntentNotATask        IntentType = "not_a_task"
)

// TaskChanges lists the fields an edit intent modifies
type TaskChanges struct {
	Description *string
	Due         *DueSpec
	Priority    *TaskPriority
}

// IsEmpty reports whether the edit would change nothing
func (c TaskChanges) IsEmpty() bool {
	return c.Description == nil && c.Due == nil && c.Priority == nil
}

// Intent is the structured command extracted from an utterance.
// TaskRef is either a list ordinal ("2") or a task id; an empty ref on
// acknowledge means the most recent notified task. Kind says which list
// an ordinal indexes.
type Intent struct {
	Type        IntentType
	Kind        TaskKind
	Description string
	Priority    TaskPriority
	Due         *DueSpec
	TaskRef     string
	Changes     TaskChanges
	Source      string
}

// NotATask is the fallback intent routed to general conversation
func NotATask(source string) *Intent {
	return &Intent{Type: IntentNotATask, Source: source}
}

// IsMutation reports whether applying the intent writes to the task store
func (i *Intent) IsMutation() bool {
	switch i.Type {
	case IntentCreateTask, IntentCreateNote, IntentEditTask,
		IntentCancelTask, IntentCompleteTask, IntentAcknowledgeTask:
		return true
	}
	return false
}

// UnresolvedError reports a time phrase the resolver could not convert
type UnresolvedError struct {
	Phrase string
	Reason string
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("cannot resolve %q: %s", e.Phrase, e.Reason)
}

func (e *UnresolvedError) Unwrap() error {
	return ErrUnresolvedTime
}

// DeliveryErrorKind classifies notifier failures
type DeliveryErrorKind string

const (
	DeliveryTransient DeliveryErrorKind = "transient"
	DeliveryPermanent DeliveryErrorKind = "permanent"
)

// DeliveryError is returned by notifiers when a message could not be delivered
type DeliveryError struct {
	Kind   DeliveryErrorKind
	Reason string
	Err    error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s delivery failure: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s delivery failure: %s", e.Kind, e.Reason)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// NewTransientError builds a retryable delivery error
func NewTransientError(reason string, err error) *DeliveryError {
	return &DeliveryError{Kind: DeliveryTransient, Reason: reason, Err: err}
}

// NewPermanentError builds a non-retryable delivery error
func NewPermanentError(reason string, err error) *DeliveryError {
	return &DeliveryError{Kind: DeliveryPermanent, Reason: reason, Err: err}
}

// IsPermanentDelivery reports whether err is a permanent delivery failure.
// Unclassified errors count as transient.
func IsPermanentDelivery(err error) bool {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Kind == DeliveryPermanent
	}
	return false
}
