package entities

import (
	"errors"
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to TaskState
		want     bool
	}{
		{TaskStatePending, TaskStateNotified, true},
		{TaskStatePending, TaskStatePending, true},
		{TaskStatePending, TaskStateCancelled, true},
		{TaskStatePending, TaskStateCompleted, true},
		{TaskStatePending, TaskStateAcknowledged, false},
		{TaskStatePending, TaskStateFailed, false},
		{TaskStateNotified, TaskStateNotified, true},
		{TaskStateNotified, TaskStatePending, true},
		{TaskStateNotified, TaskStateAcknowledged, true},
		{TaskStateNotified, TaskStateFailed, true},
		{TaskStateAcknowledged, TaskStatePending, true},
		{TaskStateAcknowledged, TaskStateNotified, false},
		{TaskStateAcknowledged, TaskStateFailed, false},
		{TaskStateCancelled, TaskStatePending, false},
		{TaskStateCompleted, TaskStateCompleted, false},
		{TaskStateFailed, TaskStatePending, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTerminalStatesHaveNoExits(t *testing.T) {
	all := []TaskState{
		TaskStatePending, TaskStateNotified, TaskStateAcknowledged,
		TaskStateCancelled, TaskStateCompleted, TaskStateFailed,
	}
	for _, from := range all {
		if !from.IsTerminal() {
			continue
		}
		for _, to := range all {
			if CanTransition(from, to) {
				t.Errorf("terminal state %s must not move to %s", from, to)
			}
		}
	}
}

func TestTransitionFieldsApply(t *testing.T) {
	delivered := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	task := &Task{State: TaskStateNotified, DeliveredAt: &delivered, NotificationAttempts: 2, Description: "old"}

	berlin, _ := time.LoadLocation("Europe/Berlin")
	due := time.Date(2024, 6, 2, 17, 0, 0, 0, berlin)
	desc := "new"
	updated := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

	TransitionFields{
		Description:      &desc,
		DueAt:            &due,
		ClearDeliveredAt: true,
		IncrementAttempt: true,
		UpdatedAt:        updated,
	}.Apply(task, TaskStatePending)

	if task.State != TaskStatePending || task.Description != "new" {
		t.Errorf("unexpected task after apply: %+v", task)
	}
	if task.DueAt.Location() != time.UTC || !task.DueAt.Equal(due) {
		t.Errorf("due instant must be stored in UTC, got %v", task.DueAt)
	}
	if task.DeliveredAt != nil {
		t.Errorf("delivery receipt must be cleared")
	}
	if task.NotificationAttempts != 3 {
		t.Errorf("expected 3 attempts, got %d", task.NotificationAttempts)
	}
	if !task.UpdatedAt.Equal(updated) {
		t.Errorf("unexpected UpdatedAt %v", task.UpdatedAt)
	}
}

func TestTaskOverdueAndLocalDue(t *testing.T) {
	due := time.Date(2024, 6, 2, 13, 0, 0, 0, time.UTC)
	task := &Task{DueAt: &due, Timezone: "Europe/Berlin"}

	if task.IsOverdue(due.Add(5*time.Minute), 10*time.Minute) {
		t.Errorf("task inside the grace period must not be overdue")
	}
	if !task.IsOverdue(due.Add(11*time.Minute), 10*time.Minute) {
		t.Errorf("task past the grace period must be overdue")
	}

	local, ok := task.LocalDue()
	if !ok || local.Hour() != 15 {
		t.Errorf("expected 15:00 in Berlin, got %v", local)
	}
}

func TestDeliveryErrorClassification(t *testing.T) {
	cause := errors.New("connection reset")
	if IsPermanentDelivery(NewTransientError("network", cause)) {
		t.Errorf("transient error classified as permanent")
	}
	if !IsPermanentDelivery(NewPermanentError("blocked", nil)) {
		t.Errorf("permanent error not recognised")
	}
	if IsPermanentDelivery(cause) {
		t.Errorf("unclassified errors must count as transient")
	}
	if !errors.Is(NewTransientError("network", cause), cause) {
		t.Errorf("delivery error must unwrap to its cause")
	}
	if !errors.Is(&UnresolvedError{Phrase: "someday"}, ErrUnresolvedTime) {
		t.Errorf("unresolved error must wrap ErrUnresolvedTime")
	}
}
