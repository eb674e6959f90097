package services

import (
	"context"
	"errors"
	"testing"

	"github.com/telemind/core/internal/domain/entities"
	"github.com/telemind/core/internal/infrastructure/logger"
)

func newTestExtractor(model *staticModel) *IntentExtractor {
	if model == nil {
		return NewIntentExtractor(NewTimeResolver(), nil, 0.6, logger.NewNop())
	}
	return NewIntentExtractor(NewTimeResolver(), model, 0.6, logger.NewNop())
}

func TestExtract_Rules(t *testing.T) {
	rc := ResolverContext{Reference: mustTime(t, "2024-06-01T09:00:00Z"), Timezone: "UTC"}
	e := newTestExtractor(nil)

	tests := []struct {
		utterance   string
		intent      entities.IntentType
		kind        entities.TaskKind
		description string
		ref         string
		due         string
	}{
		{"remind me to call John tomorrow at 3pm", entities.IntentCreateTask, entities.TaskKindTask, "call John", "", "2024-06-02T15:00:00Z"},
		{"Remind me tomorrow at 9am to call mom", entities.IntentCreateTask, entities.TaskKindTask, "call mom", "", "2024-06-02T09:00:00Z"},
		{"Remind me to pay rent on Friday", entities.IntentCreateTask, entities.TaskKindTask, "pay rent", "", "2024-06-07T09:00:00Z"},
		{"Add task: buy groceries tomorrow", entities.IntentCreateTask, entities.TaskKindTask, "buy groceries", "", "2024-06-02T09:00:00Z"},
		{"todo: clean the garage", entities.IntentCreateTask, entities.TaskKindTask, "clean the garage", "", ""},
		{"Remember my wifi password is 12345678", entities.IntentCreateNote, entities.TaskKindNote, "my wifi password is 12345678", "", ""},
		{"Save this note: parking spot B12", entities.IntentCreateNote, entities.TaskKindNote, "parking spot B12", "", ""},
		{"Show my tasks", entities.IntentListTasks, entities.TaskKindTask, "", "", ""},
		{"/tasks", entities.IntentListTasks, entities.TaskKindTask, "", "", ""},
		{"/notes", entities.IntentListNotes, entities.TaskKindNote, "", "", ""},
		{"cancel task 2", entities.IntentCancelTask, entities.TaskKindTask, "", "2", ""},
		{"/cancel 3", entities.IntentCancelTask, entities.TaskKindTask, "", "3", ""},
		{"delete note 1", entities.IntentCancelTask, entities.TaskKindNote, "", "1", ""},
		{"done 1", entities.IntentCompleteTask, entities.TaskKindTask, "", "1", ""},
		{"mark task 4 as done", entities.IntentCompleteTask, entities.TaskKindTask, "", "4", ""},
		{"task 2 is done", entities.IntentCompleteTask, entities.TaskKindTask, "", "2", ""},
		{"got it", entities.IntentAcknowledgeTask, entities.TaskKindTask, "", "", ""},
		{"/ack 2", entities.IntentAcknowledgeTask, entities.TaskKindTask, "", "2", ""},
		{"how are you today?", entities.IntentNotATask, "", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.utterance, func(t *testing.T) {
			got, err := e.Extract(context.Background(), tt.utterance, nil, rc)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Type != tt.intent {
				t.Fatalf("expected %s, got %s", tt.intent, got.Type)
			}
			if tt.kind != "" && got.Kind != tt.kind {
				t.Errorf("expected kind %s, got %s", tt.kind, got.Kind)
			}
			if got.Description != tt.description {
				t.Errorf("expected description %q, got %q", tt.description, got.Description)
			}
			if got.TaskRef != tt.ref {
				t.Errorf("expected ref %q, got %q", tt.ref, got.TaskRef)
			}
			if tt.due == "" {
				if got.Due != nil {
					t.Errorf("expected no due time, got %v", got.Due.DueAt)
				}
				return
			}
			if got.Due == nil || !got.Due.DueAt.Equal(mustTime(t, tt.due)) {
				t.Errorf("expected due %s, got %+v", tt.due, got.Due)
			}
		})
	}
}

func TestExtract_EditIntents(t *testing.T) {
	rc := ResolverContext{Reference: mustTime(t, "2024-06-01T09:00:00Z"), Timezone: "UTC"}
	e := newTestExtractor(nil)

	got, err := e.Extract(context.Background(), "move task 2 to tomorrow at 5pm", nil, rc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Type != entities.IntentEditTask || got.TaskRef != "2" || got.Changes.Due == nil {
		t.Fatalf("unexpected intent: %+v", got)
	}
	if !got.Changes.Due.DueAt.Equal(mustTime(t, "2024-06-02T17:00:00Z")) {
		t.Errorf("unexpected due: %v", got.Changes.Due.DueAt)
	}

	got, err = e.Extract(context.Background(), "rename task 1 to buy oat milk", nil, rc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Changes.Description == nil || *got.Changes.Description != "buy oat milk" || got.Changes.Due != nil {
		t.Fatalf("unexpected rename intent: %+v", got)
	}

	got, err = e.Extract(context.Background(), "remind me about note 3 tomorrow", nil, rc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Type != entities.IntentEditTask || got.Kind != entities.TaskKindNote || got.Changes.Due == nil {
		t.Fatalf("expected note promotion, got %+v", got)
	}
}

func TestExtract_Priority(t *testing.T) {
	rc := ResolverContext{Reference: mustTime(t, "2024-06-01T09:00:00Z"), Timezone: "UTC"}
	e := newTestExtractor(nil)

	tests := []struct {
		utterance   string
		description string
		priority    entities.TaskPriority
		dated       bool
	}{
		{"add high priority task: file taxes", "file taxes", entities.PriorityHigh, false},
		{"add urgent task: call the plumber tomorrow", "call the plumber", entities.PriorityHigh, true},
		{"remind me to call mom tomorrow, low priority", "call mom", entities.PriorityLow, true},
		{"remind me urgent: renew passport on friday", "renew passport", entities.PriorityHigh, true},
		{"add task: water the plants", "water the plants", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.utterance, func(t *testing.T) {
			got, err := e.Extract(context.Background(), tt.utterance, nil, rc)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Type != entities.IntentCreateTask || got.Description != tt.description || got.Priority != tt.priority {
				t.Fatalf("unexpected intent: %+v", got)
			}
			if (got.Due != nil) != tt.dated {
				t.Errorf("expected dated=%t, got %+v", tt.dated, got.Due)
			}
		})
	}

	got, err := e.Extract(context.Background(), "make task 2 high priority", nil, rc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Type != entities.IntentEditTask || got.TaskRef != "2" || got.Changes.Priority == nil || *got.Changes.Priority != entities.PriorityHigh {
		t.Fatalf("unexpected priority edit: %+v", got)
	}

	model := &staticModel{reply: `{"intent":"create_task","description":"submit the report","time_phrase":"","priority":"high","confidence":0.9}`}
	got, err = newTestExtractor(model).Extract(context.Background(), "the report really has to go out", nil, rc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Priority != entities.PriorityHigh {
		t.Errorf("expected the model's priority slot to be used, got %+v", got)
	}
}

func TestExtract_UnresolvedTimeIsAnError(t *testing.T) {
	rc := ResolverContext{Reference: mustTime(t, "2024-06-01T09:00:00Z"), Timezone: "UTC"}
	e := newTestExtractor(nil)

	for _, utterance := range []string{
		"remind me to file taxes on 2020-04-15",
		"move task 1 to whenever",
	} {
		_, err := e.Extract(context.Background(), utterance, nil, rc)
		if !errors.Is(err, entities.ErrUnresolvedTime) {
			t.Errorf("%q: expected ErrUnresolvedTime, got %v", utterance, err)
		}
	}
}

func TestExtract_ModelSlotFilling(t *testing.T) {
	rc := ResolverContext{Reference: mustTime(t, "2024-06-01T09:00:00Z"), Timezone: "Europe/Madrid"}

	model := &staticModel{reply: "```json\n{\"intent\":\"create_task\",\"description\":\"book the dentist\",\"time_phrase\":\"next monday at 10am\",\"confidence\":0.9}\n```"}
	got, err := newTestExtractor(model).Extract(context.Background(), "I really need to book the dentist next monday at 10am", nil, rc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Type != entities.IntentCreateTask || got.Description != "book the dentist" {
		t.Fatalf("unexpected intent: %+v", got)
	}
	// 10:00 CEST
	if !got.Due.DueAt.Equal(mustTime(t, "2024-06-03T08:00:00Z")) {
		t.Errorf("unexpected due: %v", got.Due.DueAt)
	}
	if len(model.prompts) != 1 || !model.prompts[0].JSON {
		t.Errorf("expected one JSON completion request")
	}
}

func TestExtract_ModelFallbacks(t *testing.T) {
	rc := ResolverContext{Reference: mustTime(t, "2024-06-01T09:00:00Z"), Timezone: "UTC"}

	tests := []struct {
		name  string
		reply string
	}{
		{"low confidence", `{"intent":"create_task","description":"maybe something","confidence":0.2}`},
		{"malformed", `sure! I'll remember that`},
		{"legacy chat", `{"intent":"general_chat","confidence":0.99}`},
		{"edit without ref", `{"intent":"edit_task","time_phrase":"tomorrow","confidence":0.95}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := &staticModel{reply: tt.reply}
			got, err := newTestExtractor(model).Extract(context.Background(), "I was thinking about something", nil, rc)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Type != entities.IntentNotATask {
				t.Fatalf("expected not_a_task, got %s", got.Type)
			}
		})
	}

	got, err := NewIntentExtractor(NewTimeResolver(), failingModel{}, 0.6, logger.NewNop()).
		Extract(context.Background(), "what's the weather like", nil, rc)
	if err != nil || got.Type != entities.IntentNotATask {
		t.Fatalf("model failure must fall back to conversation, got %+v (err %v)", got, err)
	}
}

func TestExtract_ModelNeverInventsTimes(t *testing.T) {
	rc := ResolverContext{Reference: mustTime(t, "2024-06-01T09:00:00Z"), Timezone: "UTC"}
	model := &staticModel{reply: `{"intent":"create_task","description":"call the bank","time_phrase":"at the usual time","confidence":0.9}`}

	_, err := newTestExtractor(model).Extract(context.Background(), "call the bank at the usual time", nil, rc)
	if !errors.Is(err, entities.ErrUnresolvedTime) {
		t.Fatalf("expected ErrUnresolvedTime, got %v", err)
	}
}
