package llm

import (
	"context"
	"strings"
	"testing"

	"google.golang.org/genai"

	"github.com/telemind/core/internal/domain/entities"
	"github.com/telemind/core/internal/infrastructure/config"
)

func TestBuildContents(t *testing.T) {
	history := []*entities.Turn{
		{Role: entities.RoleSummary, Text: "user likes mornings"},
		{Role: entities.RoleUser, Text: "hi"},
		{Role: entities.RoleAssistant, Text: "hello"},
	}

	contents := buildContents(history, "what's next?")
	if len(contents) != 4 {
		t.Fatalf("expected 4 contents, got %d", len(contents))
	}

	if contents[0].Role != genai.RoleUser || !strings.Contains(contents[0].Parts[0].Text, "user likes mornings") {
		t.Errorf("summary turn not rendered as user context: %+v", contents[0])
	}
	if contents[2].Role != genai.RoleModel {
		t.Errorf("expected assistant turn as model role, got %s", contents[2].Role)
	}
	if contents[3].Parts[0].Text != "what's next?" {
		t.Errorf("expected prompt last, got %q", contents[3].Parts[0].Text)
	}
}

func TestNewProviderSelection(t *testing.T) {
	ctx := context.Background()

	model, err := New(ctx, config.LLMConfig{Provider: "none"})
	if err != nil || model != nil {
		t.Errorf("expected nil model for none provider, got %v, %v", model, err)
	}

	if _, err := New(ctx, config.LLMConfig{Provider: "genai"}); err == nil {
		t.Error("expected error when api key is missing")
	}
	if _, err := New(ctx, config.LLMConfig{Provider: "vertex", Project: "p"}); err == nil {
		t.Error("expected error when location is missing")
	}
	if _, err := New(ctx, config.LLMConfig{Provider: "openai"}); err == nil {
		t.Error("expected error for unknown provider")
	}
}
