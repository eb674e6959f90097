package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/genai"

	"github.com/telemind/core/internal/domain/entities"
	"github.com/telemind/core/internal/infrastructure/config"
	"github.com/telemind/core/internal/ports"
)

// GenAIClient implements ports.LanguageModel on Gemini, through either
// the Gemini API (API key) or Vertex AI (project and location).
type GenAIClient struct {
	client      *genai.Client
	modelName   string
	timeout     time.Duration
	temperature float32
	maxTokens   int32
}

// New returns the language model selected by cfg.Provider.
// The "none" provider yields a nil model; callers then use their rule-based paths.
func New(ctx context.Context, cfg config.LLMConfig) (ports.LanguageModel, error) {
	switch cfg.Provider {
	case "none", "":
		return nil, nil
	case "genai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("LLM_API_KEY must be set for the genai provider")
		}
		return newGenAIClient(ctx, cfg, &genai.ClientConfig{
			APIKey:  cfg.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
	case "vertex":
		if cfg.Project == "" || cfg.Location == "" {
			return nil, fmt.Errorf("LLM_PROJECT and LLM_LOCATION must be set for the vertex provider")
		}
		return newGenAIClient(ctx, cfg, &genai.ClientConfig{
			Project:  cfg.Project,
			Location: cfg.Location,
			Backend:  genai.BackendVertexAI,
		})
	}
	return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
}

func newGenAIClient(ctx context.Context, cfg config.LLMConfig, cc *genai.ClientConfig) (*GenAIClient, error) {
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	modelName := cfg.Model
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}

	return &GenAIClient{
		client:      client,
		modelName:   modelName,
		timeout:     cfg.Timeout,
		temperature: float32(cfg.Temperature),
		maxTokens:   int32(cfg.MaxTokens),
	}, nil
}

// Complete sends the bounded prompt and returns the model text.
// Any failure is reported as entities.ErrModelUnavailable so callers can fall back.
func (g *GenAIClient) Complete(ctx context.Context, req ports.CompletionRequest) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	contents := buildContents(req.History, req.Prompt)

	temp := g.temperature
	maxTokens := g.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = int32(req.MaxTokens)
	}

	cfg := &genai.GenerateContentConfig{
		Temperature:     &temp,
		MaxOutputTokens: maxTokens,
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.JSON {
		cfg.ResponseMIMEType = "application/json"
	}

	res, err := g.client.Models.GenerateContent(ctx, g.modelName, contents, cfg)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		return "", fmt.Errorf("%w: generate content: %v", entities.ErrModelUnavailable, err)
	}

	text := res.Text()
	if text == "" {
		return "", fmt.Errorf("%w: empty response", entities.ErrModelUnavailable)
	}
	return text, nil
}

func buildContents(history []*entities.Turn, prompt string) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, turn := range history {
		role := genai.Role(genai.RoleUser)
		text := turn.Text
		switch turn.Role {
		case entities.RoleAssistant:
			role = genai.RoleModel
		case entities.RoleSummary:
			text = "Summary of earlier conversation: " + turn.Text
		}
		contents = append(contents, genai.NewContentFromText(text, role))
	}
	return append(contents, genai.NewContentFromText(prompt, genai.RoleUser))
}
