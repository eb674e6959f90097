package services

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/telemind/core/internal/domain/entities"
	"github.com/telemind/core/internal/infrastructure/logger"
	"github.com/telemind/core/internal/ports"
)

const summarySystemPrompt = "You are a conversation summarizer. Summarize the conversation, preserving key facts, decisions, tasks and dates the user mentioned. Be concise. Output only the summary, no preamble."

// HeuristicSummarizer folds turns locally by keeping the head of each turn
type HeuristicSummarizer struct {
	maxChars int
}

// NewHeuristicSummarizer creates a summarizer bounded to maxChars
func NewHeuristicSummarizer(maxChars int) *HeuristicSummarizer {
	return &HeuristicSummarizer{maxChars: maxChars}
}

func (h *HeuristicSummarizer) Summarize(ctx context.Context, previous string, turns []*entities.Turn) (string, error) {
	var lines []string
	if previous != "" {
		lines = append(lines, previous)
	}
	for _, t := range turns {
		lines = append(lines, fmt.Sprintf("%s: %s", t.Role, clip(oneLine(t.Text), 120)))
	}
	return clipTail(strings.Join(lines, "\n"), h.maxChars), nil
}

// ModelSummarizer asks the language model for a summary and falls back to the heuristic
type ModelSummarizer struct {
	model    ports.LanguageModel
	fallback *HeuristicSummarizer
	maxChars int
	logger   *logger.Logger
}

// NewModelSummarizer creates a language-model backed summarizer
func NewModelSummarizer(model ports.LanguageModel, maxChars int, logger *logger.Logger) *ModelSummarizer {
	return &ModelSummarizer{
		model:    model,
		fallback: NewHeuristicSummarizer(maxChars),
		maxChars: maxChars,
		logger:   logger.WithComponent("summarizer"),
	}
}

func (m *ModelSummarizer) Summarize(ctx context.Context, previous string, turns []*entities.Turn) (string, error) {
	text, err := m.model.Complete(ctx, ports.CompletionRequest{
		System:    summarySystemPrompt,
		Prompt:    buildSummaryPrompt(previous, turns, m.maxChars),
		MaxTokens: m.maxChars / 4,
	})
	text = strings.TrimSpace(text)
	if err != nil || text == "" {
		if err != nil {
			m.logger.Debugw("Model summary unavailable, using heuristic", "error", err)
		}
		return m.fallback.Summarize(ctx, previous, turns)
	}
	return clipTail(text, m.maxChars), nil
}

func buildSummaryPrompt(previous string, turns []*entities.Turn, maxChars int) string {
	var sb strings.Builder
	if previous != "" {
		sb.WriteString("Summary so far:\n")
		sb.WriteString(previous)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Fold these messages into the summary:\n\n")
	for _, t := range turns {
		sb.WriteString(fmt.Sprintf("[%s] %s: %s\n", t.Timestamp.Format("2006-01-02 15:04"), t.Role, t.Text))
	}
	sb.WriteString(fmt.Sprintf("\nKeep the result under %d characters.", maxChars))
	return sb.String()
}

// estimateTokens uses the rough 4 characters per token rule
func estimateTokens(s string) int {
	n := utf8.RuneCountInString(s)
	return (n + 3) / 4
}

func clip(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max-1]) + "…"
}

// clipTail keeps the newest part of s, which is where the latest facts are
func clipTail(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return "…" + string(r[len(r)-max+1:])
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
