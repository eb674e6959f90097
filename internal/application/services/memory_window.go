package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/telemind/core/internal/domain/entities"
	"github.com/telemind/core/internal/infrastructure/config"
	"github.com/telemind/core/internal/infrastructure/logger"
	"github.com/telemind/core/internal/ports"
)

// MemoryWindow keeps a bounded per-owner conversation history.
// Turns that no longer fit are folded into a single summary turn at the head.
type MemoryWindow struct {
	repo       ports.ConversationRepository
	summarizer ports.Summarizer
	cfg        config.MemoryConfig
	logger     *logger.Logger
	now        func() time.Time
}

// NewMemoryWindow creates a new conversation window
func NewMemoryWindow(repo ports.ConversationRepository, summarizer ports.Summarizer, cfg config.MemoryConfig, logger *logger.Logger) *MemoryWindow {
	if summarizer == nil {
		summarizer = NewHeuristicSummarizer(cfg.SummaryMaxChars)
	}
	return &MemoryWindow{
		repo:       repo,
		summarizer: summarizer,
		cfg:        cfg,
		logger:     logger.WithComponent("memory"),
		now:        time.Now,
	}
}

// WithClock replaces the window clock
func (w *MemoryWindow) WithClock(now func() time.Time) *MemoryWindow {
	w.now = now
	return w
}

// Append records a turn and compacts the window if it went over budget
func (w *MemoryWindow) Append(ctx context.Context, ownerID string, role entities.Role, text string) error {
	turn := &entities.Turn{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Role:      role,
		Text:      text,
		Timestamp: w.now().UTC(),
	}
	if err := w.repo.AppendTurn(ctx, turn); err != nil {
		return fmt.Errorf("failed to append turn: %w", err)
	}

	turns, err := w.repo.ListTurns(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("failed to list turns: %w", err)
	}
	if w.withinBudget(turns) {
		return nil
	}
	return w.compact(ctx, ownerID, turns)
}

// WindowFor returns the bounded window, oldest first and newest last
func (w *MemoryWindow) WindowFor(ctx context.Context, ownerID string) ([]*entities.Turn, error) {
	turns, err := w.repo.ListTurns(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list turns: %w", err)
	}
	return turns, nil
}

func (w *MemoryWindow) withinBudget(turns []*entities.Turn) bool {
	if w.cfg.MaxTurns > 0 && len(turns) > w.cfg.MaxTurns {
		return false
	}
	return w.cfg.MaxTokens <= 0 || tokenCount(turns) <= w.cfg.MaxTokens
}

func (w *MemoryWindow) compact(ctx context.Context, ownerID string, turns []*entities.Turn) error {
	var previous *entities.Turn
	rest := turns
	if len(turns) > 0 && turns[0].Role == entities.RoleSummary {
		previous = turns[0]
		rest = turns[1:]
	}

	summaryTokens := (w.cfg.SummaryMaxChars + 3) / 4
	keep := 0
	used := 0
	for i := len(rest) - 1; i >= 0; i-- {
		cost := estimateTokens(rest[i].Text)
		if w.cfg.MaxTurns > 0 && keep+1 > w.cfg.MaxTurns-1 {
			break
		}
		if w.cfg.MaxTokens > 0 && summaryTokens+used+cost > w.cfg.MaxTokens {
			break
		}
		keep++
		used += cost
	}

	folded := rest[:len(rest)-keep]
	if len(folded) == 0 {
		return nil
	}

	previousText := ""
	removed := make([]uuid.UUID, 0, len(folded)+1)
	if previous != nil {
		previousText = previous.Text
		removed = append(removed, previous.ID)
	}
	for _, t := range folded {
		removed = append(removed, t.ID)
	}

	text, err := w.summarizer.Summarize(ctx, previousText, folded)
	if err != nil {
		w.logger.Warnw("Summarizer failed, using heuristic", "owner_id", ownerID, "error", err)
		text, _ = NewHeuristicSummarizer(w.cfg.SummaryMaxChars).Summarize(ctx, previousText, folded)
	}

	summary := &entities.Turn{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Role:      entities.RoleSummary,
		Text:      clipTail(text, w.cfg.SummaryMaxChars),
		Timestamp: folded[len(folded)-1].Timestamp,
	}

	if err := w.repo.Compact(ctx, ownerID, summary, removed); err != nil {
		return fmt.Errorf("failed to compact conversation: %w", err)
	}

	w.logger.Debugw("Conversation compacted", "owner_id", ownerID, "folded", len(folded), "kept", keep)
	return nil
}

func tokenCount(turns []*entities.Turn) int {
	total := 0
	for _, t := range turns {
		total += estimateTokens(t.Text)
	}
	return total
}
