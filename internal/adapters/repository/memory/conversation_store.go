package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/telemind/core/internal/domain/entities"
)

type ConversationStore struct {
	mu    sync.RWMutex
	turns map[string][]*entities.Turn
}

func NewConversationStore() *ConversationStore {
	return &ConversationStore{
		turns: make(map[string][]*entities.Turn),
	}
}

func (s *ConversationStore) AppendTurn(ctx context.Context, turn *entities.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if turn.ID == uuid.Nil {
		turn.ID = uuid.New()
	}
	t := *turn
	s.turns[turn.OwnerID] = append(s.turns[turn.OwnerID], &t)
	return nil
}

func (s *ConversationStore) ListTurns(ctx context.Context, ownerID string) ([]*entities.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.turns[ownerID]
	out := make([]*entities.Turn, 0, len(stored))
	for _, t := range stored {
		c := *t
		out = append(out, &c)
	}
	return out, nil
}

// Compact drops the removed turns and puts summary at the head of the window.
func (s *ConversationStore) Compact(ctx context.Context, ownerID string, summary *entities.Turn, removed []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	drop := make(map[uuid.UUID]struct{}, len(removed))
	for _, id := range removed {
		drop[id] = struct{}{}
	}

	kept := make([]*entities.Turn, 0, len(s.turns[ownerID])+1)
	if summary != nil {
		if summary.ID == uuid.Nil {
			summary.ID = uuid.New()
		}
		c := *summary
		kept = append(kept, &c)
	}
	for _, t := range s.turns[ownerID] {
		if _, ok := drop[t.ID]; !ok {
			kept = append(kept, t)
		}
	}

	s.turns[ownerID] = kept
	return nil
}

type AttachmentStore struct {
	mu    sync.RWMutex
	files map[string][]entities.Attachment
}

func NewAttachmentStore() *AttachmentStore {
	return &AttachmentStore{
		files: make(map[string][]entities.Attachment),
	}
}

func (s *AttachmentStore) Store(ctx context.Context, attachment entities.Attachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.files[attachment.OwnerID] = append(s.files[attachment.OwnerID], attachment)
	return nil
}

func (s *AttachmentStore) List(ctx context.Context, ownerID string) ([]entities.Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]entities.Attachment(nil), s.files[ownerID]...), nil
}
