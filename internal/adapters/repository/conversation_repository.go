package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/telemind/core/internal/domain/entities"
)

// ConversationRepository stores conversation windows in Postgres
type ConversationRepository struct {
	db *sqlx.DB
}

// NewConversationRepository creates a new conversation repository
func NewConversationRepository(db *sqlx.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

func (r *ConversationRepository) AppendTurn(ctx context.Context, turn *entities.Turn) error {
	query := `
		INSERT INTO conversation_turns (id, owner_id, role, text, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	if turn.ID == uuid.Nil {
		turn.ID = uuid.New()
	}

	if _, err := r.db.ExecContext(ctx, query, turn.ID, turn.OwnerID, turn.Role, turn.Text, turn.Timestamp.UTC()); err != nil {
		return storeError("append turn", err)
	}
	return nil
}

// ListTurns returns the window oldest first with the summary turn, if any, at the head
func (r *ConversationRepository) ListTurns(ctx context.Context, ownerID string) ([]*entities.Turn, error) {
	query := `
		SELECT id, owner_id, role, text, created_at
		FROM conversation_turns
		WHERE owner_id = $1
		ORDER BY CASE WHEN role = 'summary' THEN 0 ELSE 1 END, seq`

	var turns []*entities.Turn
	if err := r.db.SelectContext(ctx, &turns, query, ownerID); err != nil {
		return nil, storeError("list turns", err)
	}
	return turns, nil
}

// Compact replaces the removed turns with summary in one transaction
func (r *ConversationRepository) Compact(ctx context.Context, ownerID string, summary *entities.Turn, removed []uuid.UUID) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return storeError("begin compaction", err)
	}
	defer tx.Rollback()

	if len(removed) > 0 {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM conversation_turns WHERE owner_id = $1 AND id = ANY($2::uuid[])`,
			ownerID, pq.Array(uuidStrings(removed)),
		); err != nil {
			return storeError("delete compacted turns", err)
		}
	}

	if summary != nil {
		if summary.ID == uuid.Nil {
			summary.ID = uuid.New()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO conversation_turns (id, owner_id, role, text, created_at) VALUES ($1, $2, $3, $4, $5)`,
			summary.ID, ownerID, entities.RoleSummary, summary.Text, summary.Timestamp.UTC(),
		); err != nil {
			return storeError("insert summary", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storeError("commit compaction", fmt.Errorf("owner %s: %w", ownerID, err))
	}
	return nil
}
