package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/telemind/core/internal/domain/entities"
)

// uniqueViolation is the Postgres error code for duplicate keys
const uniqueViolation = "23505"

// ProfileRepository stores per-owner preferences
type ProfileRepository struct {
	db *sqlx.DB
}

// NewProfileRepository creates a new profile repository
func NewProfileRepository(db *sqlx.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

func (r *ProfileRepository) GetTimezone(ctx context.Context, ownerID string) (string, error) {
	var tz string
	err := r.db.GetContext(ctx, &tz, `SELECT timezone FROM profiles WHERE owner_id = $1`, ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", storeError("get timezone", err)
	}
	return tz, nil
}

func (r *ProfileRepository) SetTimezone(ctx context.Context, ownerID, timezone string) error {
	query := `
		INSERT INTO profiles (owner_id, timezone, updated_at)
		VALUES ($1, $2, CURRENT_TIMESTAMP)
		ON CONFLICT (owner_id) DO UPDATE SET timezone = EXCLUDED.timezone, updated_at = EXCLUDED.updated_at`

	if _, err := r.db.ExecContext(ctx, query, ownerID, timezone); err != nil {
		return storeError("set timezone", err)
	}
	return nil
}

// EventRepository deduplicates inbound events through the processed_events primary key
type EventRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *sqlx.DB) *EventRepository {
	return &EventRepository{db: db, now: time.Now}
}

// Claim inserts the event id. A unique violation means the id was seen before;
// the claim is only taken over when the earlier one has expired.
func (r *EventRepository) Claim(ctx context.Context, eventID string, window time.Duration) (bool, error) {
	now := r.now().UTC()

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO processed_events (event_id, expires_at) VALUES ($1, $2)`,
		eventID, now.Add(window),
	)
	if err == nil {
		return true, nil
	}

	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
		return false, storeError("claim event", err)
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE processed_events SET expires_at = $2 WHERE event_id = $1 AND expires_at <= $3`,
		eventID, now.Add(window), now,
	)
	if err != nil {
		return false, storeError("reclaim event", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeError("reclaim event", err)
	}
	return n == 1, nil
}

func (r *EventRepository) Release(ctx context.Context, eventID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM processed_events WHERE event_id = $1`, eventID); err != nil {
		return storeError("release event", err)
	}
	return nil
}

// AttachmentRepository records attachment metadata
type AttachmentRepository struct {
	db *sqlx.DB
}

// NewAttachmentRepository creates a new attachment repository
func NewAttachmentRepository(db *sqlx.DB) *AttachmentRepository {
	return &AttachmentRepository{db: db}
}

func (r *AttachmentRepository) Store(ctx context.Context, a entities.Attachment) error {
	query := `
		INSERT INTO attachments (owner_id, file_id, file_name, mime_type, size, received_at)
		VALUES (:owner_id, :file_id, :file_name, :mime_type, :size, :received_at)`

	if _, err := r.db.NamedExecContext(ctx, query, a); err != nil {
		return storeError("store attachment", err)
	}
	return nil
}

func (r *AttachmentRepository) List(ctx context.Context, ownerID string) ([]entities.Attachment, error) {
	query := `
		SELECT owner_id, file_id, file_name, mime_type, size, received_at
		FROM attachments
		WHERE owner_id = $1
		ORDER BY id`

	var files []entities.Attachment
	if err := r.db.SelectContext(ctx, &files, query, ownerID); err != nil {
		return nil, storeError("list attachments", err)
	}
	return files, nil
}
