package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/telemind/core/internal/domain/entities"
	"github.com/telemind/core/internal/ports"
)

// Store keeps tasks, conversation windows, profiles, attachments and
// processed event ids in Firestore. One store implements all the ports.
type Store struct {
	client *firestore.Client
	prefix string
	now    func() time.Time
}

// NewStore creates a Firestore store. Collection names are prefixed with prefix.
func NewStore(ctx context.Context, projectID, prefix string) (*Store, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required for Firestore store")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}

	return &Store{client: client, prefix: prefix, now: time.Now}, nil
}

// Close releases the underlying client
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping reads a single document to check connectivity
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.Collection(s.name("profiles")).Doc("_health").Get(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return storeError("ping", err)
	}
	return nil
}

// Helpers

func (s *Store) name(collection string) string {
	if s.prefix == "" {
		return collection
	}
	return s.prefix + "_" + collection
}

func (s *Store) tasksCol() *firestore.CollectionRef {
	return s.client.Collection(s.name("tasks"))
}

func (s *Store) taskDoc(id uuid.UUID) *firestore.DocumentRef {
	return s.tasksCol().Doc(id.String())
}

func (s *Store) profileDoc(ownerID string) *firestore.DocumentRef {
	return s.client.Collection(s.name("profiles")).Doc(ownerID)
}

func (s *Store) turnsCol(ownerID string) *firestore.CollectionRef {
	return s.profileDoc(ownerID).Collection("turns")
}

func (s *Store) attachmentsCol(ownerID string) *firestore.CollectionRef {
	return s.profileDoc(ownerID).Collection("attachments")
}

func (s *Store) eventDoc(eventID string) *firestore.DocumentRef {
	return s.client.Collection(s.name("processed_events")).Doc(eventID)
}

// Firestore Types

type turnDoc struct {
	Role      string    `firestore:"role"`
	Text      string    `firestore:"text"`
	CreatedAt time.Time `firestore:"created_at"`
}

type profileDoc struct {
	Timezone  string    `firestore:"timezone"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

type eventDoc struct {
	ExpiresAt time.Time `firestore:"expires_at"`
}

// TaskRepository implementation

func (s *Store) Create(ctx context.Context, task *entities.Task) error {
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	if task.Priority == "" {
		task.Priority = entities.PriorityMedium
	}
	if _, err := s.taskDoc(task.ID).Create(ctx, task); err != nil {
		return storeError("create task", err)
	}
	return nil
}

func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*entities.Task, error) {
	snap, err := s.taskDoc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, entities.ErrTaskNotFound
		}
		return nil, storeError("get task", err)
	}
	return decodeTask(snap)
}

func (s *Store) ListDueBefore(ctx context.Context, q ports.DueQuery) ([]*entities.Task, error) {
	query := s.tasksCol().
		Where("state", "==", string(entities.TaskStatePending)).
		Where("due_at", "<=", q.Before.UTC())
	if q.OwnerID != "" {
		query = query.Where("owner_id", "==", q.OwnerID)
	}
	query = query.OrderBy("due_at", firestore.Asc)
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}

	return s.collectTasks(ctx, "list due tasks", query, nil)
}

// Transition reads and writes the task inside one transaction; the state check is the compare step
func (s *Store) Transition(ctx context.Context, id uuid.UUID, from, to entities.TaskState, fields entities.TransitionFields) (*entities.Task, error) {
	if !entities.CanTransition(from, to) {
		return nil, entities.ErrInvalidTransition
	}

	var updated *entities.Task
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(s.taskDoc(id))
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return entities.ErrTaskNotFound
			}
			return err
		}

		task, err := decodeTask(snap)
		if err != nil {
			return err
		}
		if task.State != from {
			return entities.ErrStateConflict
		}

		fields.Apply(task, to)
		updated = task
		return tx.Set(s.taskDoc(id), task)
	})

	switch {
	case err == nil:
		return updated, nil
	case errors.Is(err, entities.ErrTaskNotFound), errors.Is(err, entities.ErrStateConflict):
		return nil, err
	}
	return nil, storeError("transition task", err)
}

func (s *Store) ListByOwner(ctx context.Context, ownerID string, filter ports.TaskFilter) ([]*entities.Task, error) {
	query := s.tasksCol().Where("owner_id", "==", ownerID)
	if filter.Kind != nil {
		query = query.Where("kind", "==", string(*filter.Kind))
	}
	query = query.OrderBy("created_at", firestore.Asc)

	tasks, err := s.collectTasks(ctx, "list tasks", query, filter.Matches)
	if err != nil {
		return nil, err
	}
	if filter.Limit > 0 && len(tasks) > filter.Limit {
		tasks = tasks[:filter.Limit]
	}
	return tasks, nil
}

func (s *Store) ListUnconfirmedClaims(ctx context.Context, q ports.ClaimQuery) ([]*entities.Task, error) {
	query := s.tasksCol().Where("state", "==", string(entities.TaskStateNotified))
	if q.OwnerID != "" {
		query = query.Where("owner_id", "==", q.OwnerID)
	}
	query = query.
		Where("last_attempt_at", "<=", q.ClaimedBefore.UTC()).
		OrderBy("last_attempt_at", firestore.Asc)

	tasks, err := s.collectTasks(ctx, "list unconfirmed claims", query, func(t *entities.Task) bool {
		return t.DeliveredAt == nil
	})
	if err != nil {
		return nil, err
	}
	if q.Limit > 0 && len(tasks) > q.Limit {
		tasks = tasks[:q.Limit]
	}
	return tasks, nil
}

func (s *Store) ListUnreportedFailures(ctx context.Context, ownerID string) ([]*entities.Task, error) {
	query := s.tasksCol().
		Where("owner_id", "==", ownerID).
		Where("state", "==", string(entities.TaskStateFailed)).
		OrderBy("created_at", firestore.Asc)

	return s.collectTasks(ctx, "list failed tasks", query, func(t *entities.Task) bool {
		return t.FailureReportedAt == nil
	})
}

func (s *Store) MarkFailuresReported(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		for _, id := range ids {
			if err := tx.Update(s.taskDoc(id), []firestore.Update{
				{Path: "failure_reported_at", Value: at.UTC()},
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return storeError("mark failures reported", err)
	}
	return nil
}

func (s *Store) collectTasks(ctx context.Context, op string, query firestore.Query, keep func(*entities.Task) bool) ([]*entities.Task, error) {
	iter := query.Documents(ctx)
	defer iter.Stop()

	var out []*entities.Task
	for {
		snap, err := iter.Next()
		if err != nil {
			if err == iterator.Done {
				break
			}
			return nil, storeError(op, err)
		}

		task, err := decodeTask(snap)
		if err != nil {
			return nil, err
		}
		if keep == nil || keep(task) {
			out = append(out, task)
		}
	}
	return out, nil
}

func decodeTask(snap *firestore.DocumentSnapshot) (*entities.Task, error) {
	var task entities.Task
	if err := snap.DataTo(&task); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", snap.Ref.ID, err)
	}
	id, err := uuid.Parse(snap.Ref.ID)
	if err != nil {
		return nil, fmt.Errorf("decode task id %q: %w", snap.Ref.ID, err)
	}
	task.ID = id
	if task.Priority == "" {
		task.Priority = entities.PriorityMedium
	}
	return &task, nil
}

// ConversationRepository implementation

func (s *Store) AppendTurn(ctx context.Context, turn *entities.Turn) error {
	if turn.ID == uuid.Nil {
		turn.ID = uuid.New()
	}

	doc := turnDoc{Role: string(turn.Role), Text: turn.Text, CreatedAt: turn.Timestamp.UTC()}
	if _, err := s.turnsCol(turn.OwnerID).Doc(turn.ID.String()).Set(ctx, doc); err != nil {
		return storeError("append turn", err)
	}
	return nil
}

func (s *Store) ListTurns(ctx context.Context, ownerID string) ([]*entities.Turn, error) {
	iter := s.turnsCol(ownerID).OrderBy("created_at", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var out []*entities.Turn
	for {
		snap, err := iter.Next()
		if err != nil {
			if err == iterator.Done {
				break
			}
			return nil, storeError("list turns", err)
		}

		var doc turnDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode turnDoc: %w", err)
		}
		id, err := uuid.Parse(snap.Ref.ID)
		if err != nil {
			return nil, fmt.Errorf("decode turn id %q: %w", snap.Ref.ID, err)
		}

		out = append(out, &entities.Turn{
			ID:        id,
			OwnerID:   ownerID,
			Role:      entities.Role(doc.Role),
			Text:      doc.Text,
			Timestamp: doc.CreatedAt,
		})
	}

	summaryFirst(out)
	return out, nil
}

func (s *Store) Compact(ctx context.Context, ownerID string, summary *entities.Turn, removed []uuid.UUID) error {
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		for _, id := range removed {
			if err := tx.Delete(s.turnsCol(ownerID).Doc(id.String())); err != nil {
				return err
			}
		}
		if summary == nil {
			return nil
		}
		if summary.ID == uuid.Nil {
			summary.ID = uuid.New()
		}
		return tx.Set(s.turnsCol(ownerID).Doc(summary.ID.String()), turnDoc{
			Role:      string(entities.RoleSummary),
			Text:      summary.Text,
			CreatedAt: summary.Timestamp.UTC(),
		})
	})
	if err != nil {
		return storeError("compact turns", err)
	}
	return nil
}

// summaryFirst moves the summary turn to the head, keeping the rest in order
func summaryFirst(turns []*entities.Turn) {
	sort.SliceStable(turns, func(i, j int) bool {
		return turns[i].Role == entities.RoleSummary && turns[j].Role != entities.RoleSummary
	})
}

// ProfileRepository implementation

func (s *Store) GetTimezone(ctx context.Context, ownerID string) (string, error) {
	snap, err := s.profileDoc(ownerID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", nil
		}
		return "", storeError("get timezone", err)
	}

	var doc profileDoc
	if err := snap.DataTo(&doc); err != nil {
		return "", fmt.Errorf("decode profileDoc: %w", err)
	}
	return doc.Timezone, nil
}

func (s *Store) SetTimezone(ctx context.Context, ownerID, timezone string) error {
	doc := map[string]interface{}{
		"timezone":   timezone,
		"updated_at": s.now().UTC(),
	}
	if _, err := s.profileDoc(ownerID).Set(ctx, doc, firestore.MergeAll); err != nil {
		return storeError("set timezone", err)
	}
	return nil
}

// EventDeduplicator implementation

func (s *Store) Claim(ctx context.Context, eventID string, window time.Duration) (bool, error) {
	claimed := false
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		claimed = false
		now := s.now().UTC()

		snap, err := tx.Get(s.eventDoc(eventID))
		switch {
		case err == nil:
			var doc eventDoc
			if err := snap.DataTo(&doc); err != nil {
				return err
			}
			if now.Before(doc.ExpiresAt) {
				return nil
			}
		case status.Code(err) != codes.NotFound:
			return err
		}

		claimed = true
		return tx.Set(s.eventDoc(eventID), eventDoc{ExpiresAt: now.Add(window)})
	})
	if err != nil {
		return false, storeError("claim event", err)
	}
	return claimed, nil
}

func (s *Store) Release(ctx context.Context, eventID string) error {
	if _, err := s.eventDoc(eventID).Delete(ctx); err != nil {
		return storeError("release event", err)
	}
	return nil
}

// AttachmentSink implementation

func (s *Store) Store(ctx context.Context, a entities.Attachment) error {
	if _, _, err := s.attachmentsCol(a.OwnerID).Add(ctx, a); err != nil {
		return storeError("store attachment", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, ownerID string) ([]entities.Attachment, error) {
	iter := s.attachmentsCol(ownerID).OrderBy("received_at", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var out []entities.Attachment
	for {
		snap, err := iter.Next()
		if err != nil {
			if err == iterator.Done {
				break
			}
			return nil, storeError("list attachments", err)
		}

		var a entities.Attachment
		if err := snap.DataTo(&a); err != nil {
			return nil, fmt.Errorf("decode attachment: %w", err)
		}
		out = append(out, a)
	}
	return out, nil
}

// storeError marks Firestore failures as ErrStoreUnavailable, leaving cancellation intact
func storeError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || status.Code(err) == codes.Canceled {
		return fmt.Errorf("firestore %s: %w", op, err)
	}
	return fmt.Errorf("firestore %s: %w: %v", op, entities.ErrStoreUnavailable, err)
}
