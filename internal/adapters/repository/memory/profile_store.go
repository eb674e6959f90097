package memory

import (
	"context"
	"sync"
	"time"
)

type ProfileStore struct {
	mu        sync.RWMutex
	timezones map[string]string
}

func NewProfileStore() *ProfileStore {
	return &ProfileStore{
		timezones: make(map[string]string),
	}
}

// GetTimezone returns an empty string for owners without a stored zone.
func (s *ProfileStore) GetTimezone(ctx context.Context, ownerID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.timezones[ownerID], nil
}

func (s *ProfileStore) SetTimezone(ctx context.Context, ownerID, timezone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.timezones[ownerID] = timezone
	return nil
}

// EventStore deduplicates inbound events within a time window.
type EventStore struct {
	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

func NewEventStore() *EventStore {
	return &EventStore{
		seen: make(map[string]time.Time),
		now:  time.Now,
	}
}

func (s *EventStore) Claim(ctx context.Context, eventID string, window time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if expires, ok := s.seen[eventID]; ok && now.Before(expires) {
		return false, nil
	}
	s.seen[eventID] = now.Add(window)
	return true, nil
}

func (s *EventStore) Release(ctx context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.seen, eventID)
	return nil
}
