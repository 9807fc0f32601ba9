package dedup

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xaenox/lesson-monitor/internal/models"
)

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[models.DedupKey]*Entry
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultReservationTTL
	}
	return &MemoryStore{
		entries: make(map[models.DedupKey]*Entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// WithClock replaces the clock used for reservation expiry.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) Reserve(_ context.Context, key models.DedupKey) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	if e, ok := s.entries[key]; ok {
		switch e.State {
		case StateDelivered:
			return false, nil
		case StatePending:
			if now.Sub(e.UpdatedAt) < s.ttl {
				return false, nil
			}
		}
	}

	s.entries[key] = &Entry{Key: key, State: StatePending, UpdatedAt: now}
	return true, nil
}

func (s *MemoryStore) Confirm(_ context.Context, key models.DedupKey, alertID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok && e.State == StateDelivered {
		return nil
	}
	s.entries[key] = &Entry{Key: key, State: StateDelivered, AlertID: alertID, UpdatedAt: s.now().UTC()}
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key models.DedupKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok && e.State == StatePending {
		delete(s.entries, key)
	}
	return nil
}

func (s *MemoryStore) Resolve(_ context.Context, key models.DedupKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return fmt.Errorf("dedup key %s: %w", key, models.ErrNotFound)
	}
	e.State = StateResolved
	e.UpdatedAt = s.now().UTC()
	return nil
}

func (s *MemoryStore) Unresolved(_ context.Context) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Entry
	for _, e := range s.entries {
		if e.State == StateDelivered {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].AlertID < out[j].AlertID
	})
	return out, nil
}
