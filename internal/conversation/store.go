package conversation

import (
	"context"
	"sync"
	"time"
)

// Store persists conversation records across transport sessions.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get retrieves a conversation record by ID. Returns (nil, nil) if not
	// found.
	Get(ctx context.Context, id string) (*Record, error)

	// Save creates or replaces a conversation record.
	Save(ctx context.Context, rec *Record) error

	// Delete removes a conversation record. Deleting a non-existent record
	// is not an error.
	Delete(ctx context.Context, id string) error
}

// MemStore is an in-memory [Store] for tests and single-process deployments.
type MemStore struct {
	mu   sync.RWMutex
	recs map[string]*Record
	now  func() time.Time
}

var _ Store = (*MemStore)(nil)

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		recs: make(map[string]*Record),
		now:  time.Now,
	}
}

func (s *MemStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.recs[id]
	if !ok {
		return nil, nil
	}
	return rec.Clone(), nil
}

func (s *MemStore) Save(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := rec.Clone()
	if prev, ok := s.recs[rec.ID]; ok {
		c.StartedAt = prev.StartedAt
	} else if c.StartedAt.IsZero() {
		c.StartedAt = s.now()
	}
	c.UpdatedAt = s.now()
	s.recs[rec.ID] = c
	return nil
}

func (s *MemStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.recs, id)
	return nil
}
