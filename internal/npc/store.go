package npc

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Store provides CRUD operations for NPC definitions.
// Implementations must be safe for concurrent use.
type Store interface {
	// Create inserts a new NPC definition. The definition is validated before
	// insertion. Returns an error if an NPC with the same ID already exists.
	Create(ctx context.Context, def *Definition) error

	// Get retrieves an NPC definition by ID. Returns (nil, nil) if not found.
	Get(ctx context.Context, id string) (*Definition, error)

	// Update replaces an existing NPC definition. The definition is validated
	// before the update. Returns an error if the NPC is not found.
	Update(ctx context.Context, def *Definition) error

	// Delete removes an NPC definition by ID. Deleting a non-existent NPC is
	// not an error.
	Delete(ctx context.Context, id string) error

	// List returns all NPC definitions, optionally filtered by project ID.
	// An empty projectID returns all definitions.
	List(ctx context.Context, projectID string) ([]Definition, error)

	// Upsert creates or replaces an NPC definition (useful for YAML import).
	// The definition is validated before persistence.
	Upsert(ctx context.Context, def *Definition) error
}

// MemStore is an in-memory [Store] for tests and single-process deployments
// where definitions are loaded from YAML at startup.
type MemStore struct {
	mu   sync.RWMutex
	defs map[string]Definition
	now  func() time.Time
}

var _ Store = (*MemStore)(nil)

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		defs: make(map[string]Definition),
		now:  time.Now,
	}
}

func (s *MemStore) Create(_ context.Context, def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.defs[def.ID]; ok {
		return fmt.Errorf("npc: npc with id %q already exists", def.ID)
	}
	def.CreatedAt = s.now()
	def.UpdatedAt = def.CreatedAt
	s.defs[def.ID] = *def
	return nil
}

func (s *MemStore) Get(_ context.Context, id string) (*Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.defs[id]
	if !ok {
		return nil, nil
	}
	return &def, nil
}

func (s *MemStore) Update(_ context.Context, def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.defs[def.ID]
	if !ok {
		return fmt.Errorf("npc: npc with id %q not found", def.ID)
	}
	def.CreatedAt = prev.CreatedAt
	def.UpdatedAt = s.now()
	s.defs[def.ID] = *def
	return nil
}

func (s *MemStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.defs, id)
	return nil
}

func (s *MemStore) List(_ context.Context, projectID string) ([]Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var defs []Definition
	for _, def := range s.defs {
		if projectID == "" || def.ProjectID == projectID {
			defs = append(defs, def)
		}
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs, nil
}

func (s *MemStore) Upsert(_ context.Context, def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.defs[def.ID]; ok {
		def.CreatedAt = prev.CreatedAt
	} else {
		def.CreatedAt = s.now()
	}
	def.UpdatedAt = s.now()
	s.defs[def.ID] = *def
	return nil
}
