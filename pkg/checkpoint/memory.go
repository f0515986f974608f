package checkpoint

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store. Records are copied on the way in and out.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Checkpoint
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Checkpoint)}
}

func (s *MemoryStore) Load(ctx context.Context, collection string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.records[collection]
	if !ok {
		return nil, nil
	}
	return cp.Clone(), nil
}

func (s *MemoryStore) Save(ctx context.Context, cp Checkpoint) error {
	if err := cp.Validate(); err != nil {
		return err
	}
	cp = stamp(cp)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := checkAdvance(s.records[cp.Collection], cp); err != nil {
		return err
	}
	s.records[cp.Collection] = cp.Clone()
	SavesTotal.WithLabelValues("memory").Inc()
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, collection)
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Checkpoint, 0, len(s.records))
	for _, cp := range s.records {
		out = append(out, *cp.Clone())
	}
	sortCheckpoints(out)
	return out, nil
}
