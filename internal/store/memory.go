package store

import (
	"context"
	"sync"

	"github.com/papersim/trade-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and for
// running without a database (data does not persist across restarts).
type MemoryStore struct {
	mu      sync.RWMutex
	ledgers map[string]*model.Ledger
	subs    map[string]map[int]func(*model.Ledger)
	nextSub int
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ledgers: make(map[string]*model.Ledger),
		subs:    make(map[string]map[int]func(*model.Ledger)),
	}
}

func (s *MemoryStore) Load(_ context.Context, accountID string) (*model.Ledger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.ledgers[accountID]
	if !ok {
		return nil, ErrNotFound
	}
	return l.Clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, accountID string, l *model.Ledger) error {
	s.mu.Lock()
	s.ledgers[accountID] = l.Clone()
	var fns []func(*model.Ledger)
	for _, fn := range s.subs[accountID] {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	// Notify outside the lock; each subscriber gets its own copy.
	for _, fn := range fns {
		fn(l.Clone())
	}
	return nil
}

func (s *MemoryStore) Subscribe(_ context.Context, accountID string, onChange func(*model.Ledger)) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	if s.subs[accountID] == nil {
		s.subs[accountID] = make(map[int]func(*model.Ledger))
	}
	s.subs[accountID][id] = onChange

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs[accountID], id)
	}, nil
}
