package session

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/papersim/trade-engine/internal/store"
)

// GuestAccountID is the shared account for unauthenticated requests. Guest
// state never touches the persistence collaborator.
const GuestAccountID = "guest"

// Manager creates and tracks one session per account.
type Manager struct {
	store        store.Store // nil → every session is in-memory only
	prices       PriceSource
	hub          Broadcaster
	startingCash decimal.Decimal

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a session manager. A nil store disables persistence for
// all accounts.
func NewManager(st store.Store, prices PriceSource, hub Broadcaster, startingCash decimal.Decimal) *Manager {
	return &Manager{
		store:        st,
		prices:       prices,
		hub:          hub,
		startingCash: startingCash,
		sessions:     make(map[string]*Session),
	}
}

// Get returns the session for an account, opening it on first use. An empty
// accountID resolves to the shared guest session.
func (m *Manager) Get(ctx context.Context, accountID string) *Session {
	if accountID == "" {
		accountID = GuestAccountID
	}

	m.mu.RLock()
	s, ok := m.sessions[accountID]
	m.mu.RUnlock()
	if ok {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[accountID]; ok {
		return s
	}

	if accountID == GuestAccountID || m.store == nil {
		s = OpenGuest(accountID, m.startingCash, m.prices, m.hub)
	} else {
		s = Open(ctx, accountID, m.startingCash, m.prices, m.store, m.hub)
	}
	m.sessions[accountID] = s
	return s
}

// Each calls fn for every open session. Used by the simulation clock to run
// the per-tick matching pass.
func (m *Manager) Each(fn func(*Session)) {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	for _, s := range sessions {
		fn(s)
	}
}

// Close closes every session's store subscription.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		s.Close()
	}
}
