// Package store defines the persistence collaborator for account ledgers:
// an opaque document store holding one full ledger snapshot per account.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache and change fan-out), and in-memory (for testing and guest-only runs).
//
// The core never blocks on this package: saves are fire-and-forget side
// effects after an in-memory commit, and a failed save never rolls the
// committed ledger back.
package store

import (
	"context"
	"errors"

	"github.com/papersim/trade-engine/internal/model"
)

// ErrNotFound is returned by Load when no ledger exists for the account.
var ErrNotFound = errors.New("store: ledger not found")

// Store is the persistence interface consumed by account sessions.
type Store interface {
	// Load retrieves the last saved ledger snapshot for an account.
	Load(ctx context.Context, accountID string) (*model.Ledger, error)

	// Save upserts the full ledger snapshot. Idempotent; no field-level
	// update semantics.
	Save(ctx context.Context, accountID string, l *model.Ledger) error

	// Subscribe registers a callback for externally-made ledger changes.
	// The returned function unsubscribes.
	Subscribe(ctx context.Context, accountID string, onChange func(*model.Ledger)) (func(), error)
}
