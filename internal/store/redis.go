package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/papersim/trade-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache, and uses Redis pub/sub for change fan-out instead of the primary's
// subscription mechanism. Writes go to the primary first; the cache and the
// change channel are only updated after the primary accepts the snapshot.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func (s *CachedStore) Load(ctx context.Context, accountID string) (*model.Ledger, error) {
	data, err := s.rdb.Get(ctx, ledgerKey(accountID)).Bytes()
	if err == nil {
		var l model.Ledger
		if json.Unmarshal(data, &l) == nil {
			l.Normalize()
			return &l, nil
		}
	}

	// Cache miss: read from primary.
	l, err := s.primary.Load(ctx, accountID)
	if err != nil {
		return nil, err
	}

	s.cacheLedger(ctx, accountID, l)
	return l, nil
}

func (s *CachedStore) Save(ctx context.Context, accountID string, l *model.Ledger) error {
	if err := s.primary.Save(ctx, accountID, l); err != nil {
		return err
	}
	data := s.cacheLedger(ctx, accountID, l)
	if data != nil {
		// Publish the snapshot itself so subscribers skip a read round-trip.
		s.rdb.Publish(ctx, ledgerChangedChannel(accountID), data)
	}
	return nil
}

// Subscribe listens on the account's Redis change channel. Each message
// carries the full snapshot as published by Save.
func (s *CachedStore) Subscribe(ctx context.Context, accountID string, onChange func(*model.Ledger)) (func(), error) {
	sub := s.rdb.Subscribe(ctx, ledgerChangedChannel(accountID))
	// Force the subscription to be established before returning.
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", accountID, err)
	}

	go func() {
		for msg := range sub.Channel() {
			var l model.Ledger
			if err := json.Unmarshal([]byte(msg.Payload), &l); err != nil {
				slog.Warn("bad ledger change payload", "account", accountID, "err", err)
				continue
			}
			l.Normalize()
			onChange(&l)
		}
	}()

	return func() { sub.Close() }, nil
}

func (s *CachedStore) cacheLedger(ctx context.Context, accountID string, l *model.Ledger) []byte {
	data, err := json.Marshal(l)
	if err != nil {
		return nil
	}
	s.rdb.Set(ctx, ledgerKey(accountID), data, s.ttl)
	return data
}

func ledgerKey(accountID string) string            { return fmt.Sprintf("ledger:%s", accountID) }
func ledgerChangedChannel(accountID string) string { return fmt.Sprintf("ledger.changed:%s", accountID) }
