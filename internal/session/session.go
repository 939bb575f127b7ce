// Package session owns the per-account mutation boundary. Every ledger
// change — user-initiated trades and cancels, and tick-driven fills — runs
// through one mutex-guarded compute-then-swap critical section, so the two
// paths can never interleave on the same aggregate or observe a half-applied
// ledger. The committed ledger is always re-read inside the critical section;
// no transition is ever computed against a snapshot held across a tick.
//
// Persistence is a fire-and-forget side effect after the in-memory commit:
// a failed save is reported as a warning, never rolled back or retried, and
// guest sessions skip it entirely.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/papersim/trade-engine/internal/ledger"
	"github.com/papersim/trade-engine/internal/match"
	"github.com/papersim/trade-engine/internal/metrics"
	"github.com/papersim/trade-engine/internal/model"
	"github.com/papersim/trade-engine/internal/store"
)

// PriceSource supplies execution prices for market orders and asset-existence
// checks. Implemented by the price engine.
type PriceSource interface {
	Price(assetID string) (decimal.Decimal, bool)
}

// Broadcaster pushes fill and notification events to presentation surfaces.
// Implemented by the WebSocket hub; may be nil.
type Broadcaster interface {
	OrderFilled(accountID string, tx model.Transaction)
	Notify(accountID string, n model.Notification)
}

// Session is one account's live trading state.
type Session struct {
	accountID   string
	guest       bool
	prices      PriceSource
	store       store.Store // nil for guest sessions
	hub         Broadcaster
	saveTimeout time.Duration

	mu          sync.Mutex
	ledger      *model.Ledger
	unsubscribe func()
}

// Open creates a session backed by the store: the last saved snapshot is
// loaded (a fresh ledger is started if none exists) and external changes are
// subscribed to. Load failure falls back to a fresh in-memory ledger — the
// session must stay usable when persistence is down.
//
// The session outlives the request that opened it, so the store subscription
// must not die with the caller's context.
func Open(ctx context.Context, accountID string, startingCash decimal.Decimal, prices PriceSource, st store.Store, hub Broadcaster) *Session {
	ctx = context.WithoutCancel(ctx)
	s := &Session{
		accountID:   accountID,
		prices:      prices,
		store:       st,
		hub:         hub,
		saveTimeout: 5 * time.Second,
	}

	l, err := st.Load(ctx, accountID)
	switch {
	case err == nil:
		l.Normalize()
		s.ledger = l
	case errors.Is(err, store.ErrNotFound):
		s.ledger = model.NewLedger(startingCash)
	default:
		slog.Warn("ledger load failed, starting in-memory", "account", accountID, "err", err)
		s.notify(model.SeverityWarning, "persistence unavailable, session is in-memory only")
		s.ledger = model.NewLedger(startingCash)
	}

	unsub, err := st.Subscribe(ctx, accountID, s.onRemoteChange)
	if err != nil {
		slog.Warn("ledger subscription failed", "account", accountID, "err", err)
	} else {
		s.unsubscribe = unsub
	}
	return s
}

// OpenGuest creates an in-memory-only session. Persistence is skipped; the
// ledger lives only for the process lifetime.
func OpenGuest(accountID string, startingCash decimal.Decimal, prices PriceSource, hub Broadcaster) *Session {
	return &Session{
		accountID:   accountID,
		guest:       true,
		prices:      prices,
		hub:         hub,
		saveTimeout: 5 * time.Second,
		ledger:      model.NewLedger(startingCash),
	}
}

// AccountID returns the account this session belongs to.
func (s *Session) AccountID() string { return s.accountID }

// Guest reports whether the session skips persistence.
func (s *Session) Guest() bool { return s.guest }

// Ledger returns a deep copy of the committed ledger.
func (s *Session) Ledger() *model.Ledger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Clone()
}

// MarketOrder executes an immediate trade at the asset's current price.
func (s *Session) MarketOrder(ctx context.Context, assetID string, side model.Side, qty int64) (model.Transaction, error) {
	price, ok := s.prices.Price(assetID)
	if !ok {
		return model.Transaction{}, ledger.ErrAssetNotFound
	}

	s.mu.Lock()
	next, tx, err := ledger.PlaceMarketOrder(s.ledger, assetID, side, qty, price)
	if err != nil {
		s.mu.Unlock()
		return model.Transaction{}, err
	}
	snap := s.commitLocked(next)
	s.mu.Unlock()

	metrics.TradesTotal.WithLabelValues(string(side), string(model.KindMarket)).Inc()
	slog.Info("market order executed",
		"account", s.accountID,
		"tx_id", tx.ID,
		"asset", assetID,
		"side", side,
		"qty", qty,
		"price", price.String(),
	)
	s.persist(ctx, snap)
	return tx, nil
}

// LimitOrder places a resting order, escrowing cash or units up front.
func (s *Session) LimitOrder(ctx context.Context, assetID string, side model.Side, qty int64, targetPrice decimal.Decimal) (model.LimitOrder, error) {
	if _, ok := s.prices.Price(assetID); !ok {
		return model.LimitOrder{}, ledger.ErrAssetNotFound
	}

	s.mu.Lock()
	next, order, err := ledger.PlaceLimitOrder(s.ledger, assetID, side, qty, targetPrice)
	if err != nil {
		s.mu.Unlock()
		return model.LimitOrder{}, err
	}
	snap := s.commitLocked(next)
	s.mu.Unlock()

	slog.Info("limit order placed",
		"account", s.accountID,
		"order_id", order.ID,
		"asset", assetID,
		"side", side,
		"qty", qty,
		"target", targetPrice.String(),
	)
	s.persist(ctx, snap)
	return order, nil
}

// CancelOrder removes an open order and refunds its escrow.
func (s *Session) CancelOrder(ctx context.Context, orderID string) (model.LimitOrder, error) {
	s.mu.Lock()
	next, order, err := ledger.CancelOrder(s.ledger, orderID)
	if err != nil {
		s.mu.Unlock()
		return model.LimitOrder{}, err
	}
	snap := s.commitLocked(next)
	s.mu.Unlock()

	slog.Info("limit order cancelled", "account", s.accountID, "order_id", orderID)
	s.persist(ctx, snap)
	return order, nil
}

// RunMatchingPass fills every open order executable against the given price
// snapshot. All orders in one pass see the same tick's prices. The open-order
// set is read inside the critical section, so a cancel racing a fill resolves
// one way or the other — never both.
func (s *Session) RunMatchingPass(ctx context.Context, prices map[string]decimal.Decimal) []model.Transaction {
	s.mu.Lock()
	executed, _ := match.Match(s.ledger.OpenOrders, prices)
	if len(executed) == 0 {
		s.mu.Unlock()
		return nil
	}

	cur := s.ledger
	fills := make([]model.Transaction, 0, len(executed))
	for _, o := range executed {
		next, tx, err := ledger.ApplyFill(cur, o.ID)
		if err != nil {
			// Order vanished between match and fill; skip, never settle twice.
			continue
		}
		cur = next
		fills = append(fills, tx)
	}
	if len(fills) == 0 {
		s.mu.Unlock()
		return nil
	}
	snap := s.commitLocked(cur)
	s.mu.Unlock()

	for _, tx := range fills {
		metrics.TradesTotal.WithLabelValues(string(tx.Type), string(model.KindLimit)).Inc()
		metrics.FillsTotal.Inc()
		slog.Info("limit order filled",
			"account", s.accountID,
			"tx_id", tx.ID,
			"asset", tx.AssetID,
			"side", tx.Type,
			"qty", tx.Quantity,
			"price", tx.Price.String(),
		)
		if s.hub != nil {
			s.hub.OrderFilled(s.accountID, tx)
		}
		s.notify(model.SeverityInfo,
			fmt.Sprintf("%s limit order filled: %d %s @ %s", tx.Type, tx.Quantity, tx.AssetID, tx.Price.StringFixed(2)))
	}
	s.persist(ctx, snap)
	return fills
}

// Close stops the store subscription. The ledger stays readable.
func (s *Session) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
}

// commitLocked swaps in the next ledger value. Caller holds s.mu. Returns a
// private copy for the async save.
func (s *Session) commitLocked(next *model.Ledger) *model.Ledger {
	next.Revision = s.ledger.Revision + 1
	s.ledger = next
	metrics.OpenOrders.WithLabelValues(s.accountID).Set(float64(len(next.OpenOrders)))
	if s.store == nil {
		return nil
	}
	return next.Clone()
}

// persist saves the committed snapshot asynchronously. The in-memory ledger
// stays authoritative whatever happens here.
func (s *Session) persist(ctx context.Context, snap *model.Ledger) {
	if s.store == nil || snap == nil {
		return
	}
	go func() {
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.saveTimeout)
		defer cancel()
		if err := s.store.Save(saveCtx, s.accountID, snap); err != nil {
			metrics.SaveFailures.Inc()
			slog.Warn("ledger save failed", "account", s.accountID, "err", err)
			s.notify(model.SeverityWarning, "could not save portfolio, changes are held in memory")
		}
	}()
}

// onRemoteChange merges a snapshot pushed by the store. Stale or self-made
// snapshots (revision not ahead of local) are ignored.
func (s *Session) onRemoteChange(l *model.Ledger) {
	l.Normalize()
	s.mu.Lock()
	if l.Revision <= s.ledger.Revision {
		s.mu.Unlock()
		return
	}
	s.ledger = l
	s.mu.Unlock()
	slog.Info("ledger updated from store", "account", s.accountID, "revision", l.Revision)
}

func (s *Session) notify(sev model.Severity, msg string) {
	if s.hub == nil {
		return
	}
	s.hub.Notify(s.accountID, model.Notification{
		Message:   msg,
		Severity:  sev,
		Timestamp: time.Now().UTC(),
	})
}
