package session_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"

	"github.com/papersim/trade-engine/internal/ledger"
	"github.com/papersim/trade-engine/internal/metrics"
	"github.com/papersim/trade-engine/internal/model"
	"github.com/papersim/trade-engine/internal/session"
	"github.com/papersim/trade-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// stubPrices implements session.PriceSource with a fixed price table.
type stubPrices map[string]decimal.Decimal

func (p stubPrices) Price(id string) (decimal.Decimal, bool) {
	v, ok := p[id]
	return v, ok
}

// recordingHub captures fill and notification broadcasts.
type recordingHub struct {
	mu     sync.Mutex
	fills  []model.Transaction
	events []model.Notification
}

func (h *recordingHub) OrderFilled(_ string, tx model.Transaction) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fills = append(h.fills, tx)
}

func (h *recordingHub) Notify(_ string, n model.Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, n)
}

func (h *recordingHub) fillCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.fills)
}

// TestTradingScenario walks the full reference scenario: market buy, limit
// sell escrow, and a tick that moves the price through the target.
func TestTradingScenario(t *testing.T) {
	ctx := context.Background()
	prices := stubPrices{"GOLD": d(10)}
	hub := &recordingHub{}
	s := session.OpenGuest("guest", d(10000), prices, hub)

	// Market BUY 100 GOLD @ 10.00.
	if _, err := s.MarketOrder(ctx, "GOLD", model.SideBuy, 100); err != nil {
		t.Fatalf("market buy failed: %v", err)
	}
	l := s.Ledger()
	if !l.CashBalance.Equal(d(9000)) {
		t.Fatalf("cash = %s, want 9000", l.CashBalance)
	}
	if h := l.Holdings["GOLD"]; h.Quantity != 100 || !h.AvgCost.Equal(d(10)) {
		t.Fatalf("holding = %+v, want 100 @ 10.00", h)
	}

	// Limit SELL 50 GOLD @ 12.00 escrows the units.
	if _, err := s.LimitOrder(ctx, "GOLD", model.SideSell, 50, d(12)); err != nil {
		t.Fatalf("limit sell failed: %v", err)
	}
	l = s.Ledger()
	if h := l.Holdings["GOLD"]; h.Quantity != 50 || !h.AvgCost.Equal(d(10)) {
		t.Fatalf("holding = %+v, want 50 @ 10.00", h)
	}
	if len(l.OpenOrders) != 1 {
		t.Fatalf("open orders = %d, want 1", len(l.OpenOrders))
	}

	// Tick moves the price to 12.50 ≥ 12.00 → the order fills at 12.00.
	fills := s.RunMatchingPass(ctx, map[string]decimal.Decimal{"GOLD": d(12.50)})
	if len(fills) != 1 {
		t.Fatalf("fills = %d, want 1", len(fills))
	}

	l = s.Ledger()
	if !l.CashBalance.Equal(d(9600)) {
		t.Fatalf("cash = %s, want 9600", l.CashBalance)
	}
	if len(l.OpenOrders) != 0 {
		t.Fatalf("open orders = %d, want 0", len(l.OpenOrders))
	}
	last := l.Transactions[len(l.Transactions)-1]
	if last.Kind != model.KindLimit || !last.Price.Equal(d(12)) {
		t.Fatalf("fill tx = %+v, want LIMIT @ 12.00", last)
	}
	if hub.fillCount() != 1 {
		t.Fatalf("hub fills = %d, want 1", hub.fillCount())
	}
}

func TestMarketOrder_UnknownAsset(t *testing.T) {
	s := session.OpenGuest("guest", d(10000), stubPrices{}, nil)
	_, err := s.MarketOrder(context.Background(), "GONE", model.SideBuy, 1)
	if err != ledger.ErrAssetNotFound {
		t.Fatalf("err = %v, want ErrAssetNotFound", err)
	}
}

func TestRejectedOrder_LeavesLedgerUnchanged(t *testing.T) {
	ctx := context.Background()
	s := session.OpenGuest("guest", d(100), stubPrices{"GOLD": d(10)}, nil)
	before := s.Ledger()

	if _, err := s.MarketOrder(ctx, "GOLD", model.SideBuy, 100); err != ledger.ErrInsufficientFunds {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	after := s.Ledger()
	if !after.CashBalance.Equal(before.CashBalance) || after.Revision != before.Revision {
		t.Fatal("rejected request mutated the ledger")
	}
}

// A fill and a cancel of the same order resolve exactly one way.
func TestCancelAfterFill_DoesNotDoubleSettle(t *testing.T) {
	ctx := context.Background()
	s := session.OpenGuest("guest", d(10000), stubPrices{"GOLD": d(10)}, nil)

	order, err := s.LimitOrder(ctx, "GOLD", model.SideBuy, 10, d(10))
	if err != nil {
		t.Fatalf("limit buy failed: %v", err)
	}
	if fills := s.RunMatchingPass(ctx, map[string]decimal.Decimal{"GOLD": d(10)}); len(fills) != 1 {
		t.Fatalf("fills = %d, want 1", len(fills))
	}

	if _, err := s.CancelOrder(ctx, order.ID); err != ledger.ErrOrderNotFound {
		t.Fatalf("cancel after fill: err = %v, want ErrOrderNotFound", err)
	}
	l := s.Ledger()
	if !l.CashBalance.Equal(d(9900)) {
		t.Fatalf("cash = %s, want 9900 (settled once)", l.CashBalance)
	}
}

func TestPersistence_SavesAfterCommit(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	s := session.Open(ctx, "acct-1", d(10000), stubPrices{"GOLD": d(10)}, st, nil)
	defer s.Close()

	if _, err := s.MarketOrder(ctx, "GOLD", model.SideBuy, 10); err != nil {
		t.Fatalf("market buy failed: %v", err)
	}

	// Saves are fire-and-forget; poll until the snapshot lands.
	deadline := time.Now().Add(2 * time.Second)
	for {
		saved, err := st.Load(ctx, "acct-1")
		if err == nil && saved.Revision == 1 {
			if !saved.CashBalance.Equal(d(9900)) {
				t.Fatalf("saved cash = %s, want 9900", saved.CashBalance)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("ledger never saved: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestPersistence_LoadsExistingLedger(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	seed := model.NewLedger(d(5000))
	seed.Revision = 7
	if err := st.Save(ctx, "acct-2", seed); err != nil {
		t.Fatalf("seed save failed: %v", err)
	}

	s := session.Open(ctx, "acct-2", d(10000), stubPrices{}, st, nil)
	defer s.Close()

	l := s.Ledger()
	if !l.CashBalance.Equal(d(5000)) || l.Revision != 7 {
		t.Fatalf("loaded ledger = cash %s rev %d, want 5000/7", l.CashBalance, l.Revision)
	}
}

func TestPersistence_MergesNewerRemoteSnapshot(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	s := session.Open(ctx, "acct-3", d(10000), stubPrices{}, st, nil)
	defer s.Close()

	remote := model.NewLedger(d(1234))
	remote.Revision = 42
	// Collections left nil on purpose: the merge must fill empty defaults.
	remote.Holdings = nil
	remote.Transactions = nil
	remote.OpenOrders = nil
	if err := st.Save(ctx, "acct-3", remote); err != nil {
		t.Fatalf("remote save failed: %v", err)
	}

	l := s.Ledger()
	if !l.CashBalance.Equal(d(1234)) || l.Revision != 42 {
		t.Fatalf("ledger = cash %s rev %d, want merged 1234/42", l.CashBalance, l.Revision)
	}
	if l.Holdings == nil || l.Transactions == nil || l.OpenOrders == nil {
		t.Fatal("merged snapshot must have empty collections, not nil")
	}

	// Stale snapshots are ignored.
	stale := model.NewLedger(d(1))
	stale.Revision = 3
	st.Save(ctx, "acct-3", stale)
	if l := s.Ledger(); !l.CashBalance.Equal(d(1234)) {
		t.Fatalf("stale snapshot applied: cash = %s", l.CashBalance)
	}
}

// ctxRecordingStore captures the context handed to Subscribe.
type ctxRecordingStore struct {
	subscribeCtx context.Context
}

func (s *ctxRecordingStore) Load(context.Context, string) (*model.Ledger, error) {
	return nil, store.ErrNotFound
}

func (s *ctxRecordingStore) Save(context.Context, string, *model.Ledger) error {
	return nil
}

func (s *ctxRecordingStore) Subscribe(ctx context.Context, _ string, _ func(*model.Ledger)) (func(), error) {
	s.subscribeCtx = ctx
	return func() {}, nil
}

// Sessions are opened lazily from request handlers, but they outlive the
// request: the store subscription must survive the opening context's
// cancellation (request timeout, client disconnect).
func TestOpen_SubscriptionOutlivesOpeningContext(t *testing.T) {
	st := &ctxRecordingStore{}
	reqCtx, cancel := context.WithCancel(context.Background())

	s := session.Open(reqCtx, "acct-ctx", d(10000), stubPrices{}, st, nil)
	defer s.Close()

	if st.subscribeCtx == nil {
		t.Fatal("store was never subscribed")
	}
	cancel()
	if err := st.subscribeCtx.Err(); err != nil {
		t.Fatalf("subscription context died with the opening request: %v", err)
	}
}

// The open-orders gauge is labelled by account; one session's commit must not
// overwrite another's count.
func TestOpenOrdersGauge_PerAccount(t *testing.T) {
	ctx := context.Background()
	prices := stubPrices{"GOLD": d(10)}
	a := session.OpenGuest("gauge-a", d(10000), prices, nil)
	b := session.OpenGuest("gauge-b", d(10000), prices, nil)

	if _, err := a.LimitOrder(ctx, "GOLD", model.SideBuy, 1, d(9)); err != nil {
		t.Fatalf("limit buy failed: %v", err)
	}
	if _, err := a.LimitOrder(ctx, "GOLD", model.SideBuy, 1, d(8)); err != nil {
		t.Fatalf("limit buy failed: %v", err)
	}
	if _, err := b.LimitOrder(ctx, "GOLD", model.SideBuy, 1, d(9)); err != nil {
		t.Fatalf("limit buy failed: %v", err)
	}

	if got := testutil.ToFloat64(metrics.OpenOrders.WithLabelValues("gauge-a")); got != 2 {
		t.Fatalf("gauge-a open orders = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.OpenOrders.WithLabelValues("gauge-b")); got != 1 {
		t.Fatalf("gauge-b open orders = %v, want 1", got)
	}
}

func TestGuestSession_SkipsPersistence(t *testing.T) {
	s := session.OpenGuest(session.GuestAccountID, d(10000), stubPrices{"GOLD": d(10)}, nil)
	if !s.Guest() {
		t.Fatal("expected guest session")
	}
	if _, err := s.MarketOrder(context.Background(), "GOLD", model.SideBuy, 1); err != nil {
		t.Fatalf("guest trade failed: %v", err)
	}
}
