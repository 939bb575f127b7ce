// Package model defines the core domain types shared across the trade engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a trade or resting order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderKind distinguishes immediate executions from resting limit orders.
type OrderKind string

const (
	KindMarket OrderKind = "MARKET"
	KindLimit  OrderKind = "LIMIT"
)

// Severity classifies notifications pushed to presentation surfaces.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// PricePoint is one entry in an asset's rolling price history.
type PricePoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Price     decimal.Decimal `json:"price"`
	Volume    int64           `json:"volume"`
}

// Asset is one tradable instrument. CurrentPrice always equals the price of
// the last history point; both are written only by the price engine, once per
// tick, for all assets as a single batch.
//
// ChangePct is the percentage change from the oldest retained history point
// to the current price. Its window is exactly the history capacity in ticks,
// not a wall-clock span.
type Asset struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Icon         string          `json:"icon,omitempty"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	ChangePct    decimal.Decimal `json:"change_pct"`
	History      []PricePoint    `json:"history"`
}

// Holding is the position in one asset: units held plus the volume-weighted
// average purchase price of the units still held. AvgCost is meaningless at
// Quantity == 0; a buy from zero recomputes it from scratch.
type Holding struct {
	AssetID  string          `json:"asset_id"`
	Quantity int64           `json:"quantity"`
	AvgCost  decimal.Decimal `json:"avg_cost"`
}

// Transaction is an immutable record of a settled trade. Once appended to a
// ledger it is never modified or deleted.
type Transaction struct {
	ID        string          `json:"id"`
	Type      Side            `json:"type"`
	AssetID   string          `json:"asset_id"`
	Quantity  int64           `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
	Kind      OrderKind       `json:"kind"`
}

// LimitOrder is a resting, unfilled instruction. It terminates exactly one
// way: filled in full by the matcher, or cancelled with its escrow refunded.
// CreatedAt is audit-only; the matcher does not implement price-time priority
// because each account's book is independent.
//
// EscrowAvgCost records, for SELL orders, the holding's average cost at
// placement time so a later cancel can merge the escrowed units back into
// the holding without corrupting its cost basis.
type LimitOrder struct {
	ID            string          `json:"id"`
	AssetID       string          `json:"asset_id"`
	Side          Side            `json:"side"`
	Quantity      int64           `json:"quantity"`
	TargetPrice   decimal.Decimal `json:"target_price"`
	EscrowAvgCost decimal.Decimal `json:"escrow_avg_cost"`
	CreatedAt     time.Time       `json:"created_at"`
}

// EscrowValue is the cash (BUY) or target-price unit value (SELL) reserved
// while the order is open.
func (o LimitOrder) EscrowValue() decimal.Decimal {
	return o.TargetPrice.Mul(decimal.NewFromInt(o.Quantity))
}

// Ledger is the authoritative state of one account: cash, holdings, the
// append-only transaction log, and the open limit orders. Ledger values are
// treated as immutable — every transition clones, mutates the clone, and
// commits by swapping the whole value.
//
// Revision increments on every committed transition and orders snapshots
// arriving from the persistence collaborator against local state.
type Ledger struct {
	CashBalance  decimal.Decimal    `json:"cash_balance"`
	Holdings     map[string]Holding `json:"holdings"`
	Transactions []Transaction      `json:"transactions"`
	OpenOrders   []LimitOrder       `json:"open_orders"`
	Revision     uint64             `json:"revision"`
}

// NewLedger creates an empty ledger with the given starting cash.
func NewLedger(startingCash decimal.Decimal) *Ledger {
	return &Ledger{
		CashBalance:  startingCash,
		Holdings:     make(map[string]Holding),
		Transactions: []Transaction{},
		OpenOrders:   []LimitOrder{},
	}
}

// Clone returns a deep copy. Holdings, Transactions, and OpenOrders are
// copied; decimal values are immutable and shared safely.
func (l *Ledger) Clone() *Ledger {
	c := &Ledger{
		CashBalance:  l.CashBalance,
		Holdings:     make(map[string]Holding, len(l.Holdings)),
		Transactions: make([]Transaction, len(l.Transactions)),
		OpenOrders:   make([]LimitOrder, len(l.OpenOrders)),
		Revision:     l.Revision,
	}
	for id, h := range l.Holdings {
		c.Holdings[id] = h
	}
	copy(c.Transactions, l.Transactions)
	copy(c.OpenOrders, l.OpenOrders)
	return c
}

// Normalize fills nil collection fields with empty defaults. Snapshots
// arriving from external persistence may omit empty collections; the core
// merges them defensively instead of failing on nil maps.
func (l *Ledger) Normalize() {
	if l.Holdings == nil {
		l.Holdings = make(map[string]Holding)
	}
	if l.Transactions == nil {
		l.Transactions = []Transaction{}
	}
	if l.OpenOrders == nil {
		l.OpenOrders = []LimitOrder{}
	}
}

// FindOrder returns the index of the open order with the given ID, or -1.
func (l *Ledger) FindOrder(orderID string) int {
	for i, o := range l.OpenOrders {
		if o.ID == orderID {
			return i
		}
	}
	return -1
}

// EscrowedCash sums the cash reserved by open BUY orders.
func (l *Ledger) EscrowedCash() decimal.Decimal {
	total := decimal.Zero
	for _, o := range l.OpenOrders {
		if o.Side == SideBuy {
			total = total.Add(o.EscrowValue())
		}
	}
	return total
}

// EscrowedUnits sums the units reserved by open SELL orders for one asset.
func (l *Ledger) EscrowedUnits(assetID string) int64 {
	var total int64
	for _, o := range l.OpenOrders {
		if o.Side == SideSell && o.AssetID == assetID {
			total += o.Quantity
		}
	}
	return total
}

// Notification is a user-facing event {message, severity} consumed by
// presentation surfaces. Display lifetime is a rendering concern, not a
// core contract.
type Notification struct {
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
}
