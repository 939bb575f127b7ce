// Package ledger implements the portfolio state machine as pure transition
// functions. Each transition takes a ledger value and returns a new one,
// never mutating its input; callers commit by swapping the whole value under
// their serialization boundary.
//
// Monetary invariant: cash and units are conserved across every transition.
// Escrow reserved at limit-order placement is returned exactly once, either
// by fill settlement or by cancellation.
//
// All monetary values use shopspring/decimal — never float64 for money.
package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/papersim/trade-engine/internal/model"
)

// avgCostScale is the number of decimal places kept for average cost.
const avgCostScale int32 = 4

// weightedAvgCost joins an existing lot with a new purchase. A buy from zero
// quantity recomputes the cost basis from scratch.
func weightedAvgCost(oldQty int64, oldAvg decimal.Decimal, qty int64, price decimal.Decimal) decimal.Decimal {
	if oldQty <= 0 {
		return price
	}
	oldVal := oldAvg.Mul(decimal.NewFromInt(oldQty))
	newVal := price.Mul(decimal.NewFromInt(qty))
	return oldVal.Add(newVal).DivRound(decimal.NewFromInt(oldQty+qty), avgCostScale)
}

// PlaceMarketOrder settles an immediate trade at execPrice. BUY debits cash
// and joins the holding's cost basis; SELL credits cash and decrements the
// holding, leaving AvgCost unchanged (it reflects the remaining lot only).
func PlaceMarketOrder(l *model.Ledger, assetID string, side model.Side, qty int64, execPrice decimal.Decimal) (*model.Ledger, model.Transaction, error) {
	if qty <= 0 {
		return nil, model.Transaction{}, ErrInvalidQuantity
	}
	if execPrice.LessThanOrEqual(decimal.Zero) {
		return nil, model.Transaction{}, ErrInvalidPrice
	}

	cost := execPrice.Mul(decimal.NewFromInt(qty))
	next := l.Clone()

	switch side {
	case model.SideBuy:
		if next.CashBalance.LessThan(cost) {
			return nil, model.Transaction{}, ErrInsufficientFunds
		}
		next.CashBalance = next.CashBalance.Sub(cost)
		h := next.Holdings[assetID]
		h.AssetID = assetID
		h.AvgCost = weightedAvgCost(h.Quantity, h.AvgCost, qty, execPrice)
		h.Quantity += qty
		next.Holdings[assetID] = h

	case model.SideSell:
		h, ok := next.Holdings[assetID]
		if !ok || h.Quantity < qty {
			return nil, model.Transaction{}, ErrInsufficientHoldings
		}
		next.CashBalance = next.CashBalance.Add(cost)
		h.Quantity -= qty
		if h.Quantity == 0 {
			delete(next.Holdings, assetID)
		} else {
			next.Holdings[assetID] = h
		}

	default:
		return nil, model.Transaction{}, ErrInvalidSide
	}

	tx := model.Transaction{
		ID:        uuid.New().String(),
		Type:      side,
		AssetID:   assetID,
		Quantity:  qty,
		Price:     execPrice,
		Timestamp: time.Now().UTC(),
		Kind:      model.KindMarket,
	}
	next.Transactions = append(next.Transactions, tx)
	return next, tx, nil
}

// PlaceLimitOrder creates a resting order and reserves its escrow up front:
// BUY debits qty×targetPrice from cash, SELL removes qty units from the
// holding (recording the holding's cost basis on the order so a cancel can
// restore it). No transaction is recorded until the order fills.
func PlaceLimitOrder(l *model.Ledger, assetID string, side model.Side, qty int64, targetPrice decimal.Decimal) (*model.Ledger, model.LimitOrder, error) {
	if qty <= 0 {
		return nil, model.LimitOrder{}, ErrInvalidQuantity
	}
	if targetPrice.LessThanOrEqual(decimal.Zero) {
		return nil, model.LimitOrder{}, ErrInvalidPrice
	}

	next := l.Clone()
	order := model.LimitOrder{
		ID:          uuid.New().String(),
		AssetID:     assetID,
		Side:        side,
		Quantity:    qty,
		TargetPrice: targetPrice,
		CreatedAt:   time.Now().UTC(),
	}

	switch side {
	case model.SideBuy:
		escrow := order.EscrowValue()
		if next.CashBalance.LessThan(escrow) {
			return nil, model.LimitOrder{}, ErrInsufficientFunds
		}
		next.CashBalance = next.CashBalance.Sub(escrow)

	case model.SideSell:
		h, ok := next.Holdings[assetID]
		if !ok || h.Quantity < qty {
			return nil, model.LimitOrder{}, ErrInsufficientHoldings
		}
		order.EscrowAvgCost = h.AvgCost
		h.Quantity -= qty
		if h.Quantity == 0 {
			delete(next.Holdings, assetID)
		} else {
			next.Holdings[assetID] = h
		}

	default:
		return nil, model.LimitOrder{}, ErrInvalidSide
	}

	next.OpenOrders = append(next.OpenOrders, order)
	return next, order, nil
}

// CancelOrder removes an open order and reverses its escrow exactly. A
// cancelled SELL merges the escrowed units back into the holding using the
// cost basis recorded at placement, so buys made while the order was open do
// not corrupt the restored lot's basis.
func CancelOrder(l *model.Ledger, orderID string) (*model.Ledger, model.LimitOrder, error) {
	idx := l.FindOrder(orderID)
	if idx < 0 {
		return nil, model.LimitOrder{}, ErrOrderNotFound
	}

	next := l.Clone()
	order := next.OpenOrders[idx]

	switch order.Side {
	case model.SideBuy:
		next.CashBalance = next.CashBalance.Add(order.EscrowValue())

	case model.SideSell:
		h := next.Holdings[order.AssetID]
		h.AssetID = order.AssetID
		if h.Quantity <= 0 {
			h.AvgCost = order.EscrowAvgCost
		} else {
			total := h.AvgCost.Mul(decimal.NewFromInt(h.Quantity)).
				Add(order.EscrowAvgCost.Mul(decimal.NewFromInt(order.Quantity)))
			h.AvgCost = total.DivRound(decimal.NewFromInt(h.Quantity+order.Quantity), avgCostScale)
		}
		h.Quantity += order.Quantity
		next.Holdings[order.AssetID] = h
	}

	next.OpenOrders = append(next.OpenOrders[:idx], next.OpenOrders[idx+1:]...)
	return next, order, nil
}

// ApplyFill settles an open limit order at exactly its target price. The
// escrow reserved at placement covers the settlement: a filled BUY only joins
// the holding, a filled SELL only credits cash. The order is removed and one
// LIMIT transaction is appended.
//
// Settlement at target price rather than the triggering tick's price is
// deliberate: the account receives exactly the price it asked for.
func ApplyFill(l *model.Ledger, orderID string) (*model.Ledger, model.Transaction, error) {
	idx := l.FindOrder(orderID)
	if idx < 0 {
		return nil, model.Transaction{}, ErrOrderNotFound
	}

	next := l.Clone()
	order := next.OpenOrders[idx]

	switch order.Side {
	case model.SideBuy:
		h := next.Holdings[order.AssetID]
		h.AssetID = order.AssetID
		h.AvgCost = weightedAvgCost(h.Quantity, h.AvgCost, order.Quantity, order.TargetPrice)
		h.Quantity += order.Quantity
		next.Holdings[order.AssetID] = h

	case model.SideSell:
		next.CashBalance = next.CashBalance.Add(order.EscrowValue())
	}

	tx := model.Transaction{
		ID:        uuid.New().String(),
		Type:      order.Side,
		AssetID:   order.AssetID,
		Quantity:  order.Quantity,
		Price:     order.TargetPrice,
		Timestamp: time.Now().UTC(),
		Kind:      model.KindLimit,
	}
	next.Transactions = append(next.Transactions, tx)
	next.OpenOrders = append(next.OpenOrders[:idx], next.OpenOrders[idx+1:]...)
	return next, tx, nil
}

// NetWorth values a ledger against a price snapshot: cash, plus held units
// at market, plus escrow still reserved by open orders (BUY escrow at its
// reserved cash value, SELL escrow units at market).
func NetWorth(l *model.Ledger, prices map[string]decimal.Decimal) decimal.Decimal {
	total := l.CashBalance
	for id, h := range l.Holdings {
		if p, ok := prices[id]; ok {
			total = total.Add(p.Mul(decimal.NewFromInt(h.Quantity)))
		}
	}
	for _, o := range l.OpenOrders {
		switch o.Side {
		case model.SideBuy:
			total = total.Add(o.EscrowValue())
		case model.SideSell:
			if p, ok := prices[o.AssetID]; ok {
				total = total.Add(p.Mul(decimal.NewFromInt(o.Quantity)))
			}
		}
	}
	return total
}
