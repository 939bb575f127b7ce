// Package match decides which resting limit orders execute against a tick's
// updated prices. It is a pure scan: no ledger mutation happens here — the
// session applies fills through the ledger transitions.
package match

import (
	"github.com/shopspring/decimal"

	"github.com/papersim/trade-engine/internal/model"
)

// Match scans open orders in placement order against one consistent price
// snapshot and partitions them into executed and remaining. A BUY executes
// when the price has fallen to or below its target; a SELL executes when the
// price has risen to or above its target. Orders are always filled in full
// or not at all.
//
// Every order in one pass sees the same snapshot — the caller must not
// advance prices mid-pass. An order referencing an asset missing from the
// snapshot stays open; this is defensive and should not occur given the
// closed asset universe.
func Match(orders []model.LimitOrder, prices map[string]decimal.Decimal) (executed, remaining []model.LimitOrder) {
	for _, o := range orders {
		price, ok := prices[o.AssetID]
		if !ok {
			remaining = append(remaining, o)
			continue
		}
		if shouldExecute(o, price) {
			executed = append(executed, o)
		} else {
			remaining = append(remaining, o)
		}
	}
	return executed, remaining
}

func shouldExecute(o model.LimitOrder, price decimal.Decimal) bool {
	switch o.Side {
	case model.SideBuy:
		return price.LessThanOrEqual(o.TargetPrice)
	case model.SideSell:
		return price.GreaterThanOrEqual(o.TargetPrice)
	default:
		return false
	}
}
