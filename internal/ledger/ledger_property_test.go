package ledger_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"pgregory.net/rapid"

	"github.com/papersim/trade-engine/internal/ledger"
	"github.com/papersim/trade-engine/internal/model"
)

// priceFromCents builds an exact two-decimal price.
func priceFromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// Cash after any sequence of accepted market orders equals
// startingCash - Σ(buy cost) + Σ(sell proceeds), with no drift.
func TestProperty_MarketOrdersConserveCash(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		assets := []string{"GOLD", "SLVR", "OIL"}
		start := decimal.NewFromInt(100000)
		l := model.NewLedger(start)

		spent := decimal.Zero
		earned := decimal.Zero

		steps := rapid.IntRange(1, 40).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			assetID := rapid.SampledFrom(assets).Draw(t, "asset")
			qty := rapid.Int64Range(1, 50).Draw(t, "qty")
			price := priceFromCents(rapid.Int64Range(1, 50000).Draw(t, "priceCents"))
			side := model.SideBuy
			if rapid.Bool().Draw(t, "sell") {
				side = model.SideSell
			}

			next, tx, err := ledger.PlaceMarketOrder(l, assetID, side, qty, price)
			if err != nil {
				// Rejected orders must leave the ledger untouched; keep going.
				continue
			}
			l = next

			total := price.Mul(decimal.NewFromInt(qty))
			if tx.Type == model.SideBuy {
				spent = spent.Add(total)
			} else {
				earned = earned.Add(total)
			}
		}

		want := start.Sub(spent).Add(earned)
		if !l.CashBalance.Equal(want) {
			t.Fatalf("cash = %s, want %s (spent %s, earned %s)", l.CashBalance, want, spent, earned)
		}
		if l.CashBalance.IsNegative() {
			t.Fatalf("cash went negative: %s", l.CashBalance)
		}
		for id, h := range l.Holdings {
			if h.Quantity <= 0 {
				t.Fatalf("holding %s has non-positive quantity %d", id, h.Quantity)
			}
		}
	})
}

// Placing then immediately cancelling a limit order is the identity on cash
// and holding quantities.
func TestProperty_PlaceCancelIsIdentity(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		l := model.NewLedger(decimal.NewFromInt(100000))

		// Seed a position so SELL orders have units to escrow.
		seedQty := rapid.Int64Range(1, 100).Draw(t, "seedQty")
		seedPrice := priceFromCents(rapid.Int64Range(1, 10000).Draw(t, "seedCents"))
		l, _, err := ledger.PlaceMarketOrder(l, "GOLD", model.SideBuy, seedQty, seedPrice)
		if err != nil {
			t.Skip("seed rejected")
		}

		side := model.SideBuy
		if rapid.Bool().Draw(t, "sell") {
			side = model.SideSell
		}
		qty := rapid.Int64Range(1, seedQty).Draw(t, "qty")
		target := priceFromCents(rapid.Int64Range(1, 10000).Draw(t, "targetCents"))

		beforeCash := l.CashBalance
		beforeQty := l.Holdings["GOLD"].Quantity

		placed, order, err := ledger.PlaceLimitOrder(l, "GOLD", side, qty, target)
		if err != nil {
			return
		}
		after, _, err := ledger.CancelOrder(placed, order.ID)
		if err != nil {
			t.Fatalf("cancel failed: %v", err)
		}

		if !after.CashBalance.Equal(beforeCash) {
			t.Fatalf("cash %s != pre-placement %s", after.CashBalance, beforeCash)
		}
		if got := after.Holdings["GOLD"].Quantity; got != beforeQty {
			t.Fatalf("holding quantity %d != pre-placement %d", got, beforeQty)
		}
		if len(after.OpenOrders) != len(l.OpenOrders) {
			t.Fatalf("open orders %d != pre-placement %d", len(after.OpenOrders), len(l.OpenOrders))
		}
	})
}
