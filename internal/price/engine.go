// Package price implements the simulated price feed: a bounded random walk
// advancing every asset once per tick, with a fixed-capacity rolling history
// of price and synthetic volume per asset.
//
// The engine is the single writer of asset state. Readers only ever get
// deep-copied snapshots, and a snapshot is always entirely pre-tick or
// entirely post-tick — all assets advance together as one batch.
package price

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/papersim/trade-engine/internal/model"
)

// Synthetic per-tick volume range. Domain detail only, not load-bearing.
const (
	volumeMin = 100
	volumeMax = 10000
)

// Spec seeds one asset at engine construction.
type Spec struct {
	ID            string
	Name          string
	Icon          string
	StartingPrice decimal.Decimal
}

// Config controls the random walk.
type Config struct {
	// Volatility bounds the relative per-tick change: δ ∈ [-v, +v].
	Volatility float64

	// Floor is the minimum price; prevents the walk reaching zero or below.
	Floor decimal.Decimal

	// HistoryLength is the rolling history capacity in ticks.
	HistoryLength int

	// Rand supplies randomness; tests inject a seeded source. Defaults to a
	// time-seeded PCG.
	Rand *rand.Rand

	// Now supplies timestamps; defaults to time.Now UTC.
	Now func() time.Time
}

// Engine advances asset prices and owns their rolling history.
type Engine struct {
	mu      sync.RWMutex
	assets  []*model.Asset // stable order, as configured
	byID    map[string]*model.Asset
	volat   float64
	floor   decimal.Decimal
	histLen int
	rng     *rand.Rand
	now     func() time.Time
}

// New creates an engine with one seed history point per asset.
func New(cfg Config, specs []Spec) *Engine {
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.HistoryLength <= 0 {
		cfg.HistoryLength = 50
	}
	if cfg.Floor.LessThanOrEqual(decimal.Zero) {
		cfg.Floor = decimal.NewFromFloat(0.01)
	}

	e := &Engine{
		byID:    make(map[string]*model.Asset, len(specs)),
		volat:   cfg.Volatility,
		floor:   cfg.Floor,
		histLen: cfg.HistoryLength,
		rng:     cfg.Rand,
		now:     cfg.Now,
	}

	ts := e.now()
	for _, spec := range specs {
		p := spec.StartingPrice.Round(2)
		if p.LessThan(e.floor) {
			p = e.floor
		}
		a := &model.Asset{
			ID:           spec.ID,
			Name:         spec.Name,
			Icon:         spec.Icon,
			CurrentPrice: p,
			ChangePct:    decimal.Zero,
			History: []model.PricePoint{
				{Timestamp: ts, Price: p, Volume: e.drawVolume()},
			},
		}
		e.assets = append(e.assets, a)
		e.byID[a.ID] = a
	}
	return e
}

// Advance moves every asset forward one tick as a single batch and returns
// the post-tick snapshot. No failure modes: the result is a pure function of
// current state plus the injected randomness.
func (e *Engine) Advance() []model.Asset {
	e.mu.Lock()
	defer e.mu.Unlock()

	ts := e.now()
	for _, a := range e.assets {
		delta := (e.rng.Float64()*2 - 1) * e.volat
		next := a.CurrentPrice.Mul(decimal.NewFromFloat(1 + delta)).Round(2)
		if next.LessThan(e.floor) {
			next = e.floor
		}

		a.CurrentPrice = next
		a.History = append(a.History, model.PricePoint{
			Timestamp: ts,
			Price:     next,
			Volume:    e.drawVolume(),
		})
		if len(a.History) > e.histLen {
			a.History = a.History[len(a.History)-e.histLen:]
		}
		a.ChangePct = windowChangePct(a.History)
	}

	return e.snapshotLocked()
}

// Snapshot returns deep copies of all assets in configured order.
func (e *Engine) Snapshot() []model.Asset {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshotLocked()
}

// Asset returns a deep copy of one asset.
func (e *Engine) Asset(id string) (model.Asset, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	a, ok := e.byID[id]
	if !ok {
		return model.Asset{}, false
	}
	return copyAsset(a), true
}

// Price returns the current price of one asset.
func (e *Engine) Price(id string) (decimal.Decimal, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	a, ok := e.byID[id]
	if !ok {
		return decimal.Decimal{}, false
	}
	return a.CurrentPrice, true
}

// Prices returns a consistent assetID → price snapshot for a matching pass.
func (e *Engine) Prices() map[string]decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	prices := make(map[string]decimal.Decimal, len(e.assets))
	for _, a := range e.assets {
		prices[a.ID] = a.CurrentPrice
	}
	return prices
}

func (e *Engine) snapshotLocked() []model.Asset {
	out := make([]model.Asset, 0, len(e.assets))
	for _, a := range e.assets {
		out = append(out, copyAsset(a))
	}
	return out
}

func (e *Engine) drawVolume() int64 {
	return volumeMin + e.rng.Int64N(volumeMax-volumeMin)
}

func copyAsset(a *model.Asset) model.Asset {
	c := *a
	c.History = make([]model.PricePoint, len(a.History))
	copy(c.History, a.History)
	return c
}

// windowChangePct is the percentage change from the oldest retained history
// point to the newest. The window is the history capacity in ticks, not a
// wall-clock span.
func windowChangePct(history []model.PricePoint) decimal.Decimal {
	if len(history) < 2 {
		return decimal.Zero
	}
	oldest := history[0].Price
	if oldest.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	newest := history[len(history)-1].Price
	return newest.Sub(oldest).
		DivRound(oldest, 6).
		Mul(decimal.NewFromInt(100)).
		Round(2)
}
