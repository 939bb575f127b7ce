// Package clock drives the simulation: on a fixed period it advances every
// asset price one tick and runs exactly one matching pass per open session
// against the fresh prices. The loop is a single goroutine, so price
// advancement and matching never overlap; ledger-level serialization against
// user requests is the session's mutation boundary.
package clock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/papersim/trade-engine/internal/metrics"
	"github.com/papersim/trade-engine/internal/model"
	"github.com/papersim/trade-engine/internal/price"
	"github.com/papersim/trade-engine/internal/session"
)

// TickBroadcaster receives the post-tick asset snapshot for display
// surfaces. May be nil.
type TickBroadcaster interface {
	PriceTick(assets []model.Asset)
}

// Clock is the periodic simulation driver.
type Clock struct {
	period   time.Duration
	engine   *price.Engine
	sessions *session.Manager
	hub      TickBroadcaster

	stop     chan struct{}
	done     chan struct{}
	started  atomic.Bool
	stopOnce sync.Once
}

// New creates a stopped clock.
func New(period time.Duration, engine *price.Engine, sessions *session.Manager, hub TickBroadcaster) *Clock {
	return &Clock{
		period:   period,
		engine:   engine,
		sessions: sessions,
		hub:      hub,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the tick loop in its own goroutine. Subsequent calls are
// no-ops.
func (c *Clock) Start() {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	go c.run()
}

// Stop halts the loop and releases the timer. No tick fires after Stop
// returns. Safe to call more than once, and on a clock that never started.
func (c *Clock) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
	if c.started.Load() {
		<-c.done
	}
}

func (c *Clock) run() {
	defer close(c.done)
	ticker := time.NewTicker(c.period)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.Tick(context.Background())
		}
	}
}

// Tick advances one simulation step synchronously: batch price advance, then
// one matching pass per session, all against the same post-tick snapshot.
func (c *Clock) Tick(ctx context.Context) {
	assets := c.engine.Advance()

	// Build the pass's price snapshot from the returned batch, not from a
	// later read, so every order in this pass sees this tick's prices.
	prices := make(map[string]decimal.Decimal, len(assets))
	for _, a := range assets {
		prices[a.ID] = a.CurrentPrice
	}

	c.sessions.Each(func(s *session.Session) {
		s.RunMatchingPass(ctx, prices)
	})

	if c.hub != nil {
		c.hub.PriceTick(assets)
	}
	metrics.TicksTotal.Inc()
}
