package dualcache

import (
	"sync"
	"time"
)

type GuardState uint8

const (
	GuardRunning  GuardState = iota
	GuardResolved            // the operation answered first
	GuardExpired             // the budget ran out first
)

func (s GuardState) String() string {
	switch s {
	case GuardRunning:
		return "running"
	case GuardResolved:
		return "resolved"
	case GuardExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Guard is a per-operation countdown. It counts a budget down in fixed ticks
// and fires onExpire once if the operation has not been marked resolved by
// the time the budget reaches zero. A Guard is never reused.
//
// Exactly one of MarkResolved (returning true) or onExpire wins; the state
// transition happens under mu so the two can race safely.
type Guard struct {
	op     string
	key    string
	budget time.Duration
	tick   time.Duration

	mu        sync.Mutex
	state     GuardState
	remaining time.Duration
	destroyed bool
	ticker    *time.Ticker
	stop      chan struct{}
}

// NewGuard returns an unstarted guard. Zero budget or tick fall back to 2s and 1s.
func NewGuard(budget, tick time.Duration) *Guard {
	return newGuard("", "", budget, tick)
}

func newGuard(op, key string, budget, tick time.Duration) *Guard {
	budget = coalesce(budget, defaultTimeout)
	tick = coalesce(tick, defaultTick)
	return &Guard{
		op:        op,
		key:       key,
		budget:    budget,
		tick:      tick,
		remaining: budget,
		stop:      make(chan struct{}),
	}
}

// Start begins the countdown. onExpire receives a *TimeoutError and runs on
// the guard's own goroutine.
func (g *Guard) Start(onExpire func(error)) {
	g.mu.Lock()
	if g.destroyed || g.ticker != nil {
		g.mu.Unlock()
		return
	}
	g.ticker = time.NewTicker(g.tick)
	tc := g.ticker.C
	g.mu.Unlock()

	go func() {
		for {
			select {
			case <-g.stop:
				return
			case <-tc:
				g.mu.Lock()
				g.remaining -= g.tick
				if g.state == GuardResolved {
					g.mu.Unlock()
					g.Destroy()
					return
				}
				if g.remaining <= 0 {
					g.state = GuardExpired
					g.mu.Unlock()
					g.Destroy()
					if onExpire != nil {
						onExpire(&TimeoutError{Op: g.op, Key: g.key, Budget: g.budget})
					}
					return
				}
				g.mu.Unlock()
			}
		}
	}()
}

// MarkResolved reports whether the caller's result is the terminal outcome.
// It returns false once the guard has expired; that result must be dropped.
func (g *Guard) MarkResolved() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch g.state {
	case GuardRunning:
		g.state = GuardResolved
		return true
	case GuardResolved:
		return true
	default:
		return false
	}
}

// Destroy releases the ticker. Safe to call any number of times.
func (g *Guard) Destroy() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.destroyed {
		return
	}
	g.destroyed = true
	if g.ticker != nil {
		g.ticker.Stop()
	}
	close(g.stop)
}

func (g *Guard) Remaining() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.remaining
}

func (g *Guard) State() GuardState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *Guard) Destroyed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.destroyed
}
