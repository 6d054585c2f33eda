// Package asynchook moves Hooks calls off the operation goroutines.
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{OrphanEvery: 10})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	c, _ := dualcache.New(dualcache.Options{Read: rd, Hooks: hooks})
//
// Events are dropped when the queue is full.
package asynchook

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/dualcache"
)

type Hooks struct {
	inner   dualcache.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Uint64
}

var _ dualcache.Hooks = (*Hooks)(nil)

func New(inner dualcache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers.
// Hooks must not be called after Close.
func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

// Dropped is the number of events lost to a full queue.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	select {
	case h.q <- f:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hooks) OrphanRepaired(k string)         { h.try(func() { h.inner.OrphanRepaired(k) }) }
func (h *Hooks) SelfHeal(k, r string)            { h.try(func() { h.inner.SelfHeal(k, r) }) }
func (h *Hooks) LateResult(op, k string)         { h.try(func() { h.inner.LateResult(op, k) }) }
func (h *Hooks) WriteFailed(k string, err error) { h.try(func() { h.inner.WriteFailed(k, err) }) }
func (h *Hooks) StoreError(op, k string, err error) {
	h.try(func() { h.inner.StoreError(op, k, err) })
}
func (h *Hooks) Timeout(op, k string, budget time.Duration) {
	h.try(func() { h.inner.Timeout(op, k, budget) })
}
