package sloghooks

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/dualcache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	OrphanEvery     uint64
	LateResultEvery uint64
	// Optional key redactor. Defaults to dualcache.RedactKey.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	orphanCtr atomic.Uint64
	lateCtr   atomic.Uint64
}

var _ dualcache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	return dualcache.RedactKey(k)
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) OrphanRepaired(key string) {
	if h.l == nil || !sample(h.opts.OrphanEvery, &h.orphanCtr) {
		return
	}
	h.l.Info("dualcache.orphan_repaired", "key", h.redact(key))
}

func (h *Hooks) SelfHeal(key, reason string) {
	if h.l == nil {
		return
	}
	h.l.Debug("dualcache.self_heal",
		"key", h.redact(key),
		"reason", reason)
}

func (h *Hooks) Timeout(op, key string, budget time.Duration) {
	if h.l == nil {
		return
	}
	h.l.Warn("dualcache.timeout",
		"op", op,
		"key", h.redact(key),
		"budget", budget)
}

func (h *Hooks) LateResult(op, key string) {
	if h.l == nil || !sample(h.opts.LateResultEvery, &h.lateCtr) {
		return
	}
	h.l.Debug("dualcache.late_result",
		"op", op,
		"key", h.redact(key))
}

func (h *Hooks) StoreError(op, key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("dualcache.store_error",
		"op", op,
		"key", h.redact(key),
		"err", err)
}

func (h *Hooks) WriteFailed(key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("dualcache.write_failed",
		"key", h.redact(key),
		"err", err)
}
