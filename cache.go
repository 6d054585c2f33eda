package dualcache

import (
	"context"
	"time"

	"github.com/unkn0wn-root/dualcache/store"
)

type cache struct {
	pools      Pools
	mode       Mode
	timeout    time.Duration
	tick       time.Duration
	defaultTTL time.Duration
	log        Logger
	hooks      Hooks
	redact     func(string) string
}

// result is the single terminal outcome of one operation.
type result struct {
	data any
	ok   bool
	err  error
}

func newCache(opts Options) (*cache, error) {
	pools, err := NewPools(opts.Mode, opts.Read, opts.Write)
	if err != nil {
		return nil, err
	}
	c := &cache{
		pools: pools,
		mode:  opts.Mode,
	}

	// defaults
	c.timeout = coalesce(opts.Timeout, defaultTimeout)
	c.tick = coalesce(opts.Tick, defaultTick)
	c.defaultTTL = coalesce(opts.DefaultTTL, defaultTTL)
	c.log = coalesce[Logger](opts.Logger, NopLogger{})
	c.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	c.redact = opts.Redact
	if c.redact == nil {
		c.redact = RedactKey
	}

	if opts.Mode != ModeProduction && opts.Write != nil && opts.Write != opts.Read {
		c.log.Info("write pool ignored outside production; writes use the read pool", Fields{"mode": opts.Mode.String()})
	}
	return c, nil
}

func (c *cache) Mode() Mode                { return c.mode }
func (c *cache) DefaultTTL() time.Duration { return c.defaultTTL }
func (c *cache) hooksFor() Hooks           { return c.hooks }

func (c *cache) Close(ctx context.Context) error {
	return c.pools.Close(ctx)
}

func (c *cache) Fetch(ctx context.Context, key string) ([]byte, bool, error) {
	r := c.await(ctx, OpFetch, key, func(sctx context.Context) result {
		return c.fetch(sctx, key)
	})
	b, _ := r.data.([]byte)
	c.log.Debug("fetch done", Fields{"key": c.redact(key), "len": len(b), "hit": r.ok, "err": r.err})
	return b, r.ok, r.err
}

func (c *cache) fetch(ctx context.Context, key string) result {
	read := c.pools.For(OpFetch)
	b, ok, err := read.Get(ctx, key)
	if err != nil {
		return c.failed("GET", key, err)
	}
	if !ok {
		return result{}
	}

	ttl, err := read.TTL(ctx, key)
	if err != nil {
		r := c.failed("TTL", key, err)
		r.data, r.ok = b, true
		return r
	}
	switch {
	case ttl == store.NoExpiry && OrphanIfNoTTL:
		// repair happens on the write pool; a failed DEL is reported with the data
		if err := c.pools.For(OpWrite).Del(ctx, key); err != nil {
			r := c.failed("DEL", key, err)
			r.data, r.ok = b, true
			return r
		}
		c.hooks.OrphanRepaired(key)
		c.log.Debug("deleted key without expiry", Fields{"key": c.redact(key)})
	case ttl == store.KeyAbsent:
		// vanished between GET and TTL; nothing to repair
	}
	return result{data: b, ok: true}
}

func (c *cache) Write(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	r := c.await(ctx, OpWrite, key, func(sctx context.Context) result {
		return c.write(sctx, key, value, ttl)
	})
	c.log.Debug("write done", Fields{"key": c.redact(key), "err": r.err})
	return r.err
}

func (c *cache) WriteAsync(ctx context.Context, key string, value []byte, ttl time.Duration, done func(error)) {
	c.run(ctx, OpWrite, key, func(sctx context.Context) result {
		return c.write(sctx, key, value, ttl)
	}, func(r result) {
		if r.err != nil {
			c.hooks.WriteFailed(key, r.err)
			c.log.Warn("async write failed", Fields{"key": c.redact(key), "err": r.err})
		}
		if done != nil {
			done(r.err)
		}
	})
}

// write issues SET and only then EXPIRE; a key must never be left readable
// without its expiry being reported as a failure.
func (c *cache) write(ctx context.Context, key string, value []byte, ttl time.Duration) result {
	w := c.pools.For(OpWrite)
	if err := w.Set(ctx, key, value); err != nil {
		return c.failed("SET", key, err)
	}
	applied, err := w.Expire(ctx, key, expiry(ttl, c.defaultTTL))
	if err != nil {
		return c.failed("EXPIRE", key, err)
	}
	if !applied {
		return result{err: ErrExpireNotApplied}
	}
	return result{}
}

func (c *cache) CommandFetch(ctx context.Context, cmd, key string, args ...any) (any, error) {
	return c.command(ctx, OpCommandFetch, cmd, key, args)
}

func (c *cache) CommandWrite(ctx context.Context, cmd, key string, args ...any) (any, error) {
	return c.command(ctx, OpCommandWrite, cmd, key, args)
}

func (c *cache) command(ctx context.Context, kind OpKind, cmd, key string, args []any) (any, error) {
	full := make([]any, 0, len(args)+1)
	full = append(full, key)
	full = append(full, args...)

	r := c.await(ctx, kind, key, func(sctx context.Context) result {
		v, err := c.pools.For(kind).Do(sctx, cmd, full...)
		if err != nil {
			return c.failed(cmd, key, err)
		}
		return result{data: v, ok: v != nil}
	})
	c.log.Debug("command done", Fields{"op": kind.String(), "cmd": cmd, "key": c.redact(key), "err": r.err})
	return r.data, r.err
}

// await runs call and blocks for its terminal outcome or the caller's context.
// A cancelled caller abandons the operation: the guard is settled so it never
// reports a timeout, and the store's eventual answer is discarded.
func (c *cache) await(ctx context.Context, kind OpKind, key string, call func(context.Context) result) result {
	ch := make(chan result, 1)
	g := c.run(ctx, kind, key, call, func(r result) { ch <- r })
	select {
	case r := <-ch:
		return r
	case <-ctx.Done():
		if !g.MarkResolved() {
			// the guard fired first; its timeout is the outcome
			return <-ch
		}
		g.Destroy()
		c.log.Debug("operation abandoned by caller", Fields{"op": kind.String(), "key": c.redact(key), "err": ctx.Err()})
		return result{err: ctx.Err()}
	}
}

// run starts a Deadline Guard and the store call on its own goroutine.
// done receives exactly one outcome: the call's result, or a *TimeoutError
// if the guard fires first. A result arriving after that is dropped.
func (c *cache) run(ctx context.Context, kind OpKind, key string, call func(context.Context) result, done func(result)) *Guard {
	op := kind.String()
	g := newGuard(op, key, c.timeout, c.tick)
	g.Start(func(err error) {
		c.hooks.Timeout(op, key, c.timeout)
		c.log.Warn("store timeout", Fields{"op": op, "key": c.redact(key), "budget": c.timeout.String()})
		done(result{err: err})
	})

	// the store call is not aborted on timeout or cancellation; it runs to
	// completion and its result is discarded if nobody is waiting
	sctx := context.WithoutCancel(ctx)
	go func() {
		r := call(sctx)
		won := g.MarkResolved()
		g.Destroy()
		if !won {
			c.hooks.LateResult(op, key)
			c.log.Debug("dropping late store result", Fields{"op": op, "key": c.redact(key), "err": r.err})
			return
		}
		done(r)
	}()
	return g
}

func (c *cache) failed(op, key string, err error) result {
	c.hooks.StoreError(op, key, err)
	c.log.Error("store command failed", Fields{"cmd": op, "key": c.redact(key), "err": err})
	return result{err: storeErr(op, key, err)}
}

// expiry resolves the ttl for EXPIRE: whole seconds, at least one.
func expiry(ttl, def time.Duration) time.Duration {
	if ttl <= 0 {
		ttl = def
	}
	ttl = ttl.Truncate(time.Second)
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}
