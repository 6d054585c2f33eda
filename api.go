package dualcache

import (
	"context"
	"time"

	"github.com/unkn0wn-root/dualcache/store"
)

// Cache is the timeout-bounded access layer over a read pool and a write pool.
// Every operation runs under its own Deadline Guard and resolves exactly once:
// with the store's answer, or with a *TimeoutError if the budget ran out first.
type Cache interface {
	// Fetch reads key from the read pool. A miss is (nil, false, nil).
	// A key found without an expiry is served, then deleted from the write pool.
	Fetch(ctx context.Context, key string) (data []byte, ok bool, err error)

	// Write stores value and then its expiry on the write pool; ttl <= 0 uses DefaultTTL.
	// It succeeds only when both steps succeed.
	Write(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// WriteAsync is Write without waiting. done (may be nil) is called at most once.
	WriteAsync(ctx context.Context, key string, value []byte, ttl time.Duration, done func(error))

	// CommandFetch sends a read-only command with [key, args...] to the read pool.
	CommandFetch(ctx context.Context, cmd, key string, args ...any) (any, error)

	// CommandWrite sends a mutating command with [key, args...] to the write pool.
	CommandWrite(ctx context.Context, cmd, key string, args ...any) (any, error)

	Mode() Mode
	DefaultTTL() time.Duration
	Close(context.Context) error
}

// Options tune the cache. Only Read is required; Write is required in production.
type Options struct {
	Mode  Mode
	Read  store.Store
	Write store.Store // ignored outside production: writes go to Read

	Timeout    time.Duration // per-operation budget; 0 => 2s
	Tick       time.Duration // guard countdown step; 0 => 1s
	DefaultTTL time.Duration // Write with ttl <= 0; 0 => 5000s

	Logger Logger // if nil, NopLogger is used
	Hooks  Hooks  // if nil, NopHooks is used

	// Redact maps keys before they reach the Logger; nil => RedactKey.
	// Hooks still receive raw keys.
	Redact func(string) string
}

func New(opts Options) (Cache, error) {
	return newCache(opts)
}
