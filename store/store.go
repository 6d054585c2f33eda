// Package store defines the key/value protocol consumed by dualcache.
//
// A Store is one pool handle: a long-lived, concurrency-safe connection set to
// the backing store. dualcache holds two of them (read and write) and never
// recreates them per request. Implementations must not retry on their own;
// dualcache surfaces every failure once to its caller.
package store

import (
	"context"
	"errors"
	"time"
)

// TTL sentinels, identical to the raw replies of the Redis TTL command and to
// what go-redis returns in a DurationCmd for them.
const (
	NoExpiry  time.Duration = -1 // key exists without an expiry
	KeyAbsent time.Duration = -2 // key does not exist
)

var (
	ErrUnsupportedCommand = errors.New("store: unsupported command")
	ErrWrongType          = errors.New("store: operation against a key holding the wrong kind of value")
)

// Store is the minimal command surface dualcache needs.
// Must be safe for concurrent use by many in-flight operations.
type Store interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value without touching its expiry.
	Set(ctx context.Context, key string, value []byte) error

	// Expire sets a TTL on an existing key. ok=false when the key does not exist.
	Expire(ctx context.Context, key string, ttl time.Duration) (ok bool, err error)

	// TTL returns the remaining time to live, or NoExpiry / KeyAbsent.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Del removes a key. Deleting an absent key is not an error.
	Del(ctx context.Context, key string) error

	// Do sends an arbitrary command. A nil reply is returned as (nil, nil).
	Do(ctx context.Context, cmd string, args ...any) (any, error)

	// Close releases resources.
	Close(ctx context.Context) error
}
