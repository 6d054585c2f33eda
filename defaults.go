package dualcache

import "time"

const (
	defaultTimeout = 2 * time.Second
	defaultTick    = time.Second
	defaultTTL     = 5000 * time.Second

	// RevokedTokenTTL is how long a revoked-token marker lives.
	RevokedTokenTTL = 24 * time.Hour
)

// OrphanIfNoTTL makes Fetch delete any key it finds without an expiry.
// Every Write attaches one, so such a key was written behind the cache's back
// or lost its TTL; it is still served once, then purged.
const OrphanIfNoTTL = true

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
