// Package dualcache is a timeout-bounded cache access layer over two store
// pools: reads go to a read pool, writes to a write pool. Outside production
// the write pool is the read pool itself, decided once in New.
//
// Components:
//   - Guard: per-operation countdown. Each operation resolves exactly once,
//     with the store's answer or a *TimeoutError; late answers are dropped.
//   - Pools: routes fetch/command-fetch to the read pool and write/command-write
//     to the write pool.
//   - Cache: Fetch, Write, CommandFetch, CommandWrite over a store.Store.
//
// Expiry policy:
//
//	Write = SET key value, then EXPIRE key ttl (fails if either step fails)
//	Fetch = GET key, then TTL key; a key without expiry (TTL -1) is served
//	        once and deleted from the write pool (OrphanIfNoTTL)
//
// The cache never retries; store errors surface once as *StoreError.
package dualcache
