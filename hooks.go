package dualcache

import "time"

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The cache calls them on hot paths.
type Hooks interface {
	// A key was found without an expiry and deleted on read.
	OrphanRepaired(key string)

	// An entry was deleted because it could not be used.
	// reason ∈ {"value_decode"}
	SelfHeal(key, reason string)

	// A Deadline Guard expired before the store answered.
	Timeout(op, key string, budget time.Duration)

	// A store answer arrived after its guard expired (or the caller left) and was dropped.
	LateResult(op, key string)

	// The store reported an error for op.
	StoreError(op, key string, err error)

	// A fire-and-forget write failed; nobody else will see the error.
	WriteFailed(key string, err error)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) OrphanRepaired(string)                 {}
func (NopHooks) SelfHeal(string, string)               {}
func (NopHooks) Timeout(string, string, time.Duration) {}
func (NopHooks) LateResult(string, string)             {}
func (NopHooks) StoreError(string, string, error)      {}
func (NopHooks) WriteFailed(string, error)             {}
