package dualcache

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimeout matches every *TimeoutError via errors.Is.
	ErrTimeout = errors.New("dualcache: timeout occurred while waiting for the store")

	// ErrExpireNotApplied is returned by Write when SET succeeded but the key
	// was gone by the time EXPIRE ran.
	ErrExpireNotApplied = errors.New("dualcache: expire not applied, key vanished after set")

	ErrNilStore = errors.New("dualcache: store is required")
)

// TimeoutError is synthesized by a Deadline Guard whose budget ran out
// before the store answered. Key is kept for callers but left out of Error.
type TimeoutError struct {
	Op     string
	Key    string
	Budget time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("dualcache: %s: timeout after %s", e.Op, e.Budget)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// StoreError is a failure reported by the store itself (connectivity, command error).
// It is never retried. Error omits Key: keys may embed bearer tokens.
type StoreError struct {
	Op  string // store command, e.g. "GET", "EXPIRE", "SADD"
	Key string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("dualcache: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func storeErr(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Key: key, Err: err}
}
