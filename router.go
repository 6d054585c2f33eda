package dualcache

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/unkn0wn-root/dualcache/store"
)

// Mode is the deployment mode. Only production keeps separate read and write pools.
type Mode uint8

const (
	ModeDevelopment Mode = iota
	ModeProduction
)

// ParseMode maps "production"/"prod" (any case) to ModeProduction; everything else is development.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "production", "prod":
		return ModeProduction
	default:
		return ModeDevelopment
	}
}

func (m Mode) String() string {
	if m == ModeProduction {
		return "production"
	}
	return "development"
}

type OpKind uint8

const (
	OpFetch OpKind = iota
	OpWrite
	OpCommandFetch
	OpCommandWrite
)

func (k OpKind) Mutating() bool { return k == OpWrite || k == OpCommandWrite }

func (k OpKind) String() string {
	switch k {
	case OpFetch:
		return "fetch"
	case OpWrite:
		return "write"
	case OpCommandFetch:
		return "command_fetch"
	case OpCommandWrite:
		return "command_write"
	default:
		return "unknown"
	}
}

// Pools holds the two long-lived store handles. Outside production the write
// handle is the read handle itself, decided once here rather than per call.
type Pools struct {
	read  store.Store
	write store.Store
}

func NewPools(mode Mode, read, write store.Store) (Pools, error) {
	if read == nil {
		return Pools{}, fmt.Errorf("read pool: %w", ErrNilStore)
	}
	if mode != ModeProduction {
		return Pools{read: read, write: read}, nil
	}
	if write == nil {
		return Pools{}, fmt.Errorf("write pool: %w", ErrNilStore)
	}
	return Pools{read: read, write: write}, nil
}

// For returns the write pool for mutating operations and the read pool otherwise.
func (p Pools) For(kind OpKind) store.Store {
	if kind.Mutating() {
		return p.write
	}
	return p.read
}

// Aliased reports whether reads and writes share one handle.
func (p Pools) Aliased() bool { return p.read == p.write }

// Close closes the write pool (when distinct) and then the read pool.
func (p Pools) Close(ctx context.Context) error {
	var errs []error
	if !p.Aliased() && p.write != nil {
		if err := p.write.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close write pool: %w", err))
		}
	}
	if p.read != nil {
		if err := p.read.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close read pool: %w", err))
		}
	}
	return errors.Join(errs...)
}
