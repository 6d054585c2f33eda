package dualcache

import (
	"context"
	"time"

	"github.com/unkn0wn-root/dualcache/codec"
)

// Typed layers a Codec over a Cache so callers can store V instead of bytes.
// An entry that no longer decodes is deleted and reported as a miss.
type Typed[V any] struct {
	c     Cache
	codec codec.Codec[V]
	hooks Hooks
}

func NewTyped[V any](c Cache, cd codec.Codec[V]) *Typed[V] {
	t := &Typed[V]{c: c, codec: cd, hooks: NopHooks{}}
	if hp, ok := c.(interface{ hooksFor() Hooks }); ok {
		t.hooks = hp.hooksFor()
	}
	return t
}

func (t *Typed[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	raw, ok, err := t.c.Fetch(ctx, key)
	if err != nil || !ok {
		return zero, false, err
	}
	v, err := t.codec.Decode(raw)
	if err != nil {
		_, _ = t.c.CommandWrite(ctx, "DEL", key) // self-heal
		t.hooks.SelfHeal(key, "value_decode")
		return zero, false, nil
	}
	return v, true, nil
}

func (t *Typed[V]) Set(ctx context.Context, key string, v V, ttl time.Duration) error {
	b, err := t.codec.Encode(v)
	if err != nil {
		return err
	}
	return t.c.Write(ctx, key, b, ttl)
}
