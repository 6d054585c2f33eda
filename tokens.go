package dualcache

import (
	"context"

	"github.com/unkn0wn-root/dualcache/codec"
)

// DefaultRevokedPrefix namespaces revoked-token markers. A service that
// checks markers under the bare token needs NewRevocations(c, "").
const DefaultRevokedPrefix = "revoked:"

const revokedTokenMarker = "logged"

// Revocations writes and checks revoked bearer-token markers. Only presence
// of the marker matters; its value is the literal "logged".
type Revocations struct {
	marks  *Typed[string]
	prefix string
}

// NewRevocations marks tokens under prefix+token. prefix is used verbatim.
func NewRevocations(c Cache, prefix string) *Revocations {
	return &Revocations{marks: NewTyped[string](c, codec.String{}), prefix: prefix}
}

func (r *Revocations) Key(token string) string { return r.prefix + token }

// Revoke marks token as banned for RevokedTokenTTL. An empty token is a no-op.
func (r *Revocations) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return r.marks.Set(ctx, r.Key(token), revokedTokenMarker, RevokedTokenTTL)
}

func (r *Revocations) Revoked(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	_, ok, err := r.marks.Get(ctx, r.Key(token))
	if err != nil {
		return false, err
	}
	return ok, nil
}

// RevokedTokenKey is the key under which a revoked bearer token is marked
// with DefaultRevokedPrefix.
func RevokedTokenKey(token string) string { return DefaultRevokedPrefix + token }

func RevokeToken(ctx context.Context, c Cache, token string) error {
	return NewRevocations(c, DefaultRevokedPrefix).Revoke(ctx, token)
}

func TokenRevoked(ctx context.Context, c Cache, token string) (bool, error) {
	return NewRevocations(c, DefaultRevokedPrefix).Revoked(ctx, token)
}
