// Package middleware adapts dualcache operations to net/http handler chains.
// Every adapter has the func(http.Handler) http.Handler shape, so it plugs
// into chi (r.Use / r.With) or any other stdlib-compatible router.
package middleware

import "context"

type ctxKey int

const (
	payloadKey ctxKey = iota
	replyKey
	commandKey
	setAddKey
)

// CommandRequest describes a read-only command for CommandFetch, placed on
// the request context by an earlier handler.
type CommandRequest struct {
	Cmd    string
	Key    string
	Fields []any
}

// SetAddRequest describes members to add to a set, placed on the request
// context by an earlier handler.
type SetAddRequest struct {
	Key    string
	Values []any
}

func WithCommandRequest(ctx context.Context, req CommandRequest) context.Context {
	return context.WithValue(ctx, commandKey, req)
}

func WithSetAdd(ctx context.Context, req SetAddRequest) context.Context {
	return context.WithValue(ctx, setAddKey, req)
}

// Payload returns the cached body attached by Fetch, if there was a hit.
func Payload(ctx context.Context) ([]byte, bool) {
	b, ok := ctx.Value(payloadKey).([]byte)
	return b, ok
}

// Reply returns the store reply attached by CommandFetch.
func Reply(ctx context.Context) (any, bool) {
	v := ctx.Value(replyKey)
	return v, v != nil
}

func commandRequest(ctx context.Context) (CommandRequest, bool) {
	req, ok := ctx.Value(commandKey).(CommandRequest)
	return req, ok
}

func setAddRequest(ctx context.Context) (SetAddRequest, bool) {
	req, ok := ctx.Value(setAddKey).(SetAddRequest)
	return req, ok
}
