package middleware

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/unkn0wn-root/dualcache"
	"github.com/unkn0wn-root/dualcache/internal/util"
)

const defaultMaxBody = 1 << 20

// Options configure the adapters. The zero value is usable.
type Options struct {
	// KeyFunc derives the cache key; default is the decoded request URI.
	KeyFunc func(r *http.Request) string

	// ErrorHandler receives read-path failures; default writes 504 for
	// timeouts and 502 for everything else.
	ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

	// TTL for Store; 0 => the cache's DefaultTTL.
	TTL time.Duration

	// MaxBody caps how much of a response Store buffers; larger bodies are not cached.
	MaxBody int

	Logger dualcache.Logger

	// Redact maps keys before they are logged; nil => dualcache.RedactKey.
	Redact func(string) string

	// Revocations used by RejectRevoked; nil => the cache with DefaultRevokedPrefix.
	Revocations *dualcache.Revocations
}

func (o Options) withDefaults() Options {
	if o.KeyFunc == nil {
		o.KeyFunc = RequestKey
	}
	if o.ErrorHandler == nil {
		o.ErrorHandler = DefaultErrorHandler
	}
	if o.MaxBody <= 0 {
		o.MaxBody = defaultMaxBody
	}
	if o.Logger == nil {
		o.Logger = dualcache.NopLogger{}
	}
	if o.Redact == nil {
		o.Redact = dualcache.RedactKey
	}
	return o
}

// RequestKey is the request URI (path and query), percent-decoded once.
func RequestKey(r *http.Request) string {
	return util.DecodeKey(r.URL.RequestURI())
}

func DefaultErrorHandler(w http.ResponseWriter, _ *http.Request, err error) {
	if errors.Is(err, dualcache.ErrTimeout) {
		http.Error(w, http.StatusText(http.StatusGatewayTimeout), http.StatusGatewayTimeout)
		return
	}
	http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
}

// Fetch looks the request key up. A hit is attached to the request context
// (see Payload); a miss continues without it; an error stops the chain and
// goes to ErrorHandler.
func Fetch(c dualcache.Cache, opts Options) func(http.Handler) http.Handler {
	opts = opts.withDefaults()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := opts.KeyFunc(r)
			data, ok, err := c.Fetch(r.Context(), key)
			if err != nil {
				opts.Logger.Warn("cache fetch failed", dualcache.Fields{"key": opts.Redact(key), "err": err})
				opts.ErrorHandler(w, r, err)
				return
			}
			if ok {
				r = r.WithContext(context.WithValue(r.Context(), payloadKey, data))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Store buffers the downstream response and, for a complete 2xx body that
// was not itself served from cache, writes it under the request key without
// waiting for the result.
func Store(c dualcache.Cache, opts Options) func(http.Handler) http.Handler {
	opts = opts.withDefaults()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &recorder{ResponseWriter: w, max: opts.MaxBody}
			next.ServeHTTP(rec, r)

			if _, hit := Payload(r.Context()); hit {
				return
			}
			status := rec.status
			if status == 0 {
				status = http.StatusOK
			}
			if status < 200 || status >= 300 || rec.overflow || rec.buf.Len() == 0 {
				return
			}
			key := opts.KeyFunc(r)
			body := bytes.Clone(rec.buf.Bytes())
			c.WriteAsync(context.WithoutCancel(r.Context()), key, body, opts.TTL, func(err error) {
				if err != nil {
					opts.Logger.Error("cache write failed", dualcache.Fields{"key": opts.Redact(key), "err": err})
				}
			})
		})
	}
}

// CommandFetch runs the CommandRequest found on the request context and
// attaches the reply (see Reply). Without a CommandRequest it does nothing.
func CommandFetch(c dualcache.Cache, opts Options) func(http.Handler) http.Handler {
	opts = opts.withDefaults()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req, ok := commandRequest(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			v, err := c.CommandFetch(r.Context(), req.Cmd, req.Key, req.Fields...)
			if err != nil {
				opts.Logger.Error("cache command failed", dualcache.Fields{"cmd": req.Cmd, "key": opts.Redact(req.Key), "err": err})
				opts.ErrorHandler(w, r, err)
				return
			}
			if v != nil {
				r = r.WithContext(context.WithValue(r.Context(), replyKey, v))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SetAdd starts SADD for the SetAddRequest on the request context and runs
// next without waiting for it. Failures are only logged.
func SetAdd(c dualcache.Cache, opts Options) func(http.Handler) http.Handler {
	opts = opts.withDefaults()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if req, ok := setAddRequest(r.Context()); ok && len(req.Values) > 0 {
				ctx := context.WithoutCancel(r.Context())
				go func() {
					if _, err := c.CommandWrite(ctx, "SADD", req.Key, req.Values...); err != nil {
						opts.Logger.Error("cache sadd failed", dualcache.Fields{"key": opts.Redact(req.Key), "err": err})
					}
				}()
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RejectRevoked answers 401 for bearer tokens carrying a revoked-token marker.
// Lookup failures are passed to ErrorHandler.
func RejectRevoked(c dualcache.Cache, opts Options) func(http.Handler) http.Handler {
	opts = opts.withDefaults()
	revs := opts.Revocations
	if revs == nil {
		revs = dualcache.NewRevocations(c, dualcache.DefaultRevokedPrefix)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			revoked, err := revs.Revoked(r.Context(), token)
			if err != nil {
				opts.ErrorHandler(w, r, err)
				return
			}
			if revoked {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// BearerToken returns the token of an "Authorization: Bearer <token>" header.
func BearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || scheme != "Bearer" {
		return ""
	}
	return strings.TrimSpace(token)
}

// recorder passes the response through while keeping a bounded copy of the body.
type recorder struct {
	http.ResponseWriter
	status   int
	buf      bytes.Buffer
	max      int
	overflow bool
}

func (rw *recorder) WriteHeader(code int) {
	if rw.status == 0 {
		rw.status = code
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *recorder) Write(b []byte) (int, error) {
	if rw.status == 0 {
		rw.status = http.StatusOK
	}
	if !rw.overflow {
		if rw.buf.Len()+len(b) > rw.max {
			rw.overflow = true
			rw.buf.Reset()
		} else {
			rw.buf.Write(b)
		}
	}
	return rw.ResponseWriter.Write(b)
}

func (rw *recorder) Unwrap() http.ResponseWriter { return rw.ResponseWriter }
