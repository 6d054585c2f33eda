// Command dualcached is a caching front for a JSON API: GET responses under
// /api are served from Redis when present and populated from the upstream
// otherwise. Reads go to the read pool, writes to the write pool (production)
// or to the same pool (any other mode).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/unkn0wn-root/dualcache"
	"github.com/unkn0wn-root/dualcache/codec"
	"github.com/unkn0wn-root/dualcache/internal/config"
	dczap "github.com/unkn0wn-root/dualcache/log/zap"
	"github.com/unkn0wn-root/dualcache/middleware"
	"github.com/unkn0wn-root/dualcache/store"
	rstore "github.com/unkn0wn-root/dualcache/store/redis"
	lstore "github.com/unkn0wn-root/dualcache/store/ristretto"
)

func main() {
	configPath := flag.String("config", "", "optional YAML or TOML config file")
	local := flag.Bool("local", false, "use an in-process store instead of Redis")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := newLogger(cfg.CacheMode())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, *local, logger); err != nil {
		logger.Fatal("dualcached stopped", zap.Error(err))
	}
}

func newLogger(mode dualcache.Mode) (*zap.Logger, error) {
	if mode == dualcache.ModeProduction {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func run(cfg config.Config, local bool, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	read, write, err := openPools(ctx, cfg, local)
	if err != nil {
		return err
	}
	c, err := dualcache.New(dualcache.Options{
		Mode:       cfg.CacheMode(),
		Read:       read,
		Write:      write,
		Timeout:    cfg.Timeout(),
		DefaultTTL: cfg.DefaultTTL(),
		Logger:     dczap.ZapLogger{L: logger.Named("cache")},
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(context.Background()); err != nil {
			logger.Warn("closing pools", zap.Error(err))
		}
	}()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           newRouter(c, cfg, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.ListenAddr), zap.Stringer("mode", cfg.CacheMode()))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openPools builds one handle per pool. Outside production only the read
// handle is created; dualcache aliases writes to it.
func openPools(ctx context.Context, cfg config.Config, local bool) (store.Store, store.Store, error) {
	if local {
		st, err := lstore.New(lstore.Config{NumCounters: 1e6, MaxCost: 64 << 20, BufferItems: 64})
		if err != nil {
			return nil, nil, err
		}
		return st, nil, nil
	}
	read, err := openRedis(ctx, cfg.ReadOptions())
	if err != nil {
		return nil, nil, fmt.Errorf("read pool: %w", err)
	}
	if cfg.CacheMode() != dualcache.ModeProduction {
		return read, nil, nil
	}
	write, err := openRedis(ctx, cfg.WriteOptions())
	if err != nil {
		_ = read.Close(ctx)
		return nil, nil, fmt.Errorf("write pool: %w", err)
	}
	return read, write, nil
}

func openRedis(ctx context.Context, opts *goredis.Options) (*rstore.Redis, error) {
	client := goredis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping %s: %w", opts.Addr, err)
	}
	return rstore.New(rstore.Config{Client: client, CloseClient: true})
}

func newRouter(c dualcache.Cache, cfg config.Config, logger *zap.Logger) http.Handler {
	revs := dualcache.NewRevocations(c, cfg.RevokedPrefix)
	mwOpts := middleware.Options{
		Logger:      dczap.ZapLogger{L: logger.Named("http")},
		Revocations: revs,
	}
	client := &http.Client{Timeout: 15 * time.Second}
	upstream := cfg.UpstreamURL

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Get("/status", statusHandler(c, client, upstream, logger))
	r.Post("/logout", func(w http.ResponseWriter, r *http.Request) {
		if err := revs.Revoke(r.Context(), middleware.BearerToken(r)); err != nil {
			logger.Warn("revoking token", zap.Error(err))
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.RejectRevoked(c, mwOpts))
		r.With(middleware.Fetch(c, mwOpts), middleware.Store(c, mwOpts)).
			Get("/*", proxy(client, upstream, logger))
	})
	return r
}

// proxy serves the cached payload on a hit and the upstream response otherwise.
func proxy(client *http.Client, upstream string, logger *zap.Logger) http.HandlerFunc {
	base := strings.TrimRight(upstream, "/")
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if b, ok := middleware.Payload(r.Context()); ok {
			w.Header().Set("X-Cache", "HIT")
			_, _ = w.Write(b)
			return
		}
		if base == "" {
			http.NotFound(w, r)
			return
		}
		req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, base+strings.TrimPrefix(r.URL.RequestURI(), "/api"), nil)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		req.Header.Set("Accept", "application/json")
		resp, err := client.Do(req)
		if err != nil {
			logger.Warn("upstream request failed", zap.Error(err))
			http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
			return
		}
		defer resp.Body.Close()
		w.Header().Set("X-Cache", "MISS")
		w.WriteHeader(resp.StatusCode)
		_, _ = io.Copy(w, resp.Body)
	}
}

const (
	statusKey = "dualcached:upstream-status"
	statusTTL = 10 * time.Second
)

// upstreamStatus is reported by /status and cached for statusTTL so health checks
// do not reach the upstream on every call.
type upstreamStatus struct {
	Upstream  string    `json:"upstream"`
	Reachable bool      `json:"reachable"`
	Code      int       `json:"code,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

func statusHandler(c dualcache.Cache, client *http.Client, upstream string, logger *zap.Logger) http.HandlerFunc {
	jc := codec.JSON[upstreamStatus]{}
	cached := dualcache.NewTyped[upstreamStatus](c, codec.Limit[upstreamStatus]{Inner: jc, MaxDecode: 4 << 10})
	return func(w http.ResponseWriter, r *http.Request) {
		st, ok, err := cached.Get(r.Context(), statusKey)
		if err != nil {
			logger.Warn("reading cached status", zap.Error(err))
		}
		if !ok {
			st = checkUpstream(r.Context(), client, upstream)
			if err := cached.Set(r.Context(), statusKey, st, statusTTL); err != nil {
				logger.Warn("caching status", zap.Error(err))
			}
		}
		b, err := jc.Encode(st)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(b)
	}
}

func checkUpstream(ctx context.Context, client *http.Client, upstream string) upstreamStatus {
	st := upstreamStatus{Upstream: upstream, CheckedAt: time.Now().UTC()}
	if upstream == "" {
		return st
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, upstream, nil)
	if err != nil {
		return st
	}
	resp, err := client.Do(req)
	if err != nil {
		return st
	}
	_ = resp.Body.Close()
	st.Reachable, st.Code = resp.StatusCode < http.StatusInternalServerError, resp.StatusCode
	return st
}
