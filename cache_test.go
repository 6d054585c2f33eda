package dualcache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/unkn0wn-root/dualcache/codec"
	"github.com/unkn0wn-root/dualcache/store"
)

type memEntry struct {
	v   []byte
	set map[string]struct{}
	exp time.Time // zero => no TTL
}

type call struct {
	op  string
	key string
	ttl time.Duration
}

// memStore is a Redis-like fake: SET clears the expiry, TTL reports the
// -1/-2 sentinels, and every command is recorded.
type memStore struct {
	mu    sync.Mutex
	m     map[string]memEntry
	calls []call

	errs      map[string]error // op -> injected failure
	hang      chan struct{}    // when set, GET and SET block until closed
	beforeTTL func(s *memStore)
	closed    int
}

var _ store.Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{m: make(map[string]memEntry), errs: make(map[string]error)}
}

func (s *memStore) record(op, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call{op: op, key: key, ttl: ttl})
	return s.errs[op]
}

func (s *memStore) wait() {
	s.mu.Lock()
	h := s.hang
	s.mu.Unlock()
	if h != nil {
		<-h
	}
}

func (s *memStore) callsOf(op string) []call {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []call
	for _, c := range s.calls {
		if c.op == op {
			out = append(out, c)
		}
	}
	return out
}

func (s *memStore) totalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *memStore) live(key string) (memEntry, bool) {
	e, ok := s.m[key]
	if !ok {
		return memEntry{}, false
	}
	if !e.exp.IsZero() && time.Now().After(e.exp) {
		delete(s.m, key)
		return memEntry{}, false
	}
	return e, true
}

// put writes a raw entry, bypassing the call log.
func (s *memStore) put(key string, v []byte, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := memEntry{v: v}
	if ttl > 0 {
		e.exp = time.Now().Add(ttl)
	}
	s.m[key] = e
}

func (s *memStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	if err := s.record("GET", key, 0); err != nil {
		return nil, false, err
	}
	s.wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key)
	if !ok {
		return nil, false, nil
	}
	return e.v, true, nil
}

func (s *memStore) Set(_ context.Context, key string, value []byte) error {
	if err := s.record("SET", key, 0); err != nil {
		return err
	}
	s.wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = memEntry{v: value}
	return nil
}

func (s *memStore) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if err := s.record("EXPIRE", key, ttl); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key)
	if !ok {
		return false, nil
	}
	e.exp = time.Now().Add(ttl)
	s.m[key] = e
	return true, nil
}

func (s *memStore) TTL(_ context.Context, key string) (time.Duration, error) {
	if err := s.record("TTL", key, 0); err != nil {
		return 0, err
	}
	if s.beforeTTL != nil {
		s.beforeTTL(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key)
	switch {
	case !ok:
		return store.KeyAbsent, nil
	case e.exp.IsZero():
		return store.NoExpiry, nil
	default:
		return time.Until(e.exp), nil
	}
}

func (s *memStore) Del(_ context.Context, key string) error {
	if err := s.record("DEL", key, 0); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}

func (s *memStore) Do(_ context.Context, cmd string, args ...any) (any, error) {
	key := fmt.Sprint(args[0])
	if err := s.record(strings.ToUpper(cmd), key, 0); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch strings.ToUpper(cmd) {
	case "SADD":
		e, _ := s.live(key)
		if e.set == nil {
			e.set = make(map[string]struct{})
		}
		var n int64
		for _, a := range args[1:] {
			m := fmt.Sprint(a)
			if _, ok := e.set[m]; !ok {
				e.set[m] = struct{}{}
				n++
			}
		}
		s.m[key] = e
		return n, nil
	case "SMEMBERS":
		e, _ := s.live(key)
		members := make([]string, 0, len(e.set))
		for m := range e.set {
			members = append(members, m)
		}
		sort.Strings(members)
		out := make([]any, len(members))
		for i, m := range members {
			out[i] = m
		}
		return out, nil
	case "DEL":
		_, ok := s.live(key)
		delete(s.m, key)
		if ok {
			return int64(1), nil
		}
		return int64(0), nil
	default:
		return nil, store.ErrUnsupportedCommand
	}
}

func (s *memStore) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

type countingHooks struct {
	NopHooks
	orphans  atomic.Int64
	timeouts atomic.Int64
	late     chan string
	failed   atomic.Int64
	healed   atomic.Int64
}

func newCountingHooks() *countingHooks { return &countingHooks{late: make(chan string, 16)} }

func (h *countingHooks) OrphanRepaired(string)                 { h.orphans.Add(1) }
func (h *countingHooks) Timeout(string, string, time.Duration) { h.timeouts.Add(1) }
func (h *countingHooks) LateResult(op, _ string)               { h.late <- op }
func (h *countingHooks) WriteFailed(string, error)             { h.failed.Add(1) }
func (h *countingHooks) SelfHeal(string, string)               { h.healed.Add(1) }

func newTestCache(t *testing.T, optsOpt func(*Options)) Cache {
	t.Helper()
	opts := Options{
		Read:    newMemStore(),
		Timeout: 200 * time.Millisecond,
		Tick:    10 * time.Millisecond,
	}
	if optsOpt != nil {
		optsOpt(&opts)
	}
	c, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func production(read, write *memStore) func(*Options) {
	return func(o *Options) {
		o.Mode = ModeProduction
		o.Read = read
		o.Write = write
	}
}

// ==============================
// Basic fetch / write
// ==============================

func TestWriteThenFetch(t *testing.T) {
	ctx := context.Background()
	cc := newTestCache(t, nil)

	if err := cc.Write(ctx, "/articles/1", []byte(`{"id":1}`), 5*time.Second); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, ok, err := cc.Fetch(ctx, "/articles/1")
	if err != nil || !ok || string(got) != `{"id":1}` {
		t.Fatalf("Fetch: got=%q ok=%v err=%v", got, ok, err)
	}
}

func TestFetchMissing(t *testing.T) {
	cc := newTestCache(t, nil)
	got, ok, err := cc.Fetch(context.Background(), "/missing")
	if err != nil || ok || got != nil {
		t.Fatalf("Fetch missing: got=%q ok=%v err=%v", got, ok, err)
	}
}

func TestWriteUsesDefaultTTLInSeconds(t *testing.T) {
	ctx := context.Background()
	ms := newMemStore()
	cc := newTestCache(t, func(o *Options) { o.Read = ms })

	if err := cc.Write(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := cc.Write(ctx, "k2", []byte("v"), 1500*time.Millisecond); err != nil {
		t.Fatalf("Write: %v", err)
	}
	exp := ms.callsOf("EXPIRE")
	if len(exp) != 2 {
		t.Fatalf("expected 2 EXPIRE calls, got %d", len(exp))
	}
	if exp[0].ttl != 5000*time.Second {
		t.Fatalf("default ttl = %v, want 5000s", exp[0].ttl)
	}
	if exp[1].ttl != time.Second {
		t.Fatalf("sub-second remainder should be truncated, got %v", exp[1].ttl)
	}
}

// ==============================
// Orphan self-heal
// ==============================

func TestFetchRepairsOrphanOnWritePool(t *testing.T) {
	ctx := context.Background()
	rd, wr := newMemStore(), newMemStore()
	hooks := newCountingHooks()
	cc := newTestCache(t, func(o *Options) {
		production(rd, wr)(o)
		o.Hooks = hooks
	})

	rd.put("/orphan", []byte("stale"), 0) // no expiry

	got, ok, err := cc.Fetch(ctx, "/orphan")
	if err != nil || !ok || string(got) != "stale" {
		t.Fatalf("Fetch orphan: got=%q ok=%v err=%v", got, ok, err)
	}
	dels := wr.callsOf("DEL")
	if len(dels) != 1 || dels[0].key != "/orphan" {
		t.Fatalf("expected exactly one DEL on write pool, got %v", dels)
	}
	if n := len(rd.callsOf("DEL")); n != 0 {
		t.Fatalf("read pool must not receive DEL, got %d", n)
	}
	if hooks.orphans.Load() != 1 {
		t.Fatalf("OrphanRepaired hook count = %d", hooks.orphans.Load())
	}
}

func TestFetchKeepsKeyWithExpiry(t *testing.T) {
	ctx := context.Background()
	ms := newMemStore()
	cc := newTestCache(t, func(o *Options) { o.Read = ms })

	ms.put("k", []byte("v"), time.Minute)
	if _, ok, err := cc.Fetch(ctx, "k"); err != nil || !ok {
		t.Fatalf("Fetch: ok=%v err=%v", ok, err)
	}
	if n := len(ms.callsOf("DEL")); n != 0 {
		t.Fatalf("key with expiry must not be deleted, got %d DEL", n)
	}
}

func TestFetchKeyVanishedBeforeTTL(t *testing.T) {
	ctx := context.Background()
	ms := newMemStore()
	ms.beforeTTL = func(s *memStore) {
		s.mu.Lock()
		delete(s.m, "k")
		s.mu.Unlock()
	}
	cc := newTestCache(t, func(o *Options) { o.Read = ms })

	ms.put("k", []byte("v"), 0)
	got, ok, err := cc.Fetch(ctx, "k")
	if err != nil || !ok || string(got) != "v" {
		t.Fatalf("Fetch: got=%q ok=%v err=%v", got, ok, err)
	}
	if n := len(ms.callsOf("DEL")); n != 0 {
		t.Fatalf("absent key should not be repaired, got %d DEL", n)
	}
}

func TestFetchOrphanDeleteFailureReturnsDataWithError(t *testing.T) {
	ctx := context.Background()
	rd, wr := newMemStore(), newMemStore()
	boom := errors.New("readonly replica")
	wr.errs["DEL"] = boom
	hooks := newCountingHooks()
	cc := newTestCache(t, func(o *Options) {
		production(rd, wr)(o)
		o.Hooks = hooks
	})

	rd.put("k", []byte("v"), 0)
	got, ok, err := cc.Fetch(ctx, "k")
	if !errors.Is(err, boom) || !ok || string(got) != "v" {
		t.Fatalf("Fetch: got=%q ok=%v err=%v", got, ok, err)
	}
	var se *StoreError
	if !errors.As(err, &se) || se.Op != "DEL" {
		t.Fatalf("expected *StoreError for DEL, got %#v", err)
	}
	if hooks.orphans.Load() != 0 {
		t.Fatalf("failed repair must not count as repaired")
	}
}

// ==============================
// Store errors
// ==============================

func TestFetchGetErrorNotRetried(t *testing.T) {
	ctx := context.Background()
	ms := newMemStore()
	boom := errors.New("connection refused")
	ms.errs["GET"] = boom
	cc := newTestCache(t, func(o *Options) { o.Read = ms })

	got, ok, err := cc.Fetch(ctx, "k")
	if !errors.Is(err, boom) || ok || got != nil {
		t.Fatalf("Fetch: got=%q ok=%v err=%v", got, ok, err)
	}
	var se *StoreError
	if !errors.As(err, &se) || se.Op != "GET" || se.Key != "k" {
		t.Fatalf("expected *StoreError for GET, got %#v", err)
	}
	if n := len(ms.callsOf("GET")); n != 1 {
		t.Fatalf("GET issued %d times, want 1", n)
	}
}

func TestFetchTTLErrorSurfaces(t *testing.T) {
	ctx := context.Background()
	ms := newMemStore()
	boom := errors.New("ttl failed")
	ms.errs["TTL"] = boom
	cc := newTestCache(t, func(o *Options) { o.Read = ms })

	ms.put("k", []byte("v"), time.Minute)
	_, _, err := cc.Fetch(ctx, "k")
	if !errors.Is(err, boom) {
		t.Fatalf("expected TTL error, got %v", err)
	}
}

func TestWriteExpireFailureIsError(t *testing.T) {
	ctx := context.Background()
	ms := newMemStore()
	boom := errors.New("expire failed")
	ms.errs["EXPIRE"] = boom
	cc := newTestCache(t, func(o *Options) { o.Read = ms })

	if err := cc.Write(ctx, "k", []byte("v"), time.Minute); !errors.Is(err, boom) {
		t.Fatalf("Write: expected expire error, got %v", err)
	}
}

func TestWriteSetFailureSkipsExpire(t *testing.T) {
	ctx := context.Background()
	ms := newMemStore()
	boom := errors.New("set failed")
	ms.errs["SET"] = boom
	cc := newTestCache(t, func(o *Options) { o.Read = ms })

	if err := cc.Write(ctx, "k", []byte("v"), time.Minute); !errors.Is(err, boom) {
		t.Fatalf("Write: expected set error, got %v", err)
	}
	if n := len(ms.callsOf("EXPIRE")); n != 0 {
		t.Fatalf("EXPIRE issued after failed SET (%d)", n)
	}
}

// ==============================
// Deadline guard behaviour through operations
// ==============================

func TestFetchTimeoutOnHangingStore(t *testing.T) {
	ctx := context.Background()
	ms := newMemStore()
	ms.hang = make(chan struct{})
	hooks := newCountingHooks()
	cc := newTestCache(t, func(o *Options) {
		o.Read = ms
		o.Timeout = 50 * time.Millisecond
		o.Hooks = hooks
	})

	start := time.Now()
	got, ok, err := cc.Fetch(ctx, "/slow")
	elapsed := time.Since(start)
	if !errors.Is(err, ErrTimeout) || ok || got != nil {
		t.Fatalf("Fetch: got=%q ok=%v err=%v", got, ok, err)
	}
	var te *TimeoutError
	if !errors.As(err, &te) || te.Op != "fetch" || te.Key != "/slow" {
		t.Fatalf("expected *TimeoutError for fetch, got %#v", err)
	}
	if elapsed < 50*time.Millisecond || elapsed > 2*time.Second {
		t.Fatalf("timeout arrived after %v", elapsed)
	}

	close(ms.hang) // the store finally answers
	select {
	case op := <-hooks.late:
		if op != "fetch" {
			t.Fatalf("late result for %q", op)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("late result was never observed")
	}
	if hooks.timeouts.Load() != 1 {
		t.Fatalf("timeout hook count = %d", hooks.timeouts.Load())
	}
}

func TestLateResultDeliversNothing(t *testing.T) {
	ctx := context.Background()
	ms := newMemStore()
	ms.hang = make(chan struct{})
	hooks := newCountingHooks()
	cc := newTestCache(t, func(o *Options) {
		o.Read = ms
		o.Timeout = 30 * time.Millisecond
		o.Hooks = hooks
	})

	var calls atomic.Int64
	first := make(chan error, 4)
	cc.WriteAsync(ctx, "k", []byte("v"), time.Minute, func(err error) {
		calls.Add(1)
		first <- err
	})

	select {
	case err := <-first:
		if !errors.Is(err, ErrTimeout) {
			t.Fatalf("expected timeout, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no outcome delivered")
	}

	close(ms.hang)
	select {
	case <-hooks.late:
	case <-time.After(2 * time.Second):
		t.Fatalf("late result was never observed")
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("done called %d times, want 1", n)
	}
	if hooks.failed.Load() != 1 {
		t.Fatalf("WriteFailed hook count = %d", hooks.failed.Load())
	}
}

func TestExactlyOneOutcomeWhenStoreAnswers(t *testing.T) {
	ctx := context.Background()
	cc := newTestCache(t, func(o *Options) {
		o.Timeout = 20 * time.Millisecond
		o.Tick = 5 * time.Millisecond
	})

	for i := 0; i < 50; i++ {
		var calls atomic.Int64
		done := make(chan struct{})
		cc.WriteAsync(ctx, fmt.Sprintf("k%d", i), []byte("v"), time.Minute, func(error) {
			if calls.Add(1) == 1 {
				close(done)
			}
		})
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("iteration %d: no outcome", i)
		}
		time.Sleep(30 * time.Millisecond) // past the budget
		if n := calls.Load(); n != 1 {
			t.Fatalf("iteration %d: %d outcomes", i, n)
		}
	}
}

func TestFetchHonorsCallerContext(t *testing.T) {
	ms := newMemStore()
	ms.hang = make(chan struct{})
	defer close(ms.hang)
	hooks := newCountingHooks()
	cc := newTestCache(t, func(o *Options) {
		o.Read = ms
		o.Timeout = 60 * time.Millisecond
		o.Tick = 5 * time.Millisecond
		o.Hooks = hooks
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, _, err := cc.Fetch(ctx, "k"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context deadline, got %v", err)
	}

	// well past the guard's budget: an abandoned operation reports no timeout
	time.Sleep(150 * time.Millisecond)
	if n := hooks.timeouts.Load(); n != 0 {
		t.Fatalf("timeout hook fired %d times after the caller gave up", n)
	}
}

// ==============================
// Pool routing
// ==============================

func TestProductionRoutesByOperationKind(t *testing.T) {
	ctx := context.Background()
	rd, wr := newMemStore(), newMemStore()
	cc := newTestCache(t, production(rd, wr))

	if err := cc.Write(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := cc.CommandWrite(ctx, "SADD", "s", "1"); err != nil {
		t.Fatalf("CommandWrite: %v", err)
	}
	if rd.totalCalls() != 0 {
		t.Fatalf("writes reached the read pool: %v", rd.calls)
	}

	// separate pools: the read side does not see the write
	if _, ok, _ := cc.Fetch(ctx, "k"); ok {
		t.Fatalf("read pool unexpectedly has the key")
	}
	if _, err := cc.CommandFetch(ctx, "SMEMBERS", "s"); err != nil {
		t.Fatalf("CommandFetch: %v", err)
	}
	if len(rd.callsOf("GET")) != 1 || len(rd.callsOf("SMEMBERS")) != 1 {
		t.Fatalf("reads did not reach the read pool: %v", rd.calls)
	}
	if len(wr.callsOf("GET")) != 0 || len(wr.callsOf("SMEMBERS")) != 0 {
		t.Fatalf("reads reached the write pool: %v", wr.calls)
	}
}

func TestDevelopmentAliasesPools(t *testing.T) {
	ctx := context.Background()
	rd, ignored := newMemStore(), newMemStore()
	cc := newTestCache(t, func(o *Options) {
		o.Mode = ModeDevelopment
		o.Read = rd
		o.Write = ignored
	})

	impl := cc.(*cache)
	if !impl.pools.Aliased() || impl.pools.For(OpWrite) != store.Store(rd) {
		t.Fatalf("development mode must alias the write pool to the read pool")
	}
	if err := cc.Write(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, ok, err := cc.Fetch(ctx, "k")
	if err != nil || !ok || string(got) != "v" {
		t.Fatalf("Fetch after write: got=%q ok=%v err=%v", got, ok, err)
	}
	if ignored.totalCalls() != 0 {
		t.Fatalf("ignored write store was used")
	}
}

func TestProductionRequiresWritePool(t *testing.T) {
	_, err := New(Options{Mode: ModeProduction, Read: newMemStore()})
	if !errors.Is(err, ErrNilStore) {
		t.Fatalf("expected ErrNilStore, got %v", err)
	}
	if _, err := New(Options{}); !errors.Is(err, ErrNilStore) {
		t.Fatalf("expected ErrNilStore without read pool, got %v", err)
	}
}

func TestCloseClosesEachPoolOnce(t *testing.T) {
	rd, wr := newMemStore(), newMemStore()
	cc, err := New(Options{Mode: ModeProduction, Read: rd, Write: wr})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := cc.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if rd.closed != 1 || wr.closed != 1 {
		t.Fatalf("closed read=%d write=%d", rd.closed, wr.closed)
	}

	dev := newMemStore()
	cd, _ := New(Options{Read: dev})
	_ = cd.Close(context.Background())
	if dev.closed != 1 {
		t.Fatalf("aliased pool closed %d times", dev.closed)
	}
}

// ==============================
// Command passthrough
// ==============================

func TestCommandSetAddThenMembers(t *testing.T) {
	ctx := context.Background()
	cc := newTestCache(t, nil)

	if _, err := cc.CommandWrite(ctx, "SADD", "seen-ids", "42"); err != nil {
		t.Fatalf("CommandWrite: %v", err)
	}
	v, err := cc.CommandFetch(ctx, "SMEMBERS", "seen-ids")
	if err != nil {
		t.Fatalf("CommandFetch: %v", err)
	}
	members, _ := v.([]any)
	found := false
	for _, m := range members {
		if m == "42" {
			found = true
		}
	}
	if !found {
		t.Fatalf("SMEMBERS = %v, want to include 42", v)
	}
}

func TestCommandErrorSurfaces(t *testing.T) {
	cc := newTestCache(t, nil)
	_, err := cc.CommandFetch(context.Background(), "ZRANGE", "z", 0, -1)
	if !errors.Is(err, store.ErrUnsupportedCommand) {
		t.Fatalf("expected unsupported command error, got %v", err)
	}
}

// ==============================
// Tokens and typed access
// ==============================

func TestRevokeToken(t *testing.T) {
	ctx := context.Background()
	ms := newMemStore()
	cc := newTestCache(t, func(o *Options) { o.Read = ms })

	if revoked, err := TokenRevoked(ctx, cc, "abc"); err != nil || revoked {
		t.Fatalf("fresh token: revoked=%v err=%v", revoked, err)
	}
	if err := RevokeToken(ctx, cc, "abc"); err != nil {
		t.Fatalf("RevokeToken: %v", err)
	}
	if revoked, err := TokenRevoked(ctx, cc, "abc"); err != nil || !revoked {
		t.Fatalf("revoked token: revoked=%v err=%v", revoked, err)
	}
	exp := ms.callsOf("EXPIRE")
	if len(exp) != 1 || exp[0].ttl != RevokedTokenTTL || exp[0].key != RevokedTokenKey("abc") {
		t.Fatalf("unexpected EXPIRE calls: %v", exp)
	}
	if err := RevokeToken(ctx, cc, ""); err != nil {
		t.Fatalf("RevokeToken empty: %v", err)
	}
	if n := len(ms.callsOf("SET")); n != 1 {
		t.Fatalf("empty token must not be written, SET count %d", n)
	}
}

func TestRevocationsUnderBareToken(t *testing.T) {
	ctx := context.Background()
	ms := newMemStore()
	cc := newTestCache(t, func(o *Options) { o.Read = ms })
	revs := NewRevocations(cc, "")

	if err := revs.Revoke(ctx, "tok-1"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	b, ok, err := cc.Fetch(ctx, "tok-1")
	if err != nil || !ok || string(b) != "logged" {
		t.Fatalf("marker under bare token: %q ok=%v err=%v", b, ok, err)
	}
	if revoked, err := TokenRevoked(ctx, cc, "tok-1"); err != nil || revoked {
		t.Fatalf("default prefix must not see bare markers: revoked=%v err=%v", revoked, err)
	}
}

// recLogger keeps every line with its fields rendered as text.
type recLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recLogger) add(level, msg string, f Fields) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf("%s %s %v", level, msg, f))
}

func (l *recLogger) Debug(msg string, f Fields) { l.add("DEBUG", msg, f) }
func (l *recLogger) Info(msg string, f Fields)  { l.add("INFO", msg, f) }
func (l *recLogger) Warn(msg string, f Fields)  { l.add("WARN", msg, f) }
func (l *recLogger) Error(msg string, f Fields) { l.add("ERROR", msg, f) }

func (l *recLogger) text() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return strings.Join(l.lines, "\n")
}

func TestLogsAndErrorsNeverCarryRawKeys(t *testing.T) {
	ctx := context.Background()
	ms := newMemStore()
	ms.errs["EXPIRE"] = errors.New("boom")
	logs := &recLogger{}
	cc := newTestCache(t, func(o *Options) {
		o.Read = ms
		o.Logger = logs
	})

	const token = "eyJSECRETTOKEN"
	err := RevokeToken(ctx, cc, token)
	if err == nil {
		t.Fatalf("expected EXPIRE failure")
	}
	if strings.Contains(err.Error(), token) {
		t.Fatalf("error string leaks token: %v", err)
	}
	var se *StoreError
	if !errors.As(err, &se) || se.Key != RevokedTokenKey(token) {
		t.Fatalf("StoreError should keep the key as a field: %#v", err)
	}
	out := logs.text()
	if out == "" {
		t.Fatalf("expected log lines")
	}
	if strings.Contains(out, token) {
		t.Fatalf("logs leak token:\n%s", out)
	}
	if !strings.Contains(out, RedactKey(RevokedTokenKey(token))) {
		t.Fatalf("logs should carry the redacted key:\n%s", out)
	}
}

type article struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
}

func TestTypedGetSet(t *testing.T) {
	ctx := context.Background()
	cc := newTestCache(t, nil)
	tc := NewTyped[article](cc, codec.JSON[article]{})

	in := article{ID: 1, Title: "hello"}
	if err := tc.Set(ctx, "/articles/1", in, time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok, err := tc.Get(ctx, "/articles/1")
	if err != nil || !ok || got != in {
		t.Fatalf("Get: got=%v ok=%v err=%v", got, ok, err)
	}
}

func TestTypedSelfHealsUndecodable(t *testing.T) {
	ctx := context.Background()
	ms := newMemStore()
	hooks := newCountingHooks()
	cc := newTestCache(t, func(o *Options) {
		o.Read = ms
		o.Hooks = hooks
	})
	tc := NewTyped[article](cc, codec.JSON[article]{})

	ms.put("/articles/2", []byte("not-json"), time.Minute)
	if _, ok, err := tc.Get(ctx, "/articles/2"); err != nil || ok {
		t.Fatalf("Get corrupt: ok=%v err=%v", ok, err)
	}
	if _, ok, _ := ms.Get(ctx, "/articles/2"); ok {
		t.Fatalf("undecodable entry was not deleted")
	}
	if hooks.healed.Load() != 1 {
		t.Fatalf("SelfHeal hook count = %d", hooks.healed.Load())
	}
}
