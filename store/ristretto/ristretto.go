// Package ristretto is an in-process store.Store for development and tests,
// backed by dgraph-io/ristretto. It understands the string commands dualcache
// issues natively plus a small set of set-type commands through Do.
package ristretto

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	rc "github.com/dgraph-io/ristretto"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/unkn0wn-root/dualcache/store"
)

var ErrRejected = errors.New("ristretto store: write rejected")

type kind uint8

const (
	kindString kind = iota + 1
	kindSet
)

// entry is what ristretto holds. Sets are msgpack-encoded sorted member lists.
type entry struct {
	k kind
	b []byte
}

type Store struct {
	// ristretto applies writes asynchronously; mu serializes read-modify-write
	// sequences (EXPIRE, SADD) and the Wait that makes writes visible.
	mu sync.Mutex
	c  *rc.Cache
}

var _ store.Store = (*Store)(nil)

type Config struct {
	NumCounters int64
	MaxCost     int64 // in bytes of stored payload
	BufferItems int64
	Metrics     bool
}

func New(cfg Config) (*Store, error) {
	if cfg.NumCounters <= 0 || cfg.MaxCost <= 0 || cfg.BufferItems <= 0 {
		return nil, errors.New("ristretto: invalid config")
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}
	return &Store{c: c}, nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.load(key)
	if !ok {
		return nil, false, nil
	}
	if e.k != kindString {
		return nil, false, store.ErrWrongType
	}
	return e.b, true, nil
}

func (s *Store) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(key, entry{k: kindString, b: value}, 0)
}

func (s *Store) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.load(key)
	if !ok {
		return false, nil
	}
	if ttl <= 0 {
		s.c.Del(key)
		s.c.Wait()
		return true, nil
	}
	if err := s.put(key, e, ttl); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) TTL(_ context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ttl(key), nil
}

func (s *Store) Del(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.c.Del(key)
	s.c.Wait()
	return nil
}

// Do supports GET, SET, DEL, EXISTS, TTL, SADD, SREM, SMEMBERS, SISMEMBER and SCARD.
// Replies use the shapes go-redis produces: strings, int64 and []any.
func (s *Store) Do(_ context.Context, cmd string, args ...any) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(args) == 0 {
		return nil, fmt.Errorf("ristretto store: %s: missing key", cmd)
	}
	key := argString(args[0])
	rest := args[1:]

	switch strings.ToUpper(cmd) {
	case "GET":
		e, ok := s.load(key)
		if !ok {
			return nil, nil
		}
		if e.k != kindString {
			return nil, store.ErrWrongType
		}
		return string(e.b), nil
	case "SET":
		if len(rest) != 1 {
			return nil, fmt.Errorf("ristretto store: SET: wrong number of arguments")
		}
		if err := s.put(key, entry{k: kindString, b: []byte(argString(rest[0]))}, 0); err != nil {
			return nil, err
		}
		return "OK", nil
	case "DEL", "EXISTS":
		var n int64
		for _, a := range args {
			k := argString(a)
			if _, ok := s.load(k); ok {
				n++
				if strings.EqualFold(cmd, "DEL") {
					s.c.Del(k)
				}
			}
		}
		s.c.Wait()
		return n, nil
	case "TTL":
		d := s.ttl(key)
		if d < 0 {
			return int64(d), nil
		}
		return int64(d / time.Second), nil
	case "SADD", "SREM":
		members, ttl, err := s.loadSet(key)
		if err != nil {
			return nil, err
		}
		add := strings.EqualFold(cmd, "SADD")
		var changed int64
		for _, a := range rest {
			m := argString(a)
			_, present := members[m]
			switch {
			case add && !present:
				members[m] = struct{}{}
				changed++
			case !add && present:
				delete(members, m)
				changed++
			}
		}
		if changed == 0 {
			return int64(0), nil
		}
		if len(members) == 0 {
			s.c.Del(key)
			s.c.Wait()
			return changed, nil
		}
		if err := s.storeSet(key, members, ttl); err != nil {
			return nil, err
		}
		return changed, nil
	case "SMEMBERS":
		members, _, err := s.loadSet(key)
		if err != nil {
			return nil, err
		}
		out := make([]any, 0, len(members))
		for _, m := range sortedMembers(members) {
			out = append(out, m)
		}
		return out, nil
	case "SISMEMBER":
		if len(rest) != 1 {
			return nil, fmt.Errorf("ristretto store: SISMEMBER: wrong number of arguments")
		}
		members, _, err := s.loadSet(key)
		if err != nil {
			return nil, err
		}
		if _, ok := members[argString(rest[0])]; ok {
			return int64(1), nil
		}
		return int64(0), nil
	case "SCARD":
		members, _, err := s.loadSet(key)
		if err != nil {
			return nil, err
		}
		return int64(len(members)), nil
	default:
		return nil, fmt.Errorf("%w: %s", store.ErrUnsupportedCommand, cmd)
	}
}

func (s *Store) Close(_ context.Context) error {
	s.c.Wait()
	s.c.Close()
	return nil
}

// Helper to expose metrics if desired by the application (not part of store.Store).
func (s *Store) Metrics() *rc.Metrics { return s.c.Metrics }

func (s *Store) load(key string) (entry, bool) {
	v, ok := s.c.Get(key)
	if !ok {
		return entry{}, false
	}
	e, ok := v.(entry)
	if !ok {
		// self-heal: drop unexpected entry shape
		s.c.Del(key)
		return entry{}, false
	}
	return e, true
}

// put writes e with ttl (0 => no expiry) and waits until the write is visible.
func (s *Store) put(key string, e entry, ttl time.Duration) error {
	if !s.c.SetWithTTL(key, e, int64(len(e.b))+1, ttl) {
		return ErrRejected
	}
	s.c.Wait()
	return nil
}

func (s *Store) ttl(key string) time.Duration {
	d, ok := s.c.GetTTL(key)
	if !ok {
		return store.KeyAbsent
	}
	if d == 0 {
		return store.NoExpiry
	}
	return d
}

// loadSet returns the members of key and its remaining ttl (0 => none).
func (s *Store) loadSet(key string) (map[string]struct{}, time.Duration, error) {
	members := make(map[string]struct{})
	e, ok := s.load(key)
	if !ok {
		return members, 0, nil
	}
	if e.k != kindSet {
		return nil, 0, store.ErrWrongType
	}
	var list []string
	if err := msgpack.Unmarshal(e.b, &list); err != nil {
		return nil, 0, fmt.Errorf("ristretto store: decode set: %w", err)
	}
	for _, m := range list {
		members[m] = struct{}{}
	}
	ttl := s.ttl(key)
	if ttl < 0 {
		ttl = 0
	}
	return members, ttl, nil
}

func (s *Store) storeSet(key string, members map[string]struct{}, ttl time.Duration) error {
	b, err := msgpack.Marshal(sortedMembers(members))
	if err != nil {
		return err
	}
	return s.put(key, entry{k: kindSet, b: b}, ttl)
}

func sortedMembers(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func argString(a any) string {
	switch v := a.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return fmt.Sprint(v)
	}
}
