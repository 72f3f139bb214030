// Package memkv is an in-memory binding of the kv.Store interface,
// used by tests and as the fallback when the Redis store named by
// KV_URL cannot be opened.
package memkv

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/synnergy-labs/challenge-gate/kv"
)

type entry struct {
	value   []byte
	expires time.Time // zero means no expiry
}

func (e entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && now.After(e.expires)
}

// Store is an in-memory, mutex-guarded implementation of kv.Store.
type Store struct {
	mu    sync.Mutex
	data  map[string]entry
	sets  map[string]map[string]struct{}
	lists map[string][][]byte
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		data:  make(map[string]entry),
		sets:  make(map[string]map[string]struct{}),
		lists: make(map[string][][]byte),
	}
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[key]
	if !ok || e.expired(time.Now()) {
		return nil, kv.ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}

func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	s.data[key] = entry{value: append([]byte(nil), value...), expires: exp}
	return nil
}

func (s *Store) GetAndDelete(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[key]
	if !ok || e.expired(time.Now()) {
		return nil, kv.ErrNotFound
	}
	delete(s.data, key)
	return e.value, nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *Store) SAdd(_ context.Context, key string, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[key]
	if !ok {
		set = make(map[string]struct{})
		s.sets[key] = set
	}
	set[member] = struct{}{}
	return nil
}

func (s *Store) SMembers(_ context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.sets[key]
	out := make([]string, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	return out, nil
}

func (s *Store) Scan(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var out []string
	for k, e := range s.data {
		if e.expired(now) {
			continue
		}
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out, nil
}

func (s *Store) LPush(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := append([]byte(nil), value...)
	s.lists[key] = append([][]byte{cp}, s.lists[key]...)
	return nil
}

func (s *Store) LRange(_ context.Context, key string, start, count int) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.lists[key]
	if start >= len(list) {
		return nil, nil
	}
	end := start + count
	if end > len(list) || count < 0 {
		end = len(list)
	}
	out := make([][]byte, end-start)
	copy(out, list[start:end])
	return out, nil
}

func (s *Store) LLen(_ context.Context, key string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lists[key]), nil
}

func (s *Store) LTrim(_ context.Context, key string, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.lists[key]
	if count < len(list) {
		s.lists[key] = list[:count]
	}
	return nil
}
