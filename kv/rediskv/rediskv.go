// Package rediskv binds kv.Store to github.com/go-redis/redis, the
// production KV endpoint configured via KV_URL (default
// redis://localhost:6379). GetAndDelete is implemented as a Lua script
// so the fetch-and-remove stays atomic across the client round trip
// and a correct answer can never be replayed.
package rediskv

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis"

	"github.com/synnergy-labs/challenge-gate/kv"
)

// getAndDeleteScript atomically returns and removes a key.
const getAndDeleteScript = `
local v = redis.call("GET", KEYS[1])
if v then redis.call("DEL", KEYS[1]) end
return v
`

// Store binds kv.Store to a redis.Client.
type Store struct {
	client *redis.Client
}

// New dials addr (a redis:// URL) and returns a Store.
func New(addr string) (*Store, error) {
	opt, err := redis.ParseURL(addr)
	if err != nil {
		return nil, fmt.Errorf("rediskv: parse KV_URL: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping().Err(); err != nil {
		return nil, fmt.Errorf("rediskv: ping: %w", err)
	}
	return &Store{client: client}, nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	v, err := s.client.Get(key).Bytes()
	if err == redis.Nil {
		return nil, kv.ErrNotFound
	}
	return v, err
}

func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(key, value, ttl).Err()
}

func (s *Store) GetAndDelete(_ context.Context, key string) ([]byte, error) {
	res, err := s.client.Eval(getAndDeleteScript, []string{key}).Result()
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, kv.ErrNotFound
	}
	str, ok := res.(string)
	if !ok {
		return nil, kv.ErrNotFound
	}
	return []byte(str), nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	return s.client.Del(key).Err()
}

func (s *Store) SAdd(_ context.Context, key string, member string) error {
	return s.client.SAdd(key, member).Err()
}

func (s *Store) SMembers(_ context.Context, key string) ([]string, error) {
	return s.client.SMembers(key).Result()
}

func (s *Store) Scan(_ context.Context, prefix string) ([]string, error) {
	var out []string
	iter := s.client.Scan(0, prefix+"*", 0).Iterator()
	for iter.Next() {
		out = append(out, iter.Val())
	}
	return out, iter.Err()
}

func (s *Store) LPush(_ context.Context, key string, value []byte) error {
	return s.client.LPush(key, value).Err()
}

func (s *Store) LRange(_ context.Context, key string, start, count int) ([][]byte, error) {
	vals, err := s.client.LRange(key, int64(start), int64(start+count-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}

func (s *Store) LLen(_ context.Context, key string) (int, error) {
	n, err := s.client.LLen(key).Result()
	return int(n), err
}

func (s *Store) LTrim(_ context.Context, key string, count int) error {
	return s.client.LTrim(key, 0, int64(count-1)).Err()
}
