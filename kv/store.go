// Package kv defines the small persistence interface every other
// package in this service depends on: scalar get/set with TTL, atomic
// get-and-delete, and the set/list primitives the risk gate and
// manager endpoints need. Two bindings are provided: memkv (in-memory,
// used by tests and as a zero-dependency default) and rediskv (backed
// by github.com/go-redis/redis, the production binding).
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get and GetAndDelete when key is absent or
// expired.
var ErrNotFound = errors.New("kv: key not found")

// Store is the persistence contract used throughout the service.
type Store interface {
	// Get returns the raw value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value under key with the given TTL (0 means no
	// expiry).
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// GetAndDelete atomically fetches and removes key, returning
	// ErrNotFound if it was already absent or expired. This is the
	// primitive the challenge verifier relies on for single-shot
	// redemption.
	GetAndDelete(ctx context.Context, key string) ([]byte, error)
	// Delete removes key if present; it is not an error if key is
	// already absent.
	Delete(ctx context.Context, key string) error

	// SAdd adds member to the set stored under key.
	SAdd(ctx context.Context, key string, member string) error
	// SMembers returns every member of the set stored under key.
	SMembers(ctx context.Context, key string) ([]string, error)

	// Scan returns every key matching prefix. Intended for
	// maintenance/debug use, not the request hot path.
	Scan(ctx context.Context, prefix string) ([]string, error)

	// LPush prepends value to the list stored under key.
	LPush(ctx context.Context, key string, value []byte) error
	// LRange returns up to count entries starting at index start (0 is
	// the head, i.e. the most recently pushed entry).
	LRange(ctx context.Context, key string, start, count int) ([][]byte, error)
	// LLen returns the number of entries in the list stored under key.
	LLen(ctx context.Context, key string) (int, error)
	// LTrim keeps only the first count entries of the list stored
	// under key, discarding the rest (used to cap manager:requests at
	// 500 entries).
	LTrim(ctx context.Context, key string, count int) error
}
