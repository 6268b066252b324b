// Package kvstore defines the primitive key-value operations the timeline engine
// is built on and provides in-memory and Redis implementations.
//
// Every operation is atomic for the single key it touches. No operation spans
// keys, and no transactions are offered; callers order their writes instead.
package kvstore

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by HGet when the key or field does not exist.
	ErrNotFound = errors.New("kvstore: not found")
	// ErrWrongType is returned when a key holds a value of a different kind.
	ErrWrongType = errors.New("kvstore: wrong type for key")
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("kvstore: store closed")
)

// Store is the primitive key-value substrate.
type Store interface {
	// Incr atomically increments the counter at key and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)

	// HGet returns a single hash field, or ErrNotFound.
	HGet(ctx context.Context, key, field string) (string, error)
	// HGetAll returns every field of the hash; an absent key yields an empty map.
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	// HSet writes the provided fields, overwriting existing values.
	HSet(ctx context.Context, key string, values map[string]string) error
	// HSetNX writes field only when absent and reports whether it did.
	HSetNX(ctx context.Context, key, field, value string) (bool, error)
	// HKeys returns the field names of the hash in no particular order.
	HKeys(ctx context.Context, key string) ([]string, error)

	// SAdd adds members to the set and returns how many were not present.
	SAdd(ctx context.Context, key string, members ...string) (int64, error)
	// SMembers returns the set members in no particular order.
	SMembers(ctx context.Context, key string) ([]string, error)
	SIsMember(ctx context.Context, key, member string) (bool, error)

	// LPush prepends values (last argument ends up at the head) and returns the new length.
	LPush(ctx context.Context, key string, values ...string) (int64, error)
	// LRange returns elements start..stop inclusive; negative indexes count from the tail.
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	// LTrim keeps elements start..stop inclusive and drops the rest.
	LTrim(ctx context.Context, key string, start, stop int64) error

	Del(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error
	Close() error
}

// NormalizeRange converts Redis-style inclusive indexes into a half-open
// [from, to) window over a list of the given length. ok is false when the
// window is empty.
func NormalizeRange(start, stop, length int64) (from, to int64, ok bool) {
	if start < 0 {
		start += length
	}
	if stop < 0 {
		stop += length
	}
	if start < 0 {
		start = 0
	}
	if stop >= length {
		stop = length - 1
	}
	if length == 0 || start > stop || start >= length {
		return 0, 0, false
	}
	return start, stop + 1, true
}
