// Package kvstoretest holds the behavioural contract every kvstore.Store backend must satisfy.
package kvstoretest

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"testing"

	"github.com/MarcoPoloResearchLab/murmur/internal/kvstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store for a single subtest.
type Factory func(t *testing.T) kvstore.Store

// RunContract exercises the full Store surface against stores produced by newStore.
func RunContract(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("incr allocates strictly increasing values", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		for expected := int64(1); expected <= 3; expected++ {
			value, err := store.Incr(ctx, "postid")
			require.NoError(t, err)
			assert.Equal(t, expected, value)
		}
	})

	t.Run("incr is collision free under concurrency", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		const workers = 16
		const perWorker = 10

		var mu sync.Mutex
		seen := make(map[int64]bool)
		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < perWorker; i++ {
					value, err := store.Incr(ctx, "userid")
					if !assert.NoError(t, err) {
						return
					}
					mu.Lock()
					assert.False(t, seen[value], "duplicate id %d", value)
					seen[value] = true
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Len(t, seen, workers*perWorker)
	})

	t.Run("hash get set and get all", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		_, err := store.HGet(ctx, "user:1", "username")
		assert.True(t, errors.Is(err, kvstore.ErrNotFound))

		require.NoError(t, store.HSet(ctx, "user:1", map[string]string{"username": "alice", "hash": "digest"}))
		value, err := store.HGet(ctx, "user:1", "username")
		require.NoError(t, err)
		assert.Equal(t, "alice", value)

		_, err = store.HGet(ctx, "user:1", "missing")
		assert.True(t, errors.Is(err, kvstore.ErrNotFound))

		all, err := store.HGetAll(ctx, "user:1")
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"username": "alice", "hash": "digest"}, all)

		empty, err := store.HGetAll(ctx, "user:404")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("hsetnx inserts only once", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		inserted, err := store.HSetNX(ctx, "users", "alice", "1")
		require.NoError(t, err)
		assert.True(t, inserted)

		inserted, err = store.HSetNX(ctx, "users", "alice", "2")
		require.NoError(t, err)
		assert.False(t, inserted)

		value, err := store.HGet(ctx, "users", "alice")
		require.NoError(t, err)
		assert.Equal(t, "1", value)

		_, err = store.HSetNX(ctx, "users", "bob", "3")
		require.NoError(t, err)
		keys, err := store.HKeys(ctx, "users")
		require.NoError(t, err)
		sort.Strings(keys)
		assert.Equal(t, []string{"alice", "bob"}, keys)
	})

	t.Run("hsetnx has a single winner under concurrency", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		const contenders = 12

		var wg sync.WaitGroup
		var mu sync.Mutex
		winners := 0
		for i := 0; i < contenders; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				inserted, err := store.HSetNX(ctx, "users", "carol", strconv.Itoa(id))
				if !assert.NoError(t, err) {
					return
				}
				if inserted {
					mu.Lock()
					winners++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 1, winners)
	})

	t.Run("sets are idempotent", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		added, err := store.SAdd(ctx, "followers:alice", "bob", "carol")
		require.NoError(t, err)
		assert.Equal(t, int64(2), added)

		added, err = store.SAdd(ctx, "followers:alice", "bob")
		require.NoError(t, err)
		assert.Equal(t, int64(0), added)

		members, err := store.SMembers(ctx, "followers:alice")
		require.NoError(t, err)
		sort.Strings(members)
		assert.Equal(t, []string{"bob", "carol"}, members)

		ok, err := store.SIsMember(ctx, "followers:alice", "carol")
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = store.SIsMember(ctx, "followers:alice", "dave")
		require.NoError(t, err)
		assert.False(t, ok)

		members, err = store.SMembers(ctx, "followers:nobody")
		require.NoError(t, err)
		assert.Empty(t, members)
	})

	t.Run("lists push to head and range inclusively", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		for i := 1; i <= 5; i++ {
			length, err := store.LPush(ctx, "timeline:alice", strconv.Itoa(i))
			require.NoError(t, err)
			assert.Equal(t, int64(i), length)
		}

		values, err := store.LRange(ctx, "timeline:alice", 0, 2)
		require.NoError(t, err)
		assert.Equal(t, []string{"5", "4", "3"}, values)

		values, err = store.LRange(ctx, "timeline:alice", 0, -1)
		require.NoError(t, err)
		assert.Equal(t, []string{"5", "4", "3", "2", "1"}, values)

		values, err = store.LRange(ctx, "timeline:alice", -2, 100)
		require.NoError(t, err)
		assert.Equal(t, []string{"2", "1"}, values)

		values, err = store.LRange(ctx, "timeline:alice", 10, 20)
		require.NoError(t, err)
		assert.Empty(t, values)

		values, err = store.LRange(ctx, "timeline:nobody", 0, 99)
		require.NoError(t, err)
		assert.Empty(t, values)
	})

	t.Run("lpush with several values puts the last at the head", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		_, err := store.LPush(ctx, "timeline:bob", "1", "2", "3")
		require.NoError(t, err)
		values, err := store.LRange(ctx, "timeline:bob", 0, -1)
		require.NoError(t, err)
		assert.Equal(t, []string{"3", "2", "1"}, values)
	})

	t.Run("ltrim keeps the requested window", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		for i := 1; i <= 6; i++ {
			_, err := store.LPush(ctx, "timeline:carol", strconv.Itoa(i))
			require.NoError(t, err)
		}
		require.NoError(t, store.LTrim(ctx, "timeline:carol", 0, 2))
		values, err := store.LRange(ctx, "timeline:carol", 0, -1)
		require.NoError(t, err)
		assert.Equal(t, []string{"6", "5", "4"}, values)

		_, err = store.LPush(ctx, "timeline:carol", "7")
		require.NoError(t, err)
		values, err = store.LRange(ctx, "timeline:carol", 0, -1)
		require.NoError(t, err)
		assert.Equal(t, []string{"7", "6", "5", "4"}, values)

		require.NoError(t, store.LTrim(ctx, "timeline:nobody", 0, 2))
	})

	t.Run("del removes keys of any kind", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		require.NoError(t, store.HSet(ctx, "user:9", map[string]string{"username": "zed"}))
		_, err := store.SAdd(ctx, "following:zed", "alice")
		require.NoError(t, err)
		_, err = store.LPush(ctx, "timeline:zed", "1")
		require.NoError(t, err)

		require.NoError(t, store.Del(ctx, "user:9", "following:zed", "timeline:zed", "absent"))

		all, err := store.HGetAll(ctx, "user:9")
		require.NoError(t, err)
		assert.Empty(t, all)
		members, err := store.SMembers(ctx, "following:zed")
		require.NoError(t, err)
		assert.Empty(t, members)
		values, err := store.LRange(ctx, "timeline:zed", 0, -1)
		require.NoError(t, err)
		assert.Empty(t, values)
	})

	t.Run("wrong type is reported", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		_, err := store.SAdd(ctx, "followers:alice", "bob")
		require.NoError(t, err)
		_, err = store.LPush(ctx, "followers:alice", "1")
		assert.True(t, errors.Is(err, kvstore.ErrWrongType), "unexpected error: %v", err)
	})

	t.Run("ping succeeds on an open store", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Ping(context.Background()))
	})
}
