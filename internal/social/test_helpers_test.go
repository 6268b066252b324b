package social

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/murmur/internal/kvstore"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var errInjected = errors.New("injected store failure")

// faultyStore fails selected calls of the wrapped store.
type faultyStore struct {
	kvstore.Store

	mu    sync.Mutex
	fail  func(op, key string) bool
	calls map[string]int
}

func newFaultyStore(inner kvstore.Store) *faultyStore {
	return &faultyStore{Store: inner, calls: make(map[string]int)}
}

func (f *faultyStore) failWhen(predicate func(op, key string) bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = predicate
}

func (f *faultyStore) callCount(op, key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op+" "+key]
}

func (f *faultyStore) check(op, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op+" "+key]++
	if f.fail != nil && f.fail(op, key) {
		return errInjected
	}
	return nil
}

func (f *faultyStore) Incr(ctx context.Context, key string) (int64, error) {
	if err := f.check("incr", key); err != nil {
		return 0, err
	}
	return f.Store.Incr(ctx, key)
}

func (f *faultyStore) HSetNX(ctx context.Context, key, field, value string) (bool, error) {
	if err := f.check("hsetnx", key); err != nil {
		return false, err
	}
	return f.Store.HSetNX(ctx, key, field, value)
}

func (f *faultyStore) SAdd(ctx context.Context, key string, members ...string) (int64, error) {
	if err := f.check("sadd", key); err != nil {
		return 0, err
	}
	return f.Store.SAdd(ctx, key, members...)
}

func (f *faultyStore) SMembers(ctx context.Context, key string) ([]string, error) {
	if err := f.check("smembers", key); err != nil {
		return nil, err
	}
	return f.Store.SMembers(ctx, key)
}

func (f *faultyStore) LPush(ctx context.Context, key string, values ...string) (int64, error) {
	if err := f.check("lpush", key); err != nil {
		return 0, err
	}
	return f.Store.LPush(ctx, key, values...)
}

func (f *faultyStore) Ping(ctx context.Context) error {
	if err := f.check("ping", ""); err != nil {
		return err
	}
	return f.Store.Ping(ctx)
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFixedClock(now time.Time) *fixedClock {
	return &fixedClock{now: now}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func newTestService(t *testing.T, store kvstore.Store, clock func() time.Time, logger *zap.Logger) *Service {
	t.Helper()
	service, err := NewService(ServiceConfig{
		Store:  store,
		Hasher: NewBcryptHasher(bcrypt.MinCost),
		Clock:  clock,
		Logger: logger,
		Retry:  fastRetry(),
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service
}

func mustSignup(t *testing.T, service *Service, username string) int64 {
	t.Helper()
	result, err := service.SignupOrLogin(context.Background(), username, username+"-password")
	if err != nil {
		t.Fatalf("signup %s failed: %v", username, err)
	}
	return result.UserID
}

func mustFollow(t *testing.T, service *Service, userID int64, followee string) {
	t.Helper()
	if err := service.Follow(context.Background(), userID, followee); err != nil {
		t.Fatalf("follow %s failed: %v", followee, err)
	}
}

func mustPost(t *testing.T, service *Service, userID int64, message string) int64 {
	t.Helper()
	result, err := service.CreatePost(context.Background(), userID, message)
	if err != nil {
		t.Fatalf("create post failed: %v", err)
	}
	return result.PostID
}

func timelinePostIDs(view HomeView) []int64 {
	ids := make([]int64, 0, len(view.Timeline))
	for _, entry := range view.Timeline {
		ids = append(ids, entry.PostID)
	}
	return ids
}
