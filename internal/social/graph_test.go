package social

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MarcoPoloResearchLab/murmur/internal/kvstore"
)

func newTestGraph(t *testing.T, store kvstore.Store) *SocialGraph {
	t.Helper()
	graph, err := NewSocialGraph(store, fastRetry(), nil)
	if err != nil {
		t.Fatalf("failed to create graph: %v", err)
	}
	return graph
}

func TestFollowIsIdempotentAndSymmetric(t *testing.T) {
	ctx := context.Background()
	graph := newTestGraph(t, kvstore.NewMemoryStore())

	for i := 0; i < 3; i++ {
		if err := graph.Follow(ctx, "bob", "alice"); err != nil {
			t.Fatalf("follow attempt %d failed: %v", i, err)
		}
	}
	if err := graph.Follow(ctx, "carol", "alice"); err != nil {
		t.Fatalf("follow failed: %v", err)
	}

	following, err := graph.ListFollowing(ctx, "bob")
	if err != nil {
		t.Fatalf("list following failed: %v", err)
	}
	if strings.Join(following, ",") != "alice" {
		t.Fatalf("unexpected following %v", following)
	}
	followers, err := graph.ListFollowers(ctx, "alice")
	if err != nil {
		t.Fatalf("list followers failed: %v", err)
	}
	if strings.Join(followers, ",") != "bob,carol" {
		t.Fatalf("unexpected followers %v", followers)
	}

	ok, err := graph.IsFollowing(ctx, "bob", "alice")
	if err != nil || !ok {
		t.Fatalf("expected bob to follow alice, ok=%v err=%v", ok, err)
	}
	ok, err = graph.IsFollowing(ctx, "alice", "bob")
	if err != nil || ok {
		t.Fatalf("expected alice not to follow bob, ok=%v err=%v", ok, err)
	}
}

func TestFollowRejectsSelfAndEmpty(t *testing.T) {
	graph := newTestGraph(t, kvstore.NewMemoryStore())
	if err := graph.Follow(context.Background(), "alice", "alice"); !errors.Is(err, ErrInvalidFollow) {
		t.Fatalf("expected ErrInvalidFollow for self follow, got %v", err)
	}
	if err := graph.Follow(context.Background(), "", "alice"); !errors.Is(err, ErrInvalidFollow) {
		t.Fatalf("expected ErrInvalidFollow for empty follower, got %v", err)
	}
}

func TestFollowRetriesTransientFailure(t *testing.T) {
	ctx := context.Background()
	store := newFaultyStore(kvstore.NewMemoryStore())
	failures := 1
	store.failWhen(func(op, key string) bool {
		if op == "sadd" && key == "following:bob" && failures > 0 {
			failures--
			return true
		}
		return false
	})
	graph := newTestGraph(t, store)

	if err := graph.Follow(ctx, "bob", "alice"); err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}
	if attempts := store.callCount("sadd", "following:bob"); attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestFollowReportsPersistentFailure(t *testing.T) {
	ctx := context.Background()
	store := newFaultyStore(kvstore.NewMemoryStore())
	store.failWhen(func(op, key string) bool { return op == "sadd" && key == "following:bob" })
	graph := newTestGraph(t, store)

	err := graph.Follow(ctx, "bob", "alice")
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}

	// The followers side was written first and stays in place for a retry.
	followers, err := graph.ListFollowers(ctx, "alice")
	if err != nil {
		t.Fatalf("list followers failed: %v", err)
	}
	if strings.Join(followers, ",") != "bob" {
		t.Fatalf("expected followers side to be written, got %v", followers)
	}

	store.failWhen(nil)
	if err := graph.Follow(ctx, "bob", "alice"); err != nil {
		t.Fatalf("repeat follow failed: %v", err)
	}
	following, err := graph.ListFollowing(ctx, "bob")
	if err != nil || strings.Join(following, ",") != "alice" {
		t.Fatalf("expected repaired edge, got %v (err=%v)", following, err)
	}
}
