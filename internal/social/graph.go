package social

import (
	"context"
	"fmt"
	"sort"

	"github.com/MarcoPoloResearchLab/murmur/internal/kvstore"
	"go.uber.org/zap"
)

const (
	opFollow        = "graph.follow"
	opListFollowing = "graph.list_following"
	opListFollowers = "graph.list_followers"
	opIsFollowing   = "graph.is_following"
)

// SocialGraph keeps the following and followers sets of every user in step.
type SocialGraph struct {
	store  kvstore.Store
	retry  RetryPolicy
	logger *zap.Logger
}

// NewSocialGraph constructs a graph over store.
func NewSocialGraph(store kvstore.Store, retry RetryPolicy, logger *zap.Logger) (*SocialGraph, error) {
	if store == nil {
		return nil, errMissingStore
	}
	return &SocialGraph{store: store, retry: retry.withDefaults(), logger: loggerOrDefault(logger)}, nil
}

// Follow records that follower follows followee. It is idempotent, so both set
// additions are retried and a failed call can simply be repeated.
// followers:{followee} is written first so fan-out sees the edge as early as possible.
func (g *SocialGraph) Follow(ctx context.Context, follower, followee string) error {
	if follower == "" || followee == "" {
		return fmt.Errorf("%w: both usernames are required", ErrInvalidFollow)
	}
	if follower == followee {
		return fmt.Errorf("%w: users cannot follow themselves", ErrInvalidFollow)
	}

	err := g.retry.Do(ctx, func() error {
		_, err := g.store.SAdd(ctx, followersKey(followee), follower)
		return err
	})
	if err != nil {
		logError(g.logger, opFollow, "followers_write_failed", err,
			zap.String("follower", follower), zap.String("followee", followee))
		return storeFailure(opFollow, "followers_write_failed", err)
	}

	err = g.retry.Do(ctx, func() error {
		_, err := g.store.SAdd(ctx, followingKey(follower), followee)
		return err
	})
	if err != nil {
		// followers:{followee} already holds the edge; repeating Follow repairs the pair.
		logError(g.logger, opFollow, "following_write_failed", err,
			zap.String("follower", follower), zap.String("followee", followee))
		return storeFailure(opFollow, "following_write_failed", err)
	}
	return nil
}

// ListFollowing returns the usernames username follows, sorted.
func (g *SocialGraph) ListFollowing(ctx context.Context, username string) ([]string, error) {
	return g.members(ctx, opListFollowing, followingKey(username))
}

// ListFollowers returns the usernames following username, sorted.
func (g *SocialGraph) ListFollowers(ctx context.Context, username string) ([]string, error) {
	return g.members(ctx, opListFollowers, followersKey(username))
}

// IsFollowing reports whether follower currently follows followee.
func (g *SocialGraph) IsFollowing(ctx context.Context, follower, followee string) (bool, error) {
	ok, err := g.store.SIsMember(ctx, followingKey(follower), followee)
	if err != nil {
		logError(g.logger, opIsFollowing, "set_read_failed", err, zap.String("follower", follower))
		return false, storeFailure(opIsFollowing, "set_read_failed", err)
	}
	return ok, nil
}

func (g *SocialGraph) members(ctx context.Context, operation, key string) ([]string, error) {
	var members []string
	err := g.retry.Do(ctx, func() error {
		var err error
		members, err = g.store.SMembers(ctx, key)
		return err
	})
	if err != nil {
		logError(g.logger, operation, "set_read_failed", err, zap.String("key", key))
		return nil, storeFailure(operation, "set_read_failed", err)
	}
	sort.Strings(members)
	return members, nil
}
