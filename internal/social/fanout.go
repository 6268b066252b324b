package social

import (
	"context"
	"sort"
	"strconv"

	"github.com/MarcoPoloResearchLab/murmur/internal/kvstore"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	opPublish   = "fanout.publish"
	opRedeliver = "fanout.redeliver"

	defaultFanoutConcurrency = 8
	defaultTimelineMaxLength = 500
)

// FanoutReport describes which timelines received a post. FollowersUnknown is
// set when the follower set could not be read, so no follower was attempted.
type FanoutReport struct {
	PostID           int64
	Author           string
	Delivered        []string
	Failed           []string
	FollowersUnknown bool
}

// Complete reports whether every targeted timeline received the post.
func (r FanoutReport) Complete() bool {
	return len(r.Failed) == 0 && !r.FollowersUnknown
}

// FanoutEngine pushes post IDs onto the timelines of an author and their followers.
type FanoutEngine struct {
	store       kvstore.Store
	retry       RetryPolicy
	concurrency int
	maxLength   int64
	logger      *zap.Logger
}

// FanoutConfig parameterises a FanoutEngine.
type FanoutConfig struct {
	Store       kvstore.Store
	Retry       RetryPolicy
	Concurrency int
	MaxLength   int64
	Logger      *zap.Logger
}

// NewFanoutEngine validates cfg and applies defaults.
func NewFanoutEngine(cfg FanoutConfig) (*FanoutEngine, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultFanoutConcurrency
	}
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = defaultTimelineMaxLength
	}
	return &FanoutEngine{
		store:       cfg.Store,
		retry:       cfg.Retry.withDefaults(),
		concurrency: cfg.Concurrency,
		maxLength:   cfg.MaxLength,
		logger:      loggerOrDefault(cfg.Logger),
	}, nil
}

// Publish delivers postID to the author's timeline and then to every follower.
// It never stops early: a failed author push is recorded in the report and
// follower delivery still runs. Any incomplete outcome is returned as a
// *PartialFanoutError whose report is enough for Recover to finish the job.
func (f *FanoutEngine) Publish(ctx context.Context, postID int64, author string) (FanoutReport, error) {
	report := FanoutReport{PostID: postID, Author: author}

	if err := f.deliver(ctx, postID, author); err != nil {
		logError(f.logger, opPublish, "author_timeline_failed", err,
			zap.Int64("post_id", postID), zap.String("author", author))
		report.Failed = append(report.Failed, author)
	} else {
		report.Delivered = append(report.Delivered, author)
	}

	followers, err := f.readFollowers(ctx, author)
	if err != nil {
		logError(f.logger, opPublish, "followers_read_failed", err,
			zap.Int64("post_id", postID), zap.String("author", author))
		report.FollowersUnknown = true
		return report, &PartialFanoutError{Report: report}
	}

	delivered, failed := f.deliverAll(ctx, postID, excludeAuthor(followers, author))
	report.Delivered = append(report.Delivered, delivered...)
	report.Failed = append(report.Failed, failed...)

	if !report.Complete() {
		f.logger.Warn("partial fan-out",
			zap.Int64("post_id", postID),
			zap.String("author", author),
			zap.Int("delivered", len(report.Delivered)),
			zap.Strings("failed", report.Failed))
		return report, &PartialFanoutError{Report: report}
	}
	return report, nil
}

// Recover finishes an incomplete fan-out described by report. When the follower
// set was never read it is read now, and every follower not already delivered
// is targeted along with the recorded failures.
func (f *FanoutEngine) Recover(ctx context.Context, report FanoutReport) (FanoutReport, error) {
	if report.Complete() {
		return report, nil
	}
	targets := append([]string(nil), report.Failed...)
	if report.FollowersUnknown {
		followers, err := f.readFollowers(ctx, report.Author)
		if err != nil {
			logError(f.logger, opRedeliver, "followers_read_failed", err,
				zap.Int64("post_id", report.PostID), zap.String("author", report.Author))
			return report, &PartialFanoutError{Report: report}
		}
		known := make(map[string]struct{}, len(report.Delivered)+len(report.Failed))
		for _, username := range report.Delivered {
			known[username] = struct{}{}
		}
		for _, username := range report.Failed {
			known[username] = struct{}{}
		}
		for _, follower := range excludeAuthor(followers, report.Author) {
			if _, ok := known[follower]; !ok {
				targets = append(targets, follower)
			}
		}
	}
	return f.Redeliver(ctx, report.PostID, report.Author, targets)
}

func (f *FanoutEngine) readFollowers(ctx context.Context, author string) ([]string, error) {
	var followers []string
	err := f.retry.Do(ctx, func() error {
		var err error
		followers, err = f.store.SMembers(ctx, followersKey(author))
		return err
	})
	return followers, err
}

func excludeAuthor(followers []string, author string) []string {
	targets := make([]string, 0, len(followers))
	for _, follower := range followers {
		if follower != author {
			targets = append(targets, follower)
		}
	}
	sort.Strings(targets)
	return targets
}

// Redeliver pushes postID to the named timelines again, typically the Failed
// list of an earlier report. Duplicates are tolerated by readers.
func (f *FanoutEngine) Redeliver(ctx context.Context, postID int64, author string, usernames []string) (FanoutReport, error) {
	report := FanoutReport{PostID: postID, Author: author}
	report.Delivered, report.Failed = f.deliverAll(ctx, postID, usernames)
	if !report.Complete() {
		f.logger.Warn("redelivery incomplete",
			zap.String("operation", opRedeliver),
			zap.Int64("post_id", postID),
			zap.Strings("failed", report.Failed))
		return report, &PartialFanoutError{Report: report}
	}
	return report, nil
}

func (f *FanoutEngine) deliverAll(ctx context.Context, postID int64, usernames []string) ([]string, []string) {
	outcomes := make([]error, len(usernames))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(f.concurrency)
	for index, username := range usernames {
		group.Go(func() error {
			outcomes[index] = f.deliver(groupCtx, postID, username)
			return nil
		})
	}
	_ = group.Wait()

	var delivered, failed []string
	for index, username := range usernames {
		if outcomes[index] != nil {
			failed = append(failed, username)
			continue
		}
		delivered = append(delivered, username)
	}
	return delivered, failed
}

// deliver prepends postID to one timeline and trims it to the serving window.
func (f *FanoutEngine) deliver(ctx context.Context, postID int64, username string) error {
	key := timelineKey(username)
	value := strconv.FormatInt(postID, 10)
	// LPush is not idempotent: a push that succeeded but reported an error is
	// repeated, leaving a duplicate entry that TimelineReader drops on read.
	err := f.retry.Do(ctx, func() error {
		_, err := f.store.LPush(ctx, key, value)
		return err
	})
	if err != nil {
		f.logger.Debug("timeline push failed",
			zap.String("username", username), zap.Int64("post_id", postID), zap.Error(err))
		return err
	}
	if err := f.store.LTrim(ctx, key, 0, f.maxLength-1); err != nil {
		f.logger.Warn("timeline trim failed", zap.String("username", username), zap.Error(err))
	}
	return nil
}
