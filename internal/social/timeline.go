package social

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	"github.com/MarcoPoloResearchLab/murmur/internal/kvstore"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

const (
	opRenderHome = "timeline.render_home"

	defaultTimelineReadLimit = 100
)

// TimelineEntry is a hydrated post as shown on a home timeline.
type TimelineEntry struct {
	PostID    int64
	Author    string
	Message   string
	CreatedAt time.Time
	TimeLabel string
}

// HomeView is everything the home page renders for a signed-in user.
type HomeView struct {
	UserID         int64
	Username       string
	SuggestedUsers []string
	Timeline       []TimelineEntry
	// Skipped counts timeline entries whose post record was missing or malformed.
	Skipped int
}

// TimelineReader assembles home views. It never writes to the store.
type TimelineReader struct {
	store     kvstore.Store
	identity  *IdentityRegistry
	graph     *SocialGraph
	posts     *PostStore
	clock     func() time.Time
	readLimit int64
	logger    *zap.Logger
}

// TimelineReaderConfig parameterises a TimelineReader.
type TimelineReaderConfig struct {
	Store     kvstore.Store
	Identity  *IdentityRegistry
	Graph     *SocialGraph
	Posts     *PostStore
	Clock     func() time.Time
	ReadLimit int64
	Logger    *zap.Logger
}

// NewTimelineReader validates cfg and applies defaults.
func NewTimelineReader(cfg TimelineReaderConfig) (*TimelineReader, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Identity == nil || cfg.Graph == nil || cfg.Posts == nil {
		return nil, errMissingComponent
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = defaultTimelineReadLimit
	}
	return &TimelineReader{
		store:     cfg.Store,
		identity:  cfg.Identity,
		graph:     cfg.Graph,
		posts:     cfg.Posts,
		clock:     cfg.Clock,
		readLimit: cfg.ReadLimit,
		logger:    loggerOrDefault(cfg.Logger),
	}, nil
}

// readWindow is how many entries are fetched to fill readLimit slots. The
// extra quarter absorbs duplicates left by retried or redelivered pushes.
func (r *TimelineReader) readWindow() int64 {
	return r.readLimit + r.readLimit/4 + 1
}

// RenderHome loads the newest timeline entries and follow suggestions for userID.
func (r *TimelineReader) RenderHome(ctx context.Context, userID int64) (HomeView, error) {
	if userID <= 0 {
		return HomeView{}, ErrLoginRequired
	}
	username, err := r.identity.Username(ctx, userID)
	if err != nil {
		return HomeView{}, err
	}

	view := HomeView{UserID: userID, Username: username}

	rawIDs, err := r.store.LRange(ctx, timelineKey(username), 0, r.readWindow()-1)
	if err != nil {
		logError(r.logger, opRenderHome, "timeline_read_failed", err, zap.String("username", username))
		return HomeView{}, storeFailure(opRenderHome, "timeline_read_failed", err)
	}

	now := r.clock()
	seen := make(map[int64]struct{}, len(rawIDs))
	view.Timeline = make([]TimelineEntry, 0, len(rawIDs))
	for _, raw := range rawIDs {
		if int64(len(view.Timeline)) >= r.readLimit {
			break
		}
		postID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			view.Skipped++
			r.logger.Warn("skipping malformed timeline entry",
				zap.String("username", username), zap.String("entry", raw))
			continue
		}
		// Redelivery may leave the same post twice in a timeline.
		if _, duplicate := seen[postID]; duplicate {
			continue
		}
		seen[postID] = struct{}{}

		post, err := r.posts.GetPost(ctx, postID)
		if errors.Is(err, ErrNotFound) {
			view.Skipped++
			r.logger.Warn("skipping missing post",
				zap.String("username", username), zap.Int64("post_id", postID), zap.Error(err))
			continue
		}
		if err != nil {
			return HomeView{}, err
		}
		view.Timeline = append(view.Timeline, TimelineEntry{
			PostID:    post.ID,
			Author:    post.AuthorUsername,
			Message:   post.Message,
			CreatedAt: post.CreatedAt,
			TimeLabel: RelativeTime(post.CreatedAt, now),
		})
	}

	suggestions, err := r.suggestions(ctx, username)
	if err != nil {
		return HomeView{}, err
	}
	view.SuggestedUsers = suggestions
	return view, nil
}

// suggestions lists every registered user that username does not follow yet.
func (r *TimelineReader) suggestions(ctx context.Context, username string) ([]string, error) {
	all, err := r.identity.ListUsernames(ctx)
	if err != nil {
		return nil, err
	}
	following, err := r.graph.ListFollowing(ctx, username)
	if err != nil {
		return nil, err
	}
	excluded := make(map[string]struct{}, len(following)+1)
	excluded[username] = struct{}{}
	for _, name := range following {
		excluded[name] = struct{}{}
	}
	suggestions := make([]string, 0, len(all))
	for _, name := range all {
		if _, skip := excluded[name]; !skip {
			suggestions = append(suggestions, name)
		}
	}
	return suggestions, nil
}

var relativeMagnitudes = []humanize.RelTimeMagnitude{
	{D: time.Minute, Format: "less than a minute %s", DivBy: 1},
	{D: 2 * time.Minute, Format: "1 minute %s", DivBy: 1},
	{D: time.Hour, Format: "%d minutes %s", DivBy: time.Minute},
	{D: 2 * time.Hour, Format: "1 hour %s", DivBy: 1},
	{D: humanize.Day, Format: "%d hours %s", DivBy: time.Hour},
	{D: 2 * humanize.Day, Format: "1 day %s", DivBy: 1},
	{D: humanize.Month, Format: "%d days %s", DivBy: humanize.Day},
	{D: 2 * humanize.Month, Format: "1 month %s", DivBy: 1},
	{D: humanize.Year, Format: "%d months %s", DivBy: humanize.Month},
	{D: 2 * humanize.Year, Format: "1 year %s", DivBy: 1},
	{D: humanize.LongTime, Format: "%d years %s", DivBy: humanize.Year},
	{D: math.MaxInt64, Format: "a long while %s", DivBy: 1},
}

// RelativeTime renders then relative to now, e.g. "5 minutes ago".
func RelativeTime(then, now time.Time) string {
	return humanize.CustomRelTime(then, now, "ago", "from now", relativeMagnitudes)
}
