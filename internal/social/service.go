package social

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/murmur/internal/kvstore"
	"go.uber.org/zap"
)

const (
	opSignupOrLogin = "service.signup_or_login"
	opServiceFollow = "service.follow"
	opServicePost   = "service.create_post"
	opServicePing   = "service.ping"
)

var (
	errMissingStore     = errors.New("social: store is required")
	errMissingHasher    = errors.New("social: password hasher is required")
	errMissingComponent = errors.New("social: identity, graph and post components are required")
)

// ServiceConfig wires a Service.
type ServiceConfig struct {
	Store             kvstore.Store
	Hasher            PasswordHasher
	Clock             func() time.Time
	Logger            *zap.Logger
	TimelineReadLimit int64
	TimelineMaxLength int64
	FanoutConcurrency int
	Retry             RetryPolicy
}

// Service exposes the microblog operations over a single key-value store.
type Service struct {
	store    kvstore.Store
	identity *IdentityRegistry
	graph    *SocialGraph
	posts    *PostStore
	fanout   *FanoutEngine
	reader   *TimelineReader
	logger   *zap.Logger
}

// LoginResult identifies the signed-in user.
type LoginResult struct {
	UserID   int64
	Username string
	Created  bool
}

// PublishResult is returned for every stored post, including partially delivered ones.
type PublishResult struct {
	PostID int64
	Report FanoutReport
}

// NewService constructs a Service and its components.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Hasher == nil {
		return nil, errMissingHasher
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	logger := loggerOrDefault(cfg.Logger)
	retry := cfg.Retry.withDefaults()

	identity, err := NewIdentityRegistry(cfg.Store, cfg.Hasher, logger)
	if err != nil {
		return nil, err
	}
	graph, err := NewSocialGraph(cfg.Store, retry, logger)
	if err != nil {
		return nil, err
	}
	posts, err := NewPostStore(cfg.Store, cfg.Clock, logger)
	if err != nil {
		return nil, err
	}
	fanout, err := NewFanoutEngine(FanoutConfig{
		Store:       cfg.Store,
		Retry:       retry,
		Concurrency: cfg.FanoutConcurrency,
		MaxLength:   cfg.TimelineMaxLength,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	reader, err := NewTimelineReader(TimelineReaderConfig{
		Store:     cfg.Store,
		Identity:  identity,
		Graph:     graph,
		Posts:     posts,
		Clock:     cfg.Clock,
		ReadLimit: cfg.TimelineReadLimit,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	return &Service{
		store:    cfg.Store,
		identity: identity,
		graph:    graph,
		posts:    posts,
		fanout:   fanout,
		reader:   reader,
		logger:   logger,
	}, nil
}

// SignupOrLogin logs username in, creating the account first when the name is free.
func (s *Service) SignupOrLogin(ctx context.Context, username, password string) (LoginResult, error) {
	name := strings.TrimSpace(username)
	if name == "" || password == "" {
		return LoginResult{}, ErrInvalidCredentials
	}

	userID, err := s.identity.LookupUserID(ctx, name)
	switch {
	case errors.Is(err, ErrUserNotFound):
		userID, err = s.identity.CreateUser(ctx, name, password)
		if err == nil {
			return LoginResult{UserID: userID, Username: name, Created: true}, nil
		}
		if !errors.Is(err, ErrUsernameTaken) {
			return LoginResult{}, err
		}
		// Another signup claimed the name first; treat this call as a login.
		userID, err = s.identity.LookupUserID(ctx, name)
		if err != nil {
			return LoginResult{}, err
		}
	case err != nil:
		return LoginResult{}, err
	}

	ok, err := s.identity.VerifyCredential(ctx, userID, password)
	if err != nil {
		return LoginResult{}, err
	}
	if !ok {
		return LoginResult{}, ErrIncorrectPassword
	}
	if _, err := s.identity.RefreshCredential(ctx, userID, password); err != nil {
		s.logger.Warn("credential refresh failed",
			zap.String("operation", opSignupOrLogin), zap.Int64("user_id", userID), zap.Error(err))
	}
	return LoginResult{UserID: userID, Username: name}, nil
}

// Follow makes userID follow followee.
func (s *Service) Follow(ctx context.Context, userID int64, followee string) error {
	follower, err := s.currentUsername(ctx, userID)
	if err != nil {
		return err
	}
	target := strings.TrimSpace(followee)
	if target == "" {
		return fmt.Errorf("%w: followee is required", ErrInvalidFollow)
	}
	if target == follower {
		return fmt.Errorf("%w: users cannot follow themselves", ErrInvalidFollow)
	}
	if _, err := s.identity.LookupUserID(ctx, target); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return fmt.Errorf("%w: unknown user %q", ErrInvalidFollow, target)
		}
		return err
	}
	if err := s.graph.Follow(ctx, follower, target); err != nil {
		return err
	}
	s.logger.Debug("follow recorded",
		zap.String("operation", opServiceFollow), zap.String("follower", follower), zap.String("followee", target))
	return nil
}

// CreatePost stores message for userID and fans it out. A *PartialFanoutError is
// returned together with a usable result when some follower timelines were missed.
func (s *Service) CreatePost(ctx context.Context, userID int64, message string) (PublishResult, error) {
	author, err := s.currentUsername(ctx, userID)
	if err != nil {
		return PublishResult{}, err
	}
	postID, err := s.posts.CreatePost(ctx, userID, author, message)
	if err != nil {
		return PublishResult{}, err
	}
	report, err := s.fanout.Publish(ctx, postID, author)
	result := PublishResult{PostID: postID, Report: report}
	if err != nil {
		return result, err
	}
	s.logger.Info("post published",
		zap.String("operation", opServicePost),
		zap.Int64("post_id", postID),
		zap.String("author", author),
		zap.Int("delivered", len(report.Delivered)))
	return result, nil
}

// RedeliverFailed retries the deliveries report left unfinished, re-reading the
// follower set when the original fan-out could not.
func (s *Service) RedeliverFailed(ctx context.Context, report FanoutReport) (FanoutReport, error) {
	return s.fanout.Recover(ctx, report)
}

// RenderHome returns the home view for userID; zero means anonymous.
func (s *Service) RenderHome(ctx context.Context, userID int64) (HomeView, error) {
	return s.reader.RenderHome(ctx, userID)
}

// Username resolves userID to its username.
func (s *Service) Username(ctx context.Context, userID int64) (string, error) {
	return s.currentUsername(ctx, userID)
}

// Followers lists the followers of username.
func (s *Service) Followers(ctx context.Context, username string) ([]string, error) {
	return s.graph.ListFollowers(ctx, username)
}

// Following lists the users username follows.
func (s *Service) Following(ctx context.Context, username string) ([]string, error) {
	return s.graph.ListFollowing(ctx, username)
}

// Ping checks that the store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		logError(s.logger, opServicePing, "ping_failed", err)
		return storeFailure(opServicePing, "ping_failed", err)
	}
	return nil
}

func (s *Service) currentUsername(ctx context.Context, userID int64) (string, error) {
	if userID <= 0 {
		return "", ErrLoginRequired
	}
	return s.identity.Username(ctx, userID)
}
