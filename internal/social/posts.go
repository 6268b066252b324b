package social

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/murmur/internal/kvstore"
	"go.uber.org/zap"
)

const (
	opCreatePost = "posts.create_post"
	opGetPost    = "posts.get_post"

	fieldAuthorID       = "userid"
	fieldAuthorUsername = "username"
	fieldMessage        = "message"
	fieldTimestamp      = "timestamp"
)

// Post is an immutable published message.
type Post struct {
	ID             int64
	AuthorID       int64
	AuthorUsername string
	Message        string
	CreatedAt      time.Time
}

// PostStore allocates post IDs and persists post records.
type PostStore struct {
	store  kvstore.Store
	clock  func() time.Time
	logger *zap.Logger
}

// NewPostStore constructs a post store over store.
func NewPostStore(store kvstore.Store, clock func() time.Time, logger *zap.Logger) (*PostStore, error) {
	if store == nil {
		return nil, errMissingStore
	}
	if clock == nil {
		clock = time.Now
	}
	return &PostStore{store: store, clock: clock, logger: loggerOrDefault(logger)}, nil
}

// CreatePost stores a new post and returns its ID for fan-out.
// It is never retried internally: a repeated call would allocate a second ID.
func (p *PostStore) CreatePost(ctx context.Context, authorID int64, authorUsername, message string) (int64, error) {
	if strings.TrimSpace(message) == "" {
		return 0, fmt.Errorf("%w: message is empty", ErrInvalidMessage)
	}

	postID, err := p.store.Incr(ctx, postIDCounterKey)
	if err != nil {
		logError(p.logger, opCreatePost, "id_allocation_failed", err, zap.Int64("author_id", authorID))
		return 0, storeFailure(opCreatePost, "id_allocation_failed", err)
	}

	record := map[string]string{
		fieldAuthorID:       strconv.FormatInt(authorID, 10),
		fieldAuthorUsername: authorUsername,
		fieldMessage:        message,
		fieldTimestamp:      strconv.FormatInt(p.clock().UnixMilli(), 10),
	}
	if err := p.store.HSet(ctx, postKey(postID), record); err != nil {
		logError(p.logger, opCreatePost, "record_write_failed", err,
			zap.Int64("author_id", authorID), zap.Int64("post_id", postID))
		return 0, storeFailure(opCreatePost, "record_write_failed", err)
	}
	return postID, nil
}

// GetPost loads a post record. Absent or malformed records yield ErrPostNotFound.
func (p *PostStore) GetPost(ctx context.Context, postID int64) (Post, error) {
	record, err := p.store.HGetAll(ctx, postKey(postID))
	if err != nil {
		logError(p.logger, opGetPost, "record_read_failed", err, zap.Int64("post_id", postID))
		return Post{}, storeFailure(opGetPost, "record_read_failed", err)
	}
	if len(record) == 0 {
		return Post{}, ErrPostNotFound
	}
	return decodePost(postID, record)
}

func decodePost(postID int64, record map[string]string) (Post, error) {
	authorID, err := strconv.ParseInt(record[fieldAuthorID], 10, 64)
	if err != nil {
		return Post{}, fmt.Errorf("%w: post %d has malformed author id", ErrPostNotFound, postID)
	}
	millis, err := strconv.ParseInt(record[fieldTimestamp], 10, 64)
	if err != nil {
		return Post{}, fmt.Errorf("%w: post %d has malformed timestamp", ErrPostNotFound, postID)
	}
	author, ok := record[fieldAuthorUsername]
	if !ok || author == "" {
		return Post{}, fmt.Errorf("%w: post %d has no author", ErrPostNotFound, postID)
	}
	return Post{
		ID:             postID,
		AuthorID:       authorID,
		AuthorUsername: author,
		Message:        record[fieldMessage],
		CreatedAt:      time.UnixMilli(millis),
	}, nil
}
