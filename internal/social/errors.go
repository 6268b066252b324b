package social

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

var (
	// ErrNotFound indicates a missing user or post.
	ErrNotFound = errors.New("social: not found")
	// ErrUserNotFound indicates that no user record exists for the identifier.
	ErrUserNotFound = fmt.Errorf("%w: user", ErrNotFound)
	// ErrPostNotFound indicates that no post record exists for the identifier.
	ErrPostNotFound = fmt.Errorf("%w: post", ErrNotFound)

	ErrUsernameTaken      = errors.New("social: username taken")
	ErrIncorrectPassword  = errors.New("social: incorrect password")
	ErrInvalidFollow      = errors.New("social: invalid follow")
	ErrInvalidMessage     = errors.New("social: invalid message")
	ErrInvalidUsername    = errors.New("social: invalid username")
	ErrInvalidCredentials = errors.New("social: username and password are required")

	// ErrStoreUnavailable wraps transient key-value store failures.
	ErrStoreUnavailable = errors.New("social: store unavailable")
	// ErrPartialFanout indicates a post was created but some follower timelines were not updated.
	ErrPartialFanout = errors.New("social: partial fan-out failure")
	// ErrLoginRequired is returned for operations attempted without an authenticated user.
	ErrLoginRequired = errors.New("social: login required")

	noOpLogger = zap.NewNop()
)

// ServiceError tags an error with the operation and reason that produced it.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// storeFailure marks cause as a store outage while keeping it inspectable.
func storeFailure(operation, reason string, cause error) error {
	return newServiceError(operation, reason, fmt.Errorf("%w: %w", ErrStoreUnavailable, cause))
}

// PartialFanoutError carries the delivery report of a post whose fan-out did not reach every follower.
type PartialFanoutError struct {
	Report FanoutReport
}

func (e *PartialFanoutError) Error() string {
	if e.Report.FollowersUnknown {
		return fmt.Sprintf("%v: post %d not delivered to followers of %s (follower set unread), failed: [%s]",
			ErrPartialFanout, e.Report.PostID, e.Report.Author, strings.Join(e.Report.Failed, ", "))
	}
	return fmt.Sprintf("%v: post %d not delivered to %s",
		ErrPartialFanout, e.Report.PostID, strings.Join(e.Report.Failed, ", "))
}

func (e *PartialFanoutError) Unwrap() error {
	return ErrPartialFanout
}

func loggerOrDefault(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return noOpLogger
	}
	return logger
}

func logError(logger *zap.Logger, operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	loggerOrDefault(logger).Error("social service error", attrs...)
}
