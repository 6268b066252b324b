package social

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/MarcoPoloResearchLab/murmur/internal/kvstore"
	"go.uber.org/zap"
)

const (
	opLookupUserID      = "identity.lookup_user_id"
	opCreateUser        = "identity.create_user"
	opVerifyCredential  = "identity.verify_credential"
	opRefreshCredential = "identity.refresh_credential"
	opUsername          = "identity.username"
	opListUsernames     = "identity.list_usernames"

	fieldUsername = "username"
	fieldHash     = "hash"
)

// IdentityRegistry maps usernames to user IDs and owns credential records.
type IdentityRegistry struct {
	store  kvstore.Store
	hasher PasswordHasher
	logger *zap.Logger
}

// NewIdentityRegistry constructs a registry over store.
func NewIdentityRegistry(store kvstore.Store, hasher PasswordHasher, logger *zap.Logger) (*IdentityRegistry, error) {
	if store == nil {
		return nil, errMissingStore
	}
	if hasher == nil {
		return nil, errMissingHasher
	}
	return &IdentityRegistry{store: store, hasher: hasher, logger: loggerOrDefault(logger)}, nil
}

// LookupUserID resolves a username through the username index.
func (r *IdentityRegistry) LookupUserID(ctx context.Context, username string) (int64, error) {
	raw, err := r.store.HGet(ctx, usersKey, username)
	if errors.Is(err, kvstore.ErrNotFound) {
		return 0, ErrUserNotFound
	}
	if err != nil {
		logError(r.logger, opLookupUserID, "index_read_failed", err, zap.String("username", username))
		return 0, storeFailure(opLookupUserID, "index_read_failed", err)
	}
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		logError(r.logger, opLookupUserID, "corrupt_index_entry", err, zap.String("username", username))
		return 0, newServiceError(opLookupUserID, "corrupt_index_entry", err)
	}
	return userID, nil
}

// CreateUser allocates an ID, writes the credential record and then claims the username.
// The index insert is the commit point: a concurrent caller that loses it gets ErrUsernameTaken
// and its record is removed, so the index never points at a user without credentials.
func (r *IdentityRegistry) CreateUser(ctx context.Context, username, password string) (int64, error) {
	name, err := ValidateUsername(username)
	if err != nil {
		return 0, err
	}
	if password == "" {
		return 0, ErrInvalidCredentials
	}

	digest, err := r.hasher.Hash(password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return 0, err
		}
		logError(r.logger, opCreateUser, "hash_failed", err)
		return 0, newServiceError(opCreateUser, "hash_failed", err)
	}

	userID, err := r.store.Incr(ctx, userIDCounterKey)
	if err != nil {
		logError(r.logger, opCreateUser, "id_allocation_failed", err, zap.String("username", name))
		return 0, storeFailure(opCreateUser, "id_allocation_failed", err)
	}

	record := map[string]string{fieldUsername: name, fieldHash: digest}
	if err := r.store.HSet(ctx, userKey(userID), record); err != nil {
		logError(r.logger, opCreateUser, "record_write_failed", err,
			zap.String("username", name), zap.Int64("user_id", userID))
		return 0, storeFailure(opCreateUser, "record_write_failed", err)
	}

	inserted, err := r.store.HSetNX(ctx, usersKey, name, strconv.FormatInt(userID, 10))
	if err != nil {
		// The index write may have landed; the record stays so a retry can log in.
		logError(r.logger, opCreateUser, "index_write_failed", err,
			zap.String("username", name), zap.Int64("user_id", userID))
		return 0, storeFailure(opCreateUser, "index_write_failed", err)
	}
	if !inserted {
		if err := r.store.Del(ctx, userKey(userID)); err != nil {
			r.logger.Warn("failed to remove orphaned user record",
				zap.Int64("user_id", userID), zap.Error(err))
		}
		return 0, ErrUsernameTaken
	}

	r.logger.Info("user created", zap.String("username", name), zap.Int64("user_id", userID))
	return userID, nil
}

// VerifyCredential checks password against the stored digest for userID.
func (r *IdentityRegistry) VerifyCredential(ctx context.Context, userID int64, password string) (bool, error) {
	digest, err := r.credentialDigest(ctx, opVerifyCredential, userID)
	if err != nil {
		return false, err
	}
	ok, err := r.hasher.Verify(password, digest)
	if err != nil {
		logError(r.logger, opVerifyCredential, "verify_failed", err, zap.Int64("user_id", userID))
		return false, newServiceError(opVerifyCredential, "verify_failed", err)
	}
	return ok, nil
}

// RefreshCredential rewrites the digest for userID when it was produced with outdated parameters.
// The caller must have verified password first.
func (r *IdentityRegistry) RefreshCredential(ctx context.Context, userID int64, password string) (bool, error) {
	digest, err := r.credentialDigest(ctx, opRefreshCredential, userID)
	if err != nil {
		return false, err
	}
	if !r.hasher.NeedsRehash(digest) {
		return false, nil
	}
	fresh, err := r.hasher.Hash(password)
	if err != nil {
		return false, newServiceError(opRefreshCredential, "hash_failed", err)
	}
	if err := r.store.HSet(ctx, userKey(userID), map[string]string{fieldHash: fresh}); err != nil {
		return false, storeFailure(opRefreshCredential, "record_write_failed", err)
	}
	r.logger.Info("credential digest upgraded", zap.Int64("user_id", userID))
	return true, nil
}

func (r *IdentityRegistry) credentialDigest(ctx context.Context, operation string, userID int64) (string, error) {
	digest, err := r.store.HGet(ctx, userKey(userID), fieldHash)
	if errors.Is(err, kvstore.ErrNotFound) {
		return "", ErrUserNotFound
	}
	if err != nil {
		logError(r.logger, operation, "record_read_failed", err, zap.Int64("user_id", userID))
		return "", storeFailure(operation, "record_read_failed", err)
	}
	return digest, nil
}

// Username returns the username recorded for userID.
func (r *IdentityRegistry) Username(ctx context.Context, userID int64) (string, error) {
	if userID <= 0 {
		return "", fmt.Errorf("%w: id %d", ErrUserNotFound, userID)
	}
	username, err := r.store.HGet(ctx, userKey(userID), fieldUsername)
	if errors.Is(err, kvstore.ErrNotFound) {
		return "", ErrUserNotFound
	}
	if err != nil {
		logError(r.logger, opUsername, "record_read_failed", err, zap.Int64("user_id", userID))
		return "", storeFailure(opUsername, "record_read_failed", err)
	}
	return username, nil
}

// ListUsernames returns every registered username in lexical order.
func (r *IdentityRegistry) ListUsernames(ctx context.Context) ([]string, error) {
	usernames, err := r.store.HKeys(ctx, usersKey)
	if err != nil {
		logError(r.logger, opListUsernames, "index_read_failed", err)
		return nil, storeFailure(opListUsernames, "index_read_failed", err)
	}
	sort.Strings(usernames)
	return usernames, nil
}
