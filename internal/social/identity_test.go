package social

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MarcoPoloResearchLab/murmur/internal/kvstore"
	"golang.org/x/crypto/bcrypt"
)

func newTestRegistry(t *testing.T, store kvstore.Store) *IdentityRegistry {
	t.Helper()
	registry, err := NewIdentityRegistry(store, NewBcryptHasher(bcrypt.MinCost), nil)
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}
	return registry
}

func TestNewIdentityRegistryRequiresDependencies(t *testing.T) {
	if _, err := NewIdentityRegistry(nil, NewBcryptHasher(bcrypt.MinCost), nil); !errors.Is(err, errMissingStore) {
		t.Fatalf("expected missing store error, got %v", err)
	}
	if _, err := NewIdentityRegistry(kvstore.NewMemoryStore(), nil, nil); !errors.Is(err, errMissingHasher) {
		t.Fatalf("expected missing hasher error, got %v", err)
	}
}

func TestCreateUserAllocatesIncreasingIDs(t *testing.T) {
	ctx := context.Background()
	registry := newTestRegistry(t, kvstore.NewMemoryStore())

	var previous int64
	for _, name := range []string{"alice", "bob", "carol"} {
		userID, err := registry.CreateUser(ctx, name, "secret")
		if err != nil {
			t.Fatalf("create %s failed: %v", name, err)
		}
		if userID <= previous {
			t.Fatalf("expected id greater than %d, got %d", previous, userID)
		}
		previous = userID

		resolved, err := registry.LookupUserID(ctx, name)
		if err != nil {
			t.Fatalf("lookup %s failed: %v", name, err)
		}
		if resolved != userID {
			t.Fatalf("expected lookup to return %d, got %d", userID, resolved)
		}
		username, err := registry.Username(ctx, userID)
		if err != nil || username != name {
			t.Fatalf("expected username %q, got %q (err=%v)", name, username, err)
		}
	}

	names, err := registry.ListUsernames(ctx)
	if err != nil {
		t.Fatalf("list usernames failed: %v", err)
	}
	if strings.Join(names, ",") != "alice,bob,carol" {
		t.Fatalf("unexpected usernames %v", names)
	}
}

func TestCreateUserRejectsTakenUsernameAndRemovesRecord(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore()
	registry := newTestRegistry(t, store)

	if _, err := store.HSetNX(ctx, usersKey, "dave", "99"); err != nil {
		t.Fatalf("seed index failed: %v", err)
	}

	_, err := registry.CreateUser(ctx, "dave", "secret")
	if !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}

	allocated := store.Counter(userIDCounterKey)
	if allocated != 1 {
		t.Fatalf("expected one allocated id, got %d", allocated)
	}
	record, err := store.HGetAll(ctx, userKey(allocated))
	if err != nil {
		t.Fatalf("read record failed: %v", err)
	}
	if len(record) != 0 {
		t.Fatalf("expected orphaned record to be removed, got %v", record)
	}
}

func TestCreateUserValidatesInput(t *testing.T) {
	registry := newTestRegistry(t, kvstore.NewMemoryStore())

	if _, err := registry.CreateUser(context.Background(), "a:b", "secret"); !errors.Is(err, ErrInvalidUsername) {
		t.Fatalf("expected ErrInvalidUsername, got %v", err)
	}
	if _, err := registry.CreateUser(context.Background(), "alice", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLookupUserIDReportsCorruptIndexEntry(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore()
	registry := newTestRegistry(t, store)
	if err := store.HSet(ctx, usersKey, map[string]string{"eve": "not-a-number"}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	_, err := registry.LookupUserID(ctx, "eve")
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) {
		t.Fatalf("expected ServiceError, got %v", err)
	}
	if serviceErr.Code() != "identity.lookup_user_id.corrupt_index_entry" {
		t.Fatalf("unexpected code %q", serviceErr.Code())
	}
}

func TestLookupUserIDMapsMissingUser(t *testing.T) {
	registry := newTestRegistry(t, kvstore.NewMemoryStore())
	_, err := registry.LookupUserID(context.Background(), "nobody")
	if !errors.Is(err, ErrUserNotFound) || !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if _, err := registry.Username(context.Background(), 0); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound for id 0, got %v", err)
	}
}

func TestCreateUserSurfacesStoreFailure(t *testing.T) {
	store := newFaultyStore(kvstore.NewMemoryStore())
	store.failWhen(func(op, key string) bool { return op == "incr" })
	registry := newTestRegistry(t, store)

	_, err := registry.CreateUser(context.Background(), "alice", "secret")
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if !errors.Is(err, errInjected) {
		t.Fatalf("expected cause to be preserved, got %v", err)
	}
}

func TestRefreshCredentialUpgradesLegacyDigest(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore()
	registry := newTestRegistry(t, store)

	userID, err := registry.CreateUser(ctx, "alice", "secret")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	legacy, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("legacy hash failed: %v", err)
	}
	if err := store.HSet(ctx, userKey(userID), map[string]string{fieldHash: string(legacy)}); err != nil {
		t.Fatalf("seed legacy digest failed: %v", err)
	}

	ok, err := registry.VerifyCredential(ctx, userID, "secret")
	if err != nil || !ok {
		t.Fatalf("expected legacy digest to verify, ok=%v err=%v", ok, err)
	}
	upgraded, err := registry.RefreshCredential(ctx, userID, "secret")
	if err != nil || !upgraded {
		t.Fatalf("expected digest upgrade, upgraded=%v err=%v", upgraded, err)
	}
	digest, err := store.HGet(ctx, userKey(userID), fieldHash)
	if err != nil {
		t.Fatalf("read digest failed: %v", err)
	}
	if !strings.HasPrefix(digest, digestPrefixBcryptV1) {
		t.Fatalf("expected versioned digest, got %q", digest)
	}

	upgraded, err = registry.RefreshCredential(ctx, userID, "secret")
	if err != nil || upgraded {
		t.Fatalf("expected no second upgrade, upgraded=%v err=%v", upgraded, err)
	}
}
