package kvstore_test

import (
	"context"
	"testing"

	"github.com/MarcoPoloResearchLab/murmur/internal/kvstore"
	"github.com/MarcoPoloResearchLab/murmur/internal/kvstore/kvstoretest"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func TestRedisStoreContract(t *testing.T) {
	kvstoretest.RunContract(t, func(t *testing.T) kvstore.Store {
		server := miniredis.RunT(t)
		store, err := kvstore.NewRedisStore(context.Background(), kvstore.RedisConfig{Address: server.Addr()})
		if err != nil {
			t.Fatalf("failed to connect to miniredis: %v", err)
		}
		t.Cleanup(func() { _ = store.Close() })
		return store
	})
}

func TestNewRedisStoreRequiresAddress(t *testing.T) {
	if _, err := kvstore.NewRedisStore(context.Background(), kvstore.RedisConfig{}); err == nil {
		t.Fatalf("expected error for empty address")
	}
}

func TestNewRedisStoreFailsWhenServerIsDown(t *testing.T) {
	server := miniredis.RunT(t)
	address := server.Addr()
	server.Close()

	if _, err := kvstore.NewRedisStore(context.Background(), kvstore.RedisConfig{Address: address}); err == nil {
		t.Fatalf("expected ping failure against a stopped server")
	}
}

func TestRedisStoreFromClientUsesSelectedDatabase(t *testing.T) {
	ctx := context.Background()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr(), DB: 3})
	store := kvstore.NewRedisStoreFromClient(client)
	t.Cleanup(func() { _ = store.Close() })

	if _, err := store.LPush(ctx, "timeline:alice", "1", "2"); err != nil {
		t.Fatalf("push failed: %v", err)
	}

	server.Select(3)
	items, err := server.List("timeline:alice")
	if err != nil {
		t.Fatalf("expected timeline in database 3: %v", err)
	}
	if len(items) != 2 || items[0] != "2" {
		t.Fatalf("unexpected list contents %v", items)
	}
	server.Select(0)
	if server.Exists("timeline:alice") {
		t.Fatalf("expected database 0 to stay empty")
	}
}
