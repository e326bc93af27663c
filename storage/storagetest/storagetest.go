// Package storagetest is a conformance suite for storage.Storage
// implementations.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/ggoodman/authn-jwt/storage"
)

// StorageFactory creates a fresh, empty store for one subtest.
type StorageFactory func(t *testing.T) storage.Storage

// RunStorageTests runs the complete storage test suite against the provided factory.
func RunStorageTests(t *testing.T, factory StorageFactory) {
	t.Run("SetAndGet", func(t *testing.T) { testSetAndGet(t, factory(t)) })
	t.Run("GetNonExistent", func(t *testing.T) { testGetNonExistent(t, factory(t)) })
	t.Run("TTL", func(t *testing.T) { testTTL(t, factory(t)) })
	t.Run("Namespaces", func(t *testing.T) { testNamespaces(t, factory(t)) })
	t.Run("DeleteKey", func(t *testing.T) { testDeleteKey(t, factory(t)) })
	t.Run("DeleteNamespace", func(t *testing.T) { testDeleteNamespace(t, factory(t)) })
	t.Run("Revocation", func(t *testing.T) { testRevocation(t, factory(t)) })
}

func testSetAndGet(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	data := []byte("test data")

	if err := s.Set(ctx, "test-key", data); err != nil {
		t.Fatalf("Failed to set data: %v", err)
	}
	item, err := s.Get(ctx, "test-key")
	if err != nil {
		t.Fatalf("Failed to get data: %v", err)
	}
	if item == nil {
		t.Fatal("Expected item to exist, got nil")
	}
	if string(item.Data) != string(data) {
		t.Errorf("Expected data %s, got %s", data, item.Data)
	}
	if item.CreatedAt.IsZero() {
		t.Error("CreatedAt should not be zero")
	}
	if item.ExpiresAt != nil {
		t.Error("ExpiresAt should be nil for data without TTL")
	}
}

func testGetNonExistent(t *testing.T, s storage.Storage) {
	item, err := s.Get(context.Background(), "non-existent-key")
	if err != nil {
		t.Fatalf("Failed to get non-existent key: %v", err)
	}
	if item != nil {
		t.Error("Expected nil for non-existent key, got item")
	}
}

func testTTL(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	ttl := 100 * time.Millisecond

	if err := s.Set(ctx, "ttl-key", []byte("ttl data"), storage.WithTTL(ttl)); err != nil {
		t.Fatalf("Failed to set data with TTL: %v", err)
	}
	item, err := s.Get(ctx, "ttl-key")
	if err != nil {
		t.Fatalf("Failed to get data: %v", err)
	}
	if item == nil {
		t.Fatal("Expected item to exist, got nil")
	}
	if item.ExpiresAt == nil {
		t.Fatal("ExpiresAt should not be nil for data with TTL")
	}

	time.Sleep(ttl + 50*time.Millisecond)

	item, err = s.Get(ctx, "ttl-key")
	if err != nil {
		t.Fatalf("Failed to get expired data: %v", err)
	}
	if item != nil {
		t.Error("Expected nil for expired data, got item")
	}
}

func testNamespaces(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	key := "namespace-key"

	if err := s.Set(ctx, key, []byte("global")); err != nil {
		t.Fatalf("Failed to set global data: %v", err)
	}
	if err := s.Set(ctx, key, []byte("a"), storage.WithNamespace("a")); err != nil {
		t.Fatalf("Failed to set namespaced data: %v", err)
	}

	item, err := s.Get(ctx, key)
	if err != nil || item == nil || string(item.Data) != "global" {
		t.Fatalf("Global data not isolated: %v %v", item, err)
	}
	item, err = s.Get(ctx, key, storage.WithNamespace("a"))
	if err != nil || item == nil || string(item.Data) != "a" {
		t.Fatalf("Namespaced data not isolated: %v %v", item, err)
	}
	item, err = s.Get(ctx, key, storage.WithNamespace("b"))
	if err != nil {
		t.Fatalf("Failed to get data for other namespace: %v", err)
	}
	if item != nil {
		t.Error("Expected nil for other namespace, got item")
	}
}

func testDeleteKey(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	if err := s.Set(ctx, "delete-key", []byte("x")); err != nil {
		t.Fatalf("Failed to set data: %v", err)
	}
	if err := s.Delete(ctx, storage.WithKey("delete-key")); err != nil {
		t.Fatalf("Failed to delete key: %v", err)
	}
	item, err := s.Get(ctx, "delete-key")
	if err != nil {
		t.Fatalf("Failed to get data after deletion: %v", err)
	}
	if item != nil {
		t.Error("Expected nil after deletion, got item")
	}
}

func testDeleteNamespace(t *testing.T, s storage.Storage) {
	ctx := context.Background()
	keys := []string{"key1", "key2", "key3"}
	for _, key := range keys {
		if err := s.Set(ctx, key, []byte("data for "+key), storage.WithNamespace("doomed")); err != nil {
			t.Fatalf("Failed to set data for key %s: %v", key, err)
		}
	}
	if err := s.Set(ctx, "key1", []byte("survivor"), storage.WithNamespace("kept")); err != nil {
		t.Fatalf("Failed to set survivor: %v", err)
	}

	if err := s.Delete(ctx, storage.WithNamespace("doomed")); err != nil {
		t.Fatalf("Failed to delete namespace: %v", err)
	}

	for _, key := range keys {
		item, err := s.Get(ctx, key, storage.WithNamespace("doomed"))
		if err != nil {
			t.Fatalf("Failed to get data for key %s after deletion: %v", key, err)
		}
		if item != nil {
			t.Errorf("Expected nil after namespace deletion for key %s, got item", key)
		}
	}
	item, err := s.Get(ctx, "key1", storage.WithNamespace("kept"))
	if err != nil || item == nil {
		t.Fatalf("Other namespace should survive deletion: %v %v", item, err)
	}
}

func testRevocation(t *testing.T, s storage.Storage) {
	ctx := context.Background()

	revoked, err := storage.IsRevoked(ctx, s, "jti-1")
	if err != nil || revoked {
		t.Fatalf("fresh store: revoked=%v err=%v", revoked, err)
	}
	if err := storage.Revoke(ctx, s, "jti-1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	revoked, err = storage.IsRevoked(ctx, s, "jti-1")
	if err != nil || !revoked {
		t.Fatalf("after revoke: revoked=%v err=%v", revoked, err)
	}
	// The denylist lives in its own namespace.
	if item, _ := s.Get(ctx, "jti-1"); item != nil {
		t.Fatal("revocation leaked into the global namespace")
	}

	if err := storage.Revoke(ctx, s, "jti-2", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("Revoke expired: %v", err)
	}
	if revoked, _ := storage.IsRevoked(ctx, s, "jti-2"); revoked {
		t.Fatal("already expired token should not be stored")
	}

	if err := storage.Unrevoke(ctx, s, "jti-1"); err != nil {
		t.Fatalf("Unrevoke: %v", err)
	}
	if revoked, _ := storage.IsRevoked(ctx, s, "jti-1"); revoked {
		t.Fatal("jti-1 still revoked after Unrevoke")
	}

	if err := storage.Revoke(ctx, s, "", time.Time{}); err == nil {
		t.Fatal("expected error for empty token id")
	}
}
