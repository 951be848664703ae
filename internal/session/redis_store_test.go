package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, s
}

func TestNewRedisStore(t *testing.T) {
	store, _ := setupTestRedis(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewRedisStoreRejectsBadURL(t *testing.T) {
	if _, err := NewRedisStore("not a url"); err == nil {
		t.Fatal("expected error for bad redis url")
	}
}

func TestSaveAndLookupSession(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	record := Record{UserID: "usr_1", OrganizationID: "org_1"}
	if err := store.SaveSession(ctx, "jti-1", record, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
	if !s.Exists("session:jti-1") {
		t.Fatal("expected session:jti-1 key")
	}

	got, err := store.LookupSession(ctx, "jti-1")
	if err != nil {
		t.Fatalf("LookupSession failed: %v", err)
	}
	if got.UserID != "usr_1" || got.OrganizationID != "org_1" {
		t.Errorf("unexpected record: %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be stamped")
	}
}

func TestSaveSessionRejectsPastExpiry(t *testing.T) {
	store, _ := setupTestRedis(t)
	err := store.SaveSession(context.Background(), "jti-1", Record{UserID: "usr_1"}, time.Now().Add(-time.Second))
	if err == nil {
		t.Fatal("expected error for past expiry")
	}
}

func TestLookupExpiredSession(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	if err := store.SaveSession(ctx, "jti-1", Record{UserID: "usr_1"}, time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
	s.FastForward(2 * time.Minute)

	if _, err := store.LookupSession(ctx, "jti-1"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound for expired session, got %v", err)
	}
}

func TestLookupNonExistentSession(t *testing.T) {
	store, _ := setupTestRedis(t)
	if _, err := store.LookupSession(context.Background(), "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRevokeSession(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()
	expiresAt := time.Now().Add(time.Hour)

	if err := store.SaveSession(ctx, "jti-1", Record{UserID: "usr_1"}, expiresAt); err != nil {
		t.Fatalf("SaveSession 1 failed: %v", err)
	}
	if err := store.SaveSession(ctx, "jti-2", Record{UserID: "usr_2"}, expiresAt); err != nil {
		t.Fatalf("SaveSession 2 failed: %v", err)
	}

	if err := store.RevokeSession(ctx, "jti-1"); err != nil {
		t.Fatalf("RevokeSession failed: %v", err)
	}
	if _, err := store.LookupSession(ctx, "jti-1"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected revoked jti-1 to be gone, got %v", err)
	}
	got, err := store.LookupSession(ctx, "jti-2")
	if err != nil {
		t.Fatalf("Lookup jti-2 after revoke failed: %v", err)
	}
	if got.UserID != "usr_2" {
		t.Errorf("expected usr_2, got %s", got.UserID)
	}

	if err := store.RevokeSession(ctx, "never-existed"); err != nil {
		t.Errorf("RevokeSession for unknown jti failed: %v", err)
	}
}
