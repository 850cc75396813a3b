package auth

import (
	"testing"
	"time"
)

func TestSessionCreateAndValidate(t *testing.T) {
	manager := NewSessionManager(time.Hour)

	token, expiresAt, err := manager.Create("user-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if token == "" {
		t.Fatalf("expected non-empty token")
	}
	if expiresAt.Before(time.Now()) {
		t.Fatalf("expected future expiry, got %s", expiresAt)
	}

	userID, _, ok, err := manager.Validate(token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !ok || userID != "user-1" {
		t.Fatalf("expected valid session for user-1, got ok=%v user=%q", ok, userID)
	}
}

func TestSessionCreateRequiresUserID(t *testing.T) {
	manager := NewSessionManager(time.Hour)
	if _, _, err := manager.Create(""); err != ErrInvalidUserID {
		t.Fatalf("expected ErrInvalidUserID, got %v", err)
	}
}

func TestSessionValidateUnknownToken(t *testing.T) {
	manager := NewSessionManager(time.Hour)
	if _, _, ok, err := manager.Validate("never-issued"); err != nil || ok {
		t.Fatalf("expected miss for unknown token, got ok=%v err=%v", ok, err)
	}
	if _, _, ok, err := manager.Validate(""); err != nil || ok {
		t.Fatalf("expected miss for empty token, got ok=%v err=%v", ok, err)
	}
}

func TestSessionExpiredTokenDeletedOnSight(t *testing.T) {
	store := NewMemorySessionStore()
	manager := NewSessionManager(time.Hour, WithStore(store))

	past := time.Now().Add(-time.Minute)
	if err := store.Save("stale", "user-1", past, past); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if _, _, ok, err := manager.Validate("stale"); err != nil || ok {
		t.Fatalf("expected expired token to fail validation, got ok=%v err=%v", ok, err)
	}
	if _, ok, _ := store.Get("stale"); ok {
		t.Fatalf("expected expired token removed from store")
	}
}

func TestSessionIdleRefreshCappedAtAbsoluteTTL(t *testing.T) {
	store := NewMemorySessionStore()
	manager := NewSessionManager(time.Hour, WithStore(store), WithIdleTimeout(10*time.Minute))

	token, expiresAt, err := manager.Create("user-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if until := time.Until(expiresAt); until > 11*time.Minute {
		t.Fatalf("expected idle expiry near 10m, got %s", until)
	}

	// A sliding refresh never pushes the session past its absolute lifetime.
	absolute := time.Now().Add(2 * time.Minute)
	if err := store.Save(token, "user-1", time.Now().Add(time.Minute), absolute); err != nil {
		t.Fatalf("Save: %v", err)
	}
	_, refreshed, ok, err := manager.Validate(token)
	if err != nil || !ok {
		t.Fatalf("Validate: ok=%v err=%v", ok, err)
	}
	if refreshed.After(absolute.Add(time.Second)) {
		t.Fatalf("expected refresh capped at %s, got %s", absolute, refreshed)
	}
}

func TestSessionRevoke(t *testing.T) {
	manager := NewSessionManager(time.Hour)
	token, _, err := manager.Create("user-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := manager.Revoke(token); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, _, ok, _ := manager.Validate(token); ok {
		t.Fatalf("expected revoked token to fail validation")
	}
	if err := manager.Revoke(""); err != nil {
		t.Fatalf("expected empty revoke to be a no-op, got %v", err)
	}
}

func TestSessionPurgeExpired(t *testing.T) {
	store := NewMemorySessionStore()
	manager := NewSessionManager(time.Hour, WithStore(store))

	past := time.Now().Add(-time.Minute)
	if err := store.Save("stale", "user-1", past, past); err != nil {
		t.Fatalf("Save stale: %v", err)
	}
	token, _, err := manager.Create("user-2")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := manager.PurgeExpired(); err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	if _, ok, _ := store.Get("stale"); ok {
		t.Fatalf("expected stale session purged")
	}
	if _, ok, _ := store.Get(token); !ok {
		t.Fatalf("expected live session to survive purge")
	}
}
