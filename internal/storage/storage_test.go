package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"keepsake-api/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.json")
	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore error: %v", err)
	}
	return store
}

func createTestUser(t *testing.T, store *Store, name, email string) models.User {
	t.Helper()
	user, err := store.CreateUser(CreateUserParams{
		DisplayName: name,
		Email:       email,
		Password:    "correct horse battery staple",
	})
	if err != nil {
		t.Fatalf("CreateUser %s: %v", email, err)
	}
	return user
}

func createTestMedia(t *testing.T, store *Store, ownerID string, era models.Era) models.Media {
	t.Helper()
	media, err := store.CreateMedia(CreateMediaParams{
		OwnerID:     ownerID,
		Path:        "blob-" + string(era),
		ContentType: "image/jpeg",
		Era:         era,
	})
	if err != nil {
		t.Fatalf("CreateMedia: %v", err)
	}
	return media
}

func TestCreateUserRejectsDuplicateEmail(t *testing.T) {
	store := newTestStore(t)
	createTestUser(t, store, "First", "dup@example.com")

	if _, err := store.CreateUser(CreateUserParams{
		DisplayName: "Second",
		Email:       "DUP@example.com",
		Password:    "secret",
	}); !IsValidation(err) {
		t.Fatalf("expected validation error for duplicate email, got %v", err)
	}
}

func TestAuthenticateUser(t *testing.T) {
	store := newTestStore(t)
	user := createTestUser(t, store, "Auth", "auth@example.com")

	got, err := store.AuthenticateUser("auth@example.com", "correct horse battery staple")
	if err != nil {
		t.Fatalf("AuthenticateUser: %v", err)
	}
	if got.ID != user.ID {
		t.Fatalf("expected user %s, got %s", user.ID, got.ID)
	}

	if _, err := store.AuthenticateUser("auth@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := store.AuthenticateUser("missing@example.com", "whatever"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
}

func TestUpdateUserEnforcesEmailUniqueness(t *testing.T) {
	store := newTestStore(t)
	createTestUser(t, store, "Holder", "held@example.com")
	other := createTestUser(t, store, "Other", "other@example.com")

	email := "held@example.com"
	if _, err := store.UpdateUser(other.ID, UserUpdate{Email: &email}); !IsValidation(err) {
		t.Fatalf("expected validation error for taken email, got %v", err)
	}

	name := "Renamed"
	updated, err := store.UpdateUser(other.ID, UserUpdate{DisplayName: &name})
	if err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}
	if updated.DisplayName != "Renamed" {
		t.Fatalf("expected display name Renamed, got %q", updated.DisplayName)
	}
}

func TestDeleteUserRemovesDevices(t *testing.T) {
	store := newTestStore(t)
	user := createTestUser(t, store, "Owner", "owner@example.com")
	keeper := createTestUser(t, store, "Keeper", "keeper@example.com")

	if _, err := store.CreateDevice(CreateDeviceParams{OwnerID: user.ID, Name: "phone"}); err != nil {
		t.Fatalf("CreateDevice: %v", err)
	}
	kept, err := store.CreateDevice(CreateDeviceParams{OwnerID: keeper.ID, Name: "tablet"})
	if err != nil {
		t.Fatalf("CreateDevice keeper: %v", err)
	}

	if err := store.DeleteUser(user.ID); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if _, ok := store.GetUser(user.ID); ok {
		t.Fatalf("expected user %s to be gone", user.ID)
	}
	if devices := store.ListDevices(user.ID); len(devices) != 0 {
		t.Fatalf("expected owner devices removed, got %d", len(devices))
	}
	if _, ok := store.GetDevice(kept.ID); !ok {
		t.Fatalf("expected other user's device to survive")
	}
}

func TestDeleteUserPersistFailureLeavesDataUntouched(t *testing.T) {
	store := newTestStore(t)
	user := createTestUser(t, store, "Target", "target@example.com")
	device, err := store.CreateDevice(CreateDeviceParams{OwnerID: user.ID, Name: "phone"})
	if err != nil {
		t.Fatalf("CreateDevice: %v", err)
	}

	store.persistOverride = func(dataset) error {
		return errors.New("persist failed")
	}
	if err := store.DeleteUser(user.ID); err == nil {
		t.Fatalf("expected DeleteUser error when persist fails")
	}
	store.persistOverride = nil

	if _, ok := store.GetUser(user.ID); !ok {
		t.Fatalf("expected user %s to remain", user.ID)
	}
	if _, ok := store.GetDevice(device.ID); !ok {
		t.Fatalf("expected device %s to remain", device.ID)
	}
}

func TestStoreReloadsPersistedData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	user := createTestUser(t, store, "Durable", "durable@example.com")

	reloaded, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore reload: %v", err)
	}
	got, ok := reloaded.GetUser(user.ID)
	if !ok {
		t.Fatalf("expected user %s after reload", user.ID)
	}
	if got.Email != "durable@example.com" {
		t.Fatalf("expected email to survive reload, got %q", got.Email)
	}
}

func TestCreateDeviceRequiresKnownOwner(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.CreateDevice(CreateDeviceParams{OwnerID: "missing", Name: "phone"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown owner, got %v", err)
	}
}

func TestUpdateDevice(t *testing.T) {
	store := newTestStore(t)
	user := createTestUser(t, store, "Owner", "owner@example.com")
	device, err := store.CreateDevice(CreateDeviceParams{OwnerID: user.ID, Name: "phone", Platform: "ios"})
	if err != nil {
		t.Fatalf("CreateDevice: %v", err)
	}

	name := "renamed"
	token := "tok-123"
	updated, err := store.UpdateDevice(device.ID, DeviceUpdate{Name: &name, PushToken: &token})
	if err != nil {
		t.Fatalf("UpdateDevice: %v", err)
	}
	if updated.Name != "renamed" || updated.PushToken != "tok-123" {
		t.Fatalf("unexpected device after update: %+v", updated)
	}
	if updated.Platform != "ios" {
		t.Fatalf("expected untouched platform to remain, got %q", updated.Platform)
	}

	empty := ""
	if _, err := store.UpdateDevice(device.ID, DeviceUpdate{Name: &empty}); !IsValidation(err) {
		t.Fatalf("expected validation error for empty name, got %v", err)
	}
}
