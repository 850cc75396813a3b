package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"keepsake-api/internal/auth"
	"keepsake-api/internal/models"
	"keepsake-api/internal/observability/metrics"
	"keepsake-api/internal/storage"
)

func newTestHandler(t *testing.T) (*Handler, *storage.Store) {
	t.Helper()
	store, err := storage.NewStore(filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	handler := NewHandler(store, auth.NewSessionManager(time.Hour))
	handler.Blobs = storage.NewLocalBlobStore(t.TempDir())
	handler.Metrics = metrics.New()
	return handler, store
}

func signupTestUser(t *testing.T, store *storage.Store, email string) models.User {
	t.Helper()
	user, err := store.CreateUser(storage.CreateUserParams{
		DisplayName: "Test User",
		Email:       email,
		Password:    "hunter2hunter2",
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return user
}

func authedRequest(user models.User, method, target string, body *bytes.Buffer) *http.Request {
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, target, body)
	return req.WithContext(ContextWithUser(req.Context(), user))
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Errors  bool            `json:"errors"`
	Payload json.RawMessage `json:"payload"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v (body %q)", err, rec.Body.String())
	}
	if env.Code != rec.Code {
		t.Fatalf("envelope code %d does not mirror status %d", env.Code, rec.Code)
	}
	return env
}

func jsonBody(t *testing.T, value any) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(value); err != nil {
		t.Fatalf("encode body: %v", err)
	}
	return buf
}

func TestSignupCreatesAccountAndSession(t *testing.T) {
	handler, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/signup", jsonBody(t, map[string]string{
		"displayName": "New User",
		"email":       "new@example.com",
		"password":    "hunter2hunter2",
	}))
	handler.Signup(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	env := decodeEnvelope(t, rec)
	if env.Errors {
		t.Fatalf("expected success envelope, got %+v", env)
	}
	var payload struct {
		Token string `json:"token"`
		User  struct {
			Email        string `json:"email"`
			PasswordHash string `json:"passwordHash"`
		} `json:"user"`
	}
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Token == "" {
		t.Fatalf("expected session token in payload")
	}
	if payload.User.PasswordHash != "" {
		t.Fatalf("password hash must never appear in responses")
	}

	// The issued token authenticates follow-up requests.
	check := httptest.NewRequest(http.MethodGet, "/api/users", nil)
	check.Header.Set("Authorization", "Bearer "+payload.Token)
	if _, err := handler.AuthenticateRequest(check); err != nil {
		t.Fatalf("AuthenticateRequest with issued token: %v", err)
	}
}

func TestSignupRejectsDuplicateEmail(t *testing.T) {
	handler, store := newTestHandler(t)
	signupTestUser(t, store, "taken@example.com")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/signup", jsonBody(t, map[string]string{
		"displayName": "Other",
		"email":       "taken@example.com",
		"password":    "hunter2hunter2",
	}))
	handler.Signup(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if env := decodeEnvelope(t, rec); !env.Errors {
		t.Fatalf("expected error envelope, got %+v", env)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	handler, store := newTestHandler(t)
	signupTestUser(t, store, "login@example.com")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", jsonBody(t, map[string]string{
		"email":    "login@example.com",
		"password": "not-the-password",
	}))
	handler.Login(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if !env.Errors || env.Message != "invalid credentials" {
		t.Fatalf("unexpected envelope %+v", env)
	}
}

func TestSessionLifecycle(t *testing.T) {
	handler, store := newTestHandler(t)
	user := signupTestUser(t, store, "sess@example.com")
	token, _, err := handler.Sessions.Create(user.ID)
	if err != nil {
		t.Fatalf("Create session: %v", err)
	}

	rec := httptest.NewRecorder()
	req := authedRequest(user, http.MethodGet, "/api/auth/session", nil)
	handler.Session(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for active session, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req = authedRequest(user, http.MethodDelete, "/api/auth/session", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	handler.Session(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for logout, got %d", rec.Code)
	}

	if _, _, ok, _ := handler.Sessions.Validate(token); ok {
		t.Fatalf("expected token revoked after logout")
	}
}

func TestResourceRoutesRequireAuthentication(t *testing.T) {
	handler, _ := newTestHandler(t)
	devices := NewDeviceHandlers(handler)

	rec := httptest.NewRecorder()
	devices.Collection(rec, httptest.NewRequest(http.MethodGet, "/api/devices", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without context user, got %d", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if !env.Errors || env.Message != "authentication required" {
		t.Fatalf("unexpected envelope %+v", env)
	}
}

func TestDeviceCRUDThroughGenericRoutes(t *testing.T) {
	handler, store := newTestHandler(t)
	user := signupTestUser(t, store, "crud@example.com")
	devices := NewDeviceHandlers(handler)

	// create
	rec := httptest.NewRecorder()
	devices.Collection(rec, authedRequest(user, http.MethodPost, "/api/devices", jsonBody(t, map[string]string{
		"name":     "phone",
		"platform": "ios",
	})))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	var created deviceResponse
	env := decodeEnvelope(t, rec)
	if err := json.Unmarshal(env.Payload, &created); err != nil {
		t.Fatalf("decode created device: %v", err)
	}
	if created.OwnerID != user.ID {
		t.Fatalf("expected device owned by caller, got %q", created.OwnerID)
	}

	// show
	rec = httptest.NewRecorder()
	devices.ByID(rec, authedRequest(user, http.MethodGet, "/api/devices/"+created.ID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("show: expected 200, got %d", rec.Code)
	}

	// update via POST
	rec = httptest.NewRecorder()
	devices.ByID(rec, authedRequest(user, http.MethodPost, "/api/devices/"+created.ID, jsonBody(t, map[string]string{
		"name": "renamed",
	})))
	if rec.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var updated deviceResponse
	env = decodeEnvelope(t, rec)
	if err := json.Unmarshal(env.Payload, &updated); err != nil {
		t.Fatalf("decode updated device: %v", err)
	}
	if updated.Name != "renamed" {
		t.Fatalf("expected renamed device, got %q", updated.Name)
	}

	// destroy
	rec = httptest.NewRecorder()
	devices.ByID(rec, authedRequest(user, http.MethodDelete, "/api/devices/"+created.ID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("destroy: expected 200, got %d", rec.Code)
	}
	if _, ok := store.GetDevice(created.ID); ok {
		t.Fatalf("expected device removed from store")
	}
}

func TestDeviceOwnershipMismatchReadsAsNotFound(t *testing.T) {
	handler, store := newTestHandler(t)
	owner := signupTestUser(t, store, "owner@example.com")
	intruder := signupTestUser(t, store, "intruder@example.com")
	devices := NewDeviceHandlers(handler)

	device, err := store.CreateDevice(storage.CreateDeviceParams{OwnerID: owner.ID, Name: "phone"})
	if err != nil {
		t.Fatalf("CreateDevice: %v", err)
	}

	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodDelete} {
		rec := httptest.NewRecorder()
		body := jsonBody(t, map[string]string{"name": "stolen"})
		devices.ByID(rec, authedRequest(intruder, method, "/api/devices/"+device.ID, body))
		if rec.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404 for foreign device, got %d", method, rec.Code)
		}
	}
	if _, ok := store.GetDevice(device.ID); !ok {
		t.Fatalf("expected device untouched")
	}
}

func TestDeviceListFiltersByQueryParams(t *testing.T) {
	handler, store := newTestHandler(t)
	user := signupTestUser(t, store, "filter@example.com")
	devices := NewDeviceHandlers(handler)

	for _, params := range []storage.CreateDeviceParams{
		{OwnerID: user.ID, Name: "phone", Platform: "ios"},
		{OwnerID: user.ID, Name: "phone", Platform: "android"},
		{OwnerID: user.ID, Name: "tablet", Platform: "ios"},
	} {
		if _, err := store.CreateDevice(params); err != nil {
			t.Fatalf("CreateDevice: %v", err)
		}
	}

	rec := httptest.NewRecorder()
	devices.Collection(rec, authedRequest(user, http.MethodGet, "/api/devices?platform=ios&token=ignored", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var listed []deviceResponse
	env := decodeEnvelope(t, rec)
	if err := json.Unmarshal(env.Payload, &listed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("expected 2 ios devices (token param ignored), got %d", len(listed))
	}
}

func TestDeviceSearchRoute(t *testing.T) {
	handler, store := newTestHandler(t)
	user := signupTestUser(t, store, "search@example.com")
	devices := NewDeviceHandlers(handler)

	for _, name := range []string{"Kitchen Tablet", "Bedroom Frame"} {
		if _, err := store.CreateDevice(storage.CreateDeviceParams{OwnerID: user.ID, Name: name}); err != nil {
			t.Fatalf("CreateDevice: %v", err)
		}
	}

	rec := httptest.NewRecorder()
	devices.ByID(rec, authedRequest(user, http.MethodGet, "/api/devices/search/name/tablet", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var matched []deviceResponse
	env := decodeEnvelope(t, rec)
	if err := json.Unmarshal(env.Payload, &matched); err != nil {
		t.Fatalf("decode matches: %v", err)
	}
	if len(matched) != 1 || matched[0].Name != "Kitchen Tablet" {
		t.Fatalf("unexpected matches %+v", matched)
	}
}

func TestDevicePaginationRoute(t *testing.T) {
	handler, store := newTestHandler(t)
	user := signupTestUser(t, store, "page@example.com")
	devices := NewDeviceHandlers(handler)

	for i := 0; i < 25; i++ {
		if _, err := store.CreateDevice(storage.CreateDeviceParams{OwnerID: user.ID, Name: fmt.Sprintf("device-%02d", i)}); err != nil {
			t.Fatalf("CreateDevice: %v", err)
		}
	}

	counts := map[string]int{"0": 10, "1": 10, "2": 5, "9": 0}
	for page, want := range counts {
		rec := httptest.NewRecorder()
		devices.ByID(rec, authedRequest(user, http.MethodGet, "/api/devices/get/"+page+"/10", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("page %s: expected 200, got %d", page, rec.Code)
		}
		var listed []deviceResponse
		env := decodeEnvelope(t, rec)
		if err := json.Unmarshal(env.Payload, &listed); err != nil {
			t.Fatalf("decode page: %v", err)
		}
		if len(listed) != want {
			t.Fatalf("page %s: expected %d devices, got %d", page, want, len(listed))
		}
	}

	for _, target := range []string{"/api/devices/get/-1/10", "/api/devices/get/0/0", "/api/devices/get/x/10"} {
		rec := httptest.NewRecorder()
		devices.ByID(rec, authedRequest(user, http.MethodGet, target, nil))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", target, rec.Code)
		}
	}
}

func TestUserRoutesScopeToSelf(t *testing.T) {
	handler, store := newTestHandler(t)
	user := signupTestUser(t, store, "self@example.com")
	other := signupTestUser(t, store, "other@example.com")
	users := NewUserHandlers(handler)

	rec := httptest.NewRecorder()
	users.Collection(rec, authedRequest(user, http.MethodGet, "/api/users", nil))
	var listed []userResponse
	env := decodeEnvelope(t, rec)
	if err := json.Unmarshal(env.Payload, &listed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != user.ID {
		t.Fatalf("expected only the caller's account, got %+v", listed)
	}

	rec = httptest.NewRecorder()
	users.ByID(rec, authedRequest(user, http.MethodGet, "/api/users/"+other.ID, nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for another account, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	users.Collection(rec, authedRequest(user, http.MethodPost, "/api/users", jsonBody(t, map[string]string{
		"displayName": "Side Door",
	})))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for generic user create, got %d", rec.Code)
	}
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	handler, _ := newTestHandler(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"email":"a@b.c","password":"x","extra":true}`))
	handler.Login(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", rec.Code)
	}
}

func TestExtractTokenSources(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/media/abc?token=query-token", nil)
	if got := ExtractToken(req); got != "query-token" {
		t.Fatalf("expected query token, got %q", got)
	}

	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "cookie-token"})
	if got := ExtractToken(req); got != "cookie-token" {
		t.Fatalf("expected cookie to win over query, got %q", got)
	}

	req.Header.Set("Authorization", "Bearer header-token")
	if got := ExtractToken(req); got != "header-token" {
		t.Fatalf("expected header to win, got %q", got)
	}
}
