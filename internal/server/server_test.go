package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"keepsake-api/internal/api"
	"keepsake-api/internal/auth"
	"keepsake-api/internal/observability/metrics"
	"keepsake-api/internal/storage"
)

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	store, err := storage.NewStore(filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	handler := api.NewHandler(store, auth.NewSessionManager(time.Hour))
	handler.Blobs = storage.NewLocalBlobStore(t.TempDir())
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	srv, err := New(handler, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return srv
}

func serveRequest(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)
	return rec
}

func signupBody(t *testing.T, email string) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	err := json.NewEncoder(buf).Encode(map[string]string{
		"displayName": "Chain User",
		"email":       email,
		"password":    "hunter2hunter2",
	})
	if err != nil {
		t.Fatalf("encode signup body: %v", err)
	}
	return buf
}

func TestHealthzCarriesSecurityHeaders(t *testing.T) {
	srv := newTestServer(t, Config{})

	rec := serveRequest(srv, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	headers := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "no-referrer",
	}
	for name, want := range headers {
		if got := rec.Header().Get(name); got != want {
			t.Fatalf("expected %s=%q, got %q", name, want, got)
		}
	}
	if rec.Header().Get("Content-Security-Policy") == "" {
		t.Fatalf("expected a content security policy header")
	}
}

func TestRequestIDAssignedAndEchoed(t *testing.T) {
	srv := newTestServer(t, Config{})

	rec := serveRequest(srv, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected a generated request id")
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "caller-supplied")
	rec = serveRequest(srv, req)
	if got := rec.Header().Get("X-Request-Id"); got != "caller-supplied" {
		t.Fatalf("expected caller request id echoed, got %q", got)
	}
}

func TestProtectedRoutesRejectMissingToken(t *testing.T) {
	srv := newTestServer(t, Config{})

	rec := serveRequest(srv, httptest.NewRequest(http.MethodGet, "/api/devices", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	var env struct {
		Code   int  `json:"code"`
		Errors bool `json:"errors"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Code != http.StatusUnauthorized || !env.Errors {
		t.Fatalf("unexpected envelope %+v", env)
	}
}

func TestSignupThenAuthenticatedRequestThroughChain(t *testing.T) {
	srv := newTestServer(t, Config{})

	req := httptest.NewRequest(http.MethodPost, "/api/auth/signup", signupBody(t, "chain@example.com"))
	req.Header.Set("Content-Type", "application/json")
	rec := serveRequest(srv, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup: expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	var env struct {
		Payload struct {
			Token string `json:"token"`
		} `json:"payload"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode signup envelope: %v", err)
	}
	if env.Payload.Token == "" {
		t.Fatalf("expected session token from signup")
	}

	listReq := httptest.NewRequest(http.MethodGet, "/api/devices", nil)
	listReq.Header.Set("Authorization", "Bearer "+env.Payload.Token)
	rec = serveRequest(srv, listReq)
	if rec.Code != http.StatusOK {
		t.Fatalf("authenticated list: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
}

func TestLoginRateLimitPerIP(t *testing.T) {
	srv := newTestServer(t, Config{
		RateLimit: RateLimitConfig{LoginLimit: 2, LoginWindow: time.Minute},
	})

	body := func() *bytes.Buffer {
		buf := &bytes.Buffer{}
		fmt.Fprint(buf, `{"email":"nobody@example.com","password":"wrong"}`)
		return buf
	}

	for attempt := 0; attempt < 2; attempt++ {
		rec := serveRequest(srv, httptest.NewRequest(http.MethodPost, "/api/auth/login", body()))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", attempt, rec.Code)
		}
	}

	rec := serveRequest(srv, httptest.NewRequest(http.MethodPost, "/api/auth/login", body()))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after limit, got %d", rec.Code)
	}
}

func TestGlobalRateLimit(t *testing.T) {
	srv := newTestServer(t, Config{
		RateLimit: RateLimitConfig{GlobalRPS: 0.001, GlobalBurst: 1},
	})

	if rec := serveRequest(srv, httptest.NewRequest(http.MethodGet, "/healthz", nil)); rec.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", rec.Code)
	}
	if rec := serveRequest(srv, httptest.NewRequest(http.MethodGet, "/healthz", nil)); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: expected 429, got %d", rec.Code)
	}
}

func TestCORSPolicy(t *testing.T) {
	srv := newTestServer(t, Config{
		CORS: CORSConfig{AllowedOrigins: []string{"https://app.example.com"}},
	})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := serveRequest(srv, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("allowed origin: expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("expected allow-origin echo, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = serveRequest(srv, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("blocked origin: expected 403, got %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, Config{
		CORS: CORSConfig{AllowedOrigins: []string{"https://app.example.com"}},
	})

	req := httptest.NewRequest(http.MethodOptions, "/api/devices", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := serveRequest(srv, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight: expected 204, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Fatalf("expected allow-methods header on preflight")
	}
}

func TestTokenBucketRefills(t *testing.T) {
	bucket := newTokenBucket(100, 1)
	if !bucket.Allow() {
		t.Fatalf("expected first draw to pass")
	}
	if bucket.Allow() {
		t.Fatalf("expected empty bucket to deny")
	}
	time.Sleep(25 * time.Millisecond)
	if !bucket.Allow() {
		t.Fatalf("expected refill after wait")
	}
}

func TestExtractClientIPPrefersForwardedHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.7:4455"
	if got := extractClientIP(req); got != "198.51.100.7" {
		t.Fatalf("expected remote addr host, got %q", got)
	}

	req.Header.Set("X-Real-IP", "203.0.113.9")
	if got := extractClientIP(req); got != "203.0.113.9" {
		t.Fatalf("expected X-Real-IP, got %q", got)
	}

	req.Header.Set("X-Forwarded-For", "192.0.2.4, 203.0.113.9")
	if got := extractClientIP(req); got != "192.0.2.4" {
		t.Fatalf("expected first forwarded hop, got %q", got)
	}
}
