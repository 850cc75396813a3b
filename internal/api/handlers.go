package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"keepsake-api/internal/auth"
	"keepsake-api/internal/models"
	"keepsake-api/internal/observability/metrics"
	"keepsake-api/internal/storage"
)

// Handler bundles the collaborators the HTTP handlers depend on. Blobs may be
// nil in deployments that never serve media (API-only smoke tests); media
// routes then report a server error rather than panicking.
type Handler struct {
	Store    storage.Repository
	Sessions *auth.SessionManager
	Blobs    storage.BlobStore
	Metrics  *metrics.Recorder
}

func NewHandler(store storage.Repository, sessions *auth.SessionManager) *Handler {
	if sessions == nil {
		sessions = auth.NewSessionManager(24 * time.Hour)
	}
	return &Handler{Store: store, Sessions: sessions}
}

func (h *Handler) sessionManager() *auth.SessionManager {
	if h.Sessions == nil {
		h.Sessions = auth.NewSessionManager(24 * time.Hour)
	}
	return h.Sessions
}

// reply is the uniform envelope every JSON response uses. Code mirrors the
// HTTP status so clients reading the body alone see the same taxonomy.
type reply struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Errors  bool   `json:"errors"`
	Payload any    `json:"payload"`
}

func writeReply(w http.ResponseWriter, status int, message string, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(reply{
		Code:    status,
		Message: message,
		Errors:  false,
		Payload: payload,
	})
}

func writeFailure(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(reply{
		Code:    status,
		Message: message,
		Errors:  true,
		Payload: nil,
	})
}

// WriteFailure is an exported helper so middleware outside this package can
// emit envelope-shaped errors.
func WriteFailure(w http.ResponseWriter, status int, message string) {
	writeFailure(w, status, message)
}

// writeStorageError maps repository errors onto the reply taxonomy. Unknown
// errors become opaque server errors so internal detail never leaks.
func writeStorageError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeFailure(w, http.StatusNotFound, "not found")
	case storage.IsValidation(err):
		writeFailure(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrNotImplemented):
		writeFailure(w, http.StatusNotImplemented, "not implemented")
	case errors.Is(err, storage.ErrInvalidCredentials):
		writeFailure(w, http.StatusUnauthorized, "invalid credentials")
	default:
		writeFailure(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(r *http.Request, dest any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed string) {
	w.Header().Set("Allow", allowed)
	writeFailure(w, http.StatusMethodNotAllowed, fmt.Sprintf("method %s not allowed", r.Method))
}

const sessionCookieName = "keepsake_session"

func setSessionCookie(w http.ResponseWriter, r *http.Request, token string, expires time.Time) {
	if token == "" {
		return
	}
	maxAge := int(time.Until(expires).Seconds())
	if maxAge < 0 {
		maxAge = 0
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires.UTC(),
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   isSecureRequest(r),
		SameSite: http.SameSiteStrictMode,
	})
}

func clearSessionCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   isSecureRequest(r),
		SameSite: http.SameSiteStrictMode,
	})
}

func isSecureRequest(r *http.Request) bool {
	if r == nil {
		return false
	}
	if r.TLS != nil {
		return true
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		for _, p := range strings.Split(proto, ",") {
			if strings.EqualFold(strings.TrimSpace(p), "https") {
				return true
			}
		}
	}
	if r.URL != nil && strings.EqualFold(r.URL.Scheme, "https") {
		return true
	}
	return false
}

// ExtractToken pulls the session token from the Authorization header, the
// session cookie, or the token query parameter. The query form exists for the
// binary media route, which browsers fetch without headers.
func ExtractToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// Response shapes. Password hashes and blob handles never leave the service.

type userResponse struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	CreatedAt   string `json:"createdAt"`
	UpdatedAt   string `json:"updatedAt"`
}

func newUserResponse(user models.User) userResponse {
	return userResponse{
		ID:          user.ID,
		DisplayName: user.DisplayName,
		Email:       user.Email,
		CreatedAt:   user.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:   user.UpdatedAt.Format(time.RFC3339Nano),
	}
}

type deviceResponse struct {
	ID        string `json:"id"`
	OwnerID   string `json:"ownerId"`
	Name      string `json:"name"`
	Platform  string `json:"platform,omitempty"`
	PushToken string `json:"pushToken,omitempty"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

func newDeviceResponse(device models.Device) deviceResponse {
	return deviceResponse{
		ID:        device.ID,
		OwnerID:   device.OwnerID,
		Name:      device.Name,
		Platform:  device.Platform,
		PushToken: device.PushToken,
		CreatedAt: device.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt: device.UpdatedAt.Format(time.RFC3339Nano),
	}
}

type mediaResponse struct {
	ID          string   `json:"id"`
	OwnerID     string   `json:"ownerId"`
	ContentType string   `json:"contentType,omitempty"`
	Era         string   `json:"era"`
	Locket      string   `json:"locket"`
	Links       []string `json:"links"`
	Emotions    []string `json:"emotions,omitempty"`
	CreatedAt   string   `json:"createdAt"`
	UpdatedAt   string   `json:"updatedAt"`
}

func newMediaResponse(media models.Media) mediaResponse {
	links := media.Links
	if links == nil {
		links = []string{}
	}
	return mediaResponse{
		ID:          media.ID,
		OwnerID:     media.OwnerID,
		ContentType: media.ContentType,
		Era:         string(media.Era),
		Locket:      string(media.Locket),
		Links:       links,
		Emotions:    media.Emotions,
		CreatedAt:   media.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:   media.UpdatedAt.Format(time.RFC3339Nano),
	}
}
