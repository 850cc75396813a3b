package api

import (
	"net/http"
	"time"

	"keepsake-api/internal/storage"
)

type signupRequest struct {
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	Password    string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token     string       `json:"token"`
	ExpiresAt string       `json:"expiresAt"`
	User      userResponse `json:"user"`
}

func newAuthResponse(token string, user userResponse, expires time.Time) authResponse {
	return authResponse{
		Token:     token,
		ExpiresAt: expires.UTC().Format(time.RFC3339Nano),
		User:      user,
	}
}

// Signup registers a new account and opens a session for it.
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}
	var req signupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error())
		return
	}
	user, err := h.Store.CreateUser(storage.CreateUserParams{
		DisplayName: req.DisplayName,
		Email:       req.Email,
		Password:    req.Password,
	})
	if err != nil {
		writeStorageError(w, err)
		return
	}
	token, expires, err := h.sessionManager().Create(user.ID)
	if err != nil {
		writeFailure(w, http.StatusInternalServerError, "internal error")
		return
	}
	setSessionCookie(w, r, token, expires)
	writeReply(w, http.StatusCreated, "account created", newAuthResponse(token, newUserResponse(user), expires))
}

// Login verifies credentials and opens a session.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error())
		return
	}
	user, err := h.Store.AuthenticateUser(req.Email, req.Password)
	if err != nil {
		writeStorageError(w, err)
		return
	}
	token, expires, err := h.sessionManager().Create(user.ID)
	if err != nil {
		writeFailure(w, http.StatusInternalServerError, "internal error")
		return
	}
	setSessionCookie(w, r, token, expires)
	writeReply(w, http.StatusOK, "logged in", newAuthResponse(token, newUserResponse(user), expires))
}

// Session reports the authenticated account on GET and revokes the session on
// DELETE.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		user, ok := h.requireAuthenticatedUser(w, r)
		if !ok {
			return
		}
		writeReply(w, http.StatusOK, "session active", newUserResponse(user))
	case http.MethodDelete:
		if _, ok := h.requireAuthenticatedUser(w, r); !ok {
			return
		}
		if token := ExtractToken(r); token != "" {
			if err := h.sessionManager().Revoke(token); err != nil {
				writeFailure(w, http.StatusInternalServerError, "internal error")
				return
			}
		}
		clearSessionCookie(w, r)
		writeReply(w, http.StatusOK, "logged out", nil)
	default:
		methodNotAllowed(w, r, "GET, DELETE")
	}
}
