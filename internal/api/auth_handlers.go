package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"lanstream/internal/models"
	"lanstream/internal/storage"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Token     string       `json:"token"`
	ExpiresAt string       `json:"expiresAt"`
	User      userResponse `json:"user"`
}

// Login handles POST /api/auth/login: verifies credentials, mints a
// session, and sets the session cookie alongside the JSON response.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid payload"))
		return
	}
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("username and password are required"))
		return
	}
	user, err := h.Store.AuthenticateUser(username, req.Password)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, fmt.Errorf("invalid credentials"))
			return
		}
		writeError(w, http.StatusInternalServerError, fmt.Errorf("login failed"))
		return
	}
	if user.Expired(time.Now()) {
		writeError(w, http.StatusUnauthorized, fmt.Errorf("account expired"))
		return
	}
	session, err := h.sessions().Create(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("session creation failed"))
		return
	}
	setSessionCookie(w, r, session.Token, session.ExpiresAt)
	h.logger().Info("user logged in", "user_id", user.ID, "username", user.Username)
	writeJSON(w, http.StatusOK, sessionResponse{
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt.UTC().Format(time.RFC3339),
		User:      newUserResponse(user),
	})
}

// Session handles /api/auth/session: GET returns the authenticated
// account, DELETE revokes the session and clears the cookie.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		user, err := h.AuthenticateRequest(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		writeJSON(w, http.StatusOK, newUserResponse(user))
	case http.MethodDelete:
		token := ExtractToken(r)
		if token != "" {
			if err := h.sessions().Revoke(token); err != nil {
				h.logger().Warn("session revoke failed", "error", err)
			}
		}
		clearSessionCookie(w, r)
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
	}
}

type userResponse struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Username  string  `json:"username"`
	Role      string  `json:"role"`
	ExpiresAt *string `json:"expiresAt,omitempty"`
	CreatedAt string  `json:"createdAt"`
}

func newUserResponse(user models.User) userResponse {
	resp := userResponse{
		ID:        user.ID,
		Name:      user.Name,
		Username:  user.Username,
		Role:      user.Role,
		CreatedAt: user.CreatedAt.UTC().Format(time.RFC3339),
	}
	if user.ExpiresAt != nil {
		formatted := user.ExpiresAt.UTC().Format(time.RFC3339)
		resp.ExpiresAt = &formatted
	}
	return resp
}
