package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"lanstream/internal/models"
)

type contextKey string

const (
	userContextKey contextKey = "authenticatedUser"

	roleAdmin  = "admin"
	roleEditor = "editor"
	roleViewer = "viewer"
)

// ContextWithUser stores the authenticated user in the context.
func ContextWithUser(ctx context.Context, user models.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// UserFromContext retrieves the authenticated user when present.
func UserFromContext(ctx context.Context) (models.User, bool) {
	user, ok := ctx.Value(userContextKey).(models.User)
	return user, ok
}

// AuthenticateRequest validates the request's session token and
// resolves it to a live account.
func (h *Handler) AuthenticateRequest(r *http.Request) (models.User, error) {
	token := ExtractToken(r)
	if token == "" {
		return models.User{}, fmt.Errorf("missing session token")
	}
	session, ok, err := h.sessions().Validate(token)
	if err != nil {
		return models.User{}, fmt.Errorf("session lookup failed")
	}
	if !ok {
		return models.User{}, fmt.Errorf("invalid or expired session")
	}
	user, found := h.Store.GetUser(session.UserID)
	if !found {
		return models.User{}, fmt.Errorf("account not found")
	}
	if user.Expired(time.Now()) {
		return models.User{}, fmt.Errorf("account expired")
	}
	return user, nil
}

func (h *Handler) requireAuthenticatedUser(w http.ResponseWriter, r *http.Request) (models.User, bool) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, fmt.Errorf("authentication required"))
		return models.User{}, false
	}
	return user, true
}

func (h *Handler) requireRole(w http.ResponseWriter, r *http.Request, roles ...string) (models.User, bool) {
	user, ok := h.requireAuthenticatedUser(w, r)
	if !ok {
		return models.User{}, false
	}
	if len(roles) == 0 || userHasAnyRole(user, roles...) {
		return user, true
	}
	WriteError(w, http.StatusForbidden, fmt.Errorf("forbidden"))
	return models.User{}, false
}

func userHasAnyRole(user models.User, roles ...string) bool {
	for _, role := range roles {
		if strings.EqualFold(user.Role, role) {
			return true
		}
	}
	return false
}
