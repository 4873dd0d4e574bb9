package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"lanstream/internal/storage"
)

type createUserRequest struct {
	Name      string `json:"name"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	Role      string `json:"role"`
	ExpiresAt string `json:"expiresAt"`
}

type updateUserRequest struct {
	Name      *string `json:"name"`
	Username  *string `json:"username"`
	Password  *string `json:"password"`
	Role      *string `json:"role"`
	ExpiresAt *string `json:"expiresAt"`
}

// Users handles /api/users: admin-only account listing and creation.
func (h *Handler) Users(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if _, ok := h.requireRole(w, r, roleAdmin); !ok {
			return
		}
		users, err := h.Store.ListUsers()
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Errorf("failed to list users"))
			return
		}
		responses := make([]userResponse, 0, len(users))
		for _, user := range users {
			responses = append(responses, newUserResponse(user))
		}
		writeJSON(w, http.StatusOK, responses)
	case http.MethodPost:
		if _, ok := h.requireRole(w, r, roleAdmin); !ok {
			return
		}
		var req createUserRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid payload"))
			return
		}
		params := storage.CreateUserParams{
			Name:     req.Name,
			Username: req.Username,
			Password: req.Password,
			Role:     req.Role,
		}
		if trimmed := strings.TrimSpace(req.ExpiresAt); trimmed != "" {
			expires, err := time.Parse(time.RFC3339, trimmed)
			if err != nil {
				writeError(w, http.StatusBadRequest, fmt.Errorf("expiresAt must be RFC 3339"))
				return
			}
			params.ExpiresAt = &expires
		}
		user, err := h.Store.CreateUser(params)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		h.logger().Info("user created", "user_id", user.ID, "username", user.Username, "role", user.Role)
		writeJSON(w, http.StatusCreated, newUserResponse(user))
	default:
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
	}
}

// UserByID handles /api/users/{id}. Users may read their own account;
// everything else requires admin.
func (h *Handler) UserByID(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/users/"), "/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodGet:
		caller, ok := h.requireAuthenticatedUser(w, r)
		if !ok {
			return
		}
		if caller.ID != id && !userHasAnyRole(caller, roleAdmin) {
			writeError(w, http.StatusForbidden, fmt.Errorf("forbidden"))
			return
		}
		user, found := h.Store.GetUser(id)
		if !found {
			writeError(w, http.StatusNotFound, storage.ErrUserNotFound)
			return
		}
		writeJSON(w, http.StatusOK, newUserResponse(user))
	case http.MethodPut:
		if _, ok := h.requireRole(w, r, roleAdmin); !ok {
			return
		}
		var req updateUserRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid payload"))
			return
		}
		update := storage.UserUpdate{
			Name:     req.Name,
			Username: req.Username,
			Password: req.Password,
			Role:     req.Role,
		}
		if req.ExpiresAt != nil {
			if trimmed := strings.TrimSpace(*req.ExpiresAt); trimmed == "" {
				var cleared *time.Time
				update.ExpiresAt = &cleared
			} else {
				expires, err := time.Parse(time.RFC3339, trimmed)
				if err != nil {
					writeError(w, http.StatusBadRequest, fmt.Errorf("expiresAt must be RFC 3339"))
					return
				}
				ptr := &expires
				update.ExpiresAt = &ptr
			}
		}
		user, err := h.Store.UpdateUser(id, update)
		if err != nil {
			h.writeUserError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newUserResponse(user))
	case http.MethodDelete:
		caller, ok := h.requireRole(w, r, roleAdmin)
		if !ok {
			return
		}
		if caller.ID == id {
			writeError(w, http.StatusBadRequest, fmt.Errorf("cannot delete the current account"))
			return
		}
		if err := h.Store.DeleteUser(id); err != nil {
			h.writeUserError(w, err)
			return
		}
		h.logger().Info("user deleted", "user_id", id)
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
	}
}

func (h *Handler) writeUserError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrUserNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeError(w, http.StatusBadRequest, err)
}
