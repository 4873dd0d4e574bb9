// Package api implements the HTTP handlers for the catalog, upload
// intake, playback resolution, and account management endpoints.
package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"lanstream/internal/auth"
	"lanstream/internal/ingest"
	"lanstream/internal/observability/metrics"
	"lanstream/internal/storage"
)

const sessionCookieName = "lanstream_session"

// Handler bundles the collaborators the HTTP endpoints need. Fields
// left nil degrade gracefully: a nil Reconciler skips catalog
// reconciliation, a nil Metrics recorder skips counters.
type Handler struct {
	Store      storage.Repository
	Sessions   *auth.Manager
	Intake     *ingest.Intake
	Reconciler *ingest.Reconciler
	Metrics    *metrics.Recorder
	Logger     *slog.Logger
}

func NewHandler(store storage.Repository, sessions *auth.Manager) *Handler {
	if sessions == nil {
		sessions = auth.NewManager(24 * time.Hour)
	}
	return &Handler{Store: store, Sessions: sessions}
}

func (h *Handler) sessions() *auth.Manager {
	if h.Sessions == nil {
		h.Sessions = auth.NewManager(24 * time.Hour)
	}
	return h.Sessions
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// ExtractToken pulls the session token from the Authorization header
// or the session cookie, in that order.
func ExtractToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

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
	return false
}
