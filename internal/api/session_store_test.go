package api

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"lanstream/internal/auth"
	"lanstream/internal/storage"
	"lanstream/internal/testsupport"
)

func newStoreBackedHandler(t *testing.T, sessionStore auth.SessionStore) (*Handler, string) {
	t.Helper()
	repo, err := storage.NewJSONRepository(filepath.Join(t.TempDir(), "catalog.json"))
	if err != nil {
		t.Fatalf("NewJSONRepository: %v", err)
	}
	user, err := repo.CreateUser(storage.CreateUserParams{
		Name:     "Eve Editor",
		Username: "eve",
		Password: "eve-password",
		Role:     "editor",
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	handler := NewHandler(repo, auth.NewManager(time.Hour, auth.WithStore(sessionStore)))
	return handler, user.ID
}

func sessionRequest(token string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestSessionStoreHoldsOnlyHashedTokens(t *testing.T) {
	store := testsupport.NewSessionStoreStub()
	handler, userID := newStoreBackedHandler(t, store)

	session, err := handler.Sessions.Create(userID)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, ok := store.Record(session.Token); ok {
		t.Fatalf("raw token must not be a store key")
	}
	digest := sha256.Sum256([]byte(session.Token))
	if _, ok := store.Record(hex.EncodeToString(digest[:])); !ok {
		t.Fatalf("expected record under token digest")
	}

	rec := httptest.NewRecorder()
	handler.Session(rec, sessionRequest(session.Token))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for live session, got %d", rec.Code)
	}
}

func TestSessionRejectedAfterStoreExpiry(t *testing.T) {
	store := testsupport.NewSessionStoreStub()
	handler, userID := newStoreBackedHandler(t, store)

	session, err := handler.Sessions.Create(userID)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	digest := sha256.Sum256([]byte(session.Token))
	hash := hex.EncodeToString(digest[:])
	record, ok := store.Record(hash)
	if !ok {
		t.Fatalf("expected stored record")
	}
	record.ExpiresAt = time.Now().Add(-time.Minute)
	store.Seed(record)

	rec := httptest.NewRecorder()
	handler.Session(rec, sessionRequest(session.Token))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for expired session, got %d", rec.Code)
	}
	if store.Len() != 0 {
		t.Fatalf("expected expired session to be evicted, have %d", store.Len())
	}
}

func TestSessionStoreFailureYieldsUnauthorized(t *testing.T) {
	store := testsupport.NewSessionStoreStub()
	handler, userID := newStoreBackedHandler(t, store)

	session, err := handler.Sessions.Create(userID)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	store.LookupErr = errors.New("store offline")
	rec := httptest.NewRecorder()
	handler.Session(rec, sessionRequest(session.Token))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 when the session store fails, got %d", rec.Code)
	}
}
