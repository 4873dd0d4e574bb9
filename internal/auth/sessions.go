// Package auth issues and validates the bearer session tokens the API
// layer authenticates requests with. Tokens are stored hashed so a
// leaked session store does not leak usable credentials.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// ErrUserRequired is returned when creating a session without a user id.
var ErrUserRequired = errors.New("auth: user id is required")

// Session is what a successful validation hands back to the caller.
type Session struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
}

// SessionRecord is the stored shape of a session. TokenHash is the
// SHA-256 digest of the raw token; the raw token never reaches a store.
type SessionRecord struct {
	TokenHash string
	UserID    string
	ExpiresAt time.Time
	IssuedAt  time.Time
}

// SessionStore persists session records keyed by token hash.
type SessionStore interface {
	Save(record SessionRecord) error
	Lookup(tokenHash string) (SessionRecord, bool, error)
	Delete(tokenHash string) error
	PurgeExpired(now time.Time) error
}

// Manager mints, validates, and revokes sessions against a backing
// store. The zero value is not usable; construct with NewManager.
type Manager struct {
	store       SessionStore
	ttl         time.Duration
	idleTimeout time.Duration
	tokenLength int
	now         func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithStore selects the backing store; defaults to in-memory.
func WithStore(store SessionStore) ManagerOption {
	return func(m *Manager) {
		if store != nil {
			m.store = store
		}
	}
}

// WithIdleTimeout caps how long a session survives without activity.
// Validation slides the expiry forward, never past the absolute TTL.
func WithIdleTimeout(timeout time.Duration) ManagerOption {
	return func(m *Manager) {
		if timeout > 0 {
			m.idleTimeout = timeout
		}
	}
}

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func NewManager(ttl time.Duration, opts ...ManagerOption) *Manager {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	m := &Manager{
		ttl:         ttl,
		tokenLength: 32,
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	if m.store == nil {
		m.store = NewMemorySessionStore()
	}
	return m
}

// Create issues a fresh session for the user and returns the raw token
// exactly once; only its hash is persisted.
func (m *Manager) Create(userID string) (Session, error) {
	if userID == "" {
		return Session{}, ErrUserRequired
	}
	token, err := randomToken(m.tokenLength)
	if err != nil {
		return Session{}, err
	}
	now := m.now().UTC()
	expiresAt := now.Add(m.ttl)
	if m.idleTimeout > 0 && now.Add(m.idleTimeout).Before(expiresAt) {
		expiresAt = now.Add(m.idleTimeout)
	}
	record := SessionRecord{
		TokenHash: hashToken(token),
		UserID:    userID,
		ExpiresAt: expiresAt,
		IssuedAt:  now,
	}
	if err := m.store.Save(record); err != nil {
		return Session{}, err
	}
	return Session{Token: token, UserID: userID, ExpiresAt: expiresAt}, nil
}

// Validate resolves a raw token to its session, deleting it when
// expired. When an idle timeout is configured, activity slides the
// expiry forward up to IssuedAt + TTL.
func (m *Manager) Validate(token string) (Session, bool, error) {
	if token == "" {
		return Session{}, false, nil
	}
	hash := hashToken(token)
	record, ok, err := m.store.Lookup(hash)
	if err != nil {
		return Session{}, false, err
	}
	if !ok {
		return Session{}, false, nil
	}
	now := m.now().UTC()
	absolute := record.IssuedAt.Add(m.ttl)
	if now.After(record.ExpiresAt) || now.After(absolute) {
		_ = m.store.Delete(hash)
		return Session{}, false, nil
	}
	expiresAt := record.ExpiresAt
	if m.idleTimeout > 0 {
		refreshed := now.Add(m.idleTimeout)
		if refreshed.After(absolute) {
			refreshed = absolute
		}
		if refreshed.After(expiresAt) {
			record.ExpiresAt = refreshed
			if err := m.store.Save(record); err != nil {
				return Session{}, false, err
			}
			expiresAt = refreshed
		}
	}
	return Session{Token: token, UserID: record.UserID, ExpiresAt: expiresAt}, true, nil
}

// Revoke deletes the session for the raw token. Revoking an unknown
// token is a no-op.
func (m *Manager) Revoke(token string) error {
	if token == "" {
		return nil
	}
	return m.store.Delete(hashToken(token))
}

// PurgeExpired removes sessions past their expiry from the store.
func (m *Manager) PurgeExpired() error {
	return m.store.PurgeExpired(m.now().UTC())
}

// Ping probes the backing store when it supports health checks.
func (m *Manager) Ping(ctx context.Context) error {
	if m == nil || m.store == nil {
		return nil
	}
	if pinger, ok := m.store.(interface{ Ping(context.Context) error }); ok {
		return pinger.Ping(ctx)
	}
	return nil
}

func hashToken(token string) string {
	digest := sha256.Sum256([]byte(token))
	return hex.EncodeToString(digest[:])
}

func randomToken(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
