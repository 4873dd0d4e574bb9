// Package testsupport holds in-process fakes shared by tests in several
// packages.
package testsupport

import (
	"context"
	"sync"
	"time"

	"lanstream/internal/auth"
)

// SessionStoreStub is an in-memory auth.SessionStore for tests. It allows
// seeding records with custom expirations, inspecting stored hashes, and
// injecting failures to exercise error paths.
type SessionStoreStub struct {
	mu       sync.RWMutex
	sessions map[string]auth.SessionRecord

	// SaveErr, LookupErr, and DeleteErr are returned verbatim by the
	// corresponding methods when set.
	SaveErr   error
	LookupErr error
	DeleteErr error
}

// NewSessionStoreStub constructs a SessionStoreStub with empty state.
func NewSessionStoreStub() *SessionStoreStub {
	return &SessionStoreStub{sessions: make(map[string]auth.SessionRecord)}
}

// Save records the session under its token hash.
func (s *SessionStoreStub) Save(record auth.SessionRecord) error {
	if s.SaveErr != nil {
		return s.SaveErr
	}
	s.mu.Lock()
	s.sessions[record.TokenHash] = record
	s.mu.Unlock()
	return nil
}

// Lookup retrieves the session record for the provided token hash.
func (s *SessionStoreStub) Lookup(tokenHash string) (auth.SessionRecord, bool, error) {
	if s.LookupErr != nil {
		return auth.SessionRecord{}, false, s.LookupErr
	}
	s.mu.RLock()
	record, ok := s.sessions[tokenHash]
	s.mu.RUnlock()
	return record, ok, nil
}

// Delete removes the session from the store.
func (s *SessionStoreStub) Delete(tokenHash string) error {
	if s.DeleteErr != nil {
		return s.DeleteErr
	}
	s.mu.Lock()
	delete(s.sessions, tokenHash)
	s.mu.Unlock()
	return nil
}

// PurgeExpired removes sessions that have passed their expiration.
func (s *SessionStoreStub) PurgeExpired(now time.Time) error {
	s.mu.Lock()
	for hash, record := range s.sessions {
		if now.After(record.ExpiresAt) {
			delete(s.sessions, hash)
		}
	}
	s.mu.Unlock()
	return nil
}

// Seed inserts a record with the provided values, overriding any existing
// entry with the same token hash.
func (s *SessionStoreStub) Seed(record auth.SessionRecord) {
	s.mu.Lock()
	s.sessions[record.TokenHash] = record
	s.mu.Unlock()
}

// Record looks up a token hash and returns the stored record when present.
func (s *SessionStoreStub) Record(tokenHash string) (auth.SessionRecord, bool) {
	s.mu.RLock()
	record, ok := s.sessions[tokenHash]
	s.mu.RUnlock()
	return record, ok
}

// Len reports how many sessions the stub currently holds.
func (s *SessionStoreStub) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Ping reports success for compatibility with session health checks.
func (s *SessionStoreStub) Ping(context.Context) error { return nil }
