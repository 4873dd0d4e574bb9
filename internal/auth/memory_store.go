package auth

import (
	"sync"
	"time"
)

// MemorySessionStore keeps sessions in process memory. Suitable for
// single-node deployments; sessions do not survive a restart.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]SessionRecord
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]SessionRecord)}
}

func (s *MemorySessionStore) Save(record SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[record.TokenHash] = record
	return nil
}

func (s *MemorySessionStore) Lookup(tokenHash string) (SessionRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.sessions[tokenHash]
	return record, ok, nil
}

func (s *MemorySessionStore) Delete(tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, tokenHash)
	return nil
}

func (s *MemorySessionStore) PurgeExpired(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for hash, record := range s.sessions {
		if now.After(record.ExpiresAt) {
			delete(s.sessions, hash)
		}
	}
	return nil
}
