package auth

import (
	"sync"

	"github.com/uznikturbo/service/pkg/protocol"
)

// Store owns the process-wide credential pair. All token reads and
// writes go through a Store; nothing else touches the persistence
// layer directly.
type Store interface {
	// Get returns the current credentials, or ok=false when no
	// session is held.
	Get() (protocol.Credentials, bool)
	// Set replaces the credentials. Called only on successful login
	// or successful refresh.
	Set(creds protocol.Credentials)
	// Clear drops the credentials. Called on logout, account
	// deletion, or irrecoverable refresh failure.
	Clear()
}

// MemStore is an in-memory Store. It is the degraded mode when durable
// storage is unavailable, and the usual Store in tests.
type MemStore struct {
	mu    sync.Mutex
	creds protocol.Credentials
	held  bool
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore { return &MemStore{} }

func (s *MemStore) Get() (protocol.Credentials, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds, s.held
}

func (s *MemStore) Set(creds protocol.Credentials) {
	s.mu.Lock()
	s.creds = creds
	s.held = true
	s.mu.Unlock()
}

func (s *MemStore) Clear() {
	s.mu.Lock()
	s.creds = protocol.Credentials{}
	s.held = false
	s.mu.Unlock()
}
