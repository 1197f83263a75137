package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const defaultSessionTTL = 10 * time.Minute

// MemoryAuthorizationSessionStore keeps in-flight PKCE sessions in process memory.
type MemoryAuthorizationSessionStore struct {
	mu      sync.Mutex
	entries map[string]AuthorizationSession
}

func NewMemoryAuthorizationSessionStore() *MemoryAuthorizationSessionStore {
	return &MemoryAuthorizationSessionStore{
		entries: map[string]AuthorizationSession{},
	}
}

func (s *MemoryAuthorizationSessionStore) Save(_ context.Context, session AuthorizationSession) error {
	if s == nil {
		return fmt.Errorf("core: authorization session store is not configured")
	}
	state := strings.TrimSpace(session.State)
	if state == "" {
		return fmt.Errorf("core: authorization state is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[state]; exists {
		return fmt.Errorf("core: authorization state already in use")
	}
	s.entries[state] = session
	return nil
}

func (s *MemoryAuthorizationSessionStore) Get(_ context.Context, state string) (AuthorizationSession, error) {
	if s == nil {
		return AuthorizationSession{}, fmt.Errorf("core: authorization session store is not configured")
	}
	s.mu.Lock()
	session, ok := s.entries[strings.TrimSpace(state)]
	s.mu.Unlock()
	if !ok {
		return AuthorizationSession{}, ErrSessionNotFound
	}
	return session, nil
}

func (s *MemoryAuthorizationSessionStore) Delete(_ context.Context, state string) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	delete(s.entries, strings.TrimSpace(state))
	s.mu.Unlock()
	return nil
}

func (s *MemoryAuthorizationSessionStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	if s == nil {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for state, session := range s.entries {
		if session.ExpiredAt(now) {
			delete(s.entries, state)
			removed++
		}
	}
	return removed, nil
}

var _ AuthorizationSessionStore = (*MemoryAuthorizationSessionStore)(nil)
