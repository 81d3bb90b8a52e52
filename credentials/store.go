package credentials

import (
	"context"
	"errors"
	"sync"
)

// ErrNoSession is returned by Load when nothing is stored.
var ErrNoSession = errors.New("no session stored")

// Store is where bearer-mode credentials live between requests. Load must be
// cheap; it runs before every send.
type Store interface {
	Load(ctx context.Context) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Clear(ctx context.Context) error
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu      sync.RWMutex
	session *Session
}

// NewMemoryStore returns a MemoryStore holding initial, which may be nil.
func NewMemoryStore(initial *Session) *MemoryStore {
	return &MemoryStore{session: initial.Clone()}
}

func (m *MemoryStore) Load(context.Context) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return nil, ErrNoSession
	}
	return m.session.Clone(), nil
}

func (m *MemoryStore) Save(_ context.Context, s *Session) error {
	if s == nil || s.AccessToken == "" {
		return ErrEmptySession
	}
	m.mu.Lock()
	m.session = s.Clone()
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Clear(context.Context) error {
	m.mu.Lock()
	m.session = nil
	m.mu.Unlock()
	return nil
}
