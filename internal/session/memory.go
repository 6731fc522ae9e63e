package session

import (
	"context"
	"sync"
	"time"

	"github.com/SHANKHAN254/fys-investment-bot/internal/domain"
)

// MemoryStore holds sessions for the life of the process. A zero ttl never expires.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
	ttl      time.Duration
	now      func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*domain.Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

func (m *MemoryStore) Get(ctx context.Context, ownerID string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[ownerID]
	if !ok {
		return nil, ErrNotFound
	}
	if m.ttl > 0 && m.now().Sub(s.UpdatedAt) > m.ttl {
		delete(m.sessions, ownerID)
		return nil, ErrNotFound
	}
	return clone(s), nil
}

func (m *MemoryStore) Save(ctx context.Context, s *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.OwnerID] = clone(s)
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, ownerID)
	return nil
}
