package pvpchess

import (
	"context"
	"sync"

	"github.com/park285/cheese-arena/internal/domain"
)

// MemoryRepository is a development-only Repository used when no database is configured.
type MemoryRepository struct {
	mu       sync.RWMutex
	profiles map[string]domain.Profile
	results  map[string]domain.Result
	saves    int
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		profiles: make(map[string]domain.Profile),
		results:  make(map[string]domain.Result),
	}
}

func (m *MemoryRepository) GetProfile(_ context.Context, playerID string) (*domain.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[playerID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *MemoryRepository) SaveProfiles(_ context.Context, profiles ...*domain.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range profiles {
		if p != nil {
			m.profiles[p.PlayerID] = *p
		}
	}
	return nil
}

func (m *MemoryRepository) SaveResult(_ context.Context, r *domain.Result) error {
	if r == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[r.SessionID] = *r
	m.saves++
	return nil
}

// Result returns the archived result for a session.
func (m *MemoryRepository) Result(sessionID string) (*domain.Result, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.results[sessionID]
	if !ok {
		return nil, false
	}
	return &r, true
}

// ResultWrites counts SaveResult calls, including overwrites.
func (m *MemoryRepository) ResultWrites() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}

func (m *MemoryRepository) Close() error { return nil }
