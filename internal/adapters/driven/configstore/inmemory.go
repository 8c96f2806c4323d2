package configstore

import (
	"context"
	"sync"

	"github.com/DonutsNL/samlbridge/internal/core/domain"
)

// InMemoryStore holds configurations as raw field maps, mirroring the SQL
// store's behavior of re-validating on every load.
type InMemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	rows   map[int64]map[string]string
}

// NewInMemoryStore creates an empty in-memory configuration store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{rows: make(map[int64]map[string]string)}
}

func (s *InMemoryStore) GetByID(_ context.Context, id int64) (*domain.IdPConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.rows[id]
	if !ok {
		return nil, domain.IdPNotFoundError(id)
	}
	return domain.LoadIdPConfig(id, cloneRaw(raw)), nil
}

func (s *InMemoryStore) List(_ context.Context) ([]*domain.IdPConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	configs := make([]*domain.IdPConfig, 0, len(s.rows))
	for id := int64(1); id <= s.nextID; id++ {
		if raw, ok := s.rows[id]; ok {
			configs = append(configs, domain.LoadIdPConfig(id, cloneRaw(raw)))
		}
	}
	return configs, nil
}

func (s *InMemoryStore) Save(_ context.Context, id int64, raw map[string]string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == 0 {
		s.nextID++
		id = s.nextID
	} else if id > s.nextID {
		s.nextID = id
	}
	s.rows[id] = cloneRaw(raw)
	return id, nil
}

func (s *InMemoryStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, id)
	return nil
}

func cloneRaw(raw map[string]string) map[string]string {
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		out[k] = v
	}
	return out
}
