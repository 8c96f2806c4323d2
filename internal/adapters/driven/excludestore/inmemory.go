package excludestore

import (
	"context"
	"sync"

	"github.com/DonutsNL/samlbridge/internal/core/domain"
)

// InMemoryStore is an exclusion rule store for tests.
type InMemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	rules  domain.ExcludeList
}

// NewInMemoryStore creates an empty in-memory exclusion rule store.
func NewInMemoryStore(rules ...domain.ExcludeRule) *InMemoryStore {
	s := &InMemoryStore{}
	for i := range rules {
		_ = s.Save(context.Background(), &rules[i])
	}
	return s
}

func (s *InMemoryStore) List(_ context.Context) (domain.ExcludeList, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(domain.ExcludeList, len(s.rules))
	copy(out, s.rules)
	return out, nil
}

func (s *InMemoryStore) Save(_ context.Context, rule *domain.ExcludeRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rule.ID == 0 {
		s.nextID++
		rule.ID = s.nextID
		s.rules = append(s.rules, *rule)
		return nil
	}
	for i := range s.rules {
		if s.rules[i].ID == rule.ID {
			s.rules[i] = *rule
			return nil
		}
	}
	s.rules = append(s.rules, *rule)
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rules {
		if s.rules[i].ID == id {
			s.rules = append(s.rules[:i], s.rules[i+1:]...)
			return nil
		}
	}
	return nil
}
