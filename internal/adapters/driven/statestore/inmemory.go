package statestore

import (
	"context"
	"sync"
	"time"

	"github.com/DonutsNL/samlbridge/internal/core/domain"
)

// InMemoryStore is a login state store for tests and single-process
// deployments. One mutex covers both the states and the used-assertion
// set, which makes TransitionWithAssertion atomic by construction.
type InMemoryStore struct {
	mu             sync.Mutex
	nextID         int64
	states         map[int64]*domain.LoginState
	usedAssertions map[string]struct{}
}

// NewInMemoryStore creates an empty in-memory login state store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		states:         make(map[int64]*domain.LoginState),
		usedAssertions: make(map[string]struct{}),
	}
}

func (s *InMemoryStore) GetBySessionID(_ context.Context, sessionID string) (*domain.LoginState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, state := range s.states {
		if state.SessionID == sessionID {
			copied := *state
			return &copied, nil
		}
	}
	return nil, domain.ErrStateNotFound
}

func (s *InMemoryStore) GetByRequestID(_ context.Context, requestID string) (*domain.LoginState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, state := range s.states {
		if state.RequestID == requestID && requestID != "" {
			copied := *state
			return &copied, nil
		}
	}
	return nil, domain.ErrStateNotFound
}

func (s *InMemoryStore) Save(_ context.Context, state *domain.LoginState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	state.UpdatedAt = now
	if state.ID == 0 {
		s.nextID++
		state.ID = s.nextID
		state.CreatedAt = now
	}
	copied := *state
	s.states[state.ID] = &copied
	return nil
}

func (s *InMemoryStore) Transition(_ context.Context, stateID int64, from, to domain.Phase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[stateID]
	if !ok {
		return domain.ErrStateNotFound
	}
	if state.Phase != from {
		return domain.ErrPhaseConflict
	}
	state.Phase = to
	state.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryStore) TransitionWithAssertion(_ context.Context, stateID int64, from, to domain.Phase, assertionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, used := s.usedAssertions[assertionID]; used {
		return domain.ErrAssertionReplayed
	}
	state, ok := s.states[stateID]
	if !ok {
		return domain.ErrStateNotFound
	}
	if state.Phase != from {
		return domain.ErrPhaseConflict
	}
	// Record the assertion before the caller's validation runs; once
	// burned, the id stays burned even if that validation fails.
	s.usedAssertions[assertionID] = struct{}{}
	state.Phase = to
	state.AssertionID = assertionID
	state.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryStore) DeleteIdle(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for id, state := range s.states {
		if state.UpdatedAt.Before(cutoff) {
			delete(s.states, id)
			deleted++
		}
	}
	return deleted, nil
}
