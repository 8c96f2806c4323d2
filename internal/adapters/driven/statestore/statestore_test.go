//go:build unit

package statestore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/DonutsNL/samlbridge/internal/adapters/driven/metrics"
	"github.com/DonutsNL/samlbridge/internal/core/domain"
)

func TestInMemoryStore_SaveAndLookup(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	state := &domain.LoginState{SessionID: "sess-1", Phase: domain.PhaseInitial}
	if err := store.Save(ctx, state); err != nil {
		t.Fatal(err)
	}
	if state.ID == 0 {
		t.Fatal("save must assign an id")
	}
	if state.CreatedAt.IsZero() || state.UpdatedAt.IsZero() {
		t.Error("timestamps must be set on insert")
	}

	got, err := store.GetBySessionID(ctx, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != state.ID || got.Phase != domain.PhaseInitial {
		t.Errorf("lookup returned %+v", got)
	}

	// Lookups return copies; mutating one must not leak into the store.
	got.Phase = domain.PhaseLocalAuthed
	again, _ := store.GetBySessionID(ctx, "sess-1")
	if again.Phase != domain.PhaseInitial {
		t.Error("lookup must return a copy")
	}

	if _, err := store.GetBySessionID(ctx, "unknown"); !errors.Is(err, domain.ErrStateNotFound) {
		t.Errorf("miss = %v, want ErrStateNotFound", err)
	}
}

func TestInMemoryStore_GetByRequestID(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	state := &domain.LoginState{SessionID: "sess-1", Phase: domain.PhaseSAMLSent, RequestID: "req-1"}
	if err := store.Save(ctx, state); err != nil {
		t.Fatal(err)
	}
	got, err := store.GetByRequestID(ctx, "req-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.SessionID != "sess-1" {
		t.Errorf("lookup returned %+v", got)
	}

	// An empty request id must never match the states that have none.
	blank := &domain.LoginState{SessionID: "sess-2", Phase: domain.PhaseInitial}
	if err := store.Save(ctx, blank); err != nil {
		t.Fatal(err)
	}
	if _, err := store.GetByRequestID(ctx, ""); !errors.Is(err, domain.ErrStateNotFound) {
		t.Errorf("empty request id lookup = %v, want ErrStateNotFound", err)
	}
}

func TestInMemoryStore_Transition(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	state := &domain.LoginState{SessionID: "sess-1", Phase: domain.PhaseInitial}
	if err := store.Save(ctx, state); err != nil {
		t.Fatal(err)
	}

	if err := store.Transition(ctx, state.ID, domain.PhaseInitial, domain.PhaseSAMLSent); err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	err := store.Transition(ctx, state.ID, domain.PhaseInitial, domain.PhaseSAMLSent)
	if !errors.Is(err, domain.ErrPhaseConflict) {
		t.Errorf("second CAS from the same phase = %v, want ErrPhaseConflict", err)
	}
	if err := store.Transition(ctx, 999, domain.PhaseInitial, domain.PhaseSAMLSent); !errors.Is(err, domain.ErrStateNotFound) {
		t.Errorf("unknown state = %v, want ErrStateNotFound", err)
	}
}

func TestInMemoryStore_TransitionWithAssertion(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	state := &domain.LoginState{SessionID: "sess-1", Phase: domain.PhaseSAMLSent, RequestID: "req-1"}
	if err := store.Save(ctx, state); err != nil {
		t.Fatal(err)
	}

	if err := store.TransitionWithAssertion(ctx, state.ID, domain.PhaseSAMLSent, domain.PhaseSAMLAuthed, "a1"); err != nil {
		t.Fatalf("first use failed: %v", err)
	}
	got, _ := store.GetBySessionID(ctx, "sess-1")
	if got.Phase != domain.PhaseSAMLAuthed || got.AssertionID != "a1" {
		t.Errorf("state after transition: %+v", got)
	}

	// The same assertion id is rejected for any state, forever.
	other := &domain.LoginState{SessionID: "sess-2", Phase: domain.PhaseSAMLSent, RequestID: "req-2"}
	if err := store.Save(ctx, other); err != nil {
		t.Fatal(err)
	}
	err := store.TransitionWithAssertion(ctx, other.ID, domain.PhaseSAMLSent, domain.PhaseSAMLAuthed, "a1")
	if !errors.Is(err, domain.ErrAssertionReplayed) {
		t.Errorf("replay = %v, want ErrAssertionReplayed", err)
	}
	// The replay rejection must not touch the other state's phase.
	if s, _ := store.GetBySessionID(ctx, "sess-2"); s.Phase != domain.PhaseSAMLSent {
		t.Errorf("replay mutated the state, phase = %s", s.Phase)
	}
}

func TestInMemoryStore_TransitionWithAssertion_PhaseConflict(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	state := &domain.LoginState{SessionID: "sess-1", Phase: domain.PhaseInitial}
	if err := store.Save(ctx, state); err != nil {
		t.Fatal(err)
	}
	err := store.TransitionWithAssertion(ctx, state.ID, domain.PhaseSAMLSent, domain.PhaseSAMLAuthed, "a1")
	if !errors.Is(err, domain.ErrPhaseConflict) {
		t.Fatalf("wrong phase = %v, want ErrPhaseConflict", err)
	}
	// The phase check failing must not burn the assertion id.
	ok := &domain.LoginState{SessionID: "sess-2", Phase: domain.PhaseSAMLSent}
	if err := store.Save(ctx, ok); err != nil {
		t.Fatal(err)
	}
	if err := store.TransitionWithAssertion(ctx, ok.ID, domain.PhaseSAMLSent, domain.PhaseSAMLAuthed, "a1"); err != nil {
		t.Errorf("assertion id burned by a failed phase check: %v", err)
	}
}

func TestInMemoryStore_TransitionWithAssertion_Concurrent(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	state := &domain.LoginState{SessionID: "sess-1", Phase: domain.PhaseSAMLSent, RequestID: "req-1"}
	if err := store.Save(ctx, state); err != nil {
		t.Fatal(err)
	}

	const callers = 50
	var wg sync.WaitGroup
	results := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- store.TransitionWithAssertion(ctx, state.ID, domain.PhaseSAMLSent, domain.PhaseSAMLAuthed, "a1")
		}()
	}
	wg.Wait()
	close(results)

	var wins int
	for err := range results {
		if err == nil {
			wins++
		} else if !errors.Is(err, domain.ErrAssertionReplayed) && !errors.Is(err, domain.ErrPhaseConflict) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("exactly one caller must win the transition, got %d", wins)
	}
}

func TestInMemoryStore_DeleteIdle(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	stale := &domain.LoginState{SessionID: "stale", Phase: domain.PhaseSAMLSent}
	if err := store.Save(ctx, stale); err != nil {
		t.Fatal(err)
	}
	// Push the record into the past by hand.
	store.mu.Lock()
	store.states[stale.ID].UpdatedAt = time.Now().Add(-2 * time.Hour)
	store.mu.Unlock()

	fresh := &domain.LoginState{SessionID: "fresh", Phase: domain.PhaseInitial}
	if err := store.Save(ctx, fresh); err != nil {
		t.Fatal(err)
	}

	deleted, err := store.DeleteIdle(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
	if _, err := store.GetBySessionID(ctx, "stale"); !errors.Is(err, domain.ErrStateNotFound) {
		t.Error("stale state should be gone")
	}
	if _, err := store.GetBySessionID(ctx, "fresh"); err != nil {
		t.Error("fresh state should survive")
	}
}

func TestSweeper_SweepOnce(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	stale := &domain.LoginState{SessionID: "stale", Phase: domain.PhaseSAMLSent}
	if err := store.Save(ctx, stale); err != nil {
		t.Fatal(err)
	}
	store.mu.Lock()
	store.states[stale.ID].UpdatedAt = time.Now().Add(-2 * time.Hour)
	store.mu.Unlock()

	sweeper := NewSweeper(store, metrics.NewNoopMetricsRecorder(), zap.NewNop(), time.Hour, time.Minute)
	sweeper.SweepOnce(ctx)

	if _, err := store.GetBySessionID(ctx, "stale"); !errors.Is(err, domain.ErrStateNotFound) {
		t.Error("sweep should have deleted the stale state")
	}
}
