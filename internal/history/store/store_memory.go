package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"borderhist/internal/history/models"
	"borderhist/pkg/platform/sentinel"
)

// InMemoryStore keeps snapshots and lineage edges in process memory. Default
// store for the CLI and for tests.
type InMemoryStore struct {
	mu       sync.RWMutex
	states   []*models.AdministrativeState
	edges    []models.LineageEdge
	edgeKeys map[string]bool
}

// NewInMemory constructs an empty in-memory history store.
func NewInMemory() *InMemoryStore {
	return &InMemoryStore{edgeKeys: make(map[string]bool)}
}

func (s *InMemoryStore) SaveState(_ context.Context, state *models.AdministrativeState) error {
	if state == nil {
		return fmt.Errorf("state is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.states {
		if existing.ValidFrom.Equal(state.ValidFrom) {
			return fmt.Errorf("state at %s: %w", state.ValidFrom.Format(time.DateOnly), sentinel.ErrConflict)
		}
	}
	s.states = append(s.states, state.Clone())
	sort.Slice(s.states, func(i, j int) bool {
		return s.states[i].ValidFrom.Before(s.states[j].ValidFrom)
	})
	return nil
}

func (s *InMemoryStore) CloseState(_ context.Context, validFrom, validTo time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.states {
		if existing.ValidFrom.Equal(validFrom) {
			to := validTo
			existing.ValidTo = &to
			return nil
		}
	}
	return fmt.Errorf("state at %s: %w", validFrom.Format(time.DateOnly), sentinel.ErrNotFound)
}

func (s *InMemoryStore) ListStates(_ context.Context) ([]*models.AdministrativeState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.AdministrativeState, len(s.states))
	for i, st := range s.states {
		out[i] = st.Clone()
	}
	return out, nil
}

func (s *InMemoryStore) SaveEdges(_ context.Context, edges []models.LineageEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range edges {
		key := edgeKey(e)
		if s.edgeKeys[key] {
			return fmt.Errorf("lineage edge %s -> %s: %w", e.FromUnit, e.ToUnit, sentinel.ErrConflict)
		}
	}
	for _, e := range edges {
		s.edgeKeys[edgeKey(e)] = true
		s.edges = append(s.edges, e)
	}
	return nil
}

func (s *InMemoryStore) ListEdges(_ context.Context) ([]models.LineageEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.LineageEdge, len(s.edges))
	copy(out, s.edges)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func edgeKey(e models.LineageEdge) string {
	return fmt.Sprintf("%s|%s|%s", e.FromUnit, e.ToUnit, e.Date.Format(time.DateOnly))
}
