// Package memory provides in-process implementations of the payroll
// persistence ports, used by tests and by STORAGE_DRIVER=memory.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/odyssey-erp/payroll/internal/novelties"
)

// NoveltyStore implements novelties.Repository.
type NoveltyStore struct {
	mu    sync.RWMutex
	items map[uuid.UUID]novelties.Novelty
}

// NewNoveltyStore constructs an empty store.
func NewNoveltyStore() *NoveltyStore {
	return &NoveltyStore{items: make(map[uuid.UUID]novelties.Novelty)}
}

// Insert implements novelties.Repository.
func (s *NoveltyStore) Insert(_ context.Context, n novelties.Novelty) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[n.ID] = n
	return nil
}

// Update implements novelties.Repository.
func (s *NoveltyStore) Update(_ context.Context, n novelties.Novelty) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[n.ID]; !ok {
		return novelties.ErrNotFound
	}
	s.items[n.ID] = n
	return nil
}

// Delete implements novelties.Repository.
func (s *NoveltyStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return novelties.ErrNotFound
	}
	delete(s.items, id)
	return nil
}

// Get implements novelties.Repository.
func (s *NoveltyStore) Get(_ context.Context, id uuid.UUID) (novelties.Novelty, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.items[id]
	if !ok {
		return novelties.Novelty{}, novelties.ErrNotFound
	}
	return n, nil
}

// ListByEmployeePeriod implements novelties.Repository.
func (s *NoveltyStore) ListByEmployeePeriod(_ context.Context, employeeID, periodID uuid.UUID) ([]novelties.Novelty, error) {
	return s.filter(func(n novelties.Novelty) bool {
		return n.EmployeeID == employeeID && n.PeriodID == periodID
	}), nil
}

// ListByPeriod implements novelties.Repository.
func (s *NoveltyStore) ListByPeriod(_ context.Context, periodID uuid.UUID) ([]novelties.Novelty, error) {
	return s.filter(func(n novelties.Novelty) bool { return n.PeriodID == periodID }), nil
}

func (s *NoveltyStore) filter(keep func(novelties.Novelty) bool) []novelties.Novelty {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []novelties.Novelty
	for _, n := range s.items {
		if keep(n) {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}
