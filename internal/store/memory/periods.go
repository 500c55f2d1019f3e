package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/payroll/internal/periods"
)

// PeriodStore implements periods.Repository, including the single editable
// period per company constraint.
type PeriodStore struct {
	mu    sync.RWMutex
	items map[uuid.UUID]periods.Period
}

// NewPeriodStore constructs an empty store.
func NewPeriodStore() *PeriodStore {
	return &PeriodStore{items: make(map[uuid.UUID]periods.Period)}
}

// Insert implements periods.Repository.
func (s *PeriodStore) Insert(_ context.Context, p periods.Period) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.editableConflict(p) {
		return periods.ErrEditableConflict
	}
	s.items[p.ID] = p
	return nil
}

// Save implements periods.Repository.
func (s *PeriodStore) Save(_ context.Context, p periods.Period) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[p.ID]; !ok {
		return periods.ErrNotFound
	}
	if s.editableConflict(p) {
		return periods.ErrEditableConflict
	}
	s.items[p.ID] = p
	return nil
}

func (s *PeriodStore) editableConflict(p periods.Period) bool {
	if !p.Editable() {
		return false
	}
	for _, other := range s.items {
		if other.ID != p.ID && other.CompanyID == p.CompanyID && other.Editable() {
			return true
		}
	}
	return false
}

// Get implements periods.Repository.
func (s *PeriodStore) Get(_ context.Context, id uuid.UUID) (periods.Period, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.items[id]
	if !ok {
		return periods.Period{}, periods.ErrNotFound
	}
	return p, nil
}

// List implements periods.Repository.
func (s *PeriodStore) List(_ context.Context, companyID uuid.UUID) ([]periods.Period, error) {
	s.mu.RLock()
	var out []periods.Period
	for _, p := range s.items {
		if p.CompanyID == companyID {
			out = append(out, p)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.After(out[j].StartDate) })
	return out, nil
}

// FindEditable implements periods.Repository.
func (s *PeriodStore) FindEditable(_ context.Context, companyID uuid.UUID) (periods.Period, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.items {
		if p.CompanyID == companyID && p.Editable() {
			return p, true, nil
		}
	}
	return periods.Period{}, false, nil
}

// ListEditable implements periods.Repository.
func (s *PeriodStore) ListEditable(_ context.Context) ([]periods.Period, error) {
	s.mu.RLock()
	var out []periods.Period
	for _, p := range s.items {
		if p.Editable() {
			out = append(out, p)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CompanyID.String() < out[j].CompanyID.String() })
	return out, nil
}

// Overlapping implements periods.Repository.
func (s *PeriodStore) Overlapping(_ context.Context, companyID uuid.UUID, start, end time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.items {
		if p.CompanyID != companyID || p.Status == periods.StatusCancelled {
			continue
		}
		if !p.StartDate.After(end) && !p.EndDate.Before(start) {
			return true, nil
		}
	}
	return false, nil
}

// Touch implements periods.Repository.
func (s *PeriodStore) Touch(_ context.Context, id uuid.UUID, at time.Time, employeeCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.items[id]
	if !ok {
		return periods.ErrNotFound
	}
	p.LastActivityAt = &at
	if employeeCount >= 0 {
		p.EmployeeCount = employeeCount
	}
	s.items[id] = p
	return nil
}
