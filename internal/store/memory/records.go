package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/payroll/internal/ibc"
	"github.com/odyssey-erp/payroll/internal/liquidation"
)

type recordKey struct {
	period   uuid.UUID
	employee uuid.UUID
}

// RecordStore implements liquidation.Repository. Each key holds every
// version in ascending order; the last one is current.
type RecordStore struct {
	mu       sync.RWMutex
	versions map[recordKey][]liquidation.Record
}

// NewRecordStore constructs an empty store.
func NewRecordStore() *RecordStore {
	return &RecordStore{versions: make(map[recordKey][]liquidation.Record)}
}

// Append implements liquidation.Repository.
func (s *RecordStore) Append(_ context.Context, rec liquidation.Record) (liquidation.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := recordKey{period: rec.PeriodID, employee: rec.EmployeeID}
	rec.Version = len(s.versions[k]) + 1
	s.versions[k] = append(s.versions[k], rec)
	return rec, nil
}

// Put stores rec verbatim as the current version. Tests use it to seed legacy rows.
func (s *RecordStore) Put(rec liquidation.Record) liquidation.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := recordKey{period: rec.PeriodID, employee: rec.EmployeeID}
	if rec.Version == 0 {
		rec.Version = len(s.versions[k]) + 1
	}
	s.versions[k] = append(s.versions[k], rec)
	return rec
}

// Current implements liquidation.Repository.
func (s *RecordStore) Current(_ context.Context, periodID, employeeID uuid.UUID) (liquidation.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vs := s.versions[recordKey{period: periodID, employee: employeeID}]
	if len(vs) == 0 {
		return liquidation.Record{}, liquidation.ErrNotFound
	}
	return vs[len(vs)-1], nil
}

// ListCurrent implements liquidation.Repository.
func (s *RecordStore) ListCurrent(_ context.Context, periodID uuid.UUID) ([]liquidation.Record, error) {
	return s.current(func(r liquidation.Record) bool { return r.PeriodID == periodID }), nil
}

// History implements liquidation.Repository.
func (s *RecordStore) History(_ context.Context, periodID, employeeID uuid.UUID) ([]liquidation.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vs := s.versions[recordKey{period: periodID, employee: employeeID}]
	return append([]liquidation.Record(nil), vs...), nil
}

// CountByPeriod implements liquidation.Repository.
func (s *RecordStore) CountByPeriod(_ context.Context, periodID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for k, vs := range s.versions {
		if k.period == periodID {
			n += len(vs)
		}
	}
	return n, nil
}

// MarkStale implements liquidation.Repository.
func (s *RecordStore) MarkStale(_ context.Context, periodID, employeeID uuid.UUID, changedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	vs := s.versions[recordKey{period: periodID, employee: employeeID}]
	if len(vs) == 0 {
		return false, nil
	}
	cur := &vs[len(vs)-1]
	if cur.IsStale || !cur.ComputedAt.Before(changedAt) {
		return false, nil
	}
	since := changedAt
	cur.IsStale = true
	cur.StaleSince = &since
	return true, nil
}

// FlagStale implements liquidation.Repository.
func (s *RecordStore) FlagStale(_ context.Context, periodID, employeeID uuid.UUID, since time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	vs := s.versions[recordKey{period: periodID, employee: employeeID}]
	if len(vs) == 0 {
		return liquidation.ErrNotFound
	}
	cur := &vs[len(vs)-1]
	cur.IsStale = true
	cur.StaleSince = &since
	return nil
}

// ListStale implements liquidation.Repository.
func (s *RecordStore) ListStale(_ context.Context, filter liquidation.StaleFilter) ([]liquidation.Record, error) {
	return s.current(func(r liquidation.Record) bool {
		if !r.IsStale || r.StaleSince == nil || r.StaleSince.After(filter.StaleBefore) {
			return false
		}
		return filter.PeriodID == nil || *filter.PeriodID == r.PeriodID
	}), nil
}

// ListMissingSnapshot implements liquidation.Repository.
func (s *RecordStore) ListMissingSnapshot(_ context.Context, periodID *uuid.UUID) ([]liquidation.Record, error) {
	return s.current(func(r liquidation.Record) bool {
		if r.Snapshot != nil || r.Failed() {
			return false
		}
		return periodID == nil || *periodID == r.PeriodID
	}), nil
}

// AttachSnapshot implements liquidation.Repository.
func (s *RecordStore) AttachSnapshot(_ context.Context, recordID uuid.UUID, snap ibc.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, vs := range s.versions {
		for i := range vs {
			if vs[i].ID != recordID {
				continue
			}
			if vs[i].Snapshot != nil {
				return fmt.Errorf("liquidation: record %s already has a snapshot", recordID)
			}
			cp := snap
			vs[i].Snapshot = &cp
			s.versions[k] = vs
			return nil
		}
	}
	return fmt.Errorf("liquidation: record %s: %w", recordID, liquidation.ErrNotFound)
}

func (s *RecordStore) current(keep func(liquidation.Record) bool) []liquidation.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []liquidation.Record
	for _, vs := range s.versions {
		if len(vs) == 0 {
			continue
		}
		if cur := vs[len(vs)-1]; keep(cur) {
			out = append(out, cur)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PeriodID != out[j].PeriodID {
			return out[i].PeriodID.String() < out[j].PeriodID.String()
		}
		return out[i].EmployeeID.String() < out[j].EmployeeID.String()
	})
	return out
}
