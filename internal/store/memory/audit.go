package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/odyssey-erp/payroll/internal/audit"
)

// AuditStore implements audit.Repository.
type AuditStore struct {
	mu      sync.RWMutex
	entries []audit.Entry
}

// NewAuditStore constructs an empty store.
func NewAuditStore() *AuditStore {
	return &AuditStore{}
}

// Append implements audit.Repository.
func (s *AuditStore) Append(_ context.Context, e audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

// List implements audit.Repository, newest first.
func (s *AuditStore) List(_ context.Context, q audit.Query) ([]audit.Entry, error) {
	s.mu.RLock()
	var matched []audit.Entry
	for _, e := range s.entries {
		if q.PeriodID != nil && e.PeriodID != *q.PeriodID {
			continue
		}
		if !q.From.IsZero() && e.OccurredAt.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && e.OccurredAt.After(q.To) {
			continue
		}
		if q.Actor != "" && e.Actor != q.Actor {
			continue
		}
		if q.Action != "" && string(e.Action) != q.Action {
			continue
		}
		matched = append(matched, e)
	}
	s.mu.RUnlock()
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].OccurredAt.After(matched[j].OccurredAt) })
	if q.Offset >= len(matched) {
		return nil, nil
	}
	matched = matched[q.Offset:]
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

// Entries returns a copy of every stored entry in insertion order.
func (s *AuditStore) Entries() []audit.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.Entry(nil), s.entries...)
}
