package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/payroll/internal/employees"
	"github.com/odyssey-erp/payroll/internal/shared"
)

// Directory implements employees.Directory over a fixed set of snapshots.
type Directory struct {
	mu        sync.RWMutex
	snapshots map[uuid.UUID]employees.Snapshot
}

// NewDirectory seeds a directory.
func NewDirectory(snapshots ...employees.Snapshot) *Directory {
	d := &Directory{snapshots: make(map[uuid.UUID]employees.Snapshot)}
	for _, s := range snapshots {
		d.snapshots[s.ID] = s
	}
	return d
}

// Put adds or replaces a snapshot.
func (d *Directory) Put(s employees.Snapshot) {
	d.mu.Lock()
	d.snapshots[s.ID] = s
	d.mu.Unlock()
}

// GetSnapshot implements employees.Directory.
func (d *Directory) GetSnapshot(_ context.Context, id uuid.UUID) (employees.Snapshot, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.snapshots[id]
	if !ok {
		return employees.Snapshot{}, fmt.Errorf("employees: %s: %w", id, shared.ErrNotFound)
	}
	return s, nil
}

// ListActive implements employees.Directory.
func (d *Directory) ListActive(_ context.Context, companyID uuid.UUID, start, end time.Time) ([]employees.Snapshot, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []employees.Snapshot
	for _, s := range d.snapshots {
		if s.CompanyID == companyID && s.ActiveDuring(start, end) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}
