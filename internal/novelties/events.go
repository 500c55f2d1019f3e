package novelties

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ChangeKind classifies a novelty mutation.
type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
	ChangeDeleted ChangeKind = "deleted"
)

// ChangeEvent is broadcast after a novelty mutation commits.
type ChangeEvent struct {
	Kind       ChangeKind
	NoveltyID  uuid.UUID
	EmployeeID uuid.UUID
	PeriodID   uuid.UUID
	CompanyID  uuid.UUID
	OccurredAt time.Time
}

// SideEffect describes what a listener did in response to an event.
type SideEffect struct {
	Listener   string
	Action     string
	EmployeeID uuid.UUID
	PeriodID   uuid.UUID
}

// Side-effect actions emitted by the bundled listeners.
const (
	ActionTotalsInvalidated  = "totals_invalidated"
	ActionRecordMarkedStale  = "record_marked_stale"
	ActionReconcileScheduled = "reconcile_scheduled"
	ActionPeriodTouched      = "period_touched"
)

// Listener reacts to novelty changes. Implementations must be idempotent.
type Listener interface {
	Name() string
	OnNoveltyChanged(ctx context.Context, event ChangeEvent) ([]SideEffect, error)
}

// ListenerFunc adapts a function into a Listener.
type ListenerFunc struct {
	ID string
	Fn func(ctx context.Context, event ChangeEvent) ([]SideEffect, error)
}

// Name implements Listener.
func (f ListenerFunc) Name() string { return f.ID }

// OnNoveltyChanged implements Listener.
func (f ListenerFunc) OnNoveltyChanged(ctx context.Context, event ChangeEvent) ([]SideEffect, error) {
	return f.Fn(ctx, event)
}

// Dispatcher fans events out to every subscribed listener concurrently.
type Dispatcher struct {
	mu        sync.RWMutex
	listeners []Listener
}

// NewDispatcher constructs a Dispatcher with optional initial listeners.
func NewDispatcher(listeners ...Listener) *Dispatcher {
	return &Dispatcher{listeners: listeners}
}

// Subscribe registers an additional listener.
func (d *Dispatcher) Subscribe(l Listener) {
	if l == nil {
		return
	}
	d.mu.Lock()
	d.listeners = append(d.listeners, l)
	d.mu.Unlock()
}

// Publish delivers event to all listeners and returns the union of their side
// effects. A failing listener does not prevent the others from running; all
// failures are joined into the returned error.
func (d *Dispatcher) Publish(ctx context.Context, event ChangeEvent) ([]SideEffect, error) {
	if d == nil {
		return nil, nil
	}
	d.mu.RLock()
	listeners := append([]Listener(nil), d.listeners...)
	d.mu.RUnlock()

	type delivery struct {
		effects []SideEffect
		err     error
	}
	results := make([]delivery, len(listeners))
	var wg sync.WaitGroup
	for i, l := range listeners {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := l.OnNoveltyChanged(ctx, event)
			for j := range out {
				if out[j].Listener == "" {
					out[j].Listener = l.Name()
				}
			}
			results[i] = delivery{effects: out}
			if err != nil {
				results[i].err = &ListenerError{Listener: l.Name(), Err: err}
			}
		}()
	}
	wg.Wait()

	var (
		effects []SideEffect
		errs    []error
	)
	for _, r := range results {
		effects = append(effects, r.effects...)
		if r.err != nil {
			errs = append(errs, r.err)
		}
	}
	return effects, errors.Join(errs...)
}

// ListenerError wraps a failure from a single listener.
type ListenerError struct {
	Listener string
	Err      error
}

func (e *ListenerError) Error() string {
	return "novelties: listener " + e.Listener + ": " + e.Err.Error()
}

func (e *ListenerError) Unwrap() error { return e.Err }
