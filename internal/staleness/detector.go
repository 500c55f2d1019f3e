// Package staleness flags payroll records whose inputs changed after they
// were computed and reconciles them once they settle.
package staleness

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/payroll/internal/ibc"
	jobmetrics "github.com/odyssey-erp/payroll/internal/jobs"
	"github.com/odyssey-erp/payroll/internal/liquidation"
	"github.com/odyssey-erp/payroll/internal/novelties"
)

// RecordStore is the slice of the payroll record repository used here.
type RecordStore interface {
	ListCurrent(ctx context.Context, periodID uuid.UUID) ([]liquidation.Record, error)
	MarkStale(ctx context.Context, periodID, employeeID uuid.UUID, changedAt time.Time) (bool, error)
	FlagStale(ctx context.Context, periodID, employeeID uuid.UUID, since time.Time) error
	ListStale(ctx context.Context, filter liquidation.StaleFilter) ([]liquidation.Record, error)
	ListMissingSnapshot(ctx context.Context, periodID *uuid.UUID) ([]liquidation.Record, error)
	AttachSnapshot(ctx context.Context, recordID uuid.UUID, snap ibc.Snapshot) error
}

// NoveltySource lists the current novelties of an employee.
type NoveltySource interface {
	ListByEmployeePeriod(ctx context.Context, employeeID, periodID uuid.UUID) ([]novelties.Novelty, error)
}

// Scheduler defers a scoped reconciliation. Implementations deduplicate by
// employee and period so rapid edits collapse into one run.
type Scheduler interface {
	ScheduleReconcile(ctx context.Context, periodID, employeeID uuid.UUID, delay time.Duration) error
}

// Detector flags records stale when novelties change.
type Detector struct {
	records   RecordStore
	novelties NoveltySource
	scheduler Scheduler
	grace     time.Duration
	metrics   *jobmetrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewDetector constructs a Detector. scheduler may be nil, in which case
// reconciliation relies on the periodic sweep.
func NewDetector(records RecordStore, source NoveltySource, scheduler Scheduler, grace time.Duration, metrics *jobmetrics.Metrics, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		records:   records,
		novelties: source,
		scheduler: scheduler,
		grace:     grace,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// WithNow overrides the clock for deterministic tests.
func (d *Detector) WithNow(now func() time.Time) {
	if now != nil {
		d.now = now
	}
}

// Name implements novelties.Listener.
func (d *Detector) Name() string { return "staleness" }

// OnNoveltyChanged implements novelties.Listener. Repeated delivery of the
// same event leaves the record flagged once.
func (d *Detector) OnNoveltyChanged(ctx context.Context, event novelties.ChangeEvent) ([]novelties.SideEffect, error) {
	at := event.OccurredAt
	if at.IsZero() {
		at = d.now()
	}
	marked, err := d.records.MarkStale(ctx, event.PeriodID, event.EmployeeID, at)
	if err != nil {
		return nil, fmt.Errorf("staleness: mark employee %s period %s: %w", event.EmployeeID, event.PeriodID, err)
	}
	if !marked {
		return nil, nil
	}
	d.metrics.AddStaleMarked(1)
	d.logger.Info("payroll record marked stale",
		slog.String("period_id", event.PeriodID.String()),
		slog.String("employee_id", event.EmployeeID.String()),
		slog.String("change", string(event.Kind)))
	effects := []novelties.SideEffect{{
		Action:     novelties.ActionRecordMarkedStale,
		EmployeeID: event.EmployeeID,
		PeriodID:   event.PeriodID,
	}}
	if d.scheduler != nil {
		if err := d.scheduler.ScheduleReconcile(ctx, event.PeriodID, event.EmployeeID, d.grace); err != nil {
			return effects, fmt.Errorf("staleness: schedule reconcile: %w", err)
		}
		effects = append(effects, novelties.SideEffect{
			Action:     novelties.ActionReconcileScheduled,
			EmployeeID: event.EmployeeID,
			PeriodID:   event.PeriodID,
		})
	}
	return effects, nil
}

// Scan compares the novelty fingerprint of every current record of a period
// with the novelties stored now and flags the records that drifted. It
// catches changes whose events were lost.
func (d *Detector) Scan(ctx context.Context, periodID uuid.UUID) (int, error) {
	records, err := d.records.ListCurrent(ctx, periodID)
	if err != nil {
		return 0, fmt.Errorf("staleness: list records of %s: %w", periodID, err)
	}
	now := d.now()
	marked := 0
	for _, rec := range records {
		if rec.IsStale {
			continue
		}
		items, err := d.novelties.ListByEmployeePeriod(ctx, rec.EmployeeID, periodID)
		if err != nil {
			return marked, fmt.Errorf("staleness: list novelties of %s: %w", rec.EmployeeID, err)
		}
		if liquidation.NoveltyFingerprint(items) == rec.NoveltyFingerprint {
			continue
		}
		ok, err := d.records.MarkStale(ctx, periodID, rec.EmployeeID, now)
		if err != nil {
			return marked, err
		}
		if ok {
			marked++
		}
	}
	d.metrics.AddStaleMarked(marked)
	if marked > 0 {
		d.logger.Info("payroll fingerprint scan flagged records",
			slog.String("period_id", periodID.String()),
			slog.Int("marked", marked))
	}
	return marked, nil
}
