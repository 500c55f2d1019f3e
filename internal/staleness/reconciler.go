package staleness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/payroll/internal/audit"
	"github.com/odyssey-erp/payroll/internal/companyconfig"
	"github.com/odyssey-erp/payroll/internal/employees"
	"github.com/odyssey-erp/payroll/internal/ibc"
	jobmetrics "github.com/odyssey-erp/payroll/internal/jobs"
	"github.com/odyssey-erp/payroll/internal/liquidation"
	"github.com/odyssey-erp/payroll/internal/shared"
)

// Reconciliation triggers recorded on audit entries.
const (
	TriggerScheduled = "scheduled"
	TriggerDebounced = "debounced"
	TriggerManual    = "manual"
)

// Recomputer runs a scoped recomputation of one employee.
type Recomputer interface {
	ComputeEmployee(ctx context.Context, periodID, employeeID uuid.UUID, opts liquidation.Options) (liquidation.Outcome, error)
}

// PeriodGuard resolves the period a record belongs to.
type PeriodGuard interface {
	Scope(ctx context.Context, periodID uuid.UUID) (shared.PeriodScope, error)
}

// EditableLister lists the periods still admitting writes.
type EditableLister interface {
	EditableScopes(ctx context.Context) ([]shared.PeriodScope, error)
}

// AuditRecorder appends reconciliation audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, e audit.Entry) (audit.Entry, error)
}

// Deps bundles the collaborators of Reconciler.
type Deps struct {
	Records    RecordStore
	Recomputer Recomputer
	Periods    PeriodGuard
	Editable   EditableLister
	Novelties  NoveltySource
	Directory  employees.Directory
	Configs    companyconfig.Provider
	Audit      AuditRecorder
	Detector   *Detector
	Grace      time.Duration
	Metrics    *jobmetrics.Metrics
	Logger     *slog.Logger
}

// Reconciler recomputes records that have been stale longer than the grace interval.
type Reconciler struct {
	records    RecordStore
	recomputer Recomputer
	periods    PeriodGuard
	editable   EditableLister
	novelties  NoveltySource
	directory  employees.Directory
	configs    companyconfig.Provider
	audit      AuditRecorder
	detector   *Detector
	grace      time.Duration
	metrics    *jobmetrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// NewReconciler constructs a Reconciler.
func NewReconciler(d Deps) *Reconciler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		records:    d.Records,
		recomputer: d.Recomputer,
		periods:    d.Periods,
		editable:   d.Editable,
		novelties:  d.Novelties,
		directory:  d.Directory,
		configs:    d.Configs,
		audit:      d.Audit,
		detector:   d.Detector,
		grace:      d.Grace,
		metrics:    d.Metrics,
		logger:     logger,
		now:        time.Now,
	}
}

// WithNow overrides the clock for deterministic tests.
func (r *Reconciler) WithNow(now func() time.Time) {
	if now != nil {
		r.now = now
	}
}

// PeriodOutcome summarises reconciliation of one period.
type PeriodOutcome struct {
	PeriodID    uuid.UUID                  `json:"period_id"`
	Reconciled  []uuid.UUID                `json:"reconciled"`
	Corrections int                        `json:"corrections"`
	Skipped     string                     `json:"skipped,omitempty"`
	Error       *shared.ReconciliationError `json:"-"`
	Failures    []shared.EmployeeFailure   `json:"failures,omitempty"`
}

// Result is the report of a reconciliation sweep.
type Result struct {
	EmployeesAffected  int             `json:"employees_affected"`
	CorrectionsApplied int             `json:"corrections_applied"`
	Periods            []PeriodOutcome `json:"periods"`
}

// Err joins the reconciliation errors of every period, or nil.
func (r Result) Err() error {
	var errs []error
	for _, p := range r.Periods {
		if p.Error != nil {
			errs = append(errs, p.Error)
		}
	}
	return errors.Join(errs...)
}

// ReconcileStale recomputes every record stale for longer than the grace
// interval, optionally restricted to one period. The novelty fingerprints of
// the period, or of every editable period, are scanned first. Failed
// recomputations stay stale and are reported per period as a
// ReconciliationError.
func (r *Reconciler) ReconcileStale(ctx context.Context, periodID *uuid.UUID, trigger string) (Result, error) {
	if err := r.scan(ctx, periodID); err != nil {
		return Result{}, err
	}
	stale, err := r.records.ListStale(ctx, liquidation.StaleFilter{
		PeriodID:    periodID,
		StaleBefore: r.now().Add(-r.grace),
	})
	if err != nil {
		return Result{}, fmt.Errorf("staleness: list stale records: %w", err)
	}
	return r.reconcile(ctx, stale, trigger)
}

func (r *Reconciler) scan(ctx context.Context, periodID *uuid.UUID) error {
	if r.detector == nil {
		return nil
	}
	if periodID != nil {
		_, err := r.detector.Scan(ctx, *periodID)
		return err
	}
	if r.editable == nil {
		return nil
	}
	scopes, err := r.editable.EditableScopes(ctx)
	if err != nil {
		return fmt.Errorf("staleness: list editable periods: %w", err)
	}
	for _, scope := range scopes {
		if _, err := r.detector.Scan(ctx, scope.ID); err != nil {
			return err
		}
	}
	return nil
}

// ReconcileEmployee reconciles a single employee once its record has been
// stale for the grace interval. It is the target of debounced tasks; a record
// that is no longer stale or not yet due is left alone.
func (r *Reconciler) ReconcileEmployee(ctx context.Context, periodID, employeeID uuid.UUID, trigger string) (Result, error) {
	stale, err := r.records.ListStale(ctx, liquidation.StaleFilter{
		PeriodID:    &periodID,
		StaleBefore: r.now().Add(-r.grace),
	})
	if err != nil {
		return Result{}, fmt.Errorf("staleness: list stale records: %w", err)
	}
	var mine []liquidation.Record
	for _, rec := range stale {
		if rec.EmployeeID == employeeID {
			mine = append(mine, rec)
		}
	}
	return r.reconcile(ctx, mine, trigger)
}

func (r *Reconciler) reconcile(ctx context.Context, stale []liquidation.Record, trigger string) (Result, error) {
	if trigger == "" {
		trigger = TriggerManual
	}
	byPeriod := make(map[uuid.UUID][]liquidation.Record)
	var order []uuid.UUID
	for _, rec := range stale {
		if _, ok := byPeriod[rec.PeriodID]; !ok {
			order = append(order, rec.PeriodID)
		}
		byPeriod[rec.PeriodID] = append(byPeriod[rec.PeriodID], rec)
	}
	sort.Slice(order, func(i, j int) bool { return order[i].String() < order[j].String() })

	result := Result{Periods: []PeriodOutcome{}}
	for _, periodID := range order {
		outcome, err := r.reconcilePeriod(ctx, periodID, byPeriod[periodID], trigger)
		if err != nil {
			return result, err
		}
		result.EmployeesAffected += len(outcome.Reconciled)
		result.CorrectionsApplied += outcome.Corrections
		result.Periods = append(result.Periods, outcome)
	}
	return result, nil
}

func (r *Reconciler) reconcilePeriod(ctx context.Context, periodID uuid.UUID, stale []liquidation.Record, trigger string) (PeriodOutcome, error) {
	outcome := PeriodOutcome{PeriodID: periodID, Reconciled: []uuid.UUID{}}
	scope, err := r.periods.Scope(ctx, periodID)
	if err != nil {
		return outcome, fmt.Errorf("staleness: load period %s: %w", periodID, err)
	}
	if !scope.Editable() {
		outcome.Skipped = scope.Status
		r.logger.Warn("stale records left in non-editable period",
			slog.String("period_id", periodID.String()),
			slog.String("status", scope.Status),
			slog.Int("records", len(stale)))
		return outcome, nil
	}

	unchanged := 0
	for _, rec := range stale {
		out, err := r.recomputer.ComputeEmployee(ctx, periodID, rec.EmployeeID, liquidation.Options{
			Trigger: liquidation.TriggerReconciliation,
			Force:   true,
		})
		if err != nil {
			if ctx.Err() != nil {
				return outcome, ctx.Err()
			}
			outcome.Failures = append(outcome.Failures, shared.EmployeeFailure{EmployeeID: rec.EmployeeID, Reason: err.Error()})
			since := r.now()
			if rec.StaleSince != nil {
				since = *rec.StaleSince
			}
			if ferr := r.records.FlagStale(ctx, periodID, rec.EmployeeID, since); ferr != nil {
				r.logger.Error("staleness: keep record stale after failure",
					slog.String("period_id", periodID.String()),
					slog.String("employee_id", rec.EmployeeID.String()),
					slog.Any("error", ferr))
			}
			continue
		}
		outcome.Reconciled = append(outcome.Reconciled, rec.EmployeeID)
		if out.Changed() {
			outcome.Corrections++
		} else {
			unchanged++
		}
	}
	r.metrics.AddReconciled("corrected", outcome.Corrections)
	r.metrics.AddReconciled("unchanged", unchanged)
	r.metrics.AddReconciled("failed", len(outcome.Failures))

	affected := append([]uuid.UUID{}, outcome.Reconciled...)
	for _, f := range outcome.Failures {
		affected = append(affected, f.EmployeeID)
	}
	if len(outcome.Failures) > 0 {
		outcome.Error = &shared.ReconciliationError{PeriodID: periodID, Failures: outcome.Failures}
	}
	if r.audit != nil && len(affected) > 0 {
		metadata := map[string]any{
			"reconciled":  len(outcome.Reconciled),
			"corrections": outcome.Corrections,
			"failed":      len(outcome.Failures),
		}
		if outcome.Error != nil {
			metadata["error"] = outcome.Error.Error()
		}
		if _, err := r.audit.Record(ctx, audit.Entry{
			PeriodID:          periodID,
			CompanyID:         scope.CompanyID,
			Action:            audit.ActionReconciliation,
			Actor:             shared.ActorFromContext(ctx),
			AffectedEmployees: affected,
			Trigger:           trigger,
			Metadata:          metadata,
		}); err != nil {
			return outcome, fmt.Errorf("staleness: record reconciliation audit for %s: %w", periodID, err)
		}
	}
	level := slog.LevelInfo
	if outcome.Error != nil {
		level = slog.LevelWarn
	}
	r.logger.Log(ctx, level, "payroll period reconciled",
		slog.String("period_id", periodID.String()),
		slog.String("trigger", trigger),
		slog.Int("reconciled", len(outcome.Reconciled)),
		slog.Int("corrections", outcome.Corrections),
		slog.Int("failed", len(outcome.Failures)))
	return outcome, nil
}

// BackfillSnapshots attaches a retroactive IBC snapshot to every current
// record that lacks one. The stored IBC stays authoritative and the gap to
// what current inputs produce is kept as the unknown delta.
func (r *Reconciler) BackfillSnapshots(ctx context.Context, periodID *uuid.UUID) (int, error) {
	legacy, err := r.records.ListMissingSnapshot(ctx, periodID)
	if err != nil {
		return 0, fmt.Errorf("staleness: list records without snapshot: %w", err)
	}
	filled := 0
	for _, rec := range legacy {
		snap, err := r.synthesize(ctx, rec)
		if err != nil {
			r.logger.Warn("staleness: snapshot backfill skipped",
				slog.String("record_id", rec.ID.String()),
				slog.Any("error", err))
			continue
		}
		if err := r.records.AttachSnapshot(ctx, rec.ID, snap); err != nil {
			return filled, fmt.Errorf("staleness: attach snapshot to %s: %w", rec.ID, err)
		}
		filled++
	}
	r.metrics.AddBackfilled(filled)
	return filled, nil
}

func (r *Reconciler) synthesize(ctx context.Context, rec liquidation.Record) (ibc.Snapshot, error) {
	scope, err := r.periods.Scope(ctx, rec.PeriodID)
	if err != nil {
		return ibc.Snapshot{}, err
	}
	cfg, err := r.configs.PayrollConfig(ctx, scope.CompanyID)
	if err != nil {
		return ibc.Snapshot{}, err
	}
	emp := employees.Snapshot{ID: rec.EmployeeID, CompanyID: scope.CompanyID}
	if r.directory != nil {
		if got, err := r.directory.GetSnapshot(ctx, rec.EmployeeID); err == nil {
			emp = got
		}
	}
	// the salary the record was computed with, not today's
	emp.BaseSalary = rec.BaseSalary
	items, err := r.novelties.ListByEmployeePeriod(ctx, rec.EmployeeID, rec.PeriodID)
	if err != nil {
		return ibc.Snapshot{}, err
	}
	in := liquidation.IBCInput(liquidation.Input{
		Employee:   emp,
		Period:     scope,
		Novelties:  items,
		Config:     cfg,
		ComputedAt: rec.ComputedAt,
	})
	return ibc.Synthesize(rec.IBC, in), nil
}
