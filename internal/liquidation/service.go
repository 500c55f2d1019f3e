package liquidation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/payroll/internal/companyconfig"
	"github.com/odyssey-erp/payroll/internal/employees"
	"github.com/odyssey-erp/payroll/internal/novelties"
	"github.com/odyssey-erp/payroll/internal/shared"
)

// PeriodGuard resolves the period a computation runs against.
type PeriodGuard interface {
	Scope(ctx context.Context, periodID uuid.UUID) (shared.PeriodScope, error)
	EnsureEditable(ctx context.Context, periodID uuid.UUID) (shared.PeriodScope, error)
}

// NoveltySource lists the novelties feeding a computation.
type NoveltySource interface {
	ListByEmployeePeriod(ctx context.Context, employeeID, periodID uuid.UUID) ([]novelties.Novelty, error)
}

// ActivityRecorder is told about computations so the period can track
// activity. A negative employeeCount leaves the stored count unchanged.
type ActivityRecorder interface {
	PeriodComputed(ctx context.Context, periodID uuid.UUID, employeeCount int) error
}

// Options tunes a computation.
type Options struct {
	Trigger Trigger
	// Force writes a new version even when the inputs are unchanged.
	Force bool
}

// Outcome is the result of one employee computation.
type Outcome struct {
	Record   Record
	Previous *Record
	// Written is false when an unchanged current record was reused.
	Written bool
}

// Changed reports whether the new version differs in outputs from the previous one.
func (o Outcome) Changed() bool {
	if !o.Written {
		return false
	}
	if o.Previous == nil {
		return true
	}
	return !o.Record.SameOutputs(*o.Previous)
}

// BatchResult reports a period computation.
type BatchResult struct {
	PeriodID  uuid.UUID                `json:"period_id"`
	Results   []Record                 `json:"results"`
	Failures  []shared.EmployeeFailure `json:"failures"`
	Written   int                      `json:"written"`
	Unchanged int                      `json:"unchanged"`
}

// Service orchestrates payroll computation.
type Service struct {
	repo        Repository
	periods     PeriodGuard
	novelties   NoveltySource
	directory   employees.Directory
	configs     companyconfig.Provider
	activity    ActivityRecorder
	concurrency int
	logger      *slog.Logger
	now         func() time.Time
}

// Deps bundles the collaborators of Service.
type Deps struct {
	Repository  Repository
	Periods     PeriodGuard
	Novelties   NoveltySource
	Directory   employees.Directory
	Configs     companyconfig.Provider
	Activity    ActivityRecorder
	Concurrency int
	Logger      *slog.Logger
}

// NewService constructs the computation service.
func NewService(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	concurrency := d.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Service{
		repo:        d.Repository,
		periods:     d.Periods,
		novelties:   d.Novelties,
		directory:   d.Directory,
		configs:     d.Configs,
		activity:    d.Activity,
		concurrency: concurrency,
		logger:      logger,
		now:         time.Now,
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// SetActivityRecorder wires the activity recorder after construction.
func (s *Service) SetActivityRecorder(a ActivityRecorder) {
	s.activity = a
}

// ComputePeriod computes every employee active during the period. A failure
// for one employee is recorded and reported without stopping the others.
func (s *Service) ComputePeriod(ctx context.Context, periodID uuid.UUID, opts Options) (BatchResult, error) {
	scope, err := s.periods.EnsureEditable(ctx, periodID)
	if err != nil {
		return BatchResult{}, err
	}
	cfg, err := s.configs.PayrollConfig(ctx, scope.CompanyID)
	if err != nil {
		return BatchResult{}, fmt.Errorf("liquidation: load config for company %s: %w", scope.CompanyID, err)
	}
	staff, err := s.directory.ListActive(ctx, scope.CompanyID, scope.Window.Start, scope.Window.End)
	if err != nil {
		return BatchResult{}, fmt.Errorf("liquidation: list employees for period %s: %w", periodID, err)
	}

	result := BatchResult{PeriodID: periodID, Results: []Record{}, Failures: []shared.EmployeeFailure{}}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, emp := range staff {
		g.Go(func() error {
			out, err := s.compute(gctx, scope, cfg, emp, opts)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				var verr *shared.ValidationError
				if !errors.As(err, &verr) && gctx.Err() != nil {
					return gctx.Err()
				}
				result.Failures = append(result.Failures, shared.EmployeeFailure{EmployeeID: emp.ID, Reason: err.Error()})
				if out.Written {
					result.Written++
				}
				return nil
			}
			result.Results = append(result.Results, out.Record)
			if out.Written {
				result.Written++
			} else {
				result.Unchanged++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}
	sort.Slice(result.Results, func(i, j int) bool {
		return result.Results[i].EmployeeID.String() < result.Results[j].EmployeeID.String()
	})
	sort.Slice(result.Failures, func(i, j int) bool {
		return result.Failures[i].EmployeeID.String() < result.Failures[j].EmployeeID.String()
	})

	s.logger.Info("payroll period computed",
		slog.String("period_id", periodID.String()),
		slog.String("trigger", string(opts.Trigger)),
		slog.Int("employees", len(staff)),
		slog.Int("written", result.Written),
		slog.Int("failures", len(result.Failures)))
	if s.activity != nil {
		if err := s.activity.PeriodComputed(ctx, periodID, len(staff)); err != nil {
			s.logger.Warn("liquidation: record period activity", slog.String("period_id", periodID.String()), slog.Any("error", err))
		}
	}
	return result, nil
}

// ComputeEmployee recomputes a single employee of an editable period.
func (s *Service) ComputeEmployee(ctx context.Context, periodID, employeeID uuid.UUID, opts Options) (Outcome, error) {
	scope, err := s.periods.EnsureEditable(ctx, periodID)
	if err != nil {
		return Outcome{}, err
	}
	cfg, err := s.configs.PayrollConfig(ctx, scope.CompanyID)
	if err != nil {
		return Outcome{}, fmt.Errorf("liquidation: load config for company %s: %w", scope.CompanyID, err)
	}
	emp, err := s.directory.GetSnapshot(ctx, employeeID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return Outcome{}, shared.NewValidationError(periodID, employeeID, "employee_not_found", "employee is not in the directory")
		}
		return Outcome{}, err
	}
	out, err := s.compute(ctx, scope, cfg, emp, opts)
	if err == nil && s.activity != nil {
		if aerr := s.activity.PeriodComputed(ctx, periodID, -1); aerr != nil {
			s.logger.Warn("liquidation: record period activity", slog.String("period_id", periodID.String()), slog.Any("error", aerr))
		}
	}
	return out, err
}

// Records lists the current record of every employee in a period.
func (s *Service) Records(ctx context.Context, periodID uuid.UUID) ([]Record, error) {
	if _, err := s.periods.Scope(ctx, periodID); err != nil {
		return nil, err
	}
	return s.repo.ListCurrent(ctx, periodID)
}

// History lists every version computed for an employee.
func (s *Service) History(ctx context.Context, periodID, employeeID uuid.UUID) ([]Record, error) {
	return s.repo.History(ctx, periodID, employeeID)
}

// compute runs one employee. On validation failure the failed version is
// persisted and the ValidationError is returned with Outcome.Written set.
func (s *Service) compute(ctx context.Context, scope shared.PeriodScope, cfg companyconfig.PayrollConfig, emp employees.Snapshot, opts Options) (Outcome, error) {
	// Taken before the read so a novelty committed after it sorts later.
	computedAt := s.now()
	items, err := s.novelties.ListByEmployeePeriod(ctx, emp.ID, scope.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("liquidation: list novelties for employee %s: %w", emp.ID, err)
	}
	trigger := opts.Trigger
	if trigger == "" {
		trigger = TriggerCompute
	}
	in := Input{Employee: emp, Period: scope, Novelties: items, Config: cfg, ComputedAt: computedAt}

	var previous *Record
	current, err := s.repo.Current(ctx, scope.ID, emp.ID)
	switch {
	case err == nil:
		previous = &current
	case errors.Is(err, shared.ErrNotFound):
	default:
		return Outcome{}, err
	}

	if previous != nil && !opts.Force && !previous.IsStale && previous.InputsHash == InputsHash(in) {
		if previous.Failed() {
			return Outcome{Record: *previous, Previous: previous},
				shared.NewValidationError(scope.ID, emp.ID, "computation_failed", previous.Failure)
		}
		return Outcome{Record: *previous, Previous: previous}, nil
	}

	rec, cerr := Compute(in)
	if cerr != nil {
		var verr *shared.ValidationError
		if !errors.As(cerr, &verr) {
			return Outcome{}, cerr
		}
		failed := Failed(in, cerr.Error())
		failed.Trigger = trigger
		stored, err := s.repo.Append(ctx, failed)
		if err != nil {
			return Outcome{}, err
		}
		stored = s.verifyFingerprint(ctx, stored)
		s.logger.Warn("payroll computation failed",
			slog.String("period_id", scope.ID.String()),
			slog.String("employee_id", emp.ID.String()),
			slog.String("rule", verr.Rule))
		return Outcome{Record: stored, Previous: previous, Written: true}, cerr
	}
	rec.Trigger = trigger
	stored, err := s.repo.Append(ctx, rec)
	if err != nil {
		return Outcome{}, fmt.Errorf("liquidation: store record for employee %s: %w", emp.ID, err)
	}
	stored = s.verifyFingerprint(ctx, stored)
	return Outcome{Record: stored, Previous: previous, Written: true}, nil
}

// verifyFingerprint re-reads the novelties after rec was stored and flags it
// stale when the ledger moved during the computation. A failed re-read also
// flags it so the next reconciliation retries.
func (s *Service) verifyFingerprint(ctx context.Context, rec Record) Record {
	items, err := s.novelties.ListByEmployeePeriod(ctx, rec.EmployeeID, rec.PeriodID)
	if err == nil && NoveltyFingerprint(items) == rec.NoveltyFingerprint {
		return rec
	}
	if err != nil {
		s.logger.Warn("liquidation: re-read novelties after store",
			slog.String("period_id", rec.PeriodID.String()),
			slog.String("employee_id", rec.EmployeeID.String()),
			slog.Any("error", err))
	}
	since := s.now().UTC()
	if ferr := s.repo.FlagStale(ctx, rec.PeriodID, rec.EmployeeID, since); ferr != nil {
		s.logger.Error("liquidation: flag drifted record stale",
			slog.String("period_id", rec.PeriodID.String()),
			slog.String("employee_id", rec.EmployeeID.String()),
			slog.Any("error", ferr))
		return rec
	}
	rec.IsStale = true
	rec.StaleSince = &since
	s.logger.Info("payroll record drifted during computation",
		slog.String("period_id", rec.PeriodID.String()),
		slog.String("employee_id", rec.EmployeeID.String()))
	return rec
}
