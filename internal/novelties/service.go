package novelties

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/payroll/internal/companyconfig"
	"github.com/odyssey-erp/payroll/internal/employees"
	"github.com/odyssey-erp/payroll/internal/proration"
	"github.com/odyssey-erp/payroll/internal/shared"
)

// PeriodGuard exposes the owning period to the ledger.
type PeriodGuard interface {
	// Scope loads the period without checking its state.
	Scope(ctx context.Context, periodID uuid.UUID) (shared.PeriodScope, error)
	// WithEditable runs fn with the period held against lifecycle changes. It
	// returns a StateConflictError unless the period admits writes.
	WithEditable(ctx context.Context, periodID uuid.UUID, fn func(scope shared.PeriodScope) error) error
}

// Service implements the novelty ledger.
type Service struct {
	repo       Repository
	periods    PeriodGuard
	directory  employees.Directory
	configs    companyconfig.Provider
	dispatcher *Dispatcher
	cache      TotalsCache
	logger     *slog.Logger
	now        func() time.Time
}

// Options bundles optional collaborators.
type Options struct {
	Directory  employees.Directory
	Configs    companyconfig.Provider
	Dispatcher *Dispatcher
	Cache      TotalsCache
	Logger     *slog.Logger
}

// NewService wires the ledger.
func NewService(repo Repository, periods PeriodGuard, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dispatcher := opts.Dispatcher
	if dispatcher == nil {
		dispatcher = NewDispatcher()
	}
	return &Service{
		repo:       repo,
		periods:    periods,
		directory:  opts.Directory,
		configs:    opts.Configs,
		dispatcher: dispatcher,
		cache:      opts.Cache,
		logger:     logger,
		now:        time.Now,
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Dispatcher exposes the change dispatcher so other modules can subscribe.
func (s *Service) Dispatcher() *Dispatcher {
	return s.dispatcher
}

// Create records a new novelty in an editable period.
func (s *Service) Create(ctx context.Context, in CreateInput) (Novelty, []SideEffect, error) {
	if err := shared.ValidateStruct(in.PeriodID, in.EmployeeID, in); err != nil {
		return Novelty{}, nil, err
	}
	constitutive := in.Type.DefaultConstitutive()
	if in.Constitutive != nil {
		constitutive = *in.Constitutive
	}
	var (
		n       Novelty
		effects []SideEffect
	)
	err := s.periods.WithEditable(ctx, in.PeriodID, func(scope shared.PeriodScope) error {
		now := s.now().UTC()
		draft := Novelty{
			ID:           uuid.New(),
			CompanyID:    scope.CompanyID,
			EmployeeID:   in.EmployeeID,
			PeriodID:     in.PeriodID,
			Type:         in.Type,
			StartDate:    in.StartDate,
			EndDate:      in.EndDate,
			Hours:        in.Hours,
			Days:         in.Days,
			Value:        in.Value,
			Constitutive: constitutive,
			Note:         in.Note,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		prepared, err := s.prepare(ctx, scope, draft)
		if err != nil {
			return err
		}
		if err := s.repo.Insert(ctx, prepared); err != nil {
			return fmt.Errorf("novelties: insert: %w", err)
		}
		n = prepared
		effects = s.publish(ctx, ChangeCreated, n)
		return nil
	})
	if err != nil {
		return Novelty{}, nil, err
	}
	return n, effects, nil
}

// Update replaces the mutable fields of a novelty.
func (s *Service) Update(ctx context.Context, id uuid.UUID, in UpdateInput) (Novelty, []SideEffect, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return Novelty{}, nil, err
	}
	if err := shared.ValidateStruct(current.PeriodID, current.EmployeeID, in); err != nil {
		return Novelty{}, nil, err
	}
	constitutive := in.Type.DefaultConstitutive()
	if in.Constitutive != nil {
		constitutive = *in.Constitutive
	}
	var (
		next    Novelty
		effects []SideEffect
	)
	err = s.periods.WithEditable(ctx, current.PeriodID, func(scope shared.PeriodScope) error {
		draft := current
		draft.Type = in.Type
		draft.StartDate = in.StartDate
		draft.EndDate = in.EndDate
		draft.Hours = in.Hours
		draft.Days = in.Days
		draft.Value = in.Value
		draft.Constitutive = constitutive
		draft.Note = in.Note
		draft.UpdatedAt = s.now().UTC()
		prepared, err := s.prepare(ctx, scope, draft)
		if err != nil {
			return err
		}
		if err := s.repo.Update(ctx, prepared); err != nil {
			return fmt.Errorf("novelties: update %s: %w", id, err)
		}
		next = prepared
		effects = s.publish(ctx, ChangeUpdated, next)
		return nil
	})
	if err != nil {
		return Novelty{}, nil, err
	}
	return next, effects, nil
}

// Delete removes a novelty from an editable period.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) ([]SideEffect, error) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	var effects []SideEffect
	err = s.periods.WithEditable(ctx, current.PeriodID, func(shared.PeriodScope) error {
		if err := s.repo.Delete(ctx, id); err != nil {
			return fmt.Errorf("novelties: delete %s: %w", id, err)
		}
		current.UpdatedAt = s.now().UTC()
		effects = s.publish(ctx, ChangeDeleted, current)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return effects, nil
}

// Get returns a single novelty.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Novelty, error) {
	return s.repo.Get(ctx, id)
}

// ListByEmployeePeriod returns an employee's novelties for a period.
func (s *Service) ListByEmployeePeriod(ctx context.Context, employeeID, periodID uuid.UUID) ([]Novelty, error) {
	if _, err := s.periods.Scope(ctx, periodID); err != nil {
		return nil, err
	}
	return s.repo.ListByEmployeePeriod(ctx, employeeID, periodID)
}

// ListByPeriod returns every novelty of a period.
func (s *Service) ListByPeriod(ctx context.Context, periodID uuid.UUID) ([]Novelty, error) {
	return s.repo.ListByPeriod(ctx, periodID)
}

// AggregateTotals returns the totals for one employee and period, served from
// the totals cache when a fresh entry exists.
func (s *Service) AggregateTotals(ctx context.Context, employeeID, periodID uuid.UUID, variant Variant) (Totals, error) {
	key := TotalsKey{EmployeeID: employeeID, PeriodID: periodID, Variant: variant}
	cacheable := false
	var generation int64
	if s.cache != nil {
		cached, ok, err := s.cache.Get(ctx, key)
		switch {
		case err != nil:
			s.logger.Warn("novelties: totals cache read failed", slog.String("key", key.String()), slog.Any("error", err))
		case ok:
			return cached.Totals, nil
		default:
			cacheable, generation = true, cached.Generation
		}
	}
	items, err := s.ListByEmployeePeriod(ctx, employeeID, periodID)
	if err != nil {
		return Totals{}, err
	}
	totals := Aggregate(items, variant)
	if cacheable {
		if err := s.cache.Put(ctx, key, generation, totals); err != nil {
			s.logger.Warn("novelties: totals cache write failed", slog.String("key", key.String()), slog.Any("error", err))
		}
	}
	return totals, nil
}

// EmployeeNoveltyTotals is the collaborator-facing view of AggregateTotals.
func (s *Service) EmployeeNoveltyTotals(ctx context.Context, employeeID, periodID uuid.UUID) (Totals, error) {
	return s.AggregateTotals(ctx, employeeID, periodID, VariantAll)
}

// prepare validates n against its period and derives the value of hourly
// novelties submitted without one.
func (s *Service) prepare(ctx context.Context, scope shared.PeriodScope, n Novelty) (Novelty, error) {
	fail := func(rule, detail string) error {
		return shared.NewValidationError(n.PeriodID, n.EmployeeID, rule, detail)
	}
	if !n.Type.IsValid() {
		return n, fail("unknown_novelty_type", fmt.Sprintf("type %q is not recognised", n.Type))
	}
	if n.Value.IsNegative() {
		return n, fail("negative_value", "value must be a non-negative magnitude; the type carries the sign")
	}
	if n.Hours.Valid && n.Hours.Decimal.IsNegative() {
		return n, fail("negative_hours", "hours cannot be negative")
	}
	if n.Days.Valid && n.Days.Decimal.IsNegative() {
		return n, fail("negative_days", "days cannot be negative")
	}
	if n.StartDate != nil && n.EndDate != nil {
		if n.EndDate.Before(*n.StartDate) {
			return n, fail("novelty_dates_inverted", "end date precedes start date")
		}
		if !scope.Window.Contains(*n.StartDate) || !scope.Window.Contains(*n.EndDate) {
			return n, fail("novelty_outside_period", fmt.Sprintf("range %s..%s outside period %s..%s",
				n.StartDate.Format(time.DateOnly), n.EndDate.Format(time.DateOnly),
				scope.Window.Start.Format(time.DateOnly), scope.Window.End.Format(time.DateOnly)))
		}
	}

	var snap *employees.Snapshot
	if s.directory != nil {
		got, err := s.directory.GetSnapshot(ctx, n.EmployeeID)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				return n, fail("employee_not_found", "employee is not in the directory")
			}
			return n, err
		}
		if got.CompanyID != uuid.Nil && got.CompanyID != scope.CompanyID {
			return n, fail("employee_company_mismatch", "employee belongs to another company")
		}
		snap = &got
	}

	if !n.Value.IsZero() {
		return n, nil
	}
	kind, hourly := n.Type.SurchargeKind()
	if !hourly || !n.Hours.Valid || !n.Hours.Decimal.IsPositive() {
		return n, fail("value_required", "value is required unless it can be derived from hours")
	}
	if snap == nil || !snap.BaseSalary.IsPositive() {
		return n, fail("missing_base_salary", "cannot price hours without a base salary")
	}
	on := scope.Window.Start
	if n.StartDate != nil {
		on = *n.StartDate
	}
	cfg, err := s.config(ctx, scope.CompanyID, on)
	if err != nil {
		return n, err
	}
	value, err := cfg.Tables.SurchargeValue(snap.BaseSalary, n.Hours.Decimal, kind, on)
	if err != nil {
		return n, fail("surcharge_unavailable", err.Error())
	}
	n.Value = value.Round(cfg.CurrencyPrecision)
	return n, nil
}

func (s *Service) config(ctx context.Context, companyID uuid.UUID, on time.Time) (companyconfig.PayrollConfig, error) {
	if s.configs == nil {
		return companyconfig.Default(companyID, on), nil
	}
	cfg, err := s.configs.PayrollConfig(ctx, companyID)
	if err != nil {
		return companyconfig.PayrollConfig{}, fmt.Errorf("novelties: load config for company %s: %w", companyID, err)
	}
	if len(cfg.Tables.HourlyDivisor) == 0 {
		cfg.Tables = proration.DefaultTables()
	}
	return cfg, nil
}

func (s *Service) publish(ctx context.Context, kind ChangeKind, n Novelty) []SideEffect {
	event := ChangeEvent{
		Kind:       kind,
		NoveltyID:  n.ID,
		EmployeeID: n.EmployeeID,
		PeriodID:   n.PeriodID,
		CompanyID:  n.CompanyID,
		OccurredAt: n.UpdatedAt,
	}
	effects, err := s.dispatcher.Publish(ctx, event)
	if err != nil {
		s.logger.Warn("novelties: change listeners failed",
			slog.String("novelty_id", n.ID.String()),
			slog.String("period_id", n.PeriodID.String()),
			slog.String("employee_id", n.EmployeeID.String()),
			slog.Any("error", err))
	}
	return effects
}
