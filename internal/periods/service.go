package periods

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/payroll/internal/audit"
	"github.com/odyssey-erp/payroll/internal/employees"
	"github.com/odyssey-erp/payroll/internal/liquidation"
	"github.com/odyssey-erp/payroll/internal/platform/lock"
	"github.com/odyssey-erp/payroll/internal/proration"
	"github.com/odyssey-erp/payroll/internal/shared"
)

// RecordReader exposes the payroll records the lifecycle rules inspect.
type RecordReader interface {
	ListCurrent(ctx context.Context, periodID uuid.UUID) ([]liquidation.Record, error)
	CountByPeriod(ctx context.Context, periodID uuid.UUID) (int, error)
}

// Computer recomputes a period during reliquidation.
type Computer interface {
	ComputePeriod(ctx context.Context, periodID uuid.UUID, opts liquidation.Options) (liquidation.BatchResult, error)
}

// AuditRecorder appends lifecycle audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, e audit.Entry) (audit.Entry, error)
}

// DriftChecker flags records whose novelty fingerprint no longer matches the
// ledger and reports how many it flagged.
type DriftChecker interface {
	Scan(ctx context.Context, periodID uuid.UUID) (int, error)
}

// VoucherInvalidator is told when previously issued vouchers of a period are
// no longer valid.
type VoucherInvalidator interface {
	InvalidatePeriod(ctx context.Context, periodID uuid.UUID, reason string) error
}

// IdempotencyStore deduplicates retried transition requests.
type IdempotencyStore interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// Deps bundles the collaborators of Service.
type Deps struct {
	Repository  Repository
	Records     RecordReader
	Computer    Computer
	Directory   employees.Directory
	Audit       AuditRecorder
	Vouchers    VoucherInvalidator
	Drift       DriftChecker
	Locker      lock.Locker
	Idempotency IdempotencyStore
	LockTTL     time.Duration
	Logger      *slog.Logger
}

// Service implements the period lifecycle manager.
type Service struct {
	repo        Repository
	records     RecordReader
	computer    Computer
	directory   employees.Directory
	audit       AuditRecorder
	vouchers    VoucherInvalidator
	drift       DriftChecker
	locker      lock.Locker
	idempotency IdempotencyStore
	lockTTL     time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// NewService constructs the lifecycle manager.
func NewService(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	locker := d.Locker
	if locker == nil {
		locker = lock.NewMemoryLocker()
	}
	ttl := d.LockTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Service{
		repo:        d.Repository,
		records:     d.Records,
		computer:    d.Computer,
		directory:   d.Directory,
		audit:       d.Audit,
		vouchers:    d.Vouchers,
		drift:       d.Drift,
		locker:      locker,
		idempotency: d.Idempotency,
		lockTTL:     ttl,
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

// SetComputer wires the computation service, which itself depends on this
// service as its period guard.
func (s *Service) SetComputer(c Computer) {
	s.computer = c
}

// SetDriftChecker wires the fingerprint check run before a close.
func (s *Service) SetDriftChecker(d DriftChecker) {
	s.drift = d
}

// CreateDraft opens a new draft period. A company may hold a single editable
// period, and periods of a company never overlap.
func (s *Service) CreateDraft(ctx context.Context, in CreateInput) (Period, error) {
	if err := shared.ValidateStruct(uuid.Nil, uuid.Nil, in); err != nil {
		return Period{}, err
	}
	periodicity, err := proration.ParsePeriodicity(in.Periodicity)
	if err != nil {
		return Period{}, shared.NewValidationError(uuid.Nil, uuid.Nil, RuleUnknownPeriodicity, err.Error())
	}
	start, end := dateOnly(in.StartDate), dateOnly(in.EndDate)
	if end.Before(start) {
		return Period{}, shared.NewValidationError(uuid.Nil, uuid.Nil, RuleDatesInverted,
			fmt.Sprintf("end %s precedes start %s", end.Format(time.DateOnly), start.Format(time.DateOnly)))
	}
	open, found, err := s.repo.FindEditable(ctx, in.CompanyID)
	if err != nil {
		return Period{}, fmt.Errorf("periods: find editable for company %s: %w", in.CompanyID, err)
	}
	if found {
		return Period{}, shared.NewStateConflictError(open.ID, RuleEditablePeriodExists,
			fmt.Sprintf("company %s already has %s period %q", in.CompanyID, open.Status, open.Name))
	}
	overlap, err := s.repo.Overlapping(ctx, in.CompanyID, start, end)
	if err != nil {
		return Period{}, fmt.Errorf("periods: overlap check for company %s: %w", in.CompanyID, err)
	}
	if overlap {
		return Period{}, shared.NewStateConflictError(uuid.Nil, RulePeriodOverlap,
			fmt.Sprintf("%s..%s overlaps an existing period of company %s", start.Format(time.DateOnly), end.Format(time.DateOnly), in.CompanyID))
	}
	now := s.now().UTC()
	p := Period{
		ID:          uuid.New(),
		CompanyID:   in.CompanyID,
		Name:        strings.TrimSpace(in.Name),
		Periodicity: periodicity,
		StartDate:   start,
		EndDate:     end,
		Status:      StatusDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Insert(ctx, p); err != nil {
		if errors.Is(err, ErrEditableConflict) {
			return Period{}, shared.NewStateConflictError(uuid.Nil, RuleEditablePeriodExists,
				fmt.Sprintf("company %s already has an editable period", in.CompanyID))
		}
		return Period{}, fmt.Errorf("periods: insert: %w", err)
	}
	s.logger.Info("payroll period created",
		slog.String("period_id", p.ID.String()),
		slog.String("company_id", p.CompanyID.String()),
		slog.String("periodicity", string(p.Periodicity)))
	return p, nil
}

// Get returns a period.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Period, error) {
	return s.repo.Get(ctx, id)
}

// List returns the periods of a company, newest first.
func (s *Service) List(ctx context.Context, companyID uuid.UUID) ([]Period, error) {
	return s.repo.List(ctx, companyID)
}

// EditableScopes lists the scope of every period that currently admits writes.
func (s *Service) EditableScopes(ctx context.Context) ([]shared.PeriodScope, error) {
	items, err := s.repo.ListEditable(ctx)
	if err != nil {
		return nil, fmt.Errorf("periods: list editable: %w", err)
	}
	out := make([]shared.PeriodScope, 0, len(items))
	for _, p := range items {
		out = append(out, p.Scope())
	}
	return out, nil
}

// Scope loads the period without checking its state.
func (s *Service) Scope(ctx context.Context, periodID uuid.UUID) (shared.PeriodScope, error) {
	p, err := s.repo.Get(ctx, periodID)
	if err != nil {
		return shared.PeriodScope{}, err
	}
	return p.Scope(), nil
}

// EnsureEditable returns the period scope or a StateConflictError when the
// period is not draft or reopened.
func (s *Service) EnsureEditable(ctx context.Context, periodID uuid.UUID) (shared.PeriodScope, error) {
	p, err := s.repo.Get(ctx, periodID)
	if err != nil {
		return shared.PeriodScope{}, err
	}
	if !p.Editable() {
		return p.Scope(), shared.NewStateConflictError(periodID, RuleNotEditable,
			fmt.Sprintf("period is %s; reopen it before making changes", p.Status))
	}
	return p.Scope(), nil
}

// CloseResult reports a close transition.
type CloseResult struct {
	Period        Period                   `json:"period"`
	Reliquidation *liquidation.BatchResult `json:"reliquidation,omitempty"`
	Audit         *audit.Entry             `json:"audit,omitempty"`
}

// Close freezes the period. Every active employee needs a current record that
// is neither failed nor stale. Closing a reopened period recomputes every
// employee first and records the reliquidation.
func (s *Service) Close(ctx context.Context, periodID uuid.UUID, in TransitionInput) (CloseResult, error) {
	var result CloseResult
	err := s.transition(ctx, periodID, ActionClose, in, func(p Period, next string) error {
		reliquidating := p.Status == StatusReopened
		var affected []uuid.UUID
		if reliquidating {
			if s.computer == nil {
				return fmt.Errorf("periods: computer not configured")
			}
			batch, err := s.computer.ComputePeriod(ctx, p.ID, liquidation.Options{Trigger: liquidation.TriggerReliquidation, Force: true})
			if err != nil {
				return err
			}
			result.Reliquidation = &batch
			if len(batch.Failures) > 0 {
				return shared.NewStateConflictError(p.ID, RuleRecordsFailed, failureDetail(batch.Failures))
			}
			for _, rec := range batch.Results {
				affected = append(affected, rec.EmployeeID)
			}
			// computation touched the row
			if p, err = s.repo.Get(ctx, p.ID); err != nil {
				return err
			}
		}
		count, err := s.ensureReady(ctx, p)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		p.Status = next
		p.ClosedAt = &now
		p.ClosedBy = in.Actor
		p.EmployeeCount = count
		p.UpdatedAt = now
		if err := s.repo.Save(ctx, p); err != nil {
			return fmt.Errorf("periods: save %s: %w", p.ID, err)
		}
		entry := audit.Entry{
			PeriodID:  p.ID,
			CompanyID: p.CompanyID,
			Action:    audit.ActionClose,
			Actor:     in.Actor,
			Metadata:  map[string]any{"employees": count},
		}
		if reliquidating {
			entry.Action = audit.ActionReliquidation
			entry.Justification = p.ReopenJustification
			entry.AffectedEmployees = affected
			entry.Trigger = string(liquidation.TriggerReliquidation)
			entry.Metadata["written"] = result.Reliquidation.Written
			entry.Metadata["reopen_count"] = p.ReopenCount
		}
		recorded, err := s.recordAudit(ctx, entry)
		if err != nil {
			return err
		}
		result.Period = p
		result.Audit = &recorded
		return nil
	})
	return result, err
}

// Reopen moves a closed period back to an editable state. The justification
// is mandatory and previously issued vouchers are invalidated.
func (s *Service) Reopen(ctx context.Context, periodID uuid.UUID, in TransitionInput) (audit.Entry, error) {
	justification := strings.TrimSpace(in.Justification)
	if justification == "" {
		return audit.Entry{}, shared.NewValidationError(periodID, uuid.Nil, RuleJustificationNeeded, "reopening a period requires a justification")
	}
	var entry audit.Entry
	err := s.transition(ctx, periodID, ActionReopen, in, func(p Period, next string) error {
		open, found, err := s.repo.FindEditable(ctx, p.CompanyID)
		if err != nil {
			return err
		}
		if found && open.ID != p.ID {
			return shared.NewStateConflictError(p.ID, RuleEditablePeriodExists,
				fmt.Sprintf("period %q of the company is still %s", open.Name, open.Status))
		}
		records, err := s.records.ListCurrent(ctx, p.ID)
		if err != nil {
			return fmt.Errorf("periods: list records of %s: %w", p.ID, err)
		}
		now := s.now().UTC()
		p.Status = next
		p.ReopenedAt = &now
		p.ReopenedBy = in.Actor
		p.ReopenJustification = justification
		p.ReopenCount++
		p.UpdatedAt = now
		if err := s.repo.Save(ctx, p); err != nil {
			if errors.Is(err, ErrEditableConflict) {
				return shared.NewStateConflictError(p.ID, RuleEditablePeriodExists, "another period of the company became editable")
			}
			return fmt.Errorf("periods: save %s: %w", p.ID, err)
		}
		affected := make([]uuid.UUID, 0, len(records))
		for _, rec := range records {
			affected = append(affected, rec.EmployeeID)
		}
		if entry, err = s.recordAudit(ctx, audit.Entry{
			PeriodID:          p.ID,
			CompanyID:         p.CompanyID,
			Action:            audit.ActionReopen,
			Actor:             in.Actor,
			Justification:     justification,
			AffectedEmployees: affected,
			Metadata:          map[string]any{"reopen_count": p.ReopenCount},
		}); err != nil {
			return err
		}
		if s.vouchers != nil {
			if err := s.vouchers.InvalidatePeriod(ctx, p.ID, justification); err != nil {
				s.logger.Warn("periods: voucher invalidation failed",
					slog.String("period_id", p.ID.String()),
					slog.Any("error", err))
			}
		}
		return nil
	})
	return entry, err
}

// Cancel discards a period that never produced payroll records.
func (s *Service) Cancel(ctx context.Context, periodID uuid.UUID, in TransitionInput) (Period, error) {
	var out Period
	err := s.transition(ctx, periodID, ActionCancel, in, func(p Period, next string) error {
		count, err := s.records.CountByPeriod(ctx, p.ID)
		if err != nil {
			return fmt.Errorf("periods: count records of %s: %w", p.ID, err)
		}
		if count > 0 {
			return shared.NewStateConflictError(p.ID, RulePeriodHasRecords,
				fmt.Sprintf("%d payroll record(s) exist; only periods without records can be cancelled", count))
		}
		now := s.now().UTC()
		previous := p.Status
		p.Status = next
		p.CancelledAt = &now
		p.UpdatedAt = now
		if err := s.repo.Save(ctx, p); err != nil {
			return fmt.Errorf("periods: save %s: %w", p.ID, err)
		}
		if _, err := s.recordAudit(ctx, audit.Entry{
			PeriodID:      p.ID,
			CompanyID:     p.CompanyID,
			Action:        audit.ActionCancel,
			Actor:         in.Actor,
			Justification: strings.TrimSpace(in.Justification),
			Metadata:      map[string]any{"from": previous},
		}); err != nil {
			return err
		}
		out = p
		return nil
	})
	return out, err
}

// Touch stamps activity on the period.
func (s *Service) Touch(ctx context.Context, periodID uuid.UUID) error {
	return s.repo.Touch(ctx, periodID, s.now().UTC(), -1)
}

// PeriodComputed records a computation run against the period.
func (s *Service) PeriodComputed(ctx context.Context, periodID uuid.UUID, employeeCount int) error {
	return s.repo.Touch(ctx, periodID, s.now().UTC(), employeeCount)
}

// Ledger writers wait briefly for each other before giving up, while a
// lifecycle transition fails fast.
const (
	ledgerLockAttempts = 20
	ledgerLockBackoff  = 25 * time.Millisecond
)

// WithEditable runs fn while holding the period lock, after checking that the
// period admits writes. A close or reopen cannot interleave with fn.
func (s *Service) WithEditable(ctx context.Context, periodID uuid.UUID, fn func(scope shared.PeriodScope) error) error {
	release, err := s.acquire(ctx, periodID, ledgerLockAttempts)
	if err != nil {
		return err
	}
	defer release()
	scope, err := s.EnsureEditable(ctx, periodID)
	if err != nil {
		return err
	}
	return fn(scope)
}

// acquire takes the period lock, retrying a held lock up to attempts times.
func (s *Service) acquire(ctx context.Context, periodID uuid.UUID, attempts int) (func(), error) {
	key := shared.PeriodLockKey(periodID)
	for attempt := 1; ; attempt++ {
		release, err := s.locker.Acquire(ctx, key, s.lockTTL)
		if err == nil {
			return func() {
				if rerr := release(context.WithoutCancel(ctx)); rerr != nil {
					s.logger.Warn("periods: release lock", slog.String("period_id", periodID.String()), slog.Any("error", rerr))
				}
			}, nil
		}
		if !errors.Is(err, lock.ErrHeld) {
			return nil, fmt.Errorf("periods: lock %s: %w", periodID, err)
		}
		if attempt >= attempts {
			return nil, shared.NewStateConflictError(periodID, RuleTransitionInFlight, "another change is running for this period")
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(ledgerLockBackoff):
		}
	}
}

// transition serialises lifecycle changes per period and validates the move
// before handing the loaded period to apply.
func (s *Service) transition(ctx context.Context, periodID uuid.UUID, action Action, in TransitionInput, apply func(p Period, next string) error) (err error) {
	release, err := s.acquire(ctx, periodID, 1)
	if err != nil {
		return err
	}
	defer release()

	if s.idempotency != nil && in.IdempotencyKey != "" {
		key := periodID.String() + ":" + in.IdempotencyKey
		module := "payroll.period." + string(action)
		if err := s.idempotency.CheckAndInsert(ctx, key, module); err != nil {
			return err
		}
		defer func() {
			if err != nil {
				_ = s.idempotency.Delete(context.WithoutCancel(ctx), key, module)
			}
		}()
	}

	p, err := s.repo.Get(ctx, periodID)
	if err != nil {
		return err
	}
	next, ok := NextStatus(p.Status, action)
	if !ok {
		return shared.NewStateConflictError(periodID, RuleIllegalTransition,
			fmt.Sprintf("cannot %s a %s period", action, p.Status))
	}
	if err := apply(p, next); err != nil {
		return err
	}
	s.logger.Info("payroll period transition",
		slog.String("period_id", periodID.String()),
		slog.String("action", string(action)),
		slog.String("from", p.Status),
		slog.String("to", next),
		slog.String("actor", in.Actor))
	return nil
}

// ensureReady checks that every active employee has a usable current record
// and returns the number of employees covered. Records whose novelties moved
// without being flagged are flagged first and then block the close as stale.
func (s *Service) ensureReady(ctx context.Context, p Period) (int, error) {
	if s.drift != nil {
		if _, err := s.drift.Scan(ctx, p.ID); err != nil {
			return 0, fmt.Errorf("periods: fingerprint scan of %s: %w", p.ID, err)
		}
	}
	staff, err := s.directory.ListActive(ctx, p.CompanyID, p.StartDate, p.EndDate)
	if err != nil {
		return 0, fmt.Errorf("periods: list employees of company %s: %w", p.CompanyID, err)
	}
	records, err := s.records.ListCurrent(ctx, p.ID)
	if err != nil {
		return 0, fmt.Errorf("periods: list records of %s: %w", p.ID, err)
	}
	byEmployee := make(map[uuid.UUID]liquidation.Record, len(records))
	for _, rec := range records {
		byEmployee[rec.EmployeeID] = rec
	}
	var missing, failed, stale []string
	for _, emp := range staff {
		rec, ok := byEmployee[emp.ID]
		switch {
		case !ok:
			missing = append(missing, emp.ID.String())
		case rec.Failed():
			failed = append(failed, emp.ID.String())
		case rec.IsStale:
			stale = append(stale, emp.ID.String())
		}
	}
	switch {
	case len(failed) > 0:
		return 0, shared.NewStateConflictError(p.ID, RuleRecordsFailed, "failed records for employees "+joinSorted(failed))
	case len(missing) > 0:
		return 0, shared.NewStateConflictError(p.ID, RuleRecordsMissing, "no payroll record for employees "+joinSorted(missing))
	case len(stale) > 0:
		return 0, shared.NewStateConflictError(p.ID, RuleRecordsStale, "stale records for employees "+joinSorted(stale)+"; reconcile before closing")
	}
	return len(staff), nil
}

func (s *Service) recordAudit(ctx context.Context, e audit.Entry) (audit.Entry, error) {
	if s.audit == nil {
		return e, nil
	}
	recorded, err := s.audit.Record(ctx, e)
	if err != nil {
		return audit.Entry{}, fmt.Errorf("periods: record %s audit for %s: %w", e.Action, e.PeriodID, err)
	}
	return recorded, nil
}

func failureDetail(failures []shared.EmployeeFailure) string {
	parts := make([]string, 0, len(failures))
	for _, f := range failures {
		parts = append(parts, f.EmployeeID.String()+" ("+f.Reason+")")
	}
	return "reliquidation failed for " + joinSorted(parts)
}

func joinSorted(items []string) string {
	sort.Strings(items)
	return strings.Join(items, ", ")
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
