package staleness_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/payroll/internal/audit"
	"github.com/odyssey-erp/payroll/internal/companyconfig"
	"github.com/odyssey-erp/payroll/internal/employees"
	"github.com/odyssey-erp/payroll/internal/liquidation"
	"github.com/odyssey-erp/payroll/internal/novelties"
	"github.com/odyssey-erp/payroll/internal/periods"
	"github.com/odyssey-erp/payroll/internal/shared"
	"github.com/odyssey-erp/payroll/internal/staleness"
	"github.com/odyssey-erp/payroll/internal/store/memory"
)

const grace = 2 * time.Minute

type scheduled struct {
	period, employee uuid.UUID
	delay            time.Duration
}

type schedulerSpy struct {
	mu   sync.Mutex
	runs []scheduled
}

func (s *schedulerSpy) ScheduleReconcile(_ context.Context, periodID, employeeID uuid.UUID, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, scheduled{period: periodID, employee: employeeID, delay: delay})
	return nil
}

type harness struct {
	now        time.Time
	periods    *periods.Service
	compute    *liquidation.Service
	ledger     *novelties.Service
	detector   *staleness.Detector
	reconciler *staleness.Reconciler
	records    *memory.RecordStore
	novelties  *memory.NoveltyStore
	audit      *memory.AuditStore
	directory  *memory.Directory
	scheduler  *schedulerSpy
	company    uuid.UUID
	staff      []employees.Snapshot
	period     periods.Period
}

func newHarness(t *testing.T, salaries ...int64) *harness {
	t.Helper()
	h := &harness{
		now:       time.Date(2025, 3, 16, 8, 0, 0, 0, time.UTC),
		records:   memory.NewRecordStore(),
		novelties: memory.NewNoveltyStore(),
		audit:     memory.NewAuditStore(),
		scheduler: &schedulerSpy{},
		company:   uuid.New(),
	}
	for _, salary := range salaries {
		h.staff = append(h.staff, employees.Snapshot{ID: uuid.New(), CompanyID: h.company, Name: "emp", BaseSalary: decimal.NewFromInt(salary)})
	}
	clock := func() time.Time { return h.now }
	h.directory = memory.NewDirectory(h.staff...)
	configs := companyconfig.StaticProvider{Now: clock}
	auditSvc := audit.NewService(h.audit, nil)
	auditSvc.WithNow(clock)

	h.periods = periods.NewService(periods.Deps{
		Repository:  memory.NewPeriodStore(),
		Records:     h.records,
		Directory:   h.directory,
		Audit:       auditSvc,
		Idempotency: shared.NewMemoryIdempotencyStore(),
	})
	h.periods.WithNow(clock)
	h.compute = liquidation.NewService(liquidation.Deps{
		Repository: h.records,
		Periods:    h.periods,
		Novelties:  h.novelties,
		Directory:  h.directory,
		Configs:    configs,
		Activity:   h.periods,
	})
	h.compute.WithNow(clock)
	h.periods.SetComputer(h.compute)

	h.detector = staleness.NewDetector(h.records, h.novelties, h.scheduler, grace, nil, nil)
	h.detector.WithNow(clock)
	h.periods.SetDriftChecker(h.detector)
	h.ledger = novelties.NewService(h.novelties, h.periods, novelties.Options{
		Directory:  h.directory,
		Configs:    configs,
		Dispatcher: novelties.NewDispatcher(h.detector),
	})
	h.ledger.WithNow(clock)
	h.reconciler = staleness.NewReconciler(staleness.Deps{
		Records:    h.records,
		Recomputer: h.compute,
		Periods:    h.periods,
		Editable:   h.periods,
		Novelties:  h.novelties,
		Directory:  h.directory,
		Configs:    configs,
		Audit:      auditSvc,
		Detector:   h.detector,
		Grace:      grace,
	})
	h.reconciler.WithNow(clock)

	var err error
	h.period, err = h.periods.CreateDraft(context.Background(), periods.CreateInput{
		CompanyID:   h.company,
		Name:        "2025-03 Q1",
		Periodicity: "biweekly",
		StartDate:   time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		EndDate:     time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	result, err := h.compute.ComputePeriod(context.Background(), h.period.ID, liquidation.Options{})
	require.NoError(t, err)
	require.Empty(t, result.Failures)
	return h
}

func (h *harness) advance(d time.Duration) {
	h.now = h.now.Add(d)
}

func (h *harness) addBonus(t *testing.T, employeeID uuid.UUID, value int64) (novelties.Novelty, []novelties.SideEffect) {
	t.Helper()
	n, effects, err := h.ledger.Create(context.Background(), novelties.CreateInput{
		EmployeeID: employeeID,
		PeriodID:   h.period.ID,
		Type:       novelties.TypeBonus,
		Value:      decimal.NewFromInt(value),
	})
	require.NoError(t, err)
	return n, effects
}

func (h *harness) current(t *testing.T, employeeID uuid.UUID) liquidation.Record {
	t.Helper()
	rec, err := h.records.Current(context.Background(), h.period.ID, employeeID)
	require.NoError(t, err)
	return rec
}

func actions(effects []novelties.SideEffect) []string {
	out := make([]string, 0, len(effects))
	for _, e := range effects {
		out = append(out, e.Action)
	}
	return out
}

func TestNoveltyChangeMarksRecordStaleAndSchedules(t *testing.T) {
	h := newHarness(t, 3_000_000)
	emp := h.staff[0].ID

	h.advance(time.Minute)
	_, effects := h.addBonus(t, emp, 200_000)

	assert.ElementsMatch(t, []string{novelties.ActionRecordMarkedStale, novelties.ActionReconcileScheduled}, actions(effects))
	rec := h.current(t, emp)
	assert.True(t, rec.IsStale)
	require.NotNil(t, rec.StaleSince)
	assert.True(t, rec.StaleSince.Equal(h.now))
	require.Len(t, h.scheduler.runs, 1)
	assert.Equal(t, grace, h.scheduler.runs[0].delay)
	assert.Equal(t, emp, h.scheduler.runs[0].employee)
}

func TestRepeatedChangesKeepFirstStaleMark(t *testing.T) {
	h := newHarness(t, 3_000_000)
	emp := h.staff[0].ID

	h.advance(time.Minute)
	h.addBonus(t, emp, 100_000)
	first := h.current(t, emp).StaleSince
	h.advance(10 * time.Second)
	_, effects := h.addBonus(t, emp, 100_000)

	assert.Empty(t, effects)
	assert.Equal(t, first, h.current(t, emp).StaleSince)
	assert.Len(t, h.scheduler.runs, 1)
}

func TestReconcileRespectsGraceInterval(t *testing.T) {
	h := newHarness(t, 3_000_000, 2_000_000)
	emp := h.staff[0].ID
	ctx := context.Background()

	h.advance(time.Minute)
	h.addBonus(t, emp, 300_000)

	h.advance(30 * time.Second)
	result, err := h.reconciler.ReconcileStale(ctx, nil, staleness.TriggerScheduled)
	require.NoError(t, err)
	assert.Zero(t, result.EmployeesAffected)
	assert.True(t, h.current(t, emp).IsStale)

	h.advance(grace)
	result, err = h.reconciler.ReconcileStale(ctx, nil, staleness.TriggerScheduled)
	require.NoError(t, err)
	require.NoError(t, result.Err())
	assert.Equal(t, 1, result.EmployeesAffected)
	assert.Equal(t, 1, result.CorrectionsApplied)

	rec := h.current(t, emp)
	assert.False(t, rec.IsStale)
	assert.Equal(t, 2, rec.Version)
	assert.Equal(t, liquidation.TriggerReconciliation, rec.Trigger)
	assert.Equal(t, 1, h.current(t, h.staff[1].ID).Version)

	entries := h.audit.Entries()
	last := entries[len(entries)-1]
	assert.Equal(t, audit.ActionReconciliation, last.Action)
	assert.Equal(t, staleness.TriggerScheduled, last.Trigger)
	assert.Equal(t, []uuid.UUID{emp}, last.AffectedEmployees)
	assert.Equal(t, h.period.ID, last.PeriodID)
}

func TestReconcileFailureLeavesRecordStale(t *testing.T) {
	h := newHarness(t, 3_000_000)
	emp := h.staff[0]

	h.advance(time.Minute)
	h.addBonus(t, emp.ID, 100_000)
	since := *h.current(t, emp.ID).StaleSince

	emp.BaseSalary = decimal.Zero
	h.directory.Put(emp)
	h.advance(grace + time.Second)

	result, err := h.reconciler.ReconcileStale(context.Background(), &h.period.ID, staleness.TriggerManual)
	require.NoError(t, err)
	assert.Zero(t, result.EmployeesAffected)
	require.Len(t, result.Periods, 1)
	require.Len(t, result.Periods[0].Failures, 1)
	assert.ErrorIs(t, result.Err(), shared.ErrReconciliation)

	rec := h.current(t, emp.ID)
	assert.True(t, rec.IsStale)
	require.NotNil(t, rec.StaleSince)
	assert.True(t, rec.StaleSince.Equal(since))

	entries := h.audit.Entries()
	last := entries[len(entries)-1]
	assert.Equal(t, audit.ActionReconciliation, last.Action)
	assert.Contains(t, last.Metadata, "error")

	// the record stays eligible for the next pass
	emp.BaseSalary = decimal.NewFromInt(3_000_000)
	h.directory.Put(emp)
	result, err = h.reconciler.ReconcileStale(context.Background(), &h.period.ID, staleness.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 1, result.EmployeesAffected)
	assert.False(t, h.current(t, emp.ID).IsStale)
}

func TestScanCatchesDriftWithoutEvents(t *testing.T) {
	h := newHarness(t, 3_000_000)
	emp := h.staff[0].ID
	ctx := context.Background()

	h.advance(time.Minute)
	require.NoError(t, h.novelties.Insert(ctx, novelties.Novelty{
		ID:           uuid.New(),
		CompanyID:    h.company,
		EmployeeID:   emp,
		PeriodID:     h.period.ID,
		Type:         novelties.TypeCommission,
		Value:        decimal.NewFromInt(50_000),
		Constitutive: true,
		CreatedAt:    h.now,
		UpdatedAt:    h.now,
	}))

	marked, err := h.detector.Scan(ctx, h.period.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, marked)
	assert.True(t, h.current(t, emp).IsStale)

	marked, err = h.detector.Scan(ctx, h.period.ID)
	require.NoError(t, err)
	assert.Zero(t, marked)
}

func TestReconcileEmployeeTouchesOnlyThatEmployee(t *testing.T) {
	h := newHarness(t, 3_000_000, 2_000_000)
	ctx := context.Background()

	h.advance(time.Minute)
	h.addBonus(t, h.staff[0].ID, 100_000)
	h.addBonus(t, h.staff[1].ID, 100_000)
	h.advance(grace)

	result, err := h.reconciler.ReconcileEmployee(ctx, h.period.ID, h.staff[1].ID, staleness.TriggerDebounced)
	require.NoError(t, err)
	assert.Equal(t, 1, result.EmployeesAffected)
	assert.True(t, h.current(t, h.staff[0].ID).IsStale)
	assert.False(t, h.current(t, h.staff[1].ID).IsStale)
}

func TestReconcileSkipsClosedPeriods(t *testing.T) {
	h := newHarness(t, 3_000_000)
	ctx := context.Background()
	emp := h.staff[0].ID

	_, err := h.periods.Close(ctx, h.period.ID, periods.TransitionInput{Actor: "ops"})
	require.NoError(t, err)
	h.advance(time.Minute)
	require.NoError(t, h.records.FlagStale(ctx, h.period.ID, emp, h.now))
	h.advance(grace)

	result, err := h.reconciler.ReconcileStale(ctx, nil, staleness.TriggerScheduled)
	require.NoError(t, err)
	require.Len(t, result.Periods, 1)
	assert.Equal(t, periods.StatusClosed, result.Periods[0].Skipped)
	assert.Zero(t, result.EmployeesAffected)
	assert.True(t, h.current(t, emp).IsStale)
}

func TestBackfillAttachesRetroactiveSnapshot(t *testing.T) {
	h := newHarness(t, 3_000_000)
	emp := h.staff[0].ID
	ctx := context.Background()

	legacy := h.current(t, emp)
	legacy.ID = uuid.New()
	legacy.Version++
	legacy.Snapshot = nil
	legacy.IBC = legacy.IBC.Add(decimal.NewFromInt(1_000))
	h.records.Put(legacy)

	filled, err := h.reconciler.BackfillSnapshots(ctx, &h.period.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, filled)

	rec := h.current(t, emp)
	require.NotNil(t, rec.Snapshot)
	assert.True(t, rec.Snapshot.Retroactive)
	assert.True(t, rec.Snapshot.Total.Equal(legacy.IBC))
	require.True(t, rec.Snapshot.UnknownDelta.Valid)
	assert.True(t, rec.Snapshot.UnknownDelta.Decimal.Equal(decimal.NewFromInt(1_000)))

	filled, err = h.reconciler.BackfillSnapshots(ctx, &h.period.ID)
	require.NoError(t, err)
	assert.Zero(t, filled)
}

// closingStore closes the period from inside the ledger write, the way a
// concurrent close request would land between the editable check and the insert.
type closingStore struct {
	*memory.NoveltyStore
	close    func(ctx context.Context) error
	closeErr error
}

func (s *closingStore) Insert(ctx context.Context, n novelties.Novelty) error {
	s.closeErr = s.close(ctx)
	return s.NoveltyStore.Insert(ctx, n)
}

func TestCloseCannotInterleaveWithLedgerWrite(t *testing.T) {
	h := newHarness(t, 3_000_000)
	ctx := context.Background()
	emp := h.staff[0].ID

	store := &closingStore{NoveltyStore: h.novelties}
	store.close = func(ctx context.Context) error {
		_, err := h.periods.Close(ctx, h.period.ID, periods.TransitionInput{Actor: "ops"})
		return err
	}
	ledger := novelties.NewService(store, h.periods, novelties.Options{
		Directory:  h.directory,
		Dispatcher: novelties.NewDispatcher(h.detector),
	})
	ledger.WithNow(func() time.Time { return h.now })

	h.advance(time.Minute)
	_, _, err := ledger.Create(ctx, novelties.CreateInput{
		EmployeeID: emp,
		PeriodID:   h.period.ID,
		Type:       novelties.TypeBonus,
		Value:      decimal.NewFromInt(500_000),
	})
	require.NoError(t, err)

	var conflict *shared.StateConflictError
	require.ErrorAs(t, store.closeErr, &conflict)
	assert.Equal(t, periods.RuleTransitionInFlight, conflict.Rule)

	p, err := h.periods.Get(ctx, h.period.ID)
	require.NoError(t, err)
	assert.Equal(t, periods.StatusDraft, p.Status)
	assert.True(t, h.current(t, emp).IsStale)

	_, err = h.periods.Close(ctx, h.period.ID, periods.TransitionInput{Actor: "ops"})
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, periods.RuleRecordsStale, conflict.Rule)
}

// brokenMarks fails every stale mark, losing the change event.
type brokenMarks struct {
	*memory.RecordStore
}

func (brokenMarks) MarkStale(context.Context, uuid.UUID, uuid.UUID, time.Time) (bool, error) {
	return false, errors.New("records unavailable")
}

func (h *harness) ledgerWithBrokenDetector() *novelties.Service {
	broken := staleness.NewDetector(brokenMarks{h.records}, h.novelties, nil, grace, nil, nil)
	ledger := novelties.NewService(h.novelties, h.periods, novelties.Options{
		Directory:  h.directory,
		Dispatcher: novelties.NewDispatcher(broken),
	})
	ledger.WithNow(func() time.Time { return h.now })
	return ledger
}

func TestCloseRefusedWhenStaleMarkWasLost(t *testing.T) {
	h := newHarness(t, 3_000_000)
	ctx := context.Background()
	emp := h.staff[0].ID

	h.advance(time.Minute)
	_, effects, err := h.ledgerWithBrokenDetector().Create(ctx, novelties.CreateInput{
		EmployeeID: emp,
		PeriodID:   h.period.ID,
		Type:       novelties.TypeBonus,
		Value:      decimal.NewFromInt(500_000),
	})
	require.NoError(t, err)
	assert.Empty(t, effects)
	assert.False(t, h.current(t, emp).IsStale)

	_, err = h.periods.Close(ctx, h.period.ID, periods.TransitionInput{Actor: "ops"})
	var conflict *shared.StateConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, periods.RuleRecordsStale, conflict.Rule)
	assert.True(t, h.current(t, emp).IsStale)

	p, err := h.periods.Get(ctx, h.period.ID)
	require.NoError(t, err)
	assert.Equal(t, periods.StatusDraft, p.Status)
}

func TestSweepScansEditablePeriodsForLostMarks(t *testing.T) {
	h := newHarness(t, 3_000_000)
	ctx := context.Background()
	emp := h.staff[0].ID

	h.advance(time.Minute)
	_, _, err := h.ledgerWithBrokenDetector().Create(ctx, novelties.CreateInput{
		EmployeeID: emp,
		PeriodID:   h.period.ID,
		Type:       novelties.TypeBonus,
		Value:      decimal.NewFromInt(500_000),
	})
	require.NoError(t, err)

	result, err := h.reconciler.ReconcileStale(ctx, nil, staleness.TriggerScheduled)
	require.NoError(t, err)
	assert.Zero(t, result.EmployeesAffected)
	assert.True(t, h.current(t, emp).IsStale)

	h.advance(grace)
	result, err = h.reconciler.ReconcileStale(ctx, nil, staleness.TriggerScheduled)
	require.NoError(t, err)
	assert.Equal(t, 1, result.EmployeesAffected)
	rec := h.current(t, emp)
	assert.False(t, rec.IsStale)
	assert.Equal(t, "500000", rec.NoveltyEarnings.String())
}
