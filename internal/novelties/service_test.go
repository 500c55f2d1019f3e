package novelties_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/payroll/internal/employees"
	"github.com/odyssey-erp/payroll/internal/novelties"
	"github.com/odyssey-erp/payroll/internal/proration"
	"github.com/odyssey-erp/payroll/internal/shared"
	"github.com/odyssey-erp/payroll/internal/store/memory"
)

type stubGuard struct {
	scope shared.PeriodScope
}

func (g *stubGuard) Scope(_ context.Context, periodID uuid.UUID) (shared.PeriodScope, error) {
	if periodID != g.scope.ID {
		return shared.PeriodScope{}, shared.ErrNotFound
	}
	return g.scope, nil
}

func (g *stubGuard) EnsureEditable(ctx context.Context, periodID uuid.UUID) (shared.PeriodScope, error) {
	scope, err := g.Scope(ctx, periodID)
	if err != nil {
		return scope, err
	}
	if !scope.Editable() {
		return scope, shared.NewStateConflictError(periodID, "period_not_editable", "period is "+scope.Status)
	}
	return scope, nil
}

func (g *stubGuard) WithEditable(ctx context.Context, periodID uuid.UUID, fn func(shared.PeriodScope) error) error {
	scope, err := g.EnsureEditable(ctx, periodID)
	if err != nil {
		return err
	}
	return fn(scope)
}

type fixture struct {
	svc      *novelties.Service
	guard    *stubGuard
	cache    *novelties.MemoryTotalsCache
	employee employees.Snapshot
}

func newFixture(t *testing.T, listeners ...novelties.Listener) fixture {
	t.Helper()
	company := uuid.New()
	guard := &stubGuard{scope: shared.PeriodScope{
		ID:        uuid.New(),
		CompanyID: company,
		Status:    shared.PeriodStatusDraft,
		Window: proration.Window{
			Start:       proration.Date(2025, time.March, 1),
			End:         proration.Date(2025, time.March, 31),
			Periodicity: proration.PeriodicityMonthly,
		},
	}}
	employee := employees.Snapshot{ID: uuid.New(), CompanyID: company, BaseSalary: decimal.NewFromInt(2_300_000)}
	cache := novelties.NewMemoryTotalsCache(time.Minute)
	dispatcher := novelties.NewDispatcher(append([]novelties.Listener{novelties.CacheInvalidator{Cache: cache}}, listeners...)...)
	svc := novelties.NewService(memory.NewNoveltyStore(), guard, novelties.Options{
		Directory:  memory.NewDirectory(employee),
		Dispatcher: dispatcher,
		Cache:      cache,
	})
	svc.WithNow(func() time.Time { return time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC) })
	return fixture{svc: svc, guard: guard, cache: cache, employee: employee}
}

func (f fixture) create(t *testing.T, typ novelties.Type, value int64) novelties.Novelty {
	t.Helper()
	n, _, err := f.svc.Create(context.Background(), novelties.CreateInput{
		EmployeeID: f.employee.ID,
		PeriodID:   f.guard.scope.ID,
		Type:       typ,
		Value:      decimal.NewFromInt(value),
	})
	require.NoError(t, err)
	return n
}

func datePtr(y int, m time.Month, d int) *time.Time {
	t := proration.Date(y, m, d)
	return &t
}

func TestCreateAppliesTypeDefaults(t *testing.T) {
	f := newFixture(t)
	n := f.create(t, novelties.TypeAbsence, 50_000)
	assert.True(t, n.Constitutive)
	assert.Equal(t, f.guard.scope.CompanyID, n.CompanyID)

	override := false
	n, _, err := f.svc.Create(context.Background(), novelties.CreateInput{
		EmployeeID:   f.employee.ID,
		PeriodID:     f.guard.scope.ID,
		Type:         novelties.TypeBonus,
		Value:        decimal.NewFromInt(10_000),
		Constitutive: &override,
	})
	require.NoError(t, err)
	assert.False(t, n.Constitutive)
}

func TestCreateRejectsRangeOutsidePeriod(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.svc.Create(context.Background(), novelties.CreateInput{
		EmployeeID: f.employee.ID,
		PeriodID:   f.guard.scope.ID,
		Type:       novelties.TypeIncapacity,
		StartDate:  datePtr(2025, time.March, 28),
		EndDate:    datePtr(2025, time.April, 2),
		Value:      decimal.NewFromInt(80_000),
	})
	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "novelty_outside_period", verr.Rule)
	assert.Equal(t, f.employee.ID, verr.EmployeeID)
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	f := newFixture(t)
	cases := map[string]struct {
		in   novelties.CreateInput
		rule string
	}{
		"negative value": {
			in:   novelties.CreateInput{Type: novelties.TypeBonus, Value: decimal.NewFromInt(-1)},
			rule: "negative_value",
		},
		"unknown type": {
			in:   novelties.CreateInput{Type: "tips", Value: decimal.NewFromInt(1)},
			rule: "unknown_novelty_type",
		},
		"inverted dates": {
			in: novelties.CreateInput{Type: novelties.TypeVacation, Value: decimal.NewFromInt(1),
				StartDate: datePtr(2025, time.March, 10), EndDate: datePtr(2025, time.March, 5)},
			rule: "novelty_dates_inverted",
		},
		"missing value": {
			in:   novelties.CreateInput{Type: novelties.TypeBonus},
			rule: "value_required",
		},
		"half range": {
			in:   novelties.CreateInput{Type: novelties.TypeVacation, Value: decimal.NewFromInt(1), StartDate: datePtr(2025, time.March, 10)},
			rule: "enddate_required_with",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			tc.in.EmployeeID = f.employee.ID
			tc.in.PeriodID = f.guard.scope.ID
			_, _, err := f.svc.Create(context.Background(), tc.in)
			var verr *shared.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.rule, verr.Rule)
		})
	}
}

func TestMutationsRequireEditablePeriod(t *testing.T) {
	f := newFixture(t)
	n := f.create(t, novelties.TypeBonus, 1_000)
	f.guard.scope.Status = shared.PeriodStatusClosed

	_, _, err := f.svc.Create(context.Background(), novelties.CreateInput{
		EmployeeID: f.employee.ID, PeriodID: f.guard.scope.ID, Type: novelties.TypeBonus, Value: decimal.NewFromInt(1),
	})
	assert.ErrorIs(t, err, shared.ErrStateConflict)

	_, err = f.svc.Delete(context.Background(), n.ID)
	assert.ErrorIs(t, err, shared.ErrStateConflict)

	_, _, err = f.svc.Update(context.Background(), n.ID, novelties.UpdateInput{Type: novelties.TypeBonus, Value: decimal.NewFromInt(2)})
	assert.ErrorIs(t, err, shared.ErrStateConflict)
}

func TestCreateDerivesHourlyValue(t *testing.T) {
	f := newFixture(t)
	n, _, err := f.svc.Create(context.Background(), novelties.CreateInput{
		EmployeeID: f.employee.ID,
		PeriodID:   f.guard.scope.ID,
		Type:       novelties.TypeOvertimeDay,
		StartDate:  datePtr(2025, time.March, 10),
		EndDate:    datePtr(2025, time.March, 10),
		Hours:      decimal.NewNullDecimal(decimal.NewFromInt(2)),
	})
	require.NoError(t, err)
	assert.Equal(t, "25000", n.Value.String())
}

func TestTotalsCacheInvalidatedOnMutation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, novelties.TypeBonus, 100_000)

	totals, err := f.svc.AggregateTotals(ctx, f.employee.ID, f.guard.scope.ID, novelties.VariantAll)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(100_000).Equal(totals.TotalEarnings))

	absence := f.create(t, novelties.TypeAbsence, 30_000)
	totals, err = f.svc.AggregateTotals(ctx, f.employee.ID, f.guard.scope.ID, novelties.VariantAll)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(30_000).Equal(totals.TotalDeductions))
	assert.True(t, decimal.NewFromInt(70_000).Equal(totals.TotalNet))

	effects, err := f.svc.Delete(ctx, absence.ID)
	require.NoError(t, err)
	require.Len(t, effects, 1)
	assert.Equal(t, novelties.ActionTotalsInvalidated, effects[0].Action)
	assert.Equal(t, "totals_cache", effects[0].Listener)

	totals, err = f.svc.EmployeeNoveltyTotals(ctx, f.employee.ID, f.guard.scope.ID)
	require.NoError(t, err)
	assert.True(t, totals.TotalDeductions.IsZero())
}

func TestDispatcherRunsEveryListener(t *testing.T) {
	var calls atomic.Int32
	ok := novelties.ListenerFunc{ID: "ok", Fn: func(_ context.Context, e novelties.ChangeEvent) ([]novelties.SideEffect, error) {
		calls.Add(1)
		return []novelties.SideEffect{{Action: "noted", EmployeeID: e.EmployeeID}}, nil
	}}
	failing := novelties.ListenerFunc{ID: "broken", Fn: func(context.Context, novelties.ChangeEvent) ([]novelties.SideEffect, error) {
		calls.Add(1)
		return nil, errors.New("boom")
	}}
	d := novelties.NewDispatcher(ok, failing)

	effects, err := d.Publish(context.Background(), novelties.ChangeEvent{Kind: novelties.ChangeCreated, EmployeeID: uuid.New()})
	require.Error(t, err)
	var lerr *novelties.ListenerError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, "broken", lerr.Listener)
	assert.EqualValues(t, 2, calls.Load())
	require.Len(t, effects, 1)
	assert.Equal(t, "ok", effects[0].Listener)
}

func TestMutationSurvivesListenerFailure(t *testing.T) {
	failing := novelties.ListenerFunc{ID: "broken", Fn: func(context.Context, novelties.ChangeEvent) ([]novelties.SideEffect, error) {
		return nil, errors.New("unavailable")
	}}
	f := newFixture(t, failing)
	n := f.create(t, novelties.TypeCommission, 5_000)

	items, err := f.svc.ListByEmployeePeriod(context.Background(), f.employee.ID, f.guard.scope.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, n.ID, items[0].ID)
}

func TestDispatcherJoinsEveryFailureInListenerOrder(t *testing.T) {
	mk := func(id string, fail bool) novelties.ListenerFunc {
		return novelties.ListenerFunc{ID: id, Fn: func(_ context.Context, e novelties.ChangeEvent) ([]novelties.SideEffect, error) {
			if fail {
				return []novelties.SideEffect{{Action: "partial"}}, errors.New(id + " down")
			}
			return []novelties.SideEffect{{Action: "noted"}}, nil
		}}
	}
	d := novelties.NewDispatcher(mk("first", true), mk("second", false), mk("third", true))

	effects, err := d.Publish(context.Background(), novelties.ChangeEvent{Kind: novelties.ChangeUpdated, EmployeeID: uuid.New()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "first down")
	assert.Contains(t, err.Error(), "third down")
	require.Len(t, effects, 3)
	assert.Equal(t, []string{"first", "second", "third"}, []string{effects[0].Listener, effects[1].Listener, effects[2].Listener})
}
