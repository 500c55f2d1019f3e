package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-erp/payroll/internal/jobs"
	"github.com/odyssey-erp/payroll/internal/shared"
	"github.com/odyssey-erp/payroll/internal/staleness"
	"github.com/odyssey-erp/payroll/internal/vouchers"
)

type stubReconciler struct {
	periodID *uuid.UUID
	employee uuid.UUID
	trigger  string
	actor    string
	result   staleness.Result
	err      error
}

func (s *stubReconciler) ReconcileStale(ctx context.Context, periodID *uuid.UUID, trigger string) (staleness.Result, error) {
	s.periodID, s.trigger, s.actor = periodID, trigger, shared.ActorFromContext(ctx)
	return s.result, s.err
}

func (s *stubReconciler) ReconcileEmployee(ctx context.Context, periodID, employeeID uuid.UUID, trigger string) (staleness.Result, error) {
	s.periodID, s.employee, s.trigger = &periodID, employeeID, trigger
	return s.result, s.err
}

func (s *stubReconciler) BackfillSnapshots(_ context.Context, periodID *uuid.UUID) (int, error) {
	s.periodID = periodID
	return 2, s.err
}

func newTestMetrics() *jobmetrics.Metrics {
	return jobmetrics.NewMetrics(prometheus.NewRegistry())
}

func failedResult(periodID uuid.UUID) staleness.Result {
	failures := []shared.EmployeeFailure{{EmployeeID: uuid.New(), Reason: "boom"}}
	return staleness.Result{Periods: []staleness.PeriodOutcome{{
		PeriodID: periodID,
		Failures: failures,
		Error:    &shared.ReconciliationError{PeriodID: periodID, Failures: failures},
	}}}
}

func TestSweepRunsAsSystemAndToleratesPartialFailure(t *testing.T) {
	periodID := uuid.New()
	rec := &stubReconciler{result: failedResult(periodID)}
	job := NewReconcileJob(rec, nil, newTestMetrics())
	task, err := NewReconcileStaleTask(&periodID)
	require.NoError(t, err)

	require.NoError(t, job.HandleSweep(context.Background(), task))
	assert.Equal(t, staleness.TriggerScheduled, rec.trigger)
	assert.Equal(t, shared.ActorSystem, rec.actor)
	require.NotNil(t, rec.periodID)
	assert.Equal(t, periodID, *rec.periodID)
}

func TestSweepPropagatesFatalErrors(t *testing.T) {
	rec := &stubReconciler{err: errors.New("db down")}
	task, err := NewReconcileStaleTask(nil)
	require.NoError(t, err)
	assert.Error(t, NewReconcileJob(rec, nil, newTestMetrics()).HandleSweep(context.Background(), task))
}

func TestEmployeeTaskRetriesWhileStillStale(t *testing.T) {
	periodID, employeeID := uuid.New(), uuid.New()
	rec := &stubReconciler{result: failedResult(periodID)}
	task, err := NewReconcileEmployeeTask(periodID, employeeID, time.Minute)
	require.NoError(t, err)

	err = NewReconcileJob(rec, nil, newTestMetrics()).HandleEmployee(context.Background(), task)
	assert.ErrorIs(t, err, shared.ErrReconciliation)
	assert.Equal(t, employeeID, rec.employee)
	assert.Equal(t, staleness.TriggerDebounced, rec.trigger)
}

func TestEmployeeTaskSkipsMalformedPayload(t *testing.T) {
	job := NewReconcileJob(&stubReconciler{}, nil, newTestMetrics())
	err := job.HandleEmployee(context.Background(), asynq.NewTask(TaskReconcileEmployee, []byte(`{"period_id":"`+uuid.NewString()+`"}`)))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestBackfillTask(t *testing.T) {
	rec := &stubReconciler{}
	task, err := NewBackfillTask(nil)
	require.NoError(t, err)
	require.NoError(t, NewReconcileJob(rec, nil, newTestMetrics()).HandleBackfill(context.Background(), task))
	assert.Nil(t, rec.periodID)
}

func TestReconcileEmployeeTaskID(t *testing.T) {
	periodID, employeeID := uuid.New(), uuid.New()
	assert.Equal(t, ReconcileEmployeeTaskID(periodID, employeeID), ReconcileEmployeeTaskID(periodID, employeeID))
	assert.NotEqual(t, ReconcileEmployeeTaskID(periodID, employeeID), ReconcileEmployeeTaskID(periodID, uuid.New()))
}

type senderFunc func(ctx context.Context, n vouchers.Notice) error

func (f senderFunc) Send(ctx context.Context, n vouchers.Notice) error { return f(ctx, n) }

func TestVoucherJobDeliversNotice(t *testing.T) {
	var got vouchers.Notice
	job := NewVoucherJob(senderFunc(func(_ context.Context, n vouchers.Notice) error {
		got = n
		return nil
	}), nil, newTestMetrics())
	notice := vouchers.Notice{PeriodID: uuid.New(), Reason: "reopened"}
	task, err := NewVoucherInvalidateTask(notice)
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, notice.PeriodID, got.PeriodID)

	failing := NewVoucherJob(senderFunc(func(context.Context, vouchers.Notice) error { return errors.New("502") }), nil, newTestMetrics())
	assert.Error(t, failing.Handle(context.Background(), task))
}

func TestHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(nil, nil).MountRoutes(r)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, QueueDefault, body["queue"])
	assert.EqualValues(t, 0, body["scheduled"])
}
