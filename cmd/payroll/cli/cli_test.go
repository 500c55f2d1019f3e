package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/payroll/internal/shared"
	"github.com/odyssey-erp/payroll/internal/staleness"
	"github.com/odyssey-erp/payroll/jobs"
)

type stubReconciler struct {
	result     staleness.Result
	err        error
	backfilled int
	gotPeriod  *uuid.UUID
	gotTrigger string
	gotActor   string
}

func (s *stubReconciler) ReconcileStale(ctx context.Context, periodID *uuid.UUID, trigger string) (staleness.Result, error) {
	s.gotPeriod = periodID
	s.gotTrigger = trigger
	s.gotActor = shared.ActorFromContext(ctx)
	return s.result, s.err
}

func (s *stubReconciler) BackfillSnapshots(ctx context.Context, periodID *uuid.UUID) (int, error) {
	s.gotPeriod = periodID
	s.gotActor = shared.ActorFromContext(ctx)
	return s.backfilled, s.err
}

func TestReconcileCommandJSONSuccess(t *testing.T) {
	periodID := uuid.New()
	stub := &stubReconciler{result: staleness.Result{
		EmployeesAffected:  2,
		CorrectionsApplied: 1,
		Periods:            []staleness.PeriodOutcome{{PeriodID: periodID, Reconciled: []uuid.UUID{uuid.New(), uuid.New()}, Corrections: 1}},
	}}
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)

	code := ReconcileCommand(context.Background(), stub, []string{"--period", periodID.String(), "--json", "--actor", "ops@example.com"}, RunOptions{Stdout: stdout, Stderr: stderr})

	require.Equal(t, ExitOK, code, stderr.String())
	require.NotNil(t, stub.gotPeriod)
	require.Equal(t, periodID, *stub.gotPeriod)
	require.Equal(t, staleness.TriggerManual, stub.gotTrigger)
	require.Equal(t, "ops@example.com", stub.gotActor)

	var decoded staleness.Result
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &decoded))
	require.Equal(t, 2, decoded.EmployeesAffected)
	require.Equal(t, 1, decoded.CorrectionsApplied)
}

func TestReconcileCommandPartialFailureExitCode(t *testing.T) {
	periodID, employeeID := uuid.New(), uuid.New()
	failures := []shared.EmployeeFailure{{EmployeeID: employeeID, Reason: "missing base salary"}}
	stub := &stubReconciler{result: staleness.Result{
		Periods: []staleness.PeriodOutcome{{
			PeriodID: periodID,
			Failures: failures,
			Error:    &shared.ReconciliationError{PeriodID: periodID, Failures: failures},
		}},
	}}
	stdout := new(bytes.Buffer)

	code := ReconcileCommand(context.Background(), stub, nil, RunOptions{Stdout: stdout, Stderr: new(bytes.Buffer)})

	require.Equal(t, ExitPartial, code)
	require.Nil(t, stub.gotPeriod)
	require.Equal(t, shared.ActorSystem, stub.gotActor)
	require.Contains(t, stdout.String(), "1 failed")
	require.Contains(t, stdout.String(), "missing base salary")
}

func TestReconcileCommandRejectsBadPeriod(t *testing.T) {
	stderr := new(bytes.Buffer)
	code := ReconcileCommand(context.Background(), &stubReconciler{}, []string{"--period", "not-a-uuid"}, RunOptions{Stdout: new(bytes.Buffer), Stderr: stderr})
	require.Equal(t, ExitUsage, code)
	require.Contains(t, stderr.String(), "invalid --period")
}

func TestReconcileCommandFatalError(t *testing.T) {
	stderr := new(bytes.Buffer)
	code := ReconcileCommand(context.Background(), &stubReconciler{err: errors.New("db down")}, nil, RunOptions{Stdout: new(bytes.Buffer), Stderr: stderr})
	require.Equal(t, ExitFailed, code)
	require.Contains(t, stderr.String(), "db down")
}

func TestBackfillCommandReportsCount(t *testing.T) {
	stub := &stubReconciler{backfilled: 3}
	stdout := new(bytes.Buffer)
	code := BackfillCommand(context.Background(), stub, nil, RunOptions{Stdout: stdout, Stderr: new(bytes.Buffer)})
	require.Equal(t, ExitOK, code)
	require.Equal(t, "attached 3 snapshot(s)\n", stdout.String())
}

func TestBuildTaskAliases(t *testing.T) {
	task, err := BuildTask("reconcile", nil)
	require.NoError(t, err)
	require.Equal(t, jobs.TaskReconcileStale, task.Type())

	task, err = BuildTask(jobs.TaskBackfillSnapshots, nil)
	require.NoError(t, err)
	require.Equal(t, jobs.TaskBackfillSnapshots, task.Type())

	_, err = BuildTask("unknown", nil)
	require.Error(t, err)
}
