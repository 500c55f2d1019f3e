package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/odyssey-erp/payroll/internal/shared"
	"github.com/odyssey-erp/payroll/internal/staleness"
)

// Reconciler is the slice of the staleness reconciler the CLI drives.
type Reconciler interface {
	ReconcileStale(ctx context.Context, periodID *uuid.UUID, trigger string) (staleness.Result, error)
	BackfillSnapshots(ctx context.Context, periodID *uuid.UUID) (int, error)
}

// Exit codes returned by the commands.
const (
	ExitOK      = 0
	ExitUsage   = 1
	ExitFailed  = 2
	ExitPartial = 10
)

// RunOptions routes command output.
type RunOptions struct {
	Stdout io.Writer
	Stderr io.Writer
}

func (o RunOptions) withDefaults() RunOptions {
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
	return o
}

type scopeFlags struct {
	period string
	json   bool
	actor  string
}

func parseScope(name string, args []string, stderr io.Writer) (scopeFlags, *uuid.UUID, error) {
	var f scopeFlags
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.period, "period", "", "limit the run to one payroll period id")
	fs.BoolVar(&f.json, "json", false, "print the result as JSON")
	fs.StringVar(&f.actor, "actor", "", "actor recorded in the audit trail")
	if err := fs.Parse(args); err != nil {
		return f, nil, err
	}
	if strings.TrimSpace(f.period) == "" {
		return f, nil, nil
	}
	id, err := uuid.Parse(strings.TrimSpace(f.period))
	if err != nil {
		return f, nil, fmt.Errorf("invalid --period %q", f.period)
	}
	return f, &id, nil
}

func actorContext(ctx context.Context, actor string) context.Context {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		actor = shared.ActorSystem
	}
	return shared.ContextWithActor(ctx, actor)
}

// ReconcileCommand runs one manual reconciliation pass in process. It exits
// with ExitPartial when some employees could not be recomputed.
func ReconcileCommand(ctx context.Context, r Reconciler, args []string, opts RunOptions) int {
	opts = opts.withDefaults()
	f, periodID, err := parseScope("reconcile", args, opts.Stderr)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "reconcile: %v\n", err)
		return ExitUsage
	}
	res, err := r.ReconcileStale(actorContext(ctx, f.actor), periodID, staleness.TriggerManual)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "reconcile: %v\n", err)
		return ExitFailed
	}
	if f.json {
		if err := json.NewEncoder(opts.Stdout).Encode(res); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "reconcile: encode json: %v\n", err)
			return ExitFailed
		}
	} else {
		renderReconcileHuman(opts.Stdout, res)
	}
	if res.Err() != nil {
		return ExitPartial
	}
	return ExitOK
}

func renderReconcileHuman(out io.Writer, res staleness.Result) {
	_, _ = fmt.Fprintf(out, "reconciled %d employee(s), %d correction(s) applied\n", res.EmployeesAffected, res.CorrectionsApplied)
	for _, p := range res.Periods {
		switch {
		case p.Skipped != "":
			_, _ = fmt.Fprintf(out, "  period %s skipped (%s)\n", p.PeriodID, p.Skipped)
		case len(p.Failures) > 0:
			_, _ = fmt.Fprintf(out, "  period %s: %d reconciled, %d failed\n", p.PeriodID, len(p.Reconciled), len(p.Failures))
			for _, f := range p.Failures {
				_, _ = fmt.Fprintf(out, "    %s: %s\n", f.EmployeeID, f.Reason)
			}
		default:
			_, _ = fmt.Fprintf(out, "  period %s: %d reconciled\n", p.PeriodID, len(p.Reconciled))
		}
	}
}

// BackfillCommand attaches retroactive IBC snapshots to legacy records.
func BackfillCommand(ctx context.Context, r Reconciler, args []string, opts RunOptions) int {
	opts = opts.withDefaults()
	f, periodID, err := parseScope("backfill", args, opts.Stderr)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "backfill: %v\n", err)
		return ExitUsage
	}
	n, err := r.BackfillSnapshots(actorContext(ctx, f.actor), periodID)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "backfill: %v\n", err)
		return ExitFailed
	}
	if f.json {
		_ = json.NewEncoder(opts.Stdout).Encode(map[string]int{"backfilled": n})
	} else {
		_, _ = fmt.Fprintf(opts.Stdout, "attached %d snapshot(s)\n", n)
	}
	return ExitOK
}
