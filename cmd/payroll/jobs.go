package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/odyssey-erp/payroll/cmd/payroll/cli"
)

func runJobs(ctx context.Context, redisAddr string, args []string) int {
	if len(args) == 0 {
		_, _ = fmt.Fprintln(os.Stderr, "usage: payroll jobs <trigger NAME [--period ID] | inspect [--scheduled N]>")
		return cli.ExitUsage
	}
	jobsCLI, err := cli.NewJobsCLI(redisAddr)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "jobs: %v\n", err)
		return cli.ExitUsage
	}
	defer func() { _ = jobsCLI.Close() }()

	switch args[0] {
	case "trigger":
		fs := flag.NewFlagSet("jobs trigger", flag.ContinueOnError)
		period := fs.String("period", "", "limit the task to one payroll period id")
		if len(args) < 2 {
			_, _ = fmt.Fprintln(os.Stderr, "jobs trigger: task name is required")
			return cli.ExitUsage
		}
		if err := fs.Parse(args[2:]); err != nil {
			return cli.ExitUsage
		}
		var periodID *uuid.UUID
		if p := strings.TrimSpace(*period); p != "" {
			id, err := uuid.Parse(p)
			if err != nil {
				_, _ = fmt.Fprintf(os.Stderr, "jobs trigger: invalid --period %q\n", p)
				return cli.ExitUsage
			}
			periodID = &id
		}
		info, err := jobsCLI.Trigger(ctx, args[1], periodID)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "jobs trigger: %v\n", err)
			return cli.ExitFailed
		}
		_, _ = fmt.Fprintf(os.Stdout, "enqueued %s as %s\n", info.Type, info.ID)
	case "inspect":
		fs := flag.NewFlagSet("jobs inspect", flag.ContinueOnError)
		scheduled := fs.Int("scheduled", 0, "also list up to N scheduled tasks")
		if err := fs.Parse(args[1:]); err != nil {
			return cli.ExitUsage
		}
		stats, err := jobsCLI.InspectQueue(ctx)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "jobs inspect: %v\n", err)
			return cli.ExitFailed
		}
		_ = json.NewEncoder(os.Stdout).Encode(stats)
		if *scheduled > 0 {
			tasks, err := jobsCLI.ListScheduled(ctx, *scheduled)
			if err != nil {
				_, _ = fmt.Fprintf(os.Stderr, "jobs inspect: %v\n", err)
				return cli.ExitFailed
			}
			for _, t := range tasks {
				_, _ = fmt.Fprintf(os.Stdout, "%s\t%s\t%s\n", t.ID, t.Type, t.NextProcessAt.Format("2006-01-02T15:04:05Z07:00"))
			}
		}
	default:
		_, _ = fmt.Fprintf(os.Stderr, "jobs: unknown subcommand %s\n", args[0])
		return cli.ExitUsage
	}
	return cli.ExitOK
}
