package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/odyssey-erp/payroll/cmd/payroll/cli"
	"github.com/odyssey-erp/payroll/internal/app"
	"github.com/odyssey-erp/payroll/internal/observability"
)

const usage = `usage: payroll [serve | reconcile | backfill | jobs <trigger|inspect>] [flags]`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	command, args := "serve", []string(nil)
	if len(os.Args) > 1 {
		command, args = os.Args[1], os.Args[2:]
	}

	switch command {
	case "serve":
		if err := serve(ctx, stop, cfg, logger); err != nil {
			logger.Error("serve", slog.Any("error", err))
			os.Exit(1)
		}
	case "reconcile", "backfill":
		container, err := app.Build(ctx, cfg, logger, observability.NewMetrics())
		if err != nil {
			logger.Error("build container", slog.Any("error", err))
			os.Exit(1)
		}
		var code int
		if command == "reconcile" {
			code = cli.ReconcileCommand(ctx, container.Reconciler, args, cli.RunOptions{})
		} else {
			code = cli.BackfillCommand(ctx, container.Reconciler, args, cli.RunOptions{})
		}
		container.Close()
		os.Exit(code)
	case "jobs":
		os.Exit(runJobs(ctx, cfg.RedisAddr, args))
	default:
		_, _ = fmt.Fprintln(os.Stderr, usage)
		os.Exit(cli.ExitUsage)
	}
}

func serve(ctx context.Context, stop context.CancelFunc, cfg *app.Config, logger *slog.Logger) error {
	metrics := observability.NewMetrics()
	container, err := app.Build(ctx, cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer container.Close()

	if container.Jobs == nil {
		logger.Warn("no job queue configured, running reconcile sweep in process",
			slog.Duration("interval", cfg.StaleGrace))
		go container.RunInProcessSweep(ctx, cfg.StaleGrace)
	}

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      container.Router(),
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("storage", cfg.StorageDriver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
	return nil
}
