package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/platinummonkey/tenantbilling/pkg/app"
	"github.com/platinummonkey/tenantbilling/pkg/audit"
	"github.com/platinummonkey/tenantbilling/pkg/billing"
	"github.com/platinummonkey/tenantbilling/pkg/cli"
	"github.com/platinummonkey/tenantbilling/pkg/config"
	"github.com/platinummonkey/tenantbilling/pkg/observability"
	"github.com/platinummonkey/tenantbilling/pkg/scheduler"
)

func main() {
	runOnce := flag.Bool("run-once", false, "Run every job once and exit")
	dryRun := flag.Bool("dry-run", false, "Report what the jobs would change without writing")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		observability.NewLogger(observability.InfoLevel, os.Stderr).WithError(err).Error("Invalid configuration")
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).WithField("service", "billing-scheduler")

	if err := run(cfg, logger, *runOnce, *dryRun); err != nil {
		logger.WithError(err).Error("Billing scheduler stopped with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger, runOnce, dryRun bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.WithError(err).Warn("Failed to release connections")
		}
	}()

	rt := &cli.Runtime{Subscriptions: a.Subscriptions, Renewals: a.Renewals}
	sched := scheduler.New(a.Redis, cfg.Scheduler.LockTTL, logger)

	jobs := []scheduler.Job{
		{
			Name: cli.DueRenewalsJob,
			Spec: cfg.Scheduler.DueRenewalsSpec,
			Run: func(ctx context.Context) error {
				summary, err := a.Renewals.ProcessDueRenewals(ctx, billing.DueRenewalOptions{DryRun: dryRun})
				if err != nil {
					return err
				}
				logger.WithFields(map[string]interface{}{
					"total":            summary.Total,
					"successful":       summary.Successful,
					"failed":           summary.Failed,
					"requiring_action": summary.RequiringAction,
				}).Info("Due renewals processed")
				return nil
			},
		},
		{
			Name: cli.ExpiryJob,
			Spec: cfg.Scheduler.ExpirySpec,
			Run: func(ctx context.Context) error {
				return cli.RunMaintenanceSweeps(ctx, rt, billing.SweepOptions{DryRun: dryRun}, func(sweep string, result *billing.SweepResult) {
					logger.WithFields(map[string]interface{}{
						"sweep":     sweep,
						"examined":  result.Examined,
						"processed": result.Processed,
						"failed":    result.Failed,
					}).Info("Sweep finished")
				})
			},
		},
	}
	if a.Archiver != nil {
		jobs = append(jobs, scheduler.Job{
			Name: cli.AuditArchiveJob,
			Spec: cfg.Scheduler.ArchiveSpec,
			Run: func(ctx context.Context) error {
				yesterday := time.Now().UTC().AddDate(0, 0, -1)
				return cli.ArchiveAuditDays(ctx, a.Archiver, yesterday, 1, false, func(result *audit.ArchiveResult) {
					logger.WithFields(map[string]interface{}{
						"key":     result.Key,
						"bytes":   result.Bytes,
						"skipped": result.Skipped,
					}).Info("Audit day archived")
				})
			},
		})
	}
	for _, job := range jobs {
		if err := sched.Add(job); err != nil {
			return err
		}
	}

	if runOnce {
		return sched.RunAll(ctx)
	}

	sched.Start(ctx)
	logger.WithField("jobs", len(sched.Jobs())).Info("Scheduler started")

	<-ctx.Done()
	logger.Info("Stopping scheduler, waiting for running jobs")
	<-sched.Stop().Done()
	return nil
}
