package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/tenantbilling/pkg/billing"
	"github.com/platinummonkey/tenantbilling/pkg/scheduler"
)

func newProcessDueRenewalsCommand(env *environment) *Command {
	cmd := &Command{
		Name:        "process-due-renewals",
		Description: "Charge auto-renewals whose renewal date has arrived",
		Flags:       flag.NewFlagSet("process-due-renewals", flag.ContinueOnError),
	}
	dryRun := cmd.Flags.Bool("dry-run", false, "Report what would be charged without charging")
	tenantID := cmd.Flags.String("tenant-id", "", "Only process this tenant")
	autoRenewalID := cmd.Flags.String("auto-renewal-id", "", "Only process this auto-renewal")
	force := cmd.Flags.Bool("force", false, "Process renewals even if they are not due yet")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		opts := billing.DueRenewalOptions{DryRun: *dryRun, Force: *force}

		var err error
		if opts.TenantID, err = uuidFlag("tenant-id", *tenantID); err != nil {
			return err
		}
		if opts.AutoRenewalID, err = uuidFlag("auto-renewal-id", *autoRenewalID); err != nil {
			return err
		}

		return env.with(ctx, func(rt *Runtime) error {
			var summary *billing.DueRenewalSummary
			err := scheduler.WithLock(ctx, rt.Locker, DueRenewalsJob, rt.LockTTL, func(ctx context.Context) error {
				var err error
				summary, err = rt.Renewals.ProcessDueRenewals(ctx, opts)
				return err
			})
			if errors.Is(err, scheduler.ErrLocked) {
				return fmt.Errorf("due renewals are already being processed")
			}
			if err != nil {
				return fmt.Errorf("failed to process due renewals: %w", err)
			}
			for _, msg := range summary.Errors {
				env.log.Error(msg)
			}
			env.log.WithFields(logrus.Fields{
				"total":            summary.Total,
				"successful":       summary.Successful,
				"failed":           summary.Failed,
				"skipped":          summary.Skipped,
				"requiring_action": summary.RequiringAction,
				"dry_run":          summary.DryRun,
			}).Info("Due renewals processed")
			return nil
		})
	}
	return cmd
}
