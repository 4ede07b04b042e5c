package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"

	"github.com/platinummonkey/tenantbilling/pkg/billing"
	"github.com/platinummonkey/tenantbilling/pkg/scheduler"
)

// Job names shared with billing-scheduler, so the CLI and the scheduler never
// run the same sweep concurrently
const (
	DueRenewalsJob = "due_renewals"
	ExpiryJob      = "expiry"
)

func newProcessExpiredCommand(env *environment) *Command {
	cmd := &Command{
		Name:        "process-expired-subscriptions",
		Description: "Expire lapsed subscriptions, retry failed payments and cancel long suspensions",
		Flags:       flag.NewFlagSet("process-expired-subscriptions", flag.ContinueOnError),
	}
	dryRun := cmd.Flags.Bool("dry-run", false, "Report what would change without writing")
	limit := cmd.Flags.Int("limit", 0, "Maximum subscriptions examined per sweep (0 for all)")
	concurrency := cmd.Flags.Int("concurrency", 4, "Subscriptions processed in parallel")
	force := cmd.Flags.Bool("force", false, "Run even when the scheduler holds the lock")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		opts := billing.SweepOptions{DryRun: *dryRun, Limit: *limit, Concurrency: *concurrency}

		return env.with(ctx, func(rt *Runtime) error {
			locker := rt.Locker
			if *force {
				locker = nil
			}
			err := scheduler.WithLock(ctx, locker, ExpiryJob, rt.LockTTL, func(ctx context.Context) error {
				return RunMaintenanceSweeps(ctx, rt, opts, func(sweep string, result *billing.SweepResult) {
					logSweep(env.log, sweep, result)
				})
			})
			if errors.Is(err, scheduler.ErrLocked) {
				return fmt.Errorf("expiry processing is already running, use --force to run anyway")
			}
			return err
		})
	}
	return cmd
}

// RunMaintenanceSweeps runs the expiry, payment retry and long suspension
// sweeps in that order. A failing sweep does not stop the ones after it.
func RunMaintenanceSweeps(ctx context.Context, rt *Runtime, opts billing.SweepOptions, report func(sweep string, result *billing.SweepResult)) error {
	sweeps := []struct {
		name string
		run  func(context.Context, billing.SweepOptions) (*billing.SweepResult, error)
	}{
		{"expiry", rt.Subscriptions.CheckExpiredSubscriptions},
		{"payment_retry", rt.Renewals.ProcessPaymentRetries},
		{"suspension_cancel", rt.Subscriptions.CancelLongSuspended},
	}

	var errs []error
	for _, s := range sweeps {
		result, err := s.run(ctx, opts)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s sweep: %w", s.name, err))
			continue
		}
		if report != nil {
			report(s.name, result)
		}
	}
	return errors.Join(errs...)
}
