package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/tenantbilling/pkg/billing"
)

// SubscriptionService is the subset of billing.SubscriptionService used by the CLI
type SubscriptionService interface {
	SeedPlans(ctx context.Context, plans []*billing.Plan) (int, error)
	CheckExpiredSubscriptions(ctx context.Context, opts billing.SweepOptions) (*billing.SweepResult, error)
	CancelLongSuspended(ctx context.Context, opts billing.SweepOptions) (*billing.SweepResult, error)
}

// RenewalService is the subset of billing.AutoRenewalService used by the CLI
type RenewalService interface {
	ProcessDueRenewals(ctx context.Context, opts billing.DueRenewalOptions) (*billing.DueRenewalSummary, error)
	ProcessPaymentRetries(ctx context.Context, opts billing.SweepOptions) (*billing.SweepResult, error)
}

// Runtime is what the billing commands operate on
type Runtime struct {
	Subscriptions SubscriptionService
	Renewals      RenewalService
	// Locker guards the sweeps shared with billing-scheduler; nil disables locking
	Locker  billing.Locker
	LockTTL time.Duration
	// Archiver is nil when audit archiving is not configured
	Archiver AuditArchiver
}

// Opener connects to the billing backends. The returned function releases them.
type Opener func(ctx context.Context) (*Runtime, func() error, error)

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(ctx context.Context, args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet

	out io.Writer
}

// NewRootCommand creates the root command. Output and logs go to out.
func NewRootCommand(open Opener, log *logrus.Logger, out io.Writer) *Command {
	if log == nil {
		log = logrus.New()
	}
	root := &Command{
		Name:        "billingctl",
		Description: "billingctl - tenant billing maintenance commands",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("billingctl", flag.ContinueOnError),
		out:         out,
	}

	env := &environment{open: open, log: log}
	root.Subcommands["seed-plans"] = newSeedPlansCommand(env)
	root.Subcommands["process-due-renewals"] = newProcessDueRenewalsCommand(env)
	root.Subcommands["process-expired-subscriptions"] = newProcessExpiredCommand(env)
	root.Subcommands["archive-audit-logs"] = newArchiveAuditCommand(env)

	return root
}

// Execute runs the subcommand named by args[0]
func (c *Command) Execute(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return c.usage()
	}

	if args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		return c.usage()
	}

	if subcmd, ok := c.Subcommands[args[0]]; ok {
		return subcmd.Run(ctx, args[1:])
	}

	return fmt.Errorf("unknown command: %s", args[0])
}

// usage prints the command usage
func (c *Command) usage() error {
	out := c.out
	if out == nil {
		out = io.Discard
	}
	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintf(out, "Usage: %s <command> [args]\n\n", c.Name)
	fmt.Fprintf(out, "Commands:\n")
	for _, name := range names {
		fmt.Fprintf(out, "  %-32s %s\n", name, c.Subcommands[name].Description)
	}
	return nil
}

// environment is shared by the subcommands
type environment struct {
	open Opener
	log  *logrus.Logger
}

// with opens the runtime, runs fn and releases the runtime
func (e *environment) with(ctx context.Context, fn func(rt *Runtime) error) (err error) {
	rt, closeFn, err := e.open(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer func() {
		if closeFn == nil {
			return
		}
		if cerr := closeFn(); cerr != nil {
			e.log.WithError(cerr).Warn("Failed to release connections")
		}
	}()
	return fn(rt)
}

// uuidFlag parses an optional UUID flag value
func uuidFlag(name, value string) (*uuid.UUID, error) {
	if value == "" {
		return nil, nil
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s: %s", name, value)
	}
	return &id, nil
}

// logSweep writes one summary line for a sweep
func logSweep(log *logrus.Logger, sweep string, result *billing.SweepResult) {
	entry := log.WithFields(logrus.Fields{
		"sweep":     sweep,
		"examined":  result.Examined,
		"processed": result.Processed,
		"promoted":  result.Promoted,
		"skipped":   result.Skipped,
		"failed":    result.Failed,
		"dry_run":   result.DryRun,
	})
	for _, msg := range result.Errors {
		log.WithField("sweep", sweep).Error(msg)
	}
	if result.Failed > 0 {
		entry.Warn("Sweep finished with failures")
		return
	}
	entry.Info("Sweep finished")
}
