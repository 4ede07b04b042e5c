package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/tenantbilling/pkg/audit"
	"github.com/platinummonkey/tenantbilling/pkg/scheduler"
)

// AuditArchiveJob is the lock name shared with billing-scheduler
const AuditArchiveJob = "audit_archive"

// AuditArchiver writes one day of audit entries to the archive store
type AuditArchiver interface {
	ArchiveDay(ctx context.Context, day time.Time, overwrite bool) (*audit.ArchiveResult, error)
}

func newArchiveAuditCommand(env *environment) *Command {
	cmd := &Command{
		Name:        "archive-audit-logs",
		Description: "Copy daily audit log exports to the archive bucket",
		Flags:       flag.NewFlagSet("archive-audit-logs", flag.ContinueOnError),
	}
	date := cmd.Flags.String("date", "", "Last UTC day to archive, YYYY-MM-DD (default yesterday)")
	days := cmd.Flags.Int("days", 1, "Number of days to archive, ending at --date")
	overwrite := cmd.Flags.Bool("overwrite", false, "Replace archives that already exist")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *days < 1 {
			return fmt.Errorf("--days must be at least 1")
		}
		last := time.Now().UTC().AddDate(0, 0, -1)
		if *date != "" {
			parsed, err := time.Parse("2006-01-02", *date)
			if err != nil {
				return fmt.Errorf("invalid --date: %s", *date)
			}
			last = parsed
		}

		return env.with(ctx, func(rt *Runtime) error {
			if rt.Archiver == nil {
				return fmt.Errorf("audit archiving is not configured, set BILLING_ARCHIVE_S3_BUCKET")
			}
			err := scheduler.WithLock(ctx, rt.Locker, AuditArchiveJob, rt.LockTTL, func(ctx context.Context) error {
				return ArchiveAuditDays(ctx, rt.Archiver, last, *days, *overwrite, func(result *audit.ArchiveResult) {
					env.log.WithFields(logrus.Fields{
						"key":     result.Key,
						"bytes":   result.Bytes,
						"skipped": result.Skipped,
					}).Info("Audit day archived")
				})
			})
			if errors.Is(err, scheduler.ErrLocked) {
				return fmt.Errorf("audit archiving is already running")
			}
			return err
		})
	}
	return cmd
}

// ArchiveAuditDays archives the days days ending at last, oldest first. A
// failing day does not stop the others.
func ArchiveAuditDays(ctx context.Context, archiver AuditArchiver, last time.Time, days int, overwrite bool, report func(*audit.ArchiveResult)) error {
	var errs []error
	for i := days - 1; i >= 0; i-- {
		day := last.AddDate(0, 0, -i)
		result, err := archiver.ArchiveDay(ctx, day, overwrite)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", day.Format("2006-01-02"), err))
			continue
		}
		if report != nil {
			report(result)
		}
	}
	return errors.Join(errs...)
}
