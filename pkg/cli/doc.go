// Package cli implements billingctl, the operator command line for tenant
// billing maintenance.
//
// # Commands
//
// seed-plans: create or update the plan catalog from YAML
//
//	billingctl seed-plans --file plans.yaml
//
// process-due-renewals: charge auto-renewals that are due
//
//	billingctl process-due-renewals \
//		--dry-run \
//		--tenant-id 6f1c... \
//		--auto-renewal-id 0b2d... \
//		--force   # ignore the renewal date
//
// process-expired-subscriptions: run the expiry, payment retry and long
// suspension sweeps
//
//	billingctl process-expired-subscriptions --dry-run --limit 500
//
// archive-audit-logs: copy daily audit exports to the archive bucket
//
//	billingctl archive-audit-logs --date 2024-01-31 --days 31
//
// Commands connect through an Opener so they can run against the real
// backends (see cmd/billingctl) or fakes in tests.
package cli
