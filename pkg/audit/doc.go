// Package audit provides the append-only subscription audit log.
//
// # Overview
//
// Every lifecycle transition of a subscription (creation, renewal, plan change,
// suspension, expiry, and so on) appends an Entry with the acting user, the
// client IP and a free-form details document. Entries are never updated or
// deleted.
//
// # Recording
//
// Entries are written inside the caller's transaction. The Recorder wraps the
// insert in a savepoint so that a failing audit write is rolled back on its own
// and logged, leaving the surrounding billing operation intact:
//
//	tx, _ := db.BeginTx(ctx, nil)
//	// ... mutate the subscription ...
//	err := recorder.Record(ctx, tx, &audit.Entry{
//		SubscriptionID: &sub.ID,
//		TenantID:       &sub.TenantID,
//		Action:         audit.ActionRenewed,
//		User:           actor,
//		Details:        map[string]interface{}{"new_end_date": sub.EndDate},
//	})
//
// # Querying
//
// DBStore exposes paginated search (per subscription or global), lookup by id,
// per-action statistics and export to JSON, NDJSON or CSV:
//
//	page, err := store.Search(ctx, audit.Filter{
//		SubscriptionID: &subID,
//		Actions:        []audit.Action{audit.ActionRenewed, audit.ActionExpired},
//		Limit:          50,
//	})
//
// # Archiving
//
// Archiver writes one export per UTC day to an ObjectStore (the S3 client in
// pkg/storage/postgres). Days that already have an archive are skipped:
//
//	archiver := audit.NewArchiver(store, s3Client, "audit", audit.ExportFormatNDJSON)
//	result, err := archiver.ArchiveDay(ctx, time.Now().AddDate(0, 0, -1), false)
//
// # HTTP API
//
//	GET /audit-logs                       global paginated query
//	GET /audit-logs/export?format=csv     export
//	GET /audit-logs/stats                 count per action
//	GET /audit-logs/{id}                  single entry
//	GET /subscriptions/{id}/audit-logs    entries for one subscription
package audit
