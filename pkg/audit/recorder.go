package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/tenantbilling/pkg/observability"
)

// DBTX is satisfied by *sql.DB, *sql.Tx and *sql.Conn
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

const insertEntryQuery = `
	INSERT INTO subscription_audit_logs (
		id, subscription_id, tenant_id, action, "user", details, timestamp, ip_address
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

const auditSavepoint = "audit_entry"

// Recorder appends audit entries using the caller's connection or transaction
type Recorder struct {
	logger *observability.Logger
	now    func() time.Time
}

// NewRecorder creates a recorder. A nil logger discards warnings.
func NewRecorder(logger *observability.Logger) *Recorder {
	if logger == nil {
		logger = observability.NewLogger(observability.ErrorLevel, nil)
	}
	return &Recorder{
		logger: logger,
		now:    time.Now,
	}
}

// Insert writes the entry and returns any error to the caller
func (r *Recorder) Insert(ctx context.Context, db DBTX, entry *Entry) error {
	r.prepare(entry)

	var details []byte
	if entry.Details != nil {
		var err error
		details, err = json.Marshal(entry.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal audit details: %w", err)
		}
	}

	_, err := db.ExecContext(ctx, insertEntryQuery,
		entry.ID, nullableUUID(entry.SubscriptionID), nullableUUID(entry.TenantID),
		string(entry.Action), entry.User, details, entry.Timestamp, nullString(entry.IPAddress),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// Record writes the entry inside a savepoint of tx. An insert failure is rolled
// back to the savepoint and logged; the transaction stays usable. An error is
// returned only when the savepoint itself cannot be managed.
func (r *Recorder) Record(ctx context.Context, tx DBTX, entry *Entry) error {
	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+auditSavepoint); err != nil {
		return fmt.Errorf("failed to create audit savepoint: %w", err)
	}

	if err := r.Insert(ctx, tx, entry); err != nil {
		r.logger.WithError(err).WithFields(map[string]interface{}{
			"action":          string(entry.Action),
			"subscription_id": uuidString(entry.SubscriptionID),
		}).Warn("audit write failed, continuing")

		if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+auditSavepoint); rbErr != nil {
			return fmt.Errorf("failed to roll back audit savepoint: %w", rbErr)
		}
		return nil
	}

	if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+auditSavepoint); err != nil {
		return fmt.Errorf("failed to release audit savepoint: %w", err)
	}
	return nil
}

func (r *Recorder) prepare(entry *Entry) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = r.now().UTC()
	}
	if entry.User == "" {
		entry.User = SystemUser
	}
}

func nullableUUID(id *uuid.UUID) interface{} {
	if id == nil {
		return nil
	}
	return id.String()
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func uuidString(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}
