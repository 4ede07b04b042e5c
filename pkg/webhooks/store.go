package webhooks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/tenantbilling/pkg/payment"
)

// Outcome of a verified delivery, as recorded in the event log
const (
	OutcomeProcessed      = "processed"
	OutcomeIgnored        = "ignored"
	OutcomeTenantNotFound = "tenant_not_found"
	OutcomeFailed         = "failed"
)

// PaymentUpdate is the set of preference fields a successful payment event sets
type PaymentUpdate struct {
	TenantID         uuid.UUID
	Provider         string
	CardLast4        string
	CardBrand        string
	Email            string
	PaidAt           time.Time
	AutoRenew        bool
	Credential       payment.Credential
	SubscriptionCode string
}

// Store persists webhook reconciliation results
type Store interface {
	// FindTenantByEmail matches a stored payment email case-insensitively
	FindTenantByEmail(ctx context.Context, email string) (uuid.UUID, bool, error)
	// ApplyPayment upserts the tenant's billing preferences from a payment event
	ApplyPayment(ctx context.Context, update *PaymentUpdate) error
	// RecordEvent appends a verified delivery to the event log
	RecordEvent(ctx context.Context, event *payment.WebhookEvent, tenantID *uuid.UUID, outcome string) error
}

const webhookSchema = `
CREATE TABLE IF NOT EXISTS webhook_events (
	id BIGSERIAL PRIMARY KEY,
	provider VARCHAR(20) NOT NULL,
	event_type VARCHAR(100) NOT NULL DEFAULT '',
	reference VARCHAR(255) NOT NULL DEFAULT '',
	tenant_id UUID,
	outcome VARCHAR(30) NOT NULL,
	payload JSONB,
	received_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_webhook_events_reference ON webhook_events(provider, reference);
CREATE INDEX IF NOT EXISTS idx_webhook_events_tenant ON webhook_events(tenant_id, received_at DESC);
`

// DBStore is the PostgreSQL Store. It writes to the tenant_billing_preferences
// table owned by the billing store.
type DBStore struct {
	db *sql.DB
}

var _ Store = (*DBStore)(nil)

// NewDBStore creates a DBStore
func NewDBStore(db *sql.DB) *DBStore {
	return &DBStore{db: db}
}

// EnsureSchema creates the webhook event log
func (s *DBStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, webhookSchema); err != nil {
		return fmt.Errorf("failed to create webhook schema: %w", err)
	}
	return nil
}

// FindTenantByEmail implements Store
func (s *DBStore) FindTenantByEmail(ctx context.Context, email string) (uuid.UUID, bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT tenant_id FROM tenant_billing_preferences WHERE lower(payment_email) = lower($1) ORDER BY updated_at DESC LIMIT 1`,
		email,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to look up tenant by email: %w", err)
	}
	tenantID, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("stored tenant id %q is invalid: %w", id, err)
	}
	return tenantID, true, nil
}

// column is one assignment of the preferences upsert
type column struct {
	name  string
	value interface{}
}

// paymentColumns lists the columns a payment event owns. Token columns of
// other providers and fields the event does not carry keep their stored values.
func paymentColumns(u *PaymentUpdate) []column {
	brand := u.CardBrand
	if brand == "" {
		brand = "Card"
	}
	renewal := "paused"
	if u.AutoRenew {
		renewal = "active"
	}

	cols := []column{
		{"payment_provider", u.Provider},
		{"card_last4", u.CardLast4},
		{"card_brand", brand},
		{"payment_email", u.Email},
		{"last_payment_at", u.PaidAt},
		{"auto_renew_enabled", u.AutoRenew},
		{"renewal_status", renewal},
	}

	switch u.Provider {
	case payment.ProviderPaystack:
		cols = append(cols,
			column{"paystack_authorization_code", u.Credential.AuthorizationCode},
			column{"paystack_customer_code", u.Credential.CustomerCode},
		)
		if u.SubscriptionCode != "" {
			cols = append(cols, column{"paystack_subscription_code", u.SubscriptionCode})
		}
	case payment.ProviderFlutterwave:
		cols = append(cols,
			column{"flutterwave_payment_method_id", u.Credential.PaymentMethodID},
			column{"flutterwave_customer_id", u.Credential.CustomerID},
		)
	}

	return append(cols, column{"updated_at", u.PaidAt})
}

// upsertPreferencesQuery builds the INSERT ... ON CONFLICT statement for cols.
// tenant_id is always $1.
func upsertPreferencesQuery(cols []column) (string, []interface{}) {
	names := make([]string, 0, len(cols)+1)
	placeholders := make([]string, 0, len(cols)+1)
	updates := make([]string, 0, len(cols))
	args := make([]interface{}, 0, len(cols)+1)

	names = append(names, "tenant_id")
	placeholders = append(placeholders, "$1")
	for i, c := range cols {
		names = append(names, c.name)
		placeholders = append(placeholders, "$"+strconv.Itoa(i+2))
		updates = append(updates, c.name+" = EXCLUDED."+c.name)
		args = append(args, c.value)
	}

	query := fmt.Sprintf(
		"INSERT INTO tenant_billing_preferences (%s) VALUES (%s) ON CONFLICT (tenant_id) DO UPDATE SET %s",
		strings.Join(names, ", "), strings.Join(placeholders, ", "), strings.Join(updates, ", "),
	)
	return query, args
}

const syncRenewalDatesQuery = `
	UPDATE tenant_billing_preferences p
	SET subscription_expiry_date = s.end_date, next_renewal_date = s.end_date
	FROM (
		SELECT end_date FROM subscriptions
		WHERE tenant_id = $1 AND status <> 'canceled'
		ORDER BY created_at DESC LIMIT 1
	) s
	WHERE p.tenant_id = $1`

// ApplyPayment implements Store. With auto-renew on, the renewal dates are
// copied from the tenant's latest non-canceled subscription in the same
// transaction.
func (s *DBStore) ApplyPayment(ctx context.Context, u *PaymentUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query, args := upsertPreferencesQuery(paymentColumns(u))
	args = append([]interface{}{u.TenantID.String()}, args...)
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert billing preferences: %w", err)
	}

	if u.AutoRenew {
		if _, err := tx.ExecContext(ctx, syncRenewalDatesQuery, u.TenantID.String()); err != nil {
			return fmt.Errorf("failed to sync renewal dates: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RecordEvent implements Store
func (s *DBStore) RecordEvent(ctx context.Context, event *payment.WebhookEvent, tenantID *uuid.UUID, outcome string) error {
	var tenant interface{}
	if tenantID != nil {
		tenant = tenantID.String()
	}
	var payload interface{}
	if len(event.Raw) > 0 {
		payload = []byte(event.Raw)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_events (provider, event_type, reference, tenant_id, outcome, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, event.Provider, event.Type, event.Reference, tenant, outcome, payload)
	if err != nil {
		return fmt.Errorf("failed to record webhook event: %w", err)
	}
	return nil
}
