package billing

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/platinummonkey/tenantbilling/pkg/audit"
	"github.com/platinummonkey/tenantbilling/pkg/observability"
	"github.com/platinummonkey/tenantbilling/pkg/period"
)

// liveSubscriptionIndex enforces one live subscription per tenant
const liveSubscriptionIndex = "idx_subscriptions_one_live"

const schema = `
CREATE TABLE IF NOT EXISTS plans (
	id UUID PRIMARY KEY,
	name VARCHAR(100) NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	industry VARCHAR(100) NOT NULL DEFAULT 'Other',
	max_users INTEGER NOT NULL CHECK (max_users > 0),
	max_branches INTEGER NOT NULL CHECK (max_branches > 0),
	price_minor BIGINT NOT NULL CHECK (price_minor >= 0),
	billing_period VARCHAR(20) NOT NULL,
	tier_level VARCHAR(10) NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	discontinued BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
	UNIQUE (name, industry)
);

CREATE TABLE IF NOT EXISTS subscriptions (
	id UUID PRIMARY KEY,
	tenant_id UUID NOT NULL,
	plan_id UUID NOT NULL REFERENCES plans(id),
	scheduled_plan_id UUID REFERENCES plans(id),
	status VARCHAR(20) NOT NULL,
	start_date TIMESTAMP WITH TIME ZONE NOT NULL,
	end_date TIMESTAMP WITH TIME ZONE NOT NULL,
	trial_end_date TIMESTAMP WITH TIME ZONE,
	auto_renew BOOLEAN NOT NULL DEFAULT FALSE,
	payment_retry_count INTEGER NOT NULL DEFAULT 0,
	max_payment_retries INTEGER NOT NULL DEFAULT 3,
	suspended_at TIMESTAMP WITH TIME ZONE,
	canceled_at TIMESTAMP WITH TIME ZONE,
	last_payment_date TIMESTAMP WITH TIME ZONE,
	next_payment_date TIMESTAMP WITH TIME ZONE,
	is_first_time_subscription BOOLEAN NOT NULL DEFAULT TRUE,
	trial_used BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_subscriptions_one_live ON subscriptions(tenant_id)
	WHERE status IN ('active', 'trial', 'pending');
CREATE INDEX IF NOT EXISTS idx_subscriptions_tenant ON subscriptions(tenant_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_subscriptions_status_end ON subscriptions(status, end_date);

CREATE TABLE IF NOT EXISTS subscription_credits (
	id UUID PRIMARY KEY,
	subscription_id UUID NOT NULL REFERENCES subscriptions(id),
	amount_minor BIGINT NOT NULL,
	reason VARCHAR(255) NOT NULL,
	expires_at TIMESTAMP WITH TIME ZONE NOT NULL,
	used BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS trial_usage (
	tenant_id UUID PRIMARY KEY,
	machine_number VARCHAR(255) NOT NULL DEFAULT '',
	user_email VARCHAR(255) NOT NULL DEFAULT '',
	trial_start_date TIMESTAMP WITH TIME ZONE NOT NULL,
	trial_end_date TIMESTAMP WITH TIME ZONE NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trial_usage_machine ON trial_usage(machine_number);

CREATE TABLE IF NOT EXISTS auto_renewals (
	id UUID PRIMARY KEY,
	tenant_id UUID NOT NULL,
	subscription_id UUID REFERENCES subscriptions(id),
	plan_id UUID NOT NULL REFERENCES plans(id),
	expiry_date TIMESTAMP WITH TIME ZONE NOT NULL,
	next_renewal_date TIMESTAMP WITH TIME ZONE NOT NULL,
	status VARCHAR(20) NOT NULL,
	notes TEXT NOT NULL DEFAULT '',
	provider_tokens JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_auto_renewals_due ON auto_renewals(status, next_renewal_date);
CREATE INDEX IF NOT EXISTS idx_auto_renewals_subscription ON auto_renewals(subscription_id);

CREATE TABLE IF NOT EXISTS tenant_billing_preferences (
	tenant_id UUID PRIMARY KEY,
	payment_provider VARCHAR(20) NOT NULL DEFAULT '',
	card_last4 VARCHAR(4) NOT NULL DEFAULT '',
	card_brand VARCHAR(50) NOT NULL DEFAULT '',
	payment_email VARCHAR(255) NOT NULL DEFAULT '',
	last_payment_at TIMESTAMP WITH TIME ZONE,
	auto_renew_enabled BOOLEAN NOT NULL DEFAULT FALSE,
	renewal_status VARCHAR(20) NOT NULL DEFAULT 'paused',
	paystack_authorization_code VARCHAR(255) NOT NULL DEFAULT '',
	paystack_customer_code VARCHAR(255) NOT NULL DEFAULT '',
	paystack_subscription_code VARCHAR(255) NOT NULL DEFAULT '',
	flutterwave_payment_method_id VARCHAR(255) NOT NULL DEFAULT '',
	flutterwave_customer_id VARCHAR(255) NOT NULL DEFAULT '',
	subscription_expiry_date TIMESTAMP WITH TIME ZONE,
	next_renewal_date TIMESTAMP WITH TIME ZONE,
	updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS payments (
	id UUID PRIMARY KEY,
	transaction_id VARCHAR(255) NOT NULL UNIQUE,
	subscription_id UUID REFERENCES subscriptions(id),
	plan_id UUID REFERENCES plans(id),
	tenant_id UUID NOT NULL,
	amount_minor BIGINT NOT NULL,
	currency VARCHAR(3) NOT NULL,
	status VARCHAR(20) NOT NULL,
	provider VARCHAR(20) NOT NULL DEFAULT '',
	payment_type VARCHAR(20) NOT NULL,
	provider_reference VARCHAR(255) NOT NULL DEFAULT '',
	authorization_url TEXT NOT NULL DEFAULT '',
	failure_reason TEXT NOT NULL DEFAULT '',
	payment_date TIMESTAMP WITH TIME ZONE,
	created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
	periods INTEGER NOT NULL DEFAULT 1
);
ALTER TABLE payments ADD COLUMN IF NOT EXISTS periods INTEGER NOT NULL DEFAULT 1;
CREATE INDEX IF NOT EXISTS idx_payments_subscription ON payments(subscription_id);
`

// PostgresStore implements Store on PostgreSQL
type PostgresStore struct {
	pgRepo
	db *sql.DB
}

// NewPostgresStore creates a store on db. Audit entries written inside a
// transaction use a savepoint so a failing audit insert never aborts it.
func NewPostgresStore(db *sql.DB, logger *observability.Logger) *PostgresStore {
	return &PostgresStore{
		pgRepo: pgRepo{db: db, recorder: audit.NewRecorder(logger)},
		db:     db,
	}
}

// EnsureSchema creates the billing tables and indexes if they don't exist
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create billing schema: %w", err)
	}
	return nil
}

// WithinTx runs fn in a transaction
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(repo Repository) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&pgRepo{db: tx, recorder: s.recorder, inTx: true}); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// pgRepo runs queries on a connection pool or a transaction
type pgRepo struct {
	db       audit.DBTX
	recorder *audit.Recorder
	inTx     bool
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func lockClause(forUpdate bool) string {
	if forUpdate {
		return " FOR UPDATE"
	}
	return ""
}

// Plans

const planColumns = `id, name, description, industry, max_users, max_branches, price_minor,
	billing_period, tier_level, is_active, discontinued, created_at, updated_at`

func scanPlan(row rowScanner) (*Plan, error) {
	var (
		p             Plan
		billingPeriod string
		tier          string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Industry, &p.MaxUsers, &p.MaxBranches,
		&p.PriceMinor, &billingPeriod, &tier, &p.IsActive, &p.Discontinued, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.BillingPeriod = periodOf(billingPeriod)
	p.TierLevel = Tier(tier)
	return &p, nil
}

func (r *pgRepo) GetPlan(ctx context.Context, id uuid.UUID) (*Plan, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+planColumns+` FROM plans WHERE id = $1`, id.String())
	p, err := scanPlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	return p, nil
}

func (r *pgRepo) GetPlanByName(ctx context.Context, name, industry string) (*Plan, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+planColumns+` FROM plans WHERE name = $1 AND industry = $2`, name, industry)
	p, err := scanPlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	return p, nil
}

func (r *pgRepo) ListPlans(ctx context.Context, filter PlanFilter) ([]*Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans WHERE 1=1`
	args := []interface{}{}
	if filter.Industry != "" {
		args = append(args, filter.Industry)
		query += fmt.Sprintf(" AND industry = $%d", len(args))
	}
	if filter.ActiveOnly {
		query += " AND is_active AND NOT discontinued"
	}
	query += " ORDER BY price_minor, name"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	plans := []*Plan{}
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

func (r *pgRepo) SavePlan(ctx context.Context, p *Plan) error {
	query := `
		INSERT INTO plans (id, name, description, industry, max_users, max_branches, price_minor,
			billing_period, tier_level, is_active, discontinued, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (name, industry) DO UPDATE SET
			description = EXCLUDED.description,
			max_users = EXCLUDED.max_users,
			max_branches = EXCLUDED.max_branches,
			price_minor = EXCLUDED.price_minor,
			billing_period = EXCLUDED.billing_period,
			tier_level = EXCLUDED.tier_level,
			is_active = EXCLUDED.is_active,
			discontinued = EXCLUDED.discontinued,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`
	err := r.db.QueryRowContext(ctx, query,
		p.ID.String(), p.Name, p.Description, p.Industry, p.MaxUsers, p.MaxBranches, p.PriceMinor,
		string(p.BillingPeriod), string(p.TierLevel), p.IsActive, p.Discontinued, p.CreatedAt, p.UpdatedAt,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save plan: %w", err)
	}
	return nil
}

// Subscriptions

const subscriptionColumns = `id, tenant_id, plan_id, scheduled_plan_id, status, start_date, end_date,
	trial_end_date, auto_renew, payment_retry_count, max_payment_retries, suspended_at, canceled_at,
	last_payment_date, next_payment_date, is_first_time_subscription, trial_used, created_at, updated_at`

func scanSubscription(row rowScanner) (*Subscription, error) {
	var (
		s                                         Subscription
		status                                    string
		scheduled                                 uuid.NullUUID
		trialEnd, suspended, canceled, last, next sql.NullTime
	)
	if err := row.Scan(&s.ID, &s.TenantID, &s.PlanID, &scheduled, &status, &s.StartDate, &s.EndDate,
		&trialEnd, &s.AutoRenew, &s.PaymentRetryCount, &s.MaxPaymentRetries, &suspended, &canceled,
		&last, &next, &s.IsFirstTimeSubscription, &s.TrialUsed, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.Status = Status(status)
	s.ScheduledPlanID = uuidPtr(scheduled)
	s.TrialEndDate = timePtr(trialEnd)
	s.SuspendedAt = timePtr(suspended)
	s.CanceledAt = timePtr(canceled)
	s.LastPaymentDate = timePtr(last)
	s.NextPaymentDate = timePtr(next)
	return &s, nil
}

func (r *pgRepo) querySubscription(ctx context.Context, query string, args ...interface{}) (*Subscription, error) {
	s, err := scanSubscription(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return s, nil
}

func (r *pgRepo) GetSubscription(ctx context.Context, id uuid.UUID, forUpdate bool) (*Subscription, error) {
	return r.querySubscription(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`+lockClause(forUpdate),
		id.String())
}

func (r *pgRepo) LiveSubscription(ctx context.Context, tenantID uuid.UUID, forUpdate bool) (*Subscription, error) {
	return r.querySubscription(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE tenant_id = $1 AND status = ANY($2)
		ORDER BY created_at DESC LIMIT 1`+lockClause(forUpdate),
		tenantID.String(), pq.Array(statusStrings(LiveStatuses)))
}

func (r *pgRepo) LatestSubscription(ctx context.Context, tenantID uuid.UUID) (*Subscription, error) {
	return r.querySubscription(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE tenant_id = $1 AND status <> $2
		ORDER BY created_at DESC LIMIT 1`,
		tenantID.String(), string(StatusCanceled))
}

func (r *pgRepo) ListSubscriptions(ctx context.Context, filter SubscriptionFilter) ([]*Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE 1=1`
	args := []interface{}{}
	argCount := 1

	if filter.TenantID != nil {
		query += fmt.Sprintf(" AND tenant_id = $%d", argCount)
		args = append(args, filter.TenantID.String())
		argCount++
	}
	if len(filter.Statuses) > 0 {
		query += fmt.Sprintf(" AND status = ANY($%d)", argCount)
		args = append(args, pq.Array(statusStrings(filter.Statuses)))
		argCount++
	}
	if filter.EndBefore != nil {
		query += fmt.Sprintf(" AND end_date < $%d", argCount)
		args = append(args, *filter.EndBefore)
		argCount++
	}
	if filter.SuspendedBefore != nil {
		query += fmt.Sprintf(" AND suspended_at < $%d", argCount)
		args = append(args, *filter.SuspendedBefore)
		argCount++
	}
	if filter.MinRetryCount > 0 {
		query += fmt.Sprintf(" AND payment_retry_count >= $%d", argCount)
		args = append(args, filter.MinRetryCount)
		argCount++
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argCount)
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	subs := []*Subscription{}
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

func (r *pgRepo) InsertSubscription(ctx context.Context, s *Subscription) error {
	query := `
		INSERT INTO subscriptions (` + subscriptionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`
	_, err := r.db.ExecContext(ctx, query,
		s.ID.String(), s.TenantID.String(), s.PlanID.String(), nullUUID(s.ScheduledPlanID), string(s.Status),
		s.StartDate, s.EndDate, nullTime(s.TrialEndDate), s.AutoRenew, s.PaymentRetryCount,
		s.MaxPaymentRetries, nullTime(s.SuspendedAt), nullTime(s.CanceledAt), nullTime(s.LastPaymentDate),
		nullTime(s.NextPaymentDate), s.IsFirstTimeSubscription, s.TrialUsed, s.CreatedAt, s.UpdatedAt,
	)
	if isUniqueViolation(err, liveSubscriptionIndex) {
		return NewValidationError("active subscription already exists")
	}
	if err != nil {
		return fmt.Errorf("failed to insert subscription: %w", err)
	}
	return nil
}

func (r *pgRepo) UpdateSubscription(ctx context.Context, s *Subscription) error {
	query := `
		UPDATE subscriptions SET
			plan_id = $2, scheduled_plan_id = $3, status = $4, start_date = $5, end_date = $6,
			trial_end_date = $7, auto_renew = $8, payment_retry_count = $9, max_payment_retries = $10,
			suspended_at = $11, canceled_at = $12, last_payment_date = $13, next_payment_date = $14,
			is_first_time_subscription = $15, trial_used = $16, updated_at = $17
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query,
		s.ID.String(), s.PlanID.String(), nullUUID(s.ScheduledPlanID), string(s.Status), s.StartDate, s.EndDate,
		nullTime(s.TrialEndDate), s.AutoRenew, s.PaymentRetryCount, s.MaxPaymentRetries,
		nullTime(s.SuspendedAt), nullTime(s.CanceledAt), nullTime(s.LastPaymentDate), nullTime(s.NextPaymentDate),
		s.IsFirstTimeSubscription, s.TrialUsed, s.UpdatedAt,
	)
	if isUniqueViolation(err, liveSubscriptionIndex) {
		return NewValidationError("active subscription already exists")
	}
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	return expectOneRow(res, ErrSubscriptionNotFound)
}

// Credits

func (r *pgRepo) InsertCredit(ctx context.Context, c *Credit) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO subscription_credits (id, subscription_id, amount_minor, reason, expires_at, used, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, c.ID.String(), c.SubscriptionID.String(), c.AmountMinor, c.Reason, c.ExpiresAt, c.Used, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert credit: %w", err)
	}
	return nil
}

func (r *pgRepo) ListCredits(ctx context.Context, subscriptionID uuid.UUID) ([]*Credit, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, subscription_id, amount_minor, reason, expires_at, used, created_at
		FROM subscription_credits WHERE subscription_id = $1 ORDER BY created_at DESC
	`, subscriptionID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list credits: %w", err)
	}
	defer rows.Close()

	credits := []*Credit{}
	for rows.Next() {
		var c Credit
		if err := rows.Scan(&c.ID, &c.SubscriptionID, &c.AmountMinor, &c.Reason, &c.ExpiresAt, &c.Used, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan credit: %w", err)
		}
		credits = append(credits, &c)
	}
	return credits, rows.Err()
}

// Trial usage

func (r *pgRepo) FindTrialUsage(ctx context.Context, tenantID uuid.UUID, machineNumber string) ([]*TrialUsage, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT tenant_id, machine_number, user_email, trial_start_date, trial_end_date
		FROM trial_usage
		WHERE tenant_id = $1 OR ($2 <> '' AND machine_number = $2)
	`, tenantID.String(), machineNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to find trial usage: %w", err)
	}
	defer rows.Close()

	usages := []*TrialUsage{}
	for rows.Next() {
		var u TrialUsage
		if err := rows.Scan(&u.TenantID, &u.MachineNumber, &u.UserEmail, &u.TrialStartDate, &u.TrialEndDate); err != nil {
			return nil, fmt.Errorf("failed to scan trial usage: %w", err)
		}
		usages = append(usages, &u)
	}
	return usages, rows.Err()
}

func (r *pgRepo) UpsertTrialUsage(ctx context.Context, u *TrialUsage) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO trial_usage (tenant_id, machine_number, user_email, trial_start_date, trial_end_date)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id) DO UPDATE SET
			machine_number = EXCLUDED.machine_number,
			user_email = EXCLUDED.user_email,
			trial_start_date = EXCLUDED.trial_start_date,
			trial_end_date = EXCLUDED.trial_end_date
	`, u.TenantID.String(), u.MachineNumber, u.UserEmail, u.TrialStartDate, u.TrialEndDate)
	if err != nil {
		return fmt.Errorf("failed to record trial usage: %w", err)
	}
	return nil
}

// Auto-renewals

const autoRenewalColumns = `id, tenant_id, subscription_id, plan_id, expiry_date, next_renewal_date,
	status, notes, provider_tokens, created_at, updated_at`

func scanAutoRenewal(row rowScanner) (*AutoRenewal, error) {
	var (
		ar     AutoRenewal
		subID  uuid.NullUUID
		status string
		tokens []byte
	)
	if err := row.Scan(&ar.ID, &ar.TenantID, &subID, &ar.PlanID, &ar.ExpiryDate, &ar.NextRenewalDate,
		&status, &ar.Notes, &tokens, &ar.CreatedAt, &ar.UpdatedAt); err != nil {
		return nil, err
	}
	ar.SubscriptionID = uuidPtr(subID)
	ar.Status = AutoRenewalStatus(status)
	if len(tokens) > 0 {
		if err := json.Unmarshal(tokens, &ar.ProviderTokens); err != nil {
			return nil, fmt.Errorf("failed to unmarshal provider tokens: %w", err)
		}
	}
	return &ar, nil
}

func (r *pgRepo) GetAutoRenewal(ctx context.Context, id uuid.UUID, forUpdate bool) (*AutoRenewal, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+autoRenewalColumns+` FROM auto_renewals WHERE id = $1`+lockClause(forUpdate), id.String())
	ar, err := scanAutoRenewal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAutoRenewalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get auto-renewal: %w", err)
	}
	return ar, nil
}

func (r *pgRepo) ListAutoRenewals(ctx context.Context, filter AutoRenewalFilter) ([]*AutoRenewal, error) {
	query := `SELECT ` + autoRenewalColumns + ` FROM auto_renewals WHERE 1=1`
	args := []interface{}{}
	argCount := 1

	if filter.ID != nil {
		query += fmt.Sprintf(" AND id = $%d", argCount)
		args = append(args, filter.ID.String())
		argCount++
	}
	if filter.TenantID != nil {
		query += fmt.Sprintf(" AND tenant_id = $%d", argCount)
		args = append(args, filter.TenantID.String())
		argCount++
	}
	if filter.SubscriptionID != nil {
		query += fmt.Sprintf(" AND subscription_id = $%d", argCount)
		args = append(args, filter.SubscriptionID.String())
		argCount++
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		query += fmt.Sprintf(" AND status = ANY($%d)", argCount)
		args = append(args, pq.Array(statuses))
		argCount++
	}
	if filter.DueBefore != nil {
		query += fmt.Sprintf(" AND next_renewal_date <= $%d", argCount)
		args = append(args, *filter.DueBefore)
	}
	query += " ORDER BY next_renewal_date, created_at"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list auto-renewals: %w", err)
	}
	defer rows.Close()

	renewals := []*AutoRenewal{}
	for rows.Next() {
		ar, err := scanAutoRenewal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan auto-renewal: %w", err)
		}
		renewals = append(renewals, ar)
	}
	return renewals, rows.Err()
}

func (r *pgRepo) InsertAutoRenewal(ctx context.Context, ar *AutoRenewal) error {
	tokens, err := json.Marshal(ar.ProviderTokens)
	if err != nil {
		return fmt.Errorf("failed to marshal provider tokens: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO auto_renewals (`+autoRenewalColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, ar.ID.String(), ar.TenantID.String(), nullUUID(ar.SubscriptionID), ar.PlanID.String(), ar.ExpiryDate,
		ar.NextRenewalDate, string(ar.Status), ar.Notes, tokens, ar.CreatedAt, ar.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert auto-renewal: %w", err)
	}
	return nil
}

func (r *pgRepo) UpdateAutoRenewal(ctx context.Context, ar *AutoRenewal) error {
	tokens, err := json.Marshal(ar.ProviderTokens)
	if err != nil {
		return fmt.Errorf("failed to marshal provider tokens: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE auto_renewals SET
			plan_id = $2, expiry_date = $3, next_renewal_date = $4, status = $5,
			notes = $6, provider_tokens = $7, updated_at = $8
		WHERE id = $1
	`, ar.ID.String(), ar.PlanID.String(), ar.ExpiryDate, ar.NextRenewalDate, string(ar.Status),
		ar.Notes, tokens, ar.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update auto-renewal: %w", err)
	}
	return expectOneRow(res, ErrAutoRenewalNotFound)
}

// Preferences

const preferencesColumns = `tenant_id, payment_provider, card_last4, card_brand, payment_email,
	last_payment_at, auto_renew_enabled, renewal_status, paystack_authorization_code,
	paystack_customer_code, paystack_subscription_code, flutterwave_payment_method_id,
	flutterwave_customer_id, subscription_expiry_date, next_renewal_date, updated_at`

func (r *pgRepo) GetPreferences(ctx context.Context, tenantID uuid.UUID) (*TenantBillingPreferences, error) {
	var (
		p                      TenantBillingPreferences
		renewal                string
		lastPaid, expiry, next sql.NullTime
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT `+preferencesColumns+` FROM tenant_billing_preferences WHERE tenant_id = $1`,
		tenantID.String(),
	).Scan(&p.TenantID, &p.PaymentProvider, &p.CardLast4, &p.CardBrand, &p.PaymentEmail, &lastPaid,
		&p.AutoRenewEnabled, &renewal, &p.PaystackAuthorizationCode, &p.PaystackCustomerCode,
		&p.PaystackSubscriptionCode, &p.FlutterwavePaymentMethodID, &p.FlutterwaveCustomerID,
		&expiry, &next, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPreferencesNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get billing preferences: %w", err)
	}
	p.RenewalStatus = RenewalStatus(renewal)
	p.LastPaymentAt = timePtr(lastPaid)
	p.SubscriptionExpiryDate = timePtr(expiry)
	p.NextRenewalDate = timePtr(next)
	return &p, nil
}

func (r *pgRepo) UpsertPreferences(ctx context.Context, p *TenantBillingPreferences) error {
	if p.RenewalStatus == "" {
		p.RenewalStatus = RenewalPaused
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tenant_billing_preferences (`+preferencesColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (tenant_id) DO UPDATE SET
			payment_provider = EXCLUDED.payment_provider,
			card_last4 = EXCLUDED.card_last4,
			card_brand = EXCLUDED.card_brand,
			payment_email = EXCLUDED.payment_email,
			last_payment_at = EXCLUDED.last_payment_at,
			auto_renew_enabled = EXCLUDED.auto_renew_enabled,
			renewal_status = EXCLUDED.renewal_status,
			paystack_authorization_code = EXCLUDED.paystack_authorization_code,
			paystack_customer_code = EXCLUDED.paystack_customer_code,
			paystack_subscription_code = EXCLUDED.paystack_subscription_code,
			flutterwave_payment_method_id = EXCLUDED.flutterwave_payment_method_id,
			flutterwave_customer_id = EXCLUDED.flutterwave_customer_id,
			subscription_expiry_date = EXCLUDED.subscription_expiry_date,
			next_renewal_date = EXCLUDED.next_renewal_date,
			updated_at = EXCLUDED.updated_at
	`, p.TenantID.String(), p.PaymentProvider, p.CardLast4, p.CardBrand, p.PaymentEmail,
		nullTime(p.LastPaymentAt), p.AutoRenewEnabled, string(p.RenewalStatus), p.PaystackAuthorizationCode,
		p.PaystackCustomerCode, p.PaystackSubscriptionCode, p.FlutterwavePaymentMethodID,
		p.FlutterwaveCustomerID, nullTime(p.SubscriptionExpiryDate), nullTime(p.NextRenewalDate), p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert billing preferences: %w", err)
	}
	return nil
}

// Payments

const paymentColumns = `id, transaction_id, subscription_id, plan_id, tenant_id, amount_minor, currency,
	status, provider, payment_type, provider_reference, authorization_url, failure_reason, payment_date,
	created_at, updated_at, periods`

func (r *pgRepo) GetPaymentByTransactionID(ctx context.Context, transactionID string, forUpdate bool) (*Payment, error) {
	var (
		p             Payment
		subID, planID uuid.NullUUID
		status, kind  string
		paidAt        sql.NullTime
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE transaction_id = $1`+lockClause(forUpdate),
		transactionID,
	).Scan(&p.ID, &p.TransactionID, &subID, &planID, &p.TenantID, &p.AmountMinor, &p.Currency,
		&status, &p.Provider, &kind, &p.ProviderReference, &p.AuthorizationURL, &p.FailureReason,
		&paidAt, &p.CreatedAt, &p.UpdatedAt, &p.Periods)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	p.SubscriptionID = uuidPtr(subID)
	p.PlanID = uuidPtr(planID)
	p.Status = PaymentStatus(status)
	p.PaymentType = PaymentType(kind)
	p.PaymentDate = timePtr(paidAt)
	return &p, nil
}

func (r *pgRepo) InsertPayment(ctx context.Context, p *Payment) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`, p.ID.String(), p.TransactionID, nullUUID(p.SubscriptionID), nullUUID(p.PlanID), p.TenantID.String(),
		p.AmountMinor, p.Currency, string(p.Status), p.Provider, string(p.PaymentType), p.ProviderReference,
		p.AuthorizationURL, p.FailureReason, nullTime(p.PaymentDate), p.CreatedAt, p.UpdatedAt, p.PeriodCount())
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

func (r *pgRepo) UpdatePayment(ctx context.Context, p *Payment) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE payments SET
			status = $2, provider_reference = $3, authorization_url = $4, failure_reason = $5,
			payment_date = $6, updated_at = $7
		WHERE transaction_id = $1
	`, p.TransactionID, string(p.Status), p.ProviderReference, p.AuthorizationURL, p.FailureReason,
		nullTime(p.PaymentDate), p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	return expectOneRow(res, ErrPaymentNotFound)
}

// AppendAudit writes the entry. Inside a transaction it goes through a
// savepoint so a failed insert leaves the transaction usable.
func (r *pgRepo) AppendAudit(ctx context.Context, entry *audit.Entry) error {
	if r.inTx {
		return r.recorder.Record(ctx, r.db, entry)
	}
	return r.recorder.Insert(ctx, r.db, entry)
}

// helpers

func statusStrings(statuses []Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func periodOf(s string) period.Period {
	return period.Period(strings.ToLower(s))
}

func nullUUID(id *uuid.UUID) interface{} {
	if id == nil {
		return nil
	}
	return id.String()
}

func uuidPtr(id uuid.NullUUID) *uuid.UUID {
	if !id.Valid {
		return nil
	}
	v := id.UUID
	return &v
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func expectOneRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "23505" && (constraint == "" || pqErr.Constraint == constraint)
}
