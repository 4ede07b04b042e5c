package billing

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantbilling/pkg/audit"
	"github.com/platinummonkey/tenantbilling/pkg/observability"
	"github.com/platinummonkey/tenantbilling/pkg/period"
)

func setupMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(db, observability.NewLogger(observability.ErrorLevel, io.Discard)), mock
}

func columnsOf(list string) []string {
	parts := strings.Split(list, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

func subscriptionRow(s *Subscription) *sqlmock.Rows {
	var scheduled interface{}
	if s.ScheduledPlanID != nil {
		scheduled = s.ScheduledPlanID.String()
	}
	return sqlmock.NewRows(columnsOf(subscriptionColumns)).AddRow(
		s.ID.String(), s.TenantID.String(), s.PlanID.String(), scheduled, string(s.Status),
		s.StartDate, s.EndDate, nil, s.AutoRenew, s.PaymentRetryCount, s.MaxPaymentRetries,
		nil, nil, nil, nil, s.IsFirstTimeSubscription, s.TrialUsed, s.CreatedAt, s.UpdatedAt,
	)
}

func TestPostgresStore_EnsureSchema(t *testing.T) {
	store, mock := setupMockStore(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS plans").WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, store.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetSubscription(t *testing.T) {
	ctx := context.Background()

	t.Run("scans a row", func(t *testing.T) {
		store, mock := setupMockStore(t)
		scheduled := uuid.New()
		want := &Subscription{
			ID:                uuid.New(),
			TenantID:          uuid.New(),
			PlanID:            uuid.New(),
			ScheduledPlanID:   &scheduled,
			Status:            StatusActive,
			StartDate:         testStart,
			EndDate:           testStart.AddDate(0, 1, 0),
			AutoRenew:         true,
			PaymentRetryCount: 1,
			MaxPaymentRetries: 3,
			CreatedAt:         testStart,
			UpdatedAt:         testStart,
		}

		mock.ExpectQuery(`FROM subscriptions WHERE id = \$1 FOR UPDATE`).
			WithArgs(want.ID.String()).
			WillReturnRows(subscriptionRow(want))

		got, err := store.GetSubscription(ctx, want.ID, true)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("maps no rows to not found", func(t *testing.T) {
		store, mock := setupMockStore(t)
		id := uuid.New()

		mock.ExpectQuery(`FROM subscriptions WHERE id = \$1$`).
			WithArgs(id.String()).
			WillReturnError(sql.ErrNoRows)

		_, err := store.GetSubscription(ctx, id, false)
		assert.ErrorIs(t, err, ErrSubscriptionNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("wraps driver errors", func(t *testing.T) {
		store, mock := setupMockStore(t)
		id := uuid.New()

		mock.ExpectQuery("FROM subscriptions").WillReturnError(errors.New("connection reset"))

		_, err := store.GetSubscription(ctx, id, false)
		require.Error(t, err)
		assert.False(t, IsNotFound(err))
		assert.Contains(t, err.Error(), "connection reset")
	})
}

func TestPostgresStore_ListSubscriptions(t *testing.T) {
	store, mock := setupMockStore(t)
	now := testStart
	sub := &Subscription{
		ID:        uuid.New(),
		TenantID:  uuid.New(),
		PlanID:    uuid.New(),
		Status:    StatusActive,
		StartDate: now.AddDate(0, -1, 0),
		EndDate:   now.Add(-time.Hour),
		CreatedAt: now,
		UpdatedAt: now,
	}

	mock.ExpectQuery(`AND status = ANY\(\$1\) AND end_date < \$2 ORDER BY created_at DESC LIMIT \$3`).
		WithArgs(sqlmock.AnyArg(), now, 10).
		WillReturnRows(subscriptionRow(sub))

	subs, err := store.ListSubscriptions(context.Background(), SubscriptionFilter{
		Statuses:  []Status{StatusActive, StatusTrial},
		EndBefore: &now,
		Limit:     10,
	})
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, sub.ID, subs[0].ID)
	assert.Nil(t, subs[0].ScheduledPlanID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertSubscription_LiveConflict(t *testing.T) {
	store, mock := setupMockStore(t)
	sub := &Subscription{ID: uuid.New(), TenantID: uuid.New(), PlanID: uuid.New(), Status: StatusActive}

	mock.ExpectExec("INSERT INTO subscriptions").
		WillReturnError(&pq.Error{Code: "23505", Constraint: liveSubscriptionIndex})

	err := store.InsertSubscription(context.Background(), sub)
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.Contains(t, err.Error(), "active subscription already exists")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateSubscription_NotFound(t *testing.T) {
	store, mock := setupMockStore(t)
	sub := &Subscription{ID: uuid.New(), PlanID: uuid.New(), Status: StatusExpired}

	mock.ExpectExec("UPDATE subscriptions SET").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.UpdateSubscription(context.Background(), sub)
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_WithinTx(t *testing.T) {
	ctx := context.Background()
	sub := &Subscription{ID: uuid.New(), TenantID: uuid.New(), PlanID: uuid.New(), Status: StatusSuspended}

	t.Run("commits and audits through a savepoint", func(t *testing.T) {
		store, mock := setupMockStore(t)

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE subscriptions SET").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("SAVEPOINT audit_entry").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("INSERT INTO subscription_audit_logs").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("RELEASE SAVEPOINT audit_entry").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		err := store.WithinTx(ctx, func(repo Repository) error {
			if err := repo.UpdateSubscription(ctx, sub); err != nil {
				return err
			}
			subID := sub.ID
			return repo.AppendAudit(ctx, &audit.Entry{SubscriptionID: &subID, Action: audit.ActionSuspended})
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on error", func(t *testing.T) {
		store, mock := setupMockStore(t)

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE subscriptions SET").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := store.WithinTx(ctx, func(repo Repository) error {
			return repo.UpdateSubscription(ctx, sub)
		})
		assert.ErrorIs(t, err, ErrSubscriptionNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("commit failure", func(t *testing.T) {
		store, mock := setupMockStore(t)

		mock.ExpectBegin()
		mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))

		err := store.WithinTx(ctx, func(repo Repository) error { return nil })
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to commit transaction")
	})
}

func TestPostgresStore_AutoRenewals(t *testing.T) {
	ctx := context.Background()
	id, tenantID, subID, planID := uuid.New(), uuid.New(), uuid.New(), uuid.New()

	t.Run("decodes provider tokens", func(t *testing.T) {
		store, mock := setupMockStore(t)

		rows := sqlmock.NewRows(columnsOf(autoRenewalColumns)).AddRow(
			id.String(), tenantID.String(), subID.String(), planID.String(), testStart, testStart,
			"active", "note", []byte(`{"provider":"paystack","subscription_code":"SUB_1","email_token":"tok"}`),
			testStart, testStart,
		)
		mock.ExpectQuery(`FROM auto_renewals WHERE id = \$1`).WithArgs(id.String()).WillReturnRows(rows)

		ar, err := store.GetAutoRenewal(ctx, id, false)
		require.NoError(t, err)
		assert.Equal(t, AutoRenewalActive, ar.Status)
		require.NotNil(t, ar.SubscriptionID)
		assert.Equal(t, subID, *ar.SubscriptionID)
		assert.Equal(t, "SUB_1", ar.ProviderTokens.SubscriptionCode)
		assert.Equal(t, "tok", ar.ProviderTokens.EmailToken)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("filters due renewals", func(t *testing.T) {
		store, mock := setupMockStore(t)
		due := testStart.Add(24 * time.Hour)

		mock.ExpectQuery(`AND tenant_id = \$1 AND status = ANY\(\$2\) AND next_renewal_date <= \$3 ORDER BY next_renewal_date`).
			WithArgs(tenantID.String(), sqlmock.AnyArg(), due).
			WillReturnRows(sqlmock.NewRows(columnsOf(autoRenewalColumns)))

		renewals, err := store.ListAutoRenewals(ctx, AutoRenewalFilter{
			TenantID:  &tenantID,
			Statuses:  []AutoRenewalStatus{AutoRenewalActive},
			DueBefore: &due,
		})
		require.NoError(t, err)
		assert.Empty(t, renewals)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stores tokens as json", func(t *testing.T) {
		store, mock := setupMockStore(t)
		ar := &AutoRenewal{
			ID:             id,
			PlanID:         planID,
			Status:         AutoRenewalCanceled,
			ProviderTokens: ProviderTokens{Provider: "paystack", SubscriptionCode: "SUB_1"},
		}

		mock.ExpectExec("UPDATE auto_renewals SET").
			WithArgs(id.String(), planID.String(), ar.ExpiryDate, ar.NextRenewalDate, "canceled", "",
				[]byte(`{"provider":"paystack","subscription_code":"SUB_1"}`), ar.UpdatedAt).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, store.UpdateAutoRenewal(ctx, ar))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStore_Plans(t *testing.T) {
	ctx := context.Background()

	t.Run("save upserts and returns the stored id", func(t *testing.T) {
		store, mock := setupMockStore(t)
		existing := uuid.New()
		plan := &Plan{ID: uuid.New(), Name: "Basic", Industry: IndustryOther, MaxUsers: 5, MaxBranches: 1,
			PriceMinor: 5000, BillingPeriod: period.Monthly, TierLevel: Tier1, IsActive: true}

		mock.ExpectQuery("ON CONFLICT \\(name, industry\\) DO UPDATE").
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(existing.String(), testStart))

		require.NoError(t, store.SavePlan(ctx, plan))
		assert.Equal(t, existing, plan.ID)
		assert.Equal(t, testStart, plan.CreatedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("list active plans for an industry", func(t *testing.T) {
		store, mock := setupMockStore(t)
		id := uuid.New()

		mock.ExpectQuery(`AND industry = \$1 AND is_active AND NOT discontinued ORDER BY price_minor, name`).
			WithArgs("Retail").
			WillReturnRows(sqlmock.NewRows(columnsOf(planColumns)).AddRow(
				id.String(), "Retail Pro", "", "Retail", 20, 5, int64(25000), "Quarterly", "tier2",
				true, false, testStart, testStart,
			))

		plans, err := store.ListPlans(ctx, PlanFilter{Industry: "Retail", ActiveOnly: true})
		require.NoError(t, err)
		require.Len(t, plans, 1)
		assert.Equal(t, period.Quarterly, plans[0].BillingPeriod)
		assert.Equal(t, Tier2, plans[0].TierLevel)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing plan", func(t *testing.T) {
		store, mock := setupMockStore(t)
		mock.ExpectQuery("FROM plans WHERE id").WillReturnError(sql.ErrNoRows)

		_, err := store.GetPlan(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrPlanNotFound)
	})
}

func TestPostgresStore_Payments(t *testing.T) {
	ctx := context.Background()

	t.Run("missing payment", func(t *testing.T) {
		store, mock := setupMockStore(t)
		mock.ExpectQuery(`FROM payments WHERE transaction_id = \$1 FOR UPDATE`).
			WithArgs("renewal_x").
			WillReturnError(sql.ErrNoRows)

		_, err := store.GetPaymentByTransactionID(ctx, "renewal_x", true)
		assert.ErrorIs(t, err, ErrPaymentNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("update of unknown payment", func(t *testing.T) {
		store, mock := setupMockStore(t)
		mock.ExpectExec("UPDATE payments SET").WillReturnResult(sqlmock.NewResult(0, 0))

		err := store.UpdatePayment(ctx, &Payment{TransactionID: "renewal_x", Status: PaymentFailed})
		assert.ErrorIs(t, err, ErrPaymentNotFound)
	})

	t.Run("period count round trip", func(t *testing.T) {
		store, mock := setupMockStore(t)
		subID, tenantID := uuid.New(), uuid.New()
		now := time.Date(2024, 2, 15, 9, 0, 0, 0, time.UTC)
		p := &Payment{
			ID:             uuid.New(),
			TransactionID:  "advance_1",
			SubscriptionID: &subID,
			TenantID:       tenantID,
			AmountMinor:    30000,
			Currency:       "NGN",
			Status:         PaymentPending,
			Provider:       "paystack",
			PaymentType:    PaymentTypeAdvance,
			Periods:        3,
			CreatedAt:      now,
			UpdatedAt:      now,
		}

		mock.ExpectExec("INSERT INTO payments").
			WithArgs(p.ID.String(), "advance_1", subID.String(), nil, tenantID.String(), int64(30000), "NGN",
				"pending", "paystack", "advance", "", "", "", nil, now, now, 3).
			WillReturnResult(sqlmock.NewResult(1, 1))
		require.NoError(t, store.InsertPayment(ctx, p))

		mock.ExpectQuery(`FROM payments WHERE transaction_id = \$1`).
			WithArgs("advance_1").
			WillReturnRows(sqlmock.NewRows(columnsOf(paymentColumns)).AddRow(
				p.ID.String(), "advance_1", subID.String(), nil, tenantID.String(), int64(30000), "NGN",
				"pending", "paystack", "advance", "", "", "", nil, now, now, int64(3)))
		got, err := store.GetPaymentByTransactionID(ctx, "advance_1", false)
		require.NoError(t, err)
		assert.Equal(t, 3, got.Periods)
		assert.Equal(t, PaymentTypeAdvance, got.PaymentType)
		assert.Nil(t, got.PlanID)
		assert.NoError(t, mock.ExpectationsWereMet())

		// rows written before the column existed buy one period
		mock.ExpectExec("INSERT INTO payments").
			WithArgs(sqlmock.AnyArg(), "renewal_1", sqlmock.AnyArg(), nil, sqlmock.AnyArg(), int64(0), "",
				"", "", "", "", "", "", nil, sqlmock.AnyArg(), sqlmock.AnyArg(), 1).
			WillReturnResult(sqlmock.NewResult(1, 1))
		require.NoError(t, store.InsertPayment(ctx, &Payment{ID: uuid.New(), TransactionID: "renewal_1", SubscriptionID: &subID}))
	})
}

func TestPostgresStore_Preferences(t *testing.T) {
	ctx := context.Background()
	tenantID := uuid.New()

	t.Run("missing preferences", func(t *testing.T) {
		store, mock := setupMockStore(t)
		mock.ExpectQuery("FROM tenant_billing_preferences").WillReturnError(sql.ErrNoRows)

		_, err := store.GetPreferences(ctx, tenantID)
		assert.ErrorIs(t, err, ErrPreferencesNotFound)
	})

	t.Run("upsert defaults the renewal status", func(t *testing.T) {
		store, mock := setupMockStore(t)
		prefs := &TenantBillingPreferences{TenantID: tenantID, PaymentProvider: "paystack"}

		mock.ExpectExec("ON CONFLICT \\(tenant_id\\) DO UPDATE").
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, store.UpsertPreferences(ctx, prefs))
		assert.Equal(t, RenewalPaused, prefs.RenewalStatus)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
