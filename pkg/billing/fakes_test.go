package billing

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/tenantbilling/pkg/audit"
	"github.com/platinummonkey/tenantbilling/pkg/observability"
	"github.com/platinummonkey/tenantbilling/pkg/payment"
	"github.com/platinummonkey/tenantbilling/pkg/period"
)

// memStore is an in-memory Store. WithinTx serializes transactions and
// restores a snapshot when fn fails.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	plans    map[uuid.UUID]Plan
	subs     map[uuid.UUID]Subscription
	credits  []Credit
	trials   map[uuid.UUID]TrialUsage
	renewals map[uuid.UUID]AutoRenewal
	prefs    map[uuid.UUID]TenantBillingPreferences
	payments map[string]Payment
	audits   []audit.Entry

	// auditErr makes AppendAudit fail
	auditErr error
	// wrapNotFound wraps the not-found errors of preference lookups
	wrapNotFound bool
}

func newMemStore() *memStore {
	return &memStore{
		plans:    map[uuid.UUID]Plan{},
		subs:     map[uuid.UUID]Subscription{},
		trials:   map[uuid.UUID]TrialUsage{},
		renewals: map[uuid.UUID]AutoRenewal{},
		prefs:    map[uuid.UUID]TenantBillingPreferences{},
		payments: map[string]Payment{},
	}
}

type memSnapshot struct {
	plans    map[uuid.UUID]Plan
	subs     map[uuid.UUID]Subscription
	credits  []Credit
	trials   map[uuid.UUID]TrialUsage
	renewals map[uuid.UUID]AutoRenewal
	prefs    map[uuid.UUID]TenantBillingPreferences
	payments map[string]Payment
	audits   []audit.Entry
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (m *memStore) snapshot() memSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memSnapshot{
		plans:    copyMap(m.plans),
		subs:     copyMap(m.subs),
		credits:  append([]Credit(nil), m.credits...),
		trials:   copyMap(m.trials),
		renewals: copyMap(m.renewals),
		prefs:    copyMap(m.prefs),
		payments: copyMap(m.payments),
		audits:   append([]audit.Entry(nil), m.audits...),
	}
}

func (m *memStore) restore(s memSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans, m.subs, m.credits, m.trials = s.plans, s.subs, s.credits, s.trials
	m.renewals, m.prefs, m.payments, m.audits = s.renewals, s.prefs, s.payments, s.audits
}

func (m *memStore) WithinTx(ctx context.Context, fn func(repo Repository) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	snap := m.snapshot()
	if err := fn(m); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

func (m *memStore) GetPlan(ctx context.Context, id uuid.UUID) (*Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[id]
	if !ok {
		return nil, ErrPlanNotFound
	}
	return &p, nil
}

func (m *memStore) GetPlanByName(ctx context.Context, name, industry string) (*Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.plans {
		if p.Name == name && p.Industry == industry {
			return &p, nil
		}
	}
	return nil, ErrPlanNotFound
}

func (m *memStore) ListPlans(ctx context.Context, filter PlanFilter) ([]*Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	plans := []*Plan{}
	for _, p := range m.plans {
		if filter.Industry != "" && p.Industry != filter.Industry {
			continue
		}
		if filter.ActiveOnly && !p.Available() {
			continue
		}
		plans = append(plans, &p)
	}
	sort.Slice(plans, func(i, j int) bool { return plans[i].PriceMinor < plans[j].PriceMinor })
	return plans, nil
}

func (m *memStore) SavePlan(ctx context.Context, plan *Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.plans {
		if p.Name == plan.Name && p.Industry == plan.Industry {
			plan.ID = id
			plan.CreatedAt = p.CreatedAt
		}
	}
	m.plans[plan.ID] = *plan
	return nil
}

func (m *memStore) GetSubscription(ctx context.Context, id uuid.UUID, forUpdate bool) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	return &s, nil
}

func (m *memStore) latest(match func(s Subscription) bool) (*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found *Subscription
	for _, s := range m.subs {
		if !match(s) {
			continue
		}
		if found == nil || s.CreatedAt.After(found.CreatedAt) {
			s := s
			found = &s
		}
	}
	if found == nil {
		return nil, ErrSubscriptionNotFound
	}
	return found, nil
}

func (m *memStore) LiveSubscription(ctx context.Context, tenantID uuid.UUID, forUpdate bool) (*Subscription, error) {
	return m.latest(func(s Subscription) bool { return s.TenantID == tenantID && s.IsLive() })
}

func (m *memStore) LatestSubscription(ctx context.Context, tenantID uuid.UUID) (*Subscription, error) {
	return m.latest(func(s Subscription) bool { return s.TenantID == tenantID && s.Status != StatusCanceled })
}

func (m *memStore) ListSubscriptions(ctx context.Context, filter SubscriptionFilter) ([]*Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := []*Subscription{}
	for _, s := range m.subs {
		if filter.TenantID != nil && s.TenantID != *filter.TenantID {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, s.Status) {
			continue
		}
		if filter.EndBefore != nil && !s.EndDate.Before(*filter.EndBefore) {
			continue
		}
		if filter.SuspendedBefore != nil && (s.SuspendedAt == nil || !s.SuspendedAt.Before(*filter.SuspendedBefore)) {
			continue
		}
		if s.PaymentRetryCount < filter.MinRetryCount {
			continue
		}
		subs = append(subs, &s)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].CreatedAt.After(subs[j].CreatedAt) })
	if filter.Limit > 0 && len(subs) > filter.Limit {
		subs = subs[:filter.Limit]
	}
	return subs, nil
}

func containsStatus(statuses []Status, s Status) bool {
	for _, v := range statuses {
		if v == s {
			return true
		}
	}
	return false
}

func (m *memStore) InsertSubscription(ctx context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub.IsLive() {
		for _, s := range m.subs {
			if s.TenantID == sub.TenantID && s.IsLive() {
				return NewValidationError("active subscription already exists")
			}
		}
	}
	m.subs[sub.ID] = *sub
	return nil
}

func (m *memStore) UpdateSubscription(ctx context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[sub.ID]; !ok {
		return ErrSubscriptionNotFound
	}
	m.subs[sub.ID] = *sub
	return nil
}

func (m *memStore) InsertCredit(ctx context.Context, credit *Credit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credits = append(m.credits, *credit)
	return nil
}

func (m *memStore) ListCredits(ctx context.Context, subscriptionID uuid.UUID) ([]*Credit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	credits := []*Credit{}
	for _, c := range m.credits {
		if c.SubscriptionID == subscriptionID {
			credits = append(credits, &c)
		}
	}
	return credits, nil
}

func (m *memStore) FindTrialUsage(ctx context.Context, tenantID uuid.UUID, machineNumber string) ([]*TrialUsage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	usages := []*TrialUsage{}
	for _, u := range m.trials {
		if u.TenantID == tenantID || (machineNumber != "" && u.MachineNumber == machineNumber) {
			usages = append(usages, &u)
		}
	}
	return usages, nil
}

func (m *memStore) UpsertTrialUsage(ctx context.Context, usage *TrialUsage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trials[usage.TenantID] = *usage
	return nil
}

func (m *memStore) GetAutoRenewal(ctx context.Context, id uuid.UUID, forUpdate bool) (*AutoRenewal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ar, ok := m.renewals[id]
	if !ok {
		return nil, ErrAutoRenewalNotFound
	}
	return &ar, nil
}

func (m *memStore) ListAutoRenewals(ctx context.Context, filter AutoRenewalFilter) ([]*AutoRenewal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	renewals := []*AutoRenewal{}
	for _, ar := range m.renewals {
		if filter.ID != nil && ar.ID != *filter.ID {
			continue
		}
		if filter.TenantID != nil && ar.TenantID != *filter.TenantID {
			continue
		}
		if filter.SubscriptionID != nil && (ar.SubscriptionID == nil || *ar.SubscriptionID != *filter.SubscriptionID) {
			continue
		}
		if len(filter.Statuses) > 0 {
			found := false
			for _, s := range filter.Statuses {
				found = found || s == ar.Status
			}
			if !found {
				continue
			}
		}
		if filter.DueBefore != nil && ar.NextRenewalDate.After(*filter.DueBefore) {
			continue
		}
		renewals = append(renewals, &ar)
	}
	sort.Slice(renewals, func(i, j int) bool { return renewals[i].NextRenewalDate.Before(renewals[j].NextRenewalDate) })
	return renewals, nil
}

func (m *memStore) InsertAutoRenewal(ctx context.Context, ar *AutoRenewal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.renewals[ar.ID] = *ar
	return nil
}

func (m *memStore) UpdateAutoRenewal(ctx context.Context, ar *AutoRenewal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.renewals[ar.ID]; !ok {
		return ErrAutoRenewalNotFound
	}
	m.renewals[ar.ID] = *ar
	return nil
}

func (m *memStore) GetPreferences(ctx context.Context, tenantID uuid.UUID) (*TenantBillingPreferences, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prefs[tenantID]
	if !ok && m.wrapNotFound {
		return nil, fmt.Errorf("billing preferences %s: %w", tenantID, ErrPreferencesNotFound)
	}
	if !ok {
		return nil, ErrPreferencesNotFound
	}
	return &p, nil
}

func (m *memStore) UpsertPreferences(ctx context.Context, prefs *TenantBillingPreferences) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefs[prefs.TenantID] = *prefs
	return nil
}

func (m *memStore) GetPaymentByTransactionID(ctx context.Context, transactionID string, forUpdate bool) (*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[transactionID]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	return &p, nil
}

func (m *memStore) InsertPayment(ctx context.Context, p *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[p.TransactionID] = *p
	return nil
}

func (m *memStore) UpdatePayment(ctx context.Context, p *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.payments[p.TransactionID]; !ok {
		return ErrPaymentNotFound
	}
	m.payments[p.TransactionID] = *p
	return nil
}

func (m *memStore) AppendAudit(ctx context.Context, entry *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.auditErr != nil {
		return m.auditErr
	}
	m.audits = append(m.audits, *entry)
	return nil
}

// auditActions returns the actions recorded for a subscription in order
func (m *memStore) auditActions(subID uuid.UUID) []audit.Action {
	m.mu.Lock()
	defer m.mu.Unlock()
	var actions []audit.Action
	for _, e := range m.audits {
		if e.SubscriptionID != nil && *e.SubscriptionID == subID {
			actions = append(actions, e.Action)
		}
	}
	return actions
}

func (m *memStore) paymentsFor(subID uuid.UUID) []Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Payment
	for _, p := range m.payments {
		if p.SubscriptionID != nil && *p.SubscriptionID == subID {
			out = append(out, p)
		}
	}
	return out
}

// Test doubles for the remaining collaborators

type mockTenantDirectory struct {
	TenantFunc func(ctx context.Context, tenantID uuid.UUID) (*Tenant, error)
	UsageFunc  func(ctx context.Context, tenantID uuid.UUID) (*Usage, error)
}

func (m *mockTenantDirectory) Tenant(ctx context.Context, tenantID uuid.UUID) (*Tenant, error) {
	if m.TenantFunc != nil {
		return m.TenantFunc(ctx, tenantID)
	}
	return nil, nil
}

func (m *mockTenantDirectory) Usage(ctx context.Context, tenantID uuid.UUID) (*Usage, error) {
	if m.UsageFunc != nil {
		return m.UsageFunc(ctx, tenantID)
	}
	return nil, ErrUsageUnavailable
}

type mockProvider struct {
	name          string
	directCharge  bool
	ChargeFunc    func(ctx context.Context, req payment.ChargeRequest) (*payment.ChargeResult, error)
	CreatePlanFn  func(ctx context.Context, req payment.RecurringPlanRequest) (*payment.RecurringPlan, error)
	CancelPlanFn  func(ctx context.Context, plan payment.RecurringPlan) error
	VerifyFunc    func(ctx context.Context, reference string) (*payment.Verification, error)
	InitFunc      func(ctx context.Context, req payment.CheckoutRequest) (*payment.Checkout, error)
	checkouts     []payment.CheckoutRequest
	chargeCalls   int
	verifyCalls   int
	canceledPlans []payment.RecurringPlan
	mu            sync.Mutex
}

func (m *mockProvider) Name() string {
	return m.name
}

func (m *mockProvider) SupportsDirectCharge() bool {
	return m.directCharge
}

func (m *mockProvider) ChargeWithToken(ctx context.Context, req payment.ChargeRequest) (*payment.ChargeResult, error) {
	m.mu.Lock()
	m.chargeCalls++
	m.mu.Unlock()
	if m.ChargeFunc != nil {
		return m.ChargeFunc(ctx, req)
	}
	return &payment.ChargeResult{Status: payment.ChargeSucceeded, Reference: req.Reference}, nil
}

func (m *mockProvider) InitializeTransaction(ctx context.Context, req payment.CheckoutRequest) (*payment.Checkout, error) {
	m.mu.Lock()
	m.checkouts = append(m.checkouts, req)
	m.mu.Unlock()
	if m.InitFunc != nil {
		return m.InitFunc(ctx, req)
	}
	return &payment.Checkout{Reference: req.Reference, AuthorizationURL: "https://checkout.example.com/" + req.Reference, AccessCode: "ac_test"}, nil
}

func (m *mockProvider) CreateRecurringPlan(ctx context.Context, req payment.RecurringPlanRequest) (*payment.RecurringPlan, error) {
	if m.CreatePlanFn != nil {
		return m.CreatePlanFn(ctx, req)
	}
	return &payment.RecurringPlan{Provider: m.name, PlanCode: "PLN_test", SubscriptionCode: "SUB_test"}, nil
}

func (m *mockProvider) CancelRecurringPlan(ctx context.Context, plan payment.RecurringPlan) error {
	m.mu.Lock()
	m.canceledPlans = append(m.canceledPlans, plan)
	m.mu.Unlock()
	if m.CancelPlanFn != nil {
		return m.CancelPlanFn(ctx, plan)
	}
	return nil
}

func (m *mockProvider) VerifyTransaction(ctx context.Context, reference string) (*payment.Verification, error) {
	m.mu.Lock()
	m.verifyCalls++
	m.mu.Unlock()
	if m.VerifyFunc != nil {
		return m.VerifyFunc(ctx, reference)
	}
	return &payment.Verification{Reference: reference, Successful: true, Status: "success"}, nil
}

type providerMap map[string]payment.Provider

func (p providerMap) Get(name string) (payment.Provider, bool) {
	provider, ok := p[name]
	return provider, ok
}

type mockLocker struct {
	mu    sync.Mutex
	held  map[string]string
	err   error
	locks int
}

func newMockLocker() *mockLocker {
	return &mockLocker{held: map[string]string{}}
}

func (m *mockLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", false, m.err
	}
	if _, ok := m.held[key]; ok {
		return "", false, nil
	}
	token := uuid.NewString()
	m.held[key] = token
	m.locks++
	return token, true, nil
}

func (m *mockLocker) Unlock(ctx context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[key] == token {
		delete(m.held, key)
	}
	return nil
}

type recordingMetrics struct {
	mu         sync.Mutex
	operations map[string]int
	renewals   map[string]int
	sweeps     []string
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{operations: map[string]int{}, renewals: map[string]int{}}
}

func (m *recordingMetrics) RecordOperation(operation, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.operations[operation+":"+outcome]++
}

func (m *recordingMetrics) RecordRenewal(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.renewals[outcome]++
}

func (m *recordingMetrics) ObserveSweep(sweep string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweeps = append(m.sweeps, sweep)
}

// clock is a settable time source
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var testStart = time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)

// fixture bundles a store, a clock and the collaborators used by the services
type fixture struct {
	store    *memStore
	clock    *clock
	tenants  *mockTenantDirectory
	provider *mockProvider
	locker   *mockLocker
	metrics  *recordingMetrics
	deps     Deps
}

func newFixture() *fixture {
	f := &fixture{
		store:    newMemStore(),
		clock:    &clock{now: testStart},
		tenants:  &mockTenantDirectory{},
		provider: &mockProvider{name: payment.ProviderPaystack, directCharge: true},
		locker:   newMockLocker(),
		metrics:  newRecordingMetrics(),
	}
	f.deps = Deps{
		Store:     f.store,
		Tenants:   f.tenants,
		Providers: providerMap{payment.ProviderPaystack: f.provider},
		Locker:    f.locker,
		Policy:    DefaultPolicy(),
		Logger:    observability.NewLogger(observability.ErrorLevel, io.Discard),
		Metrics:   f.metrics,
		Now:       f.clock.Now,
	}
	return f
}

func (f *fixture) addPlan(name string, tier Tier, price int64, p period.Period) *Plan {
	plan := &Plan{
		ID:            uuid.New(),
		Name:          name,
		Industry:      IndustryOther,
		MaxUsers:      10,
		MaxBranches:   2,
		PriceMinor:    price,
		BillingPeriod: p,
		TierLevel:     tier,
		IsActive:      true,
		CreatedAt:     testStart,
		UpdatedAt:     testStart,
	}
	f.store.plans[plan.ID] = *plan
	return plan
}

// addSubscription stores an active subscription on plan ending at end
func (f *fixture) addSubscription(plan *Plan, status Status, start, end time.Time) *Subscription {
	sub := &Subscription{
		ID:                uuid.New(),
		TenantID:          uuid.New(),
		PlanID:            plan.ID,
		Status:            status,
		StartDate:         start,
		EndDate:           end,
		MaxPaymentRetries: 3,
		CreatedAt:         start,
		UpdatedAt:         start,
	}
	f.store.subs[sub.ID] = *sub
	return sub
}

func (f *fixture) sub(id uuid.UUID) Subscription {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	return f.store.subs[id]
}
