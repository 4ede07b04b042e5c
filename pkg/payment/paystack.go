package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultPaystackBaseURL  = "https://api.paystack.co"
	PaystackSignatureHeader = "X-Paystack-Signature"
)

// PaystackConfig configures the Paystack client
type PaystackConfig struct {
	BaseURL   string
	SecretKey string
	Timeout   time.Duration
}

// Paystack charges stored authorizations server-side
type Paystack struct {
	api       *apiClient
	secretKey string
}

// NewPaystack creates a Paystack provider
func NewPaystack(cfg PaystackConfig) *Paystack {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultPaystackBaseURL
	}
	return &Paystack{
		api:       newAPIClient(ProviderPaystack, cfg.BaseURL, cfg.SecretKey, cfg.Timeout),
		secretKey: cfg.SecretKey,
	}
}

func (p *Paystack) Name() string { return ProviderPaystack }

func (p *Paystack) SupportsDirectCharge() bool { return true }

type paystackEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type paystackAuthorization struct {
	AuthorizationCode string   `json:"authorization_code"`
	Last4             string   `json:"last4"`
	CardType          string   `json:"card_type"`
	Brand             string   `json:"brand"`
	Reusable          flexBool `json:"reusable"`
}

type paystackCustomer struct {
	CustomerCode string `json:"customer_code"`
	Email        string `json:"email"`
}

type paystackTransaction struct {
	Reference       string                `json:"reference"`
	Status          string                `json:"status"`
	Amount          int64                 `json:"amount"`
	Currency        string                `json:"currency"`
	GatewayResponse string                `json:"gateway_response"`
	PaidAt          string                `json:"paid_at"`
	URL             string                `json:"url"`
	ID              flexString            `json:"id"`
	Authorization   paystackAuthorization `json:"authorization"`
	Customer        paystackCustomer      `json:"customer"`
}

// ChargeWithToken calls /transaction/charge_authorization
func (p *Paystack) ChargeWithToken(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if req.Credential.AuthorizationCode == "" {
		return &ChargeResult{
			Status:    ChargeFailed,
			Reference: req.Reference,
			Message:   "no stored paystack authorization",
		}, nil
	}

	payload := map[string]interface{}{
		"authorization_code": req.Credential.AuthorizationCode,
		"email":              req.Email,
		"amount":             req.AmountMinor,
		"currency":           req.Currency,
		"reference":          req.Reference,
	}
	if len(req.Metadata) > 0 {
		payload["metadata"] = req.Metadata
	}

	var env paystackEnvelope
	err := p.api.do(ctx, http.MethodPost, "/transaction/charge_authorization", payload, &env)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode < http.StatusInternalServerError {
		return &ChargeResult{Status: ChargeFailed, Reference: req.Reference, Message: apiErr.Message}, nil
	}
	if err != nil {
		return nil, err
	}

	var tx paystackTransaction
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &tx); err != nil {
			return nil, fmt.Errorf("failed to decode paystack charge: %w", err)
		}
	}

	result := &ChargeResult{
		Reference:         req.Reference,
		ProviderReference: string(tx.ID),
		Message:           tx.GatewayResponse,
	}
	if tx.Reference != "" {
		result.Reference = tx.Reference
	}
	if result.Message == "" {
		result.Message = env.Message
	}

	switch strings.ToLower(tx.Status) {
	case "success":
		result.Status = ChargeSucceeded
	case "failed", "reversed", "abandoned", "":
		result.Status = ChargeFailed
	default:
		// send_otp, send_pin, open_url, pending
		result.Status = ChargeRequiresAction
		result.AuthorizationURL = tx.URL
	}
	return result, nil
}

// InitializeTransaction calls /transaction/initialize
func (p *Paystack) InitializeTransaction(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	payload := map[string]interface{}{
		"email":     req.Email,
		"amount":    req.AmountMinor,
		"currency":  req.Currency,
		"reference": req.Reference,
	}
	if req.CallbackURL != "" {
		payload["callback_url"] = req.CallbackURL
	}
	if len(req.Metadata) > 0 {
		payload["metadata"] = req.Metadata
	}

	var env paystackEnvelope
	if err := p.api.do(ctx, http.MethodPost, "/transaction/initialize", payload, &env); err != nil {
		return nil, fmt.Errorf("failed to initialize paystack transaction: %w", err)
	}

	var data struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || data.AuthorizationURL == "" {
		return nil, fmt.Errorf("paystack initialize response missing authorization_url")
	}

	checkout := &Checkout{
		Reference:        req.Reference,
		AuthorizationURL: data.AuthorizationURL,
		AccessCode:       data.AccessCode,
	}
	if data.Reference != "" {
		checkout.Reference = data.Reference
	}
	return checkout, nil
}

func paystackInterval(i Interval) string {
	switch i {
	case IntervalQuarterly:
		return "quarterly"
	case IntervalBiannual:
		return "biannually"
	case IntervalAnnual:
		return "annually"
	default:
		return "monthly"
	}
}

// CreateRecurringPlan creates a plan and subscribes the customer to it
func (p *Paystack) CreateRecurringPlan(ctx context.Context, req RecurringPlanRequest) (*RecurringPlan, error) {
	var planEnv paystackEnvelope
	err := p.api.do(ctx, http.MethodPost, "/plan", map[string]interface{}{
		"name":     req.Name,
		"amount":   req.AmountMinor,
		"interval": paystackInterval(req.Interval),
		"currency": req.Currency,
	}, &planEnv)
	if err != nil {
		return nil, fmt.Errorf("failed to create paystack plan: %w", err)
	}

	var planData struct {
		PlanCode string `json:"plan_code"`
	}
	if err := json.Unmarshal(planEnv.Data, &planData); err != nil || planData.PlanCode == "" {
		return nil, fmt.Errorf("paystack plan response missing plan_code")
	}

	customer := req.Credential.CustomerCode
	if customer == "" {
		customer = req.Email
	}
	subPayload := map[string]interface{}{
		"customer": customer,
		"plan":     planData.PlanCode,
	}
	if req.Credential.AuthorizationCode != "" {
		subPayload["authorization"] = req.Credential.AuthorizationCode
	}
	if !req.StartDate.IsZero() {
		subPayload["start_date"] = req.StartDate.UTC().Format(time.RFC3339)
	}

	var subEnv paystackEnvelope
	if err := p.api.do(ctx, http.MethodPost, "/subscription", subPayload, &subEnv); err != nil {
		return nil, fmt.Errorf("failed to create paystack subscription: %w", err)
	}

	var subData struct {
		SubscriptionCode string `json:"subscription_code"`
		EmailToken       string `json:"email_token"`
	}
	if err := json.Unmarshal(subEnv.Data, &subData); err != nil {
		return nil, fmt.Errorf("failed to decode paystack subscription: %w", err)
	}

	return &RecurringPlan{
		Provider:         ProviderPaystack,
		PlanCode:         planData.PlanCode,
		SubscriptionCode: subData.SubscriptionCode,
		EmailToken:       subData.EmailToken,
	}, nil
}

// CancelRecurringPlan disables the customer's subscription
func (p *Paystack) CancelRecurringPlan(ctx context.Context, plan RecurringPlan) error {
	if plan.SubscriptionCode == "" {
		return nil
	}
	err := p.api.do(ctx, http.MethodPost, "/subscription/disable", map[string]string{
		"code":  plan.SubscriptionCode,
		"token": plan.EmailToken,
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to disable paystack subscription: %w", err)
	}
	return nil
}

// VerifyTransaction calls /transaction/verify/{reference}
func (p *Paystack) VerifyTransaction(ctx context.Context, reference string) (*Verification, error) {
	var env paystackEnvelope
	if err := p.api.do(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil, &env); err != nil {
		return nil, fmt.Errorf("failed to verify paystack transaction: %w", err)
	}

	var tx paystackTransaction
	if err := json.Unmarshal(env.Data, &tx); err != nil {
		return nil, fmt.Errorf("failed to decode paystack verification: %w", err)
	}

	v := &Verification{
		Reference:   reference,
		Status:      tx.Status,
		Successful:  env.Status && strings.EqualFold(tx.Status, "success"),
		AmountMinor: tx.Amount,
		Currency:    tx.Currency,
		Message:     tx.GatewayResponse,
	}
	if tx.PaidAt != "" {
		if t, err := time.Parse(time.RFC3339, tx.PaidAt); err == nil {
			v.PaidAt = &t
		}
	}
	if tx.Authorization.AuthorizationCode != "" && bool(tx.Authorization.Reusable) {
		v.Credential = &Credential{
			AuthorizationCode: tx.Authorization.AuthorizationCode,
			CustomerCode:      tx.Customer.CustomerCode,
		}
	}
	return v, nil
}

// SignatureHeader implements WebhookSource
func (p *Paystack) SignatureHeader() string { return PaystackSignatureHeader }

// VerifySignature checks hex(HMAC-SHA512(secret, body)) in constant time
func (p *Paystack) VerifySignature(signature string, body []byte) bool {
	if signature == "" || p.secretKey == "" {
		return false
	}
	mac := hmac.New(sha512.New, []byte(p.secretKey))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected))
}

// SignPayload returns the signature Paystack would send for body
func (p *Paystack) SignPayload(body []byte) string {
	mac := hmac.New(sha512.New, []byte(p.secretKey))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

type paystackWebhook struct {
	Event string `json:"event"`
	Data  struct {
		Reference        string                `json:"reference"`
		Status           string                `json:"status"`
		Metadata         json.RawMessage       `json:"metadata"`
		Authorization    paystackAuthorization `json:"authorization"`
		Customer         paystackCustomer      `json:"customer"`
		SubscriptionCode string                `json:"subscription_code"`
		Subscription     struct {
			SubscriptionCode json.RawMessage `json:"subscription_code"`
		} `json:"subscription"`
	} `json:"data"`
}

type webhookMetadata struct {
	TenantID         flexString `json:"tenant_id"`
	AutoRenew        flexBool   `json:"auto_renew"`
	FlutterwaveToken string     `json:"flutterwave_token"`
}

// parseMetadata tolerates metadata sent as an object, a JSON-encoded string, or empty
func parseMetadata(raw json.RawMessage) webhookMetadata {
	var meta webhookMetadata
	if len(raw) == 0 {
		return meta
	}
	if json.Unmarshal(raw, &meta) == nil {
		return meta
	}
	var encoded string
	if json.Unmarshal(raw, &encoded) == nil && encoded != "" {
		_ = json.Unmarshal([]byte(encoded), &meta)
	}
	return meta
}

// ParseEvent normalizes a Paystack webhook body
func (p *Paystack) ParseEvent(body []byte) (*WebhookEvent, error) {
	var hook paystackWebhook
	if err := json.Unmarshal(body, &hook); err != nil {
		return nil, fmt.Errorf("invalid paystack payload: %w", err)
	}

	eventType := hook.Event
	if eventType == "" {
		eventType = strings.ToLower(hook.Data.Status)
	}

	meta := parseMetadata(hook.Data.Metadata)
	brand := strings.TrimSpace(hook.Data.Authorization.CardType)
	if brand == "" {
		brand = hook.Data.Authorization.Brand
	}

	subscriptionCode := hook.Data.SubscriptionCode
	if subscriptionCode == "" {
		subscriptionCode = nestedSubscriptionCode(hook.Data.Subscription.SubscriptionCode)
	}

	return &WebhookEvent{
		Provider:   ProviderPaystack,
		Type:       eventType,
		Successful: strings.Contains(strings.ToLower(eventType), "success"),
		Reference:  hook.Data.Reference,
		TenantID:   string(meta.TenantID),
		AutoRenew:  bool(meta.AutoRenew),
		Email:      hook.Data.Customer.Email,
		CardLast4:  hook.Data.Authorization.Last4,
		CardBrand:  brand,
		Credential: Credential{
			AuthorizationCode: hook.Data.Authorization.AuthorizationCode,
			CustomerCode:      hook.Data.Customer.CustomerCode,
		},
		SubscriptionCode: subscriptionCode,
		Raw:              json.RawMessage(body),
	}, nil
}

// nestedSubscriptionCode reads subscription_code given either as a string or as
// an object carrying its own subscription_code field
func nestedSubscriptionCode(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var code string
	if json.Unmarshal(raw, &code) == nil {
		return code
	}
	var nested struct {
		SubscriptionCode string `json:"subscription_code"`
	}
	if json.Unmarshal(raw, &nested) == nil {
		return nested.SubscriptionCode
	}
	return ""
}
