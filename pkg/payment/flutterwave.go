package payment

import (
	"context"
	"crypto/hmac"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultFlutterwaveBaseURL  = "https://api.flutterwave.com/v3"
	FlutterwaveSignatureHeader = "verif-hash"
)

// FlutterwaveConfig configures the Flutterwave client
type FlutterwaveConfig struct {
	BaseURL       string
	SecretKey     string
	WebhookSecret string
	RedirectURL   string
	Timeout       time.Duration
}

// Flutterwave cannot charge a stored card server-side; renewals fall back to
// a hosted payment link the customer must complete.
type Flutterwave struct {
	api           *apiClient
	webhookSecret string
	redirectURL   string
}

// NewFlutterwave creates a Flutterwave provider
func NewFlutterwave(cfg FlutterwaveConfig) *Flutterwave {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultFlutterwaveBaseURL
	}
	return &Flutterwave{
		api:           newAPIClient(ProviderFlutterwave, cfg.BaseURL, cfg.SecretKey, cfg.Timeout),
		webhookSecret: cfg.WebhookSecret,
		redirectURL:   cfg.RedirectURL,
	}
}

func (f *Flutterwave) Name() string { return ProviderFlutterwave }

func (f *Flutterwave) SupportsDirectCharge() bool { return false }

type flutterwaveEnvelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// majorUnits converts minor units to the decimal amount Flutterwave expects
func majorUnits(minor int64) float64 {
	return float64(minor) / 100
}

func minorUnits(major float64) int64 {
	if major < 0 {
		return int64(major*100 - 0.5)
	}
	return int64(major*100 + 0.5)
}

// ChargeWithToken initializes a hosted payment and reports requires_action
// with the link the customer has to follow.
func (f *Flutterwave) ChargeWithToken(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	link, err := f.createPayment(ctx, CheckoutRequest{
		Reference:   req.Reference,
		Email:       req.Email,
		AmountMinor: req.AmountMinor,
		Currency:    req.Currency,
		Metadata:    req.Metadata,
	})
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode < http.StatusInternalServerError {
		return &ChargeResult{Status: ChargeFailed, Reference: req.Reference, Message: apiErr.Message}, nil
	}
	if err != nil {
		return nil, err
	}

	return &ChargeResult{
		Status:           ChargeRequiresAction,
		Reference:        req.Reference,
		AuthorizationURL: link,
		Message:          "customer must authorize the payment",
	}, nil
}

// InitializeTransaction creates a hosted payment link
func (f *Flutterwave) InitializeTransaction(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	link, err := f.createPayment(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize flutterwave payment: %w", err)
	}
	if link == "" {
		return nil, fmt.Errorf("flutterwave payment response missing link")
	}
	return &Checkout{Reference: req.Reference, AuthorizationURL: link}, nil
}

// createPayment calls /payments and returns the hosted link
func (f *Flutterwave) createPayment(ctx context.Context, req CheckoutRequest) (string, error) {
	payload := map[string]interface{}{
		"tx_ref":   req.Reference,
		"amount":   majorUnits(req.AmountMinor),
		"currency": req.Currency,
		"customer": map[string]string{"email": req.Email},
	}
	redirect := req.CallbackURL
	if redirect == "" {
		redirect = f.redirectURL
	}
	if redirect != "" {
		payload["redirect_url"] = redirect
	}
	if len(req.Metadata) > 0 {
		payload["meta"] = req.Metadata
	}

	var env flutterwaveEnvelope
	if err := f.api.do(ctx, http.MethodPost, "/payments", payload, &env); err != nil {
		return "", err
	}

	var data struct {
		Link string `json:"link"`
	}
	if len(env.Data) > 0 {
		_ = json.Unmarshal(env.Data, &data)
	}
	return data.Link, nil
}

func flutterwaveInterval(i Interval) string {
	switch i {
	case IntervalQuarterly:
		return "quarterly"
	case IntervalBiannual:
		return "bi-annually"
	case IntervalAnnual:
		return "yearly"
	default:
		return "monthly"
	}
}

// CreateRecurringPlan creates a payment plan
func (f *Flutterwave) CreateRecurringPlan(ctx context.Context, req RecurringPlanRequest) (*RecurringPlan, error) {
	var env flutterwaveEnvelope
	err := f.api.do(ctx, http.MethodPost, "/payment-plans", map[string]interface{}{
		"name":     req.Name,
		"amount":   majorUnits(req.AmountMinor),
		"interval": flutterwaveInterval(req.Interval),
		"currency": req.Currency,
	}, &env)
	if err != nil {
		return nil, fmt.Errorf("failed to create flutterwave payment plan: %w", err)
	}

	var data struct {
		ID    flexString `json:"id"`
		Token string     `json:"plan_token"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || data.ID == "" {
		return nil, fmt.Errorf("flutterwave payment plan response missing id")
	}

	return &RecurringPlan{
		Provider:      ProviderFlutterwave,
		PaymentPlanID: string(data.ID),
		PlanCode:      data.Token,
	}, nil
}

// CancelRecurringPlan cancels the payment plan
func (f *Flutterwave) CancelRecurringPlan(ctx context.Context, plan RecurringPlan) error {
	if plan.PaymentPlanID == "" {
		return nil
	}
	err := f.api.do(ctx, http.MethodPut, "/payment-plans/"+url.PathEscape(plan.PaymentPlanID)+"/cancel", nil, nil)
	if err != nil {
		return fmt.Errorf("failed to cancel flutterwave payment plan: %w", err)
	}
	return nil
}

type flutterwaveCard struct {
	Last4Digits    string `json:"last4digits"`
	LastFourDigits string `json:"last_4digits"`
	Type           string `json:"type"`
	Brand          string `json:"brand"`
	Token          string `json:"token"`
}

func (c flutterwaveCard) last4() string {
	if c.Last4Digits != "" {
		return c.Last4Digits
	}
	return c.LastFourDigits
}

type flutterwaveCustomer struct {
	ID    flexString `json:"id"`
	Email string     `json:"email"`
}

// VerifyTransaction looks a transaction up by our reference
func (f *Flutterwave) VerifyTransaction(ctx context.Context, reference string) (*Verification, error) {
	var env flutterwaveEnvelope
	path := "/transactions/verify_by_reference?tx_ref=" + url.QueryEscape(reference)
	if err := f.api.do(ctx, http.MethodGet, path, nil, &env); err != nil {
		return nil, fmt.Errorf("failed to verify flutterwave transaction: %w", err)
	}

	var data struct {
		Status        string              `json:"status"`
		Amount        float64             `json:"amount"`
		Currency      string              `json:"currency"`
		ProcessorResp string              `json:"processor_response"`
		CreatedAt     string              `json:"created_at"`
		Card          flutterwaveCard     `json:"card"`
		Customer      flutterwaveCustomer `json:"customer"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to decode flutterwave verification: %w", err)
	}

	v := &Verification{
		Reference:   reference,
		Status:      data.Status,
		Successful:  env.Status == "success" && data.Status == "successful",
		AmountMinor: minorUnits(data.Amount),
		Currency:    data.Currency,
		Message:     data.ProcessorResp,
	}
	if data.CreatedAt != "" {
		if t, err := time.Parse(time.RFC3339, data.CreatedAt); err == nil {
			v.PaidAt = &t
		}
	}
	if data.Card.Token != "" {
		v.Credential = &Credential{
			PaymentMethodID: data.Card.Token,
			CustomerID:      string(data.Customer.ID),
		}
	}
	return v, nil
}

// SignatureHeader implements WebhookSource
func (f *Flutterwave) SignatureHeader() string { return FlutterwaveSignatureHeader }

// VerifySignature compares the verif-hash header with the shared secret in constant time
func (f *Flutterwave) VerifySignature(signature string, body []byte) bool {
	if signature == "" || f.webhookSecret == "" {
		return false
	}
	return hmac.Equal([]byte(signature), []byte(f.webhookSecret))
}

type flutterwaveWebhook struct {
	Event  string          `json:"event"`
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

type flutterwaveWebhookData struct {
	Status   string              `json:"status"`
	TxRef    string              `json:"tx_ref"`
	Meta     json.RawMessage     `json:"meta"`
	Metadata json.RawMessage     `json:"metadata"`
	Card     flutterwaveCard     `json:"card"`
	Customer flutterwaveCustomer `json:"customer"`
}

// ParseEvent normalizes a Flutterwave webhook body. Flutterwave sends either an
// {"event", "data"} envelope or the bare transaction object.
func (f *Flutterwave) ParseEvent(body []byte) (*WebhookEvent, error) {
	var hook flutterwaveWebhook
	if err := json.Unmarshal(body, &hook); err != nil {
		return nil, fmt.Errorf("invalid flutterwave payload: %w", err)
	}

	raw := hook.Data
	if len(raw) == 0 || string(raw) == "null" {
		raw = body
	}
	var data flutterwaveWebhookData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("invalid flutterwave payload data: %w", err)
	}

	eventType := hook.Event
	if eventType == "" {
		eventType = strings.ToLower(hook.Status)
	}

	metaRaw := data.Meta
	if len(metaRaw) == 0 || string(metaRaw) == "null" {
		metaRaw = data.Metadata
	}
	meta := parseMetadata(metaRaw)

	brand := data.Card.Type
	if brand == "" {
		brand = data.Card.Brand
	}

	successful := strings.Contains(strings.ToLower(eventType), "success") ||
		strings.EqualFold(data.Status, "successful")

	return &WebhookEvent{
		Provider:   ProviderFlutterwave,
		Type:       eventType,
		Successful: successful,
		Reference:  data.TxRef,
		TenantID:   string(meta.TenantID),
		AutoRenew:  bool(meta.AutoRenew),
		Email:      data.Customer.Email,
		CardLast4:  data.Card.last4(),
		CardBrand:  brand,
		Credential: Credential{
			PaymentMethodID: meta.FlutterwaveToken,
			CustomerID:      string(data.Customer.ID),
		},
		Raw: json.RawMessage(body),
	}, nil
}
