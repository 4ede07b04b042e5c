package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/platinummonkey/tenantbilling/pkg/billing"
	"github.com/platinummonkey/tenantbilling/pkg/contextkeys"
)

// DefaultTimeout bounds every identity service call
const DefaultTimeout = 5 * time.Second

// Config configures the identity service client
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// StatusError is a non-2xx identity service response
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("identity service returned status %d: %s", e.StatusCode, e.Body)
}

// IsNotFound reports whether err is a 404 from the identity service
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// Client calls the identity service REST API
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     oauth2.TokenSource
}

// NewClient creates a client. tokens may be nil, in which case only the
// caller's forwarded bearer token is sent.
func NewClient(cfg Config, tokens oauth2.TokenSource) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		tokens:     tokens,
	}
}

type tenantResponse struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Industry string    `json:"industry"`
	Email    string    `json:"email"`
}

// GetTenant fetches a tenant
func (c *Client) GetTenant(ctx context.Context, tenantID uuid.UUID) (*billing.Tenant, error) {
	var resp tenantResponse
	if err := c.get(ctx, "/tenants/"+tenantID.String(), &resp); err != nil {
		return nil, err
	}
	if resp.ID == uuid.Nil {
		resp.ID = tenantID
	}
	return &billing.Tenant{
		ID:       resp.ID,
		Name:     resp.Name,
		Industry: resp.Industry,
		Email:    resp.Email,
	}, nil
}

// GetUsers lists the tenant's users
func (c *Client) GetUsers(ctx context.Context, tenantID uuid.UUID) ([]json.RawMessage, error) {
	var users []json.RawMessage
	if err := c.get(ctx, "/tenants/"+tenantID.String()+"/users", &users); err != nil {
		return nil, err
	}
	return users, nil
}

// GetBranches lists the tenant's branches
func (c *Client) GetBranches(ctx context.Context, tenantID uuid.UUID) ([]json.RawMessage, error) {
	var branches []json.RawMessage
	if err := c.get(ctx, "/tenants/"+tenantID.String()+"/branches", &branches); err != nil {
		return nil, err
	}
	return branches, nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create identity request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if err := c.authorize(ctx, req); err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call identity service: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read identity response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode identity response: %w", err)
	}
	return nil
}

// authorize sets the Authorization header. The caller's own token wins over
// the service token.
func (c *Client) authorize(ctx context.Context, req *http.Request) error {
	if token := contextkeys.GetBearerToken(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
		return nil
	}
	if c.tokens == nil {
		return nil
	}
	tok, err := c.tokens.Token()
	if err != nil {
		return fmt.Errorf("failed to obtain identity service token: %w", err)
	}
	tok.SetAuthHeader(req)
	return nil
}
