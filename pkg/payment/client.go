package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds every provider API call
const DefaultTimeout = 15 * time.Second

// APIError is a non-2xx provider response
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error: status %d: %s", e.Provider, e.StatusCode, e.Message)
}

// apiClient makes authenticated JSON calls against a provider API
type apiClient struct {
	provider   string
	baseURL    string
	secretKey  string
	httpClient *http.Client
}

func newAPIClient(provider, baseURL, secretKey string, timeout time.Duration) *apiClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &apiClient{
		provider:   provider,
		baseURL:    strings.TrimRight(baseURL, "/"),
		secretKey:  secretKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *apiClient) do(ctx context.Context, method, path string, payload interface{}, out interface{}) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", c.provider, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", c.provider, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s: %w", c.provider, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", c.provider, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var envelope struct {
			Message string `json:"message"`
		}
		msg := strings.TrimSpace(string(respBody))
		if json.Unmarshal(respBody, &envelope) == nil && envelope.Message != "" {
			msg = envelope.Message
		}
		return &APIError{Provider: c.provider, StatusCode: resp.StatusCode, Message: msg}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode %s response: %w", c.provider, err)
		}
	}
	return nil
}

// flexBool accepts true, "true", "1", 1 and similar
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.ToLower(strings.TrimSpace(string(data))), `"`)
	switch s {
	case "true", "1", "yes", "on":
		*b = true
	default:
		*b = false
	}
	return nil
}

// flexString accepts a JSON string or number
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*s = ""
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = flexString(str)
		return nil
	}
	*s = flexString(raw)
	return nil
}
