package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// TokenConfig selects how background jobs authenticate to the identity
// service. A TokenURL selects the OAuth2 client-credentials flow, otherwise a
// SigningKey selects self-signed HS256 tokens.
type TokenConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string

	SigningKey string
	Issuer     string
	Subject    string
	TTL        time.Duration
}

// NewTokenSource returns the token source configured by cfg, or nil when no
// service credentials are configured
func NewTokenSource(ctx context.Context, cfg TokenConfig) oauth2.TokenSource {
	switch {
	case cfg.TokenURL != "":
		cc := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		return cc.TokenSource(ctx)
	case cfg.SigningKey != "":
		return oauth2.ReuseTokenSource(nil, newServiceTokenSource(cfg, time.Now))
	default:
		return nil
	}
}

// serviceTokenSource mints short-lived HS256 tokens
type serviceTokenSource struct {
	key     []byte
	issuer  string
	subject string
	ttl     time.Duration
	now     func() time.Time
}

func newServiceTokenSource(cfg TokenConfig, now func() time.Time) *serviceTokenSource {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	subject := cfg.Subject
	if subject == "" {
		subject = "billing-service"
	}
	return &serviceTokenSource{
		key:     []byte(cfg.SigningKey),
		issuer:  cfg.Issuer,
		subject: subject,
		ttl:     ttl,
		now:     now,
	}
}

func (s *serviceTokenSource) Token() (*oauth2.Token, error) {
	now := s.now()
	expiry := now.Add(s.ttl)
	claims := jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   s.subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiry),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign service token: %w", err)
	}
	return &oauth2.Token{AccessToken: signed, TokenType: "Bearer", Expiry: expiry}, nil
}
