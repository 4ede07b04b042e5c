package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantbilling/pkg/circuitbreaker"
	"github.com/platinummonkey/tenantbilling/pkg/config"
	"github.com/platinummonkey/tenantbilling/pkg/payment"
)

func TestNewPaymentRegistry(t *testing.T) {
	breaker := circuitbreaker.New(circuitbreaker.Payment, circuitbreaker.Config{FailureThreshold: 3, Timeout: time.Minute})

	t.Run("registers configured providers only", func(t *testing.T) {
		registry := newPaymentRegistry(config.ProvidersConfig{PaystackSecretKey: "sk_test"}, breaker)
		assert.Equal(t, []string{payment.ProviderPaystack}, registry.Names())
	})

	t.Run("both providers expose webhooks through the breaker", func(t *testing.T) {
		registry := newPaymentRegistry(config.ProvidersConfig{
			PaystackSecretKey: "sk_test",
			FlutterwaveSecret: "FLWSECK_TEST",
			FlutterwaveHash:   "hash",
		}, breaker)

		assert.Equal(t, []string{payment.ProviderFlutterwave, payment.ProviderPaystack}, registry.Names())
		assert.Len(t, registry.WebhookSources(), 2)

		p, ok := registry.Get(payment.ProviderPaystack)
		require.True(t, ok)
		assert.True(t, p.SupportsDirectCharge())
	})
}

func TestClose_NothingOpen(t *testing.T) {
	a := &App{}
	assert.NoError(t, a.Close())
}
