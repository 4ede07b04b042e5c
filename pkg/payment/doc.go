// Package payment integrates the payment gateways used for subscription charges.
//
// Each gateway is a Provider. Capabilities differ: Paystack can charge a stored
// authorization server-side, Flutterwave cannot and returns a requires_action
// result with a hosted payment link instead. Both can initialize a hosted
// checkout with InitializeTransaction. Callers never branch on provider
// names; they ask the Registry for a Provider and use the interface.
//
// Inbound webhooks are handled through WebhookSource, which knows the
// provider's signature header, how to verify it, and how to normalize the
// payload into a WebhookEvent.
//
//	registry := payment.NewRegistry(
//		payment.WithBreaker(payment.NewPaystack(cfg.Paystack), breakers.Get(circuitbreaker.Payment)),
//		payment.WithBreaker(payment.NewFlutterwave(cfg.Flutterwave), breakers.Get(circuitbreaker.Payment)),
//	)
//	provider, ok := registry.Get("paystack")
package payment
