// Package circuitbreaker provides a failure-tracking gate for calls to unreliable
// dependencies such as the identity service and payment providers.
//
// A Breaker moves between three states:
//
//	CLOSED    -> calls permitted, failures counted
//	OPEN      -> calls denied until the timeout elapses since the last failure
//	HALF_OPEN -> exactly one trial call permitted
//
// Reaching the failure threshold opens the breaker. The first permission check
// after the timeout moves it to HALF_OPEN; a success there closes it and zeroes
// the failure counter, a failure reopens it and restarts the timeout.
//
// Breakers are owned by a Manager keyed by dependency name. The Manager is
// constructed explicitly and injected into the services that need it:
//
//	mgr := circuitbreaker.NewManager(map[string]circuitbreaker.Config{
//		circuitbreaker.Identity: {FailureThreshold: 5, Timeout: time.Minute},
//	})
//	cb := mgr.Get(circuitbreaker.Identity)
//	if err := cb.Execute(func() error { return client.Call(ctx) }); err != nil {
//		// fall back
//	}
package circuitbreaker
