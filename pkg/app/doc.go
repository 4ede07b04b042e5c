// Package app wires configuration into the billing services shared by the
// billing-server, billing-scheduler and billingctl commands.
//
//	cfg, err := config.LoadConfig()
//	a, err := app.New(ctx, cfg, logger)
//	defer a.Close()
//	result, err := a.Subscriptions.CheckExpiredSubscriptions(ctx, billing.SweepOptions{})
package app
