// Package async runs background work for the billing server.
//
// SafeGo runs a single task in a goroutine with a timeout and panic
// recovery. Every runs a task periodically until its context is done; the
// server uses it to refresh the connection pool and breaker gauges.
//
//	async.Every(ctx, logger, 15*time.Second, "pool metrics", func(ctx context.Context) error {
//		app.ObservePools()
//		return nil
//	})
package async
