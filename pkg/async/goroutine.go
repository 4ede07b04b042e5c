package async

import (
	"context"
	"time"

	"github.com/platinummonkey/tenantbilling/pkg/observability"
)

// SafeGo runs fn in a goroutine bounded by timeout. Errors and panics are
// logged under taskName instead of crashing the process.
//
//	async.SafeGo(ctx, logger, 5*time.Second, "pool metrics", func(ctx context.Context) error {
//	    return refresh(ctx)
//	})
func SafeGo(parentCtx context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context) error) {
	go func() {
		if err := run(parentCtx, logger, timeout, taskName, fn); err != nil {
			logger.WithError(err).WithField("task", taskName).Error("Background task failed")
		}
	}()
}

// Every runs fn immediately and then once per interval until ctx is done.
// Each run gets its own timeout of one interval. A failed or panicking run is
// logged and the loop continues.
func Every(ctx context.Context, logger *observability.Logger, interval time.Duration, taskName string, fn func(context.Context) error) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for ctx.Err() == nil {
			if err := run(ctx, logger, interval, taskName, fn); err != nil && ctx.Err() == nil {
				logger.WithError(err).WithField("task", taskName).Warn("Periodic task failed")
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func run(parentCtx context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(parentCtx, timeout)
	defer cancel()
	return observability.Guard(logger, taskName, func() error {
		return fn(ctx)
	})
}
