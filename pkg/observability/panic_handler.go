package observability

import (
	"fmt"
	"runtime/debug"
)

func logPanic(logger *Logger, component string, r interface{}) {
	logger.WithFields(map[string]interface{}{
		"panic":     fmt.Sprint(r),
		"stack":     string(debug.Stack()),
		"component": component,
	}).Error("PANIC recovered")
}

// RecoverPanic logs a recovered panic with its stack trace. It must be
// deferred directly:
//
//	defer observability.RecoverPanic(logger, "renewal sweep")
//
// The panic is not re-raised.
func RecoverPanic(logger *Logger, component string) {
	if r := recover(); r != nil {
		logPanic(logger, component, r)
	}
}

// Guard runs fn and turns a panic into an error so that one failing
// scheduled job does not take the process down.
func Guard(logger *Logger, component string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logPanic(logger, component, r)
			err = fmt.Errorf("%s: panic: %v", component, r)
		}
	}()
	return fn()
}
