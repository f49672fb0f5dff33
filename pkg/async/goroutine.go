// Package async holds the panic-safe goroutine helper used for
// fire-and-forget background work.
package async

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/doorstep-crm/doorstep/pkg/observability"
)

// SafeGo runs fn in a goroutine with panic recovery and a deadline.
// Errors and panics are logged under the task name; the caller decides
// whether the task was critical. Use this instead of a bare `go func()`
// for work whose failure must not take the process down.
func SafeGo(parentCtx context.Context, timeout time.Duration, task string, logger *observability.Logger, fn func(context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(parentCtx, timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				logger.WithFields(map[string]interface{}{
					"task":  task,
					"panic": r,
					"stack": string(debug.Stack()),
				}).Error("Background task panicked")
			}
		}()

		if err := fn(ctx); err != nil {
			logger.WithField("task", task).WithError(err).Error("Background task failed")
		}
	}()
}
