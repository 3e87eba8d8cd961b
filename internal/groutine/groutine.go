// Package groutine starts goroutines labelled with a name so they are identifiable in pprof
// goroutine dumps and in logs.
package groutine

import (
	"context"
	"runtime/pprof"

	"github.com/sirupsen/logrus"
)

type ctxKey string

const goroutineNameKey ctxKey = "goroutine_name"

// Go starts fn on a new goroutine carrying the given name as a pprof label and context value.
// If parentCtx is nil, context.Background() is used. A panic inside fn is recovered and logged
// through logger (when non-nil) instead of crashing the process.
//
//	groutine.Go(ctx, "session-discovery", logger, func(ctx context.Context) {
//	    // work
//	})
func Go(parentCtx context.Context, name string, logger *logrus.Logger, fn func(ctx context.Context)) {
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	labels := pprof.Labels("goroutine_name", name)

	go pprof.Do(parentCtx, labels, func(ctx context.Context) {
		defer func() {
			if r := recover(); r != nil && logger != nil {
				logger.WithFields(logrus.Fields{
					"goroutine": name,
					"panic":     r,
				}).Error("Goroutine panicked")
			}
		}()

		fn(context.WithValue(ctx, goroutineNameKey, name))
	})
}

// GetName retrieves the goroutine name from the context.
func GetName(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if s, ok := ctx.Value(goroutineNameKey).(string); ok {
		return s
	}
	return ""
}
