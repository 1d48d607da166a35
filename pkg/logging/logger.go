// Package logging defines the structured logger used by the module. The
// variadic args are key/value pairs:
//
//	log.Info(ctx, "extend complete", "register", 16)
//
// Callers must never pass secrets or derived digests as values.
package logging

import "context"

// Logger is a context-aware, structured logger.
type Logger interface {
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)

	// With returns a child logger that always includes the given pairs.
	With(args ...any) Logger
}
