package logging

import (
	"context"
)

// Context keys for logging values. Private types avoid key collisions.
type contextKey int

const (
	sessionIDKey contextKey = iota
	componentKey
	hookKey
	cycleKey
)

// WithSession adds a session ID to the context.
func WithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// WithComponent adds a component name to the context (e.g. "hooks",
// "eventlog", "search").
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey, component)
}

// WithHook adds the hook verb currently executing.
func WithHook(ctx context.Context, hook string) context.Context {
	return context.WithValue(ctx, hookKey, hook)
}

// WithCycle adds the current consciousness cycle number.
func WithCycle(ctx context.Context, cycle int) context.Context {
	return context.WithValue(ctx, cycleKey, cycle)
}

// SessionIDFromContext extracts the session ID, or "".
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return ""
}

// ComponentFromContext extracts the component name, or "".
func ComponentFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(componentKey).(string); ok {
		return v
	}
	return ""
}

// HookFromContext extracts the hook verb, or "".
func HookFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(hookKey).(string); ok {
		return v
	}
	return ""
}

// CycleFromContext extracts the cycle number; ok is false when unset.
func CycleFromContext(ctx context.Context) (int, bool) {
	v, ok := ctx.Value(cycleKey).(int)
	return v, ok
}
