package ratelimit

import "context"

// SystemCaller owns the budget of work that runs on behalf of no user, such as
// scheduled sweeps.
const SystemCaller = "system"

type ctxKey int

const (
	callerKey ctxKey = iota
	freshKey
)

// WithCaller charges calls made with ctx to caller's budget.
func WithCaller(ctx context.Context, caller string) context.Context {
	if caller == "" {
		caller = SystemCaller
	}
	return context.WithValue(ctx, callerKey, caller)
}

// CallerFrom returns the budget owner carried by ctx.
func CallerFrom(ctx context.Context) string {
	if c, ok := ctx.Value(callerKey).(string); ok && c != "" {
		return c
	}
	return SystemCaller
}

// FreshReads marks reads made with ctx as unable to use last-known results.
// Checks that guard a write, such as duplicate detection, use it.
func FreshReads(ctx context.Context) context.Context {
	return context.WithValue(ctx, freshKey, true)
}

func wantsFresh(ctx context.Context) bool {
	v, _ := ctx.Value(freshKey).(bool)
	return v
}
