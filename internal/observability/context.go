package observability

import "context"

type tickIDKey struct{}

// WithTickID attaches the run loop tick id to ctx. Outbound requests forward it as X-Correlation-ID.
func WithTickID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, tickIDKey{}, id)
}

// TickID returns the tick id stored in ctx, or "".
func TickID(ctx context.Context) string {
	if id, ok := ctx.Value(tickIDKey{}).(string); ok {
		return id
	}
	return ""
}
