package model

import "context"

// SystemActor is recorded when no authenticated user is attached to a request.
const SystemActor = "system"

type actorKey struct{}

// WithActor attaches the acting user's identity (usually an email) to ctx.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the acting user, or SystemActor.
func ActorFrom(ctx context.Context) string {
	if a, ok := ctx.Value(actorKey{}).(string); ok && a != "" {
		return a
	}
	return SystemActor
}
