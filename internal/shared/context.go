package shared

import "context"

type actorContextKey struct{}

// ContextWithActor stores the acting user reference in context.
func ContextWithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the acting user, or "system" when absent.
func ActorFromContext(ctx context.Context) string {
	actor, _ := ctx.Value(actorContextKey{}).(string)
	if actor == "" {
		return ActorSystem
	}
	return actor
}

// ActorSystem identifies automated actions such as scheduled reconciliation.
const ActorSystem = "system"
