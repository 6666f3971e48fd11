package auth

import "context"

// actorKey 是上下文中存储 Actor 的键类型。
type actorKey struct{}

// WithActor 将经过身份验证的调用者存储到上下文中。
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext 从上下文中提取调用者信息。
func ActorFromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	actor, ok := ctx.Value(actorKey{}).(Actor)
	return actor, ok
}
