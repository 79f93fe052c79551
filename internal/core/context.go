package core

import "context"

type contextKey string

const ctxKeyOwner contextKey = "list_owner"

// ContextWithOwner records the authenticated user that owns any list
// created while serving ctx.
func ContextWithOwner(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKeyOwner, userID)
}

// OwnerFromContext returns the owner set by ContextWithOwner, or "".
func OwnerFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyOwner).(string); ok {
		return v
	}
	return ""
}
