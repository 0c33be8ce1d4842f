package auth

import "context"

type identityContextKey struct{}

// ContextWithIdentity attaches the verified token identity to the context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, &id)
}

// IdentityFromContext extracts the verified identity from the context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	v, ok := ctx.Value(identityContextKey{}).(*Identity)
	if !ok || v == nil || v.UserID <= 0 {
		return Identity{}, false
	}
	return *v, true
}

// UserIDFromContext extracts the authenticated user ID from context.
func UserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := IdentityFromContext(ctx)
	if !ok {
		return 0, false
	}
	return id.UserID, true
}

// ContextWithUser is a shorthand used by tests and background jobs that act
// on behalf of a known user.
func ContextWithUser(ctx context.Context, userID int64) context.Context {
	return ContextWithIdentity(ctx, Identity{UserID: userID})
}
