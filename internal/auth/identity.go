package auth

import "context"

// AnonymousUserID is the user every request belongs to in anonymous mode
const AnonymousUserID = "anonymous"

// Identity is the authenticated caller. Sessions are grouped by UserID.
type Identity struct {
	UserID    string
	Anonymous bool
}

type identityKey struct{}

// WithIdentity returns a copy of ctx carrying id
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity stored by the auth middleware
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
