package auth

import "context"

type contextKey struct{}

// Identity is the verified caller identity placed in the request
// context by the authentication middleware. Subject is the canonical
// owner identifier; everything downstream trusts this value and
// nothing in the request body.
type Identity struct {
	Subject     string
	Role        string
	Permissions []string
}

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}

// Subject returns the canonical owner identifier, or "" when the
// request is unauthenticated.
func Subject(ctx context.Context) string {
	id, ok := FromContext(ctx)
	if !ok {
		return ""
	}
	return id.Subject
}

func IsAdmin(ctx context.Context) bool {
	id, ok := FromContext(ctx)
	if !ok {
		return false
	}
	return id.Role == RoleAdmin
}

// HasPermission reports whether the identity carries the named grant.
func HasPermission(ctx context.Context, permission string) bool {
	id, ok := FromContext(ctx)
	if !ok {
		return false
	}
	for _, p := range id.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}
