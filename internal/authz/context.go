package authz

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const identityKey contextKey = "identity"

const RoleAdmin = "admin"

// Identity is the tenant and security context of a request. It is carried
// explicitly into background work; goroutines never inherit it on their own.
type Identity struct {
	TenantID string
	UserID   string
	Roles    []string
}

func (id Identity) HasRole(role string) bool {
	for _, r := range id.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// WithIdentity stores tenant, user, and role information on the context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	id.TenantID = strings.TrimSpace(id.TenantID)
	id.UserID = strings.TrimSpace(id.UserID)
	id.Roles = append([]string(nil), id.Roles...)
	return context.WithValue(ctx, identityKey, id)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	if !ok {
		return Identity{}, false
	}
	return id, true
}

func TenantIDFromContext(ctx context.Context) (string, bool) {
	id, ok := IdentityFromContext(ctx)
	if !ok || id.TenantID == "" {
		return "", false
	}
	return id.TenantID, true
}

// Detach returns a background context carrying only the identity of ctx.
// Work that outlives the request (batch tasks, completion callbacks) runs on it
// so it keeps the tenant but not the request's cancellation.
func Detach(ctx context.Context) context.Context {
	id, ok := IdentityFromContext(ctx)
	if !ok {
		return context.Background()
	}
	return WithIdentity(context.Background(), id)
}

func TenantIDFromRequest(r *http.Request) (string, bool) {
	return TenantIDFromContext(r.Context())
}

func UserIDFromRequest(r *http.Request) (string, bool) {
	id, ok := IdentityFromContext(r.Context())
	if !ok || id.UserID == "" {
		return "", false
	}
	return id.UserID, true
}
