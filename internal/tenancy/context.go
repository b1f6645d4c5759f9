// Package tenancy carries the caller's tenant and identity through a request.
package tenancy

import "context"

type ctxKey string

const (
	tenantKey    ctxKey = "sparkclean.tenant_id"
	principalKey ctxKey = "sparkclean.principal"
)

// Principal is the authenticated caller of a request.
type Principal struct {
	ID       string
	Role     string
	TenantID string
}

// WithTenantID stores the tenant id in context.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey, tenantID)
}

// TenantIDFromContext extracts the tenant id if present.
func TenantIDFromContext(ctx context.Context) (string, bool) {
	val := ctx.Value(tenantKey)
	if val == nil {
		return "", false
	}
	tenantID, ok := val.(string)
	return tenantID, ok && tenantID != ""
}

// WithPrincipal stores the caller and its tenant in context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	ctx = context.WithValue(ctx, principalKey, p)
	if p.TenantID != "" {
		ctx = WithTenantID(ctx, p.TenantID)
	}
	return ctx
}

// PrincipalFromContext returns the authenticated caller if present.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok && p.ID != ""
}
