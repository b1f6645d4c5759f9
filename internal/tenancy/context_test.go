package tenancy

import (
	"context"
	"testing"
)

func TestWithTenantIDAndTenantIDFromContext(t *testing.T) {
	ctx := WithTenantID(context.Background(), "tenant-123")

	got, ok := TenantIDFromContext(ctx)
	if !ok {
		t.Fatalf("expected tenant id to be present")
	}
	if got != "tenant-123" {
		t.Fatalf("expected tenant-123, got %s", got)
	}
}

func TestTenantIDFromContext_EmptyOrMissing(t *testing.T) {
	ctx := context.Background()
	if _, ok := TenantIDFromContext(ctx); ok {
		t.Fatalf("expected missing tenant id to return false")
	}

	ctx = context.WithValue(ctx, tenantKey, 42)
	if _, ok := TenantIDFromContext(ctx); ok {
		t.Fatalf("expected non-string tenant id to return false")
	}

	ctx = WithTenantID(context.Background(), "")
	if _, ok := TenantIDFromContext(ctx); ok {
		t.Fatalf("expected empty tenant id to return false")
	}
}

func TestWithPrincipalSetsTenant(t *testing.T) {
	ctx := WithPrincipal(context.Background(), Principal{ID: "user-1", Role: "customer", TenantID: "tenant-9"})

	p, ok := PrincipalFromContext(ctx)
	if !ok || p.ID != "user-1" || p.Role != "customer" {
		t.Fatalf("unexpected principal %+v ok=%v", p, ok)
	}
	if tenant, ok := TenantIDFromContext(ctx); !ok || tenant != "tenant-9" {
		t.Fatalf("expected tenant from principal, got %q", tenant)
	}
}

func TestPrincipalFromContext_Missing(t *testing.T) {
	if _, ok := PrincipalFromContext(context.Background()); ok {
		t.Fatal("expected no principal")
	}
	if _, ok := PrincipalFromContext(WithPrincipal(context.Background(), Principal{})); ok {
		t.Fatal("expected principal without id to be rejected")
	}
}
