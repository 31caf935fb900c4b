package partition_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/atrium/internal/partition"
	"github.com/smallbiznis/atrium/internal/partition/partitiontest"
	tenantdomain "github.com/smallbiznis/atrium/internal/tenant/domain"
	"github.com/smallbiznis/atrium/pkg/tenantctx"
	"go.uber.org/zap"
)

func newRouterFixture(t *testing.T) (*partition.Router, *partitiontest.Manager, *tenantdomain.Tenant) {
	t.Helper()
	mgr, err := partitiontest.NewManager(
		[]any{&tenantdomain.Tenant{}, &tenantdomain.Domain{}},
		partition.TenantModels{&tenantdomain.Mirror{}},
	)
	if err != nil {
		t.Fatalf("test manager: %v", err)
	}

	tenant := &tenantdomain.Tenant{
		ID:         snowflake.ID(7),
		Name:       "Acme",
		Slug:       "acme",
		SchemaName: "tenant_acme",
		IsActive:   true,
	}
	if err := mgr.Catalog().Create(tenant).Error; err != nil {
		t.Fatalf("tenant row: %v", err)
	}
	if err := mgr.Catalog().Create(&tenantdomain.Domain{
		ID: snowflake.ID(8), TenantID: tenant.ID, Domain: "acme.atrium.local", IsPrimary: true,
	}).Error; err != nil {
		t.Fatalf("domain row: %v", err)
	}

	router := partition.NewRouter(mgr, nil, time.Second, nil, zap.NewNop())
	return router, mgr, tenant
}

func TestResolveKnownHost(t *testing.T) {
	router, _, tenant := newRouterFixture(t)

	ref := router.Resolve(context.Background(), "ACME.Atrium.Local:8443")
	if ref == nil {
		t.Fatal("expected a partition ref")
	}
	if ref.TenantID != tenant.ID || ref.Schema != "tenant_acme" {
		t.Fatalf("ref = %+v", ref)
	}
}

func TestResolveUnknownHost(t *testing.T) {
	router, _, _ := newRouterFixture(t)

	if ref := router.Resolve(context.Background(), "nobody.atrium.local"); ref != nil {
		t.Fatalf("unknown host resolved to %+v, want nil", ref)
	}
	if ref := router.Resolve(context.Background(), ""); ref != nil {
		t.Fatal("empty host must resolve to nil")
	}
}

func TestResolveInactiveTenant(t *testing.T) {
	router, mgr, tenant := newRouterFixture(t)

	if err := mgr.Catalog().Model(&tenantdomain.Tenant{}).
		Where("id = ?", tenant.ID).Update("is_active", false).Error; err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if ref := router.Resolve(context.Background(), "acme.atrium.local"); ref != nil {
		t.Fatal("inactive tenant must not resolve")
	}
}

func TestNormalizeHost(t *testing.T) {
	cases := map[string]string{
		"Acme.Example.COM":  "acme.example.com",
		"acme.example.com.": "acme.example.com",
		"acme.local:8080":   "acme.local",
		"  acme.local  ":    "acme.local",
	}
	for raw, want := range cases {
		if got := partition.NormalizeHost(raw); got != want {
			t.Fatalf("NormalizeHost(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestTenantContextMiddleware(t *testing.T) {
	router, _, tenant := newRouterFixture(t)
	gin.SetMode(gin.TestMode)

	engine := gin.New()
	engine.Use(partition.TenantContext(router))

	var seen *tenantctx.Ref
	engine.GET("/open", func(c *gin.Context) {
		if ref, ok := tenantctx.From(c.Request.Context()); ok {
			seen = &ref
		}
		c.Status(http.StatusOK)
	})
	engine.GET("/gated", partition.RequireTenant(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	// A resolvable host injects the ref.
	req := httptest.NewRequest(http.MethodGet, "/open", nil)
	req.Host = "acme.atrium.local"
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if seen == nil || seen.TenantID != tenant.ID {
		t.Fatalf("context ref = %+v, want tenant %d", seen, tenant.ID)
	}

	// An unresolvable host passes the open route with no ref.
	seen = nil
	req = httptest.NewRequest(http.MethodGet, "/open", nil)
	req.Host = "nobody.atrium.local"
	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if seen != nil {
		t.Fatalf("unresolvable host injected ref %+v", seen)
	}

	// The gated route rejects it instead.
	req = httptest.NewRequest(http.MethodGet, "/gated", nil)
	req.Host = "nobody.atrium.local"
	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("gated status = %d, want 404", rec.Code)
	}
}

func TestValidSchemaName(t *testing.T) {
	valid := []string{"tenant_acme", "tenant_a1", "t"}
	for _, name := range valid {
		if !partition.ValidSchemaName(name) {
			t.Fatalf("ValidSchemaName(%q) = false, want true", name)
		}
	}
	invalid := []string{"", "Tenant_Acme", "1tenant", "tenant-acme", "tenant acme", "tenant;drop"}
	for _, name := range invalid {
		if partition.ValidSchemaName(name) {
			t.Fatalf("ValidSchemaName(%q) = true, want false", name)
		}
	}
}
