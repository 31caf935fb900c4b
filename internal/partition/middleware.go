package partition

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/atrium/pkg/tenantctx"
)

// TenantContext resolves the request's Host header to a partition and stores
// the ref in the request context before any handler runs. Requests that
// resolve to no tenant pass through without a ref.
func TenantContext(router *Router) gin.HandlerFunc {
	return func(c *gin.Context) {
		if ref := router.Resolve(c.Request.Context(), c.Request.Host); ref != nil {
			c.Request = c.Request.WithContext(tenantctx.With(c.Request.Context(), *ref))
		}
		c.Next()
	}
}

// RequireTenant aborts with 404 when the request resolved to no tenant.
// Handlers behind it never accidentally operate against the catalog.
func RequireTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := tenantctx.From(c.Request.Context()); !ok {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "tenant_required"})
			return
		}
		c.Next()
	}
}
