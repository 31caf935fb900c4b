package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/atrium/pkg/tenantctx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const ctxUserID = "atrium.user_id"

// IdentityRequired extracts the authenticated user id from the X-User-ID
// header. The identity provider in front of the control plane sets it; a
// request without one is unauthenticated.
func (s *Server) IdentityRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader("X-User-ID")
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication_required"})
			return
		}
		userID, err := snowflake.ParseString(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication_required"})
			return
		}
		c.Set(ctxUserID, userID)
		c.Next()
	}
}

// RequirePermission gates the route on the caller holding the permission
// codename inside the request's tenant partition.
func (s *Server) RequirePermission(codename string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ref, ok := tenantctx.From(c.Request.Context())
		if !ok {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "tenant_required"})
			return
		}
		userID := c.MustGet(ctxUserID).(snowflake.ID)

		allowed := false
		err := s.mgr.Run(c.Request.Context(), ref, func(tx *gorm.DB) error {
			var err error
			allowed, err = s.rbac.HasPermission(c.Request.Context(), tx, userID, codename)
			return err
		})
		if err != nil {
			s.log.Error("permission check failed",
				zap.String("codename", codename), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
			return
		}
		if !allowed {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "permission_denied"})
			return
		}
		c.Next()
	}
}

func (s *Server) userID(c *gin.Context) snowflake.ID {
	return c.MustGet(ctxUserID).(snowflake.ID)
}
