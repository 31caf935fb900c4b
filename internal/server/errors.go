package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	billingdomain "github.com/smallbiznis/atrium/internal/billing/domain"
	onboardingdomain "github.com/smallbiznis/atrium/internal/onboarding/domain"
	tenantdomain "github.com/smallbiznis/atrium/internal/tenant/domain"
	"go.uber.org/zap"
)

// writeError maps domain errors to HTTP responses. Anything unmapped is a
// 500 with the detail kept in the log, not the body.
func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, tenantdomain.ErrInvalidSlug),
		errors.Is(err, tenantdomain.ErrReservedSlug),
		errors.Is(err, onboardingdomain.ErrInvalidOwnerEmail):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, tenantdomain.ErrSlugTaken),
		errors.Is(err, tenantdomain.ErrDomainTaken):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, billingdomain.ErrSeatLimitExceeded):
		c.JSON(http.StatusConflict, gin.H{"error": "seat_limit_exceeded"})
	case errors.Is(err, onboardingdomain.ErrStateNotFound),
		errors.Is(err, tenantdomain.ErrTenantNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, onboardingdomain.ErrProvisioningIncomplete):
		c.JSON(http.StatusConflict, gin.H{"error": "provisioning_incomplete"})
	case errors.Is(err, billingdomain.ErrInvalidEnvelope):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload"})
	default:
		s.log.Error("unhandled error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}
