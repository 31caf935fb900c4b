package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	billingdomain "github.com/smallbiznis/atrium/internal/billing/domain"
	onboardingservice "github.com/smallbiznis/atrium/internal/onboarding/service"
	rbacdomain "github.com/smallbiznis/atrium/internal/rbac/domain"
	tenantdomain "github.com/smallbiznis/atrium/internal/tenant/domain"
	"github.com/smallbiznis/atrium/pkg/tenantctx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type signupRequest struct {
	OrgName    string `json:"org_name" binding:"required"`
	Slug       string `json:"slug" binding:"required"`
	OwnerEmail string `json:"owner_email" binding:"required"`
}

func (s *Server) Signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid_request"})
		return
	}

	tenant, state, err := s.onboarding.Start(c.Request.Context(), onboardingservice.StartRequest{
		OrgName:    req.OrgName,
		Slug:       req.Slug,
		OwnerEmail: req.OwnerEmail,
	})
	if err != nil {
		if tenant != nil && state != nil {
			// The catalog half committed; the caller resumes the rest.
			c.JSON(http.StatusAccepted, gin.H{
				"tenant":     tenant,
				"onboarding": state,
			})
			return
		}
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"tenant":     tenant,
		"onboarding": state,
	})
}

func (s *Server) GetOnboarding(c *gin.Context) {
	stateID, ok := s.pathID(c)
	if !ok {
		return
	}
	state, err := s.onboarding.Get(c.Request.Context(), stateID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) ResumeOnboarding(c *gin.Context) {
	stateID, ok := s.pathID(c)
	if !ok {
		return
	}
	state, err := s.onboarding.Resume(c.Request.Context(), stateID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

type setModulesRequest struct {
	Modules []string `json:"modules" binding:"required"`
}

func (s *Server) SetModules(c *gin.Context) {
	stateID, ok := s.pathID(c)
	if !ok {
		return
	}
	var req setModulesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid_request"})
		return
	}

	state, err := s.onboarding.SetModules(c.Request.Context(), stateID, req.Modules)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

type billingConnectedRequest struct {
	Connected bool `json:"connected"`
}

func (s *Server) MarkBillingConnected(c *gin.Context) {
	stateID, ok := s.pathID(c)
	if !ok {
		return
	}
	var req billingConnectedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid_request"})
		return
	}

	state, err := s.onboarding.MarkBillingConnected(c.Request.Context(), stateID, req.Connected)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

type customDomainRequest struct {
	Domain string `json:"domain"`
}

func (s *Server) SetCustomDomain(c *gin.Context) {
	stateID, ok := s.pathID(c)
	if !ok {
		return
	}
	var req customDomainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid_request"})
		return
	}

	state, err := s.onboarding.SetCustomDomain(c.Request.Context(), stateID, req.Domain)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

type inviteRequest struct {
	Emails []string `json:"emails" binding:"required"`
	Role   string   `json:"role"`
}

func (s *Server) InviteMembers(c *gin.Context) {
	stateID, ok := s.pathID(c)
	if !ok {
		return
	}
	var req inviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid_request"})
		return
	}

	invited, err := s.onboarding.InviteMembers(c.Request.Context(), stateID, req.Emails, req.Role)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invited": invited})
}

// HandleBillingWebhook accepts provider events. Anything already recorded
// acknowledges with 200; only an undecodable payload or a storage failure is
// an error, so the provider retries exactly the deliveries that need it.
func (s *Server) HandleBillingWebhook(c *gin.Context) {
	var envelope billingdomain.Envelope
	if err := c.ShouldBindJSON(&envelope); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload"})
		return
	}

	if err := s.processor.Handle(c.Request.Context(), envelope); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

// GetWorkspace returns the partition's view of its own tenant plus the
// caller's role. It exists to exercise the full resolution path: routing key
// to partition to mirror to permission.
func (s *Server) GetWorkspace(c *gin.Context) {
	ref, _ := tenantctx.From(c.Request.Context())
	userID := s.userID(c)

	var mirror tenantdomain.Mirror
	var membership *rbacdomain.Membership
	err := s.mgr.Run(c.Request.Context(), ref, func(tx *gorm.DB) error {
		if err := tx.WithContext(c.Request.Context()).
			Where("id = ?", ref.TenantID).First(&mirror).Error; err != nil {
			return err
		}
		var err error
		membership, err = s.rbac.MembershipOf(c.Request.Context(), tx, userID)
		return err
	})
	if err != nil {
		s.log.Error("workspace lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	resp := gin.H{"workspace": mirror}
	if membership != nil && membership.Role != nil {
		resp["role"] = membership.Role.Name
	}
	c.JSON(http.StatusOK, resp)
}

// GetMyPermissions returns the caller's role and permission codenames inside
// the request's tenant. A user with no membership gets an empty list, not an
// error.
func (s *Server) GetMyPermissions(c *gin.Context) {
	ref, _ := tenantctx.From(c.Request.Context())
	userID := s.userID(c)

	role := ""
	permissions := []string{}
	err := s.mgr.Run(c.Request.Context(), ref, func(tx *gorm.DB) error {
		membership, err := s.rbac.MembershipOf(c.Request.Context(), tx, userID)
		if err != nil {
			return err
		}
		if membership == nil || membership.Role == nil {
			return nil
		}
		role = membership.Role.Name
		for _, perm := range membership.Role.Permissions {
			permissions = append(permissions, perm.Codename)
		}
		return nil
	})
	if err != nil {
		s.log.Error("permission listing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"role": role, "permissions": permissions})
}

func (s *Server) ListMembers(c *gin.Context) {
	ref, _ := tenantctx.From(c.Request.Context())

	var memberships []rbacdomain.Membership
	err := s.mgr.Run(c.Request.Context(), ref, func(tx *gorm.DB) error {
		return tx.WithContext(c.Request.Context()).
			Preload("Role").
			Where("is_active = ?", true).
			Find(&memberships).Error
	})
	if err != nil {
		s.log.Error("member list failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": memberships})
}

func (s *Server) pathID(c *gin.Context) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return 0, false
	}
	return id, true
}
