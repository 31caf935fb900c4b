package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	billingdomain "github.com/smallbiznis/atrium/internal/billing/domain"
	billingservice "github.com/smallbiznis/atrium/internal/billing/service"
	"github.com/smallbiznis/atrium/internal/metrics"
	"github.com/smallbiznis/atrium/internal/onboarding/domain"
	"github.com/smallbiznis/atrium/internal/partition"
	rbacdomain "github.com/smallbiznis/atrium/internal/rbac/domain"
	rbacservice "github.com/smallbiznis/atrium/internal/rbac/service"
	tenantdomain "github.com/smallbiznis/atrium/internal/tenant/domain"
	tenantservice "github.com/smallbiznis/atrium/internal/tenant/service"
	"github.com/smallbiznis/atrium/pkg/tenantctx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Service drives the tenant provisioning state machine. The catalog half of
// Start commits atomically; the partition half is built from get-or-create
// writes so a crashed run converges when resumed.
type Service struct {
	mgr      partition.Manager
	tenants  *tenantservice.Service
	rbac     *rbacservice.Service
	seats    *billingservice.SeatLimiter
	notifier Notifier
	genID    *snowflake.Node
	metrics  *metrics.Metrics
	log      *zap.Logger
}

func NewService(
	mgr partition.Manager,
	tenants *tenantservice.Service,
	rbac *rbacservice.Service,
	seats *billingservice.SeatLimiter,
	notifier Notifier,
	genID *snowflake.Node,
	m *metrics.Metrics,
	log *zap.Logger,
) *Service {
	return &Service{
		mgr:      mgr,
		tenants:  tenants,
		rbac:     rbac,
		seats:    seats,
		notifier: notifier,
		genID:    genID,
		metrics:  m,
		log:      log.Named("onboarding"),
	}
}

// StartRequest carries the signup form. The password never reaches this
// service's storage; credential handling belongs to the identity provider in
// front of the control plane.
type StartRequest struct {
	OrgName    string
	Slug       string
	OwnerEmail string
}

// Start creates the tenant and its onboarding state in one catalog
// transaction, then provisions the partition half. When the partition half
// fails the tenant and state survive and the returned error wraps
// ErrProvisioningIncomplete; Resume re-runs the partition half until it
// converges.
func (s *Service) Start(ctx context.Context, req StartRequest) (*tenantdomain.Tenant, *domain.State, error) {
	owner, err := normalizeEmail(req.OwnerEmail)
	if err != nil {
		return nil, nil, err
	}

	tenant, err := s.tenants.Build(req.OrgName, req.Slug)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	state := &domain.State{
		ID:             s.genID.Generate(),
		TenantID:       tenant.ID,
		OwnerEmail:     owner,
		CurrentStep:    domain.StepSelectModules,
		CompletedSteps: datatypes.NewJSONSlice([]int{domain.StepCreateTenant}),
		Data: datatypes.JSONMap{
			domain.DataResumeToken:      ulid.Make().String(),
			domain.DataBillingConnected: false,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.mgr.Catalog().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.tenants.CreateInTx(ctx, tx, tenant); err != nil {
			return err
		}
		return tx.Create(state).Error
	})
	if err != nil {
		return nil, nil, err
	}

	if err := s.provision(ctx, tenant, state); err != nil {
		s.log.Warn("partition provisioning incomplete",
			zap.String("tenant", tenant.Slug), zap.Error(err))
		return tenant, state, fmt.Errorf("%w: %v", domain.ErrProvisioningIncomplete, err)
	}

	s.metrics.TenantProvisioned(ctx)
	s.log.Info("tenant provisioned",
		zap.String("tenant", tenant.Slug),
		zap.String("schema", tenant.SchemaName),
	)
	return tenant, state, nil
}

// Resume re-runs the partition half of provisioning for an interrupted
// signup. Every underlying write is get-or-create, so calling it on an
// already healthy tenant changes nothing.
func (s *Service) Resume(ctx context.Context, stateID snowflake.ID) (*domain.State, error) {
	state, tenant, err := s.load(ctx, stateID)
	if err != nil {
		return nil, err
	}
	if err := s.provision(ctx, tenant, state); err != nil {
		return state, fmt.Errorf("%w: %v", domain.ErrProvisioningIncomplete, err)
	}
	return state, nil
}

// provision materializes the partition's tables and the rows every tenant
// starts with: the mirror record, default roles and permissions, and the
// owner's user plus membership.
func (s *Service) provision(ctx context.Context, tenant *tenantdomain.Tenant, state *domain.State) error {
	if err := s.mgr.MigrateSchema(ctx, tenant.SchemaName); err != nil {
		return err
	}

	ref := tenantctx.Ref{TenantID: tenant.ID, Schema: tenant.SchemaName}
	err := s.mgr.Run(ctx, ref, func(tx *gorm.DB) error {
		if err := s.tenants.MirrorInto(ctx, tx, tenant); err != nil {
			return err
		}
		if err := s.rbac.SeedDefaults(ctx, tx); err != nil {
			return err
		}
		user, err := s.rbac.EnsureUser(ctx, tx, state.OwnerEmail, tenant.Name)
		if err != nil {
			return err
		}
		_, _, err = s.rbac.EnsureMembership(ctx, tx, user.ID, rbacdomain.RoleOwner)
		return err
	})
	if err != nil {
		return err
	}

	if err := s.notifier.SendWelcome(ctx, state.OwnerEmail, tenant); err != nil {
		s.log.Warn("welcome notification failed",
			zap.String("tenant", tenant.Slug), zap.Error(err))
	}
	return nil
}

// SetModules records the module selection on the catalog tenant and
// completes the selection step.
func (s *Service) SetModules(ctx context.Context, stateID snowflake.ID, modules []string) (*domain.State, error) {
	state, tenant, err := s.load(ctx, stateID)
	if err != nil {
		return nil, err
	}

	if err := s.tenants.UpdateModules(ctx, tenant, modules); err != nil {
		return nil, err
	}

	state.Data[domain.DataSelectedModules] = modules
	if err := s.markStep(ctx, state, domain.StepSelectModules); err != nil {
		return nil, err
	}
	return state, nil
}

// MarkBillingConnected records the billing acknowledgment and completes the
// billing step. A tenant may continue on the default plan, so connected may
// be false.
func (s *Service) MarkBillingConnected(ctx context.Context, stateID snowflake.ID, connected bool) (*domain.State, error) {
	state, _, err := s.load(ctx, stateID)
	if err != nil {
		return nil, err
	}

	state.Data[domain.DataBillingConnected] = connected
	if err := s.markStep(ctx, state, domain.StepConnectBilling); err != nil {
		return nil, err
	}
	return state, nil
}

// SetCustomDomain attaches a custom primary domain, or skips the step when
// host is empty.
func (s *Service) SetCustomDomain(ctx context.Context, stateID snowflake.ID, host string) (*domain.State, error) {
	state, tenant, err := s.load(ctx, stateID)
	if err != nil {
		return nil, err
	}

	if host != "" {
		if err := s.tenants.SetPrimaryDomain(ctx, tenant.ID, host); err != nil {
			return nil, err
		}
	}

	if err := s.markStep(ctx, state, domain.StepCustomDomain); err != nil {
		return nil, err
	}
	return state, nil
}

// InviteMembers creates users and memberships for each email that is not
// yet a member, gated as a batch by the seat limit. On a seat limit failure
// nothing is invited. Completing this step finishes onboarding.
func (s *Service) InviteMembers(ctx context.Context, stateID snowflake.ID, emails []string, roleName string) (int, error) {
	state, tenant, err := s.load(ctx, stateID)
	if err != nil {
		return 0, err
	}
	if roleName == "" {
		roleName = rbacdomain.RoleMember
	}

	normalized := make([]string, 0, len(emails))
	for _, raw := range emails {
		email, err := normalizeEmail(raw)
		if err != nil {
			return 0, err
		}
		normalized = append(normalized, email)
	}

	invited := 0
	ref := tenantctx.Ref{TenantID: tenant.ID, Schema: tenant.SchemaName}
	err = s.mgr.Run(ctx, ref, func(tx *gorm.DB) error {
		pending, err := s.pendingInvites(ctx, tx, normalized)
		if err != nil {
			return err
		}

		ok, err := s.seats.CanAddSeats(ctx, tx, len(pending))
		if err != nil {
			return err
		}
		if !ok {
			return billingdomain.ErrSeatLimitExceeded
		}

		for _, email := range pending {
			user, err := s.rbac.EnsureUser(ctx, tx, email, "")
			if err != nil {
				return err
			}
			_, created, err := s.rbac.EnsureMembership(ctx, tx, user.ID, roleName)
			if err != nil {
				return err
			}
			if created {
				invited++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, email := range normalized {
		if err := s.notifier.SendInvite(ctx, email, tenant); err != nil {
			s.log.Warn("invite notification failed",
				zap.String("email", email), zap.Error(err))
		}
	}

	state.IsComplete = true
	if err := s.markStep(ctx, state, domain.StepInviteMembers); err != nil {
		return invited, err
	}
	return invited, nil
}

// Get returns the onboarding state by id.
func (s *Service) Get(ctx context.Context, stateID snowflake.ID) (*domain.State, error) {
	state, _, err := s.load(ctx, stateID)
	return state, err
}

// pendingInvites filters out emails that already hold a membership in this
// partition, so re-delivered invites neither consume seats nor create rows.
func (s *Service) pendingInvites(ctx context.Context, tx *gorm.DB, emails []string) ([]string, error) {
	pending := make([]string, 0, len(emails))
	for _, email := range emails {
		var user rbacdomain.User
		err := tx.WithContext(ctx).Where("email = ?", email).First(&user).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				pending = append(pending, email)
				continue
			}
			return nil, err
		}

		var count int64
		if err := tx.WithContext(ctx).Model(&rbacdomain.Membership{}).
			Where("user_id = ?", user.ID).Count(&count).Error; err != nil {
			return nil, err
		}
		if count == 0 {
			pending = append(pending, email)
		}
	}
	return pending, nil
}

func (s *Service) load(ctx context.Context, stateID snowflake.ID) (*domain.State, *tenantdomain.Tenant, error) {
	var state domain.State
	err := s.mgr.Catalog().WithContext(ctx).Where("id = ?", stateID).First(&state).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, domain.ErrStateNotFound
		}
		return nil, nil, err
	}
	if state.Data == nil {
		state.Data = datatypes.JSONMap{}
	}

	tenant, err := s.tenants.Get(ctx, state.TenantID)
	if err != nil {
		return nil, nil, err
	}
	if tenant == nil {
		return nil, nil, tenantdomain.ErrTenantNotFound
	}
	return &state, tenant, nil
}

// markStep records a completed step and advances the cursor. Completing a
// step twice writes the same state, so retried requests are harmless.
func (s *Service) markStep(ctx context.Context, state *domain.State, step int) error {
	if !state.StepCompleted(step) {
		state.CompletedSteps = append(state.CompletedSteps, step)
	}
	if next := step + 1; next > state.CurrentStep && step < domain.StepInviteMembers {
		state.CurrentStep = next
	}
	if step == domain.StepInviteMembers {
		state.CurrentStep = domain.StepInviteMembers
		state.IsComplete = true
	}
	state.UpdatedAt = time.Now().UTC()

	return s.mgr.Catalog().WithContext(ctx).Model(&domain.State{}).
		Where("id = ?", state.ID).
		Updates(map[string]any{
			"current_step":    state.CurrentStep,
			"completed_steps": state.CompletedSteps,
			"data":            state.Data,
			"is_complete":     state.IsComplete,
			"updated_at":      state.UpdatedAt,
		}).Error
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if _, err := mail.ParseAddress(email); err != nil {
		return "", domain.ErrInvalidOwnerEmail
	}
	return email, nil
}
