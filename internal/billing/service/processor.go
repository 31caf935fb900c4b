package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/atrium/internal/billing/domain"
	"github.com/smallbiznis/atrium/internal/metrics"
	"github.com/smallbiznis/atrium/internal/partition"
	rbacdomain "github.com/smallbiznis/atrium/internal/rbac/domain"
	rbacservice "github.com/smallbiznis/atrium/internal/rbac/service"
	tenantdomain "github.com/smallbiznis/atrium/internal/tenant/domain"
	tenantservice "github.com/smallbiznis/atrium/internal/tenant/service"
	"github.com/smallbiznis/atrium/pkg/db"
	"github.com/smallbiznis/atrium/pkg/tenantctx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Processing outcomes recorded per event.
const (
	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomeDropped   = "dropped"
)

// Processor applies externally-delivered billing events to tenant
// partitions exactly once. It is a plain function surface: no framework
// signals, callable from the webhook handler, a queue consumer, or tests.
type Processor struct {
	mgr     partition.Manager
	tenants *tenantservice.Service
	rbac    *rbacservice.Service
	genID   *snowflake.Node
	metrics *metrics.Metrics
	log     *zap.Logger
}

func NewProcessor(
	mgr partition.Manager,
	tenants *tenantservice.Service,
	rbac *rbacservice.Service,
	genID *snowflake.Node,
	m *metrics.Metrics,
	log *zap.Logger,
) *Processor {
	return &Processor{
		mgr:     mgr,
		tenants: tenants,
		rbac:    rbac,
		genID:   genID,
		metrics: m,
		log:     log.Named("billing.processor"),
	}
}

// Handle applies one event. The event id is recorded in the catalog before
// dispatch: a redelivered id is skipped entirely, and a crash mid-dispatch
// leaves the event marked seen but possibly half-applied. That ordering
// favors no-duplicate-dispatch over always-fully-applied.
func (p *Processor) Handle(ctx context.Context, env domain.Envelope) error {
	if strings.TrimSpace(env.ID) == "" || strings.TrimSpace(env.Type) == "" {
		return domain.ErrInvalidEnvelope
	}

	fresh, err := p.record(ctx, env)
	if err != nil {
		return err
	}
	if !fresh {
		p.metrics.BillingEvent(ctx, OutcomeDuplicate)
		p.log.Debug("duplicate event ignored", zap.String("event_id", env.ID))
		return nil
	}

	tenant, ref, ok := p.target(ctx, env)
	if !ok {
		// The event is already recorded as seen, so it will never be
		// retried. TODO: hold malformed events in a dead-letter table
		// instead of dropping them.
		p.metrics.BillingEvent(ctx, OutcomeDropped)
		return nil
	}

	switch env.Type {
	case domain.EventCheckoutCompleted:
		err = p.checkoutCompleted(ctx, tenant, ref, env)
	case domain.EventSubscriptionUpdated:
		err = p.subscriptionChanged(ctx, tenant, ref, env, false)
	case domain.EventSubscriptionDeleted:
		err = p.subscriptionChanged(ctx, tenant, ref, env, true)
	case domain.EventInvoicePaymentSucceeded:
		err = p.invoicePayment(ctx, ref, env, true)
	case domain.EventInvoicePaymentFailed:
		err = p.invoicePayment(ctx, ref, env, false)
	default:
		p.log.Warn("unhandled event type", zap.String("type", env.Type), zap.String("event_id", env.ID))
		p.metrics.BillingEvent(ctx, OutcomeDropped)
		return nil
	}
	if err != nil {
		return err
	}

	p.metrics.BillingEvent(ctx, OutcomeApplied)
	return nil
}

// record appends the event id to the catalog dedup table. Returns false when
// the id was already seen.
func (p *Processor) record(ctx context.Context, env domain.Envelope) (bool, error) {
	row := domain.ExternalEvent{
		ID:         p.genID.Generate(),
		EventID:    env.ID,
		EventType:  env.Type,
		ReceivedAt: time.Now().UTC(),
	}
	if err := p.mgr.Catalog().WithContext(ctx).Create(&row).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// target resolves the event's partition from its metadata. Async events
// carry the partition in the payload because no request-time routing exists.
func (p *Processor) target(ctx context.Context, env domain.Envelope) (*tenantdomain.Tenant, tenantctx.Ref, bool) {
	meta := env.Data.Object.Metadata
	schema := strings.TrimSpace(meta[domain.MetaTenantSchema])
	rawID := strings.TrimSpace(meta[domain.MetaTenantID])
	if schema == "" || rawID == "" {
		p.log.Warn("event missing tenant metadata, dropping",
			zap.String("event_id", env.ID), zap.String("type", env.Type))
		return nil, tenantctx.Ref{}, false
	}

	tenantID, err := snowflake.ParseString(rawID)
	if err != nil {
		p.log.Warn("event carries malformed tenant id, dropping",
			zap.String("event_id", env.ID), zap.String("tenant_id", rawID))
		return nil, tenantctx.Ref{}, false
	}

	tenant, err := p.tenants.Get(ctx, tenantID)
	if err != nil {
		p.log.Warn("tenant lookup failed, dropping event",
			zap.String("event_id", env.ID), zap.Error(err))
		return nil, tenantctx.Ref{}, false
	}
	if tenant == nil || tenant.SchemaName != schema {
		p.log.Warn("event tenant metadata does not match catalog, dropping",
			zap.String("event_id", env.ID), zap.String("schema", schema))
		return nil, tenantctx.Ref{}, false
	}

	return tenant, tenantctx.Ref{TenantID: tenant.ID, Schema: tenant.SchemaName}, true
}

func (p *Processor) checkoutCompleted(ctx context.Context, tenant *tenantdomain.Tenant, ref tenantctx.Ref, env domain.Envelope) error {
	planCode := strings.TrimSpace(env.Data.Object.Metadata[domain.MetaPlanCode])
	if planCode == "" {
		p.log.Warn("checkout event missing plan_code, dropping", zap.String("event_id", env.ID))
		return nil
	}

	providerSubID := strings.TrimSpace(env.Data.Object.Subscription)
	if providerSubID == "" {
		providerSubID = env.Data.Object.ID
	}

	err := p.mgr.Run(ctx, ref, func(tx *gorm.DB) error {
		plan, err := p.ensurePlan(ctx, tx, planCode)
		if err != nil {
			return err
		}
		if _, err := p.upsertSubscription(ctx, tx, providerSubID, planCode, domain.SubscriptionStatusActive, maxInt(env.Data.Object.Quantity, 1)); err != nil {
			return err
		}
		return p.applyActivationRoles(ctx, tx, plan)
	})
	if err != nil {
		return err
	}

	return p.tenants.UpdatePlanCode(ctx, tenant, planCode)
}

func (p *Processor) subscriptionChanged(ctx context.Context, tenant *tenantdomain.Tenant, ref tenantctx.Ref, env domain.Envelope, deleted bool) error {
	status := domain.SubscriptionStatus(strings.TrimSpace(env.Data.Object.Status))
	if deleted {
		status = domain.SubscriptionStatusCanceled
	}
	if status == "" {
		p.log.Warn("subscription event missing status, dropping", zap.String("event_id", env.ID))
		return nil
	}
	planCode := strings.TrimSpace(env.Data.Object.Metadata[domain.MetaPlanCode])

	err := p.mgr.Run(ctx, ref, func(tx *gorm.DB) error {
		sub, err := p.upsertSubscription(ctx, tx, env.Data.Object.ID, planCode, status, env.Data.Object.Quantity)
		if err != nil {
			return err
		}
		if status != domain.SubscriptionStatusActive {
			return nil
		}
		code := planCode
		if code == "" {
			code = sub.PlanCode
		}
		if code == "" {
			return nil
		}
		var plan domain.Plan
		if err := tx.WithContext(ctx).Where("code = ?", code).First(&plan).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		return p.applyActivationRoles(ctx, tx, &plan)
	})
	if err != nil {
		return err
	}

	if status == domain.SubscriptionStatusActive && planCode != "" {
		return p.tenants.UpdatePlanCode(ctx, tenant, planCode)
	}
	return nil
}

func (p *Processor) invoicePayment(ctx context.Context, ref tenantctx.Ref, env domain.Envelope, succeeded bool) error {
	status := "paid"
	if !succeeded {
		status = "payment_failed"
	}

	return p.mgr.Run(ctx, ref, func(tx *gorm.DB) error {
		var invoice domain.Invoice
		err := tx.WithContext(ctx).Where("provider_invoice_id = ?", env.Data.Object.ID).First(&invoice).Error
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			invoice = domain.Invoice{
				ID:                p.genID.Generate(),
				ProviderInvoiceID: env.Data.Object.ID,
				SubscriptionID:    env.Data.Object.Subscription,
				Status:            status,
				AmountDue:         env.Data.Object.AmountDue,
				Currency:          env.Data.Object.Currency,
				CreatedAt:         time.Now().UTC(),
				UpdatedAt:         time.Now().UTC(),
			}
			return tx.WithContext(ctx).Create(&invoice).Error
		}

		return tx.WithContext(ctx).Model(&domain.Invoice{}).
			Where("id = ?", invoice.ID).
			Updates(map[string]any{
				"status":     status,
				"amount_due": env.Data.Object.AmountDue,
				"updated_at": time.Now().UTC(),
			}).Error
	})
}

// ensurePlan get-or-creates the plan row so checkout events converge even
// when demo plans were never seeded into this partition.
func (p *Processor) ensurePlan(ctx context.Context, tx *gorm.DB, code string) (*domain.Plan, error) {
	var plan domain.Plan
	err := tx.WithContext(ctx).Where("code = ?", code).First(&plan).Error
	if err == nil {
		return &plan, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	plan = domain.Plan{
		ID:        p.genID.Generate(),
		Code:      code,
		Name:      code,
		CreatedAt: time.Now().UTC(),
	}
	if createErr := tx.WithContext(ctx).Create(&plan).Error; createErr != nil {
		if db.IsDuplicateKeyErr(createErr) {
			findErr := tx.WithContext(ctx).Where("code = ?", code).First(&plan).Error
			return &plan, findErr
		}
		return nil, createErr
	}
	return &plan, nil
}

// upsertSubscription is keyed by the provider subscription id; concurrent
// writers rely on the unique index, not application locking.
func (p *Processor) upsertSubscription(ctx context.Context, tx *gorm.DB, providerSubID, planCode string, status domain.SubscriptionStatus, quantity int) (*domain.Subscription, error) {
	if quantity <= 0 {
		quantity = 1
	}

	var sub domain.Subscription
	err := tx.WithContext(ctx).Where("provider_subscription_id = ?", providerSubID).First(&sub).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		sub = domain.Subscription{
			ID:                     p.genID.Generate(),
			PlanCode:               planCode,
			ProviderSubscriptionID: providerSubID,
			Status:                 status,
			Quantity:               quantity,
			CreatedAt:              time.Now().UTC(),
			UpdatedAt:              time.Now().UTC(),
		}
		if createErr := tx.WithContext(ctx).Create(&sub).Error; createErr != nil {
			if db.IsDuplicateKeyErr(createErr) {
				findErr := tx.WithContext(ctx).Where("provider_subscription_id = ?", providerSubID).First(&sub).Error
				return &sub, findErr
			}
			return nil, createErr
		}
		return &sub, nil
	}

	updates := map[string]any{
		"status":     status,
		"quantity":   quantity,
		"updated_at": time.Now().UTC(),
	}
	if planCode != "" {
		updates["plan_code"] = planCode
		sub.PlanCode = planCode
	}
	if err := tx.WithContext(ctx).Model(&domain.Subscription{}).Where("id = ?", sub.ID).Updates(updates).Error; err != nil {
		return nil, err
	}
	sub.Status = status
	sub.Quantity = quantity
	return &sub, nil
}

// applyActivationRoles bulk-reassigns every active non-owner membership to
// the plan's activation role.
func (p *Processor) applyActivationRoles(ctx context.Context, tx *gorm.DB, plan *domain.Plan) error {
	if plan == nil || len(plan.RolesOnActivation) == 0 {
		return nil
	}

	target, err := p.rbac.RoleByName(ctx, tx, plan.RolesOnActivation[0])
	if err != nil {
		if errors.Is(err, rbacdomain.ErrRoleNotFound) {
			p.log.Warn("activation role missing in partition, skipping",
				zap.String("role", plan.RolesOnActivation[0]))
			return nil
		}
		return err
	}

	query := tx.WithContext(ctx).Model(&rbacdomain.Membership{}).Where("is_active = ?", true)
	owner, err := p.rbac.RoleByName(ctx, tx, rbacdomain.RoleOwner)
	if err == nil {
		query = query.Where("role_id <> ?", owner.ID)
	} else if !errors.Is(err, rbacdomain.ErrRoleNotFound) {
		return err
	}

	return query.Update("role_id", target.ID).Error
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
