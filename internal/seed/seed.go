// Package seed walks every active tenant partition and get-or-creates the
// baseline rows a partition is expected to carry. It backs both the startup
// reconcile pass and operator-triggered reseeding.
package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	billingdomain "github.com/smallbiznis/atrium/internal/billing/domain"
	"github.com/smallbiznis/atrium/internal/partition"
	rbacservice "github.com/smallbiznis/atrium/internal/rbac/service"
	tenantdomain "github.com/smallbiznis/atrium/internal/tenant/domain"
	"github.com/smallbiznis/atrium/pkg/db"
	"github.com/smallbiznis/atrium/pkg/tenantctx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Seeder applies partition-local baseline data across all active tenants.
type Seeder struct {
	mgr   partition.Manager
	rbac  *rbacservice.Service
	genID *snowflake.Node
	log   *zap.Logger
}

func NewSeeder(mgr partition.Manager, rbac *rbacservice.Service, genID *snowflake.Node, log *zap.Logger) *Seeder {
	return &Seeder{
		mgr:   mgr,
		rbac:  rbac,
		genID: genID,
		log:   log.Named("seed"),
	}
}

// RolesForAllTenants ensures every active tenant partition holds the default
// role and permission set. Partitions that already have them are untouched;
// partitions missing some rows gain only the missing ones.
func (s *Seeder) RolesForAllTenants(ctx context.Context) error {
	return s.forEachActive(ctx, func(tenant *tenantdomain.Tenant, tx *gorm.DB) error {
		return s.rbac.SeedDefaults(ctx, tx)
	})
}

// DemoPlansForAllTenants ensures every active tenant partition carries the
// demo plan catalog. Intended for non-production environments.
func (s *Seeder) DemoPlansForAllTenants(ctx context.Context) error {
	return s.forEachActive(ctx, func(tenant *tenantdomain.Tenant, tx *gorm.DB) error {
		return s.ensureDemoPlans(ctx, tx)
	})
}

func (s *Seeder) forEachActive(ctx context.Context, fn func(tenant *tenantdomain.Tenant, tx *gorm.DB) error) error {
	var tenants []tenantdomain.Tenant
	if err := s.mgr.Catalog().WithContext(ctx).Where("is_active = ?", true).Find(&tenants).Error; err != nil {
		return err
	}

	var errs []error
	for i := range tenants {
		tenant := &tenants[i]
		ref := tenantctx.Ref{TenantID: tenant.ID, Schema: tenant.SchemaName}
		if err := s.mgr.Run(ctx, ref, func(tx *gorm.DB) error {
			return fn(tenant, tx)
		}); err != nil {
			s.log.Warn("seed failed for tenant",
				zap.String("tenant", tenant.Slug), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Seeder) ensureDemoPlans(ctx context.Context, tx *gorm.DB) error {
	for _, plan := range s.demoPlans() {
		var existing billingdomain.Plan
		err := tx.WithContext(ctx).Where("code = ?", plan.Code).First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := tx.WithContext(ctx).Create(&plan).Error; err != nil {
			if db.IsDuplicateKeyErr(err) {
				continue
			}
			return err
		}
	}
	return nil
}

func (s *Seeder) demoPlans() []billingdomain.Plan {
	three := 3
	now := time.Now().UTC()
	return []billingdomain.Plan{
		{
			ID:        s.genID.Generate(),
			Code:      "free",
			Name:      "Free",
			SeatLimit: &three,
			TrialDays: 0,
			CreatedAt: now,
		},
		{
			ID:                s.genID.Generate(),
			Code:              "pro",
			Name:              "Pro",
			SeatLimit:         nil,
			TrialDays:         14,
			RolesOnActivation: datatypes.NewJSONSlice([]string{"member"}),
			CreatedAt:         now,
		},
	}
}
