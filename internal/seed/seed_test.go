package seed

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	billingdomain "github.com/smallbiznis/atrium/internal/billing/domain"
	"github.com/smallbiznis/atrium/internal/partition"
	"github.com/smallbiznis/atrium/internal/partition/partitiontest"
	rbacdomain "github.com/smallbiznis/atrium/internal/rbac/domain"
	rbacservice "github.com/smallbiznis/atrium/internal/rbac/service"
	tenantdomain "github.com/smallbiznis/atrium/internal/tenant/domain"
	"github.com/smallbiznis/atrium/pkg/tenantctx"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newSeedFixture(t *testing.T) (*Seeder, *partitiontest.Manager, []tenantctx.Ref) {
	t.Helper()
	mgr, err := partitiontest.NewManager(
		[]any{&tenantdomain.Tenant{}, &tenantdomain.Domain{}},
		partition.TenantModels{
			&rbacdomain.Permission{}, &rbacdomain.Role{}, &rbacdomain.User{}, &rbacdomain.Membership{},
			&billingdomain.Plan{},
		},
	)
	require.NoError(t, err)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	ctx := context.Background()
	var refs []tenantctx.Ref
	for i, slug := range []string{"acme", "globex"} {
		tenant := tenantdomain.Tenant{
			ID:         snowflake.ID(i + 1),
			Name:       slug,
			Slug:       slug,
			SchemaName: "tenant_" + slug,
			IsActive:   true,
		}
		require.NoError(t, mgr.Catalog().Create(&tenant).Error)
		require.NoError(t, mgr.CreateSchema(nil, tenant.SchemaName))
		require.NoError(t, mgr.MigrateSchema(ctx, tenant.SchemaName))
		refs = append(refs, tenantctx.Ref{TenantID: tenant.ID, Schema: tenant.SchemaName})
	}

	// An inactive tenant is skipped by every pass; its partition does not
	// even exist.
	require.NoError(t, mgr.Catalog().Create(&tenantdomain.Tenant{
		ID: snowflake.ID(9), Name: "gone", Slug: "gone", SchemaName: "tenant_gone", IsActive: true,
	}).Error)
	require.NoError(t, mgr.Catalog().Model(&tenantdomain.Tenant{}).
		Where("id = ?", snowflake.ID(9)).Update("is_active", false).Error)

	rbac := rbacservice.NewService(node, zap.NewNop())
	return NewSeeder(mgr, rbac, node, zap.NewNop()), mgr, refs
}

func TestRolesForAllTenants(t *testing.T) {
	seeder, mgr, refs := newSeedFixture(t)
	ctx := context.Background()

	require.NoError(t, seeder.RolesForAllTenants(ctx))
	// A second pass changes nothing.
	require.NoError(t, seeder.RolesForAllTenants(ctx))

	for _, ref := range refs {
		var roles, perms int64
		err := mgr.Run(ctx, ref, func(tx *gorm.DB) error {
			if err := tx.Model(&rbacdomain.Role{}).Count(&roles).Error; err != nil {
				return err
			}
			return tx.Model(&rbacdomain.Permission{}).Count(&perms).Error
		})
		require.NoError(t, err)
		require.EqualValues(t, 5, roles, "partition %s", ref.Schema)
		require.EqualValues(t, 8, perms, "partition %s", ref.Schema)
	}
}

func TestDemoPlansForAllTenants(t *testing.T) {
	seeder, mgr, refs := newSeedFixture(t)
	ctx := context.Background()

	require.NoError(t, seeder.DemoPlansForAllTenants(ctx))
	require.NoError(t, seeder.DemoPlansForAllTenants(ctx))

	for _, ref := range refs {
		var plans []billingdomain.Plan
		err := mgr.Run(ctx, ref, func(tx *gorm.DB) error {
			return tx.Order("code").Find(&plans).Error
		})
		require.NoError(t, err)
		require.Len(t, plans, 2)
		require.Equal(t, "free", plans[0].Code)
		require.NotNil(t, plans[0].SeatLimit)
		require.Equal(t, 3, *plans[0].SeatLimit)
		require.Equal(t, "pro", plans[1].Code)
		require.Nil(t, plans[1].SeatLimit)
	}
}
