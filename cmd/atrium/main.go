package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/atrium/internal/billing"
	billingdomain "github.com/smallbiznis/atrium/internal/billing/domain"
	"github.com/smallbiznis/atrium/internal/config"
	"github.com/smallbiznis/atrium/internal/logger"
	"github.com/smallbiznis/atrium/internal/metrics"
	"github.com/smallbiznis/atrium/internal/migration"
	"github.com/smallbiznis/atrium/internal/onboarding"
	"github.com/smallbiznis/atrium/internal/partition"
	"github.com/smallbiznis/atrium/internal/rbac"
	rbacdomain "github.com/smallbiznis/atrium/internal/rbac/domain"
	"github.com/smallbiznis/atrium/internal/seed"
	"github.com/smallbiznis/atrium/internal/server"
	"github.com/smallbiznis/atrium/internal/tenant"
	tenantdomain "github.com/smallbiznis/atrium/internal/tenant/domain"
	"github.com/smallbiznis/atrium/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		metrics.Module,
		db.Module,
		fx.Provide(RegisterSnowflake),
		fx.Provide(TenantModels),

		// Functional domains
		partition.Module,
		tenant.Module,
		rbac.Module,
		billing.Module,
		onboarding.Module,
		seed.Module,

		server.Module,
		migration.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}

// TenantModels lists every table materialized inside a tenant partition.
// MigrateSchema applies them in order.
func TenantModels() partition.TenantModels {
	return partition.TenantModels{
		&tenantdomain.Mirror{},
		&rbacdomain.Permission{},
		&rbacdomain.Role{},
		&rbacdomain.User{},
		&rbacdomain.Membership{},
		&billingdomain.Plan{},
		&billingdomain.Subscription{},
		&billingdomain.Invoice{},
	}
}
