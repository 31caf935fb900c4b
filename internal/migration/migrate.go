// Package migration applies the catalog schema on startup and runs the
// reconcile and seed passes once the schema is in place.
package migration

import (
	"context"
	"embed"
	"errors"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/smallbiznis/atrium/internal/config"
	"github.com/smallbiznis/atrium/internal/seed"
	tenantservice "github.com/smallbiznis/atrium/internal/tenant/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed sql/*.sql
var catalogSQL embed.FS

// RunCatalog applies the versioned catalog migrations. Only the postgres
// dialect carries versioned SQL; other dialects fall back to AutoMigrate in
// the caller.
func RunCatalog(db *gorm.DB, cfg config.Config, log *zap.Logger) error {
	if cfg.DBType != "postgres" {
		log.Info("skipping versioned migrations for non-postgres dialect",
			zap.String("dialect", cfg.DBType))
		return nil
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	driver, err := migratepg.WithInstance(sqlDB, &migratepg.Config{})
	if err != nil {
		return err
	}
	source, err := iofs.New(catalogSQL, "sql")
	if err != nil {
		return err
	}

	m, err := migrate.NewWithInstance("iofs", source, cfg.DBName, driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	log.Info("catalog migrations applied")
	return nil
}

// Params collects everything the startup pass needs.
type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	DB        *gorm.DB
	Config    config.Config
	Tenants   *tenantservice.Service
	Seeder    *seed.Seeder
	Log       *zap.Logger
}

// Register wires the migration, reconcile and seed passes into application
// startup. Reconcile failures are logged, not fatal; every pass is
// re-runnable and the next boot repairs what this one could not.
func Register(p Params) {
	log := p.Log.Named("migration")
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := RunCatalog(p.DB, p.Config, log); err != nil {
				return err
			}
			if err := p.Tenants.Reconcile(ctx); err != nil {
				log.Warn("tenant reconcile incomplete", zap.Error(err))
			}
			if err := p.Seeder.RolesForAllTenants(ctx); err != nil {
				log.Warn("role seed incomplete", zap.Error(err))
			}
			if p.Config.SeedDemoPlans {
				if err := p.Seeder.DemoPlansForAllTenants(ctx); err != nil {
					log.Warn("demo plan seed incomplete", zap.Error(err))
				}
			}
			return nil
		},
	})
}

// Module runs the startup passes.
var Module = fx.Module("migration",
	fx.Invoke(Register),
)
