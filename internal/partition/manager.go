// Package partition owns the isolation boundary between tenants. Creating a
// partition, entering it for the scope of one call, and resolving a request
// to a partition all live here so the isolation strategy stays swappable.
package partition

import (
	"context"
	"fmt"
	"regexp"

	"github.com/smallbiznis/atrium/pkg/tenantctx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TenantModels is the set of gorm models materialized inside every tenant
// partition. The concrete list is assembled at wiring time so this package
// stays ignorant of the domains it hosts.
type TenantModels []any

// Manager switches the active data context between the shared catalog
// partition and individual tenant partitions.
type Manager interface {
	// Catalog returns the handle to the shared catalog partition.
	Catalog() *gorm.DB

	// Run executes fn with the data context switched to the given partition.
	// The switch happens before fn runs and is restored on every exit path,
	// including errors and panics. Concurrent callers never observe each
	// other's partition.
	Run(ctx context.Context, ref tenantctx.Ref, fn func(tx *gorm.DB) error) error

	// CreateSchema creates the physical partition. It accepts the catalog
	// transaction so partition creation can commit atomically with the
	// catalog rows referencing it.
	CreateSchema(tx *gorm.DB, schema string) error

	// MigrateSchema materializes the tenant tables inside the partition.
	// Idempotent; safe to re-run on every provisioning retry.
	MigrateSchema(ctx context.Context, schema string) error
}

var schemaNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// ValidSchemaName reports whether the name is safe to interpolate as a
// quoted identifier.
func ValidSchemaName(name string) bool {
	return schemaNameRe.MatchString(name)
}

type manager struct {
	db     *gorm.DB
	log    *zap.Logger
	models TenantModels
}

// NewManager returns the schema-per-tenant Manager backed by the shared
// database handle.
func NewManager(db *gorm.DB, log *zap.Logger, models TenantModels) Manager {
	return &manager{
		db:     db,
		log:    log.Named("partition"),
		models: models,
	}
}

func (m *manager) Catalog() *gorm.DB {
	return m.db
}

func (m *manager) Run(ctx context.Context, ref tenantctx.Ref, fn func(tx *gorm.DB) error) error {
	if !ValidSchemaName(ref.Schema) {
		return fmt.Errorf("invalid partition schema %q", ref.Schema)
	}

	// Connection pins a single pooled connection, so the search_path set
	// here is invisible to every other request. The restore runs on all
	// exit paths; the connection is returned to the pool either way.
	return m.db.WithContext(ctx).Connection(func(tx *gorm.DB) error {
		if err := tx.Exec(fmt.Sprintf(`SET search_path TO %q, public`, ref.Schema)).Error; err != nil {
			return fmt.Errorf("enter partition %s: %w", ref.Schema, err)
		}
		defer func() {
			if err := tx.Exec(`SET search_path TO public`).Error; err != nil {
				m.log.Warn("failed to restore search_path", zap.String("schema", ref.Schema), zap.Error(err))
			}
		}()
		return fn(tx)
	})
}

func (m *manager) CreateSchema(tx *gorm.DB, schema string) error {
	if !ValidSchemaName(schema) {
		return fmt.Errorf("invalid partition schema %q", schema)
	}
	return tx.Exec(fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %q`, schema)).Error
}

func (m *manager) MigrateSchema(ctx context.Context, schema string) error {
	return m.Run(ctx, tenantctx.Ref{Schema: schema}, func(tx *gorm.DB) error {
		return tx.AutoMigrate(m.models...)
	})
}
