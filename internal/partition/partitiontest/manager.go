// Package partitiontest provides an in-memory Manager for tests. Each
// partition is its own sqlite database, so cross-partition leakage in code
// under test shows up as a hard failure, not a shared-table accident.
package partitiontest

import (
	"context"
	"fmt"
	"sync"

	"github.com/smallbiznis/atrium/internal/partition"
	"github.com/smallbiznis/atrium/pkg/db"
	"github.com/smallbiznis/atrium/pkg/tenantctx"
	"gorm.io/gorm"
)

type Manager struct {
	mu      sync.Mutex
	catalog *gorm.DB
	schemas map[string]*gorm.DB
	models  partition.TenantModels
}

// NewManager builds a test Manager whose catalog has the given catalog
// models migrated and whose partitions get tenantModels on creation.
func NewManager(catalogModels []any, tenantModels partition.TenantModels) (*Manager, error) {
	catalog, err := db.NewTest()
	if err != nil {
		return nil, err
	}
	if err := catalog.AutoMigrate(catalogModels...); err != nil {
		return nil, err
	}
	return &Manager{
		catalog: catalog,
		schemas: make(map[string]*gorm.DB),
		models:  tenantModels,
	}, nil
}

func (m *Manager) Catalog() *gorm.DB {
	return m.catalog
}

func (m *Manager) Run(ctx context.Context, ref tenantctx.Ref, fn func(tx *gorm.DB) error) error {
	m.mu.Lock()
	conn, ok := m.schemas[ref.Schema]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown partition schema %q", ref.Schema)
	}
	return fn(conn.WithContext(ctx))
}

// CreateSchema opens a fresh sqlite database for the schema. The catalog
// transaction handle is accepted for interface parity; sqlite has no
// transactional schema creation so the partition exists immediately.
func (m *Manager) CreateSchema(_ *gorm.DB, schema string) error {
	if !partition.ValidSchemaName(schema) {
		return fmt.Errorf("invalid partition schema %q", schema)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.schemas[schema]; ok {
		return nil
	}
	conn, err := db.NewTest()
	if err != nil {
		return err
	}
	m.schemas[schema] = conn
	return nil
}

func (m *Manager) MigrateSchema(_ context.Context, schema string) error {
	m.mu.Lock()
	conn, ok := m.schemas[schema]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown partition schema %q", schema)
	}
	return conn.AutoMigrate(m.models...)
}

var _ partition.Manager = (*Manager)(nil)
