package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/atrium/internal/config"
	"github.com/smallbiznis/atrium/internal/partition"
	"github.com/smallbiznis/atrium/internal/tenant/domain"
	"github.com/smallbiznis/atrium/pkg/db"
	"github.com/smallbiznis/atrium/pkg/tenantctx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Service owns the catalog Tenant/Domain records and the per-partition
// mirror.
type Service struct {
	mgr        partition.Manager
	genID      *snowflake.Node
	log        *zap.Logger
	baseDomain string
}

func NewService(mgr partition.Manager, genID *snowflake.Node, cfg config.Config, log *zap.Logger) *Service {
	return &Service{
		mgr:        mgr,
		genID:      genID,
		log:        log.Named("tenant"),
		baseDomain: cfg.BaseDomain,
	}
}

// Create provisions the catalog half of a new tenant: catalog row, physical
// partition and primary domain commit as one unit, then the partition's
// tables are materialized. A failure after the commit leaves a tenant whose
// partition lacks tables; MigrateSchema is idempotent, so re-running
// provisioning converges.
func (s *Service) Create(ctx context.Context, name, rawSlug string) (*domain.Tenant, error) {
	tenant, err := s.Build(name, rawSlug)
	if err != nil {
		return nil, err
	}

	err = s.mgr.Catalog().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.CreateInTx(ctx, tx, tenant)
	})
	if err != nil {
		return nil, err
	}

	if err := s.mgr.MigrateSchema(ctx, tenant.SchemaName); err != nil {
		return tenant, err
	}
	return tenant, nil
}

// Build validates the slug and assembles the catalog row without
// persisting. Callers that need to extend the creation transaction pair it
// with CreateInTx.
func (s *Service) Build(name, rawSlug string) (*domain.Tenant, error) {
	normalized, err := NormalizeSlug(rawSlug)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &domain.Tenant{
		ID:         s.genID.Generate(),
		Name:       name,
		Slug:       normalized,
		SchemaName: SchemaForSlug(normalized),
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// CreateInTx writes the tenant row, creates the physical partition and the
// primary domain inside the given catalog transaction. Exposed so the
// provisioning flow can extend the same transaction with its own rows.
func (s *Service) CreateInTx(ctx context.Context, tx *gorm.DB, tenant *domain.Tenant) error {
	if err := tx.WithContext(ctx).Create(tenant).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.ErrSlugTaken
		}
		return err
	}

	if err := s.mgr.CreateSchema(tx, tenant.SchemaName); err != nil {
		return err
	}

	primary := domain.Domain{
		ID:        s.genID.Generate(),
		TenantID:  tenant.ID,
		Domain:    tenant.Slug + "." + s.baseDomain,
		IsPrimary: true,
		CreatedAt: tenant.CreatedAt,
	}
	if err := tx.WithContext(ctx).Create(&primary).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.ErrDomainTaken
		}
		return err
	}
	return nil
}

// MirrorInto get-or-creates the tenant's mirror row inside the partition
// transaction and refreshes its denormalized fields. Safe to call any number
// of times.
func (s *Service) MirrorInto(ctx context.Context, tx *gorm.DB, tenant *domain.Tenant) error {
	var mirror domain.Mirror
	err := tx.WithContext(ctx).Where("id = ?", tenant.ID).First(&mirror).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		mirror = domain.Mirror{
			ID:             tenant.ID,
			Name:           tenant.Name,
			Slug:           tenant.Slug,
			SchemaName:     tenant.SchemaName,
			PlanCode:       tenant.PlanCode,
			EnabledModules: tenant.EnabledModules,
			Branding:       tenant.Branding,
			UpdatedAt:      time.Now().UTC(),
		}
		if createErr := tx.WithContext(ctx).Create(&mirror).Error; createErr != nil {
			if db.IsDuplicateKeyErr(createErr) {
				return nil
			}
			return createErr
		}
		return nil
	}

	return tx.WithContext(ctx).Model(&domain.Mirror{}).
		Where("id = ?", tenant.ID).
		Updates(map[string]any{
			"name":            tenant.Name,
			"plan_code":       tenant.PlanCode,
			"enabled_modules": tenant.EnabledModules,
			"branding":        tenant.Branding,
			"updated_at":      time.Now().UTC(),
		}).Error
}

// Get returns the catalog tenant, or nil when it does not exist.
func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Tenant, error) {
	var tenant domain.Tenant
	err := s.mgr.Catalog().WithContext(ctx).Where("id = ?", id).First(&tenant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &tenant, nil
}

// ResolveDomain returns the active tenant owning the routing key, or nil
// when no active tenant matches.
func (s *Service) ResolveDomain(ctx context.Context, host string) (*domain.Tenant, error) {
	key := partition.NormalizeHost(host)
	if key == "" {
		return nil, nil
	}
	var tenant domain.Tenant
	err := s.mgr.Catalog().WithContext(ctx).
		Joins("JOIN domains ON domains.tenant_id = tenants.id").
		Where("domains.domain = ? AND tenants.is_active = ?", key, true).
		First(&tenant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &tenant, nil
}

// SetPrimaryDomain points the tenant's primary domain at host, demoting any
// prior primary. Re-running with the same host is a no-op.
func (s *Service) SetPrimaryDomain(ctx context.Context, tenantID snowflake.ID, host string) error {
	key := partition.NormalizeHost(host)
	if key == "" {
		return domain.ErrInvalidSlug
	}

	return s.mgr.Catalog().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing domain.Domain
		err := tx.Where("domain = ?", key).First(&existing).Error
		switch {
		case err == nil:
			if existing.TenantID != tenantID {
				return domain.ErrDomainTaken
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			existing = domain.Domain{
				ID:        s.genID.Generate(),
				TenantID:  tenantID,
				Domain:    key,
				CreatedAt: time.Now().UTC(),
			}
			if createErr := tx.Create(&existing).Error; createErr != nil {
				if db.IsDuplicateKeyErr(createErr) {
					return domain.ErrDomainTaken
				}
				return createErr
			}
		default:
			return err
		}

		if err := tx.Model(&domain.Domain{}).
			Where("tenant_id = ? AND is_primary = ? AND id <> ?", tenantID, true, existing.ID).
			Update("is_primary", false).Error; err != nil {
			return err
		}

		return tx.Model(&domain.Domain{}).
			Where("id = ?", existing.ID).
			Update("is_primary", true).Error
	})
}

// UpdateModules writes the enabled module list to the catalog row and,
// best-effort, to the partition mirror. Reconcile is the consistency
// backstop for the mirror half.
func (s *Service) UpdateModules(ctx context.Context, tenant *domain.Tenant, modules []string) error {
	tenant.EnabledModules = modules
	tenant.UpdatedAt = time.Now().UTC()
	err := s.mgr.Catalog().WithContext(ctx).Model(&domain.Tenant{}).
		Where("id = ?", tenant.ID).
		Updates(map[string]any{
			"enabled_modules": tenant.EnabledModules,
			"updated_at":      tenant.UpdatedAt,
		}).Error
	if err != nil {
		return err
	}

	s.refreshMirror(ctx, tenant)
	return nil
}

// UpdatePlanCode mirrors a plan change into the catalog row and the
// partition mirror.
func (s *Service) UpdatePlanCode(ctx context.Context, tenant *domain.Tenant, planCode string) error {
	tenant.PlanCode = planCode
	tenant.UpdatedAt = time.Now().UTC()
	err := s.mgr.Catalog().WithContext(ctx).Model(&domain.Tenant{}).
		Where("id = ?", tenant.ID).
		Updates(map[string]any{
			"plan_code":  planCode,
			"updated_at": tenant.UpdatedAt,
		}).Error
	if err != nil {
		return err
	}

	s.refreshMirror(ctx, tenant)
	return nil
}

func (s *Service) refreshMirror(ctx context.Context, tenant *domain.Tenant) {
	ref := tenantctx.Ref{TenantID: tenant.ID, Schema: tenant.SchemaName}
	err := s.mgr.Run(ctx, ref, func(tx *gorm.DB) error {
		return s.MirrorInto(ctx, tx, tenant)
	})
	if err != nil {
		s.log.Warn("mirror refresh failed, reconciliation will repair",
			zap.String("tenant", tenant.Slug), zap.Error(err))
	}
}

// Reconcile re-applies partition tables and mirror rows for every active
// catalog tenant. It is the repair pass for the non-transactional
// catalog/partition boundary; every underlying write is get-or-create.
func (s *Service) Reconcile(ctx context.Context) error {
	var tenants []domain.Tenant
	if err := s.mgr.Catalog().WithContext(ctx).Where("is_active = ?", true).Find(&tenants).Error; err != nil {
		return err
	}

	var errs []error
	for i := range tenants {
		tenant := &tenants[i]
		if err := s.mgr.MigrateSchema(ctx, tenant.SchemaName); err != nil {
			errs = append(errs, err)
			continue
		}
		ref := tenantctx.Ref{TenantID: tenant.ID, Schema: tenant.SchemaName}
		if err := s.mgr.Run(ctx, ref, func(tx *gorm.DB) error {
			return s.MirrorInto(ctx, tx, tenant)
		}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
