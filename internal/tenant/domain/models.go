// Package domain contains persistence models for the tenant catalog.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Tenant is the catalog record for one tenant. It lives in the shared
// catalog partition; SchemaName and Slug are immutable after creation.
type Tenant struct {
	ID             snowflake.ID                `gorm:"primaryKey" json:"id"`
	Name           string                      `gorm:"type:text;not null" json:"name"`
	Slug           string                      `gorm:"type:text;not null;uniqueIndex:ux_tenants_slug" json:"slug"`
	SchemaName     string                      `gorm:"type:text;not null;uniqueIndex:ux_tenants_schema" json:"schema_name"`
	IsActive       bool                        `gorm:"not null;default:true" json:"is_active"`
	PlanCode       string                      `gorm:"type:text" json:"plan_code"`
	TrialEndsAt    *time.Time                  `json:"trial_ends_at"`
	EnabledModules datatypes.JSONSlice[string] `gorm:"type:jsonb" json:"enabled_modules"`
	Branding       datatypes.JSONMap           `gorm:"type:jsonb" json:"branding"`
	CreatedAt      time.Time                   `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt      time.Time                   `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Tenant) TableName() string { return "tenants" }

// Domain maps a routing key (host name) to a tenant. Exactly one domain per
// tenant is primary; the domain value is unique across the whole system.
type Domain struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	TenantID  snowflake.ID `gorm:"not null;index" json:"tenant_id"`
	Domain    string       `gorm:"type:text;not null;uniqueIndex:ux_domains_domain" json:"domain"`
	IsPrimary bool         `gorm:"not null;default:false" json:"is_primary"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (Domain) TableName() string { return "domains" }

// Mirror is the tenant's denormalized self-description stored inside its own
// partition, so partition-local code never reaches into the catalog. Its ID
// equals the catalog tenant's ID; it is eventually consistent with the
// catalog, not transactionally.
type Mirror struct {
	ID             snowflake.ID                `gorm:"primaryKey" json:"id"`
	Name           string                      `gorm:"type:text;not null" json:"name"`
	Slug           string                      `gorm:"type:text;not null" json:"slug"`
	SchemaName     string                      `gorm:"type:text;not null" json:"schema_name"`
	PlanCode       string                      `gorm:"type:text" json:"plan_code"`
	EnabledModules datatypes.JSONSlice[string] `gorm:"type:jsonb" json:"enabled_modules"`
	Branding       datatypes.JSONMap           `gorm:"type:jsonb" json:"branding"`
	UpdatedAt      time.Time                   `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Mirror) TableName() string { return "tenant_mirror" }
