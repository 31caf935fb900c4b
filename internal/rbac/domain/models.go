// Package domain contains the partition-local access-control models. Every
// table here lives inside a tenant's own partition; the tenant is implicit.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Permission is one entry of the permission catalog. The catalog of
// codenames is identical across partitions; rows are seeded per partition.
type Permission struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	Codename    string       `gorm:"type:text;not null;uniqueIndex:ux_permissions_codename" json:"codename"`
	Description string       `gorm:"type:text" json:"description"`
}

// TableName sets the database table name.
func (Permission) TableName() string { return "permissions" }

// Role groups permissions under a name with a hierarchy position. A higher
// position is more privileged. A role with zero permissions is valid.
type Role struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	Name        string       `gorm:"type:text;not null;uniqueIndex:ux_roles_name" json:"name"`
	Position    int          `gorm:"not null;default:0" json:"position"`
	IsSystem    bool         `gorm:"not null;default:false" json:"is_system"`
	Permissions []Permission `gorm:"many2many:role_permissions" json:"permissions"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (Role) TableName() string { return "roles" }

// User is a partition-local account. IsSuperuser short-circuits every
// permission check.
type User struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	Email       string       `gorm:"type:text;not null;uniqueIndex:ux_users_email" json:"email"`
	DisplayName string       `gorm:"type:text" json:"display_name"`
	IsSuperuser bool         `gorm:"not null;default:false" json:"is_superuser"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (User) TableName() string { return "users" }

// Membership binds one user to the tenant owning this partition with exactly
// one role. Unique per user within the partition.
type Membership struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID    snowflake.ID `gorm:"not null;uniqueIndex:ux_memberships_user" json:"user_id"`
	RoleID    snowflake.ID `gorm:"not null;index" json:"role_id"`
	Role      *Role        `gorm:"foreignKey:RoleID" json:"role,omitempty"`
	IsActive  bool         `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (Membership) TableName() string { return "memberships" }

// Default role names seeded into every partition.
const (
	RoleOwner     = "owner"
	RoleAdmin     = "admin"
	RoleModerator = "moderator"
	RoleMember    = "member"
	RoleViewer    = "viewer"
)
