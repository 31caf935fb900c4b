package service

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/atrium/internal/rbac/domain"
	"gorm.io/gorm"
)

// The permission catalog shared by all partitions.
var defaultPermissions = []domain.Permission{
	{Codename: "content.view", Description: "View pages and posts"},
	{Codename: "content.edit", Description: "Edit pages and posts"},
	{Codename: "content.publish", Description: "Publish content"},
	{Codename: "forum.moderate", Description: "Moderate community forums"},
	{Codename: "members.view", Description: "View tenant members"},
	{Codename: "members.manage", Description: "Invite and manage members"},
	{Codename: "billing.manage", Description: "Manage plans and billing"},
	{Codename: "settings.manage", Description: "Manage tenant settings"},
}

type roleSeed struct {
	name        string
	position    int
	permissions []string
}

var defaultRoles = []roleSeed{
	{domain.RoleOwner, 100, []string{
		"content.view", "content.edit", "content.publish", "forum.moderate",
		"members.view", "members.manage", "billing.manage", "settings.manage",
	}},
	{domain.RoleAdmin, 80, []string{
		"content.view", "content.edit", "content.publish", "forum.moderate",
		"members.view", "members.manage", "settings.manage",
	}},
	{domain.RoleModerator, 50, []string{
		"content.view", "content.edit", "forum.moderate", "members.view",
	}},
	{domain.RoleMember, 10, []string{
		"content.view", "members.view",
	}},
	// Viewer intentionally carries no permissions.
	{domain.RoleViewer, 0, nil},
}

// SeedDefaults get-or-creates the permission catalog and the system roles
// inside the partition transaction. Re-running never duplicates rows and
// never strips permissions a prior run granted.
func (s *Service) SeedDefaults(ctx context.Context, tx *gorm.DB) error {
	byCodename := make(map[string]domain.Permission, len(defaultPermissions))
	for _, seed := range defaultPermissions {
		perm, err := s.ensurePermission(ctx, tx, seed)
		if err != nil {
			return err
		}
		byCodename[perm.Codename] = *perm
	}

	for _, seed := range defaultRoles {
		if err := s.ensureRole(ctx, tx, seed, byCodename); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) ensurePermission(ctx context.Context, tx *gorm.DB, seed domain.Permission) (*domain.Permission, error) {
	var perm domain.Permission
	err := tx.WithContext(ctx).Where("codename = ?", seed.Codename).First(&perm).Error
	if err == nil {
		return &perm, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	perm = domain.Permission{
		ID:          s.genID.Generate(),
		Codename:    seed.Codename,
		Description: seed.Description,
	}
	if err := tx.WithContext(ctx).Create(&perm).Error; err != nil {
		return nil, err
	}
	return &perm, nil
}

func (s *Service) ensureRole(ctx context.Context, tx *gorm.DB, seed roleSeed, perms map[string]domain.Permission) error {
	var role domain.Role
	err := tx.WithContext(ctx).Preload("Permissions").Where("name = ?", seed.name).First(&role).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		role = domain.Role{
			ID:        s.genID.Generate(),
			Name:      seed.name,
			Position:  seed.position,
			IsSystem:  true,
			CreatedAt: time.Now().UTC(),
		}
		if createErr := tx.WithContext(ctx).Create(&role).Error; createErr != nil {
			return createErr
		}
	}

	held := make(map[string]struct{}, len(role.Permissions))
	for _, perm := range role.Permissions {
		held[perm.Codename] = struct{}{}
	}

	var missing []domain.Permission
	for _, codename := range seed.permissions {
		if _, ok := held[codename]; ok {
			continue
		}
		if perm, ok := perms[codename]; ok {
			missing = append(missing, perm)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return tx.WithContext(ctx).Model(&role).Association("Permissions").Append(&missing)
}
