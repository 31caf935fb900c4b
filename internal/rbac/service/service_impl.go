package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/atrium/internal/rbac/domain"
	"github.com/smallbiznis/atrium/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Service evaluates role-based permissions inside one tenant partition.
// Every method takes the partition-scoped transaction; the service itself
// holds no data-context state.
type Service struct {
	genID *snowflake.Node
	log   *zap.Logger
}

func NewService(genID *snowflake.Node, log *zap.Logger) *Service {
	return &Service{
		genID: genID,
		log:   log.Named("rbac"),
	}
}

// MembershipOf returns the user's active membership with its role and
// permission set, or nil when the user has no access to this tenant.
func (s *Service) MembershipOf(ctx context.Context, tx *gorm.DB, userID snowflake.ID) (*domain.Membership, error) {
	var membership domain.Membership
	err := tx.WithContext(ctx).
		Preload("Role.Permissions").
		Where("user_id = ? AND is_active = ?", userID, true).
		First(&membership).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &membership, nil
}

// HasPermission reports whether the user holds the permission codename in
// this partition. Superusers always pass; a missing membership is false,
// never an error.
func (s *Service) HasPermission(ctx context.Context, tx *gorm.DB, userID snowflake.ID, codename string) (bool, error) {
	super, err := s.isSuperuser(ctx, tx, userID)
	if err != nil {
		return false, err
	}
	if super {
		return true, nil
	}

	membership, err := s.MembershipOf(ctx, tx, userID)
	if err != nil {
		return false, err
	}
	if membership == nil || membership.Role == nil {
		return false, nil
	}
	for _, perm := range membership.Role.Permissions {
		if perm.Codename == codename {
			return true, nil
		}
	}
	return false, nil
}

// HasAny reports whether the user holds at least one of the codenames.
func (s *Service) HasAny(ctx context.Context, tx *gorm.DB, userID snowflake.ID, codenames []string) (bool, error) {
	super, err := s.isSuperuser(ctx, tx, userID)
	if err != nil {
		return false, err
	}
	if super {
		return true, nil
	}

	held, err := s.permissionSet(ctx, tx, userID)
	if err != nil {
		return false, err
	}
	for _, codename := range codenames {
		if _, ok := held[codename]; ok {
			return true, nil
		}
	}
	return false, nil
}

// HasAll reports whether the user holds every one of the codenames.
func (s *Service) HasAll(ctx context.Context, tx *gorm.DB, userID snowflake.ID, codenames []string) (bool, error) {
	super, err := s.isSuperuser(ctx, tx, userID)
	if err != nil {
		return false, err
	}
	if super {
		return true, nil
	}

	held, err := s.permissionSet(ctx, tx, userID)
	if err != nil {
		return false, err
	}
	for _, codename := range codenames {
		if _, ok := held[codename]; !ok {
			return false, nil
		}
	}
	return true, nil
}

// CanManage reports whether the user may modify the target role: the highest
// hierarchy position among the user's active roles must be at or above the
// target's position.
func (s *Service) CanManage(ctx context.Context, tx *gorm.DB, userID snowflake.ID, target *domain.Role) (bool, error) {
	if target == nil {
		return false, nil
	}

	var memberships []domain.Membership
	err := tx.WithContext(ctx).
		Preload("Role").
		Where("user_id = ? AND is_active = ?", userID, true).
		Find(&memberships).Error
	if err != nil {
		return false, err
	}

	highest := -1
	for _, membership := range memberships {
		if membership.Role != nil && membership.Role.Position > highest {
			highest = membership.Role.Position
		}
	}
	if highest < 0 {
		return false, nil
	}
	return highest >= target.Position, nil
}

// RoleByName returns the named role with its permissions.
func (s *Service) RoleByName(ctx context.Context, tx *gorm.DB, name string) (*domain.Role, error) {
	var role domain.Role
	err := tx.WithContext(ctx).Preload("Permissions").Where("name = ?", name).First(&role).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrRoleNotFound
		}
		return nil, err
	}
	return &role, nil
}

// EnsureUser get-or-creates a partition-local user by email.
func (s *Service) EnsureUser(ctx context.Context, tx *gorm.DB, email, displayName string) (*domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var user domain.User
	err := tx.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if err == nil {
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	user = domain.User{
		ID:          s.genID.Generate(),
		Email:       email,
		DisplayName: displayName,
		CreatedAt:   time.Now().UTC(),
	}
	if err := tx.WithContext(ctx).Create(&user).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			findErr := tx.WithContext(ctx).Where("email = ?", email).First(&user).Error
			return &user, findErr
		}
		return nil, err
	}
	return &user, nil
}

// EnsureMembership get-or-creates the user's membership with the named role.
// The second return reports whether a new membership was created.
func (s *Service) EnsureMembership(ctx context.Context, tx *gorm.DB, userID snowflake.ID, roleName string) (*domain.Membership, bool, error) {
	var membership domain.Membership
	err := tx.WithContext(ctx).Where("user_id = ?", userID).First(&membership).Error
	if err == nil {
		return &membership, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	role, err := s.RoleByName(ctx, tx, roleName)
	if err != nil {
		return nil, false, err
	}

	membership = domain.Membership{
		ID:        s.genID.Generate(),
		UserID:    userID,
		RoleID:    role.ID,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	if err := tx.WithContext(ctx).Create(&membership).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			findErr := tx.WithContext(ctx).Where("user_id = ?", userID).First(&membership).Error
			return &membership, false, findErr
		}
		return nil, false, err
	}
	return &membership, true, nil
}

func (s *Service) isSuperuser(ctx context.Context, tx *gorm.DB, userID snowflake.ID) (bool, error) {
	var user domain.User
	err := tx.WithContext(ctx).Select("id", "is_superuser").Where("id = ?", userID).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return user.IsSuperuser, nil
}

func (s *Service) permissionSet(ctx context.Context, tx *gorm.DB, userID snowflake.ID) (map[string]struct{}, error) {
	membership, err := s.MembershipOf(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	held := make(map[string]struct{})
	if membership == nil || membership.Role == nil {
		return held, nil
	}
	for _, perm := range membership.Role.Permissions {
		held[perm.Codename] = struct{}{}
	}
	return held, nil
}
