package service

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/atrium/internal/rbac/domain"
	"github.com/smallbiznis/atrium/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestPartition(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	conn, err := db.NewTest()
	if err != nil {
		t.Fatalf("test db: %v", err)
	}
	if err := conn.AutoMigrate(
		&domain.Permission{}, &domain.Role{}, &domain.User{}, &domain.Membership{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	svc := NewService(node, zap.NewNop())
	if err := svc.SeedDefaults(context.Background(), conn); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return svc, conn
}

func memberWithRole(t *testing.T, svc *Service, tx *gorm.DB, email, role string) *domain.User {
	t.Helper()
	ctx := context.Background()
	user, err := svc.EnsureUser(ctx, tx, email, "")
	if err != nil {
		t.Fatalf("EnsureUser(%s): %v", email, err)
	}
	if _, _, err := svc.EnsureMembership(ctx, tx, user.ID, role); err != nil {
		t.Fatalf("EnsureMembership(%s, %s): %v", email, role, err)
	}
	return user
}

func TestSeedDefaultsIdempotent(t *testing.T) {
	svc, tx := newTestPartition(t)
	ctx := context.Background()

	if err := svc.SeedDefaults(ctx, tx); err != nil {
		t.Fatalf("second seed: %v", err)
	}

	var roles, perms int64
	if err := tx.Model(&domain.Role{}).Count(&roles).Error; err != nil {
		t.Fatalf("count roles: %v", err)
	}
	if err := tx.Model(&domain.Permission{}).Count(&perms).Error; err != nil {
		t.Fatalf("count permissions: %v", err)
	}
	if roles != 5 {
		t.Fatalf("roles = %d, want 5", roles)
	}
	if perms != 8 {
		t.Fatalf("permissions = %d, want 8", perms)
	}
}

func TestHasPermissionByRole(t *testing.T) {
	svc, tx := newTestPartition(t)
	ctx := context.Background()

	owner := memberWithRole(t, svc, tx, "owner@acme.test", domain.RoleOwner)
	member := memberWithRole(t, svc, tx, "member@acme.test", domain.RoleMember)
	viewer := memberWithRole(t, svc, tx, "viewer@acme.test", domain.RoleViewer)

	cases := []struct {
		name     string
		userID   snowflake.ID
		codename string
		want     bool
	}{
		{"owner manages billing", owner.ID, "billing.manage", true},
		{"member views content", member.ID, "content.view", true},
		{"member cannot publish", member.ID, "content.publish", false},
		{"viewer holds nothing", viewer.ID, "content.view", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := svc.HasPermission(ctx, tx, tc.userID, tc.codename)
			if err != nil {
				t.Fatalf("HasPermission: %v", err)
			}
			if got != tc.want {
				t.Fatalf("HasPermission = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestHasPermissionUnknownUser(t *testing.T) {
	svc, tx := newTestPartition(t)

	got, err := svc.HasPermission(context.Background(), tx, snowflake.ID(424242), "content.view")
	if err != nil {
		t.Fatalf("unknown user should not error: %v", err)
	}
	if got {
		t.Fatal("unknown user should hold no permissions")
	}
}

func TestSuperuserBypass(t *testing.T) {
	svc, tx := newTestPartition(t)
	ctx := context.Background()

	user, err := svc.EnsureUser(ctx, tx, "root@acme.test", "")
	if err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	if err := tx.Model(&domain.User{}).Where("id = ?", user.ID).Update("is_superuser", true).Error; err != nil {
		t.Fatalf("promote: %v", err)
	}

	// No membership at all, yet every check passes.
	got, err := svc.HasPermission(ctx, tx, user.ID, "settings.manage")
	if err != nil {
		t.Fatalf("HasPermission: %v", err)
	}
	if !got {
		t.Fatal("superuser should pass every permission check")
	}
}

func TestHasAnyHasAll(t *testing.T) {
	svc, tx := newTestPartition(t)
	ctx := context.Background()

	member := memberWithRole(t, svc, tx, "member@acme.test", domain.RoleMember)

	any, err := svc.HasAny(ctx, tx, member.ID, []string{"content.publish", "content.view"})
	if err != nil {
		t.Fatalf("HasAny: %v", err)
	}
	if !any {
		t.Fatal("member holds content.view, HasAny should pass")
	}

	all, err := svc.HasAll(ctx, tx, member.ID, []string{"content.view", "content.publish"})
	if err != nil {
		t.Fatalf("HasAll: %v", err)
	}
	if all {
		t.Fatal("member lacks content.publish, HasAll should fail")
	}
}

func TestCanManageHierarchy(t *testing.T) {
	svc, tx := newTestPartition(t)
	ctx := context.Background()

	owner := memberWithRole(t, svc, tx, "owner@acme.test", domain.RoleOwner)
	member := memberWithRole(t, svc, tx, "member@acme.test", domain.RoleMember)

	memberRole, err := svc.RoleByName(ctx, tx, domain.RoleMember)
	if err != nil {
		t.Fatalf("RoleByName: %v", err)
	}
	ownerRole, err := svc.RoleByName(ctx, tx, domain.RoleOwner)
	if err != nil {
		t.Fatalf("RoleByName: %v", err)
	}

	ok, err := svc.CanManage(ctx, tx, owner.ID, memberRole)
	if err != nil {
		t.Fatalf("CanManage: %v", err)
	}
	if !ok {
		t.Fatal("owner should manage the member role")
	}

	ok, err = svc.CanManage(ctx, tx, member.ID, ownerRole)
	if err != nil {
		t.Fatalf("CanManage: %v", err)
	}
	if ok {
		t.Fatal("member must not manage the owner role")
	}

	// Equal positions manage each other.
	ok, err = svc.CanManage(ctx, tx, owner.ID, ownerRole)
	if err != nil {
		t.Fatalf("CanManage: %v", err)
	}
	if !ok {
		t.Fatal("equal position should be allowed to manage")
	}
}

func TestEnsureMembershipIdempotent(t *testing.T) {
	svc, tx := newTestPartition(t)
	ctx := context.Background()

	user, err := svc.EnsureUser(ctx, tx, "owner@acme.test", "")
	if err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	_, created, err := svc.EnsureMembership(ctx, tx, user.ID, domain.RoleOwner)
	if err != nil {
		t.Fatalf("EnsureMembership: %v", err)
	}
	if !created {
		t.Fatal("first call should create the membership")
	}
	_, created, err = svc.EnsureMembership(ctx, tx, user.ID, domain.RoleOwner)
	if err != nil {
		t.Fatalf("second EnsureMembership: %v", err)
	}
	if created {
		t.Fatal("second call must not create another membership")
	}

	var count int64
	if err := tx.Model(&domain.Membership{}).Where("user_id = ?", user.ID).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("memberships = %d, want 1", count)
	}
}
