package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/atrium/internal/billing/domain"
	rbacdomain "github.com/smallbiznis/atrium/internal/rbac/domain"
	"github.com/smallbiznis/atrium/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newSeatPartition(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := db.NewTest()
	if err != nil {
		t.Fatalf("test db: %v", err)
	}
	if err := conn.AutoMigrate(
		&domain.Plan{}, &domain.Subscription{}, &rbacdomain.Membership{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

func addMemberships(t *testing.T, tx *gorm.DB, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := tx.Create(&rbacdomain.Membership{
			ID:       snowflake.ID(1000 + i),
			UserID:   snowflake.ID(2000 + i),
			RoleID:   snowflake.ID(1),
			IsActive: true,
		}).Error; err != nil {
			t.Fatalf("membership %d: %v", i, err)
		}
	}
}

func TestCanAddSeatsNoSubscription(t *testing.T) {
	tx := newSeatPartition(t)
	limiter := NewSeatLimiter(zap.NewNop())

	ok, err := limiter.CanAddSeats(context.Background(), tx, 100)
	if err != nil {
		t.Fatalf("CanAddSeats: %v", err)
	}
	if !ok {
		t.Fatal("no subscription means no limit")
	}
}

func TestCanAddSeatsUnboundedPlan(t *testing.T) {
	tx := newSeatPartition(t)
	limiter := NewSeatLimiter(zap.NewNop())
	ctx := context.Background()

	if err := tx.Create(&domain.Plan{ID: snowflake.ID(1), Code: "pro", Name: "Pro"}).Error; err != nil {
		t.Fatalf("plan: %v", err)
	}
	if err := tx.Create(&domain.Subscription{
		ID: snowflake.ID(2), PlanCode: "pro", ProviderSubscriptionID: "sub_1",
		Status: domain.SubscriptionStatusActive,
	}).Error; err != nil {
		t.Fatalf("subscription: %v", err)
	}
	addMemberships(t, tx, 50)

	ok, err := limiter.CanAddSeats(ctx, tx, 50)
	if err != nil {
		t.Fatalf("CanAddSeats: %v", err)
	}
	if !ok {
		t.Fatal("nil seat limit means unbounded")
	}
}

func TestCanAddSeatsBoundary(t *testing.T) {
	tx := newSeatPartition(t)
	limiter := NewSeatLimiter(zap.NewNop())
	ctx := context.Background()

	three := 3
	if err := tx.Create(&domain.Plan{ID: snowflake.ID(1), Code: "free", Name: "Free", SeatLimit: &three}).Error; err != nil {
		t.Fatalf("plan: %v", err)
	}
	if err := tx.Create(&domain.Subscription{
		ID: snowflake.ID(2), PlanCode: "free", ProviderSubscriptionID: "sub_1",
		Status: domain.SubscriptionStatusTrialing,
	}).Error; err != nil {
		t.Fatalf("subscription: %v", err)
	}
	addMemberships(t, tx, 2)

	ok, err := limiter.CanAddSeats(ctx, tx, 1)
	if err != nil {
		t.Fatalf("CanAddSeats(1): %v", err)
	}
	if !ok {
		t.Fatal("2+1 fits a limit of 3")
	}

	ok, err = limiter.CanAddSeats(ctx, tx, 2)
	if err != nil {
		t.Fatalf("CanAddSeats(2): %v", err)
	}
	if ok {
		t.Fatal("2+2 exceeds a limit of 3")
	}
}

func TestCanAddSeatsCountsOnlyActive(t *testing.T) {
	tx := newSeatPartition(t)
	limiter := NewSeatLimiter(zap.NewNop())
	ctx := context.Background()

	one := 1
	if err := tx.Create(&domain.Plan{ID: snowflake.ID(1), Code: "solo", Name: "Solo", SeatLimit: &one}).Error; err != nil {
		t.Fatalf("plan: %v", err)
	}
	if err := tx.Create(&domain.Subscription{
		ID: snowflake.ID(2), PlanCode: "solo", ProviderSubscriptionID: "sub_1",
		Status: domain.SubscriptionStatusActive,
	}).Error; err != nil {
		t.Fatalf("subscription: %v", err)
	}
	if err := tx.Create(&rbacdomain.Membership{
		ID: snowflake.ID(10), UserID: snowflake.ID(20), RoleID: snowflake.ID(1), IsActive: false,
	}).Error; err != nil {
		t.Fatalf("inactive membership: %v", err)
	}

	ok, err := limiter.CanAddSeats(ctx, tx, 1)
	if err != nil {
		t.Fatalf("CanAddSeats: %v", err)
	}
	if !ok {
		t.Fatal("inactive memberships must not consume seats")
	}
}

func TestActiveSubscriptionPicksNewest(t *testing.T) {
	tx := newSeatPartition(t)
	limiter := NewSeatLimiter(zap.NewNop())
	ctx := context.Background()

	old := time.Now().UTC().Add(-time.Hour)
	if err := tx.Create(&domain.Subscription{
		ID: snowflake.ID(1), PlanCode: "free", ProviderSubscriptionID: "sub_old",
		Status: domain.SubscriptionStatusActive, CreatedAt: old, UpdatedAt: old,
	}).Error; err != nil {
		t.Fatalf("old subscription: %v", err)
	}
	now := time.Now().UTC()
	if err := tx.Create(&domain.Subscription{
		ID: snowflake.ID(2), PlanCode: "pro", ProviderSubscriptionID: "sub_new",
		Status: domain.SubscriptionStatusActive, CreatedAt: now, UpdatedAt: now,
	}).Error; err != nil {
		t.Fatalf("new subscription: %v", err)
	}
	if err := tx.Create(&domain.Subscription{
		ID: snowflake.ID(3), PlanCode: "enterprise", ProviderSubscriptionID: "sub_dead",
		Status: domain.SubscriptionStatusCanceled, CreatedAt: now.Add(time.Minute),
	}).Error; err != nil {
		t.Fatalf("canceled subscription: %v", err)
	}

	sub, err := limiter.ActiveSubscription(ctx, tx)
	if err != nil {
		t.Fatalf("ActiveSubscription: %v", err)
	}
	if sub == nil || sub.PlanCode != "pro" {
		t.Fatalf("picked %+v, want the newest seat-consuming subscription", sub)
	}
}
