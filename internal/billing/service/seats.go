package service

import (
	"context"
	"errors"

	"github.com/smallbiznis/atrium/internal/billing/domain"
	rbacdomain "github.com/smallbiznis/atrium/internal/rbac/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SeatLimiter gates membership creation against the active subscription's
// plan seat limit. All methods run against a partition-scoped transaction.
type SeatLimiter struct {
	log *zap.Logger
}

func NewSeatLimiter(log *zap.Logger) *SeatLimiter {
	return &SeatLimiter{log: log.Named("billing.seats")}
}

// ActiveSubscription returns the most recently created subscription in a
// seat-consuming status, or nil when the tenant has none.
func (l *SeatLimiter) ActiveSubscription(ctx context.Context, tx *gorm.DB) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := tx.WithContext(ctx).
		Where("status IN ?", []domain.SubscriptionStatus{
			domain.SubscriptionStatusTrialing,
			domain.SubscriptionStatusActive,
		}).
		Order("created_at DESC").
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

// CanAddSeats reports whether n more active memberships fit under the plan's
// seat limit. No subscription or an unbounded plan always fits.
func (l *SeatLimiter) CanAddSeats(ctx context.Context, tx *gorm.DB, n int) (bool, error) {
	sub, err := l.ActiveSubscription(ctx, tx)
	if err != nil {
		return false, err
	}
	if sub == nil {
		return true, nil
	}

	var plan domain.Plan
	err = tx.WithContext(ctx).Where("code = ?", sub.PlanCode).First(&plan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			l.log.Warn("subscription references unknown plan, treating as unbounded",
				zap.String("plan_code", sub.PlanCode))
			return true, nil
		}
		return false, err
	}
	if plan.SeatLimit == nil {
		return true, nil
	}

	var current int64
	err = tx.WithContext(ctx).Model(&rbacdomain.Membership{}).
		Where("is_active = ?", true).
		Count(&current).Error
	if err != nil {
		return false, err
	}
	return current+int64(n) <= int64(*plan.SeatLimit), nil
}
