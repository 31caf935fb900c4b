package service

import (
	"context"

	tenantdomain "github.com/smallbiznis/atrium/internal/tenant/domain"
	"go.uber.org/zap"
)

// Notifier delivers onboarding mail. Delivery is best effort; provisioning
// never fails on a notification error.
type Notifier interface {
	SendWelcome(ctx context.Context, email string, tenant *tenantdomain.Tenant) error
	SendInvite(ctx context.Context, email string, tenant *tenantdomain.Tenant) error
}

type logNotifier struct {
	log *zap.Logger
}

// NewLogNotifier returns a Notifier that only logs. Deployments with a real
// mail provider supply their own implementation through fx.
func NewLogNotifier(log *zap.Logger) Notifier {
	return &logNotifier{log: log.Named("onboarding.notifier")}
}

func (n *logNotifier) SendWelcome(ctx context.Context, email string, tenant *tenantdomain.Tenant) error {
	n.log.Info("welcome email",
		zap.String("email", email),
		zap.String("tenant", tenant.Slug),
	)
	return nil
}

func (n *logNotifier) SendInvite(ctx context.Context, email string, tenant *tenantdomain.Tenant) error {
	n.log.Info("invite email",
		zap.String("email", email),
		zap.String("tenant", tenant.Slug),
	)
	return nil
}
