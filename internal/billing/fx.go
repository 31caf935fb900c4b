package billing

import (
	"github.com/smallbiznis/atrium/internal/billing/service"
	"go.uber.org/fx"
)

var Module = fx.Module("billing.service",
	fx.Provide(
		service.NewSeatLimiter,
		service.NewProcessor,
	),
)
