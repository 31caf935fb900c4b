package onboarding

import (
	"github.com/smallbiznis/atrium/internal/onboarding/service"
	"go.uber.org/fx"
)

var Module = fx.Module("onboarding.service",
	fx.Provide(
		service.NewLogNotifier,
		service.NewService,
	),
)
