package rbac

import (
	"github.com/smallbiznis/atrium/internal/rbac/service"
	"go.uber.org/fx"
)

var Module = fx.Module("rbac.service",
	fx.Provide(service.NewService),
)
