package partition

import (
	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/atrium/internal/config"
	"github.com/smallbiznis/atrium/internal/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewRouteCache returns the optional redis client backing the route cache.
// A nil client is valid; the router then always hits the catalog.
func NewRouteCache(cfg config.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
}

func newRouter(mgr Manager, cache *redis.Client, cfg config.Config, m *metrics.Metrics, log *zap.Logger) *Router {
	return NewRouter(mgr, cache, cfg.ResolveTimeout, m, log)
}

// Module wires the partition manager and the schema router.
var Module = fx.Module("partition",
	fx.Provide(
		NewManager,
		NewRouteCache,
		newRouter,
	),
)
