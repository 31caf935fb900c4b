package partition

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/atrium/internal/metrics"
	"github.com/smallbiznis/atrium/pkg/tenantctx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	routeCachePrefix = "atrium:route:"
	routeCacheTTL    = 60 * time.Second
)

// Router resolves an inbound routing key (host name) to a tenant partition.
// Resolution fails open: any miss, inactive tenant, malformed key or lookup
// error resolves to "no tenant" rather than guessing or blocking.
type Router struct {
	mgr     Manager
	cache   *redis.Client
	timeout time.Duration
	metrics *metrics.Metrics
	log     *zap.Logger
}

// NewRouter builds a Router. cache may be nil; lookups then always hit the
// catalog.
func NewRouter(mgr Manager, cache *redis.Client, timeout time.Duration, m *metrics.Metrics, log *zap.Logger) *Router {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Router{
		mgr:     mgr,
		cache:   cache,
		timeout: timeout,
		metrics: m,
		log:     log.Named("router"),
	}
}

// Resolve returns the partition for the routing key, or nil when no active
// tenant matches.
func (r *Router) Resolve(ctx context.Context, host string) *tenantctx.Ref {
	key := NormalizeHost(host)
	if key == "" {
		return nil
	}

	if ref := r.fromCache(ctx, key); ref != nil {
		return ref
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var row struct {
		TenantID   snowflake.ID
		SchemaName string
	}
	err := r.mgr.Catalog().WithContext(ctx).
		Table("domains").
		Select("tenants.id AS tenant_id, tenants.schema_name").
		Joins("JOIN tenants ON tenants.id = domains.tenant_id").
		Where("domains.domain = ? AND tenants.is_active = ?", key, true).
		Take(&row).Error
	if err != nil {
		// Not-found and transient errors both resolve to no tenant; the
		// caller decides whether a tenant was required.
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			r.log.Warn("tenant resolution failed", zap.String("host", key), zap.Error(err))
		}
		r.metrics.RouteLookup(ctx, false)
		return nil
	}

	ref := &tenantctx.Ref{TenantID: row.TenantID, Schema: row.SchemaName}
	r.toCache(ctx, key, ref)
	r.metrics.RouteLookup(ctx, true)
	return ref
}

func (r *Router) fromCache(ctx context.Context, key string) *tenantctx.Ref {
	if r.cache == nil {
		return nil
	}
	raw, err := r.cache.Get(ctx, routeCachePrefix+key).Result()
	if err != nil {
		return nil
	}
	parts := strings.SplitN(raw, "|", 2)
	if len(parts) != 2 || !ValidSchemaName(parts[1]) {
		return nil
	}
	id, err := snowflake.ParseString(parts[0])
	if err != nil {
		return nil
	}
	return &tenantctx.Ref{TenantID: id, Schema: parts[1]}
}

func (r *Router) toCache(ctx context.Context, key string, ref *tenantctx.Ref) {
	if r.cache == nil {
		return
	}
	value := fmt.Sprintf("%s|%s", ref.TenantID.String(), ref.Schema)
	if err := r.cache.Set(ctx, routeCachePrefix+key, value, routeCacheTTL).Err(); err != nil {
		r.log.Debug("route cache write failed", zap.Error(err))
	}
}

// Invalidate drops the cached route for a host, if cached.
func (r *Router) Invalidate(ctx context.Context, host string) {
	if r.cache == nil {
		return
	}
	_ = r.cache.Del(ctx, routeCachePrefix+NormalizeHost(host)).Err()
}

// NormalizeHost lowercases the routing key and strips any port.
func NormalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.TrimSuffix(host, ".")
}
