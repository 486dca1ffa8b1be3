package handler

import (
	"strings"
	"sync"

	"integrations/internal/appers"
	"integrations/pkg/config"
	"integrations/pkg/metrics"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"
)

const (
	DefaultTenantHeader = "X-Tenant-ID"
	tenantLocal         = "tenant"
)

// Tenant берет tenant из заголовка, выставленного внешним auth-шлюзом.
// Без tenant дальше не пускаем: все операции скоупятся по нему.
func Tenant(header string) fiber.Handler {
	if header == "" {
		header = DefaultTenantHeader
	}
	return func(c *fiber.Ctx) error {
		tenant := strings.TrimSpace(c.Get(header))
		if tenant == "" {
			return appers.SanitizeError(c, appers.ErrTenantRequired)
		}
		c.Locals(tenantLocal, tenant)
		return c.Next()
	}
}

func tenantFrom(c *fiber.Ctx) string {
	tenant, _ := c.Locals(tenantLocal).(string)
	return tenant
}

// tenantLimiter - token bucket на каждого tenant
type tenantLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

func (l *tenantLimiter) get(tenant string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[tenant]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[tenant] = lim
	}
	return lim
}

// RateLimit ограничивает частоту запросов одного tenant. RPS <= 0 - без ограничений.
func RateLimit(conf config.RateLimit, m *metrics.Metrics) fiber.Handler {
	if conf.RPS <= 0 {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	burst := conf.Burst
	if burst < 1 {
		burst = int(conf.RPS)
		if burst < 1 {
			burst = 1
		}
	}

	l := &tenantLimiter{
		limit:    rate.Limit(conf.RPS),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}

	return func(c *fiber.Ctx) error {
		if !l.get(tenantFrom(c)).Allow() {
			if m != nil {
				path := c.Path()
				if r := c.Route(); r != nil && r.Path != "" {
					path = r.Path
				}
				m.API.RateLimitedTotal.WithLabelValues(path).Inc()
			}
			return appers.SanitizeError(c, appers.ErrRateLimited)
		}
		return c.Next()
	}
}
