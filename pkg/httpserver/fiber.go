package httpserver

import (
	"strconv"
	"strings"
	"time"

	"integrations/pkg/config"
	"integrations/pkg/metrics"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

func NewFiber(conf config.Config, m *metrics.Metrics) *fiber.App {
	bodyLimit := conf.Server.BodyLimit
	if bodyLimit <= 0 {
		bodyLimit = fiber.DefaultBodyLimit
	}

	app := fiber.New(
		fiber.Config{
			ReadBufferSize: 1024 * 100,
			BodyLimit:      bodyLimit,
			ErrorHandler: func(c *fiber.Ctx, err error) error {
				code := fiber.StatusInternalServerError
				if e, ok := err.(*fiber.Error); ok {
					code = e.Code
				}
				return c.Status(code).JSON(fiber.Map{
					"status":  false,
					"message": err.Error(),
				})
			},
		},
	)

	tenantHeader := conf.Server.TenantHeader
	if tenantHeader == "" {
		tenantHeader = "X-Tenant-ID"
	}

	app.Use(
		cors.New(cors.Config{
			AllowOrigins:  conf.Server.AllowOrigins,
			AllowHeaders:  "Origin, Content-Type, Accept, " + tenantHeader,
			ExposeHeaders: "X-Correlation-ID",
		}),
	)

	if m != nil {
		app.Use(Metrics(m))
	}

	return app
}

// Metrics - prometheus middleware: счетчик и латентность по шаблону роута
func Metrics(m *metrics.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		// Получаем путь из роута, если доступен, иначе используем фактический путь
		path := c.Path()
		if r := c.Route(); r != nil && r.Path != "" {
			path = r.Path
		}

		method := strings.ToUpper(c.Method())
		if r := c.Route(); r != nil && r.Method != "" {
			method = strings.ToUpper(r.Method)
		}

		status := c.Response().StatusCode()
		if err != nil {
			if e, ok := err.(*fiber.Error); ok {
				status = e.Code
			}
		}
		statusStr := strconv.Itoa(status)
		m.API.HTTPRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
		m.API.HTTPRequestDuration.WithLabelValues(method, path, statusStr).Observe(time.Since(start).Seconds())
		return err
	}
}
