package handler

import (
	"integrations/pkg/config"
	"integrations/pkg/metrics"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/swagger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Router struct {
	handler Handler
	app     *fiber.App
	conf    *config.Config
	m       *metrics.Metrics
	logger  *zap.SugaredLogger
}

func NewRouter(handler Handler, app *fiber.App, conf *config.Config, m *metrics.Metrics, logger *zap.SugaredLogger) *Router {
	return &Router{
		logger:  logger,
		app:     app,
		conf:    conf,
		m:       m,
		handler: handler,
	}
}

func (r *Router) RegisterRouter() {
	r.app.Get("/health", r.handler.HealthCheck)
	r.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	r.app.Use(
		recover.New(recover.Config{
			EnableStackTrace: true,
		}),
		logger.New(),
	)

	r.app.Use("/swagger/*", swagger.New(swagger.Config{
		DeepLinking: false,
		URL:         "/swagger/doc.json",
	}))

	r.app.Get("/event-types", r.handler.EventTypes)
	r.app.Post("/relay/run", r.handler.RunRelay)

	events := r.app.Group("/events", Tenant(r.conf.Server.TenantHeader))

	events.Post("/", RateLimit(r.conf.RateLimit, r.m), r.handler.EmitEvent)
	events.Get("/", r.handler.ListEvents)
	events.Get("/:correlation_id", r.handler.GetEvent)
	events.Get("/:correlation_id/logs", r.handler.GetEventLogs)
	events.Get("/:correlation_id/stream", r.handler.StreamEvent)
	events.Post("/:correlation_id/requeue", r.handler.RequeueEvent)
}
