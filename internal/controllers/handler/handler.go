package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"integrations/internal/appers"
	"integrations/internal/application/common"
	"integrations/internal/application/entity"
	use_cases "integrations/internal/application/use-cases"

	"github.com/gofiber/fiber/v2"
	"github.com/gofrs/uuid"
	"go.uber.org/zap"
)

// интервал keep-alive комментариев в SSE, чтобы прокси не рвали соединение
const streamPingInterval = 15 * time.Second

type Handler interface {
	EmitEvent(c *fiber.Ctx) error
	ListEvents(c *fiber.Ctx) error
	GetEvent(c *fiber.Ctx) error
	GetEventLogs(c *fiber.Ctx) error
	StreamEvent(c *fiber.Ctx) error
	RequeueEvent(c *fiber.Ctx) error
	EventTypes(c *fiber.Ctx) error
	RunRelay(c *fiber.Ctx) error
	HealthCheck(c *fiber.Ctx) error
}

type HandlerImpl struct {
	usecase use_cases.UseCaser
	logger  *zap.SugaredLogger
}

func NewEventHandler(usecase use_cases.UseCaser, logger *zap.SugaredLogger) *HandlerImpl {
	return &HandlerImpl{
		usecase: usecase,
		logger:  logger,
	}
}

func correlationID(c *fiber.Ctx) (uuid.UUID, error) {
	cid, err := uuid.FromString(c.Params("correlation_id"))
	if err != nil {
		return uuid.Nil, appers.ErrInvalidCorrelationID
	}
	return cid, nil
}

// HealthCheck godoc
// @Summary     Проверка состояния сервиса
// @Description Проверяет доступность хранилища событий и, если подключены, Kafka и Redis.
// @Produce     json
// @Success     200   {object} entity.HealthCheckResponse "Все сервисы доступны"
// @Failure     503   {object} entity.HealthCheckResponse "Один или несколько сервисов недоступны"
// @tags        Health
// @Router      /health [get]
func (h *HandlerImpl) HealthCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	checks := h.usecase.HealthCheck(ctx)
	resp := entity.HealthCheckResponse{
		Status:  checks.Healthy(),
		Message: "success",
		Version: common.Version,
		Checks:  checks,
	}
	if !resp.Status {
		resp.Message = "Some services are unavailable"
		return c.Status(fiber.StatusServiceUnavailable).JSON(resp)
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}

// EmitEvent godoc
// @Summary     Отправка события интеграции
// @Description Проверяет payload по реестру типов и ставит событие в очередь доставки. Повтор с тем же idempotency_key возвращает исходное событие.
// @Accept      json
// @Produce     json
// @Param       X-Tenant-ID header   string             true "Tenant"
// @Param       body        body     entity.EmitRequest true "Событие"
// @Success     202   {object} entity.EmitResult "Событие поставлено в очередь"
// @Success     200   {object} entity.EmitResult "Дубликат по idempotency_key"
// @Failure     400
// @Failure     401
// @Failure     422
// @Failure     429
// @Failure     503
// @tags        Event
// @Router      /events [post]
func (h *HandlerImpl) EmitEvent(c *fiber.Ctx) error {
	var req entity.EmitRequest
	if err := c.BodyParser(&req); err != nil {
		h.logger.Warnf("error parsing body: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "invalid request body",
		})
	}

	res, err := h.usecase.Emit(c.Context(), tenantFrom(c), req)
	if err != nil {
		return appers.SanitizeError(c, err)
	}

	status := fiber.StatusAccepted
	if res.Duplicate {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(res)
}

// ListEvents godoc
// @Summary     Список событий
// @Description События tenant, новые первыми
// @Produce     json
// @Param       X-Tenant-ID header string true  "Tenant"
// @Param       event_type  query  string false "Тип события"
// @Param       status      query  string false "queued | processing | delivered | failed"
// @Param       limit       query  int    false "1..100, по умолчанию 20"
// @Param       offset      query  int    false "Смещение"
// @Success     200   {array}  entity.IntegrationEvent
// @Failure     401
// @Failure     422
// @tags        Event
// @Router      /events [get]
func (h *HandlerImpl) ListEvents(c *fiber.Ctx) error {
	var filter entity.ListFilter
	if err := c.QueryParser(&filter); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "invalid query parameters",
		})
	}

	events, err := h.usecase.ListEvents(c.Context(), tenantFrom(c), filter)
	if err != nil {
		return appers.SanitizeError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(events)
}

// GetEvent godoc
// @Summary     Статус события
// @Produce     json
// @Param       X-Tenant-ID    header string true "Tenant"
// @Param       correlation_id path   string true "Correlation ID"
// @Success     200   {object} entity.IntegrationEvent
// @Failure     400
// @Failure     404
// @tags        Event
// @Router      /events/{correlation_id} [get]
func (h *HandlerImpl) GetEvent(c *fiber.Ctx) error {
	cid, err := correlationID(c)
	if err != nil {
		return appers.SanitizeError(c, err)
	}

	evt, err := h.usecase.GetEvent(c.Context(), tenantFrom(c), cid)
	if err != nil {
		return appers.SanitizeError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(evt)
}

// GetEventLogs godoc
// @Summary     Журнал доставки события
// @Description Записи журнала, старые первыми: по одной на каждую попытку доставки
// @Produce     json
// @Param       X-Tenant-ID    header string true "Tenant"
// @Param       correlation_id path   string true "Correlation ID"
// @Success     200   {array}  entity.IntegrationEventLog
// @Failure     400
// @Failure     404
// @tags        Event
// @Router      /events/{correlation_id}/logs [get]
func (h *HandlerImpl) GetEventLogs(c *fiber.Ctx) error {
	cid, err := correlationID(c)
	if err != nil {
		return appers.SanitizeError(c, err)
	}

	logs, err := h.usecase.ListEventLogs(c.Context(), tenantFrom(c), cid)
	if err != nil {
		return appers.SanitizeError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(logs)
}

// StreamEvent godoc
// @Summary     Подписка на статус события (SSE)
// @Description Отдает текущее состояние и каждое следующее. Поток закрывается на терминальном статусе.
// @Produce     text/event-stream
// @Param       X-Tenant-ID    header string true "Tenant"
// @Param       correlation_id path   string true "Correlation ID"
// @Success     200
// @Failure     400
// @Failure     404
// @tags        Event
// @Router      /events/{correlation_id}/stream [get]
func (h *HandlerImpl) StreamEvent(c *fiber.Ctx) error {
	cid, err := correlationID(c)
	if err != nil {
		return appers.SanitizeError(c, err)
	}

	// поток живет дольше хендлера, поэтому контекст свой
	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan *entity.IntegrationEvent, 16)

	sub, err := h.usecase.SubscribeEvent(ctx, tenantFrom(c), cid, func(evt *entity.IntegrationEvent) {
		select {
		case updates <- evt:
		case <-ctx.Done():
		}
	})
	if err != nil {
		cancel()
		return appers.SanitizeError(c, err)
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer cancel()
		defer sub.Cancel()

		ticker := time.NewTicker(streamPingInterval)
		defer ticker.Stop()

		for {
			select {
			case evt := <-updates:
				if err := writeEvent(w, "status", evt); err != nil {
					h.logger.Debugf("[cid %s] stream client gone: %v", cid, err)
					return
				}
			case <-sub.Done():
				for {
					select {
					case evt := <-updates:
						if err := writeEvent(w, "status", evt); err != nil {
							return
						}
					default:
						_ = writeEvent(w, "end", fiber.Map{"correlation_id": cid})
						return
					}
				}
			case <-ticker.C:
				if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	})
	return nil
}

func writeEvent(w *bufio.Writer, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	return w.Flush()
}

// RequeueEvent godoc
// @Summary     Повторная постановка в очередь
// @Description Только для событий, исчерпавших попытки. Счетчик попыток обнуляется.
// @Produce     json
// @Param       X-Tenant-ID    header string true "Tenant"
// @Param       correlation_id path   string true "Correlation ID"
// @Success     200   {object} entity.IntegrationEvent
// @Failure     400
// @Failure     404
// @Failure     409
// @tags        Event
// @Router      /events/{correlation_id}/requeue [post]
func (h *HandlerImpl) RequeueEvent(c *fiber.Ctx) error {
	cid, err := correlationID(c)
	if err != nil {
		return appers.SanitizeError(c, err)
	}

	evt, err := h.usecase.RequeueEvent(c.Context(), tenantFrom(c), cid)
	if err != nil {
		return appers.SanitizeError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(evt)
}

// EventTypes godoc
// @Summary     Реестр типов событий
// @Description Зарегистрированные типы, адресаты и правила валидации payload (без секретов)
// @Produce     json
// @Success     200   {array}  entity.EventTypeResponse
// @tags        Registry
// @Router      /event-types [get]
func (h *HandlerImpl) EventTypes(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(h.usecase.EventTypes())
}

// RunRelay godoc
// @Summary     Один проход релея
// @Description Захватывает и доставляет готовые события; для развертываний без фонового цикла
// @Produce     json
// @Success     200
// @Failure     503
// @tags        Relay
// @Router      /relay/run [post]
func (h *HandlerImpl) RunRelay(c *fiber.Ctx) error {
	n, err := h.usecase.RunRelay(c.Context())
	if err != nil {
		return appers.SanitizeError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"processed": n})
}
