package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"integrations/internal/appers"
	"integrations/internal/application/entity"
	"integrations/internal/application/repo"
	"integrations/internal/application/schema"
	"integrations/internal/transport/notify"
	"integrations/pkg/config"
	"integrations/pkg/metrics"
	"integrations/pkg/validator"

	"github.com/gofrs/uuid"
	"go.uber.org/zap"
)

type Service interface {
	Emit(ctx context.Context, tenantID string, req entity.EmitRequest) (*entity.EmitResult, error)
	GetByCorrelationID(ctx context.Context, tenantID string, correlationID uuid.UUID) (*entity.IntegrationEvent, error)
	Subscribe(ctx context.Context, tenantID string, correlationID uuid.UUID, onUpdate func(*entity.IntegrationEvent)) (*Subscription, error)
	List(ctx context.Context, tenantID string, filter entity.ListFilter) ([]*entity.IntegrationEvent, error)
	ListLogs(ctx context.Context, tenantID string, correlationID uuid.UUID) ([]*entity.IntegrationEventLog, error)
	Requeue(ctx context.Context, tenantID string, correlationID uuid.UUID) (*entity.IntegrationEvent, error)
	EventTypes() []entity.EventTypeResponse

	RunRelayOnce(ctx context.Context) (int, error)
	ReclaimStale(ctx context.Context) (int, error)
	RefreshBacklog(ctx context.Context) error

	HealthCheck(ctx context.Context) entity.HealthCheckResponseData
}

// Checks - проверки необязательных зависимостей, nil - компонент не подключен
type Checks struct {
	Kafka func(ctx context.Context) error
	Redis func(ctx context.Context) error
}

type ServiceImpl struct {
	store    repo.EventStore
	registry *schema.Registry
	pub      notify.Publisher
	sub      notify.Subscriber
	relay    *Relay
	checks   Checks
	logger   *zap.SugaredLogger
	m        *metrics.Metrics
	cfg      *config.RelayConfig
	now      func() time.Time
}

func NewService(store repo.EventStore, registry *schema.Registry, pub notify.Publisher, sub notify.Subscriber,
	relay *Relay, checks Checks, logger *zap.SugaredLogger, m *metrics.Metrics, cfg *config.RelayConfig) *ServiceImpl {
	return &ServiceImpl{
		store:    store,
		registry: registry,
		pub:      pub,
		sub:      sub,
		relay:    relay,
		checks:   checks,
		logger:   logger,
		m:        m,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// HealthCheck проверяет доступность БД и подключенных kafka/redis
func (s *ServiceImpl) HealthCheck(ctx context.Context) entity.HealthCheckResponseData {
	data := entity.HealthCheckResponseData{Database: healthItem("event-store", s.store.HealthCheck(ctx))}

	if s.checks.Kafka != nil {
		item := healthItem("kafka", s.checks.Kafka(ctx))
		data.Kafka = &item
	}
	if s.checks.Redis != nil {
		item := healthItem("redis", s.checks.Redis(ctx))
		data.Redis = &item
	}
	return data
}

func healthItem(kind string, err error) entity.HealthCheckItem {
	item := entity.HealthCheckItem{Status: err == nil, Type: kind}
	if err != nil {
		item.Error = err.Error()
	}
	return item
}

// Emit проверяет событие по реестру и ставит его в очередь. Доставка асинхронная,
// вызывающий получает correlation_id сразу после записи.
func (s *ServiceImpl) Emit(ctx context.Context, tenantID string, req entity.EmitRequest) (*entity.EmitResult, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, appers.ErrTenantRequired
	}
	s.logger.Debugf("[tenant %s] Emit %s started", tenantID, req.EventType)

	if err := validator.Validate.Struct(req); err != nil {
		s.countEmit(req.EventType, "invalid")
		return nil, appers.NewValidationError(req.EventType, validator.Details(err)...)
	}

	payload, err := s.registry.Validate(req.EventType, req.Payload)
	if err != nil {
		s.countEmit(req.EventType, "invalid")
		s.logger.Infof("[tenant %s] %s rejected: %v", tenantID, req.EventType, err)
		return nil, err
	}
	def, _ := s.registry.Lookup(req.EventType)

	evt, err := s.newEvent(tenantID, req, def, payload)
	if err != nil {
		s.countEmit(req.EventType, "error")
		return nil, err
	}

	stored, inserted, err := s.store.CreateEvent(ctx, evt)
	if err != nil {
		s.countEmit(req.EventType, "error")
		return nil, err
	}

	result := &entity.EmitResult{
		CorrelationID: stored.CorrelationID,
		Status:        stored.Status,
		CreatedAt:     stored.CreatedAt,
		Duplicate:     !inserted,
	}
	if !inserted {
		s.countEmit(req.EventType, "duplicate")
		return result, nil
	}

	s.countEmit(req.EventType, "accepted")
	s.logger.Infof("[cid %s] queued %s for tenant %s", stored.CorrelationID, stored.EventType, tenantID)
	s.publish(ctx, stored)
	return result, nil
}

func (s *ServiceImpl) newEvent(tenantID string, req entity.EmitRequest, def schema.Definition, payload schema.Payload) (*entity.IntegrationEvent, error) {
	eventID, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("generate event id: %w", err)
	}
	correlationID, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("generate correlation id: %w", err)
	}

	source := strings.TrimSpace(req.Source)
	if source == "" {
		source = def.Source
	}

	now := s.now()
	return &entity.IntegrationEvent{
		ID:             eventID,
		CorrelationID:  correlationID,
		TenantID:       tenantID,
		EventType:      def.Type,
		Payload:        payload.Raw(),
		Status:         entity.StatusQueued,
		MaxRetries:     def.MaxRetries,
		Source:         source,
		Destination:    def.Destination,
		IdempotencyKey: req.IdempotencyKey,
		NextAttemptAt:  now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func (s *ServiceImpl) GetByCorrelationID(ctx context.Context, tenantID string, correlationID uuid.UUID) (*entity.IntegrationEvent, error) {
	if tenantID == "" {
		return nil, appers.ErrTenantRequired
	}
	return s.store.GetByCorrelationID(ctx, tenantID, correlationID)
}

func (s *ServiceImpl) List(ctx context.Context, tenantID string, filter entity.ListFilter) ([]*entity.IntegrationEvent, error) {
	if tenantID == "" {
		return nil, appers.ErrTenantRequired
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, appers.NewValidationError("", fmt.Sprintf("unknown status '%s'", filter.Status))
	}
	return s.store.ListEvents(ctx, tenantID, filter.Normalize())
}

func (s *ServiceImpl) ListLogs(ctx context.Context, tenantID string, correlationID uuid.UUID) ([]*entity.IntegrationEventLog, error) {
	if tenantID == "" {
		return nil, appers.ErrTenantRequired
	}
	return s.store.ListLogs(ctx, tenantID, correlationID)
}

// Requeue - ручной перезапуск события, исчерпавшего попытки. delivered не трогаем.
func (s *ServiceImpl) Requeue(ctx context.Context, tenantID string, correlationID uuid.UUID) (*entity.IntegrationEvent, error) {
	if tenantID == "" {
		return nil, appers.ErrTenantRequired
	}
	evt, err := s.store.Requeue(ctx, tenantID, correlationID, s.now())
	if err != nil {
		return nil, err
	}
	s.publish(ctx, evt)
	return evt, nil
}

func (s *ServiceImpl) EventTypes() []entity.EventTypeResponse {
	defs := s.registry.Definitions()
	out := make([]entity.EventTypeResponse, 0, len(defs))
	for _, d := range defs {
		out = append(out, d.Describe())
	}
	return out
}

func (s *ServiceImpl) RunRelayOnce(ctx context.Context) (int, error) {
	if s.relay == nil {
		return 0, errors.New("relay is not configured")
	}
	return s.relay.RunOnce(ctx)
}

// ReclaimStale снимает события, зависшие в processing дольше lease: упавший воркер
// засчитывается как неудачная попытка
func (s *ServiceImpl) ReclaimStale(ctx context.Context) (int, error) {
	now := s.now()
	events, err := s.store.ReclaimStale(ctx, now.Add(-s.cfg.Lease), now)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	if s.m != nil {
		s.m.Relay.ReclaimedTotal.Add(float64(len(events)))
	}
	for _, e := range events {
		s.logger.Warnf("[cid %s] delivery lease expired, retry %d/%d", e.CorrelationID, e.RetryCount, e.MaxRetries)
		s.publish(ctx, e)
	}
	return len(events), nil
}

// RefreshBacklog обновляет gauge событий по статусам
func (s *ServiceImpl) RefreshBacklog(ctx context.Context) error {
	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		return err
	}
	if s.m == nil {
		return nil
	}
	for status, n := range counts {
		s.m.Relay.EventsByStatus.WithLabelValues(string(status)).Set(float64(n))
	}
	return nil
}

// publish вызывается только после коммита. Ошибка уведомления не откатывает переход:
// подписчик все равно увидит актуальное состояние при следующем чтении.
func (s *ServiceImpl) publish(ctx context.Context, evt *entity.IntegrationEvent) {
	if s.pub == nil || evt == nil {
		return
	}
	if err := s.pub.Publish(context.WithoutCancel(ctx), evt); err != nil {
		s.logger.Warnf("[cid %s] publish status %s failed: %v", evt.CorrelationID, evt.Status, err)
	}
}

func (s *ServiceImpl) countEmit(eventType, result string) {
	if s.m == nil {
		return
	}
	if _, ok := s.registry.Lookup(eventType); !ok {
		// неизвестные типы не плодят серии метрик
		eventType = "unknown"
	}
	s.m.Emitter.EmitTotal.WithLabelValues(eventType, result).Inc()
}
