package use_cases

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"integrations/internal/appers"
	"integrations/internal/application/common"
	"integrations/internal/application/entity"
	"integrations/internal/application/service"
	"integrations/pkg/config"
	"integrations/pkg/validator"

	"github.com/gofrs/uuid"
	"go.uber.org/zap"
)

// сколько раз повторяем запись команды из kafka при недоступном хранилище
const consumerStoreAttempts = 3

// ConsumeResult - исход обработки команды из kafka, он же label метрики
type ConsumeResult string

const (
	ConsumeAccepted  ConsumeResult = "accepted"
	ConsumeDuplicate ConsumeResult = "duplicate"
	ConsumeInvalid   ConsumeResult = "invalid"
	ConsumeError     ConsumeResult = "error"
)

type UseCaser interface {
	Emit(ctx context.Context, tenantID string, req entity.EmitRequest) (*entity.EmitResult, error)
	GetEvent(ctx context.Context, tenantID string, correlationID uuid.UUID) (*entity.IntegrationEvent, error)
	SubscribeEvent(ctx context.Context, tenantID string, correlationID uuid.UUID, onUpdate func(*entity.IntegrationEvent)) (*service.Subscription, error)
	ListEvents(ctx context.Context, tenantID string, filter entity.ListFilter) ([]*entity.IntegrationEvent, error)
	ListEventLogs(ctx context.Context, tenantID string, correlationID uuid.UUID) ([]*entity.IntegrationEventLog, error)
	RequeueEvent(ctx context.Context, tenantID string, correlationID uuid.UUID) (*entity.IntegrationEvent, error)
	EventTypes() []entity.EventTypeResponse

	RunRelay(ctx context.Context) (int, error)
	ReclaimStaleEvents(ctx context.Context)
	RefreshBacklog(ctx context.Context)
	ConsumerMessage(ctx context.Context, msg []byte, msgTime time.Time) (ConsumeResult, error)

	HealthCheck(ctx context.Context) entity.HealthCheckResponseData
}

type UseCase struct {
	service service.Service
	logger  *zap.SugaredLogger
	conf    *config.Config
}

func NewUseCase(service service.Service, logger *zap.SugaredLogger, conf *config.Config) *UseCase {
	return &UseCase{
		service: service,
		logger:  logger,
		conf:    conf,
	}
}

func (u *UseCase) HealthCheck(ctx context.Context) entity.HealthCheckResponseData {
	return u.service.HealthCheck(ctx)
}

func (u *UseCase) Emit(ctx context.Context, tenantID string, req entity.EmitRequest) (*entity.EmitResult, error) {
	u.logger.Debugf("[tenant %s] Emit %s started", tenantID, req.EventType)
	return u.service.Emit(ctx, tenantID, req)
}

func (u *UseCase) GetEvent(ctx context.Context, tenantID string, correlationID uuid.UUID) (*entity.IntegrationEvent, error) {
	u.logger.Debugf("[cid %s] GetEvent started", correlationID)
	return u.service.GetByCorrelationID(ctx, tenantID, correlationID)
}

func (u *UseCase) SubscribeEvent(ctx context.Context, tenantID string, correlationID uuid.UUID, onUpdate func(*entity.IntegrationEvent)) (*service.Subscription, error) {
	u.logger.Debugf("[cid %s] Subscribe started", correlationID)
	return u.service.Subscribe(ctx, tenantID, correlationID, onUpdate)
}

func (u *UseCase) ListEvents(ctx context.Context, tenantID string, filter entity.ListFilter) ([]*entity.IntegrationEvent, error) {
	u.logger.Debugf("[tenant %s] ListEvents %+v", tenantID, filter)
	return u.service.List(ctx, tenantID, filter)
}

func (u *UseCase) ListEventLogs(ctx context.Context, tenantID string, correlationID uuid.UUID) ([]*entity.IntegrationEventLog, error) {
	u.logger.Debugf("[cid %s] ListEventLogs started", correlationID)
	return u.service.ListLogs(ctx, tenantID, correlationID)
}

func (u *UseCase) RequeueEvent(ctx context.Context, tenantID string, correlationID uuid.UUID) (*entity.IntegrationEvent, error) {
	u.logger.Infof("[cid %s] requeue requested by tenant %s", correlationID, tenantID)
	return u.service.Requeue(ctx, tenantID, correlationID)
}

func (u *UseCase) EventTypes() []entity.EventTypeResponse {
	return u.service.EventTypes()
}

func (u *UseCase) RunRelay(ctx context.Context) (int, error) {
	u.logger.Debug("manual relay pass")
	return u.service.RunRelayOnce(ctx)
}

func (u *UseCase) ReclaimStaleEvents(ctx context.Context) {
	n, err := u.service.ReclaimStale(ctx)
	if err != nil {
		u.logger.Errorf("reclaim stale events failed: %v", err)
		return
	}
	if n > 0 {
		u.logger.Infof("reclaimed %d events with expired lease (%s)", n, u.conf.Relay.Lease)
	}
}

func (u *UseCase) RefreshBacklog(ctx context.Context) {
	if err := u.service.RefreshBacklog(ctx); err != nil {
		u.logger.Warnf("refresh backlog gauge failed: %v", err)
	}
}

// ConsumerMessage - команда emit из kafka. Невалидные сообщения пропускаем (повтор не поможет),
// ошибки хранилища повторяем с backoff, после чего возвращаем ошибку слушателю.
func (u *UseCase) ConsumerMessage(ctx context.Context, msg []byte, msgTime time.Time) (ConsumeResult, error) {
	u.logger.Debugf("consumer message: %s, lag: %v", msg, time.Since(msgTime))

	var cmd entity.EmitCommand
	if err := json.Unmarshal(msg, &cmd); err != nil {
		u.logger.Warnf("skip malformed emit command: %v", err)
		return ConsumeInvalid, nil
	}
	if err := validator.Validate.Struct(cmd); err != nil {
		u.logger.Warnf("skip invalid emit command: %v", validator.Details(err))
		return ConsumeInvalid, nil
	}

	var lastErr error
	for attempt := 0; attempt < consumerStoreAttempts; attempt++ {
		res, err := u.service.Emit(ctx, cmd.TenantID, cmd.EmitRequest)
		if err == nil {
			u.logger.Infof("[cid %s] emitted from kafka, tenant %s, duplicate=%t", res.CorrelationID, cmd.TenantID, res.Duplicate)
			if res.Duplicate {
				return ConsumeDuplicate, nil
			}
			return ConsumeAccepted, nil
		}

		var storageErr *appers.StorageError
		if !errors.As(err, &storageErr) {
			u.logger.Warnf("[tenant %s] skip rejected emit command %s: %v", cmd.TenantID, cmd.EventType, err)
			return ConsumeInvalid, nil
		}

		lastErr = err
		u.logger.Warnf("[tenant %s] emit attempt %d failed: %v", cmd.TenantID, attempt+1, err)
		if attempt+1 < consumerStoreAttempts {
			if err := common.SleepCtx(ctx, common.NextBackoffWithJitter(attempt)); err != nil {
				return ConsumeError, err
			}
		}
	}
	return ConsumeError, fmt.Errorf("emit from kafka after %d attempts: %w", consumerStoreAttempts, lastErr)
}
