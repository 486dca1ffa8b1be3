package producer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"integrations/internal/application/common"
	"integrations/internal/application/entity"
	"integrations/pkg/broker"
	"integrations/pkg/metrics"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

type Producer interface {
	ProduceMessage(ctx context.Context, key string, message []byte) error
	HealthCheck(ctx context.Context) error
}

// StatusChanged - сообщение о переходе статуса для внешних наблюдателей
type StatusChanged struct {
	CorrelationID string        `json:"correlation_id"`
	TenantID      string        `json:"tenant_id"`
	EventType     string        `json:"event_type"`
	Status        entity.Status `json:"status"`
	RetryCount    int           `json:"retry_count"`
	MaxRetries    int           `json:"max_retries"`
	ErrorMessage  *string       `json:"error_message,omitempty"`
	Terminal      bool          `json:"terminal"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

type KafkaProducer struct {
	producer    sarama.SyncProducer
	topic       string
	health      func(ctx context.Context) error
	logger      *zap.SugaredLogger
	maxAttempts int
	m           *metrics.Metrics
}

func NewProducer(broker *broker.KafkaBroker, logger *zap.SugaredLogger, maxAttempts int, m *metrics.Metrics) *KafkaProducer {
	p := NewSyncProducer(broker.SyncProducer, broker.ProducerTopic, logger, maxAttempts, m)
	p.health = broker.HealthCheck
	return p
}

// NewSyncProducer - продюсер поверх готового sarama.SyncProducer (в тестах - mocks)
func NewSyncProducer(sp sarama.SyncProducer, topic string, logger *zap.SugaredLogger, maxAttempts int, m *metrics.Metrics) *KafkaProducer {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	return &KafkaProducer{
		producer:    sp,
		topic:       topic,
		logger:      logger,
		maxAttempts: maxAttempts,
		m:           m,
	}
}

// HealthCheck проверяет доступность Kafka через broker
func (p *KafkaProducer) HealthCheck(ctx context.Context) error {
	if p.producer == nil {
		return errors.New("kafka producer is not initialized")
	}
	if p.health == nil {
		return nil
	}
	return p.health(ctx)
}

// Publish - notify.Publisher: переход статуса уходит в топик с ключом correlation_id,
// так что все переходы одного события попадают в одну партицию по порядку
func (p *KafkaProducer) Publish(ctx context.Context, evt *entity.IntegrationEvent) error {
	msg, err := json.Marshal(StatusChanged{
		CorrelationID: evt.CorrelationID.String(),
		TenantID:      evt.TenantID,
		EventType:     evt.EventType,
		Status:        evt.Status,
		RetryCount:    evt.RetryCount,
		MaxRetries:    evt.MaxRetries,
		ErrorMessage:  evt.ErrorMessage,
		Terminal:      evt.IsTerminal(),
		UpdatedAt:     evt.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("encode status message: %w", err)
	}
	return p.ProduceMessage(ctx, evt.CorrelationID.String(), msg)
}

func (p *KafkaProducer) ProduceMessage(ctx context.Context, key string, message []byte) error {
	topic := p.topic
	var lastErr error

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg := &sarama.ProducerMessage{
			Topic:     topic,
			Key:       sarama.StringEncoder(key),
			Value:     sarama.ByteEncoder(message),
			Timestamp: time.Now(),
		}

		t0 := time.Now()
		part, off, err := p.producer.SendMessage(msg)
		rt := time.Since(t0)

		//Metric: attempt latency: ok/error
		if p.m != nil {
			res := "ok"
			if err != nil {
				res = "error"
			}
			p.m.Kafka.ProducerAttemptLatencySeconds.WithLabelValues(topic, res).Observe(rt.Seconds())
		}

		if err == nil {
			if p.m != nil {
				p.m.Kafka.ProducerOperationsTotal.WithLabelValues(topic, "success").Inc()
				p.m.Kafka.ProducerSuccessAttempts.WithLabelValues(topic).Observe(float64(attempt))
			}
			p.logger.Debugf("[cid %s] sent topic=%s partition=%d offset=%d attempt=%d rt=%s",
				key, topic, part, off, attempt, rt)
			return nil
		}

		lastErr = err

		var kerr sarama.KError
		if errors.As(err, &kerr) {
			if isPermanent(kerr) {
				if p.m != nil {
					p.m.Kafka.ProducerOperationsTotal.WithLabelValues(topic, "permanent").Inc()
				}
				p.logger.Errorf("[cid %s] permanent kafka error attempt=%d rt=%s kafka_error=%s code=%d", key, attempt, rt, kerr.Error(), int16(kerr))
				return fmt.Errorf("permanent kafka error: %w", kerr)
			}

			p.logger.Warnf("[cid %s] retryable kafka error attempt=%d rt=%s reason=%s",
				key, attempt, rt, ClassifyRetry(err))
		} else {
			p.logger.Warnf("[cid %s] retryable non-kafka error attempt=%d rt=%s reason=%s err=%v",
				key, attempt, rt, ClassifyRetry(err), err)
		}

		if attempt == p.maxAttempts {
			break
		}

		if err := common.SleepCtx(ctx, common.NextBackoffWithJitter(attempt-1)); err != nil {
			// отмена/таймаут контекста считаем как canceled
			if p.m != nil {
				p.m.Kafka.ProducerOperationsTotal.WithLabelValues(topic, "canceled").Inc()
			}
			return err
		}
	}
	if p.m != nil {
		p.m.Kafka.ProducerOperationsTotal.WithLabelValues(topic, "failed").Inc()
	}
	p.logger.Errorf("[cid %s] produce_failed after %d attempts: %v", key, p.maxAttempts, lastErr)
	return fmt.Errorf("produce failed after %d attempts: %w", p.maxAttempts, lastErr)
}

func isPermanent(k sarama.KError) bool {
	switch k {
	case sarama.ErrTopicAuthorizationFailed,
		sarama.ErrClusterAuthorizationFailed,
		sarama.ErrInvalidRequest,
		sarama.ErrInvalidMessage,
		sarama.ErrMessageSizeTooLarge,
		sarama.ErrSASLAuthenticationFailed:
		return true
	default:
		return false
	}
}

func ClassifyRetry(err error) string {
	var k sarama.KError
	if errors.As(err, &k) {
		switch k {
		case sarama.ErrLeaderNotAvailable:
			return "leader_not_available"
		case sarama.ErrRequestTimedOut:
			return "broker_timeout"
		case sarama.ErrNotEnoughReplicas, sarama.ErrNotEnoughReplicasAfterAppend:
			return "not_enough_replicas"
		default:
			return k.Error()
		}
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return "net_timeout"
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return "client_deadline"
	}
	return "other"
}
