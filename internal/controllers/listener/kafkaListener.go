package listener

import (
	"time"

	use_cases "integrations/internal/application/use-cases"
	"integrations/pkg/metrics"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// KafkaBrokerConsumer - sarama.ConsumerGroupHandler для команд emit
type KafkaBrokerConsumer struct {
	usecase use_cases.UseCaser
	logger  *zap.SugaredLogger
	m       *metrics.Metrics
}

func NewKafkaBrokerConsumer(usecase use_cases.UseCaser, logger *zap.SugaredLogger, m *metrics.Metrics) *KafkaBrokerConsumer {
	return &KafkaBrokerConsumer{
		logger:  logger,
		usecase: usecase,
		m:       m,
	}
}

func (k *KafkaBrokerConsumer) Setup(session sarama.ConsumerGroupSession) error {
	k.logger.Infof("Kafka setup: member %s, generation %d, claims %v", session.MemberID(), session.GenerationID(), session.Claims())
	k.rebalance("setup")
	return nil
}

func (k *KafkaBrokerConsumer) Cleanup(session sarama.ConsumerGroupSession) error {
	k.logger.Infof("Kafka cleanup: member %s", session.MemberID())
	k.rebalance("cleanup")
	return nil
}

func (k *KafkaBrokerConsumer) rebalance(event string) {
	if k.m != nil {
		k.m.Kafka.ConsumerRebalancesTotal.WithLabelValues(event).Inc()
	}
}

// ConsumeClaim обрабатывает сообщения партиции по одному. Оффсет отмечается только
// после записи события в хранилище либо после решения его пропустить.
func (k *KafkaBrokerConsumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	topic := claim.Topic()

	for {
		select {
		case <-session.Context().Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := k.handle(session, topic, msg); err != nil {
				// оффсет не коммитим: после ребаланса сообщение придет снова
				return err
			}
		}
	}
}

func (k *KafkaBrokerConsumer) handle(session sarama.ConsumerGroupSession, topic string, msg *sarama.ConsumerMessage) error {
	if k.m != nil {
		k.m.Kafka.ConsumerInFlight.WithLabelValues(topic).Inc()
		defer k.m.Kafka.ConsumerInFlight.WithLabelValues(topic).Dec()
	}
	start := time.Now()
	k.logger.Debugf("Message topic:%q partition:%d offset:%d", msg.Topic, msg.Partition, msg.Offset)

	result, err := k.usecase.ConsumerMessage(session.Context(), msg.Value, msg.Timestamp)

	if k.m != nil {
		k.m.Kafka.ConsumerMessagesTotal.WithLabelValues(topic, string(result)).Inc()
		k.m.Kafka.ConsumerProcessDuration.WithLabelValues(topic).Observe(time.Since(start).Seconds())
	}

	if err != nil {
		k.logger.Errorf("message partition %d offset %d not processed: %v", msg.Partition, msg.Offset, err)
		return err
	}
	session.MarkMessage(msg, "")
	return nil
}
