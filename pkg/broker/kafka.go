package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"integrations/pkg/config"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

const (
	_defaultConsumerGroup = "integrations-emitter"
	healthCheckTimeout    = 2 * time.Second
)

// KafkaBroker держит consumer group для входящих команд emit
// и sync producer для переходов статусов
type KafkaBroker struct {
	ConsumerTopic string
	ProducerTopic string
	ConsumerGroup sarama.ConsumerGroup
	SyncProducer  sarama.SyncProducer
	Brokers       []string
	// для health check берутся учетные данные producer, а без них consumer
	probeAuth credentials
	logger    *zap.SugaredLogger
}

// credentials - SASL/PLAIN; пустой user - без аутентификации
type credentials struct {
	user     string
	password string
}

func (c credentials) apply(cfg *sarama.Config) {
	if c.user == "" || c.password == "" {
		return
	}
	cfg.Net.SASL.Enable = true
	cfg.Net.SASL.Mechanism = sarama.SASLTypePlaintext
	cfg.Net.SASL.User = c.user
	cfg.Net.SASL.Password = c.password
}

func readerAuth(conf config.Kafka) credentials {
	return credentials{user: conf.ReaderUsr, password: conf.ReaderUsrPwd}
}

func writerAuth(conf config.Kafka) credentials {
	return credentials{user: conf.WriterUsr, password: conf.WriterUsrPwd}
}

func NewKafkaBroker(conf config.Kafka, logger *zap.SugaredLogger) (*KafkaBroker, error) {
	brokers := splitBrokers(conf.Brokers)
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are not configured")
	}

	group := conf.ConsumerGroup
	if group == "" {
		group = _defaultConsumerGroup
	}

	logger.Debugf("создание consumer group %s для brokers: %v", group, brokers)
	consumerGroup, err := sarama.NewConsumerGroup(brokers, group, consumerConfig(conf))
	if err != nil {
		return nil, fmt.Errorf("ошибка при создании Kafka Consumer Group: %w", err)
	}

	syncProducer, err := sarama.NewSyncProducer(brokers, producerConfig(conf))
	if err != nil {
		_ = consumerGroup.Close()
		return nil, fmt.Errorf("ошибка при создании Kafka Sync Producer: %w", err)
	}

	probe := writerAuth(conf)
	if probe.user == "" {
		probe = readerAuth(conf)
	}

	kb := &KafkaBroker{
		ConsumerTopic: conf.ReaderTopic,
		ProducerTopic: conf.WriterTopic,
		ConsumerGroup: consumerGroup,
		SyncProducer:  syncProducer,
		Brokers:       brokers,
		probeAuth:     probe,
		logger:        logger,
	}
	logger.Infow("kafka подключена", "consumer_topic", kb.ConsumerTopic, "producer_topic", kb.ProducerTopic, "group", group)
	return kb, nil
}

// consumerConfig: команды emit идемпотентны по idempotency_key, поэтому новая группа читает с начала
func consumerConfig(conf config.Kafka) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	readerAuth(conf).apply(cfg)
	return cfg
}

// producerConfig: ретраи делает KafkaProducer сам, с бэкоффом и метриками по попыткам
func producerConfig(conf config.Kafka) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 15 * time.Second
	cfg.Net.WriteTimeout = 15 * time.Second
	cfg.Net.KeepAlive = 30 * time.Second
	cfg.Metadata.Timeout = 10 * time.Second
	cfg.Metadata.Retry.Max = 1
	cfg.Metadata.RefreshFrequency = time.Minute

	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.Retry.Max = 0
	cfg.Producer.Timeout = 10 * time.Second
	// ключ - correlation_id, переходы одного события в одной партиции
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	writerAuth(conf).apply(cfg)
	return cfg
}

// HealthCheck открывает короткоживущий клиент и смотрит, что брокеры отвечают.
// Partitions() не вызывается: ACL стенда может не давать Describe.
func (kb *KafkaBroker) HealthCheck(ctx context.Context) error {
	if kb == nil {
		return errors.New("kafka broker is not configured")
	}
	if kb.SyncProducer == nil || kb.ConsumerGroup == nil {
		return errors.New("kafka broker is not initialized")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	cfg := sarama.NewConfig()
	cfg.Net.DialTimeout = healthCheckTimeout
	cfg.Net.ReadTimeout = healthCheckTimeout
	cfg.Net.WriteTimeout = healthCheckTimeout
	cfg.Metadata.Timeout = healthCheckTimeout
	cfg.Metadata.Retry.Max = 1
	kb.probeAuth.apply(cfg)

	client, err := sarama.NewClient(kb.Brokers, cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to kafka brokers: %w", err)
	}
	defer client.Close()

	if len(client.Brokers()) == 0 {
		return errors.New("no kafka brokers available")
	}
	return nil
}

// Close закрывает producer и consumer group; ошибки закрытия только логируются
func (kb *KafkaBroker) Close() {
	if kb == nil {
		return
	}
	if kb.ConsumerGroup != nil {
		if err := kb.ConsumerGroup.Close(); err != nil {
			kb.logger.Warnf("close consumer group: %v", err)
		}
	}
	if kb.SyncProducer != nil {
		if err := kb.SyncProducer.Close(); err != nil {
			kb.logger.Warnf("close producer: %v", err)
		}
	}
}

// EnableSaramaZapLogs направляет внутренний лог sarama в zap на уровне debug
func EnableSaramaZapLogs(base *zap.SugaredLogger) {
	logger := base.Named("sarama")
	sarama.Logger = &zapSarama{logger}
	logger.Info("sarama logger initialized")
}

type zapSarama struct{ l *zap.SugaredLogger }

func (z *zapSarama) Print(v ...interface{})                 { z.l.Debug(v...) }
func (z *zapSarama) Printf(format string, v ...interface{}) { z.l.Debugf(format, v...) }
func (z *zapSarama) Println(v ...interface{})               { z.l.Debug(v...) }

func splitBrokers(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
