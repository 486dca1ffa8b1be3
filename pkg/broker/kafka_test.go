package broker

import (
	"context"
	"testing"

	"integrations/pkg/config"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestSplitBrokers(t *testing.T) {
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, splitBrokers(" k1:9092, ,k2:9092 "))
	assert.Empty(t, splitBrokers(""))
}

func TestHealthCheckNotConfigured(t *testing.T) {
	var kb *KafkaBroker
	assert.Error(t, kb.HealthCheck(context.Background()))
	assert.Error(t, (&KafkaBroker{}).HealthCheck(context.Background()))
	kb.Close()
}

func TestClientConfigsUseOwnCredentials(t *testing.T) {
	conf := config.Kafka{
		Brokers:      "k1:9092",
		ReaderUsr:    "reader",
		ReaderUsrPwd: "r-secret",
		WriterUsr:    "writer",
		WriterUsrPwd: "w-secret",
	}

	cc := consumerConfig(conf)
	assert.True(t, cc.Net.SASL.Enable)
	assert.Equal(t, "reader", cc.Net.SASL.User)
	assert.Equal(t, sarama.OffsetOldest, cc.Consumer.Offsets.Initial)
	assert.NoError(t, cc.Validate())

	pc := producerConfig(conf)
	assert.Equal(t, "writer", pc.Net.SASL.User)
	assert.Equal(t, sarama.WaitForAll, pc.Producer.RequiredAcks)
	assert.True(t, pc.Producer.Return.Successes)
	assert.Zero(t, pc.Producer.Retry.Max)
	assert.NoError(t, pc.Validate())
}

func TestClientConfigsWithoutCredentials(t *testing.T) {
	conf := config.Kafka{Brokers: "k1:9092", ReaderUsr: "reader"}

	assert.False(t, consumerConfig(conf).Net.SASL.Enable, "user without password")
	assert.False(t, producerConfig(conf).Net.SASL.Enable)
}

func TestNewKafkaBrokerRequiresBrokers(t *testing.T) {
	_, err := NewKafkaBroker(config.Kafka{Brokers: " , "}, zap.NewNop().Sugar())
	assert.Error(t, err)
}
