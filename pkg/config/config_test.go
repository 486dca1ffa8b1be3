package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaults(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "memory")

	conf, err := NewConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", conf.Server.Port)
	assert.Equal(t, "X-Tenant-ID", conf.Server.TenantHeader)
	assert.Equal(t, StorageDriverMemory, conf.Storage.Driver)
	assert.Equal(t, 4, conf.Relay.Workers)
	assert.Equal(t, 50, conf.Relay.BatchSize)
	assert.Equal(t, 2*time.Minute, conf.Relay.Lease)
	assert.True(t, conf.Relay.Enabled)
	assert.Equal(t, "resources/event-types.yaml", conf.EventTypes.Path)
	assert.False(t, conf.Broker.Kafka.Enabled())
	assert.False(t, conf.Redis.Enabled())
}

func TestNewConfigFromEnv(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("RELAY_WORKERS", "8")
	t.Setenv("RELAY_POLLPERIOD", "500ms")
	t.Setenv("BROKER_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("LOGGING_LEVEL", "debug")

	conf, err := NewConfig()
	require.NoError(t, err)

	assert.Equal(t, 8, conf.Relay.Workers)
	assert.Equal(t, 500*time.Millisecond, conf.Relay.PollPeriod)
	assert.True(t, conf.Broker.Kafka.Enabled())
	assert.True(t, conf.Redis.Enabled())
	assert.Equal(t, "debug", conf.LoggingLevel)
}

func TestValidate(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "postgres")

	_, err := NewConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres.conn_string")

	conf := Config{
		Storage: Storage{Driver: "mongo"},
		Relay:   RelayConfig{Workers: 0, BatchSize: 1, Lease: time.Second, PollPeriod: time.Second},
		NodeID:  2048,
	}
	err = conf.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown storage.driver")
	assert.Contains(t, err.Error(), "relay.workers")
	assert.Contains(t, err.Error(), "nodeId")
}

func TestValidateLeaseAgainstClientTimeout(t *testing.T) {
	conf := Config{
		Storage:    Storage{Driver: StorageDriverMemory},
		Relay:      RelayConfig{Workers: 1, BatchSize: 1, Lease: 30 * time.Second, PollPeriod: time.Second},
		HTTPClient: HTTPClient{ClientTimeout: 30 * time.Second},
	}
	err := conf.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "httpClient.clientTimeout")

	conf.Relay.Lease = time.Minute
	assert.NoError(t, conf.Validate())
}
