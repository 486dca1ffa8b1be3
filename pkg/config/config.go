package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

type Config struct {
	Server       Server      `mapstructure:"server"`
	Postgres     Postgres    `mapstructure:"postgres"`
	Storage      Storage     `mapstructure:"storage"`
	Redis        Redis       `mapstructure:"redis"`
	Broker       Broker      `mapstructure:"broker"`
	Cron         Cron        `mapstructure:"cron"`
	Relay        RelayConfig `mapstructure:"relay"`
	HTTPClient   HTTPClient  `mapstructure:"httpClient"`
	EventTypes   EventTypes  `mapstructure:"eventTypes"`
	RateLimit    RateLimit   `mapstructure:"rateLimit"`
	Tracing      Tracing     `mapstructure:"tracing"`
	LoggingLevel string      `mapstructure:"logging-level"`
	NodeID       int64       `mapstructure:"nodeId"` // snowflake node для id логов, 0..1023
}

type Server struct {
	Port          string `mapstructure:"port"`
	SwaggerUrl    string `mapstructure:"swagger_json"`
	SwaggerHost   string `mapstructure:"swagger_host"`
	SwaggerSchema string `mapstructure:"swagger_schema"`
	BodyLimit     int    `mapstructure:"body_limit"`
	// Заголовок, в котором внешний auth-шлюз передает tenant (empresa_id)
	TenantHeader string `mapstructure:"tenant_header"`
	AllowOrigins string `mapstructure:"allow_origins"`
}

type Postgres struct {
	ConnString     string `mapstructure:"conn_string"`
	MaxConnections int32  `mapstructure:"max_connections"`
	MigrationsDir  string `mapstructure:"migrations_dir"`
}

type Storage struct {
	Driver string `mapstructure:"driver"` // postgres | memory
}

type Redis struct {
	Addr          string `mapstructure:"addr"`
	Password      string `mapstructure:"password"`
	DB            int    `mapstructure:"db"`
	ChannelPrefix string `mapstructure:"channelPrefix"`
}

func (r Redis) Enabled() bool { return r.Addr != "" }

type Broker struct {
	Kafka Kafka `mapstructure:"kafka"`
}

type Kafka struct {
	Brokers       string `mapstructure:"brokers"`
	ConsumerGroup string `mapstructure:"consumerGroup"`
	ReaderTopic   string `mapstructure:"readerTopic"`
	ReaderUsr     string `mapstructure:"readerUsr"`
	ReaderUsrPwd  string `mapstructure:"readerUsrPwd"`
	WriterTopic   string `mapstructure:"writerTopic"`
	WriterUsr     string `mapstructure:"writerUsr"`
	WriterUsrPwd  string `mapstructure:"writerUsrPwd"`
	MaxAttempts   int    `mapstructure:"maxAttempts"`
}

// Enabled - kafka поднимается только если указаны брокеры
func (k Kafka) Enabled() bool { return strings.TrimSpace(k.Brokers) != "" }

type Cron struct {
	// Расписание в формате cron с секундами ("0 */1 * * * *") или интервал ("@every 30s").
	// Приоритет: если указан Schedule, используется он, иначе Interval
	ReclaimSchedule string `mapstructure:"reclaimSchedule"`
	ReclaimInterval string `mapstructure:"reclaimInterval"`
	BacklogInterval string `mapstructure:"backlogInterval"`
}

type RelayConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Workers    int           `mapstructure:"workers"`
	BatchSize  int           `mapstructure:"batchSize"`
	Lease      time.Duration `mapstructure:"lease"` // сколько событие может висеть в processing
	PollPeriod time.Duration `mapstructure:"pollPeriod"`
	WorkerID   string        `mapstructure:"workerId"`
}

type HTTPClient struct {
	//конфиг клиента
	ConnectTimeout        time.Duration `mapstructure:"connectTimeout"`        // TCP коннект
	TLSHandshakeTimeout   time.Duration `mapstructure:"TLSHandshakeTimeout"`   // TLS рукопожатие
	ResponseHeaderTimeout time.Duration `mapstructure:"responseHeaderTimeout"` // ожидание заголовков ответа
	ExpectContinueTimeout time.Duration `mapstructure:"expectContinueTimeout"` // 100-continue

	// Пул соединений
	IdleConnTimeout     time.Duration `mapstructure:"idleConnTimeout"`
	MaxIdleConns        int           `mapstructure:"maxIdleConns"`
	MaxIdleConnsPerHost int           `mapstructure:"maxIdleConnsPerHost"`
	MaxConnsPerHost     int           `mapstructure:"maxConnsPerHost"`
	KeepAlives          bool          `mapstructure:"keepAlives"`

	// Общий таймаут клиента. 0 - контролируем дедлайном через context.
	ClientTimeout time.Duration `mapstructure:"clientTimeout"`

	UserAgent string `mapstructure:"userAgent"`

	// SSL/TLS настройки
	InsecureSkipVerify bool `mapstructure:"insecureSkipVerify"` // отключить проверку SSL сертификатов
	// Запрет на доставку во внутренние сети (loopback, private, link-local)
	DenyPrivateNetworks bool `mapstructure:"denyPrivateNetworks"`
}

type EventTypes struct {
	Path string `mapstructure:"path"`
}

type RateLimit struct {
	RPS   float64 `mapstructure:"rps"` // 0 - без ограничений
	Burst int     `mapstructure:"burst"`
}

type Tracing struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"serviceName"`
}

func NewConfig() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	// Настраиваем замену точек и дефисов на подчеркивания для переменных окружения
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")

	setDefaults(v)

	var conf Config
	err := v.ReadInConfig()
	// Игнорируем ошибку, если файл не найден - используем только переменные окружения
	if err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return conf, err
		}
	}

	if err = v.Unmarshal(&conf); err != nil {
		return conf, err
	}

	return conf, conf.Validate()
}

// setDefaults регистрирует все ключи: без этого AutomaticEnv не подхватит вложенные поля при Unmarshal
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.swagger_json", "/swagger/doc.json")
	v.SetDefault("server.swagger_host", "localhost:8080")
	v.SetDefault("server.swagger_schema", "http")
	v.SetDefault("server.body_limit", 1024*1024)
	v.SetDefault("server.tenant_header", "X-Tenant-ID")
	v.SetDefault("server.allow_origins", "*")

	v.SetDefault("postgres.conn_string", "")
	v.SetDefault("postgres.max_connections", 10)
	v.SetDefault("postgres.migrations_dir", "resources/migrations")

	v.SetDefault("storage.driver", StorageDriverPostgres)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channelPrefix", "integration-events:")

	v.SetDefault("broker.kafka.brokers", "")
	v.SetDefault("broker.kafka.consumerGroup", "integrations-emitter")
	v.SetDefault("broker.kafka.readerTopic", "integration-events.emit")
	v.SetDefault("broker.kafka.readerUsr", "")
	v.SetDefault("broker.kafka.readerUsrPwd", "")
	v.SetDefault("broker.kafka.writerTopic", "integration-events.status")
	v.SetDefault("broker.kafka.writerUsr", "")
	v.SetDefault("broker.kafka.writerUsrPwd", "")
	v.SetDefault("broker.kafka.maxAttempts", 3)

	v.SetDefault("cron.reclaimSchedule", "")
	v.SetDefault("cron.reclaimInterval", "@every 30s")
	v.SetDefault("cron.backlogInterval", "@every 15s")

	v.SetDefault("relay.enabled", true)
	v.SetDefault("relay.workers", 4)
	v.SetDefault("relay.batchSize", 50)
	v.SetDefault("relay.lease", 2*time.Minute)
	v.SetDefault("relay.pollPeriod", 2*time.Second)
	v.SetDefault("relay.workerId", "")

	v.SetDefault("httpClient.connectTimeout", 5*time.Second)
	v.SetDefault("httpClient.TLSHandshakeTimeout", 5*time.Second)
	v.SetDefault("httpClient.responseHeaderTimeout", 30*time.Second)
	v.SetDefault("httpClient.expectContinueTimeout", time.Second)
	v.SetDefault("httpClient.idleConnTimeout", 90*time.Second)
	v.SetDefault("httpClient.maxIdleConns", 100)
	v.SetDefault("httpClient.maxIdleConnsPerHost", 10)
	v.SetDefault("httpClient.maxConnsPerHost", 50)
	v.SetDefault("httpClient.keepAlives", true)
	v.SetDefault("httpClient.clientTimeout", 0)
	v.SetDefault("httpClient.userAgent", "integrations-relay/1.0")
	v.SetDefault("httpClient.insecureSkipVerify", false)
	v.SetDefault("httpClient.denyPrivateNetworks", false)

	v.SetDefault("eventTypes.path", "resources/event-types.yaml")

	v.SetDefault("rateLimit.rps", 50)
	v.SetDefault("rateLimit.burst", 100)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.serviceName", "integrations")

	v.SetDefault("logging-level", "info")
	v.SetDefault("nodeId", 1)
}

func (c Config) Validate() error {
	var errs []error

	switch c.Storage.Driver {
	case StorageDriverPostgres:
		if c.Postgres.ConnString == "" {
			errs = append(errs, errors.New("postgres.conn_string is required for postgres storage"))
		}
	case StorageDriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}

	if c.Relay.Workers < 1 {
		errs = append(errs, errors.New("relay.workers must be >= 1"))
	}
	if c.Relay.BatchSize < 1 {
		errs = append(errs, errors.New("relay.batchSize must be >= 1"))
	}
	if c.Relay.Lease <= 0 {
		errs = append(errs, errors.New("relay.lease must be positive"))
	} else if c.HTTPClient.ClientTimeout > 0 && c.Relay.Lease <= c.HTTPClient.ClientTimeout {
		// иначе reclaimer снимает событие посреди еще идущей отправки
		errs = append(errs, fmt.Errorf("relay.lease %s must be greater than httpClient.clientTimeout %s",
			c.Relay.Lease, c.HTTPClient.ClientTimeout))
	}
	if c.Relay.PollPeriod <= 0 {
		errs = append(errs, errors.New("relay.pollPeriod must be positive"))
	}
	if c.NodeID < 0 || c.NodeID > 1023 {
		errs = append(errs, fmt.Errorf("nodeId %d out of range 0..1023", c.NodeID))
	}
	if c.RateLimit.RPS < 0 {
		errs = append(errs, errors.New("rateLimit.rps must not be negative"))
	}

	return errors.Join(errs...)
}
