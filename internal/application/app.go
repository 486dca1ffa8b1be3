package application

import (
	"context"
	"fmt"

	"integrations/internal/application/common"
	"integrations/internal/application/repo"
	"integrations/internal/application/repo/memory"
	"integrations/internal/application/schema"
	"integrations/internal/application/service"
	use_cases "integrations/internal/application/use-cases"
	"integrations/internal/controllers/cron"
	"integrations/internal/controllers/handler"
	"integrations/internal/controllers/listener"
	"integrations/internal/transport/notify"
	"integrations/internal/transport/producer"
	"integrations/internal/transport/webhook"
	"integrations/pkg/broker"
	"integrations/pkg/config"
	"integrations/pkg/db"
	"integrations/pkg/httpclient"
	"integrations/pkg/metrics"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type App struct {
	ctx            context.Context
	conf           *config.Config
	logger         *zap.SugaredLogger
	postgres       *db.Postgres
	redis          *redis.Client
	httpServer     *fiber.App
	httpClient     *httpclient.Client
	kafka          *broker.KafkaBroker
	relay          *service.Relay
	cronController *cron.Controller
}

// NewApp собирает сервис. postgres и kafkaBroker могут быть nil:
// без postgres используется хранилище в памяти, без kafka нет ни consumer, ни статусов в топик.
func NewApp(
	ctx context.Context,
	conf *config.Config,
	logger *zap.SugaredLogger,
	postgres *db.Postgres,
	httpServer *fiber.App,
	kafkaBroker *broker.KafkaBroker,
	m *metrics.Metrics) (*App, error) {
	//Логируем версию приложения
	logger.Infof("Запуск Integrations Service версии: %s", common.Version)

	registry, err := schema.Load(conf.EventTypes.Path)
	if err != nil {
		return nil, fmt.Errorf("load event types: %w", err)
	}
	logger.Infof("загружено типов событий: %d", len(registry.Definitions()))
	if err := registry.CheckLease(conf.Relay.Lease); err != nil {
		return nil, err
	}

	var store repo.EventStore
	if postgres != nil {
		store = repo.NewPostgresStore(postgres, logger, m)
	} else {
		logger.Warn("postgres не настроен, события хранятся в памяти процесса")
		store = memory.New()
	}

	app := &App{
		ctx:        ctx,
		conf:       conf,
		logger:     logger,
		postgres:   postgres,
		httpServer: httpServer,
		kafka:      kafkaBroker,
	}

	var (
		checks   service.Checks
		notifier notify.Notifier
	)
	if conf.Redis.Enabled() {
		app.redis = redis.NewClient(&redis.Options{
			Addr:     conf.Redis.Addr,
			Password: conf.Redis.Password,
			DB:       conf.Redis.DB,
		})
		redisHub := notify.NewRedisHub(app.redis, conf.Redis.ChannelPrefix, logger)
		checks.Redis = redisHub.HealthCheck
		notifier = redisHub
	} else {
		notifier = notify.NewHub()
	}

	publishers := notify.MultiPublisher{notifier}
	if kafkaBroker != nil {
		kafkaProducer := producer.NewProducer(kafkaBroker, logger, conf.Broker.Kafka.MaxAttempts, m)
		publishers = append(publishers, kafkaProducer)
		checks.Kafka = kafkaBroker.HealthCheck
	}

	app.httpClient = httpclient.NewClient(conf.HTTPClient)
	sender := webhook.NewSender(app.httpClient, logger)

	relay := service.NewRelay(store, registry, sender, publishers, logger, m, &conf.Relay)
	srv := service.NewService(store, registry, publishers, notifier, relay, checks, logger, m, &conf.Relay)
	uc := use_cases.NewUseCase(srv, logger, conf)
	h := handler.NewEventHandler(uc, logger)
	r := handler.NewRouter(h, httpServer, conf, m, logger)

	// Инициализация cron контроллера
	cronController := cron.NewController(ctx, logger)
	if err := cronController.RegisterReclaimJob(uc, conf.Cron); err != nil {
		return nil, fmt.Errorf("не удалось зарегистрировать cron задачу reclaim: %w", err)
	}
	if err := cronController.RegisterBacklogJob(uc, conf.Cron); err != nil {
		return nil, fmt.Errorf("не удалось зарегистрировать cron задачу backlog: %w", err)
	}
	cronController.Start()
	app.cronController = cronController

	if conf.Relay.Enabled {
		relay.Start(ctx)
	} else {
		logger.Info("фоновый релей выключен, доставка только через POST /relay/run")
	}
	app.relay = relay

	r.RegisterRouter()

	if kafkaBroker != nil {
		go app.runConsumer(ctx, logger, uc, kafkaBroker, m)
	}

	return app, nil
}

func (a *App) Run() error {
	return a.httpServer.Listen(fmt.Sprintf(":%s", a.conf.Server.Port))
}

// Shutdown: сначала перестаем принимать запросы, затем дожидаемся начатых доставок
func (a *App) Shutdown() error {
	err := a.httpServer.Shutdown()

	// Останавливаем cron задачи
	if a.cronController != nil {
		a.cronController.Stop()
	}
	if a.relay != nil {
		a.relay.Stop()
	}
	if a.kafka != nil {
		a.kafka.Close()
	}
	if a.redis != nil {
		if cerr := a.redis.Close(); cerr != nil {
			a.logger.Warnf("close redis: %v", cerr)
		}
	}
	if a.httpClient != nil {
		a.httpClient.CloseIdle()
	}
	return err
}

func (a *App) runConsumer(ctx context.Context, logger *zap.SugaredLogger, usecase use_cases.UseCaser, kafkaBroker *broker.KafkaBroker, m *metrics.Metrics) {
	logger.Infof("Запуск consumer для топика: %s", kafkaBroker.ConsumerTopic)
	m.Go.InternalGoroutines.WithLabelValues("kafka_consumer").Inc()
	defer m.Go.InternalGoroutines.WithLabelValues("kafka_consumer").Dec()

	kafkaBrokerConsumer := listener.NewKafkaBrokerConsumer(usecase, logger, m)

	for {
		logger.Infof("Попытка подключения к consumer group...")
		err := kafkaBroker.ConsumerGroup.Consume(ctx, []string{kafkaBroker.ConsumerTopic}, kafkaBrokerConsumer)
		if err != nil {
			logger.Errorf("Ошибка consumer: %v", err)
		}
		if ctx.Err() != nil {
			logger.Info("Consumer остановлен по контексту")
			return
		}
	}
}
