package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"integrations/docs"
	"integrations/internal/application"
	"integrations/internal/application/common"
	"integrations/pkg/broker"
	"integrations/pkg/config"
	"integrations/pkg/db"
	"integrations/pkg/httpserver"
	"integrations/pkg/id"
	"integrations/pkg/metrics"
	"integrations/pkg/observability"

	"github.com/prometheus/client_golang/prometheus"
)

// @title           Integrations Service API
// @version         1.0
// @description     Прием событий интеграции, гарантированная доставка вебхуков и статус доставки

// @securityDefinitions.apikey TenantHeader
// @in header
// @name X-Tenant-ID

// @BasePath /

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conf, err := config.NewConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger := observability.InitLogger(conf.LoggingLevel, conf.Tracing.ServiceName, common.Version)
	defer func() { _ = logger.Sync() }()

	logger.Infof("LOGGING_LEVEL = %s", conf.LoggingLevel)
	if strings.ToLower(conf.LoggingLevel) == "debug" {
		broker.EnableSaramaZapLogs(logger)
	}

	if err := id.Init(conf.NodeID); err != nil {
		logger.Fatal(err)
	}

	shutdownTracer, err := observability.InitTracer(conf.Tracing, common.Version, logger)
	if err != nil {
		logger.Fatal(err)
	}

	docs.SwaggerInfo.Host = conf.Server.SwaggerHost
	docs.SwaggerInfo.Schemes = []string{conf.Server.SwaggerSchema}

	m := metrics.New(prometheus.DefaultRegisterer)

	fiberServer := httpserver.NewFiber(conf, m)
	if fiberServer == nil {
		logger.Fatal(errors.New("fiber server is nil"))
	}

	var store *db.Postgres
	if conf.Storage.Driver == config.StorageDriverPostgres {
		store, err = db.NewPostgres(ctx, conf.Postgres)
		if err != nil {
			logger.Fatal(err)
		}
	}

	var kafka *broker.KafkaBroker
	if conf.Broker.Kafka.Enabled() {
		kafka, err = broker.NewKafkaBroker(conf.Broker.Kafka, logger)
		if err != nil {
			logger.Fatal(err)
		}
		logger.Infof("Kafka broker создан успешно. Consumer topic: %s, Producer topic: %s", kafka.ConsumerTopic, kafka.ProducerTopic)
	} else {
		logger.Info("kafka не настроена: consumer команд и публикация статусов выключены")
	}

	server, err := application.NewApp(ctx, &conf, logger, store, fiberServer, kafka, m)
	if err != nil {
		logger.Fatal(err)
	}

	logger.Info("Integrations service started successfully")
	logger.Info(fmt.Sprintf("Server config: %+v", conf.Server))

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := server.Run(); err != nil {
			if !errors.Is(err, http.ErrServerClosed) {
				logger.Fatalf("error listening for server: %v", err)
				return
			}

			logger.Infof("server %v closed", conf.Server.Port)
		}
	}()

	//graceful shutdown
	osSignal := <-interrupt
	switch osSignal {
	case os.Interrupt:
		logger.Infof("%v Got SIGINT...", conf.Server.Port)
	case syscall.SIGTERM:
		logger.Infof("%v Got SIGTERM...", conf.Server.Port)
	}

	cancel()

	if err := server.Shutdown(); err != nil {
		logger.Errorf("server %v forced to shutdown: %v", conf.Server.Port, err)
	}

	if store != nil {
		store.Close()
		logger.Infof("postgres db connection closed")
	}

	tctx, tcancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer tcancel()
	if err := shutdownTracer(tctx); err != nil {
		logger.Warnf("tracer shutdown: %v", err)
	}

	logger.Infof("server shutdown %v done", conf.Server.Port)
}
