package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/mac-lisowski/mysmarthotel-task/internal/bus"
	"github.com/mac-lisowski/mysmarthotel-task/internal/config"
	"github.com/mac-lisowski/mysmarthotel-task/internal/dispatch"
	"github.com/mac-lisowski/mysmarthotel-task/internal/lifecycle"
	"github.com/mac-lisowski/mysmarthotel-task/internal/logging"
	"github.com/mac-lisowski/mysmarthotel-task/internal/metrics"
	"github.com/mac-lisowski/mysmarthotel-task/internal/mongostore"
)

func workerID() string {
	host, _ := os.Hostname()
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("dispatcher: load config:", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatal("dispatcher: init logger:", err)
	}
	defer logger.Sync()

	ctx, stop := lifecycle.WithSignals(context.Background())
	defer stop()

	store, err := mongostore.Connect(ctx, cfg.MongoURL, cfg.MongoDB)
	if err != nil {
		logger.Fatal("connect mongo", zap.Error(err))
	}

	amqpConn, err := bus.Dial(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("dial amqp", zap.Error(err))
	}

	topologyCh, err := amqpConn.Channel()
	if err != nil {
		logger.Fatal("open amqp channel", zap.Error(err))
	}
	if err := bus.DeclareTopology(topologyCh, cfg.DLQDelaySeconds*1000); err != nil {
		logger.Fatal("declare bus topology", zap.Error(err))
	}
	_ = topologyCh.Close()

	publishCh, err := amqpConn.Channel()
	if err != nil {
		logger.Fatal("open publisher channel", zap.Error(err))
	}
	publisher := bus.NewPublisher(publishCh)

	m := metrics.New()
	self := workerID()
	dispatcher := dispatch.New(store, publisher, dispatch.Config{
		WorkerID:        self,
		BatchSize:       int64(cfg.DispatchBatchSize),
		PublishInterval: time.Duration(cfg.DispatchPublishIntervalSeconds) * time.Second,
		RecoverInterval: time.Duration(cfg.DispatchRecoverIntervalSeconds) * time.Second,
		StaleThreshold:  time.Duration(cfg.DispatchStaleThresholdSeconds) * time.Second,
	}, logger, m)

	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: m.Handler()}
	go func() {
		logger.Info("dispatcher metrics listening", zap.String("addr", metricsServer.Addr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server", zap.Error(err))
		}
	}()

	logger.Info("dispatcher started", zap.String("workerId", self))

	dispatcher.Run(ctx)

	logger.Info("dispatcher shutting down")
	lifecycle.Shutdown(logger,
		metricsServer.Shutdown,
		func(shutCtx context.Context) error { return amqpConn.Close() },
		store.Close,
	)
}
