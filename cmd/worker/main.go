package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/mac-lisowski/mysmarthotel-task/internal/bus"
	"github.com/mac-lisowski/mysmarthotel-task/internal/config"
	"github.com/mac-lisowski/mysmarthotel-task/internal/lifecycle"
	"github.com/mac-lisowski/mysmarthotel-task/internal/logging"
	"github.com/mac-lisowski/mysmarthotel-task/internal/metrics"
	"github.com/mac-lisowski/mysmarthotel-task/internal/mongostore"
	"github.com/mac-lisowski/mysmarthotel-task/internal/objectstore"
	"github.com/mac-lisowski/mysmarthotel-task/internal/process"
	"github.com/mac-lisowski/mysmarthotel-task/internal/xlsx"
)

func workerID() string {
	host, _ := os.Hostname()
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("worker: load config:", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatal("worker: init logger:", err)
	}
	defer logger.Sync()

	ctx, stop := lifecycle.WithSignals(context.Background())
	defer stop()

	store, err := mongostore.Connect(ctx, cfg.MongoURL, cfg.MongoDB)
	if err != nil {
		logger.Fatal("connect mongo", zap.Error(err))
	}

	objects, err := objectstore.New(ctx, cfg.S3AccessKeyID, cfg.S3SecretAccessKey, cfg.S3Region, cfg.S3Endpoint, cfg.S3BucketName)
	if err != nil {
		logger.Fatal("init object store", zap.Error(err))
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

	consumeCh, err := amqpConn.Channel()
	if err != nil {
		logger.Fatal("open consumer channel", zap.Error(err))
	}
	self := workerID()
	consumer, err := bus.NewConsumer(consumeCh, bus.QueueWorkerTask, self, 1)
	if err != nil {
		logger.Fatal("start consumer", zap.Error(err))
	}

	m := metrics.New()
	txMode := process.TransactionModeBatched
	if cfg.TaskProcessorTxMode == string(process.TransactionModeSingle) {
		txMode = process.TransactionModeSingle
	}
	processor := process.New(store, objects, xlsx.ExcelizeReader{}, process.Config{
		WorkerID:             self,
		TransactionMode:      txMode,
		ReservationBatchSize: cfg.ReservationBatchSize,
	}).WithMetrics(m)

	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: m.Handler()}
	go func() {
		logger.Info("worker metrics listening", zap.String("addr", metricsServer.Addr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server", zap.Error(err))
		}
	}()

	logger.Info("worker started", zap.String("workerId", self), zap.String("queue", bus.QueueWorkerTask))

	go func() {
		<-ctx.Done()
		_ = consumer.Cancel()
	}()

	for delivery := range consumer.Deliveries() {
		handleDelivery(ctx, logger, processor, delivery)
	}

	logger.Info("worker shutting down")
	lifecycle.Shutdown(logger,
		metricsServer.Shutdown,
		func(shutCtx context.Context) error { return amqpConn.Close() },
		store.Close,
	)
}

// handleDelivery decodes and processes one AMQP delivery, resolving it to
// Ack or a DLX-routed reject per the outcome the processor returns. Wrapped
// in its own recover so one malformed or panicking message never kills the
// consumer loop (spec.md §7).
func handleDelivery(ctx context.Context, logger *zap.Logger, processor *process.Processor, delivery amqp.Delivery) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("delivery handler panicked", zap.Any("panic", r))
			_ = bus.AckDelivery(delivery)
		}
	}()

	msg, err := bus.DecodeTaskCreated(delivery.Body)
	if err != nil {
		logger.Warn("ack-dropping malformed delivery", zap.Error(err))
		_ = bus.AckDelivery(delivery)
		return
	}

	outcome, err := processor.Process(ctx, msg)
	if err != nil {
		logger.Error("process task created event", zap.String("taskId", msg.Payload.TaskID), zap.Error(err))
	}

	switch outcome {
	case process.OutcomeNackToDLX:
		if err := bus.NackToDLX(ctx, delivery); err != nil {
			logger.Error("nack to dlx", zap.Error(err))
		}
	default:
		if err := bus.AckDelivery(delivery); err != nil {
			logger.Error("ack delivery", zap.Error(err))
		}
	}
}
