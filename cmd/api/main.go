package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/mac-lisowski/mysmarthotel-task/internal/bus"
	"github.com/mac-lisowski/mysmarthotel-task/internal/config"
	httpapi "github.com/mac-lisowski/mysmarthotel-task/internal/http"
	"github.com/mac-lisowski/mysmarthotel-task/internal/lifecycle"
	"github.com/mac-lisowski/mysmarthotel-task/internal/logging"
	"github.com/mac-lisowski/mysmarthotel-task/internal/metrics"
	"github.com/mac-lisowski/mysmarthotel-task/internal/mongostore"
	"github.com/mac-lisowski/mysmarthotel-task/internal/objectstore"
	"github.com/mac-lisowski/mysmarthotel-task/internal/sessioncache"
	"github.com/mac-lisowski/mysmarthotel-task/internal/upload"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("api: load config:", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatal("api: init logger:", err)
	}
	defer logger.Sync()

	ctx, stop := lifecycle.WithSignals(context.Background())
	defer stop()

	store, err := mongostore.Connect(ctx, cfg.MongoURL, cfg.MongoDB)
	if err != nil {
		logger.Fatal("connect mongo", zap.Error(err))
	}

	cache := sessioncache.New(cfg.RedisURL, time.Duration(cfg.UploadSessionTTLSeconds)*time.Second)

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

	assembler := upload.New(objects, cache, store)

	app := &httpapi.App{
		Assembler:     assembler,
		Tasks:         store,
		Metrics:       metrics.New(),
		Logger:        logger,
		APIKey:        cfg.AuthRootAPIKey,
		Mongo:         store,
		Redis:         cache,
		Bus:           amqpConn,
		HealthTimeout: 2 * time.Second,
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
	}))
	httpapi.RegisterRoutes(r, app)

	server := &http.Server{Addr: cfg.APIHost + ":" + cfg.APIPort, Handler: r}
	go func() {
		logger.Info("api listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("api shutting down")
	lifecycle.Shutdown(logger,
		server.Shutdown,
		func(shutCtx context.Context) error { return amqpConn.Close() },
		func(shutCtx context.Context) error { return cache.Close() },
		store.Close,
	)
}
