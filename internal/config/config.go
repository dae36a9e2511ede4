// Package config loads the enumerated environment configuration shared by
// cmd/api, cmd/worker, and cmd/dispatcher.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config is the single source of truth for every externally-tunable value
// in the system. Nothing here is a package-level global; it is constructed
// once per process and passed down through constructors.
type Config struct {
	Env string `env:"API_ENV" envDefault:"development"`

	APIHost string `env:"API_HOST" envDefault:"0.0.0.0"`
	APIPort string `env:"API_PORT" envDefault:"8080"`

	MongoURL string `env:"MONGODB_URL,notEmpty"`
	MongoDB  string `env:"MONGODB_DB_NAME,notEmpty"`

	RedisURL string `env:"REDIS_URL,notEmpty"`

	RabbitMQURL string `env:"RABBITMQ_URL,notEmpty"`

	S3AccessKeyID     string `env:"S3_ACCESS_KEY_ID,notEmpty"`
	S3SecretAccessKey string `env:"S3_SECRET_ACCESS_KEY,notEmpty"`
	S3Region          string `env:"S3_REGION" envDefault:"us-east-1"`
	S3Endpoint        string `env:"S3_ENDPOINT"`
	S3BucketName      string `env:"S3_BUCKET_NAME,notEmpty"`

	AuthRootAPIKey string `env:"AUTH_ROOT_API_KEY,notEmpty"`

	WorkerLogger string `env:"WORKER_LOGGER" envDefault:"json"`

	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`

	ReservationBatchSize int    `env:"RESERVATION_BATCH_SIZE" envDefault:"200"`
	TaskProcessorTxMode  string `env:"TASK_PROCESSOR_TX_MODE" envDefault:"batched"`

	DispatchBatchSize               int `env:"DISPATCH_BATCH_SIZE" envDefault:"500"`
	DispatchPublishIntervalSeconds  int `env:"DISPATCH_PUBLISH_INTERVAL_SECONDS" envDefault:"1"`
	DispatchRecoverIntervalSeconds  int `env:"DISPATCH_RECOVER_INTERVAL_SECONDS" envDefault:"120"`
	DispatchStaleThresholdSeconds   int `env:"DISPATCH_STALE_THRESHOLD_SECONDS" envDefault:"60"`
	UploadSessionTTLSeconds         int `env:"UPLOAD_SESSION_TTL_SECONDS" envDefault:"86400"`
	DLQDelaySeconds                 int `env:"DLQ_DELAY_SECONDS" envDefault:"120"`
}

// Load parses environment variables into a Config, refusing to start the
// process if a required key is missing (spec's "Fatal: configuration
// missing at startup" taxonomy entry). Callers in cmd/* treat a non-nil
// error as fatal.
func Load() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return c, nil
}
