// Package httpapi is the HTTP ingress: chunked upload endpoints, task
// status/report queries, and the additive healthz/metrics surface.
// Adapted from the teacher's internal/http/{app,handlers,router}.go
// App-struct-plus-RegisterRoutes shape, repointed at the upload assembler
// and task store instead of DynamoStore/Kafka producer.
package httpapi

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mac-lisowski/mysmarthotel-task/internal/metrics"
	"github.com/mac-lisowski/mysmarthotel-task/internal/models"
	"github.com/mac-lisowski/mysmarthotel-task/internal/upload"
)

// TaskStore is the subset of mongostore.Store the status/report handlers
// depend on.
type TaskStore interface {
	GetTask(ctx context.Context, taskID string) (*models.Task, error)
}

// HealthChecker pings one dependency for GET /v1/healthz.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// BusChecker reports connection state for GET /v1/healthz, without pulling
// the full bus package's channel/publish surface into this dependency.
type BusChecker interface {
	IsClosed() bool
}

// App is the HTTP layer's dependency container, assembled once in
// cmd/api/main.go and passed to RegisterRoutes.
type App struct {
	Assembler *upload.Assembler
	Tasks     TaskStore
	Metrics   *metrics.Registry
	Logger    *zap.Logger
	APIKey    string

	Mongo HealthChecker
	Redis HealthChecker
	Bus   BusChecker

	HealthTimeout time.Duration
}
