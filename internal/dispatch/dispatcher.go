// Package dispatch is the Outbox Dispatcher (D): two independent ticking
// loops that promote NEW outbox Events onto the bus and recover events
// stuck PROCESSING past a stale threshold. Modeled on the teacher's
// cmd/scheduler/main.go retry-republish loop (claim -> act -> mark),
// generalized from one Kafka-retry-topic loop into two cadences driven by
// mongostore's claim/recover primitives instead of a second topic.
package dispatch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mac-lisowski/mysmarthotel-task/internal/metrics"
	"github.com/mac-lisowski/mysmarthotel-task/internal/models"
)

// Store is the subset of mongostore.Store the dispatcher depends on.
type Store interface {
	ClaimNewEvents(ctx context.Context, workerID string, batchSize int64, now time.Time) ([]models.Event, error)
	PublishAndMarkEvent(ctx context.Context, ev models.Event, workerID string, now time.Time, publish func(ctx context.Context, ev models.Event) error) error
	RecoverStaleEvents(ctx context.Context, staleBefore time.Time) (int64, error)
}

// Publisher is the subset of bus.Publisher the dispatcher depends on.
type Publisher interface {
	PublishEvent(ctx context.Context, ev models.Event) error
}

// Config carries the dispatcher's two cadences and batch size, all
// exposed as config.Config fields rather than package constants.
type Config struct {
	WorkerID        string
	BatchSize       int64
	PublishInterval time.Duration
	RecoverInterval time.Duration
	StaleThreshold  time.Duration
}

// Dispatcher runs publishNewEvents and recoverStaleEvents on their own
// tickers until ctx is canceled.
type Dispatcher struct {
	store     Store
	publisher Publisher
	cfg       Config
	logger    *zap.Logger
	metrics   *metrics.Registry
	now       func() time.Time
}

// New constructs a Dispatcher.
func New(store Store, publisher Publisher, cfg Config, logger *zap.Logger, m *metrics.Registry) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.PublishInterval <= 0 {
		cfg.PublishInterval = time.Second
	}
	if cfg.RecoverInterval <= 0 {
		cfg.RecoverInterval = 2 * time.Minute
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = time.Minute
	}
	return &Dispatcher{store: store, publisher: publisher, cfg: cfg, logger: logger, metrics: m, now: time.Now}
}

// Run blocks until ctx is canceled, driving both loops concurrently.
// Grounded on the teacher's for-loop-with-sleep run shape, split into two
// independent time.Ticker-driven goroutines since the two cadences (1s
// publish, 2min recover) are unrelated (spec.md §4.2).
func (d *Dispatcher) Run(ctx context.Context) {
	publishTicker := time.NewTicker(d.cfg.PublishInterval)
	defer publishTicker.Stop()
	recoverTicker := time.NewTicker(d.cfg.RecoverInterval)
	defer recoverTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-publishTicker.C:
			d.publishNewEvents(ctx)
		case <-recoverTicker.C:
			d.recoverStaleEvents(ctx)
		}
	}
}

// publishNewEvents is spec.md §4.2 step 1-3: claim a batch of NEW events
// under this worker, then publish and mark each one PUBLISHED. A single
// event's publish failure or lost claim is logged and skipped; it does not
// abort the rest of the batch.
func (d *Dispatcher) publishNewEvents(ctx context.Context) {
	defer d.recoverPanic("publishNewEvents")

	now := d.now()
	events, err := d.store.ClaimNewEvents(ctx, d.cfg.WorkerID, d.cfg.BatchSize, now)
	if err != nil {
		d.logger.Error("claim new events", zap.Error(err))
		return
	}
	for _, ev := range events {
		if err := d.store.PublishAndMarkEvent(ctx, ev, d.cfg.WorkerID, d.now(), d.publisher.PublishEvent); err != nil {
			d.logger.Warn("publish event", zap.String("eventId", ev.ID), zap.Error(err))
			continue
		}
		if d.metrics != nil {
			d.metrics.EventsPublished.Inc()
		}
	}
}

// recoverStaleEvents is spec.md §4.2's recovery sweep: events stuck
// PROCESSING past StaleThreshold are reset to NEW so any live dispatcher
// can reclaim them, guarding against a worker that crashed mid-publish.
func (d *Dispatcher) recoverStaleEvents(ctx context.Context) {
	defer d.recoverPanic("recoverStaleEvents")

	staleBefore := d.now().Add(-d.cfg.StaleThreshold)
	n, err := d.store.RecoverStaleEvents(ctx, staleBefore)
	if err != nil {
		d.logger.Error("recover stale events", zap.Error(err))
		return
	}
	if n > 0 {
		d.logger.Warn("recovered stale events", zap.Int64("count", n))
		if d.metrics != nil {
			d.metrics.EventsRecovered.Add(float64(n))
		}
	}
}

// recoverPanic keeps one bad tick from killing the whole process (spec.md
// §7: top-level catch points never let a panic escape the goroutine).
func (d *Dispatcher) recoverPanic(tick string) {
	if r := recover(); r != nil {
		d.logger.Error("dispatcher tick panicked", zap.String("tick", tick), zap.Any("panic", r))
	}
}
