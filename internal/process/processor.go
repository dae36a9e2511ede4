// Package process is the Task Processor (P): a bus consumer that
// idempotently claims work, streams and validates XLSX rows, upserts
// domain state, and drives the Task/Event lifecycle under a transactional
// store. Adapted from the teacher's cmd/worker/{main,send}.go
// claim-then-process-then-classify-error shape, generalized to the row
// pipeline and AMQP ack/nack instead of Kafka offset commits.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/mac-lisowski/mysmarthotel-task/internal/bus"
	"github.com/mac-lisowski/mysmarthotel-task/internal/metrics"
	"github.com/mac-lisowski/mysmarthotel-task/internal/models"
	"github.com/mac-lisowski/mysmarthotel-task/internal/mongostore"
	"github.com/mac-lisowski/mysmarthotel-task/internal/xlsx"
)

// TransactionMode selects how reservation upserts are scoped relative to
// the finalization write (DESIGN.md's Open Question resolution).
type TransactionMode string

const (
	// TransactionModeSingle keeps one transaction spanning every
	// reservation upsert plus Task/Event finalization.
	TransactionModeSingle TransactionMode = "single"
	// TransactionModeBatched commits reservation upserts in short,
	// bounded-size transactions and finalizes in a final transaction.
	TransactionModeBatched TransactionMode = "batched"
)

// Store is the subset of mongostore.Store the processor depends on.
type Store interface {
	ClaimTask(ctx context.Context, taskID, workerID string, now time.Time) (*models.Task, bool, error)
	UpsertReservation(ctx context.Context, r *models.Reservation) error
	FinalizeTask(ctx context.Context, taskID string, status models.TaskStatus, completedAt time.Time, errs []models.RowError, rowCount int) (bool, error)
	FinalizeEvent(ctx context.Context, eventID string, processedAt time.Time, evErr *models.EventError) (bool, error)
	WithTransaction(ctx context.Context, fn func(sessCtx context.Context) error) error
}

// ObjectStore is the subset of objectstore.Client the processor depends on.
type ObjectStore interface {
	GetStream(ctx context.Context, key string) (io.ReadCloser, error)
}

// Config is the processor's tunable knobs, surfaced from config.Config
// rather than held as package-level constants (spec.md §9).
type Config struct {
	WorkerID             string
	TransactionMode      TransactionMode
	ReservationBatchSize int
}

// Processor implements spec.md §4.3's per-message algorithm.
type Processor struct {
	store   Store
	objects ObjectStore
	sheets  xlsx.SheetReader
	cfg     Config
	now     func() time.Time
	metrics *metrics.Registry
}

// New constructs a Processor.
func New(store Store, objects ObjectStore, sheets xlsx.SheetReader, cfg Config) *Processor {
	if cfg.ReservationBatchSize <= 0 {
		cfg.ReservationBatchSize = 200
	}
	if cfg.TransactionMode == "" {
		cfg.TransactionMode = TransactionModeBatched
	}
	return &Processor{store: store, objects: objects, sheets: sheets, cfg: cfg, now: time.Now}
}

// WithMetrics attaches a metrics.Registry, so cmd/worker can wire counters
// without every test constructing one. Returns the receiver for chaining.
func (p *Processor) WithMetrics(m *metrics.Registry) *Processor {
	p.metrics = m
	return p
}

// Outcome tells the bus consumer loop how to resolve the AMQP delivery.
type Outcome int

const (
	// OutcomeAck covers every case spec.md §4.3 resolves by acking: a
	// successful finalize, a claim-miss (another worker/already done),
	// a non-retryable file-level failure, and the fallback path after an
	// unexpected mid-transaction error.
	OutcomeAck Outcome = iota
	// OutcomeNackToDLX is the transient-write-conflict path: reject
	// without requeue so the DLX routes the message to the delay queue
	// for redelivery ~DLQDelaySeconds later.
	OutcomeNackToDLX
)

// Process runs the full per-message algorithm for one task.created.event
// delivery and returns how the caller should resolve the AMQP delivery.
// Process never returns an error for conditions spec.md classifies as
// ack-able; it only returns an error for something the caller's own log
// line should surface (none of the current classification needs that, so
// err is always nil today, kept for interface stability).
func (p *Processor) Process(ctx context.Context, msg bus.TaskCreatedMessage) (Outcome, error) {
	now := p.now()

	task, matched, err := p.store.ClaimTask(ctx, msg.Payload.TaskID, p.cfg.WorkerID, now)
	if err != nil {
		if mongostore.IsWriteConflict(err) {
			return OutcomeNackToDLX, nil
		}
		p.fallbackFail(ctx, msg, now, fmt.Errorf("claim task: %w", err))
		return OutcomeAck, nil
	}
	if !matched {
		// Another worker owns it, or it was already processed/cancelled.
		return OutcomeAck, nil
	}
	_ = task

	reservations, rowErrs, rowCount, fileErr := p.downloadAndValidate(ctx, msg.Payload.FilePath)
	if fileErr != nil {
		// File-level failure (empty sheet, corrupt workbook, download
		// error): non-retryable, whole task marked FAILED.
		p.finalizeOutcome(ctx, msg, now, models.TaskFailed, []models.RowError{{Error: fileErr.Error()}}, 0)
		p.recordOutcome(models.TaskFailed, 0, 1)
		return OutcomeAck, nil
	}

	finalStatus := models.TaskCompleted
	if len(rowErrs) > 0 {
		finalStatus = models.TaskFailed
	}

	var txErr error
	switch p.cfg.TransactionMode {
	case TransactionModeSingle:
		txErr = p.store.WithTransaction(ctx, func(sessCtx context.Context) error {
			return p.upsertAndFinalize(sessCtx, reservations, msg, finalStatus, now, rowErrs, rowCount)
		})
	default:
		txErr = p.processBatched(ctx, reservations, msg, finalStatus, now, rowErrs, rowCount)
	}

	if txErr != nil {
		if mongostore.IsWriteConflict(txErr) {
			return OutcomeNackToDLX, nil
		}
		p.fallbackFail(ctx, msg, now, fmt.Errorf("finalize task: %w", txErr))
		return OutcomeAck, nil
	}

	p.recordOutcome(finalStatus, rowCount, len(rowErrs))
	return OutcomeAck, nil
}

// recordOutcome increments the task/row counters for a finalized outcome.
// metrics is nil in tests that don't wire a registry, so every call is
// guarded.
func (p *Processor) recordOutcome(status models.TaskStatus, rowCount, errCount int) {
	if p.metrics == nil {
		return
	}
	if status == models.TaskCompleted {
		p.metrics.TasksCompleted.Inc()
	} else {
		p.metrics.TasksFailed.Inc()
	}
	p.metrics.RowsProcessed.Add(float64(rowCount))
	p.metrics.RowsErrored.Add(float64(errCount))
}

// upsertAndFinalize upserts every reservation and finalizes Task+Event in
// whatever transaction scope the caller already opened.
func (p *Processor) upsertAndFinalize(sessCtx context.Context, reservations []*models.Reservation, msg bus.TaskCreatedMessage, finalStatus models.TaskStatus, now time.Time, rowErrs []models.RowError, rowCount int) error {
	for _, r := range reservations {
		if err := p.store.UpsertReservation(sessCtx, r); err != nil {
			return fmt.Errorf("upsert reservation %s: %w", r.ReservationID, err)
		}
	}
	return p.finalize(sessCtx, msg, finalStatus, now, rowErrs, rowCount)
}

// processBatched implements TransactionModeBatched: reservation upserts
// committed in bounded batches, finalization in its own final
// transaction. A crash mid-file under this mode leaves partial
// Reservations but no finalized Task; the Event is redelivered via stale
// recovery and duplicate upserts are safe (spec.md §9).
func (p *Processor) processBatched(ctx context.Context, reservations []*models.Reservation, msg bus.TaskCreatedMessage, finalStatus models.TaskStatus, now time.Time, rowErrs []models.RowError, rowCount int) error {
	batchSize := p.cfg.ReservationBatchSize
	for start := 0; start < len(reservations); start += batchSize {
		end := start + batchSize
		if end > len(reservations) {
			end = len(reservations)
		}
		batch := reservations[start:end]
		err := p.store.WithTransaction(ctx, func(sessCtx context.Context) error {
			for _, r := range batch {
				if err := p.store.UpsertReservation(sessCtx, r); err != nil {
					return fmt.Errorf("upsert reservation %s: %w", r.ReservationID, err)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return p.store.WithTransaction(ctx, func(sessCtx context.Context) error {
		return p.finalize(sessCtx, msg, finalStatus, now, rowErrs, rowCount)
	})
}

// finalize updates Task to finalStatus and Event to PROCESSED in the
// transaction the caller has open. Invariant: a Task never advances
// without its Event being marked PROCESSED in the same call.
func (p *Processor) finalize(sessCtx context.Context, msg bus.TaskCreatedMessage, finalStatus models.TaskStatus, now time.Time, rowErrs []models.RowError, rowCount int) error {
	if _, err := p.store.FinalizeTask(sessCtx, msg.Payload.TaskID, finalStatus, now, rowErrs, rowCount); err != nil {
		return fmt.Errorf("finalize task: %w", err)
	}
	if _, err := p.store.FinalizeEvent(sessCtx, msg.EventID, now, eventError(rowErrs)); err != nil {
		return fmt.Errorf("finalize event: %w", err)
	}
	return nil
}

// finalizeOutcome is the non-transactional file-level-failure path: no
// rows were ever upserted, so there is nothing to roll back.
func (p *Processor) finalizeOutcome(ctx context.Context, msg bus.TaskCreatedMessage, now time.Time, status models.TaskStatus, errs []models.RowError, rowCount int) {
	_, _ = p.store.FinalizeTask(ctx, msg.Payload.TaskID, status, now, errs, rowCount)
	_, _ = p.store.FinalizeEvent(ctx, msg.EventID, now, eventError(errs))
}

// fallbackFail is the non-retryable-exception path: abort already
// happened (the transaction rolled back), so best-effort mark the Task
// FAILED and the Event PROCESSED outside any transaction, then the caller
// still acks to avoid an infinite redelivery loop.
func (p *Processor) fallbackFail(ctx context.Context, msg bus.TaskCreatedMessage, now time.Time, cause error) {
	_, _ = p.store.FinalizeTask(ctx, msg.Payload.TaskID, models.TaskFailed, now, []models.RowError{{Error: cause.Error()}}, 0)
	_, _ = p.store.FinalizeEvent(ctx, msg.EventID, now, &models.EventError{Message: cause.Error()})
	p.recordOutcome(models.TaskFailed, 0, 1)
}

func eventError(rowErrs []models.RowError) *models.EventError {
	if len(rowErrs) == 0 {
		return nil
	}
	return &models.EventError{
		Message: fmt.Sprintf("Processing completed with %d errors", len(rowErrs)),
		Details: rowErrs,
	}
}

// downloadAndValidate streams the artifact into memory, decodes it as
// XLSX, and validates every row. The file is buffered in full before any
// transaction opens (spec.md §5: "no unbounded streaming inside a
// transaction").
func (p *Processor) downloadAndValidate(ctx context.Context, filePath string) (reservations []*models.Reservation, rowErrs []models.RowError, rowCount int, err error) {
	body, err := p.objects.GetStream(ctx, filePath)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("download %s: %w", filePath, err)
	}
	defer body.Close()

	buf, err := io.ReadAll(body)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("buffer %s: %w", filePath, err)
	}

	rows, err := p.sheets.Rows(bytes.NewReader(buf))
	if err != nil {
		if errors.Is(err, xlsx.ErrEmptySheet) {
			return nil, nil, 0, err
		}
		return nil, nil, 0, fmt.Errorf("decode %s: %w", filePath, err)
	}

	reservations, rowErrs, rowCount = validateRows(rows, p.now())
	return reservations, rowErrs, rowCount, nil
}
