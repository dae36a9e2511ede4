// Package mongostore is the Durable Store (C1): a transactional MongoDB
// wrapper giving the dispatcher and processor atomic conditional updates
// and multi-document transactions for the Task+Event commit and the
// per-task finalization.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"github.com/mac-lisowski/mysmarthotel-task/internal/models"
)

const (
	tasksCollection        = "tasks"
	eventsCollection       = "events"
	reservationsCollection = "reservations"
)

// Store is the single handle to the durable document store, mirroring the
// teacher's one-type-per-store shape (internal/store/dynamo.go) but backed
// by real multi-document transactions instead of single-item conditional
// writes.
type Store struct {
	client       *mongo.Client
	db           *mongo.Database
	tasks        *mongo.Collection
	events       *mongo.Collection
	reservations *mongo.Collection
}

// Connect dials MongoDB, pings it, and ensures the indexes the claim and
// recovery queries depend on exist.
func Connect(ctx context.Context, uri, dbName string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	db := client.Database(dbName)
	s := &Store{
		client:       client,
		db:           db,
		tasks:        db.Collection(tasksCollection),
		events:       db.Collection(eventsCollection),
		reservations: db.Collection(reservationsCollection),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("ensure indexes: %w", err)
	}
	return s, nil
}

// Close disconnects the underlying client. Part of the Lifecycle
// Supervisor's shutdown sequence.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ping verifies connectivity, used by the healthz endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	if _, err := s.events.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: 1}}},
		{Keys: bson.D{{Key: "processingAt", Value: 1}}},
	}); err != nil {
		return err
	}
	if _, err := s.tasks.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "taskId", Value: 1}}, Options: options.Index().SetUnique(true),
	}); err != nil {
		return err
	}
	_, err := s.reservations.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "reservationId", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "checkInDate", Value: 1}, {Key: "checkOutDate", Value: 1}}},
	})
	return err
}

// txnOptions enforces majority read/write concern for the transactions the
// processor opens around row validation and finalization (spec.md §4.3
// step 2: "read/write concern = majority").
func txnOptions() *options.TransactionOptions {
	return options.Transaction().
		SetReadConcern(readconcern.Majority()).
		SetWriteConcern(writeconcern.Majority())
}

// WithTransaction runs fn inside a session-scoped transaction, committing
// on a nil return and aborting otherwise. Shared by the processor for both
// its single-transaction and batched-transaction modes.
func (s *Store) WithTransaction(ctx context.Context, fn func(sessCtx context.Context) error) error {
	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		return nil, fn(sessCtx)
	}, txnOptions())
	return err
}

// CreateTaskAndEvent commits a new Task (PENDING) and its outbox Event
// (NEW) atomically, per I1/I6: the dispatcher must never observe a Task
// without its Event or vice versa.
func (s *Store) CreateTaskAndEvent(ctx context.Context, task *models.Task, event *models.Event) error {
	return s.WithTransaction(ctx, func(sessCtx context.Context) error {
		if _, err := s.tasks.InsertOne(sessCtx, task); err != nil {
			return fmt.Errorf("insert task: %w", err)
		}
		if _, err := s.events.InsertOne(sessCtx, event); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
		return nil
	})
}

// GetTask fetches a Task projection by id. Returns nil, nil if absent.
func (s *Store) GetTask(ctx context.Context, taskID string) (*models.Task, error) {
	var t models.Task
	err := s.tasks.FindOne(ctx, bson.M{"taskId": taskID}).Decode(&t)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find task: %w", err)
	}
	return &t, nil
}

// ClaimNewEvents is the dispatcher's publishNewEvents claim protocol
// (spec.md §4.2 step 1-2): find up to batchSize NEW events ordered by
// createdAt, atomically flip them to PROCESSING under self, then read the
// claimed set back. The atomic updateMany is the mutual-exclusion
// mechanism; no row-level lock is taken.
func (s *Store) ClaimNewEvents(ctx context.Context, workerID string, batchSize int64, now time.Time) ([]models.Event, error) {
	cur, err := s.events.Find(ctx,
		bson.M{"status": models.EventNew},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}).SetLimit(batchSize).SetProjection(bson.M{"_id": 1}),
	)
	if err != nil {
		return nil, fmt.Errorf("find new events: %w", err)
	}
	var idRows []struct {
		ID string `bson:"_id"`
	}
	if err := cur.All(ctx, &idRows); err != nil {
		return nil, fmt.Errorf("decode ids: %w", err)
	}
	if len(idRows) == 0 {
		return nil, nil
	}
	ids := make([]string, len(idRows))
	for i, row := range idRows {
		ids[i] = row.ID
	}

	if _, err := s.events.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}, "status": models.EventNew},
		bson.M{
			"$set": bson.M{"status": models.EventProcessing, "workerId": workerID, "processingAt": now},
			"$inc": bson.M{"attempts": 1},
		},
	); err != nil {
		return nil, fmt.Errorf("claim new events: %w", err)
	}

	cur, err = s.events.Find(ctx, bson.M{
		"status":       models.EventProcessing,
		"workerId":     workerID,
		"processingAt": bson.M{"$lte": now},
	})
	if err != nil {
		return nil, fmt.Errorf("read claimed events: %w", err)
	}
	var claimed []models.Event
	if err := cur.All(ctx, &claimed); err != nil {
		return nil, fmt.Errorf("decode claimed events: %w", err)
	}
	return claimed, nil
}

// ErrClaimLost is returned when a publish transaction's finalizing update
// matches zero documents: a concurrent recovery sweep interleaved and
// reclaimed the event out from under this dispatcher.
var ErrClaimLost = fmt.Errorf("event claim lost to concurrent recovery")

// PublishAndMarkEvent opens a transaction, invokes publish (the bus send),
// then conditionally marks the event PUBLISHED under the caller's claim.
// If the update matches zero documents the transaction aborts with
// ErrClaimLost rather than silently dropping the duplicate-publish risk.
func (s *Store) PublishAndMarkEvent(ctx context.Context, ev models.Event, workerID string, now time.Time, publish func(ctx context.Context, ev models.Event) error) error {
	return s.WithTransaction(ctx, func(sessCtx context.Context) error {
		if err := publish(sessCtx, ev); err != nil {
			return fmt.Errorf("publish: %w", err)
		}
		res, err := s.events.UpdateOne(sessCtx,
			bson.M{"_id": ev.ID, "status": models.EventProcessing, "workerId": workerID},
			bson.M{
				"$set":   bson.M{"status": models.EventPublished, "publishedAt": now},
				"$unset": bson.M{"workerId": "", "processingAt": ""},
			},
		)
		if err != nil {
			return fmt.Errorf("mark published: %w", err)
		}
		if res.ModifiedCount == 0 {
			return ErrClaimLost
		}
		return nil
	})
}

// RecoverStaleEvents resets events stuck PROCESSING past staleBefore back
// to NEW, clearing the claim lease. Returns the count recovered, surfaced
// to observability by the caller.
func (s *Store) RecoverStaleEvents(ctx context.Context, staleBefore time.Time) (int64, error) {
	res, err := s.events.UpdateMany(ctx,
		bson.M{"status": models.EventProcessing, "processingAt": bson.M{"$lt": staleBefore}},
		bson.M{"$set": bson.M{"status": models.EventNew}, "$unset": bson.M{"workerId": "", "processingAt": ""}},
	)
	if err != nil {
		return 0, fmt.Errorf("recover stale events: %w", err)
	}
	return res.ModifiedCount, nil
}

// ClaimTask is the processor's step-3 claim: PENDING -> IN_PROGRESS under
// self. Returns matched=false (not an error) when another worker already
// owns it, it was already processed, or it was never pending.
func (s *Store) ClaimTask(ctx context.Context, taskID, workerID string, now time.Time) (*models.Task, bool, error) {
	var t models.Task
	err := s.tasks.FindOneAndUpdate(ctx,
		bson.M{"taskId": taskID, "status": models.TaskPending},
		bson.M{"$set": bson.M{
			"status":       models.TaskInProgress,
			"startedAt":    now,
			"workerId":     workerID,
			"processingAt": now,
			"updatedAt":    now,
		}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&t)
	if err == mongo.ErrNoDocuments {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("claim task: %w", err)
	}
	return &t, true, nil
}

// UpsertReservation writes a validated row by reservationId. Safe to call
// repeatedly (idempotent consumer, duplicate delivery).
func (s *Store) UpsertReservation(ctx context.Context, r *models.Reservation) error {
	now := r.UpdatedAt
	_, err := s.reservations.UpdateOne(ctx,
		bson.M{"reservationId": r.ReservationID},
		bson.M{
			"$set": bson.M{
				"guestName":    r.GuestName,
				"status":       r.Status,
				"checkInDate":  r.CheckInDate,
				"checkOutDate": r.CheckOutDate,
				"updatedAt":    now,
			},
			"$setOnInsert": bson.M{"reservationId": r.ReservationID, "createdAt": now},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("upsert reservation: %w", err)
	}
	return nil
}

// FinalizeTask sets the terminal status, completedAt, accumulated row
// errors, and row count, clearing the claim lease. Returns matched=false
// if the Task row vanished between claim and finalize (never expected in
// practice; surfaced so the caller can treat it as a transaction-abort
// condition).
func (s *Store) FinalizeTask(ctx context.Context, taskID string, status models.TaskStatus, completedAt time.Time, errs []models.RowError, rowCount int) (bool, error) {
	if errs == nil {
		errs = []models.RowError{}
	}
	res, err := s.tasks.UpdateOne(ctx,
		bson.M{"taskId": taskID},
		bson.M{
			"$set": bson.M{
				"status":      status,
				"completedAt": completedAt,
				"errors":      errs,
				"rowCount":    rowCount,
				"updatedAt":   completedAt,
			},
			"$unset": bson.M{"workerId": "", "processingAt": ""},
		},
	)
	if err != nil {
		return false, fmt.Errorf("finalize task: %w", err)
	}
	return res.ModifiedCount > 0 || res.MatchedCount > 0, nil
}

// FinalizeEvent marks the Event PROCESSED, with an error payload attached
// when the task ended FAILED (spec.md §9: PROCESSED conflates "done" and
// "failed-done"; readers must inspect Error).
func (s *Store) FinalizeEvent(ctx context.Context, eventID string, processedAt time.Time, evErr *models.EventError) (bool, error) {
	res, err := s.events.UpdateOne(ctx,
		bson.M{"_id": eventID},
		bson.M{"$set": bson.M{"status": models.EventProcessed, "processedAt": processedAt, "error": evErr}},
	)
	if err != nil {
		return false, fmt.Errorf("finalize event: %w", err)
	}
	return res.ModifiedCount > 0 || res.MatchedCount > 0, nil
}

// IsWriteConflict classifies a transaction error as the transient,
// retry-by-redelivery case (spec.md §4.3's error taxonomy: "store
// write-conflict (transient): nack with requeue=false so the DLX
// redelivers it"). It recognizes MongoDB's WriteConflict command error
// (code 112) and any error carrying the driver's TransientTransactionError
// label, which covers both in-transaction write conflicts and the
// surrounding commit/abort retries the driver itself classifies as
// transient.
func IsWriteConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrClaimLost) {
		return true
	}
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		if cmdErr.Code == 112 || cmdErr.HasErrorLabel("TransientTransactionError") {
			return true
		}
	}
	var labeled mongo.ServerError
	if errors.As(err, &labeled) && labeled.HasErrorLabel("TransientTransactionError") {
		return true
	}
	return false
}
