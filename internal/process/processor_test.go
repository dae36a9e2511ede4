package process

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/mac-lisowski/mysmarthotel-task/internal/bus"
	"github.com/mac-lisowski/mysmarthotel-task/internal/models"
	"github.com/mac-lisowski/mysmarthotel-task/internal/mongostore"
	"github.com/mac-lisowski/mysmarthotel-task/internal/xlsx"
)

type fakeStore struct {
	claimed       map[string]bool
	claimErr      error
	reservations  []*models.Reservation
	upsertErr     error
	finalTask     *finalizedTask
	finalizeErr   error
	finalEvent    *finalizedEvent
	txErr         error
	withTxnCalled int
}

type finalizedTask struct {
	taskID   string
	status   models.TaskStatus
	errs     []models.RowError
	rowCount int
}

type finalizedEvent struct {
	eventID string
	evErr   *models.EventError
}

func (s *fakeStore) ClaimTask(ctx context.Context, taskID, workerID string, now time.Time) (*models.Task, bool, error) {
	if s.claimErr != nil {
		return nil, false, s.claimErr
	}
	if s.claimed == nil || !s.claimed[taskID] {
		return nil, false, nil
	}
	return &models.Task{TaskID: taskID, Status: models.TaskInProgress}, true, nil
}

func (s *fakeStore) UpsertReservation(ctx context.Context, r *models.Reservation) error {
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.reservations = append(s.reservations, r)
	return nil
}

func (s *fakeStore) FinalizeTask(ctx context.Context, taskID string, status models.TaskStatus, completedAt time.Time, errs []models.RowError, rowCount int) (bool, error) {
	if s.finalizeErr != nil {
		return false, s.finalizeErr
	}
	s.finalTask = &finalizedTask{taskID: taskID, status: status, errs: errs, rowCount: rowCount}
	return true, nil
}

func (s *fakeStore) FinalizeEvent(ctx context.Context, eventID string, processedAt time.Time, evErr *models.EventError) (bool, error) {
	s.finalEvent = &finalizedEvent{eventID: eventID, evErr: evErr}
	return true, nil
}

func (s *fakeStore) WithTransaction(ctx context.Context, fn func(sessCtx context.Context) error) error {
	s.withTxnCalled++
	if s.txErr != nil {
		return s.txErr
	}
	return fn(ctx)
}

type fakeObjectStore struct {
	body []byte
	err  error
}

func (f *fakeObjectStore) GetStream(ctx context.Context, key string) (io.ReadCloser, error) {
	if f.err != nil {
		return nil, f.err
	}
	return io.NopCloser(bytes.NewReader(f.body)), nil
}

type fakeSheetReader struct {
	rows []xlsx.Row
	err  error
}

func (f *fakeSheetReader) Rows(r io.Reader) ([]xlsx.Row, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.rows, nil
}

func validRow(idx int, id string) xlsx.Row {
	return xlsx.Row{Index: idx, Values: map[string]string{
		"reservation_id": id,
		"guest_name":     "Guest",
		"check_in_date":  "2026-09-01",
		"check_out_date": "2026-09-02",
		"status":         string(models.ReservationPending),
	}}
}

func newMessage(taskID string) bus.TaskCreatedMessage {
	return bus.TaskCreatedMessage{
		EventID:   "evt-1",
		EventName: string(models.EventNameTaskCreated),
		Payload:   models.TaskCreatedPayload{TaskID: taskID, FilePath: "uploads/x/sheet.xlsx", OriginalFileName: "sheet.xlsx"},
	}
}

func TestProcessClaimMissIsAckedWithoutSideEffects(t *testing.T) {
	store := &fakeStore{}
	objects := &fakeObjectStore{}
	sheets := &fakeSheetReader{}
	p := New(store, objects, sheets, Config{WorkerID: "w1"})

	outcome, err := p.Process(context.Background(), newMessage("t1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeAck {
		t.Fatalf("expected OutcomeAck for a claim-miss, got %v", outcome)
	}
	if store.finalTask != nil || store.finalEvent != nil {
		t.Fatal("expected no finalize calls on claim-miss")
	}
}

func TestProcessClaimWriteConflictRoutesToDLX(t *testing.T) {
	store := &fakeStore{claimErr: mongostore.ErrClaimLost}
	p := New(store, &fakeObjectStore{}, &fakeSheetReader{}, Config{WorkerID: "w1"})

	outcome, err := p.Process(context.Background(), newMessage("t1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeNackToDLX {
		t.Fatalf("expected OutcomeNackToDLX on a write conflict, got %v", outcome)
	}
}

func TestProcessFileLevelFailureMarksTaskFailedAndAcks(t *testing.T) {
	store := &fakeStore{claimed: map[string]bool{"t1": true}}
	objects := &fakeObjectStore{err: errors.New("s3 unreachable")}
	p := New(store, objects, &fakeSheetReader{}, Config{WorkerID: "w1"})

	outcome, err := p.Process(context.Background(), newMessage("t1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeAck {
		t.Fatalf("expected OutcomeAck on file-level failure, got %v", outcome)
	}
	if store.finalTask == nil || store.finalTask.status != models.TaskFailed {
		t.Fatalf("expected task finalized FAILED, got %+v", store.finalTask)
	}
	if store.finalEvent == nil || store.finalEvent.evErr == nil {
		t.Fatal("expected event finalized with an error payload")
	}
}

func TestProcessAllValidRowsCompletesTask(t *testing.T) {
	store := &fakeStore{claimed: map[string]bool{"t1": true}}
	objects := &fakeObjectStore{body: []byte("irrelevant")}
	sheets := &fakeSheetReader{rows: []xlsx.Row{validRow(2, "r1"), validRow(3, "r2")}}
	p := New(store, objects, sheets, Config{WorkerID: "w1", TransactionMode: TransactionModeSingle})

	outcome, err := p.Process(context.Background(), newMessage("t1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeAck {
		t.Fatalf("expected OutcomeAck, got %v", outcome)
	}
	if len(store.reservations) != 2 {
		t.Fatalf("expected 2 reservations upserted, got %d", len(store.reservations))
	}
	if store.finalTask == nil || store.finalTask.status != models.TaskCompleted || store.finalTask.rowCount != 2 {
		t.Fatalf("expected task COMPLETED with rowCount 2, got %+v", store.finalTask)
	}
	if store.finalEvent == nil || store.finalEvent.evErr != nil {
		t.Fatalf("expected event finalized with no error payload, got %+v", store.finalEvent)
	}
}

func TestProcessRowErrorsMarksTaskFailedButStillAcks(t *testing.T) {
	store := &fakeStore{claimed: map[string]bool{"t1": true}}
	objects := &fakeObjectStore{body: []byte("irrelevant")}
	badRow := xlsx.Row{Index: 2, Values: map[string]string{"reservation_id": "r1"}}
	sheets := &fakeSheetReader{rows: []xlsx.Row{badRow}}
	p := New(store, objects, sheets, Config{WorkerID: "w1"})

	outcome, err := p.Process(context.Background(), newMessage("t1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeAck {
		t.Fatalf("expected OutcomeAck even with row errors, got %v", outcome)
	}
	if store.finalTask == nil || store.finalTask.status != models.TaskFailed {
		t.Fatalf("expected task FAILED on row errors, got %+v", store.finalTask)
	}
	if len(store.finalTask.errs) != 1 {
		t.Fatalf("expected 1 row error propagated, got %+v", store.finalTask.errs)
	}
}

func TestProcessBatchedModeSplitsAcrossTransactions(t *testing.T) {
	store := &fakeStore{claimed: map[string]bool{"t1": true}}
	objects := &fakeObjectStore{body: []byte("irrelevant")}
	rows := make([]xlsx.Row, 0, 5)
	for i := 0; i < 5; i++ {
		rows = append(rows, validRow(i+2, string(rune('a'+i))))
	}
	sheets := &fakeSheetReader{rows: rows}
	p := New(store, objects, sheets, Config{WorkerID: "w1", TransactionMode: TransactionModeBatched, ReservationBatchSize: 2})

	outcome, err := p.Process(context.Background(), newMessage("t1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeAck {
		t.Fatalf("expected OutcomeAck, got %v", outcome)
	}
	// 3 upsert batches (2+2+1) plus 1 finalize transaction.
	if store.withTxnCalled != 4 {
		t.Fatalf("expected 4 transactions (3 upsert batches + 1 finalize), got %d", store.withTxnCalled)
	}
	if len(store.reservations) != 5 {
		t.Fatalf("expected all 5 reservations upserted, got %d", len(store.reservations))
	}
}

func TestProcessMidTransactionWriteConflictRoutesToDLX(t *testing.T) {
	store := &fakeStore{claimed: map[string]bool{"t1": true}, txErr: mongostore.ErrClaimLost}
	objects := &fakeObjectStore{body: []byte("irrelevant")}
	sheets := &fakeSheetReader{rows: []xlsx.Row{validRow(2, "r1")}}
	p := New(store, objects, sheets, Config{WorkerID: "w1", TransactionMode: TransactionModeSingle})

	outcome, err := p.Process(context.Background(), newMessage("t1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeNackToDLX {
		t.Fatalf("expected OutcomeNackToDLX on mid-transaction write conflict, got %v", outcome)
	}
}

func TestProcessUnexpectedFinalizeErrorFallsBackAndAcks(t *testing.T) {
	store := &fakeStore{claimed: map[string]bool{"t1": true}, txErr: errors.New("disk full")}
	objects := &fakeObjectStore{body: []byte("irrelevant")}
	sheets := &fakeSheetReader{rows: []xlsx.Row{validRow(2, "r1")}}
	p := New(store, objects, sheets, Config{WorkerID: "w1", TransactionMode: TransactionModeSingle})

	outcome, err := p.Process(context.Background(), newMessage("t1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeAck {
		t.Fatalf("expected OutcomeAck via the fallback path, got %v", outcome)
	}
	if store.finalTask == nil || store.finalTask.status != models.TaskFailed {
		t.Fatalf("expected fallback finalize to mark the task FAILED, got %+v", store.finalTask)
	}
}
