package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mac-lisowski/mysmarthotel-task/internal/models"
)

type fakeStore struct {
	events       []models.Event
	claimErr     error
	publishErr   error
	recoveredN   int64
	recoverErr   error
	publishedIDs []string
	staleBefore  time.Time
}

func (s *fakeStore) ClaimNewEvents(ctx context.Context, workerID string, batchSize int64, now time.Time) ([]models.Event, error) {
	if s.claimErr != nil {
		return nil, s.claimErr
	}
	return s.events, nil
}

func (s *fakeStore) PublishAndMarkEvent(ctx context.Context, ev models.Event, workerID string, now time.Time, publish func(ctx context.Context, ev models.Event) error) error {
	if s.publishErr != nil {
		return s.publishErr
	}
	if err := publish(ctx, ev); err != nil {
		return err
	}
	s.publishedIDs = append(s.publishedIDs, ev.ID)
	return nil
}

func (s *fakeStore) RecoverStaleEvents(ctx context.Context, staleBefore time.Time) (int64, error) {
	s.staleBefore = staleBefore
	return s.recoveredN, s.recoverErr
}

type fakePublisher struct {
	err       error
	published []string
}

func (p *fakePublisher) PublishEvent(ctx context.Context, ev models.Event) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, ev.ID)
	return nil
}

func TestPublishNewEventsMarksEachClaimedEvent(t *testing.T) {
	store := &fakeStore{events: []models.Event{{ID: "e1"}, {ID: "e2"}}}
	pub := &fakePublisher{}
	d := New(store, pub, Config{WorkerID: "w1"}, zap.NewNop(), nil)

	d.publishNewEvents(context.Background())

	if len(store.publishedIDs) != 2 {
		t.Fatalf("expected 2 events published, got %d", len(store.publishedIDs))
	}
}

func TestPublishNewEventsSkipsFailedEventsWithoutAbortingBatch(t *testing.T) {
	store := &fakeStore{events: []models.Event{{ID: "e1"}, {ID: "e2"}}, publishErr: errors.New("lost claim")}
	pub := &fakePublisher{}
	d := New(store, pub, Config{WorkerID: "w1"}, zap.NewNop(), nil)

	d.publishNewEvents(context.Background())

	if len(store.publishedIDs) != 0 {
		t.Fatalf("expected no events marked published, got %d", len(store.publishedIDs))
	}
}

func TestPublishNewEventsClaimErrorDoesNotPanic(t *testing.T) {
	store := &fakeStore{claimErr: errors.New("mongo down")}
	pub := &fakePublisher{}
	d := New(store, pub, Config{WorkerID: "w1"}, zap.NewNop(), nil)

	d.publishNewEvents(context.Background())
}

func TestRecoverStaleEventsUsesStaleThreshold(t *testing.T) {
	store := &fakeStore{recoveredN: 3}
	pub := &fakePublisher{}
	d := New(store, pub, Config{WorkerID: "w1", StaleThreshold: time.Minute}, zap.NewNop(), nil)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	d.recoverStaleEvents(context.Background())

	if want := now.Add(-time.Minute); !store.staleBefore.Equal(want) {
		t.Fatalf("expected staleBefore %v, got %v", want, store.staleBefore)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	store := &fakeStore{}
	pub := &fakePublisher{}
	d := New(store, pub, Config{WorkerID: "w1", PublishInterval: time.Millisecond, RecoverInterval: time.Millisecond}, zap.NewNop(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
