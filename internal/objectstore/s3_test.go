package objectstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mac-lisowski/mysmarthotel-task/internal/models"
)

func TestSortedPartsReordersByPartNumber(t *testing.T) {
	in := []models.UploadedPart{
		{PartNumber: 3, ETag: "c"},
		{PartNumber: 1, ETag: "a"},
		{PartNumber: 2, ETag: "b"},
	}
	out := sortedParts(in)
	for i, want := range []string{"a", "b", "c"} {
		if out[i].ETag != want {
			t.Fatalf("index %d: got %q, want %q", i, out[i].ETag, want)
		}
	}
	// original slice is untouched
	if in[0].PartNumber != 3 {
		t.Fatal("sortedParts must not mutate its input")
	}
}

func TestBackoffDelayRespectsCap(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, Base: time.Second, Cap: 5 * time.Second, JitterFrac: 0.25}
	d := backoffDelay(p, 10)
	if d > p.Cap+p.Cap/4 {
		t.Fatalf("backoff %v exceeds cap+jitter %v", d, p.Cap)
	}
}

func TestWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, Base: time.Millisecond, Cap: 2 * time.Millisecond, JitterFrac: 0}
	calls := 0
	err := withRetry(context.Background(), p, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient 5xx")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", calls)
	}
}

func TestWithRetryExhaustsAttempts(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 2, Base: time.Millisecond, Cap: 2 * time.Millisecond, JitterFrac: 0}
	calls := 0
	err := withRetry(context.Background(), p, func() error {
		calls++
		return errors.New("permanent 5xx")
	})
	if err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
	if calls != p.MaxAttempts {
		t.Fatalf("expected %d attempts, got %d", p.MaxAttempts, calls)
	}
}
