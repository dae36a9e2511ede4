package metrics

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewProducesIndependentRegistries(t *testing.T) {
	a := New()
	b := New()

	a.TasksCompleted.Inc()

	if got := testutilCounterValue(t, a, "tasks_completed_total"); got != 1 {
		t.Fatalf("registry a: got %v tasks_completed_total, want 1", got)
	}
	if got := testutilCounterValue(t, b, "tasks_completed_total"); got != 0 {
		t.Fatalf("registry b: got %v tasks_completed_total, want 0 (registries must not share state)", got)
	}
}

func TestHandlerServesRegisteredCounters(t *testing.T) {
	r := New()
	r.EventsPublished.Inc()
	r.RowsErrored.Add(3)

	req := httptest.NewRequest(http.MethodGet, "/v1/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "outbox_events_published_total 1") {
		t.Fatalf("body missing outbox_events_published_total: %s", body)
	}
	if !strings.Contains(body, "reservation_rows_errored_total 3") {
		t.Fatalf("body missing reservation_rows_errored_total: %s", body)
	}
}

// testutilCounterValue scrapes a single counter's value out of the
// registry's own handler output, avoiding a dependency on
// prometheus/client_golang/prometheus/testutil for one assertion.
func testutilCounterValue(t *testing.T, r *Registry, name string) float64 {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/v1/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	for _, line := range strings.Split(rec.Body.String(), "\n") {
		if strings.HasPrefix(line, name+" ") {
			var v float64
			if _, err := fmt.Sscan(line[len(name)+1:], &v); err != nil {
				t.Fatalf("parse metric line %q: %v", line, err)
			}
			return v
		}
	}
	return 0
}
