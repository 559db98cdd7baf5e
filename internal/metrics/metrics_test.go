package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandler_ExposesRegisteredSeries(t *testing.T) {
	m := NewRegistry()
	m.Checkouts.Inc()
	m.KeypadEntries.WithLabelValues("qty").Inc()
	m.JobsEnqueued.WithLabelValues("SALE_ORDER").Add(2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	out := string(body)

	for _, want := range []string{
		"spos_checkouts_total 1",
		`spos_keypad_entries_total{mode="qty"} 1`,
		`spos_jobs_enqueued_total{type="SALE_ORDER"} 2`,
		"spos_queue_depth 0",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}

func TestNewRegistry_Independent(t *testing.T) {
	// Each registry owns its collectors; building two must not panic on duplicate registration.
	a, b := NewRegistry(), NewRegistry()
	a.OrdersCreated.Inc()
	if a == b {
		t.Fatalf("registries should be distinct")
	}
}
