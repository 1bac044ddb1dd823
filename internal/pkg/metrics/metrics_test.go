package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.LedgerOp("debit", nil)
	m.ProviderCall("get_number", errors.New("x"), time.Second)
	m.Sweep(3, nil)
	m.PaymentCallback("stripe", "completed")
}

func TestCountersAndHandler(t *testing.T) {
	m := New()

	m.LedgerOp("debit", nil)
	m.LedgerOp("debit", errors.New("insufficient"))
	m.RentalTransition("expired")
	m.Sweep(2, nil)
	m.PaymentCallback("stripe", "duplicate")

	if got := testutil.ToFloat64(m.LedgerOps.WithLabelValues("debit", "error")); got != 1 {
		t.Fatalf("expected 1 failed debit, got %v", got)
	}
	if got := testutil.ToFloat64(m.SweepExpired); got != 2 {
		t.Fatalf("expected 2 expired, got %v", got)
	}

	if got := testutil.ToFloat64(m.PaymentCallbacks.WithLabelValues("stripe", "duplicate")); got != 1 {
		t.Fatalf("expected 1 duplicate callback, got %v", got)
	}

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(w.Body)
	if !strings.Contains(string(body), "otp_api_rental_transitions_total") {
		t.Fatal("expected rental transition series in scrape output")
	}
}
