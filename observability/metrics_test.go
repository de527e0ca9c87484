package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics_Registers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordIngest("github", "valid")
	m.RecordReject("unauthorized")
	m.RecordDelivery("delivered", 0.1)
	m.RecordReplaySkip("cooldown")
	m.SetDLQSize(1)
	m.RecordRateLimited()

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	if len(families) != 7 {
		t.Fatalf("expected 7 metric families, got %d", len(families))
	}
}

func TestRecordDelivery(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordDelivery("delivered", 0.5)
	m.RecordDelivery("delivered", 1.2)
	m.RecordDelivery("failed", 0.3)

	if got := testutil.ToFloat64(m.DeliveriesTotal.WithLabelValues("delivered")); got != 2 {
		t.Fatalf("delivered: got %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.DeliveriesTotal.WithLabelValues("failed")); got != 1 {
		t.Fatalf("failed: got %v, want 1", got)
	}
	if n := testutil.CollectAndCount(m.DeliveryLatency); n != 1 {
		t.Fatalf("latency histogram series: got %d, want 1", n)
	}
}

func TestIngestAndGuardCounters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordIngest("stripe", "valid")
	m.RecordIngest("stripe", "skipped")
	m.RecordIngest("stripe", "valid")
	m.RecordReplaySkip("success_ttl")
	m.RecordRateLimited()
	m.RecordRateLimited()

	if got := testutil.ToFloat64(m.EventsIngested.WithLabelValues("stripe", "valid")); got != 2 {
		t.Fatalf("ingested valid: got %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ReplaySkipped.WithLabelValues("success_ttl")); got != 1 {
		t.Fatalf("replay skipped: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RateLimited); got != 2 {
		t.Fatalf("rate limited: got %v, want 2", got)
	}
}

func TestSetDLQSize(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.SetDLQSize(7)
	m.SetDLQSize(3)

	if got := testutil.ToFloat64(m.DLQSize); got != 3 {
		t.Fatalf("dlq size: got %v, want 3", got)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordIngest("github", "valid")
	m.RecordReject("bad_payload")
	m.RecordDelivery("failed", 1)
	m.RecordReplaySkip("cooldown")
	m.SetDLQSize(1)
	m.RecordRateLimited()
}
