package observability

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestEscrowMetricsRecord(t *testing.T) {
	m := EscrowMetrics()
	if m != EscrowMetrics() {
		t.Fatalf("registry must be a singleton")
	}

	before := testutil.ToFloat64(m.operations.WithLabelValues("fund", "InvalidState"))
	m.Observe("fund", "InvalidState", 3*time.Millisecond)
	if got := testutil.ToFloat64(m.operations.WithLabelValues("fund", "InvalidState")); got != before+1 {
		t.Fatalf("operations counter: want %v, got %v", before+1, got)
	}

	m.Observe("", "", time.Millisecond)
	if got := testutil.ToFloat64(m.operations.WithLabelValues("unknown", "ok")); got < 1 {
		t.Fatalf("blank labels should fall back to defaults")
	}

	m.RecordTransition("Funded", "Completed")
	if got := testutil.ToFloat64(m.transitions.WithLabelValues("Funded", "Completed")); got < 1 {
		t.Fatalf("transition not counted")
	}
	m.RecordVote("favor_buyer")
	m.RecordTrustSettlement("completed")
	if got := testutil.ToFloat64(m.votes.WithLabelValues("favor_buyer")); got < 1 {
		t.Fatalf("vote not counted")
	}
}

func TestNotifierMetrics(t *testing.T) {
	m := Notifier()
	m.RecordMessage("mtn", "pin")
	m.RecordThrottle("")
	if got := testutil.ToFloat64(m.messages.WithLabelValues("mtn", "pin")); got < 1 {
		t.Fatalf("message not counted")
	}
	if got := testutil.ToFloat64(m.throttled.WithLabelValues("unknown")); got < 1 {
		t.Fatalf("throttle not counted")
	}

	var nilMetrics *EscrowEngineMetrics
	nilMetrics.Observe("fund", "ok", time.Second)
}

func gatherFamily(t *testing.T, name string) *dto.MetricFamily {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, family := range families {
		if family.GetName() == name {
			return family
		}
	}
	return nil
}

func TestEscrowLatencyHistogramExported(t *testing.T) {
	EscrowMetrics().Observe("release", "ok", 25*time.Millisecond)

	family := gatherFamily(t, "spaza_escrow_operation_duration_seconds")
	if family == nil {
		t.Fatalf("latency histogram not registered")
	}
	if family.GetType() != dto.MetricType_HISTOGRAM {
		t.Fatalf("unexpected metric type %v", family.GetType())
	}
	var samples uint64
	for _, metric := range family.GetMetric() {
		samples += metric.GetHistogram().GetSampleCount()
	}
	if samples == 0 {
		t.Fatalf("expected at least one latency sample")
	}
}

func TestSettlementsNilSafe(t *testing.T) {
	var m *SettlementMetrics
	m.Record(context.Background(), "Completed", "zar", 10)
	Settlements().Record(context.Background(), "Completed", "zar", 10)
}
