package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type namedEvent string

func (e namedEvent) EventType() string { return string(e) }

func TestEventCounter(t *testing.T) {
	m := Events()
	before := testutil.ToFloat64(m.emitted.WithLabelValues("escrow.funded"))

	var counter EventCounter
	counter.Emit(namedEvent("Escrow.Funded"))
	counter.Emit(nil)
	counter.Emit(namedEvent(""))

	if got := testutil.ToFloat64(m.emitted.WithLabelValues("escrow.funded")); got != before+1 {
		t.Fatalf("emitted counter: want %v, got %v", before+1, got)
	}
	if got := testutil.ToFloat64(m.emitted.WithLabelValues("unknown")); got < 1 {
		t.Fatalf("blank event type should be counted as unknown")
	}
}
