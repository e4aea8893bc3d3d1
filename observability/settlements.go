package observability

import (
	"context"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

var (
	settlementOnce    sync.Once
	settlementMetrics *SettlementMetrics
)

// SettlementMetrics exports escrow settlements through the OpenTelemetry meter
// installed by observability/otel.Init.
type SettlementMetrics struct {
	settled metric.Int64Counter
	volume  metric.Float64Counter
}

// Settlements returns the shared settlement instruments.
func Settlements() *SettlementMetrics {
	settlementOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("spazaescrow/escrow")
		settled, err := meter.Int64Counter("spaza.escrow.settled",
			metric.WithDescription("Escrows that reached a terminal state with a payout."))
		if err != nil {
			settled, _ = noop.NewMeterProvider().Meter("spazaescrow/escrow").Int64Counter("spaza.escrow.settled")
		}
		volume, err := meter.Float64Counter("spaza.escrow.settled_volume",
			metric.WithDescription("Settled amount by currency."))
		if err != nil {
			volume, _ = noop.NewMeterProvider().Meter("spazaescrow/escrow").Float64Counter("spaza.escrow.settled_volume")
		}
		settlementMetrics = &SettlementMetrics{settled: settled, volume: volume}
	})
	return settlementMetrics
}

// Record counts one settlement paid out in the given terminal state.
func (m *SettlementMetrics) Record(ctx context.Context, state, currency string, amount float64) {
	if m == nil || m.settled == nil || m.volume == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("state", normaliseLabel(state, "unknown")),
		attribute.String("currency", strings.ToUpper(normaliseLabel(currency, "unknown"))),
	)
	m.settled.Add(ctx, 1, attrs)
	if amount > 0 {
		m.volume.Add(ctx, amount, attrs)
	}
}
