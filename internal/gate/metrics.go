package gate

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("docground.gate")

var (
	claimsTotal      metric.Int64Counter
	evaluationsTotal metric.Int64Counter
	hallRateHist     metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the instruments. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		claimsTotal, err = meter.Int64Counter(
			"docground_claims_total",
			metric.WithDescription("Claims recorded by the hallucination gate"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		evaluationsTotal, err = meter.Int64Counter(
			"docground_gate_evaluations_total",
			metric.WithDescription("Gate snapshots by resulting state"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		hallRateHist, err = meter.Float64Histogram(
			"docground_hall_rate",
			metric.WithDescription("Hallucination rate observed at each gate snapshot"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordClaim(verified bool) {
	if err := initMetrics(); err != nil {
		return
	}
	outcome := "unverified"
	if verified {
		outcome = "verified"
	}
	claimsTotal.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}

func recordEvaluation(state State, hallRate float64) {
	if err := initMetrics(); err != nil {
		return
	}
	ctx := context.Background()
	evaluationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("state", state.String()),
	))
	hallRateHist.Record(ctx, hallRate)
}
