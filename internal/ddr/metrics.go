package ddr

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("docground.ddr")

var (
	batchDuration metric.Float64Histogram
	batchClaims   metric.Int64Histogram
	cacheLookups  metric.Int64Counter
	retryAttempts metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the instruments. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		batchDuration, err = meter.Float64Histogram(
			"docground_batch_duration_seconds",
			metric.WithDescription("Duration of claim batch validation"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		batchClaims, err = meter.Int64Histogram(
			"docground_batch_claims",
			metric.WithDescription("Claims processed per batch"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheLookups, err = meter.Int64Counter(
			"docground_result_cache_lookups_total",
			metric.WithDescription("Validation result cache lookups"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		retryAttempts, err = meter.Int64Counter(
			"docground_retry_attempts_total",
			metric.WithDescription("Generation attempts run by the retry controller"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordBatch(ctx context.Context, b *BatchResult) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("canceled", b.Canceled))
	batchDuration.Record(ctx, b.Duration.Seconds(), attrs)
	batchClaims.Record(ctx, int64(b.Progress.Processed), attrs)
}

func recordCacheLookup(ctx context.Context, hit bool) {
	if err := initMetrics(); err != nil {
		return
	}
	cacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.Bool("hit", hit)))
}

func recordAttempt(ctx context.Context, accepted bool) {
	if err := initMetrics(); err != nil {
		return
	}
	retryAttempts.Add(ctx, 1, metric.WithAttributes(attribute.Bool("accepted", accepted)))
}
