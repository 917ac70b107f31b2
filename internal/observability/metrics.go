package observability

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/autumn-ma/django-culture"

var (
	metricsOnce       sync.Once
	repoOpsCounter    metric.Int64Counter
	flagEvalCounter   metric.Int64Counter
	cacheEventCounter metric.Int64Counter
)

func initMetrics() {
	meter := otel.GetMeterProvider().Meter(meterName)
	repoOpsCounter, _ = meter.Int64Counter("repository_operations_total",
		metric.WithDescription("Repository operations by entity, operation and outcome"))
	flagEvalCounter, _ = meter.Int64Counter("feature_flag_evaluations_total",
		metric.WithDescription("Feature flag evaluations by flag, path and result"))
	cacheEventCounter, _ = meter.Int64Counter("feature_flag_cache_events_total",
		metric.WithDescription("Evaluation cache events by outcome"))
}

func RecordRepositoryOperation(ctx context.Context, entity, operation, outcome string) {
	metricsOnce.Do(initMetrics)
	if repoOpsCounter == nil {
		return
	}
	repoOpsCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("entity", entity),
			attribute.String("operation", operation),
			attribute.String("outcome", outcome),
		))
}

// RecordFlagEvaluation counts an evaluation decision. Path names which branch
// produced the result: cache_hit, not_found, inactive, override or rollout.
func RecordFlagEvaluation(ctx context.Context, flagName, path string, result bool) {
	metricsOnce.Do(initMetrics)
	if flagEvalCounter == nil {
		return
	}
	flagEvalCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("flag", flagName),
			attribute.String("path", path),
			attribute.Bool("result", result),
		))
}

func RecordCacheEvent(ctx context.Context, outcome string) {
	metricsOnce.Do(initMetrics)
	if cacheEventCounter == nil {
		return
	}
	cacheEventCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
