package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("spawn-metrics")

// SpawnMetrics provides metrics collection for spawn sessions
type SpawnMetrics struct {
	spawnsCreatedCounter   metric.Int64Counter
	buildsCompletedCounter metric.Int64Counter
	buildsFailedCounter    metric.Int64Counter
	buildDurationHistogram metric.Float64Histogram
	buildsActiveGauge      metric.Int64UpDownCounter
}

// NewSpawnMetrics creates a new spawn metrics collector
func NewSpawnMetrics() (*SpawnMetrics, error) {
	spawnsCreatedCounter, err := meter.Int64Counter(
		"spawn_orchestrator.spawns.created",
		metric.WithDescription("Total number of spawns created"),
		metric.WithUnit("{spawn}"),
	)
	if err != nil {
		return nil, err
	}

	buildsCompletedCounter, err := meter.Int64Counter(
		"spawn_orchestrator.builds.completed",
		metric.WithDescription("Total number of builds completed successfully"),
		metric.WithUnit("{build}"),
	)
	if err != nil {
		return nil, err
	}

	buildsFailedCounter, err := meter.Int64Counter(
		"spawn_orchestrator.builds.failed",
		metric.WithDescription("Total number of builds that failed"),
		metric.WithUnit("{build}"),
	)
	if err != nil {
		return nil, err
	}

	buildDurationHistogram, err := meter.Float64Histogram(
		"spawn_orchestrator.build.duration",
		metric.WithDescription("Duration of build execution in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	buildsActiveGauge, err := meter.Int64UpDownCounter(
		"spawn_orchestrator.builds.active",
		metric.WithDescription("Number of currently active builds"),
		metric.WithUnit("{build}"),
	)
	if err != nil {
		return nil, err
	}

	return &SpawnMetrics{
		spawnsCreatedCounter:   spawnsCreatedCounter,
		buildsCompletedCounter: buildsCompletedCounter,
		buildsFailedCounter:    buildsFailedCounter,
		buildDurationHistogram: buildDurationHistogram,
		buildsActiveGauge:      buildsActiveGauge,
	}, nil
}

// RecordSpawnCreated records a new spawn entering awaiting-approval
func (sm *SpawnMetrics) RecordSpawnCreated(ctx context.Context, platform string) {
	sm.spawnsCreatedCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("platform", platform),
		),
	)
}

// RecordBuildStarted records a build loop starting
func (sm *SpawnMetrics) RecordBuildStarted(ctx context.Context, platform string) {
	sm.buildsActiveGauge.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("platform", platform),
		),
	)
}

// RecordBuildCompleted records a successful build completion
func (sm *SpawnMetrics) RecordBuildCompleted(ctx context.Context, platform string, duration time.Duration) {
	sm.buildsCompletedCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("platform", platform),
			attribute.String("status", "complete"),
		),
	)
	sm.buildDurationHistogram.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("platform", platform),
			attribute.String("status", "complete"),
		),
	)
	sm.buildsActiveGauge.Add(ctx, -1,
		metric.WithAttributes(
			attribute.String("platform", platform),
		),
	)
}

// RecordBuildFailed records a failed build
func (sm *SpawnMetrics) RecordBuildFailed(ctx context.Context, platform string, duration time.Duration) {
	sm.buildsFailedCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("platform", platform),
			attribute.String("status", "failed"),
		),
	)
	sm.buildDurationHistogram.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("platform", platform),
			attribute.String("status", "failed"),
		),
	)
	sm.buildsActiveGauge.Add(ctx, -1,
		metric.WithAttributes(
			attribute.String("platform", platform),
		),
	)
}
