package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricStagesTotal    = "orion.pipeline.stages.total"
	metricStageDuration  = "orion.pipeline.stage.duration.seconds"
	metricStageErrors    = "orion.pipeline.stage.errors.total"
	metricNormBatches    = "orion.normalization.batches.total"
	metricMergedEntities = "orion.merge.entities.total"
	metricInflightBuilds = "orion.builds.inflight"

	attrSource = "source"
	attrStage  = "stage"
	attrStatus = "status"
	attrKind   = "kind"
)

// stageDurationBoundaries covers sub-second metadata stages through
// multi-hour fetch and normalization runs.
var stageDurationBoundaries = []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600, 7200, 14400}

// PipelineMetrics holds the instruments recorded by source pipelines and
// graph builds.
type PipelineMetrics struct {
	stagesTotal    metric.Int64Counter
	stageDuration  metric.Float64Histogram
	stageErrors    metric.Int64Counter
	normBatches    metric.Int64Counter
	mergedEntities metric.Int64Counter
	inflightBuilds metric.Int64UpDownCounter
}

// NewPipelineMetrics creates the pipeline instruments from the given meter.
func NewPipelineMetrics(mt metric.Meter) (*PipelineMetrics, error) {
	b := newMetricBuilder(mt)

	pm := &PipelineMetrics{
		stagesTotal:    b.counter(metricStagesTotal, "Completed pipeline stages", "{stage}"),
		stageDuration:  b.histogram(metricStageDuration, "Pipeline stage duration in seconds", "s", stageDurationBoundaries...),
		stageErrors:    b.counter(metricStageErrors, "Failed pipeline stages", "{error}"),
		normBatches:    b.counter(metricNormBatches, "Normalization service batches sent", "{batch}"),
		mergedEntities: b.counter(metricMergedEntities, "Entities deduplicated during merge", "{entity}"),
		inflightBuilds: b.upDownCounter(metricInflightBuilds, "Graph builds in flight", "{build}"),
	}

	if b.err != nil {
		return nil, b.err
	}

	return pm, nil
}

// RecordStage records one finished stage with its outcome and duration.
func (pm *PipelineMetrics) RecordStage(ctx context.Context, source, stage, status string, duration time.Duration) {
	if pm == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String(attrSource, source),
		attribute.String(attrStage, stage),
		attribute.String(attrStatus, status),
	)

	pm.stagesTotal.Add(ctx, 1, attrs)
	pm.stageDuration.Record(ctx, duration.Seconds(), attrs)

	if status != "stable" {
		pm.stageErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String(attrSource, source),
			attribute.String(attrStage, stage),
		))
	}
}

// RecordNormalizationBatch records one batch sent to a normalization service.
func (pm *PipelineMetrics) RecordNormalizationBatch(ctx context.Context, kind string) {
	if pm == nil {
		return
	}

	pm.normBatches.Add(ctx, 1, metric.WithAttributes(attribute.String(attrKind, kind)))
}

// RecordMergedEntities records deduplicated entities of one kind.
func (pm *PipelineMetrics) RecordMergedEntities(ctx context.Context, kind string, count int64) {
	if pm == nil {
		return
	}

	pm.mergedEntities.Add(ctx, count, metric.WithAttributes(attribute.String(attrKind, kind)))
}

// TrackBuild increments the in-flight gauge and returns its decrement.
func (pm *PipelineMetrics) TrackBuild(ctx context.Context) func() {
	if pm == nil {
		return func() {}
	}

	pm.inflightBuilds.Add(ctx, 1)

	return func() {
		pm.inflightBuilds.Add(ctx, -1)
	}
}
