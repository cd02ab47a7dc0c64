package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Sumatoshi-tech/maxe/pkg/safeconv"
)

const (
	metricRequestsTotal      = "maxe.control.requests.total"
	metricEscalationsTotal   = "maxe.control.escalations.total"
	metricBarrierWait        = "maxe.control.barrier.wait.seconds"
	metricCheckpointsTotal   = "maxe.checkpoint.writes.total"
	metricCheckpointDuration = "maxe.checkpoint.write.duration.seconds"
	metricCheckpointBytes    = "maxe.checkpoint.bytes"
	metricUnitsTotal         = "maxe.search.units.total"
	metricGeneration         = "maxe.search.generation"

	attrKind   = "kind"
	attrStatus = "status"

	statusOK    = "ok"
	statusError = "error"
)

// durationBuckets covers sub-millisecond barrier hand-offs up to slow
// checkpoint writes on network storage.
var durationBuckets = []float64{
	0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60,
}

// ControlMetrics holds instruments for the break/dump protocol and the
// search it coordinates. All methods are safe on a nil receiver.
type ControlMetrics struct {
	requests           metric.Int64Counter
	escalations        metric.Int64Counter
	barrierWait        metric.Float64Histogram
	checkpoints        metric.Int64Counter
	checkpointDuration metric.Float64Histogram
	checkpointBytes    metric.Int64Gauge
	units              metric.Int64Counter
	generation         metric.Int64Gauge
}

// NewControlMetrics creates the instruments from mt.
func NewControlMetrics(mt metric.Meter) (*ControlMetrics, error) {
	b := newMetricBuilder(mt)

	cm := &ControlMetrics{
		requests:    b.counter(metricRequestsTotal, "Operator requests observed, by kind", "{request}"),
		escalations: b.counter(metricEscalationsTotal, "Repeated breaks that shortened the grace period", "{break}"),
		barrierWait: b.histogram(metricBarrierWait, "Time a worker spent parked at the barrier", "s",
			durationBuckets...),
		checkpoints: b.counter(metricCheckpointsTotal, "Checkpoint writes, by status", "{checkpoint}"),
		checkpointDuration: b.histogram(metricCheckpointDuration, "Checkpoint write duration", "s",
			durationBuckets...),
		checkpointBytes: b.gauge(metricCheckpointBytes, "Size of the last checkpoint artifact", "By"),
		units:           b.counter(metricUnitsTotal, "Work units executed", "{unit}"),
		generation:      b.gauge(metricGeneration, "Current search generation", "{generation}"),
	}

	if b.err != nil {
		return nil, b.err
	}

	return cm, nil
}

// RecordRequest counts n requests of kind ("break" or "dump").
func (cm *ControlMetrics) RecordRequest(ctx context.Context, kind string, n uint64) {
	if cm == nil || n == 0 {
		return
	}

	cm.requests.Add(ctx, safeconv.MustUint64ToInt64(n), metric.WithAttributes(attribute.String(attrKind, kind)))
}

// RecordEscalation counts a repeated break.
func (cm *ControlMetrics) RecordEscalation(ctx context.Context) {
	if cm == nil {
		return
	}

	cm.escalations.Add(ctx, 1)
}

// RecordBarrierWait records how long a worker was parked.
func (cm *ControlMetrics) RecordBarrierWait(ctx context.Context, d time.Duration) {
	if cm == nil {
		return
	}

	cm.barrierWait.Record(ctx, d.Seconds())
}

// RecordCheckpoint records one checkpoint attempt.
func (cm *ControlMetrics) RecordCheckpoint(ctx context.Context, ok bool, d time.Duration) {
	if cm == nil {
		return
	}

	status := statusOK
	if !ok {
		status = statusError
	}

	attrs := metric.WithAttributes(attribute.String(attrStatus, status))
	cm.checkpoints.Add(ctx, 1, attrs)
	cm.checkpointDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordCheckpointSize records the size of the artifact just written.
func (cm *ControlMetrics) RecordCheckpointSize(ctx context.Context, size int64) {
	if cm == nil {
		return
	}

	cm.checkpointBytes.Record(ctx, size)
}

// RecordUnits counts executed work units.
func (cm *ControlMetrics) RecordUnits(ctx context.Context, n int) {
	if cm == nil || n <= 0 {
		return
	}

	cm.units.Add(ctx, int64(n))
}

// RecordGeneration records the generation the search has reached.
func (cm *ControlMetrics) RecordGeneration(ctx context.Context, gen int) {
	if cm == nil {
		return
	}

	cm.generation.Record(ctx, int64(gen))
}
