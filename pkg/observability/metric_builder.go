package observability

import (
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// metricBuilder creates instruments on one meter and collects every
// creation failure, so a constructor checks err once at the end.
type metricBuilder struct {
	meter metric.Meter
	err   error
}

func newMetricBuilder(mt metric.Meter) *metricBuilder {
	return &metricBuilder{meter: mt}
}

func (b *metricBuilder) counter(name, desc, unit string) metric.Int64Counter {
	inst, err := b.meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
	b.note(name, err)

	return inst
}

// histogram records seconds or bytes; bounds overrides the SDK buckets.
func (b *metricBuilder) histogram(name, desc, unit string, bounds ...float64) metric.Float64Histogram {
	inst, err := b.meter.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit(unit),
		metric.WithExplicitBucketBoundaries(bounds...))
	b.note(name, err)

	return inst
}

func (b *metricBuilder) gauge(name, desc, unit string) metric.Int64Gauge {
	inst, err := b.meter.Int64Gauge(name, metric.WithDescription(desc), metric.WithUnit(unit))
	b.note(name, err)

	return inst
}

func (b *metricBuilder) note(name string, err error) {
	if err != nil {
		b.err = errors.Join(b.err, fmt.Errorf("instrument %s: %w", name, err))
	}
}
