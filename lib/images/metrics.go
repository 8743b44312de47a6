package images

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the metrics instruments for image operations.
type Metrics struct {
	operationsTotal metric.Int64Counter
	importDuration  metric.Float64Histogram
}

// newMetrics creates and registers all image metrics.
func newMetrics(meter metric.Meter, m *manager) (*Metrics, error) {
	operationsTotal, err := meter.Int64Counter(
		"imageman_images_operations_total",
		metric.WithDescription("Total image operations by kind and status"),
	)
	if err != nil {
		return nil, err
	}

	importDuration, err := meter.Float64Histogram(
		"imageman_images_import_duration_seconds",
		metric.WithDescription("Time to provision an image, including re-extraction and import"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	imagesTotal, err := meter.Int64ObservableGauge(
		"imageman_images_total",
		metric.WithDescription("Number of tracked images by source type"),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			counts := make(map[SourceType]int64)
			for _, entry := range m.index.snapshot() {
				counts[entry.SourceType]++
			}
			for sourceType, count := range counts {
				o.ObserveInt64(imagesTotal, count,
					metric.WithAttributes(attribute.String("source_type", string(sourceType))))
			}
			return nil
		},
		imagesTotal,
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		operationsTotal: operationsTotal,
		importDuration:  importDuration,
	}, nil
}

// recordOperation counts one create/clone/delete outcome.
func (m *manager) recordOperation(ctx context.Context, kind, status string) {
	if m.metrics == nil {
		return
	}
	m.metrics.operationsTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("status", status),
		))
}

// recordImportDuration records how long a successful provisioning took.
func (m *manager) recordImportDuration(ctx context.Context, elapsed time.Duration) {
	if m.metrics == nil {
		return
	}
	m.metrics.importDuration.Record(ctx, elapsed.Seconds())
}
