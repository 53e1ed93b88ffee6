package render

import (
	"context"
	"fmt"
	"time"

	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

const (
	sourceRendered   = "rendered"
	sourceCheckpoint = "checkpoint"
)

var (
	sourceKey = tag.MustNewKey("source")

	rowCount      = stats.Int64("cardtrace/rows", "Rows completed", stats.UnitDimensionless)
	sampleCount   = stats.Int64("cardtrace/samples", "Camera rays sampled", stats.UnitDimensionless)
	rowLatencyMil = stats.Float64("cardtrace/row_latency", "Wall time spent rendering one row", stats.UnitMilliseconds)

	rowCountView = &view.View{
		Name:        "cardtrace/rows",
		Description: "Counter of rows completed, by whether they were rendered or loaded from a checkpoint",
		TagKeys:     []tag.Key{sourceKey},
		Measure:     rowCount,
		Aggregation: view.Count(),
	}

	sampleCountView = &view.View{
		Name:        "cardtrace/samples",
		Description: "Total camera rays sampled",
		Measure:     sampleCount,
		Aggregation: view.Sum(),
	}

	rowLatencyView = &view.View{
		Name:        "cardtrace/row_latency",
		Description: "Distribution of per-row render time in milliseconds",
		Measure:     rowLatencyMil,
		Aggregation: view.Distribution(10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000),
	}
)

// RegisterViews registers the render views with OpenCensus.  Measurements are
// recorded whether or not the views are registered.
func RegisterViews() error {
	if err := view.Register(rowCountView, sampleCountView, rowLatencyView); err != nil {
		return fmt.Errorf("while registering render views: %w", err)
	}
	return nil
}

func recordRow(ctx context.Context, source string) {
	stats.RecordWithOptions(
		ctx,
		stats.WithTags(tag.Insert(sourceKey, source)),
		stats.WithMeasurements(rowCount.M(1)))
}

func recordRendered(ctx context.Context, samples int, elapsed time.Duration) {
	stats.Record(ctx,
		sampleCount.M(int64(samples)),
		rowLatencyMil.M(float64(elapsed)/float64(time.Millisecond)))
}
