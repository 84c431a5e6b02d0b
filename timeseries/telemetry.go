package timeseries

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var tracer = otel.Tracer("github.com/go-digitaltwin/go-ecr/timeseries")
var meter = otel.Meter("github.com/go-digitaltwin/go-ecr/timeseries")

var (
	// flushDuration measures calls to the backend, by outcome.
	flushDuration metric.Float64Histogram
	// flushedPoints counts the points written to the backend successfully.
	flushedPoints metric.Int64Counter
	// droppedPoints counts the points discarded because the buffer was full,
	// by the operation that discarded them.
	droppedPoints metric.Int64Counter
	// ingestedMessages counts the messages consumed by Consume, by outcome.
	ingestedMessages metric.Int64Counter
)

func init() {
	var err error
	flushDuration, err = meter.Float64Histogram(
		"timeseries.flush.duration",
		metric.WithDescription("The duration of writing a batch of points to the backend."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		panic(fmt.Sprintf("timeseries: failed to init 'timeseries.flush.duration' instrument: %v", err))
	}
	flushedPoints, err = meter.Int64Counter(
		"timeseries.points.flushed",
		metric.WithDescription("The number of points written to the backend."),
	)
	if err != nil {
		panic(fmt.Sprintf("timeseries: failed to init 'timeseries.points.flushed' instrument: %v", err))
	}
	droppedPoints, err = meter.Int64Counter(
		"timeseries.points.dropped",
		metric.WithDescription("The number of points discarded because the buffer was full."),
	)
	if err != nil {
		panic(fmt.Sprintf("timeseries: failed to init 'timeseries.points.dropped' instrument: %v", err))
	}
	ingestedMessages, err = meter.Int64Counter(
		"timeseries.ingest.messages",
		metric.WithDescription("The number of metric messages consumed from the subscription."),
	)
	if err != nil {
		panic(fmt.Sprintf("timeseries: failed to init 'timeseries.ingest.messages' instrument: %v", err))
	}
}

func measureFlush(ctx context.Context, points int, err error, d time.Duration) {
	outcome := "written"
	if err != nil {
		outcome = "failed"
	}
	attrs := attribute.NewSet(attribute.String("timeseries.outcome", outcome))
	flushDuration.Record(ctx, float64(d)/float64(time.Millisecond), metric.WithAttributeSet(attrs))
	if err == nil {
		flushedPoints.Add(ctx, int64(points))
	}
}

func measureDrop(ctx context.Context, op string, n int) {
	if n == 0 {
		return
	}
	droppedPoints.Add(ctx, int64(n), metric.WithAttributes(attribute.String("timeseries.op", op)))
}

func measureIngest(ctx context.Context, outcome string) {
	ingestedMessages.Add(ctx, 1, metric.WithAttributes(attribute.String("timeseries.outcome", outcome)))
}
