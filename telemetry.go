package ecr

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var tracer = otel.Tracer("github.com/go-digitaltwin/go-ecr")
var meter = otel.Meter("github.com/go-digitaltwin/go-ecr")

// operationName is the attribute key associating each record with the
// EntityStore operation that produced it.
const operationName = "ecr.operation"

var (
	// operationDuration measures successful EntityStore mutations, from the start
	// of validation to the commit of the transaction.
	operationDuration metric.Float64Histogram
	// operationFailures counts EntityStore mutations that returned an error,
	// including validation failures.
	operationFailures metric.Int64Counter
	// validationFailures counts write requests rejected by the Validator.
	validationFailures metric.Int64Counter
	// notificationFailures counts committed changes that could not be published.
	notificationFailures metric.Int64Counter
)

func init() {
	var err error
	operationDuration, err = meter.Float64Histogram(
		"ecr.operation.duration",
		metric.WithDescription("The duration of a successful entity store mutation."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		panic("ecr: failed to init 'ecr.operation.duration' instrument")
	}
	operationFailures, err = meter.Int64Counter(
		"ecr.operation.failures",
		metric.WithDescription("The number of entity store mutations that failed."),
	)
	if err != nil {
		panic("ecr: failed to init 'ecr.operation.failures' instrument")
	}
	validationFailures, err = meter.Int64Counter(
		"ecr.validation.failures",
		metric.WithDescription("The number of write requests rejected by validation."),
	)
	if err != nil {
		panic("ecr: failed to init 'ecr.validation.failures' instrument")
	}
	notificationFailures, err = meter.Int64Counter(
		"ecr.notification.failures",
		metric.WithDescription("The number of committed changes that could not be published."),
	)
	if err != nil {
		panic("ecr: failed to init 'ecr.notification.failures' instrument")
	}
}

// measureOperation records either the duration of a successful operation or a
// failure, labelled with the operation name.
func measureOperation(ctx context.Context, op string, succeeded bool, d time.Duration) {
	attrs := attribute.NewSet(attribute.String(operationName, op))
	if succeeded {
		// Floating-point division keeps sub-millisecond precision.
		duration := float64(d) / float64(time.Millisecond)
		operationDuration.Record(ctx, duration, metric.WithAttributeSet(attrs))
	} else {
		operationFailures.Add(ctx, 1, metric.WithAttributeSet(attrs))
	}
}
