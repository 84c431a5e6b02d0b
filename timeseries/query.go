package timeseries

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// A Querier reads points back from a timeseries backend.
type Querier interface {
	// Latest returns the most recent point of every requested field.
	Latest(ctx context.Context, q LatestQuery) ([]Point, error)
	// History returns the points of the requested fields within a time range,
	// optionally aggregated over fixed windows.
	History(ctx context.Context, q HistoryQuery) ([]Point, error)
}

// Aggregate names a window aggregation function.
type Aggregate string

const (
	AggregateNone  Aggregate = ""
	AggregateMean  Aggregate = "mean"
	AggregateSum   Aggregate = "sum"
	AggregateMin   Aggregate = "min"
	AggregateMax   Aggregate = "max"
	AggregateLast  Aggregate = "last"
	AggregateFirst Aggregate = "first"
)

// Known reports whether a is one of the supported aggregation functions.
func (a Aggregate) Known() bool {
	switch a {
	case AggregateNone, AggregateMean, AggregateSum, AggregateMin, AggregateMax, AggregateLast, AggregateFirst:
		return true
	}
	return false
}

// LatestQuery selects the latest values of an entity's metrics.
type LatestQuery struct {
	EntityID string
	// Fields restricts the result to the named fields; empty selects all.
	Fields []string
	// Lookback bounds how far back to search; zero selects DefaultLookback.
	Lookback time.Duration
}

// DefaultLookback is applied when LatestQuery.Lookback is zero.
const DefaultLookback = 24 * time.Hour

// HistoryQuery selects an entity's metrics within [Start, Stop).
type HistoryQuery struct {
	EntityID string
	Fields   []string
	Start    time.Time
	Stop     time.Time
	// Window and Aggregate must be set together.
	Window    time.Duration
	Aggregate Aggregate
}

func (q LatestQuery) validate() error {
	if q.EntityID == "" {
		return fmt.Errorf("%w: empty entity id", ErrInvalidQuery)
	}
	if q.Lookback < 0 {
		return fmt.Errorf("%w: negative lookback %v", ErrInvalidQuery, q.Lookback)
	}
	return nil
}

func (q HistoryQuery) validate() error {
	switch {
	case q.EntityID == "":
		return fmt.Errorf("%w: empty entity id", ErrInvalidQuery)
	case q.Start.IsZero():
		return fmt.Errorf("%w: missing start", ErrInvalidQuery)
	case !q.Stop.IsZero() && !q.Stop.After(q.Start):
		return fmt.Errorf("%w: stop %v is not after start %v", ErrInvalidQuery, q.Stop, q.Start)
	case !q.Aggregate.Known():
		return fmt.Errorf("%w: unknown aggregate %q", ErrInvalidQuery, q.Aggregate)
	case q.Window < 0:
		return fmt.Errorf("%w: negative window %v", ErrInvalidQuery, q.Window)
	case (q.Window == 0) != (q.Aggregate == AggregateNone):
		return fmt.Errorf("%w: window and aggregate must be set together", ErrInvalidQuery)
	}
	return nil
}

// QueryLatest validates q, filling in defaults, and passes it to src.
func QueryLatest(ctx context.Context, src Querier, q LatestQuery) (points []Point, err error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	if q.Lookback == 0 {
		q.Lookback = DefaultLookback
	}
	ctx, span := tracer.Start(ctx, "QueryLatest", trace.WithAttributes(
		attribute.String("timeseries.entity", q.EntityID),
	))
	defer span.End()
	points, err = src.Latest(ctx, q)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query latest: %w", err)
	}
	return points, nil
}

// QueryHistory validates q, filling in defaults, and passes it to src. A zero
// Stop selects the current time.
func QueryHistory(ctx context.Context, src Querier, q HistoryQuery) (points []Point, err error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	if q.Stop.IsZero() {
		q.Stop = time.Now()
	}
	ctx, span := tracer.Start(ctx, "QueryHistory", trace.WithAttributes(
		attribute.String("timeseries.entity", q.EntityID),
		attribute.String("timeseries.aggregate", string(q.Aggregate)),
	))
	defer span.End()
	points, err = src.History(ctx, q)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query history: %w", err)
	}
	return points, nil
}
