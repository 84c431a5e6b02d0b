package neo4jgraph

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var tracer = otel.Tracer("github.com/go-digitaltwin/go-ecr/neo4jgraph")
var meter = otel.Meter("github.com/go-digitaltwin/go-ecr/neo4jgraph")

var (
	// transactionDuration measures managed transactions, retries included, by
	// access mode and outcome.
	transactionDuration metric.Float64Histogram
	// corruptedGraphCounter counts how many times we found the graph violating
	// its invariants, right before panicking.
	corruptedGraphCounter metric.Int64Counter
	// rewrittenNodesCounter counts the nodes and edges converted from the legacy
	// storage format.
	rewrittenNodesCounter metric.Int64Counter
)

func init() {
	// We're initiating the metric instruments on the otel meter. Encounter an error
	// during an instrument's initialisation, triggering a panic. This scenario
	// should not occur, if it does, it is likely related to the attributes applied
	// on the instrument.
	var err error
	transactionDuration, err = meter.Float64Histogram(
		"neo4jgraph.transaction.duration",
		metric.WithDescription("The duration of a managed neo4j transaction, including retries."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		panic(fmt.Sprintf("neo4jgraph: failed to init 'neo4jgraph.transaction.duration' instrument: %v", err))
	}
	corruptedGraphCounter, err = meter.Int64Counter(
		"neo4jgraph.corrupted_graph",
		metric.WithDescription("How many times the graph was found violating entity graph invariants."),
	)
	if err != nil {
		panic(fmt.Sprintf("neo4jgraph: failed to init 'neo4jgraph.corrupted_graph' instrument: %v", err))
	}
	rewrittenNodesCounter, err = meter.Int64Counter(
		"neo4jgraph.legacy.rewritten",
		metric.WithDescription("The number of nodes and edges rewritten from the legacy storage format."),
	)
	if err != nil {
		panic(fmt.Sprintf("neo4jgraph: failed to init 'neo4jgraph.legacy.rewritten' instrument: %v", err))
	}
}

func measureTransaction(ctx context.Context, mode string, err error, d time.Duration) {
	outcome := "committed"
	if err != nil {
		outcome = "failed"
	}
	attrs := attribute.NewSet(
		attribute.String("neo4j.access_mode", mode),
		attribute.String("neo4j.outcome", outcome),
	)
	transactionDuration.Record(ctx, float64(d)/float64(time.Millisecond), metric.WithAttributeSet(attrs))
}
