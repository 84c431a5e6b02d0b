// Package neo4jgraph implements ecr.Graph on Neo4j.
//
// Entities are stored as :Entity nodes and each of their components as a
// :Component node owned through a HAS_COMPONENT edge. Relationships between
// entities are edges labelled from a fixed set of verbs (see EdgeLabel) that
// carry the relationship type as their `type` property. Registered types are
// stored as :ComponentType and :RelationshipType nodes.
//
// Call BootstrapDatabase or BootstrapSchema before use to create the
// constraints the Graph relies on.
package neo4jgraph

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/danielorbach/go-component"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-digitaltwin/go-ecr"
)

// Graph maintains the entity graph on a Neo4j database.
//
// Each call to Update or View executes in its own managed transaction, which
// the driver retries on transient failures and rolls back should the callback
// fail. Graph holds no locks of its own; isolation between concurrent
// transactions is provided by Neo4j and its uniqueness constraints.
type Graph struct {
	driver   neo4j.DriverWithContext // Connection to the neo4j server/cluster.
	database string                  // Target database name that identifies the specific underlying neo4j graph.
}

// New returns a Graph using the given database. The caller keeps ownership of
// the driver and closes it after use.
func New(driver neo4j.DriverWithContext, database string) *Graph {
	return &Graph{driver: driver, database: database}
}

// Update runs fn in a write transaction.
//
// The function panics in two scenarios:
//
//   - The underlying graph has been corrupted, e.g. it holds two entities with
//     the same id. This is detected by the transaction methods which panic on
//     their own.
//
//   - A developer changed a Cypher query, but missed some code that relied on
//     that query. This is indicated by errPropertyNotFound or
//     unexpectedPropertyTypeError, causing this function to panic.
func (g *Graph) Update(ctx context.Context, fn func(ctx context.Context, tx ecr.GraphWriter) error) error {
	return g.execute(ctx, neo4j.AccessModeWrite, func(ctx context.Context, tx neo4j.ManagedTransaction) error {
		return fn(ctx, transaction{tx: tx})
	})
}

// View runs fn in a read transaction. It panics under the same conditions as
// Update.
func (g *Graph) View(ctx context.Context, fn func(ctx context.Context, tx ecr.GraphReader) error) error {
	return g.execute(ctx, neo4j.AccessModeRead, func(ctx context.Context, tx neo4j.ManagedTransaction) error {
		return fn(ctx, transaction{tx: tx})
	})
}

func (g *Graph) execute(ctx context.Context, mode neo4j.AccessMode, work func(context.Context, neo4j.ManagedTransaction) error) (err error) {
	modeName := accessModeName(mode)
	ctx, span := tracer.Start(ctx, "Graph."+modeName, trace.WithAttributes(
		attribute.String("neo4j.database", g.database),
	))
	defer span.End()
	logger := component.Logger(ctx).With("neo4j.database", g.database)
	ctx = component.InjectLogger(ctx, logger)

	// We open a new session for every transaction so that session-specific errors
	// and resources never carry over to subsequent operations.
	s := g.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: g.database,
		AccessMode:   mode,
	})
	defer func() {
		if err := s.Close(ctx); err != nil {
			logger.Error("Failed to close session", "error", err, "mode", modeName)
		}
	}()

	start := time.Now()
	defer func() { measureTransaction(ctx, modeName, err, time.Since(start)) }()

	// The callback may run more than once when the driver retries; only the error
	// of the last attempt matters.
	var workErr error
	callback := func(tx neo4j.ManagedTransaction) (any, error) {
		workErr = work(ctx, tx)
		return nil, workErr
	}
	if mode == neo4j.AccessModeWrite {
		_, err = s.ExecuteWrite(ctx, callback)
	} else {
		_, err = s.ExecuteRead(ctx, callback)
	}
	if err == nil {
		return nil
	}
	span.SetStatus(codes.Error, err.Error())

	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, errPropertyNotFound) || errors.As(err, &unexpectedPropertyTypeError{}):
		logger.Error("A Cypher query was modified without care", "error", err)
		panic(fmt.Errorf("seek developer attention: neo4j cypher query: %w", err))
	case isConstraintViolation(err) && !errors.Is(err, ecr.ErrAlreadyExists):
		return fmt.Errorf("%w: %w", ecr.ErrAlreadyExists, err)
	case neo4j.IsConnectivityError(err):
		return fmt.Errorf("%w: neo4j: %w", ecr.ErrStoreUnavailable, err)
	case err == workErr:
		// Errors of the callback itself are already meaningful to the caller.
		return err
	}
	return fmt.Errorf("neo4j execute: %w", err)
}

func accessModeName(mode neo4j.AccessMode) string {
	if mode == neo4j.AccessModeWrite {
		return "Update"
	}
	return "View"
}

// Neo4j reports violations of uniqueness constraints with this status code.
const constraintViolationCode = "Neo.ClientError.Schema.ConstraintValidationFailed"

func isConstraintViolation(err error) bool {
	var neoErr *neo4j.Neo4jError
	return errors.As(err, &neoErr) && neoErr.Code == constraintViolationCode
}

// A errPropertyNotFound occurs when a property of Node/Edge is missing.
//
// When encountering this error, it most likely occurs when changing a Cypher
// query without modifying the surrounding code properly. Expect a panic
// eventually.
var errPropertyNotFound = errors.New("property not found")

// An unexpectedPropertyTypeError occurs when a property of Node/Edge has a
// runtime type that is different from the expected type. The error message
// contains the effective type of the property at runtime.
//
// When encountering this error, it most likely occurs when changing a Cypher
// query without modifying dependent code properly. Expect a panic eventually.
type unexpectedPropertyTypeError struct {
	Type reflect.Type // Effective type encountered at runtime.
}

func (e unexpectedPropertyTypeError) Error() string {
	if e.Type == nil {
		return "unexpected property type: nil"
	}
	return "unexpected property type: " + e.Type.String()
}

// We modify the underlying neo4j graph database in a way that prompts us when
// the graph violates some of our basic constraints.
//
// When we suspect the graph has lost its integrity, we may no longer operate on
// it. In which case, we must immediately stop all operations. This is achieved
// with a panic preceded by telemetry signals (traces, metrics, and logs) to
// bring the situation to our immediate attention.
func panicWithCorruptedGraph(ctx context.Context, reason string) {
	component.Logger(ctx).ErrorContext(ctx, "Encountered corrupted neo4j graph that violates entity graph invariants", "error", reason)
	trace.SpanFromContext(ctx).SetStatus(codes.Error, reason)
	corruptedGraphCounter.Add(ctx, 1)
	panic(fmt.Errorf("neo4j graph violates entity graph invariants: %v", reason))
}
