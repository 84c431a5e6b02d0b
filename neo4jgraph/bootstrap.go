package neo4jgraph

import (
	"context"
	"fmt"
	"strings"

	"github.com/danielorbach/go-component"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// The constraints and indexes Graph relies on. Uniqueness of entity ids is what
// arbitrates concurrent creations of the same entity.
var schema = []string{
	`CREATE CONSTRAINT entity_id IF NOT EXISTS
	 FOR (e:Entity) REQUIRE e.id IS UNIQUE`,
	`CREATE CONSTRAINT component_type_name IF NOT EXISTS
	 FOR (t:ComponentType) REQUIRE t.name IS UNIQUE`,
	`CREATE CONSTRAINT relationship_type_name IF NOT EXISTS
	 FOR (t:RelationshipType) REQUIRE t.name IS UNIQUE`,
	`CREATE CONSTRAINT component_owner IF NOT EXISTS
	 FOR (c:Component) REQUIRE (c.entity_id, c.type) IS UNIQUE`,
	`CREATE INDEX component_type IF NOT EXISTS
	 FOR (c:Component) ON (c.type)`,
}

// BootstrapDatabase creates the named database, unless it exists, and then
// calls BootstrapSchema on it. Creating databases requires the enterprise
// edition of Neo4j.
//
// To execute queries against the created database, open a session with the
// database name as the default database. For example:
//
//	s := d.NewSession(ctx, neo4j.SessionConfig{DatabaseName: name})
//	defer func() { _ = s.Close(ctx) }()
//	... use s ...
//
// This function is idempotent.
func BootstrapDatabase(ctx context.Context, d neo4j.DriverWithContext, name string) error {
	if err := createDatabase(ctx, d, name); err != nil {
		return fmt.Errorf("create database: %w", err)
	}
	return BootstrapSchema(ctx, d, name)
}

// BootstrapSchema creates the constraints and indexes of the entity graph in an
// existing database.
//
// This function is idempotent.
func BootstrapSchema(ctx context.Context, d neo4j.DriverWithContext, name string) error {
	logger := component.Logger(ctx).With("neo4j.database", name)

	s := d.NewSession(ctx, neo4j.SessionConfig{DatabaseName: name, AccessMode: neo4j.AccessModeWrite})
	defer func() {
		if err := s.Close(ctx); err != nil {
			logger.Error("Failed to close neo4j session", "error", err)
		}
	}()

	// Schema commands cannot share a transaction with each other, so each runs in
	// its own auto-commit transaction.
	for _, stmt := range schema {
		result, err := s.Run(ctx, stmt, nil)
		if err != nil {
			return fmt.Errorf("run %q: %w", firstLine(stmt), err)
		}
		if _, err := result.Consume(ctx); err != nil {
			return fmt.Errorf("run %q: %w", firstLine(stmt), err)
		}
	}
	logger.Debug("Bootstrapped entity graph schema", "statements", len(schema))
	return nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

func createDatabase(ctx context.Context, d neo4j.DriverWithContext, name string) error {
	if name == "" {
		panic("neo4jgraph: database name must not be empty")
	}
	if name == "neo4j" {
		panic("neo4jgraph: database name must not be neo4j: reserved for the default database")
	}
	if strings.HasPrefix(name, "system") || strings.HasPrefix(name, "_") {
		panic("neo4jgraph: Names that begin with an underscore and with the prefix system are reserved for internal use")
	}

	s := d.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer func() { _ = s.Close(ctx) }()

	// Create a new database if it does not exist, and wait until it is online so
	// that the schema can be created right away.
	result, err := s.Run(ctx, `
		CREATE DATABASE $name IF NOT EXISTS WAIT
	`, map[string]any{
		"name": name,
	})
	if err != nil {
		return err
	}
	_, err = result.Consume(ctx)
	return err
}
