package neo4jgraph

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/danielorbach/go-component"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/go-digitaltwin/go-ecr"
)

// RewriteLegacyProperties converts entity graphs written by earlier releases to
// the current storage format.
//
// Earlier releases stored the property bag of a component as a single JSON
// string under the `properties` key, and labelled relationship edges with the
// relationship type itself without a `type` property. Components are rewritten
// to hold one prefixed property per entry of their bag, and edges between
// entities gain the `type` property Graph filters on. Edges already carrying a
// label of a well-known verb are given the matching type; every other label is
// taken as the type verbatim.
//
// Running the rewrite on an up-to-date graph is harmless, so it is safe to call
// on every start.
//
// TODO: remove this backwards compatibility scaffolding once all deployed environments are upgraded.
func RewriteLegacyProperties(ctx context.Context, d neo4j.DriverWithContext, name string) error {
	logger := component.Logger(ctx).With("neo4j.database", name)

	s := d.NewSession(ctx, neo4j.SessionConfig{DatabaseName: name, AccessMode: neo4j.AccessModeWrite})
	defer func() {
		if err := s.Close(ctx); err != nil {
			logger.Error("Failed to close neo4j session", "error", err)
		}
	}()

	affected, err := neo4j.ExecuteWrite(ctx, s, func(tx neo4j.ManagedTransaction) (rewriteCount, error) {
		components, err := rewriteLegacyComponents(ctx, tx)
		if err != nil {
			return rewriteCount{}, fmt.Errorf("rewrite components: %w", err)
		}
		edges, err := rewriteLegacyEdges(ctx, tx)
		if err != nil {
			return rewriteCount{}, fmt.Errorf("rewrite edges: %w", err)
		}
		return rewriteCount{components: components, edges: edges}, nil
	})
	if err != nil {
		return err
	}

	rewrittenNodesCounter.Add(ctx, affected.components+affected.edges)
	logger.Info("All legacy properties in the graph were successfully rewritten",
		"components", affected.components,
		"edges", affected.edges,
	)
	return nil
}

type rewriteCount struct {
	components int64
	edges      int64
}

func rewriteLegacyComponents(ctx context.Context, tx neo4j.ManagedTransaction) (int64, error) {
	result, err := tx.Run(ctx, `
		MATCH (c:Component)
		WHERE c.properties IS NOT NULL
		RETURN elementId(c) AS id, c.properties AS properties
	`, nil)
	if err != nil {
		return 0, fmt.Errorf("run cypher: %w", err)
	}
	records, err := result.Collect(ctx)
	if err != nil {
		return 0, fmt.Errorf("collect results: %w", err)
	}

	for _, record := range records {
		id, err := getRecordProperty[string](record, "id")
		if err != nil {
			return 0, fmt.Errorf("get id: %w", err)
		}
		legacy, err := getRecordProperty[string](record, "properties")
		if err != nil {
			return 0, fmt.Errorf("get properties of %v: %w", id, err)
		}
		props, err := decodeLegacyProperties(legacy)
		if err != nil {
			return 0, fmt.Errorf("component %v: %w", id, err)
		}

		result, err := tx.Run(ctx, `
			MATCH (c:Component) WHERE elementId(c) = $id
			SET c += $props
			REMOVE c.properties
		`, map[string]any{"id": id, "props": props})
		if err != nil {
			return 0, fmt.Errorf("run cypher: %w", err)
		}
		if _, err := result.Consume(ctx); err != nil {
			return 0, fmt.Errorf("consume result: %w", err)
		}
	}
	return int64(len(records)), nil
}

// decodeLegacyProperties converts a JSON-encoded property bag to the Neo4j
// properties encodeProperties would have written for it.
func decodeLegacyProperties(legacy string) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal([]byte(legacy), &m); err != nil {
		return nil, fmt.Errorf("decode legacy properties: %w", err)
	}
	bag, err := ecr.DecodeProperties(m)
	if err != nil {
		return nil, err
	}
	props := make(map[string]any, len(bag))
	if err := encodeProperties(bag, props); err != nil {
		return nil, err
	}
	return props, nil
}

func rewriteLegacyEdges(ctx context.Context, tx neo4j.ManagedTransaction) (int64, error) {
	// Invert the label table so that labels of well-known verbs map back to their
	// relationship type.
	types := make(map[string]any, len(edgeLabels))
	for relType, label := range edgeLabels {
		types[label] = relType
	}

	result, err := tx.Run(ctx, `
		MATCH (:Entity)-[r]->(:Entity)
		WHERE r.type IS NULL
		SET r.type = coalesce($types[type(r)], type(r))
		RETURN count(r) AS edges
	`, map[string]any{"types": types})
	if err != nil {
		return 0, fmt.Errorf("run cypher: %w", err)
	}
	record, err := result.Single(ctx)
	if err != nil {
		return 0, fmt.Errorf("query single result: %w", err)
	}
	n, err := getRecordProperty[int64](record, "edges")
	if err != nil {
		return 0, fmt.Errorf("get number of affected edges: %w", err)
	}
	return n, nil
}
