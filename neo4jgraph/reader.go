package neo4jgraph

import (
	"context"
	"fmt"
	"strconv"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/go-digitaltwin/go-ecr"
)

// A transaction implements [ecr.GraphWriter] within a single neo4j transaction.
// Read transactions hand it out as an [ecr.GraphReader] only.
type transaction struct {
	tx neo4j.ManagedTransaction
}

// single runs a query expected to return exactly one record.
func (t transaction) single(ctx context.Context, query string, params map[string]any) (*neo4j.Record, error) {
	result, err := t.tx.Run(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("run cypher: %w", err)
	}
	record, err := result.Single(ctx)
	if err != nil {
		return nil, fmt.Errorf("query single result: %w", err)
	}
	return record, nil
}

// count runs a query returning a single count under the given key.
func (t transaction) count(ctx context.Context, key, query string, params map[string]any) (int64, error) {
	record, err := t.single(ctx, query, params)
	if err != nil {
		return 0, err
	}
	n, err := getRecordProperty[int64](record, key)
	if err != nil {
		return 0, fmt.Errorf("get %v: %w", key, err)
	}
	return n, nil
}

// collect runs a query and returns all of its records.
func (t transaction) collect(ctx context.Context, query string, params map[string]any) ([]*neo4j.Record, error) {
	result, err := t.tx.Run(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("run cypher: %w", err)
	}
	records, err := result.Collect(ctx)
	if err != nil {
		return nil, fmt.Errorf("collect results: %w", err)
	}
	return records, nil
}

func (t transaction) EntityExists(ctx context.Context, id string) (bool, error) {
	n, err := t.count(ctx, "entities", `
		MATCH (e:Entity {id: $id})
		RETURN count(e) AS entities
	`, map[string]any{"id": id})
	if err != nil {
		return false, err
	}
	if n > 1 {
		panicWithCorruptedGraph(ctx, fmt.Sprintf("found %v entities with id %q", n, id))
	}
	return n == 1, nil
}

func (t transaction) Entity(ctx context.Context, id string) (ecr.Entity, bool, error) {
	records, err := t.collect(ctx, `
		MATCH (e:Entity {id: $id})
		OPTIONAL MATCH (e)-[:HAS_COMPONENT]->(c:Component)
		RETURN e AS entity, collect(c) AS components
	`, map[string]any{"id": id})
	if err != nil {
		return ecr.Entity{}, false, err
	}
	switch len(records) {
	case 0:
		return ecr.Entity{}, false, nil
	case 1:
	default:
		panicWithCorruptedGraph(ctx, fmt.Sprintf("found %v entities with id %q", len(records), id))
	}
	e, err := parseEntityRecord(records[0])
	if err != nil {
		return ecr.Entity{}, false, err
	}
	return e, true, nil
}

func parseEntityRecord(record *neo4j.Record) (ecr.Entity, error) {
	node, err := getRecordProperty[neo4j.Node](record, "entity")
	if err != nil {
		return ecr.Entity{}, fmt.Errorf("get entity: %w", err)
	}
	components, err := getRecordProperty[[]any](record, "components")
	if err != nil {
		return ecr.Entity{}, fmt.Errorf("get components: %w", err)
	}
	return parseEntity(node, components)
}

func (t transaction) Entities(ctx context.Context, opts ecr.ListOptions) ([]ecr.Entity, error) {
	var componentType any
	if opts.ComponentType != "" {
		componentType = opts.ComponentType
	}
	// Pagination applies to entities before joining their components, otherwise
	// SKIP and LIMIT would count component rows.
	records, err := t.collect(ctx, `
		MATCH (e:Entity)
		WHERE $type IS NULL OR EXISTS { (e)-[:HAS_COMPONENT]->(:Component {type: $type}) }
		WITH e ORDER BY e.id SKIP $offset LIMIT $limit
		OPTIONAL MATCH (e)-[:HAS_COMPONENT]->(c:Component)
		WITH e, collect(c) AS components
		RETURN e AS entity, components
		ORDER BY e.id
	`, map[string]any{
		"type":   componentType,
		"offset": int64(opts.Offset),
		"limit":  int64(opts.Limit),
	})
	if err != nil {
		return nil, err
	}
	all := make([]ecr.Entity, len(records))
	for i, record := range records {
		all[i], err = parseEntityRecord(record)
		if err != nil {
			return nil, err
		}
	}
	return all, nil
}

func (t transaction) Relationships(ctx context.Context, id, relType string) ([]ecr.Relationship, error) {
	var typeFilter any
	if relType != "" {
		typeFilter = relType
	}
	// Only relationship edges carry a type property; ownership edges never lead
	// to an :Entity anyway.
	records, err := t.collect(ctx, `
		MATCH (:Entity {id: $id})-[r]->(b:Entity)
		WHERE r.type IS NOT NULL AND ($type IS NULL OR r.type = $type)
		RETURN r AS relationship, b.id AS to
		ORDER BY r._created_at, elementId(r)
	`, map[string]any{"id": id, "type": typeFilter})
	if err != nil {
		return nil, err
	}
	rels := make([]ecr.Relationship, len(records))
	for i, record := range records {
		to, err := getRecordProperty[string](record, "to")
		if err != nil {
			return nil, fmt.Errorf("get to: %w", err)
		}
		r, err := getRecordProperty[neo4j.Relationship](record, "relationship")
		if err != nil {
			return nil, fmt.Errorf("get relationship: %w", err)
		}
		rels[i], err = parseRelationship(r, id, to)
		if err != nil {
			return nil, err
		}
	}
	return rels, nil
}

func (t transaction) ShortestPath(ctx context.Context, from, to string, maxDepth int) (*ecr.Path, error) {
	// Variable-length bounds cannot be parameterised; maxDepth is an integer we
	// format ourselves.
	query := `
		MATCH (a:Entity {id: $from}), (b:Entity {id: $to})
		MATCH p = shortestPath((a)-[*..` + strconv.Itoa(maxDepth) + `]-(b))
		WHERE all(r IN relationships(p) WHERE r.type IS NOT NULL)
		RETURN p AS path
	`
	records, err := t.collect(ctx, query, map[string]any{"from": from, "to": to})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	p, err := getRecordProperty[neo4j.Path](records[0], "path")
	if err != nil {
		return nil, fmt.Errorf("get path: %w", err)
	}
	return parsePath(p)
}

func parsePath(p neo4j.Path) (*ecr.Path, error) {
	ids := make(map[string]string, len(p.Nodes))
	path := &ecr.Path{EntityIDs: make([]string, len(p.Nodes))}
	for i, n := range p.Nodes {
		id, err := getNodeProperty[string](n.Props, "id")
		if err != nil {
			return nil, fmt.Errorf("get id: %w", err)
		}
		ids[n.ElementId] = id
		path.EntityIDs[i] = id
	}
	path.Segments = make([]ecr.Relationship, len(p.Relationships))
	for i, r := range p.Relationships {
		seg, err := parseRelationship(r, ids[r.StartElementId], ids[r.EndElementId])
		if err != nil {
			return nil, err
		}
		path.Segments[i] = seg
	}
	return path, nil
}

func (t transaction) ComponentType(ctx context.Context, name string) (ecr.ComponentType, bool, error) {
	records, err := t.collect(ctx, `
		MATCH (t:ComponentType {name: $name})
		RETURN t AS type
	`, map[string]any{"name": name})
	if err != nil || len(records) == 0 {
		return ecr.ComponentType{}, false, err
	}
	node, err := getRecordProperty[neo4j.Node](records[0], "type")
	if err != nil {
		return ecr.ComponentType{}, false, fmt.Errorf("get type: %w", err)
	}
	d, err := parseComponentType(node)
	return d, err == nil, err
}

func (t transaction) ComponentTypes(ctx context.Context) ([]ecr.ComponentType, error) {
	records, err := t.collect(ctx, `
		MATCH (t:ComponentType)
		RETURN t AS type
		ORDER BY t.name
	`, nil)
	if err != nil {
		return nil, err
	}
	all := make([]ecr.ComponentType, len(records))
	for i, record := range records {
		node, err := getRecordProperty[neo4j.Node](record, "type")
		if err != nil {
			return nil, fmt.Errorf("get type: %w", err)
		}
		if all[i], err = parseComponentType(node); err != nil {
			return nil, err
		}
	}
	return all, nil
}

func (t transaction) RelationshipType(ctx context.Context, name string) (ecr.RelationshipType, bool, error) {
	records, err := t.collect(ctx, `
		MATCH (t:RelationshipType {name: $name})
		RETURN t AS type
	`, map[string]any{"name": name})
	if err != nil || len(records) == 0 {
		return ecr.RelationshipType{}, false, err
	}
	node, err := getRecordProperty[neo4j.Node](records[0], "type")
	if err != nil {
		return ecr.RelationshipType{}, false, fmt.Errorf("get type: %w", err)
	}
	d, err := parseRelationshipType(node)
	return d, err == nil, err
}

func (t transaction) RelationshipTypes(ctx context.Context) ([]ecr.RelationshipType, error) {
	records, err := t.collect(ctx, `
		MATCH (t:RelationshipType)
		RETURN t AS type
		ORDER BY t.name
	`, nil)
	if err != nil {
		return nil, err
	}
	all := make([]ecr.RelationshipType, len(records))
	for i, record := range records {
		node, err := getRecordProperty[neo4j.Node](record, "type")
		if err != nil {
			return nil, fmt.Errorf("get type: %w", err)
		}
		if all[i], err = parseRelationshipType(node); err != nil {
			return nil, err
		}
	}
	return all, nil
}
