package neo4jgraph

import (
	"context"
	"fmt"
	"time"

	"github.com/go-digitaltwin/go-ecr"
)

func (t transaction) CreateEntity(ctx context.Context, id string, at time.Time) error {
	// The uniqueness constraint on Entity.id rejects a concurrent creation of the
	// same id; Graph maps that violation to ecr.ErrAlreadyExists.
	result, err := t.tx.Run(ctx, `
		CREATE (:Entity {id: $id, created_at: $now, updated_at: $now})
	`, map[string]any{"id": id, "now": at})
	if err != nil {
		return fmt.Errorf("run cypher: %w", err)
	}
	if _, err := result.Consume(ctx); err != nil {
		return fmt.Errorf("consume result: %w", err)
	}
	return nil
}

func (t transaction) DeleteEntity(ctx context.Context, id string) (bool, error) {
	// Component nodes are owned by their entity and go along with it. DETACH
	// removes every relationship the entity takes part in, in either direction.
	n, err := t.count(ctx, "entities", `
		MATCH (e:Entity {id: $id})
		OPTIONAL MATCH (e)-[:HAS_COMPONENT]->(c:Component)
		WITH e, collect(c) AS components
		FOREACH (c IN components | DETACH DELETE c)
		DETACH DELETE e
		RETURN count(*) AS entities
	`, map[string]any{"id": id})
	if err != nil {
		return false, err
	}
	if n > 1 {
		panicWithCorruptedGraph(ctx, fmt.Sprintf("delete-entity removed %v entities instead of 0/1", n))
	}
	return n == 1, nil
}

func (t transaction) TouchEntity(ctx context.Context, id string, at time.Time) (bool, error) {
	n, err := t.count(ctx, "entities", `
		MATCH (e:Entity {id: $id})
		SET e.updated_at = $now
		RETURN count(e) AS entities
	`, map[string]any{"id": id, "now": at})
	if err != nil {
		return false, err
	}
	if n > 1 {
		panicWithCorruptedGraph(ctx, fmt.Sprintf("touch-entity modified %v entities instead of 0/1", n))
	}
	return n == 1, nil
}

func (t transaction) AddComponent(ctx context.Context, entityID string, c ecr.Component, at time.Time) (bool, error) {
	props, err := componentProperties(entityID, c)
	if err != nil {
		return false, err
	}
	// The composite uniqueness constraint on (entity_id, type) rejects a second
	// component of the same type.
	n, err := t.count(ctx, "components", `
		MATCH (e:Entity {id: $id})
		CREATE (e)-[:HAS_COMPONENT]->(c:Component)
		SET c = $props, c._created_at = $now, c._last_modified = $now
		RETURN count(c) AS components
	`, map[string]any{"id": entityID, "props": props, "now": at})
	if err != nil {
		return false, err
	}
	if n > 1 {
		panicWithCorruptedGraph(ctx, fmt.Sprintf("add-component created %v components instead of 0/1", n))
	}
	return n == 1, nil
}

func (t transaction) SetComponentProperties(ctx context.Context, entityID, componentType string, bag map[string]ecr.Value, at time.Time) (bool, error) {
	props, err := componentProperties(entityID, ecr.Component{Type: componentType, Properties: bag})
	if err != nil {
		return false, err
	}
	// Replacing all properties drops those absent from the new bag; the creation
	// time is carried over.
	n, err := t.count(ctx, "components", `
		MATCH (:Entity {id: $id})-[:HAS_COMPONENT]->(c:Component {type: $type})
		WITH c, c._created_at AS created
		SET c = $props
		SET c._created_at = created, c._last_modified = $now
		RETURN count(c) AS components
	`, map[string]any{"id": entityID, "type": componentType, "props": props, "now": at})
	if err != nil {
		return false, err
	}
	if n > 1 {
		panicWithCorruptedGraph(ctx, fmt.Sprintf("entity %q owns %v components of type %q", entityID, n, componentType))
	}
	return n == 1, nil
}

func (t transaction) RemoveComponent(ctx context.Context, entityID, componentType string) (int, error) {
	var typeFilter any
	if componentType != "" {
		typeFilter = componentType
	}
	n, err := t.count(ctx, "components", `
		MATCH (:Entity {id: $id})-[:HAS_COMPONENT]->(c:Component)
		WHERE $type IS NULL OR c.type = $type
		DETACH DELETE c
		RETURN count(c) AS components
	`, map[string]any{"id": entityID, "type": typeFilter})
	if err != nil {
		return 0, err
	}
	if componentType != "" && n > 1 {
		panicWithCorruptedGraph(ctx, fmt.Sprintf("entity %q owned %v components of type %q", entityID, n, componentType))
	}
	return int(n), nil
}

func (t transaction) CreateRelationship(ctx context.Context, r ecr.Relationship, at time.Time) (bool, error) {
	props, err := relationshipProperties(r)
	if err != nil {
		return false, err
	}
	// EdgeLabel only ever returns labels from a fixed table.
	query := `
		MATCH (a:Entity {id: $from}), (b:Entity {id: $to})
		CREATE (a)-[r:` + EdgeLabel(r.Type) + `]->(b)
		SET r = $props, r._created_at = $now
		RETURN count(r) AS edges
	`
	n, err := t.count(ctx, "edges", query, map[string]any{
		"from":  r.From,
		"to":    r.To,
		"props": props,
		"now":   at,
	})
	if err != nil {
		return false, err
	}
	if n > 1 {
		panicWithCorruptedGraph(ctx, fmt.Sprintf("create-relationship created %v edges instead of 0/1", n))
	}
	return n == 1, nil
}

func (t transaction) DeleteRelationships(ctx context.Context, from, to, relType string) (int, error) {
	n, err := t.count(ctx, "edges", `
		MATCH (:Entity {id: $from})-[r]->(:Entity {id: $to})
		WHERE r.type = $type
		DELETE r
		RETURN count(r) AS edges
	`, map[string]any{"from": from, "to": to, "type": relType})
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (t transaction) PutComponentType(ctx context.Context, d ecr.ComponentType) error {
	return t.putDescriptor(ctx, "ComponentType", d.Name, componentTypeProperties(d))
}

func (t transaction) PutRelationshipType(ctx context.Context, d ecr.RelationshipType) error {
	return t.putDescriptor(ctx, "RelationshipType", d.Name, relationshipTypeProperties(d))
}

// putDescriptor upserts a descriptor node. The label is one of our own two
// descriptor labels.
func (t transaction) putDescriptor(ctx context.Context, label, name string, props map[string]any) error {
	n, err := t.count(ctx, "types", `
		MERGE (t:`+label+` {name: $name})
		ON CREATE SET t._created_at = datetime()
		SET t += $props, t._last_modified = datetime()
		RETURN count(t) AS types
	`, map[string]any{"name": name, "props": props})
	if err != nil {
		return err
	}
	if n != 1 {
		panicWithCorruptedGraph(ctx, fmt.Sprintf("put %v modified %v nodes instead of 1", label, n))
	}
	return nil
}

func (t transaction) DeleteComponentType(ctx context.Context, name string) (bool, error) {
	return t.deleteDescriptor(ctx, "ComponentType", name)
}

func (t transaction) DeleteRelationshipType(ctx context.Context, name string) (bool, error) {
	return t.deleteDescriptor(ctx, "RelationshipType", name)
}

func (t transaction) deleteDescriptor(ctx context.Context, label, name string) (bool, error) {
	n, err := t.count(ctx, "types", `
		MATCH (t:`+label+` {name: $name})
		DELETE t
		RETURN count(t) AS types
	`, map[string]any{"name": name})
	if err != nil {
		return false, err
	}
	if n > 1 {
		panicWithCorruptedGraph(ctx, fmt.Sprintf("delete %v removed %v nodes instead of 0/1", label, n))
	}
	return n == 1, nil
}

// Compile-time check that transaction implements ecr.GraphWriter.
var _ ecr.GraphWriter = transaction{}
