package ecr

import (
	"context"
	"time"
)

// A Graph is a transactional property-graph engine holding entities,
// components, relationships and the type registries.
//
// Update runs fn in a write transaction and commits when fn returns nil; any
// error rolls the transaction back, as if fn was never called. View runs fn in
// a read transaction. Engines may call fn more than once when retrying
// transient failures, so fn must not keep side effects outside the
// transaction.
//
// Both methods are called concurrently. Engines report transport failures by
// wrapping ErrStoreUnavailable and uniqueness violations by wrapping
// ErrAlreadyExists.
type Graph interface {
	Update(ctx context.Context, fn func(ctx context.Context, tx GraphWriter) error) error
	View(ctx context.Context, fn func(ctx context.Context, tx GraphReader) error) error
}

// GraphReader defines the read operations available within a transaction.
type GraphReader interface {
	// EntityExists reports whether an entity with the given id is stored.
	EntityExists(ctx context.Context, id string) (bool, error)
	// Entity returns the entity joined with all the components it owns.
	Entity(ctx context.Context, id string) (e Entity, ok bool, err error)
	// Entities returns entities ordered by id. opts.Limit is always positive.
	Entities(ctx context.Context, opts ListOptions) ([]Entity, error)
	// Relationships returns the outgoing relationships of an entity, filtered by
	// type unless relType is empty.
	Relationships(ctx context.Context, id, relType string) ([]Relationship, error)
	// ShortestPath returns the shortest undirected path of at most maxDepth hops
	// between two distinct entities, or nil when there is none.
	ShortestPath(ctx context.Context, from, to string, maxDepth int) (*Path, error)

	ComponentType(ctx context.Context, name string) (ComponentType, bool, error)
	ComponentTypes(ctx context.Context) ([]ComponentType, error)
	RelationshipType(ctx context.Context, name string) (RelationshipType, bool, error)
	RelationshipTypes(ctx context.Context) ([]RelationshipType, error)
}

// GraphWriter extends GraphReader with the mutations the EntityStore and the
// TypeRegistry compose into transactions.
//
// Mutations addressing a missing entity report it through their boolean
// result rather than an error; the caller decides which absence is an error.
type GraphWriter interface {
	GraphReader

	// CreateEntity inserts a new entity node. It fails with ErrAlreadyExists when
	// the id is taken.
	CreateEntity(ctx context.Context, id string, at time.Time) error
	// DeleteEntity removes the entity, its component nodes and every
	// relationship where it is source or target.
	DeleteEntity(ctx context.Context, id string) (bool, error)
	// TouchEntity bumps the entity's update time.
	TouchEntity(ctx context.Context, id string, at time.Time) (bool, error)

	// AddComponent creates a component node owned by the entity. Callers must
	// ensure the entity does not own a component of the same type already.
	AddComponent(ctx context.Context, entityID string, c Component, at time.Time) (bool, error)
	// SetComponentProperties overwrites the property bag of an owned component.
	SetComponentProperties(ctx context.Context, entityID, componentType string, props map[string]Value, at time.Time) (bool, error)
	// RemoveComponent deletes an owned component of the given type, or all owned
	// components when componentType is empty. It returns how many were removed.
	RemoveComponent(ctx context.Context, entityID, componentType string) (int, error)

	// CreateRelationship inserts a new edge between two existing entities.
	CreateRelationship(ctx context.Context, r Relationship, at time.Time) (bool, error)
	// DeleteRelationships removes every edge of the given type from one entity to
	// another, returning how many were removed.
	DeleteRelationships(ctx context.Context, from, to, relType string) (int, error)

	PutComponentType(ctx context.Context, t ComponentType) error
	DeleteComponentType(ctx context.Context, name string) (bool, error)
	PutRelationshipType(ctx context.Context, t RelationshipType) error
	DeleteRelationshipType(ctx context.Context, name string) (bool, error)
}
