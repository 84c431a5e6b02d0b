// Package ecr provides an Entity-Component-Relationship storage engine for
// runtime-typed "things" (building equipment, sensors, locations) kept in a
// property graph.
//
// An Entity is an addressable node composed of Components; every Component is
// a property bag whose shape is declared by a ComponentType registered at
// runtime with a TypeRegistry. Entities are linked by typed, directed
// Relationships, themselves described by RelationshipTypes.
//
// The EntityStore validates instance data with a Validator before writing it to
// a Graph in a single transaction. Graph engines live in sub-packages (see
// neo4jgraph and memgraph); the graphtest package holds the conformance suite
// every engine must pass.
//
// Metrics of entities flow through a separate path, see the timeseries package.
package ecr
