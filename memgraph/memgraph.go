// Package memgraph implements ecr.Graph in memory.
//
// Write transactions run against a private copy of the graph that replaces the
// live state only when the transaction succeeds, so a failed transaction
// leaves no trace. Writers are serialised; readers share the live state.
//
// The graph lives for as long as the process does. Use it for tests, tools and
// embedded deployments that do not need a graph database.
package memgraph

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/go-digitaltwin/go-ecr"
)

// Graph is an in-memory ecr.Graph. The zero value is not usable; call New.
type Graph struct {
	mu    sync.RWMutex
	state *state
}

// New returns an empty Graph.
func New() *Graph {
	return &Graph{state: newState()}
}

func (g *Graph) Update(ctx context.Context, fn func(ctx context.Context, tx ecr.GraphWriter) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	next := g.state.clone()
	if err := fn(ctx, &transaction{s: next}); err != nil {
		return err
	}
	g.state = next
	return nil
}

func (g *Graph) View(ctx context.Context, fn func(ctx context.Context, tx ecr.GraphReader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return fn(ctx, &transaction{s: g.state})
}

type state struct {
	entities          map[string]*entity
	edges             []ecr.Relationship
	componentTypes    map[string]ecr.ComponentType
	relationshipTypes map[string]ecr.RelationshipType
}

type entity struct {
	id         string
	createdAt  time.Time
	updatedAt  time.Time
	components map[string]ecr.Component
}

func newState() *state {
	return &state{
		entities:          make(map[string]*entity),
		componentTypes:    make(map[string]ecr.ComponentType),
		relationshipTypes: make(map[string]ecr.RelationshipType),
	}
}

// clone copies everything a transaction may modify. Property maps are shared
// because they are replaced, never modified in place.
func (s *state) clone() *state {
	next := &state{
		entities:          make(map[string]*entity, len(s.entities)),
		edges:             slices.Clone(s.edges),
		componentTypes:    maps.Clone(s.componentTypes),
		relationshipTypes: maps.Clone(s.relationshipTypes),
	}
	for id, e := range s.entities {
		x := *e
		x.components = maps.Clone(e.components)
		next.entities[id] = &x
	}
	return next
}

// A transaction reads and writes a single state. Read-only transactions are
// only ever handed out as ecr.GraphReader.
type transaction struct {
	s *state
}

func (t *transaction) EntityExists(_ context.Context, id string) (bool, error) {
	_, ok := t.s.entities[id]
	return ok, nil
}

func (t *transaction) Entity(_ context.Context, id string) (ecr.Entity, bool, error) {
	e, ok := t.s.entities[id]
	if !ok {
		return ecr.Entity{}, false, nil
	}
	return e.export(), true, nil
}

func (e *entity) export() ecr.Entity {
	x := ecr.Entity{
		ID:         e.id,
		CreatedAt:  e.createdAt,
		UpdatedAt:  e.updatedAt,
		Components: make([]ecr.Component, 0, len(e.components)),
	}
	for _, c := range e.components {
		x.Components = append(x.Components, ecr.Component{Type: c.Type, Properties: maps.Clone(c.Properties)})
	}
	x.SortComponents()
	return x
}

func (t *transaction) Entities(_ context.Context, opts ecr.ListOptions) ([]ecr.Entity, error) {
	ids := make([]string, 0, len(t.s.entities))
	for id, e := range t.s.entities {
		if opts.ComponentType != "" {
			if _, ok := e.components[opts.ComponentType]; !ok {
				continue
			}
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	if opts.Offset >= len(ids) {
		return []ecr.Entity{}, nil
	}
	ids = ids[opts.Offset:]
	if len(ids) > opts.Limit {
		ids = ids[:opts.Limit]
	}
	all := make([]ecr.Entity, len(ids))
	for i, id := range ids {
		all[i] = t.s.entities[id].export()
	}
	return all, nil
}

func (t *transaction) Relationships(_ context.Context, id, relType string) ([]ecr.Relationship, error) {
	rels := []ecr.Relationship{}
	for _, e := range t.s.edges {
		if e.From != id || (relType != "" && e.Type != relType) {
			continue
		}
		rels = append(rels, exportRelationship(e))
	}
	return rels, nil
}

func exportRelationship(r ecr.Relationship) ecr.Relationship {
	r.Properties = maps.Clone(r.Properties)
	return r
}

// ShortestPath runs a breadth-first search over the edges, ignoring their
// direction. Neighbours are visited in edge insertion order, so equally short
// paths resolve deterministically.
func (t *transaction) ShortestPath(_ context.Context, from, to string, maxDepth int) (*ecr.Path, error) {
	if _, ok := t.s.entities[from]; !ok {
		return nil, nil
	}
	if _, ok := t.s.entities[to]; !ok {
		return nil, nil
	}

	adjacent := make(map[string][]int)
	for i, e := range t.s.edges {
		adjacent[e.From] = append(adjacent[e.From], i)
		if e.To != e.From {
			adjacent[e.To] = append(adjacent[e.To], i)
		}
	}

	visited := map[string]step{from: {edge: -1}}
	frontier := []string{from}
	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, id := range frontier {
			for _, i := range adjacent[id] {
				r := t.s.edges[i]
				other := r.To
				if other == id {
					other = r.From
				}
				if _, seen := visited[other]; seen {
					continue
				}
				visited[other] = step{prev: id, edge: i}
				if other == to {
					return t.walkBack(visited, from, to), nil
				}
				next = append(next, other)
			}
		}
		frontier = next
	}
	return nil, nil
}

// A step records how the search first reached an entity.
type step struct {
	prev string
	edge int
}

func (t *transaction) walkBack(visited map[string]step, from, to string) *ecr.Path {
	var (
		ids  = []string{to}
		segs []ecr.Relationship
	)
	for id := to; id != from; {
		s := visited[id]
		segs = append(segs, exportRelationship(t.s.edges[s.edge]))
		ids = append(ids, s.prev)
		id = s.prev
	}
	slices.Reverse(ids)
	slices.Reverse(segs)
	return &ecr.Path{EntityIDs: ids, Segments: segs}
}

func (t *transaction) ComponentType(_ context.Context, name string) (ecr.ComponentType, bool, error) {
	d, ok := t.s.componentTypes[name]
	d.Properties = slices.Clone(d.Properties)
	return d, ok, nil
}

func (t *transaction) ComponentTypes(_ context.Context) ([]ecr.ComponentType, error) {
	all := make([]ecr.ComponentType, 0, len(t.s.componentTypes))
	for _, d := range t.s.componentTypes {
		d.Properties = slices.Clone(d.Properties)
		all = append(all, d)
	}
	return all, nil
}

func (t *transaction) RelationshipType(_ context.Context, name string) (ecr.RelationshipType, bool, error) {
	d, ok := t.s.relationshipTypes[name]
	d.Properties = slices.Clone(d.Properties)
	return d, ok, nil
}

func (t *transaction) RelationshipTypes(_ context.Context) ([]ecr.RelationshipType, error) {
	all := make([]ecr.RelationshipType, 0, len(t.s.relationshipTypes))
	for _, d := range t.s.relationshipTypes {
		d.Properties = slices.Clone(d.Properties)
		all = append(all, d)
	}
	return all, nil
}

func (t *transaction) CreateEntity(_ context.Context, id string, at time.Time) error {
	if _, ok := t.s.entities[id]; ok {
		return errDuplicateEntity(id)
	}
	t.s.entities[id] = &entity{
		id:         id,
		createdAt:  at,
		updatedAt:  at,
		components: make(map[string]ecr.Component),
	}
	return nil
}

func (t *transaction) DeleteEntity(_ context.Context, id string) (bool, error) {
	if _, ok := t.s.entities[id]; !ok {
		return false, nil
	}
	delete(t.s.entities, id)
	t.s.edges = slices.DeleteFunc(t.s.edges, func(e ecr.Relationship) bool {
		return e.From == id || e.To == id
	})
	return true, nil
}

func (t *transaction) TouchEntity(_ context.Context, id string, at time.Time) (bool, error) {
	e, ok := t.s.entities[id]
	if !ok {
		return false, nil
	}
	e.updatedAt = at
	return true, nil
}

func (t *transaction) AddComponent(_ context.Context, entityID string, c ecr.Component, _ time.Time) (bool, error) {
	e, ok := t.s.entities[entityID]
	if !ok {
		return false, nil
	}
	if _, dup := e.components[c.Type]; dup {
		return false, errDuplicateComponent(entityID, c.Type)
	}
	e.components[c.Type] = ecr.Component{Type: c.Type, Properties: cloneProps(c.Properties)}
	return true, nil
}

func (t *transaction) SetComponentProperties(_ context.Context, entityID, componentType string, props map[string]ecr.Value, _ time.Time) (bool, error) {
	e, ok := t.s.entities[entityID]
	if !ok {
		return false, nil
	}
	if _, ok := e.components[componentType]; !ok {
		return false, nil
	}
	e.components[componentType] = ecr.Component{Type: componentType, Properties: cloneProps(props)}
	return true, nil
}

func (t *transaction) RemoveComponent(_ context.Context, entityID, componentType string) (int, error) {
	e, ok := t.s.entities[entityID]
	if !ok {
		return 0, nil
	}
	if componentType == "" {
		n := len(e.components)
		e.components = make(map[string]ecr.Component)
		return n, nil
	}
	if _, ok := e.components[componentType]; !ok {
		return 0, nil
	}
	delete(e.components, componentType)
	return 1, nil
}

func (t *transaction) CreateRelationship(_ context.Context, r ecr.Relationship, _ time.Time) (bool, error) {
	if _, ok := t.s.entities[r.From]; !ok {
		return false, nil
	}
	if _, ok := t.s.entities[r.To]; !ok {
		return false, nil
	}
	r.Properties = cloneProps(r.Properties)
	t.s.edges = append(t.s.edges, r)
	return true, nil
}

func (t *transaction) DeleteRelationships(_ context.Context, from, to, relType string) (int, error) {
	before := len(t.s.edges)
	t.s.edges = slices.DeleteFunc(t.s.edges, func(e ecr.Relationship) bool {
		return e.From == from && e.To == to && e.Type == relType
	})
	return before - len(t.s.edges), nil
}

func (t *transaction) PutComponentType(_ context.Context, d ecr.ComponentType) error {
	d.Properties = slices.Clone(d.Properties)
	t.s.componentTypes[d.Name] = d
	return nil
}

func (t *transaction) DeleteComponentType(_ context.Context, name string) (bool, error) {
	_, ok := t.s.componentTypes[name]
	delete(t.s.componentTypes, name)
	return ok, nil
}

func (t *transaction) PutRelationshipType(_ context.Context, d ecr.RelationshipType) error {
	d.Properties = slices.Clone(d.Properties)
	t.s.relationshipTypes[d.Name] = d
	return nil
}

func (t *transaction) DeleteRelationshipType(_ context.Context, name string) (bool, error) {
	_, ok := t.s.relationshipTypes[name]
	delete(t.s.relationshipTypes, name)
	return ok, nil
}

// cloneProps copies a property bag the way Neo4j would store it: without nil
// values and with dates in UTC.
func cloneProps(props map[string]ecr.Value) map[string]ecr.Value {
	clone := make(map[string]ecr.Value, len(props))
	for k, v := range props {
		switch x := v.(type) {
		case nil:
		case ecr.Date:
			clone[k] = ecr.Date{Time: x.Time.UTC()}
		default:
			clone[k] = v
		}
	}
	return clone
}

func errDuplicateEntity(id string) error {
	return fmt.Errorf("entity %q: %w", id, ecr.ErrAlreadyExists)
}

func errDuplicateComponent(entityID, componentType string) error {
	return fmt.Errorf("entity %q owns component %q: %w", entityID, componentType, ecr.ErrAlreadyExists)
}
