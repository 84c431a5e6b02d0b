package ecr

import (
	"context"
	"fmt"
	"time"

	"github.com/danielorbach/go-component"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// EntityStore owns the lifecycle of entities, their components and the
// relationships between them.
//
// Every operation runs in its own Graph transaction; the store holds no locks
// across calls. Concurrent creations of the same id are arbitrated by the
// graph's uniqueness constraint, and concurrent updates of one entity are
// last-writer-wins. Failed writes are never retried by the store.
type EntityStore struct {
	graph     Graph
	registry  *TypeRegistry
	validator *Validator
	notifier  Notifier
	now       func() time.Time
}

// An Option configures an EntityStore.
type Option func(*EntityStore)

// WithNotifier publishes a Change to n after every committed mutation.
func WithNotifier(n Notifier) Option {
	return func(s *EntityStore) { s.notifier = n }
}

// WithClock replaces time.Now as the source of entity timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *EntityStore) { s.now = now }
}

// NewEntityStore returns an EntityStore writing to g and validating against r.
func NewEntityStore(g Graph, r *TypeRegistry, opts ...Option) *EntityStore {
	s := &EntityStore{
		graph:     g,
		registry:  r,
		validator: NewValidator(r),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry returns the TypeRegistry the store validates against.
func (s *EntityStore) Registry() *TypeRegistry { return s.registry }

// Validator returns the Validator used by the store.
func (s *EntityStore) Validator() *Validator { return s.validator }

func (s *EntityStore) timestamp() time.Time {
	// Neo4j keeps nanoseconds but drops the monotonic clock reading; strip it here
	// so every engine returns the same value we wrote.
	return s.now().UTC().Round(0)
}

// CreateEntity validates every component, then stores the entity and its
// components atomically and returns the stored entity.
//
// Validation errors of all components are reported together in a
// *ValidationError. The call fails with ErrAlreadyExists when the id is taken,
// leaving the existing entity untouched.
func (s *EntityStore) CreateEntity(ctx context.Context, id string, components []Component) (e Entity, err error) {
	ctx, end := s.startOp(ctx, "CreateEntity", id)
	defer func() { end(err) }()

	if id == "" {
		return Entity{}, fmt.Errorf("%w: empty entity id", ErrInvalidArgument)
	}
	if err := s.validateComponents(ctx, components); err != nil {
		return Entity{}, err
	}

	now := s.timestamp()
	err = s.graph.Update(ctx, func(ctx context.Context, tx GraphWriter) error {
		exists, err := tx.EntityExists(ctx, id)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("entity %q: %w", id, ErrAlreadyExists)
		}
		if err := tx.CreateEntity(ctx, id, now); err != nil {
			return fmt.Errorf("create entity: %w", err)
		}
		for _, c := range components {
			if _, err := tx.AddComponent(ctx, id, cloneComponent(c), now); err != nil {
				return fmt.Errorf("add component %q: %w", c.Type, err)
			}
		}
		e, err = readEntity(ctx, tx, id)
		return err
	})
	if err != nil {
		return Entity{}, err
	}
	s.notify(ctx, Change{Kind: EntityCreated, EntityID: id, Entity: &e})
	return e, nil
}

// GetEntity returns the entity with all its components, or nil when no such
// entity exists.
func (s *EntityStore) GetEntity(ctx context.Context, id string) (*Entity, error) {
	var (
		e  Entity
		ok bool
	)
	err := s.graph.View(ctx, func(ctx context.Context, tx GraphReader) (err error) {
		e, ok, err = tx.Entity(ctx, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get entity: %w", err)
	}
	if !ok {
		return nil, nil
	}
	e.SortComponents()
	return &e, nil
}

// ListEntities returns a page of entities ordered by id, optionally limited to
// those owning a component of opts.ComponentType.
func (s *EntityStore) ListEntities(ctx context.Context, opts ListOptions) ([]Entity, error) {
	if opts.Limit < 0 || opts.Offset < 0 {
		return nil, fmt.Errorf("%w: negative limit or offset", ErrInvalidArgument)
	}
	if opts.Limit == 0 {
		opts.Limit = DefaultListLimit
	}
	var all []Entity
	err := s.graph.View(ctx, func(ctx context.Context, tx GraphReader) (err error) {
		all, err = tx.Entities(ctx, opts)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	for i := range all {
		all[i].SortComponents()
	}
	return all, nil
}

// UpdateEntity replaces the entire component set of an existing entity.
func (s *EntityStore) UpdateEntity(ctx context.Context, id string, components []Component) (e Entity, err error) {
	ctx, end := s.startOp(ctx, "UpdateEntity", id)
	defer func() { end(err) }()

	if err := s.validateComponents(ctx, components); err != nil {
		return Entity{}, err
	}

	now := s.timestamp()
	err = s.graph.Update(ctx, func(ctx context.Context, tx GraphWriter) error {
		exists, err := tx.EntityExists(ctx, id)
		if err != nil {
			return err
		}
		if !exists {
			return notFound("entity", id)
		}
		if _, err := tx.RemoveComponent(ctx, id, ""); err != nil {
			return fmt.Errorf("remove components: %w", err)
		}
		for _, c := range components {
			if _, err := tx.AddComponent(ctx, id, cloneComponent(c), now); err != nil {
				return fmt.Errorf("add component %q: %w", c.Type, err)
			}
		}
		if _, err := tx.TouchEntity(ctx, id, now); err != nil {
			return fmt.Errorf("touch entity: %w", err)
		}
		e, err = readEntity(ctx, tx, id)
		return err
	})
	if err != nil {
		return Entity{}, err
	}
	s.notify(ctx, Change{Kind: EntityUpdated, EntityID: id, Entity: &e})
	return e, nil
}

// AddComponent attaches a new component to an existing entity. It fails with
// ErrAlreadyExists when the entity already owns a component of that type; use
// UpdateComponent to change it instead.
func (s *EntityStore) AddComponent(ctx context.Context, entityID string, c Component) (err error) {
	ctx, end := s.startOp(ctx, "AddComponent", entityID)
	defer func() { end(err) }()

	if err := s.validateComponents(ctx, []Component{c}); err != nil {
		return err
	}
	now := s.timestamp()
	var e Entity
	err = s.graph.Update(ctx, func(ctx context.Context, tx GraphWriter) error {
		current, ok, err := tx.Entity(ctx, entityID)
		if err != nil {
			return err
		}
		if !ok {
			return notFound("entity", entityID)
		}
		if _, owned := current.Component(c.Type); owned {
			return fmt.Errorf("entity %q owns component %q: %w", entityID, c.Type, ErrAlreadyExists)
		}
		if _, err := tx.AddComponent(ctx, entityID, cloneComponent(c), now); err != nil {
			return fmt.Errorf("add component: %w", err)
		}
		if _, err := tx.TouchEntity(ctx, entityID, now); err != nil {
			return fmt.Errorf("touch entity: %w", err)
		}
		e, err = readEntity(ctx, tx, entityID)
		return err
	})
	if err != nil {
		return err
	}
	s.notify(ctx, Change{Kind: EntityUpdated, EntityID: entityID, Entity: &e})
	return nil
}

// RemoveComponent detaches the component of the given type. Removing a type
// the entity does not own is a no-op; a missing entity is ErrNotFound.
func (s *EntityStore) RemoveComponent(ctx context.Context, entityID, componentType string) (err error) {
	ctx, end := s.startOp(ctx, "RemoveComponent", entityID)
	defer func() { end(err) }()

	if componentType == "" {
		return fmt.Errorf("%w: empty component type", ErrInvalidArgument)
	}
	now := s.timestamp()
	var (
		e       Entity
		removed int
	)
	err = s.graph.Update(ctx, func(ctx context.Context, tx GraphWriter) error {
		exists, err := tx.EntityExists(ctx, entityID)
		if err != nil {
			return err
		}
		if !exists {
			return notFound("entity", entityID)
		}
		removed, err = tx.RemoveComponent(ctx, entityID, componentType)
		if err != nil {
			return fmt.Errorf("remove component: %w", err)
		}
		if removed == 0 {
			return nil
		}
		if _, err := tx.TouchEntity(ctx, entityID, now); err != nil {
			return fmt.Errorf("touch entity: %w", err)
		}
		e, err = readEntity(ctx, tx, entityID)
		return err
	})
	if err != nil {
		return err
	}
	if removed > 0 {
		s.notify(ctx, Change{Kind: EntityUpdated, EntityID: entityID, Entity: &e})
	}
	return nil
}

// UpdateComponent validates props and overwrites the property bag of the
// entity's component of that type.
func (s *EntityStore) UpdateComponent(ctx context.Context, entityID, componentType string, props map[string]Value) (err error) {
	ctx, end := s.startOp(ctx, "UpdateComponent", entityID)
	defer func() { end(err) }()

	c := Component{Type: componentType, Properties: props}
	if err := s.validateComponents(ctx, []Component{c}); err != nil {
		return err
	}
	now := s.timestamp()
	var e Entity
	err = s.graph.Update(ctx, func(ctx context.Context, tx GraphWriter) error {
		ok, err := tx.SetComponentProperties(ctx, entityID, componentType, cloneProperties(props), now)
		if err != nil {
			return fmt.Errorf("set component properties: %w", err)
		}
		if !ok {
			exists, err := tx.EntityExists(ctx, entityID)
			if err != nil {
				return err
			}
			if !exists {
				return notFound("entity", entityID)
			}
			return notFound("component", entityID+"/"+componentType)
		}
		if _, err := tx.TouchEntity(ctx, entityID, now); err != nil {
			return fmt.Errorf("touch entity: %w", err)
		}
		e, err = readEntity(ctx, tx, entityID)
		return err
	})
	if err != nil {
		return err
	}
	s.notify(ctx, Change{Kind: EntityUpdated, EntityID: entityID, Entity: &e})
	return nil
}

// DeleteEntity removes the entity, its components and every relationship it
// takes part in. It reports whether the entity existed.
func (s *EntityStore) DeleteEntity(ctx context.Context, id string) (deleted bool, err error) {
	ctx, end := s.startOp(ctx, "DeleteEntity", id)
	defer func() { end(err) }()

	err = s.graph.Update(ctx, func(ctx context.Context, tx GraphWriter) (err error) {
		deleted, err = tx.DeleteEntity(ctx, id)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("delete entity: %w", err)
	}
	if deleted {
		s.notify(ctx, Change{Kind: EntityDeleted, EntityID: id})
	}
	return deleted, nil
}

// CreateRelationship adds a directed edge of the given type between two
// existing entities. The relationship type must be registered, and props are
// validated against it. Any number of relationships may link the same pair.
func (s *EntityStore) CreateRelationship(ctx context.Context, from, to, relType string, props map[string]Value) (r Relationship, err error) {
	ctx, end := s.startOp(ctx, "CreateRelationship", from)
	defer func() { end(err) }()

	if from == "" || to == "" || relType == "" {
		return Relationship{}, fmt.Errorf("%w: relationship needs a type and two entity ids", ErrInvalidArgument)
	}
	res, err := s.validator.ValidateRelationship(ctx, relType, props)
	if err != nil {
		return Relationship{}, err
	}
	if !res.Valid {
		return Relationship{}, &ValidationError{Errors: res.Errors}
	}

	r = Relationship{Type: relType, From: from, To: to, Properties: cloneProperties(props)}
	now := s.timestamp()
	err = s.graph.Update(ctx, func(ctx context.Context, tx GraphWriter) error {
		for _, id := range []string{from, to} {
			exists, err := tx.EntityExists(ctx, id)
			if err != nil {
				return err
			}
			if !exists {
				return notFound("entity", id)
			}
		}
		ok, err := tx.CreateRelationship(ctx, r, now)
		if err != nil {
			return fmt.Errorf("create relationship: %w", err)
		}
		if !ok {
			// Both endpoints were checked within this transaction.
			return fmt.Errorf("relationship %s from %q to %q was not created", relType, from, to)
		}
		return nil
	})
	if err != nil {
		return Relationship{}, err
	}
	s.notify(ctx, Change{Kind: RelationshipCreated, EntityID: from, Relationship: &r})
	return r, nil
}

// DeleteRelationship removes every relationship of the given type from one
// entity to another and reports whether any was removed.
func (s *EntityStore) DeleteRelationship(ctx context.Context, from, to, relType string) (deleted bool, err error) {
	ctx, end := s.startOp(ctx, "DeleteRelationship", from)
	defer func() { end(err) }()

	var n int
	err = s.graph.Update(ctx, func(ctx context.Context, tx GraphWriter) (err error) {
		n, err = tx.DeleteRelationships(ctx, from, to, relType)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("delete relationships: %w", err)
	}
	if n > 0 {
		s.notify(ctx, Change{Kind: RelationshipDeleted, EntityID: from, Relationship: &Relationship{Type: relType, From: from, To: to}})
	}
	return n > 0, nil
}

// GetRelationships returns the outgoing relationships of an entity, of the
// given type only unless relType is empty.
func (s *EntityStore) GetRelationships(ctx context.Context, entityID, relType string) ([]Relationship, error) {
	var rels []Relationship
	err := s.graph.View(ctx, func(ctx context.Context, tx GraphReader) (err error) {
		rels, err = tx.Relationships(ctx, entityID, relType)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get relationships: %w", err)
	}
	return rels, nil
}

// FindShortestPath searches for the shortest path between two entities across
// relationships of any type, in either direction, of at most maxDepth hops. It
// returns nil when the entities are not connected within that bound.
func (s *EntityStore) FindShortestPath(ctx context.Context, from, to string, maxDepth int) (*Path, error) {
	ctx, span := tracer.Start(ctx, "EntityStore.FindShortestPath", trace.WithAttributes(
		attribute.String("ecr.from", from),
		attribute.String("ecr.to", to),
		attribute.Int("ecr.max_depth", maxDepth),
	))
	defer span.End()

	if maxDepth < 1 {
		return nil, fmt.Errorf("%w: max depth must be positive, got %d", ErrInvalidArgument, maxDepth)
	}
	var p *Path
	err := s.graph.View(ctx, func(ctx context.Context, tx GraphReader) error {
		for _, id := range []string{from, to} {
			exists, err := tx.EntityExists(ctx, id)
			if err != nil {
				return err
			}
			if !exists {
				return notFound("entity", id)
			}
		}
		if from == to {
			p = &Path{EntityIDs: []string{from}}
			return nil
		}
		var err error
		p, err = tx.ShortestPath(ctx, from, to, maxDepth)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("shortest path: %w", err)
	}
	return p, nil
}

// validateComponents checks every component of a write request and reports all
// their errors at once.
func (s *EntityStore) validateComponents(ctx context.Context, components []Component) error {
	var errs []FieldError
	seen := make(map[string]bool, len(components))
	for _, c := range components {
		if c.Type == "" {
			return fmt.Errorf("%w: component without a type", ErrInvalidArgument)
		}
		if seen[c.Type] {
			return fmt.Errorf("%w: component %q given more than once", ErrInvalidArgument, c.Type)
		}
		seen[c.Type] = true

		res, err := s.validator.Validate(ctx, c.Type, c.Properties)
		if err != nil {
			return fmt.Errorf("validate %q: %w", c.Type, err)
		}
		errs = append(errs, res.Errors...)
	}
	if len(errs) > 0 {
		validationFailures.Add(ctx, 1)
		return &ValidationError{Errors: errs}
	}
	return nil
}

func readEntity(ctx context.Context, tx GraphReader, id string) (Entity, error) {
	e, ok, err := tx.Entity(ctx, id)
	if err != nil {
		return Entity{}, fmt.Errorf("read back entity: %w", err)
	}
	if !ok {
		return Entity{}, notFound("entity", id)
	}
	e.SortComponents()
	return e, nil
}

// startOp opens a span for a mutating operation and returns the function that
// ends it, recording the outcome on the span and in the operation metrics.
func (s *EntityStore) startOp(ctx context.Context, op, entityID string) (context.Context, func(error)) {
	ctx, span := tracer.Start(ctx, "EntityStore."+op, trace.WithAttributes(
		attribute.String("ecr.entity", entityID),
	))
	logger := component.Logger(ctx).With("op", op, "entity", entityID)
	ctx = component.InjectLogger(ctx, logger)
	start := time.Now()
	return ctx, func(err error) {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			logger.Debug("Entity operation failed", "error", err)
		}
		measureOperation(ctx, op, err == nil, time.Since(start))
		span.End()
	}
}

func (s *EntityStore) notify(ctx context.Context, c Change) {
	if s.notifier == nil {
		return
	}
	c.Timestamp = s.timestamp()
	if err := s.notifier.Notify(ctx, c); err != nil {
		// The change is committed; subscribers catch up on the next change of the
		// same entity.
		notificationFailures.Add(ctx, 1)
		component.Logger(ctx).Warn("Failed to publish entity change", "kind", c.Kind.String(), "entity", c.EntityID, "error", err)
	}
}
