package ecr

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/danielorbach/go-component"
	"github.com/go-playground/validator"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// TypeRegistry groups the registries of component types and relationship
// types kept in a Graph.
type TypeRegistry struct {
	Components    *Registry[ComponentType]
	Relationships *Registry[RelationshipType]
}

// NewTypeRegistry returns a TypeRegistry persisting its descriptors in g.
func NewTypeRegistry(g Graph) *TypeRegistry {
	return &TypeRegistry{
		Components: &Registry[ComponentType]{
			graph: g,
			kind:  "component type",
			get: func(ctx context.Context, tx GraphReader, name string) (ComponentType, bool, error) {
				return tx.ComponentType(ctx, name)
			},
			list: func(ctx context.Context, tx GraphReader) ([]ComponentType, error) {
				return tx.ComponentTypes(ctx)
			},
			put: func(ctx context.Context, tx GraphWriter, t ComponentType) error {
				return tx.PutComponentType(ctx, t)
			},
			del: func(ctx context.Context, tx GraphWriter, name string) (bool, error) {
				return tx.DeleteComponentType(ctx, name)
			},
		},
		Relationships: &Registry[RelationshipType]{
			graph: g,
			kind:  "relationship type",
			get: func(ctx context.Context, tx GraphReader, name string) (RelationshipType, bool, error) {
				return tx.RelationshipType(ctx, name)
			},
			list: func(ctx context.Context, tx GraphReader) ([]RelationshipType, error) {
				return tx.RelationshipTypes(ctx)
			},
			put: func(ctx context.Context, tx GraphWriter, t RelationshipType) error {
				return tx.PutRelationshipType(ctx, t)
			},
			del: func(ctx context.Context, tx GraphWriter, name string) (bool, error) {
				return tx.DeleteRelationshipType(ctx, name)
			},
		},
	}
}

// Registry stores descriptors of a single kind, keyed by their unique name.
//
// A Registry holds no state of its own; every call is a transaction on the
// underlying Graph. It is safe for concurrent use.
type Registry[T Descriptor] struct {
	graph Graph
	kind  string

	get  func(ctx context.Context, tx GraphReader, name string) (T, bool, error)
	list func(ctx context.Context, tx GraphReader) ([]T, error)
	put  func(ctx context.Context, tx GraphWriter, t T) error
	del  func(ctx context.Context, tx GraphWriter, name string) (bool, error)
}

// Register stores the descriptor, replacing any prior descriptor of the same
// name. Instances persisted under the previous schema are not re-validated.
//
// Register only checks the descriptor is well-formed: it has a name, and its
// properties have distinct non-empty names and a kind. Unrecognised kinds are
// accepted.
func (r *Registry[T]) Register(ctx context.Context, d T) error {
	ctx, span := tracer.Start(ctx, "Registry.Register", trace.WithAttributes(
		attribute.String("ecr.type", d.TypeName()),
	))
	defer span.End()

	if err := checkDescriptor(d); err != nil {
		return fmt.Errorf("%s %q: %w", r.kind, d.TypeName(), err)
	}
	err := r.graph.Update(ctx, func(ctx context.Context, tx GraphWriter) error {
		return r.put(ctx, tx, d)
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", r.kind, err)
	}
	component.Logger(ctx).Debug("Registered type", "kind", r.kind, "name", d.TypeName())
	return nil
}

// Get returns the named descriptor, or an error wrapping ErrNotFound.
func (r *Registry[T]) Get(ctx context.Context, name string) (T, error) {
	d, ok, err := r.lookup(ctx, name)
	if err != nil {
		return d, err
	}
	if !ok {
		return d, notFound(r.kind, name)
	}
	return d, nil
}

func (r *Registry[T]) lookup(ctx context.Context, name string) (d T, ok bool, err error) {
	err = r.graph.View(ctx, func(ctx context.Context, tx GraphReader) error {
		d, ok, err = r.get(ctx, tx, name)
		return err
	})
	if err != nil {
		return d, false, fmt.Errorf("get %s: %w", r.kind, err)
	}
	return d, ok, nil
}

// List returns all descriptors ordered by name.
func (r *Registry[T]) List(ctx context.Context) ([]T, error) {
	var all []T
	err := r.graph.View(ctx, func(ctx context.Context, tx GraphReader) (err error) {
		all, err = r.list(ctx, tx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", r.kind, err)
	}
	slices.SortFunc(all, func(a, b T) int { return strings.Compare(a.TypeName(), b.TypeName()) })
	return all, nil
}

// Exists reports whether a descriptor of that name is registered.
func (r *Registry[T]) Exists(ctx context.Context, name string) (bool, error) {
	_, ok, err := r.lookup(ctx, name)
	return ok, err
}

// Delete removes the named descriptor. It fails with ErrNotFound when absent,
// and succeeds otherwise even if instances of that type are still stored.
func (r *Registry[T]) Delete(ctx context.Context, name string) error {
	err := r.graph.Update(ctx, func(ctx context.Context, tx GraphWriter) error {
		ok, err := r.del(ctx, tx, name)
		if err != nil {
			return err
		}
		if !ok {
			return notFound(r.kind, name)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", r.kind, err)
	}
	component.Logger(ctx).Debug("Deleted type", "kind", r.kind, "name", name)
	return nil
}

// Count returns the number of registered descriptors.
func (r *Registry[T]) Count(ctx context.Context) (int, error) {
	all, err := r.List(ctx)
	return len(all), err
}

var descriptorValidator = validator.New()

func checkDescriptor(d Descriptor) error {
	if err := descriptorValidator.Struct(d); err != nil {
		return fmt.Errorf("%w: malformed descriptor: %v", ErrInvalidArgument, err)
	}
	seen := make(map[string]bool)
	for _, p := range d.PropertyDefinitions() {
		if seen[p.Name] {
			return fmt.Errorf("%w: duplicate property %q", ErrInvalidArgument, p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}
