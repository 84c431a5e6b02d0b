package ecr

import (
	"context"
)

// Result is the outcome of validating one property bag.
type Result struct {
	Valid  bool
	Errors []FieldError
}

// Messages returns the field errors as human-readable strings.
func (r Result) Messages() []string {
	msgs := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		msgs[i] = e.Error()
	}
	return msgs
}

// Validator checks property bags against the descriptors of a TypeRegistry.
// It only reads the registry.
type Validator struct {
	registry *TypeRegistry
}

// NewValidator returns a Validator backed by the given registry.
func NewValidator(r *TypeRegistry) *Validator {
	return &Validator{registry: r}
}

// Validate checks props against the named component type. An unregistered type
// yields an invalid Result with a single ReasonUnknownType error; the returned
// error is reserved for failures reading the registry.
func (v *Validator) Validate(ctx context.Context, componentType string, props map[string]Value) (Result, error) {
	return validateWith(ctx, v.registry.Components, componentType, props)
}

// ValidateRelationship checks props against the named relationship type.
func (v *Validator) ValidateRelationship(ctx context.Context, relType string, props map[string]Value) (Result, error) {
	return validateWith(ctx, v.registry.Relationships, relType, props)
}

func validateWith[T Descriptor](ctx context.Context, r *Registry[T], name string, props map[string]Value) (Result, error) {
	d, ok, err := r.lookup(ctx, name)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{Errors: []FieldError{{Type: name, Reason: ReasonUnknownType}}}, nil
	}
	return Check(d, props), nil
}

// Check validates props against a descriptor already at hand.
//
// Every declared property is visited in declaration order: a required one
// must be present, and a present one must match its kind. Properties not
// declared by the descriptor are tolerated.
func Check(d Descriptor, props map[string]Value) Result {
	var errs []FieldError
	for _, def := range d.PropertyDefinitions() {
		v, present := props[def.Name]
		if !present || v == nil {
			if def.Required {
				errs = append(errs, FieldError{Type: d.TypeName(), Property: def.Name, Reason: ReasonMissing})
			}
			continue
		}
		if !satisfies(def.Kind, v) {
			errs = append(errs, FieldError{
				Type:     d.TypeName(),
				Property: def.Name,
				Reason:   ReasonMismatch,
				Expected: def.Kind,
				Actual:   v.Kind(),
			})
		}
	}
	return Result{Valid: len(errs) == 0, Errors: errs}
}

func satisfies(kind PropertyKind, v Value) bool {
	switch kind {
	case KindString:
		_, ok := v.(String)
		return ok
	case KindNumber:
		_, ok := v.(Number)
		return ok
	case KindBoolean:
		_, ok := v.(Bool)
		return ok
	case KindDate:
		switch v.(type) {
		case Date, String:
			return true
		}
		return false
	}
	// Json, and any kind we do not recognise.
	return true
}
