package ecr

import (
	"slices"
	"time"
)

// PropertyKind names the primitive type of a declared property.
//
// Kinds outside the recognised set are accepted at registration and always
// pass validation.
type PropertyKind string

const (
	KindString  PropertyKind = "String"
	KindNumber  PropertyKind = "Number"
	KindBoolean PropertyKind = "Boolean"
	KindDate    PropertyKind = "Date"
	KindJSON    PropertyKind = "Json"
)

// Known reports whether k is one of the recognised kinds.
func (k PropertyKind) Known() bool {
	switch k {
	case KindString, KindNumber, KindBoolean, KindDate, KindJSON:
		return true
	}
	return false
}

// PropertyDefinition declares a named, typed, optionally required field.
type PropertyDefinition struct {
	Name        string       `yaml:"name" json:"name" validate:"required"`
	Kind        PropertyKind `yaml:"kind" json:"kind" validate:"required"`
	Required    bool         `yaml:"required,omitempty" json:"required,omitempty"`
	Description string       `yaml:"description,omitempty" json:"description,omitempty"`
}

// A Descriptor is a registered type: either a ComponentType or a
// RelationshipType.
type Descriptor interface {
	TypeName() string
	PropertyDefinitions() []PropertyDefinition
}

// ComponentType is the schema component instances of the same name must
// satisfy.
type ComponentType struct {
	Name        string               `yaml:"name" json:"name" validate:"required"`
	Description string               `yaml:"description,omitempty" json:"description,omitempty"`
	Properties  []PropertyDefinition `yaml:"properties,omitempty" json:"properties,omitempty" validate:"dive"`
}

func (t ComponentType) TypeName() string                          { return t.Name }
func (t ComponentType) PropertyDefinitions() []PropertyDefinition { return t.Properties }

// RelationshipType describes a relationship name and its expected endpoint
// kinds. FromKind and ToKind name component types or the Wildcard; they are
// advisory and never enforced.
type RelationshipType struct {
	Name        string               `yaml:"name" json:"name" validate:"required"`
	Description string               `yaml:"description,omitempty" json:"description,omitempty"`
	FromKind    string               `yaml:"from,omitempty" json:"from,omitempty"`
	ToKind      string               `yaml:"to,omitempty" json:"to,omitempty"`
	Properties  []PropertyDefinition `yaml:"properties,omitempty" json:"properties,omitempty" validate:"dive"`
}

func (t RelationshipType) TypeName() string                          { return t.Name }
func (t RelationshipType) PropertyDefinitions() []PropertyDefinition { return t.Properties }

// Wildcard matches any endpoint kind of a RelationshipType.
const Wildcard = "*"

// Entity is an addressable object composed of components.
type Entity struct {
	ID         string
	Components []Component
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Component returns the entity's component of the given type.
func (e Entity) Component(componentType string) (Component, bool) {
	for _, c := range e.Components {
		if c.Type == componentType {
			return c, true
		}
	}
	return Component{}, false
}

// SortComponents orders the components by type, making Entity values
// comparable regardless of the order the graph returned them in.
func (e *Entity) SortComponents() {
	slices.SortFunc(e.Components, func(a, b Component) int {
		switch {
		case a.Type < b.Type:
			return -1
		case a.Type > b.Type:
			return 1
		}
		return 0
	})
}

// Component is a property bag attached to an entity; its shape is validated
// against the ComponentType of the same name at write time only.
type Component struct {
	Type       string
	Properties map[string]Value
}

// Relationship is a directed, typed edge between two entities.
type Relationship struct {
	Type       string
	From       string
	To         string
	Properties map[string]Value
}

// Path is the result of a shortest-path search: the visited entity ids in
// order, and the relationship traversed between each consecutive pair. A
// segment keeps its stored direction, which may point against the walk.
type Path struct {
	EntityIDs []string
	Segments  []Relationship
}

// Len returns the number of hops in the path.
func (p Path) Len() int { return len(p.Segments) }

// ListOptions filters and pages EntityStore.ListEntities.
type ListOptions struct {
	// ComponentType, when set, keeps only entities owning a component of that
	// type.
	ComponentType string
	// Limit caps the number of returned entities; zero selects DefaultListLimit.
	Limit int
	// Offset skips that many entities of the id-ordered result.
	Offset int
}

// DefaultListLimit is applied when ListOptions.Limit is zero.
const DefaultListLimit = 100
