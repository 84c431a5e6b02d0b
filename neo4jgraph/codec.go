package neo4jgraph

import (
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/go-digitaltwin/go-ecr"
)

// User properties are stored next to our own bookkeeping properties on the
// same node or edge, so their keys carry a prefix that ours never do.
const userPropertyPrefix = "p."

// Names of the user properties holding JSON-encoded Json values. Every other
// user property holds a native Neo4j value.
const jsonKeysProperty = "_json"

// encodeProperties adds the property bag to the given Neo4j property map.
//
// Strings, numbers and booleans are stored natively and dates as DateTime
// values, keeping them queryable with Cypher. Json values are stored encoded,
// with their names listed under jsonKeysProperty.
func encodeProperties(props map[string]ecr.Value, into map[string]any) error {
	var jsonKeys []string
	for name, v := range props {
		key := userPropertyPrefix + name
		switch v := v.(type) {
		case ecr.String:
			into[key] = string(v)
		case ecr.Number:
			into[key] = float64(v)
		case ecr.Bool:
			into[key] = bool(v)
		case ecr.Date:
			into[key] = v.Time
		case ecr.JSON:
			b, err := json.Marshal(v.V)
			if err != nil {
				return fmt.Errorf("property %q: %w", name, err)
			}
			into[key] = string(b)
			jsonKeys = append(jsonKeys, name)
		case nil:
			// Neo4j does not store nulls; an absent property reads the same.
		default:
			return fmt.Errorf("property %q: unsupported value %T", name, v)
		}
	}
	if len(jsonKeys) > 0 {
		slices.Sort(jsonKeys)
		into[jsonKeysProperty] = jsonKeys
	}
	return nil
}

// decodeProperties is the inverse of encodeProperties.
func decodeProperties(props map[string]any) (map[string]ecr.Value, error) {
	jsonKeys := make(map[string]bool)
	if _, ok := props[jsonKeysProperty]; ok {
		keys, err := stringList(props, jsonKeysProperty)
		if err != nil {
			return nil, fmt.Errorf("get %v: %w", jsonKeysProperty, err)
		}
		for _, k := range keys {
			jsonKeys[k] = true
		}
	}

	bag := make(map[string]ecr.Value)
	for key, prop := range props {
		name, ok := strings.CutPrefix(key, userPropertyPrefix)
		if !ok {
			continue
		}
		if jsonKeys[name] {
			s, ok := prop.(string)
			if !ok {
				return nil, unexpectedPropertyTypeError{Type: reflect.TypeOf(prop)}
			}
			var v any
			if err := json.Unmarshal([]byte(s), &v); err != nil {
				return nil, fmt.Errorf("property %q: decode json: %w", name, err)
			}
			bag[name] = ecr.JSON{V: v}
			continue
		}
		switch prop := prop.(type) {
		case string:
			bag[name] = ecr.String(prop)
		case float64:
			bag[name] = ecr.Number(prop)
		case int64:
			// Written by hand or by tools other than this package.
			bag[name] = ecr.Number(float64(prop))
		case bool:
			bag[name] = ecr.Bool(prop)
		case time.Time:
			bag[name] = ecr.Date{Time: prop.UTC()}
		default:
			return nil, unexpectedPropertyTypeError{Type: reflect.TypeOf(prop)}
		}
	}
	return bag, nil
}

// componentProperties returns the complete property map of a component node.
func componentProperties(entityID string, c ecr.Component) (map[string]any, error) {
	props := map[string]any{
		"type":      c.Type,
		"entity_id": entityID,
	}
	if err := encodeProperties(c.Properties, props); err != nil {
		return nil, fmt.Errorf("component %q: %w", c.Type, err)
	}
	return props, nil
}

func parseComponent(node neo4j.Node) (ecr.Component, error) {
	componentType, err := getNodeProperty[string](node.Props, "type")
	if err != nil {
		return ecr.Component{}, fmt.Errorf("get type: %w", err)
	}
	props, err := decodeProperties(node.Props)
	if err != nil {
		return ecr.Component{}, fmt.Errorf("component %q: %w", componentType, err)
	}
	return ecr.Component{Type: componentType, Properties: props}, nil
}

// parseEntity joins an entity node with its component nodes, given as the
// result of a Cypher collect().
func parseEntity(node neo4j.Node, components []any) (e ecr.Entity, err error) {
	e.ID, err = getNodeProperty[string](node.Props, "id")
	if err != nil {
		return e, fmt.Errorf("get id: %w", err)
	}
	e.CreatedAt, err = getNodeProperty[time.Time](node.Props, "created_at")
	if err != nil {
		return e, fmt.Errorf("get created_at: %w", err)
	}
	e.UpdatedAt, err = getNodeProperty[time.Time](node.Props, "updated_at")
	if err != nil {
		return e, fmt.Errorf("get updated_at: %w", err)
	}
	e.CreatedAt, e.UpdatedAt = e.CreatedAt.UTC(), e.UpdatedAt.UTC()

	e.Components = make([]ecr.Component, len(components))
	for i, x := range components {
		n, ok := x.(neo4j.Node)
		if !ok {
			return e, unexpectedPropertyTypeError{Type: reflect.TypeOf(x)}
		}
		e.Components[i], err = parseComponent(n)
		if err != nil {
			return e, fmt.Errorf("entity %q: %w", e.ID, err)
		}
	}
	e.SortComponents()
	return e, nil
}

func relationshipProperties(r ecr.Relationship) (map[string]any, error) {
	props := map[string]any{"type": r.Type}
	if err := encodeProperties(r.Properties, props); err != nil {
		return nil, fmt.Errorf("relationship %q: %w", r.Type, err)
	}
	return props, nil
}

func parseRelationship(rel neo4j.Relationship, from, to string) (ecr.Relationship, error) {
	relType, err := getNodeProperty[string](rel.Props, "type")
	if err != nil {
		return ecr.Relationship{}, fmt.Errorf("get type: %w", err)
	}
	props, err := decodeProperties(rel.Props)
	if err != nil {
		return ecr.Relationship{}, fmt.Errorf("relationship %q: %w", relType, err)
	}
	return ecr.Relationship{Type: relType, From: from, To: to, Properties: props}, nil
}

// Property definitions of a descriptor node are stored as parallel lists, since
// Neo4j properties cannot hold maps.
func definitionProperties(defs []ecr.PropertyDefinition) map[string]any {
	var (
		names        = make([]string, len(defs))
		kinds        = make([]string, len(defs))
		required     = make([]bool, len(defs))
		descriptions = make([]string, len(defs))
	)
	for i, d := range defs {
		names[i] = d.Name
		kinds[i] = string(d.Kind)
		required[i] = d.Required
		descriptions[i] = d.Description
	}
	return map[string]any{
		"property_names":        names,
		"property_kinds":        kinds,
		"property_required":     required,
		"property_descriptions": descriptions,
	}
}

func parseDefinitions(props map[string]any) ([]ecr.PropertyDefinition, error) {
	// Descriptors without properties may have been stored without the lists.
	if _, ok := props["property_names"]; !ok {
		return nil, nil
	}
	names, err := stringList(props, "property_names")
	if err != nil {
		return nil, fmt.Errorf("get property_names: %w", err)
	}
	kinds, err := stringList(props, "property_kinds")
	if err != nil {
		return nil, fmt.Errorf("get property_kinds: %w", err)
	}
	required, err := boolList(props, "property_required")
	if err != nil {
		return nil, fmt.Errorf("get property_required: %w", err)
	}
	descriptions, err := stringList(props, "property_descriptions")
	if err != nil {
		return nil, fmt.Errorf("get property_descriptions: %w", err)
	}
	if len(kinds) != len(names) || len(required) != len(names) || len(descriptions) != len(names) {
		return nil, fmt.Errorf("property lists of unequal length: %d names, %d kinds, %d required, %d descriptions",
			len(names), len(kinds), len(required), len(descriptions))
	}
	if len(names) == 0 {
		return nil, nil
	}
	defs := make([]ecr.PropertyDefinition, len(names))
	for i := range names {
		defs[i] = ecr.PropertyDefinition{
			Name:        names[i],
			Kind:        ecr.PropertyKind(kinds[i]),
			Required:    required[i],
			Description: descriptions[i],
		}
	}
	return defs, nil
}

func componentTypeProperties(t ecr.ComponentType) map[string]any {
	props := definitionProperties(t.Properties)
	props["description"] = t.Description
	return props
}

func parseComponentType(node neo4j.Node) (t ecr.ComponentType, err error) {
	t.Name, err = getNodeProperty[string](node.Props, "name")
	if err != nil {
		return t, fmt.Errorf("get name: %w", err)
	}
	t.Description, _ = node.Props["description"].(string)
	t.Properties, err = parseDefinitions(node.Props)
	if err != nil {
		return t, fmt.Errorf("component type %q: %w", t.Name, err)
	}
	return t, nil
}

func relationshipTypeProperties(t ecr.RelationshipType) map[string]any {
	props := definitionProperties(t.Properties)
	props["description"] = t.Description
	props["from_kind"] = t.FromKind
	props["to_kind"] = t.ToKind
	return props
}

func parseRelationshipType(node neo4j.Node) (t ecr.RelationshipType, err error) {
	t.Name, err = getNodeProperty[string](node.Props, "name")
	if err != nil {
		return t, fmt.Errorf("get name: %w", err)
	}
	t.Description, _ = node.Props["description"].(string)
	t.FromKind, _ = node.Props["from_kind"].(string)
	t.ToKind, _ = node.Props["to_kind"].(string)
	t.Properties, err = parseDefinitions(node.Props)
	if err != nil {
		return t, fmt.Errorf("relationship type %q: %w", t.Name, err)
	}
	return t, nil
}
