package neo4jgraph

import (
	"reflect"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// The recordProperty interface defines generic constraints for supported values
// by getRecordProperty.
//
// These type constraints protect against unsupported neo4j types like int,
// uint32, etc.
//
// This is a subset of all types supported by the neo4j package because listing
// all of them would be troublesome. When a new type is necessary, developers can
// simply add it to the list here.
type recordProperty interface {
	int64 | string | bool | neo4j.Node | neo4j.Relationship | neo4j.Path | []any
}

func getRecordProperty[T recordProperty](record *neo4j.Record, key string) (value T, err error) {
	prop, exists := record.Get(key)
	if !exists {
		return value, errPropertyNotFound
	}
	v, ok := prop.(T)
	if !ok {
		return value, unexpectedPropertyTypeError{Type: reflect.TypeOf(prop)}
	}
	return v, nil
}

// The nodeProperty interface lists the property types we read off nodes and
// relationships by getNodeProperty.
type nodeProperty interface {
	string | time.Time | []any
}

func getNodeProperty[T nodeProperty](props map[string]any, key string) (value T, err error) {
	prop, exists := props[key]
	if !exists {
		return value, errPropertyNotFound
	}
	v, ok := prop.(T)
	if !ok {
		return value, unexpectedPropertyTypeError{Type: reflect.TypeOf(prop)}
	}
	return v, nil
}

// stringList reads a list property holding only strings.
func stringList(props map[string]any, key string) ([]string, error) {
	items, err := getNodeProperty[[]any](props, key)
	if err != nil {
		return nil, err
	}
	list := make([]string, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, unexpectedPropertyTypeError{Type: reflect.TypeOf(item)}
		}
		list[i] = s
	}
	return list, nil
}

// boolList reads a list property holding only booleans.
func boolList(props map[string]any, key string) ([]bool, error) {
	items, err := getNodeProperty[[]any](props, key)
	if err != nil {
		return nil, err
	}
	list := make([]bool, len(items))
	for i, item := range items {
		b, ok := item.(bool)
		if !ok {
			return nil, unexpectedPropertyTypeError{Type: reflect.TypeOf(item)}
		}
		list[i] = b
	}
	return list, nil
}
