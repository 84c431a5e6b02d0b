package ecr

import (
	"encoding/gob"
	"encoding/json"
	"fmt"
	"time"
)

func init() {
	// Values travel inside change notifications as interface values, so gob must
	// know every concrete type, including the containers of a JSON value.
	gob.Register(String(""))
	gob.Register(Number(0))
	gob.Register(Bool(false))
	gob.Register(Date{})
	gob.Register(JSON{})
	gob.Register(map[string]any{})
	gob.Register([]any{})
}

// Value is a single property value of a Component or a Relationship.
//
// The set of implementations is closed: String, Number, Bool, Date and JSON.
// Type-switch on a Value to access the underlying data.
type Value interface {
	// Kind returns the PropertyKind this value naturally satisfies.
	Kind() PropertyKind
	// Interface returns the neutral Go representation of the value (string,
	// float64, bool, time.Time or a JSON tree).
	Interface() any

	// ecr is unexported to prevent implementations outside this package.
	ecr()
}

// String is a textual Value.
type String string

// Number is a numeric Value. All numbers are kept as float64.
type Number float64

// Bool is a boolean Value.
type Bool bool

// Date is a point in time.
type Date struct{ Time time.Time }

// JSON is a free-form Value. V holds a neutral tree made of map[string]any,
// []any, string, float64, bool and nil.
type JSON struct{ V any }

func (String) Kind() PropertyKind { return KindString }
func (Number) Kind() PropertyKind { return KindNumber }
func (Bool) Kind() PropertyKind   { return KindBoolean }
func (Date) Kind() PropertyKind   { return KindDate }
func (JSON) Kind() PropertyKind   { return KindJSON }

func (v String) Interface() any { return string(v) }
func (v Number) Interface() any { return float64(v) }
func (v Bool) Interface() any   { return bool(v) }
func (v Date) Interface() any   { return v.Time }
func (v JSON) Interface() any   { return v.V }

func (String) ecr() {}
func (Number) ecr() {}
func (Bool) ecr()   {}
func (Date) ecr()   {}
func (JSON) ecr()   {}

func (v Date) String() string { return v.Time.Format(time.RFC3339Nano) }

// DecodeValue converts a neutral decoded value into a Value. Strings, numbers,
// booleans and time.Time map onto their scalar Value; maps, slices and nil
// become JSON after normalisation (integers widen to float64, times render as
// RFC 3339 strings, nested Values unwrap).
//
// DecodeValue does not know about any query language: callers parse their
// literals into this neutral form first (see the gqlscalar package).
func DecodeValue(v any) (Value, error) {
	switch x := v.(type) {
	case Value:
		return x, nil
	case string:
		return String(x), nil
	case bool:
		return Bool(x), nil
	case time.Time:
		return Date{Time: x}, nil
	case nil, map[string]any, []any:
		tree, err := normalizeJSON(x)
		if err != nil {
			return nil, err
		}
		return JSON{V: tree}, nil
	}
	if f, ok := toFloat(v); ok {
		return Number(f), nil
	}
	return nil, fmt.Errorf("unsupported value type %T", v)
}

// DecodeProperties applies DecodeValue to every entry of a property bag. A nil
// map decodes to an empty bag.
func DecodeProperties(m map[string]any) (map[string]Value, error) {
	props := make(map[string]Value, len(m))
	for k, v := range m {
		x, err := DecodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", k, err)
		}
		props[k] = x
	}
	return props, nil
}

// EncodeProperties is the inverse of DecodeProperties. Nil values are left
// out.
func EncodeProperties(props map[string]Value) map[string]any {
	m := make(map[string]any, len(props))
	for k, v := range props {
		if v != nil {
			m[k] = v.Interface()
		}
	}
	return m
}

// cloneProperties copies a property bag in the form graphs store it: nil
// values are absent and dates are in UTC.
func cloneProperties(props map[string]Value) map[string]Value {
	clone := make(map[string]Value, len(props))
	for k, v := range props {
		switch x := v.(type) {
		case nil:
			continue
		case Date:
			clone[k] = Date{Time: x.Time.UTC()}
		default:
			clone[k] = v
		}
	}
	return clone
}

func cloneComponent(c Component) Component {
	return Component{Type: c.Type, Properties: cloneProperties(c.Properties)}
}

func normalizeJSON(v any) (any, error) {
	switch x := v.(type) {
	case nil, string, bool, float64:
		return x, nil
	case Value:
		return normalizeJSON(x.Interface())
	case time.Time:
		return x.Format(time.RFC3339Nano), nil
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, e := range x {
			n, err := normalizeJSON(e)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			m[k] = n
		}
		return m, nil
	case []any:
		s := make([]any, len(x))
		for i, e := range x {
			n, err := normalizeJSON(e)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			s[i] = n
		}
		return s, nil
	}
	if f, ok := toFloat(v); ok {
		return f, nil
	}
	return nil, fmt.Errorf("unsupported JSON element %T", v)
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	}
	return 0, false
}
