// Package gqlscalar decodes GraphQL input literals into ecr property values.
//
// GraphQL has no map type, so property bags and Json-kind values arrive as
// input object literals. This package walks the parsed literal into the
// neutral tree ecr.DecodeValue understands: integers and floats become
// numbers, strings, block strings and enum names become strings, and lists and
// objects become JSON. Variables resolve against the request variables, which
// are already in neutral form.
package gqlscalar

import (
	"fmt"
	"strconv"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/parser"

	"github.com/go-digitaltwin/go-ecr"
)

// Decode converts a literal into an ecr.Value.
//
// Scalars at the top level keep their natural kind; a list, an object or null
// yields a JSON value. Errors are *gqlerror.Error values locating the
// offending literal and wrap ecr.ErrInvalidArgument.
func Decode(v *ast.Value, vars map[string]any) (ecr.Value, error) {
	if v == nil {
		return ecr.JSON{}, nil
	}
	tree, err := neutral(v, vars)
	if err != nil {
		return nil, err
	}
	x, err := ecr.DecodeValue(tree)
	if err != nil {
		return nil, invalid(v, "%v", err)
	}
	return x, nil
}

// DecodeProperties converts an input object literal into a property bag, one
// Value per field. A null literal decodes to an empty bag.
func DecodeProperties(v *ast.Value, vars map[string]any) (map[string]ecr.Value, error) {
	if v == nil || v.Kind == ast.NullValue {
		return map[string]ecr.Value{}, nil
	}
	if v.Kind == ast.Variable {
		m, ok := vars[v.Raw].(map[string]any)
		if !ok {
			return nil, invalid(v, "variable $%s is not an object", v.Raw)
		}
		props, err := ecr.DecodeProperties(m)
		if err != nil {
			return nil, invalid(v, "variable $%s: %v", v.Raw, err)
		}
		return props, nil
	}
	if v.Kind != ast.ObjectValue {
		return nil, invalid(v, "properties must be an object, got %s", v.String())
	}
	props := make(map[string]ecr.Value, len(v.Children))
	for _, child := range v.Children {
		x, err := Decode(child.Value, vars)
		if err != nil {
			return nil, err
		}
		props[child.Name] = x
	}
	return props, nil
}

// neutral walks a literal into strings, float64, bool, nil, []any and
// map[string]any.
func neutral(v *ast.Value, vars map[string]any) (any, error) {
	switch v.Kind {
	case ast.Variable:
		// Missing variables are null, as GraphQL itself treats them.
		return vars[v.Raw], nil
	case ast.IntValue:
		n, err := strconv.ParseInt(v.Raw, 10, 64)
		if err != nil {
			// Beyond int64, keep the magnitude rather than failing.
			f, ferr := strconv.ParseFloat(v.Raw, 64)
			if ferr != nil {
				return nil, invalid(v, "malformed integer %q", v.Raw)
			}
			return f, nil
		}
		return float64(n), nil
	case ast.FloatValue:
		f, err := strconv.ParseFloat(v.Raw, 64)
		if err != nil {
			return nil, invalid(v, "malformed float %q", v.Raw)
		}
		return f, nil
	case ast.StringValue, ast.BlockValue, ast.EnumValue:
		return v.Raw, nil
	case ast.BooleanValue:
		b, err := strconv.ParseBool(v.Raw)
		if err != nil {
			return nil, invalid(v, "malformed boolean %q", v.Raw)
		}
		return b, nil
	case ast.NullValue:
		return nil, nil
	case ast.ListValue:
		list := make([]any, 0, len(v.Children))
		for _, child := range v.Children {
			x, err := neutral(child.Value, vars)
			if err != nil {
				return nil, err
			}
			list = append(list, x)
		}
		return list, nil
	case ast.ObjectValue:
		obj := make(map[string]any, len(v.Children))
		for _, child := range v.Children {
			x, err := neutral(child.Value, vars)
			if err != nil {
				return nil, err
			}
			obj[child.Name] = x
		}
		return obj, nil
	}
	return nil, invalid(v, "unsupported literal kind %d", v.Kind)
}

// ParseLiteral parses a standalone GraphQL input literal, such as
// `{name: "AHU-1", capacity: 12.5}`. Variables may appear in it and are
// resolved by Decode.
func ParseLiteral(src string) (*ast.Value, error) {
	doc, err := parser.ParseQuery(&ast.Source{Name: "literal", Input: "{ f(v: " + src + ") }"})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ecr.ErrInvalidArgument, err)
	}
	if len(doc.Operations) != 1 || len(doc.Operations[0].SelectionSet) != 1 {
		return nil, fmt.Errorf("%w: not a single literal: %s", ecr.ErrInvalidArgument, src)
	}
	f, ok := doc.Operations[0].SelectionSet[0].(*ast.Field)
	if !ok || len(f.Arguments) != 1 || len(f.SelectionSet) != 0 {
		return nil, fmt.Errorf("%w: not a single literal: %s", ecr.ErrInvalidArgument, src)
	}
	return f.Arguments.ForName("v").Value, nil
}

func invalid(v *ast.Value, format string, args ...any) error {
	var err *gqlerror.Error
	if v.Position != nil && v.Position.Src != nil {
		err = gqlerror.ErrorPosf(v.Position, format, args...)
	} else {
		err = gqlerror.Errorf(format, args...)
	}
	err.Err = ecr.ErrInvalidArgument
	return err
}
