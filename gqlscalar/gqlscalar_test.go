package gqlscalar

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/go-digitaltwin/go-ecr"
)

func TestDecode(t *testing.T) {
	vars := map[string]any{
		"name":   "AHU-1",
		"coords": map[string]any{"lat": 52.1, "lon": 4.3},
	}
	tests := []struct {
		literal string
		want    ecr.Value
	}{
		{`"AHU-1"`, ecr.String("AHU-1")},
		{`"""block"""`, ecr.String("block")},
		{`COOLING`, ecr.String("COOLING")},
		{`42`, ecr.Number(42)},
		{`-1.5e3`, ecr.Number(-1500)},
		{`99999999999999999999`, ecr.Number(1e20)},
		{`true`, ecr.Bool(true)},
		{`null`, ecr.JSON{}},
		{`$name`, ecr.String("AHU-1")},
		{`$missing`, ecr.JSON{}},
		{`[1, "two", [true]]`, ecr.JSON{V: []any{1.0, "two", []any{true}}}},
		{`{zone: "north", floors: [1, 2], geo: $coords, note: null}`, ecr.JSON{V: map[string]any{
			"zone":   "north",
			"floors": []any{1.0, 2.0},
			"geo":    map[string]any{"lat": 52.1, "lon": 4.3},
			"note":   nil,
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.literal, func(t *testing.T) {
			v, err := ParseLiteral(tt.literal)
			if err != nil {
				t.Fatalf("ParseLiteral() = %v", err)
			}
			got, err := Decode(v, vars)
			if err != nil {
				t.Fatalf("Decode() = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Decode() mismatch (-want +got)\n%v", diff)
			}
		})
	}
}

func TestDecode_malformed(t *testing.T) {
	v := &ast.Value{Kind: ast.FloatValue, Raw: "1.2.3"}
	_, err := Decode(v, nil)
	if !errors.Is(err, ecr.ErrInvalidArgument) {
		t.Errorf("Decode() = %v, want ErrInvalidArgument", err)
	}
	var gqlErr *gqlerror.Error
	if !errors.As(err, &gqlErr) {
		t.Errorf("Decode() = %T, want *gqlerror.Error", err)
	}
}

func TestDecode_position(t *testing.T) {
	v, err := ParseLiteral(`{ok: 1, bad: $unsupported}`)
	if err != nil {
		t.Fatal(err)
	}
	_, err = Decode(v, map[string]any{"unsupported": struct{}{}})
	var gqlErr *gqlerror.Error
	if !errors.As(err, &gqlErr) {
		t.Fatalf("Decode() = %v, want *gqlerror.Error", err)
	}
	if len(gqlErr.Locations) != 1 || gqlErr.Locations[0].Line != 1 {
		t.Errorf("Decode() located the error at %v, want line 1", gqlErr.Locations)
	}
}

func TestDecodeProperties(t *testing.T) {
	v, err := ParseLiteral(`{name: "AHU-1", airflowCapacity: 12000, hasHeatRecovery: true, tags: ["roof"]}`)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeProperties(v, nil)
	if err != nil {
		t.Fatalf("DecodeProperties() = %v", err)
	}
	want := map[string]ecr.Value{
		"name":            ecr.String("AHU-1"),
		"airflowCapacity": ecr.Number(12000),
		"hasHeatRecovery": ecr.Bool(true),
		"tags":            ecr.JSON{V: []any{"roof"}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("DecodeProperties() mismatch (-want +got)\n%v", diff)
	}

	t.Run("Variable", func(t *testing.T) {
		v, err := ParseLiteral(`$props`)
		if err != nil {
			t.Fatal(err)
		}
		got, err := DecodeProperties(v, map[string]any{"props": map[string]any{"level": 3.0}})
		if err != nil {
			t.Fatalf("DecodeProperties() = %v", err)
		}
		if diff := cmp.Diff(map[string]ecr.Value{"level": ecr.Number(3)}, got); diff != "" {
			t.Errorf("DecodeProperties() mismatch (-want +got)\n%v", diff)
		}
	})

	t.Run("Null", func(t *testing.T) {
		v, err := ParseLiteral(`null`)
		if err != nil {
			t.Fatal(err)
		}
		got, err := DecodeProperties(v, nil)
		if err != nil || len(got) != 0 {
			t.Errorf("DecodeProperties(null) = %v, %v; want an empty bag", got, err)
		}
	})

	for _, literal := range []string{`[1]`, `"name"`, `$notAnObject`} {
		t.Run(literal, func(t *testing.T) {
			v, err := ParseLiteral(literal)
			if err != nil {
				t.Fatal(err)
			}
			if _, err := DecodeProperties(v, map[string]any{"notAnObject": 1.0}); !errors.Is(err, ecr.ErrInvalidArgument) {
				t.Errorf("DecodeProperties() = %v, want ErrInvalidArgument", err)
			}
		})
	}
}

func TestParseLiteral_invalid(t *testing.T) {
	for _, src := range []string{``, `{unterminated: 1`, `1, w: 2`, `1) { x }`} {
		if _, err := ParseLiteral(src); !errors.Is(err, ecr.ErrInvalidArgument) {
			t.Errorf("ParseLiteral(%q) = %v, want ErrInvalidArgument", src, err)
		}
	}
}
