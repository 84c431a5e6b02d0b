package ecr

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestDecodeValue(t *testing.T) {
	at := time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)
	tests := []struct {
		name string
		in   any
		want Value
	}{
		{"String", "AHU-1", String("AHU-1")},
		{"Float", 12.5, Number(12.5)},
		{"Int", 42, Number(42)},
		{"Uint8", uint8(7), Number(7)},
		{"JSONNumber", json.Number("3.25"), Number(3.25)},
		{"Bool", true, Bool(true)},
		{"Time", at, Date{Time: at}},
		{"Value", Number(1), Number(1)},
		{"Null", nil, JSON{}},
		{"List", []any{1, "a", nil}, JSON{V: []any{1.0, "a", nil}}},
		{"Object", map[string]any{
			"lat":    int64(52),
			"seen":   at,
			"label":  String("roof"),
			"nested": map[string]any{"ok": true},
		}, JSON{V: map[string]any{
			"lat":    52.0,
			"seen":   "2024-05-01T08:30:00Z",
			"label":  "roof",
			"nested": map[string]any{"ok": true},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeValue(tt.in)
			if err != nil {
				t.Fatalf("DecodeValue() = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("DecodeValue() mismatch (-want +got)\n%v", diff)
			}
		})
	}
}

func TestDecodeValue_unsupported(t *testing.T) {
	for _, in := range []any{
		struct{}{},
		[]string{"typed slices are not neutral"},
		map[string]any{"ch": make(chan int)},
		[]any{1, complex(1, 2)},
	} {
		if v, err := DecodeValue(in); err == nil {
			t.Errorf("DecodeValue(%T) = %v, want error", in, v)
		}
	}
}

func TestDecodeProperties(t *testing.T) {
	got, err := DecodeProperties(map[string]any{"name": "P1", "flowRate": 3})
	if err != nil {
		t.Fatalf("DecodeProperties() = %v", err)
	}
	want := map[string]Value{"name": String("P1"), "flowRate": Number(3)}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("DecodeProperties() mismatch (-want +got)\n%v", diff)
	}
	if diff := cmp.Diff(map[string]any{"name": "P1", "flowRate": 3.0}, EncodeProperties(got)); diff != "" {
		t.Errorf("EncodeProperties() mismatch (-want +got)\n%v", diff)
	}

	if got, err := DecodeProperties(nil); err != nil || got == nil || len(got) != 0 {
		t.Errorf("DecodeProperties(nil) = %v, %v; want an empty bag", got, err)
	}
	if _, err := DecodeProperties(map[string]any{"bad": struct{}{}}); err == nil {
		t.Error("DecodeProperties() succeeded, want error")
	}
}

func TestEncodeProperties_nil(t *testing.T) {
	got := EncodeProperties(map[string]Value{"name": String("P1"), "flowRate": nil})
	if diff := cmp.Diff(map[string]any{"name": "P1"}, got); diff != "" {
		t.Errorf("EncodeProperties() mismatch (-want +got)\n%v", diff)
	}
}

func TestCloneProperties(t *testing.T) {
	local := time.Date(2024, 5, 1, 10, 30, 0, 0, time.FixedZone("CEST", 2*60*60))
	props := map[string]Value{
		"name":        String("P1"),
		"flowRate":    nil,
		"installedAt": Date{Time: local},
	}
	got := cloneProperties(props)
	want := map[string]Value{"name": String("P1"), "installedAt": Date{Time: local}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("cloneProperties() mismatch (-want +got)\n%v", diff)
	}
	if loc := got["installedAt"].(Date).Time.Location(); loc != time.UTC {
		t.Errorf("cloneProperties() kept the date in %v, want UTC", loc)
	}
	if _, ok := props["flowRate"]; !ok {
		t.Error("cloneProperties() mutated its input")
	}
	if got := cloneProperties(nil); got == nil || len(got) != 0 {
		t.Errorf("cloneProperties(nil) = %v, want an empty bag", got)
	}
}

func TestValue_kind(t *testing.T) {
	values := map[PropertyKind]Value{
		KindString:  String(""),
		KindNumber:  Number(0),
		KindBoolean: Bool(false),
		KindDate:    Date{},
		KindJSON:    JSON{},
	}
	for want, v := range values {
		if got := v.Kind(); got != want {
			t.Errorf("%T.Kind() = %v, want %v", v, got, want)
		}
		if !want.Known() {
			t.Errorf("%v.Known() = false", want)
		}
	}
	if PropertyKind("Quaternion").Known() {
		t.Error("Quaternion is a known kind")
	}
}

func TestChange_gob(t *testing.T) {
	at := time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)
	want := Change{
		ID:       "7c1c9f1e-1a4e-4d4e-9b1b-3f2a6f0f2d10",
		Kind:     EntityUpdated,
		EntityID: "ahu-01",
		Entity: &Entity{
			ID: "ahu-01",
			Components: []Component{{Type: "Equipment", Properties: map[string]Value{
				"name":        String("AHU 1"),
				"capacity":    Number(12),
				"running":     Bool(true),
				"installedAt": Date{Time: at},
				"tags":        JSON{V: map[string]any{"zones": []any{"north", 2.0}}},
			}}},
			CreatedAt: at,
			UpdatedAt: at,
		},
		Timestamp: at,
	}
	b, err := EncodeChange(want)
	if err != nil {
		t.Fatalf("EncodeChange() = %v", err)
	}
	got, err := DecodeChange(b)
	if err != nil {
		t.Fatalf("DecodeChange() = %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Decoded change mismatch (-want +got)\n%v", diff)
	}
}
