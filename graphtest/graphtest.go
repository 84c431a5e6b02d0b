/*
Package graphtest provides a suite of tests designed to assess ECR graph
engines (e.g. in-memory, neo4j).

The tests operate on the specific graph engine through an [ecr.EntityStore]
and an [ecr.TypeRegistry] built on top of it, checking functional correctness
and compliance with the behaviours defined by the [ecr.Graph] interface.

Call graphtest.Run in its own test to invoke the test-suite on an empty graph:

	func TestGraph(t *testing.T) {
		graphtest.Run(t, memgraph.New())
	}

The test cases in this suite focus on the behaviour observable through the
EntityStore:

  - Creating, reading, listing, updating and deleting entities and components.
  - Relating entities, and traversing those relationships.
  - Registering and validating against component and relationship types.

Specific graph engines are encouraged to perform additional tests which are
specific to the underlying graph engine.
*/
package graphtest

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"golang.org/x/sync/errgroup"

	"github.com/go-digitaltwin/go-ecr"
)

// The types every test-case relies on. Run registers them before the first
// test-case.
var (
	componentTypes = []ecr.ComponentType{
		{Name: "Equipment", Properties: []ecr.PropertyDefinition{
			{Name: "name", Kind: ecr.KindString, Required: true},
			{Name: "manufacturer", Kind: ecr.KindString},
		}},
		{Name: "AHU", Properties: []ecr.PropertyDefinition{
			{Name: "fanType", Kind: ecr.KindString},
		}},
		{Name: "Battery", Properties: []ecr.PropertyDefinition{
			{Name: "capacity", Kind: ecr.KindNumber, Required: true},
			{Name: "chemistry", Kind: ecr.KindString},
		}},
		{Name: "Pump", Properties: []ecr.PropertyDefinition{
			{Name: "flowRate", Kind: ecr.KindNumber},
		}},
		{Name: "Sensor", Properties: []ecr.PropertyDefinition{
			{Name: "unit", Kind: ecr.KindString, Required: true},
		}},
		{Name: "Room"},
		{Name: "Reading", Properties: []ecr.PropertyDefinition{
			{Name: "label", Kind: ecr.KindString},
			{Name: "value", Kind: ecr.KindNumber},
			{Name: "active", Kind: ecr.KindBoolean},
			{Name: "observedAt", Kind: ecr.KindDate},
			{Name: "extra", Kind: ecr.KindJSON},
			{Name: "orientation", Kind: "Quaternion"},
		}},
	}
	relationshipTypes = []ecr.RelationshipType{
		{Name: "feeds", FromKind: "Equipment", ToKind: "Equipment"},
		{Name: "isPartOf", FromKind: ecr.Wildcard, ToKind: ecr.Wildcard},
		{Name: "contains", FromKind: "Room", ToKind: ecr.Wildcard},
		{Name: "connectedTo", FromKind: ecr.Wildcard, ToKind: ecr.Wildcard, Properties: []ecr.PropertyDefinition{
			{Name: "medium", Kind: ecr.KindString, Required: true},
		}},
	}
)

type testCase struct {
	// Subtest name.
	name string
	// A path leading to the test-case's file and line in the source code.
	location string
	// An operation executes a single modification of the tested graph through
	// the EntityStore.
	operation func(ctx context.Context, s *ecr.EntityStore) error
	// Checks the error of the operation; nil expects the operation to succeed.
	err errorCheck
	// A list of checks to run on the store after the operation. These take into
	// account the order and the successful execution of previous test-cases.
	checks []check
}

var (
	ahu = ecr.Component{Type: "AHU", Properties: map[string]ecr.Value{"fanType": ecr.String("centrifugal")}}
	p1  = ecr.Component{Type: "Equipment", Properties: map[string]ecr.Value{"name": ecr.String("P1")}}
)

var cases = []testCase{
	{
		name:     "remove-component-of-nonexistent-entity",
		location: locateSource(),
		operation: func(ctx context.Context, s *ecr.EntityStore) error {
			return s.RemoveComponent(ctx, "ahu-01", "AHU")
		},
		err:    is(ecr.ErrNotFound),
		checks: []check{absent("ahu-01")},
	},
	{
		name:     "create-entity",
		location: locateSource(),
		operation: func(ctx context.Context, s *ecr.EntityStore) error {
			e, err := s.CreateEntity(ctx, "ahu-01", []ecr.Component{ahu})
			if err != nil {
				return err
			}
			if e.ID != "ahu-01" || len(e.Components) != 1 {
				return fmt.Errorf("CreateEntity returned %+v", e)
			}
			return nil
		},
		checks: []check{entity("ahu-01", ahu)},
	},
	{
		name:     "create-duplicate-entity",
		location: locateSource(),
		operation: func(ctx context.Context, s *ecr.EntityStore) error {
			_, err := s.CreateEntity(ctx, "ahu-01", []ecr.Component{p1})
			return err
		},
		err:    is(ecr.ErrAlreadyExists),
		checks: []check{entity("ahu-01", ahu)},
	},
	{
		name:     "create-missing-required-property",
		location: locateSource(),
		operation: func(ctx context.Context, s *ecr.EntityStore) error {
			_, err := s.CreateEntity(ctx, "battery-01", []ecr.Component{
				{Type: "Battery", Properties: map[string]ecr.Value{"chemistry": ecr.String("LFP")}},
			})
			return err
		},
		err:    missing("capacity"),
		checks: []check{absent("battery-01")},
	},
	{
		name:     "create-reports-every-invalid-component",
		location: locateSource(),
		operation: func(ctx context.Context, s *ecr.EntityStore) error {
			_, err := s.CreateEntity(ctx, "multi-01", []ecr.Component{
				{Type: "Battery"},
				{Type: "Sensor"},
			})
			return err
		},
		err:    missing("capacity", "unit"),
		checks: []check{absent("multi-01")},
	},
	{
		name:     "create-unknown-component-type",
		location: locateSource(),
		operation: func(ctx context.Context, s *ecr.EntityStore) error {
			_, err := s.CreateEntity(ctx, "thing-01", []ecr.Component{p1, {Type: "Teleporter"}})
			return err
		},
		err:    is(ecr.ErrUnknownType),
		checks: []check{absent("thing-01")},
	},
	{
		name:     "create-entity-with-many-components",
		location: locateSource(),
		operation: func(ctx context.Context, s *ecr.EntityStore) error {
			_, err := s.CreateEntity(ctx, "pump-01", []ecr.Component{
				p1,
				{Type: "Pump", Properties: map[string]ecr.Value{"flowRate": ecr.Number(12.5)}},
			})
			return err
		},
		checks: []check{
			entity("pump-01", p1, ecr.Component{Type: "Pump", Properties: map[string]ecr.Value{"flowRate": ecr.Number(12.5)}}),
		},
	},
	{
		name:     "add-owned-component-type",
		location: locateSource(),
		operation: func(ctx context.Context, s *ecr.EntityStore) error {
			return s.AddComponent(ctx, "pump-01", ecr.Component{
				Type:       "Equipment",
				Properties: map[string]ecr.Value{"name": ecr.String("P2")},
			})
		},
		err: is(ecr.ErrAlreadyExists),
		checks: []check{
			entity("pump-01", p1, ecr.Component{Type: "Pump", Properties: map[string]ecr.Value{"flowRate": ecr.Number(12.5)}}),
		},
	},
	{
		name:     "update-component",
		location: locateSource(),
		operation: func(ctx context.Context, s *ecr.EntityStore) error {
			return s.UpdateComponent(ctx, "pump-01", "Equipment", map[string]ecr.Value{
				"name":         ecr.String("P1b"),
				"manufacturer": ecr.String("Grundfos"),
			})
		},
		checks: []check{
			entity("pump-01",
				ecr.Component{Type: "Equipment", Properties: map[string]ecr.Value{"name": ecr.String("P1b"), "manufacturer": ecr.String("Grundfos")}},
				ecr.Component{Type: "Pump", Properties: map[string]ecr.Value{"flowRate": ecr.Number(12.5)}},
			),
		},
	},
	{
		name:     "update-unowned-component",
		location: locateSource(),
		operation: func(ctx context.Context, s *ecr.EntityStore) error {
			return s.UpdateComponent(ctx, "ahu-01", "Pump", map[string]ecr.Value{"flowRate": ecr.Number(1)})
		},
		err:    is(ecr.ErrNotFound),
		checks: []check{entity("ahu-01", ahu)},
	},
	{
		name:     "update-component-invalid",
		location: locateSource(),
		operation: func(ctx context.Context, s *ecr.EntityStore) error {
			return s.UpdateComponent(ctx, "ahu-01", "AHU", map[string]ecr.Value{"fanType": ecr.Number(3)})
		},
		err:    is(ecr.ErrValidationFailed),
		checks: []check{entity("ahu-01", ahu)},
	},
	{
		name:     "add-component",
		location: locateSource(),
		operation: func(ctx context.Context, s *ecr.EntityStore) error {
			return s.AddComponent(ctx, "ahu-01", ecr.Component{
				Type:       "Sensor",
				Properties: map[string]ecr.Value{"unit": ecr.String("degC")},
			})
		},
		checks: []check{
			entity("ahu-01", ahu, ecr.Component{Type: "Sensor", Properties: map[string]ecr.Value{"unit": ecr.String("degC")}}),
		},
	},
	{
		name:     "remove-unowned-component",
		location: locateSource(),
		operation: func(ctx context.Context, s *ecr.EntityStore) error {
			return s.RemoveComponent(ctx, "ahu-01", "Battery")
		},
		checks: []check{
			entity("ahu-01", ahu, ecr.Component{Type: "Sensor", Properties: map[string]ecr.Value{"unit": ecr.String("degC")}}),
		},
	},
	{
		name:     "remove-component",
		location: locateSource(),
		operation: func(ctx context.Context, s *ecr.EntityStore) error {
			return s.RemoveComponent(ctx, "ahu-01", "Sensor")
		},
		checks: []check{entity("ahu-01", ahu)},
	},
	{
		name:     "create-relationship",
		location: locateSource(),
		operation: func(ctx context.Context, s *ecr.EntityStore) error {
			_, err := s.CreateRelationship(ctx, "ahu-01", "pump-01", "feeds", nil)
			return err
		},
		checks: []check{
			relationships("ahu-01", "", ecr.Relationship{Type: "feeds", From: "ahu-01", To: "pump-01"}),
			relationships("pump-01", ""),
			path("ahu-01", "pump-01", 1, "ahu-01", "pump-01"),
			path("pump-01", "ahu-01", 1, "pump-01", "ahu-01"),
		},
	},
	{
		name:     "create-reverse-relationship",
		location: locateSource(),
		operation: func(ctx context.Context, s *ecr.EntityStore) error {
			_, err := s.CreateRelationship(ctx, "pump-01", "ahu-01", "isPartOf", nil)
			return err
		},
		checks: []check{
			relationships("pump-01", "isPartOf", ecr.Relationship{Type: "isPartOf", From: "pump-01", To: "ahu-01"}),
			relationships("pump-01", "feeds"),
		},
	},
	{
		name:     "create-relationship-to-nonexistent-entity",
		location: locateSource(),
		operation: func(ctx context.Context, s *ecr.EntityStore) error {
			_, err := s.CreateRelationship(ctx, "ahu-01", "ghost-01", "feeds", nil)
			if err != nil && !containsID(err, "ghost-01") {
				return fmt.Errorf("error does not name the missing entity: %v", err)
			}
			return err
		},
		err:    is(ecr.ErrNotFound),
		checks: []check{relationships("ahu-01", "", ecr.Relationship{Type: "feeds", From: "ahu-01", To: "pump-01"})},
	},
	{
		name:     "create-relationship-of-unknown-type",
		location: locateSource(),
		operation: func(ctx context.Context, s *ecr.EntityStore) error {
			_, err := s.CreateRelationship(ctx, "ahu-01", "pump-01", "teleportsTo", nil)
			return err
		},
		err:    is(ecr.ErrUnknownType),
		checks: []check{relationships("ahu-01", "", ecr.Relationship{Type: "feeds", From: "ahu-01", To: "pump-01"})},
	},
	{
		name:     "create-relationship-missing-required-property",
		location: locateSource(),
		operation: func(ctx context.Context, s *ecr.EntityStore) error {
			_, err := s.CreateRelationship(ctx, "ahu-01", "pump-01", "connectedTo", nil)
			return err
		},
		err:    missing("medium"),
		checks: []check{relationships("ahu-01", "connectedTo")},
	},
	{
		name:     "create-relationship-with-properties",
		location: locateSource(),
		operation: func(ctx context.Context, s *ecr.EntityStore) error {
			_, err := s.CreateRelationship(ctx, "ahu-01", "pump-01", "connectedTo", map[string]ecr.Value{"medium": ecr.String("water")})
			return err
		},
		checks: []check{
			relationships("ahu-01", "connectedTo", ecr.Relationship{
				Type:       "connectedTo",
				From:       "ahu-01",
				To:         "pump-01",
				Properties: map[string]ecr.Value{"medium": ecr.String("water")},
			}),
		},
	},
	{
		name:     "extend-path",
		location: locateSource(),
		operation: func(ctx context.Context, s *ecr.EntityStore) error {
			if _, err := s.CreateEntity(ctx, "room-01", []ecr.Component{{Type: "Room"}}); err != nil {
				return err
			}
			_, err := s.CreateRelationship(ctx, "room-01", "pump-01", "contains", nil)
			return err
		},
		checks: []check{
			entity("room-01", ecr.Component{Type: "Room"}),
			path("ahu-01", "room-01", 2, "ahu-01", "pump-01", "room-01"),
			path("ahu-01", "room-01", 1),
			path("room-01", "room-01", 1, "room-01"),
		},
	},
	{
		name:     "create-unrelated-entity",
		location: locateSource(),
		operation: func(ctx context.Context, s *ecr.EntityStore) error {
			_, err := s.CreateEntity(ctx, "sensor-01", []ecr.Component{
				{Type: "Sensor", Properties: map[string]ecr.Value{"unit": ecr.String("ppm")}},
			})
			return err
		},
		checks: []check{
			path("ahu-01", "sensor-01", 5),
			listed(ecr.ListOptions{}, "ahu-01", "pump-01", "room-01", "sensor-01"),
			listed(ecr.ListOptions{ComponentType: "Sensor"}, "sensor-01"),
			listed(ecr.ListOptions{Limit: 2, Offset: 1}, "pump-01", "room-01"),
			listed(ecr.ListOptions{Offset: 10}),
		},
	},
	{
		name:     "update-entity",
		location: locateSource(),
		operation: func(ctx context.Context, s *ecr.EntityStore) error {
			_, err := s.UpdateEntity(ctx, "ahu-01", []ecr.Component{
				{Type: "Equipment", Properties: map[string]ecr.Value{"name": ecr.String("AHU 1")}},
				{Type: "Sensor", Properties: map[string]ecr.Value{"unit": ecr.String("Pa")}},
			})
			return err
		},
		checks: []check{
			entity("ahu-01",
				ecr.Component{Type: "Equipment", Properties: map[string]ecr.Value{"name": ecr.String("AHU 1")}},
				ecr.Component{Type: "Sensor", Properties: map[string]ecr.Value{"unit": ecr.String("Pa")}},
			),
			listed(ecr.ListOptions{ComponentType: "AHU"}),
			listed(ecr.ListOptions{ComponentType: "Sensor"}, "ahu-01", "sensor-01"),
			// Replacing components leaves relationships alone.
			relationships("pump-01", "isPartOf", ecr.Relationship{Type: "isPartOf", From: "pump-01", To: "ahu-01"}),
		},
	},
	{
		name:     "update-nonexistent-entity",
		location: locateSource(),
		operation: func(ctx context.Context, s *ecr.EntityStore) error {
			_, err := s.UpdateEntity(ctx, "ghost-01", nil)
			return err
		},
		err:    is(ecr.ErrNotFound),
		checks: []check{absent("ghost-01")},
	},
	{
		name:     "delete-relationship",
		location: locateSource(),
		operation: func(ctx context.Context, s *ecr.EntityStore) error {
			ok, err := s.DeleteRelationship(ctx, "room-01", "pump-01", "contains")
			if err != nil {
				return err
			}
			if !ok {
				return errors.New("DeleteRelationship = false, want true")
			}
			ok, err = s.DeleteRelationship(ctx, "room-01", "pump-01", "contains")
			if err != nil {
				return err
			}
			if ok {
				return errors.New("DeleteRelationship of a deleted relationship = true, want false")
			}
			return nil
		},
		checks: []check{
			relationships("room-01", ""),
			path("ahu-01", "room-01", 5),
		},
	},
	{
		name:     "delete-entity",
		location: locateSource(),
		operation: func(ctx context.Context, s *ecr.EntityStore) error {
			ok, err := s.DeleteEntity(ctx, "ahu-01")
			if err != nil {
				return err
			}
			if !ok {
				return errors.New("DeleteEntity = false, want true")
			}
			return nil
		},
		checks: []check{
			absent("ahu-01"),
			// Both the incoming and the outgoing relationships are gone.
			relationships("pump-01", ""),
			listed(ecr.ListOptions{}, "pump-01", "room-01", "sensor-01"),
		},
	},
	{
		name:     "delete-nonexistent-entity",
		location: locateSource(),
		operation: func(ctx context.Context, s *ecr.EntityStore) error {
			ok, err := s.DeleteEntity(ctx, "ahu-01")
			if err != nil {
				return err
			}
			if ok {
				return errors.New("DeleteEntity = true, want false")
			}
			return nil
		},
		checks: []check{absent("ahu-01")},
	},
	{
		name:     "recreate-deleted-entity",
		location: locateSource(),
		operation: func(ctx context.Context, s *ecr.EntityStore) error {
			_, err := s.CreateEntity(ctx, "ahu-01", []ecr.Component{ahu})
			return err
		},
		checks: []check{
			entity("ahu-01", ahu),
			relationships("ahu-01", ""),
		},
	},
}

// Run executes the test-suite on an empty graph. The sequence of test-cases
// runs first, then the tests of specific behaviours, all on the same graph.
//
// We deliberately use the background context for every test so that the suite
// runs under neutral conditions, without any external influences or timeouts.
func Run(t *testing.T, g ecr.Graph) {
	t.Helper()
	ctx := context.Background()

	registry := ecr.NewTypeRegistry(g)
	for _, d := range componentTypes {
		if err := registry.Components.Register(ctx, d); err != nil {
			t.Fatalf("Register(%v) failed: %v", d.Name, err)
		}
	}
	for _, d := range relationshipTypes {
		if err := registry.Relationships.Register(ctx, d); err != nil {
			t.Fatalf("Register(%v) failed: %v", d.Name, err)
		}
	}
	store := ecr.NewEntityStore(g, registry)

	// All test-cases run in-order, on the same graph, because each case's checks
	// depend on the previous operations. That is, a test case cannot run if the
	// previous case had failed.
	for _, c := range cases {
		t.Logf("Read the source for test-case %v at %v", c.name, c.location)
		err := c.operation(ctx, store)
		switch {
		case c.err == nil && err != nil:
			t.Fatalf("%v failed: %v", c.name, err)
		case c.err != nil && err == nil:
			t.Fatalf("%v succeeded, want an error", c.name)
		case c.err != nil:
			if problem := c.err(err); problem != "" {
				t.Fatalf("Check error of %v: %v", c.name, problem)
			}
		}
		for _, check := range c.checks {
			if problem := check(ctx, store); problem != "" {
				t.Errorf("Check store of %v: %v", c.name, problem)
			}
		}
		if t.Failed() {
			t.FailNow()
		}
	}

	t.Run("Values", func(t *testing.T) { testValues(t, store) })
	t.Run("Timestamps", func(t *testing.T) { testTimestamps(t, g, registry) })
	t.Run("ConcurrentCreate", func(t *testing.T) { testConcurrentCreate(t, store) })
	t.Run("Notifications", func(t *testing.T) { testNotifications(t, g, registry) })
	t.Run("Registry", func(t *testing.T) { testRegistry(t, registry) })
	t.Run("InvalidArguments", func(t *testing.T) { testInvalidArguments(t, store) })
}

// Every kind of Value survives a round trip through the graph.
func testValues(t *testing.T, s *ecr.EntityStore) {
	ctx := context.Background()
	observed := time.Date(2024, time.March, 14, 15, 9, 26, 535897000, time.UTC)
	reading := ecr.Component{Type: "Reading", Properties: map[string]ecr.Value{
		"label":      ecr.String("supply air"),
		"value":      ecr.Number(21.5),
		"active":     ecr.Bool(true),
		"observedAt": ecr.Date{Time: observed},
		"extra": ecr.JSON{V: map[string]any{
			"floors": []any{1.0, 2.0},
			"vendor": map[string]any{"name": "acme", "certified": false},
			"note":   nil,
		}},
		"orientation": ecr.JSON{V: []any{0.0, 0.0, 0.0, 1.0}},
		"undeclared":  ecr.String("kept"),
	}}
	if _, err := s.CreateEntity(ctx, "reading-01", []ecr.Component{reading}); err != nil {
		t.Fatalf("CreateEntity failed: %v", err)
	}
	if problem := entity("reading-01", reading)(ctx, s); problem != "" {
		t.Error(problem)
	}

	// Dates may be given as strings.
	err := s.UpdateComponent(ctx, "reading-01", "Reading", map[string]ecr.Value{"observedAt": ecr.String("2024-03-14")})
	if err != nil {
		t.Fatalf("UpdateComponent with a textual date failed: %v", err)
	}
	want := ecr.Component{Type: "Reading", Properties: map[string]ecr.Value{"observedAt": ecr.String("2024-03-14")}}
	if problem := entity("reading-01", want)(ctx, s); problem != "" {
		t.Error(problem)
	}

	// Nil values are stored as absent properties, and dates read back in UTC.
	local := time.Date(2024, time.March, 14, 17, 9, 26, 0, time.FixedZone("CEST", 2*60*60))
	_, err = s.CreateEntity(ctx, "reading-02", []ecr.Component{{Type: "Reading", Properties: map[string]ecr.Value{
		"label":      ecr.String("return air"),
		"value":      nil,
		"observedAt": ecr.Date{Time: local},
	}}})
	if err != nil {
		t.Fatalf("CreateEntity with a nil value failed: %v", err)
	}
	want = ecr.Component{Type: "Reading", Properties: map[string]ecr.Value{
		"label":      ecr.String("return air"),
		"observedAt": ecr.Date{Time: local},
	}}
	if problem := entity("reading-02", want)(ctx, s); problem != "" {
		t.Error(problem)
	}
	e, err := s.GetEntity(ctx, "reading-02")
	if err != nil || e == nil {
		t.Fatalf("GetEntity = %v, %v", e, err)
	}
	c, _ := e.Component("Reading")
	if _, ok := c.Properties["value"]; ok {
		t.Errorf("GetEntity returned the nil property: %v", c.Properties)
	}
	if d, ok := c.Properties["observedAt"].(ecr.Date); !ok || d.Time.Location() != time.UTC {
		t.Errorf("observedAt = %#v, want a date in UTC", c.Properties["observedAt"])
	}
}

func testTimestamps(t *testing.T, g ecr.Graph, registry *ecr.TypeRegistry) {
	ctx := context.Background()
	clock := &steppingClock{now: time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)}
	s := ecr.NewEntityStore(g, registry, ecr.WithClock(clock.Now))

	created, err := s.CreateEntity(ctx, "clock-01", []ecr.Component{{Type: "Room"}})
	if err != nil {
		t.Fatalf("CreateEntity failed: %v", err)
	}
	if !created.CreatedAt.Equal(created.UpdatedAt) {
		t.Errorf("CreatedAt = %v, UpdatedAt = %v, want equal on creation", created.CreatedAt, created.UpdatedAt)
	}
	if err := s.AddComponent(ctx, "clock-01", ecr.Component{Type: "Sensor", Properties: map[string]ecr.Value{"unit": ecr.String("lx")}}); err != nil {
		t.Fatalf("AddComponent failed: %v", err)
	}
	got, err := s.GetEntity(ctx, "clock-01")
	if err != nil || got == nil {
		t.Fatalf("GetEntity = %v, %v", got, err)
	}
	if !got.CreatedAt.Equal(created.CreatedAt) {
		t.Errorf("CreatedAt changed from %v to %v", created.CreatedAt, got.CreatedAt)
	}
	if !got.UpdatedAt.After(created.UpdatedAt) {
		t.Errorf("UpdatedAt = %v, want after %v", got.UpdatedAt, created.UpdatedAt)
	}
}

// Concurrent creations of one id are arbitrated by the graph: exactly one
// succeeds and the others fail with ErrAlreadyExists.
func testConcurrentCreate(t *testing.T, s *ecr.EntityStore) {
	ctx := context.Background()
	const writers = 8

	var (
		mu        sync.Mutex
		succeeded int
	)
	var g errgroup.Group
	for i := range writers {
		g.Go(func() error {
			_, err := s.CreateEntity(ctx, "race-01", []ecr.Component{
				{Type: "Equipment", Properties: map[string]ecr.Value{"name": ecr.String(fmt.Sprint("writer ", i))}},
			})
			switch {
			case err == nil:
				mu.Lock()
				succeeded++
				mu.Unlock()
				return nil
			case errors.Is(err, ecr.ErrAlreadyExists):
				return nil
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("CreateEntity failed: %v", err)
	}
	if succeeded != 1 {
		t.Errorf("%d concurrent creations succeeded, want 1", succeeded)
	}
	if problem := listed(ecr.ListOptions{ComponentType: "Equipment", Limit: 10}, "pump-01", "race-01")(ctx, s); problem != "" {
		t.Error(problem)
	}
}

func testNotifications(t *testing.T, g ecr.Graph, registry *ecr.TypeRegistry) {
	ctx := context.Background()
	var rec recorder
	s := ecr.NewEntityStore(g, registry, ecr.WithNotifier(&rec))

	if _, err := s.CreateEntity(ctx, "notify-01", []ecr.Component{{Type: "Room"}}); err != nil {
		t.Fatalf("CreateEntity failed: %v", err)
	}
	if _, err := s.CreateEntity(ctx, "notify-01", nil); !errors.Is(err, ecr.ErrAlreadyExists) {
		t.Fatalf("CreateEntity of a duplicate = %v, want %v", err, ecr.ErrAlreadyExists)
	}
	if err := s.RemoveComponent(ctx, "notify-01", "Pump"); err != nil {
		t.Fatalf("RemoveComponent failed: %v", err)
	}
	if _, err := s.CreateRelationship(ctx, "notify-01", "pump-01", "contains", nil); err != nil {
		t.Fatalf("CreateRelationship failed: %v", err)
	}
	if _, err := s.DeleteEntity(ctx, "notify-01"); err != nil {
		t.Fatalf("DeleteEntity failed: %v", err)
	}

	// Failed operations and no-ops publish nothing.
	want := []ecr.Change{
		{Kind: ecr.EntityCreated, EntityID: "notify-01", Entity: &ecr.Entity{ID: "notify-01", Components: []ecr.Component{{Type: "Room"}}}},
		{Kind: ecr.RelationshipCreated, EntityID: "notify-01", Relationship: &ecr.Relationship{Type: "contains", From: "notify-01", To: "pump-01"}},
		{Kind: ecr.EntityDeleted, EntityID: "notify-01"},
	}
	opts := cmp.Options{
		ignoreTimestamps,
		cmpopts.IgnoreFields(ecr.Change{}, "ID", "Timestamp"),
		cmpopts.EquateEmpty(),
	}
	if diff := cmp.Diff(want, rec.Changes(), opts); diff != "" {
		t.Errorf("Changes mismatch (-want +got):\n%v", diff)
	}
	for _, c := range rec.Changes() {
		if c.Timestamp.IsZero() {
			t.Errorf("%v change has no timestamp", c.Kind)
		}
	}
}

func testRegistry(t *testing.T, registry *ecr.TypeRegistry) {
	ctx := context.Background()
	components := registry.Components

	n, err := components.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != len(componentTypes) {
		t.Errorf("Count = %d, want %d", n, len(componentTypes))
	}

	all, err := components.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].Name >= all[i].Name {
			t.Errorf("List is not ordered by name: %q before %q", all[i-1].Name, all[i].Name)
		}
	}

	got, err := components.Get(ctx, "Battery")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if diff := cmp.Diff(componentTypes[2], got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("Get mismatch (-want +got):\n%v", diff)
	}

	// Re-registering replaces the descriptor without touching stored instances.
	floor := ecr.ComponentType{Name: "Floor", Description: "A storey", Properties: []ecr.PropertyDefinition{
		{Name: "level", Kind: ecr.KindNumber, Required: true, Description: "Zero is the ground floor"},
	}}
	if err := components.Register(ctx, floor); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	floor.Properties = append(floor.Properties, ecr.PropertyDefinition{Name: "name", Kind: ecr.KindString})
	if err := components.Register(ctx, floor); err != nil {
		t.Fatalf("Register (upsert) failed: %v", err)
	}
	got, err = components.Get(ctx, "Floor")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if diff := cmp.Diff(floor, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("Get after upsert mismatch (-want +got):\n%v", diff)
	}

	if err := components.Delete(ctx, "Floor"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if ok, err := components.Exists(ctx, "Floor"); err != nil || ok {
		t.Errorf("Exists after Delete = %v, %v; want false", ok, err)
	}
	if err := components.Delete(ctx, "Floor"); !errors.Is(err, ecr.ErrNotFound) {
		t.Errorf("Delete of a deleted type = %v, want %v", err, ecr.ErrNotFound)
	}
	if _, err := components.Get(ctx, "Floor"); !errors.Is(err, ecr.ErrNotFound) {
		t.Errorf("Get of a deleted type = %v, want %v", err, ecr.ErrNotFound)
	}

	malformed := []ecr.ComponentType{
		{},
		{Name: "NoKind", Properties: []ecr.PropertyDefinition{{Name: "x"}}},
		{Name: "Twice", Properties: []ecr.PropertyDefinition{{Name: "x", Kind: ecr.KindString}, {Name: "x", Kind: ecr.KindNumber}}},
	}
	for _, d := range malformed {
		if err := components.Register(ctx, d); !errors.Is(err, ecr.ErrInvalidArgument) {
			t.Errorf("Register(%+v) = %v, want %v", d, err, ecr.ErrInvalidArgument)
		}
	}

	rel, err := registry.Relationships.Get(ctx, "connectedTo")
	if err != nil {
		t.Fatalf("Get relationship type failed: %v", err)
	}
	if diff := cmp.Diff(relationshipTypes[3], rel, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("Get relationship type mismatch (-want +got):\n%v", diff)
	}
}

func testInvalidArguments(t *testing.T, s *ecr.EntityStore) {
	ctx := context.Background()
	if _, err := s.CreateEntity(ctx, "", nil); !errors.Is(err, ecr.ErrInvalidArgument) {
		t.Errorf("CreateEntity with an empty id = %v, want %v", err, ecr.ErrInvalidArgument)
	}
	if _, err := s.CreateEntity(ctx, "twice-01", []ecr.Component{{Type: "Room"}, {Type: "Room"}}); !errors.Is(err, ecr.ErrInvalidArgument) {
		t.Errorf("CreateEntity with a repeated component = %v, want %v", err, ecr.ErrInvalidArgument)
	}
	if _, err := s.FindShortestPath(ctx, "pump-01", "room-01", 0); !errors.Is(err, ecr.ErrInvalidArgument) {
		t.Errorf("FindShortestPath with zero depth = %v, want %v", err, ecr.ErrInvalidArgument)
	}
	if _, err := s.FindShortestPath(ctx, "pump-01", "ghost-01", 3); !errors.Is(err, ecr.ErrNotFound) {
		t.Errorf("FindShortestPath to a missing entity = %v, want %v", err, ecr.ErrNotFound)
	}
	if _, err := s.ListEntities(ctx, ecr.ListOptions{Limit: -1}); !errors.Is(err, ecr.ErrInvalidArgument) {
		t.Errorf("ListEntities with a negative limit = %v, want %v", err, ecr.ErrInvalidArgument)
	}
}

// A recorder is an ecr.Notifier keeping every change in memory.
type recorder struct {
	mu      sync.Mutex
	changes []ecr.Change
}

func (r *recorder) Notify(_ context.Context, c ecr.Change) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
	return nil
}

func (r *recorder) Changes() []ecr.Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ecr.Change(nil), r.changes...)
}

// A steppingClock advances by one second every time it is read.
type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func containsID(err error, id string) bool {
	return strings.Contains(err.Error(), strconv.Quote(id))
}

// Call this function to set the location of every test-case in the source file.
// The returned string is used to guide developers of graph engines to the
// appropriate test-case.
func locateSource() (location string) {
	_, file, line, ok := runtime.Caller(1)
	if !ok {
		panic("runtime.Caller failed")
	}
	return fmt.Sprintf("%v:%v", file, line)
}
