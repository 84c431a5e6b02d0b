package neo4jgraph

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/go-digitaltwin/go-ecr"
	"github.com/go-digitaltwin/go-ecr/graphtest"
	"github.com/go-digitaltwin/go-ecr/internal/dbtest"
)

func TestGraph(t *testing.T) {
	driver := dbtest.SetupNeo4j(t)
	if err := BootstrapSchema(context.Background(), driver, "neo4j"); err != nil {
		t.Fatal(err)
	}
	graphtest.Run(t, New(driver, "neo4j"))
}

func TestGraph_edgeLabels(t *testing.T) {
	ctx := context.Background()
	driver := dbtest.SetupNeo4j(t)
	if err := BootstrapSchema(ctx, driver, "neo4j"); err != nil {
		t.Fatal(err)
	}
	g := New(driver, "neo4j")

	registry := ecr.NewTypeRegistry(g)
	if err := registry.Components.Register(ctx, ecr.ComponentType{Name: "Equipment"}); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"feeds", "servedBy"} {
		if err := registry.Relationships.Register(ctx, ecr.RelationshipType{Name: name}); err != nil {
			t.Fatal(err)
		}
	}
	store := ecr.NewEntityStore(g, registry)
	for _, id := range []string{"ahu-01", "vav-01"} {
		if _, err := store.CreateEntity(ctx, id, []ecr.Component{{Type: "Equipment"}}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := store.CreateRelationship(ctx, "ahu-01", "vav-01", "feeds", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := store.CreateRelationship(ctx, "vav-01", "ahu-01", "servedBy", nil); err != nil {
		t.Fatal(err)
	}

	s := driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: "neo4j"})
	defer func() {
		if err := s.Close(ctx); err != nil {
			t.Errorf("Failed to close neo4j session: %v", err)
		}
	}()
	result, err := s.Run(ctx, `
		MATCH (:Entity)-[r]->(:Entity)
		RETURN r.type AS type, type(r) AS label
	`, nil)
	if err != nil {
		t.Fatalf("Failed to query edges: %v", err)
	}
	records, err := result.Collect(ctx)
	if err != nil {
		t.Fatalf("Failed to collect query results: %v", err)
	}
	got := make(map[string]string)
	for _, record := range records {
		relType, _ := getRecordProperty[string](record, "type")
		label, _ := getRecordProperty[string](record, "label")
		got[relType] = label
	}
	want := map[string]string{"feeds": "FEEDS", "servedBy": CustomEdgeLabel}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Edge labels mismatch (-want +got)\n%v", diff)
	}

	// Relationships of both labels read back by their type.
	rels, err := store.GetRelationships(ctx, "vav-01", "servedBy")
	if err != nil {
		t.Fatal(err)
	}
	if len(rels) != 1 || rels[0].To != "ahu-01" {
		t.Errorf("GetRelationships(vav-01, servedBy) = %v, want a single relationship to ahu-01", rels)
	}
}
