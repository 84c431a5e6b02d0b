package neo4jgraph

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/go-digitaltwin/go-ecr/internal/dbtest"
)

func TestBootstrapDatabase(t *testing.T) {
	d := dbtest.SetupNeo4j(t)

	var tests = []struct {
		name     string
		database string
	}{
		{name: "Alphanumeric", database: "Aa1"},
		{name: "WithDash", database: "a-1"},
		{name: "WithDot", database: "a.1"},
		{name: "UUID", database: "a1b2c3d4-e5f6-4a1b-9c2d-3e4f5a6b7c8d"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			err := BootstrapDatabase(ctx, d, tt.database)
			if err != nil {
				t.Fatalf("BootstrapDatabase() error = %v", err)
			}
			// Bootstrapping twice must be harmless.
			err = BootstrapDatabase(ctx, d, tt.database)
			if err != nil {
				t.Fatalf("BootstrapDatabase() again error = %v", err)
			}

			session := d.NewSession(ctx, neo4j.SessionConfig{DatabaseName: tt.database})
			defer func() {
				if err := session.Close(ctx); err != nil {
					t.Fatal("Failed to close session:", err)
				}
			}()

			result, err := session.Run(ctx, "SHOW CONSTRAINTS YIELD name, labelsOrTypes, properties", nil)
			if err != nil {
				t.Fatal("Failed to list constraints:", err)
			}
			found := make(map[string]bool)
			for result.Next(ctx) {
				t.Log(formatRecord(result.Record()))
				name, ok := result.Record().Get("name")
				if !ok {
					t.Fatal("Constraints table contains no name column")
				}
				found[name.(string)] = true
			}
			if err := result.Err(); err != nil {
				t.Fatal("Failed to list constraints:", err)
			}

			for _, name := range []string{"entity_id", "component_type_name", "relationship_type_name", "component_owner"} {
				if !found[name] {
					t.Errorf("Constraint %v not found", name)
				}
			}
		})
	}

	t.Run("InvalidName", func(t *testing.T) {
		var tests = []struct {
			name      string
			database  string
			wantPanic bool
		}{
			{name: "Empty", wantPanic: true},
			{name: "Reserved(neo4j)", database: "neo4j", wantPanic: true},
			{name: "Reserved(system)", database: "systemReserved", wantPanic: true},
			{name: "Reserved(underscore)", database: "_NotSystem", wantPanic: true},
			{name: "TooShort", database: "aa"},
			{name: "TooLong", database: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa64"},
			{name: "IllegalChars(underscore)", database: "a_1"},
			{name: "IllegalChars(slash)", database: "a/1"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				defer func() {
					if r := recover(); (r != nil) != tt.wantPanic {
						t.Errorf("BootstrapDatabase() panic = %v, wantPanic %v", r, tt.wantPanic)
					}
				}()

				err := BootstrapDatabase(context.Background(), d, tt.database)
				if err == nil {
					t.Errorf("BootstrapDatabase() succeeded, want error")
				}
			})
		}
	})
}

func TestBootstrapSchema_index(t *testing.T) {
	ctx := context.Background()
	d := dbtest.SetupNeo4j(t)
	if err := BootstrapSchema(ctx, d, "neo4j"); err != nil {
		t.Fatalf("BootstrapSchema() error = %v", err)
	}

	session := d.NewSession(ctx, neo4j.SessionConfig{DatabaseName: "neo4j"})
	defer func() {
		if err := session.Close(ctx); err != nil {
			t.Fatal("Failed to close session:", err)
		}
	}()
	result, err := session.Run(ctx, "SHOW INDEXES YIELD name WHERE name = 'component_type' RETURN count(*) AS indexes", nil)
	if err != nil {
		t.Fatal("Failed to list indexes:", err)
	}
	record, err := result.Single(ctx)
	if err != nil {
		t.Fatal("Failed to list indexes:", err)
	}
	n, err := getRecordProperty[int64](record, "indexes")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("Found %v indexes named component_type, want 1", n)
	}
}

func formatRecord(r *neo4j.Record) string {
	var fields []string
	for i, key := range r.Keys {
		fields = append(fields, fmt.Sprintf("%s: %v", key, r.Values[i]))
	}
	return strings.Join(fields, ", ")
}
