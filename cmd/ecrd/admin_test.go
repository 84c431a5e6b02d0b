package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/go-digitaltwin/go-ecr"
	"github.com/go-digitaltwin/go-ecr/memgraph"
	"github.com/go-digitaltwin/go-ecr/timeseries"
)

var epoch = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

// newTestAdmin returns an admin server over an in-memory store holding an air
// handling unit feeding a VAV box.
func newTestAdmin(t *testing.T, metrics timeseries.Querier, checks ...healthCheck) http.Handler {
	t.Helper()
	ctx := context.Background()
	g := memgraph.New()
	registry := ecr.NewTypeRegistry(g)
	if err := ecr.LoadCatalog(ctx, registry, ecr.BuiltinCatalog()); err != nil {
		t.Fatal(err)
	}
	store := ecr.NewEntityStore(g, registry, ecr.WithClock(func() time.Time { return epoch }))

	for _, id := range []string{"ahu-01", "vav-01"} {
		_, err := store.CreateEntity(ctx, id, []ecr.Component{{
			Type:       "Equipment",
			Properties: map[string]ecr.Value{"name": ecr.String(strings.ToUpper(id))},
		}})
		if err != nil {
			t.Fatal(err)
		}
	}
	if _, err := store.CreateRelationship(ctx, "ahu-01", "vav-01", "feeds", nil); err != nil {
		t.Fatal(err)
	}

	e := newAdmin(newRegistry(nil), checks...)
	inspector{store: store, metrics: metrics}.register(e)
	return e
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	ok := healthCheck{name: "neo4j", check: func(context.Context) error { return nil }}
	down := healthCheck{name: "influxdb", check: func(context.Context) error { return errors.New("connection refused") }}

	tests := []struct {
		name   string
		checks []healthCheck
		code   int
		want   healthStatus
	}{
		{
			name:   "Healthy",
			checks: []healthCheck{ok},
			code:   http.StatusOK,
			want:   healthStatus{Status: "ok", Checks: map[string]string{"neo4j": "ok"}},
		},
		{
			name:   "Unavailable",
			checks: []healthCheck{ok, down},
			code:   http.StatusServiceUnavailable,
			want: healthStatus{Status: "unavailable", Checks: map[string]string{
				"neo4j":    "ok",
				"influxdb": "connection refused",
			}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, newAdmin(newRegistry(nil), tt.checks...), "/healthz")
			if rec.Code != tt.code {
				t.Errorf("GET /healthz = %d, want %d", rec.Code, tt.code)
			}
			var got healthStatus
			if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("GET /healthz mismatch (-want +got)\n%v", diff)
			}
		})
	}
}

func TestMetrics(t *testing.T) {
	w := timeseries.NewWriter(context.Background(), discard{}, timeseries.Config{FlushInterval: time.Hour})
	t.Cleanup(func() { _ = w.Close(context.Background()) })
	if err := w.Write(timeseries.NewPoint("ahu-01", map[string]any{"v": 1.0}, epoch)); err != nil {
		t.Fatal(err)
	}

	rec := get(t, newAdmin(newRegistry(w)), "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"ecr_timeseries_buffered_points 1", "ecr_timeseries_buffer_capacity 100000", "go_goroutines"} {
		if !strings.Contains(body, want) {
			t.Errorf("GET /metrics does not report %q", want)
		}
	}
}

// discard is a timeseries backend accepting every batch.
type discard struct{}

func (discard) WritePoints(context.Context, []timeseries.Point) error { return nil }

func TestInspector(t *testing.T) {
	h := newTestAdmin(t, nil)

	t.Run("Entity", func(t *testing.T) {
		rec := get(t, h, "/entities/ahu-01")
		if rec.Code != http.StatusOK {
			t.Fatalf("GET = %d: %s", rec.Code, rec.Body)
		}
		var got entityView
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatal(err)
		}
		want := entityView{
			ID:         "ahu-01",
			Components: map[string]map[string]any{"Equipment": {"name": "AHU-01"}},
			CreatedAt:  epoch,
			UpdatedAt:  epoch,
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("GET mismatch (-want +got)\n%v", diff)
		}
	})

	t.Run("List", func(t *testing.T) {
		rec := get(t, h, "/entities?componentType=Equipment&limit=1&offset=1")
		var got []entityView
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 || got[0].ID != "vav-01" {
			t.Errorf("GET = %+v, want only vav-01", got)
		}
	})

	t.Run("Relationships", func(t *testing.T) {
		rec := get(t, h, "/entities/ahu-01/relationships?type=feeds")
		var got []relationshipView
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatal(err)
		}
		want := []relationshipView{{Type: "feeds", From: "ahu-01", To: "vav-01"}}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("GET mismatch (-want +got)\n%v", diff)
		}
	})

	t.Run("Path", func(t *testing.T) {
		rec := get(t, h, "/entities/vav-01/path/ahu-01?maxDepth=2")
		if rec.Code != http.StatusOK {
			t.Fatalf("GET = %d: %s", rec.Code, rec.Body)
		}
		var got struct {
			EntityIDs []string `json:"entityIds"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]string{"vav-01", "ahu-01"}, got.EntityIDs); diff != "" {
			t.Errorf("GET mismatch (-want +got)\n%v", diff)
		}
	})

	t.Run("Types", func(t *testing.T) {
		rec := get(t, h, "/types/relationships")
		var got []ecr.RelationshipType
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatal(err)
		}
		if len(got) != len(ecr.BuiltinCatalog().RelationshipTypes) {
			t.Errorf("GET returned %d relationship types, want %d", len(got), len(ecr.BuiltinCatalog().RelationshipTypes))
		}
	})

	codes := map[string]int{
		"/entities/nobody":                         http.StatusNotFound,
		"/entities/nobody/path/ahu-01":             http.StatusNotFound,
		"/entities?limit=-1":                       http.StatusBadRequest,
		"/entities?limit=many":                     http.StatusBadRequest,
		"/entities/ahu-01/path/vav-01?maxDepth=-2": http.StatusBadRequest,
		"/entities/ahu-01/path/vav-01?maxDepth=25": http.StatusBadRequest,
		"/entities/ahu-01/path/vav-01?maxDepth=24": http.StatusOK,
		"/entities/ahu-01/metrics":                 http.StatusNotImplemented,
	}
	for target, code := range codes {
		t.Run(target, func(t *testing.T) {
			if rec := get(t, h, target); rec.Code != code {
				t.Errorf("GET = %d, want %d: %s", rec.Code, code, rec.Body)
			}
		})
	}
}

// cannedQuerier answers every query with the same points.
type cannedQuerier struct {
	points  []timeseries.Point
	history []timeseries.HistoryQuery
}

func (q *cannedQuerier) Latest(context.Context, timeseries.LatestQuery) ([]timeseries.Point, error) {
	return q.points, nil
}

func (q *cannedQuerier) History(_ context.Context, query timeseries.HistoryQuery) ([]timeseries.Point, error) {
	q.history = append(q.history, query)
	return q.points, nil
}

func TestInspector_metrics(t *testing.T) {
	q := &cannedQuerier{points: []timeseries.Point{
		timeseries.NewPoint("ahu-01", map[string]any{"supplyTemp": 18.5}, epoch),
	}}
	h := newTestAdmin(t, q)

	rec := get(t, h, "/entities/ahu-01/metrics?field=supplyTemp")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET = %d: %s", rec.Code, rec.Body)
	}
	var got []timeseries.Point
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(q.points, got); diff != "" {
		t.Errorf("GET mismatch (-want +got)\n%v", diff)
	}

	rec = get(t, h, "/entities/ahu-01/metrics/history?start=2024-05-01T00:00:00Z&stop=2024-05-02T00:00:00Z&window=1h&aggregate=mean&field=supplyTemp")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET = %d: %s", rec.Code, rec.Body)
	}
	want := []timeseries.HistoryQuery{{
		EntityID:  "ahu-01",
		Fields:    []string{"supplyTemp"},
		Start:     time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		Stop:      time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC),
		Window:    time.Hour,
		Aggregate: timeseries.AggregateMean,
	}}
	if diff := cmp.Diff(want, q.history); diff != "" {
		t.Errorf("Querier received (-want +got)\n%v", diff)
	}

	for _, target := range []string{
		"/entities/ahu-01/metrics/history",
		"/entities/ahu-01/metrics/history?start=yesterday",
		"/entities/ahu-01/metrics/history?start=2024-05-01T00:00:00Z&window=1h",
		"/entities/ahu-01/metrics?lookback=forever",
	} {
		if rec := get(t, h, target); rec.Code != http.StatusBadRequest {
			t.Errorf("GET %s = %d, want %d", target, rec.Code, http.StatusBadRequest)
		}
	}
}
