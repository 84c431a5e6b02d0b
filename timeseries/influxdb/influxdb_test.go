package influxdb

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	influxhttp "github.com/influxdata/influxdb-client-go/v2/api/http"

	"github.com/go-digitaltwin/go-ecr"
	"github.com/go-digitaltwin/go-ecr/internal/dbtest"
	"github.com/go-digitaltwin/go-ecr/timeseries"
)

func TestStore(t *testing.T) {
	ctx := context.Background()
	client := dbtest.SetupInfluxDB(t)
	s := NewFromClient(client, dbtest.InfluxDBOrg, dbtest.InfluxDBBucket)

	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping() = %v", err)
	}

	// Points lie in the recent past so the default lookback of the latest query
	// covers them.
	start := time.Now().UTC().Truncate(time.Minute).Add(-30 * time.Minute)
	var points []timeseries.Point
	for i := range 6 {
		points = append(points, timeseries.NewPoint("ahu-01", map[string]any{
			"supplyTemp": 18 + float64(i),
			"running":    i%2 == 0,
		}, start.Add(time.Duration(i)*10*time.Second)))
	}
	points = append(points, timeseries.NewPoint("vav-01", map[string]any{"airflow": 120.0}, start))

	w := timeseries.NewWriter(ctx, s, timeseries.Config{BatchSize: 100, FlushInterval: time.Hour})
	for _, p := range points {
		if err := w.Write(p); err != nil {
			t.Fatalf("Write() = %v", err)
		}
	}
	if err := w.Close(ctx); err != nil {
		t.Fatalf("Close() = %v", err)
	}

	t.Run("Latest", func(t *testing.T) {
		got, err := timeseries.QueryLatest(ctx, s, timeseries.LatestQuery{EntityID: "ahu-01"})
		if err != nil {
			t.Fatalf("QueryLatest() = %v", err)
		}
		want := []timeseries.Point{{
			Measurement: timeseries.Measurement,
			Tags:        map[string]string{timeseries.EntityTag: "ahu-01"},
			Fields:      map[string]any{"supplyTemp": 23.0, "running": false},
			Time:        start.Add(50 * time.Second),
		}}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("QueryLatest() mismatch (-want +got)\n%v", diff)
		}
	})

	t.Run("History", func(t *testing.T) {
		got, err := timeseries.QueryHistory(ctx, s, timeseries.HistoryQuery{
			EntityID: "ahu-01",
			Fields:   []string{"supplyTemp"},
			Start:    start,
			Stop:     start.Add(time.Minute),
		})
		if err != nil {
			t.Fatalf("QueryHistory() = %v", err)
		}
		if len(got) != 6 {
			t.Fatalf("QueryHistory() returned %d points, want 6", len(got))
		}
		for i, p := range got {
			want := map[string]any{"supplyTemp": 18 + float64(i)}
			if diff := cmp.Diff(want, p.Fields); diff != "" {
				t.Errorf("Point #%d fields mismatch (-want +got)\n%v", i, diff)
			}
		}
	})

	t.Run("Aggregate", func(t *testing.T) {
		got, err := timeseries.QueryHistory(ctx, s, timeseries.HistoryQuery{
			EntityID:  "ahu-01",
			Fields:    []string{"supplyTemp"},
			Start:     start,
			Stop:      start.Add(time.Minute),
			Window:    time.Minute,
			Aggregate: timeseries.AggregateMax,
		})
		if err != nil {
			t.Fatalf("QueryHistory() = %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("QueryHistory() returned %d points, want 1: %v", len(got), got)
		}
		if diff := cmp.Diff(map[string]any{"supplyTemp": 23.0}, got[0].Fields); diff != "" {
			t.Errorf("Aggregated fields mismatch (-want +got)\n%v", diff)
		}
	})
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		unavailable bool
	}{
		{name: "Transport", err: influxhttp.NewError(errors.New("connection refused")), unavailable: true},
		{name: "ServerError", err: &influxhttp.Error{StatusCode: 503, Code: "unavailable", Message: "down"}, unavailable: true},
		{name: "BadRequest", err: &influxhttp.Error{StatusCode: 400, Code: "invalid", Message: "bad field"}},
		{name: "Other", err: fmt.Errorf("parse: %w", errors.New("unexpected token"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(tt.err)
			if got := errors.Is(err, ecr.ErrStoreUnavailable); got != tt.unavailable {
				t.Errorf("classify() = %v, unavailable = %v, want %v", err, got, tt.unavailable)
			}
		})
	}
}

func TestFilterFields(t *testing.T) {
	if got := filterFields(nil); got != "" {
		t.Errorf("filterFields(nil) = %q, want empty", got)
	}
	want := `|> filter(fn: (r) => r._field == params.field0 or r._field == params.field1)`
	if got := filterFields([]string{"a", `b") or true //`}); got != want {
		t.Errorf("filterFields() = %q, want %q", got, want)
	}
}

func TestRecordTags(t *testing.T) {
	got := recordTags(map[string]any{
		"result":       "_result",
		"table":        int64(0),
		"_start":       time.Now(),
		"_measurement": timeseries.Measurement,
		"_field":       "supplyTemp",
		"_value":       18.5,
		"entity_id":    "ahu-01",
		"zone":         "north",
	})
	want := map[string]string{"entity_id": "ahu-01", "zone": "north"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("recordTags() mismatch (-want +got)\n%v", diff)
	}
}
