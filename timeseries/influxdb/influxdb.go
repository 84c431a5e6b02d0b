// Package influxdb stores and queries entity metrics on InfluxDB 2.
package influxdb

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	influxhttp "github.com/influxdata/influxdb-client-go/v2/api/http"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/go-digitaltwin/go-ecr"
	"github.com/go-digitaltwin/go-ecr/timeseries"
)

// Config locates a bucket on an InfluxDB server.
type Config struct {
	URL    string `yaml:"url" validate:"required,url"`
	Token  string `yaml:"token" validate:"required"`
	Org    string `yaml:"org" validate:"required"`
	Bucket string `yaml:"bucket" validate:"required"`
}

// Store implements timeseries.Backend and timeseries.Querier on a single
// bucket.
type Store struct {
	client influxdb2.Client
	bucket string
	write  api.WriteAPIBlocking
	query  api.QueryAPI
}

// New connects to the server of cfg. Call Close to release the connection.
func New(cfg Config) *Store {
	return NewFromClient(influxdb2.NewClient(cfg.URL, cfg.Token), cfg.Org, cfg.Bucket)
}

// NewFromClient returns a Store using an existing client. Close closes the
// client.
func NewFromClient(client influxdb2.Client, org, bucket string) *Store {
	return &Store{
		client: client,
		bucket: bucket,
		write:  client.WriteAPIBlocking(org, bucket),
		query:  client.QueryAPI(org),
	}
}

// Close closes the underlying client.
func (s *Store) Close() { s.client.Close() }

// Ping reports whether the server is reachable and ready.
func (s *Store) Ping(ctx context.Context) error {
	ok, err := s.client.Ping(ctx)
	if err != nil {
		return classify(err)
	}
	if !ok {
		return fmt.Errorf("%w: influxdb is not ready", ecr.ErrStoreUnavailable)
	}
	return nil
}

// WritePoints writes the batch in a single request.
func (s *Store) WritePoints(ctx context.Context, points []timeseries.Point) error {
	batch := make([]*write.Point, len(points))
	for i, p := range points {
		batch[i] = influxdb2.NewPoint(p.Measurement, p.Tags, p.Fields, p.Time)
	}
	if err := s.write.WritePoint(ctx, batch...); err != nil {
		return classify(err)
	}
	return nil
}

// classify marks transport failures and server-side errors as
// ecr.ErrStoreUnavailable.
func classify(err error) error {
	var httpErr *influxhttp.Error
	if errors.As(err, &httpErr) && (httpErr.StatusCode == 0 || httpErr.StatusCode >= 500) {
		return fmt.Errorf("%w: influxdb: %w", ecr.ErrStoreUnavailable, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: influxdb: %w", ecr.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("influxdb: %w", err)
}

// Query parameters travel separately from the Flux text; only parameter names,
// the aggregate function and the window duration, all validated, are formatted
// into it.
const latestQuery = `
from(bucket: params.bucket)
	|> range(start: params.start)
	|> filter(fn: (r) => r._measurement == params.measurement and r.entity_id == params.entity)
	%s
	|> last()
`

const historyQuery = `
from(bucket: params.bucket)
	|> range(start: params.start, stop: params.stop)
	|> filter(fn: (r) => r._measurement == params.measurement and r.entity_id == params.entity)
	%s
	%s
`

func (s *Store) params(entityID string, fields []string) map[string]any {
	params := map[string]any{
		"bucket":      s.bucket,
		"measurement": timeseries.Measurement,
		"entity":      entityID,
	}
	// Query parameters cannot hold arrays, so every field name is a parameter of
	// its own.
	for i, f := range fields {
		params[fieldParam(i)] = f
	}
	return params
}

func fieldParam(i int) string { return "field" + strconv.Itoa(i) }

// filterFields returns the filter keeping the fields bound by params, if any.
func filterFields(fields []string) string {
	if len(fields) == 0 {
		return ""
	}
	terms := make([]string, len(fields))
	for i := range fields {
		terms[i] = "r._field == params." + fieldParam(i)
	}
	return "|> filter(fn: (r) => " + strings.Join(terms, " or ") + ")"
}

// Latest implements timeseries.Querier.
func (s *Store) Latest(ctx context.Context, q timeseries.LatestQuery) ([]timeseries.Point, error) {
	params := s.params(q.EntityID, q.Fields)
	params["start"] = time.Now().Add(-q.Lookback).UTC()
	return s.run(ctx, fmt.Sprintf(latestQuery, filterFields(q.Fields)), params)
}

// History implements timeseries.Querier.
func (s *Store) History(ctx context.Context, q timeseries.HistoryQuery) ([]timeseries.Point, error) {
	window := ""
	if q.Aggregate != timeseries.AggregateNone {
		if !q.Aggregate.Known() || q.Window <= 0 {
			return nil, fmt.Errorf("%w: aggregate %q over %v", timeseries.ErrInvalidQuery, q.Aggregate, q.Window)
		}
		window = fmt.Sprintf("|> aggregateWindow(every: %dns, fn: %s, createEmpty: false)", q.Window.Nanoseconds(), q.Aggregate)
	}
	params := s.params(q.EntityID, q.Fields)
	params["start"] = q.Start.UTC()
	params["stop"] = q.Stop.UTC()
	return s.run(ctx, fmt.Sprintf(historyQuery, filterFields(q.Fields), window), params)
}

// run executes a query and merges its per-field records into points, one per
// timestamp, ordered by time.
func (s *Store) run(ctx context.Context, flux string, params map[string]any) ([]timeseries.Point, error) {
	result, err := s.query.QueryWithParams(ctx, flux, params)
	if err != nil {
		return nil, classify(err)
	}
	defer func() { _ = result.Close() }()

	byTime := make(map[time.Time]*timeseries.Point)
	for result.Next() {
		record := result.Record()
		at := record.Time()
		p, ok := byTime[at]
		if !ok {
			p = &timeseries.Point{
				Measurement: record.Measurement(),
				Tags:        recordTags(record.Values()),
				Fields:      make(map[string]any),
				Time:        at,
			}
			byTime[at] = p
		}
		p.Fields[record.Field()] = record.Value()
	}
	if err := result.Err(); err != nil {
		return nil, classify(err)
	}

	points := make([]timeseries.Point, 0, len(byTime))
	for _, p := range byTime {
		points = append(points, *p)
	}
	slices.SortFunc(points, func(a, b timeseries.Point) int { return a.Time.Compare(b.Time) })
	return points, nil
}

// recordTags returns the tag columns of a record: every string column that
// is not one of the columns Flux adds itself.
func recordTags(values map[string]any) map[string]string {
	tags := make(map[string]string)
	for k, v := range values {
		if strings.HasPrefix(k, "_") || k == "result" || k == "table" {
			continue
		}
		if s, ok := v.(string); ok {
			tags[k] = s
		}
	}
	return tags
}

// Compile-time checks that Store implements the timeseries interfaces.
var (
	_ timeseries.Backend = (*Store)(nil)
	_ timeseries.Querier = (*Store)(nil)
)
