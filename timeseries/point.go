// Package timeseries buffers entity metrics in memory and writes them to a
// timeseries backend in batches.
//
// A Writer decouples callers from the latency of the backend: Write appends a
// Point to a bounded buffer and returns immediately, while the Writer flushes
// the buffer whenever it holds a batch worth of points and on a fixed interval.
// Points of a failed flush go back to the buffer and are retried by the next
// flush.
//
// The package is independent of the entity graph. Points name the entity they
// belong to by its id only, and nothing checks that such an entity exists.
package timeseries

import (
	"errors"
	"fmt"
	"maps"
	"time"
)

// Measurement is the measurement all entity metrics are written under.
const Measurement = "entity_metrics"

// EntityTag is the tag identifying the entity a point belongs to.
const EntityTag = "entity_id"

var (
	// ErrInvalidPoint is returned for points the backend cannot store.
	ErrInvalidPoint = errors.New("invalid point")
	// ErrInvalidQuery is returned for malformed queries before reaching the
	// backend.
	ErrInvalidQuery = errors.New("invalid query")
	// ErrFlushFailed wraps the backend error of a failed flush.
	ErrFlushFailed = errors.New("flush failed")
	// ErrBufferFull rejects a write when the buffer is at capacity and the
	// overflow policy is DropNewest.
	ErrBufferFull = errors.New("buffer full")
	// ErrClosed is returned by writes to a closed Writer.
	ErrClosed = errors.New("writer closed")
)

// A Point is a single timestamped set of metrics.
//
// Field values are float64, int64, string or bool.
type Point struct {
	Measurement string            `json:"measurement"`
	Tags        map[string]string `json:"tags"`
	Fields      map[string]any    `json:"fields"`
	Time        time.Time         `json:"time"`
}

// NewPoint returns a point of the entity_metrics measurement tagged with the
// given entity id.
func NewPoint(entityID string, fields map[string]any, at time.Time) Point {
	return Point{
		Measurement: Measurement,
		Tags:        map[string]string{EntityTag: entityID},
		Fields:      fields,
		Time:        at,
	}
}

// EntityID returns the id of the entity the point belongs to.
func (p Point) EntityID() string { return p.Tags[EntityTag] }

// Validate reports whether the point can be written. Numbers of other Go
// types are not accepted; call Normalize first.
func (p Point) Validate() error {
	if p.Measurement == "" {
		return fmt.Errorf("%w: missing measurement", ErrInvalidPoint)
	}
	if p.Time.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidPoint)
	}
	if len(p.Fields) == 0 {
		return fmt.Errorf("%w: no fields", ErrInvalidPoint)
	}
	for name, v := range p.Fields {
		switch v.(type) {
		case float64, int64, string, bool:
		default:
			return fmt.Errorf("%w: field %q has unsupported type %T", ErrInvalidPoint, name, v)
		}
	}
	return nil
}

// Normalize returns a copy of the point with integer and float32 fields
// converted to the types Validate accepts. Other fields are kept as they are.
func (p Point) Normalize() Point {
	fields := make(map[string]any, len(p.Fields))
	for name, v := range p.Fields {
		switch x := v.(type) {
		case int:
			fields[name] = int64(x)
		case int32:
			fields[name] = int64(x)
		case uint32:
			fields[name] = int64(x)
		case float32:
			fields[name] = float64(x)
		default:
			fields[name] = v
		}
	}
	p.Fields = fields
	p.Tags = maps.Clone(p.Tags)
	return p
}
