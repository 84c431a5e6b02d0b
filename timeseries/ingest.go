package timeseries

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/danielorbach/go-component"
	"gocloud.dev/pubsub"
)

// message is the JSON representation of a point on the wire. A message body
// holds either a single message or an array of them.
type message struct {
	EntityID    string            `json:"entity_id"`
	Measurement string            `json:"measurement,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
	Fields      map[string]any    `json:"fields"`
	Timestamp   *time.Time        `json:"timestamp,omitempty"`
}

// DecodePoints parses a message body into points. Points without a timestamp
// are stamped with received; points without a measurement get Measurement.
func DecodePoints(body []byte, received time.Time) ([]Point, error) {
	var msgs []message
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '[' {
		if err := json.Unmarshal(body, &msgs); err != nil {
			return nil, fmt.Errorf("%w: decode json: %w", ErrInvalidPoint, err)
		}
	} else {
		var m message
		if err := json.Unmarshal(body, &m); err != nil {
			return nil, fmt.Errorf("%w: decode json: %w", ErrInvalidPoint, err)
		}
		msgs = []message{m}
	}

	points := make([]Point, len(msgs))
	for i, m := range msgs {
		if m.EntityID == "" {
			return nil, fmt.Errorf("%w: point #%d: missing entity_id", ErrInvalidPoint, i)
		}
		p := NewPoint(m.EntityID, m.Fields, received)
		if m.Measurement != "" {
			p.Measurement = m.Measurement
		}
		if m.Timestamp != nil {
			p.Time = *m.Timestamp
		}
		for k, v := range m.Tags {
			if k == EntityTag {
				continue
			}
			p.Tags[k] = v
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("point #%d: %w", i, err)
		}
		points[i] = p
	}
	return points, nil
}

// Consume receives metric messages from sub and writes their points to w until
// ctx is done, then returns nil.
//
// Malformed messages are logged and acknowledged, so they never block the
// subscription. Points rejected because the buffer is full are dropped and the
// message is acknowledged as well. Consume fails when the subscription fails or
// the writer is closed underneath it.
func Consume(ctx context.Context, w *Writer, sub *pubsub.Subscription) error {
	logger := component.Logger(ctx)
	for ctx.Err() == nil {
		msg, err := sub.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				// we're shutting down
				return nil
			}
			return fmt.Errorf("receive: %w", err)
		}
		// Ingestion is best-effort: the writer owns the points from here on, and a
		// redelivered message would only duplicate them.
		msg.Ack()

		if err := ingest(ctx, logger, w, msg); err != nil {
			return fmt.Errorf("ingest: %w", err)
		}
	}
	return nil
}

// ingest writes the points of a single message. It only fails when the writer
// can accept no more points at all.
func ingest(ctx context.Context, logger *slog.Logger, w *Writer, msg *pubsub.Message) error {
	logger = logger.With(slog.String("msg.id", msg.LoggableID))
	points, err := DecodePoints(msg.Body, time.Now())
	if err != nil {
		measureIngest(ctx, "malformed")
		logger.Warn("Discarding malformed metric message", "error", err)
		return nil
	}
	var rejected int
	for _, p := range points {
		switch err := w.Write(p); {
		case err == nil:
		case errors.Is(err, ErrClosed):
			return err
		case errors.Is(err, ErrBufferFull):
			rejected++
		default:
			return err
		}
	}
	if rejected > 0 {
		measureIngest(ctx, "rejected")
		logger.Warn("Dropped points of metric message; buffer at capacity", "rejected", rejected, "points", len(points))
		return nil
	}
	measureIngest(ctx, "written")
	logger.Debug("Metric message ingested", "points", len(points))
	return nil
}
