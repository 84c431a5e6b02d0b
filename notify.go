package ecr

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gocloud.dev/pubsub"
)

// ChangeKind identifies the mutation a Change reports.
type ChangeKind int

const (
	EntityCreated ChangeKind = iota + 1
	EntityUpdated
	EntityDeleted
	RelationshipCreated
	RelationshipDeleted
)

func (k ChangeKind) String() string {
	switch k {
	case EntityCreated:
		return "entity-created"
	case EntityUpdated:
		return "entity-updated"
	case EntityDeleted:
		return "entity-deleted"
	case RelationshipCreated:
		return "relationship-created"
	case RelationshipDeleted:
		return "relationship-deleted"
	}
	return fmt.Sprintf("ChangeKind(%d)", int(k))
}

// Change notifies about a committed mutation of the entity graph.
//
// Entity holds the state of the entity right after an EntityCreated or
// EntityUpdated change. Relationship is set for relationship changes; a
// RelationshipDeleted change carries no properties.
type Change struct {
	// ID uniquely identifies the change, letting subscribers drop duplicates.
	ID       string
	Kind     ChangeKind
	EntityID string

	Entity       *Entity
	Relationship *Relationship

	// The time, in UTC, the EntityStore completed the mutation.
	Timestamp time.Time
}

// A Notifier publishes changes once they are committed.
//
// The graph and the subscribers are eventually consistent: a Notify failure
// never undoes the mutation.
type Notifier interface {
	Notify(ctx context.Context, c Change) error
}

// TopicNotifier publishes gob-encoded changes to a pubsub topic.
type TopicNotifier struct {
	topic *pubsub.Topic
}

// NewTopicNotifier returns a Notifier sending to the given topic. The caller
// keeps ownership of the topic and shuts it down.
func NewTopicNotifier(topic *pubsub.Topic) *TopicNotifier {
	return &TopicNotifier{topic: topic}
}

// Notify encodes the change and sends it. It assigns c.ID when empty.
//
// The entity id is added as message metadata so that brokers partitioning by
// key (e.g. Kafka) deliver the changes of one entity in order.
func (n *TopicNotifier) Notify(ctx context.Context, c Change) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	ctx, span := tracer.Start(ctx, "TopicNotifier.Notify", trace.WithAttributes(
		attribute.String("change.id", c.ID),
		attribute.String("change.kind", c.Kind.String()),
	))
	defer span.End()

	body, err := EncodeChange(c)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	msg := &pubsub.Message{
		Body: body,
		Metadata: map[string]string{
			"changeID": c.ID,
			"entityID": c.EntityID,
			"kind":     c.Kind.String(),
		},
	}
	if err := n.topic.Send(ctx, msg); err != nil {
		err := fmt.Errorf("send: %w", err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// EncodeChange serialises a change with gob.
func EncodeChange(c Change) ([]byte, error) {
	var b bytes.Buffer
	if err := gob.NewEncoder(&b).Encode(c); err != nil {
		return nil, fmt.Errorf("encode gob: %w", err)
	}
	return b.Bytes(), nil
}

// DecodeChange is the inverse of EncodeChange.
func DecodeChange(p []byte) (Change, error) {
	var c Change
	if err := gob.NewDecoder(bytes.NewReader(p)).Decode(&c); err != nil {
		return Change{}, fmt.Errorf("decode gob: %w", err)
	}
	return c, nil
}
