package ecr_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gocloud.dev/pubsub/mempubsub"

	"github.com/go-digitaltwin/go-ecr"
	"github.com/go-digitaltwin/go-ecr/memgraph"
)

func TestTopicNotifier(t *testing.T) {
	ctx := context.Background()
	topic := mempubsub.NewTopic()
	defer func() { _ = topic.Shutdown(ctx) }()
	sub := mempubsub.NewSubscription(topic, time.Minute)
	defer func() { _ = sub.Shutdown(ctx) }()

	at := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	change := ecr.Change{
		Kind:         ecr.RelationshipCreated,
		EntityID:     "ahu-01",
		Relationship: &ecr.Relationship{Type: "feeds", From: "ahu-01", To: "vav-01"},
		Timestamp:    at,
	}
	if err := ecr.NewTopicNotifier(topic).Notify(ctx, change); err != nil {
		t.Fatalf("Notify() = %v", err)
	}

	msg, err := sub.Receive(ctx)
	if err != nil {
		t.Fatal(err)
	}
	msg.Ack()
	got, err := ecr.DecodeChange(msg.Body)
	if err != nil {
		t.Fatalf("DecodeChange() = %v", err)
	}
	if got.ID == "" {
		t.Error("Notify() did not assign a change id")
	}
	change.ID = got.ID
	if diff := cmp.Diff(change, got); diff != "" {
		t.Errorf("Published change mismatch (-want +got)\n%v", diff)
	}
	wantMetadata := map[string]string{"changeID": got.ID, "entityID": "ahu-01", "kind": "relationship-created"}
	if diff := cmp.Diff(wantMetadata, msg.Metadata); diff != "" {
		t.Errorf("Message metadata mismatch (-want +got)\n%v", diff)
	}
}

// failingNotifier rejects every change, counting them.
type failingNotifier struct{ calls int }

func (n *failingNotifier) Notify(context.Context, ecr.Change) error {
	n.calls++
	return errors.New("broker unreachable")
}

func TestEntityStore_notifyFailure(t *testing.T) {
	ctx := context.Background()
	g := memgraph.New()
	registry := ecr.NewTypeRegistry(g)
	if err := ecr.LoadCatalog(ctx, registry, ecr.BuiltinCatalog()); err != nil {
		t.Fatal(err)
	}
	n := &failingNotifier{}
	store := ecr.NewEntityStore(g, registry, ecr.WithNotifier(n))

	room := []ecr.Component{{Type: "Room", Properties: map[string]ecr.Value{"number": ecr.String("1.01")}}}
	if _, err := store.CreateEntity(ctx, "room-101", room); err != nil {
		t.Fatalf("CreateEntity() = %v, want the committed entity despite the notifier", err)
	}
	if e, err := store.GetEntity(ctx, "room-101"); err != nil || e == nil {
		t.Errorf("GetEntity() = %v, %v; want the entity", e, err)
	}
	if _, err := store.DeleteEntity(ctx, "room-101"); err != nil {
		t.Fatalf("DeleteEntity() = %v", err)
	}
	if n.calls != 2 {
		t.Errorf("Notifier called %d times, want 2", n.calls)
	}
}
