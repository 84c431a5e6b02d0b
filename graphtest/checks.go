package graphtest

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/go-digitaltwin/go-ecr"
)

// A check is any function that returns unexpected problems with the state of
// the store after a test-case.
type check func(ctx context.Context, s *ecr.EntityStore) (problem string)

// An errorCheck returns unexpected problems with the error of a test-case's
// operation. A nil errorCheck expects no error at all.
type errorCheck func(err error) (problem string)

// Timestamps are checked by dedicated tests, so entity comparisons ignore them.
var ignoreTimestamps = cmpopts.IgnoreFields(ecr.Entity{}, "CreatedAt", "UpdatedAt")

// Checks that the entity exists and owns exactly the given components.
func entity(id string, components ...ecr.Component) check {
	return func(ctx context.Context, s *ecr.EntityStore) string {
		got, err := s.GetEntity(ctx, id)
		if err != nil {
			return fmt.Sprintf("GetEntity(%q) failed: %v", id, err)
		}
		if got == nil {
			return fmt.Sprintf("GetEntity(%q) = nil, want an entity", id)
		}
		want := ecr.Entity{ID: id, Components: components}
		want.SortComponents()
		if diff := cmp.Diff(want, *got, ignoreTimestamps, cmpopts.EquateEmpty()); diff != "" {
			return fmt.Sprintf("GetEntity(%q) mismatch (-want +got):\n%v", id, diff)
		}
		return ""
	}
}

// Checks that no entity has the given id.
func absent(id string) check {
	return func(ctx context.Context, s *ecr.EntityStore) string {
		got, err := s.GetEntity(ctx, id)
		if err != nil {
			return fmt.Sprintf("GetEntity(%q) failed: %v", id, err)
		}
		if got != nil {
			return fmt.Sprintf("GetEntity(%q) = %+v, want nil", id, *got)
		}
		return ""
	}
}

// Checks the outgoing relationships of an entity, in any order.
func relationships(id, relType string, want ...ecr.Relationship) check {
	return func(ctx context.Context, s *ecr.EntityStore) string {
		got, err := s.GetRelationships(ctx, id, relType)
		if err != nil {
			return fmt.Sprintf("GetRelationships(%q, %q) failed: %v", id, relType, err)
		}
		byEnds := cmpopts.SortSlices(func(a, b ecr.Relationship) bool {
			if a.Type != b.Type {
				return a.Type < b.Type
			}
			return a.To < b.To
		})
		if diff := cmp.Diff(want, got, byEnds, cmpopts.EquateEmpty()); diff != "" {
			return fmt.Sprintf("GetRelationships(%q, %q) mismatch (-want +got):\n%v", id, relType, diff)
		}
		return ""
	}
}

// Checks the entities visited by the shortest path between two entities. No
// ids expects no path at all.
func path(from, to string, maxDepth int, ids ...string) check {
	return func(ctx context.Context, s *ecr.EntityStore) string {
		p, err := s.FindShortestPath(ctx, from, to, maxDepth)
		if err != nil {
			return fmt.Sprintf("FindShortestPath(%q, %q, %d) failed: %v", from, to, maxDepth, err)
		}
		switch {
		case len(ids) == 0 && p == nil:
			return ""
		case len(ids) == 0:
			return fmt.Sprintf("FindShortestPath(%q, %q, %d) = %v, want nil", from, to, maxDepth, p.EntityIDs)
		case p == nil:
			return fmt.Sprintf("FindShortestPath(%q, %q, %d) = nil, want %v", from, to, maxDepth, ids)
		}
		if diff := cmp.Diff(ids, p.EntityIDs); diff != "" {
			return fmt.Sprintf("FindShortestPath(%q, %q, %d) mismatch (-want +got):\n%v", from, to, maxDepth, diff)
		}
		if p.Len() != len(ids)-1 {
			return fmt.Sprintf("FindShortestPath(%q, %q, %d) has %d segments for %d entities", from, to, maxDepth, p.Len(), len(ids))
		}
		for i, seg := range p.Segments {
			a, b := ids[i], ids[i+1]
			if !(seg.From == a && seg.To == b) && !(seg.From == b && seg.To == a) {
				return fmt.Sprintf("segment %d links %q and %q, want %q and %q", i, seg.From, seg.To, a, b)
			}
		}
		return ""
	}
}

// Checks the ids returned by ListEntities, in order.
func listed(opts ecr.ListOptions, ids ...string) check {
	return func(ctx context.Context, s *ecr.EntityStore) string {
		all, err := s.ListEntities(ctx, opts)
		if err != nil {
			return fmt.Sprintf("ListEntities(%+v) failed: %v", opts, err)
		}
		got := make([]string, len(all))
		for i, e := range all {
			got[i] = e.ID
		}
		if diff := cmp.Diff(ids, got, cmpopts.EquateEmpty()); diff != "" {
			return fmt.Sprintf("ListEntities(%+v) mismatch (-want +got):\n%v", opts, diff)
		}
		return ""
	}
}

// Expects an error matching target with errors.Is.
func is(target error) errorCheck {
	return func(err error) string {
		if !errors.Is(err, target) {
			return fmt.Sprintf("error = %v, want %v", err, target)
		}
		return ""
	}
}

// Expects a validation failure naming exactly the given missing properties.
func missing(properties ...string) errorCheck {
	return func(err error) string {
		var verr *ecr.ValidationError
		if !errors.As(err, &verr) {
			return fmt.Sprintf("error = %v, want a validation error", err)
		}
		if !errors.Is(err, ecr.ErrValidationFailed) {
			return fmt.Sprintf("error = %v, want %v", err, ecr.ErrValidationFailed)
		}
		var got []string
		for _, f := range verr.Errors {
			if f.Reason == ecr.ReasonMissing {
				got = append(got, f.Property)
			}
		}
		if diff := cmp.Diff(properties, got); diff != "" {
			return fmt.Sprintf("missing properties mismatch (-want +got):\n%v", diff)
		}
		return ""
	}
}
