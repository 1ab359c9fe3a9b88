package graph

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/vitaly-z/hybridgraph/internal/storage"
)

func TestAddAndGetNounRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New(storage.NewMemory())

	n, err := s.AddNoun(ctx, &Noun{Type: NounPerson, Metadata: map[string]interface{}{"name": "ada"}})
	if err != nil {
		t.Fatalf("AddNoun: %v", err)
	}
	if n.ID == uuid.Nil {
		t.Fatal("expected AddNoun to assign an id")
	}

	got, err := s.GetNounWithMetadata(ctx, n.ID)
	if err != nil {
		t.Fatalf("GetNounWithMetadata: %v", err)
	}
	if got == nil || got.Type != NounPerson || got.Metadata["name"] != "ada" {
		t.Fatalf("unexpected noun: %+v", got)
	}
}

func TestUpdateNounPreservesCreatedAt(t *testing.T) {
	ctx := context.Background()
	s := New(storage.NewMemory())

	n, _ := s.AddNoun(ctx, &Noun{Type: NounDocument})
	originalCreated := n.CreatedAt

	n.Weight = 0.9
	if err := s.UpdateNoun(ctx, n); err != nil {
		t.Fatalf("UpdateNoun: %v", err)
	}

	got, _ := s.GetNounWithMetadata(ctx, n.ID)
	if !got.CreatedAt.Equal(originalCreated) {
		t.Fatalf("expected CreatedAt preserved, got %v vs %v", got.CreatedAt, originalCreated)
	}
	if got.Weight != 0.9 {
		t.Fatalf("expected weight update to persist, got %v", got.Weight)
	}
}

func TestDeleteNounCascadeRemovesIncidentVerbs(t *testing.T) {
	ctx := context.Background()
	s := New(storage.NewMemory())

	a, _ := s.AddNoun(ctx, &Noun{Type: NounPerson})
	b, _ := s.AddNoun(ctx, &Noun{Type: NounDocument})
	v, _ := s.AddVerb(ctx, &Verb{SourceID: a.ID, TargetID: b.ID, Type: VerbAuthoredBy})

	if err := s.DeleteNoun(ctx, a.ID, CascadeDelete); err != nil {
		t.Fatalf("DeleteNoun: %v", err)
	}

	got, err := s.GetVerbWithMetadata(ctx, v.ID)
	if err != nil {
		t.Fatalf("GetVerbWithMetadata: %v", err)
	}
	if got != nil {
		t.Fatalf("expected incident verb removed under CascadeDelete, got %+v", got)
	}
}

func TestDeleteNounDenyReturnsErrCascadeRequired(t *testing.T) {
	ctx := context.Background()
	s := New(storage.NewMemory())

	a, _ := s.AddNoun(ctx, &Noun{Type: NounPerson})
	b, _ := s.AddNoun(ctx, &Noun{Type: NounDocument})
	s.AddVerb(ctx, &Verb{SourceID: a.ID, TargetID: b.ID, Type: VerbAuthoredBy})

	err := s.DeleteNoun(ctx, a.ID, CascadeDeny)
	if err != ErrCascadeRequired {
		t.Fatalf("expected ErrCascadeRequired, got %v", err)
	}
}

func TestDeleteNounOrphanLeavesVerbInPlace(t *testing.T) {
	ctx := context.Background()
	s := New(storage.NewMemory())

	a, _ := s.AddNoun(ctx, &Noun{Type: NounPerson})
	b, _ := s.AddNoun(ctx, &Noun{Type: NounDocument})
	v, _ := s.AddVerb(ctx, &Verb{SourceID: a.ID, TargetID: b.ID, Type: VerbAuthoredBy})

	if err := s.DeleteNoun(ctx, a.ID, CascadeOrphan); err != nil {
		t.Fatalf("DeleteNoun: %v", err)
	}

	got, err := s.GetVerbWithMetadata(ctx, v.ID)
	if err != nil {
		t.Fatalf("GetVerbWithMetadata: %v", err)
	}
	if got == nil {
		t.Fatal("expected verb to survive under CascadeOrphan")
	}
}

func TestGetRelationsFiltersByDirectionAndType(t *testing.T) {
	ctx := context.Background()
	s := New(storage.NewMemory())

	a, _ := s.AddNoun(ctx, &Noun{Type: NounPerson})
	b, _ := s.AddNoun(ctx, &Noun{Type: NounDocument})
	c, _ := s.AddNoun(ctx, &Noun{Type: NounOrganization})

	s.AddVerb(ctx, &Verb{SourceID: a.ID, TargetID: b.ID, Type: VerbAuthoredBy})
	s.AddVerb(ctx, &Verb{SourceID: c.ID, TargetID: a.ID, Type: VerbMemberOf})

	out, err := s.GetRelations(ctx, a.ID, DirOut, VerbUnknown, Pagination{})
	if err != nil {
		t.Fatalf("GetRelations: %v", err)
	}
	if len(out.Verbs) != 1 || out.Verbs[0].Type != VerbAuthoredBy {
		t.Fatalf("expected one outbound verb, got %+v", out.Verbs)
	}

	in, err := s.GetRelations(ctx, a.ID, DirIn, VerbUnknown, Pagination{})
	if err != nil {
		t.Fatalf("GetRelations in: %v", err)
	}
	if len(in.Verbs) != 1 || in.Verbs[0].Type != VerbMemberOf {
		t.Fatalf("expected one inbound verb, got %+v", in.Verbs)
	}
}

func TestTraverseRespectsMaxDepth(t *testing.T) {
	ctx := context.Background()
	s := New(storage.NewMemory())

	n1, _ := s.AddNoun(ctx, &Noun{Type: NounPerson})
	n2, _ := s.AddNoun(ctx, &Noun{Type: NounPerson})
	n3, _ := s.AddNoun(ctx, &Noun{Type: NounPerson})
	n4, _ := s.AddNoun(ctx, &Noun{Type: NounPerson})

	s.AddVerb(ctx, &Verb{SourceID: n1.ID, TargetID: n2.ID, Type: VerbRelatedTo})
	s.AddVerb(ctx, &Verb{SourceID: n2.ID, TargetID: n3.ID, Type: VerbRelatedTo})
	s.AddVerb(ctx, &Verb{SourceID: n3.ID, TargetID: n4.ID, Type: VerbRelatedTo})

	reached, err := s.Traverse(ctx, n1.ID, DirBoth, 1, nil, nil)
	if err != nil {
		t.Fatalf("Traverse: %v", err)
	}
	if len(reached) != 1 || reached[0].Noun.ID != n2.ID || len(reached[0].Path) != 1 {
		t.Fatalf("expected only one hop reached at depth 1, got %+v", reached)
	}

	reachedDeep, err := s.Traverse(ctx, n1.ID, DirBoth, 3, nil, nil)
	if err != nil {
		t.Fatalf("Traverse deep: %v", err)
	}
	if len(reachedDeep) != 3 {
		t.Fatalf("expected 3 nouns reached within depth 3, got %d", len(reachedDeep))
	}
	for i, hop := range reachedDeep {
		if len(hop.Path) != i+1 {
			t.Fatalf("expected hop %d to carry a path of length %d, got %d", i, i+1, len(hop.Path))
		}
	}

	typed, err := s.Traverse(ctx, n1.ID, DirBoth, 3, []VerbType{VerbAuthoredBy}, nil)
	if err != nil {
		t.Fatalf("Traverse typed: %v", err)
	}
	if len(typed) != 0 {
		t.Fatalf("expected verb-type filter to exclude every VerbRelatedTo hop, got %+v", typed)
	}
}

func TestTraverseStopsOnCancelledContext(t *testing.T) {
	s := New(storage.NewMemory())
	ctx, cancel := context.WithCancel(context.Background())
	n1, _ := s.AddNoun(ctx, &Noun{Type: NounPerson})
	cancel()

	_, err := s.Traverse(ctx, n1.ID, DirBoth, 3, nil, nil)
	if err == nil {
		t.Fatal("expected Traverse to return the cancellation error")
	}
}
