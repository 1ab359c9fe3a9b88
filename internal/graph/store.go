package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vitaly-z/hybridgraph/internal/storage"
)

// ErrCascadeRequired is returned by DeleteNoun under CascadeDeny when
// incident verbs still exist.
var ErrCascadeRequired = errors.New("graph: cannot delete noun with incident verbs under CascadeDeny")

// Store is the typed property graph over a storage.Adapter: nouns and
// verbs in, CRUD and BFS traversal out.
type Store struct {
	adapter storage.Adapter
}

func New(adapter storage.Adapter) *Store {
	return &Store{adapter: adapter}
}

func toNounRecord(n *Noun) *storage.NounRecord {
	return &storage.NounRecord{
		ID:        n.ID.String(),
		Type:      n.Type.String(),
		Vector:    n.Vector,
		Metadata:  mergeSidecar(n.Metadata, n.Confidence, n.Weight, n.Service),
		CreatedAt: n.CreatedAt,
		UpdatedAt: n.UpdatedAt,
	}
}

func mergeSidecar(meta map[string]interface{}, confidence, weight float32, service string) map[string]interface{} {
	out := make(map[string]interface{}, len(meta)+3)
	for k, v := range meta {
		out[k] = v
	}
	out["__confidence"] = confidence
	out["__weight"] = weight
	out["__service"] = service
	return out
}

func splitSidecar(meta map[string]interface{}) (user map[string]interface{}, confidence, weight float32, service string) {
	user = make(map[string]interface{}, len(meta))
	for k, v := range meta {
		switch k {
		case "__confidence":
			if f, ok := v.(float32); ok {
				confidence = f
			} else if f, ok := v.(float64); ok {
				confidence = float32(f)
			}
		case "__weight":
			if f, ok := v.(float32); ok {
				weight = f
			} else if f, ok := v.(float64); ok {
				weight = float32(f)
			}
		case "__service":
			if s, ok := v.(string); ok {
				service = s
			}
		default:
			user[k] = v
		}
	}
	return user, confidence, weight, service
}

func fromNounRecord(r *storage.NounRecord) *Noun {
	id, _ := uuid.Parse(r.ID)
	meta, confidence, weight, service := splitSidecar(r.Metadata)
	return &Noun{
		ID:         id,
		Type:       ParseNounType(r.Type),
		Vector:     r.Vector,
		Confidence: confidence,
		Weight:     weight,
		Service:    service,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
		Metadata:   meta,
	}
}

func toVerbRecord(v *Verb) *storage.VerbRecord {
	return &storage.VerbRecord{
		ID:         v.ID.String(),
		Type:       v.Type.String(),
		FromNounID: v.SourceID.String(),
		ToNounID:   v.TargetID.String(),
		Vector:     v.Vector,
		Metadata:   mergeSidecar(v.Metadata, v.Confidence, v.Weight, v.Service),
		CreatedAt:  v.CreatedAt,
		UpdatedAt:  v.UpdatedAt,
	}
}

func fromVerbRecord(r *storage.VerbRecord) *Verb {
	id, _ := uuid.Parse(r.ID)
	src, _ := uuid.Parse(r.FromNounID)
	dst, _ := uuid.Parse(r.ToNounID)
	meta, confidence, weight, service := splitSidecar(r.Metadata)
	return &Verb{
		ID:         id,
		SourceID:   src,
		TargetID:   dst,
		Type:       ParseVerbType(r.Type),
		Vector:     r.Vector,
		Weight:     weight,
		Confidence: confidence,
		Service:    service,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
		Metadata:   meta,
	}
}

// AddNoun assigns an ID if n.ID is the zero UUID and persists n.
func (s *Store) AddNoun(ctx context.Context, n *Noun) (*Noun, error) {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	now := time.Now()
	n.CreatedAt, n.UpdatedAt = now, now
	if err := s.adapter.SaveNoun(ctx, toNounRecord(n)); err != nil {
		return nil, fmt.Errorf("graph: failed to add noun: %w", err)
	}
	return n, nil
}

// GetNoun returns a noun without its sidecar metadata confidence/weight
// fields broken out — it is identical to GetNounWithMetadata here since
// the storage layer always returns the combined record; kept as a
// distinct perf-intent method per the canonical-read decision in
// DESIGN.md.
func (s *Store) GetNoun(ctx context.Context, id uuid.UUID) (*Noun, error) {
	return s.GetNounWithMetadata(ctx, id)
}

func (s *Store) GetNounWithMetadata(ctx context.Context, id uuid.UUID) (*Noun, error) {
	rec, err := s.adapter.GetNounWithMetadata(ctx, id.String())
	if err != nil {
		return nil, fmt.Errorf("graph: failed to get noun %s: %w", id, err)
	}
	if rec == nil {
		return nil, nil
	}
	return fromNounRecord(rec), nil
}

// UpdateNoun preserves CreatedAt and bumps UpdatedAt.
func (s *Store) UpdateNoun(ctx context.Context, n *Noun) error {
	existing, err := s.GetNounWithMetadata(ctx, n.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		n.CreatedAt = existing.CreatedAt
	}
	n.UpdatedAt = time.Now()
	if err := s.adapter.SaveNoun(ctx, toNounRecord(n)); err != nil {
		return fmt.Errorf("graph: failed to update noun %s: %w", n.ID, err)
	}
	return nil
}

// DeleteNoun removes a noun and applies policy to its incident verbs.
func (s *Store) DeleteNoun(ctx context.Context, id uuid.UUID, policy CascadePolicy) error {
	incident, err := s.incidentVerbs(ctx, id)
	if err != nil {
		return err
	}

	if len(incident) > 0 {
		switch policy {
		case CascadeDeny:
			return ErrCascadeRequired
		case CascadeDelete:
			for _, v := range incident {
				if err := s.adapter.DeleteVerb(ctx, v.ID.String()); err != nil {
					return fmt.Errorf("graph: failed to cascade-delete verb %s: %w", v.ID, err)
				}
			}
		case CascadeOrphan:
			// Leave the verbs as-is; their now-missing endpoint is
			// surfaced to readers that resolve SourceID/TargetID.
		}
	}

	if err := s.adapter.DeleteNoun(ctx, id.String()); err != nil {
		return fmt.Errorf("graph: failed to delete noun %s: %w", id, err)
	}
	return nil
}

func (s *Store) incidentVerbs(ctx context.Context, nounID uuid.UUID) ([]*Verb, error) {
	var out []*Verb
	cursor := ""
	for {
		page, err := s.adapter.ListVerbs(ctx, storage.ListFilter{Cursor: cursor, Limit: 256})
		if err != nil {
			return nil, fmt.Errorf("graph: failed to scan verbs: %w", err)
		}
		for _, rec := range page.Verbs {
			if rec.FromNounID == nounID.String() || rec.ToNounID == nounID.String() {
				out = append(out, fromVerbRecord(rec))
			}
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	return out, nil
}

// ListNouns pages through nouns of nounType, if non-empty.
func (s *Store) ListNouns(ctx context.Context, nounType NounType, pg Pagination) (*Page, error) {
	filter := storage.ListFilter{Cursor: pg.Cursor, Limit: pg.Limit}
	if nounType != NounUnknown {
		filter.Type = nounType.String()
	}
	page, err := s.adapter.ListNouns(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("graph: failed to list nouns: %w", err)
	}
	out := &Page{NextCursor: page.NextCursor}
	for _, rec := range page.Nouns {
		out.Nouns = append(out.Nouns, fromNounRecord(rec))
	}
	return out, nil
}

// AllNounIDs pages through every noun and returns its ids, for
// building a commit's tree snapshot.
func (s *Store) AllNounIDs(ctx context.Context) ([]uuid.UUID, error) {
	var out []uuid.UUID
	cursor := ""
	for {
		page, err := s.adapter.ListNouns(ctx, storage.ListFilter{Cursor: cursor, Limit: 1024})
		if err != nil {
			return nil, fmt.Errorf("graph: failed to scan nouns: %w", err)
		}
		for _, rec := range page.Nouns {
			id, err := uuid.Parse(rec.ID)
			if err != nil {
				continue
			}
			out = append(out, id)
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	return out, nil
}

// AllVerbIDs pages through every verb and returns its ids, for
// building a commit's tree snapshot.
func (s *Store) AllVerbIDs(ctx context.Context) ([]uuid.UUID, error) {
	var out []uuid.UUID
	cursor := ""
	for {
		page, err := s.adapter.ListVerbs(ctx, storage.ListFilter{Cursor: cursor, Limit: 1024})
		if err != nil {
			return nil, fmt.Errorf("graph: failed to scan verbs: %w", err)
		}
		for _, rec := range page.Verbs {
			id, err := uuid.Parse(rec.ID)
			if err != nil {
				continue
			}
			out = append(out, id)
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	return out, nil
}

// AddVerb assigns an ID if v.ID is the zero UUID and persists v.
func (s *Store) AddVerb(ctx context.Context, v *Verb) (*Verb, error) {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	now := time.Now()
	v.CreatedAt, v.UpdatedAt = now, now
	if err := s.adapter.SaveVerb(ctx, toVerbRecord(v)); err != nil {
		return nil, fmt.Errorf("graph: failed to add verb: %w", err)
	}
	return v, nil
}

func (s *Store) GetVerb(ctx context.Context, id uuid.UUID) (*Verb, error) {
	return s.GetVerbWithMetadata(ctx, id)
}

func (s *Store) GetVerbWithMetadata(ctx context.Context, id uuid.UUID) (*Verb, error) {
	rec, err := s.adapter.GetVerbWithMetadata(ctx, id.String())
	if err != nil {
		return nil, fmt.Errorf("graph: failed to get verb %s: %w", id, err)
	}
	if rec == nil {
		return nil, nil
	}
	return fromVerbRecord(rec), nil
}

func (s *Store) UpdateVerb(ctx context.Context, v *Verb) error {
	existing, err := s.GetVerbWithMetadata(ctx, v.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		v.CreatedAt = existing.CreatedAt
	}
	v.UpdatedAt = time.Now()
	if err := s.adapter.SaveVerb(ctx, toVerbRecord(v)); err != nil {
		return fmt.Errorf("graph: failed to update verb %s: %w", v.ID, err)
	}
	return nil
}

func (s *Store) DeleteVerb(ctx context.Context, id uuid.UUID) error {
	if err := s.adapter.DeleteVerb(ctx, id.String()); err != nil {
		return fmt.Errorf("graph: failed to delete verb %s: %w", id, err)
	}
	return nil
}

// GetRelations returns the verbs incident to nounID in direction dir,
// optionally narrowed to verbType (VerbUnknown matches any type).
func (s *Store) GetRelations(ctx context.Context, nounID uuid.UUID, dir Direction, verbType VerbType, pg Pagination) (*Page, error) {
	filter := storage.ListFilter{Cursor: pg.Cursor, Limit: pg.Limit}
	if verbType != VerbUnknown {
		filter.Type = verbType.String()
	}
	page, err := s.adapter.ListVerbs(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("graph: failed to list relations for %s: %w", nounID, err)
	}
	out := &Page{NextCursor: page.NextCursor}
	for _, rec := range page.Verbs {
		matchesOut := dir != DirIn && rec.FromNounID == nounID.String()
		matchesIn := dir != DirOut && rec.ToNounID == nounID.String()
		if matchesOut || matchesIn {
			out.Verbs = append(out.Verbs, fromVerbRecord(rec))
		}
	}
	return out, nil
}

// Find scans nouns of nounType, keeping those predicate accepts.
func (s *Store) Find(ctx context.Context, nounType NounType, predicate func(*Noun) bool, pg Pagination) (*Page, error) {
	page, err := s.ListNouns(ctx, nounType, pg)
	if err != nil {
		return nil, err
	}
	if predicate == nil {
		return page, nil
	}
	out := &Page{NextCursor: page.NextCursor}
	for _, n := range page.Nouns {
		if predicate(n) {
			out.Nouns = append(out.Nouns, n)
		}
	}
	return out, nil
}

// Traverse runs a breadth-first walk from startID out to maxDepth hops
// along dir (DirBoth follows edges in either direction), narrowing
// expansion to verbTypes if non-empty, and checking ctx.Err() before
// expanding each frontier so a cancellation takes effect between
// levels rather than only at the end. Each result carries the chain of
// verb ids connecting it back to startID.
func (s *Store) Traverse(ctx context.Context, startID uuid.UUID, dir Direction, maxDepth int, verbTypes []VerbType, predicate func(*Noun) bool) ([]TraverseHop, error) {
	if maxDepth <= 0 {
		maxDepth = 3
	}
	allowed := make(map[VerbType]bool, len(verbTypes))
	for _, vt := range verbTypes {
		allowed[vt] = true
	}

	type frontierNode struct {
		id   uuid.UUID
		path []uuid.UUID
	}

	visited := map[uuid.UUID]bool{startID: true}
	frontier := []frontierNode{{id: startID}}
	var out []TraverseHop

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		var next []frontierNode
		for _, node := range frontier {
			relations, err := s.GetRelations(ctx, node.id, dir, VerbUnknown, Pagination{Limit: 1024})
			if err != nil {
				return out, err
			}
			for _, v := range relations.Verbs {
				if len(allowed) > 0 && !allowed[v.Type] {
					continue
				}
				neighbor := v.TargetID
				if neighbor == node.id {
					neighbor = v.SourceID
				}
				if visited[neighbor] {
					continue
				}
				visited[neighbor] = true
				n, err := s.GetNounWithMetadata(ctx, neighbor)
				if err != nil {
					return out, err
				}
				if n == nil {
					continue
				}
				path := append(append([]uuid.UUID{}, node.path...), v.ID)
				if predicate == nil || predicate(n) {
					out = append(out, TraverseHop{Noun: n, Path: path})
				}
				next = append(next, frontierNode{id: neighbor, path: path})
			}
		}
		frontier = next
	}
	return out, nil
}
