package hybridgraph

import (
	"encoding/json"
	"sort"

	"github.com/google/uuid"
)

// tree is the content of a commit's root blob: the full set of noun
// and verb ids live in the graph at commit time. Sorting both slices
// before marshaling means an unchanged graph produces byte-identical
// tree content between two commits, so the content-addressed blob
// store dedups it (and blob.Store.GC's live set stays meaningful)
// instead of minting a new tree blob on every commit regardless of
// whether anything changed.
type tree struct {
	NounIDs []string `json:"noun_ids"`
	VerbIDs []string `json:"verb_ids"`
}

func marshalTree(nounIDs, verbIDs []uuid.UUID) ([]byte, error) {
	t := tree{
		NounIDs: make([]string, len(nounIDs)),
		VerbIDs: make([]string, len(verbIDs)),
	}
	for i, id := range nounIDs {
		t.NounIDs[i] = id.String()
	}
	for i, id := range verbIDs {
		t.VerbIDs[i] = id.String()
	}
	sort.Strings(t.NounIDs)
	sort.Strings(t.VerbIDs)
	return json.Marshal(t)
}
