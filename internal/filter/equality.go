package filter

import (
	"context"
	"fmt"
	"reflect"
)

// EqualityFilter keeps only nouns/verbs whose metadata field exactly
// matches a value — the primitive behind Builder.Eq and entity-type
// lookups like `type == "person"` or `verb_type == "knows"`.
type EqualityFilter struct {
	Field string
	Value interface{}
}

// NewEqualityFilter builds an EqualityFilter over the given metadata field.
func NewEqualityFilter(field string, value interface{}) *EqualityFilter {
	return &EqualityFilter{
		Field: field,
		Value: value,
	}
}

// Apply keeps the entities carrying f.Field == f.Value.
func (f *EqualityFilter) Apply(ctx context.Context, entities []*VectorEntry) ([]*VectorEntry, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	kept := make([]*VectorEntry, 0, len(entities))
	for _, entity := range entities {
		if entity.Metadata == nil {
			continue
		}
		got, ok := entity.Metadata[f.Field]
		if !ok {
			continue
		}
		if f.matches(got) {
			kept = append(kept, entity)
		}
	}

	return kept, nil
}

// Validate checks if the filter configuration is valid
func (f *EqualityFilter) Validate() error {
	if f.Field == "" {
		return NewFilterError("equality", f.Field, "field name cannot be empty")
	}
	if f.Value == nil {
		return NewFilterError("equality", f.Field, "value cannot be nil")
	}
	return nil
}

// EstimateSelectivity returns a conservative estimate: most metadata
// fields on a noun/verb (entity type, status flags) partition the
// corpus into a handful of buckets, so equality rarely matches more
// than a tenth of entries.
func (f *EqualityFilter) EstimateSelectivity() float64 {
	return 0.1
}

func (f *EqualityFilter) String() string {
	return fmt.Sprintf("%s == %v", f.Field, f.Value)
}

// matches reports whether got equals f.Value, tolerating the numeric
// and string type variance that comes from metadata decoded out of JSON.
func (f *EqualityFilter) matches(got interface{}) bool {
	want := f.Value
	if got == nil && want == nil {
		return true
	}
	if got == nil || want == nil {
		return false
	}
	if reflect.DeepEqual(got, want) {
		return true
	}
	if gf, gok := asFloat64(got); gok {
		if wf, wok := asFloat64(want); wok {
			return gf == wf
		}
	}
	if gs, gok := got.(string); gok {
		if ws, wok := want.(string); wok {
			return gs == ws
		}
	}
	return false
}

// asFloat64 widens any of Go's numeric kinds to float64 so equality and
// range filters can compare mixed int/float metadata values uniformly.
func asFloat64(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case int:
		return float64(val), true
	case int8:
		return float64(val), true
	case int16:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint8:
		return float64(val), true
	case uint16:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint64:
		return float64(val), true
	case float32:
		return float64(val), true
	case float64:
		return val, true
	default:
		return 0, false
	}
}
