package filter

import (
	"context"
	"fmt"
	"reflect"
)

// ContainmentFilter matches multi-valued metadata fields, such as a
// noun's tag list or a verb's role set, against a target list of values.
type ContainmentFilter struct {
	Field  string
	Values []interface{}
	Mode   ContainmentMode
}

// ContainmentMode defines how containment matching works
type ContainmentMode int

const (
	// ContainsAny matches if the field contains any of the specified values
	ContainsAny ContainmentMode = iota
	// ContainsAll matches if the field contains all of the specified values
	ContainsAll
	// ExactMatch matches if the field exactly matches the specified values (same elements, any order)
	ExactMatch
)

// NewContainsAnyFilter creates a filter that matches if the field contains any of the values
func NewContainsAnyFilter(field string, values []interface{}) *ContainmentFilter {
	return &ContainmentFilter{
		Field:  field,
		Values: values,
		Mode:   ContainsAny,
	}
}

// NewContainsAllFilter creates a filter that matches if the field contains all of the values
func NewContainsAllFilter(field string, values []interface{}) *ContainmentFilter {
	return &ContainmentFilter{
		Field:  field,
		Values: values,
		Mode:   ContainsAll,
	}
}

// NewExactMatchFilter creates a filter that matches if the field exactly matches the values
func NewExactMatchFilter(field string, values []interface{}) *ContainmentFilter {
	return &ContainmentFilter{
		Field:  field,
		Values: values,
		Mode:   ExactMatch,
	}
}

// Apply keeps the entities whose f.Field satisfies the containment mode.
func (f *ContainmentFilter) Apply(ctx context.Context, entities []*VectorEntry) ([]*VectorEntry, error) {
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
		if f.satisfies(got) {
			kept = append(kept, entity)
		}
	}

	return kept, nil
}

// Validate checks if the filter configuration is valid
func (f *ContainmentFilter) Validate() error {
	if f.Field == "" {
		return NewFilterError("containment", f.Field, "field name cannot be empty")
	}
	if len(f.Values) == 0 {
		return NewFilterError("containment", f.Field, "values list cannot be empty")
	}
	return nil
}

// EstimateSelectivity returns a selectivity estimate that tightens as
// the containment mode gets stricter: ANY is the most permissive, an
// EXACT match on a whole set is the most restrictive.
func (f *ContainmentFilter) EstimateSelectivity() float64 {
	switch f.Mode {
	case ContainsAny:
		return 0.4
	case ContainsAll:
		return 0.2
	case ExactMatch:
		return 0.1
	default:
		return 0.3
	}
}

func (f *ContainmentFilter) String() string {
	switch f.Mode {
	case ContainsAny:
		return fmt.Sprintf("%s CONTAINS ANY %v", f.Field, f.Values)
	case ContainsAll:
		return fmt.Sprintf("%s CONTAINS ALL %v", f.Field, f.Values)
	case ExactMatch:
		return fmt.Sprintf("%s EXACTLY %v", f.Field, f.Values)
	default:
		return fmt.Sprintf("%s CONTAINS %v", f.Field, f.Values)
	}
}

// satisfies normalizes the stored field value to a slice (a bare scalar
// counts as a one-element slice) and checks it against f.Values under
// f.Mode.
func (f *ContainmentFilter) satisfies(fieldValue interface{}) bool {
	elements := asSlice(fieldValue)
	if elements == nil {
		elements = []interface{}{fieldValue}
	}

	switch f.Mode {
	case ContainsAny:
		for _, target := range f.Values {
			if setContains(elements, target) {
				return true
			}
		}
		return false
	case ContainsAll:
		for _, target := range f.Values {
			if !setContains(elements, target) {
				return false
			}
		}
		return true
	case ExactMatch:
		if len(elements) != len(f.Values) {
			return false
		}
		for _, e := range elements {
			if !setContains(f.Values, e) {
				return false
			}
		}
		for _, target := range f.Values {
			if !setContains(elements, target) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// setContains reports whether target appears anywhere in elements,
// under the same loose equality EqualityFilter uses.
func setContains(elements []interface{}, target interface{}) bool {
	for _, e := range elements {
		if valuesEqual(e, target) {
			return true
		}
	}
	return false
}

// asSlice widens a metadata value stored as a slice or array into
// []interface{}; any other kind returns nil.
func asSlice(v interface{}) []interface{} {
	if v == nil {
		return nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil
	}

	out := make([]interface{}, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

// valuesEqual compares two metadata values for equality, tolerating the
// numeric and string type variance decoded JSON metadata tends to have.
func valuesEqual(a, b interface{}) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	if reflect.DeepEqual(a, b) {
		return true
	}
	if af, aok := asFloat64(a); aok {
		if bf, bok := asFloat64(b); bok {
			return af == bf
		}
	}
	if as, aok := a.(string); aok {
		if bs, bok := b.(string); bok {
			return as == bs
		}
	}
	return false
}
