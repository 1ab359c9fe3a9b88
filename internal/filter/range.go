package filter

import (
	"context"
	"fmt"
	"time"
)

// RangeFilter keeps nouns/verbs whose metadata field falls within
// [Min, Max] (either bound may be nil for an open range) — the
// primitive behind Builder.Gt/Lt/Between for numeric attributes and
// timestamp fields like a verb's created_at.
type RangeFilter struct {
	Field string
	Min   interface{} // nil means no lower bound
	Max   interface{} // nil means no upper bound
}

// NewRangeFilter creates a new range filter
func NewRangeFilter(field string, min, max interface{}) *RangeFilter {
	return &RangeFilter{
		Field: field,
		Min:   min,
		Max:   max,
	}
}

// NewGreaterThanFilter creates a filter for values greater than or equal to the specified value
func NewGreaterThanFilter(field string, value interface{}) *RangeFilter {
	return &RangeFilter{
		Field: field,
		Min:   value,
		Max:   nil,
	}
}

// NewLessThanFilter creates a filter for values less than or equal to the specified value
func NewLessThanFilter(field string, value interface{}) *RangeFilter {
	return &RangeFilter{
		Field: field,
		Min:   nil,
		Max:   value,
	}
}

// NewBetweenFilter creates a filter for values between min and max (inclusive)
func NewBetweenFilter(field string, min, max interface{}) *RangeFilter {
	return &RangeFilter{
		Field: field,
		Min:   min,
		Max:   max,
	}
}

// Apply keeps the entities whose f.Field falls within the configured bounds.
func (f *RangeFilter) Apply(ctx context.Context, entities []*VectorEntry) ([]*VectorEntry, error) {
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
		if f.withinBounds(got) {
			kept = append(kept, entity)
		}
	}

	return kept, nil
}

// Validate checks if the filter configuration is valid
func (f *RangeFilter) Validate() error {
	if f.Field == "" {
		return NewFilterError("range", f.Field, "field name cannot be empty")
	}

	if f.Min == nil && f.Max == nil {
		return NewFilterError("range", f.Field, "at least one bound (min or max) must be specified")
	}

	if f.Min != nil && f.Max != nil {
		if !f.comparable(f.Min, f.Max) {
			return NewFilterError("range", f.Field, "min and max values must be of comparable types")
		}
		if f.compare(f.Min, f.Max) > 0 {
			return NewFilterError("range", f.Field, "min value must be less than or equal to max value")
		}
	}

	return nil
}

// EstimateSelectivity returns a selectivity estimate: a two-sided bound
// narrows the corpus more than a single open-ended one.
func (f *RangeFilter) EstimateSelectivity() float64 {
	if f.Min != nil && f.Max != nil {
		return 0.3
	}
	return 0.5
}

func (f *RangeFilter) String() string {
	switch {
	case f.Min != nil && f.Max != nil:
		return fmt.Sprintf("%s BETWEEN %v AND %v", f.Field, f.Min, f.Max)
	case f.Min != nil:
		return fmt.Sprintf("%s >= %v", f.Field, f.Min)
	default:
		return fmt.Sprintf("%s <= %v", f.Field, f.Max)
	}
}

// withinBounds reports whether value sits inside [Min, Max].
func (f *RangeFilter) withinBounds(value interface{}) bool {
	if f.Min != nil && f.compare(value, f.Min) < 0 {
		return false
	}
	if f.Max != nil && f.compare(value, f.Max) > 0 {
		return false
	}
	return true
}

// compare orders a against b, trying numeric, then lexical string, then
// chronological comparison in turn; mismatched or incomparable types are
// treated as equal so Validate's comparable() check is the real gate.
func (f *RangeFilter) compare(a, b interface{}) int {
	if aNum, aOk := asFloat64(a); aOk {
		if bNum, bOk := asFloat64(b); bOk {
			switch {
			case aNum < bNum:
				return -1
			case aNum > bNum:
				return 1
			default:
				return 0
			}
		}
	}

	if aStr, aOk := a.(string); aOk {
		if bStr, bOk := b.(string); bOk {
			switch {
			case aStr < bStr:
				return -1
			case aStr > bStr:
				return 1
			default:
				return 0
			}
		}
	}

	if aTime, aOk := asTime(a); aOk {
		if bTime, bOk := asTime(b); bOk {
			switch {
			case aTime.Before(bTime):
				return -1
			case aTime.After(bTime):
				return 1
			default:
				return 0
			}
		}
	}

	return 0
}

// comparable reports whether a and b share a comparable representation
// (both numeric, both strings, or both times).
func (f *RangeFilter) comparable(a, b interface{}) bool {
	if _, aOk := asFloat64(a); aOk {
		if _, bOk := asFloat64(b); bOk {
			return true
		}
	}
	if _, aOk := a.(string); aOk {
		if _, bOk := b.(string); bOk {
			return true
		}
	}
	if _, aOk := asTime(a); aOk {
		if _, bOk := asTime(b); bOk {
			return true
		}
	}
	return false
}

// asTime widens a stored timestamp value — a time.Time, a handful of
// common string layouts, or a Unix-seconds int64 — into time.Time.
func asTime(v interface{}) (time.Time, bool) {
	switch val := v.(type) {
	case time.Time:
		return val, true
	case string:
		formats := []string{
			time.RFC3339,
			time.RFC3339Nano,
			"2006-01-02T15:04:05",
			"2006-01-02 15:04:05",
			"2006-01-02",
		}
		for _, format := range formats {
			if t, err := time.Parse(format, val); err == nil {
				return t, true
			}
		}
	case int64:
		return time.Unix(val, 0), true
	}
	return time.Time{}, false
}
