package filter

import (
	"context"
	"fmt"
	"strings"
)

// LogicalFilter composes child filters under AND/OR/NOT, letting a
// query combine multiple metadata predicates into one compound test
// (e.g. `type == "person" AND age >= 18`).
type LogicalFilter struct {
	Operator LogicalOperator
	Filters  []Filter
}

// NewAndFilter creates a filter that requires all child filters to match
func NewAndFilter(filters ...Filter) *LogicalFilter {
	return &LogicalFilter{
		Operator: AndOperator,
		Filters:  filters,
	}
}

// NewOrFilter creates a filter that requires any child filter to match
func NewOrFilter(filters ...Filter) *LogicalFilter {
	return &LogicalFilter{
		Operator: OrOperator,
		Filters:  filters,
	}
}

// NewNotFilter creates a filter that negates the result of the child filter
func NewNotFilter(filter Filter) *LogicalFilter {
	return &LogicalFilter{
		Operator: NotOperator,
		Filters:  []Filter{filter},
	}
}

// Apply dispatches to the AND/OR/NOT combinator matching f.Operator.
func (f *LogicalFilter) Apply(ctx context.Context, entities []*VectorEntry) ([]*VectorEntry, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	switch f.Operator {
	case AndOperator:
		return f.intersect(ctx, entities)
	case OrOperator:
		return f.union(ctx, entities)
	case NotOperator:
		return f.complement(ctx, entities)
	default:
		return nil, NewFilterError("logical", "", fmt.Sprintf("unsupported logical operator: %v", f.Operator))
	}
}

// Validate checks if the filter configuration is valid
func (f *LogicalFilter) Validate() error {
	if len(f.Filters) == 0 {
		return NewFilterError("logical", "", "logical filter must have at least one child filter")
	}
	if f.Operator == NotOperator && len(f.Filters) != 1 {
		return NewFilterError("logical", "", "NOT filter must have exactly one child filter")
	}
	for i, child := range f.Filters {
		if err := child.Validate(); err != nil {
			return NewFilterError("logical", "", fmt.Sprintf("child filter %d validation failed: %v", i, err))
		}
	}
	return nil
}

// EstimateSelectivity combines child selectivities: AND multiplies them
// (each extra predicate narrows further), OR combines via the
// probabilistic complement, NOT inverts the single child's estimate.
func (f *LogicalFilter) EstimateSelectivity() float64 {
	if len(f.Filters) == 0 {
		return 1.0
	}

	switch f.Operator {
	case AndOperator:
		s := 1.0
		for _, child := range f.Filters {
			s *= child.EstimateSelectivity()
		}
		return s
	case OrOperator:
		miss := 1.0
		for _, child := range f.Filters {
			miss *= 1.0 - child.EstimateSelectivity()
		}
		return 1.0 - miss
	case NotOperator:
		return 1.0 - f.Filters[0].EstimateSelectivity()
	default:
		return 0.5
	}
}

func (f *LogicalFilter) String() string {
	if len(f.Filters) == 0 {
		return "EMPTY"
	}

	switch f.Operator {
	case AndOperator:
		return f.join("AND")
	case OrOperator:
		return f.join("OR")
	case NotOperator:
		return fmt.Sprintf("NOT (%s)", f.Filters[0].String())
	default:
		return "UNKNOWN"
	}
}

func (f *LogicalFilter) join(op string) string {
	parts := make([]string, len(f.Filters))
	for i, child := range f.Filters {
		parts[i] = fmt.Sprintf("(%s)", child.String())
	}
	return strings.Join(parts, " "+op+" ")
}

// intersect runs the AND children in sequence, narrowing the candidate
// set at each step and stopping early once nothing survives.
func (f *LogicalFilter) intersect(ctx context.Context, entities []*VectorEntry) ([]*VectorEntry, error) {
	surviving := entities
	for _, child := range f.Filters {
		var err error
		surviving, err = child.Apply(ctx, surviving)
		if err != nil {
			return nil, err
		}
		if len(surviving) == 0 {
			break
		}
	}
	return surviving, nil
}

// union applies each OR child independently against the original
// entities and deduplicates the combined matches by ID.
func (f *LogicalFilter) union(ctx context.Context, entities []*VectorEntry) ([]*VectorEntry, error) {
	var matched []*VectorEntry
	seen := make(map[string]bool)

	for _, child := range f.Filters {
		results, err := child.Apply(ctx, entities)
		if err != nil {
			return nil, err
		}
		for _, e := range results {
			if !seen[e.ID] {
				matched = append(matched, e)
				seen[e.ID] = true
			}
		}
	}

	return matched, nil
}

// complement returns the entities the single NOT child did not match.
func (f *LogicalFilter) complement(ctx context.Context, entities []*VectorEntry) ([]*VectorEntry, error) {
	matched, err := f.Filters[0].Apply(ctx, entities)
	if err != nil {
		return nil, err
	}

	excluded := make(map[string]bool, len(matched))
	for _, e := range matched {
		excluded[e.ID] = true
	}

	kept := make([]*VectorEntry, 0, len(entities)-len(matched))
	for _, e := range entities {
		if !excluded[e.ID] {
			kept = append(kept, e)
		}
	}

	return kept, nil
}
