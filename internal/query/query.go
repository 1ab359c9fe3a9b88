// Package query provides the fluent filter-composition surface behind
// find/get_nouns/get_verbs: a Builder/Chain pair that assembles a
// filter.Filter tree, plus the selectivity-driven filter application
// and search-limit widening the coordinator's FindNearest uses once it
// has candidates back from the partitioned HNSW index.
package query

import (
	"context"
	"fmt"
	"sort"

	"github.com/vitaly-z/hybridgraph/internal/filter"
)

// Query is the fully-built, immutable request a Builder produces.
type Query struct {
	Vector    []float32
	Filters   []filter.Filter
	Limit     int
	Threshold float32
	EfSearch  int
}

// Builder assembles a Query through a fluent, chainable API.
type Builder struct {
	vector    []float32
	filters   []filter.Filter
	limit     int
	threshold float32
	efSearch  int
}

func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) WithVector(vector []float32) *Builder {
	b.vector = make([]float32, len(vector))
	copy(b.vector, vector)
	return b
}

func (b *Builder) WithFilter(f filter.Filter) *Builder {
	b.filters = append(b.filters, f)
	return b
}

func (b *Builder) Eq(field string, value interface{}) *Builder {
	return b.WithFilter(filter.NewEqualityFilter(field, value))
}

func (b *Builder) NotEq(field string, value interface{}) *Builder {
	return b.WithFilter(filter.NewNotFilter(filter.NewEqualityFilter(field, value)))
}

func (b *Builder) Gt(field string, value interface{}) *Builder {
	return b.WithFilter(filter.NewGreaterThanFilter(field, value))
}

func (b *Builder) Lt(field string, value interface{}) *Builder {
	return b.WithFilter(filter.NewLessThanFilter(field, value))
}

func (b *Builder) Between(field string, min, max interface{}) *Builder {
	return b.WithFilter(filter.NewBetweenFilter(field, min, max))
}

func (b *Builder) ContainsAny(field string, values []interface{}) *Builder {
	return b.WithFilter(filter.NewContainsAnyFilter(field, values))
}

func (b *Builder) ContainsAll(field string, values []interface{}) *Builder {
	return b.WithFilter(filter.NewContainsAllFilter(field, values))
}

// And starts a Chain that ANDs its members together before being
// folded back into the Builder's filter list via End.
func (b *Builder) And() *Chain {
	return &Chain{builder: b, operator: filter.AndOperator}
}

// Or starts a Chain that ORs its members together.
func (b *Builder) Or() *Chain {
	return &Chain{builder: b, operator: filter.OrOperator}
}

func (b *Builder) Limit(k int) *Builder {
	b.limit = k
	return b
}

func (b *Builder) WithThreshold(threshold float32) *Builder {
	b.threshold = threshold
	return b
}

func (b *Builder) WithEfSearch(ef int) *Builder {
	b.efSearch = ef
	return b
}

// Build finalizes the Query. Vector and a positive Limit are required;
// everything the coordinator's FindNearest needs to drive a search and
// post-filter its candidates is captured here.
func (b *Builder) Build() (*Query, error) {
	if b.vector == nil {
		return nil, fmt.Errorf("query: a query vector is required")
	}
	if b.limit <= 0 {
		return nil, fmt.Errorf("query: limit must be positive, got %d", b.limit)
	}
	return &Query{
		Vector:    b.vector,
		Filters:   append([]filter.Filter(nil), b.filters...),
		Limit:     b.limit,
		Threshold: b.threshold,
		EfSearch:  b.efSearch,
	}, nil
}

// Chain composes several filters under one logical operator before
// folding the combined filter back into the originating Builder.
type Chain struct {
	builder  *Builder
	operator filter.LogicalOperator
	filters  []filter.Filter
}

func (c *Chain) Eq(field string, value interface{}) *Chain {
	c.filters = append(c.filters, filter.NewEqualityFilter(field, value))
	return c
}

func (c *Chain) NotEq(field string, value interface{}) *Chain {
	c.filters = append(c.filters, filter.NewNotFilter(filter.NewEqualityFilter(field, value)))
	return c
}

func (c *Chain) Gt(field string, value interface{}) *Chain {
	c.filters = append(c.filters, filter.NewGreaterThanFilter(field, value))
	return c
}

func (c *Chain) Lt(field string, value interface{}) *Chain {
	c.filters = append(c.filters, filter.NewLessThanFilter(field, value))
	return c
}

func (c *Chain) Between(field string, min, max interface{}) *Chain {
	c.filters = append(c.filters, filter.NewBetweenFilter(field, min, max))
	return c
}

func (c *Chain) Filter(f filter.Filter) *Chain {
	c.filters = append(c.filters, f)
	return c
}

// End combines the chain's filters with its operator and adds the
// result to the originating Builder.
func (c *Chain) End() *Builder {
	switch len(c.filters) {
	case 0:
		return c.builder
	case 1:
		return c.builder.WithFilter(c.filters[0])
	}
	if c.operator == filter.OrOperator {
		return c.builder.WithFilter(filter.NewOrFilter(c.filters...))
	}
	return c.builder.WithFilter(filter.NewAndFilter(c.filters...))
}

// ApplyFilters runs q's filters against entries, most selective first,
// short-circuiting once nothing remains.
func ApplyFilters(ctx context.Context, entries []*filter.VectorEntry, filters []filter.Filter) ([]*filter.VectorEntry, error) {
	if len(filters) == 0 {
		return entries, nil
	}
	ordered := append([]filter.Filter(nil), filters...)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].EstimateSelectivity() < ordered[j].EstimateSelectivity()
	})

	for _, f := range ordered {
		var err error
		entries, err = f.Apply(ctx, entries)
		if err != nil {
			return nil, fmt.Errorf("query: filter application failed: %w", err)
		}
		if len(entries) == 0 {
			break
		}
	}
	return entries, nil
}

// SearchLimit widens the initial candidate fetch size to account for
// filters that will be applied afterward, bounded to [2x, 10x] of the
// requested limit.
func SearchLimit(limit int, filters []filter.Filter) int {
	if len(filters) == 0 {
		return limit
	}
	selectivity := 1.0
	for _, f := range filters {
		selectivity *= f.EstimateSelectivity()
	}
	if selectivity <= 0 {
		selectivity = 0.01
	}
	multiplier := 1.0 / selectivity
	if multiplier < 2.0 {
		multiplier = 2.0
	}
	if multiplier > 10.0 {
		multiplier = 10.0
	}
	return int(float64(limit) * multiplier)
}

// ApplyThreshold drops entries scoring below threshold. scores maps
// entry ID to similarity score, since filter.VectorEntry itself carries
// no score field.
func ApplyThreshold(entries []*filter.VectorEntry, scores map[string]float32, threshold float32) []*filter.VectorEntry {
	if threshold <= 0 {
		return entries
	}
	var kept []*filter.VectorEntry
	for _, e := range entries {
		if scores[e.ID] >= threshold {
			kept = append(kept, e)
		}
	}
	return kept
}
