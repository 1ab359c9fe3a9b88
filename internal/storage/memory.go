package storage

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/vitaly-z/hybridgraph/internal/obs"
)

// MemoryAdapter is a sync.Map-backed Adapter: no durability, used for
// tests and embedded single-process deployments where the caller accepts
// loss on crash.
type MemoryAdapter struct {
	blobs sync.Map // string -> []byte
	nouns sync.Map // string -> *NounRecord
	verbs sync.Map // string -> *VerbRecord

	mu      sync.Mutex
	log     []Change
	closed  bool
}

func NewMemory() *MemoryAdapter {
	return &MemoryAdapter{}
}

func (m *MemoryAdapter) Backend() Kind { return KindMemory }

func (m *MemoryAdapter) record(kind ChangeKind, key string) {
	m.mu.Lock()
	m.log = append(m.log, Change{Kind: kind, Key: key, At: time.Now()})
	m.mu.Unlock()
}

func (m *MemoryAdapter) Get(ctx context.Context, key string) ([]byte, error) {
	v, ok := m.blobs.Load(key)
	if !ok {
		return nil, nil
	}
	return v.([]byte), nil
}

func (m *MemoryAdapter) Put(ctx context.Context, key string, value []byte) error {
	cp := append([]byte(nil), value...)
	m.blobs.Store(key, cp)
	m.record(ChangePut, key)
	return nil
}

func (m *MemoryAdapter) Delete(ctx context.Context, key string) error {
	m.blobs.Delete(key)
	m.record(ChangeDelete, key)
	return nil
}

func (m *MemoryAdapter) SaveNoun(ctx context.Context, n *NounRecord) error {
	if n.CreatedAt.IsZero() {
		if existing, ok := m.nouns.Load(n.ID); ok {
			n.CreatedAt = existing.(*NounRecord).CreatedAt
		} else {
			n.CreatedAt = time.Now()
		}
	}
	n.UpdatedAt = time.Now()
	m.nouns.Store(n.ID, n)
	m.record(ChangePut, "noun:"+n.ID)
	return nil
}

func (m *MemoryAdapter) GetNounWithMetadata(ctx context.Context, id string) (*NounRecord, error) {
	v, ok := m.nouns.Load(id)
	if !ok {
		return nil, nil
	}
	return v.(*NounRecord), nil
}

func (m *MemoryAdapter) DeleteNoun(ctx context.Context, id string) error {
	if _, ok := m.nouns.Load(id); !ok {
		return fmt.Errorf("storage: noun %q: %w", id, ErrNotFound)
	}
	m.nouns.Delete(id)
	m.record(ChangeDelete, "noun:"+id)
	return nil
}

func (m *MemoryAdapter) ListNouns(ctx context.Context, filter ListFilter) (*Page, error) {
	var all []*NounRecord
	m.nouns.Range(func(_, v interface{}) bool {
		n := v.(*NounRecord)
		if filter.Type != "" && n.Type != filter.Type {
			return true
		}
		if !matchesFilter(n.Metadata, filter) {
			return true
		}
		all = append(all, n)
		return true
	})
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return paginateNouns(all, filter)
}

func (m *MemoryAdapter) SaveVerb(ctx context.Context, v *VerbRecord) error {
	if v.CreatedAt.IsZero() {
		if existing, ok := m.verbs.Load(v.ID); ok {
			v.CreatedAt = existing.(*VerbRecord).CreatedAt
		} else {
			v.CreatedAt = time.Now()
		}
	}
	v.UpdatedAt = time.Now()
	m.verbs.Store(v.ID, v)
	m.record(ChangePut, "verb:"+v.ID)
	return nil
}

func (m *MemoryAdapter) GetVerbWithMetadata(ctx context.Context, id string) (*VerbRecord, error) {
	v, ok := m.verbs.Load(id)
	if !ok {
		return nil, nil
	}
	return v.(*VerbRecord), nil
}

func (m *MemoryAdapter) DeleteVerb(ctx context.Context, id string) error {
	if _, ok := m.verbs.Load(id); !ok {
		return fmt.Errorf("storage: verb %q: %w", id, ErrNotFound)
	}
	m.verbs.Delete(id)
	m.record(ChangeDelete, "verb:"+id)
	return nil
}

func (m *MemoryAdapter) ListVerbs(ctx context.Context, filter ListFilter) (*Page, error) {
	var all []*VerbRecord
	m.verbs.Range(func(_, v interface{}) bool {
		vr := v.(*VerbRecord)
		if filter.Type != "" && vr.Type != filter.Type {
			return true
		}
		if !matchesFilter(vr.Metadata, filter) {
			return true
		}
		all = append(all, vr)
		return true
	})
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return paginateVerbs(all, filter)
}

func (m *MemoryAdapter) BatchDelete(ctx context.Context, keys []string, retry RetryConfig) []BatchResult {
	results := make([]BatchResult, len(keys))
	for i, k := range keys {
		results[i] = BatchResult{Key: k, Err: m.Delete(ctx, k)}
	}
	return results
}

// ChangesSince returns every recorded mutation after cursor, where cursor
// is the decimal offset into the in-memory log. An unparseable or
// out-of-range cursor degrades to a full replay from the start, matching
// the adapter-wide cursor contract.
func (m *MemoryAdapter) ChangesSince(ctx context.Context, cursor string) ([]Change, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	offset := 0
	if cursor != "" {
		if parsed, err := strconv.Atoi(cursor); err == nil && parsed >= 0 && parsed <= len(m.log) {
			offset = parsed
		}
	}
	out := append([]Change(nil), m.log[offset:]...)
	return out, strconv.Itoa(len(m.log)), nil
}

func (m *MemoryAdapter) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Name and HealthCheck implement obs.Subsystem.
func (m *MemoryAdapter) Name() string { return "storage.memory" }

func (m *MemoryAdapter) HealthCheck(ctx context.Context) *obs.CheckResult {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return &obs.CheckResult{Healthy: false, Message: "adapter closed"}
	}
	return &obs.CheckResult{Healthy: true, Message: "ok"}
}

func paginateNouns(all []*NounRecord, filter ListFilter) (*Page, error) {
	start, limit := 0, filter.Limit
	if limit <= 0 {
		limit = len(all)
	}
	if filter.Cursor != "" {
		if parsed, err := strconv.Atoi(filter.Cursor); err == nil && parsed >= 0 && parsed <= len(all) {
			start = parsed
		}
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	page := &Page{Nouns: all[start:end]}
	if end < len(all) {
		page.NextCursor = strconv.Itoa(end)
	}
	return page, nil
}

func paginateVerbs(all []*VerbRecord, filter ListFilter) (*Page, error) {
	start, limit := 0, filter.Limit
	if limit <= 0 {
		limit = len(all)
	}
	if filter.Cursor != "" {
		if parsed, err := strconv.Atoi(filter.Cursor); err == nil && parsed >= 0 && parsed <= len(all) {
			start = parsed
		}
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	page := &Page{Verbs: all[start:end]}
	if end < len(all) {
		page.NextCursor = strconv.Itoa(end)
	}
	return page, nil
}
