// Package storage defines the pluggable persistence layer: a single
// Adapter interface with three concrete backends (memory, filesystem,
// object-store) selected by a Kind tag rather than by separate
// constructors returning only an interface value, so callers can branch
// on Backend() for capability checks (e.g. whether ChangesSince supports
// exact cursors) without type-asserting the adapter.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/vitaly-z/hybridgraph/internal/errs"
)

// Kind identifies which concrete backend an Adapter wraps.
type Kind int

const (
	KindMemory Kind = iota
	KindFilesystem
	KindObjectStore
)

func (k Kind) String() string {
	switch k {
	case KindMemory:
		return "memory"
	case KindFilesystem:
		return "filesystem"
	case KindObjectStore:
		return "objectstore"
	default:
		return "unknown"
	}
}

var (
	// ErrNotFound is returned by operations that require an existing key,
	// never by Get — a Get miss is (nil, nil). It is the same sentinel
	// errs.NotFound wraps, so callers can errors.Is against either.
	ErrNotFound = errs.ErrNotFound
	ErrClosed   = errors.New("storage: adapter is closed")
)

// StatsKey is the reserved Get/Put key the internal/stats package uses to
// persist its flush snapshot. The filesystem backend routes it
// to the reference layout's statistics.json; other backends store it like
// any other raw key.
const StatsKey = "stats:snapshot"

// NounRecord is the persisted form of a graph entity.
type NounRecord struct {
	ID        string
	Type      string
	Vector    []float32
	Metadata  map[string]interface{}
	CreatedAt time.Time
	UpdatedAt time.Time
}

// VerbRecord is the persisted form of a typed, directed relation.
type VerbRecord struct {
	ID         string
	Type       string
	FromNounID string
	ToNounID   string
	Vector     []float32
	Metadata   map[string]interface{}
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ListFilter narrows ListNouns/ListVerbs to a type and/or metadata
// equality predicates, paginated by an opaque cursor.
type ListFilter struct {
	Type     string
	Metadata map[string]interface{}
	Cursor   string
	Limit    int
}

// Page is one page of a paginated list, with NextCursor empty once
// exhausted.
type Page struct {
	Nouns      []*NounRecord
	Verbs      []*VerbRecord
	NextCursor string
}

// RetryConfig bounds BatchDelete's per-key retry behavior.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryConfig mirrors the backoff used by the circuit-breaker
// guarded filesystem and object-store backends: three attempts, doubling
// from 50ms.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: 50 * time.Millisecond}
}

// BatchResult reports the outcome of a single key within a BatchDelete
// call; a batch never aborts early on one key's failure.
type BatchResult struct {
	Key string
	Err error
}

// ChangeKind distinguishes the operations a ChangesSince cursor can
// report.
type ChangeKind int

const (
	ChangePut ChangeKind = iota
	ChangeDelete
)

// Change is one mutation observed since a given cursor.
type Change struct {
	Kind ChangeKind
	Key  string
	At   time.Time
}

// Adapter is the storage surface every backend implements: raw
// blob-addressed Get/Put/Delete for the blob and COW layers, typed
// noun/verb CRUD and pagination for the graph layer, and batch/change
// operations used by garbage collection and replication.
type Adapter interface {
	Backend() Kind

	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error

	SaveNoun(ctx context.Context, n *NounRecord) error
	GetNounWithMetadata(ctx context.Context, id string) (*NounRecord, error)
	DeleteNoun(ctx context.Context, id string) error
	ListNouns(ctx context.Context, filter ListFilter) (*Page, error)

	SaveVerb(ctx context.Context, v *VerbRecord) error
	GetVerbWithMetadata(ctx context.Context, id string) (*VerbRecord, error)
	DeleteVerb(ctx context.Context, id string) error
	ListVerbs(ctx context.Context, filter ListFilter) (*Page, error)

	BatchDelete(ctx context.Context, keys []string, retry RetryConfig) []BatchResult
	ChangesSince(ctx context.Context, cursor string) ([]Change, string, error)

	Close() error
}

func matchesFilter(metadata map[string]interface{}, filter ListFilter) bool {
	for k, want := range filter.Metadata {
		got, ok := metadata[k]
		if !ok || got != want {
			return false
		}
	}
	return true
}
