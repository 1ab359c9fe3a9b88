// Package filesystem adapts an lsm/wal durability pattern —
// write-ahead log first, then apply to the on-disk tree — to the
// directory layout a hybrid graph+vector database needs on disk:
// nouns/, verbs/, metadata/, verb-metadata/, blob/, blob-meta/,
// commits/, branches/, statistics.json, index/.
package filesystem

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vitaly-z/hybridgraph/internal/obs"
	"github.com/vitaly-z/hybridgraph/internal/storage"
	"github.com/vitaly-z/hybridgraph/internal/storage/wal"
)

const (
	dirNouns        = "nouns"
	dirVerbs        = "verbs"
	dirMetadata     = "metadata"
	dirVerbMetadata = "verb-metadata"
	dirBlob         = "blob"
	dirBlobMeta     = "blob-meta"
	dirCommits      = "commits"
	dirBranches     = "branches"
	dirIndex        = "index"
	walFile         = "wal.log"
	statsFile       = "statistics.json"
)

// Adapter is a storage.Adapter backed by a directory tree plus a
// write-ahead log for crash recovery and ChangesSince.
type Adapter struct {
	mu       sync.RWMutex
	basePath string
	wal      *wal.WAL
	breaker  *obs.CircuitBreaker
	closed   bool
}

// New creates (or opens) a filesystem adapter rooted at basePath,
// creating the reference directory layout if absent.
func New(basePath string) (*Adapter, error) {
	for _, d := range []string{dirNouns, dirVerbs, dirMetadata, dirVerbMetadata, dirBlob, dirBlobMeta, dirCommits, dirBranches, dirIndex} {
		if err := os.MkdirAll(filepath.Join(basePath, d), 0755); err != nil {
			return nil, fmt.Errorf("filesystem: failed to create %s: %w", d, err)
		}
	}

	w, err := wal.New(filepath.Join(basePath, walFile))
	if err != nil {
		return nil, fmt.Errorf("filesystem: failed to open WAL: %w", err)
	}

	a := &Adapter{
		basePath: basePath,
		wal:      w,
		breaker:  obs.NewCircuitBreaker(obs.DefaultCircuitBreakerConfig("storage.filesystem")),
	}
	if err := a.recover(); err != nil {
		w.Close()
		return nil, fmt.Errorf("filesystem: recovery failed: %w", err)
	}
	return a, nil
}

// recover replays the WAL to re-apply any mutation whose file write never
// completed before a crash: for each key only the last logged operation is
// applied; the directory tree is the source of truth once this returns,
// the WAL exists only to heal a torn write.
func (a *Adapter) recover() error {
	entries, err := a.wal.Read()
	if err != nil {
		return err
	}
	last := make(map[string]*wal.Entry, len(entries))
	for _, e := range entries {
		last[e.Key] = e
	}
	for key, e := range last {
		path := a.entryPath(key)
		switch e.Operation {
		case wal.OpPut:
			if err := atomicWrite(path, e.Payload); err != nil {
				return err
			}
		case wal.OpDelete:
			os.Remove(path)
		}
	}
	return nil
}

func (a *Adapter) Backend() storage.Kind { return storage.KindFilesystem }

// entryPath routes any WAL-logged key, including the "noun:"/"verb:"
// keys SaveNoun/SaveVerb log, to the file recovery should heal.
func (a *Adapter) entryPath(key string) string {
	switch {
	case strings.HasPrefix(key, "noun:"):
		return a.nounPath(strings.TrimPrefix(key, "noun:"))
	case strings.HasPrefix(key, "verb:"):
		return a.verbPath(strings.TrimPrefix(key, "verb:"))
	default:
		return a.keyPath(key)
	}
}

// keyPath routes a raw key to its directory by prefix convention: the
// blob store addresses blob metadata with a "blobmeta:" prefix and
// commit/branch records with "commit:"/"branch:" prefixes; everything
// else is content-addressed blob data.
func (a *Adapter) keyPath(key string) string {
	switch {
	case key == storage.StatsKey:
		return filepath.Join(a.basePath, statsFile)
	case strings.HasPrefix(key, "blobmeta:"):
		return filepath.Join(a.basePath, dirBlobMeta, sanitize(strings.TrimPrefix(key, "blobmeta:")))
	case strings.HasPrefix(key, "commit:"):
		return filepath.Join(a.basePath, dirCommits, sanitize(strings.TrimPrefix(key, "commit:")))
	case strings.HasPrefix(key, "branch:"):
		return filepath.Join(a.basePath, dirBranches, sanitize(strings.TrimPrefix(key, "branch:")))
	case strings.HasPrefix(key, "index:"):
		return filepath.Join(a.basePath, dirIndex, sanitize(strings.TrimPrefix(key, "index:")))
	default:
		return filepath.Join(a.basePath, dirBlob, sanitize(key))
	}
}

func sanitize(key string) string {
	return strings.ReplaceAll(key, string(filepath.Separator), "_")
}

func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (a *Adapter) withBreaker(ctx context.Context, fn func() error) error {
	return a.breaker.Execute(ctx, fn)
}

func (a *Adapter) Get(ctx context.Context, key string) ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil, storage.ErrClosed
	}
	data, err := os.ReadFile(a.keyPath(key))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (a *Adapter) Put(ctx context.Context, key string, value []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return storage.ErrClosed
	}
	return a.withBreaker(ctx, func() error {
		if err := a.wal.Append(ctx, &wal.Entry{Operation: wal.OpPut, Key: key, Payload: value}); err != nil {
			return err
		}
		return atomicWrite(a.keyPath(key), value)
	})
}

func (a *Adapter) Delete(ctx context.Context, key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return storage.ErrClosed
	}
	return a.withBreaker(ctx, func() error {
		if err := a.wal.Append(ctx, &wal.Entry{Operation: wal.OpDelete, Key: key}); err != nil {
			return err
		}
		err := os.Remove(a.keyPath(key))
		if os.IsNotExist(err) {
			return nil
		}
		return err
	})
}

func (a *Adapter) nounPath(id string) string     { return filepath.Join(a.basePath, dirNouns, sanitize(id)+".json") }
func (a *Adapter) nounMetaPath(id string) string { return filepath.Join(a.basePath, dirMetadata, sanitize(id)+".json") }
func (a *Adapter) verbPath(id string) string     { return filepath.Join(a.basePath, dirVerbs, sanitize(id)+".json") }
func (a *Adapter) verbMetaPath(id string) string {
	return filepath.Join(a.basePath, dirVerbMetadata, sanitize(id)+".json")
}

func (a *Adapter) SaveNoun(ctx context.Context, n *storage.NounRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return storage.ErrClosed
	}

	if existing, err := readJSON[storage.NounRecord](a.nounPath(n.ID)); err == nil && existing != nil {
		n.CreatedAt = existing.CreatedAt
	} else if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	n.UpdatedAt = time.Now()

	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return a.withBreaker(ctx, func() error {
		if err := a.wal.Append(ctx, &wal.Entry{Operation: wal.OpPut, Key: "noun:" + n.ID, Payload: data}); err != nil {
			return err
		}
		if err := atomicWrite(a.nounPath(n.ID), data); err != nil {
			return err
		}
		metaData, err := json.Marshal(n.Metadata)
		if err != nil {
			return err
		}
		return atomicWrite(a.nounMetaPath(n.ID), metaData)
	})
}

func (a *Adapter) GetNounWithMetadata(ctx context.Context, id string) (*storage.NounRecord, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil, storage.ErrClosed
	}
	return readJSON[storage.NounRecord](a.nounPath(id))
}

func (a *Adapter) DeleteNoun(ctx context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return storage.ErrClosed
	}
	if _, err := os.Stat(a.nounPath(id)); os.IsNotExist(err) {
		return fmt.Errorf("filesystem: noun %q: %w", id, storage.ErrNotFound)
	}
	return a.withBreaker(ctx, func() error {
		if err := a.wal.Append(ctx, &wal.Entry{Operation: wal.OpDelete, Key: "noun:" + id}); err != nil {
			return err
		}
		os.Remove(a.nounMetaPath(id))
		return os.Remove(a.nounPath(id))
	})
}

func (a *Adapter) ListNouns(ctx context.Context, filter storage.ListFilter) (*storage.Page, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil, storage.ErrClosed
	}

	names, err := sortedJSONNames(filepath.Join(a.basePath, dirNouns))
	if err != nil {
		return nil, err
	}

	var matched []*storage.NounRecord
	for _, name := range names {
		if filter.Cursor != "" && name <= filter.Cursor {
			continue
		}
		n, err := readJSON[storage.NounRecord](filepath.Join(a.basePath, dirNouns, name))
		if err != nil || n == nil {
			continue
		}
		if filter.Type != "" && n.Type != filter.Type {
			continue
		}
		if !matchesMetadata(n.Metadata, filter.Metadata) {
			continue
		}
		matched = append(matched, n)
		if filter.Limit > 0 && len(matched) == filter.Limit {
			page := &storage.Page{Nouns: matched}
			if hasMore(names, name) {
				page.NextCursor = name
			}
			return page, nil
		}
	}
	return &storage.Page{Nouns: matched}, nil
}

func (a *Adapter) SaveVerb(ctx context.Context, v *storage.VerbRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return storage.ErrClosed
	}

	if existing, err := readJSON[storage.VerbRecord](a.verbPath(v.ID)); err == nil && existing != nil {
		v.CreatedAt = existing.CreatedAt
	} else if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}
	v.UpdatedAt = time.Now()

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return a.withBreaker(ctx, func() error {
		if err := a.wal.Append(ctx, &wal.Entry{Operation: wal.OpPut, Key: "verb:" + v.ID, Payload: data}); err != nil {
			return err
		}
		if err := atomicWrite(a.verbPath(v.ID), data); err != nil {
			return err
		}
		metaData, err := json.Marshal(v.Metadata)
		if err != nil {
			return err
		}
		return atomicWrite(a.verbMetaPath(v.ID), metaData)
	})
}

func (a *Adapter) GetVerbWithMetadata(ctx context.Context, id string) (*storage.VerbRecord, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil, storage.ErrClosed
	}
	return readJSON[storage.VerbRecord](a.verbPath(id))
}

func (a *Adapter) DeleteVerb(ctx context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return storage.ErrClosed
	}
	if _, err := os.Stat(a.verbPath(id)); os.IsNotExist(err) {
		return fmt.Errorf("filesystem: verb %q: %w", id, storage.ErrNotFound)
	}
	return a.withBreaker(ctx, func() error {
		if err := a.wal.Append(ctx, &wal.Entry{Operation: wal.OpDelete, Key: "verb:" + id}); err != nil {
			return err
		}
		os.Remove(a.verbMetaPath(id))
		return os.Remove(a.verbPath(id))
	})
}

func (a *Adapter) ListVerbs(ctx context.Context, filter storage.ListFilter) (*storage.Page, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil, storage.ErrClosed
	}

	names, err := sortedJSONNames(filepath.Join(a.basePath, dirVerbs))
	if err != nil {
		return nil, err
	}

	var matched []*storage.VerbRecord
	for _, name := range names {
		if filter.Cursor != "" && name <= filter.Cursor {
			continue
		}
		v, err := readJSON[storage.VerbRecord](filepath.Join(a.basePath, dirVerbs, name))
		if err != nil || v == nil {
			continue
		}
		if filter.Type != "" && v.Type != filter.Type {
			continue
		}
		if !matchesMetadata(v.Metadata, filter.Metadata) {
			continue
		}
		matched = append(matched, v)
		if filter.Limit > 0 && len(matched) == filter.Limit {
			page := &storage.Page{Verbs: matched}
			if hasMore(names, name) {
				page.NextCursor = name
			}
			return page, nil
		}
	}
	return &storage.Page{Verbs: matched}, nil
}

func (a *Adapter) BatchDelete(ctx context.Context, keys []string, retry storage.RetryConfig) []storage.BatchResult {
	results := make([]storage.BatchResult, len(keys))
	for i, k := range keys {
		var err error
		delay := retry.BaseDelay
		for attempt := 0; attempt < max(1, retry.MaxAttempts); attempt++ {
			if err = a.Delete(ctx, k); err == nil {
				break
			}
			if attempt < retry.MaxAttempts-1 {
				time.Sleep(delay)
				delay *= 2
			}
		}
		results[i] = storage.BatchResult{Key: k, Err: err}
	}
	return results
}

// ChangesSince replays the WAL from cursor's byte offset. A cursor that
// fails to parse as an offset, or points past the end of the log, degrades
// to 0 (a full replay), never an error.
func (a *Adapter) ChangesSince(ctx context.Context, cursor string) ([]storage.Change, string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil, "", storage.ErrClosed
	}

	from := parseOffset(cursor)
	if from > a.wal.Offset() {
		from = 0
	}
	entries, err := a.wal.ReadFrom(from)
	if err != nil {
		return nil, "", err
	}
	changes := make([]storage.Change, len(entries))
	for i, e := range entries {
		kind := storage.ChangePut
		if e.Operation == wal.OpDelete {
			kind = storage.ChangeDelete
		}
		changes[i] = storage.Change{
			Kind: kind,
			Key:  e.Key,
			At:   time.Unix(0, int64(e.Timestamp)),
		}
	}
	return changes, fmt.Sprintf("%d", a.wal.Offset()), nil
}

func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	return a.wal.Close()
}

// Name and HealthCheck implement obs.Subsystem.
func (a *Adapter) Name() string { return "storage.filesystem" }

func (a *Adapter) HealthCheck(ctx context.Context) *obs.CheckResult {
	a.mu.RLock()
	closed := a.closed
	a.mu.RUnlock()
	if closed {
		return &obs.CheckResult{Healthy: false, Message: "adapter closed"}
	}
	if state := a.breaker.State(); state == obs.CircuitOpen {
		return &obs.CheckResult{Healthy: false, Message: "circuit breaker open"}
	}
	if _, err := os.Stat(a.basePath); err != nil {
		return &obs.CheckResult{Healthy: false, Message: err.Error()}
	}
	return &obs.CheckResult{Healthy: true, Message: "ok"}
}

func readJSON[T any](path string) (*T, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func sortedJSONNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func hasMore(names []string, last string) bool {
	for _, n := range names {
		if n > last {
			return true
		}
	}
	return false
}

func matchesMetadata(metadata, want map[string]interface{}) bool {
	for k, v := range want {
		got, ok := metadata[k]
		if !ok || got != v {
			return false
		}
	}
	return true
}

func parseOffset(cursor string) int64 {
	var n int64
	if cursor == "" {
		return 0
	}
	if _, err := fmt.Sscanf(cursor, "%d", &n); err != nil || n < 0 {
		return 0
	}
	return n
}
