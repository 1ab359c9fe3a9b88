// Package cow implements the copy-on-write commit history layered over
// the blob store: every commit and the tree it points at are themselves
// blobs, so the whole version history shares the blob store's
// deduplication and integrity guarantees.
package cow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vitaly-z/hybridgraph/internal/blob"
	"github.com/vitaly-z/hybridgraph/internal/storage"
)

// Commit is one node in the version DAG. RootTree is the hash of the
// blob holding the commit's top-level noun/verb index snapshot; Parent
// is empty for the repo's first commit.
type Commit struct {
	Hash      string    `json:"-"`
	Author    string    `json:"author"`
	Message   string    `json:"message"`
	RootTree  string    `json:"root_tree"`
	Parent    string    `json:"parent"`
	Timestamp time.Time `json:"timestamp"`
}

// Filter narrows StreamHistory/GetHistory without requiring the caller
// to materialize the whole chain first.
type Filter struct {
	Author string
	Since  time.Time
	Until  time.Time
	Limit  int
}

func (f Filter) matches(c *Commit) bool {
	if f.Author != "" && c.Author != f.Author {
		return false
	}
	if !f.Since.IsZero() && c.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && c.Timestamp.After(f.Until) {
		return false
	}
	return true
}

// Repo is the commit DAG: commits/trees live in the blob store, branch
// pointers are mutable refs kept directly in the storage adapter.
type Repo struct {
	blobs   *blob.Store
	adapter storage.Adapter
}

func New(blobs *blob.Store, adapter storage.Adapter) *Repo {
	return &Repo{blobs: blobs, adapter: adapter}
}

// Commit writes a new commit blob linking to parent (empty for the
// first commit in a history) and returns it with its content hash.
func (r *Repo) Commit(ctx context.Context, author, message, rootTree, parent string) (*Commit, error) {
	c := &Commit{
		Author:    author,
		Message:   message,
		RootTree:  rootTree,
		Parent:    parent,
		Timestamp: time.Now(),
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("cow: failed to encode commit: %w", err)
	}
	hash, err := r.blobs.Put(ctx, "commit", data)
	if err != nil {
		return nil, fmt.Errorf("cow: failed to write commit blob: %w", err)
	}
	c.Hash = hash
	return c, nil
}

func (r *Repo) loadCommit(ctx context.Context, hash string) (*Commit, error) {
	data, err := r.blobs.Get(ctx, hash)
	if err != nil {
		return nil, err
	}
	var c Commit
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("cow: failed to decode commit %s: %w", hash, err)
	}
	c.Hash = hash
	return &c, nil
}

// SetBranch points name at commitHash.
func (r *Repo) SetBranch(ctx context.Context, name, commitHash string) error {
	return r.adapter.Put(ctx, "branch:"+name, []byte(commitHash))
}

// GetBranch returns the commit hash name points at, or "" if unset.
func (r *Repo) GetBranch(ctx context.Context, name string) (string, error) {
	data, err := r.adapter.Get(ctx, "branch:"+name)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// StreamHistory walks the commit chain from head back to its root,
// filtering as it goes, and is a genuine lazy generator: it fetches one
// commit blob per step and blocks on an unbuffered channel send, so a
// caller that stops ranging over the channel (context cancellation or a
// early break) halts the walk at the next step with no background
// prefetch ever having run ahead of what was consumed.
func (r *Repo) StreamHistory(ctx context.Context, head string, filter Filter) <-chan *Commit {
	out := make(chan *Commit)
	go func() {
		defer close(out)
		hash := head
		emitted := 0
		for hash != "" {
			if ctx.Err() != nil {
				return
			}
			c, err := r.loadCommit(ctx, hash)
			if err != nil {
				return
			}
			if filter.matches(c) {
				select {
				case out <- c:
					emitted++
				case <-ctx.Done():
					return
				}
				if filter.Limit > 0 && emitted >= filter.Limit {
					return
				}
			}
			hash = c.Parent
		}
	}()
	return out
}

// LiveHashes walks head's parent chain back to the repo's root commit
// and returns every commit and tree blob hash it passes through — the
// live set blob.Store.GC needs to tell a zero-refcount blob that is
// still part of retained history from one that truly has nothing
// pointing at it.
func (r *Repo) LiveHashes(ctx context.Context, head string) (map[string]struct{}, error) {
	live := make(map[string]struct{})
	hash := head
	for hash != "" {
		if err := ctx.Err(); err != nil {
			return live, err
		}
		c, err := r.loadCommit(ctx, hash)
		if err != nil {
			return live, err
		}
		live[c.Hash] = struct{}{}
		live[c.RootTree] = struct{}{}
		hash = c.Parent
	}
	return live, nil
}

// GetHistory is StreamHistory drained eagerly into a slice; it returns
// commits in the same order StreamHistory would yield them.
func (r *Repo) GetHistory(ctx context.Context, head string, filter Filter) ([]*Commit, error) {
	var commits []*Commit
	for c := range r.StreamHistory(ctx, head, filter) {
		commits = append(commits, c)
	}
	if err := ctx.Err(); err != nil {
		return commits, err
	}
	return commits, nil
}
