// Package objectstore is the S3-backed storage.Adapter, for deployments
// that want the graph/vector store durable in object storage rather than
// on local disk. It mirrors the filesystem adapter's key layout as
// object-key prefixes ("nouns/", "verbs/", "metadata/", ...) instead of
// directories.
package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/vitaly-z/hybridgraph/internal/obs"
	"github.com/vitaly-z/hybridgraph/internal/storage"
)

const (
	prefixNouns        = "nouns/"
	prefixVerbs        = "verbs/"
	prefixNounMeta     = "metadata/"
	prefixVerbMeta     = "verb-metadata/"
	prefixBlob         = "blob/"
	prefixBlobMeta     = "blob-meta/"
	prefixCommits      = "commits/"
	prefixBranches     = "branches/"
	prefixIndex        = "index/"

	deleteObjectsBatchSize = 1000
)

// Config configures the S3-backed adapter. Region/Bucket are required;
// AccessKey/SecretKey may be left empty to fall back to the default AWS
// credential chain.
type Config struct {
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
}

// Adapter is a storage.Adapter backed by an S3 bucket.
type Adapter struct {
	client  *s3.Client
	bucket  string
	breaker *obs.CircuitBreaker
}

// New creates an object-store adapter against the given bucket/region.
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	if cfg.Bucket == "" || cfg.Region == "" {
		return nil, errors.New("objectstore: region and bucket are required")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("objectstore: failed to load AWS config: %w", err)
	}

	return &Adapter{
		client:  s3.NewFromConfig(awsCfg),
		bucket:  cfg.Bucket,
		breaker: obs.NewCircuitBreaker(obs.DefaultCircuitBreakerConfig("storage.objectstore")),
	}, nil
}

func (a *Adapter) Backend() storage.Kind { return storage.KindObjectStore }

// objectKey routes a raw storage key to its S3 object key by the same
// prefix convention the filesystem adapter uses for directories.
func objectKey(key string) string {
	switch {
	case strings.HasPrefix(key, "noun-record:"):
		return prefixNouns + strings.TrimPrefix(key, "noun-record:")
	case strings.HasPrefix(key, "noun-meta:"):
		return prefixNounMeta + strings.TrimPrefix(key, "noun-meta:")
	case strings.HasPrefix(key, "verb-record:"):
		return prefixVerbs + strings.TrimPrefix(key, "verb-record:")
	case strings.HasPrefix(key, "verb-meta:"):
		return prefixVerbMeta + strings.TrimPrefix(key, "verb-meta:")
	case strings.HasPrefix(key, "blobmeta:"):
		return prefixBlobMeta + strings.TrimPrefix(key, "blobmeta:")
	case strings.HasPrefix(key, "commit:"):
		return prefixCommits + strings.TrimPrefix(key, "commit:")
	case strings.HasPrefix(key, "branch:"):
		return prefixBranches + strings.TrimPrefix(key, "branch:")
	case strings.HasPrefix(key, "index:"):
		return prefixIndex + strings.TrimPrefix(key, "index:")
	default:
		return prefixBlob + key
	}
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound"
	}
	return false
}

func (a *Adapter) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := a.breaker.Execute(ctx, func() error {
		out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(a.bucket),
			Key:    aws.String(objectKey(key)),
		})
		if err != nil {
			if isNotFound(err) {
				return nil
			}
			return err
		}
		defer out.Body.Close()
		data, err = io.ReadAll(out.Body)
		return err
	})
	return data, err
}

func (a *Adapter) Put(ctx context.Context, key string, value []byte) error {
	return a.breaker.Execute(ctx, func() error {
		_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(a.bucket),
			Key:    aws.String(objectKey(key)),
			Body:   bytes.NewReader(value),
		})
		return err
	})
}

func (a *Adapter) Delete(ctx context.Context, key string) error {
	return a.breaker.Execute(ctx, func() error {
		_, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(a.bucket),
			Key:    aws.String(objectKey(key)),
		})
		return err
	})
}

func (a *Adapter) putJSON(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return a.Put(ctx, key, data)
}

func (a *Adapter) getJSON(ctx context.Context, key string, v interface{}) (bool, error) {
	data, err := a.Get(ctx, key)
	if err != nil || data == nil {
		return false, err
	}
	return true, json.Unmarshal(data, v)
}

func (a *Adapter) SaveNoun(ctx context.Context, n *storage.NounRecord) error {
	var existing storage.NounRecord
	if found, err := a.getJSON(ctx, "noun-record:"+n.ID, &existing); err == nil && found {
		n.CreatedAt = existing.CreatedAt
	} else if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	n.UpdatedAt = time.Now()

	if err := a.putJSON(ctx, "noun-record:"+n.ID, n); err != nil {
		return err
	}
	return a.putJSON(ctx, "noun-meta:"+n.ID, n.Metadata)
}

func (a *Adapter) GetNounWithMetadata(ctx context.Context, id string) (*storage.NounRecord, error) {
	var n storage.NounRecord
	found, err := a.getJSON(ctx, "noun-record:"+id, &n)
	if err != nil || !found {
		return nil, err
	}
	return &n, nil
}

func (a *Adapter) DeleteNoun(ctx context.Context, id string) error {
	n, err := a.GetNounWithMetadata(ctx, id)
	if err != nil {
		return err
	}
	if n == nil {
		return fmt.Errorf("objectstore: noun %q: %w", id, storage.ErrNotFound)
	}
	a.Delete(ctx, "noun-meta:"+id)
	return a.Delete(ctx, "noun-record:"+id)
}

func (a *Adapter) ListNouns(ctx context.Context, filter storage.ListFilter) (*storage.Page, error) {
	ids, next, err := a.listIDs(ctx, prefixNouns, filter.Cursor, filter.Limit)
	if err != nil {
		return nil, err
	}
	var matched []*storage.NounRecord
	for _, id := range ids {
		n, err := a.GetNounWithMetadata(ctx, id)
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
	}
	return &storage.Page{Nouns: matched, NextCursor: next}, nil
}

func (a *Adapter) SaveVerb(ctx context.Context, v *storage.VerbRecord) error {
	var existing storage.VerbRecord
	if found, err := a.getJSON(ctx, "verb-record:"+v.ID, &existing); err == nil && found {
		v.CreatedAt = existing.CreatedAt
	} else if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}
	v.UpdatedAt = time.Now()

	if err := a.putJSON(ctx, "verb-record:"+v.ID, v); err != nil {
		return err
	}
	return a.putJSON(ctx, "verb-meta:"+v.ID, v.Metadata)
}

func (a *Adapter) GetVerbWithMetadata(ctx context.Context, id string) (*storage.VerbRecord, error) {
	var v storage.VerbRecord
	found, err := a.getJSON(ctx, "verb-record:"+id, &v)
	if err != nil || !found {
		return nil, err
	}
	return &v, nil
}

func (a *Adapter) DeleteVerb(ctx context.Context, id string) error {
	v, err := a.GetVerbWithMetadata(ctx, id)
	if err != nil {
		return err
	}
	if v == nil {
		return fmt.Errorf("objectstore: verb %q: %w", id, storage.ErrNotFound)
	}
	a.Delete(ctx, "verb-meta:"+id)
	return a.Delete(ctx, "verb-record:"+id)
}

func (a *Adapter) ListVerbs(ctx context.Context, filter storage.ListFilter) (*storage.Page, error) {
	ids, next, err := a.listIDs(ctx, prefixVerbs, filter.Cursor, filter.Limit)
	if err != nil {
		return nil, err
	}
	var matched []*storage.VerbRecord
	for _, id := range ids {
		v, err := a.GetVerbWithMetadata(ctx, id)
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
	}
	return &storage.Page{Verbs: matched, NextCursor: next}, nil
}

// listIDs lists the record IDs under objectPrefix, using
// ListObjectsV2's continuation token directly as our opaque pagination
// cursor. A cursor from anywhere other than a prior call's NextCursor is
// rejected by S3 as invalid; the listing is then retried once with no
// cursor and starts over from the first page — the same degrade-to-rescan
// contract every adapter backend honors.
func (a *Adapter) listIDs(ctx context.Context, objectPrefix, cursor string, limit int) ([]string, string, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(a.bucket),
		Prefix: aws.String(objectPrefix),
	}
	if cursor != "" {
		input.ContinuationToken = aws.String(cursor)
	}
	if limit > 0 {
		input.MaxKeys = aws.Int32(int32(limit))
	}

	var ids []string
	var nextToken string
	err := a.breaker.Execute(ctx, func() error {
		out, err := a.client.ListObjectsV2(ctx, input)
		if err != nil && input.ContinuationToken != nil {
			input.ContinuationToken = nil
			out, err = a.client.ListObjectsV2(ctx, input)
		}
		if err != nil {
			return err
		}
		for _, obj := range out.Contents {
			ids = append(ids, strings.TrimPrefix(aws.ToString(obj.Key), objectPrefix))
		}
		if out.NextContinuationToken != nil {
			nextToken = aws.ToString(out.NextContinuationToken)
		}
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return ids, nextToken, nil
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

func (a *Adapter) BatchDelete(ctx context.Context, keys []string, retry storage.RetryConfig) []storage.BatchResult {
	results := make([]storage.BatchResult, len(keys))
	for start := 0; start < len(keys); start += deleteObjectsBatchSize {
		end := start + deleteObjectsBatchSize
		if end > len(keys) {
			end = len(keys)
		}
		batch := keys[start:end]

		objects := make([]types.ObjectIdentifier, len(batch))
		for i, k := range batch {
			objects[i] = types.ObjectIdentifier{Key: aws.String(objectKey(k))}
		}

		var lastErr error
		delay := retry.BaseDelay
		failedKeys := make(map[string]string)
		for attempt := 0; attempt < max(1, retry.MaxAttempts); attempt++ {
			failedKeys = make(map[string]string)
			out, err := a.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
				Bucket: aws.String(a.bucket),
				Delete: &types.Delete{Objects: objects},
			})
			if err != nil {
				lastErr = err
				if attempt < retry.MaxAttempts-1 {
					time.Sleep(delay)
					delay *= 2
				}
				continue
			}
			lastErr = nil
			for _, e := range out.Errors {
				failedKeys[aws.ToString(e.Key)] = fmt.Sprintf("%s: %s", aws.ToString(e.Code), aws.ToString(e.Message))
			}
			break
		}

		for i, k := range batch {
			switch {
			case lastErr != nil:
				results[start+i] = storage.BatchResult{Key: k, Err: lastErr}
			default:
				if msg, failed := failedKeys[objectKey(k)]; failed {
					results[start+i] = storage.BatchResult{Key: k, Err: errors.New(msg)}
				} else {
					results[start+i] = storage.BatchResult{Key: k}
				}
			}
		}
	}
	return results
}

// ChangesSince is unsupported on the object-store backend: S3 has no
// native changelog, and the filesystem adapter's WAL-backed log is where
// that capability lives.
func (a *Adapter) ChangesSince(ctx context.Context, cursor string) ([]storage.Change, string, error) {
	return nil, "", fmt.Errorf("objectstore: ChangesSince is not supported, use the filesystem backend for replication")
}

func (a *Adapter) Close() error { return nil }

func (a *Adapter) Name() string { return "storage.objectstore" }

func (a *Adapter) HealthCheck(ctx context.Context) *obs.CheckResult {
	if state := a.breaker.State(); state == obs.CircuitOpen {
		return &obs.CheckResult{Healthy: false, Message: "circuit breaker open"}
	}
	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(a.bucket)})
	if err != nil {
		return &obs.CheckResult{Healthy: false, Message: err.Error()}
	}
	return &obs.CheckResult{Healthy: true, Message: "ok"}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
