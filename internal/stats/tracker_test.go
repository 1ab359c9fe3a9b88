package stats

import (
	"context"
	"testing"
	"time"

	"github.com/vitaly-z/hybridgraph/internal/graph"
	"github.com/vitaly-z/hybridgraph/internal/storage"
)

func TestRecordNounAddIncrementsTypeAndServiceCounts(t *testing.T) {
	tr := New(storage.NewMemory())
	defer tr.Close()

	tr.RecordNounAdd(graph.NounPerson, "ingestor")
	tr.RecordNounAdd(graph.NounPerson, "ingestor")
	tr.RecordNounAdd(graph.NounDocument, "other-service")

	snap := tr.Snapshot()
	if snap.TypeCounts[graph.NounPerson] != 2 {
		t.Fatalf("expected 2 Person nouns, got %d", snap.TypeCounts[graph.NounPerson])
	}
	if snap.TypeCounts[graph.NounDocument] != 1 {
		t.Fatalf("expected 1 Document noun, got %d", snap.TypeCounts[graph.NounDocument])
	}
	if snap.Services["ingestor"].NounCount != 2 {
		t.Fatalf("expected ingestor service to show 2 nouns, got %+v", snap.Services["ingestor"])
	}
}

func TestRecordNounDeleteNeverUnderflows(t *testing.T) {
	tr := New(storage.NewMemory())
	defer tr.Close()

	tr.RecordNounDelete(graph.NounPerson, "svc")
	snap := tr.Snapshot()
	if snap.TypeCounts[graph.NounPerson] != 0 {
		t.Fatalf("expected count to stay at 0, got %d", snap.TypeCounts[graph.NounPerson])
	}
}

func TestRecordThrottleBucketsByHourAndReason(t *testing.T) {
	tr := New(storage.NewMemory())
	defer tr.Close()

	now := time.Date(2026, 1, 1, 10, 30, 0, 0, time.UTC)
	tr.RecordThrottle("rate_limit", now)
	tr.RecordThrottle("rate_limit", now.Add(10*time.Minute))
	tr.RecordThrottle("queue_full", now.Add(2*time.Hour))

	snap := tr.Snapshot()
	if snap.Throttling.Reasons["rate_limit"] != 2 {
		t.Fatalf("expected 2 rate_limit events, got %d", snap.Throttling.Reasons["rate_limit"])
	}
	if len(snap.Throttling.Hourly) != 2 {
		t.Fatalf("expected 2 distinct hour buckets, got %d", len(snap.Throttling.Hourly))
	}
}

func TestDiscoverFieldsWalksNestedMetadata(t *testing.T) {
	tr := New(storage.NewMemory())
	defer tr.Close()

	tr.DiscoverFields(map[string]interface{}{
		"name": "ada",
		"address": map[string]interface{}{
			"city":    "london",
			"country": "uk",
		},
		"tags": []interface{}{
			map[string]interface{}{"label": "vip"},
		},
	})

	fields := make(map[string]bool)
	for _, f := range tr.Fields() {
		fields[f] = true
	}
	for _, want := range []string{"name", "address", "address.city", "address.country", "tags", "tags.label"} {
		if !fields[want] {
			t.Errorf("expected discovered field %q, got %v", want, fields)
		}
	}
}

func TestSnapshotPersistsThroughFlush(t *testing.T) {
	adapter := storage.NewMemory()
	tr := New(adapter)

	tr.RecordNounAdd(graph.NounPerson, "svc")
	tr.Close()

	data, err := adapter.Get(context.Background(), storage.StatsKey)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if data == nil {
		t.Fatal("expected a persisted snapshot after Close")
	}
}
