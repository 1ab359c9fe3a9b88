package hnsw

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
)

func writeBogusFile(path string) error {
	return os.WriteFile(path, []byte{0, 0, 0, 0, 1, 0, 0, 0}, 0644)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	idx, err := NewIndex(testConfig(8))
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	ctx := context.Background()
	rng := rand.New(rand.NewSource(99))

	vectors := make(map[string][]float32)
	for i := 0; i < 60; i++ {
		id := fmt.Sprintf("n-%d", i)
		v := randomVector(rng, 8)
		vectors[id] = v
		if err := idx.Insert(ctx, &VectorEntry{ID: id, Vector: v, Metadata: map[string]interface{}{"i": float64(i)}}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	path := filepath.Join(t.TempDir(), "index.bin")
	if err := idx.SaveToDisk(ctx, path); err != nil {
		t.Fatalf("SaveToDisk: %v", err)
	}

	loaded, err := NewIndex(testConfig(8))
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	if err := loaded.LoadFromDisk(ctx, path); err != nil {
		t.Fatalf("LoadFromDisk: %v", err)
	}

	if loaded.Size() != idx.Size() {
		t.Fatalf("expected size %d, got %d", idx.Size(), loaded.Size())
	}

	for id, v := range vectors {
		results, err := loaded.Search(ctx, v, 1)
		if err != nil {
			t.Fatalf("Search after load: %v", err)
		}
		if len(results) != 1 || results[0].ID != id {
			t.Errorf("expected %s as nearest neighbor after reload, got %+v", id, results)
		}
	}
}

func TestLoadFromDiskRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bogus.bin")
	if err := writeBogusFile(path); err != nil {
		t.Fatalf("writeBogusFile: %v", err)
	}
	idx, err := NewIndex(testConfig(4))
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	if err := idx.LoadFromDisk(context.Background(), path); err == nil {
		t.Fatal("expected error loading a file with an invalid magic number")
	}
}
