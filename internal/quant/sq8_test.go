package quant

import (
	"context"
	"math"
	"testing"
)

func TestQuantizeDequantizeReconstructionBound(t *testing.T) {
	vector := []float32{-1.5, 0.25, 3.0, -0.75, 2.0}
	data := QuantizeSQ8(vector)
	got, err := DequantizeSQ8(data)
	if err != nil {
		t.Fatalf("DequantizeSQ8: %v", err)
	}

	min, max := vector[0], vector[0]
	for _, v := range vector {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	bound := float64(max-min) / 255.0

	for i, v := range vector {
		if math.Abs(float64(got[i]-v)) > bound+1e-6 {
			t.Fatalf("component %d reconstruction error %v exceeds bound %v", i, got[i]-v, bound)
		}
	}
}

func TestQuantizeSQ8ZeroRangeVector(t *testing.T) {
	vector := []float32{2, 2, 2, 2}
	data := QuantizeSQ8(vector)
	got, err := DequantizeSQ8(data)
	if err != nil {
		t.Fatalf("DequantizeSQ8: %v", err)
	}
	for i, v := range got {
		if v != 2 {
			t.Fatalf("component %d = %v, want 2 for zero-range vector", i, v)
		}
	}
}

func TestDistanceSQ8MatchesDequantizedDistance(t *testing.T) {
	a := []float32{1, 2, 3, 4}
	b := []float32{4, 3, 2, 1}
	ca := QuantizeSQ8(a)
	cb := QuantizeSQ8(b)

	got, err := DistanceSQ8(ca, cb)
	if err != nil {
		t.Fatalf("DistanceSQ8: %v", err)
	}

	da, _ := DequantizeSQ8(ca)
	db, _ := DequantizeSQ8(cb)
	var want float32
	for i := range da {
		d := da[i] - db[i]
		want += d * d
	}
	want = float32(math.Sqrt(float64(want)))

	if math.Abs(float64(got-want)) > 1e-4 {
		t.Fatalf("DistanceSQ8 = %v, want %v", got, want)
	}
}

func TestDistanceSQ8ToQueryAgainstRawQuery(t *testing.T) {
	vec := []float32{0.1, 0.2, 0.3, 0.4}
	query := []float32{0.1, 0.2, 0.3, 0.4}
	compressed := QuantizeSQ8(vec)

	got, err := DistanceSQ8ToQuery(compressed, query)
	if err != nil {
		t.Fatalf("DistanceSQ8ToQuery: %v", err)
	}
	// Self-distance against the (near-)identical query should be small.
	if got > 0.05 {
		t.Fatalf("DistanceSQ8ToQuery self-distance = %v, want near 0", got)
	}
}

func TestSQ8QuantizerRoundTripViaInterface(t *testing.T) {
	sq := NewScalarQuantizer()
	if err := sq.Configure(DefaultConfig(ScalarQuantization)); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	vectors := [][]float32{{1, 2, 3}, {4, 5, 6}}
	if err := sq.Train(context.Background(), vectors); err != nil {
		t.Fatalf("Train: %v", err)
	}

	compressed, err := sq.Compress(vectors[0])
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	decompressed, err := sq.Decompress(compressed)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if len(decompressed) != len(vectors[0]) {
		t.Fatalf("decompressed length = %d, want %d", len(decompressed), len(vectors[0]))
	}
}
