// Package quant implements SQ8 scalar quantization: each vector is
// compressed independently (no corpus-wide training step) into a per-vector
// min/max pair plus one byte per dimension, matching the wire format
// consumed by filesystem and object-store persistence: [min f32 LE | max f32
// LE | bytes u8×dim].
package quant

import (
	"encoding/binary"
	"fmt"
	"math"
)

const headerBytes = 8 // min f32 + max f32

// QuantizeSQ8 compresses vector into the wire format above. A zero-range
// vector (every component equal, including the common all-zero case) still
// round-trips: every byte is 128, and since max equals min, dequantizing
// yields min for every component.
func QuantizeSQ8(vector []float32) []byte {
	min, max := vector[0], vector[0]
	for _, v := range vector[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}

	out := make([]byte, headerBytes+len(vector))
	binary.LittleEndian.PutUint32(out[0:4], math.Float32bits(min))
	binary.LittleEndian.PutUint32(out[4:8], math.Float32bits(max))

	scale := max - min
	for i, v := range vector {
		q := uint8(128)
		if scale > 0 {
			normalized := (v - min) / scale * 255.0
			if normalized < 0 {
				normalized = 0
			} else if normalized > 255 {
				normalized = 255
			}
			q = uint8(normalized + 0.5)
		}
		out[headerBytes+i] = q
	}
	return out
}

// DequantizeSQ8 reconstructs an approximate vector from the wire format.
func DequantizeSQ8(data []byte) ([]float32, error) {
	if len(data) < headerBytes {
		return nil, fmt.Errorf("quant: sq8 payload too short (%d bytes)", len(data))
	}
	min := math.Float32frombits(binary.LittleEndian.Uint32(data[0:4]))
	max := math.Float32frombits(binary.LittleEndian.Uint32(data[4:8]))
	scale := (max - min) / 255.0

	payload := data[headerBytes:]
	out := make([]float32, len(payload))
	for i, b := range payload {
		out[i] = min + float32(b)*scale
	}
	return out, nil
}

// DistanceSQ8 computes an approximate Euclidean distance directly in
// quantized space, without materializing either vector, for use in the
// HNSW index's first-phase (pre-rerank) search.
func DistanceSQ8(a, b []byte) (float32, error) {
	if len(a) < headerBytes || len(b) < headerBytes || len(a) != len(b) {
		return 0, fmt.Errorf("quant: mismatched sq8 payloads (%d vs %d bytes)", len(a), len(b))
	}
	minA := math.Float32frombits(binary.LittleEndian.Uint32(a[0:4]))
	maxA := math.Float32frombits(binary.LittleEndian.Uint32(a[4:8]))
	minB := math.Float32frombits(binary.LittleEndian.Uint32(b[0:4]))
	maxB := math.Float32frombits(binary.LittleEndian.Uint32(b[4:8]))
	scaleA := (maxA - minA) / 255.0
	scaleB := (maxB - minB) / 255.0

	var sum float32
	for i := headerBytes; i < len(a); i++ {
		va := minA + float32(a[i])*scaleA
		vb := minB + float32(b[i])*scaleB
		d := va - vb
		sum += d * d
	}
	return float32(math.Sqrt(float64(sum))), nil
}

// DistanceSQ8ToQuery computes the approximate distance from a quantized
// vector to a raw query vector, used when a query arrives uncompressed.
func DistanceSQ8ToQuery(compressed []byte, query []float32) (float32, error) {
	if len(compressed) < headerBytes+len(query) {
		return 0, fmt.Errorf("quant: sq8 payload too short for query of dimension %d", len(query))
	}
	min := math.Float32frombits(binary.LittleEndian.Uint32(compressed[0:4]))
	max := math.Float32frombits(binary.LittleEndian.Uint32(compressed[4:8]))
	scale := (max - min) / 255.0

	var sum float32
	for i, qv := range query {
		dv := min + float32(compressed[headerBytes+i])*scale
		d := qv - dv
		sum += d * d
	}
	return float32(math.Sqrt(float64(sum))), nil
}
