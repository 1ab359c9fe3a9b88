package quant

import (
	"context"
	"fmt"
	"sync"
)

// SQ8Quantizer adapts the stateless per-vector SQ8 codec (sq8.go) to the
// Quantizer interface. Unlike product quantization, SQ8 needs no corpus-wide
// training: each vector carries its own min/max in its compressed payload,
// so Train only records the expected dimension for validation.
type SQ8Quantizer struct {
	mu        sync.RWMutex
	config    *QuantizationConfig
	trained   bool
	dimension int
}

func NewScalarQuantizer() *SQ8Quantizer {
	return &SQ8Quantizer{}
}

func (sq *SQ8Quantizer) Configure(config *QuantizationConfig) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if config.Type != ScalarQuantization {
		return fmt.Errorf("expected ScalarQuantization type, got %s", config.Type.String())
	}

	sq.mu.Lock()
	defer sq.mu.Unlock()
	sq.config = config
	return nil
}

// Train only needs to learn the vector dimension; SQ8 quantizes each vector
// against its own range, not a corpus-wide one.
func (sq *SQ8Quantizer) Train(ctx context.Context, vectors [][]float32) error {
	if len(vectors) == 0 {
		return fmt.Errorf("no training vectors provided")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	sq.mu.Lock()
	defer sq.mu.Unlock()
	sq.dimension = len(vectors[0])
	sq.trained = true
	return nil
}

func (sq *SQ8Quantizer) Compress(vector []float32) ([]byte, error) {
	sq.mu.RLock()
	defer sq.mu.RUnlock()
	if !sq.trained {
		return nil, fmt.Errorf("quantizer not trained")
	}
	if len(vector) != sq.dimension {
		return nil, fmt.Errorf("vector dimension %d does not match expected %d", len(vector), sq.dimension)
	}
	return QuantizeSQ8(vector), nil
}

func (sq *SQ8Quantizer) Decompress(data []byte) ([]float32, error) {
	sq.mu.RLock()
	defer sq.mu.RUnlock()
	if !sq.trained {
		return nil, fmt.Errorf("quantizer not trained")
	}
	return DequantizeSQ8(data)
}

func (sq *SQ8Quantizer) Distance(compressed1, compressed2 []byte) (float32, error) {
	sq.mu.RLock()
	defer sq.mu.RUnlock()
	if !sq.trained {
		return 0, fmt.Errorf("quantizer not trained")
	}
	return DistanceSQ8(compressed1, compressed2)
}

func (sq *SQ8Quantizer) DistanceToQuery(compressed []byte, query []float32) (float32, error) {
	sq.mu.RLock()
	defer sq.mu.RUnlock()
	if !sq.trained {
		return 0, fmt.Errorf("quantizer not trained")
	}
	if len(query) != sq.dimension {
		return 0, fmt.Errorf("query dimension %d does not match expected %d", len(query), sq.dimension)
	}
	return DistanceSQ8ToQuery(compressed, query)
}

func (sq *SQ8Quantizer) CompressionRatio() float32 {
	sq.mu.RLock()
	defer sq.mu.RUnlock()
	if !sq.trained {
		return 0
	}
	// dim*4 bytes of f32 versus 8 header bytes + dim bytes of u8.
	return float32(sq.dimension*4) / float32(headerBytes+sq.dimension)
}

func (sq *SQ8Quantizer) MemoryUsage() int64 {
	sq.mu.RLock()
	defer sq.mu.RUnlock()
	return int64(headerBytes + sq.dimension)
}

func (sq *SQ8Quantizer) IsTrained() bool {
	sq.mu.RLock()
	defer sq.mu.RUnlock()
	return sq.trained
}

func (sq *SQ8Quantizer) Config() *QuantizationConfig {
	sq.mu.RLock()
	defer sq.mu.RUnlock()
	if sq.config == nil {
		return nil
	}
	cfg := *sq.config
	return &cfg
}
