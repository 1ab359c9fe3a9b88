package quant

import "fmt"

// New builds the concrete codec named by config.Type. Every partitioned
// HNSW shard that enables quantization goes through this one constructor
// rather than a runtime-pluggable registry: the two codecs are a closed
// set, so there is no third-party codec to dispatch to dynamically.
func New(config *QuantizationConfig) (Quantizer, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	switch config.Type {
	case ProductQuantization:
		pq := NewProductQuantizer()
		if err := pq.Configure(config); err != nil {
			return nil, err
		}
		return pq, nil
	case ScalarQuantization:
		sq := NewScalarQuantizer()
		if err := sq.Configure(config); err != nil {
			return nil, err
		}
		return sq, nil
	default:
		return nil, fmt.Errorf("unsupported quantization type: %s", config.Type.String())
	}
}
