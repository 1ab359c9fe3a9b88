package hnsw

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"

	"github.com/vitaly-z/hybridgraph/internal/vmath"
)

// SaveToDisk serializes the index to path using an atomic write-then-rename
// so a crash mid-write never leaves a corrupt file in place.
func (h *Index) SaveToDisk(ctx context.Context, path string) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("hnsw: failed to create directory: %w", err)
	}

	return atomicWrite(path, func(file *os.File) error {
		writer := bufio.NewWriter(file)
		defer writer.Flush()

		if err := h.writeHeader(writer); err != nil {
			return fmt.Errorf("header: %w", err)
		}
		if err := h.writeConfig(writer); err != nil {
			return fmt.Errorf("config: %w", err)
		}
		if err := h.writeNodes(ctx, writer); err != nil {
			return fmt.Errorf("nodes: %w", err)
		}
		if err := h.writeLinks(writer); err != nil {
			return fmt.Errorf("links: %w", err)
		}
		if err := h.writeMetadata(writer); err != nil {
			return fmt.Errorf("metadata: %w", err)
		}
		return nil
	})
}

// LoadFromDisk replaces the index's contents with what is stored at path.
// Vectors are restored in full-f32 mode regardless of the mode the index was
// saved in; quantization and lazy mode must be re-armed by the caller.
func (h *Index) LoadFromDisk(ctx context.Context, path string) error {
	if err := validateFileFormat(path); err != nil {
		return fmt.Errorf("hnsw: invalid file format: %w", err)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("hnsw: failed to open file: %w", err)
	}
	defer file.Close()

	h.mu.Lock()
	defer h.mu.Unlock()

	reader := bufio.NewReader(file)
	if err := h.readHeader(reader); err != nil {
		return fmt.Errorf("header: %w", err)
	}
	if err := h.readConfig(reader); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := h.readNodes(reader); err != nil {
		return fmt.Errorf("nodes: %w", err)
	}
	if err := h.readLinks(reader); err != nil {
		return fmt.Errorf("links: %w", err)
	}
	if err := h.readMetadata(reader); err != nil {
		return fmt.Errorf("metadata: %w", err)
	}
	h.rebuildIndexState()
	return nil
}

func (h *Index) writeHeader(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, FormatMagic); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, FormatVersion); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, h.calculateCRC32())
}

func (h *Index) writeConfig(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(h.config.M)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(h.config.EfConstruction)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(h.config.EfSearch)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(h.config.Dimension)); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, uint32(h.config.Metric))
}

func (h *Index) writeNodes(ctx context.Context, w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(h.nodes))); err != nil {
		return err
	}

	for i := 0; i < len(h.nodes); i += persistChunkSize {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		end := i + persistChunkSize
		if end > len(h.nodes) {
			end = len(h.nodes)
		}
		for j := i; j < end; j++ {
			node := h.nodes[j]
			if node == nil {
				if err := binary.Write(w, binary.LittleEndian, uint8(0)); err != nil {
					return err
				}
				continue
			}
			if err := binary.Write(w, binary.LittleEndian, uint8(1)); err != nil {
				return err
			}

			idBytes := []byte(node.ID)
			if err := binary.Write(w, binary.LittleEndian, uint32(len(idBytes))); err != nil {
				return err
			}
			if _, err := w.Write(idBytes); err != nil {
				return err
			}

			vec, err := h.getNodeVector(ctx, node)
			if err != nil {
				vec = nil
			}
			if err := binary.Write(w, binary.LittleEndian, uint32(len(vec))); err != nil {
				return err
			}
			for _, val := range vec {
				if err := binary.Write(w, binary.LittleEndian, val); err != nil {
					return err
				}
			}

			if err := binary.Write(w, binary.LittleEndian, uint32(node.Level)); err != nil {
				return err
			}

			metaBytes, err := json.Marshal(node.Metadata)
			if err != nil {
				metaBytes = []byte("null")
			}
			if err := binary.Write(w, binary.LittleEndian, uint32(len(metaBytes))); err != nil {
				return err
			}
			if _, err := w.Write(metaBytes); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *Index) writeLinks(w io.Writer) error {
	withLinks := 0
	for _, node := range h.nodes {
		if node != nil && len(node.Links) > 0 {
			withLinks++
		}
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(withLinks)); err != nil {
		return err
	}

	for i, node := range h.nodes {
		if node == nil || len(node.Links) == 0 {
			continue
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(i)); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(node.Links))); err != nil {
			return err
		}
		for level, connections := range node.Links {
			if err := binary.Write(w, binary.LittleEndian, uint32(level)); err != nil {
				return err
			}
			if err := binary.Write(w, binary.LittleEndian, uint32(len(connections))); err != nil {
				return err
			}
			for _, id := range connections {
				if err := binary.Write(w, binary.LittleEndian, id); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (h *Index) writeMetadata(w io.Writer) error {
	if !h.hasEntryPoint {
		return binary.Write(w, binary.LittleEndian, uint8(0))
	}
	if err := binary.Write(w, binary.LittleEndian, uint8(1)); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, h.entryPoint)
}

func (h *Index) calculateCRC32() uint32 {
	crc := crc32.NewIEEE()
	binary.Write(crc, binary.LittleEndian, uint32(h.config.M))
	binary.Write(crc, binary.LittleEndian, uint32(h.config.EfConstruction))
	binary.Write(crc, binary.LittleEndian, uint32(h.config.Dimension))
	binary.Write(crc, binary.LittleEndian, uint32(len(h.nodes)))
	return crc.Sum32()
}

func atomicWrite(finalPath string, writeFunc func(*os.File) error) error {
	tempPath := finalPath + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	writeErr := writeFunc(file)

	if syncErr := file.Sync(); syncErr != nil && writeErr == nil {
		writeErr = syncErr
	}
	if closeErr := file.Close(); closeErr != nil && writeErr == nil {
		writeErr = closeErr
	}

	if writeErr != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to write data: %w", writeErr)
	}

	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

func validateFileFormat(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	var magic uint32
	if err := binary.Read(file, binary.LittleEndian, &magic); err != nil {
		return fmt.Errorf("failed to read magic number: %w", err)
	}
	if magic != FormatMagic {
		return fmt.Errorf("invalid magic number: expected %x, got %x", FormatMagic, magic)
	}

	var version uint32
	if err := binary.Read(file, binary.LittleEndian, &version); err != nil {
		return fmt.Errorf("failed to read version: %w", err)
	}
	if version != FormatVersion {
		return fmt.Errorf("unsupported format version: expected %d, got %d", FormatVersion, version)
	}
	return nil
}

func (h *Index) readHeader(r io.Reader) error {
	var magic, version, crc uint32
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return err
	}
	return binary.Read(r, binary.LittleEndian, &crc)
}

func (h *Index) readConfig(r io.Reader) error {
	var m, efConstruction, efSearch, dimension, metric uint32
	if err := binary.Read(r, binary.LittleEndian, &m); err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, &efConstruction); err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, &efSearch); err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, &dimension); err != nil {
		return err
	}
	if err := binary.Read(r, binary.LittleEndian, &metric); err != nil {
		return err
	}

	h.config.M = int(m)
	h.config.EfConstruction = int(efConstruction)
	h.config.EfSearch = int(efSearch)
	h.config.Dimension = int(dimension)
	h.config.Metric = vmath.Metric(metric)

	distFn, err := vmath.Lookup(h.config.Metric)
	if err != nil {
		return fmt.Errorf("unsupported metric: %w", err)
	}
	h.distance = distFn
	return nil
}

func (h *Index) readNodes(r io.Reader) error {
	var nodeCount uint32
	if err := binary.Read(r, binary.LittleEndian, &nodeCount); err != nil {
		return err
	}
	h.nodes = make([]*Node, nodeCount)

	for i := uint32(0); i < nodeCount; i++ {
		var marker uint8
		if err := binary.Read(r, binary.LittleEndian, &marker); err != nil {
			return err
		}
		if marker == 0 {
			continue
		}

		var idLen uint32
		if err := binary.Read(r, binary.LittleEndian, &idLen); err != nil {
			return err
		}
		idBytes := make([]byte, idLen)
		if _, err := io.ReadFull(r, idBytes); err != nil {
			return err
		}

		var vectorLen uint32
		if err := binary.Read(r, binary.LittleEndian, &vectorLen); err != nil {
			return err
		}
		vector := make([]float32, vectorLen)
		for j := uint32(0); j < vectorLen; j++ {
			if err := binary.Read(r, binary.LittleEndian, &vector[j]); err != nil {
				return err
			}
		}

		var level uint32
		if err := binary.Read(r, binary.LittleEndian, &level); err != nil {
			return err
		}

		var metaLen uint32
		if err := binary.Read(r, binary.LittleEndian, &metaLen); err != nil {
			return err
		}
		metaBytes := make([]byte, metaLen)
		if _, err := io.ReadFull(r, metaBytes); err != nil {
			return err
		}
		var metadata map[string]interface{}
		json.Unmarshal(metaBytes, &metadata)

		h.nodes[i] = &Node{
			ID:       string(idBytes),
			Vector:   vector,
			Level:    int(level),
			Metadata: metadata,
		}
	}
	return nil
}

func (h *Index) readLinks(r io.Reader) error {
	var nodeCount uint32
	if err := binary.Read(r, binary.LittleEndian, &nodeCount); err != nil {
		return err
	}

	for i := uint32(0); i < nodeCount; i++ {
		var nodeIndex uint32
		if err := binary.Read(r, binary.LittleEndian, &nodeIndex); err != nil {
			return err
		}
		if int(nodeIndex) >= len(h.nodes) || h.nodes[nodeIndex] == nil {
			return fmt.Errorf("invalid node index: %d", nodeIndex)
		}
		node := h.nodes[nodeIndex]

		var levelCount uint32
		if err := binary.Read(r, binary.LittleEndian, &levelCount); err != nil {
			return err
		}
		node.Links = make([][]uint32, levelCount)

		for j := uint32(0); j < levelCount; j++ {
			var level, connectionCount uint32
			if err := binary.Read(r, binary.LittleEndian, &level); err != nil {
				return err
			}
			if err := binary.Read(r, binary.LittleEndian, &connectionCount); err != nil {
				return err
			}
			connections := make([]uint32, connectionCount)
			for k := uint32(0); k < connectionCount; k++ {
				if err := binary.Read(r, binary.LittleEndian, &connections[k]); err != nil {
					return err
				}
			}
			if int(level) < len(node.Links) {
				node.Links[level] = connections
			}
		}
	}
	return nil
}

func (h *Index) readMetadata(r io.Reader) error {
	var hasEntryPoint uint8
	if err := binary.Read(r, binary.LittleEndian, &hasEntryPoint); err != nil {
		return err
	}
	h.hasEntryPoint = hasEntryPoint == 1
	if h.hasEntryPoint {
		return binary.Read(r, binary.LittleEndian, &h.entryPoint)
	}
	return nil
}

// rebuildIndexState recomputes size, maxLevel, idToIndex and
// entryPointCandidates from the loaded node slice.
func (h *Index) rebuildIndexState() {
	h.size = 0
	h.maxLevel = 0
	h.idToIndex = make(map[string]uint32)
	h.entryPointCandidates = h.entryPointCandidates[:0]

	for i, node := range h.nodes {
		if node == nil {
			continue
		}
		h.size++
		h.idToIndex[node.ID] = uint32(i)
		if node.Level > h.maxLevel {
			h.maxLevel = node.Level
		}
		if node.Level >= 2 {
			h.entryPointCandidates = append(h.entryPointCandidates, uint32(i))
		}
	}
}
