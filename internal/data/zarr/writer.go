package zarr

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

const (
	defaultChunk1D = 1 << 18
	defaultChunk2D = 512
)

// Writer creates a Zarr v3 directory store. It is not safe for concurrent
// use.
type Writer struct {
	root    string
	enc     *zstd.Encoder
	chunk1D int
	chunk2D int
	groups  map[string]bool
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithChunkSizes overrides the chunk length of 1-D arrays and the chunk edge
// of 2-D arrays.
func WithChunkSizes(oneD, twoD int) WriterOption {
	return func(w *Writer) {
		if oneD > 0 {
			w.chunk1D = oneD
		}
		if twoD > 0 {
			w.chunk2D = twoD
		}
	}
}

// NewWriter creates root (and parents) and returns a writer for it.
func NewWriter(root string, opts ...WriterOption) (*Writer, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store %s: %w", root, err)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	w := &Writer{
		root:    root,
		enc:     enc,
		chunk1D: defaultChunk1D,
		chunk2D: defaultChunk2D,
		groups:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Root returns the store directory.
func (w *Writer) Root() string {
	return w.root
}

// CreateGroup writes a group node at path, creating missing parent groups.
// An existing group's attributes are replaced.
func (w *Writer) CreateGroup(path string, attrs map[string]interface{}) error {
	path = strings.Trim(path, "/")
	if err := w.ensureParents(path); err != nil {
		return err
	}
	if err := w.writeMeta(path, &GroupMeta{ZarrFormat: 3, NodeType: NodeGroup, Attributes: attrs}); err != nil {
		return err
	}
	w.groups[path] = true
	return nil
}

func (w *Writer) ensureParents(path string) error {
	if path == "" {
		return nil
	}
	parts := strings.Split(path, "/")
	for i := 0; i < len(parts); i++ {
		parent := strings.Join(parts[:i], "/")
		if w.groups[parent] {
			continue
		}
		if _, err := os.Stat(filepath.Join(nodeDir(w.root, parent), metaFile)); err != nil {
			if !os.IsNotExist(err) {
				return err
			}
			if err := w.writeMeta(parent, &GroupMeta{ZarrFormat: 3, NodeType: NodeGroup}); err != nil {
				return err
			}
		}
		w.groups[parent] = true
	}
	return nil
}

func (w *Writer) writeMeta(path string, meta interface{}) error {
	dir := nodeDir(w.root, path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode metadata for %q: %w", path, err)
	}
	if err := os.WriteFile(filepath.Join(dir, metaFile), data, 0o644); err != nil {
		return fmt.Errorf("failed to write metadata for %q: %w", path, err)
	}
	return nil
}

// WriteArray writes a 1-D or 2-D array. data is one of []int32, []uint16,
// []uint32, []uint64, []float32 or []string (1-D only) laid out row-major
// with len(data) == product(shape). Chunks holding only the fill value are
// not written.
func (w *Writer) WriteArray(path string, data interface{}, shape []int, attrs map[string]interface{}) error {
	path = strings.Trim(path, "/")
	if len(shape) == 0 || len(shape) > 2 {
		return fmt.Errorf("array %q: unsupported rank %d", path, len(shape))
	}

	var (
		dtype string
		raw   []byte
		n     int
	)
	switch v := data.(type) {
	case []string:
		if len(shape) != 1 {
			return fmt.Errorf("array %q: string arrays must be 1-D", path)
		}
		return w.writeStrings(path, v, shape, attrs)
	case []int32:
		dtype, n = "int32", len(v)
		raw = make([]byte, 0, 4*n)
		for _, x := range v {
			raw = binary.LittleEndian.AppendUint32(raw, uint32(x))
		}
	case []uint32:
		dtype, n = "uint32", len(v)
		raw = make([]byte, 0, 4*n)
		for _, x := range v {
			raw = binary.LittleEndian.AppendUint32(raw, x)
		}
	case []uint16:
		dtype, n = "uint16", len(v)
		raw = make([]byte, 0, 2*n)
		for _, x := range v {
			raw = binary.LittleEndian.AppendUint16(raw, x)
		}
	case []uint64:
		dtype, n = "uint64", len(v)
		raw = make([]byte, 0, 8*n)
		for _, x := range v {
			raw = binary.LittleEndian.AppendUint64(raw, x)
		}
	case []float32:
		dtype, n = "float32", len(v)
		raw = make([]byte, 0, 4*n)
		for _, x := range v {
			raw = binary.LittleEndian.AppendUint32(raw, math.Float32bits(x))
		}
	default:
		return fmt.Errorf("array %q: unsupported element type %T", path, data)
	}
	if n != product(shape) {
		return fmt.Errorf("array %q: %d elements do not fill shape %v", path, n, shape)
	}

	chunks := w.chunksFor(shape)
	if err := w.ensureParents(path); err != nil {
		return err
	}
	meta := newArrayMeta(shape, chunks, dtype)
	meta.Attributes = attrs
	if err := w.writeMeta(path, meta); err != nil {
		return err
	}

	size, _ := dtypeSize(dtype)
	rows, cols, cr, cc := grid(shape, chunks)
	for ci := 0; ci < ceilDiv(rows, cr); ci++ {
		for cj := 0; cj < ceilDiv(cols, cc); cj++ {
			buf := make([]byte, cr*cc*size)
			r1 := min(rows, (ci+1)*cr)
			c0, c1 := cj*cc, min(cols, (cj+1)*cc)
			for y := ci * cr; y < r1; y++ {
				src := (y*cols + c0) * size
				dst := (y - ci*cr) * cc * size
				copy(buf[dst:], raw[src:src+(c1-c0)*size])
			}
			if allZero(buf) {
				continue
			}
			if err := w.writeChunk(path, meta, chunkIndex(len(shape), ci, cj), buf); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *Writer) writeStrings(path string, values []string, shape []int, attrs map[string]interface{}) error {
	if len(values) != shape[0] {
		return fmt.Errorf("array %q: %d elements do not fill shape %v", path, len(values), shape)
	}
	chunks := w.chunksFor(shape)
	if err := w.ensureParents(path); err != nil {
		return err
	}
	meta := newArrayMeta(shape, chunks, DTypeString)
	meta.Attributes = attrs
	if err := w.writeMeta(path, meta); err != nil {
		return err
	}

	c := chunks[0]
	for ci := 0; ci < ceilDiv(len(values), c); ci++ {
		part := values[ci*c : min(len(values), (ci+1)*c)]
		empty := true
		for _, s := range part {
			if s != "" {
				empty = false
				break
			}
		}
		if empty {
			continue
		}
		// vlen-utf8: item count, then length-prefixed items; the edge chunk
		// is padded with empty strings to the full chunk length.
		buf := binary.LittleEndian.AppendUint32(nil, uint32(c))
		for i := 0; i < c; i++ {
			var s string
			if i < len(part) {
				s = part[i]
			}
			buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)))
			buf = append(buf, s...)
		}
		if err := w.writeChunk(path, meta, []int{ci}, buf); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) chunksFor(shape []int) []int {
	if len(shape) == 1 {
		return []int{max(1, min(shape[0], w.chunk1D))}
	}
	return []int{max(1, min(shape[0], w.chunk2D)), max(1, min(shape[1], w.chunk2D))}
}

func (w *Writer) writeChunk(path string, meta *ArrayMeta, idx []int, buf []byte) error {
	chunkPath := filepath.Join(nodeDir(w.root, path), "c", filepath.FromSlash(encodeChunkKey(meta, idx)))
	if err := os.MkdirAll(filepath.Dir(chunkPath), 0o755); err != nil {
		return fmt.Errorf("failed to create chunk dir for %q: %w", path, err)
	}
	if err := os.WriteFile(chunkPath, w.enc.EncodeAll(buf, nil), 0o644); err != nil {
		return fmt.Errorf("failed to write chunk %v of %q: %w", idx, path, err)
	}
	return nil
}

// Close releases the encoder.
func (w *Writer) Close() error {
	return w.enc.Close()
}

// grid views a 1-D array as a single row so both ranks share one chunk walk.
func grid(shape, chunks []int) (rows, cols, chunkRows, chunkCols int) {
	if len(shape) == 1 {
		return 1, shape[0], 1, chunks[0]
	}
	return shape[0], shape[1], chunks[0], chunks[1]
}

func chunkIndex(rank, ci, cj int) []int {
	if rank == 1 {
		return []int{cj}
	}
	return []int{ci, cj}
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
