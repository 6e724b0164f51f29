package zarr

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Element is the set of numeric types an array can be decoded into.
type Element interface {
	int32 | uint16 | uint32 | uint64 | float32
}

// Reader provides read access to a Zarr v3 store. It is safe for concurrent
// use.
type Reader struct {
	root    string
	decoder *zstd.Decoder

	mu    sync.RWMutex
	metas map[string]*ArrayMeta
}

// NewReader opens the store rooted at root, which must be a group.
func NewReader(root string) (*Reader, error) {
	_, kind, err := readNode(root)
	if err != nil {
		return nil, fmt.Errorf("failed to open store %s: %w", root, err)
	}
	if kind != NodeGroup {
		return nil, fmt.Errorf("store root %s is a %q node, want group", root, kind)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &Reader{
		root:    root,
		decoder: decoder,
		metas:   make(map[string]*ArrayMeta),
	}, nil
}

// Root returns the store directory.
func (r *Reader) Root() string {
	return r.root
}

// Exists reports whether path names a node.
func (r *Reader) Exists(path string) bool {
	_, err := os.Stat(filepath.Join(nodeDir(r.root, path), metaFile))
	return err == nil
}

// Attributes returns the user attributes of the group or array at path.
func (r *Reader) Attributes(path string) (map[string]interface{}, error) {
	data, _, err := readNode(nodeDir(r.root, path))
	if err != nil {
		return nil, err
	}
	var node struct {
		Attributes map[string]interface{} `json:"attributes"`
	}
	if err := json.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("failed to parse attributes of %q: %w", path, err)
	}
	if node.Attributes == nil {
		node.Attributes = map[string]interface{}{}
	}
	return node.Attributes, nil
}

// Children returns the sorted names of the nodes directly below path.
func (r *Reader) Children(path string) ([]string, error) {
	entries, err := os.ReadDir(nodeDir(r.root, path))
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() || e.Name() == "c" {
			continue
		}
		if r.Exists(path + "/" + e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// ArrayMeta loads (and caches) the metadata of the array at path.
func (r *Reader) ArrayMeta(path string) (*ArrayMeta, error) {
	r.mu.RLock()
	meta, ok := r.metas[path]
	r.mu.RUnlock()
	if ok {
		return meta, nil
	}

	data, kind, err := readNode(nodeDir(r.root, path))
	if err != nil {
		return nil, err
	}
	if kind != NodeArray {
		return nil, fmt.Errorf("node %q is a %s, not an array", path, kind)
	}
	meta = &ArrayMeta{}
	if err := json.Unmarshal(data, meta); err != nil {
		return nil, fmt.Errorf("failed to parse array metadata %q: %w", path, err)
	}
	if len(meta.Shape) != len(meta.ChunkShape()) {
		return nil, fmt.Errorf("invalid zarr metadata for %q: shape dims (%d) != chunk dims (%d)", path, len(meta.Shape), len(meta.ChunkShape()))
	}
	for d, c := range meta.ChunkShape() {
		if c <= 0 {
			return nil, fmt.Errorf("invalid chunk shape for %q at dim %d: %d", path, d, c)
		}
	}

	r.mu.Lock()
	r.metas[path] = meta
	r.mu.Unlock()
	return meta, nil
}

// readChunk reads and decompresses a chunk from Zarr v3 format.
func (r *Reader) readChunk(path, chunkKey string) ([]byte, error) {
	chunkPath := filepath.Join(nodeDir(r.root, path), "c", filepath.FromSlash(chunkKey))
	compressed, err := os.ReadFile(chunkPath)
	if err != nil {
		return nil, err
	}
	decompressed, err := r.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress failed: %w", err)
	}
	return decompressed, nil
}

// readChunkAt returns the decoded bytes of one numeric chunk. A chunk that
// is not present on disk is all fill value.
func (r *Reader) readChunkAt(path string, meta *ArrayMeta, chunkIndices []int) ([]byte, error) {
	data, err := r.readChunk(path, encodeChunkKey(meta, chunkIndices))
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	fill, err := fillValueBytes(meta)
	if err != nil {
		return nil, err
	}
	return repeatFillBytes(fill, product(meta.ChunkShape())), nil
}

// readBlock copies the [row:row+h, col:col+w] window of a numeric array into
// a row-major byte slice. 1-D arrays are addressed with row 0 and h 1.
func (r *Reader) readBlock(path string, row, col, h, w int) ([]byte, *ArrayMeta, error) {
	meta, err := r.ArrayMeta(path)
	if err != nil {
		return nil, nil, err
	}
	size, err := dtypeSize(meta.DataType)
	if err != nil {
		return nil, nil, err
	}
	rows, cols, cr, cc := grid(meta.Shape, meta.ChunkShape())
	if row < 0 || col < 0 || h < 0 || w < 0 || row+h > rows || col+w > cols {
		return nil, nil, fmt.Errorf("window [%d:%d, %d:%d] outside %q shape %v", row, row+h, col, col+w, path, meta.Shape)
	}

	out := make([]byte, h*w*size)
	if h == 0 || w == 0 {
		return out, meta, nil
	}
	for ci := row / cr; ci <= (row+h-1)/cr; ci++ {
		for cj := col / cc; cj <= (col+w-1)/cc; cj++ {
			chunk, err := r.readChunkAt(path, meta, chunkIndex(len(meta.Shape), ci, cj))
			if err != nil {
				return nil, nil, fmt.Errorf("failed to load chunk %d/%d of %q: %w", ci, cj, path, err)
			}
			if len(chunk) < cr*cc*size {
				return nil, nil, fmt.Errorf("chunk %d/%d of %q too short: got %d bytes, expected %d", ci, cj, path, len(chunk), cr*cc*size)
			}
			r0, r1 := max(row, ci*cr), min(row+h, (ci+1)*cr)
			c0, c1 := max(col, cj*cc), min(col+w, (cj+1)*cc)
			n := (c1 - c0) * size
			for y := r0; y < r1; y++ {
				src := ((y-ci*cr)*cc + (c0 - cj*cc)) * size
				dst := ((y-row)*w + (c0 - col)) * size
				copy(out[dst:dst+n], chunk[src:src+n])
			}
		}
	}
	return out, meta, nil
}

// ReadRange reads n elements of a 1-D array starting at start.
func ReadRange[T Element](r *Reader, path string, start, n int) ([]T, error) {
	raw, meta, err := r.readBlock(path, 0, start, 1, n)
	if err != nil {
		return nil, err
	}
	if len(meta.Shape) != 1 {
		return nil, fmt.Errorf("array %q has rank %d, want 1", path, len(meta.Shape))
	}
	return decode[T](path, meta, raw)
}

// ReadAll reads a whole 1-D array.
func ReadAll[T Element](r *Reader, path string) ([]T, error) {
	meta, err := r.ArrayMeta(path)
	if err != nil {
		return nil, err
	}
	if len(meta.Shape) != 1 {
		return nil, fmt.Errorf("array %q has rank %d, want 1", path, len(meta.Shape))
	}
	return ReadRange[T](r, path, 0, meta.Shape[0])
}

// ReadRegion reads the h x w window at (row, col) of a 2-D array, row-major.
func ReadRegion[T Element](r *Reader, path string, row, col, h, w int) ([]T, error) {
	meta, err := r.ArrayMeta(path)
	if err != nil {
		return nil, err
	}
	if len(meta.Shape) != 2 {
		return nil, fmt.Errorf("array %q has rank %d, want 2", path, len(meta.Shape))
	}
	raw, meta, err := r.readBlock(path, row, col, h, w)
	if err != nil {
		return nil, err
	}
	return decode[T](path, meta, raw)
}

func decode[T Element](path string, meta *ArrayMeta, raw []byte) ([]T, error) {
	size, _ := dtypeSize(meta.DataType)
	out := make([]T, len(raw)/size)
	switch o := any(out).(type) {
	case []int32:
		if meta.DataType != "int32" {
			break
		}
		for i := range o {
			o[i] = int32(binary.LittleEndian.Uint32(raw[i*4:]))
		}
		return out, nil
	case []uint32:
		if meta.DataType != "uint32" {
			break
		}
		for i := range o {
			o[i] = binary.LittleEndian.Uint32(raw[i*4:])
		}
		return out, nil
	case []uint16:
		if meta.DataType != "uint16" {
			break
		}
		for i := range o {
			o[i] = binary.LittleEndian.Uint16(raw[i*2:])
		}
		return out, nil
	case []uint64:
		if meta.DataType != "uint64" {
			break
		}
		for i := range o {
			o[i] = binary.LittleEndian.Uint64(raw[i*8:])
		}
		return out, nil
	case []float32:
		if meta.DataType != "float32" {
			break
		}
		for i := range o {
			o[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
		return out, nil
	}
	return nil, fmt.Errorf("array %q holds %s, cannot decode as %T", path, meta.DataType, out)
}

// ReadStrings reads n elements of a 1-D string array starting at start.
func (r *Reader) ReadStrings(path string, start, n int) ([]string, error) {
	meta, err := r.ArrayMeta(path)
	if err != nil {
		return nil, err
	}
	if meta.DataType != DTypeString || len(meta.Shape) != 1 {
		return nil, fmt.Errorf("array %q is not a 1-D string array", path)
	}
	if start < 0 || n < 0 || start+n > meta.Shape[0] {
		return nil, fmt.Errorf("range [%d:%d] outside %q shape %v", start, start+n, path, meta.Shape)
	}

	out := make([]string, 0, n)
	if n == 0 {
		return out, nil
	}
	c := meta.ChunkShape()[0]
	for ci := start / c; ci <= (start+n-1)/c; ci++ {
		items, err := r.readStringChunk(path, meta, ci)
		if err != nil {
			return nil, err
		}
		lo := max(start, ci*c) - ci*c
		hi := min(start+n, (ci+1)*c) - ci*c
		if hi > len(items) {
			return nil, fmt.Errorf("string chunk %d of %q too short: %d items", ci, path, len(items))
		}
		out = append(out, items[lo:hi]...)
	}
	return out, nil
}

// ReadAllStrings reads a whole 1-D string array.
func (r *Reader) ReadAllStrings(path string) ([]string, error) {
	meta, err := r.ArrayMeta(path)
	if err != nil {
		return nil, err
	}
	if len(meta.Shape) != 1 {
		return nil, fmt.Errorf("array %q has rank %d, want 1", path, len(meta.Shape))
	}
	return r.ReadStrings(path, 0, meta.Shape[0])
}

func (r *Reader) readStringChunk(path string, meta *ArrayMeta, ci int) ([]string, error) {
	c := meta.ChunkShape()[0]
	data, err := r.readChunk(path, encodeChunkKey(meta, []int{ci}))
	if errors.Is(err, os.ErrNotExist) {
		return make([]string, c), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load chunk %d of %q: %w", ci, path, err)
	}

	if len(data) < 4 {
		return nil, fmt.Errorf("string chunk %d of %q truncated", ci, path)
	}
	count := int(binary.LittleEndian.Uint32(data))
	data = data[4:]
	items := make([]string, 0, count)
	for i := 0; i < count; i++ {
		if len(data) < 4 {
			return nil, fmt.Errorf("string chunk %d of %q truncated at item %d", ci, path, i)
		}
		l := int(binary.LittleEndian.Uint32(data))
		data = data[4:]
		if len(data) < l {
			return nil, fmt.Errorf("string chunk %d of %q truncated at item %d", ci, path, i)
		}
		items = append(items, string(data[:l]))
		data = data[l:]
	}
	return items, nil
}

// Close releases resources.
func (r *Reader) Close() {
	if r.decoder != nil {
		r.decoder.Close()
	}
}
