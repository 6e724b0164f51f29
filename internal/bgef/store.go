package bgef

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/atlasmap-sc/geftools/internal/data/zarr"
	"github.com/atlasmap-sc/geftools/internal/geneindex"
)

var (
	ErrUnknownBin  = errors.New("bgef: bin size not present in store")
	ErrUnknownGene = errors.New("bgef: gene not present in bin")
	ErrNoExon      = errors.New("bgef: store has no exon data")
)

// Layer selects one of the dense whole-tissue matrices.
type Layer string

const (
	LayerMID  Layer = "mid"
	LayerGene Layer = "gene"
	LayerExon Layer = "exon"
)

// ParseLayer accepts "mid", "gene" or "exon"; empty means mid.
func ParseLayer(s string) (Layer, error) {
	switch Layer(strings.ToLower(s)) {
	case "", LayerMID:
		return LayerMID, nil
	case LayerGene:
		return LayerGene, nil
	case LayerExon:
		return LayerExon, nil
	}
	return "", fmt.Errorf("unknown layer %q (want mid, gene or exon)", s)
}

// RootInfo is the decoded root attribute set.
type RootInfo struct {
	Version    int     `json:"version"`
	BinType    string  `json:"bin_type"`
	Omics      string  `json:"omics"`
	SN         string  `json:"sn"`
	Resolution int     `json:"resolution"`
	OffsetX    int32   `json:"offset_x"`
	OffsetY    int32   `json:"offset_y"`
	GEFArea    float64 `json:"gef_area"`
	ToolVer    []int   `json:"geftool_ver"`
}

// BinInfo describes one bin size of a store.
type BinInfo struct {
	BinSize  int    `json:"bin_size"`
	MinX     int32  `json:"min_x"`
	MinY     int32  `json:"min_y"`
	MaxX     int32  `json:"max_x"`
	MaxY     int32  `json:"max_y"`
	MaxExp   uint32 `json:"max_exp"`
	Records  int    `json:"records"`
	Genes    int    `json:"genes"`
	HasExon  bool   `json:"has_exon"`
	MaxExon  uint32 `json:"max_exon,omitempty"`
	LenX     int    `json:"len_x"`
	LenY     int    `json:"len_y"`
	Number   int    `json:"number"`
	MaxMID   uint32 `json:"max_mid"`
	MaxGene  uint32 `json:"max_gene"`
	HasWhole bool   `json:"has_whole_exp"`
}

// Store is a read-only view of a finished bGEF store. It is safe for
// concurrent use.
type Store struct {
	r    *zarr.Reader
	root RootInfo
	bins map[int]BinInfo

	mu    sync.Mutex
	names map[int]map[string]int
}

// Open reads the root and per-bin attributes of the store at path.
func Open(path string) (*Store, error) {
	r, err := zarr.NewReader(path)
	if err != nil {
		return nil, err
	}
	s := &Store{r: r, bins: make(map[int]BinInfo), names: make(map[int]map[string]int)}
	if err := s.load(); err != nil {
		r.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	attrs, err := s.r.Attributes("")
	if err != nil {
		return err
	}
	s.root = RootInfo{
		Version:    int(attrInt(attrs, "version")),
		BinType:    attrString(attrs, "bin_type"),
		Omics:      attrString(attrs, "omics"),
		SN:         attrString(attrs, "sn"),
		Resolution: int(attrInt(attrs, "resolution")),
		OffsetX:    int32(attrInt(attrs, "offset_x")),
		OffsetY:    int32(attrInt(attrs, "offset_y")),
		GEFArea:    attrFloat(attrs, "gef_area"),
	}
	if v, ok := attrs["geftool_ver"].([]interface{}); ok {
		for _, x := range v {
			if f, ok := x.(float64); ok {
				s.root.ToolVer = append(s.root.ToolVer, int(f))
			}
		}
	}

	if !s.r.Exists("geneExp") {
		return fmt.Errorf("store %s has no geneExp group", s.r.Root())
	}
	children, err := s.r.Children("geneExp")
	if err != nil {
		return err
	}
	for _, name := range children {
		n, err := strconv.Atoi(strings.TrimPrefix(name, "bin"))
		if err != nil || !strings.HasPrefix(name, "bin") {
			continue
		}
		info, err := s.loadBin(n)
		if err != nil {
			return fmt.Errorf("failed to load bin %d: %w", n, err)
		}
		s.bins[n] = info
	}
	return nil
}

func (s *Store) loadBin(n int) (BinInfo, error) {
	info := BinInfo{BinSize: n}
	base := geneExpPath(n)

	exp, err := s.r.Attributes(base + "/expression")
	if err != nil {
		return info, err
	}
	info.MinX = int32(attrInt(exp, "minX"))
	info.MinY = int32(attrInt(exp, "minY"))
	info.MaxX = int32(attrInt(exp, "maxX"))
	info.MaxY = int32(attrInt(exp, "maxY"))
	info.MaxExp = uint32(attrInt(exp, "maxExp"))

	cnt, err := s.r.ArrayMeta(base + "/expression/count")
	if err != nil {
		return info, err
	}
	info.Records = cnt.Len()
	genes, err := s.r.ArrayMeta(base + "/gene/offset")
	if err != nil {
		return info, err
	}
	info.Genes = genes.Len()

	if s.r.Exists(base + "/exon") {
		info.HasExon = true
		ex, err := s.r.Attributes(base + "/exon")
		if err != nil {
			return info, err
		}
		info.MaxExon = uint32(attrInt(ex, "maxExon"))
	}

	if s.r.Exists(wholeExpPath(n)) {
		whole, err := s.r.Attributes(wholeExpPath(n))
		if err != nil {
			return info, err
		}
		info.HasWhole = true
		info.LenX = int(attrInt(whole, "lenX"))
		info.LenY = int(attrInt(whole, "lenY"))
		info.Number = int(attrInt(whole, "number"))
		info.MaxMID = uint32(attrInt(whole, "maxMID"))
		info.MaxGene = uint32(attrInt(whole, "maxGene"))
	}
	return info, nil
}

// Path returns the store directory.
func (s *Store) Path() string {
	return s.r.Root()
}

// Root returns the root attributes.
func (s *Store) Root() RootInfo {
	return s.root
}

// Bins returns the stored bin sizes in ascending order.
func (s *Store) Bins() []int {
	out := make([]int, 0, len(s.bins))
	for n := range s.bins {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// Bin returns the description of bin size n.
func (s *Store) Bin(n int) (BinInfo, error) {
	info, ok := s.bins[n]
	if !ok {
		return BinInfo{}, fmt.Errorf("%w: %d", ErrUnknownBin, n)
	}
	return info, nil
}

// Genes returns up to limit gene-index entries starting at offset, and the
// total number of genes in the bin. limit <= 0 means all.
func (s *Store) Genes(bin, offset, limit int) ([]geneindex.Entry, int, error) {
	info, err := s.Bin(bin)
	if err != nil {
		return nil, 0, err
	}
	total := info.Genes
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []geneindex.Entry{}, total, nil
	}
	n := total - offset
	if limit > 0 {
		n = min(n, limit)
	}
	return s.readEntries(bin, offset, n, total)
}

func (s *Store) readEntries(bin, offset, n, total int) ([]geneindex.Entry, int, error) {
	base := geneExpPath(bin) + "/gene/"
	ids, err := s.r.ReadStrings(base+"geneID", offset, n)
	if err != nil {
		return nil, 0, err
	}
	names, err := s.r.ReadStrings(base+"geneName", offset, n)
	if err != nil {
		return nil, 0, err
	}
	offs, err := zarr.ReadRange[uint32](s.r, base+"offset", offset, n)
	if err != nil {
		return nil, 0, err
	}
	counts, err := zarr.ReadRange[uint32](s.r, base+"count", offset, n)
	if err != nil {
		return nil, 0, err
	}
	out := make([]geneindex.Entry, n)
	for i := range out {
		out[i] = geneindex.Entry{GeneID: ids[i], GeneName: names[i], Offset: offs[i], Count: counts[i]}
	}
	return out, total, nil
}

// FindGene looks a gene up by name or id.
func (s *Store) FindGene(bin int, gene string) (geneindex.Entry, error) {
	info, err := s.Bin(bin)
	if err != nil {
		return geneindex.Entry{}, err
	}
	lookup, err := s.nameIndex(bin)
	if err != nil {
		return geneindex.Entry{}, err
	}
	i, ok := lookup[gene]
	if !ok {
		return geneindex.Entry{}, fmt.Errorf("%w: %s", ErrUnknownGene, gene)
	}
	entries, _, err := s.readEntries(bin, i, 1, info.Genes)
	if err != nil {
		return geneindex.Entry{}, err
	}
	return entries[0], nil
}

func (s *Store) nameIndex(bin int) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.names[bin]; ok {
		return m, nil
	}
	base := geneExpPath(bin) + "/gene/"
	names, err := s.r.ReadAllStrings(base + "geneName")
	if err != nil {
		return nil, err
	}
	ids, err := s.r.ReadAllStrings(base + "geneID")
	if err != nil {
		return nil, err
	}
	m := make(map[string]int, len(names)*2)
	for i, id := range ids {
		m[id] = i
	}
	// Names win over ids when they collide.
	for i, name := range names {
		m[name] = i
	}
	s.names[bin] = m
	return m, nil
}

// GeneExpression returns the gene's entry and its rows. exons is nil when the
// store has no exon column.
func (s *Store) GeneExpression(bin int, gene string) (geneindex.Entry, []geneindex.Expression, []uint32, error) {
	e, err := s.FindGene(bin, gene)
	if err != nil {
		return e, nil, nil, err
	}
	base := geneExpPath(bin)
	off, n := int(e.Offset), int(e.Count)
	xs, err := zarr.ReadRange[int32](s.r, base+"/expression/x", off, n)
	if err != nil {
		return e, nil, nil, err
	}
	ys, err := zarr.ReadRange[int32](s.r, base+"/expression/y", off, n)
	if err != nil {
		return e, nil, nil, err
	}
	counts, err := zarr.ReadRange[uint32](s.r, base+"/expression/count", off, n)
	if err != nil {
		return e, nil, nil, err
	}
	rows := make([]geneindex.Expression, n)
	for i := range rows {
		rows[i] = geneindex.Expression{X: xs[i], Y: ys[i], Count: counts[i]}
	}

	var exons []uint32
	if s.bins[bin].HasExon {
		exons, err = zarr.ReadRange[uint32](s.r, base+"/exon", off, n)
		if err != nil {
			return e, nil, nil, err
		}
	}
	return e, rows, exons, nil
}

// WholeExp reads an h x w window at (row, col) of one dense layer as uint32
// values, row-major. Rows run along y, columns along x.
func (s *Store) WholeExp(bin int, layer Layer, row, col, h, w int) ([]uint32, error) {
	info, err := s.Bin(bin)
	if err != nil {
		return nil, err
	}
	if !info.HasWhole {
		return nil, fmt.Errorf("%w: no wholeExp for bin %d", ErrUnknownBin, bin)
	}
	switch layer {
	case LayerMID:
		return zarr.ReadRegion[uint32](s.r, wholeExpPath(bin)+"/MIDcount", row, col, h, w)
	case LayerGene:
		vals, err := zarr.ReadRegion[uint16](s.r, wholeExpPath(bin)+"/genecount", row, col, h, w)
		if err != nil {
			return nil, err
		}
		out := make([]uint32, len(vals))
		for i, v := range vals {
			out[i] = uint32(v)
		}
		return out, nil
	case LayerExon:
		if !info.HasExon {
			return nil, ErrNoExon
		}
		return zarr.ReadRegion[uint32](s.r, wholeExonPath(bin), row, col, h, w)
	}
	return nil, fmt.Errorf("unknown layer %q", layer)
}

// LayerMax returns the maximum value of a dense layer, used to scale colors.
func (s *Store) LayerMax(bin int, layer Layer) (uint32, error) {
	info, err := s.Bin(bin)
	if err != nil {
		return 0, err
	}
	switch layer {
	case LayerGene:
		return info.MaxGene, nil
	case LayerExon:
		if !info.HasExon {
			return 0, ErrNoExon
		}
		attrs, err := s.r.Attributes(wholeExonPath(bin))
		if err != nil {
			return 0, err
		}
		return uint32(attrInt(attrs, "maxExon")), nil
	}
	return info.MaxMID, nil
}

// Stats returns up to limit rows of the per-gene summary table, ordered by
// total count. limit <= 0 means all.
func (s *Store) Stats(limit int) ([]geneindex.GeneStat, error) {
	meta, err := s.r.ArrayMeta("stat/gene/gene")
	if err != nil {
		return nil, err
	}
	n := meta.Len()
	if limit > 0 {
		n = min(n, limit)
	}
	genes, err := s.r.ReadStrings("stat/gene/gene", 0, n)
	if err != nil {
		return nil, err
	}
	mids, err := zarr.ReadRange[uint32](s.r, "stat/gene/MIDcount", 0, n)
	if err != nil {
		return nil, err
	}
	spots, err := zarr.ReadRange[uint32](s.r, "stat/gene/spots", 0, n)
	if err != nil {
		return nil, err
	}
	maxes, err := zarr.ReadRange[uint32](s.r, "stat/gene/maxMID", 0, n)
	if err != nil {
		return nil, err
	}
	out := make([]geneindex.GeneStat, n)
	for i := range out {
		out[i] = geneindex.GeneStat{Gene: genes[i], MIDCount: mids[i], Spots: spots[i], MaxMID: maxes[i]}
	}
	return out, nil
}

// Close releases resources.
func (s *Store) Close() {
	s.r.Close()
}

func attrFloat(attrs map[string]interface{}, key string) float64 {
	if v, ok := attrs[key].(float64); ok {
		return v
	}
	return 0
}

func attrInt(attrs map[string]interface{}, key string) int64 {
	return int64(attrFloat(attrs, key))
}

func attrString(attrs map[string]interface{}, key string) string {
	if v, ok := attrs[key].(string); ok {
		return v
	}
	return ""
}
