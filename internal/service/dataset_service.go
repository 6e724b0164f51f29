// Package service provides the read side of geftools: metadata, gene queries
// and rendered tiles over finished bGEF stores.
package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"

	"github.com/atlasmap-sc/geftools/internal/bgef"
	"github.com/atlasmap-sc/geftools/internal/cache"
	"github.com/atlasmap-sc/geftools/internal/geneindex"
	"github.com/atlasmap-sc/geftools/internal/render"
	"github.com/atlasmap-sc/geftools/pkg/colormap"
	lru "github.com/hashicorp/golang-lru/v2"
)

var (
	ErrInvalidTile  = errors.New("invalid tile request")
	ErrTileTooLarge = errors.New("tile window too large; use a larger bin or zoom in")
	ErrNoWholeExp   = errors.New("bin has no wholeExp matrix")
)

// DefaultMaxTileCells bounds the dense window read for a single tile.
const DefaultMaxTileCells = 1 << 24

// overZoom is how many zoom levels past one cell per pixel are served.
const overZoom = 4

// DatasetServiceConfig contains dataset service configuration.
type DatasetServiceConfig struct {
	DatasetID    string
	Name         string
	Store        *bgef.Store
	Cache        *cache.Manager
	Renderer     *render.TileRenderer
	MaxTileCells int
	GeneCacheLen int
}

// DatasetService serves one store.
type DatasetService struct {
	id           string
	name         string
	store        *bgef.Store
	cache        *cache.Manager
	renderer     *render.TileRenderer
	maxTileCells int

	// per bin:gene expression, decoded once
	genes *lru.Cache[string, *geneCacheEntry]
}

type geneCacheEntry struct {
	entry geneindex.Entry
	rows  []geneindex.Expression
	exons []uint32
	max   uint32
}

// NewDatasetService creates a new dataset service.
func NewDatasetService(cfg DatasetServiceConfig) (*DatasetService, error) {
	if cfg.Store == nil {
		return nil, errors.New("dataset service needs a store")
	}
	id := cfg.DatasetID
	if id == "" {
		id = "default"
	}
	name := cfg.Name
	if name == "" {
		name = id
	}
	if cfg.MaxTileCells <= 0 {
		cfg.MaxTileCells = DefaultMaxTileCells
	}
	if cfg.GeneCacheLen <= 0 {
		cfg.GeneCacheLen = 256
	}
	if cfg.Renderer == nil {
		cfg.Renderer = render.NewTileRenderer(render.Config{})
	}
	genes, err := lru.New[string, *geneCacheEntry](cfg.GeneCacheLen)
	if err != nil {
		return nil, err
	}
	return &DatasetService{
		id:           id,
		name:         name,
		store:        cfg.Store,
		cache:        cfg.Cache,
		renderer:     cfg.Renderer,
		maxTileCells: cfg.MaxTileCells,
		genes:        genes,
	}, nil
}

// ID returns the dataset id.
func (s *DatasetService) ID() string { return s.id }

// Name returns the display name.
func (s *DatasetService) Name() string { return s.name }

// Store returns the underlying store.
func (s *DatasetService) Store() *bgef.Store { return s.store }

// TileGrid describes the tile pyramid of one bin. At NativeZoom one cell maps
// to one pixel; lower zooms pool cells, higher zooms enlarge them.
type TileGrid struct {
	TileSize   int `json:"tile_size"`
	NativeZoom int `json:"native_zoom"`
	MaxZoom    int `json:"max_zoom"`
}

// Span returns how many cells cover one tile edge at zoom z.
func (g TileGrid) Span(z int) int {
	full := g.TileSize << g.NativeZoom
	return max(full>>z, 1)
}

// BinMetadata is BinInfo plus its tile pyramid.
type BinMetadata struct {
	bgef.BinInfo
	Tiles *TileGrid `json:"tiles,omitempty"`
}

// Metadata describes a dataset for clients.
type Metadata struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Root      bgef.RootInfo `json:"root"`
	Bins      []BinMetadata `json:"bins"`
	Layers    []bgef.Layer  `json:"layers"`
	Colormaps []string      `json:"colormaps"`
}

// Metadata returns dataset metadata.
func (s *DatasetService) Metadata() (*Metadata, error) {
	md := &Metadata{
		ID:        s.id,
		Name:      s.name,
		Root:      s.store.Root(),
		Layers:    []bgef.Layer{bgef.LayerMID, bgef.LayerGene},
		Colormaps: colormap.Names(),
	}
	hasExon := false
	for _, n := range s.store.Bins() {
		info, err := s.store.Bin(n)
		if err != nil {
			return nil, err
		}
		bm := BinMetadata{BinInfo: info}
		if g, err := s.tileGrid(info); err == nil {
			bm.Tiles = &g
		}
		hasExon = hasExon || info.HasExon
		md.Bins = append(md.Bins, bm)
	}
	if hasExon {
		md.Layers = append(md.Layers, bgef.LayerExon)
	}
	return md, nil
}

func (s *DatasetService) tileGrid(info bgef.BinInfo) (TileGrid, error) {
	if !info.HasWhole {
		return TileGrid{}, fmt.Errorf("%w: bin %d", ErrNoWholeExp, info.BinSize)
	}
	tileSize := s.renderer.TileSize()
	dim := max(info.LenX, info.LenY, 1)
	native := 0
	for tileSize<<native < dim {
		native++
	}
	return TileGrid{TileSize: tileSize, NativeZoom: native, MaxZoom: native + overZoom}, nil
}

// TileGrid returns the tile pyramid of a bin.
func (s *DatasetService) TileGrid(bin int) (TileGrid, error) {
	info, err := s.store.Bin(bin)
	if err != nil {
		return TileGrid{}, err
	}
	return s.tileGrid(info)
}

// GenePage is one page of the gene table.
type GenePage struct {
	BinSize int               `json:"bin_size"`
	Total   int               `json:"total"`
	Offset  int               `json:"offset"`
	Genes   []geneindex.Entry `json:"genes"`
}

// Genes returns a page of the gene table of a bin. bin 0 means the smallest.
func (s *DatasetService) Genes(bin, offset, limit int) (*GenePage, error) {
	bin, err := s.resolveBin(bin)
	if err != nil {
		return nil, err
	}
	entries, total, err := s.store.Genes(bin, offset, limit)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []geneindex.Entry{}
	}
	return &GenePage{BinSize: bin, Total: total, Offset: offset, Genes: entries}, nil
}

// GeneDetail is one gene's rows in one bin.
type GeneDetail struct {
	BinSize   int                    `json:"bin_size"`
	Gene      geneindex.Entry        `json:"gene"`
	MaxCount  uint32                 `json:"max_count"`
	Total     int                    `json:"total"`
	Truncated bool                   `json:"truncated"`
	Rows      []geneindex.Expression `json:"rows"`
	Exons     []uint32               `json:"exons,omitempty"`
}

// Gene returns up to limit expression rows of a gene (limit <= 0 means all).
func (s *DatasetService) Gene(bin int, gene string, limit int) (*GeneDetail, error) {
	bin, err := s.resolveBin(bin)
	if err != nil {
		return nil, err
	}
	ge, err := s.geneExpression(bin, gene)
	if err != nil {
		return nil, err
	}
	d := &GeneDetail{BinSize: bin, Gene: ge.entry, MaxCount: ge.max, Total: len(ge.rows), Rows: ge.rows, Exons: ge.exons}
	if limit > 0 && len(d.Rows) > limit {
		d.Rows = d.Rows[:limit]
		if d.Exons != nil {
			d.Exons = d.Exons[:limit]
		}
		d.Truncated = true
	}
	return d, nil
}

// Stats returns the per-gene summary table.
func (s *DatasetService) Stats(limit int) ([]geneindex.GeneStat, error) {
	stats, err := s.store.Stats(limit)
	if err != nil {
		return nil, err
	}
	if stats == nil {
		stats = []geneindex.GeneStat{}
	}
	return stats, nil
}

// CachedJSON returns the JSON encoding of build's result, served from the
// query cache when the same kind and params were asked before.
func (s *DatasetService) CachedJSON(kind string, params map[string]interface{}, build func() (interface{}, error)) ([]byte, error) {
	key := cache.QueryKey(s.id, kind, params)
	if s.cache != nil {
		if data, ok := s.cache.GetQuery(key); ok {
			return data, nil
		}
	}
	v, err := build()
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.SetQuery(key, data)
	}
	return data, nil
}

func (s *DatasetService) resolveBin(bin int) (int, error) {
	if bin != 0 {
		_, err := s.store.Bin(bin)
		return bin, err
	}
	bins := s.store.Bins()
	if len(bins) == 0 {
		return 0, bgef.ErrUnknownBin
	}
	return bins[0], nil
}

func (s *DatasetService) geneExpression(bin int, gene string) (*geneCacheEntry, error) {
	key := fmt.Sprintf("%d:%s", bin, gene)
	if ge, ok := s.genes.Get(key); ok {
		return ge, nil
	}
	entry, rows, exons, err := s.store.GeneExpression(bin, gene)
	if err != nil {
		return nil, err
	}
	ge := &geneCacheEntry{entry: entry, rows: rows, exons: exons}
	for _, r := range rows {
		ge.max = max(ge.max, r.Count)
	}
	s.genes.Add(key, ge)
	return ge, nil
}

// tileWindow locates tile (z, x, y) of bin in the coarsest stored bin whose
// cells are still at most one pixel wide and line up with the tile edge.
type tileWindow struct {
	source int   // bin size read from
	span   int   // source cells per tile edge
	ax0    int32 // absolute source coordinate of the tile's left edge
	ay0    int32 // absolute source coordinate of the tile's top edge
	info   bgef.BinInfo
}

func (s *DatasetService) window(bin, z, x, y int) (*tileWindow, bool, error) {
	info, err := s.store.Bin(bin)
	if err != nil {
		return nil, false, err
	}
	grid, err := s.tileGrid(info)
	if err != nil {
		return nil, false, err
	}
	if z < 0 || z > grid.MaxZoom || x < 0 || y < 0 {
		return nil, false, fmt.Errorf("%w: %d/%d/%d (max zoom %d)", ErrInvalidTile, z, x, y, grid.MaxZoom)
	}
	span := grid.Span(z)
	if x*span >= info.LenX || y*span >= info.LenY {
		return nil, false, nil
	}

	source := bin
	for _, b := range s.store.Bins() {
		if b <= source || b%bin != 0 || (span*bin)%b != 0 || b/bin > span/grid.TileSize {
			continue
		}
		if bi, err := s.store.Bin(b); err == nil && bi.HasWhole {
			source = b
		}
	}
	srcInfo := info
	if source != bin {
		if srcInfo, err = s.store.Bin(source); err != nil {
			return nil, false, err
		}
	}

	rawX := (int64(info.MinX) + int64(x*span)) * int64(bin)
	rawY := (int64(info.MinY) + int64(y*span)) * int64(bin)
	return &tileWindow{
		source: source,
		span:   span * bin / source,
		ax0:    int32(floorDiv(rawX, int64(source))),
		ay0:    int32(floorDiv(rawY, int64(source))),
		info:   srcInfo,
	}, true, nil
}

// LayerTile renders one tile of a dense layer.
func (s *DatasetService) LayerTile(bin int, layer bgef.Layer, z, x, y int, cmap string) ([]byte, error) {
	cacheKey := cache.LayerTileKey(s.id, bin, string(layer), z, x, y, cmap)
	if s.cache != nil {
		if data, ok := s.cache.GetTile(cacheKey); ok {
			return data, nil
		}
	}

	w, ok, err := s.window(bin, z, x, y)
	if err != nil {
		return nil, err
	}
	var data []byte
	if !ok {
		data, err = s.renderer.CreateEmptyTile()
	} else {
		data, err = s.renderLayer(w, layer, cmap)
	}
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.SetTile(cacheKey, data)
	}
	return data, nil
}

func (s *DatasetService) renderLayer(w *tileWindow, layer bgef.Layer, cmap string) ([]byte, error) {
	vmax, err := s.store.LayerMax(w.source, layer)
	if err != nil {
		return nil, err
	}

	// window in matrix coordinates, clipped to the matrix
	col0 := int(w.ax0 - w.info.MinX)
	row0 := int(w.ay0 - w.info.MinY)
	c0, r0 := max(col0, 0), max(row0, 0)
	c1, r1 := min(col0+w.span, w.info.LenX), min(row0+w.span, w.info.LenY)
	if c1 <= c0 || r1 <= r0 {
		return s.renderer.CreateEmptyTile()
	}
	if (c1-c0)*(r1-r0) > s.maxTileCells {
		return nil, fmt.Errorf("%w: %dx%d cells", ErrTileTooLarge, r1-r0, c1-c0)
	}

	vals, err := s.store.WholeExp(w.source, layer, r0, c0, r1-r0, c1-c0)
	if err != nil {
		return nil, err
	}
	g := render.Grid{Values: vals, Rows: r1 - r0, Cols: c1 - c0}
	return s.renderer.RenderGridTile(g, r0-row0, c0-col0, w.span, vmax, cmap)
}

// GeneTile renders one tile of a gene's expression.
func (s *DatasetService) GeneTile(bin int, gene string, z, x, y int, cmap string) ([]byte, error) {
	cacheKey := cache.GeneTileKey(s.id, bin, gene, z, x, y, cmap)
	if s.cache != nil {
		if data, ok := s.cache.GetTile(cacheKey); ok {
			return data, nil
		}
	}

	w, ok, err := s.window(bin, z, x, y)
	if err != nil {
		return nil, err
	}
	var data []byte
	if !ok {
		// still report unknown genes for empty tiles
		if _, err := s.store.FindGene(bin, gene); err != nil {
			return nil, err
		}
		data, err = s.renderer.CreateEmptyTile()
	} else {
		data, err = s.renderGene(w, gene, cmap)
	}
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.SetTile(cacheKey, data)
	}
	return data, nil
}

func (s *DatasetService) renderGene(w *tileWindow, gene, cmap string) ([]byte, error) {
	ge, err := s.geneExpression(w.source, gene)
	if err != nil {
		return nil, err
	}
	span := int32(w.span)
	points := make([]render.Point, 0, 64)
	for _, r := range ge.rows {
		dx, dy := r.X-w.ax0, r.Y-w.ay0
		if dx < 0 || dy < 0 || dx >= span || dy >= span {
			continue
		}
		points = append(points, render.Point{Col: int(dx), Row: int(dy), Value: r.Count})
	}
	return s.renderer.RenderPointTile(points, w.span, ge.max, cmap)
}

// Preview renders a whole dense layer of a bin, longest side maxSide pixels.
func (s *DatasetService) Preview(bin int, layer bgef.Layer, maxSide int, cmap string) (image.Image, error) {
	bin, err := s.resolveBin(bin)
	if err != nil {
		return nil, err
	}
	info, err := s.store.Bin(bin)
	if err != nil {
		return nil, err
	}
	if !info.HasWhole {
		return nil, fmt.Errorf("%w: bin %d", ErrNoWholeExp, bin)
	}
	if info.LenX*info.LenY > s.maxTileCells*4 {
		return nil, fmt.Errorf("%w: %dx%d cells", ErrTileTooLarge, info.LenY, info.LenX)
	}
	vals, err := s.store.WholeExp(bin, layer, 0, 0, info.LenY, info.LenX)
	if err != nil {
		return nil, err
	}
	vmax, err := s.store.LayerMax(bin, layer)
	if err != nil {
		return nil, err
	}
	g := render.Grid{Values: vals, Rows: info.LenY, Cols: info.LenX}
	return render.Preview(g, maxSide, vmax, s.renderer.Colormap(cmap)), nil
}

func floorDiv(v, d int64) int64 {
	q := v / d
	if (v%d != 0) && ((v < 0) != (d < 0)) {
		q--
	}
	return q
}
