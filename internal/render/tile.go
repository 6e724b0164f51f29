// Package render provides tile rendering using fogleman/gg.
package render

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"sync"

	"github.com/atlasmap-sc/geftools/pkg/colormap"
	"github.com/fogleman/gg"
)

// Config contains renderer configuration.
type Config struct {
	TileSize        int
	DefaultColormap string
}

// Grid is a row-major window of a dense layer.
type Grid struct {
	Values []uint32
	Rows   int
	Cols   int
}

// At returns the value at (row, col).
func (g Grid) At(row, col int) uint32 {
	return g.Values[row*g.Cols+col]
}

// Point is one sparse cell in tile-local cell coordinates.
type Point struct {
	Col   int
	Row   int
	Value uint32
}

// TileRenderer renders tiles from dense windows and sparse gene cells.
type TileRenderer struct {
	config      Config
	contextPool sync.Pool
	bufferPool  sync.Pool
}

// NewTileRenderer creates a new tile renderer.
func NewTileRenderer(cfg Config) *TileRenderer {
	if cfg.TileSize <= 0 {
		cfg.TileSize = 256
	}
	if _, ok := colormap.ByName(cfg.DefaultColormap); !ok {
		cfg.DefaultColormap = "viridis"
	}
	return &TileRenderer{
		config: cfg,
		contextPool: sync.Pool{
			New: func() interface{} {
				return gg.NewContext(cfg.TileSize, cfg.TileSize)
			},
		},
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 32*1024))
			},
		},
	}
}

// TileSize returns the tile edge in pixels.
func (r *TileRenderer) TileSize() int {
	return r.config.TileSize
}

// Colormap resolves name, falling back to the configured default.
func (r *TileRenderer) Colormap(name string) colormap.Colormap {
	if c, ok := colormap.ByName(name); ok {
		return c
	}
	c, _ := colormap.ByName(r.config.DefaultColormap)
	return c
}

// RenderGridTile draws g into one tile where span cells cover the tile edge
// and g's first cell sits rowOff, colOff cells from the tile corner. Zero
// cells stay background. When a cell would be narrower than a pixel the grid
// is max-pooled first.
func (r *TileRenderer) RenderGridTile(g Grid, rowOff, colOff, span int, vmax uint32, colormapName string) ([]byte, error) {
	dc := r.contextPool.Get().(*gg.Context)
	defer r.contextPool.Put(dc)

	dc.SetColor(color.White)
	dc.Clear()

	if len(g.Values) == 0 || span <= 0 {
		return r.encodeContext(dc)
	}

	tileSize := r.config.TileSize
	if f := ceilDiv(span, tileSize); f > 1 {
		g = poolAt(g, rowOff, colOff, f)
		rowOff, colOff = 0, 0
		span = ceilDiv(span, f)
	}
	cellPx := float64(tileSize) / float64(span)
	cmap := r.Colormap(colormapName)

	for row := 0; row < g.Rows; row++ {
		for col := 0; col < g.Cols; col++ {
			v := g.At(row, col)
			if v == 0 {
				continue
			}
			dc.SetColor(cmap.At(normalize(v, vmax)))
			dc.DrawRectangle(float64(col+colOff)*cellPx, float64(row+rowOff)*cellPx, cellPx, cellPx)
			dc.Fill()
		}
	}

	return r.encodeContext(dc)
}

// RenderPointTile draws sparse cells into one tile where span cells cover
// the tile edge. Points outside [0, span) are skipped.
func (r *TileRenderer) RenderPointTile(points []Point, span int, vmax uint32, colormapName string) ([]byte, error) {
	dc := r.contextPool.Get().(*gg.Context)
	defer r.contextPool.Put(dc)

	dc.SetColor(color.White)
	dc.Clear()

	if len(points) == 0 || span <= 0 {
		return r.encodeContext(dc)
	}

	tileSize := r.config.TileSize
	f := max(ceilDiv(span, tileSize), 1)
	if f > 1 {
		points = poolPoints(points, f)
		span = ceilDiv(span, f)
	}
	cellPx := float64(tileSize) / float64(span)
	cmap := r.Colormap(colormapName)

	for _, p := range points {
		if p.Col < 0 || p.Row < 0 || p.Col >= span || p.Row >= span || p.Value == 0 {
			continue
		}
		dc.SetColor(cmap.At(normalize(p.Value, vmax)))
		dc.DrawRectangle(float64(p.Col)*cellPx, float64(p.Row)*cellPx, cellPx, cellPx)
		dc.Fill()
	}

	return r.encodeContext(dc)
}

func (r *TileRenderer) encodeContext(dc *gg.Context) ([]byte, error) {
	buf := r.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		r.bufferPool.Put(buf)
	}()

	// Use fast PNG encoder
	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(buf, dc.Image()); err != nil {
		return nil, err
	}

	// Copy buffer contents (buffer will be reused)
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}

// CreateEmptyTile creates an empty transparent tile.
func (r *TileRenderer) CreateEmptyTile() ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, r.config.TileSize, r.config.TileSize))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
		img.Pix[i+1] = 255
		img.Pix[i+2] = 255
		img.Pix[i+3] = 0
	}

	buf := bytes.NewBuffer(nil)
	if err := png.Encode(buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Preview renders a whole layer to an image whose longer side is at most
// maxSide pixels, one pixel per (pooled) cell.
func Preview(g Grid, maxSide int, vmax uint32, cmap colormap.Colormap) image.Image {
	if maxSide <= 0 {
		maxSide = 1024
	}
	if f := ceilDiv(max(g.Rows, g.Cols), maxSide); f > 1 {
		g = Pool(g, f)
	}
	dc := gg.NewContext(max(g.Cols, 1), max(g.Rows, 1))
	dc.SetColor(color.Black)
	dc.Clear()
	for row := 0; row < g.Rows; row++ {
		for col := 0; col < g.Cols; col++ {
			if v := g.At(row, col); v > 0 {
				dc.SetColor(cmap.At(normalize(v, vmax)))
				dc.SetPixel(col, row)
			}
		}
	}
	return dc.Image()
}

// EncodePNG writes img as PNG.
func EncodePNG(w io.Writer, img image.Image) error {
	return png.Encode(w, img)
}

// Pool max-pools g over f x f blocks.
func Pool(g Grid, f int) Grid {
	if f <= 1 {
		return g
	}
	return poolAt(g, 0, 0, f)
}

// poolAt max-pools g placed rowOff, colOff cells from the origin. The result
// starts at the origin.
func poolAt(g Grid, rowOff, colOff, f int) Grid {
	out := Grid{Rows: ceilDiv(rowOff+g.Rows, f), Cols: ceilDiv(colOff+g.Cols, f)}
	out.Values = make([]uint32, out.Rows*out.Cols)
	for row := 0; row < g.Rows; row++ {
		base := ((row + rowOff) / f) * out.Cols
		for col := 0; col < g.Cols; col++ {
			v := g.At(row, col)
			if i := base + (col+colOff)/f; v > out.Values[i] {
				out.Values[i] = v
			}
		}
	}
	return out
}

func poolPoints(points []Point, f int) []Point {
	idx := make(map[[2]int]int, len(points))
	out := make([]Point, 0, len(points))
	for _, p := range points {
		if p.Col < 0 || p.Row < 0 {
			continue
		}
		k := [2]int{p.Col / f, p.Row / f}
		if i, ok := idx[k]; ok {
			if p.Value > out[i].Value {
				out[i].Value = p.Value
			}
			continue
		}
		idx[k] = len(out)
		out = append(out, Point{Col: k[0], Row: k[1], Value: p.Value})
	}
	return out
}

// normalize maps v into [0, 1] on a log1p scale.
func normalize(v, vmax uint32) float64 {
	if vmax == 0 {
		return 1
	}
	return math.Log1p(float64(v)) / math.Log1p(float64(vmax))
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return a
	}
	return (a + b - 1) / b
}
