package render

import (
	"bytes"
	"image/color"
	"image/png"
	"testing"

	"github.com/atlasmap-sc/geftools/pkg/colormap"
)

func TestPool(t *testing.T) {
	g := Grid{Rows: 3, Cols: 3, Values: []uint32{
		1, 2, 3,
		4, 9, 0,
		0, 0, 5,
	}}
	got := Pool(g, 2)
	if got.Rows != 2 || got.Cols != 2 {
		t.Fatalf("unexpected pooled shape %dx%d", got.Rows, got.Cols)
	}
	want := []uint32{9, 3, 0, 5}
	for i, v := range want {
		if got.Values[i] != v {
			t.Fatalf("pooled[%d] = %d, want %d (all %v)", i, got.Values[i], v, got.Values)
		}
	}
	if same := Pool(g, 1); len(same.Values) != 9 {
		t.Fatalf("factor 1 must be identity")
	}

	shifted := poolAt(Grid{Rows: 1, Cols: 1, Values: []uint32{7}}, 3, 1, 2)
	if shifted.Rows != 2 || shifted.Cols != 1 || shifted.Values[1] != 7 {
		t.Fatalf("unexpected offset pooling: %+v", shifted)
	}
}

func TestRenderGridTile(t *testing.T) {
	r := NewTileRenderer(Config{TileSize: 64, DefaultColormap: "viridis"})
	g := Grid{Rows: 2, Cols: 2, Values: []uint32{0, 10, 0, 0}}

	data, err := r.RenderGridTile(g, 0, 0, 2, 10, "seurat")
	if err != nil {
		t.Fatalf("RenderGridTile: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 64 || b.Dy() != 64 {
		t.Fatalf("unexpected bounds %v", b)
	}

	// top-right quadrant holds the max value, rendered at the top of the ramp
	red := color.RGBAModel.Convert(img.At(48, 16)).(color.RGBA)
	if red != (color.RGBA{R: 255, A: 255}) {
		t.Fatalf("expected red cell, got %#v", red)
	}
	white := color.RGBAModel.Convert(img.At(16, 16)).(color.RGBA)
	if white != (color.RGBA{R: 255, G: 255, B: 255, A: 255}) {
		t.Fatalf("expected white background, got %#v", white)
	}
}

func TestRenderGridTile_Offset(t *testing.T) {
	r := NewTileRenderer(Config{TileSize: 8})
	g := Grid{Rows: 1, Cols: 1, Values: []uint32{5}}

	data, err := r.RenderGridTile(g, 1, 1, 2, 5, "seurat")
	if err != nil {
		t.Fatalf("RenderGridTile: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if c := color.RGBAModel.Convert(img.At(6, 6)).(color.RGBA); c != (color.RGBA{R: 255, A: 255}) {
		t.Fatalf("expected the cell in the bottom-right quadrant, got %#v", c)
	}
	if c := color.RGBAModel.Convert(img.At(1, 1)).(color.RGBA); c.G != 255 {
		t.Fatalf("expected background in the top-left quadrant, got %#v", c)
	}
}

func TestRenderPointTile_Pools(t *testing.T) {
	r := NewTileRenderer(Config{TileSize: 4})
	points := []Point{{Col: 0, Row: 0, Value: 3}, {Col: 1, Row: 1, Value: 7}, {Col: 7, Row: 7, Value: 1}, {Col: 9, Row: 0, Value: 5}}
	data, err := r.RenderPointTile(points, 8, 7, "seurat")
	if err != nil {
		t.Fatalf("RenderPointTile: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	white := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	top := color.RGBAModel.Convert(img.At(0, 0)).(color.RGBA)
	if top != (color.RGBA{R: 255, A: 255}) {
		t.Fatalf("expected the pooled max to hit the top of the ramp, got %#v", top)
	}
	if c := color.RGBAModel.Convert(img.At(3, 3)).(color.RGBA); c == white {
		t.Fatalf("expected the low cell to be drawn")
	}
	if c := color.RGBAModel.Convert(img.At(1, 1)).(color.RGBA); c != white {
		t.Fatalf("expected empty cell to stay background, got %#v", c)
	}
}

func TestPreview(t *testing.T) {
	g := Grid{Rows: 10, Cols: 40, Values: make([]uint32, 400)}
	g.Values[0] = 4
	img := Preview(g, 20, 4, colormap.Grays)
	if b := img.Bounds(); b.Dx() != 20 || b.Dy() != 5 {
		t.Fatalf("unexpected preview bounds %v", b)
	}
	c := color.RGBAModel.Convert(img.At(0, 0)).(color.RGBA)
	if c.R != 255 {
		t.Fatalf("expected bright pixel for max cell, got %#v", c)
	}
	bg := color.RGBAModel.Convert(img.At(19, 4)).(color.RGBA)
	if bg.R != 0 || bg.A != 255 {
		t.Fatalf("expected black background, got %#v", bg)
	}
}

func TestCreateEmptyTile(t *testing.T) {
	r := NewTileRenderer(Config{TileSize: 8})
	data, err := r.CreateEmptyTile()
	if err != nil {
		t.Fatalf("CreateEmptyTile: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, _, _, a := img.At(3, 3).RGBA(); a != 0 {
		t.Fatalf("expected transparent pixel")
	}
}
