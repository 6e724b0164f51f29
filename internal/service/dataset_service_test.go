package service

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlasmap-sc/geftools/internal/bgef"
	"github.com/atlasmap-sc/geftools/internal/cache"
	"github.com/atlasmap-sc/geftools/internal/pipeline"
	"github.com/atlasmap-sc/geftools/internal/render"
)

const tissue = `#FileFormat=GEMv0.1
#Stereo-seqChip=SS200000135TL_D1
geneID	x	y	MIDCount
Actb	0	0	3
Actb	3	1	1
Gapdh	0	0	2
Gapdh	2	2	5
`

var (
	red   = color.RGBA{R: 255, A: 255}
	white = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

func buildStore(t *testing.T) *bgef.Store {
	t.Helper()
	dir := t.TempDir()
	in := filepath.Join(dir, "tissue.gem")
	require.NoError(t, os.WriteFile(in, []byte(tissue), 0o644))

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	out := filepath.Join(dir, "tissue.bgef")
	_, err := pipeline.Run(context.Background(), pipeline.Options{
		Input:    in,
		Output:   out,
		BinSizes: []int{1, 2},
		Logger:   logger,
	})
	require.NoError(t, err)

	s, err := bgef.Open(out)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func newTestService(t *testing.T, tileSize int) *DatasetService {
	t.Helper()
	cm, err := cache.NewManager(cache.Config{TileCacheSizeMB: 8, TileTTL: time.Minute, QueryCacheSize: 16})
	require.NoError(t, err)
	t.Cleanup(func() { cm.Close() })

	svc, err := NewDatasetService(DatasetServiceConfig{
		DatasetID: "tissue",
		Store:     buildStore(t),
		Cache:     cm,
		Renderer:  render.NewTileRenderer(render.Config{TileSize: tileSize, DefaultColormap: "seurat"}),
	})
	require.NoError(t, err)
	return svc
}

func decodeTile(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img
}

func rgba(img image.Image, x, y int) color.RGBA {
	return color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
}

func TestDatasetService_Metadata(t *testing.T) {
	svc := newTestService(t, 4)

	md, err := svc.Metadata()
	require.NoError(t, err)
	assert.Equal(t, "tissue", md.ID)
	assert.Equal(t, "tissue", md.Name)
	assert.Equal(t, "SS200000135TL_D1", md.Root.SN)
	assert.Equal(t, []bgef.Layer{bgef.LayerMID, bgef.LayerGene}, md.Layers)
	assert.Contains(t, md.Colormaps, "viridis")

	require.Len(t, md.Bins, 2)
	b1 := md.Bins[0]
	assert.Equal(t, 1, b1.BinSize)
	assert.Equal(t, 4, b1.LenX)
	assert.Equal(t, 3, b1.LenY)
	assert.Equal(t, uint32(5), b1.MaxMID)
	require.NotNil(t, b1.Tiles)
	assert.Equal(t, TileGrid{TileSize: 4, NativeZoom: 0, MaxZoom: overZoom}, *b1.Tiles)
}

func TestDatasetService_GenesAndStats(t *testing.T) {
	svc := newTestService(t, 4)

	page, err := svc.Genes(0, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, page.BinSize)
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Genes, 2)
	assert.Equal(t, "Actb", page.Genes[0].GeneName)
	assert.Equal(t, "Actb", page.Genes[0].GeneID)
	assert.Equal(t, "Gapdh", page.Genes[1].GeneName)

	d, err := svc.Gene(0, "Actb", 1)
	require.NoError(t, err)
	assert.Equal(t, 2, d.Total)
	assert.True(t, d.Truncated)
	assert.Equal(t, uint32(3), d.MaxCount)
	require.Len(t, d.Rows, 1)
	assert.Equal(t, int32(0), d.Rows[0].X)
	assert.Nil(t, d.Exons)

	_, err = svc.Gene(1, "Xist", 0)
	assert.ErrorIs(t, err, bgef.ErrUnknownGene)
	_, err = svc.Genes(7, 0, 10)
	assert.ErrorIs(t, err, bgef.ErrUnknownBin)

	stats, err := svc.Stats(0)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, "Gapdh", stats[0].Gene)
	assert.Equal(t, uint32(7), stats[0].MIDCount)
	assert.Equal(t, "Actb", stats[1].Gene)
}

func TestDatasetService_CachedJSON(t *testing.T) {
	svc := newTestService(t, 4)

	calls := 0
	build := func() (interface{}, error) {
		calls++
		return svc.Stats(1)
	}
	first, err := svc.CachedJSON("stats", map[string]interface{}{"limit": 1}, build)
	require.NoError(t, err)
	second, err := svc.CachedJSON("stats", map[string]interface{}{"limit": 1}, build)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, first, second)
	assert.JSONEq(t, `[{"gene":"Gapdh","mid_count":7,"spots":2,"max_mid":5}]`, string(first))
}

func TestDatasetService_LayerTile(t *testing.T) {
	svc := newTestService(t, 4)

	// zoom 0: whole 4x3 matrix in one tile, one cell per pixel
	img := decodeTile(t, mustTile(t)(svc.LayerTile(1, bgef.LayerMID, 0, 0, 0, "seurat")))
	assert.Equal(t, red, rgba(img, 0, 0))
	assert.Equal(t, red, rgba(img, 2, 2))
	assert.Equal(t, white, rgba(img, 1, 0))
	assert.NotEqual(t, white, rgba(img, 3, 1))

	// zoom 1: 2x2 cells per tile, cell (2,2) lands in tile (1,1)
	img = decodeTile(t, mustTile(t)(svc.LayerTile(1, bgef.LayerMID, 1, 1, 1, "seurat")))
	assert.Equal(t, red, rgba(img, 0, 0))
	assert.Equal(t, red, rgba(img, 1, 1))
	assert.Equal(t, white, rgba(img, 3, 3))

	// beyond the matrix: transparent
	img = decodeTile(t, mustTile(t)(svc.LayerTile(1, bgef.LayerMID, 1, 2, 0, "seurat")))
	_, _, _, a := img.At(0, 0).RGBA()
	assert.Zero(t, a)

	_, err := svc.LayerTile(1, bgef.LayerMID, 99, 0, 0, "")
	assert.ErrorIs(t, err, ErrInvalidTile)
	_, err = svc.LayerTile(1, bgef.LayerExon, 0, 0, 0, "")
	assert.ErrorIs(t, err, bgef.ErrNoExon)
}

func TestDatasetService_GeneTile(t *testing.T) {
	svc := newTestService(t, 4)

	img := decodeTile(t, mustTile(t)(svc.GeneTile(1, "Gapdh", 0, 0, 0, "seurat")))
	assert.Equal(t, red, rgba(img, 2, 2))
	assert.NotEqual(t, white, rgba(img, 0, 0))
	assert.NotEqual(t, red, rgba(img, 0, 0))
	assert.Equal(t, white, rgba(img, 3, 1))

	_, err := svc.GeneTile(1, "Xist", 0, 0, 0, "")
	assert.ErrorIs(t, err, bgef.ErrUnknownGene)
	_, err = svc.GeneTile(1, "Xist", 1, 3, 3, "")
	assert.ErrorIs(t, err, bgef.ErrUnknownGene)
}

func TestDatasetService_WindowUsesCoarserBin(t *testing.T) {
	svc := newTestService(t, 1)

	grid, err := svc.TileGrid(1)
	require.NoError(t, err)
	assert.Equal(t, 2, grid.NativeZoom)

	// zoom 0 needs 4 cells per pixel, bin 2 holds 2x2 of them
	w, ok, err := svc.window(1, 0, 0, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, w.source)
	assert.Equal(t, 2, w.span)

	// native zoom stays on the requested bin
	w, ok, err = svc.window(1, 2, 1, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, w.source)
	assert.Equal(t, int32(1), w.ax0)

	data, err := svc.LayerTile(1, bgef.LayerMID, 0, 0, 0, "seurat")
	require.NoError(t, err)
	assert.Equal(t, red, rgba(decodeTile(t, data), 0, 0))
}

func TestDatasetService_Preview(t *testing.T) {
	svc := newTestService(t, 4)

	img, err := svc.Preview(0, bgef.LayerMID, 2, "grays")
	require.NoError(t, err)
	b := img.Bounds()
	assert.Equal(t, 2, b.Dx())
	assert.Equal(t, 2, b.Dy())
	assert.Equal(t, white, rgba(img, 0, 0))
}

func mustTile(t *testing.T) func([]byte, error) []byte {
	return func(data []byte, err error) []byte {
		t.Helper()
		require.NoError(t, err)
		return data
	}
}
