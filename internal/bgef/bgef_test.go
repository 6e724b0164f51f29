package bgef

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlasmap-sc/geftools/internal/aggregate"
	"github.com/atlasmap-sc/geftools/internal/data/zarr"
	"github.com/atlasmap-sc/geftools/internal/gem"
	"github.com/atlasmap-sc/geftools/internal/geneindex"
)

type records []gem.Record

func (r *records) Read() (gem.Record, error) {
	if len(*r) == 0 {
		return gem.Record{}, io.EOF
	}
	rec := (*r)[0]
	*r = (*r)[1:]
	return rec, nil
}

var sample = []gem.Record{
	{Gene: "GENE1", X: 0, Y: 0, MIDCount: 1, ExonCount: 1},
	{Gene: "GENE2", X: 5, Y: 5, MIDCount: 2, ExonCount: 1},
	{Gene: "GENE2", X: 5, Y: 5, MIDCount: 3, ExonCount: 4},
	{Gene: "GENE2", X: 1, Y: 0, MIDCount: 1, ExonCount: 0},
}

// writeStore writes a single-bin store and reopens it.
func writeStore(t *testing.T, hasExon bool) (*Store, string) {
	t.Helper()
	src := records(append([]gem.Record(nil), sample...))
	bins, err := aggregate.Run(context.Background(), &src, aggregate.Options{BinSizes: []int{1}, HasExon: hasExon})
	require.NoError(t, err)
	gb := bins[0]
	idx, err := geneindex.Build(gb, nil)
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "out.bgef")
	w, err := zarr.NewWriter(dir, zarr.WithChunkSizes(2, 4))
	require.NoError(t, err)
	require.NoError(t, WriteRoot(w, Meta{BinType: "Bin", Omics: "Transcriptomics", ChipSN: "SS2000", Resolution: 500, OffsetX: -3, OffsetY: 7}))
	require.NoError(t, WriteGeneExp(w, gb, idx, 500))
	require.NoError(t, WriteWholeExp(w, gb, 500))
	require.NoError(t, WriteStats(w, idx.Stats))
	require.NoError(t, w.Close())

	s, err := Open(dir)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s, dir
}

func TestRoundTrip_RootAttributes(t *testing.T) {
	s, _ := writeStore(t, true)

	root := s.Root()
	assert.Equal(t, Version, root.Version)
	assert.Equal(t, "Bin", root.BinType)
	assert.Equal(t, "Transcriptomics", root.Omics)
	assert.Equal(t, "SS2000", root.SN)
	assert.Equal(t, 500, root.Resolution)
	assert.Equal(t, int32(-3), root.OffsetX)
	assert.Equal(t, int32(7), root.OffsetY)
	assert.Equal(t, ToolVersion[:], root.ToolVer)
	assert.Equal(t, []int{1}, s.Bins())
}

func TestRoundTrip_GeneExpAttributes(t *testing.T) {
	s, dir := writeStore(t, true)

	r, err := zarr.NewReader(dir)
	require.NoError(t, err)
	defer r.Close()

	attrs, err := r.Attributes("geneExp/bin1/expression")
	require.NoError(t, err)
	for _, key := range []string{"minX", "minY", "maxX", "maxY", "maxExp", "resolution"} {
		require.Contains(t, attrs, key)
		assert.IsType(t, float64(0), attrs[key], "attribute %s must be numeric", key)
	}
	assert.EqualValues(t, 5, attrs["maxExp"], "maximum of summed gene cells")

	for path, dtype := range map[string]string{
		"geneExp/bin1/expression/x":     "int32",
		"geneExp/bin1/expression/y":     "int32",
		"geneExp/bin1/expression/count": "uint32",
		"geneExp/bin1/exon":             "uint32",
		"geneExp/bin1/gene/geneID":      zarr.DTypeString,
		"geneExp/bin1/gene/geneName":    zarr.DTypeString,
		"geneExp/bin1/gene/offset":      "uint32",
		"geneExp/bin1/gene/count":       "uint32",
		"wholeExp/bin1/MIDcount":        "uint32",
		"wholeExp/bin1/genecount":       "uint16",
		"wholeExpExon/bin1":             "uint32",
		"stat/gene/MIDcount":            "uint32",
	} {
		meta, err := r.ArrayMeta(path)
		require.NoError(t, err, path)
		assert.Equal(t, dtype, meta.DataType, path)
	}

	exon, err := r.Attributes("geneExp/bin1/exon")
	require.NoError(t, err)
	assert.EqualValues(t, 5, exon["maxExon"])

	info, err := s.Bin(1)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), info.MaxExp)
	assert.True(t, info.HasExon)
	assert.Equal(t, uint32(5), info.MaxExon)
	assert.Equal(t, 3, info.Records)
	assert.Equal(t, 2, info.Genes)
	assert.Equal(t, 6, info.LenX)
	assert.Equal(t, 6, info.LenY)
	assert.Equal(t, 3, info.Number)
	assert.Equal(t, uint32(5), info.MaxMID)
	assert.Equal(t, uint32(1), info.MaxGene)

	_, rows, exons, err := s.GeneExpression(1, "GENE2")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []uint32{0, 5}, exons)
}

func TestRoundTrip_NoExonColumn(t *testing.T) {
	s, dir := writeStore(t, false)

	r, err := zarr.NewReader(dir)
	require.NoError(t, err)
	defer r.Close()
	assert.False(t, r.Exists("geneExp/bin1/exon"))
	assert.False(t, r.Exists("wholeExpExon/bin1"))

	info, err := s.Bin(1)
	require.NoError(t, err)
	assert.False(t, info.HasExon)
	assert.Zero(t, info.MaxExon)
	assert.Equal(t, uint32(5), info.MaxExp)

	_, err = s.WholeExp(1, LayerExon, 0, 0, 1, 1)
	assert.ErrorIs(t, err, ErrNoExon)
	_, err = s.LayerMax(1, LayerExon)
	assert.ErrorIs(t, err, ErrNoExon)

	_, _, exons, err := s.GeneExpression(1, "GENE1")
	require.NoError(t, err)
	assert.Empty(t, exons)
}
