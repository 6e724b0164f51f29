// Package bgef lays aggregated expression data out as a bGEF store and reads
// finished stores back.
package bgef

import (
	"fmt"

	"github.com/atlasmap-sc/geftools/internal/aggregate"
	"github.com/atlasmap-sc/geftools/internal/dense"
	"github.com/atlasmap-sc/geftools/internal/gem"
	"github.com/atlasmap-sc/geftools/internal/geneindex"
)

// Version is the store format version written to the root.
const Version = 4

// ToolVersion is written as the root geftool_ver attribute.
var ToolVersion = [3]int{1, 1, 20}

// Container is the hierarchical, typed store the schema is written into.
// Paths are slash-separated and relative to the store root; missing parent
// groups are created implicitly.
type Container interface {
	CreateGroup(path string, attrs map[string]interface{}) error
	WriteArray(path string, data interface{}, shape []int, attrs map[string]interface{}) error
}

// Meta holds the root-level scalar attributes.
type Meta struct {
	BinType    string
	Omics      string
	ChipSN     string
	Resolution int
	OffsetX    int32
	OffsetY    int32
}

// MetaFromHeader copies header metadata. A non-empty omics overrides the
// header value.
func MetaFromHeader(h *gem.Header, omics string, resolution int) Meta {
	m := Meta{
		BinType:    h.BinType,
		Omics:      h.Omics,
		ChipSN:     h.ChipSN,
		Resolution: resolution,
		OffsetX:    h.OffsetX,
		OffsetY:    h.OffsetY,
	}
	if omics != "" {
		m.Omics = omics
	}
	return m
}

// WriteRoot writes the root group and its attributes.
func WriteRoot(c Container, m Meta) error {
	return c.CreateGroup("", map[string]interface{}{
		"version":     Version,
		"bin_type":    m.BinType,
		"omics":       m.Omics,
		"sn":          m.ChipSN,
		"resolution":  m.Resolution,
		"offset_x":    m.OffsetX,
		"offset_y":    m.OffsetY,
		"gef_area":    0.0,
		"geftool_ver": ToolVersion[:],
	})
}

type column struct {
	name string
	data interface{}
}

func geneExpPath(bin int) string   { return fmt.Sprintf("geneExp/bin%d", bin) }
func wholeExpPath(bin int) string  { return fmt.Sprintf("wholeExp/bin%d", bin) }
func wholeExonPath(bin int) string { return fmt.Sprintf("wholeExpExon/bin%d", bin) }

// WriteGeneExp writes the gene-indexed table of one bin size.
func WriteGeneExp(c Container, gb *aggregate.GeneBin, idx *geneindex.Index, resolution int) error {
	base := geneExpPath(gb.BinSize)
	n := len(idx.Expressions)

	if err := c.CreateGroup(base+"/expression", map[string]interface{}{
		"minX":       gb.Box.MinX,
		"minY":       gb.Box.MinY,
		"maxX":       gb.Box.MaxX,
		"maxY":       gb.Box.MaxY,
		"maxExp":     gb.MaxMID,
		"resolution": resolution,
	}); err != nil {
		return fmt.Errorf("failed to write %s/expression: %w", base, err)
	}
	xs, ys, counts := idx.Columns()
	for _, col := range []column{{"x", xs}, {"y", ys}, {"count", counts}} {
		if err := c.WriteArray(base+"/expression/"+col.name, col.data, []int{n}, nil); err != nil {
			return fmt.Errorf("failed to write %s/expression/%s: %w", base, col.name, err)
		}
	}

	if gb.HasExon {
		if err := c.WriteArray(base+"/exon", idx.Exons, []int{n}, map[string]interface{}{
			"maxExon": gb.MaxExon,
		}); err != nil {
			return fmt.Errorf("failed to write %s/exon: %w", base, err)
		}
	}

	g := len(idx.Genes)
	ids := make([]string, g)
	names := make([]string, g)
	offsets := make([]uint32, g)
	lengths := make([]uint32, g)
	for i, e := range idx.Genes {
		ids[i], names[i], offsets[i], lengths[i] = e.GeneID, e.GeneName, e.Offset, e.Count
	}
	if err := c.CreateGroup(base+"/gene", nil); err != nil {
		return fmt.Errorf("failed to write %s/gene: %w", base, err)
	}
	for _, col := range []column{
		{"geneID", ids},
		{"geneName", names},
		{"offset", offsets},
		{"count", lengths},
	} {
		if err := c.WriteArray(base+"/gene/"+col.name, col.data, []int{g}, nil); err != nil {
			return fmt.Errorf("failed to write %s/gene/%s: %w", base, col.name, err)
		}
	}
	return nil
}

// WriteWholeExp writes the dense spot matrices of one bin size. The caller is
// responsible for bounding gb.Box.Cells().
func WriteWholeExp(c Container, gb *aggregate.GeneBin, resolution int) error {
	base := wholeExpPath(gb.BinSize)
	spots := gb.Spots()
	mid, genes := dense.Spots(spots, gb.Box)

	if err := c.CreateGroup(base, map[string]interface{}{
		"number":     len(spots),
		"minX":       gb.Box.MinX,
		"minY":       gb.Box.MinY,
		"lenX":       mid.Width,
		"lenY":       mid.Height,
		"maxMID":     mid.Max(),
		"maxGene":    genes.Max(),
		"resolution": resolution,
	}); err != nil {
		return fmt.Errorf("failed to write %s: %w", base, err)
	}
	if err := c.WriteArray(base+"/MIDcount", mid.Cells, mid.Shape(), nil); err != nil {
		return fmt.Errorf("failed to write %s/MIDcount: %w", base, err)
	}
	if err := c.WriteArray(base+"/genecount", genes.Cells, genes.Shape(), nil); err != nil {
		return fmt.Errorf("failed to write %s/genecount: %w", base, err)
	}

	if !gb.HasExon {
		return nil
	}
	exon := dense.Materialize(gb.SpotExons(), gb.Box)
	path := wholeExonPath(gb.BinSize)
	if err := c.WriteArray(path, exon.Cells, exon.Shape(), map[string]interface{}{
		"maxExon": exon.Max(),
	}); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// WriteStats writes the per-gene summary table.
func WriteStats(c Container, stats []geneindex.GeneStat) error {
	n := len(stats)
	genes := make([]string, n)
	mids := make([]uint32, n)
	spots := make([]uint32, n)
	maxes := make([]uint32, n)
	for i, s := range stats {
		genes[i], mids[i], spots[i], maxes[i] = s.Gene, s.MIDCount, s.Spots, s.MaxMID
	}
	if err := c.CreateGroup("stat/gene", nil); err != nil {
		return fmt.Errorf("failed to write stat/gene: %w", err)
	}
	for _, col := range []column{
		{"gene", genes},
		{"MIDcount", mids},
		{"spots", spots},
		{"maxMID", maxes},
	} {
		if err := c.WriteArray("stat/gene/"+col.name, col.data, []int{n}, nil); err != nil {
			return fmt.Errorf("failed to write stat/gene/%s: %w", col.name, err)
		}
	}
	return nil
}
