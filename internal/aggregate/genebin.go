package aggregate

import (
	"math"
	"sort"
)

// GeneBin is the finished, read-only aggregation for one bin size. Genes
// are held in ascending name order.
type GeneBin struct {
	BinSize int
	HasExon bool
	Box     Box
	// MaxMID and MaxExon are maxima over aggregated (gene, coordinate) totals.
	MaxMID  uint32
	MaxExon uint32
	Records uint64

	genes []geneCells
}

// Spot is the all-gene aggregate of one coordinate.
type Spot struct {
	MIDCount  uint32
	GeneCount uint16
}

// Len returns the number of distinct genes.
func (g *GeneBin) Len() int {
	return len(g.genes)
}

// Genes returns gene names in ascending order.
func (g *GeneBin) Genes() []string {
	names := make([]string, len(g.genes))
	for i, gc := range g.genes {
		names[i] = gc.name
	}
	return names
}

// Cells returns the coordinate map of one gene. The map must not be modified.
func (g *GeneBin) Cells(gene string) (map[Coord]Counts, bool) {
	i := sort.Search(len(g.genes), func(i int) bool { return g.genes[i].name >= gene })
	if i < len(g.genes) && g.genes[i].name == gene {
		return g.genes[i].cells, true
	}
	return nil, false
}

// Each calls fn for every gene in ascending order. The map must not be
// modified.
func (g *GeneBin) Each(fn func(gene string, cells map[Coord]Counts)) {
	for _, gc := range g.genes {
		fn(gc.name, gc.cells)
	}
}

// Pairs returns the number of (gene, coordinate) entries.
func (g *GeneBin) Pairs() int {
	n := 0
	for _, gc := range g.genes {
		n += len(gc.cells)
	}
	return n
}

// Spots projects the gene bins onto coordinates: summed molecules and the
// number of distinct genes at each coordinate.
func (g *GeneBin) Spots() map[Coord]Spot {
	spots := make(map[Coord]Spot)
	for _, gc := range g.genes {
		for c, v := range gc.cells {
			s := spots[c]
			s.MIDCount = satAdd(s.MIDCount, v.MID)
			if s.GeneCount < math.MaxUint16 {
				s.GeneCount++
			}
			spots[c] = s
		}
	}
	return spots
}

// SpotExons projects exon totals onto coordinates. It is empty when the
// input carried no exon column.
func (g *GeneBin) SpotExons() map[Coord]uint32 {
	exons := make(map[Coord]uint32)
	if !g.HasExon {
		return exons
	}
	for _, gc := range g.genes {
		for c, v := range gc.cells {
			exons[c] = satAdd(exons[c], v.Exon)
		}
	}
	return exons
}
