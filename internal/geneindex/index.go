// Package geneindex flattens a finished gene bin into the gene-major
// expression table and its per-gene offset index.
package geneindex

import (
	"errors"
	"math"
	"sort"

	"github.com/atlasmap-sc/geftools/internal/aggregate"
)

// ErrTooManyRecords means the flattened table cannot be addressed by uint32
// offsets.
var ErrTooManyRecords = errors.New("geneindex: record count exceeds uint32 range")

// Expression is one (x, y, count) row of the flattened table.
type Expression struct {
	X     int32  `json:"x"`
	Y     int32  `json:"y"`
	Count uint32 `json:"count"`
}

// Entry locates one gene's rows in the flattened table.
type Entry struct {
	GeneID   string `json:"gene_id"`
	GeneName string `json:"gene_name"`
	Offset   uint32 `json:"offset"`
	Count    uint32 `json:"count"`
}

// GeneStat summarizes one gene across all coordinates.
type GeneStat struct {
	Gene     string `json:"gene"`
	MIDCount uint32 `json:"mid_count"`
	Spots    uint32 `json:"spots"`
	MaxMID   uint32 `json:"max_mid"`
}

// Resolver maps a gene symbol to a stable identifier.
type Resolver interface {
	Lookup(symbol string) (string, bool)
}

// Index is the flattened expression table of one bin size. Exons is nil when
// the input had no exon column; otherwise it is parallel to Expressions.
type Index struct {
	BinSize     int
	Expressions []Expression
	Exons       []uint32
	Genes       []Entry
	Stats       []GeneStat
}

// Build flattens gb. Genes appear in ascending name order and each gene's
// rows are sorted by (x, y). resolver may be nil.
func Build(gb *aggregate.GeneBin, resolver Resolver) (*Index, error) {
	total := gb.Pairs()
	if uint64(total) > math.MaxUint32 {
		return nil, ErrTooManyRecords
	}

	idx := &Index{
		BinSize:     gb.BinSize,
		Expressions: make([]Expression, 0, total),
		Genes:       make([]Entry, 0, gb.Len()),
		Stats:       make([]GeneStat, 0, gb.Len()),
	}
	if gb.HasExon {
		idx.Exons = make([]uint32, 0, total)
	}

	coords := make([]aggregate.Coord, 0, 64)
	gb.Each(func(gene string, cells map[aggregate.Coord]aggregate.Counts) {
		coords = coords[:0]
		for c := range cells {
			coords = append(coords, c)
		}
		sort.Slice(coords, func(i, j int) bool { return coords[i].Less(coords[j]) })

		stat := GeneStat{Gene: gene, Spots: uint32(len(coords))}
		offset := uint32(len(idx.Expressions))
		for _, c := range coords {
			v := cells[c]
			idx.Expressions = append(idx.Expressions, Expression{X: c.X, Y: c.Y, Count: v.MID})
			if idx.Exons != nil {
				idx.Exons = append(idx.Exons, v.Exon)
			}
			stat.MIDCount = satAdd(stat.MIDCount, v.MID)
			stat.MaxMID = max(stat.MaxMID, v.MID)
		}

		id := gene
		if resolver != nil {
			if found, ok := resolver.Lookup(gene); ok && found != "" {
				id = found
			}
		}
		idx.Genes = append(idx.Genes, Entry{
			GeneID:   id,
			GeneName: gene,
			Offset:   offset,
			Count:    uint32(len(coords)),
		})
		idx.Stats = append(idx.Stats, stat)
	})

	sort.SliceStable(idx.Stats, func(i, j int) bool {
		if idx.Stats[i].MIDCount != idx.Stats[j].MIDCount {
			return idx.Stats[i].MIDCount > idx.Stats[j].MIDCount
		}
		return idx.Stats[i].Gene < idx.Stats[j].Gene
	})
	return idx, nil
}

// Rows returns the slice of Expressions belonging to e.
func (idx *Index) Rows(e Entry) []Expression {
	return idx.Expressions[e.Offset : e.Offset+e.Count]
}

// Columns splits the expression table into parallel x, y and count slices.
func (idx *Index) Columns() (xs, ys []int32, counts []uint32) {
	xs = make([]int32, len(idx.Expressions))
	ys = make([]int32, len(idx.Expressions))
	counts = make([]uint32, len(idx.Expressions))
	for i, e := range idx.Expressions {
		xs[i], ys[i], counts[i] = e.X, e.Y, e.Count
	}
	return xs, ys, counts
}

func satAdd(a, b uint32) uint32 {
	s := a + b
	if s < a {
		return math.MaxUint32
	}
	return s
}
