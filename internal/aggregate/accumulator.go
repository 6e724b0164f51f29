// Package aggregate folds a GEM record stream into per-gene, per-coordinate
// molecule and exon totals at one or more bin sizes.
package aggregate

import (
	"errors"
	"math"
	"sort"

	"github.com/atlasmap-sc/geftools/internal/gem"
)

var (
	// ErrNoCoordinates means no record was accepted, so no bounding box exists.
	ErrNoCoordinates = errors.New("aggregate: no valid coordinates")
	// ErrInvalidBinSize means a bin size below 1 was requested.
	ErrInvalidBinSize = errors.New("aggregate: invalid bin size")
)

// Counts is the aggregated molecule and exon total of one (gene, coordinate).
type Counts struct {
	MID  uint32
	Exon uint32
}

type geneCells struct {
	name  string
	cells map[Coord]Counts
}

// Accumulator aggregates records for a single bin size. It is not safe for
// concurrent use; each resolution owns its own Accumulator.
type Accumulator struct {
	binSize int32
	hasExon bool

	slots map[string]int
	genes []geneCells

	box     Box
	seen    bool
	maxMID  uint32
	maxExon uint32
	records uint64
}

// NewAccumulator returns an empty accumulator. Coordinates are floor-divided
// by binSize before use as keys.
func NewAccumulator(binSize int, hasExon bool) (*Accumulator, error) {
	if binSize < 1 || binSize > math.MaxInt32 {
		return nil, ErrInvalidBinSize
	}
	return &Accumulator{
		binSize: int32(binSize),
		hasExon: hasExon,
		slots:   make(map[string]int),
	}, nil
}

// BinSize returns the bin size this accumulator keys by.
func (a *Accumulator) BinSize() int {
	return int(a.binSize)
}

// Records returns the number of records added so far.
func (a *Accumulator) Records() uint64 {
	return a.records
}

// Add folds one record into the accumulator.
func (a *Accumulator) Add(rec gem.Record) {
	c := Coord{X: floorDiv(rec.X, a.binSize), Y: floorDiv(rec.Y, a.binSize)}
	a.extend(c)

	slot, ok := a.slots[rec.Gene]
	if !ok {
		slot = len(a.genes)
		a.slots[rec.Gene] = slot
		a.genes = append(a.genes, geneCells{name: rec.Gene, cells: make(map[Coord]Counts)})
	}
	cells := a.genes[slot].cells

	v := cells[c]
	v.MID = satAdd(v.MID, rec.MIDCount)
	if v.MID > a.maxMID {
		a.maxMID = v.MID
	}
	if a.hasExon {
		v.Exon = satAdd(v.Exon, rec.ExonCount)
		if v.Exon > a.maxExon {
			a.maxExon = v.Exon
		}
	}
	cells[c] = v
	a.records++
}

func (a *Accumulator) extend(c Coord) {
	if !a.seen {
		a.box = Box{MinX: c.X, MaxX: c.X, MinY: c.Y, MaxY: c.Y}
		a.seen = true
		return
	}
	a.box.MinX = min(a.box.MinX, c.X)
	a.box.MaxX = max(a.box.MaxX, c.X)
	a.box.MinY = min(a.box.MinY, c.Y)
	a.box.MaxY = max(a.box.MaxY, c.Y)
}

// Box returns the bounding box of all accepted coordinates, in binned units.
func (a *Accumulator) Box() (Box, error) {
	if !a.seen {
		return Box{}, ErrNoCoordinates
	}
	return a.box, nil
}

// Finish hands the aggregated data over as a read-only GeneBin and resets
// the accumulator.
func (a *Accumulator) Finish() (*GeneBin, error) {
	box, err := a.Box()
	if err != nil {
		return nil, err
	}

	genes := a.genes
	sort.Slice(genes, func(i, j int) bool { return genes[i].name < genes[j].name })

	gb := &GeneBin{
		BinSize: int(a.binSize),
		HasExon: a.hasExon,
		Box:     box,
		MaxMID:  a.maxMID,
		MaxExon: a.maxExon,
		Records: a.records,
		genes:   genes,
	}

	*a = Accumulator{binSize: a.binSize, hasExon: a.hasExon, slots: make(map[string]int)}
	return gb, nil
}

func satAdd(a, b uint32) uint32 {
	s := a + b
	if s < a {
		return math.MaxUint32
	}
	return s
}
