// Package dense turns sparse coordinate maps into row-major matrices over a
// bounding box.
package dense

import "github.com/atlasmap-sc/geftools/internal/aggregate"

// Number is the set of cell types a Matrix can hold.
type Number interface {
	~int32 | ~uint16 | ~uint32 | ~uint64 | ~float32
}

// Matrix is a Height x Width grid stored row-major: cell (x, y) lives at
// Cells[(y-MinY)*Width + (x-MinX)].
type Matrix[T Number] struct {
	Width  int
	Height int
	MinX   int32
	MinY   int32
	Cells  []T
}

// Materialize fills a zeroed matrix spanning box from values. Keys outside
// box are ignored.
func Materialize[T Number](values map[aggregate.Coord]T, box aggregate.Box) *Matrix[T] {
	m := &Matrix[T]{
		Width:  box.Width(),
		Height: box.Height(),
		MinX:   box.MinX,
		MinY:   box.MinY,
	}
	m.Cells = make([]T, m.Width*m.Height)
	for c, v := range values {
		if !box.Contains(c) {
			continue
		}
		m.Cells[m.offset(c.X, c.Y)] = v
	}
	return m
}

func (m *Matrix[T]) offset(x, y int32) int {
	return int(int64(y)-int64(m.MinY))*m.Width + int(int64(x)-int64(m.MinX))
}

// At returns the cell at absolute coordinate (x, y), or zero outside the grid.
func (m *Matrix[T]) At(x, y int32) T {
	if x < m.MinX || y < m.MinY || int64(x)-int64(m.MinX) >= int64(m.Width) || int64(y)-int64(m.MinY) >= int64(m.Height) {
		var zero T
		return zero
	}
	return m.Cells[m.offset(x, y)]
}

// Max returns the largest cell value.
func (m *Matrix[T]) Max() T {
	var v T
	for _, c := range m.Cells {
		v = max(v, c)
	}
	return v
}

// Shape returns the array shape [Height, Width].
func (m *Matrix[T]) Shape() []int {
	return []int{m.Height, m.Width}
}

// NonZero counts cells different from zero.
func (m *Matrix[T]) NonZero() int {
	n := 0
	for _, c := range m.Cells {
		if c != 0 {
			n++
		}
	}
	return n
}

// Spots splits a spot projection into the molecule and gene-count layers.
func Spots(spots map[aggregate.Coord]aggregate.Spot, box aggregate.Box) (mid *Matrix[uint32], genes *Matrix[uint16]) {
	mids := make(map[aggregate.Coord]uint32, len(spots))
	counts := make(map[aggregate.Coord]uint16, len(spots))
	for c, s := range spots {
		mids[c] = s.MIDCount
		counts[c] = s.GeneCount
	}
	return Materialize(mids, box), Materialize(counts, box)
}
