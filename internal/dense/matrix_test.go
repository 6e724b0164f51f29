package dense

import (
	"math"
	"testing"

	"github.com/atlasmap-sc/geftools/internal/aggregate"
)

func TestMaterialize_RoundTrip(t *testing.T) {
	box := aggregate.Box{MinX: -2, MaxX: 3, MinY: 10, MaxY: 12}
	in := map[aggregate.Coord]uint32{
		{X: -2, Y: 10}: 1,
		{X: 3, Y: 12}:  9,
		{X: 0, Y: 11}:  4,
	}
	m := Materialize(in, box)
	if m.Width != 6 || m.Height != 3 {
		t.Fatalf("shape = %dx%d, want 6x3", m.Width, m.Height)
	}
	if len(m.Cells) != 18 {
		t.Fatalf("len(cells) = %d", len(m.Cells))
	}

	for y := box.MinY; y <= box.MaxY; y++ {
		for x := box.MinX; x <= box.MaxX; x++ {
			if got, want := m.At(x, y), in[aggregate.Coord{X: x, Y: y}]; got != want {
				t.Fatalf("At(%d,%d) = %d, want %d", x, y, got, want)
			}
		}
	}
	if m.Cells[0] != 1 || m.Cells[17] != 9 {
		t.Fatalf("corner cells = %d, %d", m.Cells[0], m.Cells[17])
	}
	if m.NonZero() != 3 || m.Max() != 9 {
		t.Fatalf("nonzero=%d max=%d", m.NonZero(), m.Max())
	}
	if m.At(-3, 10) != 0 || m.At(4, 12) != 0 {
		t.Fatalf("out of grid should read zero")
	}
}

func TestMaterialize_DropsOutside(t *testing.T) {
	box := aggregate.Box{MinX: 0, MaxX: 1, MinY: 0, MaxY: 1}
	m := Materialize(map[aggregate.Coord]uint16{
		{X: 1, Y: 1}: 2,
		{X: 5, Y: 5}: 7,
	}, box)
	if m.NonZero() != 1 || m.At(1, 1) != 2 {
		t.Fatalf("cells = %v", m.Cells)
	}
}

func TestSpots_SixBySix(t *testing.T) {
	box := aggregate.Box{MinX: 0, MaxX: 5, MinY: 0, MaxY: 5}
	mid, genes := Spots(map[aggregate.Coord]aggregate.Spot{
		{X: 0, Y: 0}: {MIDCount: 1, GeneCount: 1},
		{X: 5, Y: 5}: {MIDCount: 2, GeneCount: 1},
	}, box)

	if got := mid.Shape(); got[0] != 6 || got[1] != 6 {
		t.Fatalf("shape = %v", got)
	}
	for i, v := range mid.Cells {
		want := uint32(0)
		switch i {
		case 0:
			want = 1
		case 35:
			want = 2
		}
		if v != want {
			t.Fatalf("mid[%d] = %d, want %d", i, v, want)
		}
	}
	if genes.NonZero() != 2 || genes.At(0, 0) != 1 || genes.At(5, 5) != 1 {
		t.Fatalf("genecount = %v", genes.Cells)
	}
}

func TestMaterialize_ExtremeCoordinates(t *testing.T) {
	box := aggregate.Box{MinX: math.MinInt32, MaxX: math.MinInt32 + 1, MinY: math.MaxInt32 - 1, MaxY: math.MaxInt32}
	m := Materialize(map[aggregate.Coord]uint32{
		{X: math.MinInt32, Y: math.MaxInt32 - 1}: 3,
		{X: math.MinInt32 + 1, Y: math.MaxInt32}: 4,
	}, box)
	if m.Width != 2 || m.Height != 2 {
		t.Fatalf("shape = %dx%d, want 2x2", m.Width, m.Height)
	}
	if m.Cells[0] != 3 || m.Cells[3] != 4 {
		t.Fatalf("cells = %v", m.Cells)
	}
	// x-MinX does not fit in int32 here
	if m.At(math.MaxInt32, math.MaxInt32-1) != 0 || m.At(math.MinInt32, math.MinInt32) != 0 {
		t.Fatalf("far coordinates should read zero")
	}
	if m.At(math.MinInt32+1, math.MaxInt32) != 4 {
		t.Fatalf("At(max corner) = %d", m.At(math.MinInt32+1, math.MaxInt32))
	}
}
