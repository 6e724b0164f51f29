package aggregate

import (
	"fmt"
	"strconv"
	"strings"
)

// Coord is a spatial position, raw or binned depending on context.
type Coord struct {
	X int32
	Y int32
}

// Less orders coordinates by x, then y.
func (c Coord) Less(o Coord) bool {
	if c.X != o.X {
		return c.X < o.X
	}
	return c.Y < o.Y
}

// Box is an inclusive rectangle. It doubles as the raw-coordinate region
// filter accepted by Run.
type Box struct {
	MinX int32
	MaxX int32
	MinY int32
	MaxY int32
}

// Width is the number of columns spanned by the box.
func (b Box) Width() int {
	return int(int64(b.MaxX) - int64(b.MinX) + 1)
}

// Height is the number of rows spanned by the box.
func (b Box) Height() int {
	return int(int64(b.MaxY) - int64(b.MinY) + 1)
}

// Cells is Width*Height, computed without overflow.
func (b Box) Cells() int64 {
	return (int64(b.MaxX) - int64(b.MinX) + 1) * (int64(b.MaxY) - int64(b.MinY) + 1)
}

// Contains reports whether c lies inside the box.
func (b Box) Contains(c Coord) bool {
	return c.X >= b.MinX && c.X <= b.MaxX && c.Y >= b.MinY && c.Y <= b.MaxY
}

// Valid reports whether min <= max on both axes.
func (b Box) Valid() bool {
	return b.MinX <= b.MaxX && b.MinY <= b.MaxY
}

func (b Box) String() string {
	return fmt.Sprintf("x=[%d,%d] y=[%d,%d]", b.MinX, b.MaxX, b.MinY, b.MaxY)
}

// ParseRegion parses "minx,maxx,miny,maxy".
func ParseRegion(s string) (Box, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return Box{}, fmt.Errorf("region must be minx,maxx,miny,maxy: %q", s)
	}
	var v [4]int32
	for i, p := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(p), 10, 32)
		if err != nil {
			return Box{}, fmt.Errorf("invalid region value %q: %w", p, err)
		}
		v[i] = int32(n)
	}
	b := Box{MinX: v[0], MaxX: v[1], MinY: v[2], MaxY: v[3]}
	if !b.Valid() {
		return Box{}, fmt.Errorf("region has min > max: %q", s)
	}
	return b, nil
}

// ParseBinSizes parses a comma-separated list such as "1,20,50".
func ParseBinSizes(s string) ([]int, error) {
	var sizes []int
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidBinSize, p)
		}
		sizes = append(sizes, n)
	}
	if len(sizes) == 0 {
		return nil, fmt.Errorf("%w: empty list", ErrInvalidBinSize)
	}
	return sizes, nil
}

// floorDiv divides rounding toward negative infinity so that bins stay
// aligned across the origin. d must be positive.
func floorDiv(v, d int32) int32 {
	q := v / d
	if v%d != 0 && v < 0 {
		q--
	}
	return q
}
