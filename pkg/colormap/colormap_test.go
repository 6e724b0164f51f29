package colormap

import (
	"image/color"
	"testing"
)

func TestSeuratColormapEndpoints(t *testing.T) {
	t.Parallel()

	c0, ok := Seurat.At(0).(color.RGBA)
	if !ok {
		t.Fatalf("expected color.RGBA at t=0")
	}
	if c0 != (color.RGBA{R: 211, G: 211, B: 211, A: 255}) {
		t.Fatalf("unexpected Seurat.At(0): %#v", c0)
	}

	c1, ok := Seurat.At(1).(color.RGBA)
	if !ok {
		t.Fatalf("expected color.RGBA at t=1")
	}
	if c1 != (color.RGBA{R: 255, G: 0, B: 0, A: 255}) {
		t.Fatalf("unexpected Seurat.At(1): %#v", c1)
	}
}


func TestByName(t *testing.T) {
	t.Parallel()

	c, ok := ByName("Viridis")
	if !ok {
		t.Fatalf("expected viridis to be registered")
	}
	if c.At(0) != Viridis.At(0) {
		t.Fatalf("unexpected colormap returned for viridis")
	}
	if _, ok := ByName("jet"); ok {
		t.Fatalf("unexpected colormap for unknown name")
	}

	names := Names()
	if len(names) < 6 || names[0] != "categorical" {
		t.Fatalf("unexpected names: %v", names)
	}
}

func TestLinearColormapMidpoint(t *testing.T) {
	t.Parallel()

	mid, ok := Grays.At(0.5).(color.RGBA)
	if !ok {
		t.Fatalf("expected color.RGBA")
	}
	if mid.R != 127 || mid.G != 127 || mid.B != 127 {
		t.Fatalf("unexpected Grays.At(0.5): %#v", mid)
	}
}
