/*
Copyright © 2024 the GHSL-Go authors.
This file is part of GHSL-Go.

GHSL-Go is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

GHSL-Go is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with GHSL-Go.  If not, see <http://www.gnu.org/licenses/>.*/

package ghsl

import (
	"math"
	"testing"

	"github.com/ctessum/geom"
	"github.com/ctessum/sparse"
)

func TestNewMosaicGridSnapping(t *testing.T) {
	// The tile grid origin is a whole multiple of 100 m, so the cell
	// lattice falls on multiples of 100 m.
	r := mollRegion(t, 123, 210, 950, 745)
	g, err := NewMosaicGrid(r, Res100M, nil)
	if err != nil {
		t.Fatal(err)
	}
	if g.OriginX != 100 || g.OriginY != 800 {
		t.Errorf("origin = (%g, %g), want (100, 800)", g.OriginX, g.OriginY)
	}
	if g.Dx != 100 || g.Dy != 100 {
		t.Errorf("cell size = (%g, %g), want (100, 100)", g.Dx, g.Dy)
	}
	if g.Nx != 9 || g.Ny != 6 {
		t.Errorf("dims = %dx%d, want 6x9", g.Ny, g.Nx)
	}
	if !g.CRS.Equal(Mollweide) {
		t.Errorf("CRS = %v, want Mollweide", g.CRS)
	}

	// The snapped grid must contain the region.
	b, rb := g.Bounds(), r.Bounds()
	if rb.Min.X < b.Min.X || rb.Min.Y < b.Min.Y || rb.Max.X > b.Max.X || rb.Max.Y > b.Max.Y {
		t.Errorf("grid %+v does not contain region %+v", b, rb)
	}
}

func TestMosaicGridWindow(t *testing.T) {
	g := &MosaicGrid{OriginX: 0, OriginY: 1000, Dx: 100, Dy: 100, Nx: 10, Ny: 10, CRS: Mollweide}

	c0, r0, c1, r1 := g.window(&geom.Bounds{
		Min: geom.Point{X: 150, Y: 650},
		Max: geom.Point{X: 450, Y: 850},
	})
	if c0 != 1 || r0 != 1 || c1 != 5 || r1 != 4 {
		t.Errorf("window = (%d, %d, %d, %d), want (1, 1, 5, 4)", c0, r0, c1, r1)
	}

	// Out-of-grid extents clamp.
	c0, r0, c1, r1 = g.window(&geom.Bounds{
		Min: geom.Point{X: -500, Y: -500},
		Max: geom.Point{X: 5000, Y: 5000},
	})
	if c0 != 0 || r0 != 0 || c1 != 10 || r1 != 10 {
		t.Errorf("clamped window = (%d, %d, %d, %d)", c0, r0, c1, r1)
	}

	x, y := g.cellCenter(0, 0)
	if x != 50 || y != 950 {
		t.Errorf("cellCenter(0, 0) = (%g, %g), want (50, 950)", x, y)
	}
	xs, ys := g.XCoords(), g.YCoords()
	if len(xs) != 10 || len(ys) != 10 || xs[9] != 950 || ys[9] != 50 {
		t.Errorf("coords: x[9]=%g y[9]=%g", xs[9], ys[9])
	}
}

func TestMosaicGridEqual(t *testing.T) {
	g := &MosaicGrid{OriginX: 0, OriginY: 1000, Dx: 100, Dy: 100, Nx: 10, Ny: 10, CRS: Mollweide}
	h := *g
	if !g.Equal(&h) {
		t.Error("identical grids compare unequal")
	}
	h.Nx = 11
	if g.Equal(&h) {
		t.Error("grids with different dims compare equal")
	}
}

func TestNewMosaicGridWGS84(t *testing.T) {
	r, err := RegionFromBounds(&geom.Bounds{
		Min: geom.Point{X: 10, Y: 50},
		Max: geom.Point{X: 10.05, Y: 50.05},
	}, WGS84)
	if err != nil {
		t.Fatal(err)
	}
	g, err := NewMosaicGrid(r, Res1000M, WGS84)
	if err != nil {
		t.Fatal(err)
	}
	if g.Dx <= 0 || g.Dy <= 0 || g.Nx <= 0 || g.Ny <= 0 {
		t.Fatalf("degenerate grid %+v", g)
	}
	// A 1 km cell at 50°N is roughly 0.014° wide and 0.009° tall.
	if g.Dx < 0.005 || g.Dx > 0.03 || g.Dy < 0.005 || g.Dy > 0.03 {
		t.Errorf("cell size (%g, %g) outside plausible degree range", g.Dx, g.Dy)
	}
	b, rb := g.Bounds(), r.Bounds()
	if rb.Min.X < b.Min.X || rb.Max.Y > b.Max.Y {
		t.Errorf("grid %+v does not contain region %+v", b, rb)
	}
}

// testWindow builds a gridWindow whose cells hold f(gridRow, gridCol).
func testWindow(row0, col0, rows, cols int, f func(r, c int) float64) *gridWindow {
	w := &gridWindow{data: sparse.ZerosDense(rows, cols), row0: row0, col0: col0}
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			w.data.Set(f(row0+r, col0+c), r, c)
		}
	}
	return w
}

// Two adjacent tiles sharing a one-column overlapping seam must mosaic
// with no duplicated or missing columns.
func TestAssembleSeam(t *testing.T) {
	grid := &MosaicGrid{OriginX: 0, OriginY: 400, Dx: 100, Dy: 100, Nx: 6, Ny: 4, CRS: Mollweide}
	val := func(r, c int) float64 { return float64(r*10 + c) }
	left := testWindow(0, 0, 4, 4, val)
	right := testWindow(0, 3, 4, 3, val)

	out, err := assembleMosaic([]*gridWindow{left, right}, grid, SeamPreferLast, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	for r := 0; r < 4; r++ {
		for c := 0; c < 6; c++ {
			if got := out.Get(r, c); got != val(r, c) {
				t.Errorf("cell (%d, %d) = %g, want %g", r, c, got, val(r, c))
			}
		}
	}
}

func TestAssembleSeamDisagreement(t *testing.T) {
	grid := &MosaicGrid{OriginX: 0, OriginY: 100, Dx: 100, Dy: 100, Nx: 2, Ny: 1, CRS: Mollweide}
	a := testWindow(0, 0, 1, 2, func(r, c int) float64 { return 1 })
	b := testWindow(0, 1, 1, 1, func(r, c int) float64 { return 3 })

	out, err := assembleMosaic([]*gridWindow{a, b}, grid, SeamPreferLast, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if got := out.Get(0, 1); got != 3 {
		t.Errorf("prefer-last seam = %g, want 3", got)
	}

	out, err = assembleMosaic([]*gridWindow{a, b}, grid, SeamMean, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if got := out.Get(0, 1); got != 2 {
		t.Errorf("mean seam = %g, want 2", got)
	}

	if _, err = assembleMosaic([]*gridWindow{a, b}, grid, SeamReject, testLogger()); err == nil {
		t.Error("expected error from SeamReject")
	}
}

func TestAssembleNoWindows(t *testing.T) {
	grid := &MosaicGrid{OriginX: 0, OriginY: 200, Dx: 100, Dy: 100, Nx: 3, Ny: 2, CRS: Mollweide}
	out, err := assembleMosaic(nil, grid, SeamPreferLast, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	for r := 0; r < 2; r++ {
		for c := 0; c < 3; c++ {
			if !math.IsNaN(out.Get(r, c)) {
				t.Errorf("cell (%d, %d) = %g, want NaN", r, c, out.Get(r, c))
			}
		}
	}
}
