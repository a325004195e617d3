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
	"fmt"
	"math"

	"github.com/ctessum/geom"
	"github.com/ctessum/sparse"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats/scalar"
)

// MosaicGrid is the canonical output grid of one request: origin, cell
// size, dimensions and CRS. It is derived once from the region and
// resolution and shared by every (product, epoch) slice, which is what
// makes the slices of the final dataset directly comparable.
type MosaicGrid struct {
	// OriginX and OriginY locate the outer corner of the top-left cell.
	OriginX, OriginY float64
	// Dx and Dy are the positive cell sizes in CRS units.
	Dx, Dy float64
	// Nx and Ny are the column and row counts.
	Nx, Ny int

	CRS *CRS
}

// NewMosaicGrid derives the canonical grid covering region at the given
// resolution, in crs (nil means the archive's native Mollweide). The
// grid is snapped outward to the archive cell lattice so that source
// tiles resample onto it without phase error.
func NewMosaicGrid(region *Region, res Resolution, crs *CRS) (*MosaicGrid, error) {
	cell, err := res.cellSize()
	if err != nil {
		return nil, err
	}
	if crs == nil {
		crs = Mollweide
	}
	native, err := region.reproject(crs)
	if err != nil {
		return nil, err
	}
	b := native.Bounds()
	if b.Empty() {
		return nil, fmt.Errorf("ghsl: region has empty extent in %v", crs)
	}

	dx, dy, err := cellSizeIn(region, cell, crs)
	if err != nil {
		return nil, err
	}
	// Anchor the lattice at the tile grid origin in the native
	// projection; elsewhere the exact phase carries no meaning and the
	// lattice is anchored at zero.
	ax, ay := 0.0, 0.0
	if crs.Equal(Mollweide) {
		ax, ay = gridOriginX, gridOriginY
	}
	x0 := ax + math.Floor((b.Min.X-ax)/dx)*dx
	y1 := ay - math.Floor((ay-b.Max.Y)/dy)*dy
	nx := int(math.Ceil((b.Max.X - x0) / dx))
	ny := int(math.Ceil((y1 - b.Min.Y) / dy))
	if nx <= 0 || ny <= 0 {
		return nil, fmt.Errorf("ghsl: degenerate mosaic grid (%d x %d cells)", ny, nx)
	}
	return &MosaicGrid{OriginX: x0, OriginY: y1, Dx: dx, Dy: dy, Nx: nx, Ny: ny, CRS: crs}, nil
}

// cellSizeIn converts the archive cell size in meters into grid CRS
// units, evaluated at the region centroid.
func cellSizeIn(region *Region, cell float64, crs *CRS) (dx, dy float64, err error) {
	if crs.Equal(Mollweide) {
		return cell, cell, nil
	}
	native, err := region.reproject(Mollweide)
	if err != nil {
		return 0, 0, err
	}
	c := native.Geometry().Centroid()
	back, err := Mollweide.transformTo(crs)
	if err != nil {
		return 0, 0, err
	}
	x0, y0, err := back(c.X, c.Y)
	if err != nil {
		return 0, 0, err
	}
	x1, y1, err := back(c.X+cell, c.Y+cell)
	if err != nil {
		return 0, 0, err
	}
	dx = math.Abs(x1 - x0)
	dy = math.Abs(y1 - y0)
	if dx == 0 || dy == 0 {
		return 0, 0, fmt.Errorf("ghsl: cannot express %gm cells in %v", cell, crs)
	}
	return dx, dy, nil
}

func (g *MosaicGrid) String() string {
	return fmt.Sprintf("%dx%d@(%g,%g)±(%g,%g) %v", g.Ny, g.Nx, g.OriginX, g.OriginY, g.Dx, g.Dy, g.CRS)
}

// Equal reports whether two grids are identical to within floating-point
// tolerance.
func (g *MosaicGrid) Equal(o *MosaicGrid) bool {
	if g == nil || o == nil {
		return g == o
	}
	const tol = 1e-9
	return g.Nx == o.Nx && g.Ny == o.Ny && g.CRS.Equal(o.CRS) &&
		scalar.EqualWithinAbsOrRel(g.OriginX, o.OriginX, tol, tol) &&
		scalar.EqualWithinAbsOrRel(g.OriginY, o.OriginY, tol, tol) &&
		scalar.EqualWithinAbsOrRel(g.Dx, o.Dx, tol, tol) &&
		scalar.EqualWithinAbsOrRel(g.Dy, o.Dy, tol, tol)
}

// Bounds returns the grid's outer extent.
func (g *MosaicGrid) Bounds() *geom.Bounds {
	return &geom.Bounds{
		Min: geom.Point{X: g.OriginX, Y: g.OriginY - float64(g.Ny)*g.Dy},
		Max: geom.Point{X: g.OriginX + float64(g.Nx)*g.Dx, Y: g.OriginY},
	}
}

// cellCenter returns the center coordinates of cell (row, col).
func (g *MosaicGrid) cellCenter(row, col int) (x, y float64) {
	return g.OriginX + (float64(col)+0.5)*g.Dx, g.OriginY - (float64(row)+0.5)*g.Dy
}

// window returns the half-open cell index ranges [c0, c1) and [r0, r1)
// covering a bounding box, clamped to the grid.
func (g *MosaicGrid) window(b *geom.Bounds) (c0, r0, c1, r1 int) {
	c0 = int(math.Floor((b.Min.X - g.OriginX) / g.Dx))
	c1 = int(math.Ceil((b.Max.X - g.OriginX) / g.Dx))
	r0 = int(math.Floor((g.OriginY - b.Max.Y) / g.Dy))
	r1 = int(math.Ceil((g.OriginY - b.Min.Y) / g.Dy))
	c0 = max(c0, 0)
	r0 = max(r0, 0)
	c1 = min(c1, g.Nx)
	r1 = min(r1, g.Ny)
	return c0, r0, c1, r1
}

// XCoords returns the cell center x coordinates, west to east.
func (g *MosaicGrid) XCoords() []float64 {
	out := make([]float64, g.Nx)
	for i := range out {
		out[i] = g.OriginX + (float64(i)+0.5)*g.Dx
	}
	return out
}

// YCoords returns the cell center y coordinates, north to south.
func (g *MosaicGrid) YCoords() []float64 {
	out := make([]float64, g.Ny)
	for i := range out {
		out[i] = g.OriginY - (float64(i)+0.5)*g.Dy
	}
	return out
}

// SeamPolicy selects how disagreeing overlapping pixels at tile seams
// are resolved during assembly. The archive's overlapping edge pixels
// normally agree to within floating-point tolerance; a disagreement is a
// data-quality condition, not a request failure, except under SeamReject.
type SeamPolicy int

const (
	// SeamPreferLast keeps the value from the later tile in row-major
	// iteration order, logging the disagreement.
	SeamPreferLast SeamPolicy = iota
	// SeamMean averages the disagreeing values.
	SeamMean
	// SeamReject fails assembly on any disagreement beyond tolerance.
	SeamReject
)

// seamTol is the relative tolerance beyond which overlapping pixels are
// considered to disagree.
const seamTol = 1e-6

// assembleMosaic merges tile windows for one (product, epoch) onto the
// mosaic grid. Windows are visited in the deterministic row-major tile
// order established by the resolver. Cells no window covers stay NaN; an
// input with zero windows therefore yields an all-no-data raster, which
// is a legitimate partial result.
func assembleMosaic(windows []*gridWindow, grid *MosaicGrid, policy SeamPolicy, log *logrus.Logger) (*sparse.DenseArray, error) {
	out := sparse.ZerosDense(grid.Ny, grid.Nx)
	for i := range out.Elements {
		out.Elements[i] = math.NaN()
	}
	for _, w := range windows {
		if w == nil {
			continue
		}
		rows, cols := w.data.Shape[0], w.data.Shape[1]
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				v := w.data.Get(r, c)
				if math.IsNaN(v) {
					continue
				}
				gr, gc := w.row0+r, w.col0+c
				cur := out.Get(gr, gc)
				if !math.IsNaN(cur) && !scalar.EqualWithinAbsOrRel(cur, v, seamTol, seamTol) {
					switch policy {
					case SeamMean:
						v = (cur + v) / 2
					case SeamReject:
						return nil, fmt.Errorf("ghsl: tile seam disagreement at cell (%d, %d): %g vs %g", gr, gc, cur, v)
					default:
						log.WithFields(logrus.Fields{
							"row": gr, "col": gc, "have": cur, "got": v,
						}).Warn("tile seam disagreement; preferring later tile")
					}
				}
				out.Set(v, gr, gc)
			}
		}
	}
	return out, nil
}
