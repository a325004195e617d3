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
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/proj"
	"github.com/ctessum/sparse"

	"github.com/spatialmodel/ghsl/internal/geotiff"
)

// RasterTile is one decoded archive tile: a single-band raster with its
// affine georeferencing and CRS. It is owned by the decode step until it
// is handed to the assembler.
type RasterTile struct {
	img     *geotiff.Image
	crs     *CRS
	product ProductSpec
}

// decodeTile unpacks an archive payload (a zip holding one GeoTIFF) into
// a RasterTile. Archive tiles are always published in the native
// Mollweide projection.
func decodeTile(payload []byte, p ProductSpec) (*RasterTile, error) {
	zr, err := zip.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return nil, fmt.Errorf("ghsl: opening tile archive: %v", err)
	}
	for _, zf := range zr.File {
		if !strings.HasSuffix(strings.ToLower(zf.Name), ".tif") {
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			return nil, fmt.Errorf("ghsl: opening %s in tile archive: %v", zf.Name, err)
		}
		b, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("ghsl: reading %s in tile archive: %v", zf.Name, err)
		}
		img, err := geotiff.Decode(b)
		if err != nil {
			return nil, err
		}
		if math.IsNaN(img.NoData) {
			// Not every archive tile carries a GDAL_NODATA tag; fall
			// back to the product's published sentinel.
			img.NoData = p.NoData
		}
		return &RasterTile{img: img, crs: Mollweide, product: p}, nil
	}
	return nil, fmt.Errorf("ghsl: no GeoTIFF in tile archive")
}

// Bounds returns the tile's extent in its own CRS.
func (t *RasterTile) Bounds() *geom.Bounds {
	return &geom.Bounds{
		Min: geom.Point{
			X: t.img.OriginX,
			Y: t.img.OriginY - float64(t.img.Height)*t.img.PixelScaleY,
		},
		Max: geom.Point{
			X: t.img.OriginX + float64(t.img.Width)*t.img.PixelScaleX,
			Y: t.img.OriginY,
		},
	}
}

// at returns the raw cell value at integer raster indices, with the
// no-data sentinel converted to NaN.
func (t *RasterTile) at(row, col int) float64 {
	if row < 0 || row >= t.img.Height || col < 0 || col >= t.img.Width {
		return math.NaN()
	}
	v := t.img.Data[row*t.img.Width+col]
	if !math.IsNaN(t.img.NoData) && v == t.img.NoData {
		return math.NaN()
	}
	return v
}

// sample interpolates the tile at a point in the tile's CRS. Categorical
// products use nearest-neighbor so class codes are never blended;
// continuous products use bilinear interpolation, falling back to the
// nearest valid neighbor at no-data edges.
func (t *RasterTile) sample(x, y float64) float64 {
	fc := (x-t.img.OriginX)/t.img.PixelScaleX - 0.5
	fr := (t.img.OriginY-y)/t.img.PixelScaleY - 0.5
	if t.product.Categorical {
		return t.at(int(math.Round(fr)), int(math.Round(fc)))
	}

	r0 := int(math.Floor(fr))
	c0 := int(math.Floor(fc))
	dr := fr - float64(r0)
	dc := fc - float64(c0)
	var sum, wsum float64
	for _, n := range [4]struct {
		r, c int
		w    float64
	}{
		{r0, c0, (1 - dr) * (1 - dc)},
		{r0, c0 + 1, (1 - dr) * dc},
		{r0 + 1, c0, dr * (1 - dc)},
		{r0 + 1, c0 + 1, dr * dc},
	} {
		v := t.at(n.r, n.c)
		if math.IsNaN(v) {
			continue
		}
		sum += v * n.w
		wsum += n.w
	}
	if wsum == 0 {
		return math.NaN()
	}
	return sum / wsum
}

// gridWindow is a tile resampled onto a rectangular window of the mosaic
// grid, positioned by its top-left cell indices.
type gridWindow struct {
	data       *sparse.DenseArray // [rows, cols]
	row0, col0 int
}

// decodeAndClip resamples a tile onto the request's mosaic grid and
// masks every cell whose center falls outside the region geometry with
// NaN. region must already be expressed in the grid's CRS.
func decodeAndClip(t *RasterTile, region *Region, grid *MosaicGrid) (*gridWindow, error) {
	toTile, err := grid.CRS.transformTo(t.crs)
	if err != nil {
		return nil, err
	}

	// The grid window covered by this tile's footprint.
	b, err := t.footprintIn(grid.CRS)
	if err != nil {
		return nil, err
	}
	c0, r0, c1, r1 := grid.window(b)
	if c0 >= c1 || r0 >= r1 {
		return &gridWindow{data: sparse.ZerosDense(0, 0), row0: 0, col0: 0}, nil
	}

	w := &gridWindow{
		data: sparse.ZerosDense(r1-r0, c1-c0),
		row0: r0,
		col0: c0,
	}
	rg := region.Geometry()
	for r := r0; r < r1; r++ {
		for c := c0; c < c1; c++ {
			cx, cy := grid.cellCenter(r, c)
			v := math.NaN()
			if (geom.Point{X: cx, Y: cy}).Within(rg) != geom.Outside {
				tx, ty, err := toTile(cx, cy)
				if err == nil {
					v = t.sample(tx, ty)
				}
			}
			w.data.Set(v, r-r0, c-c0)
		}
	}
	return w, nil
}

// footprintIn returns the tile's bounding extent expressed in another CRS.
func (t *RasterTile) footprintIn(crs *CRS) (*geom.Bounds, error) {
	if t.crs.Equal(crs) {
		return t.Bounds(), nil
	}
	tr, err := t.crs.transformTo(crs)
	if err != nil {
		return nil, err
	}
	return transformBounds(t.Bounds(), tr)
}

// transformBounds maps all four corners of a bounding box and returns
// their extent; for the projections involved here that is a tight
// enough envelope.
func transformBounds(b *geom.Bounds, t proj.Transformer) (*geom.Bounds, error) {
	out := geom.NewBounds()
	for _, p := range []geom.Point{
		{X: b.Min.X, Y: b.Min.Y},
		{X: b.Max.X, Y: b.Min.Y},
		{X: b.Max.X, Y: b.Max.Y},
		{X: b.Min.X, Y: b.Max.Y},
	} {
		g, err := p.Transform(t)
		if err != nil {
			return nil, err
		}
		out.Extend(g.Bounds())
	}
	return out, nil
}
