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
	"math"
	"testing"

	"github.com/ctessum/geom"

	"github.com/spatialmodel/ghsl/internal/geotiff"
)

func mustPolygon(ring [][]float64) geom.Polygon {
	r := make([]geom.Point, len(ring))
	for i, pt := range ring {
		r[i] = geom.Point{X: pt[0], Y: pt[1]}
	}
	return geom.Polygon{r}
}

// zipTIFF packages a raster as the zip-of-GeoTIFF payload the archive
// serves.
func zipTIFF(t *testing.T, img *geotiff.Image) []byte {
	t.Helper()
	b, err := geotiff.Encode(img)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("tile.tif")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write(b); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// testImage builds a 10x10 raster covering [0, 1000]² with 100 m pixels
// whose cells hold row*10+col, except cell (3, 4) which is no-data.
func testImage() *geotiff.Image {
	img := &geotiff.Image{
		Width: 10, Height: 10,
		Data:        make([]float64, 100),
		PixelScaleX: 100, PixelScaleY: 100,
		OriginX: 0, OriginY: 1000,
		NoData: -200,
	}
	for r := 0; r < 10; r++ {
		for c := 0; c < 10; c++ {
			img.Data[r*10+c] = float64(r*10 + c)
		}
	}
	img.Data[3*10+4] = -200
	return img
}

func TestDecodeTile(t *testing.T) {
	pop, err := ProductInfo("GHS-POP")
	if err != nil {
		t.Fatal(err)
	}
	tile, err := decodeTile(zipTIFF(t, testImage()), pop)
	if err != nil {
		t.Fatal(err)
	}
	b := tile.Bounds()
	if b.Min.X != 0 || b.Min.Y != 0 || b.Max.X != 1000 || b.Max.Y != 1000 {
		t.Errorf("bounds = %+v", b)
	}
	if v := tile.at(0, 1); v != 1 {
		t.Errorf("at(0, 1) = %g, want 1", v)
	}
	if v := tile.at(3, 4); !math.IsNaN(v) {
		t.Errorf("no-data cell = %g, want NaN", v)
	}
	if v := tile.at(-1, 0); !math.IsNaN(v) {
		t.Errorf("out-of-raster cell = %g, want NaN", v)
	}
}

// A tile without a GDAL_NODATA tag falls back to the product's
// published sentinel.
func TestDecodeTileNoDataFallback(t *testing.T) {
	pop, err := ProductInfo("GHS-POP")
	if err != nil {
		t.Fatal(err)
	}
	img := testImage()
	img.NoData = math.NaN() // encoded without a GDAL_NODATA tag
	img.Data[3*10+4] = pop.NoData
	tile, err := decodeTile(zipTIFF(t, img), pop)
	if err != nil {
		t.Fatal(err)
	}
	if v := tile.at(3, 4); !math.IsNaN(v) {
		t.Errorf("sentinel cell = %g, want NaN", v)
	}
	if v := tile.at(0, 1); v != 1 {
		t.Errorf("at(0, 1) = %g, want 1", v)
	}
}

func TestDecodeTileRejectsPayloadWithoutTIFF(t *testing.T) {
	pop, err := ProductInfo("GHS-POP")
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("readme.txt")
	if err != nil {
		t.Fatal(err)
	}
	w.Write([]byte("no raster here"))
	zw.Close()
	if _, err := decodeTile(buf.Bytes(), pop); err == nil {
		t.Error("expected error for payload without a GeoTIFF")
	}
	if _, err := decodeTile([]byte("not a zip"), pop); err == nil {
		t.Error("expected error for non-zip payload")
	}
}

func TestSampleBilinear(t *testing.T) {
	pop, err := ProductInfo("GHS-POP")
	if err != nil {
		t.Fatal(err)
	}
	tile, err := decodeTile(zipTIFF(t, testImage()), pop)
	if err != nil {
		t.Fatal(err)
	}
	// At a cell center interpolation is exact.
	if v := tile.sample(50, 950); v != 0 {
		t.Errorf("sample(50, 950) = %g, want 0", v)
	}
	// Midway between cells (0, 0) and (0, 1) the value is their mean.
	if v := tile.sample(100, 950); math.Abs(v-0.5) > 1e-12 {
		t.Errorf("sample(100, 950) = %g, want 0.5", v)
	}
	// Next to the no-data cell the valid neighbors still produce a
	// finite value.
	if v := tile.sample(470, 650); math.IsNaN(v) {
		t.Error("sample beside no-data cell is NaN")
	}
}

func TestSampleCategorical(t *testing.T) {
	smod, err := ProductInfo("GHS-SMOD")
	if err != nil {
		t.Fatal(err)
	}
	tile, err := decodeTile(zipTIFF(t, testImage()), smod)
	if err != nil {
		t.Fatal(err)
	}
	// Nearest-neighbor never blends class codes: slightly off a cell
	// center the value is still the cell's own.
	if v := tile.sample(60, 940); v != 0 {
		t.Errorf("sample(60, 940) = %g, want 0", v)
	}
	if v := tile.sample(130, 950); v != 1 {
		t.Errorf("sample(130, 950) = %g, want 1", v)
	}
}

// Clipping to a rectangle strictly inside one tile yields a window with
// no masked cells and exactly the cell count given by the grid
// arithmetic over the rectangle.
func TestDecodeAndClipInterior(t *testing.T) {
	pop, err := ProductInfo("GHS-POP")
	if err != nil {
		t.Fatal(err)
	}
	img := testImage()
	for i := range img.Data {
		img.Data[i] = 7 // no no-data cells for this test
	}
	tile, err := decodeTile(zipTIFF(t, img), pop)
	if err != nil {
		t.Fatal(err)
	}

	region := mollRegion(t, 200, 200, 800, 800)
	grid, err := NewMosaicGrid(region, Res100M, nil)
	if err != nil {
		t.Fatal(err)
	}
	if grid.Nx != 6 || grid.Ny != 6 {
		t.Fatalf("grid dims = %dx%d, want 6x6", grid.Ny, grid.Nx)
	}

	w, err := decodeAndClip(tile, region, grid)
	if err != nil {
		t.Fatal(err)
	}
	if w.row0 != 0 || w.col0 != 0 {
		t.Errorf("window offset = (%d, %d), want (0, 0)", w.row0, w.col0)
	}
	valid := 0
	for _, v := range w.data.Elements {
		if !math.IsNaN(v) {
			if v != 7 {
				t.Fatalf("cell value = %g, want 7", v)
			}
			valid++
		}
	}
	if valid != grid.Nx*grid.Ny {
		t.Errorf("valid cells = %d, want %d", valid, grid.Nx*grid.Ny)
	}
}

// Cells outside the region polygon are masked even when the tile covers
// them.
func TestDecodeAndClipMasksOutside(t *testing.T) {
	pop, err := ProductInfo("GHS-POP")
	if err != nil {
		t.Fatal(err)
	}
	tile, err := decodeTile(zipTIFF(t, testImage()), pop)
	if err != nil {
		t.Fatal(err)
	}

	// An L-shaped region: the full lower half plus the left half of the
	// upper half.
	region, err := NewRegion(mustPolygon(
		[][]float64{{0, 0}, {1000, 0}, {1000, 500}, {500, 500}, {500, 1000}, {0, 1000}, {0, 0}},
	), Mollweide)
	if err != nil {
		t.Fatal(err)
	}
	grid, err := NewMosaicGrid(region, Res100M, nil)
	if err != nil {
		t.Fatal(err)
	}
	w, err := decodeAndClip(tile, region, grid)
	if err != nil {
		t.Fatal(err)
	}
	// The notch (upper right quadrant) is masked.
	masked, valid := 0, 0
	for _, v := range w.data.Elements {
		if math.IsNaN(v) {
			masked++
		} else {
			valid++
		}
	}
	if masked < 20 || valid < 70 {
		t.Errorf("masked = %d, valid = %d; want roughly a quarter masked", masked, valid)
	}
}
