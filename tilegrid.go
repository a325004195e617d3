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
	"sort"
	"sync"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"
)

// The archive partitions the world into a fixed grid of square tiles in
// the Mollweide projection, identical for every product and epoch. Rows
// are numbered top-down from the north, columns west-east.
const (
	tileSpan    = 1.0e6 // m
	gridRows    = 18
	gridCols    = 37
	gridOriginX = -18041000.0 // west edge
	gridOriginY = 9.0e6       // north edge
)

// TileID addresses one tile of the fixed global tiling scheme. It is
// stable across epochs for a given product and resolution.
type TileID struct {
	Row, Col int
}

func (t TileID) String() string {
	return fmt.Sprintf("R%d_C%d", t.Row, t.Col)
}

// bounds returns the tile's footprint in Mollweide coordinates.
func (t TileID) bounds() *geom.Bounds {
	x0 := gridOriginX + float64(t.Col-1)*tileSpan
	y1 := gridOriginY - float64(t.Row-1)*tileSpan
	return &geom.Bounds{
		Min: geom.Point{X: x0, Y: y1 - tileSpan},
		Max: geom.Point{X: x0 + tileSpan, Y: y1},
	}
}

// TileKey is the composite cache and fetch key for one archived tile.
type TileKey struct {
	Product        string
	Epoch          int
	Resolution     Resolution
	Classification string
	Tile           TileID
}

func (k TileKey) String() string {
	if k.Classification != "" {
		return fmt.Sprintf("%s_%s_E%d_%s_%s", k.Product, k.Classification, k.Epoch, k.Resolution, k.Tile)
	}
	return fmt.Sprintf("%s_E%d_%s_%s", k.Product, k.Epoch, k.Resolution, k.Tile)
}

// tileFootprint is an rtree entry for one tile of the global grid.
type tileFootprint struct {
	geom.Polygonal
	id TileID
}

var (
	tileIndex     *rtree.Rtree
	tileIndexOnce sync.Once
)

// tileTree returns the spatial index over all tile footprints, built
// once per process.
func tileTree() *rtree.Rtree {
	tileIndexOnce.Do(func() {
		tileIndex = rtree.NewTree(25, 50)
		for row := 1; row <= gridRows; row++ {
			for col := 1; col <= gridCols; col++ {
				id := TileID{Row: row, Col: col}
				b := id.bounds()
				p := geom.Polygon{{
					{X: b.Min.X, Y: b.Min.Y},
					{X: b.Max.X, Y: b.Min.Y},
					{X: b.Max.X, Y: b.Max.Y},
					{X: b.Min.X, Y: b.Max.Y},
					{X: b.Min.X, Y: b.Min.Y},
				}}
				tileIndex.Insert(tileFootprint{Polygonal: p, id: id})
			}
		}
	})
	return tileIndex
}

// resolveTiles maps a region to the tiles of the product's grid at the
// requested resolution that intersect the region's bounding extent, in
// row-major order. Over-inclusion of marginally overlapping tiles is
// acceptable; the clipping step masks them. Missing a tile that holds
// region cells is not.
func resolveTiles(region *Region, p ProductSpec, res Resolution) ([]TileID, error) {
	if res == "" {
		res = p.DefaultResolution
	}
	if !p.hasResolution(res) {
		return nil, &UnsupportedCombinationError{Product: p.Name, Resolution: res}
	}
	native, err := region.reproject(Mollweide)
	if err != nil {
		return nil, err
	}
	b := native.Bounds()
	if b.Empty() {
		return nil, fmt.Errorf("ghsl: region has empty extent in archive projection")
	}

	var ids []TileID
	for _, item := range tileTree().SearchIntersect(b) {
		ids = append(ids, item.(tileFootprint).id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].Row != ids[j].Row {
			return ids[i].Row < ids[j].Row
		}
		return ids[i].Col < ids[j].Col
	})
	return ids, nil
}
