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

	"github.com/ctessum/sparse"
)

// Dataset is the assembled result of one download request: a dense
// 4-dimensional array indexed [product, epoch, row, column] on a single
// shared grid. Products appear in request order and epochs in ascending
// order, so the layout is fully determined by the request. Cells with no
// data are NaN.
type Dataset struct {
	// Products and Epochs label the first two array dimensions.
	Products []string
	Epochs   []int

	Grid *MosaicGrid

	// Data holds the values, shaped [len(Products), len(Epochs), Grid.Ny, Grid.Nx].
	Data *sparse.DenseArray

	// X and Y are the cell center coordinates of the grid columns
	// (west to east) and rows (north to south), in Grid.CRS units.
	X, Y []float64

	// Coverage is the fraction of non-NaN cells in each
	// (product, epoch) slice, shaped like the first two Data dimensions.
	Coverage [][]float64

	// Empty flags slices that contain no data at all, either because
	// no tile of that combination is published for the region or, in
	// non-strict mode, because every fetch failed.
	Empty [][]bool
}

// newDataset allocates a dataset for the given labels and grid, with
// every value initialized to NaN.
func newDataset(products []string, epochs []int, grid *MosaicGrid) *Dataset {
	d := &Dataset{
		Products: products,
		Epochs:   epochs,
		Grid:     grid,
		Data:     sparse.ZerosDense(len(products), len(epochs), grid.Ny, grid.Nx),
		X:        grid.XCoords(),
		Y:        grid.YCoords(),
		Coverage: make([][]float64, len(products)),
		Empty:    make([][]bool, len(products)),
	}
	for i := range d.Data.Elements {
		d.Data.Elements[i] = math.NaN()
	}
	for i := range products {
		d.Coverage[i] = make([]float64, len(epochs))
		d.Empty[i] = make([]bool, len(epochs))
	}
	return d
}

// stack copies one assembled (product, epoch) slice into the dataset and
// records its coverage. The slice grid must be the dataset grid.
func (d *Dataset) stack(pi, ei int, slice *sparse.DenseArray, grid *MosaicGrid) error {
	if !d.Grid.Equal(grid) {
		return &GridMismatchError{Want: d.Grid, Got: grid}
	}
	if len(slice.Shape) != 2 || slice.Shape[0] != d.Grid.Ny || slice.Shape[1] != d.Grid.Nx {
		return &GridMismatchError{Want: d.Grid, Got: grid}
	}
	valid := 0
	for r := 0; r < d.Grid.Ny; r++ {
		for c := 0; c < d.Grid.Nx; c++ {
			v := slice.Get(r, c)
			if !math.IsNaN(v) {
				valid++
			}
			d.Data.Set(v, pi, ei, r, c)
		}
	}
	d.Coverage[pi][ei] = float64(valid) / float64(d.Grid.Ny*d.Grid.Nx)
	d.Empty[pi][ei] = valid == 0
	return nil
}

// Slice returns the 2-dimensional array for one product and epoch.
func (d *Dataset) Slice(product string, epoch int) (*sparse.DenseArray, error) {
	pi, ei := -1, -1
	for i, p := range d.Products {
		if p == product {
			pi = i
			break
		}
	}
	for i, e := range d.Epochs {
		if e == epoch {
			ei = i
			break
		}
	}
	if pi < 0 {
		return nil, fmt.Errorf("ghsl: product %q is not in this dataset", product)
	}
	if ei < 0 {
		return nil, fmt.Errorf("ghsl: epoch %d is not in this dataset", epoch)
	}
	out := sparse.ZerosDense(d.Grid.Ny, d.Grid.Nx)
	for r := 0; r < d.Grid.Ny; r++ {
		for c := 0; c < d.Grid.Nx; c++ {
			out.Set(d.Data.Get(pi, ei, r, c), r, c)
		}
	}
	return out, nil
}
