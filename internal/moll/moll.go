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

// Package moll implements the world Mollweide projection (ESRI:54009),
// the native projection of the GHSL archive grids. The geom/proj package
// does not register a Mollweide transformer, so the forward and inverse
// functions here follow the same conventions as its built-in projections
// and satisfy proj.Transformer, except that they take and return
// longitude/latitude in degrees.
package moll

import (
	"fmt"
	"math"
)

// R is the projection radius: the WGS84 semi-major axis, since
// ESRI:54009 uses the spherical Mollweide formulation on that datum.
const R = 6378137.0

const (
	d2r = math.Pi / 180
	r2d = 180 / math.Pi

	// maxIter and tolerance bound the Newton iteration for the
	// auxiliary angle in the forward transform.
	maxIter   = 15
	tolerance = 1e-10
)

const sqrt2 = math.Sqrt2

// MaxX is the easting of the projection's eastern world limit
// (longitude 180 at the equator); the western limit is -MaxX.
var MaxX = 2 * sqrt2 * R

// MaxY is the northing of the north pole; the south pole is at -MaxY.
var MaxY = sqrt2 * R

// Forward converts a longitude and latitude in degrees to Mollweide
// eastings and northings in meters.
func Forward(lon, lat float64) (x, y float64, err error) {
	if math.IsNaN(lon) || math.IsNaN(lat) || lon < -180 || lon > 180 || lat < -90 || lat > 90 {
		return math.NaN(), math.NaN(), fmt.Errorf("moll: invalid longitude (%g) or latitude (%g)", lon, lat)
	}
	λ := lon * d2r
	φ := lat * d2r

	// Solve 2θ + sin(2θ) = π·sin(φ) for the auxiliary angle θ.
	θ := φ
	c := math.Pi * math.Sin(φ)
	for i := 0; i < maxIter; i++ {
		δ := (2*θ + math.Sin(2*θ) - c) / (2 + 2*math.Cos(2*θ))
		if math.IsNaN(δ) || math.IsInf(δ, 0) {
			// cos(2θ) == -1 at the poles; θ is exact there.
			θ = math.Copysign(math.Pi/2, φ)
			break
		}
		θ -= δ
		if math.Abs(δ) < tolerance {
			break
		}
	}

	x = R * (2 * sqrt2 / math.Pi) * λ * math.Cos(θ)
	y = R * sqrt2 * math.Sin(θ)
	return x, y, nil
}

// Inverse converts Mollweide eastings and northings in meters to a
// longitude and latitude in degrees.
func Inverse(x, y float64) (lon, lat float64, err error) {
	s := y / (R * sqrt2)
	if s < -1-tolerance || s > 1+tolerance {
		return math.NaN(), math.NaN(), fmt.Errorf("moll: northing %g outside projection bounds", y)
	}
	s = math.Max(-1, math.Min(1, s))
	θ := math.Asin(s)

	φ := math.Asin(math.Max(-1, math.Min(1, (2*θ+math.Sin(2*θ))/math.Pi)))
	cosθ := math.Cos(θ)
	var λ float64
	if cosθ > tolerance {
		λ = math.Pi * x / (2 * sqrt2 * R * cosθ)
	}
	if λ < -math.Pi-tolerance || λ > math.Pi+tolerance {
		return math.NaN(), math.NaN(), fmt.Errorf("moll: easting %g outside projection bounds at northing %g", x, y)
	}
	return λ * r2d, φ * r2d, nil
}
