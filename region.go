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

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/geojson"
	"github.com/ctessum/geom/encoding/shp"
	"github.com/ctessum/geom/proj"

	"github.com/spatialmodel/ghsl/internal/moll"
)

// CRS identifies a coordinate reference system. The archive's native
// Mollweide projection is handled by this package; every other system is
// delegated to geom/proj.
type CRS struct {
	// Code is the public identifier, e.g. "EPSG:4326".
	Code string

	sr *proj.SR // nil for the built-in Mollweide
}

// Mollweide is the GHSL archive's native CRS (ESRI:54009).
var Mollweide = &CRS{Code: "ESRI:54009"}

// WGS84 is the longitude/latitude CRS most boundary sources use.
var WGS84 = &CRS{Code: "EPSG:4326", sr: mustSR("+proj=longlat +datum=WGS84 +no_defs")}

func mustSR(def string) *proj.SR {
	sr, err := proj.Parse(def)
	if err != nil {
		panic(err)
	}
	return sr
}

// ParseCRS returns the CRS for a proj4 definition string or one of the
// identifiers "ESRI:54009" and "EPSG:4326".
func ParseCRS(code string) (*CRS, error) {
	switch code {
	case "ESRI:54009", "+proj=moll":
		return Mollweide, nil
	case "EPSG:4326", "WGS84":
		return WGS84, nil
	}
	sr, err := proj.Parse(code)
	if err != nil {
		return nil, fmt.Errorf("ghsl: parsing CRS %q: %v", code, err)
	}
	return &CRS{Code: code, sr: sr}, nil
}

func (c *CRS) String() string { return c.Code }

// Equal reports whether two CRS describe the same system.
func (c *CRS) Equal(o *CRS) bool {
	if c == o {
		return true
	}
	if c == nil || o == nil {
		return false
	}
	return c.Code == o.Code
}

func identityTransform(x, y float64) (float64, float64, error) { return x, y, nil }

// transformTo returns a transformer from coordinates in c to coordinates
// in dst. Paths involving Mollweide go through WGS84 longitude/latitude.
func (c *CRS) transformTo(dst *CRS) (proj.Transformer, error) {
	if c.Equal(dst) {
		return identityTransform, nil
	}
	switch {
	case c.sr == nil && dst.sr == nil:
		return identityTransform, nil
	case c.sr == nil:
		t, err := WGS84.sr.NewTransform(dst.sr)
		if err != nil {
			return nil, err
		}
		return func(x, y float64) (float64, float64, error) {
			lon, lat, err := moll.Inverse(x, y)
			if err != nil {
				return lon, lat, err
			}
			return t(lon, lat)
		}, nil
	case dst.sr == nil:
		t, err := c.sr.NewTransform(WGS84.sr)
		if err != nil {
			return nil, err
		}
		return func(x, y float64) (float64, float64, error) {
			lon, lat, err := t(x, y)
			if err != nil {
				return lon, lat, err
			}
			return moll.Forward(lon, lat)
		}, nil
	default:
		return c.sr.NewTransform(dst.sr)
	}
}

// Region is an immutable polygonal region of interest with its CRS. The
// geometry is normalized here once, at the system boundary; downstream
// code never inspects the shape of caller input.
type Region struct {
	geometry geom.Polygonal
	crs      *CRS
}

// NewRegion creates a Region from a polygonal geometry in the given CRS.
// A nil crs means WGS84. Empty or degenerate geometries are rejected.
func NewRegion(g geom.Polygonal, crs *CRS) (*Region, error) {
	if g == nil || len(g.Polygons()) == 0 {
		return nil, fmt.Errorf("ghsl: empty region geometry")
	}
	if g.Area() <= 0 {
		return nil, fmt.Errorf("ghsl: region geometry has zero area")
	}
	if crs == nil {
		crs = WGS84
	}
	return &Region{geometry: g, crs: crs}, nil
}

// RegionFromBounds creates a rectangular Region from a bounding box.
func RegionFromBounds(b *geom.Bounds, crs *CRS) (*Region, error) {
	if b == nil || b.Empty() {
		return nil, fmt.Errorf("ghsl: empty region bounds")
	}
	p := geom.Polygon{{
		{X: b.Min.X, Y: b.Min.Y},
		{X: b.Max.X, Y: b.Min.Y},
		{X: b.Max.X, Y: b.Max.Y},
		{X: b.Min.X, Y: b.Max.Y},
		{X: b.Min.X, Y: b.Min.Y},
	}}
	return NewRegion(p, crs)
}

// RegionFromGeoJSON creates a Region from GeoJSON geometry bytes. The crs
// argument gives the coordinate system of the GeoJSON coordinates; nil
// means WGS84, which is what boundary services conventionally emit.
func RegionFromGeoJSON(data []byte, crs *CRS) (*Region, error) {
	g, err := geojson.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("ghsl: decoding region GeoJSON: %v", err)
	}
	p, ok := g.(geom.Polygonal)
	if !ok {
		return nil, fmt.Errorf("ghsl: region GeoJSON must be polygonal, got %T", g)
	}
	return NewRegion(p, crs)
}

// RegionFromShapefile creates a Region from the first polygonal row of a
// shapefile, using the CRS declared in its .prj sidecar.
func RegionFromShapefile(path string) (*Region, error) {
	d, err := shp.NewDecoder(path)
	if err != nil {
		return nil, fmt.Errorf("ghsl: opening region shapefile: %v", err)
	}
	defer d.Close()
	sr, err := d.SR()
	if err != nil {
		return nil, fmt.Errorf("ghsl: reading region shapefile projection: %v", err)
	}
	for {
		g, _, more := d.DecodeRowFields()
		if !more {
			break
		}
		if p, ok := g.(geom.Polygonal); ok {
			return NewRegion(p, &CRS{Code: path, sr: sr})
		}
	}
	if err := d.Error(); err != nil {
		return nil, fmt.Errorf("ghsl: decoding region shapefile: %v", err)
	}
	return nil, fmt.Errorf("ghsl: no polygonal rows in region shapefile %s", path)
}

// Geometry returns the region's geometry. Callers must not modify it.
func (r *Region) Geometry() geom.Polygonal { return r.geometry }

// CRS returns the region's coordinate reference system.
func (r *Region) CRS() *CRS { return r.crs }

// Bounds returns the region's bounding extent in its own CRS.
func (r *Region) Bounds() *geom.Bounds { return r.geometry.Bounds() }

// reproject returns an equivalent Region in the destination CRS.
func (r *Region) reproject(dst *CRS) (*Region, error) {
	if r.crs.Equal(dst) {
		return r, nil
	}
	t, err := r.crs.transformTo(dst)
	if err != nil {
		return nil, fmt.Errorf("ghsl: transforming region from %v to %v: %v", r.crs, dst, err)
	}
	g, err := r.geometry.Transform(t)
	if err != nil {
		return nil, fmt.Errorf("ghsl: transforming region from %v to %v: %v", r.crs, dst, err)
	}
	return &Region{geometry: g.(geom.Polygonal), crs: dst}, nil
}
