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
)

func TestNewRegionRejectsDegenerate(t *testing.T) {
	if _, err := NewRegion(nil, WGS84); err == nil {
		t.Error("expected error for nil geometry")
	}
	if _, err := NewRegion(geom.Polygon{}, WGS84); err == nil {
		t.Error("expected error for empty polygon")
	}
	line := geom.Polygon{{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 0, Y: 0}}}
	if _, err := NewRegion(line, WGS84); err == nil {
		t.Error("expected error for zero-area polygon")
	}
}

func TestNewRegionDefaultsToWGS84(t *testing.T) {
	p := geom.Polygon{{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 1}, {X: 0, Y: 0}}}
	r, err := NewRegion(p, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !r.CRS().Equal(WGS84) {
		t.Errorf("CRS = %v, want WGS84", r.CRS())
	}
}

func TestRegionReproject(t *testing.T) {
	b := &geom.Bounds{Min: geom.Point{X: 9, Y: 49}, Max: geom.Point{X: 11, Y: 51}}
	r, err := RegionFromBounds(b, WGS84)
	if err != nil {
		t.Fatal(err)
	}
	native, err := r.reproject(Mollweide)
	if err != nil {
		t.Fatal(err)
	}
	// The corner (10, 50) appears among the reprojected vertices.
	nb := native.Bounds()
	if nb.Min.X > 760634 || nb.Max.X < 760632 {
		t.Errorf("reprojected bounds %+v do not bracket x=760633", nb)
	}
	if nb.Empty() {
		t.Error("reprojected bounds are empty")
	}

	// Reprojecting into the region's own CRS is the identity.
	same, err := r.reproject(WGS84)
	if err != nil {
		t.Fatal(err)
	}
	sb := same.Bounds()
	if math.Abs(sb.Min.X-9) > 1e-12 || math.Abs(sb.Max.Y-51) > 1e-12 {
		t.Errorf("identity reprojection changed bounds: %+v", sb)
	}
}

func TestRegionFromGeoJSON(t *testing.T) {
	data := []byte(`{"type": "Polygon", "coordinates": [[[0,0],[2,0],[2,2],[0,2],[0,0]]]}`)
	r, err := RegionFromGeoJSON(data, nil)
	if err != nil {
		t.Fatal(err)
	}
	b := r.Bounds()
	if b.Min.X != 0 || b.Max.X != 2 || b.Min.Y != 0 || b.Max.Y != 2 {
		t.Errorf("bounds = %+v", b)
	}

	if _, err := RegionFromGeoJSON([]byte(`{"type": "Point", "coordinates": [1, 1]}`), nil); err == nil {
		t.Error("expected error for non-polygonal GeoJSON")
	}
	if _, err := RegionFromGeoJSON([]byte(`not json`), nil); err == nil {
		t.Error("expected error for malformed GeoJSON")
	}
}

func TestParseCRS(t *testing.T) {
	for _, code := range []string{"ESRI:54009", "EPSG:4326", "WGS84", "+proj=moll"} {
		if _, err := ParseCRS(code); err != nil {
			t.Errorf("ParseCRS(%q): %v", code, err)
		}
	}
	crs, err := ParseCRS("+proj=merc +lon_0=0 +datum=WGS84")
	if err != nil {
		t.Fatal(err)
	}
	if crs.Equal(Mollweide) || crs.Equal(WGS84) {
		t.Error("mercator CRS compared equal to a builtin")
	}
	if _, err := ParseCRS("EPSG:999999"); err == nil {
		t.Error("expected error for unknown CRS code")
	}
}

func TestCRSTransformRoundTrip(t *testing.T) {
	fwd, err := WGS84.transformTo(Mollweide)
	if err != nil {
		t.Fatal(err)
	}
	inv, err := Mollweide.transformTo(WGS84)
	if err != nil {
		t.Fatal(err)
	}
	for _, pt := range []geom.Point{{X: 0, Y: 0}, {X: 10, Y: 50}, {X: -58.4, Y: -34.6}} {
		x, y, err := fwd(pt.X, pt.Y)
		if err != nil {
			t.Fatal(err)
		}
		lon, lat, err := inv(x, y)
		if err != nil {
			t.Fatal(err)
		}
		if math.Abs(lon-pt.X) > 1e-6 || math.Abs(lat-pt.Y) > 1e-6 {
			t.Errorf("round trip of %+v gave (%g, %g)", pt, lon, lat)
		}
	}
}
