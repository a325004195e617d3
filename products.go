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
	"strings"
)

// DefaultBaseURL is the root of the JRC open-data archive holding the
// GHSL release used by this package.
const DefaultBaseURL = "https://jeodpp.jrc.ec.europa.eu/ftp/jrc-opendata/GHSL"

// release and projection identify the archive release and its native
// map projection (Mollweide, ESRI:54009) in archive URLs.
const (
	release    = "R2023A"
	projection = "54009"
	version    = "V1-0"
)

// Resolution selects among the precomputed archive grids.
type Resolution string

// The archive publishes two grid resolutions.
const (
	Res100M  Resolution = "100m"
	Res1000M Resolution = "1000m"
)

// cellSize returns the grid cell size in meters.
func (r Resolution) cellSize() (float64, error) {
	switch r {
	case Res100M:
		return 100, nil
	case Res1000M:
		return 1000, nil
	}
	return 0, fmt.Errorf("ghsl: unknown resolution %q", r)
}

// ProductSpec describes one GHSL data layer: which epochs and resolutions
// it is published at, its classification variants if any, and how its
// archive file names are constructed.
type ProductSpec struct {
	// Name is the public product identifier, e.g. "GHS-POP".
	Name        string
	Description string

	// Epochs are the published reference years, ascending.
	Epochs []int

	// Resolutions are the published grid resolutions.
	Resolutions []Resolution

	// Classifications lists the published classification variants
	// (e.g. "RES+NRES"), or is nil for products without variants.
	Classifications []string

	DefaultResolution     Resolution
	DefaultClassification string

	// Categorical marks layers whose cell values are class codes rather
	// than measurements; they are resampled with nearest-neighbor
	// instead of bilinear interpolation.
	Categorical bool

	// NoData is the sentinel the archive uses for cells without a
	// valid measurement in this layer.
	NoData float64

	// urlName is the product name as it appears in archive paths
	// (underscores instead of hyphens).
	urlName string

	// classInName returns the classification component of the base
	// file name for the given variant, or "" when the variant is
	// unnamed there.
	classInName func(class string) string
}

// suffix conventions in archive file names: the default classification is
// unnamed, NRES appears as a bare suffix, and the height variants always
// carry their classification.
func plainName(string) string { return "" }

func nresName(class string) string {
	if class == "NRES" {
		return "NRES"
	}
	return ""
}

func alwaysClassName(class string) string { return class }

var products = map[string]ProductSpec{
	"GHS-BUILT-S": {
		Name:                  "GHS-BUILT-S",
		Description:           "Global Human Settlement built-up surface",
		Epochs:                []int{1975, 1980, 1985, 1990, 1995, 2000, 2015, 2018, 2020, 2025, 2030},
		Resolutions:           []Resolution{Res100M, Res1000M},
		Classifications:       []string{"RES+NRES", "NRES"},
		DefaultResolution:     Res100M,
		DefaultClassification: "RES+NRES",
		NoData:                65535,
		urlName:               "GHS_BUILT_S",
		classInName:           nresName,
	},
	"GHS-BUILT-V": {
		Name:                  "GHS-BUILT-V",
		Description:           "Global Human Settlement built-up volume",
		Epochs:                []int{1975, 1980, 1985, 1990, 1995, 2000, 2015, 2020, 2025, 2030},
		Resolutions:           []Resolution{Res100M, Res1000M},
		Classifications:       []string{"RES+NRES", "NRES"},
		DefaultResolution:     Res100M,
		DefaultClassification: "RES+NRES",
		NoData:                65535,
		urlName:               "GHS_BUILT_V",
		classInName:           nresName,
	},
	"GHS-BUILT-H": {
		Name:                  "GHS-BUILT-H",
		Description:           "Global Human Settlement built-up height",
		Epochs:                []int{2018},
		Resolutions:           []Resolution{Res100M},
		Classifications:       []string{"AGBH", "ANBH"},
		DefaultResolution:     Res100M,
		DefaultClassification: "AGBH",
		NoData:                -1,
		urlName:               "GHS_BUILT_H",
		classInName:           alwaysClassName,
	},
	"GHS-POP": {
		Name:              "GHS-POP",
		Description:       "Global Human Settlement population",
		Epochs:            []int{1975, 1980, 1985, 1990, 1995, 2000, 2015, 2020, 2025, 2030},
		Resolutions:       []Resolution{Res100M, Res1000M},
		DefaultResolution: Res100M,
		NoData:            -200,
		urlName:           "GHS_POP",
		classInName:       plainName,
	},
	"GHS-SMOD": {
		Name:              "GHS-SMOD",
		Description:       "Global Human Settlement settlement model (degree of urbanization)",
		Epochs:            []int{1975, 1980, 1985, 1990, 1995, 2000, 2015, 2020, 2025, 2030},
		Resolutions:       []Resolution{Res1000M},
		DefaultResolution: Res1000M,
		Categorical:       true,
		NoData:            -200,
		urlName:           "GHS_SMOD",
		classInName:       plainName,
	},
}

// Products returns the names of all known products, sorted.
func Products() []string {
	names := make([]string, 0, len(products))
	for n := range products {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ProductInfo returns the specification for the named product.
func ProductInfo(name string) (ProductSpec, error) {
	p, ok := products[name]
	if !ok {
		return ProductSpec{}, fmt.Errorf("ghsl: unknown product %q; available products: %s",
			name, strings.Join(Products(), ", "))
	}
	return p, nil
}

func (p ProductSpec) hasEpoch(epoch int) bool {
	for _, e := range p.Epochs {
		if e == epoch {
			return true
		}
	}
	return false
}

func (p ProductSpec) hasResolution(res Resolution) bool {
	for _, r := range p.Resolutions {
		if r == res {
			return true
		}
	}
	return false
}

// normalizeOptions validates an epoch/resolution/classification request
// against the product's published combinations, applying defaults for
// empty resolution and classification. The returned strings describe each
// violation; an empty slice means the request is valid.
func (p ProductSpec) normalizeOptions(epoch int, res Resolution, class string) (Resolution, string, []string) {
	var bad []string
	if !p.hasEpoch(epoch) {
		bad = append(bad, fmt.Sprintf("%s has no epoch %d (published: %v)", p.Name, epoch, p.Epochs))
	}
	if res == "" {
		res = p.DefaultResolution
	} else if !p.hasResolution(res) {
		bad = append(bad, fmt.Sprintf("%s is not published at %s (published: %v)", p.Name, res, p.Resolutions))
	}
	if p.Classifications == nil {
		if class != "" {
			bad = append(bad, fmt.Sprintf("%s has no classification variants", p.Name))
		}
	} else if class == "" {
		class = p.DefaultClassification
	} else {
		found := false
		for _, c := range p.Classifications {
			if c == class {
				found = true
				break
			}
		}
		if !found {
			bad = append(bad, fmt.Sprintf("%s has no classification %q (published: %v)", p.Name, class, p.Classifications))
		}
	}
	return res, class, bad
}

// baseName returns the archive base file name for one epoch and
// classification, e.g. "GHS_POP_E2020" or "GHS_BUILT_S_NRES_E2020".
func (p ProductSpec) baseName(epoch int, class string) string {
	if c := p.classInName(class); c != "" {
		return fmt.Sprintf("%s_%s_E%d", p.urlName, c, epoch)
	}
	return fmt.Sprintf("%s_E%d", p.urlName, epoch)
}

// tileURL constructs the archive URL for one tile of this product.
func (p ProductSpec) tileURL(base string, epoch int, res Resolution, class string, tile TileID) string {
	name := p.baseName(epoch, class)
	resVal := strings.TrimSuffix(string(res), "m")
	dataset := fmt.Sprintf("%s_GLOBE_%s_%s_%s", name, release, projection, resVal)
	file := fmt.Sprintf("%s_%s_%s.zip", dataset, strings.Replace(version, "-", "_", 1), tile)
	return strings.Join([]string{
		base,
		fmt.Sprintf("%s_GLOBE_%s", p.urlName, release),
		dataset,
		version,
		"tiles",
		file,
	}, "/")
}
