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
	"strings"
)

// InvalidRequestError reports request parameter combinations that are not
// published by the archive. It is returned before any network activity
// occurs and enumerates every invalid combination rather than only the
// first one encountered.
type InvalidRequestError struct {
	// Combos describes the invalid product/epoch/resolution/classification
	// combinations, one string per combination.
	Combos []string
}

func (e *InvalidRequestError) Error() string {
	return fmt.Sprintf("ghsl: invalid request: %s", strings.Join(e.Combos, "; "))
}

// UnsupportedCombinationError is returned by the tile grid resolver when a
// product does not publish a grid at the requested resolution.
type UnsupportedCombinationError struct {
	Product    string
	Resolution Resolution
}

func (e *UnsupportedCombinationError) Error() string {
	return fmt.Sprintf("ghsl: product %s is not published at resolution %q", e.Product, e.Resolution)
}

// TileNotFoundError indicates that the archive holds no data for a tile key.
// This is a legitimate outcome for tiles outside a product's published
// coverage and is absorbed into no-data cells rather than failing a request.
type TileNotFoundError struct {
	Key TileKey
}

func (e *TileNotFoundError) Error() string {
	return fmt.Sprintf("ghsl: tile %s not published", e.Key)
}

// FetchError indicates a transport failure while retrieving a tile, after
// retries were exhausted.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("ghsl: fetching %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// CacheCorruptError indicates that a cached tile failed integrity
// validation on read. The fetcher evicts the entry and refetches once
// before giving up.
type CacheCorruptError struct {
	Path string
	Err  error
}

func (e *CacheCorruptError) Error() string {
	return fmt.Sprintf("ghsl: corrupt cache entry %s: %v", e.Path, e.Err)
}

func (e *CacheCorruptError) Unwrap() error { return e.Err }

// GridMismatchError indicates an internal invariant violation: a raster
// that should share the request's mosaic grid does not. It is always fatal.
type GridMismatchError struct {
	Want, Got *MosaicGrid
}

func (e *GridMismatchError) Error() string {
	return fmt.Sprintf("ghsl: grid mismatch: want %v, got %v", e.Want, e.Got)
}

// PartialFailureError is returned in strict mode when one or more tiles
// could not be resolved. It enumerates every unresolved tile key.
type PartialFailureError struct {
	Unresolved []TileKey
}

func (e *PartialFailureError) Error() string {
	keys := make([]string, len(e.Unresolved))
	for i, k := range e.Unresolved {
		keys[i] = k.String()
	}
	return fmt.Sprintf("ghsl: unresolved tiles: %s", strings.Join(keys, ", "))
}
