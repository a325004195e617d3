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

// Package ghsl retrieves raster products from the Global Human
// Settlement Layer archive, clips them to a region of interest, and
// assembles the result into a single grid-aligned dataset indexed by
// product, epoch and spatial coordinate.
package ghsl

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/ctessum/sparse"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DownloadConfig holds the tunable behavior of a Client. The zero value
// is not usable; start from DefaultDownloadConfig.
type DownloadConfig struct {
	// CacheDir is the root of the persistent tile cache.
	CacheDir string

	// BaseURL is the archive root. Besides http and https it accepts
	// the blob schemes file, s3 and gs, which is how tests and mirrored
	// archives are addressed.
	BaseURL string

	// Workers bounds the number of simultaneous tile fetches.
	Workers int

	// MaxRetries bounds the retry attempts for one transient fetch
	// failure before it becomes a FetchError.
	MaxRetries int

	// Strict converts any unresolved tile into a whole-request
	// PartialFailureError instead of a no-data slice.
	Strict bool

	// Seam selects how disagreeing overlapping tile pixels are
	// resolved.
	Seam SeamPolicy

	// MemCacheTiles bounds the in-memory tile payload cache in front
	// of the disk cache.
	MemCacheTiles int

	// TargetCRS is the output grid CRS; nil means the archive's native
	// Mollweide projection.
	TargetCRS *CRS

	Logger *logrus.Logger

	// HTTPClient overrides the transport; nil means http.DefaultClient.
	HTTPClient *http.Client
}

// DefaultDownloadConfig returns a configuration with the archive's
// public endpoint, a cache under the user cache directory, and moderate
// concurrency.
func DefaultDownloadConfig() DownloadConfig {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return DownloadConfig{
		CacheDir:      filepath.Join(dir, "ghsl"),
		BaseURL:       DefaultBaseURL,
		Workers:       4,
		MaxRetries:    3,
		Seam:          SeamPreferLast,
		MemCacheTiles: 64,
		Logger:        logrus.StandardLogger(),
	}
}

// Client downloads and assembles archive data. A Client is safe for
// concurrent use; concurrent requests share its tile cache and its
// in-flight fetch de-duplication.
type Client struct {
	cfg   DownloadConfig
	cache *Cache
	fetch *fetcher
}

// NewClient opens the tile cache and prepares a Client.
func NewClient(cfg DownloadConfig) (*Client, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MemCacheTiles <= 0 {
		cfg.MemCacheTiles = 16
	}
	// MaxRetries feeds a uint64 retry bound; a negative value must not
	// wrap around to an effectively unbounded count.
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.TargetCRS == nil {
		cfg.TargetCRS = Mollweide
	}
	cache, err := OpenCache(cfg.CacheDir)
	if err != nil {
		return nil, err
	}
	return &Client{
		cfg:   cfg,
		cache: cache,
		fetch: newFetcher(cache, cfg),
	}, nil
}

// Cache returns the client's tile cache, for explicit invalidation.
func (c *Client) Cache() *Cache { return c.cache }

// Request describes one download: which products, for which epochs, at
// which resolution, over which region.
type Request struct {
	// Products are archive product names, in the order the result's
	// product dimension should carry them.
	Products []string

	// Epochs are publication years. The result's epoch dimension is
	// always ascending regardless of the order given here.
	Epochs []int

	// Resolution may be empty to use each product's default.
	Resolution Resolution

	// Classification selects a thematic subset for products that
	// publish one; empty means the product's default.
	Classification string

	Region *Region
}

// plan is one validated (product, epoch) unit of work.
type plan struct {
	pi, ei int
	prod   ProductSpec
	epoch  int
	res    Resolution
	class  string
}

// validate checks the full Cartesian product of products and epochs up
// front and returns the work plan, or an InvalidRequestError naming
// every bad combination.
func (c *Client) validate(req *Request) ([]plan, []string, []int, error) {
	if req.Region == nil {
		return nil, nil, nil, &InvalidRequestError{Combos: []string{"no region given"}}
	}
	if len(req.Products) == 0 {
		return nil, nil, nil, &InvalidRequestError{Combos: []string{"no products given"}}
	}
	if len(req.Epochs) == 0 {
		return nil, nil, nil, &InvalidRequestError{Combos: []string{"no epochs given"}}
	}

	products := make([]string, 0, len(req.Products))
	seenP := make(map[string]bool)
	for _, p := range req.Products {
		if !seenP[p] {
			seenP[p] = true
			products = append(products, p)
		}
	}
	epochs := make([]int, 0, len(req.Epochs))
	seenE := make(map[int]bool)
	for _, e := range req.Epochs {
		if !seenE[e] {
			seenE[e] = true
			epochs = append(epochs, e)
		}
	}
	sort.Ints(epochs)

	var plans []plan
	var combos []string
	for pi, name := range products {
		prod, err := ProductInfo(name)
		if err != nil {
			combos = append(combos, fmt.Sprintf("unknown product %q", name))
			continue
		}
		for ei, epoch := range epochs {
			res, class, violations := prod.normalizeOptions(epoch, req.Resolution, req.Classification)
			if len(violations) > 0 {
				combos = append(combos, violations...)
				continue
			}
			plans = append(plans, plan{pi: pi, ei: ei, prod: prod, epoch: epoch, res: res, class: class})
		}
	}
	if len(combos) > 0 {
		return nil, nil, nil, &InvalidRequestError{Combos: combos}
	}
	return plans, products, epochs, nil
}

// gridResolution picks the resolution the shared output grid is built
// at: the finest one any planned product resolves to.
func gridResolution(plans []plan) Resolution {
	res := plans[0].res
	cell, _ := res.cellSize()
	for _, p := range plans[1:] {
		c, _ := p.res.cellSize()
		if c < cell {
			cell, res = c, p.res
		}
	}
	return res
}

// Download validates the request, fetches every intersecting tile for
// every valid (product, epoch) combination, and assembles the result on
// one shared grid. Missing archive coverage becomes no-data, never an
// error; transient fetch failures void only the affected
// (product, epoch) slice unless the client is strict.
func (c *Client) Download(ctx context.Context, req *Request) (*Dataset, error) {
	plans, products, epochs, err := c.validate(req)
	if err != nil {
		return nil, err
	}

	grid, err := NewMosaicGrid(req.Region, gridResolution(plans), c.cfg.TargetCRS)
	if err != nil {
		return nil, err
	}
	clipRegion, err := req.Region.reproject(grid.CRS)
	if err != nil {
		return nil, err
	}

	ds := newDataset(products, epochs, grid)
	var (
		mu         sync.Mutex
		unresolved []TileKey
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, pl := range plans {
		pl := pl
		g.Go(func() error {
			slice, bad, err := c.downloadSlice(gctx, pl, clipRegion, grid)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			if len(bad) > 0 {
				unresolved = append(unresolved, bad...)
				// The slice in ds stays all-NaN.
				ds.Empty[pl.pi][pl.ei] = true
				return nil
			}
			return ds.stack(pl.pi, pl.ei, slice, grid)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if c.cfg.Strict && len(unresolved) > 0 {
		sort.Slice(unresolved, func(i, j int) bool {
			return unresolved[i].String() < unresolved[j].String()
		})
		return nil, &PartialFailureError{Unresolved: unresolved}
	}
	return ds, nil
}

// downloadSlice fetches, decodes and assembles one (product, epoch)
// slice. Tiles the archive does not publish are skipped; a tile lost to
// transport failure voids the slice and is reported in bad.
func (c *Client) downloadSlice(ctx context.Context, pl plan, region *Region, grid *MosaicGrid) (slice *sparse.DenseArray, bad []TileKey, err error) {
	tiles, err := resolveTiles(region, pl.prod, pl.res)
	if err != nil {
		return nil, nil, err
	}

	var windows []*gridWindow
	for _, id := range tiles {
		key := TileKey{
			Product:        pl.prod.Name,
			Epoch:          pl.epoch,
			Resolution:     pl.res,
			Classification: pl.class,
			Tile:           id,
		}
		payload, err := c.fetch.Fetch(ctx, key)
		if err != nil {
			var nf *TileNotFoundError
			if errors.As(err, &nf) {
				continue
			}
			c.cfg.Logger.WithFields(logrus.Fields{
				"tile": key.String(), "error": err,
			}).Warn("tile unresolved after retries")
			bad = append(bad, key)
			if c.cfg.Strict {
				// Keep going so the failure enumerates every
				// unresolved tile of this slice.
				continue
			}
			return nil, bad, nil
		}
		t, err := decodeTile(payload, pl.prod)
		if err != nil {
			return nil, nil, fmt.Errorf("ghsl: decoding tile %v: %w", key, err)
		}
		w, err := decodeAndClip(t, region, grid)
		if err != nil {
			return nil, nil, err
		}
		windows = append(windows, w)
	}
	if len(bad) > 0 {
		return nil, bad, nil
	}

	slice, err = assembleMosaic(windows, grid, c.cfg.Seam, c.cfg.Logger)
	if err != nil {
		return nil, nil, err
	}
	return slice, nil, nil
}
