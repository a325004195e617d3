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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// Cache is a persistent on-disk store of raw tile payloads, keyed by
// (product, epoch, resolution, tile). Entries are written atomically
// (temp file, then rename) so a crashed write is never visible to
// lookups, and each payload carries a sha256 sidecar that is verified on
// read. Entries are never evicted automatically; Invalidate removes them
// explicitly. A Cache directory may be shared by concurrent processes.
type Cache struct {
	dir string
}

// OpenCache opens (creating if necessary) a cache rooted at dir.
func OpenCache(dir string) (*Cache, error) {
	if dir == "" {
		return nil, fmt.Errorf("ghsl: empty cache directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ghsl: creating cache directory: %v", err)
	}
	return &Cache{dir: dir}, nil
}

// Dir returns the cache's root directory.
func (c *Cache) Dir() string { return c.dir }

// keyDir is the directory tree layout: product/epoch/resolution.
func (c *Cache) keyDir(k TileKey) string {
	return filepath.Join(c.dir, k.Product, fmt.Sprintf("E%d", k.Epoch), string(k.Resolution))
}

func (c *Cache) payloadPath(k TileKey) string {
	name := k.Tile.String()
	if k.Classification != "" {
		name = k.Classification + "_" + name
	}
	return filepath.Join(c.keyDir(k), name+".zip")
}

func checksumPath(payload string) string { return payload + ".sha256" }

// Get returns the cached payload for k. A missing entry returns an error
// satisfying os.IsNotExist; an entry whose checksum does not match
// returns a *CacheCorruptError.
func (c *Cache) Get(k TileKey) ([]byte, error) {
	p := c.payloadPath(k)
	sum, err := os.ReadFile(checksumPath(p))
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	got := sha256.Sum256(b)
	if hex.EncodeToString(got[:]) != string(sum) {
		return nil, &CacheCorruptError{Path: p, Err: fmt.Errorf("checksum mismatch")}
	}
	return b, nil
}

// Put stores a payload for k. The payload file is renamed into place
// before its checksum sidecar, and Get requires the sidecar, so partial
// writes are never served.
func (c *Cache) Put(k TileKey, b []byte) error {
	dir := c.keyDir(k)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ghsl: creating cache entry directory: %v", err)
	}
	p := c.payloadPath(k)
	if err := writeAtomic(p, b); err != nil {
		return err
	}
	sum := sha256.Sum256(b)
	return writeAtomic(checksumPath(p), []byte(hex.EncodeToString(sum[:])))
}

func writeAtomic(path string, b []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("ghsl: creating cache temp file: %v", err)
	}
	if _, err := f.Write(b); err != nil {
		f.Close()
		os.Remove(f.Name())
		return fmt.Errorf("ghsl: writing cache temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return fmt.Errorf("ghsl: closing cache temp file: %v", err)
	}
	if err := os.Rename(f.Name(), path); err != nil {
		os.Remove(f.Name())
		return fmt.Errorf("ghsl: committing cache entry: %v", err)
	}
	return nil
}

// Evict removes the entry for k, if present.
func (c *Cache) Evict(k TileKey) error {
	p := c.payloadPath(k)
	if err := os.Remove(checksumPath(p)); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Invalidate removes every cached tile of a product, or of one epoch of
// a product when epoch is non-zero. Archive products are occasionally
// revised; cached entries never expire on their own, so this is the way
// to pick up a revision.
func (c *Cache) Invalidate(product string, epoch int) error {
	dir := filepath.Join(c.dir, product)
	if epoch != 0 {
		dir = filepath.Join(dir, fmt.Sprintf("E%d", epoch))
	}
	return os.RemoveAll(dir)
}
