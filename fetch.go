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
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/ctessum/requestcache"
	"github.com/sirupsen/logrus"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"
)

// errNotPublished marks an explicit archive absence inside the retry
// loop, before it is wrapped with the tile key.
var errNotPublished = errors.New("not published")

// fetcher resolves tile keys to raw archive payloads. Lookups go through
// an in-memory tier and the on-disk Cache before the network; concurrent
// requests for the same key share a single in-flight fetch, and the
// number of simultaneously processed fetches is bounded.
type fetcher struct {
	cache   *Cache
	rc      *requestcache.Cache
	baseURL string
	client  *http.Client
	retries uint64
	log     *logrus.Logger
}

func newFetcher(cache *Cache, cfg DownloadConfig) *fetcher {
	f := &fetcher{
		cache:   cache,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		client:  cfg.HTTPClient,
		retries: uint64(cfg.MaxRetries),
		log:     cfg.Logger,
	}
	if f.client == nil {
		f.client = http.DefaultClient
	}
	f.rc = requestcache.NewCache(f.process, cfg.Workers,
		requestcache.Deduplicate(), requestcache.Memory(cfg.MemCacheTiles))
	return f
}

// Fetch returns the raw payload for one tile key.
func (f *fetcher) Fetch(ctx context.Context, key TileKey) ([]byte, error) {
	r := f.rc.NewRequest(ctx, key, key.String())
	result, err := r.Result()
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

// process is the requestcache processor: disk lookup, corrupt-entry
// self-healing, then a retried network download.
func (f *fetcher) process(ctx context.Context, payload interface{}) (interface{}, error) {
	key := payload.(TileKey)
	b, err := f.cache.Get(key)
	if err == nil {
		return b, nil
	}
	var corrupt *CacheCorruptError
	switch {
	case errors.As(err, &corrupt):
		f.log.WithFields(logrus.Fields{"tile": key.String(), "path": corrupt.Path}).
			Warn("evicting corrupt cache entry")
		if err := f.cache.Evict(key); err != nil {
			return nil, fmt.Errorf("ghsl: evicting corrupt cache entry: %v", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("ghsl: reading cache: %v", err)
	}

	b, err = f.download(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := f.cache.Put(key, b); err != nil {
		return nil, err
	}
	return b, nil
}

// download retrieves one tile from the archive with bounded exponential
// backoff. Explicit archive absences are terminal; transport errors are
// retried up to the configured attempt count.
func (f *fetcher) download(ctx context.Context, key TileKey) ([]byte, error) {
	p, err := ProductInfo(key.Product)
	if err != nil {
		return nil, err
	}
	u := p.tileURL(f.baseURL, key.Epoch, key.Resolution, key.Classification, key.Tile)

	var body []byte
	attempt := 0
	op := func() error {
		attempt++
		b, err := f.get(ctx, u)
		if err != nil {
			if errors.Is(err, errNotPublished) {
				return backoff.Permanent(err)
			}
			f.log.WithFields(logrus.Fields{"tile": key.String(), "attempt": attempt, "err": err}).
				Debug("retrying tile fetch")
			return err
		}
		body = b
		return nil
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), f.retries), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		if errors.Is(err, errNotPublished) {
			return nil, &TileNotFoundError{Key: key}
		}
		return nil, &FetchError{URL: u, Err: err}
	}
	return body, nil
}

// get performs a single retrieval of one URL over HTTP or, for mirrored
// archives, a blob store (file://, s3://, gs://).
func (f *fetcher) get(ctx context.Context, urlStr string) ([]byte, error) {
	u, err := url.Parse(urlStr)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("ghsl: parsing archive URL: %v", err))
	}
	switch u.Scheme {
	case "http", "https":
		return f.getHTTP(ctx, urlStr)
	case "file", "s3", "gs":
		return f.getBlob(ctx, urlStr)
	}
	return nil, backoff.Permanent(fmt.Errorf("ghsl: unsupported archive URL scheme %q", u.Scheme))
}

func (f *fetcher) getHTTP(ctx context.Context, urlStr string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusOK:
		return io.ReadAll(resp.Body)
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, errNotPublished
	default:
		return nil, fmt.Errorf("archive returned status %s", resp.Status)
	}
}

// getBlob reads a key from a blob-store mirror of the archive. The
// configured base URL names the bucket (and optional prefix); the
// remainder of the tile URL is the object key.
func (f *fetcher) getBlob(ctx context.Context, urlStr string) ([]byte, error) {
	key := strings.TrimPrefix(strings.TrimPrefix(urlStr, f.baseURL), "/")
	base, err := url.Parse(f.baseURL)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	bucketURL := f.baseURL
	prefix := ""
	if base.Scheme != "file" {
		bucketURL = base.Scheme + "://" + base.Host
		prefix = strings.TrimPrefix(base.Path, "/")
	}
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, err
	}
	defer bucket.Close()
	if prefix != "" {
		bucket = blob.PrefixedBucket(bucket, prefix+"/")
	}
	b, err := bucket.ReadAll(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, errNotPublished
		}
		return nil, err
	}
	return b, nil
}
