// Package assetcache serves the web client's static files offline-first:
// a named cache is filled at install time, looked up before the network,
// topped up from network responses, and older caches are purged when a new
// name is activated.
package assetcache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/rs/zerolog"

	"github.com/midlaj1055/live-chat/internal/metrics"
)

const sep = 0x00

// Options configures a Cache.
type Options struct {
	// Name is the current cache version, e.g. "live-chat-v1".
	Name string
	// Precache lists the request paths stored by Install.
	Precache []string
	// OfflinePath is served when the network fails and the request is not cached.
	OfflinePath string
	Fetcher     Fetcher
	Logger      zerolog.Logger
	// FS overrides the filesystem, e.g. vfs.NewMem() in tests.
	FS vfs.FS
}

// Cache is a pebble-backed request cache.
type Cache struct {
	db      *pebble.DB
	name    string
	assets  []string
	offline string
	fetcher Fetcher
	logger  zerolog.Logger
}

// Open opens (or creates) the cache database in dir.
func Open(dir string, opts Options) (*Cache, error) {
	if opts.Name == "" {
		return nil, errors.New("assetcache: cache name required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("assetcache: fetcher required")
	}
	popts := &pebble.Options{}
	if opts.FS != nil {
		popts.FS = opts.FS
	} else if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	db, err := pebble.Open(dir, popts)
	if err != nil {
		return nil, err
	}
	return &Cache{
		db:      db,
		name:    opts.Name,
		assets:  opts.Precache,
		offline: opts.OfflinePath,
		fetcher: opts.Fetcher,
		logger:  opts.Logger,
	}, nil
}

// Close closes the database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Name returns the current cache name.
func (c *Cache) Name() string {
	return c.name
}

func entryKey(name, target string) []byte {
	k := make([]byte, 0, len(name)+1+len(target))
	k = append(k, name...)
	k = append(k, sep)
	return append(k, target...)
}

// Install stores every precache asset under the current name. Assets that
// cannot be fetched are skipped.
func (c *Cache) Install(ctx context.Context) error {
	stored := 0
	for _, target := range c.assets {
		resp, err := c.fetcher.Fetch(ctx, http.MethodGet, target)
		if err != nil {
			c.logger.Warn().Err(err).Str("asset", target).Msg("precache fetch failed")
			continue
		}
		if resp.Status != http.StatusOK {
			c.logger.Warn().Int("status", resp.Status).Str("asset", target).Msg("precache asset unavailable")
			continue
		}
		if err := c.Put(target, resp); err != nil {
			return err
		}
		stored++
	}
	c.logger.Info().Str("cache", c.name).Int("stored", stored).Int("listed", len(c.assets)).Msg("asset cache installed")
	return nil
}

// Activate deletes every cache whose name is not the current one and
// returns the purged names.
func (c *Cache) Activate() ([]string, error) {
	names, err := c.Names()
	if err != nil {
		return nil, err
	}
	var purged []string
	for _, name := range names {
		if name == c.name {
			continue
		}
		start := entryKey(name, "")
		end := append([]byte(name), sep+1)
		if err := c.db.DeleteRange(start, end, pebble.Sync); err != nil {
			return purged, err
		}
		purged = append(purged, name)
	}
	if len(purged) > 0 {
		c.logger.Info().Strs("purged", purged).Msg("stale asset caches removed")
	}
	return purged, nil
}

// Names lists the cache names present in the database.
func (c *Cache) Names() ([]string, error) {
	it, err := c.db.NewIter(nil)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var names []string
	for ok := it.First(); ok; {
		k := it.Key()
		i := bytes.IndexByte(k, sep)
		if i < 0 {
			ok = it.Next()
			continue
		}
		name := string(k[:i])
		names = append(names, name)
		ok = it.SeekGE(append([]byte(name), sep+1))
	}
	return names, it.Error()
}

// Match returns the cached response for target in the current cache.
func (c *Cache) Match(target string) (*Response, bool, error) {
	v, closer, err := c.db.Get(entryKey(c.name, target))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer closer.Close()

	var resp Response
	if err := json.Unmarshal(v, &resp); err != nil {
		return nil, false, err
	}
	return &resp, true, nil
}

// Put stores resp for target in the current cache.
func (c *Cache) Put(target string, resp *Response) error {
	v, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return c.db.Set(entryKey(c.name, target), v, pebble.Sync)
}

// ServeHTTP answers from the cache first and the network second. Network
// 200s are stored; when the network is down the offline document stands in.
func (c *Cache) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	target := r.URL.RequestURI()

	if r.Method != http.MethodGet {
		resp, err := c.fetcher.Fetch(ctx, r.Method, target)
		if err != nil {
			http.Error(w, "asset origin unavailable", http.StatusBadGateway)
			return
		}
		c.write(w, resp, "BYPASS")
		return
	}

	if resp, ok, err := c.Match(target); err != nil {
		c.logger.Error().Err(err).Str("asset", target).Msg("asset cache read failed")
		metrics.AssetCacheLookups.WithLabelValues("error").Inc()
	} else if ok {
		metrics.AssetCacheLookups.WithLabelValues("hit").Inc()
		c.write(w, resp, "HIT")
		return
	}

	resp, err := c.fetcher.Fetch(ctx, http.MethodGet, target)
	if errors.Is(err, ErrAssetTooLarge) {
		c.logger.Warn().Err(err).Str("asset", target).Msg("asset not served")
		http.Error(w, "asset too large", http.StatusBadGateway)
		return
	}
	if err != nil {
		c.serveOffline(w, target, err)
		return
	}
	metrics.AssetCacheLookups.WithLabelValues("miss").Inc()
	if resp.Status == http.StatusOK {
		if err := c.Put(target, resp); err != nil {
			c.logger.Warn().Err(err).Str("asset", target).Msg("asset cache write failed")
		}
	}
	c.write(w, resp, "MISS")
}

func (c *Cache) serveOffline(w http.ResponseWriter, target string, cause error) {
	metrics.AssetCacheLookups.WithLabelValues("offline").Inc()
	c.logger.Debug().Err(cause).Str("asset", target).Msg("asset network fetch failed")
	if c.offline != "" {
		if resp, ok, err := c.Match(c.offline); err == nil && ok {
			c.write(w, resp, "OFFLINE")
			return
		}
	}
	http.Error(w, "offline", http.StatusServiceUnavailable)
}

func (c *Cache) write(w http.ResponseWriter, resp *Response, source string) {
	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set("X-Cache", source)
	w.Header().Set("Content-Length", strconv.Itoa(len(resp.Body)))
	w.WriteHeader(resp.Status)
	w.Write(resp.Body)
}
