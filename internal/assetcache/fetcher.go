package assetcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

const maxAssetSize = 16 << 20

// ErrAssetTooLarge is returned for a body over the fetcher's size limit.
var ErrAssetTooLarge = errors.New("assetcache: asset too large")

// Response is a fetched or cached asset.
type Response struct {
	Status int         `json:"status"`
	Header http.Header `json:"header"`
	Body   []byte      `json:"body"`
}

// Fetcher is the network side of the cache. An error means the network
// is unavailable; HTTP failures are returned as responses.
type Fetcher interface {
	Fetch(ctx context.Context, method, target string) (*Response, error)
}

// HTTPFetcher fetches assets from an origin server.
type HTTPFetcher struct {
	Origin string
	Client *http.Client
	// MaxSize bounds a body in bytes; zero means 16 MiB.
	MaxSize int64
}

// NewHTTPFetcher creates a fetcher for origin.
func NewHTTPFetcher(origin string) *HTTPFetcher {
	return &HTTPFetcher{
		Origin: strings.TrimSuffix(origin, "/"),
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Fetch requests target from the origin.
func (f *HTTPFetcher) Fetch(ctx context.Context, method, target string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, f.Origin+target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	limit := f.MaxSize
	if limit <= 0 {
		limit = maxAssetSize
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("%w: %s", ErrAssetTooLarge, target)
	}
	header := http.Header{}
	for _, k := range []string{"Content-Type", "Cache-Control", "Last-Modified", "Etag"} {
		if v := resp.Header.Get(k); v != "" {
			header.Set(k, v)
		}
	}
	return &Response{Status: resp.StatusCode, Header: header, Body: body}, nil
}

// DirFetcher serves assets from a local directory. A URL prefix is
// stripped before the path is resolved under Root.
type DirFetcher struct {
	Root   string
	Prefix string
}

// Fetch reads target from the directory. Directories resolve to their
// index.html.
func (f DirFetcher) Fetch(ctx context.Context, method, target string) (*Response, error) {
	if method != http.MethodGet && method != http.MethodHead {
		return &Response{Status: http.StatusMethodNotAllowed, Header: http.Header{}}, nil
	}
	p := target
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	p = strings.TrimPrefix(path.Clean("/"+p), path.Clean("/"+f.Prefix))
	if p == "" || strings.HasSuffix(target, "/") {
		p = path.Join(p, "index.html")
	}
	name := filepath.Join(f.Root, filepath.FromSlash(path.Clean("/"+p)))

	info, err := os.Stat(name)
	if err == nil && info.IsDir() {
		name = filepath.Join(name, "index.html")
		info, err = os.Stat(name)
	}
	if err == nil && info.Size() > maxAssetSize {
		return nil, fmt.Errorf("%w: %s", ErrAssetTooLarge, target)
	}
	body, err := os.ReadFile(name)
	if errors.Is(err, fs.ErrNotExist) {
		return &Response{Status: http.StatusNotFound, Header: http.Header{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read asset: %w", err)
	}

	header := http.Header{}
	ctype := mime.TypeByExtension(filepath.Ext(name))
	if ctype == "" {
		ctype = http.DetectContentType(body)
	}
	header.Set("Content-Type", ctype)
	return &Response{Status: http.StatusOK, Header: header, Body: body}, nil
}
