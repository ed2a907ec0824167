// Package media fetches patient photos from gateway URLs and stores original
// and processed images in object storage.
package media

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultFetchTimeout bounds one media download.
const DefaultFetchTimeout = 30 * time.Second

// Fetcher downloads media referenced by webhook payloads.
type Fetcher interface {
	// Fetch downloads the media at url and returns the raw bytes and the
	// content type reported by the server.
	Fetch(ctx context.Context, url string) ([]byte, string, error)
}

// HTTPFetcher downloads media over HTTP.
type HTTPFetcher struct {
	http *resty.Client
}

var _ Fetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher creates a media fetcher with the default timeout.
func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{
		http: resty.New().SetTimeout(DefaultFetchTimeout),
	}
}

// Fetch downloads the media at url.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	resp, err := f.http.R().SetContext(ctx).Get(url)
	if err != nil {
		slog.Error("media.Fetch: request failed", "error", err, "url", url)
		return nil, "", fmt.Errorf("media fetch request failed: %w", err)
	}
	if resp.IsError() {
		slog.Error("media.Fetch: server error", "status", resp.StatusCode(), "url", url)
		return nil, "", fmt.Errorf("media fetch failed: server returned status %d", resp.StatusCode())
	}
	contentType := resp.Header().Get("Content-Type")
	slog.Debug("media.Fetch: downloaded", "url", url, "bytes", len(resp.Body()), "contentType", contentType)
	return resp.Body(), contentType, nil
}
