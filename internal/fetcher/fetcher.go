// Package fetcher retrieves .torrent and .nzb payloads over HTTP for
// clients that cannot follow URLs themselves.
package fetcher

import (
	"context"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/shelfstream/shelfstream/internal/provider"
)

// Fetcher retrieves the content behind a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// maxPayloadSize bounds fetched torrent/nzb files.
const maxPayloadSize = 50 * 1024 * 1024 // 50 MB

// HTTP is the default Fetcher backed by net/http.
type HTTP struct {
	client *http.Client
	logger zerolog.Logger
}

// NewHTTP creates an HTTP fetcher sharing one underlying client.
func NewHTTP(client *http.Client, logger zerolog.Logger) *HTTP {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTP{
		client: client,
		logger: logger.With().Str("component", "fetcher").Logger(),
	}
}

// Fetch downloads the URL content, bounded to maxPayloadSize.
func (f *HTTP) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, provider.Wrap("fetcher", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, provider.FromRequestError("fetcher", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, provider.NewNetworkError("fetcher", resp.StatusCode, body)
	}

	content, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadSize))
	if err != nil {
		return nil, provider.FromRequestError("fetcher", err)
	}

	f.logger.Debug().Str("url", url).Int("bytes", len(content)).Msg("payload fetched")
	return content, nil
}
