// Package genericrss implements an indexer over a plain RSS feed with no
// search API. The feed URL is fetched as-is and search terms are matched
// against item titles client side, so searches stay cheap against feeds
// that republish the same items for hours.
package genericrss

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/shelfstream/shelfstream/internal/indexer/parser"
	"github.com/shelfstream/shelfstream/internal/indexer/types"
	"github.com/shelfstream/shelfstream/internal/provider"
)

const defaultCacheTTL = 5 * time.Minute

const maxFeedSize = 20 * 1024 * 1024

// Client serves searches from a single RSS feed.
type Client struct {
	config *types.IndexerConfig
	client *http.Client
	parser *parser.Composite
	logger zerolog.Logger

	mu        sync.Mutex
	cached    []types.ReleaseInfo
	fetchedAt time.Time

	// now is swapped in tests to step the cache clock.
	now func() time.Time
}

var _ types.Indexer = (*Client)(nil)

// New creates a generic RSS indexer client.
func New(cfg *types.IndexerConfig, logger zerolog.Logger) (*Client, error) {
	if cfg.FeedURL == "" {
		return nil, fmt.Errorf("rss indexer %q: feed URL is required", cfg.Name)
	}
	log := logger.With().Str("indexer", cfg.Name).Logger()
	return &Client{
		config: cfg,
		client: &http.Client{Timeout: cfg.TimeoutOrDefault()},
		parser: parser.NewComposite(true, log),
		logger: log,
		now:    time.Now,
	}, nil
}

func (c *Client) Name() string { return c.config.Name }

// Test fetches the feed and requires at least one usable item.
func (c *Client) Test(ctx context.Context) error {
	releases, err := c.fetchFeed(ctx)
	if err != nil {
		return err
	}
	if len(releases) == 0 {
		return provider.NewParseError(c.Name(), fmt.Errorf("feed returned no usable items"))
	}
	return nil
}

// Search returns feed items whose titles contain every word of the search
// term. An empty term returns the whole feed, which is how RSS polling
// consumes this indexer.
func (c *Client) Search(ctx context.Context, criteria *types.SearchCriteria) ([]types.ReleaseInfo, error) {
	releases, err := c.cachedFeed(ctx)
	if err != nil {
		return nil, err
	}

	term := strings.ToLower(criteria.Term())
	if term == "" {
		return releases, nil
	}

	words := strings.Fields(term)
	var matched []types.ReleaseInfo
	for _, r := range releases {
		title := strings.ToLower(r.Title)
		ok := true
		for _, w := range words {
			if !strings.Contains(title, w) {
				ok = false
				break
			}
		}
		if ok {
			matched = append(matched, r)
		}
	}
	if matched == nil {
		matched = []types.ReleaseInfo{}
	}
	return matched, nil
}

func (c *Client) Capabilities() types.Capabilities {
	return types.Capabilities{
		SupportsSearch: false,
		SupportsRSS:    true,
		Categories:     c.config.Categories,
	}
}

// cacheTTL returns the configured reuse window. Zero config means the
// default; a negative value disables caching entirely.
func (c *Client) cacheTTL() time.Duration {
	switch {
	case c.config.FeedCacheTTL < 0:
		return 0
	case c.config.FeedCacheTTL > 0:
		return c.config.FeedCacheTTL
	default:
		return defaultCacheTTL
	}
}

func (c *Client) cachedFeed(ctx context.Context) ([]types.ReleaseInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ttl := c.cacheTTL(); ttl > 0 && c.cached != nil && c.now().Sub(c.fetchedAt) < ttl {
		return c.cached, nil
	}

	releases, err := c.fetchFeed(ctx)
	if err != nil {
		// Serve a stale cache over failing the search outright.
		if c.cached != nil {
			c.logger.Warn().Err(err).Msg("feed refresh failed, serving cached items")
			return c.cached, nil
		}
		return nil, err
	}

	c.cached = releases
	c.fetchedAt = c.now()
	return releases, nil
}

func (c *Client) fetchFeed(ctx context.Context) ([]types.ReleaseInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.FeedURL, nil)
	if err != nil {
		return nil, provider.FromRequestError(c.Name(), err)
	}
	if c.config.Cookie != "" {
		req.Header.Set("Cookie", c.config.Cookie)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, provider.FromRequestError(c.Name(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedSize))
	if err != nil {
		return nil, provider.FromRequestError(c.Name(), err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, provider.NewAuthError(c.Name(), "feed rejected the configured cookie")
	case resp.StatusCode != http.StatusOK:
		return nil, provider.NewNetworkError(c.Name(), resp.StatusCode, body)
	}

	feed, respErr, err := parser.DecodeFeed(body)
	if err != nil {
		return nil, provider.NewParseError(c.Name(), err)
	}
	if respErr != nil {
		return nil, provider.NewProtocolFault(c.Name(), fmt.Sprintf("error %d: %s", respErr.Code, respErr.Description))
	}
	return c.parser.Parse(feed, c.Name(), types.ProtocolTorrent), nil
}
