// Package torznab implements the Torznab indexer dialect: newznab-style
// query parameters over RSS with torznab:attr metadata, as spoken by
// Jackett and Prowlarr endpoints.
package torznab

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/shelfstream/shelfstream/internal/indexer/parser"
	"github.com/shelfstream/shelfstream/internal/indexer/types"
	"github.com/shelfstream/shelfstream/internal/provider"
)

const defaultAPIPath = "/api"

// maxResponseSize bounds feed reads so a misbehaving indexer cannot exhaust
// memory.
const maxResponseSize = 20 * 1024 * 1024

// Client talks to a Torznab endpoint.
type Client struct {
	config *types.IndexerConfig
	client *http.Client
	parser *parser.Composite
	logger zerolog.Logger

	protocol types.Protocol
}

var _ types.Indexer = (*Client)(nil)

// New creates a Torznab indexer client.
func New(cfg *types.IndexerConfig, logger zerolog.Logger) (*Client, error) {
	return NewDialect(cfg, types.ProtocolTorrent, logger)
}

// NewDialect creates a client speaking the newznab query protocol for the
// given release protocol. Newznab endpoints reuse everything here except
// the protocol tag.
func NewDialect(cfg *types.IndexerConfig, protocol types.Protocol, logger zerolog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("indexer %q: base URL is required", cfg.Name)
	}
	log := logger.With().Str("indexer", cfg.Name).Logger()
	return &Client{
		config:   cfg,
		client:   &http.Client{Timeout: cfg.TimeoutOrDefault()},
		parser:   parser.NewComposite(false, log),
		logger:   log,
		protocol: protocol,
	}, nil
}

func (c *Client) Name() string { return c.config.Name }

// Test fetches the caps document to verify the endpoint and API key.
func (c *Client) Test(ctx context.Context) error {
	params := url.Values{}
	params.Set("t", "caps")
	if c.config.APIKey != "" {
		params.Set("apikey", c.config.APIKey)
	}

	body, err := c.get(ctx, params)
	if err != nil {
		return err
	}

	var caps capsResponse
	if err := xml.Unmarshal(body, &caps); err != nil {
		if mapped := c.mapErrorResponse(body); mapped != nil {
			return mapped
		}
		return provider.NewParseError(c.Name(), err)
	}
	return nil
}

// Search runs a t=search query and parses the feed.
func (c *Client) Search(ctx context.Context, criteria *types.SearchCriteria) ([]types.ReleaseInfo, error) {
	body, err := c.get(ctx, c.searchParams(criteria))
	if err != nil {
		return nil, err
	}

	feed, respErr, err := parser.DecodeFeed(body)
	if err != nil {
		return nil, provider.NewParseError(c.Name(), err)
	}
	if respErr != nil {
		return nil, c.mapCode(respErr.Code, respErr.Description)
	}
	return c.parser.Parse(feed, c.Name(), c.protocol), nil
}

func (c *Client) Capabilities() types.Capabilities {
	return types.Capabilities{
		SupportsSearch: true,
		SupportsRSS:    true,
		Categories:     c.categories(),
	}
}

// searchParams builds the query in the parameter order Torznab endpoints
// conventionally log, with extended attributes always requested.
func (c *Client) searchParams(criteria *types.SearchCriteria) url.Values {
	params := url.Values{}
	params.Set("t", "search")
	params.Set("extended", "1")
	if c.config.APIKey != "" {
		params.Set("apikey", c.config.APIKey)
	}
	if term := criteria.Term(); term != "" {
		params.Set("q", term)
	}

	cats := criteria.Categories
	if len(cats) == 0 {
		cats = c.categories()
	}
	if len(cats) > 0 {
		params.Set("cat", types.JoinCategories(cats))
	}

	params.Set("offset", strconv.Itoa(criteria.Offset))
	params.Set("limit", strconv.Itoa(criteria.LimitOrDefault()))
	return params
}

func (c *Client) categories() []int {
	if len(c.config.Categories) > 0 {
		return c.config.Categories
	}
	return types.DefaultBookCategories()
}

func (c *Client) apiURL(params url.Values) string {
	base := strings.TrimRight(c.config.BaseURL, "/")
	path := c.config.APIPath
	if path == "" {
		path = defaultAPIPath
	}
	return base + path + "?" + params.Encode()
}

func (c *Client) get(ctx context.Context, params url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL(params), nil)
	if err != nil {
		return nil, provider.FromRequestError(c.Name(), err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, provider.FromRequestError(c.Name(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, provider.FromRequestError(c.Name(), err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, provider.NewAuthError(c.Name(), "api key rejected")
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, provider.NewRateLimitError(c.Name(), "")
	case resp.StatusCode != http.StatusOK:
		return nil, provider.NewNetworkError(c.Name(), resp.StatusCode, body)
	}
	return body, nil
}

// mapErrorResponse tries to read a structured error element out of a body
// that failed to parse as the expected document.
func (c *Client) mapErrorResponse(body []byte) error {
	var respErr parser.ResponseError
	if err := xml.Unmarshal(body, &respErr); err != nil {
		return nil
	}
	return c.mapCode(respErr.Code, respErr.Description)
}

// mapCode translates Torznab error codes: the 100 block covers credential
// problems, everything else is a provider-side fault unless the description
// names a rate limit.
func (c *Client) mapCode(code int, description string) error {
	if code >= 100 && code < 200 {
		return provider.NewAuthError(c.Name(), fmt.Sprintf("error %d: %s", code, description))
	}
	lower := strings.ToLower(description)
	if strings.Contains(lower, "rate") || strings.Contains(lower, "limit") {
		return provider.NewRateLimitError(c.Name(), description)
	}
	return provider.NewProtocolFault(c.Name(), fmt.Sprintf("error %d: %s", code, description))
}

// capsResponse is the subset of the caps document Test needs to see.
type capsResponse struct {
	XMLName   xml.Name `xml:"caps"`
	Searching struct {
		Search struct {
			Available string `xml:"available,attr"`
		} `xml:"search"`
	} `xml:"searching"`
}
