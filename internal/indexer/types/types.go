// Package types contains shared type definitions for indexer packages.
package types

import (
	"context"
	"time"
)

// Protocol represents the download protocol a release belongs to.
type Protocol string

const (
	ProtocolTorrent Protocol = "torrent"
	ProtocolUsenet  Protocol = "usenet"
)

// IndexerType represents the type of indexer API.
type IndexerType string

const (
	IndexerTypeTorznab    IndexerType = "torznab"
	IndexerTypeNewznab    IndexerType = "newznab"
	IndexerTypeGenericRSS IndexerType = "genericrss"
	IndexerTypeMock       IndexerType = "mock"
)

// IndexerConfig is the validated configuration for one indexer instance.
// Constructed once when the indexer is built and read-only afterwards.
type IndexerConfig struct {
	Name    string `json:"name"`
	BaseURL string `json:"baseUrl"`
	APIPath string `json:"apiPath,omitempty"`
	APIKey  string `json:"apiKey,omitempty"`

	// Feed-style indexers.
	FeedURL string `json:"feedUrl,omitempty"`
	Cookie  string `json:"cookie,omitempty"`

	Categories []int         `json:"categories,omitempty"`
	Timeout    time.Duration `json:"timeout,omitempty"`

	// FeedCacheTTL bounds how long a fetched feed is reused for
	// client-side filtering. Zero means the genericrss default.
	FeedCacheTTL time.Duration `json:"feedCacheTtl,omitempty"`
}

// TimeoutOrDefault returns the configured timeout or 30 seconds.
func (c *IndexerConfig) TimeoutOrDefault() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return 30 * time.Second
}

// SearchCriteria defines search parameters. Term precedence when several
// are set: Title, then Author, then ISBN, then Query.
type SearchCriteria struct {
	Query  string `json:"query,omitempty"`
	Title  string `json:"title,omitempty"`
	Author string `json:"author,omitempty"`
	ISBN   string `json:"isbn,omitempty"`

	Categories []int `json:"categories,omitempty"`
	Limit      int   `json:"limit,omitempty"`
	Offset     int   `json:"offset,omitempty"`
}

// Term returns the effective search term under the precedence contract.
func (c *SearchCriteria) Term() string {
	for _, term := range []string{c.Title, c.Author, c.ISBN, c.Query} {
		if term != "" {
			return term
		}
	}
	return ""
}

// LimitOrDefault returns the configured page size or 100.
func (c *SearchCriteria) LimitOrDefault() int {
	if c.Limit > 0 {
		return c.Limit
	}
	return 100
}

// ReleaseInfo represents one search result. It is a value produced by
// parsing and never mutated afterwards.
type ReleaseInfo struct {
	GUID        string    `json:"guid"`
	Title       string    `json:"title"`
	DownloadURL string    `json:"downloadUrl"`
	InfoURL     string    `json:"infoUrl,omitempty"`
	Description string    `json:"description,omitempty"`
	Size        int64     `json:"size,omitempty"`
	PublishDate time.Time `json:"publishDate,omitempty"`
	Categories  []int     `json:"categories,omitempty"`

	// Torrent-only health figures; -1 when the indexer did not report them.
	Seeders  int `json:"seeders,omitempty"`
	Leechers int `json:"leechers,omitempty"`

	// Book metadata.
	Author  string `json:"author,omitempty"`
	ISBN    string `json:"isbn,omitempty"`
	Quality string `json:"quality,omitempty"` // epub, pdf, mobi, azw

	IndexerName string   `json:"indexer"`
	Protocol    Protocol `json:"protocol"`

	// Attributes preserves namespaced attrs not lifted into a field.
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Indexer is the interface all indexer implementations satisfy.
type Indexer interface {
	Name() string
	Test(ctx context.Context) error
	Search(ctx context.Context, criteria *SearchCriteria) ([]ReleaseInfo, error)
	Capabilities() Capabilities
}

// Capabilities describes what an indexer supports.
type Capabilities struct {
	SupportsSearch bool  `json:"supportsSearch"`
	SupportsRSS    bool  `json:"supportsRss"`
	Categories     []int `json:"categories,omitempty"`
}
