// Package mock implements an in-memory indexer backed by a small built-in
// book catalog. It exists for development and integration tests where a real
// indexer is unavailable.
package mock

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shelfstream/shelfstream/internal/indexer/types"
)

// book is one catalog entry; each entry yields a release per format.
type book struct {
	Title   string
	Author  string
	ISBN    string
	Formats []string
}

var catalog = []book{
	{"Dune", "Frank Herbert", "9780441013593", []string{"epub", "mobi"}},
	{"Neuromancer", "William Gibson", "9780441569595", []string{"epub", "pdf"}},
	{"The Left Hand of Darkness", "Ursula K. Le Guin", "9780441478125", []string{"epub"}},
	{"Snow Crash", "Neal Stephenson", "9780553380958", []string{"epub", "azw3"}},
	{"A Memory Called Empire", "Arkady Martine", "9781250186430", []string{"epub", "pdf"}},
}

// Client serves releases from the built-in catalog.
type Client struct {
	config   *types.IndexerConfig
	releases []types.ReleaseInfo
}

var _ types.Indexer = (*Client)(nil)

// New creates a mock indexer.
func New(cfg *types.IndexerConfig) *Client {
	return &Client{
		config:   cfg,
		releases: buildReleases(cfg.Name),
	}
}

func (c *Client) Name() string { return c.config.Name }

func (c *Client) Test(ctx context.Context) error { return nil }

// Search matches the effective term against title, author, and ISBN. An
// empty term returns the whole catalog.
func (c *Client) Search(ctx context.Context, criteria *types.SearchCriteria) ([]types.ReleaseInfo, error) {
	term := strings.ToLower(criteria.Term())
	if term == "" {
		return c.releases, nil
	}

	matched := []types.ReleaseInfo{}
	for _, r := range c.releases {
		haystack := strings.ToLower(r.Title + " " + r.Author + " " + r.ISBN)
		if strings.Contains(haystack, term) {
			matched = append(matched, r)
		}
	}
	return matched, nil
}

func (c *Client) Capabilities() types.Capabilities {
	return types.Capabilities{
		SupportsSearch: true,
		SupportsRSS:    true,
		Categories:     types.DefaultBookCategories(),
	}
}

func buildReleases(indexerName string) []types.ReleaseInfo {
	published := time.Date(2025, 1, 15, 8, 0, 0, 0, time.UTC)

	var releases []types.ReleaseInfo
	for i, b := range catalog {
		for j, format := range b.Formats {
			id := fmt.Sprintf("mock-%d-%s", i+1, format)
			releases = append(releases, types.ReleaseInfo{
				GUID:        id,
				Title:       fmt.Sprintf("%s - %s [%s]", b.Title, b.Author, strings.ToUpper(format)),
				DownloadURL: fmt.Sprintf("magnet:?xt=urn:btih:%040d&dn=%s", i*10+j, id),
				Size:        int64(2+i) * 1024 * 1024,
				PublishDate: published.AddDate(0, 0, i),
				Categories:  []int{types.CategoryEBooks},
				Seeders:     25 - i*3,
				Leechers:    i + 1,
				Author:      b.Author,
				ISBN:        b.ISBN,
				Quality:     format,
				IndexerName: indexerName,
				Protocol:    types.ProtocolTorrent,
			})
		}
	}
	return releases
}
