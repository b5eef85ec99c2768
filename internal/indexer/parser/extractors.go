package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/shelfstream/shelfstream/internal/indexer/types"
)

// Extractor fills one logical field of a release from a feed item. Missing
// data leaves the field untouched; extractors never fail.
type Extractor interface {
	Extract(item *Item, release *types.ReleaseInfo)
}

// TitleExtractor copies the item title, trimmed.
type TitleExtractor struct{}

func (TitleExtractor) Extract(item *Item, release *types.ReleaseInfo) {
	release.Title = strings.TrimSpace(item.Title)
	release.Description = strings.TrimSpace(item.Description)
}

// GUIDExtractor prefers the guid element and falls back to the link so every
// release gets a stable identity.
type GUIDExtractor struct{}

func (GUIDExtractor) Extract(item *Item, release *types.ReleaseInfo) {
	release.GUID = strings.TrimSpace(item.GUID)
	if release.GUID == "" {
		release.GUID = strings.TrimSpace(item.Link)
	}
	release.InfoURL = strings.TrimSpace(item.Comments)
}

var (
	magnetPattern  = regexp.MustCompile(`magnet:\?[^\s"'<]+`)
	torrentPattern = regexp.MustCompile(`https?://[^\s"'<]+\.torrent[^\s"'<]*`)
)

// DownloadURLExtractor resolves the download locator: magneturl attribute,
// then enclosure, then the link element. With ScanDescription set it also
// hunts in the item description for a magnet or .torrent link as a last
// resort, which some bare RSS feeds require.
type DownloadURLExtractor struct {
	ScanDescription bool
}

func (e DownloadURLExtractor) Extract(item *Item, release *types.ReleaseInfo) {
	if magnet := item.Attr("magneturl"); magnet != "" {
		release.DownloadURL = magnet
		return
	}
	if item.Enclosure.URL != "" {
		release.DownloadURL = item.Enclosure.URL
		return
	}
	if link := strings.TrimSpace(item.Link); link != "" {
		release.DownloadURL = link
		return
	}
	if e.ScanDescription {
		release.DownloadURL = scanDescription(item.Description)
	}
}

func scanDescription(desc string) string {
	if desc == "" {
		return ""
	}
	// Prefer anchor hrefs so display text does not shadow the real link.
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(desc)); err == nil {
		var found string
		doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			href, _ := sel.Attr("href")
			if magnetPattern.MatchString(href) || torrentPattern.MatchString(href) {
				found = href
				return false
			}
			return true
		})
		if found != "" {
			return found
		}
	}
	if m := magnetPattern.FindString(desc); m != "" {
		return m
	}
	return torrentPattern.FindString(desc)
}

// SizeExtractor reads the size attribute, then the size element, then the
// enclosure length.
type SizeExtractor struct{}

func (SizeExtractor) Extract(item *Item, release *types.ReleaseInfo) {
	if attr := item.Attr("size"); attr != "" {
		if n, err := strconv.ParseInt(attr, 10, 64); err == nil && n > 0 {
			release.Size = n
			return
		}
		if n := ParseSize(attr); n > 0 {
			release.Size = n
			return
		}
	}
	if item.Size > 0 {
		release.Size = item.Size
		return
	}
	if item.Enclosure.Length > 0 {
		release.Size = item.Enclosure.Length
	}
}

// PublishDateExtractor parses pubDate across the layouts indexers actually
// emit, leaving the zero time when none match.
type PublishDateExtractor struct{}

func (PublishDateExtractor) Extract(item *Item, release *types.ReleaseInfo) {
	release.PublishDate = ParseDate(item.PubDate)
}

// PeersExtractor reads seeders and peers attributes. Torznab reports total
// peers, so leechers is peers minus seeders, floored at zero. Missing
// figures stay -1 so callers can tell "none" from "unknown".
type PeersExtractor struct{}

func (PeersExtractor) Extract(item *Item, release *types.ReleaseInfo) {
	release.Seeders = -1
	release.Leechers = -1

	seeders, haveSeeders := intAttr(item, "seeders")
	if haveSeeders {
		release.Seeders = seeders
	}
	if peers, ok := intAttr(item, "peers"); ok && haveSeeders {
		release.Leechers = peers - seeders
		if release.Leechers < 0 {
			release.Leechers = 0
		}
	}
}

// CategoryExtractor collects numeric category attributes.
type CategoryExtractor struct{}

func (CategoryExtractor) Extract(item *Item, release *types.ReleaseInfo) {
	for _, v := range item.AttrValues("category") {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			release.Categories = append(release.Categories, n)
		}
	}
}

// qualityTokens is ordered; the first token found in the title wins.
var qualityTokens = []string{"epub", "pdf", "mobi", "azw3", "azw"}

// BookMetadataExtractor pulls author, ISBN, and format quality. Quality comes
// from the format/booktype attribute when present, otherwise from a token
// scan of the title.
type BookMetadataExtractor struct{}

func (BookMetadataExtractor) Extract(item *Item, release *types.ReleaseInfo) {
	release.Author = strings.TrimSpace(item.Attr("author"))
	release.ISBN = strings.TrimSpace(item.Attr("isbn"))

	if format := item.Attr("format"); format != "" {
		release.Quality = strings.ToLower(strings.TrimSpace(format))
		return
	}
	if format := item.Attr("booktype"); format != "" {
		release.Quality = strings.ToLower(strings.TrimSpace(format))
		return
	}
	title := strings.ToLower(item.Title)
	for _, token := range qualityTokens {
		if strings.Contains(title, token) {
			release.Quality = token
			return
		}
	}
}

// AttributesExtractor keeps the raw attribute map so callers can read
// dialect-specific fields the typed extractors do not cover.
type AttributesExtractor struct{}

func (AttributesExtractor) Extract(item *Item, release *types.ReleaseInfo) {
	if len(item.Attrs) == 0 {
		return
	}
	release.Attributes = make(map[string]string, len(item.Attrs))
	for _, a := range item.Attrs {
		if _, ok := release.Attributes[a.Name]; !ok {
			release.Attributes[a.Name] = a.Value
		}
	}
}

func intAttr(item *Item, name string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(item.Attr(name)))
	if err != nil {
		return 0, false
	}
	return n, true
}
