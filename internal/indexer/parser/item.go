// Package parser decodes indexer feed responses into releases through a set
// of small single-field extractors composed by Composite. Torznab, Newznab,
// and plain RSS all feed the same extractor set; dialect differences live in
// which attributes an item carries, not in separate parsers.
package parser

import (
	"encoding/xml"
	"strings"
	"time"
)

// Feed is a decoded RSS/Torznab response envelope.
type Feed struct {
	Channel struct {
		Title string `xml:"title"`
		Items []Item `xml:"item"`
	} `xml:"channel"`
}

// ResponseError is the structured <error code=".." description=".."/>
// element some indexers return instead of a feed.
type ResponseError struct {
	XMLName     xml.Name `xml:"error"`
	Code        int      `xml:"code,attr"`
	Description string   `xml:"description,attr"`
}

// Item is one feed entry plus its namespaced attributes.
type Item struct {
	Title       string    `xml:"title"`
	Link        string    `xml:"link"`
	GUID        string    `xml:"guid"`
	Comments    string    `xml:"comments"`
	Description string    `xml:"description"`
	PubDate     string    `xml:"pubDate"`
	Size        int64     `xml:"size"`
	Enclosure   Enclosure `xml:"enclosure"`

	// Attrs collects torznab:attr / newznab:attr elements. The decoder
	// matches on the local name, so both namespaces land here.
	Attrs []Attr `xml:"attr"`
}

// Enclosure is the RSS enclosure element.
type Enclosure struct {
	URL    string `xml:"url,attr"`
	Length int64  `xml:"length,attr"`
	Type   string `xml:"type,attr"`
}

// Attr is one namespaced name/value attribute element.
type Attr struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// Attr returns the first value for a named attribute, or "".
func (i *Item) Attr(name string) string {
	for _, a := range i.Attrs {
		if strings.EqualFold(a.Name, name) {
			return a.Value
		}
	}
	return ""
}

// AttrValues returns every value for a named attribute.
func (i *Item) AttrValues(name string) []string {
	var values []string
	for _, a := range i.Attrs {
		if strings.EqualFold(a.Name, name) {
			values = append(values, a.Value)
		}
	}
	return values
}

// DecodeFeed parses a feed body. A structured error element is returned as
// *ResponseError so callers can map the code; malformed XML returns the
// decode error.
func DecodeFeed(data []byte) (*Feed, *ResponseError, error) {
	var respErr ResponseError
	if err := xml.Unmarshal(data, &respErr); err == nil {
		return nil, &respErr, nil
	}

	var feed Feed
	if err := xml.Unmarshal(data, &feed); err != nil {
		return nil, nil, err
	}
	return &feed, nil, nil
}

// dateLayouts covers the pubDate formats seen across indexers.
var dateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"Mon, 02 Jan 2006 15:04:05 -0700",
}

// ParseDate tries the known pubDate layouts, returning the zero time when
// none match.
func ParseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
