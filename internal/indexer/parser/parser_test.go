package parser

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfstream/shelfstream/internal/indexer/types"
)

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:torznab="http://torznab.com/schemas/2015/feed">
  <channel>
    <title>BookIndex</title>
    <item>
      <title>Dune - Frank Herbert [EPUB]</title>
      <guid>https://bookindex.example/details/42</guid>
      <comments>https://bookindex.example/details/42#comments</comments>
      <link>https://bookindex.example/download/42.torrent</link>
      <pubDate>Sat, 01 Mar 2025 10:30:00 +0000</pubDate>
      <size>1258291</size>
      <enclosure url="https://bookindex.example/enclosure/42.torrent" length="1258291" type="application/x-bittorrent"/>
      <torznab:attr name="category" value="7000"/>
      <torznab:attr name="category" value="7020"/>
      <torznab:attr name="seeders" value="12"/>
      <torznab:attr name="peers" value="20"/>
      <torznab:attr name="author" value="Frank Herbert"/>
      <torznab:attr name="isbn" value="9780441013593"/>
      <torznab:attr name="magneturl" value="magnet:?xt=urn:btih:abc123"/>
    </item>
    <item>
      <title></title>
      <link>https://bookindex.example/download/43.torrent</link>
    </item>
  </channel>
</rss>`

func TestDecodeFeed_ParsesItemsAndAttrs(t *testing.T) {
	feed, respErr, err := DecodeFeed([]byte(sampleFeed))
	require.NoError(t, err)
	require.Nil(t, respErr)
	require.Len(t, feed.Channel.Items, 2)

	item := feed.Channel.Items[0]
	assert.Equal(t, "Dune - Frank Herbert [EPUB]", item.Title)
	assert.Equal(t, "magnet:?xt=urn:btih:abc123", item.Attr("magneturl"))
	assert.Equal(t, []string{"7000", "7020"}, item.AttrValues("category"))
	assert.Equal(t, int64(1258291), item.Enclosure.Length)
}

func TestDecodeFeed_StructuredError(t *testing.T) {
	_, respErr, err := DecodeFeed([]byte(`<error code="100" description="Incorrect user credentials"/>`))
	require.NoError(t, err)
	require.NotNil(t, respErr)
	assert.Equal(t, 100, respErr.Code)
	assert.Equal(t, "Incorrect user credentials", respErr.Description)
}

func TestDecodeFeed_MalformedXML(t *testing.T) {
	_, _, err := DecodeFeed([]byte(`<rss><channel><item>`))
	assert.Error(t, err)
}

func TestComposite_ExtractsFullRelease(t *testing.T) {
	feed, _, err := DecodeFeed([]byte(sampleFeed))
	require.NoError(t, err)

	releases := NewComposite(false, zerolog.Nop()).Parse(feed, "bookindex", types.ProtocolTorrent)
	require.Len(t, releases, 1)

	r := releases[0]
	assert.Equal(t, "Dune - Frank Herbert [EPUB]", r.Title)
	assert.Equal(t, "https://bookindex.example/details/42", r.GUID)
	assert.Equal(t, "https://bookindex.example/details/42#comments", r.InfoURL)
	assert.Equal(t, "magnet:?xt=urn:btih:abc123", r.DownloadURL)
	assert.Equal(t, int64(1258291), r.Size)
	assert.Equal(t, time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC), r.PublishDate.UTC())
	assert.Equal(t, []int{7000, 7020}, r.Categories)
	assert.Equal(t, 12, r.Seeders)
	assert.Equal(t, 8, r.Leechers)
	assert.Equal(t, "Frank Herbert", r.Author)
	assert.Equal(t, "9780441013593", r.ISBN)
	assert.Equal(t, "epub", r.Quality)
	assert.Equal(t, "bookindex", r.IndexerName)
	assert.Equal(t, types.ProtocolTorrent, r.Protocol)
	assert.Equal(t, "12", r.Attributes["seeders"])
}

func TestComposite_DropsItemsWithoutTitle(t *testing.T) {
	feed, _, err := DecodeFeed([]byte(sampleFeed))
	require.NoError(t, err)

	releases := NewComposite(false, zerolog.Nop()).Parse(feed, "bookindex", types.ProtocolTorrent)
	for _, r := range releases {
		assert.NotEmpty(t, r.Title)
		assert.NotEmpty(t, r.DownloadURL)
	}
	assert.Len(t, releases, 1)
}

func TestDownloadURLExtractor_Precedence(t *testing.T) {
	tests := []struct {
		name string
		item Item
		scan bool
		want string
	}{
		{
			name: "magnet attr wins over enclosure",
			item: Item{
				Attrs:     []Attr{{Name: "magneturl", Value: "magnet:?xt=urn:btih:aa"}},
				Enclosure: Enclosure{URL: "https://x.example/a.torrent"},
			},
			want: "magnet:?xt=urn:btih:aa",
		},
		{
			name: "enclosure wins over link",
			item: Item{
				Enclosure: Enclosure{URL: "https://x.example/a.torrent"},
				Link:      "https://x.example/details/1",
			},
			want: "https://x.example/a.torrent",
		},
		{
			name: "link when nothing else",
			item: Item{Link: "https://x.example/details/1"},
			want: "https://x.example/details/1",
		},
		{
			name: "description anchor scan",
			item: Item{Description: `<p>Get it <a href="magnet:?xt=urn:btih:bb&amp;dn=dune">here</a></p>`},
			scan: true,
			want: "magnet:?xt=urn:btih:bb&dn=dune",
		},
		{
			name: "description torrent link in plain text",
			item: Item{Description: `download at https://x.example/files/dune.torrent today`},
			scan: true,
			want: "https://x.example/files/dune.torrent",
		},
		{
			name: "no scan without flag",
			item: Item{Description: `magnet:?xt=urn:btih:cc`},
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var release types.ReleaseInfo
			DownloadURLExtractor{ScanDescription: tt.scan}.Extract(&tt.item, &release)
			assert.Equal(t, tt.want, release.DownloadURL)
		})
	}
}

func TestPeersExtractor_MissingAttrsStayUnknown(t *testing.T) {
	var release types.ReleaseInfo
	PeersExtractor{}.Extract(&Item{}, &release)
	assert.Equal(t, -1, release.Seeders)
	assert.Equal(t, -1, release.Leechers)
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"1.2 MB", 1258291},
		{"1258291", 1258291},
		{"700 KB", 716800},
		{"2 GiB", 2147483648},
		{"0.5 TB", 549755813888},
		{"1,024 KB", 1048576},
		{"", 0},
		{"lots", 0},
		{"-5 MB", 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseSize(tt.in), "input %q", tt.in)
	}
}

func TestParseDate_Layouts(t *testing.T) {
	assert.False(t, ParseDate("Sat, 01 Mar 2025 10:30:00 +0000").IsZero())
	assert.False(t, ParseDate("2025-03-01T10:30:00Z").IsZero())
	assert.False(t, ParseDate("2025-03-01 10:30:00").IsZero())
	assert.True(t, ParseDate("yesterday").IsZero())
}

func TestBookMetadataExtractor_QualityFromTitleTokens(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"Dune (EPUB)", "epub"},
		{"Dune pdf edition", "pdf"},
		{"Dune.azw3", "azw3"},
		{"Dune hardcover", ""},
	}
	for _, tt := range tests {
		var release types.ReleaseInfo
		BookMetadataExtractor{}.Extract(&Item{Title: tt.title}, &release)
		assert.Equal(t, tt.want, release.Quality, "title %q", tt.title)
	}
}

func TestBookMetadataExtractor_FormatAttrWins(t *testing.T) {
	item := Item{
		Title: "Dune [PDF]",
		Attrs: []Attr{{Name: "format", Value: "EPUB"}},
	}
	var release types.ReleaseInfo
	BookMetadataExtractor{}.Extract(&item, &release)
	assert.Equal(t, "epub", release.Quality)
}
