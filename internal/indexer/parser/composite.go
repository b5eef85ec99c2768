package parser

import (
	"github.com/rs/zerolog"

	"github.com/shelfstream/shelfstream/internal/indexer/types"
)

// Composite runs a fixed extractor chain over every feed item. Items that
// end up without a title or download locator are dropped rather than failing
// the whole response.
type Composite struct {
	extractors []Extractor
	logger     zerolog.Logger
}

// NewComposite builds the standard extractor chain. scanDescriptions enables
// the description-scanning fallback for download links, which only bare RSS
// feeds need.
func NewComposite(scanDescriptions bool, logger zerolog.Logger) *Composite {
	return &Composite{
		extractors: []Extractor{
			TitleExtractor{},
			GUIDExtractor{},
			DownloadURLExtractor{ScanDescription: scanDescriptions},
			SizeExtractor{},
			PublishDateExtractor{},
			PeersExtractor{},
			CategoryExtractor{},
			BookMetadataExtractor{},
			AttributesExtractor{},
		},
		logger: logger,
	}
}

// Parse turns decoded feed items into releases, tagging each with the
// indexer name and protocol.
func (c *Composite) Parse(feed *Feed, indexerName string, protocol types.Protocol) []types.ReleaseInfo {
	releases := make([]types.ReleaseInfo, 0, len(feed.Channel.Items))
	for i := range feed.Channel.Items {
		item := &feed.Channel.Items[i]
		release := types.ReleaseInfo{
			IndexerName: indexerName,
			Protocol:    protocol,
		}
		for _, ex := range c.extractors {
			ex.Extract(item, &release)
		}
		if release.Title == "" || release.DownloadURL == "" {
			c.logger.Debug().
				Str("indexer", indexerName).
				Str("guid", release.GUID).
				Msg("dropping feed item without title or download link")
			continue
		}
		releases = append(releases, release)
	}
	return releases
}
