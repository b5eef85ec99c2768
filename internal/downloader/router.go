package downloader

import (
	"os"
	"strings"

	"github.com/shelfstream/shelfstream/internal/provider"
)

// DownloadType classifies a locator string.
type DownloadType string

const (
	DownloadTypeMagnet DownloadType = "magnet"
	DownloadTypeURL    DownloadType = "url"
	DownloadTypeFile   DownloadType = "file"
)

// Route classifies a locator as magnet, URL, or local file. Prefix checks
// run before the filesystem check so an http URL that happens to collide
// with a local path is never treated as a file.
func Route(locator string) (DownloadType, error) {
	switch {
	case strings.HasPrefix(locator, "magnet:"):
		return DownloadTypeMagnet, nil
	case strings.HasPrefix(locator, "http://"), strings.HasPrefix(locator, "https://"):
		return DownloadTypeURL, nil
	}

	if info, err := os.Stat(locator); err == nil && info.Mode().IsRegular() {
		return DownloadTypeFile, nil
	}

	return "", provider.NewInvalidLocatorError(locator)
}
