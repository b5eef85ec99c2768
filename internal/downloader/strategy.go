package downloader

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/shelfstream/shelfstream/internal/downloader/types"
	"github.com/shelfstream/shelfstream/internal/fetcher"
	"github.com/shelfstream/shelfstream/internal/provider"
)

// Fetcher retrieves the content behind a URL (a .torrent or .nzb payload).
type Fetcher = fetcher.Fetcher

// Strategy knows how to hand one download type to a client, checking the
// client's capability before any remote call.
type Strategy interface {
	// CanHandle confirms the locator matches this strategy's type.
	CanHandle(locator string) bool

	// Add invokes the matching capability on the client.
	Add(ctx context.Context, client types.Client, fetcher Fetcher, locator string, opts *types.AddOptions) (string, error)
}

// StrategyRegistry maps download types to strategies. New locator types or
// clients slot in via Register without touching existing strategies.
type StrategyRegistry struct {
	strategies map[DownloadType]Strategy
}

// NewStrategyRegistry returns a registry with the built-in strategies.
func NewStrategyRegistry() *StrategyRegistry {
	r := &StrategyRegistry{strategies: make(map[DownloadType]Strategy)}
	r.Register(DownloadTypeMagnet, magnetStrategy{})
	r.Register(DownloadTypeURL, urlStrategy{})
	r.Register(DownloadTypeFile, fileStrategy{})
	return r
}

// Register adds or replaces the strategy for a download type.
func (r *StrategyRegistry) Register(t DownloadType, s Strategy) {
	r.strategies[t] = s
}

// Handle routes the locator, looks up the strategy for its type, and
// delegates to it.
func (r *StrategyRegistry) Handle(ctx context.Context, client types.Client, fetcher Fetcher, locator string, opts *types.AddOptions) (string, error) {
	downloadType, err := Route(locator)
	if err != nil {
		return "", err
	}

	strategy, ok := r.strategies[downloadType]
	if !ok {
		return "", provider.NewUnsupportedTypeError(string(downloadType))
	}

	return strategy.Add(ctx, client, fetcher, locator, opts)
}

type magnetStrategy struct{}

func (magnetStrategy) CanHandle(locator string) bool {
	return strings.HasPrefix(locator, "magnet:")
}

func (magnetStrategy) Add(ctx context.Context, client types.Client, _ Fetcher, locator string, opts *types.AddOptions) (string, error) {
	adder, ok := client.(types.MagnetSupport)
	if !ok {
		return "", provider.NewCapabilityError(client.Name(), string(types.CapabilityMagnet))
	}
	return adder.AddMagnet(ctx, locator, opts)
}

type urlStrategy struct{}

func (urlStrategy) CanHandle(locator string) bool {
	return strings.HasPrefix(locator, "http://") || strings.HasPrefix(locator, "https://")
}

// Add prefers direct URL submission. A client that only accepts file
// content still gets the download when a fetcher is available: the URL is
// fetched here and the payload handed over.
func (urlStrategy) Add(ctx context.Context, client types.Client, fetcher Fetcher, locator string, opts *types.AddOptions) (string, error) {
	if adder, ok := client.(types.URLSupport); ok {
		return adder.AddURL(ctx, locator, opts)
	}

	fileAdder, ok := client.(types.FileSupport)
	if !ok || fetcher == nil {
		return "", provider.NewCapabilityError(client.Name(), string(types.CapabilityURL))
	}

	content, err := fetcher.Fetch(ctx, locator)
	if err != nil {
		return "", err
	}
	return fileAdder.AddFile(ctx, filenameFromURL(locator, opts), content, opts)
}

type fileStrategy struct{}

func (fileStrategy) CanHandle(locator string) bool {
	info, err := os.Stat(locator)
	return err == nil && info.Mode().IsRegular()
}

func (fileStrategy) Add(ctx context.Context, client types.Client, _ Fetcher, locator string, opts *types.AddOptions) (string, error) {
	adder, ok := client.(types.FileSupport)
	if !ok {
		return "", provider.NewCapabilityError(client.Name(), string(types.CapabilityFile))
	}

	content, err := os.ReadFile(locator)
	if err != nil {
		return "", provider.Wrap(client.Name(), err)
	}
	return adder.AddFile(ctx, filepath.Base(locator), content, opts)
}

func filenameFromURL(rawURL string, opts *types.AddOptions) string {
	if opts != nil && opts.Title != "" {
		return opts.Title
	}
	trimmed := strings.SplitN(rawURL, "?", 2)[0]
	if base := filepath.Base(trimmed); base != "." && base != "/" {
		return base
	}
	return "download"
}
