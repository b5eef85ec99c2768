// Package blackhole implements drop-folder clients. A download is "added"
// by writing the torrent or NZB payload into a directory watched by some
// external program; there is no session, queue, or removal.
package blackhole

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/shelfstream/shelfstream/internal/downloader/types"
	"github.com/shelfstream/shelfstream/internal/fetcher"
	"github.com/shelfstream/shelfstream/internal/provider"
)

var (
	_ types.Client      = (*Client)(nil)
	_ types.URLSupport  = (*Client)(nil)
	_ types.FileSupport = (*Client)(nil)
)

// Client drops payload files into a watch directory. The torrent and usenet
// variants differ only in client type, protocol, and file extension.
type Client struct {
	config     *types.ClientConfig
	clientType types.ClientType
	protocol   types.Protocol
	extension  string
	fetch      fetcher.Fetcher
	logger     zerolog.Logger
}

func NewTorrent(cfg *types.ClientConfig, fetch fetcher.Fetcher, logger zerolog.Logger) (types.Client, error) {
	return newClient(cfg, types.ClientTypeTorrentBlackhole, types.ProtocolTorrent, ".torrent", fetch, logger)
}

func NewUsenet(cfg *types.ClientConfig, fetch fetcher.Fetcher, logger zerolog.Logger) (types.Client, error) {
	return newClient(cfg, types.ClientTypeUsenetBlackhole, types.ProtocolUsenet, ".nzb", fetch, logger)
}

func newClient(cfg *types.ClientConfig, clientType types.ClientType, protocol types.Protocol, extension string, fetch fetcher.Fetcher, logger zerolog.Logger) (*Client, error) {
	if cfg.DownloadDir == "" {
		return nil, fmt.Errorf("blackhole client %q needs a watch directory", cfg.Name)
	}

	return &Client{
		config:     cfg,
		clientType: clientType,
		protocol:   protocol,
		extension:  extension,
		fetch:      fetch,
		logger:     logger.With().Str("client", cfg.Name).Str("type", string(clientType)).Logger(),
	}, nil
}

func (c *Client) Name() string {
	if c.config.Name != "" {
		return c.config.Name
	}
	return "Blackhole"
}

func (c *Client) Type() types.ClientType {
	return c.clientType
}

func (c *Client) Protocol() types.Protocol {
	return c.protocol
}

// Test verifies the watch directory exists and is writable by creating and
// removing a probe file.
func (c *Client) Test(_ context.Context) error {
	info, err := os.Stat(c.config.DownloadDir)
	if err != nil {
		return provider.Wrap(c.Name(), fmt.Errorf("watch directory: %w", err))
	}
	if !info.IsDir() {
		return provider.Wrap(c.Name(), fmt.Errorf("%s is not a directory", c.config.DownloadDir))
	}

	probe := filepath.Join(c.config.DownloadDir, ".shelfstream-probe-"+uuid.NewString())
	if err := os.WriteFile(probe, nil, 0o644); err != nil {
		return provider.Wrap(c.Name(), fmt.Errorf("watch directory not writable: %w", err))
	}
	return os.Remove(probe)
}

func (c *Client) AddURL(ctx context.Context, downloadURL string, opts *types.AddOptions) (string, error) {
	payload, err := c.fetch.Fetch(ctx, downloadURL)
	if err != nil {
		return "", provider.Wrap(c.Name(), err)
	}
	return c.AddFile(ctx, filenameFromURL(downloadURL), payload, opts)
}

func (c *Client) AddFile(_ context.Context, filename string, content []byte, opts *types.AddOptions) (string, error) {
	name := sanitizeFilename(filename)
	if opts != nil && opts.Title != "" {
		name = sanitizeFilename(opts.Title)
	}
	if name == "" {
		name = uuid.NewString()
	}
	if !strings.HasSuffix(strings.ToLower(name), c.extension) {
		name += c.extension
	}

	target := filepath.Join(c.config.DownloadDir, name)

	// Write to a temp file in the same directory and rename so the watcher
	// never sees a half-written payload.
	tmp, err := os.CreateTemp(c.config.DownloadDir, ".shelfstream-*")
	if err != nil {
		return "", provider.Wrap(c.Name(), err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", provider.Wrap(c.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", provider.Wrap(c.Name(), err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return "", provider.Wrap(c.Name(), err)
	}

	c.logger.Info().Str("file", target).Msg("payload dropped into watch directory")
	return name, nil
}

func sanitizeFilename(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == string(filepath.Separator) {
		return ""
	}

	replacer := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "*", "_", "?", "_", "\"", "_", "<", "_", ">", "_", "|", "_")
	return replacer.Replace(name)
}

func filenameFromURL(rawURL string) string {
	trimmed := rawURL
	if idx := strings.IndexAny(trimmed, "?#"); idx != -1 {
		trimmed = trimmed[:idx]
	}
	if idx := strings.LastIndex(trimmed, "/"); idx != -1 {
		trimmed = trimmed[idx+1:]
	}
	return trimmed
}
