// Package mock provides an in-memory download client for tests and dev
// mode. Progress is simulated from wall-clock time since the item was added.
package mock

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shelfstream/shelfstream/internal/downloader/types"
)

const (
	// downloadDuration is how long a simulated download takes.
	downloadDuration = 5 * time.Minute
	// queueDelay is how long items stay queued before starting.
	queueDelay = 2 * time.Second

	defaultDownloadDir = "/mock/downloads"
	mockSize           = int64(25 * 1024 * 1024)
)

var (
	_ types.Trackable     = (*Client)(nil)
	_ types.MagnetSupport = (*Client)(nil)
	_ types.URLSupport    = (*Client)(nil)
	_ types.FileSupport   = (*Client)(nil)
)

type entry struct {
	id          string
	name        string
	downloadDir string
	addedAt     time.Time
	paused      bool
}

type Client struct {
	config *types.ClientConfig

	mu      sync.RWMutex
	entries map[string]*entry
	now     func() time.Time
}

func New(cfg *types.ClientConfig) *Client {
	return &Client{
		config:  cfg,
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

func (c *Client) Name() string {
	if c.config.Name != "" {
		return c.config.Name
	}
	return "Mock"
}

func (c *Client) Type() types.ClientType {
	return types.ClientTypeMock
}

func (c *Client) Protocol() types.Protocol {
	return types.ProtocolTorrent
}

func (c *Client) Test(_ context.Context) error {
	return nil
}

func (c *Client) AddMagnet(_ context.Context, magnetURL string, opts *types.AddOptions) (string, error) {
	return c.add(nameFromLocator(magnetURL, opts), opts), nil
}

func (c *Client) AddURL(_ context.Context, downloadURL string, opts *types.AddOptions) (string, error) {
	return c.add(nameFromLocator(downloadURL, opts), opts), nil
}

func (c *Client) AddFile(_ context.Context, filename string, _ []byte, opts *types.AddOptions) (string, error) {
	return c.add(nameFromLocator(filename, opts), opts), nil
}

func (c *Client) Items(_ context.Context) ([]types.DownloadItem, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	items := make([]types.DownloadItem, 0, len(c.entries))
	for _, e := range c.entries {
		items = append(items, c.snapshot(e, now))
	}
	return items, nil
}

func (c *Client) Remove(_ context.Context, id string, _ bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, id)
	return nil
}

// Complete marks a download as finished regardless of elapsed time. Tests
// use it to skip the simulated transfer.
func (c *Client) Complete(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[id]; ok {
		e.addedAt = c.now().Add(-queueDelay - downloadDuration)
		e.paused = false
	}
}

func (c *Client) add(name string, opts *types.AddOptions) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := &entry{
		id:          uuid.NewString(),
		name:        name,
		downloadDir: defaultDownloadDir,
		addedAt:     c.now(),
	}
	if opts != nil {
		if opts.DownloadDir != "" {
			e.downloadDir = opts.DownloadDir
		}
		e.paused = opts.Paused
	}

	c.entries[e.id] = e
	return e.id
}

func (c *Client) snapshot(e *entry, now time.Time) types.DownloadItem {
	item := types.DownloadItem{
		ID:          e.id,
		Name:        e.name,
		Size:        mockSize,
		ETA:         -1,
		DownloadDir: e.downloadDir,
		AddedAt:     e.addedAt,
	}

	if e.paused {
		item.Status = types.StatusPaused
		return item
	}

	elapsed := now.Sub(e.addedAt)
	switch {
	case elapsed < queueDelay:
		item.Status = types.StatusQueued
	case elapsed < queueDelay+downloadDuration:
		item.Status = types.StatusDownloading
		item.Progress = float64(elapsed-queueDelay) / float64(downloadDuration)
		item.DownloadedSize = int64(item.Progress * float64(mockSize))
		item.DownloadSpeed = mockSize / int64(downloadDuration/time.Second)
		item.ETA = int64((queueDelay + downloadDuration - elapsed) / time.Second)
	default:
		item.Status = types.StatusCompleted
		item.Progress = 1
		item.DownloadedSize = mockSize
	}
	return item
}

func nameFromLocator(locator string, opts *types.AddOptions) string {
	if opts != nil && opts.Title != "" {
		return opts.Title
	}
	if locator == "" {
		return "Mock Download"
	}
	if idx := strings.LastIndex(locator, "/"); idx != -1 && idx < len(locator)-1 {
		return locator[idx+1:]
	}
	return locator
}
