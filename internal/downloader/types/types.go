// Package types defines shared types for download clients.
package types

import (
	"context"
	"time"
)

// Protocol represents the download protocol.
type Protocol string

const (
	ProtocolTorrent Protocol = "torrent"
	ProtocolUsenet  Protocol = "usenet"
)

// ClientType represents the type of download client.
type ClientType string

const (
	ClientTypeQBittorrent      ClientType = "qbittorrent"
	ClientTypeTransmission     ClientType = "transmission"
	ClientTypeVuze             ClientType = "vuze"
	ClientTypeDeluge           ClientType = "deluge"
	ClientTypeRTorrent         ClientType = "rtorrent"
	ClientTypeUTorrent         ClientType = "utorrent"
	ClientTypeAria2            ClientType = "aria2"
	ClientTypeFreebox          ClientType = "freebox"
	ClientTypeDownloadStation  ClientType = "downloadstation"
	ClientTypeNZBVortex        ClientType = "nzbvortex"
	ClientTypeTorrentBlackhole ClientType = "torrentblackhole"
	ClientTypeUsenetBlackhole  ClientType = "usenetblackhole"
	ClientTypeMock             ClientType = "mock" // Mock client for developer mode
)

// ProtocolForClient returns the protocol for a given client type.
func ProtocolForClient(clientType ClientType) Protocol {
	switch clientType {
	case ClientTypeQBittorrent, ClientTypeTransmission, ClientTypeVuze,
		ClientTypeDeluge, ClientTypeRTorrent, ClientTypeUTorrent,
		ClientTypeAria2, ClientTypeFreebox, ClientTypeDownloadStation,
		ClientTypeTorrentBlackhole, ClientTypeMock:
		return ProtocolTorrent
	case ClientTypeNZBVortex, ClientTypeUsenetBlackhole:
		return ProtocolUsenet
	default:
		return ""
	}
}

// ClientConfig holds common configuration for all download clients.
// Provider packages convert it into their own settings at construction time.
type ClientConfig struct {
	Name        string
	Host        string
	Port        int
	URLBase     string // URL path prefix for clients that support one
	Username    string
	Password    string
	UseSSL      bool
	APIKey      string // For clients that use API keys
	AppToken    string // Pre-shared app token (Freebox)
	Category    string // Default category/label for downloads
	DownloadDir string // Default save path or drop folder
	Timeout     time.Duration
}

// TimeoutOrDefault returns the configured timeout, falling back to 30s.
func (c *ClientConfig) TimeoutOrDefault() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return 30 * time.Second
}

// AddOptions specifies options for adding a download.
type AddOptions struct {
	Category    string // Category/label for the download
	DownloadDir string // Override default download directory
	Title       string // Display name, used when the locator carries none
	Paused      bool   // Add in paused state
}

// Client is the minimal interface every download client implements.
// Add capabilities are separate interfaces so a client advertises only
// what it supports.
type Client interface {
	Name() string
	Type() ClientType
	Protocol() Protocol

	// Test performs the cheapest read-only remote call and reports
	// connectivity. Authentication failures come back typed.
	Test(ctx context.Context) error
}

// Trackable is implemented by clients whose downloads can be listed and
// removed. Drop-folder clients are not trackable.
type Trackable interface {
	Client

	Items(ctx context.Context) ([]DownloadItem, error)
	Remove(ctx context.Context, id string, deleteFiles bool) error
}

// Capability names a single add capability for dispatch errors.
type Capability string

const (
	CapabilityMagnet Capability = "accept-magnet"
	CapabilityURL    Capability = "accept-url"
	CapabilityFile   Capability = "accept-file"
)

// MagnetSupport is implemented by clients that accept magnet links.
type MagnetSupport interface {
	AddMagnet(ctx context.Context, magnetURL string, opts *AddOptions) (string, error)
}

// URLSupport is implemented by clients that accept HTTP(S) URLs directly.
type URLSupport interface {
	AddURL(ctx context.Context, url string, opts *AddOptions) (string, error)
}

// FileSupport is implemented by clients that accept raw file content.
type FileSupport interface {
	AddFile(ctx context.Context, filename string, content []byte, opts *AddOptions) (string, error)
}

// Status represents the status of a download.
type Status string

const (
	StatusQueued      Status = "queued"
	StatusDownloading Status = "downloading"
	StatusPaused      Status = "paused"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusUnknown     Status = "unknown"
)

// DownloadItem represents a download in progress or completed. Items are
// produced fresh on every poll; nothing here is cached.
type DownloadItem struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Status         Status    `json:"status"`
	Progress       float64   `json:"progress"` // fraction in [0,1]
	Size           int64     `json:"size"`
	DownloadedSize int64     `json:"downloadedSize"`
	DownloadSpeed  int64     `json:"downloadSpeed"` // bytes/sec
	ETA            int64     `json:"eta"`           // seconds, -1 if unavailable
	DownloadDir    string    `json:"downloadDir"`
	AddedAt        time.Time `json:"addedAt,omitempty"`
	Error          string    `json:"error,omitempty"`
}
