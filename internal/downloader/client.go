// Package downloader provides the download client abstraction: URL-type
// routing, capability-based strategy dispatch, and the managed wrapper
// that owns settings and enabled state.
package downloader

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/shelfstream/shelfstream/internal/downloader/types"
	"github.com/shelfstream/shelfstream/internal/provider"
)

// Re-export types for convenience, matching the package's public surface.
type (
	Protocol     = types.Protocol
	ClientType   = types.ClientType
	ClientConfig = types.ClientConfig
	Client       = types.Client
	Trackable    = types.Trackable
	AddOptions   = types.AddOptions
	DownloadItem = types.DownloadItem
	Status       = types.Status
)

const (
	ProtocolTorrent = types.ProtocolTorrent
	ProtocolUsenet  = types.ProtocolUsenet

	StatusQueued      = types.StatusQueued
	StatusDownloading = types.StatusDownloading
	StatusPaused      = types.StatusPaused
	StatusCompleted   = types.StatusCompleted
	StatusFailed      = types.StatusFailed
	StatusUnknown     = types.StatusUnknown
)

// ManagedClient wraps a protocol proxy with settings defaults, an enabled
// flag, and the strategy/fetcher dependencies used for dispatch.
type ManagedClient struct {
	client     types.Client
	config     *types.ClientConfig
	strategies *StrategyRegistry
	fetcher    Fetcher
	enabled    bool
	logger     zerolog.Logger
}

// NewManagedClient creates a managed client. The strategy registry and
// fetcher are injected so composition stays explicit.
func NewManagedClient(client types.Client, cfg *types.ClientConfig, strategies *StrategyRegistry, fetcher Fetcher, logger zerolog.Logger) *ManagedClient {
	return &ManagedClient{
		client:     client,
		config:     cfg,
		strategies: strategies,
		fetcher:    fetcher,
		enabled:    true,
		logger:     logger.With().Str("client", client.Name()).Logger(),
	}
}

// Name returns the configured client name.
func (m *ManagedClient) Name() string { return m.client.Name() }

// Client returns the wrapped protocol proxy.
func (m *ManagedClient) Client() types.Client { return m.client }

// Enabled reports whether the client accepts downloads.
func (m *ManagedClient) Enabled() bool { return m.enabled }

// SetEnabled toggles the client without touching the remote system.
func (m *ManagedClient) SetEnabled(enabled bool) { m.enabled = enabled }

// AddDownload routes the locator and dispatches it to the client via the
// strategy registry. Explicit category/path override the settings defaults.
func (m *ManagedClient) AddDownload(ctx context.Context, locator string, opts *types.AddOptions) (string, error) {
	if !m.enabled {
		return "", provider.NewDisabledError(m.client.Name())
	}

	effective := types.AddOptions{}
	if opts != nil {
		effective = *opts
	}
	if effective.Category == "" {
		effective.Category = m.config.Category
	}
	if effective.DownloadDir == "" {
		effective.DownloadDir = m.config.DownloadDir
	}

	id, err := m.strategies.Handle(ctx, m.client, m.fetcher, locator, &effective)
	if err != nil {
		return "", provider.Wrap(m.client.Name(), err)
	}

	m.logger.Debug().Str("locator", locator).Str("id", id).Msg("download added")
	return id, nil
}

// Items polls the client for its current downloads. Clients without
// tracking support report a capability error.
func (m *ManagedClient) Items(ctx context.Context) ([]types.DownloadItem, error) {
	trackable, ok := m.client.(types.Trackable)
	if !ok {
		return nil, provider.NewCapabilityError(m.client.Name(), "get-items")
	}

	items, err := trackable.Items(ctx)
	if err != nil {
		return nil, provider.Wrap(m.client.Name(), err)
	}
	return items, nil
}

// Remove deletes a download, optionally with its files.
func (m *ManagedClient) Remove(ctx context.Context, id string, deleteFiles bool) error {
	trackable, ok := m.client.(types.Trackable)
	if !ok {
		return provider.NewCapabilityError(m.client.Name(), "remove-item")
	}

	if err := trackable.Remove(ctx, id, deleteFiles); err != nil {
		return provider.Wrap(m.client.Name(), err)
	}
	return nil
}

// TestConnection probes the client. Benign connectivity failures come back
// as false; authentication failures propagate so "unreachable" stays
// distinguishable from "misconfigured".
func (m *ManagedClient) TestConnection(ctx context.Context) (bool, error) {
	err := m.client.Test(ctx)
	if err == nil {
		return true, nil
	}
	if provider.IsAuthError(err) {
		return false, err
	}

	m.logger.Warn().Err(err).Msg("connection test failed")
	return false, nil
}
