// Package deluge implements a Deluge Web UI JSON-RPC client. Authentication
// posts the password once and keeps the session cookie; an RPC "not
// authenticated" error clears it and triggers exactly one re-login.
package deluge

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"

	"github.com/rs/zerolog"

	"github.com/shelfstream/shelfstream/internal/downloader/types"
	"github.com/shelfstream/shelfstream/internal/provider"
)

// Deluge web API error code for a missing/expired session.
const errCodeNotAuthenticated = 1

var (
	_ types.Trackable     = (*Client)(nil)
	_ types.MagnetSupport = (*Client)(nil)
	_ types.URLSupport    = (*Client)(nil)
	_ types.FileSupport   = (*Client)(nil)
)

type Client struct {
	config        *types.ClientConfig
	httpClient    *http.Client
	rpcURL        string
	requestID     int
	authenticated bool
	logger        zerolog.Logger
}

func New(cfg *types.ClientConfig, logger zerolog.Logger) *Client {
	jar, _ := cookiejar.New(nil)

	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}

	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.TimeoutOrDefault(),
			Jar:     jar,
		},
		rpcURL: fmt.Sprintf("%s://%s:%d/json", scheme, cfg.Host, cfg.Port),
		logger: logger.With().Str("client", cfg.Name).Str("type", "deluge").Logger(),
	}
}

func (c *Client) Name() string {
	if c.config.Name != "" {
		return c.config.Name
	}
	return "Deluge"
}

func (c *Client) Type() types.ClientType {
	return types.ClientTypeDeluge
}

func (c *Client) Protocol() types.Protocol {
	return types.ProtocolTorrent
}

func (c *Client) Test(ctx context.Context) error {
	_, err := c.call(ctx, "daemon.get_version", []any{})
	return err
}

func (c *Client) AddMagnet(ctx context.Context, magnetURL string, opts *types.AddOptions) (string, error) {
	resp, err := c.call(ctx, "core.add_torrent_magnet", []any{magnetURL, addOptions(opts)})
	if err != nil {
		return "", err
	}
	return c.finishAdd(ctx, resp, opts)
}

func (c *Client) AddURL(ctx context.Context, downloadURL string, opts *types.AddOptions) (string, error) {
	resp, err := c.call(ctx, "core.add_torrent_url", []any{downloadURL, addOptions(opts)})
	if err != nil {
		return "", err
	}
	return c.finishAdd(ctx, resp, opts)
}

func (c *Client) AddFile(ctx context.Context, filename string, content []byte, opts *types.AddOptions) (string, error) {
	encoded := base64.StdEncoding.EncodeToString(content)
	resp, err := c.call(ctx, "core.add_torrent_file", []any{filename, encoded, addOptions(opts)})
	if err != nil {
		return "", err
	}
	return c.finishAdd(ctx, resp, opts)
}

// finishAdd extracts the hash and applies the label. Label failures are
// non-fatal: the label plugin may not be loaded.
func (c *Client) finishAdd(ctx context.Context, resp any, opts *types.AddOptions) (string, error) {
	hash, ok := resp.(string)
	if !ok {
		return "", provider.NewParseError(c.Name(), fmt.Errorf("unexpected add response type %T", resp))
	}

	if opts != nil && opts.Category != "" {
		if _, err := c.call(ctx, "label.set_torrent", []any{hash, opts.Category}); err != nil {
			c.logger.Debug().Err(err).Msg("label assignment failed")
		}
	}
	return hash, nil
}

func (c *Client) Items(ctx context.Context) ([]types.DownloadItem, error) {
	fields := []string{"name", "state", "progress", "total_size", "total_done", "download_payload_rate", "eta", "save_path", "message"}
	filter := map[string]any{}
	if c.config.Category != "" {
		filter["label"] = c.config.Category
	}

	resp, err := c.call(ctx, "core.get_torrents_status", []any{filter, fields})
	if err != nil {
		return nil, err
	}

	torrents, ok := resp.(map[string]any)
	if !ok {
		return []types.DownloadItem{}, nil
	}

	items := make([]types.DownloadItem, 0, len(torrents))
	for hash, raw := range torrents {
		torrent, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		items = append(items, mapTorrent(hash, torrent))
	}
	return items, nil
}

func (c *Client) Remove(ctx context.Context, id string, deleteFiles bool) error {
	_, err := c.call(ctx, "core.remove_torrent", []any{id, deleteFiles})
	return err
}

type rpcError struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

type rpcResponse struct {
	Result any       `json:"result"`
	Error  *rpcError `json:"error"`
	ID     int       `json:"id"`
}

// call issues one RPC, logging in first if needed and retrying exactly
// once when the session has expired server-side.
func (c *Client) call(ctx context.Context, method string, params []any) (any, error) {
	if !c.authenticated {
		if err := c.login(ctx); err != nil {
			return nil, err
		}
	}

	resp, err := c.rawCall(ctx, method, params)
	if err != nil {
		return nil, err
	}

	if resp.Error != nil && resp.Error.Code == errCodeNotAuthenticated {
		c.authenticated = false
		c.logger.Debug().Msg("session expired, re-authenticating")
		if err := c.login(ctx); err != nil {
			return nil, err
		}

		resp, err = c.rawCall(ctx, method, params)
		if err != nil {
			return nil, err
		}
		if resp.Error != nil && resp.Error.Code == errCodeNotAuthenticated {
			return nil, provider.NewAuthError(c.Name(), "session rejected after re-authentication")
		}
	}

	if resp.Error != nil {
		return nil, provider.NewProtocolFault(c.Name(), resp.Error.Message)
	}
	return resp.Result, nil
}

func (c *Client) login(ctx context.Context) error {
	resp, err := c.rawCall(ctx, "auth.login", []any{c.config.Password})
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return provider.NewAuthError(c.Name(), resp.Error.Message)
	}
	if ok, _ := resp.Result.(bool); !ok {
		return provider.NewAuthError(c.Name(), "password rejected by Deluge")
	}

	// The web UI needs an attached daemon before core.* calls work.
	if connResp, err := c.rawCall(ctx, "web.connected", []any{}); err == nil {
		if connected, _ := connResp.Result.(bool); !connected {
			c.logger.Warn().Msg("deluge web UI is not connected to a daemon")
		}
	}

	c.authenticated = true
	return nil
}

func (c *Client) rawCall(ctx context.Context, method string, params []any) (*rpcResponse, error) {
	c.requestID++
	body, err := json.Marshal(map[string]any{
		"method": method,
		"params": params,
		"id":     c.requestID,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, provider.FromRequestError(c.Name(), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return nil, provider.FromRequestError(c.Name(), err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, provider.NewNetworkError(c.Name(), resp.StatusCode, respBody)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, provider.NewParseError(c.Name(), err)
	}
	return &rpcResp, nil
}

func addOptions(opts *types.AddOptions) map[string]any {
	options := make(map[string]any)
	if opts == nil {
		return options
	}
	if opts.Paused {
		options["add_paused"] = true
	}
	if opts.DownloadDir != "" {
		options["download_location"] = opts.DownloadDir
	}
	return options
}

func mapTorrent(hash string, torrent map[string]any) types.DownloadItem {
	progress := getFloat(torrent, "progress") / 100

	item := types.DownloadItem{
		ID:             hash,
		Name:           getString(torrent, "name"),
		Status:         mapState(getString(torrent, "state")),
		Progress:       progress,
		Size:           int64(getFloat(torrent, "total_size")),
		DownloadedSize: int64(getFloat(torrent, "total_done")),
		DownloadSpeed:  int64(getFloat(torrent, "download_payload_rate")),
		ETA:            int64(getFloat(torrent, "eta")),
		DownloadDir:    getString(torrent, "save_path"),
	}
	if item.ETA <= 0 {
		item.ETA = -1
	}
	if msg := getString(torrent, "message"); msg != "" && msg != "OK" {
		item.Error = msg
	}
	return item
}

func mapState(state string) types.Status {
	switch state {
	case "Downloading", "Checking", "Moving":
		return types.StatusDownloading
	case "Queued", "Allocating":
		return types.StatusQueued
	case "Paused":
		return types.StatusPaused
	case "Seeding":
		return types.StatusCompleted
	case "Error":
		return types.StatusFailed
	default:
		return types.StatusUnknown
	}
}

func getString(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func getFloat(m map[string]any, key string) float64 {
	if v, ok := m[key].(float64); ok {
		return v
	}
	return 0
}
