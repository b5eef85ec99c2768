// Package transmission implements a Transmission RPC client. The session
// id arrives on an HTTP 409 response header; it is cached and refreshed at
// most once per call when the server rotates it.
package transmission

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/shelfstream/shelfstream/internal/downloader/types"
	"github.com/shelfstream/shelfstream/internal/provider"
)

const sessionIDHeader = "X-Transmission-Session-Id"

var (
	_ types.Trackable     = (*Client)(nil)
	_ types.MagnetSupport = (*Client)(nil)
	_ types.URLSupport    = (*Client)(nil)
	_ types.FileSupport   = (*Client)(nil)
)

type Client struct {
	config     *types.ClientConfig
	httpClient *http.Client
	rpcURL     string
	sessionID  string
	rpcPath    string
	clientType types.ClientType
	logger     zerolog.Logger
}

// New creates a Transmission client.
func New(cfg *types.ClientConfig, logger zerolog.Logger) *Client {
	return newWithDialect(cfg, "/transmission/rpc", types.ClientTypeTransmission, logger)
}

// NewDialect creates a client for a Transmission-compatible RPC endpoint
// (Vuze ships the same protocol on a different path).
func NewDialect(cfg *types.ClientConfig, rpcPath string, clientType types.ClientType, logger zerolog.Logger) *Client {
	return newWithDialect(cfg, rpcPath, clientType, logger)
}

func newWithDialect(cfg *types.ClientConfig, rpcPath string, clientType types.ClientType, logger zerolog.Logger) *Client {
	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}
	if cfg.URLBase != "" {
		rpcPath = cfg.URLBase
	}

	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.TimeoutOrDefault(),
		},
		rpcURL:     fmt.Sprintf("%s://%s:%d%s", scheme, cfg.Host, cfg.Port, rpcPath),
		rpcPath:    rpcPath,
		clientType: clientType,
		logger:     logger.With().Str("client", cfg.Name).Str("type", string(clientType)).Logger(),
	}
}

func (c *Client) Name() string {
	if c.config.Name != "" {
		return c.config.Name
	}
	return string(c.clientType)
}

func (c *Client) Type() types.ClientType {
	return c.clientType
}

func (c *Client) Protocol() types.Protocol {
	return types.ProtocolTorrent
}

func (c *Client) Test(ctx context.Context) error {
	_, err := c.call(ctx, "session-get", nil)
	return err
}

func (c *Client) AddMagnet(ctx context.Context, magnetURL string, opts *types.AddOptions) (string, error) {
	return c.AddURL(ctx, magnetURL, opts)
}

func (c *Client) AddURL(ctx context.Context, downloadURL string, opts *types.AddOptions) (string, error) {
	args := map[string]any{"filename": downloadURL}
	applyAddOptions(args, opts)

	resp, err := c.call(ctx, "torrent-add", args)
	if err != nil {
		return "", err
	}
	return extractTorrentID(c.Name(), resp)
}

func (c *Client) AddFile(ctx context.Context, _ string, content []byte, opts *types.AddOptions) (string, error) {
	args := map[string]any{"metainfo": base64.StdEncoding.EncodeToString(content)}
	applyAddOptions(args, opts)

	resp, err := c.call(ctx, "torrent-add", args)
	if err != nil {
		return "", err
	}
	return extractTorrentID(c.Name(), resp)
}

var itemFields = []string{
	"id", "name", "status", "percentDone",
	"sizeWhenDone", "downloadedEver", "rateDownload",
	"eta", "downloadDir", "hashString", "addedDate",
	"error", "errorString",
}

func (c *Client) Items(ctx context.Context) ([]types.DownloadItem, error) {
	resp, err := c.call(ctx, "torrent-get", map[string]any{"fields": itemFields})
	if err != nil {
		return nil, err
	}

	torrentsRaw, ok := resp.Arguments["torrents"].([]any)
	if !ok {
		return []types.DownloadItem{}, nil
	}

	items := make([]types.DownloadItem, 0, len(torrentsRaw))
	for _, t := range torrentsRaw {
		torrent, ok := t.(map[string]any)
		if !ok {
			continue
		}
		items = append(items, mapToDownloadItem(torrent))
	}
	return items, nil
}

func (c *Client) Remove(ctx context.Context, id string, deleteFiles bool) error {
	_, err := c.call(ctx, "torrent-remove", map[string]any{
		"ids":               []string{id},
		"delete-local-data": deleteFiles,
	})
	return err
}

type rpcRequest struct {
	Method    string         `json:"method"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

type rpcResponse struct {
	Result    string         `json:"result"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// call issues one RPC. A 409 carries a fresh session id in its header; the
// request is replayed with it exactly once, and a second 409 propagates as
// an authentication failure rather than looping.
func (c *Client) call(ctx context.Context, method string, args map[string]any) (*rpcResponse, error) {
	resp, status, header, err := c.roundTrip(ctx, method, args)
	if err != nil {
		return nil, err
	}

	if status == http.StatusConflict {
		c.sessionID = header.Get(sessionIDHeader)
		if c.sessionID == "" {
			return nil, provider.NewAuthError(c.Name(), "409 response carried no session id header")
		}
		c.logger.Debug().Msg("session id rotated, retrying request")

		resp, status, _, err = c.roundTrip(ctx, method, args)
		if err != nil {
			return nil, err
		}
		if status == http.StatusConflict {
			return nil, provider.NewAuthError(c.Name(), "session rejected after refresh")
		}
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return nil, provider.NewAuthError(c.Name(), "credentials rejected")
	case status != http.StatusOK:
		return nil, provider.NewNetworkError(c.Name(), status, resp)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(resp, &rpcResp); err != nil {
		return nil, provider.NewParseError(c.Name(), err)
	}
	if rpcResp.Result != "success" {
		return nil, provider.NewProtocolFault(c.Name(), rpcResp.Result)
	}
	return &rpcResp, nil
}

func (c *Client) roundTrip(ctx context.Context, method string, args map[string]any) ([]byte, int, http.Header, error) {
	body, err := json.Marshal(rpcRequest{Method: method, Arguments: args})
	if err != nil {
		return nil, 0, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.sessionID != "" {
		req.Header.Set(sessionIDHeader, c.sessionID)
	}
	if c.config.Username != "" {
		req.SetBasicAuth(c.config.Username, c.config.Password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, nil, provider.FromRequestError(c.Name(), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return nil, 0, nil, provider.FromRequestError(c.Name(), err)
	}
	return respBody, resp.StatusCode, resp.Header, nil
}

func applyAddOptions(args map[string]any, opts *types.AddOptions) {
	if opts == nil {
		return
	}
	if opts.DownloadDir != "" {
		args["download-dir"] = opts.DownloadDir
	}
	if opts.Paused {
		args["paused"] = true
	}
}

func extractTorrentID(clientName string, resp *rpcResponse) (string, error) {
	for _, key := range []string{"torrent-added", "torrent-duplicate"} {
		if torrent, ok := resp.Arguments[key].(map[string]any); ok {
			if hash, ok := torrent["hashString"].(string); ok {
				return hash, nil
			}
			if id, ok := torrent["id"].(float64); ok {
				return fmt.Sprintf("%d", int(id)), nil
			}
		}
	}
	return "", provider.NewParseError(clientName, fmt.Errorf("no torrent id in add response"))
}

func mapToDownloadItem(torrent map[string]any) types.DownloadItem {
	size := int64(getFloat(torrent, "sizeWhenDone"))
	item := types.DownloadItem{
		ID:             getString(torrent, "hashString"),
		Name:           getString(torrent, "name"),
		Status:         mapStatus(getInt(torrent, "status")),
		Progress:       getFloat(torrent, "percentDone"),
		Size:           size,
		DownloadedSize: int64(getFloat(torrent, "downloadedEver")),
		DownloadSpeed:  int64(getFloat(torrent, "rateDownload")),
		ETA:            int64(getFloat(torrent, "eta")),
		DownloadDir:    getString(torrent, "downloadDir"),
	}

	if item.ETA < 0 {
		item.ETA = -1
	}
	if errNum := getInt(torrent, "error"); errNum > 0 {
		item.Error = getString(torrent, "errorString")
		item.Status = types.StatusFailed
	}
	return item
}

// mapStatus maps Transmission status codes to our status values.
func mapStatus(status int) types.Status {
	switch status {
	case 0: // Stopped
		return types.StatusPaused
	case 1, 3: // Queued to verify / queued to download
		return types.StatusQueued
	case 2, 4: // Verifying / downloading
		return types.StatusDownloading
	case 5, 6: // Queued to seed / seeding
		return types.StatusCompleted
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

func getInt(m map[string]any, key string) int {
	if v, ok := m[key].(float64); ok {
		return int(v)
	}
	return 0
}

func getFloat(m map[string]any, key string) float64 {
	if v, ok := m[key].(float64); ok {
		return v
	}
	return 0
}
