// Package aria2 implements the aria2 JSON-RPC client. Authentication is a
// secret token prepended to the parameter list of every call; there is no
// session to establish or refresh.
package aria2

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/shelfstream/shelfstream/internal/downloader/types"
	"github.com/shelfstream/shelfstream/internal/provider"
)

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
	requestID  atomic.Int64
	logger     zerolog.Logger
}

func New(cfg *types.ClientConfig, logger zerolog.Logger) *Client {
	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}

	rpcPath := "/jsonrpc"
	if cfg.URLBase != "" {
		rpcPath = "/" + strings.Trim(cfg.URLBase, "/") + "/jsonrpc"
	}

	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.TimeoutOrDefault(),
		},
		rpcURL: fmt.Sprintf("%s://%s:%d%s", scheme, cfg.Host, cfg.Port, rpcPath),
		logger: logger.With().Str("client", cfg.Name).Str("type", "aria2").Logger(),
	}
}

func (c *Client) Name() string {
	if c.config.Name != "" {
		return c.config.Name
	}
	return "aria2"
}

func (c *Client) Type() types.ClientType {
	return types.ClientTypeAria2
}

func (c *Client) Protocol() types.Protocol {
	return types.ProtocolTorrent
}

func (c *Client) Test(ctx context.Context) error {
	result, err := c.call(ctx, "aria2.getVersion", nil)
	if err != nil {
		return err
	}

	versionMap, ok := result.(map[string]any)
	if !ok {
		return provider.NewParseError(c.Name(), fmt.Errorf("unexpected version response"))
	}
	if version, _ := versionMap["version"].(string); version == "" {
		return provider.NewParseError(c.Name(), fmt.Errorf("empty version response"))
	}
	return nil
}

func (c *Client) AddMagnet(ctx context.Context, magnetURL string, opts *types.AddOptions) (string, error) {
	return c.addURI(ctx, magnetURL, opts)
}

func (c *Client) AddURL(ctx context.Context, downloadURL string, opts *types.AddOptions) (string, error) {
	return c.addURI(ctx, downloadURL, opts)
}

func (c *Client) AddFile(ctx context.Context, _ string, content []byte, opts *types.AddOptions) (string, error) {
	encoded := base64.StdEncoding.EncodeToString(content)
	resp, err := c.call(ctx, "aria2.addTorrent", []any{encoded, []string{}, buildAddOptions(opts)})
	if err != nil {
		return "", err
	}

	gid, ok := resp.(string)
	if !ok {
		return "", provider.NewParseError(c.Name(), fmt.Errorf("unexpected addTorrent response"))
	}
	return gid, nil
}

func (c *Client) Items(ctx context.Context) ([]types.DownloadItem, error) {
	active, err := c.call(ctx, "aria2.tellActive", nil)
	if err != nil {
		return nil, err
	}

	waiting, err := c.call(ctx, "aria2.tellWaiting", []any{0, 1000})
	if err != nil {
		return nil, err
	}

	stopped, err := c.call(ctx, "aria2.tellStopped", []any{0, 1000})
	if err != nil {
		return nil, err
	}

	items := []types.DownloadItem{}
	for _, list := range []any{active, waiting, stopped} {
		entries, ok := list.([]any)
		if !ok {
			continue
		}
		for _, entry := range entries {
			statusObj, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			items = append(items, mapDownloadStatus(statusObj))
		}
	}
	return items, nil
}

func (c *Client) Remove(ctx context.Context, id string, _ bool) error {
	_, err := c.call(ctx, "aria2.forceRemove", []any{id})
	if err != nil {
		// forceRemove only covers active and waiting downloads; stopped
		// entries are dropped from the result list instead.
		_, err = c.call(ctx, "aria2.removeDownloadResult", []any{id})
	}
	return err
}

func (c *Client) addURI(ctx context.Context, uri string, opts *types.AddOptions) (string, error) {
	resp, err := c.call(ctx, "aria2.addUri", []any{[]string{uri}, buildAddOptions(opts)})
	if err != nil {
		return "", err
	}

	gid, ok := resp.(string)
	if !ok {
		return "", provider.NewParseError(c.Name(), fmt.Errorf("unexpected addUri response"))
	}
	return gid, nil
}

func buildAddOptions(opts *types.AddOptions) map[string]any {
	options := make(map[string]any)
	if opts == nil {
		return options
	}
	if opts.DownloadDir != "" {
		options["dir"] = opts.DownloadDir
	}
	if opts.Paused {
		options["pause"] = "true"
	}
	return options
}

func (c *Client) call(ctx context.Context, method string, extraParams []any) (any, error) {
	var params []any
	if c.config.APIKey != "" {
		params = append(params, "token:"+c.config.APIKey)
	}
	params = append(params, extraParams...)
	if params == nil {
		params = []any{}
	}

	reqBody, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      strconv.FormatInt(c.requestID.Add(1), 10),
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, provider.FromRequestError(c.Name(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, provider.FromRequestError(c.Name(), err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, provider.NewAuthError(c.Name(), "secret token rejected")
	}
	// aria2 reports RPC errors with a JSON body on both 200 and 4xx
	// responses, so the body is decoded before other statuses fail.

	var rpcResp struct {
		Result any              `json:"result"`
		Error  *json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, provider.NewNetworkError(c.Name(), resp.StatusCode, body)
		}
		return nil, provider.NewParseError(c.Name(), err)
	}

	if rpcResp.Error != nil {
		return nil, c.rpcError(*rpcResp.Error)
	}
	return rpcResp.Result, nil
}

func (c *Client) rpcError(raw json.RawMessage) error {
	var errObj struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &errObj); err != nil {
		return provider.NewProtocolFault(c.Name(), string(raw))
	}

	if errObj.Code == 1 && strings.Contains(strings.ToLower(errObj.Message), "unauthorized") {
		return provider.NewAuthError(c.Name(), errObj.Message)
	}
	return provider.NewProtocolFault(c.Name(), fmt.Sprintf("%s (code %d)", errObj.Message, errObj.Code))
}

func mapDownloadStatus(status map[string]any) types.DownloadItem {
	gid := getString(status, "gid")
	totalLength := parseIntString(getString(status, "totalLength"))
	completedLength := parseIntString(getString(status, "completedLength"))
	downloadSpeed := parseIntString(getString(status, "downloadSpeed"))
	state := getString(status, "status")

	var progress float64
	if totalLength > 0 {
		progress = float64(completedLength) / float64(totalLength)
	}

	var eta int64 = -1
	if downloadSpeed > 0 && totalLength > completedLength {
		eta = (totalLength - completedLength) / downloadSpeed
	}

	mapped := mapState(state, totalLength, completedLength)

	item := types.DownloadItem{
		ID:             gid,
		Name:           extractName(status),
		Status:         mapped,
		Progress:       progress,
		Size:           totalLength,
		DownloadedSize: completedLength,
		DownloadSpeed:  downloadSpeed,
		ETA:            eta,
		DownloadDir:    getString(status, "dir"),
	}
	if mapped == types.StatusFailed {
		item.Error = getString(status, "errorMessage")
	}
	return item
}

func extractName(status map[string]any) string {
	if bt, ok := status["bittorrent"].(map[string]any); ok {
		if info, ok := bt["info"].(map[string]any); ok {
			if name, ok := info["name"].(string); ok && name != "" {
				return name
			}
		}
	}
	return getString(status, "gid")
}

func mapState(state string, totalLength, completedLength int64) types.Status {
	switch state {
	case "active":
		if totalLength > 0 && completedLength >= totalLength {
			return types.StatusCompleted
		}
		return types.StatusDownloading
	case "waiting":
		return types.StatusQueued
	case "paused":
		return types.StatusPaused
	case "error":
		return types.StatusFailed
	case "complete":
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

func parseIntString(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}
