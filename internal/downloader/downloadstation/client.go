// Package downloadstation implements the Synology Download Station client.
// Endpoint paths and API versions are discovered through SYNO.API.Info and
// cached, then a session id is obtained from SYNO.API.Auth; requests failing
// with a session error code re-authenticate and retry once.
package downloadstation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/shelfstream/shelfstream/internal/downloader/types"
	"github.com/shelfstream/shelfstream/internal/provider"
)

var (
	_ types.Trackable     = (*Client)(nil)
	_ types.MagnetSupport = (*Client)(nil)
	_ types.URLSupport    = (*Client)(nil)
)

const (
	apiAuth = "SYNO.API.Auth"
	apiTask = "SYNO.DownloadStation.Task"
	apiInfo = "SYNO.DownloadStation.Info"
)

// Session error codes from the SYNO.API spec. 105 is insufficient
// privilege, 106 and 107 are expired or duplicated sessions, 119 is a
// missing or invalid sid.
func isSessionError(code int) bool {
	return code == 105 || code == 106 || code == 107 || code == 119
}

type Client struct {
	config     *types.ClientConfig
	httpClient *http.Client
	baseURL    string
	logger     zerolog.Logger

	mu        sync.Mutex
	sid       string
	endpoints map[string]endpoint
}

type endpoint struct {
	Path       string `json:"path"`
	MaxVersion int    `json:"maxVersion"`
}

type apiResponse struct {
	Success bool             `json:"success"`
	Data    *json.RawMessage `json:"data,omitempty"`
	Error   *struct {
		Code int `json:"code"`
	} `json:"error,omitempty"`
}

func New(cfg *types.ClientConfig, logger zerolog.Logger) *Client {
	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}

	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.TimeoutOrDefault(),
		},
		baseURL: fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port),
		logger:  logger.With().Str("client", cfg.Name).Str("type", "downloadstation").Logger(),
	}
}

func (c *Client) Name() string {
	if c.config.Name != "" {
		return c.config.Name
	}
	return "Download Station"
}

func (c *Client) Type() types.ClientType {
	return types.ClientTypeDownloadStation
}

func (c *Client) Protocol() types.Protocol {
	return types.ProtocolTorrent
}

func (c *Client) Test(ctx context.Context) error {
	params := url.Values{}
	params.Set("api", apiInfo)
	params.Set("version", "1")
	params.Set("method", "getConfig")
	_, err := c.apiCall(ctx, apiInfo, params)
	return err
}

func (c *Client) AddMagnet(ctx context.Context, magnetURL string, opts *types.AddOptions) (string, error) {
	if err := c.createTask(ctx, magnetURL, opts); err != nil {
		return "", err
	}
	return extractMagnetHash(magnetURL), nil
}

func (c *Client) AddURL(ctx context.Context, downloadURL string, opts *types.AddOptions) (string, error) {
	if err := c.createTask(ctx, downloadURL, opts); err != nil {
		return "", err
	}
	// Task creation returns no id; callers resolve it from Items later.
	return "", nil
}

func (c *Client) createTask(ctx context.Context, uri string, opts *types.AddOptions) error {
	params := url.Values{}
	params.Set("api", apiTask)
	params.Set("version", "3")
	params.Set("method", "create")
	params.Set("uri", uri)
	if opts != nil && opts.DownloadDir != "" {
		params.Set("destination", opts.DownloadDir)
	}

	_, err := c.apiCall(ctx, apiTask, params)
	return err
}

func (c *Client) Items(ctx context.Context) ([]types.DownloadItem, error) {
	params := url.Values{}
	params.Set("api", apiTask)
	params.Set("version", "1")
	params.Set("method", "list")
	params.Set("additional", "detail,transfer")

	data, err := c.apiCall(ctx, apiTask, params)
	if err != nil {
		return nil, err
	}

	var list struct {
		Tasks []taskRecord `json:"tasks"`
	}
	if data != nil {
		if err := json.Unmarshal(*data, &list); err != nil {
			return nil, provider.NewParseError(c.Name(), err)
		}
	}

	items := make([]types.DownloadItem, 0, len(list.Tasks))
	for i := range list.Tasks {
		items = append(items, mapTask(&list.Tasks[i]))
	}
	return items, nil
}

func (c *Client) Remove(ctx context.Context, id string, _ bool) error {
	params := url.Values{}
	params.Set("api", apiTask)
	params.Set("version", "1")
	params.Set("method", "delete")
	params.Set("id", id)
	params.Set("force_complete", "false")

	_, err := c.apiCall(ctx, apiTask, params)
	return err
}

// apiCall runs an authenticated request against the discovered endpoint for
// the named API. A session error code triggers one re-login and one retry.
func (c *Client) apiCall(ctx context.Context, api string, params url.Values) (*json.RawMessage, error) {
	var attempts int
	for {
		attempts++

		sid, err := c.session(ctx)
		if err != nil {
			return nil, err
		}

		path, err := c.endpointPath(ctx, api)
		if err != nil {
			return nil, err
		}

		params.Set("_sid", sid)
		resp, err := c.get(ctx, path, params)
		if err != nil {
			return nil, err
		}

		if resp.Success {
			return resp.Data, nil
		}

		code := 0
		if resp.Error != nil {
			code = resp.Error.Code
		}
		if !isSessionError(code) {
			return nil, provider.NewProtocolFault(c.Name(), fmt.Sprintf("api error code %d", code))
		}
		if attempts > 1 {
			return nil, provider.NewAuthError(c.Name(), "session rejected after refresh")
		}

		c.logger.Debug().Int("code", code).Msg("session expired, logging in again")
		c.mu.Lock()
		c.sid = ""
		c.mu.Unlock()
	}
}

func (c *Client) session(ctx context.Context) (string, error) {
	c.mu.Lock()
	sid := c.sid
	c.mu.Unlock()
	if sid != "" {
		return sid, nil
	}
	return c.login(ctx)
}

func (c *Client) login(ctx context.Context) (string, error) {
	authPath, err := c.endpointPath(ctx, apiAuth)
	if err != nil {
		return "", err
	}

	params := url.Values{}
	params.Set("api", apiAuth)
	params.Set("version", "2")
	params.Set("method", "login")
	params.Set("account", c.config.Username)
	params.Set("passwd", c.config.Password)
	params.Set("format", "sid")
	params.Set("session", "DownloadStation")

	resp, err := c.get(ctx, authPath, params)
	if err != nil {
		return "", err
	}
	if !resp.Success {
		code := 0
		if resp.Error != nil {
			code = resp.Error.Code
		}
		if code == 400 || code == 401 || code == 402 || isSessionError(code) {
			return "", provider.NewAuthError(c.Name(), fmt.Sprintf("login rejected (code %d)", code))
		}
		return "", provider.NewProtocolFault(c.Name(), fmt.Sprintf("login failed with code %d", code))
	}

	var auth struct {
		SID string `json:"sid"`
	}
	if resp.Data == nil {
		return "", provider.NewParseError(c.Name(), fmt.Errorf("no data in auth response"))
	}
	if err := json.Unmarshal(*resp.Data, &auth); err != nil {
		return "", provider.NewParseError(c.Name(), err)
	}
	if auth.SID == "" {
		return "", provider.NewAuthError(c.Name(), "empty session id")
	}

	c.mu.Lock()
	c.sid = auth.SID
	c.mu.Unlock()
	return auth.SID, nil
}

// endpointPath resolves the cgi path for an API name via SYNO.API.Info,
// caching the whole map on first use.
func (c *Client) endpointPath(ctx context.Context, api string) (string, error) {
	c.mu.Lock()
	cached := c.endpoints
	c.mu.Unlock()

	if cached == nil {
		params := url.Values{}
		params.Set("api", "SYNO.API.Info")
		params.Set("version", "1")
		params.Set("method", "query")
		params.Set("query", strings.Join([]string{apiAuth, apiTask, apiInfo}, ","))

		resp, err := c.get(ctx, "query.cgi", params)
		if err != nil {
			return "", err
		}
		if !resp.Success || resp.Data == nil {
			return "", provider.NewProtocolFault(c.Name(), "api discovery failed")
		}

		discovered := make(map[string]endpoint)
		if err := json.Unmarshal(*resp.Data, &discovered); err != nil {
			return "", provider.NewParseError(c.Name(), err)
		}

		c.mu.Lock()
		c.endpoints = discovered
		cached = discovered
		c.mu.Unlock()
	}

	ep, ok := cached[api]
	if !ok || ep.Path == "" {
		return "", provider.NewProtocolFault(c.Name(), fmt.Sprintf("api %s not offered by server", api))
	}
	return ep.Path, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values) (*apiResponse, error) {
	u := fmt.Sprintf("%s/webapi/%s?%s", c.baseURL, path, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, provider.FromRequestError(c.Name(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, provider.FromRequestError(c.Name(), err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, provider.NewNetworkError(c.Name(), resp.StatusCode, body)
	}

	var apiResp apiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, provider.NewParseError(c.Name(), err)
	}
	return &apiResp, nil
}

type taskRecord struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Size       int64  `json:"size"`
	Status     string `json:"status"`
	Additional *struct {
		Detail *struct {
			Destination string `json:"destination"`
		} `json:"detail,omitempty"`
		Transfer *struct {
			SizeDownloaded string `json:"size_downloaded"`
			SpeedDownload  string `json:"speed_download"`
		} `json:"transfer,omitempty"`
	} `json:"additional,omitempty"`
}

func mapTask(task *taskRecord) types.DownloadItem {
	item := types.DownloadItem{
		ID:     task.ID,
		Name:   task.Title,
		Status: mapTaskStatus(task.Status),
		Size:   task.Size,
		ETA:    -1,
	}

	if task.Additional != nil {
		if task.Additional.Detail != nil {
			item.DownloadDir = task.Additional.Detail.Destination
		}
		if tr := task.Additional.Transfer; tr != nil {
			if downloaded, err := strconv.ParseInt(tr.SizeDownloaded, 10, 64); err == nil {
				item.DownloadedSize = downloaded
			}
			if speed, err := strconv.ParseInt(tr.SpeedDownload, 10, 64); err == nil {
				item.DownloadSpeed = speed
			}
		}
	}

	if item.Size > 0 && item.DownloadedSize > 0 {
		item.Progress = float64(item.DownloadedSize) / float64(item.Size)
	}
	if item.DownloadSpeed > 0 && item.Size > item.DownloadedSize {
		item.ETA = (item.Size - item.DownloadedSize) / item.DownloadSpeed
	}
	return item
}

func mapTaskStatus(status string) types.Status {
	switch status {
	case "downloading", "finishing", "hash_checking", "extracting":
		return types.StatusDownloading
	case "paused":
		return types.StatusPaused
	case "finished", "seeding":
		return types.StatusCompleted
	case "error":
		return types.StatusFailed
	case "waiting":
		return types.StatusQueued
	default:
		return types.StatusUnknown
	}
}

func extractMagnetHash(magnetURL string) string {
	idx := strings.Index(magnetURL, "xt=urn:btih:")
	if idx == -1 {
		return ""
	}
	hash := magnetURL[idx+len("xt=urn:btih:"):]
	if end := strings.Index(hash, "&"); end != -1 {
		hash = hash[:end]
	}
	return strings.ToLower(hash)
}
