// Package qbittorrent implements a qBittorrent Web API (v2) client.
// Authentication is a cookie session: POST credentials once, reuse the
// cookie until the server answers 403, then log in again exactly once.
package qbittorrent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

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
	baseURL    string
	logger     zerolog.Logger
	loggedIn   bool
}

func New(cfg *types.ClientConfig, logger zerolog.Logger) *Client {
	jar, _ := cookiejar.New(nil)

	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}
	baseURL := fmt.Sprintf("%s://%s:%d/api/v2", scheme, cfg.Host, cfg.Port)

	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.TimeoutOrDefault(),
			Jar:     jar,
		},
		baseURL: baseURL,
		logger:  logger.With().Str("client", cfg.Name).Str("type", "qbittorrent").Logger(),
	}
}

func (c *Client) Name() string {
	if c.config.Name != "" {
		return c.config.Name
	}
	return "qBittorrent"
}

func (c *Client) Type() types.ClientType {
	return types.ClientTypeQBittorrent
}

func (c *Client) Protocol() types.Protocol {
	return types.ProtocolTorrent
}

func (c *Client) Test(ctx context.Context) error {
	body, err := c.get(ctx, "/app/webapiVersion", nil)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return fmt.Errorf("empty version response from qBittorrent")
	}
	return nil
}

func (c *Client) AddMagnet(ctx context.Context, magnetURL string, opts *types.AddOptions) (string, error) {
	return c.AddURL(ctx, magnetURL, opts)
}

func (c *Client) AddURL(ctx context.Context, downloadURL string, opts *types.AddOptions) (string, error) {
	form := url.Values{}
	form.Set("urls", downloadURL)
	applyAddOptions(form, opts)

	if _, err := c.postForm(ctx, "/torrents/add", form); err != nil {
		return "", err
	}
	return extractHash(downloadURL), nil
}

func (c *Client) AddFile(ctx context.Context, filename string, content []byte, opts *types.AddOptions) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("torrents", filename)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(content); err != nil {
		return "", err
	}
	if opts != nil {
		if opts.Category != "" {
			_ = writer.WriteField("category", opts.Category)
		}
		if opts.DownloadDir != "" {
			_ = writer.WriteField("savepath", opts.DownloadDir)
		}
		if opts.Paused {
			_ = writer.WriteField("paused", "true")
		}
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	_, err = c.do(ctx, http.MethodPost, "/torrents/add", buf.Bytes(), writer.FormDataContentType())
	return "", err
}

func (c *Client) Items(ctx context.Context) ([]types.DownloadItem, error) {
	params := url.Values{}
	if c.config.Category != "" {
		params.Set("category", c.config.Category)
	}

	body, err := c.get(ctx, "/torrents/info", params)
	if err != nil {
		return nil, err
	}

	var torrents []torrentInfo
	if err := json.Unmarshal(body, &torrents); err != nil {
		return nil, provider.NewParseError(c.Name(), err)
	}

	items := make([]types.DownloadItem, 0, len(torrents))
	for i := range torrents {
		items = append(items, torrents[i].toDownloadItem())
	}
	return items, nil
}

func (c *Client) Remove(ctx context.Context, id string, deleteFiles bool) error {
	form := url.Values{}
	form.Set("hashes", id)
	form.Set("deleteFiles", strconv.FormatBool(deleteFiles))

	_, err := c.postForm(ctx, "/torrents/delete", form)
	return err
}

// login runs the credential handshake and captures the session cookie.
func (c *Client) login(ctx context.Context) error {
	form := url.Values{}
	form.Set("username", c.config.Username)
	form.Set("password", c.config.Password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/login", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return provider.FromRequestError(c.Name(), err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(string(body), "Ok") {
		return provider.NewAuthError(c.Name(), "credentials rejected by qBittorrent")
	}

	c.loggedIn = true
	return nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	target := path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	return c.do(ctx, http.MethodGet, target, nil, "")
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values) ([]byte, error) {
	return c.do(ctx, http.MethodPost, path, []byte(form.Encode()), "application/x-www-form-urlencoded")
}

// do issues a request with the cached session, re-authenticating exactly
// once when the session is rejected.
func (c *Client) do(ctx context.Context, method, path string, body []byte, contentType string) ([]byte, error) {
	if !c.loggedIn {
		if err := c.login(ctx); err != nil {
			return nil, err
		}
	}

	respBody, status, err := c.roundTrip(ctx, method, path, body, contentType)
	if err != nil {
		return nil, err
	}

	if status == http.StatusForbidden || status == http.StatusUnauthorized {
		c.loggedIn = false
		c.logger.Debug().Msg("session expired, re-authenticating")
		if err := c.login(ctx); err != nil {
			return nil, err
		}
		respBody, status, err = c.roundTrip(ctx, method, path, body, contentType)
		if err != nil {
			return nil, err
		}
		if status == http.StatusForbidden || status == http.StatusUnauthorized {
			return nil, provider.NewAuthError(c.Name(), "session rejected after re-authentication")
		}
	}

	if status != http.StatusOK {
		return nil, provider.NewNetworkError(c.Name(), status, respBody)
	}
	return respBody, nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body []byte, contentType string) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, 0, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, provider.FromRequestError(c.Name(), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return nil, 0, provider.FromRequestError(c.Name(), err)
	}
	return respBody, resp.StatusCode, nil
}

type torrentInfo struct {
	Hash      string  `json:"hash"`
	Name      string  `json:"name"`
	State     string  `json:"state"`
	Progress  float64 `json:"progress"`
	Size      int64   `json:"size"`
	Completed int64   `json:"completed"`
	DLSpeed   int64   `json:"dlspeed"`
	ETA       int64   `json:"eta"`
	SavePath  string  `json:"save_path"`
	AddedOn   int64   `json:"added_on"`
}

func (t *torrentInfo) toDownloadItem() types.DownloadItem {
	item := types.DownloadItem{
		ID:             t.Hash,
		Name:           t.Name,
		Status:         mapState(t.State),
		Progress:       t.Progress,
		Size:           t.Size,
		DownloadedSize: t.Completed,
		DownloadSpeed:  t.DLSpeed,
		ETA:            t.ETA,
		DownloadDir:    t.SavePath,
	}
	if t.AddedOn > 0 {
		item.AddedAt = time.Unix(t.AddedOn, 0)
	}
	if t.ETA <= 0 || t.ETA >= 8640000 { // qBittorrent reports 8640000 for unknown
		item.ETA = -1
	}
	return item
}

func mapState(state string) types.Status {
	switch state {
	case "downloading", "metaDL", "stalledDL", "checkingDL", "forcedDL":
		return types.StatusDownloading
	case "pausedDL", "stoppedDL":
		return types.StatusPaused
	case "queuedDL", "allocating":
		return types.StatusQueued
	case "uploading", "stalledUP", "pausedUP", "stoppedUP", "queuedUP", "checkingUP", "forcedUP":
		return types.StatusCompleted
	case "error", "missingFiles":
		return types.StatusFailed
	default:
		return types.StatusUnknown
	}
}

// extractHash pulls the info hash out of a magnet link so Add can return a
// usable item id. Non-magnet URLs yield an empty id; the caller polls by
// name in that case.
func extractHash(locator string) string {
	if !strings.HasPrefix(locator, "magnet:") {
		return ""
	}
	parts := strings.SplitN(locator, "?", 2)
	if len(parts) < 2 {
		return ""
	}
	for _, param := range strings.Split(parts[1], "&") {
		if strings.HasPrefix(param, "xt=urn:btih:") {
			return strings.ToLower(strings.TrimPrefix(param, "xt=urn:btih:"))
		}
	}
	return ""
}

func applyAddOptions(form url.Values, opts *types.AddOptions) {
	if opts == nil {
		return
	}
	if opts.Category != "" {
		form.Set("category", opts.Category)
	}
	if opts.DownloadDir != "" {
		form.Set("savepath", opts.DownloadDir)
	}
	if opts.Paused {
		form.Set("paused", "true")
	}
}
