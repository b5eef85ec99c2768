// Package freebox implements the Freebox Download API client. Sessions are
// opened by answering a server challenge with an HMAC-SHA1 of the app token;
// an expired session token is replaced and the failing request resent once.
package freebox

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // challenge answer algorithm of the Freebox API
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"

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

const appID = "shelfstream"

type Client struct {
	config       *types.ClientConfig
	httpClient   *http.Client
	baseURL      string
	sessionToken string
	logger       zerolog.Logger
}

type envelope struct {
	Success   bool            `json:"success"`
	Result    json.RawMessage `json:"result,omitempty"`
	Msg       string          `json:"msg,omitempty"`
	ErrorCode string          `json:"error_code,omitempty"`
}

type taskRecord struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	RxBytes     int64  `json:"rx_bytes"`
	RxRate      int64  `json:"rx_rate"`
	RxPct       int    `json:"rx_pct"`
	Status      string `json:"status"`
	ETA         int64  `json:"eta"`
	Error       string `json:"error"`
	DownloadDir string `json:"download_dir"`
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
		baseURL: fmt.Sprintf("%s://%s:%d/api/v1", scheme, cfg.Host, cfg.Port),
		logger:  logger.With().Str("client", cfg.Name).Str("type", "freebox").Logger(),
	}
}

func (c *Client) Name() string {
	if c.config.Name != "" {
		return c.config.Name
	}
	return "Freebox"
}

func (c *Client) Type() types.ClientType {
	return types.ClientTypeFreebox
}

func (c *Client) Protocol() types.Protocol {
	return types.ProtocolTorrent
}

func (c *Client) Test(ctx context.Context) error {
	return c.openSession(ctx)
}

func (c *Client) AddMagnet(ctx context.Context, magnetURL string, opts *types.AddOptions) (string, error) {
	return c.AddURL(ctx, magnetURL, opts)
}

func (c *Client) AddURL(ctx context.Context, downloadURL string, opts *types.AddOptions) (string, error) {
	form := url.Values{}
	form.Set("download_url", downloadURL)
	if dir := resolveDir(opts); dir != "" {
		// The API expects directory paths base64-encoded.
		form.Set("download_dir", base64.StdEncoding.EncodeToString([]byte(dir)))
	}

	result, err := c.request(ctx, http.MethodPost, "/downloads/add", []byte(form.Encode()),
		"application/x-www-form-urlencoded", true)
	if err != nil {
		return "", err
	}
	return parseAddResult(c.Name(), result)
}

func (c *Client) AddFile(ctx context.Context, filename string, content []byte, opts *types.AddOptions) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("download_file", filename)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(content); err != nil {
		return "", err
	}
	if dir := resolveDir(opts); dir != "" {
		if err := mw.WriteField("download_dir", base64.StdEncoding.EncodeToString([]byte(dir))); err != nil {
			return "", err
		}
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	result, err := c.request(ctx, http.MethodPost, "/downloads/add", buf.Bytes(),
		mw.FormDataContentType(), true)
	if err != nil {
		return "", err
	}
	return parseAddResult(c.Name(), result)
}

func (c *Client) Items(ctx context.Context) ([]types.DownloadItem, error) {
	result, err := c.request(ctx, http.MethodGet, "/downloads/", nil, "", true)
	if err != nil {
		return nil, err
	}

	var tasks []taskRecord
	if err := json.Unmarshal(result, &tasks); err != nil {
		return nil, provider.NewParseError(c.Name(), err)
	}

	items := make([]types.DownloadItem, 0, len(tasks))
	for i := range tasks {
		items = append(items, mapTask(&tasks[i]))
	}
	return items, nil
}

func (c *Client) Remove(ctx context.Context, id string, deleteFiles bool) error {
	endpoint := "/downloads/" + id
	if deleteFiles {
		endpoint += "/erase"
	}
	_, err := c.request(ctx, http.MethodDelete, endpoint, nil, "", true)
	return err
}

// openSession answers the login challenge with HMAC-SHA1 keyed on the app
// token and stores the returned session token.
func (c *Client) openSession(ctx context.Context) error {
	if c.config.AppToken == "" {
		return provider.NewAuthError(c.Name(), "no app token configured")
	}

	loginRaw, err := c.request(ctx, http.MethodGet, "/login", nil, "", false)
	if err != nil {
		return err
	}

	var login struct {
		Challenge string `json:"challenge"`
	}
	if err := json.Unmarshal(loginRaw, &login); err != nil {
		return provider.NewParseError(c.Name(), err)
	}

	mac := hmac.New(sha1.New, []byte(c.config.AppToken))
	mac.Write([]byte(login.Challenge))
	password := hex.EncodeToString(mac.Sum(nil))

	payload, err := json.Marshal(map[string]string{
		"app_id":   appID,
		"password": password,
	})
	if err != nil {
		return err
	}

	sessionRaw, err := c.request(ctx, http.MethodPost, "/login/session", payload, "application/json", false)
	if err != nil {
		return err
	}

	var session struct {
		SessionToken string `json:"session_token"`
	}
	if err := json.Unmarshal(sessionRaw, &session); err != nil {
		return provider.NewParseError(c.Name(), err)
	}
	if session.SessionToken == "" {
		return provider.NewAuthError(c.Name(), "empty session token")
	}

	c.sessionToken = session.SessionToken
	c.logger.Debug().Msg("session opened")
	return nil
}

func (c *Client) request(ctx context.Context, method, endpoint string, body []byte, contentType string, needsAuth bool) (json.RawMessage, error) {
	if needsAuth && c.sessionToken == "" {
		if err := c.openSession(ctx); err != nil {
			return nil, err
		}
	}

	result, err := c.send(ctx, method, endpoint, body, contentType)
	if needsAuth && provider.IsAuthError(err) {
		c.sessionToken = ""
		if err := c.openSession(ctx); err != nil {
			return nil, err
		}
		return c.send(ctx, method, endpoint, body, contentType)
	}
	return result, err
}

func (c *Client) send(ctx context.Context, method, endpoint string, body []byte, contentType string) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.sessionToken != "" {
		req.Header.Set("X-Fbx-App-Auth", c.sessionToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, provider.FromRequestError(c.Name(), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, provider.FromRequestError(c.Name(), err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, provider.NewAuthError(c.Name(), "session rejected")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, provider.NewNetworkError(c.Name(), resp.StatusCode, respBody)
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, provider.NewParseError(c.Name(), err)
	}
	if !env.Success {
		if env.ErrorCode == "auth_required" || env.ErrorCode == "invalid_token" {
			return nil, provider.NewAuthError(c.Name(), env.Msg)
		}
		return nil, provider.NewProtocolFault(c.Name(), fmt.Sprintf("%s: %s", env.ErrorCode, env.Msg))
	}
	return env.Result, nil
}

func parseAddResult(name string, result json.RawMessage) (string, error) {
	var added struct {
		ID int `json:"id"`
	}
	if err := json.Unmarshal(result, &added); err != nil {
		return "", provider.NewParseError(name, err)
	}
	return strconv.Itoa(added.ID), nil
}

func resolveDir(opts *types.AddOptions) string {
	if opts == nil {
		return ""
	}
	return opts.DownloadDir
}

func mapTask(task *taskRecord) types.DownloadItem {
	status := mapTaskStatus(task.Status, task.Error)

	eta := task.ETA
	if eta <= 0 {
		eta = -1
	}

	dir := task.DownloadDir
	if decoded, err := base64.StdEncoding.DecodeString(task.DownloadDir); err == nil {
		dir = string(decoded)
	}

	item := types.DownloadItem{
		ID:             strconv.Itoa(task.ID),
		Name:           task.Name,
		Status:         status,
		Progress:       float64(task.RxPct) / 100.0,
		Size:           task.Size,
		DownloadedSize: task.RxBytes,
		DownloadSpeed:  task.RxRate,
		ETA:            eta,
		DownloadDir:    dir,
	}
	if status == types.StatusFailed {
		item.Error = task.Error
	}
	return item
}

func mapTaskStatus(status, errMsg string) types.Status {
	if errMsg != "" && errMsg != "none" {
		return types.StatusFailed
	}

	switch status {
	case "stopped", "stopping":
		return types.StatusPaused
	case "queued":
		return types.StatusQueued
	case "starting", "downloading", "retry", "checking":
		return types.StatusDownloading
	case "error":
		return types.StatusFailed
	case "done", "seeding":
		return types.StatusCompleted
	default:
		return types.StatusUnknown
	}
}
