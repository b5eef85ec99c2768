// Package nzbvortex implements the NZBVortex REST client. Login derives a
// credential from a server nonce, a client nonce and the API key; the
// resulting session id rides along every call and is renewed once when the
// server answers with a NotLoggedIn body.
package nzbvortex

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/shelfstream/shelfstream/internal/downloader/types"
	"github.com/shelfstream/shelfstream/internal/provider"
)

var (
	_ types.Trackable   = (*Client)(nil)
	_ types.URLSupport  = (*Client)(nil)
	_ types.FileSupport = (*Client)(nil)
)

const notLoggedIn = "NotLoggedIn"

type Client struct {
	config     *types.ClientConfig
	httpClient *http.Client
	baseURL    string
	sessionID  string
	logger     zerolog.Logger
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
		baseURL: fmt.Sprintf("%s://%s:%d/api", scheme, cfg.Host, cfg.Port),
		logger:  logger.With().Str("client", cfg.Name).Str("type", "nzbvortex").Logger(),
	}
}

func (c *Client) Name() string {
	if c.config.Name != "" {
		return c.config.Name
	}
	return "NZBVortex"
}

func (c *Client) Type() types.ClientType {
	return types.ClientTypeNZBVortex
}

func (c *Client) Protocol() types.Protocol {
	return types.ProtocolUsenet
}

func (c *Client) Test(ctx context.Context) error {
	body, err := c.request(ctx, http.MethodGet, "/app/apilevel", nil)
	if err != nil {
		return err
	}

	var level struct {
		APILevel int `json:"apilevel"`
	}
	if err := json.Unmarshal(body, &level); err != nil {
		return provider.NewParseError(c.Name(), err)
	}
	if level.APILevel < 2 {
		return provider.NewProtocolFault(c.Name(), fmt.Sprintf("api level %d is below 2", level.APILevel))
	}
	return nil
}

func (c *Client) AddURL(ctx context.Context, downloadURL string, _ *types.AddOptions) (string, error) {
	params := url.Values{}
	params.Set("url", downloadURL)
	_, err := c.request(ctx, http.MethodGet, "/nzb/add?"+params.Encode(), nil)
	return "", err
}

func (c *Client) AddFile(ctx context.Context, filename string, content []byte, _ *types.AddOptions) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("nzbFile", filename)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(content); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	_, err = c.upload(ctx, "/nzb/add", buf.Bytes(), mw.FormDataContentType())
	return "", err
}

func (c *Client) Items(ctx context.Context) ([]types.DownloadItem, error) {
	body, err := c.request(ctx, http.MethodGet, "/nzb", nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		NZBs []nzbRecord `json:"nzbs"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, provider.NewParseError(c.Name(), err)
	}

	items := make([]types.DownloadItem, 0, len(resp.NZBs))
	for i := range resp.NZBs {
		items = append(items, mapNZB(&resp.NZBs[i]))
	}
	return items, nil
}

func (c *Client) Remove(ctx context.Context, id string, deleteFiles bool) error {
	endpoint := fmt.Sprintf("/nzb/%s/cancel", id)
	if deleteFiles {
		endpoint = fmt.Sprintf("/nzb/%s/canceldelete", id)
	}
	_, err := c.request(ctx, http.MethodGet, endpoint, nil)
	return err
}

// request sends an authenticated call. A NotLoggedIn result clears the
// session and retries once with a fresh login.
func (c *Client) request(ctx context.Context, method, endpoint string, body []byte) (json.RawMessage, error) {
	var attempts int
	for {
		attempts++

		if c.sessionID == "" {
			if err := c.login(ctx); err != nil {
				return nil, err
			}
		}

		raw, expired, err := c.send(ctx, method, endpoint, body, "")
		if err != nil {
			return nil, err
		}
		if !expired {
			return raw, nil
		}
		if attempts > 1 {
			return nil, provider.NewAuthError(c.Name(), "session rejected after refresh")
		}

		c.logger.Debug().Msg("session expired, logging in again")
		c.sessionID = ""
	}
}

func (c *Client) upload(ctx context.Context, endpoint string, body []byte, contentType string) (json.RawMessage, error) {
	var attempts int
	for {
		attempts++

		if c.sessionID == "" {
			if err := c.login(ctx); err != nil {
				return nil, err
			}
		}

		raw, expired, err := c.send(ctx, http.MethodPost, endpoint, body, contentType)
		if err != nil {
			return nil, err
		}
		if !expired {
			return raw, nil
		}
		if attempts > 1 {
			return nil, provider.NewAuthError(c.Name(), "session rejected after refresh")
		}
		c.sessionID = ""
	}
}

func (c *Client) send(ctx context.Context, method, endpoint string, body []byte, contentType string) (json.RawMessage, bool, error) {
	u := c.baseURL + endpoint
	sep := "?"
	if strings.Contains(endpoint, "?") {
		sep = "&"
	}
	u += sep + "sessionid=" + url.QueryEscape(c.sessionID)

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, false, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, false, provider.FromRequestError(c.Name(), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, provider.FromRequestError(c.Name(), err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, true, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, provider.NewNetworkError(c.Name(), resp.StatusCode, respBody)
	}

	// Session expiry comes back as a 200 with a result field.
	var probe struct {
		Result string `json:"result"`
	}
	if json.Unmarshal(respBody, &probe) == nil && probe.Result == notLoggedIn {
		return nil, true, nil
	}
	return respBody, false, nil
}

// login answers the server nonce with base64(sha256(nonce:cnonce:apikey))
// and stores the returned session id.
func (c *Client) login(ctx context.Context) error {
	if c.config.APIKey == "" {
		return provider.NewAuthError(c.Name(), "no api key configured")
	}

	nonceBody, err := c.unauthenticatedGet(ctx, "/auth/nonce")
	if err != nil {
		return err
	}

	var nonceResp struct {
		AuthNonce string `json:"authNonce"`
	}
	if err := json.Unmarshal(nonceBody, &nonceResp); err != nil {
		return provider.NewParseError(c.Name(), err)
	}
	if nonceResp.AuthNonce == "" {
		return provider.NewParseError(c.Name(), fmt.Errorf("empty auth nonce"))
	}

	cnonce := newCNonce()
	sum := sha256.Sum256([]byte(nonceResp.AuthNonce + ":" + cnonce + ":" + c.config.APIKey))
	hash := base64.StdEncoding.EncodeToString(sum[:])

	params := url.Values{}
	params.Set("nonce", nonceResp.AuthNonce)
	params.Set("cnonce", cnonce)
	params.Set("hash", hash)

	loginBody, err := c.unauthenticatedGet(ctx, "/auth/login?"+params.Encode())
	if err != nil {
		return err
	}

	var loginResp struct {
		LoginResult string `json:"loginResult"`
		SessionID   string `json:"sessionID"`
	}
	if err := json.Unmarshal(loginBody, &loginResp); err != nil {
		return provider.NewParseError(c.Name(), err)
	}
	if !strings.EqualFold(loginResp.LoginResult, "successful") || loginResp.SessionID == "" {
		return provider.NewAuthError(c.Name(), "login rejected")
	}

	c.sessionID = loginResp.SessionID
	return nil
}

func (c *Client) unauthenticatedGet(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, http.NoBody)
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
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, provider.NewAuthError(c.Name(), "credentials rejected")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, provider.NewNetworkError(c.Name(), resp.StatusCode, body)
	}
	return body, nil
}

func newCNonce() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "0123456789abcdef0123456789abcdef"
	}
	return hex.EncodeToString(buf)
}

type nzbRecord struct {
	ID             int     `json:"id"`
	UIName         string  `json:"uiName"`
	Status         int     `json:"state"`
	Progress       float64 `json:"progress"`
	TotalDownload  int64   `json:"totalDownloadSize"`
	DownloadedSize int64   `json:"downloadedSize"`
	Speed          int64   `json:"speed"`
	DestinationDir string  `json:"destinationPath"`
	StatusMessage  string  `json:"statusMessage"`
}

// NZBVortex state codes, from the API reference: 0 waiting, 1-4 fetching
// and verifying, 5 paused, up to 20 for the postprocessing stages, 20 done,
// 21+ failure states.
func mapNZB(rec *nzbRecord) types.DownloadItem {
	var status types.Status
	switch {
	case rec.Status == 0:
		status = types.StatusQueued
	case rec.Status == 5:
		status = types.StatusPaused
	case rec.Status == 20:
		status = types.StatusCompleted
	case rec.Status > 20:
		status = types.StatusFailed
	default:
		status = types.StatusDownloading
	}

	var eta int64 = -1
	if rec.Speed > 0 && rec.TotalDownload > rec.DownloadedSize {
		eta = (rec.TotalDownload - rec.DownloadedSize) / rec.Speed
	}

	item := types.DownloadItem{
		ID:             strconv.Itoa(rec.ID),
		Name:           rec.UIName,
		Status:         status,
		Progress:       rec.Progress / 100.0,
		Size:           rec.TotalDownload,
		DownloadedSize: rec.DownloadedSize,
		DownloadSpeed:  rec.Speed,
		ETA:            eta,
		DownloadDir:    rec.DestinationDir,
	}
	if status == types.StatusFailed {
		item.Error = rec.StatusMessage
	}
	return item
}
