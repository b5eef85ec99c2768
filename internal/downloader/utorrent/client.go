// Package utorrent implements the uTorrent Web UI client. Every request is
// gated on a CSRF token fetched from /gui/token.html; a 400 or 401 response
// invalidates the token and the request is retried once with a fresh one.
package utorrent

import (
	"bytes"
	"context"
	"crypto/sha1" //nolint:gosec // BitTorrent info hashes are SHA1 by definition
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
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
	_ types.FileSupport   = (*Client)(nil)
)

type Client struct {
	config     *types.ClientConfig
	httpClient *http.Client
	baseURL    string
	logger     zerolog.Logger

	tokenMu sync.RWMutex
	token   string
}

func New(cfg *types.ClientConfig, logger zerolog.Logger) *Client {
	jar, _ := cookiejar.New(nil)

	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}

	urlBase := cfg.URLBase
	if urlBase == "" {
		urlBase = "/gui/"
	}
	urlBase = "/" + strings.Trim(urlBase, "/") + "/"

	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.TimeoutOrDefault(),
			Jar:     jar,
		},
		baseURL: fmt.Sprintf("%s://%s:%d%s", scheme, cfg.Host, cfg.Port, urlBase),
		logger:  logger.With().Str("client", cfg.Name).Str("type", "utorrent").Logger(),
	}
}

func (c *Client) Name() string {
	if c.config.Name != "" {
		return c.config.Name
	}
	return "uTorrent"
}

func (c *Client) Type() types.ClientType {
	return types.ClientTypeUTorrent
}

func (c *Client) Protocol() types.Protocol {
	return types.ProtocolTorrent
}

func (c *Client) Test(ctx context.Context) error {
	params := url.Values{}
	params.Set("action", "getsettings")
	_, err := c.request(ctx, params)
	return err
}

func (c *Client) AddMagnet(ctx context.Context, magnetURL string, opts *types.AddOptions) (string, error) {
	hash := extractMagnetHash(magnetURL)
	if hash == "" {
		return "", provider.NewInvalidLocatorError(magnetURL)
	}

	params := url.Values{}
	params.Set("action", "add-url")
	params.Set("s", magnetURL)
	if _, err := c.request(ctx, params); err != nil {
		return "", err
	}

	if err := c.applyLabel(ctx, hash, opts); err != nil {
		return "", err
	}
	return strings.ToLower(hash), nil
}

func (c *Client) AddURL(ctx context.Context, downloadURL string, opts *types.AddOptions) (string, error) {
	params := url.Values{}
	params.Set("action", "add-url")
	params.Set("s", downloadURL)
	if _, err := c.request(ctx, params); err != nil {
		return "", err
	}

	// The add-url action returns no identifier for plain torrent URLs;
	// the label can only be applied once the item shows up in the list.
	_ = opts
	return "", nil
}

func (c *Client) AddFile(ctx context.Context, _ string, content []byte, opts *types.AddOptions) (string, error) {
	var sent int
	for {
		sent++

		token, err := c.currentToken(ctx)
		if err != nil {
			return "", err
		}

		status, body, err := c.postFile(ctx, token, content)
		if err != nil {
			return "", provider.FromRequestError(c.Name(), err)
		}

		switch {
		case status == http.StatusOK:
			hash := computeInfoHash(content)
			if hash != "" {
				if err := c.applyLabel(ctx, hash, opts); err != nil {
					return "", err
				}
			}
			return strings.ToLower(hash), nil
		case status == http.StatusUnauthorized || status == http.StatusBadRequest:
			if sent > 1 {
				return "", provider.NewAuthError(c.Name(), "token rejected after refresh")
			}
			c.dropToken()
		default:
			return "", provider.NewNetworkError(c.Name(), status, body)
		}
	}
}

func (c *Client) Items(ctx context.Context) ([]types.DownloadItem, error) {
	params := url.Values{}
	params.Set("list", "1")

	body, err := c.request(ctx, params)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Torrents [][]any `json:"torrents"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, provider.NewParseError(c.Name(), err)
	}

	items := make([]types.DownloadItem, 0, len(resp.Torrents))
	for _, row := range resp.Torrents {
		if len(row) < 11 {
			continue
		}
		items = append(items, mapListRow(row))
	}
	return items, nil
}

func (c *Client) Remove(ctx context.Context, id string, deleteFiles bool) error {
	action := "remove"
	if deleteFiles {
		action = "removedata"
	}

	params := url.Values{}
	params.Set("action", action)
	params.Set("hash", strings.ToUpper(id))
	_, err := c.request(ctx, params)
	return err
}

func (c *Client) applyLabel(ctx context.Context, hash string, opts *types.AddOptions) error {
	if opts == nil || opts.Category == "" {
		return nil
	}

	params := url.Values{}
	params.Set("action", "setprops")
	params.Set("hash", strings.ToUpper(hash))
	params.Set("s", "label")
	params.Set("v", opts.Category)
	_, err := c.request(ctx, params)
	return err
}

// request runs a token-authenticated GET against the Web UI. A 400 or 401
// means the token expired; it is refreshed and the request resent once.
func (c *Client) request(ctx context.Context, params url.Values) ([]byte, error) {
	var sent int
	for {
		sent++

		token, err := c.currentToken(ctx)
		if err != nil {
			return nil, err
		}

		params.Set("token", token)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), http.NoBody)
		if err != nil {
			return nil, err
		}
		req.SetBasicAuth(c.config.Username, c.config.Password)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, provider.FromRequestError(c.Name(), err)
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, provider.FromRequestError(c.Name(), readErr)
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			return body, nil
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusBadRequest:
			if sent > 1 {
				return nil, provider.NewAuthError(c.Name(), "token rejected after refresh")
			}
			c.logger.Debug().Msg("token expired, fetching a new one")
			c.dropToken()
		default:
			return nil, provider.NewNetworkError(c.Name(), resp.StatusCode, body)
		}
	}
}

func (c *Client) postFile(ctx context.Context, token string, content []byte) (int, []byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("torrent_file", "file.torrent")
	if err != nil {
		return 0, nil, err
	}
	if _, err := fw.Write(content); err != nil {
		return 0, nil, err
	}
	if err := mw.Close(); err != nil {
		return 0, nil, err
	}

	reqURL := c.baseURL + "?token=" + url.QueryEscape(token) + "&action=add-file"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, &buf)
	if err != nil {
		return 0, nil, err
	}
	req.SetBasicAuth(c.config.Username, c.config.Password)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, body, nil
}

func (c *Client) currentToken(ctx context.Context) (string, error) {
	c.tokenMu.RLock()
	token := c.token
	c.tokenMu.RUnlock()
	if token != "" {
		return token, nil
	}
	return c.fetchToken(ctx)
}

func (c *Client) dropToken() {
	c.tokenMu.Lock()
	c.token = ""
	c.tokenMu.Unlock()
}

func (c *Client) fetchToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"token.html", http.NoBody)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.config.Username, c.config.Password)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", provider.FromRequestError(c.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return "", provider.NewAuthError(c.Name(), "invalid username or password")
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", provider.NewNetworkError(c.Name(), resp.StatusCode, body)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", provider.FromRequestError(c.Name(), err)
	}

	token := parseTokenHTML(string(body))
	if token == "" {
		return "", provider.NewParseError(c.Name(), fmt.Errorf("no token in response"))
	}

	c.tokenMu.Lock()
	c.token = token
	c.tokenMu.Unlock()
	return token, nil
}

// parseTokenHTML pulls the token text out of the single-div token.html page.
func parseTokenHTML(html string) string {
	start := strings.Index(html, ">")
	if start == -1 {
		return ""
	}
	end := strings.Index(html[start+1:], "</")
	if end == -1 {
		return ""
	}
	return strings.TrimSpace(html[start+1 : start+1+end])
}

func extractMagnetHash(magnetURL string) string {
	u, err := url.Parse(magnetURL)
	if err != nil {
		return ""
	}

	xt := u.Query().Get("xt")
	if !strings.HasPrefix(xt, "urn:btih:") {
		return ""
	}
	return strings.ToUpper(strings.TrimPrefix(xt, "urn:btih:"))
}

// computeInfoHash hashes the bencoded info dictionary of a .torrent file.
func computeInfoHash(torrentData []byte) string {
	infoKey := []byte("4:info")
	idx := bytes.Index(torrentData, infoKey)
	if idx < 0 {
		return ""
	}
	infoBytes := torrentData[idx+len(infoKey):]
	end := bencodeValueEnd(infoBytes)
	if end <= 0 {
		return ""
	}
	sum := sha1.Sum(infoBytes[:end]) //nolint:gosec // info hash algorithm
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// bencodeValueEnd returns the byte length of the bencoded value at the start
// of data, or -1 when the value is truncated.
func bencodeValueEnd(data []byte) int {
	if len(data) == 0 {
		return -1
	}
	switch data[0] {
	case 'd', 'l':
		pos := 1
		for pos < len(data) && data[pos] != 'e' {
			if data[0] == 'd' {
				n := bencodeValueEnd(data[pos:])
				if n <= 0 {
					return -1
				}
				pos += n
			}
			n := bencodeValueEnd(data[pos:])
			if n <= 0 {
				return -1
			}
			pos += n
		}
		if pos >= len(data) {
			return -1
		}
		return pos + 1
	case 'i':
		end := bytes.IndexByte(data[1:], 'e')
		if end < 0 {
			return -1
		}
		return end + 2
	default:
		colon := bytes.IndexByte(data, ':')
		if colon < 0 {
			return -1
		}
		length, err := strconv.Atoi(string(data[:colon]))
		if err != nil {
			return -1
		}
		return colon + 1 + length
	}
}

func mapListRow(row []any) types.DownloadItem {
	getString := func(idx int) string {
		if idx >= len(row) {
			return ""
		}
		s, _ := row[idx].(string)
		return s
	}
	getInt64 := func(idx int) int64 {
		if idx >= len(row) {
			return 0
		}
		if f, ok := row[idx].(float64); ok {
			return int64(f)
		}
		return 0
	}

	hash := strings.ToLower(getString(0))
	flags := int(getInt64(1))
	name := getString(2)
	size := getInt64(3)
	permille := getInt64(4)
	downloaded := getInt64(5)
	downloadSpeed := getInt64(9)
	eta := getInt64(10)
	downloadDir := getString(26)

	if eta <= 0 {
		eta = -1
	}

	item := types.DownloadItem{
		ID:             hash,
		Name:           name,
		Status:         mapFlags(flags, permille),
		Progress:       float64(permille) / 1000.0,
		Size:           size,
		DownloadedSize: downloaded,
		DownloadSpeed:  downloadSpeed,
		ETA:            eta,
		DownloadDir:    downloadDir,
	}
	if item.Status == types.StatusFailed {
		item.Error = "client reported an error flag"
	}
	return item
}

func mapFlags(flags int, permille int64) types.Status {
	const (
		flagStarted = 1
		flagChecked = 8
		flagError   = 16
		flagPaused  = 32
		flagLoaded  = 128
	)

	switch {
	case flags&flagError != 0:
		return types.StatusFailed
	case flags&flagLoaded != 0 && flags&flagChecked != 0 && permille == 1000:
		return types.StatusCompleted
	case flags&flagPaused != 0:
		return types.StatusPaused
	case flags&flagStarted != 0:
		return types.StatusDownloading
	default:
		return types.StatusQueued
	}
}
