// Package rtorrent implements an rTorrent XML-RPC client. The envelope is
// hand-built with typed <value> elements; a <fault> in the response is
// surfaced as a protocol fault before <params> is ever inspected.
package rtorrent

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/shelfstream/shelfstream/internal/downloader/types"
	"github.com/shelfstream/shelfstream/internal/provider"
)

var (
	_ types.Trackable     = (*Client)(nil)
	_ types.MagnetSupport = (*Client)(nil)
	_ types.FileSupport   = (*Client)(nil)
)

const xmlValueTag = "value"

// fieldSelectors are the d.multicall2 fields used to list downloads.
var fieldSelectors = []string{
	"d.hash=",
	"d.name=",
	"d.base_path=",
	"d.custom1=",
	"d.size_bytes=",
	"d.left_bytes=",
	"d.down.rate=",
	"d.is_active=",
	"d.complete=",
	"d.message=",
}

type Client struct {
	config     *types.ClientConfig
	httpClient *http.Client
	baseURL    string
	logger     zerolog.Logger
}

func New(cfg *types.ClientConfig, logger zerolog.Logger) *Client {
	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}

	urlBase := cfg.URLBase
	if urlBase == "" {
		urlBase = "RPC2"
	}
	urlBase = strings.Trim(urlBase, "/")

	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.TimeoutOrDefault(),
		},
		baseURL: fmt.Sprintf("%s://%s:%d/%s", scheme, cfg.Host, cfg.Port, urlBase),
		logger:  logger.With().Str("client", cfg.Name).Str("type", "rtorrent").Logger(),
	}
}

func (c *Client) Name() string {
	if c.config.Name != "" {
		return c.config.Name
	}
	return "rTorrent"
}

func (c *Client) Type() types.ClientType {
	return types.ClientTypeRTorrent
}

func (c *Client) Protocol() types.Protocol {
	return types.ProtocolTorrent
}

func (c *Client) Test(ctx context.Context) error {
	result, err := c.call(ctx, "system.client_version", nil)
	if err != nil {
		return err
	}

	version, ok := result.(string)
	if !ok || version == "" {
		return provider.NewParseError(c.Name(), fmt.Errorf("invalid version response"))
	}
	return nil
}

func (c *Client) AddMagnet(ctx context.Context, magnetURL string, opts *types.AddOptions) (string, error) {
	methodName := "load.start"
	if opts != nil && opts.Paused {
		methodName = "load.normal"
	}

	params := []xmlRPCValue{
		{Type: "string", Value: ""},
		{Type: "string", Value: magnetURL},
	}
	params = append(params, addCommandParams(opts)...)

	if _, err := c.call(ctx, methodName, params); err != nil {
		return "", err
	}
	return extractHashFromMagnet(magnetURL), nil
}

func (c *Client) AddFile(ctx context.Context, _ string, content []byte, opts *types.AddOptions) (string, error) {
	methodName := "load.raw_start"
	if opts != nil && opts.Paused {
		methodName = "load.raw"
	}

	params := []xmlRPCValue{
		{Type: "string", Value: ""},
		{Type: "base64", Value: base64.StdEncoding.EncodeToString(content)},
	}
	params = append(params, addCommandParams(opts)...)

	_, err := c.call(ctx, methodName, params)
	return "", err
}

func (c *Client) Items(ctx context.Context) ([]types.DownloadItem, error) {
	params := []xmlRPCValue{
		{Type: "string", Value: ""},
		{Type: "string", Value: ""},
	}
	for _, sel := range fieldSelectors {
		params = append(params, xmlRPCValue{Type: "string", Value: sel})
	}

	resp, err := c.call(ctx, "d.multicall2", params)
	if err != nil {
		return nil, err
	}

	rows, ok := resp.([]any)
	if !ok {
		return []types.DownloadItem{}, nil
	}

	items := make([]types.DownloadItem, 0, len(rows))
	for _, row := range rows {
		fields, ok := row.([]any)
		if !ok || len(fields) < len(fieldSelectors) {
			continue
		}
		items = append(items, mapDownloadFields(fields))
	}
	return items, nil
}

func (c *Client) Remove(ctx context.Context, id string, _ bool) error {
	// rTorrent has no single erase-with-data call; d.erase drops the
	// download and leaves files in place.
	_, err := c.call(ctx, "d.erase", []xmlRPCValue{
		{Type: "string", Value: strings.ToUpper(id)},
	})
	return err
}

// xmlRPCValue represents a typed XML-RPC parameter.
type xmlRPCValue struct {
	Type  string // "string", "int", "base64"
	Value string
}

func (c *Client) call(ctx context.Context, method string, params []xmlRPCValue) (any, error) {
	reqBody, err := buildXMLRPCRequest(method, params)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "text/xml")
	if c.config.Username != "" {
		req.SetBasicAuth(c.config.Username, c.config.Password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, provider.FromRequestError(c.Name(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return nil, provider.FromRequestError(c.Name(), err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, provider.NewAuthError(c.Name(), "credentials rejected")
	case resp.StatusCode != http.StatusOK:
		return nil, provider.NewNetworkError(c.Name(), resp.StatusCode, body)
	}

	return c.parseResponse(body)
}

func buildXMLRPCRequest(method string, params []xmlRPCValue) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0"?>`)
	buf.WriteString(`<methodCall>`)
	buf.WriteString(`<methodName>`)
	if err := xml.EscapeText(&buf, []byte(method)); err != nil {
		return nil, err
	}
	buf.WriteString(`</methodName>`)

	if len(params) > 0 {
		buf.WriteString(`<params>`)
		for _, p := range params {
			buf.WriteString(`<param><value>`)
			switch p.Type {
			case "base64":
				buf.WriteString(`<base64>`)
				buf.WriteString(p.Value)
				buf.WriteString(`</base64>`)
			case "int":
				buf.WriteString(`<i4>`)
				buf.WriteString(p.Value)
				buf.WriteString(`</i4>`)
			default:
				buf.WriteString(`<string>`)
				if err := xml.EscapeText(&buf, []byte(p.Value)); err != nil {
					return nil, err
				}
				buf.WriteString(`</string>`)
			}
			buf.WriteString(`</value></param>`)
		}
		buf.WriteString(`</params>`)
	}

	buf.WriteString(`</methodCall>`)
	return buf.Bytes(), nil
}

// XML-RPC response parsing types.

type methodResponse struct {
	Params *responseParams `xml:"params"`
	Fault  *responseFault  `xml:"fault"`
}

type responseParams struct {
	Param []responseParam `xml:"param"`
}

type responseParam struct {
	Value responseValue `xml:"value"`
}

type responseFault struct {
	Value responseValue `xml:"value"`
}

type responseValue struct {
	Inner []byte `xml:",innerxml"`
}

func (c *Client) parseResponse(data []byte) (any, error) {
	var resp methodResponse
	if err := xml.Unmarshal(data, &resp); err != nil {
		return nil, provider.NewParseError(c.Name(), err)
	}

	if resp.Fault != nil {
		return nil, c.parseFault(resp.Fault.Value.Inner)
	}

	if resp.Params == nil || len(resp.Params.Param) == 0 {
		return "", nil
	}
	return parseValue(resp.Params.Param[0].Value.Inner)
}

func (c *Client) parseFault(inner []byte) error {
	val, err := parseValue(inner)
	if err != nil {
		return provider.NewProtocolFault(c.Name(), string(inner))
	}

	if m, ok := val.(map[string]any); ok {
		faultString, _ := m["faultString"].(string)
		return provider.NewProtocolFault(c.Name(), faultString)
	}
	return provider.NewProtocolFault(c.Name(), fmt.Sprintf("%v", val))
}

func parseValue(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "", nil
	}

	decoder := xml.NewDecoder(bytes.NewReader(trimmed))
	return decodeValue(decoder)
}

func decodeValue(decoder *xml.Decoder) (any, error) {
	for {
		token, err := decoder.Token()
		if err != nil {
			return "", err
		}

		switch t := token.(type) {
		case xml.StartElement:
			return decodeTypedValue(decoder, t.Name.Local)
		case xml.CharData:
			s := strings.TrimSpace(string(t))
			if s != "" {
				return s, nil
			}
		}
	}
}

func decodeTypedValue(decoder *xml.Decoder, typeName string) (any, error) {
	switch typeName {
	case "string":
		return decodeStringContent(decoder, "string")
	case "int", "i4", "i8":
		return decodeIntContent(decoder, typeName)
	case "base64":
		return decodeStringContent(decoder, "base64")
	case "array":
		return decodeArray(decoder)
	case "struct":
		return decodeStruct(decoder)
	case xmlValueTag:
		return decodeValue(decoder)
	case "boolean":
		content, _ := decodeStringContent(decoder, "boolean")
		s, _ := content.(string)
		return s == "1", nil
	default:
		return decodeStringContent(decoder, typeName)
	}
}

func decodeStringContent(decoder *xml.Decoder, endTag string) (any, error) {
	var content strings.Builder
	for {
		token, err := decoder.Token()
		if err != nil {
			return content.String(), err
		}
		switch t := token.(type) {
		case xml.CharData:
			content.Write(t)
		case xml.EndElement:
			if t.Name.Local == endTag {
				return content.String(), nil
			}
		}
	}
}

func decodeIntContent(decoder *xml.Decoder, endTag string) (any, error) {
	s, err := decodeStringContent(decoder, endTag)
	if err != nil {
		return int64(0), err
	}
	str, ok := s.(string)
	if !ok {
		return int64(0), nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(str), 10, 64)
	if err != nil {
		return int64(0), nil
	}
	return n, nil
}

func decodeArray(decoder *xml.Decoder) ([]any, error) {
	items := []any{}

	for {
		token, err := decoder.Token()
		if err != nil {
			return items, err
		}

		if end, ok := token.(xml.EndElement); ok {
			if end.Name.Local == "array" || end.Name.Local == "data" {
				return items, nil
			}
			continue
		}

		start, ok := token.(xml.StartElement)
		if !ok || start.Name.Local != xmlValueTag {
			continue
		}

		val, valErr := decodeValue(decoder)
		if valErr != nil {
			return items, valErr
		}
		items = append(items, val)
		consumeEndElement(decoder, xmlValueTag)
	}
}

func decodeStruct(decoder *xml.Decoder) (any, error) {
	result := make(map[string]any)

	for {
		token, err := decoder.Token()
		if err != nil {
			return result, err
		}

		switch t := token.(type) {
		case xml.StartElement:
			if t.Name.Local == "member" {
				name, val := decodeMember(decoder)
				if name != "" {
					result[name] = val
				}
			}
		case xml.EndElement:
			if t.Name.Local == "struct" {
				return result, nil
			}
		}
	}
}

func decodeMember(decoder *xml.Decoder) (memberName string, memberVal any) {
	for {
		token, err := decoder.Token()
		if err != nil {
			return memberName, memberVal
		}

		switch t := token.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "name":
				s, _ := decodeStringContent(decoder, "name")
				memberName, _ = s.(string)
			case xmlValueTag:
				memberVal, _ = decodeValue(decoder)
				consumeEndElement(decoder, xmlValueTag)
			}
		case xml.EndElement:
			if t.Name.Local == "member" {
				return memberName, memberVal
			}
		}
	}
}

func consumeEndElement(decoder *xml.Decoder, name string) {
	for {
		token, err := decoder.Token()
		if err != nil {
			return
		}
		if end, ok := token.(xml.EndElement); ok && end.Name.Local == name {
			return
		}
	}
}

func mapDownloadFields(fields []any) types.DownloadItem {
	hash := asString(fields[0])
	name := asString(fields[1])
	basePath := asString(fields[2])
	sizeBytes := asInt64(fields[4])
	leftBytes := asInt64(fields[5])
	downRate := asInt64(fields[6])
	isActive := asInt64(fields[7])
	complete := asInt64(fields[8])
	message := asString(fields[9])

	downloaded := sizeBytes - leftBytes
	var progress float64
	if sizeBytes > 0 {
		progress = float64(downloaded) / float64(sizeBytes)
	}

	var eta int64 = -1
	if downRate > 0 && leftBytes > 0 {
		eta = leftBytes / downRate
	}

	status := mapStatus(complete == 1, isActive == 1, message)

	item := types.DownloadItem{
		ID:             strings.ToLower(hash),
		Name:           name,
		Status:         status,
		Progress:       progress,
		Size:           sizeBytes,
		DownloadedSize: downloaded,
		DownloadSpeed:  downRate,
		ETA:            eta,
		DownloadDir:    basePath,
	}
	if status == types.StatusFailed {
		item.Error = message
	}
	return item
}

func mapStatus(isComplete, isActive bool, message string) types.Status {
	if message != "" {
		return types.StatusFailed
	}
	if isComplete {
		return types.StatusCompleted
	}
	if isActive {
		return types.StatusDownloading
	}
	return types.StatusPaused
}

func addCommandParams(opts *types.AddOptions) []xmlRPCValue {
	var params []xmlRPCValue
	if opts == nil {
		return params
	}
	if opts.Category != "" {
		params = append(params, xmlRPCValue{Type: "string", Value: "d.custom1.set=" + opts.Category})
	}
	if opts.DownloadDir != "" {
		params = append(params, xmlRPCValue{Type: "string", Value: "d.directory.set=" + opts.DownloadDir})
	}
	return params
}

func extractHashFromMagnet(magnetURL string) string {
	if !strings.HasPrefix(magnetURL, "magnet:") {
		return ""
	}

	parts := strings.SplitN(magnetURL, "?", 2)
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

func asString(v any) string {
	if val, ok := v.(string); ok {
		return val
	}
	return fmt.Sprintf("%v", v)
}

func asInt64(v any) int64 {
	switch val := v.(type) {
	case int64:
		return val
	case int:
		return int64(val)
	case float64:
		return int64(val)
	case string:
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}
