package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hongjun500/graph-go/pkg/logger"
)

const (
	PathVersion = "/api/version"

	APIGraphWS = "graph-ws"
	APIAuth    = "auth"
)

// APIInfo 是 /api/version 中单个服务的描述
type APIInfo struct {
	Endpoint  string `json:"endpoint"`
	Docs      string `json:"docs,omitempty"`
	Lifecycle string `json:"lifecycle,omitempty"`
	Protocols string `json:"protocols,omitempty"`
	Specs     string `json:"specs,omitempty"`
	Support   string `json:"support,omitempty"`
	Version   string `json:"version,omitempty"`
	Note      string `json:"note,omitempty"`
}

// PasswordGrant 是 password 授权所需的应用与账号凭据
type PasswordGrant struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Username     string `json:"username"`
	Password     string `json:"password"`
}

// Client talks to the REST side of the graph service. The zero HTTP client is
// replaced by one with a 30s timeout.
type Client struct {
	Endpoint string
	HTTP     *http.Client
	// Token 返回请求使用的 bearer token，nil 表示匿名
	Token func(ctx context.Context) (string, error)

	mu       sync.Mutex
	versions map[string]APIInfo
}

func New(endpoint string) *Client {
	return &Client{
		Endpoint: strings.TrimRight(endpoint, "/"),
		HTTP:     &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP == nil {
		return http.DefaultClient
	}
	return c.HTTP
}

// Do sends in as a JSON body (when non-nil) and decodes the response into out
// (when non-nil). Non-2xx responses are returned as *ClientError or *ServerError.
func (c *Client) Do(ctx context.Context, method, path string, in, out any) error {
	return c.do(ctx, method, path, in, out, true)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any, auth bool) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.Endpoint+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth && c.Token != nil {
		tok, err := c.Token(ctx)
		if err != nil {
			return fmt.Errorf("acquire token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	logger.L().Sugar().Debugw("rest_call", "method", method, "path", path, "status", resp.StatusCode)

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	message := resp.Status
	var eb errorBody
	isJSON := strings.HasPrefix(strings.ToLower(resp.Header.Get("Content-Type")), "application/json")
	if isJSON {
		if err := json.NewDecoder(resp.Body).Decode(&eb); err == nil && eb.Error != nil && eb.Error.Message != "" {
			message = eb.Error.Message
		}
	}
	if resp.StatusCode >= 500 {
		return &ServerError{Status: resp.StatusCode, Message: message}
	}
	ce := &ClientError{Status: resp.StatusCode, Message: message}
	if eb.Error != nil && eb.Error.Result != nil {
		ce.Warnings = eb.Error.Result.Warnings
		ce.Errors = eb.Error.Result.Errors
	}
	return ce
}

// Version probes the service map. The result is cached for the client's lifetime.
func (c *Client) Version(ctx context.Context) (map[string]APIInfo, error) {
	c.mu.Lock()
	cached := c.versions
	c.mu.Unlock()
	if cached != nil {
		return cached, nil
	}
	var out map[string]APIInfo
	if err := c.do(ctx, http.MethodGet, PathVersion, nil, &out, false); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.versions = out
	c.mu.Unlock()
	return out, nil
}

// API returns the descriptor of a named service from the version map.
func (c *Client) API(ctx context.Context, name string) (APIInfo, error) {
	versions, err := c.Version(ctx)
	if err != nil {
		return APIInfo{}, err
	}
	info, ok := versions[name]
	if !ok || info.Endpoint == "" {
		return APIInfo{}, fmt.Errorf("service %q not announced by %s", name, PathVersion)
	}
	return info, nil
}

// GraphWSURL resolves the websocket URL: the endpoint's host with the graph-ws path.
// path overrides the announced path when non-empty.
func (c *Client) GraphWSURL(ctx context.Context, path string) (string, error) {
	if path == "" {
		info, err := c.API(ctx, APIGraphWS)
		if err != nil {
			return "", err
		}
		path = info.Endpoint
	}
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	default:
		u.Scheme = "wss"
	}
	u.Path = path
	u.RawQuery = ""
	return u.String(), nil
}

// Password performs the password grant and returns the raw token document.
func (c *Client) Password(ctx context.Context, grant PasswordGrant) (json.RawMessage, error) {
	info, err := c.API(ctx, APIAuth)
	if err != nil {
		return nil, err
	}
	var out json.RawMessage
	if err := c.do(ctx, http.MethodPost, info.Endpoint+"/app", grant, &out, false); err != nil {
		return nil, err
	}
	return out, nil
}

// Revoke invalidates the tokens issued to clientID.
func (c *Client) Revoke(ctx context.Context, clientID string) error {
	info, err := c.API(ctx, APIAuth)
	if err != nil {
		return err
	}
	var out map[string]any
	if err := c.Do(ctx, http.MethodPost, info.Endpoint+"/revoke", map[string]string{"client_id": clientID}, &out); err != nil {
		return err
	}
	if len(out) != 0 {
		return fmt.Errorf("revoke: unexpected result %v", out)
	}
	return nil
}
