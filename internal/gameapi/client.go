package gameapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

var (
	// ErrNotAuthenticated is returned when the server answers with a login page or 401/403.
	ErrNotAuthenticated = errors.New("gameapi: not authenticated")
	ErrBadCredentials   = errors.New("gameapi: bad credentials")
)

// StatusError carries a non-2xx response unchanged.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gameapi: status=%d body=%s", e.Code, truncate(e.Body, 512))
}

// Client is a stateless accessor over the game server REST API.
// The only state it keeps is the session cookie set by Login.
type Client struct {
	baseURL string
	http    *fasthttp.Client
	timeout time.Duration
	logger  *zap.Logger

	jarMu sync.RWMutex
	jar   map[string]string
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithMaxConnsPerHost(n int) Option {
	return func(c *Client) { c.http.MaxConnsPerHost = n }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		timeout: 10 * time.Second,
		logger:  zap.NewNop(),
		jar:     make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) BaseURL() string { return c.baseURL }

// CookieHeader renders the session cookies as a Cookie header value.
func (c *Client) CookieHeader() string {
	c.jarMu.RLock()
	defer c.jarMu.RUnlock()
	if len(c.jar) == 0 {
		return ""
	}
	parts := make([]string, 0, len(c.jar))
	for k, v := range c.jar {
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, "; ")
}

// HandshakeHeader carries the REST session onto the WebSocket upgrade.
func (c *Client) HandshakeHeader() http.Header {
	h := http.Header{}
	if v := c.CookieHeader(); v != "" {
		h.Set("Cookie", v)
	}
	return h
}

func (c *Client) clearCookies() {
	c.jarMu.Lock()
	c.jar = make(map[string]string)
	c.jarMu.Unlock()
}

type response struct {
	status      int
	contentType string
	location    string
	body        []byte
}

func (r *response) isJSON() bool {
	return strings.Contains(strings.ToLower(r.contentType), "json")
}

// do performs exactly one request. Transport errors are returned unchanged.
func (c *Client) do(ctx context.Context, method, path, contentType string, body []byte) (*response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.SetContentType(contentType)
	}
	c.jarMu.RLock()
	for k, v := range c.jar {
		req.Header.SetCookie(k, v)
	}
	c.jarMu.RUnlock()
	if body != nil {
		req.SetBody(body)
	}

	started := time.Now()
	if err := c.http.DoDeadline(req, resp, c.deadline(ctx)); err != nil {
		c.logger.Debug("gameapi_request_failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, err
	}
	c.storeCookies(resp)

	out := &response{
		status:      resp.StatusCode(),
		contentType: string(resp.Header.ContentType()),
		location:    string(resp.Header.Peek(fasthttp.HeaderLocation)),
		body:        append([]byte(nil), resp.Body()...),
	}
	c.logger.Debug("gameapi_request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", out.status),
		zap.Duration("elapsed", time.Since(started)),
	)
	return out, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		payload = b
	}
	resp, err := c.do(ctx, method, path, "application/json", payload)
	if err != nil {
		return err
	}
	if resp.status < 200 || resp.status >= 300 {
		return &StatusError{Code: resp.status, Body: string(resp.body)}
	}
	if out != nil && len(resp.body) > 0 {
		if err := json.Unmarshal(resp.body, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) storeCookies(resp *fasthttp.Response) {
	resp.Header.VisitAllCookie(func(_, value []byte) {
		ck := fasthttp.AcquireCookie()
		defer fasthttp.ReleaseCookie(ck)
		if err := ck.ParseBytes(value); err != nil {
			return
		}
		name := string(ck.Key())
		if name == "" {
			return
		}
		c.jarMu.Lock()
		if len(ck.Value()) == 0 || ck.MaxAge() < 0 {
			delete(c.jar, name)
		} else {
			c.jar[name] = string(ck.Value())
		}
		c.jarMu.Unlock()
	})
}

func (c *Client) deadline(ctx context.Context) time.Time {
	own := time.Now().Add(c.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(own) {
		return dl
	}
	return own
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
