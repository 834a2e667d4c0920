package gameapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/park285/chess-sync-client/pkg/chessdto"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

const formContentType = "application/x-www-form-urlencoded"

type LoginResult struct {
	Username string `json:"username"`
}

// Login posts a form login and keeps the resulting session cookie.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	args := fasthttp.AcquireArgs()
	defer fasthttp.ReleaseArgs(args)
	args.Add("username", username)
	args.Add("password", password)

	resp, err := c.do(ctx, fasthttp.MethodPost, "/login", formContentType, append([]byte(nil), args.QueryString()...))
	if err != nil {
		return nil, err
	}
	switch {
	case resp.status == http.StatusUnauthorized, resp.status == http.StatusForbidden:
		return nil, ErrBadCredentials
	case resp.status >= 300 && resp.status < 400:
		// form login redirects to /login?error on failure
		if strings.Contains(resp.location, "error") {
			return nil, ErrBadCredentials
		}
	case resp.status < 200 || resp.status >= 300:
		return nil, &StatusError{Code: resp.status, Body: string(resp.body)}
	}

	res := &LoginResult{Username: username}
	if resp.isJSON() && len(resp.body) > 0 {
		var decoded LoginResult
		if err := json.Unmarshal(resp.body, &decoded); err == nil && decoded.Username != "" {
			res.Username = decoded.Username
		}
	}
	c.logger.Info("gameapi_logged_in", zap.String("username", res.Username))
	return res, nil
}

// Logout ends the server session and drops local cookies regardless of the outcome.
func (c *Client) Logout(ctx context.Context) error {
	defer c.clearCookies()
	resp, err := c.do(ctx, fasthttp.MethodPost, "/logout", formContentType, []byte{})
	if err != nil {
		return err
	}
	if resp.status >= 400 {
		return &StatusError{Code: resp.status, Body: string(resp.body)}
	}
	return nil
}

func (c *Client) Register(ctx context.Context, username, password string) (*chessdto.UserProfile, error) {
	var p chessdto.UserProfile
	req := chessdto.RegisterRequest{Username: username, Password: password}
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/api/auth/register", req, &p); err != nil {
		return nil, err
	}
	if p.Username == "" {
		p.Username = username
	}
	return &p, nil
}

// CurrentUserID resolves the logged-in principal. A non-JSON answer means
// the server served its login page instead.
func (c *Client) CurrentUserID(ctx context.Context) (string, error) {
	resp, err := c.do(ctx, fasthttp.MethodGet, "/api/auth/userid", "", nil)
	if err != nil {
		return "", err
	}
	switch {
	case resp.status == http.StatusUnauthorized, resp.status == http.StatusForbidden:
		return "", ErrNotAuthenticated
	case resp.status >= 300 && resp.status < 400:
		return "", ErrNotAuthenticated
	case resp.status < 200 || resp.status >= 300:
		return "", &StatusError{Code: resp.status, Body: string(resp.body)}
	}
	if !resp.isJSON() {
		return "", ErrNotAuthenticated
	}

	body := bytes.TrimSpace(resp.body)
	if len(body) > 0 && body[0] == '{' {
		var out chessdto.UserIDResponse
		if err := json.Unmarshal(body, &out); err != nil {
			return "", err
		}
		if out.UserID == "" {
			return "", ErrNotAuthenticated
		}
		return string(out.UserID), nil
	}
	var id chessdto.ID
	if err := json.Unmarshal(body, &id); err != nil {
		return "", err
	}
	if id == "" {
		return "", ErrNotAuthenticated
	}
	return string(id), nil
}

func (c *Client) UserProfile(ctx context.Context, userID string) (*chessdto.UserProfile, error) {
	id := strings.TrimSpace(userID)
	if id == "" {
		return nil, ErrNotAuthenticated
	}
	var p chessdto.UserProfile
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/api/users/"+url.PathEscape(id), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
