// Package auth speaks the two-step phone+PIN login, OTP verification and
// silent session refresh against the brokerage HTTPS origin. The cookie
// jar is the source of truth for tokens; every response may rotate them.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"github.com/voralbrecht/trtimeline/internal/config"
	"github.com/voralbrecht/trtimeline/internal/tokens"
)

const (
	cookieSession = "tr_session"
	cookieRefresh = "tr_refresh"
)

// Client is the auth client. It performs no retries; the orchestrator
// decides what to re-invoke.
type Client struct {
	baseURL   *url.URL
	userAgent string
	client    *http.Client
	jar       http.CookieJar
}

// New builds a Client over rt (nil for http.DefaultTransport).
func New(cfg *config.Config, rt http.RoundTripper) (*Client, error) {
	base, err := url.Parse(cfg.APIBaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse api base url: %w", err)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}

	return &Client{
		baseURL:   base,
		userAgent: cfg.UserAgent,
		jar:       jar,
		client: &http.Client{
			Transport: rt,
			Jar:       jar,
			Timeout:   cfg.HTTPTimeout,
		},
	}, nil
}

// BeginLogin starts the login process and returns the process id that the
// OTP step consumes. Partial tokens set by the server land in the jar.
func (c *Client) BeginLogin(ctx context.Context, phone, pin string) (string, error) {
	body, err := json.Marshal(map[string]string{
		"phoneNumber": phone,
		"pin":         pin,
	})
	if err != nil {
		return "", fmt.Errorf("encode login body: %w", err)
	}

	status, respBody, err := c.do(ctx, http.MethodPost, "/auth/web/login", body)
	if err != nil {
		return "", &Error{Kind: KindNetwork, Op: "login", Err: err}
	}

	switch {
	case status == http.StatusOK:
	case status == http.StatusTooManyRequests:
		return "", &Error{Kind: KindRateLimited, Op: "login", Status: status, Body: respBody}
	case status == http.StatusBadRequest || status == http.StatusUnauthorized:
		return "", &Error{Kind: KindInvalidCredentials, Op: "login", Status: status, Body: respBody}
	default:
		return "", &Error{Kind: KindNetwork, Op: "login", Status: status, Body: respBody}
	}

	var resp struct {
		ProcessID string `json:"processId"`
	}
	if err := json.Unmarshal([]byte(respBody), &resp); err != nil {
		return "", &Error{Kind: KindNetwork, Op: "login", Err: fmt.Errorf("parse response: %w", err)}
	}
	if resp.ProcessID == "" {
		return "", &Error{Kind: KindNetwork, Op: "login", Status: status, Body: respBody,
			Err: fmt.Errorf("missing processId")}
	}

	slog.Info("login initiated", "processId", resp.ProcessID)
	return resp.ProcessID, nil
}

// CompleteLogin verifies the OTP for processID. On success the session
// and refresh tokens arrive as cookies and are returned as a pair.
func (c *Client) CompleteLogin(ctx context.Context, processID, otp string) (tokens.Pair, error) {
	path := fmt.Sprintf("/auth/web/login/%s/%s", url.PathEscape(processID), url.PathEscape(otp))

	status, respBody, err := c.do(ctx, http.MethodPost, path, nil)
	if err != nil {
		return tokens.Pair{}, &Error{Kind: KindNetwork, Op: "otp", Err: err}
	}

	switch {
	case status == http.StatusOK:
	case status == http.StatusTooManyRequests:
		return tokens.Pair{}, &Error{Kind: KindRateLimited, Op: "otp", Status: status, Body: respBody}
	case status == http.StatusBadRequest || status == http.StatusUnauthorized:
		if strings.Contains(respBody, "EXPIRED") {
			return tokens.Pair{}, &Error{Kind: KindOTPExpired, Op: "otp", Status: status, Body: respBody}
		}
		return tokens.Pair{}, &Error{Kind: KindOTPInvalid, Op: "otp", Status: status, Body: respBody}
	default:
		return tokens.Pair{}, &Error{Kind: KindNetwork, Op: "otp", Status: status, Body: respBody}
	}

	pair := c.Pair()
	if pair.Session == "" {
		return tokens.Pair{}, &Error{Kind: KindNetwork, Op: "otp", Status: status,
			Err: fmt.Errorf("no session cookie in response")}
	}

	slog.Info("otp verified, tokens received")
	return pair, nil
}

// Refresh exchanges the refresh token for a fresh session token. The
// server may rotate the refresh token too; fields it does not rotate keep
// their previous values.
func (c *Client) Refresh(ctx context.Context, prev tokens.Pair) (tokens.Pair, error) {
	if prev.Refresh == "" {
		return tokens.Pair{}, &Error{Kind: KindRefreshExpired, Op: "refresh",
			Err: fmt.Errorf("no refresh token")}
	}
	c.SeedPair(prev)

	status, respBody, err := c.do(ctx, http.MethodGet, "/auth/web/session", nil)
	if err != nil {
		return tokens.Pair{}, &Error{Kind: KindNetwork, Op: "refresh", Err: err}
	}

	switch {
	case status == http.StatusOK:
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return tokens.Pair{}, &Error{Kind: KindRefreshExpired, Op: "refresh", Status: status, Body: respBody}
	case status == http.StatusTooManyRequests:
		return tokens.Pair{}, &Error{Kind: KindRateLimited, Op: "refresh", Status: status, Body: respBody}
	default:
		return tokens.Pair{}, &Error{Kind: KindNetwork, Op: "refresh", Status: status, Body: respBody}
	}

	next := c.Pair()
	if next.Session == "" {
		next.Session = prev.Session
	}
	if next.Refresh == "" {
		next.Refresh = prev.Refresh
	}
	if next.Session == "" {
		return tokens.Pair{}, &Error{Kind: KindRefreshExpired, Op: "refresh",
			Err: fmt.Errorf("refresh returned no session cookie")}
	}

	slog.Info("session refreshed", "rotatedRefresh", next.Refresh != prev.Refresh)
	return next, nil
}

// SeedPair loads a stored token pair into the jar so subsequent requests
// carry it.
func (c *Client) SeedPair(p tokens.Pair) {
	var cookies []*http.Cookie
	if p.Session != "" {
		cookies = append(cookies, &http.Cookie{Name: cookieSession, Value: p.Session, Path: "/"})
	}
	if p.Refresh != "" {
		cookies = append(cookies, &http.Cookie{Name: cookieRefresh, Value: p.Refresh, Path: "/"})
	}
	if len(cookies) > 0 {
		c.jar.SetCookies(c.baseURL, cookies)
	}
}

// Pair reads the current token pair out of the jar.
func (c *Client) Pair() tokens.Pair {
	var p tokens.Pair
	for _, ck := range c.jar.Cookies(c.baseURL) {
		switch ck.Name {
		case cookieSession:
			p.Session = ck.Value
		case cookieRefresh:
			p.Refresh = ck.Value
		}
	}
	return p
}

// SessionToken is the current session token, or "" when not logged in.
func (c *Client) SessionToken() string { return c.Pair().Session }

func (c *Client) do(ctx context.Context, method, path string, body []byte) (int, string, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return 0, "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, "", fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, string(respBody), nil
}
