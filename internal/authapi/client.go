// Package authapi is the HTTP client for the dashboard backend's auth
// endpoints. It implements session.AuthAPI and additionally exposes the
// initial password login and the /auth/me introspection used by the CLI.
package authapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	slogctx "github.com/veqryn/slog-context"

	"github.com/JayChiang17/Leadman-FWH-System-sub001/pkg/session"
)

const defaultTimeout = 15 * time.Second

// TokenResponse is the backend's token envelope, shared by /auth/token and
// /auth/refresh. The refresh token rotates on every refresh.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// UserInfo is the /auth/me response. IsActive mirrors the backend's integer
// flag (0 = deactivated).
type UserInfo struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	IsActive int    `json:"is_active"`
}

type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	tracer     trace.Tracer
}

var _ session.AuthAPI = (*Client)(nil)

func NewClient(baseURL string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing auth API base URL: %w", err)
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	return &Client{
		baseURL:    u,
		httpClient: httpClient,
		tracer:     otel.Tracer("fwh/authapi"),
	}, nil
}

// Login exchanges credentials for a token pair via POST /auth/token
// (form encoded, OAuth2 password grant shape).
func (c *Client) Login(ctx context.Context, username, password string) (session.TokenPair, error) {
	ctx, span := c.tracer.Start(ctx, "auth.token")
	defer span.End()
	ctx = slogctx.With(ctx, "request_id", uuid.NewString())

	data := url.Values{}
	data.Set("username", username)
	data.Set("password", password)

	req, err := c.newRequest(ctx, "/auth/token", strings.NewReader(data.Encode()))
	if err != nil {
		return session.TokenPair{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var tokens TokenResponse
	if err := c.do(req, &tokens); err != nil {
		slogctx.Warn(ctx, "Login request failed", "error", err)
		return session.TokenPair{}, err
	}

	return session.TokenPair{AccessToken: tokens.AccessToken, RefreshToken: tokens.RefreshToken}, nil
}

// Refresh mints a new token pair via POST /auth/refresh.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (session.TokenPair, error) {
	ctx, span := c.tracer.Start(ctx, "auth.refresh")
	defer span.End()
	ctx = slogctx.With(ctx, "request_id", uuid.NewString())

	body, err := json.Marshal(map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return session.TokenPair{}, fmt.Errorf("encoding refresh request: %w", err)
	}

	req, err := c.newRequest(ctx, "/auth/refresh", strings.NewReader(string(body)))
	if err != nil {
		return session.TokenPair{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	var tokens TokenResponse
	if err := c.do(req, &tokens); err != nil {
		slogctx.Warn(ctx, "Refresh request failed", "error", err)
		return session.TokenPair{}, err
	}

	return session.TokenPair{AccessToken: tokens.AccessToken, RefreshToken: tokens.RefreshToken}, nil
}

// Logout invalidates the caller's refresh tokens server-side. The response
// body is ignored; callers treat any failure as best effort.
func (c *Client) Logout(ctx context.Context, accessToken string) error {
	ctx, span := c.tracer.Start(ctx, "auth.logout")
	defer span.End()
	ctx = slogctx.With(ctx, "request_id", uuid.NewString())

	req, err := c.newRequest(ctx, "/auth/logout", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	return c.do(req, nil)
}

// Me returns the server-side view of the authenticated user.
func (c *Client) Me(ctx context.Context, accessToken string) (UserInfo, error) {
	ctx, span := c.tracer.Start(ctx, "auth.me")
	defer span.End()
	ctx = slogctx.With(ctx, "request_id", uuid.NewString())

	u, err := url.JoinPath(c.baseURL.String(), "/auth/me")
	if err != nil {
		return UserInfo{}, fmt.Errorf("building request URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return UserInfo{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	var info UserInfo
	if err := c.do(req, &info); err != nil {
		return UserInfo{}, err
	}

	return info, nil
}

func (c *Client) newRequest(ctx context.Context, path string, body *strings.Reader) (*http.Request, error) {
	u, err := url.JoinPath(c.baseURL.String(), path)
	if err != nil {
		return nil, fmt.Errorf("building request URL: %w", err)
	}

	var req *http.Request
	if body == nil {
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, u, body)
	}
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	return req, nil
}

func (c *Client) do(req *http.Request, decodeInto any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("auth API returned status %d", resp.StatusCode)
	}

	if decodeInto == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(decodeInto); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	return nil
}
