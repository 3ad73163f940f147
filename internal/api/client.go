// Package api is the REST client for the chat server. Every call carries
// the bearer token explicitly and is throttled by a shared rate limiter.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"chatclient/pkg/types"
)

const maxResponseBytes = 4 << 20

// Options configures a Client.
type Options struct {
	BaseURL        string
	Timeout        time.Duration
	RequestsPerSec float64
	Burst          int
	HTTPClient     *http.Client
	Logger         *slog.Logger
}

// Client talks to the chat server REST API. It implements the service
// interfaces of pkg/interfaces.
type Client struct {
	base       *url.URL
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewClient builds a Client. A nil HTTPClient gets one with opts.Timeout.
func NewClient(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBaseURL, opts.BaseURL)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	limit := rate.Inf
	if opts.RequestsPerSec > 0 {
		limit = rate.Limit(opts.RequestsPerSec)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		base:       base,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, burst),
		logger:     logger,
	}, nil
}

// envelope is the {success, message, data} wrapper of every response.
type envelope[T any] struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

func do[T any](ctx context.Context, c *Client, method, path, token string, body any) (T, error) {
	var zero T

	if err := c.limiter.Wait(ctx); err != nil {
		return zero, fmt.Errorf("%s %s: %w", method, path, err)
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return zero, fmt.Errorf("encode %s body: %w", path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, reader)
	if err != nil {
		return zero, fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("request failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return zero, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return zero, fmt.Errorf("read %s response: %w", path, err)
	}

	var env envelope[T]
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &Error{Status: resp.StatusCode}
		if decodeErr == nil {
			apiErr.Message = env.Message
		}
		c.logger.Debug("server rejected request",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
		)
		return zero, apiErr
	}
	if decodeErr != nil {
		return zero, fmt.Errorf("%w: %s: %v", ErrMalformedResponse, path, decodeErr)
	}
	if !env.Success {
		return zero, &Error{Status: resp.StatusCode, Message: env.Message}
	}
	return env.Data, nil
}

func requireToken(token string) error {
	if token == "" {
		return ErrEmptyToken
	}
	return nil
}

// Login implements interfaces.AuthService.
func (c *Client) Login(ctx context.Context, username, password string) (*types.AuthResult, error) {
	req := map[string]string{"username": username, "password": password}
	resp, err := do[jwtResponse](ctx, c, http.MethodPost, "/api/auth/login", "", req)
	if err != nil {
		return nil, err
	}
	return resp.result()
}

// Register implements interfaces.AuthService.
func (c *Client) Register(ctx context.Context, reg types.Registration) (*types.AuthResult, error) {
	resp, err := do[jwtResponse](ctx, c, http.MethodPost, "/api/auth/register", "", reg)
	if err != nil {
		return nil, err
	}
	return resp.result()
}

// CurrentUser implements interfaces.AuthService.
func (c *Client) CurrentUser(ctx context.Context, token string) (*types.Identity, error) {
	if err := requireToken(token); err != nil {
		return nil, err
	}
	user, err := do[types.User](ctx, c, http.MethodGet, "/api/users/me", token, nil)
	if err != nil {
		return nil, err
	}
	id := user.Identity()
	return &id, nil
}

// OnlineUsers implements interfaces.DirectoryService.
func (c *Client) OnlineUsers(ctx context.Context, token string) ([]types.User, error) {
	if err := requireToken(token); err != nil {
		return nil, err
	}
	return do[[]types.User](ctx, c, http.MethodGet, "/api/users/online", token, nil)
}

// AllUsers implements interfaces.DirectoryService.
func (c *Client) AllUsers(ctx context.Context, token string) ([]types.User, error) {
	if err := requireToken(token); err != nil {
		return nil, err
	}
	return do[[]types.User](ctx, c, http.MethodGet, "/api/users", token, nil)
}

// PrivateHistory implements interfaces.HistoryService.
func (c *Client) PrivateHistory(ctx context.Context, token string, peerID int64) ([]types.Message, error) {
	if err := requireToken(token); err != nil {
		return nil, err
	}
	rows, err := do[[]messageResponse](ctx, c, http.MethodGet, fmt.Sprintf("/api/messages/private/%d", peerID), token, nil)
	if err != nil {
		return nil, err
	}
	return toMessages(rows, types.ScopeDirect), nil
}

// GroupHistory implements interfaces.HistoryService.
func (c *Client) GroupHistory(ctx context.Context, token string, groupID int64) ([]types.Message, error) {
	if err := requireToken(token); err != nil {
		return nil, err
	}
	rows, err := do[[]messageResponse](ctx, c, http.MethodGet, fmt.Sprintf("/api/messages/group/%d", groupID), token, nil)
	if err != nil {
		return nil, err
	}
	msgs := toMessages(rows, types.ScopeGroup)
	for i := range msgs {
		if msgs[i].GroupID == 0 {
			msgs[i].GroupID = groupID
		}
	}
	return msgs, nil
}

// GroupMembers implements interfaces.HistoryService.
func (c *Client) GroupMembers(ctx context.Context, token string, groupID int64) ([]types.User, error) {
	if err := requireToken(token); err != nil {
		return nil, err
	}
	return do[[]types.User](ctx, c, http.MethodGet, fmt.Sprintf("/api/groups/%d/members/list", groupID), token, nil)
}

// OfflineMessages implements interfaces.OfflineSource. Backlog messages are
// always tagged DIRECT.
func (c *Client) OfflineMessages(ctx context.Context, token string) ([]types.Message, error) {
	if err := requireToken(token); err != nil {
		return nil, err
	}
	rows, err := do[[]messageResponse](ctx, c, http.MethodGet, "/api/messages/offline", token, nil)
	if err != nil {
		return nil, err
	}
	return toMessages(rows, types.ScopeDirect), nil
}

// MyGroups implements interfaces.GroupService.
func (c *Client) MyGroups(ctx context.Context, token string) ([]types.Group, error) {
	if err := requireToken(token); err != nil {
		return nil, err
	}
	return do[[]types.Group](ctx, c, http.MethodGet, "/api/groups/my", token, nil)
}

// CreateGroup implements interfaces.GroupService.
func (c *Client) CreateGroup(ctx context.Context, token string, name string) (*types.Group, error) {
	if err := requireToken(token); err != nil {
		return nil, err
	}
	g, err := do[types.Group](ctx, c, http.MethodPost, "/api/groups", token, map[string]string{"name": name})
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// RemoveMember implements interfaces.GroupService.
func (c *Client) RemoveMember(ctx context.Context, token string, groupID, userID int64) error {
	if err := requireToken(token); err != nil {
		return err
	}
	_, err := do[json.RawMessage](ctx, c, http.MethodDelete, fmt.Sprintf("/api/groups/%d/members/%d", groupID, userID), token, nil)
	return err
}

// AddMember implements interfaces.GroupService. The invitee travels in the
// body next to the group id.
func (c *Client) AddMember(ctx context.Context, token string, groupID, userID int64) error {
	if err := requireToken(token); err != nil {
		return err
	}
	body := map[string]int64{"groupId": groupID, "userId": userID}
	_, err := do[json.RawMessage](ctx, c, http.MethodPost, fmt.Sprintf("/api/groups/%d/join", groupID), token, body)
	return err
}
