// Package api is the REST client for the chat backend. Only the endpoints
// the session layer needs are covered.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/NicolasHaas/zyeachat/pkg/model"
	"github.com/NicolasHaas/zyeachat/pkg/version"
)

// Endpoint paths.
const (
	PathMe            = "/api/auth/me"
	PathConversations = "/api/conversations"
	PathGroups        = "/api/groups"
	PathLogout        = "/api/auth/logout"
	PathPushToken     = "/api/users/push-token"
)

// maxBodySize caps how much of a response body is read.
const maxBodySize = 4 << 20

// StatusError is a non-2xx response that is not an auth failure.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("api: %s %s: status %d", e.Method, e.Path, e.Code)
	}
	return fmt.Sprintf("api: %s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// Client talks to the backend with a bearer token supplied per call.
type Client struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
}

// Config holds client configuration.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client // optional; overrides Timeout
}

// New creates a backend client.
func New(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 15 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: hc,
		userAgent:  version.UserAgent(),
	}
}

// Me returns the user the token belongs to. Accepts both a bare user object
// and one wrapped in {"user": ...}, and Mongo-style "_id" keys.
func (c *Client) Me(ctx context.Context, token string) (*model.User, error) {
	body, err := c.do(ctx, http.MethodGet, PathMe, token, nil)
	if err != nil {
		return nil, err
	}

	root := gjson.ParseBytes(body)
	if u := root.Get("user"); u.IsObject() {
		root = u
	}
	if !root.IsObject() {
		return nil, fmt.Errorf("api: me: unexpected body")
	}

	user := &model.User{
		ID:     firstString(root, "id", "_id"),
		Name:   root.Get("name").String(),
		Avatar: root.Get("avatar").String(),
		Email:  root.Get("email").String(),
		Phone:  root.Get("phone").String(),
	}
	if err := model.ValidateUserID(user.ID); err != nil {
		return nil, fmt.Errorf("api: me: %w", err)
	}
	return user, nil
}

// Unread sums unread counters over direct conversations ("unread_count")
// and groups ("unreadCount"). Both lists must load; a partial sum is never
// returned.
func (c *Client) Unread(ctx context.Context, token string) (model.UnreadSummary, error) {
	var sum model.UnreadSummary

	convs, err := c.do(ctx, http.MethodGet, PathConversations, token, nil)
	if err != nil {
		return sum, err
	}
	n, err := sumField(convs, "unread_count")
	if err != nil {
		return sum, fmt.Errorf("api: conversations: %w", err)
	}
	sum.Conversations = n

	groups, err := c.do(ctx, http.MethodGet, PathGroups, token, nil)
	if err != nil {
		return sum, err
	}
	n, err = sumField(groups, "unreadCount")
	if err != nil {
		return sum, fmt.Errorf("api: groups: %w", err)
	}
	sum.Groups = n

	return sum, nil
}

// Conversations lists direct conversations with their unread counters.
func (c *Client) Conversations(ctx context.Context, token string) ([]model.Conversation, error) {
	body, err := c.do(ctx, http.MethodGet, PathConversations, token, nil)
	if err != nil {
		return nil, err
	}
	var out []model.Conversation
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("api: conversations: %w", err)
	}
	return out, nil
}

// Logout invalidates the token server-side.
func (c *Client) Logout(ctx context.Context, token string) error {
	_, err := c.do(ctx, http.MethodPost, PathLogout, token, nil)
	return err
}

// RegisterPushToken stores the device push token for the signed-in user.
func (c *Client) RegisterPushToken(ctx context.Context, token, pushToken string) error {
	_, err := c.do(ctx, http.MethodPut, PathPushToken, token, map[string]string{"pushToken": pushToken})
	return err
}

func (c *Client) do(ctx context.Context, method, path, token string, payload any) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("api: marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("api: create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("api: read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("api: %s %s: %w", method, path, model.ErrUnauthorized)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return body, nil
}

// sumField adds up field over a JSON array. Missing or null counters count
// as zero. A {"data": [...]} envelope is unwrapped.
func sumField(body []byte, field string) (int, error) {
	root := gjson.ParseBytes(body)
	if data := root.Get("data"); data.IsArray() {
		root = data
	}
	if !root.IsArray() {
		return 0, errors.New("expected a JSON array")
	}
	total := 0
	for _, v := range root.Get("#." + field).Array() {
		if n := v.Int(); n > 0 {
			total += int(n)
		}
	}
	return total, nil
}

func firstString(r gjson.Result, keys ...string) string {
	for _, k := range keys {
		if v := r.Get(k); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

// IsUnauthorized reports whether err is an auth failure.
func IsUnauthorized(err error) bool {
	return errors.Is(err, model.ErrUnauthorized)
}
