// Package remote is the HTTP client for the chat server's REST API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/matheus3301/dmsync/internal/identity"
	"github.com/matheus3301/dmsync/internal/model"
	"github.com/tidwall/gjson"
)

// UserHeader carries the caller's user id on every request.
const UserHeader = "X-User-Id"

// DefaultMaxResponseBytes bounds a response body when Config leaves it unset.
const DefaultMaxResponseBytes = 8 << 20

var (
	// ErrNotLoggedIn is returned when no identity is available for a request.
	ErrNotLoggedIn = errors.New("not logged in")
	// ErrResponseTooLarge is returned when a body exceeds the configured limit.
	ErrResponseTooLarge = errors.New("response body too large")
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server error: status %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("server error: status %d", e.Code)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}

// Config holds client configuration.
type Config struct {
	URL        string
	HTTPClient *http.Client
	Timeout    time.Duration
	// MaxResponseBytes caps how much of a response body is read.
	MaxResponseBytes int64
}

// Client is the chat server REST client. Every call runs as the identity's
// current user.
type Client struct {
	baseURL    string
	identity   identity.Provider
	httpClient *http.Client
	maxBody    int64
}

// New creates a new client.
func New(cfg Config, id identity.Provider) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("URL is required")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("parse URL: %w", err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	maxBody := cfg.MaxResponseBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxResponseBytes
	}
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.URL, "/"),
		identity:   id,
		httpClient: httpClient,
		maxBody:    maxBody,
	}, nil
}

// BaseURL returns the server URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ListConversations returns the caller's conversations.
func (c *Client) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	var out []model.Conversation
	if err := c.call(ctx, http.MethodGet, "/api/conversations", nil, &out); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return out, nil
}

// GetMessages returns the history of a conversation. The server marks the
// conversation read for the caller.
func (c *Client) GetMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	var out []model.Message
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("get messages %s: %w", conversationID, err)
	}
	for i := range out {
		out[i].State = model.Sent
	}
	return out, nil
}

// SendRequest is the body of a send call.
type SendRequest struct {
	RecipientID string `json:"recipientId"`
	Content     string `json:"content"`
	ReplyTo     string `json:"replyTo,omitempty"`
}

// SendMessage submits a message to recipientID. The server creates the
// conversation if the pair has none yet.
func (c *Client) SendMessage(ctx context.Context, recipientID, content, replyTo string) (model.Message, error) {
	var out model.Message
	req := SendRequest{RecipientID: recipientID, Content: content, ReplyTo: replyTo}
	if err := c.call(ctx, http.MethodPost, "/api/messages", req, &out); err != nil {
		return model.Message{}, fmt.Errorf("send message: %w", err)
	}
	out.State = model.Sent
	return out, nil
}

// GetUnreadCount returns the caller's total unread count.
func (c *Client) GetUnreadCount(ctx context.Context) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/unread", nil, &out); err != nil {
		return 0, fmt.Errorf("get unread count: %w", err)
	}
	return out.Count, nil
}

// ListUsers returns every user the caller can message.
func (c *Client) ListUsers(ctx context.Context) ([]model.UserRef, error) {
	var out []model.UserRef
	if err := c.call(ctx, http.MethodGet, "/api/users", nil, &out); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return out, nil
}

// DeleteConversation deletes a conversation for both participants.
func (c *Client) DeleteConversation(ctx context.Context, conversationID string) error {
	path := "/api/conversations/" + url.PathEscape(conversationID)
	if err := c.call(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("delete conversation %s: %w", conversationID, err)
	}
	return nil
}

func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	user, ok := c.identity.Current()
	if !ok {
		return ErrNotLoggedIn
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set(UserHeader, user.ID)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if int64(len(data)) > c.maxBody {
		return fmt.Errorf("%w: over %d bytes", ErrResponseTooLarge, c.maxBody)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode, Message: errorMessage(data)}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// errorMessage extracts a human-readable message from an error body.
func errorMessage(body []byte) string {
	if !gjson.ValidBytes(body) {
		return strings.TrimSpace(string(body))
	}
	for _, key := range []string{"error", "message"} {
		if v := gjson.GetBytes(body, key); v.Type == gjson.String && v.Str != "" {
			return v.Str
		}
	}
	return ""
}
