// Package api is the HTTP client for the dealership chat backend's REST
// surface: session lookup/create, profile sync, message history and the
// store-and-forward send path used when the realtime channel is down.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/primeautohub/chatwidget/internal/chat"
	"github.com/primeautohub/chatwidget/internal/logger"
)

// ErrSessionNotFound is returned by GetSession when the backend does not
// know the session identifier.
var ErrSessionNotFound = errors.New("chat session not found")

// Client talks to the chat backend over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logger.Logger
}

// NewClient creates a backend client. timeout bounds every request; zero
// means a 15 second default.
func NewClient(baseURL string, timeout time.Duration, logger *logger.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger.WithComponent("api_client"),
	}
}

// CreateSession registers a client-generated session with the backend.
//
// Returns the backend-echoed session record (with its numeric id and
// server-side timestamps filled in).
func (c *Client) CreateSession(ctx context.Context, session *chat.Session) (*chat.Session, error) {
	var created chat.Session
	if err := c.do(ctx, http.MethodPost, "/chat/sessions", session, &created); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	c.logger.Info("session created",
		slog.String("session_id", created.SessionID),
		slog.Int64("id", created.ID))
	return &created, nil
}

// GetSession looks up a session by its client-generated identifier.
// A backend 404 is reported as ErrSessionNotFound.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*chat.Session, error) {
	var session chat.Session
	err := c.do(ctx, http.MethodGet, "/chat/sessions/"+sessionID, nil, &session)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to fetch session: %w", err)
	}

	c.logger.Debug("session fetched",
		slog.String("session_id", session.SessionID),
		slog.Bool("is_active", session.IsActive))
	return &session, nil
}

// UpdateSessionProfile pushes the visitor's current contact profile onto
// the backend session record.
func (c *Client) UpdateSessionProfile(ctx context.Context, sessionID string, profile chat.ContactProfile) error {
	if err := c.do(ctx, http.MethodPatch, "/chat/sessions/"+sessionID, profile, nil); err != nil {
		return fmt.Errorf("failed to update session profile: %w", err)
	}

	c.logger.Debug("session profile updated", slog.String("session_id", sessionID))
	return nil
}

// GetMessages fetches the full message history for a session. Used for the
// initial history load and by each fallback poll cycle.
func (c *Client) GetMessages(ctx context.Context, sessionID string) ([]chat.Message, error) {
	var messages []chat.Message
	if err := c.do(ctx, http.MethodGet, "/chat/sessions/"+sessionID+"/messages", nil, &messages); err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	return messages, nil
}

// SendMessage delivers a visitor message over HTTP. This is the fallback
// path when the realtime channel is unavailable; the returned message
// carries the backend-assigned id and timestamp.
func (c *Client) SendMessage(ctx context.Context, msg chat.Message) (*chat.Message, error) {
	var confirmed chat.Message
	if err := c.do(ctx, http.MethodPost, "/chat/messages", msg, &confirmed); err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	c.logger.Debug("message sent over http",
		slog.String("session_id", msg.SessionID),
		slog.Int64("id", confirmed.ID))
	return &confirmed, nil
}

// do performs one JSON request/response round trip.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrSessionNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Error("backend returned error",
			slog.Int("status_code", resp.StatusCode),
			slog.String("path", path))
		return fmt.Errorf("backend returned status %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
