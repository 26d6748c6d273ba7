// Package rest is the client for the CRM chat REST API. It owns no
// state; responses feed the registry and the message store.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/eveneto/chatcore/internal/domain"
	"github.com/eveneto/chatcore/pkg/log"
)

// HistoryPage is one page of room history in chronological order.
type HistoryPage struct {
	Messages []domain.Message `json:"messages"`
	HasMore  bool             `json:"has_more"`
}

// CreateRoomRequest is the payload for creating a room.
type CreateRoomRequest struct {
	Name            string          `json:"name"`
	RoomType        domain.RoomType `json:"room_type"`
	Community       string          `json:"community,omitempty"`
	ParticipantIDs  []int64         `json:"participant_ids,omitempty"`
	MaxParticipants int             `json:"max_participants,omitempty"`
	IsReadOnly      bool            `json:"is_read_only,omitempty"`
}

// roomListEnvelope covers both response shapes the API serves: a bare
// array and a paginated {count, results} wrapper.
type roomListEnvelope struct {
	Count   int           `json:"count"`
	Results []domain.Room `json:"results"`
}

// Client talks to the /api/chat endpoints. History fetches for the
// same room and cursor are collapsed through singleflight so a
// pagination double-tap cannot double-insert.
type Client struct {
	baseURL string
	http    *http.Client
	token   func() string
	sf      singleflight.Group
}

func NewClient(baseURL string, timeout time.Duration, token func() string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		token:   token,
	}
}

// ListRooms fetches the membership-scoped room list.
func (c *Client) ListRooms(ctx context.Context) ([]domain.Room, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/api/chat/rooms/", nil, &raw); err != nil {
		return nil, err
	}

	var rooms []domain.Room
	if err := json.Unmarshal(raw, &rooms); err == nil {
		return rooms, nil
	}

	var envelope roomListEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, &domain.NetworkError{Op: "list rooms", Err: fmt.Errorf("unexpected response shape: %w", err)}
	}
	return envelope.Results, nil
}

// GetRoom fetches the full detail record for one room.
func (c *Client) GetRoom(ctx context.Context, roomID string) (*domain.RoomDetail, error) {
	var detail domain.RoomDetail
	path := fmt.Sprintf("/api/chat/rooms/%s/", url.PathEscape(roomID))
	if err := c.do(ctx, http.MethodGet, path, nil, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// GetMessages fetches a page of messages older than beforeID, or the
// newest page when beforeID is empty. The page arrives in chronological
// order.
func (c *Client) GetMessages(ctx context.Context, roomID, beforeID string, pageSize int) (*HistoryPage, error) {
	key := roomID + "|" + beforeID
	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		path := fmt.Sprintf("/api/chat/rooms/%s/messages/", url.PathEscape(roomID))
		q := url.Values{}
		if beforeID != "" {
			q.Set("before", beforeID)
		}
		if pageSize > 0 {
			q.Set("page_size", strconv.Itoa(pageSize))
		}
		if len(q) > 0 {
			path += "?" + q.Encode()
		}

		var page HistoryPage
		if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
			return nil, err
		}
		return &page, nil
	})
	if err != nil {
		return nil, err
	}

	page, ok := result.(*HistoryPage)
	if !ok {
		return nil, fmt.Errorf("unexpected result type from singleflight")
	}
	return page, nil
}

// SendMessage posts a message over REST, the fallback path when the
// realtime channel is unavailable.
func (c *Client) SendMessage(ctx context.Context, roomID, content string, messageType domain.MessageType, replyTo string) (*domain.Message, error) {
	body := map[string]interface{}{
		"content":      content,
		"message_type": messageType,
	}
	if replyTo != "" {
		body["reply_to"] = replyTo
	}

	var msg domain.Message
	path := fmt.Sprintf("/api/chat/rooms/%s/send_message/", url.PathEscape(roomID))
	if err := c.do(ctx, http.MethodPost, path, body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// MarkAsRead records a read receipt over REST.
func (c *Client) MarkAsRead(ctx context.Context, roomID, messageID string) error {
	path := fmt.Sprintf("/api/chat/rooms/%s/mark_as_read/", url.PathEscape(roomID))
	return c.do(ctx, http.MethodPost, path, map[string]string{"message_id": messageID}, nil)
}

// JoinRoom adds the caller to a room.
func (c *Client) JoinRoom(ctx context.Context, roomID string) error {
	path := fmt.Sprintf("/api/chat/rooms/%s/join/", url.PathEscape(roomID))
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// LeaveRoom removes the caller from a room.
func (c *Client) LeaveRoom(ctx context.Context, roomID string) error {
	path := fmt.Sprintf("/api/chat/rooms/%s/leave/", url.PathEscape(roomID))
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// CreateRoom creates a room server-side.
func (c *Client) CreateRoom(ctx context.Context, req CreateRoomRequest) (*domain.Room, error) {
	var room domain.Room
	if err := c.do(ctx, http.MethodPost, "/api/chat/rooms/", req, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// EditMessage updates a message's content over REST.
func (c *Client) EditMessage(ctx context.Context, messageID, content string) (*domain.Message, error) {
	var msg domain.Message
	path := fmt.Sprintf("/api/chat/messages/%s/", url.PathEscape(messageID))
	if err := c.do(ctx, http.MethodPatch, path, map[string]string{"content": content}, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// DeleteMessage soft-deletes a message over REST.
func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	path := fmt.Sprintf("/api/chat/messages/%s/", url.PathEscape(messageID))
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	op := method + " " + path

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &domain.NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	// Callers tag the context logger with room-level fields.
	l := log.Ctx(ctx)
	l.Debug().Str(log.FieldMethod, method).Str(log.FieldPath, path).Int(log.FieldStatus, resp.StatusCode).Msg("request")

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s: %w", op, domain.ErrPermissionDenied)
	case resp.StatusCode >= 400:
		return &domain.NetworkError{Op: op, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &domain.NetworkError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
