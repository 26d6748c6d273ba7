package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/eveneto/chatcore/internal/config"
	"github.com/eveneto/chatcore/internal/domain"
	"github.com/eveneto/chatcore/internal/transport"
	"github.com/eveneto/chatcore/pkg/token"
)

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

const selfID int64 = 7

func signTestToken(t *testing.T, userID int64, exp time.Time) string {
	t.Helper()
	claims := token.Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)},
		UserID:           userID,
		Username:         "alice",
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	return signed
}

func mkMsg(id string, offset time.Duration, sender int64, content string) domain.Message {
	return domain.Message{
		ID:        id,
		Type:      domain.MessageText,
		Content:   content,
		Sender:    domain.UserSummary{ID: sender, Username: "someone"},
		CreatedAt: baseTime.Add(offset),
		UpdatedAt: baseTime.Add(offset),
	}
}

// fakeBackend serves the chat REST endpoints and the per-room websocket
// from one httptest server.
type fakeBackend struct {
	srv *httptest.Server

	mu       sync.Mutex
	history  []domain.Message
	conn     *websocket.Conn
	received [][]byte
	restOps  []string
	wsDown   bool
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	fb := &fakeBackend{
		history: []domain.Message{
			mkMsg("100", 0, 9, "hello"),
			mkMsg("101", time.Second, selfID, "hi back"),
		},
	}

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat/rooms/", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/chat/rooms/":
			json.NewEncoder(w).Encode([]domain.Room{{ID: "room-1", Name: "General", Type: domain.RoomGroup}})
		case strings.HasSuffix(r.URL.Path, "/messages/"):
			fb.mu.Lock()
			page := struct {
				Messages []domain.Message `json:"messages"`
				HasMore  bool             `json:"has_more"`
			}{Messages: fb.history, HasMore: false}
			fb.mu.Unlock()
			json.NewEncoder(w).Encode(page)
		case strings.HasSuffix(r.URL.Path, "/send_message/"):
			fb.record(r)
			var body struct {
				Content     string             `json:"content"`
				MessageType domain.MessageType `json:"message_type"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			json.NewEncoder(w).Encode(mkMsg("500", time.Hour, selfID, body.Content))
		case strings.HasSuffix(r.URL.Path, "/mark_as_read/"):
			fb.record(r)
			json.NewEncoder(w).Encode(map[string]string{"status": "read"})
		default:
			json.NewEncoder(w).Encode(domain.RoomDetail{
				Room:     domain.Room{ID: "room-1", Name: "General", Type: domain.RoomGroup},
				IsActive: true,
			})
		}
	})
	mux.HandleFunc("/api/chat/messages/", func(w http.ResponseWriter, r *http.Request) {
		fb.record(r)
		switch r.Method {
		case http.MethodPatch:
			var body struct {
				Content string `json:"content"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/chat/messages/"), "/")
			msg := mkMsg(id, 0, 9, body.Content)
			msg.IsEdited = true
			json.NewEncoder(w).Encode(msg)
		case http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		}
	})
	mux.HandleFunc("/ws/chat/", func(w http.ResponseWriter, r *http.Request) {
		fb.mu.Lock()
		down := fb.wsDown
		fb.mu.Unlock()
		if down {
			http.Error(w, "realtime unavailable", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fb.mu.Lock()
		fb.conn = conn
		fb.mu.Unlock()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			fb.mu.Lock()
			fb.received = append(fb.received, data)
			fb.mu.Unlock()
		}
	})

	fb.srv = httptest.NewServer(mux)
	t.Cleanup(fb.srv.Close)
	return fb
}

func (fb *fakeBackend) push(t *testing.T, frame interface{}) {
	t.Helper()
	fb.mu.Lock()
	conn := fb.conn
	fb.mu.Unlock()
	require.NotNil(t, conn, "no websocket client connected")
	data, err := json.Marshal(frame)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func (fb *fakeBackend) frames() [][]byte {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	out := make([][]byte, len(fb.received))
	copy(out, fb.received)
	return out
}

func (fb *fakeBackend) record(r *http.Request) {
	fb.mu.Lock()
	fb.restOps = append(fb.restOps, r.Method+" "+r.URL.Path)
	fb.mu.Unlock()
}

func (fb *fakeBackend) rest() []string {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	out := make([]string, len(fb.restOps))
	copy(out, fb.restOps)
	return out
}

func (fb *fakeBackend) setWSDown(down bool) {
	fb.mu.Lock()
	fb.wsDown = down
	fb.mu.Unlock()
}

func testConfig(fb *fakeBackend) *config.Config {
	return &config.Config{
		API: config.APIConfig{
			BaseURL:  fb.srv.URL,
			Timeout:  5 * time.Second,
			PageSize: 50,
		},
		WebSocket: config.WebSocketConfig{
			BaseURL:              "ws" + strings.TrimPrefix(fb.srv.URL, "http"),
			HandshakeTimeout:     time.Second,
			PingInterval:         100 * time.Millisecond,
			PongWait:             2 * time.Second,
			WriteWait:            time.Second,
			MaxMessageSize:       65536,
			ReconnectBase:        10 * time.Millisecond,
			MaxReconnectAttempts: 3,
		},
		Chat: config.ChatConfig{
			TypingTTL:       time.Minute,
			QueueSize:       16,
			MaxMessageChars: 20,
			MaxFileBytes:    1024,
		},
	}
}

func newTestService(t *testing.T, fb *fakeBackend) ChatService {
	t.Helper()
	tok := signTestToken(t, selfID, time.Now().Add(time.Hour))
	svc, err := NewChatService(testConfig(fb), func() string { return tok })
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	return svc
}

func openRoom(t *testing.T, svc ChatService) *domain.RoomDetail {
	t.Helper()
	detail, err := svc.OpenRoom(context.Background(), "room-1")
	require.NoError(t, err)
	require.NotNil(t, detail)
	require.Eventually(t, func() bool {
		return svc.ConnectionState() == transport.StateConnected
	}, 2*time.Second, 10*time.Millisecond)
	return detail
}

func TestOpenRoomLoadsHistory(t *testing.T) {
	fb := newFakeBackend(t)
	svc := newTestService(t, fb)

	detail := openRoom(t, svc)
	require.Equal(t, "room-1", detail.ID)
	require.NotNil(t, svc.CurrentRoom())

	msgs := svc.Messages("room-1")
	require.Len(t, msgs, 2)
	require.Equal(t, "100", msgs[0].ID)
	require.Equal(t, "101", msgs[1].ID)
	require.False(t, svc.HasMore("room-1"))
}

func TestLiveMessageAppendsAndCountsUnread(t *testing.T) {
	fb := newFakeBackend(t)
	svc := newTestService(t, fb)

	_, err := svc.Rooms(context.Background())
	require.NoError(t, err)
	openRoom(t, svc)

	// Focused room: message appears but unread stays zero.
	fb.push(t, map[string]interface{}{
		"type":    "new_message",
		"message": mkMsg("200", time.Minute, 9, "ping"),
	})
	require.Eventually(t, func() bool {
		return len(svc.Messages("room-1")) == 3
	}, 2*time.Second, 10*time.Millisecond)

	rooms := svc.CachedRooms()
	require.Equal(t, 0, rooms[0].UnreadCount)
	require.Equal(t, "200", rooms[0].LastMessage.ID)

	// Blurred room: unread bumps.
	svc.SetFocused(false)
	fb.push(t, map[string]interface{}{
		"type":    "new_message",
		"message": mkMsg("201", 2*time.Minute, 9, "still there?"),
	})
	require.Eventually(t, func() bool {
		return svc.CachedRooms()[0].UnreadCount == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSendGoesOverTheWire(t *testing.T) {
	fb := newFakeBackend(t)
	svc := newTestService(t, fb)
	openRoom(t, svc)

	require.NoError(t, svc.Send("hello", domain.MessageText, ""))

	require.Eventually(t, func() bool {
		return len(fb.frames()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	var frame struct {
		Type    string `json:"type"`
		Content string `json:"content"`
	}
	require.NoError(t, json.Unmarshal(fb.frames()[0], &frame))
	require.Equal(t, domain.FrameSendMessage, frame.Type)
	require.Equal(t, "hello", frame.Content)
}

func TestValidationLimits(t *testing.T) {
	fb := newFakeBackend(t)
	svc := newTestService(t, fb)
	openRoom(t, svc)

	long := strings.Repeat("x", 21)
	require.ErrorIs(t, svc.Send(long, domain.MessageText, ""), domain.ErrMessageTooLarge)
	require.ErrorIs(t, svc.Edit("100", long), domain.ErrMessageTooLarge)
	require.ErrorIs(t, svc.ValidateAttachment(2048), domain.ErrMessageTooLarge)
	require.NoError(t, svc.ValidateAttachment(512))

	// Nothing invalid reaches the wire.
	time.Sleep(50 * time.Millisecond)
	require.Empty(t, fb.frames())
}

func TestActionsRequireOpenRoom(t *testing.T) {
	fb := newFakeBackend(t)
	svc := newTestService(t, fb)

	require.ErrorIs(t, svc.Send("hi", domain.MessageText, ""), domain.ErrNoOpenRoom)
	require.ErrorIs(t, svc.SetTyping(true), domain.ErrNoOpenRoom)
	require.ErrorIs(t, svc.MarkRead("100"), domain.ErrNoOpenRoom)
	_, err := svc.LoadOlder(context.Background())
	require.ErrorIs(t, err, domain.ErrNoOpenRoom)
}

func TestExpiredTokenBlocksOpen(t *testing.T) {
	fb := newFakeBackend(t)
	tok := signTestToken(t, selfID, time.Now().Add(-time.Minute))
	svc, err := NewChatService(testConfig(fb), func() string { return tok })
	require.NoError(t, err)
	defer svc.Close()

	_, err = svc.OpenRoom(context.Background(), "room-1")
	require.ErrorIs(t, err, token.ErrExpiredToken)
}

func TestOpenRoomPicksUpRefreshedToken(t *testing.T) {
	fb := newFakeBackend(t)

	var mu sync.Mutex
	current := signTestToken(t, selfID, time.Now().Add(-time.Minute))
	svc, err := NewChatService(testConfig(fb), func() string {
		mu.Lock()
		defer mu.Unlock()
		return current
	})
	require.NoError(t, err)
	defer svc.Close()

	// The construction-time token has expired.
	_, err = svc.OpenRoom(context.Background(), "room-1")
	require.ErrorIs(t, err, token.ErrExpiredToken)

	// The session provider rotates the token; the next open must use
	// the fresh one, not the cached identity.
	mu.Lock()
	current = signTestToken(t, selfID, time.Now().Add(time.Hour))
	mu.Unlock()

	detail, err := svc.OpenRoom(context.Background(), "room-1")
	require.NoError(t, err)
	require.NotNil(t, detail)
	require.Equal(t, selfID, svc.Identity().UserID)
}

func TestRESTFallbackWhenChannelDead(t *testing.T) {
	fb := newFakeBackend(t)
	fb.setWSDown(true)
	svc := newTestService(t, fb)

	_, err := svc.Rooms(context.Background())
	require.NoError(t, err)

	detail, err := svc.OpenRoom(context.Background(), "room-1")
	require.NoError(t, err)
	require.NotNil(t, detail)

	// The retry budget burns out against the dead endpoint.
	require.Eventually(t, func() bool {
		return svc.ConnectionState() == transport.StateDisconnected
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, svc.Send("over rest", domain.MessageText, ""))
	msgs := svc.Messages("room-1")
	require.Equal(t, "over rest", msgs[len(msgs)-1].Content)
	// Own fallback send updates the preview without counting unread.
	require.Equal(t, "500", svc.CachedRooms()[0].LastMessage.ID)
	require.Equal(t, 0, svc.CachedRooms()[0].UnreadCount)

	require.NoError(t, svc.MarkRead("100"))
	require.True(t, svc.Messages("room-1")[0].IsRead)

	require.NoError(t, svc.Edit("100", "fixed"))
	require.Equal(t, "fixed", svc.Messages("room-1")[0].Content)
	require.True(t, svc.Messages("room-1")[0].IsEdited)

	require.NoError(t, svc.Delete("101"))
	require.Equal(t, domain.DeletedPlaceholder, svc.Messages("room-1")[1].Content)

	ops := fb.rest()
	require.Contains(t, ops, "POST /api/chat/rooms/room-1/send_message/")
	require.Contains(t, ops, "POST /api/chat/rooms/room-1/mark_as_read/")
	require.Contains(t, ops, "PATCH /api/chat/messages/100/")
	require.Contains(t, ops, "DELETE /api/chat/messages/101/")
}

func TestTypingEventsSkipSelf(t *testing.T) {
	fb := newFakeBackend(t)
	svc := newTestService(t, fb)
	openRoom(t, svc)

	fb.push(t, map[string]interface{}{
		"type": "user_typing", "user_id": 9, "username": "bob", "is_typing": true,
	})
	require.Eventually(t, func() bool {
		return len(svc.TypingUsers("room-1")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Our own echo is ignored.
	fb.push(t, map[string]interface{}{
		"type": "user_typing", "user_id": selfID, "username": "alice", "is_typing": true,
	})
	time.Sleep(50 * time.Millisecond)
	typing := svc.TypingUsers("room-1")
	require.Len(t, typing, 1)
	require.Equal(t, int64(9), typing[0].UserID)
}

func TestMarkReadSkipsOwnMessages(t *testing.T) {
	fb := newFakeBackend(t)
	svc := newTestService(t, fb)
	openRoom(t, svc)

	// "101" was sent by us; no receipt goes out.
	require.NoError(t, svc.MarkRead("101"))
	time.Sleep(50 * time.Millisecond)
	require.Empty(t, fb.frames())

	// "100" came from someone else.
	require.NoError(t, svc.MarkRead("100"))
	require.Eventually(t, func() bool {
		return len(fb.frames()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.True(t, svc.Messages("room-1")[0].IsRead)
}

func TestEditAndDeleteEvents(t *testing.T) {
	fb := newFakeBackend(t)
	svc := newTestService(t, fb)
	openRoom(t, svc)

	edited := mkMsg("100", 0, 9, "hello (edited)")
	edited.IsEdited = true
	fb.push(t, map[string]interface{}{"type": "message_edited", "message": edited})
	require.Eventually(t, func() bool {
		msgs := svc.Messages("room-1")
		return len(msgs) == 2 && msgs[0].IsEdited
	}, 2*time.Second, 10*time.Millisecond)

	fb.push(t, map[string]interface{}{"type": "message_deleted", "message_id": "100", "deleted_by": "someone"})
	require.Eventually(t, func() bool {
		msgs := svc.Messages("room-1")
		return msgs[0].IsDeleted && msgs[0].Content == domain.DeletedPlaceholder
	}, 2*time.Second, 10*time.Millisecond)

	// The sequence keeps its length and order through both.
	require.Len(t, svc.Messages("room-1"), 2)
}

func TestCloseRoomDiscardsRealtimeState(t *testing.T) {
	fb := newFakeBackend(t)
	svc := newTestService(t, fb)
	openRoom(t, svc)

	fb.push(t, map[string]interface{}{
		"type": "user_typing", "user_id": 9, "username": "bob", "is_typing": true,
	})
	require.Eventually(t, func() bool {
		return len(svc.TypingUsers("room-1")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	svc.CloseRoom()

	require.Equal(t, transport.StateDisconnected, svc.ConnectionState())
	require.Nil(t, svc.CurrentRoom())
	require.Empty(t, svc.TypingUsers("room-1"))
	// Loaded messages stay for instant re-render.
	require.Len(t, svc.Messages("room-1"), 2)
}
