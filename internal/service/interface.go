package service

import (
	"context"

	"github.com/eveneto/chatcore/internal/domain"
	"github.com/eveneto/chatcore/internal/rest"
	"github.com/eveneto/chatcore/internal/transport"
	"github.com/eveneto/chatcore/pkg/token"
)

// NotificationKind discriminates state-change notifications pushed to
// UI code.
type NotificationKind int

const (
	NoteRooms NotificationKind = iota
	NoteMessages
	NotePresence
	NoteConnection
	NoteServerError
)

// Notification tells a subscriber which slice of state changed; the
// subscriber reads the current value back through the accessors.
type Notification struct {
	Kind    NotificationKind
	RoomID  string
	State   transport.State
	Err     error
	Message string
}

// ChatService is the surface the chat core exposes to UI code: cached
// state accessors plus action dispatchers. All methods are safe for
// concurrent use.
type ChatService interface {
	// Lifecycle
	Start(ctx context.Context)
	Close()

	// Rooms
	Rooms(ctx context.Context) ([]domain.Room, error)
	CachedRooms() []domain.Room
	CreateRoom(ctx context.Context, req rest.CreateRoomRequest) (*domain.Room, error)
	JoinRoom(ctx context.Context, roomID string) error
	LeaveRoom(ctx context.Context, roomID string) error
	OpenRoom(ctx context.Context, roomID string) (*domain.RoomDetail, error)
	CloseRoom()
	SetFocused(focused bool)
	CurrentRoom() *domain.RoomDetail

	// Messages
	Messages(roomID string) []domain.Message
	HasMore(roomID string) bool
	LoadOlder(ctx context.Context) (bool, error)
	Send(content string, messageType domain.MessageType, replyTo string) error
	Edit(messageID, content string) error
	Delete(messageID string) error
	MarkRead(messageID string) error
	ValidateAttachment(size int64) error

	// Presence
	SetTyping(isTyping bool) error
	TypingUsers(roomID string) []domain.TypingUser
	OnlineUsers(roomID string) []domain.OnlineUser

	// Connection
	ConnectionState() transport.State
	Identity() token.Identity

	Subscribe(fn func(Notification))
}
