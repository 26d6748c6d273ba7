package domain

import (
	"encoding/json"
	"time"
)

// Frame types sent to the server.
const (
	FrameSendMessage   = "send_message"
	FrameTyping        = "typing"
	FrameMarkAsRead    = "mark_as_read"
	FrameEditMessage   = "edit_message"
	FrameDeleteMessage = "delete_message"
)

// Frame types received from the server.
const (
	FrameNewMessage     = "new_message"
	FrameMessageEdited  = "message_edited"
	FrameMessageDeleted = "message_deleted"
	FrameMessageRead    = "message_read"
	FrameUserTyping     = "user_typing"
	FrameUserStatus     = "user_status"
	FrameError          = "error"
)

// Client -> Server frames

type SendMessageFrame struct {
	Type        string      `json:"type"`
	Content     string      `json:"content"`
	MessageType MessageType `json:"message_type"`
	ReplyTo     string      `json:"reply_to,omitempty"`
}

type TypingFrame struct {
	Type     string `json:"type"`
	IsTyping bool   `json:"is_typing"`
}

type MarkAsReadFrame struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
}

type EditMessageFrame struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
}

type DeleteMessageFrame struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
}

func NewSendMessageFrame(content string, messageType MessageType, replyTo string) *SendMessageFrame {
	return &SendMessageFrame{
		Type:        FrameSendMessage,
		Content:     content,
		MessageType: messageType,
		ReplyTo:     replyTo,
	}
}

func NewTypingFrame(isTyping bool) *TypingFrame {
	return &TypingFrame{Type: FrameTyping, IsTyping: isTyping}
}

func NewMarkAsReadFrame(messageID string) *MarkAsReadFrame {
	return &MarkAsReadFrame{Type: FrameMarkAsRead, MessageID: messageID}
}

func NewEditMessageFrame(messageID, content string) *EditMessageFrame {
	return &EditMessageFrame{Type: FrameEditMessage, MessageID: messageID, Content: content}
}

func NewDeleteMessageFrame(messageID string) *DeleteMessageFrame {
	return &DeleteMessageFrame{Type: FrameDeleteMessage, MessageID: messageID}
}

// Event is the closed set of inbound realtime events. Handlers switch
// exhaustively on the concrete types; a new variant that is not handled
// everywhere fails at review, not silently at runtime.
type Event interface {
	isEvent()
}

// MessageReceived carries a newly-created message.
type MessageReceived struct {
	Message Message
}

// MessageEdited carries the full updated message.
type MessageEdited struct {
	Message Message
}

// MessageDeleted announces a soft delete.
type MessageDeleted struct {
	MessageID string
	DeletedBy string
}

// MessageRead announces that another member read a message.
type MessageRead struct {
	MessageID string
	Reader    UserSummary
}

// TypingChanged announces a typing-state change for one user.
type TypingChanged struct {
	UserID   int64
	Username string
	IsTyping bool
}

// PresenceChanged announces an online/offline transition for one user.
type PresenceChanged struct {
	UserID    int64
	Username  string
	Status    PresenceStatus
	Timestamp time.Time
}

// ServerError carries a non-fatal error frame from the server.
type ServerError struct {
	Message string
}

func (MessageReceived) isEvent() {}
func (MessageEdited) isEvent()   {}
func (MessageDeleted) isEvent()  {}
func (MessageRead) isEvent()     {}
func (TypingChanged) isEvent()   {}
func (PresenceChanged) isEvent() {}
func (ServerError) isEvent()     {}

type baseFrame struct {
	Type string `json:"type"`
}

type messageFrame struct {
	Message Message `json:"message"`
}

type messageDeletedFrame struct {
	MessageID string `json:"message_id"`
	DeletedBy string `json:"deleted_by"`
}

type messageReadFrame struct {
	MessageID string `json:"message_id"`
	UserID    int64  `json:"user_id"`
	Username  string `json:"username"`
}

type userTypingFrame struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	IsTyping bool   `json:"is_typing"`
}

type userStatusFrame struct {
	UserID    int64          `json:"user_id"`
	Username  string         `json:"username"`
	Status    PresenceStatus `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
}

type errorFrame struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ParseFrame decodes an inbound wire frame into a typed event. Unknown
// frame types return (nil, nil) so newer servers do not break older
// clients. Malformed payloads return a *ParseError.
func ParseFrame(data []byte) (Event, error) {
	var base baseFrame
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, &ParseError{Type: "", Err: err}
	}

	switch base.Type {
	case FrameNewMessage:
		var f messageFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, &ParseError{Type: base.Type, Err: err}
		}
		return MessageReceived{Message: f.Message}, nil

	case FrameMessageEdited:
		var f messageFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, &ParseError{Type: base.Type, Err: err}
		}
		return MessageEdited{Message: f.Message}, nil

	case FrameMessageDeleted:
		var f messageDeletedFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, &ParseError{Type: base.Type, Err: err}
		}
		return MessageDeleted{MessageID: f.MessageID, DeletedBy: f.DeletedBy}, nil

	case FrameMessageRead:
		var f messageReadFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, &ParseError{Type: base.Type, Err: err}
		}
		return MessageRead{
			MessageID: f.MessageID,
			Reader:    UserSummary{ID: f.UserID, Username: f.Username},
		}, nil

	case FrameUserTyping:
		var f userTypingFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, &ParseError{Type: base.Type, Err: err}
		}
		return TypingChanged{UserID: f.UserID, Username: f.Username, IsTyping: f.IsTyping}, nil

	case FrameUserStatus:
		var f userStatusFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, &ParseError{Type: base.Type, Err: err}
		}
		return PresenceChanged{
			UserID:    f.UserID,
			Username:  f.Username,
			Status:    f.Status,
			Timestamp: f.Timestamp,
		}, nil

	case FrameError:
		var f errorFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, &ParseError{Type: base.Type, Err: err}
		}
		msg := f.Error
		if msg == "" {
			msg = f.Message
		}
		return ServerError{Message: msg}, nil

	default:
		// Forward compatibility: drop unrecognized frame types.
		return nil, nil
	}
}
