package domain

import "time"

// MessageType classifies a message payload.
type MessageType string

const (
	MessageText   MessageType = "text"
	MessageImage  MessageType = "image"
	MessageFile   MessageType = "file"
	MessageSystem MessageType = "system"
)

// DeletedPlaceholder replaces the content of soft-deleted messages.
const DeletedPlaceholder = "[message deleted]"

// ReplyRef is a snapshot of the message being replied to, taken at
// send time so the preview survives later edits.
type ReplyRef struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Sender    string    `json:"sender"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is one entry in a room's message sequence. The identifier is
// server-assigned and stable across edits; content, edit/delete/read
// flags are the only fields that mutate in place.
type Message struct {
	ID             string        `json:"id"`
	Type           MessageType   `json:"message_type"`
	Content        string        `json:"content"`
	FileURL        string        `json:"file_url,omitempty"`
	FileName       string        `json:"file_name,omitempty"`
	FileSize       int64         `json:"file_size,omitempty"`
	Sender         UserSummary   `json:"sender"`
	ReplyTo        string        `json:"reply_to,omitempty"`
	ReplyToMessage *ReplyRef     `json:"reply_to_message,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	IsEdited       bool          `json:"is_edited"`
	IsDeleted      bool          `json:"is_deleted"`
	IsRead         bool          `json:"is_read"`
	CanEdit        bool          `json:"can_edit"`
	CanDelete      bool          `json:"can_delete"`
	ReadBy         []UserSummary `json:"read_by,omitempty"`
}

// Before reports whether m sorts before other. The sequence order is
// (created_at, id); ids break timestamp ties so the order is total.
func (m *Message) Before(other *Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}

// SoftDelete marks the message deleted in place, keeping its position
// and metadata so pagination cursors anchored on its id stay valid.
func (m *Message) SoftDelete() {
	m.IsDeleted = true
	m.Content = DeletedPlaceholder
}
