package domain

import "time"

// RoomType classifies a chat room.
type RoomType string

const (
	RoomCommunity RoomType = "community"
	RoomPrivate   RoomType = "private"
	RoomGroup     RoomType = "group"
)

// Role is the caller's role inside a room. An empty Role means the
// caller is not a member.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
	RoleMember    Role = "member"
)

// UserSummary identifies a user in room and message payloads.
type UserSummary struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	FullName string `json:"full_name,omitempty"`
}

// LastMessage is the preview shown in the room list.
type LastMessage struct {
	ID          string    `json:"id"`
	Content     string    `json:"content"`
	Sender      string    `json:"sender"`
	CreatedAt   time.Time `json:"created_at"`
	MessageType string    `json:"message_type"`
}

// Room is the membership-scoped room list entry.
type Room struct {
	ID               string       `json:"id"`
	Name             string       `json:"name"`
	Type             RoomType     `json:"room_type"`
	ParticipantCount int          `json:"participant_count"`
	LastMessage      *LastMessage `json:"last_message,omitempty"`
	UnreadCount      int          `json:"unread_count"`
	UserRole         Role         `json:"user_role,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// RoomMember is a member entry in a room detail view.
type RoomMember struct {
	ID                   string      `json:"id"`
	User                 UserSummary `json:"user"`
	Role                 Role        `json:"role"`
	IsActive             bool        `json:"is_active"`
	JoinedAt             time.Time   `json:"joined_at"`
	LastSeen             *time.Time  `json:"last_seen,omitempty"`
	NotificationsEnabled bool        `json:"notifications_enabled"`
	IsMuted              bool        `json:"is_muted"`
	IsOnline             bool        `json:"is_online"`
	UnreadCount          int         `json:"unread_count"`
}

// Permissions are the caller's capabilities inside an open room.
type Permissions struct {
	CanSendMessages   bool   `json:"can_send_messages"`
	CanDeleteMessages bool   `json:"can_delete_messages"`
	CanManageMembers  bool   `json:"can_manage_members"`
	Role              string `json:"role,omitempty"`
}

// CommunityInfo links a community room back to its community.
type CommunityInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// RoomDetail is the full record for the currently-open room.
type RoomDetail struct {
	Room
	Members         []RoomMember   `json:"members"`
	CreatedBy       UserSummary    `json:"created_by"`
	Community       *CommunityInfo `json:"community_info,omitempty"`
	Permissions     Permissions    `json:"user_permissions"`
	IsActive        bool           `json:"is_active"`
	MaxParticipants int            `json:"max_participants,omitempty"`
	IsReadOnly      bool           `json:"is_read_only"`
}
