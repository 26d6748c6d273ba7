package domain

import "time"

// PresenceStatus is a user's online state inside a room.
type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusOffline PresenceStatus = "offline"
)

// TypingUser is an entry in a room's ephemeral typing set.
type TypingUser struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
}

// OnlineUser is an entry in a room's ephemeral presence set. Timestamp
// is the moment of the last status change and drives last-write-wins
// conflict resolution.
type OnlineUser struct {
	UserID    int64          `json:"user_id"`
	Username  string         `json:"username"`
	Status    PresenceStatus `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
}
