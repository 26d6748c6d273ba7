// Package presence tracks the ephemeral per-room sets of online users
// and currently-typing users. Nothing here persists; room state is
// rebuilt from scratch whenever a room is (re)opened.
package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/eveneto/chatcore/internal/domain"
	"github.com/eveneto/chatcore/pkg/log"
)

type typingEntry struct {
	username string
	deadline time.Time
}

// Tracker holds typing and online sets per room. Typing entries carry a
// deadline refreshed on every typing frame; entries past the deadline
// are pruned both by a janitor loop and lazily on read, so a dropped
// "stopped typing" frame cannot wedge the indicator.
type Tracker struct {
	mu        sync.Mutex
	ttl       time.Duration
	typing    map[string]map[int64]typingEntry
	online    map[string]map[int64]domain.OnlineUser
	listeners []func(roomID string)
}

func NewTracker(typingTTL time.Duration) *Tracker {
	return &Tracker{
		ttl:    typingTTL,
		typing: make(map[string]map[int64]typingEntry),
		online: make(map[string]map[int64]domain.OnlineUser),
	}
}

// Subscribe registers a listener invoked with the room id after every
// presence or typing change.
func (t *Tracker) Subscribe(fn func(roomID string)) {
	t.mu.Lock()
	t.listeners = append(t.listeners, fn)
	t.mu.Unlock()
}

func (t *Tracker) notify(roomID string) {
	t.mu.Lock()
	listeners := make([]func(string), len(t.listeners))
	copy(listeners, t.listeners)
	t.mu.Unlock()
	for _, fn := range listeners {
		fn(roomID)
	}
}

// SetTyping adds or removes a user from the room's typing set. A true
// state also refreshes the expiry deadline for users already present.
func (t *Tracker) SetTyping(roomID string, userID int64, username string, isTyping bool) {
	t.mu.Lock()
	if isTyping {
		room, ok := t.typing[roomID]
		if !ok {
			room = make(map[int64]typingEntry)
			t.typing[roomID] = room
		}
		room[userID] = typingEntry{username: username, deadline: time.Now().Add(t.ttl)}
	} else if room, ok := t.typing[roomID]; ok {
		delete(room, userID)
	}
	t.mu.Unlock()
	t.notify(roomID)
}

// SetOnline upserts a user's online status. Conflicts resolve
// last-write-wins by timestamp: a stale update delivered out of order
// never overwrites a newer one.
func (t *Tracker) SetOnline(roomID string, userID int64, username string, status domain.PresenceStatus, ts time.Time) {
	t.mu.Lock()
	room, ok := t.online[roomID]
	if !ok {
		room = make(map[int64]domain.OnlineUser)
		t.online[roomID] = room
	}
	if existing, ok := room[userID]; ok && existing.Timestamp.After(ts) {
		t.mu.Unlock()
		return
	}
	room[userID] = domain.OnlineUser{UserID: userID, Username: username, Status: status, Timestamp: ts}
	t.mu.Unlock()
	t.notify(roomID)
}

// TypingUsers returns the room's live typing set, pruning expired
// entries on the way out. Sorted by user id for stable rendering.
func (t *Tracker) TypingUsers(roomID string) []domain.TypingUser {
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	room, ok := t.typing[roomID]
	if !ok {
		return nil
	}
	out := make([]domain.TypingUser, 0, len(room))
	for id, entry := range room {
		if now.After(entry.deadline) {
			delete(room, id)
			continue
		}
		out = append(out, domain.TypingUser{UserID: id, Username: entry.username})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// OnlineUsers returns the room's presence set sorted by user id.
func (t *Tracker) OnlineUsers(roomID string) []domain.OnlineUser {
	t.mu.Lock()
	defer t.mu.Unlock()
	room, ok := t.online[roomID]
	if !ok {
		return nil
	}
	out := make([]domain.OnlineUser, 0, len(room))
	for _, u := range room {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Reset discards all ephemeral state for a room.
func (t *Tracker) Reset(roomID string) {
	t.mu.Lock()
	delete(t.typing, roomID)
	delete(t.online, roomID)
	t.mu.Unlock()
	t.notify(roomID)
}

// Run prunes expired typing entries until ctx is done. Pruning also
// happens lazily on read; the loop exists so indicators clear even when
// nobody is polling.
func (t *Tracker) Run(ctx context.Context) {
	interval := t.ttl / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.prune()
		}
	}
}

func (t *Tracker) prune() {
	now := time.Now()
	changed := make(map[string]struct{})
	t.mu.Lock()
	for roomID, room := range t.typing {
		for id, entry := range room {
			if now.After(entry.deadline) {
				delete(room, id)
				changed[roomID] = struct{}{}
			}
		}
	}
	t.mu.Unlock()

	l := log.With("presence")
	for roomID := range changed {
		l.Debug().Str(log.FieldRoomID, roomID).Msg("expired stale typing entries")
		t.notify(roomID)
	}
}
