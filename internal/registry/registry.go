// Package registry owns room metadata: the membership-scoped room list
// and the detail record of whichever room is open.
package registry

import (
	"sync"

	"github.com/eveneto/chatcore/internal/domain"
)

// Registry caches the room list and the open-room detail. The list is
// replaced wholesale on refresh so stale entries cannot survive
// membership changes. Live message events only patch last_message and
// unread_count; they never create rooms.
type Registry struct {
	mu        sync.RWMutex
	rooms     []domain.Room
	byID      map[string]int
	current   *domain.RoomDetail
	listeners []func()
}

func New() *Registry {
	return &Registry{byID: make(map[string]int)}
}

// Subscribe registers a listener invoked after every registry change.
func (r *Registry) Subscribe(fn func()) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

func (r *Registry) notify() {
	r.mu.RLock()
	listeners := make([]func(), len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.RUnlock()
	for _, fn := range listeners {
		fn()
	}
}

// SetRooms replaces the cached room list wholesale.
func (r *Registry) SetRooms(rooms []domain.Room) {
	r.mu.Lock()
	r.rooms = make([]domain.Room, len(rooms))
	copy(r.rooms, rooms)
	r.byID = make(map[string]int, len(rooms))
	for i, room := range r.rooms {
		r.byID[room.ID] = i
	}
	r.mu.Unlock()
	r.notify()
}

// Rooms returns a copy of the cached room list.
func (r *Registry) Rooms() []domain.Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Room, len(r.rooms))
	copy(out, r.rooms)
	return out
}

// Room returns one cached room by id.
func (r *Registry) Room(roomID string) (domain.Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pos, ok := r.byID[roomID]
	if !ok {
		return domain.Room{}, false
	}
	return r.rooms[pos], true
}

// AddRoom prepends a newly-created room to the list.
func (r *Registry) AddRoom(room domain.Room) {
	r.mu.Lock()
	r.rooms = append([]domain.Room{room}, r.rooms...)
	for i, rm := range r.rooms {
		r.byID[rm.ID] = i
	}
	r.mu.Unlock()
	r.notify()
}

// RemoveRoom drops a room from the list, e.g. after leaving it. The
// open-room detail is cleared when it matches.
func (r *Registry) RemoveRoom(roomID string) {
	r.mu.Lock()
	pos, ok := r.byID[roomID]
	if ok {
		r.rooms = append(r.rooms[:pos], r.rooms[pos+1:]...)
		r.byID = make(map[string]int, len(r.rooms))
		for i, rm := range r.rooms {
			r.byID[rm.ID] = i
		}
	}
	if r.current != nil && r.current.ID == roomID {
		r.current = nil
	}
	r.mu.Unlock()
	if ok {
		r.notify()
	}
}

// SetCurrent stores the detail record of the open room.
func (r *Registry) SetCurrent(detail *domain.RoomDetail) {
	r.mu.Lock()
	r.current = detail
	r.mu.Unlock()
	r.notify()
}

// ClearCurrent clears the open-room detail; the room list is untouched.
func (r *Registry) ClearCurrent() {
	r.mu.Lock()
	r.current = nil
	r.mu.Unlock()
	r.notify()
}

// Current returns the open-room detail, or nil.
func (r *Registry) Current() *domain.RoomDetail {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// ApplyMessageEvent patches the matching room's last-message preview
// and unread count for a live message. The unread count is not bumped
// for the viewer's own messages or while the room is open and focused.
// Unknown rooms are ignored, not created.
func (r *Registry) ApplyMessageEvent(roomID string, msg domain.Message, fromSelf, focused bool) {
	r.mu.Lock()
	pos, ok := r.byID[roomID]
	if !ok {
		r.mu.Unlock()
		return
	}
	room := &r.rooms[pos]
	room.LastMessage = &domain.LastMessage{
		ID:          msg.ID,
		Content:     msg.Content,
		Sender:      msg.Sender.Username,
		CreatedAt:   msg.CreatedAt,
		MessageType: string(msg.Type),
	}
	room.UpdatedAt = msg.CreatedAt
	if !fromSelf && !focused {
		room.UnreadCount++
	}
	r.mu.Unlock()
	r.notify()
}

// ResetUnread zeroes a room's unread count after the viewer catches up.
func (r *Registry) ResetUnread(roomID string) {
	r.mu.Lock()
	pos, ok := r.byID[roomID]
	if !ok {
		r.mu.Unlock()
		return
	}
	r.rooms[pos].UnreadCount = 0
	r.mu.Unlock()
	r.notify()
}
