// Package store owns the per-room ordered message sequence. It is the
// single authoritative copy of message state; the registry and presence
// tracker never duplicate it.
package store

import (
	"sort"
	"sync"

	"github.com/eveneto/chatcore/internal/domain"
)

// ChangeKind discriminates store notifications.
type ChangeKind int

const (
	ChangeMerge ChangeKind = iota
	ChangeAppend
	ChangeEdit
	ChangeDelete
	ChangeRead
	ChangeDrop
)

// Change describes one mutation of a room's sequence.
type Change struct {
	Kind      ChangeKind
	RoomID    string
	MessageID string
}

type roomMessages struct {
	list    []domain.Message
	index   map[string]int // message id -> position in list
	hasMore bool
}

// Store holds ordered message sequences keyed by room. All sequences
// stay sorted by (created_at, id) at all times; mutations never reorder
// entries, and merges are idempotent by message id.
type Store struct {
	mu        sync.RWMutex
	rooms     map[string]*roomMessages
	listeners []func(Change)
}

func New() *Store {
	return &Store{rooms: make(map[string]*roomMessages)}
}

// Subscribe registers a listener for sequence changes. Listeners run
// synchronously after the mutation, outside the store lock.
func (s *Store) Subscribe(fn func(Change)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *Store) notify(c Change) {
	s.mu.RLock()
	listeners := make([]func(Change), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.RUnlock()
	for _, fn := range listeners {
		fn(c)
	}
}

func (s *Store) room(roomID string) *roomMessages {
	r, ok := s.rooms[roomID]
	if !ok {
		r = &roomMessages{index: make(map[string]int)}
		s.rooms[roomID] = r
	}
	return r
}

// insert places msg at its sorted position and reindexes the tail.
// Callers hold the write lock.
func (r *roomMessages) insert(msg domain.Message) {
	pos := sort.Search(len(r.list), func(i int) bool {
		return msg.Before(&r.list[i])
	})
	r.list = append(r.list, domain.Message{})
	copy(r.list[pos+1:], r.list[pos:])
	r.list[pos] = msg
	for i := pos; i < len(r.list); i++ {
		r.index[r.list[i].ID] = i
	}
}

// MergeHistory merges a REST history page into the room's sequence.
// Messages already present are kept as-is: the in-memory copy may carry
// live edits newer than the fetched snapshot. Safe to call concurrently
// with live delivery for the same room; the merge is keyed by id and
// commutes with AppendLive.
func (s *Store) MergeHistory(roomID string, page []domain.Message, hasMore bool) {
	s.mu.Lock()
	r := s.room(roomID)
	for _, msg := range page {
		if _, ok := r.index[msg.ID]; ok {
			continue
		}
		r.insert(msg)
	}
	r.hasMore = hasMore
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeMerge, RoomID: roomID})
}

// MergeRecent merges the newest page after a reconnect without
// touching the room's pagination state: has_more on the newest page
// speaks about messages older than that page, which deeper pagination
// may already have fetched.
func (s *Store) MergeRecent(roomID string, page []domain.Message) {
	s.mu.Lock()
	r := s.room(roomID)
	for _, msg := range page {
		if _, ok := r.index[msg.ID]; ok {
			continue
		}
		r.insert(msg)
	}
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeMerge, RoomID: roomID})
}

// AppendLive inserts a newly-arrived message. If the id already exists
// (history fetch racing live delivery), the stored entry is replaced in
// place with the live version instead of duplicated.
func (s *Store) AppendLive(roomID string, msg domain.Message) {
	s.mu.Lock()
	r := s.room(roomID)
	if pos, ok := r.index[msg.ID]; ok {
		r.list[pos] = msg
	} else {
		r.insert(msg)
	}
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeAppend, RoomID: roomID, MessageID: msg.ID})
}

// ApplyEdit replaces the stored message by id. No-op if the id is
// unknown in this room.
func (s *Store) ApplyEdit(roomID string, msg domain.Message) {
	s.mu.Lock()
	r, ok := s.rooms[roomID]
	if !ok {
		s.mu.Unlock()
		return
	}
	pos, ok := r.index[msg.ID]
	if !ok {
		s.mu.Unlock()
		return
	}
	r.list[pos] = msg
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeEdit, RoomID: roomID, MessageID: msg.ID})
}

// ApplyDelete soft-deletes the message: content becomes the placeholder,
// position and metadata are preserved.
func (s *Store) ApplyDelete(roomID, messageID string) {
	s.mu.Lock()
	r, ok := s.rooms[roomID]
	if !ok {
		s.mu.Unlock()
		return
	}
	pos, ok := r.index[messageID]
	if !ok {
		s.mu.Unlock()
		return
	}
	r.list[pos].SoftDelete()
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeDelete, RoomID: roomID, MessageID: messageID})
}

// MarkRead sets the viewer-relative read flag. The caller is
// responsible for only marking messages the viewer received, not sent.
func (s *Store) MarkRead(roomID, messageID string) {
	s.mu.Lock()
	r, ok := s.rooms[roomID]
	if !ok {
		s.mu.Unlock()
		return
	}
	pos, ok := r.index[messageID]
	if !ok {
		s.mu.Unlock()
		return
	}
	r.list[pos].IsRead = true
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeRead, RoomID: roomID, MessageID: messageID})
}

// ApplyReadReceipt records that another member read the message.
func (s *Store) ApplyReadReceipt(roomID, messageID string, reader domain.UserSummary) {
	s.mu.Lock()
	r, ok := s.rooms[roomID]
	if !ok {
		s.mu.Unlock()
		return
	}
	pos, ok := r.index[messageID]
	if !ok {
		s.mu.Unlock()
		return
	}
	msg := &r.list[pos]
	for _, u := range msg.ReadBy {
		if u.ID == reader.ID {
			s.mu.Unlock()
			return
		}
	}
	msg.ReadBy = append(msg.ReadBy, reader)
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeRead, RoomID: roomID, MessageID: messageID})
}

// Messages returns a copy of the room's sequence in (created_at, id)
// order. An unknown room yields an empty slice.
func (s *Store) Messages(roomID string) []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]domain.Message, len(r.list))
	copy(out, r.list)
	return out
}

// Get returns one message by id.
func (s *Store) Get(roomID, messageID string) (domain.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return domain.Message{}, false
	}
	pos, ok := r.index[messageID]
	if !ok {
		return domain.Message{}, false
	}
	return r.list[pos], true
}

// HasMore reports whether further backward pagination is possible.
func (s *Store) HasMore(roomID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	return ok && r.hasMore
}

// OldestID returns the pagination cursor for the next older page, or ""
// when the room has no messages yet.
func (s *Store) OldestID(roomID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[roomID]
	if !ok || len(r.list) == 0 {
		return ""
	}
	return r.list[0].ID
}

// DropRoom discards a room's sequence, e.g. after leaving the room.
func (s *Store) DropRoom(roomID string) {
	s.mu.Lock()
	delete(s.rooms, roomID)
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeDrop, RoomID: roomID})
}
