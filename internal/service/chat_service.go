package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/eveneto/chatcore/internal/cache"
	"github.com/eveneto/chatcore/internal/config"
	"github.com/eveneto/chatcore/internal/coordinator"
	"github.com/eveneto/chatcore/internal/domain"
	"github.com/eveneto/chatcore/internal/presence"
	"github.com/eveneto/chatcore/internal/registry"
	"github.com/eveneto/chatcore/internal/rest"
	"github.com/eveneto/chatcore/internal/store"
	"github.com/eveneto/chatcore/internal/transport"
	"github.com/eveneto/chatcore/pkg/log"
	"github.com/eveneto/chatcore/pkg/token"
	"golang.org/x/sync/errgroup"
)

type chatService struct {
	cfg      *config.Config
	api      *rest.Client
	registry *registry.Registry
	store    *store.Store
	presence *presence.Tracker
	cache    *cache.Cache // nil when disabled
	identity token.Identity
	tokenFn  func() string

	mu         sync.Mutex
	openRoomID string
	epoch      uint64
	transport  *transport.Client
	coord      *coordinator.Coordinator
	focused    bool
	connState  transport.State

	subMu     sync.Mutex
	listeners []func(Notification)
}

// NewChatService wires the chat core together. tokenFn supplies the
// current session token; it is called on every REST request and
// websocket dial so token refreshes are picked up transparently.
func NewChatService(cfg *config.Config, tokenFn func() string) (ChatService, error) {
	ident, err := token.Decode(tokenFn())
	if err != nil {
		return nil, err
	}

	s := &chatService{
		cfg:      cfg,
		api:      rest.NewClient(cfg.API.BaseURL, cfg.API.Timeout, tokenFn),
		registry: registry.New(),
		store:    store.New(),
		presence: presence.NewTracker(cfg.Chat.TypingTTL),
		identity: *ident,
		tokenFn:  tokenFn,
	}

	if cfg.Chat.CachePath != "" {
		c, err := cache.Open(cfg.Chat.CachePath)
		if err != nil {
			l := log.With("service")
			l.Warn().Err(err).Msg("history cache disabled")
		} else {
			s.cache = c
		}
	}

	s.registry.Subscribe(func() {
		s.notify(Notification{Kind: NoteRooms})
	})
	s.store.Subscribe(func(c store.Change) {
		s.notify(Notification{Kind: NoteMessages, RoomID: c.RoomID})
	})
	s.presence.Subscribe(func(roomID string) {
		s.notify(Notification{Kind: NotePresence, RoomID: roomID})
	})

	return s, nil
}

// Start launches background maintenance (typing expiry) until ctx is
// done.
func (s *chatService) Start(ctx context.Context) {
	go s.presence.Run(ctx)
}

// Close tears down the open room and releases the cache.
func (s *chatService) Close() {
	s.CloseRoom()
	if s.cache != nil {
		s.cache.Close()
	}
}

func (s *chatService) Subscribe(fn func(Notification)) {
	s.subMu.Lock()
	s.listeners = append(s.listeners, fn)
	s.subMu.Unlock()
}

func (s *chatService) notify(n Notification) {
	s.subMu.Lock()
	listeners := make([]func(Notification), len(s.listeners))
	copy(listeners, s.listeners)
	s.subMu.Unlock()
	for _, fn := range listeners {
		fn(n)
	}
}

func (s *chatService) Identity() token.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

func (s *chatService) selfID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity.UserID
}

// Rooms fetches the room list and replaces the cached copy wholesale.
func (s *chatService) Rooms(ctx context.Context) ([]domain.Room, error) {
	rooms, err := s.api.ListRooms(ctx)
	if err != nil {
		return nil, err
	}
	s.registry.SetRooms(rooms)
	return rooms, nil
}

func (s *chatService) CachedRooms() []domain.Room { return s.registry.Rooms() }

func (s *chatService) CreateRoom(ctx context.Context, req rest.CreateRoomRequest) (*domain.Room, error) {
	room, err := s.api.CreateRoom(ctx, req)
	if err != nil {
		return nil, err
	}
	s.registry.AddRoom(*room)
	return room, nil
}

func (s *chatService) JoinRoom(ctx context.Context, roomID string) error {
	if err := s.api.JoinRoom(ctx, roomID); err != nil {
		return err
	}
	// Refresh so the joined room and its metadata appear in the list.
	_, err := s.Rooms(ctx)
	return err
}

func (s *chatService) LeaveRoom(ctx context.Context, roomID string) error {
	if err := s.api.LeaveRoom(ctx, roomID); err != nil {
		return err
	}

	s.mu.Lock()
	open := s.openRoomID == roomID
	s.mu.Unlock()
	if open {
		s.CloseRoom()
	}

	s.registry.RemoveRoom(roomID)
	s.store.DropRoom(roomID)
	s.presence.Reset(roomID)
	if s.cache != nil {
		s.cache.Purge(roomID)
	}
	return nil
}

// OpenRoom fetches the room detail and newest history page, then opens
// the realtime channel. If the user navigates elsewhere before the
// fetches resolve, the results are discarded and (nil, nil) is
// returned: stale data must not land in a view that moved on, but
// navigation is not an error.
func (s *chatService) OpenRoom(ctx context.Context, roomID string) (*domain.RoomDetail, error) {
	// The session provider may have rotated the token since
	// construction; gate on the current one, not a cached identity.
	ident, err := token.Decode(s.tokenFn())
	if err != nil {
		return nil, &domain.ConnectionError{RoomID: roomID, Err: err}
	}
	if ident.Expired(time.Now()) {
		return nil, &domain.ConnectionError{RoomID: roomID, Err: token.ErrExpiredToken}
	}
	s.mu.Lock()
	s.identity = *ident
	s.mu.Unlock()

	s.CloseRoom()

	s.mu.Lock()
	s.epoch++
	epoch := s.epoch
	s.openRoomID = roomID
	s.focused = true
	s.mu.Unlock()

	if s.cache != nil {
		if warm := s.cache.WarmStart(roomID, s.cfg.Chat.WarmStartLimit); len(warm) > 0 {
			s.store.MergeRecent(roomID, warm)
		}
	}

	var (
		detail *domain.RoomDetail
		page   *rest.HistoryPage
	)
	ctx = log.WithLogger(ctx, log.With("service").With().Str(log.FieldRoomID, roomID).Logger())
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		detail, err = s.api.GetRoom(gctx, roomID)
		return err
	})
	g.Go(func() error {
		var err error
		page, err = s.api.GetMessages(gctx, roomID, "", s.cfg.API.PageSize)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.epoch != epoch {
		// User already navigated away; drop the results.
		s.mu.Unlock()
		return nil, nil
	}
	s.mu.Unlock()

	s.registry.SetCurrent(detail)
	s.store.MergeHistory(roomID, page.Messages, page.HasMore)
	s.cachePage(roomID, page.Messages)
	s.presence.Reset(roomID)

	t := transport.NewClient(roomID, s.wsURL(roomID), s.cfg.WebSocket, s.tokenFn, s.handleEvent, s.handleState)
	coord := coordinator.New(s.cfg.Chat.QueueSize, t, func() { s.reconcile(roomID) })

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return nil, nil
	}
	s.transport = t
	s.coord = coord
	s.mu.Unlock()

	t.Open()
	return detail, nil
}

// CloseRoom tears down the open room: reconnect timers die with the
// transport, presence state is discarded, cached rooms and messages
// stay usable.
func (s *chatService) CloseRoom() {
	s.mu.Lock()
	s.epoch++
	roomID := s.openRoomID
	t := s.transport
	s.openRoomID = ""
	s.transport = nil
	s.coord = nil
	s.connState = transport.StateDisconnected
	s.mu.Unlock()

	if t != nil {
		t.Close()
	}
	if roomID != "" {
		s.registry.ClearCurrent()
		s.presence.Reset(roomID)
	}
}

func (s *chatService) SetFocused(focused bool) {
	s.mu.Lock()
	s.focused = focused
	s.mu.Unlock()
}

func (s *chatService) CurrentRoom() *domain.RoomDetail { return s.registry.Current() }

func (s *chatService) Messages(roomID string) []domain.Message { return s.store.Messages(roomID) }

func (s *chatService) HasMore(roomID string) bool { return s.store.HasMore(roomID) }

// LoadOlder fetches the page before the oldest loaded message of the
// open room. Reports whether further pages remain.
func (s *chatService) LoadOlder(ctx context.Context) (bool, error) {
	s.mu.Lock()
	roomID := s.openRoomID
	epoch := s.epoch
	s.mu.Unlock()
	if roomID == "" {
		return false, domain.ErrNoOpenRoom
	}

	before := s.store.OldestID(roomID)
	page, err := s.api.GetMessages(ctx, roomID, before, s.cfg.API.PageSize)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	stale := s.epoch != epoch
	s.mu.Unlock()
	if stale {
		return false, nil
	}

	s.store.MergeHistory(roomID, page.Messages, page.HasMore)
	s.cachePage(roomID, page.Messages)
	return page.HasMore, nil
}

// Send validates and dispatches a message. While the realtime channel
// is alive the authoritative copy comes back over it; once the retry
// budget is exhausted the message goes out over REST instead and the
// server's response is merged like a live frame.
func (s *chatService) Send(content string, messageType domain.MessageType, replyTo string) error {
	if len([]rune(content)) > s.cfg.Chat.MaxMessageChars {
		return domain.ErrMessageTooLarge
	}
	if roomID, down := s.channelState(); down {
		return s.sendOverREST(roomID, content, messageType, replyTo)
	}
	return s.dispatch(coordinator.ActionSend, domain.NewSendMessageFrame(content, messageType, replyTo))
}

func (s *chatService) Edit(messageID, content string) error {
	if len([]rune(content)) > s.cfg.Chat.MaxMessageChars {
		return domain.ErrMessageTooLarge
	}
	if roomID, down := s.channelState(); down {
		ctx, cancel := s.restCtx(roomID)
		defer cancel()
		msg, err := s.api.EditMessage(ctx, messageID, content)
		if err != nil {
			return err
		}
		s.store.ApplyEdit(roomID, *msg)
		if s.cache != nil {
			s.cache.Put(roomID, *msg)
		}
		return nil
	}
	return s.dispatch(coordinator.ActionEdit, domain.NewEditMessageFrame(messageID, content))
}

func (s *chatService) Delete(messageID string) error {
	if roomID, down := s.channelState(); down {
		ctx, cancel := s.restCtx(roomID)
		defer cancel()
		if err := s.api.DeleteMessage(ctx, messageID); err != nil {
			return err
		}
		s.store.ApplyDelete(roomID, messageID)
		if s.cache != nil {
			if msg, ok := s.store.Get(roomID, messageID); ok {
				s.cache.Put(roomID, msg)
			}
		}
		return nil
	}
	return s.dispatch(coordinator.ActionDelete, domain.NewDeleteMessageFrame(messageID))
}

// sendOverREST posts the message through the fallback endpoint and
// merges the returned copy.
func (s *chatService) sendOverREST(roomID, content string, messageType domain.MessageType, replyTo string) error {
	ctx, cancel := s.restCtx(roomID)
	defer cancel()

	msg, err := s.api.SendMessage(ctx, roomID, content, messageType, replyTo)
	if err != nil {
		return err
	}
	s.store.AppendLive(roomID, *msg)
	if s.cache != nil {
		s.cache.Put(roomID, *msg)
	}
	s.mu.Lock()
	focused := s.focused
	s.mu.Unlock()
	s.registry.ApplyMessageEvent(roomID, *msg, true, focused)
	return nil
}

// channelState reports the open room id and whether the realtime
// channel is down for good. A dead channel with a room still open
// routes message actions over REST; Connecting and Reconnecting keep
// queueing through the coordinator.
func (s *chatService) channelState() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	down := s.openRoomID != "" && s.coord != nil && s.connState == transport.StateDisconnected
	return s.openRoomID, down
}

func (s *chatService) channelDown() bool {
	_, down := s.channelState()
	return down
}

// restCtx builds a bounded context carrying a room-tagged logger for
// the REST client to pick up.
func (s *chatService) restCtx(roomID string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.API.Timeout)
	l := log.With("service").With().Str(log.FieldRoomID, roomID).Logger()
	return log.WithLogger(ctx, l), cancel
}

// MarkRead flags a received message as read locally, tells the server,
// and zeroes the room's unread counter.
func (s *chatService) MarkRead(messageID string) error {
	s.mu.Lock()
	roomID := s.openRoomID
	s.mu.Unlock()
	if roomID == "" {
		return domain.ErrNoOpenRoom
	}

	if msg, ok := s.store.Get(roomID, messageID); ok && msg.Sender.ID == s.selfID() {
		// Own messages carry no viewer-relative read state.
		return nil
	}

	if s.channelDown() {
		ctx, cancel := s.restCtx(roomID)
		defer cancel()
		if err := s.api.MarkAsRead(ctx, roomID, messageID); err != nil {
			return err
		}
	} else if err := s.dispatch(coordinator.ActionMarkRead, domain.NewMarkAsReadFrame(messageID)); err != nil {
		return err
	}
	s.store.MarkRead(roomID, messageID)
	s.registry.ResetUnread(roomID)
	return nil
}

func (s *chatService) SetTyping(isTyping bool) error {
	return s.dispatch(coordinator.ActionTyping, domain.NewTypingFrame(isTyping))
}

// ValidateAttachment enforces the client-side upload limit before the
// UI starts an upload.
func (s *chatService) ValidateAttachment(size int64) error {
	if size > s.cfg.Chat.MaxFileBytes {
		return domain.ErrMessageTooLarge
	}
	return nil
}

func (s *chatService) TypingUsers(roomID string) []domain.TypingUser {
	return s.presence.TypingUsers(roomID)
}

func (s *chatService) OnlineUsers(roomID string) []domain.OnlineUser {
	return s.presence.OnlineUsers(roomID)
}

func (s *chatService) ConnectionState() transport.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transport == nil {
		return transport.StateDisconnected
	}
	return s.transport.State()
}

func (s *chatService) dispatch(kind coordinator.ActionKind, frame interface{}) error {
	s.mu.Lock()
	coord := s.coord
	s.mu.Unlock()
	if coord == nil {
		return domain.ErrNoOpenRoom
	}
	return coord.Dispatch(kind, frame)
}

func (s *chatService) wsURL(roomID string) string {
	return strings.TrimRight(s.cfg.WebSocket.BaseURL, "/") + "/ws/chat/" + roomID + "/"
}

func (s *chatService) cachePage(roomID string, msgs []domain.Message) {
	if s.cache == nil {
		return
	}
	for _, m := range msgs {
		s.cache.Put(roomID, m)
	}
}

// reconcile re-fetches the newest page after a reconnect. Nothing from
// the outbound queue is replayed; the id-keyed merge absorbs whatever
// was sent or received during the gap.
func (s *chatService) reconcile(roomID string) {
	go func() {
		ctx, cancel := s.restCtx(roomID)
		defer cancel()

		page, err := s.api.GetMessages(ctx, roomID, "", s.cfg.API.PageSize)
		if err != nil {
			l := log.With("service")
			l.Warn().Err(err).Str(log.FieldRoomID, roomID).Msg("reconcile fetch failed")
			return
		}

		s.mu.Lock()
		stale := s.openRoomID != roomID
		s.mu.Unlock()
		if stale {
			return
		}

		s.store.MergeRecent(roomID, page.Messages)
		s.cachePage(roomID, page.Messages)
	}()
}

// handleEvent routes one inbound realtime event to the owning state
// container.
func (s *chatService) handleEvent(roomID string, ev domain.Event) {
	switch e := ev.(type) {
	case domain.MessageReceived:
		s.store.AppendLive(roomID, e.Message)
		if s.cache != nil {
			s.cache.Put(roomID, e.Message)
		}
		fromSelf := e.Message.Sender.ID == s.selfID()
		s.mu.Lock()
		focused := s.openRoomID == roomID && s.focused
		s.mu.Unlock()
		s.registry.ApplyMessageEvent(roomID, e.Message, fromSelf, focused)

	case domain.MessageEdited:
		s.store.ApplyEdit(roomID, e.Message)
		if s.cache != nil {
			s.cache.Put(roomID, e.Message)
		}

	case domain.MessageDeleted:
		s.store.ApplyDelete(roomID, e.MessageID)
		if s.cache != nil {
			if msg, ok := s.store.Get(roomID, e.MessageID); ok {
				s.cache.Put(roomID, msg)
			}
		}

	case domain.MessageRead:
		s.store.ApplyReadReceipt(roomID, e.MessageID, e.Reader)

	case domain.TypingChanged:
		if e.UserID == s.selfID() {
			return
		}
		s.presence.SetTyping(roomID, e.UserID, e.Username, e.IsTyping)

	case domain.PresenceChanged:
		if e.UserID == s.selfID() {
			return
		}
		s.presence.SetOnline(roomID, e.UserID, e.Username, e.Status, e.Timestamp)

	case domain.ServerError:
		s.notify(Notification{Kind: NoteServerError, RoomID: roomID, Message: e.Message})
	}
}

// handleState forwards transport transitions to the coordinator and
// surfaces them to subscribers.
func (s *chatService) handleState(roomID string, st transport.State, err error) {
	s.mu.Lock()
	coord := s.coord
	current := s.openRoomID == roomID
	if current {
		s.connState = st
	}
	s.mu.Unlock()

	if coord != nil && current {
		coord.HandleState(st)
	}
	s.notify(Notification{Kind: NoteConnection, RoomID: roomID, State: st, Err: err})
}
