// Package coordinator bridges REST-fetched history with live delivery
// and holds outbound actions while the realtime channel is down.
package coordinator

import (
	"sync"

	"github.com/google/uuid"

	"github.com/eveneto/chatcore/internal/domain"
	"github.com/eveneto/chatcore/internal/transport"
	"github.com/eveneto/chatcore/pkg/log"
)

// ActionKind classifies queued outbound actions. Typing is the only
// low-priority kind; it is shed first under backpressure.
type ActionKind int

const (
	ActionSend ActionKind = iota
	ActionTyping
	ActionMarkRead
	ActionEdit
	ActionDelete
)

// Action is one user-intended outbound operation.
type Action struct {
	ID    string
	Kind  ActionKind
	Frame interface{}
}

// Sender is the outbound side of the transport client.
type Sender interface {
	Send(frame interface{}) error
	State() transport.State
}

// Coordinator queues outbound actions while the channel is down and
// flushes them in strict submission order on reconnect. It never
// replays already-sent frames; instead onResume re-fetches the newest
// history page and relies on the store's id-keyed merge to reconcile
// anything sent or received during the gap.
type Coordinator struct {
	mu       sync.Mutex
	queue    []Action
	capacity int
	sender   Sender
	onResume func()
	sawDrop  bool
	flushing bool
}

func New(capacity int, sender Sender, onResume func()) *Coordinator {
	return &Coordinator{
		capacity: capacity,
		sender:   sender,
		onResume: onResume,
	}
}

// Dispatch sends the frame immediately when connected and idle, and
// queues it otherwise. A full queue sheds the oldest queued typing
// action first; if nothing is sheddable, message sends fail fast with
// ErrBackpressure and typing updates are dropped silently.
func (c *Coordinator) Dispatch(kind ActionKind, frame interface{}) error {
	c.mu.Lock()
	direct := !c.flushing && len(c.queue) == 0 && c.sender.State() == transport.StateConnected
	c.mu.Unlock()

	if direct {
		err := c.sender.Send(frame)
		if err == nil {
			return nil
		}
		if err != transport.ErrNotConnected {
			return err
		}
		// The connection dropped under us; fall through to the queue.
	}
	return c.enqueue(kind, frame)
}

func (c *Coordinator) enqueue(kind ActionKind, frame interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.queue) >= c.capacity {
		if !c.shedTypingLocked() {
			if kind == ActionTyping {
				return nil
			}
			return domain.ErrBackpressure
		}
	}

	c.queue = append(c.queue, Action{ID: uuid.New().String(), Kind: kind, Frame: frame})
	return nil
}

// shedTypingLocked drops the oldest queued typing action. Reports
// whether a slot was freed.
func (c *Coordinator) shedTypingLocked() bool {
	for i, a := range c.queue {
		if a.Kind == ActionTyping {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			return true
		}
	}
	return false
}

// QueueLen reports the number of pending actions.
func (c *Coordinator) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// HandleState reacts to transport transitions: drops arm the resume
// reconciliation, reaching Connected flushes the queue.
func (c *Coordinator) HandleState(st transport.State) {
	switch st {
	case transport.StateReconnecting, transport.StateDisconnected:
		c.mu.Lock()
		c.sawDrop = true
		c.mu.Unlock()
	case transport.StateConnected:
		c.flush()
	case transport.StateConnecting:
	}
}

// flush drains the queue in FIFO order. New actions dispatched while a
// flush is in progress are queued behind the pending ones, preserving
// user-intended ordering end to end.
func (c *Coordinator) flush() {
	c.mu.Lock()
	if c.flushing {
		c.mu.Unlock()
		return
	}
	c.flushing = true
	resume := c.sawDrop
	c.sawDrop = false
	c.mu.Unlock()

	l := log.With("coordinator")

	for {
		c.mu.Lock()
		if len(c.queue) == 0 {
			c.flushing = false
			c.mu.Unlock()
			break
		}
		a := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()

		if err := c.sender.Send(a.Frame); err != nil {
			// Dropped again mid-flush; put the action back at the
			// front and wait for the next Connected transition.
			c.mu.Lock()
			c.queue = append([]Action{a}, c.queue...)
			c.flushing = false
			c.mu.Unlock()
			l.Warn().Err(err).Int("pending", c.QueueLen()).Msg("flush interrupted")
			return
		}
	}

	if resume && c.onResume != nil {
		c.onResume()
	}
}
