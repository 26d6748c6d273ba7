package coordinator

import (
	"errors"
	"sync"
	"testing"

	"github.com/eveneto/chatcore/internal/domain"
	"github.com/eveneto/chatcore/internal/transport"
)

// fakeSender records sent frames and lets tests flip the connection
// state.
type fakeSender struct {
	mu    sync.Mutex
	state transport.State
	sent  []interface{}
	fail  bool
}

func (f *fakeSender) Send(frame interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail || f.state != transport.StateConnected {
		return transport.ErrNotConnected
	}
	f.sent = append(f.sent, frame)
	return nil
}

func (f *fakeSender) State() transport.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSender) setState(st transport.State) {
	f.mu.Lock()
	f.state = st
	f.mu.Unlock()
}

func (f *fakeSender) frames() []interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]interface{}, len(f.sent))
	copy(out, f.sent)
	return out
}

func TestDirectSendWhenConnected(t *testing.T) {
	sender := &fakeSender{state: transport.StateConnected}
	c := New(8, sender, nil)

	frame := domain.NewSendMessageFrame("hi", domain.MessageText, "")
	if err := c.Dispatch(ActionSend, frame); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if len(sender.frames()) != 1 {
		t.Fatal("expected direct send")
	}
	if c.QueueLen() != 0 {
		t.Error("nothing should be queued")
	}
}

func TestReconnectFlushOrder(t *testing.T) {
	sender := &fakeSender{state: transport.StateDisconnected}
	c := New(8, sender, nil)

	sendA := domain.NewSendMessageFrame("A", domain.MessageText, "")
	typing := domain.NewTypingFrame(true)
	sendB := domain.NewSendMessageFrame("B", domain.MessageText, "")

	if err := c.Dispatch(ActionSend, sendA); err != nil {
		t.Fatalf("queue send A: %v", err)
	}
	if err := c.Dispatch(ActionTyping, typing); err != nil {
		t.Fatalf("queue typing: %v", err)
	}
	if err := c.Dispatch(ActionSend, sendB); err != nil {
		t.Fatalf("queue send B: %v", err)
	}

	sender.setState(transport.StateConnected)
	c.HandleState(transport.StateConnected)

	frames := sender.frames()
	if len(frames) != 3 {
		t.Fatalf("expected 3 flushed frames, got %d", len(frames))
	}
	if frames[0] != sendA || frames[1] != typing || frames[2] != sendB {
		t.Errorf("flush violated submission order: %+v", frames)
	}
}

func TestBackpressure(t *testing.T) {
	sender := &fakeSender{state: transport.StateDisconnected}
	c := New(2, sender, nil)

	if err := c.Dispatch(ActionSend, domain.NewSendMessageFrame("A", domain.MessageText, "")); err != nil {
		t.Fatalf("send A: %v", err)
	}
	if err := c.Dispatch(ActionSend, domain.NewSendMessageFrame("B", domain.MessageText, "")); err != nil {
		t.Fatalf("send B: %v", err)
	}

	err := c.Dispatch(ActionSend, domain.NewSendMessageFrame("C", domain.MessageText, ""))
	if !errors.Is(err, domain.ErrBackpressure) {
		t.Fatalf("expected ErrBackpressure, got %v", err)
	}
	if c.QueueLen() != 2 {
		t.Errorf("rejected send must not occupy a slot, queue len %d", c.QueueLen())
	}
}

func TestTypingShedFirst(t *testing.T) {
	sender := &fakeSender{state: transport.StateDisconnected}
	c := New(2, sender, nil)

	typing := domain.NewTypingFrame(true)
	sendA := domain.NewSendMessageFrame("A", domain.MessageText, "")
	sendB := domain.NewSendMessageFrame("B", domain.MessageText, "")

	c.Dispatch(ActionTyping, typing)
	c.Dispatch(ActionSend, sendA)

	// Queue is full; the typing action makes room for the send.
	if err := c.Dispatch(ActionSend, sendB); err != nil {
		t.Fatalf("expected typing to be shed, got %v", err)
	}

	sender.setState(transport.StateConnected)
	c.HandleState(transport.StateConnected)

	frames := sender.frames()
	if len(frames) != 2 || frames[0] != sendA || frames[1] != sendB {
		t.Errorf("expected sends only, in order: %+v", frames)
	}
}

func TestOverflowTypingDroppedSilently(t *testing.T) {
	sender := &fakeSender{state: transport.StateDisconnected}
	c := New(1, sender, nil)

	c.Dispatch(ActionSend, domain.NewSendMessageFrame("A", domain.MessageText, ""))

	if err := c.Dispatch(ActionTyping, domain.NewTypingFrame(true)); err != nil {
		t.Fatalf("typing overflow must be silent, got %v", err)
	}
	if c.QueueLen() != 1 {
		t.Errorf("typing must not displace a send, queue len %d", c.QueueLen())
	}
}

func TestResumeCallbackAfterDrop(t *testing.T) {
	sender := &fakeSender{state: transport.StateConnected}
	resumed := 0
	c := New(8, sender, func() { resumed++ })

	// First Connected without a preceding drop: no reconcile.
	c.HandleState(transport.StateConnected)
	if resumed != 0 {
		t.Fatal("resume must only fire after a drop")
	}

	sender.setState(transport.StateReconnecting)
	c.HandleState(transport.StateReconnecting)
	sender.setState(transport.StateConnected)
	c.HandleState(transport.StateConnected)

	if resumed != 1 {
		t.Errorf("expected one resume, got %d", resumed)
	}
}

func TestFlushInterruptedRequeues(t *testing.T) {
	sender := &fakeSender{state: transport.StateDisconnected}
	c := New(8, sender, nil)

	sendA := domain.NewSendMessageFrame("A", domain.MessageText, "")
	sendB := domain.NewSendMessageFrame("B", domain.MessageText, "")
	c.Dispatch(ActionSend, sendA)
	c.Dispatch(ActionSend, sendB)

	// Connection claims Connected but sends still fail.
	sender.mu.Lock()
	sender.state = transport.StateConnected
	sender.fail = true
	sender.mu.Unlock()
	c.HandleState(transport.StateConnected)

	if c.QueueLen() != 2 {
		t.Fatalf("failed flush must requeue, len %d", c.QueueLen())
	}

	sender.mu.Lock()
	sender.fail = false
	sender.mu.Unlock()
	c.HandleState(transport.StateConnected)

	frames := sender.frames()
	if len(frames) != 2 || frames[0] != sendA || frames[1] != sendB {
		t.Errorf("requeue lost order: %+v", frames)
	}
}
