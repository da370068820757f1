package bus

import (
	"errors"
	"sync"
)

// ErrBusClosed is returned by Publish after Close.
var ErrBusClosed = errors.New("bus: closed")

// OutboundMessage is an agent reply (or cron/tool output) bound for a
// channel transport. Ownership transfers to the outbox on publish and to
// the consumer on pop.
type OutboundMessage struct {
	Channel  string
	ChatID   string
	Content  string
	Metadata map[string]string
}

// Outbox is the outbound message queue: many producers, one consumer.
// Publish never blocks on dispatch outcome; Consume blocks until a message
// arrives, the outbox closes, or the caller cancels via Stop.
type Outbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []OutboundMessage
	closed bool
}

// NewOutbox creates an open outbox.
func NewOutbox() *Outbox {
	o := &Outbox{}
	o.cond = sync.NewCond(&o.mu)
	return o
}

// Publish enqueues a message. It fails with ErrBusClosed after Close and
// otherwise never blocks.
func (o *Outbox) Publish(msg OutboundMessage) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrBusClosed
	}
	o.queue = append(o.queue, msg)
	o.cond.Signal()
	return nil
}

// Consume pops the next message in FIFO order. It blocks while the outbox
// is open and empty, and returns ok=false only when the outbox is closed
// AND drained. cancel is an optional per-consumer stop flag checked on
// every wakeup; a cancelled consumer returns ok=false immediately.
func (o *Outbox) Consume(cancel *StopFlag) (OutboundMessage, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for {
		if cancel != nil && cancel.Stopped() {
			return OutboundMessage{}, false
		}
		if len(o.queue) > 0 {
			msg := o.queue[0]
			o.queue = o.queue[1:]
			return msg, true
		}
		if o.closed {
			return OutboundMessage{}, false
		}
		o.cond.Wait()
	}
}

// Close shuts the outbox. Pending messages remain consumable; Close is
// idempotent.
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	o.cond.Broadcast()
}

// Len returns the number of queued messages.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}

// Closed reports whether Close was called.
func (o *Outbox) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// StopFlag is an atomic stop request shared between a loop and its owner.
type StopFlag struct {
	mu      sync.Mutex
	stopped bool
	waiters []*Outbox
}

// NewStopFlag creates an unset flag bound to the outboxes it must wake.
func NewStopFlag(wake ...*Outbox) *StopFlag {
	return &StopFlag{waiters: wake}
}

// Stop sets the flag and wakes any consumer blocked on a bound outbox.
func (f *StopFlag) Stop() {
	f.mu.Lock()
	f.stopped = true
	waiters := f.waiters
	f.mu.Unlock()
	for _, o := range waiters {
		o.mu.Lock()
		o.cond.Broadcast()
		o.mu.Unlock()
	}
}

// Stopped reports whether Stop was called.
func (f *StopFlag) Stopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}
