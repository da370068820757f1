package bus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/basket/nullclaw/internal/channels"
	"github.com/basket/nullclaw/internal/shared"
)

// Shutdown is the process-global shutdown flag. The dispatcher loop checks
// it alongside its own stop flag on every iteration.
var Shutdown atomic.Bool

// DispatchCounters are the atomic outcome counters for the dispatcher loop.
type DispatchCounters struct {
	Dispatched      atomic.Int64
	Errors          atomic.Int64
	ChannelNotFound atomic.Int64
}

// Dispatcher is the single consumer of the outbox. It routes each message
// to the channel transport registered under the message's channel name.
// Send failures are isolated: they count as errors and never stop the loop.
type Dispatcher struct {
	outbox   *Outbox
	registry *channels.Registry
	logger   *slog.Logger

	stop     *StopFlag
	counters DispatchCounters
	wg       sync.WaitGroup
}

// NewDispatcher wires a dispatcher to an outbox and a channel registry.
func NewDispatcher(outbox *Outbox, registry *channels.Registry, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		outbox:   outbox,
		registry: registry,
		logger:   logger,
	}
	d.stop = NewStopFlag(outbox)
	return d
}

// Counters exposes the dispatch outcome counters.
func (d *Dispatcher) Counters() *DispatchCounters { return &d.counters }

// Start launches the dispatcher loop in its own goroutine.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.loop(ctx)
	}()
}

// Stop requests the loop to exit and waits for it. Pending messages are not
// drained on Stop; use Close on the outbox to drain-then-exit instead.
func (d *Dispatcher) Stop() {
	d.stop.Stop()
	d.wg.Wait()
}

// Wait blocks until the loop exits (after the outbox closes and drains).
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// loop drains the outbox until it is closed and empty, a stop is requested,
// or the global shutdown flag rises.
func (d *Dispatcher) loop(ctx context.Context) {
	for {
		if d.stop.Stopped() || Shutdown.Load() {
			return
		}
		msg, ok := d.outbox.Consume(d.stop)
		if !ok {
			return
		}
		d.dispatch(ctx, msg)
	}
}

// dispatch routes one message. Outbound content is redacted before it
// leaves the process.
func (d *Dispatcher) dispatch(ctx context.Context, msg OutboundMessage) {
	ch, ok := d.registry.Get(msg.Channel)
	if !ok {
		d.counters.ChannelNotFound.Add(1)
		d.logger.Warn("outbound channel not registered", "channel", msg.Channel)
		return
	}

	content := shared.Redact(msg.Content)
	if err := ch.Send(ctx, msg.ChatID, content); err != nil {
		d.counters.Errors.Add(1)
		d.logger.Error("channel send failed",
			"channel", msg.Channel, "chat_id", msg.ChatID, "error", err)
		return
	}
	d.counters.Dispatched.Add(1)
}
