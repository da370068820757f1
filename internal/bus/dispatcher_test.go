package bus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/basket/nullclaw/internal/channels"
)

// recordingChannel captures sends; failEvery>0 makes every Nth send fail.
type recordingChannel struct {
	name      string
	mu        sync.Mutex
	sent      []string
	failEvery int
	calls     int
}

func (c *recordingChannel) Name() string                          { return c.name }
func (c *recordingChannel) Start(ctx context.Context) error       { <-ctx.Done(); return nil }
func (c *recordingChannel) Stop() error                           { return nil }
func (c *recordingChannel) HealthCheck(ctx context.Context) error { return nil }

func (c *recordingChannel) Send(ctx context.Context, chatID, content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.failEvery > 0 && c.calls%c.failEvery == 0 {
		return fmt.Errorf("send failed")
	}
	c.sent = append(c.sent, content)
	return nil
}

func (c *recordingChannel) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

func newTestDispatcher(chs ...channels.Channel) (*Dispatcher, *Outbox) {
	reg := channels.NewRegistry()
	for _, ch := range chs {
		reg.Register(ch)
	}
	o := NewOutbox()
	return NewDispatcher(o, reg, nil), o
}

func TestDispatcher_RoutesByChannelName(t *testing.T) {
	tg := &recordingChannel{name: "telegram"}
	dc := &recordingChannel{name: "discord"}
	d, o := newTestDispatcher(tg, dc)

	d.Start(context.Background())
	_ = o.Publish(OutboundMessage{Channel: "telegram", ChatID: "1", Content: "to tg"})
	_ = o.Publish(OutboundMessage{Channel: "discord", ChatID: "2", Content: "to dc"})
	o.Close()
	d.Wait()

	if got := tg.messages(); len(got) != 1 || got[0] != "to tg" {
		t.Fatalf("telegram got %v", got)
	}
	if got := dc.messages(); len(got) != 1 || got[0] != "to dc" {
		t.Fatalf("discord got %v", got)
	}
	if d.Counters().Dispatched.Load() != 2 {
		t.Fatalf("dispatched = %d, want 2", d.Counters().Dispatched.Load())
	}
}

func TestDispatcher_UnknownChannelCounted(t *testing.T) {
	d, o := newTestDispatcher(&recordingChannel{name: "telegram"})
	d.Start(context.Background())

	_ = o.Publish(OutboundMessage{Channel: "missing", Content: "x"})
	_ = o.Publish(OutboundMessage{Channel: "telegram", Content: "y"})
	o.Close()
	d.Wait()

	c := d.Counters()
	if c.ChannelNotFound.Load() != 1 || c.Dispatched.Load() != 1 {
		t.Fatalf("counters = notfound:%d dispatched:%d", c.ChannelNotFound.Load(), c.Dispatched.Load())
	}
}

func TestDispatcher_SendErrorsIsolated(t *testing.T) {
	flaky := &recordingChannel{name: "flaky", failEvery: 2}
	d, o := newTestDispatcher(flaky)
	d.Start(context.Background())

	for i := 0; i < 6; i++ {
		_ = o.Publish(OutboundMessage{Channel: "flaky", Content: fmt.Sprintf("m%d", i)})
	}
	o.Close()
	d.Wait()

	c := d.Counters()
	if c.Errors.Load() != 3 || c.Dispatched.Load() != 3 {
		t.Fatalf("counters = errors:%d dispatched:%d, want 3/3", c.Errors.Load(), c.Dispatched.Load())
	}
	if len(flaky.messages()) != 3 {
		t.Fatalf("delivered %d messages, want 3", len(flaky.messages()))
	}
}

func TestDispatcher_DrainsThenExitsOnClose(t *testing.T) {
	ch := &recordingChannel{name: "c"}
	d, o := newTestDispatcher(ch)

	// Publish everything before the loop starts, then close: the loop must
	// still drain all pending messages before exiting.
	for i := 0; i < 20; i++ {
		_ = o.Publish(OutboundMessage{Channel: "c", Content: fmt.Sprintf("m%d", i)})
	}
	o.Close()

	d.Start(context.Background())
	done := make(chan struct{})
	go func() { d.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not exit after close")
	}
	if got := len(ch.messages()); got != 20 {
		t.Fatalf("drained %d messages, want 20", got)
	}
}

func TestDispatcher_StopExitsPromptly(t *testing.T) {
	d, _ := newTestDispatcher(&recordingChannel{name: "c"})
	d.Start(context.Background())

	done := make(chan struct{})
	go func() { d.Stop(); close(done) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func TestDispatcher_OrderPreserved(t *testing.T) {
	ch := &recordingChannel{name: "c"}
	d, o := newTestDispatcher(ch)
	d.Start(context.Background())

	var want []string
	for i := 0; i < 50; i++ {
		m := fmt.Sprintf("m%d", i)
		want = append(want, m)
		_ = o.Publish(OutboundMessage{Channel: "c", Content: m})
	}
	o.Close()
	d.Wait()

	got := ch.messages()
	if len(got) != len(want) {
		t.Fatalf("got %d messages, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order broken at %d: %q != %q", i, got[i], want[i])
		}
	}
}

func TestDispatcher_RedactsOutboundContent(t *testing.T) {
	ch := &recordingChannel{name: "c"}
	d, o := newTestDispatcher(ch)
	d.Start(context.Background())

	_ = o.Publish(OutboundMessage{Channel: "c", Content: "token: Bearer abcdef1234567890abcdef"})
	o.Close()
	d.Wait()

	got := ch.messages()
	if len(got) != 1 {
		t.Fatalf("got %d messages", len(got))
	}
	if strings.Contains(got[0], "abcdef1234567890abcdef") {
		t.Fatalf("secret leaked: %q", got[0])
	}
}
