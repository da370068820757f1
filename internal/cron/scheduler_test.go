package cron

import (
	"testing"
	"time"

	"github.com/basket/nullclaw/internal/bus"
	"github.com/basket/nullclaw/internal/config"
)

func TestScheduler_SkipsInvalidExpressions(t *testing.T) {
	o := bus.NewOutbox()
	s := NewScheduler([]config.ScheduleConfig{
		{Name: "ok", CronExpr: "*/5 * * * *", Channel: "c"},
		{Name: "broken", CronExpr: "not a cron", Channel: "c"},
	}, o, nil, time.Minute)

	if s.ScheduleCount() != 1 {
		t.Fatalf("schedules = %d, want 1", s.ScheduleCount())
	}
}

func TestScheduler_FiresDueSchedules(t *testing.T) {
	o := bus.NewOutbox()
	s := NewScheduler([]config.ScheduleConfig{
		{Name: "hourly", CronExpr: "0 * * * *", Channel: "telegram", ChatID: "42", Message: "ping"},
	}, o, nil, time.Minute)

	// Not due yet: nextRun is in the future relative to load time.
	s.Tick(time.Now())
	if o.Len() != 0 {
		t.Fatalf("fired early: %d messages", o.Len())
	}

	// Jump past the next run.
	s.Tick(time.Now().Add(2 * time.Hour))
	if o.Len() != 1 {
		t.Fatalf("messages = %d, want 1", o.Len())
	}

	msg, ok := o.Consume(nil)
	if !ok {
		t.Fatal("no message")
	}
	if msg.Channel != "telegram" || msg.ChatID != "42" || msg.Content != "ping" {
		t.Fatalf("msg = %+v", msg)
	}
	if msg.Metadata["origin"] != "cron" || msg.Metadata["schedule"] != "hourly" {
		t.Fatalf("metadata = %v", msg.Metadata)
	}
}

func TestScheduler_NoDoubleFireWithinWindow(t *testing.T) {
	o := bus.NewOutbox()
	s := NewScheduler([]config.ScheduleConfig{
		{Name: "hourly", CronExpr: "0 * * * *", Channel: "c", Message: "x"},
	}, o, nil, time.Minute)

	fireAt := time.Now().Add(2 * time.Hour)
	s.Tick(fireAt)
	s.Tick(fireAt.Add(time.Second)) // same hour again: nextRun already advanced
	if o.Len() != 1 {
		t.Fatalf("messages = %d, want 1", o.Len())
	}
}

func TestScheduler_ClosedOutboxIsNotFatal(t *testing.T) {
	o := bus.NewOutbox()
	s := NewScheduler([]config.ScheduleConfig{
		{Name: "hourly", CronExpr: "0 * * * *", Channel: "c", Message: "x"},
	}, o, nil, time.Minute)
	o.Close()

	// Must not panic; the schedule still advances.
	s.Tick(time.Now().Add(2 * time.Hour))
	if o.Len() != 0 {
		t.Fatalf("messages = %d", o.Len())
	}
}
