// Package cron fires configured schedules by publishing outbound messages
// to the dispatch bus. Each schedule is a producer like any other.
package cron

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/basket/nullclaw/internal/bus"
	"github.com/basket/nullclaw/internal/config"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// schedule is one loaded cron entry with its next fire time.
type schedule struct {
	cfg     config.ScheduleConfig
	expr    cronlib.Schedule
	nextRun time.Time
}

// Scheduler ticks once a minute (configurable), firing due schedules into
// the outbox.
type Scheduler struct {
	outbox   *bus.Outbox
	logger   *slog.Logger
	interval time.Duration

	mu        sync.Mutex
	schedules []*schedule

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler parses the configured schedules. Entries with invalid cron
// expressions are skipped with a log line.
func NewScheduler(entries []config.ScheduleConfig, outbox *bus.Outbox, logger *slog.Logger, interval time.Duration) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	s := &Scheduler{outbox: outbox, logger: logger, interval: interval}

	now := time.Now()
	for _, entry := range entries {
		expr, err := cronParser.Parse(entry.CronExpr)
		if err != nil {
			logger.Error("cron: invalid expression, schedule skipped",
				"schedule", entry.Name, "cron", entry.CronExpr, "error", err)
			continue
		}
		s.schedules = append(s.schedules, &schedule{
			cfg:     entry,
			expr:    expr,
			nextRun: expr.Next(now),
		})
	}
	return s
}

// ScheduleCount returns the number of loaded schedules.
func (s *Scheduler) ScheduleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.schedules)
}

// Start begins the scheduler loop in a background goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("cron scheduler started",
		"schedules", s.ScheduleCount(), "interval", s.interval)
}

// Stop cancels the scheduler loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("cron scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(time.Now())
		}
	}
}

// Tick fires every schedule whose next run is due at or before now.
func (s *Scheduler) Tick(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sched := range s.schedules {
		if sched.nextRun.After(now) {
			continue
		}
		s.fire(sched)
		sched.nextRun = sched.expr.Next(now)
	}
}

// fire publishes the schedule's outbound message. A closed outbox is not an
// error worth retrying; it means the daemon is shutting down.
func (s *Scheduler) fire(sched *schedule) {
	msg := bus.OutboundMessage{
		Channel: sched.cfg.Channel,
		ChatID:  sched.cfg.ChatID,
		Content: sched.cfg.Message,
		Metadata: map[string]string{
			"origin":   "cron",
			"schedule": sched.cfg.Name,
		},
	}
	if err := s.outbox.Publish(msg); err != nil {
		s.logger.Warn("cron: outbox closed, schedule not fired", "schedule", sched.cfg.Name)
		return
	}
	s.logger.Info("cron: schedule fired",
		"schedule", sched.cfg.Name, "channel", sched.cfg.Channel, "next_run", sched.nextRun)
}
