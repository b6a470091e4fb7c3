// Package scheduler runs the periodic recurrence and reminder jobs.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/hackletloose/hall-events/internal/config"
	"github.com/hackletloose/hall-events/internal/model"
	"github.com/hackletloose/hall-events/pkg/logger"
	"github.com/robfig/cron/v3"
)

// Jobs is implemented by service.EventService.
type Jobs interface {
	SpawnRecurrences(ctx context.Context, now time.Time) ([]model.Event, error)
	SendReminders(ctx context.Context, now time.Time, lead, window time.Duration) (int, error)
}

// Scheduler owns the cron instance driving Jobs.
type Scheduler struct {
	cfg  config.SchedulerConfig
	jobs Jobs
	cron *cron.Cron
	now  func() time.Time
}

// New builds a scheduler. Runs that overlap a still-running job are skipped.
func New(cfg config.SchedulerConfig, jobs Jobs) *Scheduler {
	l := cronLogger{}
	return &Scheduler{
		cfg:  cfg,
		jobs: jobs,
		cron: cron.New(
			cron.WithLogger(l),
			cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
		),
		now: time.Now,
	}
}

// Start registers both jobs and starts the cron loop.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.cfg.RecurrenceSpec, s.RunRecurrences); err != nil {
		return fmt.Errorf("schedule recurrences %q: %w", s.cfg.RecurrenceSpec, err)
	}
	if _, err := s.cron.AddFunc(s.cfg.ReminderSpec, s.RunReminders); err != nil {
		return fmt.Errorf("schedule reminders %q: %w", s.cfg.ReminderSpec, err)
	}
	s.cron.Start()
	logger.Info().
		Str("recurrence_spec", s.cfg.RecurrenceSpec).
		Str("reminder_spec", s.cfg.ReminderSpec).
		Msg("scheduler started")
	return nil
}

// Stop stops the cron loop and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	logger.Info().Msg("scheduler stopped")
}

// RunRecurrences spawns due follow-up events once.
func (s *Scheduler) RunRecurrences() {
	spawned, err := s.jobs.SpawnRecurrences(context.Background(), s.now())
	if err != nil {
		logger.Error().Err(err).Msg("recurrence run failed")
	}
	if len(spawned) > 0 {
		logger.Info().Int("spawned", len(spawned)).Msg("recurrence run complete")
	}
}

// RunReminders sends due reminders once.
func (s *Scheduler) RunReminders() {
	sent, err := s.jobs.SendReminders(context.Background(), s.now(), s.cfg.ReminderLead, s.cfg.ReminderWindow)
	if err != nil {
		logger.Error().Err(err).Msg("reminder run failed")
	}
	if sent > 0 {
		logger.Info().Int("sent", sent).Msg("reminder run complete")
	}
}

// cronLogger adapts the zerolog global to cron.Logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	logger.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	logger.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
