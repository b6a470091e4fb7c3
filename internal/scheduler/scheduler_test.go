package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hackletloose/hall-events/internal/config"
	"github.com/hackletloose/hall-events/internal/model"
)

type fakeJobs struct {
	spawnAt      time.Time
	remindAt     time.Time
	lead, window time.Duration
	err          error
}

func (f *fakeJobs) SpawnRecurrences(_ context.Context, now time.Time) ([]model.Event, error) {
	f.spawnAt = now
	return []model.Event{{ID: "next"}}, f.err
}

func (f *fakeJobs) SendReminders(_ context.Context, now time.Time, lead, window time.Duration) (int, error) {
	f.remindAt, f.lead, f.window = now, lead, window
	return 1, f.err
}

func testConfig() config.SchedulerConfig {
	return config.SchedulerConfig{
		Enabled:        true,
		RecurrenceSpec: "@every 30m",
		ReminderSpec:   "@every 30m",
		ReminderLead:   24 * time.Hour,
		ReminderWindow: 15 * time.Minute,
	}
}

func TestRunJobsPassClockAndWindow(t *testing.T) {
	jobs := &fakeJobs{}
	s := New(testConfig(), jobs)
	fixed := time.Date(2026, time.May, 2, 18, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	s.RunRecurrences()
	s.RunReminders()

	if !jobs.spawnAt.Equal(fixed) || !jobs.remindAt.Equal(fixed) {
		t.Errorf("jobs ran at %v / %v, want %v", jobs.spawnAt, jobs.remindAt, fixed)
	}
	if jobs.lead != 24*time.Hour || jobs.window != 15*time.Minute {
		t.Errorf("lead/window = %v/%v", jobs.lead, jobs.window)
	}

	// Failures are logged, not propagated.
	jobs.err = errors.New("db down")
	s.RunRecurrences()
	s.RunReminders()
}

func TestStartRejectsBadSpec(t *testing.T) {
	cfg := testConfig()
	cfg.ReminderSpec = "every now and then"
	s := New(cfg, &fakeJobs{})
	if err := s.Start(); err == nil {
		t.Fatal("Start should reject an invalid cron spec")
	}
}

func TestStartStop(t *testing.T) {
	s := New(testConfig(), &fakeJobs{})
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if n := len(s.cron.Entries()); n != 2 {
		t.Errorf("entries = %d, want 2", n)
	}
	s.Stop()
}
