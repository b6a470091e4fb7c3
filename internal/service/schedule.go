package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hackletloose/hall-events/internal/model"
	"github.com/hackletloose/hall-events/internal/repository"
	"github.com/hackletloose/hall-events/pkg/logger"
)

// SpawnRecurrences creates the follow-up occurrence of every recurring event
// that has started. Each source spawns at most one successor; failures are
// collected and the remaining events are still processed.
func (s *EventService) SpawnRecurrences(ctx context.Context, now time.Time) ([]model.Event, error) {
	due, err := s.store.ListRecurrencesDue(ctx, now)
	if err != nil {
		return nil, err
	}

	var (
		spawned []model.Event
		errs    []error
	)
	for _, src := range due {
		next, err := s.spawnNext(ctx, src.ID)
		if err != nil {
			logger.Error().Err(err).Str("event_id", src.ID).Msg("spawn recurrence failed")
			errs = append(errs, fmt.Errorf("spawn %s: %w", src.ID, err))
			continue
		}
		if next == nil {
			continue
		}
		spawned = append(spawned, *next)
		logger.Info().
			Str("event_id", next.ID).
			Str("source_id", src.ID).
			Time("starts_at", next.StartsAt).
			Msg("recurring event spawned")
		if err := s.notifier.EventPublished(ctx, *next); err != nil {
			logger.Warn().Err(err).Str("event_id", next.ID).Msg("publish notification failed")
		}
	}
	return spawned, errors.Join(errs...)
}

func (s *EventService) spawnNext(ctx context.Context, sourceID string) (*model.Event, error) {
	var next *model.Event
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		src, err := tx.LockEvent(ctx, sourceID)
		if err != nil {
			return err
		}
		if src.SpawnedNext || !src.Recurrence.Recurring() {
			return nil
		}

		now := s.now().UTC()
		e := *src
		e.ID = uuid.New().String()
		e.StartsAt = src.Recurrence.Next(src.StartsAt)
		e.BriefingAt = shift(src.Recurrence, src.BriefingAt)
		e.GameStartsAt = shift(src.Recurrence, src.GameStartsAt)
		e.SpawnedNext = false
		e.ReminderSent = false
		e.CreatedAt = now
		e.UpdatedAt = now
		if err := tx.CreateEvent(ctx, &e); err != nil {
			return err
		}
		if err := tx.MarkSpawned(ctx, src.ID); err != nil {
			return err
		}
		next = &e
		return nil
	})
	return next, err
}

func shift(r model.Recurrence, t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	n := r.Next(*t)
	return &n
}

// SendReminders notifies the active roster of every event starting within
// window of now+lead and marks those events so they are reminded once.
// It returns the number of reminders sent.
func (s *EventService) SendReminders(ctx context.Context, now time.Time, lead, window time.Duration) (int, error) {
	target := now.Add(lead)
	due, err := s.store.ListRemindersDue(ctx, target.Add(-window), target.Add(window))
	if err != nil {
		return 0, err
	}

	sent := 0
	var errs []error
	for _, event := range due {
		active, err := s.store.ListSignups(ctx, event.ID, model.StatusActive)
		if err != nil {
			errs = append(errs, fmt.Errorf("remind %s: %w", event.ID, err))
			continue
		}
		if err := s.notifier.EventReminder(ctx, event, active); err != nil {
			logger.Warn().Err(err).Str("event_id", event.ID).Msg("reminder notification failed")
			continue
		}
		if err := s.store.MarkReminderSent(ctx, event.ID); err != nil {
			errs = append(errs, fmt.Errorf("remind %s: %w", event.ID, err))
			continue
		}
		sent++
		logger.Info().Str("event_id", event.ID).Int("recipients", len(active)).Msg("reminder sent")
	}
	return sent, errors.Join(errs...)
}
