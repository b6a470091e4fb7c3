package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hackletloose/hall-events/internal/model"
	"github.com/hackletloose/hall-events/internal/repository"
	"github.com/hackletloose/hall-events/pkg/logger"
)

const maxSquadsPerRole = 50

// EventService orchestrates event configuration, recurrence and reminders.
type EventService struct {
	store    repository.Store
	notifier Notifier
	now      func() time.Time
}

// NewEventService constructs an EventService with its dependencies.
func NewEventService(store repository.Store, notifier Notifier) *EventService {
	return &EventService{store: store, notifier: orNop(notifier), now: time.Now}
}

// CreateEvent validates the input and stores a new event under a fresh id.
func (s *EventService) CreateEvent(ctx context.Context, in model.EventInput) (*model.Event, error) {
	in, err := normalizeEventInput(in)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	event := eventFromInput(in)
	event.ID = uuid.New().String()
	event.CreatedAt = now
	event.UpdatedAt = now

	if err := s.store.CreateEvent(ctx, &event); err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}
	logger.Info().Str("event_id", event.ID).Str("name", event.Name).Msg("event created")
	if err := s.notifier.EventPublished(ctx, event); err != nil {
		logger.Warn().Err(err).Str("event_id", event.ID).Msg("publish notification failed")
	}
	return &event, nil
}

// ListEvents returns all events.
func (s *EventService) ListEvents(ctx context.Context) ([]model.Event, error) {
	return s.store.ListEvents(ctx)
}

// GetEvent returns a single event by ID.
func (s *EventService) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: event id is required", ErrInvalidInput)
	}
	return s.store.GetEvent(ctx, id)
}

// UpdateEvent replaces the event's configuration and, in the same
// transaction, fills any slots the new configuration opened from the waiting
// queues. Active entries above a reduced capacity keep their slot.
func (s *EventService) UpdateEvent(ctx context.Context, id string, in model.EventInput) (*model.UpdateOutcome, error) {
	in, err := normalizeEventInput(in)
	if err != nil {
		return nil, err
	}

	var outcome model.UpdateOutcome
	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		current, err := tx.LockEvent(ctx, id)
		if err != nil {
			return err
		}
		event := eventFromInput(in)
		event.ID = current.ID
		event.SpawnedNext = current.SpawnedNext
		event.ReminderSent = current.ReminderSent && event.StartsAt.Equal(current.StartsAt)
		event.CreatedAt = current.CreatedAt
		if err := tx.UpdateEvent(ctx, &event); err != nil {
			return err
		}

		promoted, err := rebalance(ctx, tx, &event)
		if err != nil {
			return err
		}
		outcome = model.UpdateOutcome{Event: event, Promoted: promoted}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info().Str("event_id", id).Int("promoted", len(outcome.Promoted)).Msg("event updated")
	for _, su := range outcome.Promoted {
		notifyPromoted(ctx, s.notifier, su)
	}
	return &outcome, nil
}

// rebalance promotes waiting entries, oldest first, into every bucket with
// free slots. It must run under the event lock.
func rebalance(ctx context.Context, tx repository.Tx, event *model.Event) ([]model.Signup, error) {
	promoted := []model.Signup{}
	for _, side := range model.Sides {
		for _, role := range model.SlotRoles {
			for {
				next, err := promoteNext(ctx, tx, event, side, role)
				if err != nil {
					return nil, err
				}
				if next == nil {
					break
				}
				promoted = append(promoted, *next)
			}
		}
	}
	return promoted, nil
}

// DeleteEvent removes the event and its whole ledger.
func (s *EventService) DeleteEvent(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: event id is required", ErrInvalidInput)
	}
	if err := s.store.DeleteEvent(ctx, id); err != nil {
		return err
	}
	logger.Info().Str("event_id", id).Msg("event deleted")
	return nil
}

func eventFromInput(in model.EventInput) model.Event {
	return model.Event{
		Name:         in.Name,
		Description:  in.Description,
		ServerInfo:   in.ServerInfo,
		Password:     in.Password,
		Squads:       in.Squads,
		BriefingAt:   in.BriefingAt,
		StartsAt:     in.StartsAt,
		GameStartsAt: in.GameStartsAt,
		Recurrence:   in.Recurrence,
	}
}

func normalizeEventInput(in model.EventInput) (model.EventInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return in, fmt.Errorf("%w: event name is required", ErrInvalidInput)
	}
	if in.StartsAt.IsZero() {
		return in, fmt.Errorf("%w: starts_at is required", ErrInvalidInput)
	}
	in.StartsAt = in.StartsAt.UTC()
	in.BriefingAt = normalizeTime(in.BriefingAt)
	in.GameStartsAt = normalizeTime(in.GameStartsAt)

	in.Recurrence = model.Recurrence(strings.ToLower(strings.TrimSpace(string(in.Recurrence))))
	if in.Recurrence == "" {
		in.Recurrence = model.RecurrenceNone
	}
	if !in.Recurrence.Valid() {
		return in, fmt.Errorf("%w: unknown recurrence %q", ErrInvalidInput, in.Recurrence)
	}

	for _, side := range model.Sides {
		cfg := in.Squads.Side(side)
		for _, role := range model.SlotRoles {
			n := cfg.Squads(role)
			if n < 0 {
				return in, fmt.Errorf("%w: %s %s squads cannot be negative", ErrInvalidInput, side, role)
			}
			if n > maxSquadsPerRole {
				return in, fmt.Errorf("%w: %s %s squads cannot exceed %d", ErrInvalidInput, side, role, maxSquadsPerRole)
			}
		}
	}
	return in, nil
}

func normalizeTime(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
