package notify

import (
	"context"

	"github.com/hackletloose/hall-events/internal/model"
	"github.com/hackletloose/hall-events/pkg/logger"
)

// LogNotifier writes every outcome to the structured log. It is used when no
// task queue is configured.
type LogNotifier struct{}

func (LogNotifier) SignupRequested(_ context.Context, o model.SignupOutcome) error {
	logger.Info().
		Str("type", TypeSignupRequested).
		Str("event_id", o.Signup.EventID).
		Str("user_id", o.Signup.UserID).
		Str("role", string(o.Signup.Role)).
		Str("status", string(o.Status)).
		Msg("notify")
	return nil
}

func (LogNotifier) SignupCancelled(_ context.Context, o model.CancelOutcome) error {
	logger.Info().
		Str("type", TypeSignupCancelled).
		Str("event_id", o.Cancelled.EventID).
		Str("user_id", o.Cancelled.UserID).
		Msg("notify")
	return nil
}

func (LogNotifier) SignupPromoted(_ context.Context, s model.Signup) error {
	logger.Info().
		Str("type", TypeSignupPromoted).
		Str("event_id", s.EventID).
		Str("user_id", s.UserID).
		Str("role", string(s.Role)).
		Msg("notify")
	return nil
}

func (LogNotifier) EventPublished(_ context.Context, e model.Event) error {
	logger.Info().
		Str("type", TypeEventPublished).
		Str("event_id", e.ID).
		Str("name", e.Name).
		Time("starts_at", e.StartsAt).
		Msg("notify")
	return nil
}

func (LogNotifier) EventReminder(_ context.Context, e model.Event, active []model.Signup) error {
	logger.Info().
		Str("type", TypeEventReminder).
		Str("event_id", e.ID).
		Int("recipients", len(active)).
		Msg("notify")
	return nil
}

// Close is a no-op.
func (LogNotifier) Close() error { return nil }
