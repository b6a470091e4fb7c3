// Package service implements business logic, validation, and orchestration
// between HTTP handlers, the scheduler and the repository layer.
package service

import (
	"context"
	"errors"

	"github.com/hackletloose/hall-events/internal/model"
)

// ErrInvalidInput is wrapped by every validation failure.
var ErrInvalidInput = errors.New("invalid input")

// Notifier receives allocation and event outcomes after they are committed.
// Implementations must not block for long; errors are logged by the caller.
type Notifier interface {
	SignupRequested(ctx context.Context, outcome model.SignupOutcome) error
	SignupCancelled(ctx context.Context, outcome model.CancelOutcome) error
	SignupPromoted(ctx context.Context, signup model.Signup) error
	EventPublished(ctx context.Context, event model.Event) error
	EventReminder(ctx context.Context, event model.Event, active []model.Signup) error
}

type nopNotifier struct{}

func (nopNotifier) SignupRequested(context.Context, model.SignupOutcome) error { return nil }
func (nopNotifier) SignupCancelled(context.Context, model.CancelOutcome) error { return nil }
func (nopNotifier) SignupPromoted(context.Context, model.Signup) error         { return nil }
func (nopNotifier) EventPublished(context.Context, model.Event) error          { return nil }
func (nopNotifier) EventReminder(context.Context, model.Event, []model.Signup) error {
	return nil
}

func orNop(n Notifier) Notifier {
	if n == nil {
		return nopNotifier{}
	}
	return n
}
