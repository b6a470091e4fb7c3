package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hackletloose/hall-events/internal/model"
	"github.com/hackletloose/hall-events/internal/repository"
	"github.com/hackletloose/hall-events/pkg/logger"
)

const maxDisplayNameLen = 64

// SignupService is the allocation engine and the read side of the ledger.
type SignupService struct {
	store    repository.Store
	notifier Notifier
}

// NewSignupService constructs a SignupService. A nil notifier discards
// notifications.
func NewSignupService(store repository.Store, notifier Notifier) *SignupService {
	return &SignupService{store: store, notifier: orNop(notifier)}
}

// RequestSignup claims a slot in the requested bucket, or queues the user as
// waiting when the bucket is full. A role the side offers no slots for is
// queued under the waitlist role.
func (s *SignupService) RequestSignup(ctx context.Context, req model.SignupRequest) (*model.SignupOutcome, error) {
	req, err := normalizeSignupRequest(req)
	if err != nil {
		return nil, err
	}

	var outcome model.SignupOutcome
	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		event, err := tx.LockEvent(ctx, req.EventID)
		if err != nil {
			return err
		}
		open, err := tx.OpenSignup(ctx, req.EventID, req.UserID)
		if err != nil {
			return err
		}
		if open != nil {
			return repository.ErrAlreadySignedUp
		}

		signup := model.Signup{
			EventID:     req.EventID,
			UserID:      req.UserID,
			DisplayName: req.DisplayName,
			Side:        req.Side,
			Role:        req.Role,
			Status:      model.StatusWaiting,
		}
		capacity := event.Capacity(req.Side, req.Role)
		switch {
		case req.Role == model.RoleWaitlist:
		case capacity <= 0:
			signup.Role = model.RoleWaitlist
		default:
			active, err := tx.CountActive(ctx, req.EventID, req.Side, req.Role)
			if err != nil {
				return err
			}
			if active < capacity {
				signup.Status = model.StatusActive
			}
		}

		if err := tx.InsertSignup(ctx, &signup); err != nil {
			return err
		}
		outcome = model.SignupOutcome{Signup: signup, Status: signup.Status}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info().
		Str("event_id", outcome.Signup.EventID).
		Str("user_id", outcome.Signup.UserID).
		Str("side", string(outcome.Signup.Side)).
		Str("role", string(outcome.Signup.Role)).
		Str("status", string(outcome.Status)).
		Int64("signup_id", outcome.Signup.ID).
		Msg("signup recorded")
	if err := s.notifier.SignupRequested(ctx, outcome); err != nil {
		logger.Warn().Err(err).Int64("signup_id", outcome.Signup.ID).Msg("signup notification failed")
	}
	return &outcome, nil
}

// CancelSignup cancels the user's most recent active signup across all
// events and promotes the oldest waiting entry of that bucket.
func (s *SignupService) CancelSignup(ctx context.Context, userID string) (*model.CancelOutcome, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}

	var outcome *model.CancelOutcome
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		signup, err := tx.LatestActiveSignup(ctx, userID)
		if err != nil {
			return err
		}
		if signup == nil {
			return repository.ErrNotActivelySignedUp
		}
		event, err := tx.LockEvent(ctx, signup.EventID)
		if err != nil {
			return err
		}
		outcome, err = cancelAndPromote(ctx, tx, event, signup)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.cancelled(ctx, outcome)
	return outcome, nil
}

// CancelEventSignup cancels the user's active or waiting signup for one
// event. A slot freed by an active entry goes to the oldest waiting entry.
func (s *SignupService) CancelEventSignup(ctx context.Context, eventID, userID string) (*model.CancelOutcome, error) {
	userID = strings.TrimSpace(userID)
	if eventID == "" || userID == "" {
		return nil, fmt.Errorf("%w: event id and user_id are required", ErrInvalidInput)
	}

	var outcome *model.CancelOutcome
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		event, err := tx.LockEvent(ctx, eventID)
		if err != nil {
			return err
		}
		signup, err := tx.OpenSignup(ctx, eventID, userID)
		if err != nil {
			return err
		}
		if signup == nil {
			return repository.ErrNotActivelySignedUp
		}
		outcome, err = cancelAndPromote(ctx, tx, event, signup)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.cancelled(ctx, outcome)
	return outcome, nil
}

func (s *SignupService) cancelled(ctx context.Context, outcome *model.CancelOutcome) {
	ev := logger.Info().
		Str("event_id", outcome.Cancelled.EventID).
		Str("user_id", outcome.Cancelled.UserID).
		Int64("signup_id", outcome.Cancelled.ID)
	if outcome.Promoted != nil {
		ev = ev.Int64("promoted_id", outcome.Promoted.ID)
	}
	ev.Msg("signup cancelled")

	if err := s.notifier.SignupCancelled(ctx, *outcome); err != nil {
		logger.Warn().Err(err).Int64("signup_id", outcome.Cancelled.ID).Msg("cancel notification failed")
	}
	if outcome.Promoted != nil {
		notifyPromoted(ctx, s.notifier, *outcome.Promoted)
	}
}

// cancelAndPromote must run under the event lock.
func cancelAndPromote(ctx context.Context, tx repository.Tx, event *model.Event, signup *model.Signup) (*model.CancelOutcome, error) {
	from := signup.Status
	if err := tx.TransitionSignup(ctx, signup.ID, from, model.StatusCancelled); err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			return nil, repository.ErrNotActivelySignedUp
		}
		return nil, err
	}
	cancelled := *signup
	cancelled.Status = model.StatusCancelled
	outcome := &model.CancelOutcome{Cancelled: cancelled}

	if from != model.StatusActive {
		return outcome, nil
	}
	promoted, err := promoteNext(ctx, tx, event, signup.Side, signup.Role)
	if err != nil {
		return nil, err
	}
	outcome.Promoted = promoted
	return outcome, nil
}

// promoteNext moves the oldest waiting entry of the bucket to active if a
// slot is free. It returns nil when nothing moved.
func promoteNext(ctx context.Context, tx repository.Tx, event *model.Event, side model.Side, role model.Role) (*model.Signup, error) {
	capacity := event.Capacity(side, role)
	if capacity <= 0 {
		return nil, nil
	}
	active, err := tx.CountActive(ctx, event.ID, side, role)
	if err != nil {
		return nil, err
	}
	if active >= capacity {
		return nil, nil
	}
	next, err := tx.OldestWaiting(ctx, event.ID, side, role)
	if err != nil || next == nil {
		return nil, err
	}
	if err := tx.TransitionSignup(ctx, next.ID, model.StatusWaiting, model.StatusActive); err != nil {
		return nil, err
	}
	next.Status = model.StatusActive
	return next, nil
}

func notifyPromoted(ctx context.Context, n Notifier, signup model.Signup) {
	logger.Info().
		Str("event_id", signup.EventID).
		Str("user_id", signup.UserID).
		Str("side", string(signup.Side)).
		Str("role", string(signup.Role)).
		Int64("signup_id", signup.ID).
		Msg("signup promoted")
	if err := n.SignupPromoted(ctx, signup); err != nil {
		logger.Warn().Err(err).Int64("signup_id", signup.ID).Msg("promotion notification failed")
	}
}

func normalizeSignupRequest(req model.SignupRequest) (model.SignupRequest, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	if req.EventID == "" {
		return req, fmt.Errorf("%w: event id is required", ErrInvalidInput)
	}
	if req.UserID == "" {
		return req, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	if req.DisplayName == "" {
		req.DisplayName = req.UserID
	}
	if utf8.RuneCountInString(req.DisplayName) > maxDisplayNameLen {
		return req, fmt.Errorf("%w: display_name cannot exceed %d characters", ErrInvalidInput, maxDisplayNameLen)
	}

	side, err := model.ParseSide(string(req.Side))
	if err != nil {
		return req, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	role, err := model.ParseRole(string(req.Role))
	if err != nil {
		return req, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	req.Side, req.Role = side, role
	return req, nil
}
