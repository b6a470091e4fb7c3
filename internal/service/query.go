package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/hackletloose/hall-events/internal/model"
)

// ListActiveSignups returns the event's active entries in join order.
func (s *SignupService) ListActiveSignups(ctx context.Context, eventID string) ([]model.RosterEntry, error) {
	signups, err := s.ListSignups(ctx, eventID, model.StatusActive)
	if err != nil {
		return nil, err
	}
	entries := make([]model.RosterEntry, 0, len(signups))
	for _, su := range signups {
		entries = append(entries, model.RosterEntry{
			SignupID:    su.ID,
			DisplayName: su.DisplayName,
			Side:        su.Side,
			Role:        su.Role,
		})
	}
	return entries, nil
}

// ListSignups returns the event's ledger entries, optionally filtered by
// status.
func (s *SignupService) ListSignups(ctx context.Context, eventID string, status model.Status) ([]model.Signup, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
	if _, err := s.store.GetEvent(ctx, eventID); err != nil {
		return nil, err
	}
	return s.store.ListSignups(ctx, eventID, status)
}

// CountActive returns the number of active entries in the bucket.
func (s *SignupService) CountActive(ctx context.Context, eventID string, side model.Side, role model.Role) (int, error) {
	side, err := model.ParseSide(string(side))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	role, err = parseRole(role)
	if err != nil {
		return 0, err
	}
	if _, err := s.store.GetEvent(ctx, eventID); err != nil {
		return 0, err
	}
	return s.store.CountActive(ctx, eventID, side, role)
}

// HasOpenSignup reports whether the user holds an active or waiting entry
// for the event.
func (s *SignupService) HasOpenSignup(ctx context.Context, eventID, userID string) (bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	if _, err := s.store.GetEvent(ctx, eventID); err != nil {
		return false, err
	}
	return s.store.HasOpenSignup(ctx, eventID, userID)
}

// Roster returns the squad lineup and waiting queues for both sides.
func (s *SignupService) Roster(ctx context.Context, eventID string) (*model.Roster, error) {
	event, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	signups, err := s.store.ListSignups(ctx, eventID, "")
	if err != nil {
		return nil, err
	}
	roster := model.BuildRoster(event, signups)
	return &roster, nil
}

// SignupOptions lists the roles a user can pick on the side. When the side
// offers no slots the only option is the waitlist.
func (s *SignupService) SignupOptions(ctx context.Context, eventID string, side model.Side) ([]model.RoleOption, error) {
	side, err := model.ParseSide(string(side))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	event, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if !model.OffersSlots(event.Squads, side) {
		return []model.RoleOption{{Role: model.RoleWaitlist, Full: true}}, nil
	}

	var options []model.RoleOption
	for _, role := range model.SlotRoles {
		capacity := event.Capacity(side, role)
		if capacity <= 0 {
			continue
		}
		active, err := s.store.CountActive(ctx, eventID, side, role)
		if err != nil {
			return nil, err
		}
		options = append(options, model.RoleOption{
			Role:     role,
			Capacity: capacity,
			Active:   active,
			Full:     active >= capacity,
		})
	}
	return options, nil
}

func parseRole(role model.Role) (model.Role, error) {
	r, err := model.ParseRole(string(role))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return r, nil
}
