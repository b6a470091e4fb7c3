package model

import (
	"fmt"
	"strings"
	"time"
)

// Side is one of the two opposing factions.
type Side string

const (
	SideAllies Side = "allies"
	SideAxis   Side = "axis"
)

// Sides lists both factions in display order.
var Sides = []Side{SideAllies, SideAxis}

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == SideAllies || s == SideAxis
}

// ParseSide accepts a side name case-insensitively.
func ParseSide(v string) (Side, error) {
	s := Side(strings.ToLower(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown side %q", v)
	}
	return s, nil
}

// Role is a function within a side. RoleWaitlist is the overflow pseudo-role
// used when no regular slot can ever be offered; it has no capacity.
type Role string

const (
	RoleInfantry  Role = "infantry"
	RoleTank      Role = "tank"
	RoleSniper    Role = "sniper"
	RoleCommander Role = "commander"
	RoleWaitlist  Role = "waitlist"
)

// SlotRoles lists the roles that hold counted slots, in display order.
var SlotRoles = []Role{RoleInfantry, RoleTank, RoleSniper, RoleCommander}

// Valid reports whether r is a known role, including the waitlist.
func (r Role) Valid() bool {
	return r == RoleWaitlist || SquadSize(r) > 0
}

// ParseRole accepts a role name case-insensitively. "inf" is accepted as
// shorthand for infantry.
func ParseRole(v string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(v)))
	if r == "inf" {
		r = RoleInfantry
	}
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", v)
	}
	return r, nil
}

// Status is the lifecycle state of a signup.
type Status string

const (
	StatusActive    Status = "active"
	StatusWaiting   Status = "waiting"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusWaiting, StatusCancelled:
		return true
	}
	return false
}

// Open reports whether the status still holds or waits for a slot.
func (s Status) Open() bool {
	return s == StatusActive || s == StatusWaiting
}

// CanTransition reports whether moving from s to next is allowed.
// cancelled is terminal and nothing re-enters waiting.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusWaiting:
		return next == StatusActive || next == StatusCancelled
	case StatusActive:
		return next == StatusCancelled
	}
	return false
}

// Recurrence controls whether a follow-up event is spawned after this one starts.
type Recurrence string

const (
	RecurrenceNone      Recurrence = "none"
	RecurrenceWeekly    Recurrence = "weekly"
	RecurrenceBiweekly  Recurrence = "biweekly"
	RecurrenceMonthly   Recurrence = "monthly"
	RecurrenceQuarterly Recurrence = "quarterly"
)

// recurrenceDays is the offset between occurrences in calendar days.
var recurrenceDays = map[Recurrence]int{
	RecurrenceWeekly:    7,
	RecurrenceBiweekly:  14,
	RecurrenceMonthly:   30,
	RecurrenceQuarterly: 90,
}

// Valid reports whether r is a known pattern. The empty value means none.
func (r Recurrence) Valid() bool {
	if r == "" || r == RecurrenceNone {
		return true
	}
	_, ok := recurrenceDays[r]
	return ok
}

// Recurring reports whether r spawns follow-up events.
func (r Recurrence) Recurring() bool {
	return recurrenceDays[r] > 0
}

// Interval returns the nominal offset between occurrences, or 0 for none.
func (r Recurrence) Interval() time.Duration {
	return time.Duration(recurrenceDays[r]) * 24 * time.Hour
}

// Next shifts t by one occurrence, keeping the wall-clock time across DST.
func (r Recurrence) Next(t time.Time) time.Time {
	return t.AddDate(0, 0, recurrenceDays[r])
}
