// Package model defines the core domain types for the event signup system.
package model

import "time"

// Event represents a scheduled match with its per-side squad configuration.
type Event struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Description  string      `json:"description"`
	ServerInfo   string      `json:"server_info"`
	Password     string      `json:"-"`
	Squads       SquadConfig `json:"squads"`
	BriefingAt   *time.Time  `json:"briefing_at,omitempty"`
	StartsAt     time.Time   `json:"starts_at"`
	GameStartsAt *time.Time  `json:"game_starts_at,omitempty"`
	Recurrence   Recurrence  `json:"recurrence"`
	SpawnedNext  bool        `json:"spawned_next"`
	ReminderSent bool        `json:"reminder_sent"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Capacity returns the number of active slots the event offers for (side, role).
func (e *Event) Capacity(side Side, role Role) int {
	return Capacity(e.Squads, side, role)
}

// Signup is one ledger entry. Only its status ever changes after insert.
type Signup struct {
	ID          int64     `json:"id"`
	EventID     string    `json:"event_id"`
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Side        Side      `json:"side"`
	Role        Role      `json:"role"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// Bucket identifies the (event, side, role) queue the signup competes in.
func (s *Signup) Bucket() Bucket {
	return Bucket{EventID: s.EventID, Side: s.Side, Role: s.Role}
}

// Bucket is the unit of capacity and FIFO promotion.
type Bucket struct {
	EventID string `json:"event_id"`
	Side    Side   `json:"side"`
	Role    Role   `json:"role"`
}

// EventInput is the payload for creating or replacing an event's configuration.
type EventInput struct {
	Name         string      `json:"name"`
	Description  string      `json:"description"`
	ServerInfo   string      `json:"server_info"`
	Password     string      `json:"password"`
	Squads       SquadConfig `json:"squads"`
	BriefingAt   *time.Time  `json:"briefing_at,omitempty"`
	StartsAt     time.Time   `json:"starts_at"`
	GameStartsAt *time.Time  `json:"game_starts_at,omitempty"`
	Recurrence   Recurrence  `json:"recurrence"`
}

// SignupRequest is the payload for claiming a role slot.
type SignupRequest struct {
	EventID     string `json:"-"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Side        Side   `json:"side"`
	Role        Role   `json:"role"`
}

// CancelRequest is the payload for the unscoped cancel endpoint.
type CancelRequest struct {
	UserID string `json:"user_id"`
}

// SignupOutcome is what RequestSignup reports to callers and notifiers.
// Role may differ from the requested one when the request was routed to the
// waitlist.
type SignupOutcome struct {
	Signup Signup `json:"signup"`
	Status Status `json:"status"`
}

// CancelOutcome reports the cancelled entry and the entry promoted into its
// slot, if any.
type CancelOutcome struct {
	Cancelled Signup  `json:"cancelled"`
	Promoted  *Signup `json:"promoted,omitempty"`
}

// UpdateOutcome is returned by an event update; Promoted lists waiting
// entries that moved up because the new configuration opened slots.
type UpdateOutcome struct {
	Event    Event    `json:"event"`
	Promoted []Signup `json:"promoted"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
