package model

// RosterEntry is one active signup as shown in a lineup, in join order.
type RosterEntry struct {
	SignupID    int64  `json:"signup_id"`
	DisplayName string `json:"display_name"`
	Side        Side   `json:"side"`
	Role        Role   `json:"role"`
}

// Squad is a numbered group of same-role players.
type Squad struct {
	Number  int      `json:"number"`
	Members []string `json:"members"`
}

// RoleRoster is the lineup for one role on one side.
type RoleRoster struct {
	Role     Role    `json:"role"`
	Capacity int     `json:"capacity"`
	Active   int     `json:"active"`
	Squads   []Squad `json:"squads"`
}

// SideRoster is the lineup for one side. Waiting lists queued names in
// promotion order across all roles, including the waitlist.
type SideRoster struct {
	Side    Side         `json:"side"`
	Roles   []RoleRoster `json:"roles"`
	Waiting []Signup     `json:"waiting"`
	Total   int          `json:"total"`
}

// Roster is the full display model for an event.
type Roster struct {
	EventID string       `json:"event_id"`
	Sides   []SideRoster `json:"sides"`
}

// RoleOption describes what a signup for Role would currently yield.
type RoleOption struct {
	Role     Role `json:"role"`
	Capacity int  `json:"capacity"`
	Active   int  `json:"active"`
	Full     bool `json:"full"`
}

// BuildRoster groups the event's signups, given in ascending id order, into
// per-side squads. Cancelled entries are ignored.
func BuildRoster(event *Event, signups []Signup) Roster {
	roster := Roster{EventID: event.ID}
	for _, side := range Sides {
		sr := SideRoster{Side: side, Waiting: []Signup{}}
		names := make(map[Role][]string, len(SlotRoles))
		for _, s := range signups {
			if s.Side != side {
				continue
			}
			switch s.Status {
			case StatusActive:
				names[s.Role] = append(names[s.Role], s.DisplayName)
			case StatusWaiting:
				sr.Waiting = append(sr.Waiting, s)
			}
		}
		for _, role := range SlotRoles {
			rr := RoleRoster{
				Role:     role,
				Capacity: event.Capacity(side, role),
				Active:   len(names[role]),
				Squads:   []Squad{},
			}
			for i, members := range GroupSquads(role, names[role]) {
				rr.Squads = append(rr.Squads, Squad{Number: i + 1, Members: members})
			}
			sr.Total += rr.Active
			sr.Roles = append(sr.Roles, rr)
		}
		roster.Sides = append(roster.Sides, sr)
	}
	return roster
}
