package model

import "slices"

// squadSizes is the fixed number of players per squad. A commander "squad"
// is a single player, so the configured commander cap acts as its squad count.
var squadSizes = map[Role]int{
	RoleInfantry:  6,
	RoleTank:      3,
	RoleSniper:    2,
	RoleCommander: 1,
}

// SquadSize returns the squad size for r, or 0 for roles without slots.
func SquadSize(r Role) int {
	return squadSizes[r]
}

// SideConfig holds one side's squad counts and commander cap.
type SideConfig struct {
	InfantrySquads int `json:"infantry_squads"`
	TankSquads     int `json:"tank_squads"`
	SniperSquads   int `json:"sniper_squads"`
	Commanders     int `json:"commanders"`
}

// Squads returns the configured number of squads for r.
func (c SideConfig) Squads(r Role) int {
	switch r {
	case RoleInfantry:
		return c.InfantrySquads
	case RoleTank:
		return c.TankSquads
	case RoleSniper:
		return c.SniperSquads
	case RoleCommander:
		return c.Commanders
	}
	return 0
}

// SquadConfig is the per-side configuration capacities derive from.
type SquadConfig struct {
	Allies SideConfig `json:"allies"`
	Axis   SideConfig `json:"axis"`
}

// Side returns the configuration for s. Unknown sides get an empty config.
func (c SquadConfig) Side(s Side) SideConfig {
	switch s {
	case SideAllies:
		return c.Allies
	case SideAxis:
		return c.Axis
	}
	return SideConfig{}
}

// Capacity returns the maximum number of concurrently active signups for
// (side, role). Unknown roles, the waitlist and negative counts yield 0.
func Capacity(cfg SquadConfig, side Side, role Role) int {
	n := cfg.Side(side).Squads(role) * SquadSize(role)
	if n < 0 {
		return 0
	}
	return n
}

// OffersSlots reports whether any role on side has positive capacity.
func OffersSlots(cfg SquadConfig, side Side) bool {
	for _, r := range SlotRoles {
		if Capacity(cfg, side, r) > 0 {
			return true
		}
	}
	return false
}

// GroupSquads partitions names into consecutive squads of the role's squad
// size, preserving order. The last squad may be partial.
func GroupSquads(role Role, names []string) [][]string {
	size := SquadSize(role)
	if size <= 0 || len(names) == 0 {
		return nil
	}
	squads := make([][]string, 0, (len(names)+size-1)/size)
	for chunk := range slices.Chunk(names, size) {
		squads = append(squads, chunk)
	}
	return squads
}
