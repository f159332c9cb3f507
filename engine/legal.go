package engine

import (
	"cmp"
	"slices"
)

// PlacementOption is one legal way to place the drawn tile. MandatoryBridge,
// when set, names a bridge that must be placed for the placement to be legal,
// for example when the tile would otherwise leave a road running into nothing.
type PlacementOption struct {
	Position        Position        `json:"position"`
	Rotation        Rotation        `json:"rotation"`
	MandatoryBridge *FeaturePointer `json:"mandatoryBridge,omitempty"`
}

// Conditioned reports whether the option requires a bridge.
func (o PlacementOption) Conditioned() bool { return o.MandatoryBridge != nil }

// Matches reports whether the option places at pos with rot.
func (o PlacementOption) Matches(pos Position, rot Rotation) bool {
	return o.Position == pos && o.Rotation == rot
}

// PlacementSource enumerates the legal placements of a tile against the
// current board. Board geometry lives outside this package.
type PlacementSource interface {
	TilePlacements(s Snapshot, tile Tile) []PlacementOption
}

// PlacementSourceFunc adapts a function to PlacementSource.
type PlacementSourceFunc func(s Snapshot, tile Tile) []PlacementOption

func (f PlacementSourceFunc) TilePlacements(s Snapshot, tile Tile) []PlacementOption {
	return f(s, tile)
}

// PlacementSet returns opts without duplicates, ordered by position, rotation
// and bridge so the offered set does not depend on the source's order.
func PlacementSet(opts []PlacementOption) []PlacementOption {
	out := slices.Clone(opts)
	slices.SortFunc(out, compareOptions)
	return slices.CompactFunc(out, func(a, b PlacementOption) bool { return compareOptions(a, b) == 0 })
}

func compareOptions(a, b PlacementOption) int {
	if c := comparePositions(a.Position, b.Position); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Rotation, b.Rotation); c != 0 {
		return c
	}
	switch {
	case a.MandatoryBridge == nil && b.MandatoryBridge == nil:
		return 0
	case a.MandatoryBridge == nil:
		return -1
	case b.MandatoryBridge == nil:
		return 1
	}
	if c := comparePositions(a.MandatoryBridge.Position, b.MandatoryBridge.Position); c != 0 {
		return c
	}
	return cmp.Compare(a.MandatoryBridge.Location, b.MandatoryBridge.Location)
}

// CanPass reports whether a player offered opts may decline to place the
// tile. Passing is legal only when every option needs a bridge.
func CanPass(opts []PlacementOption) bool {
	if len(opts) == 0 {
		return false
	}
	return !slices.ContainsFunc(opts, func(o PlacementOption) bool { return !o.Conditioned() })
}

// FindOption returns the first option placing at pos with rot.
func FindOption(opts []PlacementOption, pos Position, rot Rotation) (PlacementOption, bool) {
	idx := slices.IndexFunc(opts, func(o PlacementOption) bool { return o.Matches(pos, rot) })
	if idx < 0 {
		return PlacementOption{}, false
	}
	return opts[idx], true
}

// ---------------------------------------------------------------------------
// Pending action
// ---------------------------------------------------------------------------

// ActionKind identifies what a pending action asks the player to do.
type ActionKind string

const (
	ActionPlaceTile ActionKind = "place_tile"
)

// PendingAction is the single decision a player owes. It is created when the
// phase suspends and consumed by exactly one reply.
type PendingAction struct {
	Kind    ActionKind        `json:"kind"`
	Player  int               `json:"player"`
	Tile    Tile              `json:"tile"`
	Options []PlacementOption `json:"options"`
	CanPass bool              `json:"canPass"`
}
