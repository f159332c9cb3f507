package engine

import (
	"fmt"
	"slices"
)

// ---------------------------------------------------------------------------
// Board geometry
// ---------------------------------------------------------------------------

// Position is a board cell. Y grows southwards.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (p Position) String() string { return fmt.Sprintf("[%d,%d]", p.X, p.Y) }

// Add returns p shifted by d.
func (p Position) Add(d Position) Position { return Position{X: p.X + d.X, Y: p.Y + d.Y} }

// Rotation is a clockwise quarter-turn count.
type Rotation uint8

const (
	R0   Rotation = 0
	R90  Rotation = 1
	R180 Rotation = 2
	R270 Rotation = 3
)

// Rotations lists every rotation in clockwise order.
var Rotations = [4]Rotation{R0, R90, R180, R270}

func (r Rotation) String() string {
	switch r & 3 {
	case R0:
		return "R0"
	case R90:
		return "R90"
	case R180:
		return "R180"
	default:
		return "R270"
	}
}

// Add composes two rotations.
func (r Rotation) Add(o Rotation) Rotation { return (r + o) & 3 }

// Inverse returns the rotation that undoes r.
func (r Rotation) Inverse() Rotation { return (4 - r&3) & 3 }

// Location is a bitmask of tile sides. Bridges occupy NS or WE.
type Location uint8

const (
	LocN Location = 1 << 0
	LocE Location = 1 << 1
	LocS Location = 1 << 2
	LocW Location = 1 << 3

	LocNS = LocN | LocS
	LocWE = LocW | LocE
)

// RotateCW turns every side in the mask clockwise by r.
func (l Location) RotateCW(r Rotation) Location {
	out := l & 0x0F
	for i := Rotation(0); i < r&3; i++ {
		out = ((out << 1) | (out >> 3)) & 0x0F
	}
	return out
}

// RotateCCW turns every side in the mask counter-clockwise by r. It maps a
// board-frame location into the frame of a tile placed with rotation r.
func (l Location) RotateCCW(r Rotation) Location { return l.RotateCW(r.Inverse()) }

func (l Location) String() string {
	switch l {
	case LocNS:
		return "NS"
	case LocWE:
		return "WE"
	}
	s := ""
	for i, name := range [4]string{"N", "E", "S", "W"} {
		if l&(1<<i) != 0 {
			s += name
		}
	}
	if s == "" {
		return "-"
	}
	return s
}

// FeaturePointer addresses a location on a concrete board cell, in board frame.
type FeaturePointer struct {
	Position Position `json:"position"`
	Location Location `json:"location"`
}

func (f FeaturePointer) String() string { return f.Position.String() + f.Location.String() }

// ---------------------------------------------------------------------------
// Tiles
// ---------------------------------------------------------------------------

// Edge describes what runs off one side of a tile.
type Edge uint8

const (
	EdgeField Edge = iota
	EdgeRoad
	EdgeCity
	EdgeRiver
)

// Modifier tags a tile with capability-specific behaviour.
type Modifier string

const (
	ModifierHill   Modifier = "hill"
	ModifierBazaar Modifier = "bazaar"
	ModifierAbbey  Modifier = "abbey"
)

// TileID identifies a tile definition in the pack, e.g. "BA.RCr".
type TileID string

// Tile is an immutable tile definition. Edges are listed N, E, S, W in the
// tile's own frame.
type Tile struct {
	ID        TileID     `json:"id"`
	Edges     [4]Edge    `json:"edges"`
	Modifiers []Modifier `json:"modifiers,omitempty"`
	Bridges   []Location `json:"bridges,omitempty"`
}

// HasModifier reports whether m is among the tile's modifiers.
func (t Tile) HasModifier(m Modifier) bool { return slices.Contains(t.Modifiers, m) }

// AddBridge returns a copy of t with a bridge embedded at loc (tile frame).
func (t Tile) AddBridge(loc Location) Tile {
	out := t
	out.Bridges = append(slices.Clone(t.Bridges), loc)
	out.Modifiers = slices.Clone(t.Modifiers)
	return out
}

// HasBridge reports whether loc carries a bridge in the tile frame.
func (t Tile) HasBridge(loc Location) bool { return slices.Contains(t.Bridges, loc) }

// EdgeAt returns the edge facing side (a single-side location) once the tile is
// turned by r.
func (t Tile) EdgeAt(side Location, r Rotation) Edge {
	local := side.RotateCCW(r)
	for i := 0; i < 4; i++ {
		if local == Location(1<<i) {
			return t.Edges[i]
		}
	}
	return EdgeField
}

// ---------------------------------------------------------------------------
// Tokens
// ---------------------------------------------------------------------------

// Token is a kind of auxiliary token held in a player's supply.
type Token uint8

const (
	TokenBridge Token = iota

	NumTokens
)

func (t Token) String() string {
	switch t {
	case TokenBridge:
		return "bridge"
	default:
		return "unknown"
	}
}

// MarshalText encodes the token by name so event logs stay readable.
func (t Token) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText decodes a token name.
func (t *Token) UnmarshalText(b []byte) error {
	switch string(b) {
	case "bridge":
		*t = TokenBridge
		return nil
	}
	return fmt.Errorf("unknown token %q", string(b))
}
