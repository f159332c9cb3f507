// Package engine implements the tile resolution phase of a tile-placement
// board game: draw a tile, offer its legal placements, apply the player's
// choice and run capability effects before handing off to the next phase.
//
// The package is dependency-free. All state lives in Snapshot, a value that is
// never modified in place; every transition returns a new Snapshot, which keeps
// games replayable from a seed and a list of player replies.
package engine

import (
	"fmt"
	"slices"
)

// PlayerState holds one player's auxiliary token supply.
type PlayerState struct {
	Name   string         `json:"name"`
	Tokens [NumTokens]int `json:"tokens"`
}

// Snapshot is the complete state of a game at a pause point.
type Snapshot struct {
	Players      []PlayerState  `json:"players"`
	TurnPlayer   int            `json:"turnPlayer"`
	Pack         TilePack       `json:"pack"`
	Drawn        *Tile          `json:"drawn,omitempty"`
	Discarded    []Tile         `json:"discarded"`
	Board        Board          `json:"board"`
	Capabilities CapabilityData `json:"capabilities"`
	Pending      *PendingAction `json:"pending,omitempty"`
	Events       []Event        `json:"events"`
	Flags        uint16         `json:"flags"`
}

// ---------------------------------------------------------------------------
// Flags bitfield
// ---------------------------------------------------------------------------

const (
	// FlagBazaarAuction asks a later phase to start a bazaar auction.
	FlagBazaarAuction uint16 = 1 << 0
)

func (s Snapshot) HasFlag(f uint16) bool { return s.Flags&f != 0 }

func (s Snapshot) AddFlag(f uint16) Snapshot {
	s.Flags |= f
	return s
}

func (s Snapshot) ClearFlag(f uint16) Snapshot {
	s.Flags &^= f
	return s
}

// ---------------------------------------------------------------------------
// NewGame
// ---------------------------------------------------------------------------

// Setup describes the initial state of a game.
type Setup struct {
	Players      []string
	Tiles        []Tile
	Capabilities []CapabilityID
	// StartTile, when set, is placed at the origin before the first draw.
	StartTile *Tile
	// BridgeTokens is the bridge supply each player starts with.
	BridgeTokens int
}

// NewGame builds the initial snapshot for setup.
func NewGame(setup Setup) (Snapshot, error) {
	if len(setup.Players) == 0 {
		return Snapshot{}, fmt.Errorf("new game: at least one player is required")
	}
	s := Snapshot{
		Players:      make([]PlayerState, len(setup.Players)),
		Pack:         NewTilePack(setup.Tiles),
		Discarded:    []Tile{},
		Capabilities: CapabilityData{},
		Events:       []Event{},
	}
	for i, name := range setup.Players {
		s.Players[i] = PlayerState{Name: name}
		s.Players[i].Tokens[TokenBridge] = setup.BridgeTokens
	}
	for _, id := range setup.Capabilities {
		if id == "" {
			return Snapshot{}, ErrCapabilityIDRequired
		}
		s.Capabilities[id] = nil
	}
	if setup.StartTile != nil {
		board, err := s.Board.PlaceTile(*setup.StartTile, Position{}, R0)
		if err != nil {
			return Snapshot{}, fmt.Errorf("new game: %w", err)
		}
		s.Board = board
	}
	return s, nil
}

// ---------------------------------------------------------------------------
// Query methods
// ---------------------------------------------------------------------------

// NumPlayers returns the number of seated players.
func (s Snapshot) NumPlayers() int { return len(s.Players) }

// PrevPlayer returns the player seated before idx in turn order.
func (s Snapshot) PrevPlayer(idx int) int {
	n := len(s.Players)
	return ((idx-1)%n + n) % n
}

// NextPlayer returns the player seated after idx in turn order.
func (s Snapshot) NextPlayer(idx int) int { return (idx + 1) % len(s.Players) }

// ActingPlayer returns the player who owes a reply, or the turn player when
// nothing is pending.
func (s Snapshot) ActingPlayer() int {
	if s.Pending != nil {
		return s.Pending.Player
	}
	return s.TurnPlayer
}

// TokenCount returns how many tokens of kind t the player holds.
func (s Snapshot) TokenCount(player int, t Token) int {
	if player < 0 || player >= len(s.Players) {
		return 0
	}
	return s.Players[player].Tokens[t]
}

// HeldTiles counts tiles out of the pack but neither placed nor discarded:
// the drawn slot and the tile held by a pending placement.
func (s Snapshot) HeldTiles() int {
	n := 0
	if s.Drawn != nil {
		n++
	}
	if s.Pending != nil && s.Pending.Kind == ActionPlaceTile {
		n++
	}
	return n
}

// TileCount sums every tile accounted for by the snapshot. It is constant
// across a game unless tiles are moved into capability-owned supplies.
func (s Snapshot) TileCount() int {
	return s.Pack.Size() + s.Pack.HiddenUnderHills + len(s.Discarded) + s.Board.Len() + s.HeldTiles()
}

// ---------------------------------------------------------------------------
// Structural updates. Each returns a new Snapshot and copies any slice it
// extends so earlier snapshots never observe the change.
// ---------------------------------------------------------------------------

func (s Snapshot) WithPack(p TilePack) Snapshot {
	s.Pack = p
	return s
}

func (s Snapshot) WithDrawn(t Tile) Snapshot {
	s.Drawn = &t
	return s
}

func (s Snapshot) ClearDrawn() Snapshot {
	s.Drawn = nil
	return s
}

func (s Snapshot) WithBoard(b Board) Snapshot {
	s.Board = b
	return s
}

func (s Snapshot) WithPending(p PendingAction) Snapshot {
	s.Pending = &p
	return s
}

func (s Snapshot) ClearPending() Snapshot {
	s.Pending = nil
	return s
}

// AppendDiscard appends t to the discard sequence.
func (s Snapshot) AppendDiscard(t Tile) Snapshot {
	s.Discarded = append(slices.Clip(s.Discarded), t)
	return s
}

// AppendEvent appends ev to the log, assigning the next sequence number.
func (s Snapshot) AppendEvent(ev Event) Snapshot {
	ev.Seq = uint64(len(s.Events)) + 1
	s.Events = append(slices.Clip(s.Events), ev)
	return s
}

// AddTokens adjusts a player's supply of t by delta.
func (s Snapshot) AddTokens(player int, t Token, delta int) Snapshot {
	s.Players = slices.Clone(s.Players)
	s.Players[player].Tokens[t] += delta
	return s
}

// WithTurnPlayer sets the turn player. It is used by turn clean-up, which
// lives outside this package.
func (s Snapshot) WithTurnPlayer(idx int) Snapshot {
	s.TurnPlayer = idx
	return s
}
