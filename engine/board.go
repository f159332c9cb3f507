package engine

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
)

// PlacedTile is a tile standing on the board.
type PlacedTile struct {
	Tile     Tile     `json:"tile"`
	Position Position `json:"position"`
	Rotation Rotation `json:"rotation"`
}

// Board is the set of standing tiles. It is copy-on-write: reducers return a
// new Board and never touch the receiver's map.
type Board struct {
	Tiles map[Position]PlacedTile
}

// Len returns the number of placed tiles.
func (b Board) Len() int { return len(b.Tiles) }

// Get returns the tile at pos.
func (b Board) Get(pos Position) (PlacedTile, bool) {
	pt, ok := b.Tiles[pos]
	return pt, ok
}

// Placed returns the standing tiles ordered by row then column.
func (b Board) Placed() []PlacedTile {
	out := make([]PlacedTile, 0, len(b.Tiles))
	for _, pt := range b.Tiles {
		out = append(out, pt)
	}
	slices.SortFunc(out, func(a, c PlacedTile) int { return comparePositions(a.Position, c.Position) })
	return out
}

// PlaceTile puts tile at pos with rotation rot.
func (b Board) PlaceTile(tile Tile, pos Position, rot Rotation) (Board, error) {
	if _, taken := b.Tiles[pos]; taken {
		return b, fmt.Errorf("%w: %s", ErrPositionOccupied, pos)
	}
	out := Board{Tiles: maps.Clone(b.Tiles)}
	if out.Tiles == nil {
		out.Tiles = make(map[Position]PlacedTile, 1)
	}
	out.Tiles[pos] = PlacedTile{Tile: tile, Position: pos, Rotation: rot}
	return out, nil
}

// PlaceBridge embeds a bridge into a standing tile. ptr is in board frame and
// is turned into the tile's own frame before being stored on the tile.
func (b Board) PlaceBridge(ptr FeaturePointer) (Board, error) {
	pt, ok := b.Tiles[ptr.Position]
	if !ok {
		return b, fmt.Errorf("%w: %s", ErrNoTileAtPosition, ptr.Position)
	}
	pt.Tile = pt.Tile.AddBridge(ptr.Location.RotateCCW(pt.Rotation))
	out := Board{Tiles: maps.Clone(b.Tiles)}
	out.Tiles[ptr.Position] = pt
	return out, nil
}

// boardJSON lists tiles in board order so encoded snapshots are stable.
type boardJSON struct {
	Tiles []PlacedTile `json:"tiles"`
}

// MarshalJSON encodes the board as an ordered tile list.
func (b Board) MarshalJSON() ([]byte, error) {
	return json.Marshal(boardJSON{Tiles: b.Placed()})
}

// UnmarshalJSON decodes a board written by MarshalJSON.
func (b *Board) UnmarshalJSON(data []byte) error {
	var bj boardJSON
	if err := json.Unmarshal(data, &bj); err != nil {
		return err
	}
	b.Tiles = make(map[Position]PlacedTile, len(bj.Tiles))
	for _, pt := range bj.Tiles {
		b.Tiles[pt.Position] = pt
	}
	return nil
}

func comparePositions(a, b Position) int {
	if a.Y != b.Y {
		return a.Y - b.Y
	}
	return a.X - b.X
}
