package engine

import (
	"fmt"
	"slices"
)

// TilePack is the undrawn tile supply. Tiles hidden under hills stay in Tiles
// but no longer count as drawable, so the pack runs out early by that many.
type TilePack struct {
	Tiles            []Tile `json:"tiles"`
	HiddenUnderHills int    `json:"hiddenUnderHills"`
}

// NewTilePack returns a pack holding a copy of tiles.
func NewTilePack(tiles []Tile) TilePack {
	return TilePack{Tiles: slices.Clone(tiles)}
}

// Size returns the number of tiles that can still be drawn.
func (p TilePack) Size() int { return len(p.Tiles) - p.HiddenUnderHills }

// IsEmpty reports whether no drawable tile remains.
func (p TilePack) IsEmpty() bool { return p.Size() <= 0 }

// Pick chooses the index of the next random draw without removing it.
func (p TilePack) Pick(rng Random) (int, error) {
	if p.IsEmpty() {
		return -1, ErrPackEmpty
	}
	if rng == nil {
		return -1, fmt.Errorf("pick tile: random source is required")
	}
	return rng.IntN(len(p.Tiles)), nil
}

// IndexOf returns the index of the first tile with id, or -1.
func (p TilePack) IndexOf(id TileID) int {
	return slices.IndexFunc(p.Tiles, func(t Tile) bool { return t.ID == id })
}

// TakeAt removes the tile at idx and returns it with the remaining pack. The
// receiver is left untouched.
func (p TilePack) TakeAt(idx int) (Tile, TilePack, error) {
	if p.IsEmpty() {
		return Tile{}, p, ErrPackEmpty
	}
	if idx < 0 || idx >= len(p.Tiles) {
		return Tile{}, p, fmt.Errorf("take tile: index %d out of range [0,%d)", idx, len(p.Tiles))
	}
	tile := p.Tiles[idx]
	rest := make([]Tile, 0, len(p.Tiles)-1)
	rest = append(rest, p.Tiles[:idx]...)
	rest = append(rest, p.Tiles[idx+1:]...)
	return tile, TilePack{Tiles: rest, HiddenUnderHills: p.HiddenUnderHills}, nil
}

// Draw removes a random tile and returns it with the remaining pack.
func (p TilePack) Draw(rng Random) (Tile, TilePack, error) {
	idx, err := p.Pick(rng)
	if err != nil {
		return Tile{}, p, err
	}
	return p.TakeAt(idx)
}

// DrawByID removes the first tile with the given id without consulting any
// random source. It is used for scripted replays and tests.
func (p TilePack) DrawByID(id TileID) (Tile, TilePack, error) {
	if p.IsEmpty() {
		return Tile{}, p, ErrPackEmpty
	}
	idx := p.IndexOf(id)
	if idx < 0 {
		return Tile{}, p, fmt.Errorf("%w: %s", ErrTileNotInPack, id)
	}
	return p.TakeAt(idx)
}

// IncreaseHiddenUnderHills hides one more tile under a hill. The counter never
// exceeds the tiles physically left, so an empty pack is returned unchanged.
func (p TilePack) IncreaseHiddenUnderHills() TilePack {
	if p.IsEmpty() {
		return p
	}
	p.HiddenUnderHills++
	return p
}

// Contains reports whether a tile with id is still in the pack.
func (p TilePack) Contains(id TileID) bool { return p.IndexOf(id) >= 0 }
