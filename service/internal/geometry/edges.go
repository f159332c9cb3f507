// Package geometry supplies a simple edge-matching placement source for the
// server. A tile fits an empty cell next to the board when every touching
// edge matches; a bridge may carry a road over a field to make a fit.
package geometry

import (
	engine "github.com/jason-s-yu/cloister/engine"
)

var sides = [4]engine.Location{engine.LocN, engine.LocE, engine.LocS, engine.LocW}

func delta(side engine.Location) engine.Position {
	switch side {
	case engine.LocN:
		return engine.Position{Y: -1}
	case engine.LocE:
		return engine.Position{X: 1}
	case engine.LocS:
		return engine.Position{Y: 1}
	default:
		return engine.Position{X: -1}
	}
}

func opposite(side engine.Location) engine.Location { return side.RotateCW(engine.R180) }

// axis returns the bridge axis running through side.
func axis(side engine.Location) engine.Location {
	if side&engine.LocNS != 0 {
		return engine.LocNS
	}
	return engine.LocWE
}

// EdgeMatcher is an engine.PlacementSource.
type EdgeMatcher struct{}

// TilePlacements lists every legal placement of tile on the board of s.
func (EdgeMatcher) TilePlacements(s engine.Snapshot, tile engine.Tile) []engine.PlacementOption {
	canBridge := s.HasCapability(engine.CapBridge) && s.TokenCount(s.TurnPlayer, engine.TokenBridge) > 0

	var opts []engine.PlacementOption
	for _, pos := range frontier(s.Board) {
		for _, rot := range engine.Rotations {
			opts = append(opts, fit(s.Board, tile, pos, rot, canBridge)...)
		}
	}
	return opts
}

// frontier returns the empty cells touching the board, in board order.
func frontier(b engine.Board) []engine.Position {
	seen := make(map[engine.Position]bool)
	var out []engine.Position
	for _, pt := range b.Placed() {
		for _, side := range sides {
			p := pt.Position.Add(delta(side))
			if _, taken := b.Get(p); taken || seen[p] {
				continue
			}
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// boardEdge returns the edge a standing tile shows on side, counting a
// bridge over that side as road.
func boardEdge(pt engine.PlacedTile, side engine.Location) engine.Edge {
	for _, b := range pt.Tile.Bridges {
		if b.RotateCW(pt.Rotation)&side != 0 {
			return engine.EdgeRoad
		}
	}
	return pt.Tile.EdgeAt(side, pt.Rotation)
}

// fit returns the options for tile at pos turned by rot: one unconditioned
// option when the edges match as they are, otherwise any bridge that makes
// them match.
func fit(b engine.Board, tile engine.Tile, pos engine.Position, rot engine.Rotation, canBridge bool) []engine.PlacementOption {
	mine := func(side engine.Location, bridge engine.Location) engine.Edge {
		if bridge&side != 0 {
			return engine.EdgeRoad
		}
		return tile.EdgeAt(side, rot)
	}
	mismatches := func(bridge engine.Location) []engine.Location {
		var out []engine.Location
		for _, side := range sides {
			nb, ok := b.Get(pos.Add(delta(side)))
			if !ok {
				continue
			}
			if mine(side, bridge) != boardEdge(nb, opposite(side)) {
				out = append(out, side)
			}
		}
		return out
	}

	bad := mismatches(0)
	if len(bad) == 0 {
		return []engine.PlacementOption{{Position: pos, Rotation: rot}}
	}
	if !canBridge {
		return nil
	}

	var opts []engine.PlacementOption
	// A bridge on the new tile spans two field edges.
	for _, ax := range [2]engine.Location{engine.LocNS, engine.LocWE} {
		if !fieldAxis(func(side engine.Location) engine.Edge { return tile.EdgeAt(side, rot) }, ax) {
			continue
		}
		if len(mismatches(ax)) == 0 {
			ptr := engine.FeaturePointer{Position: pos, Location: ax}
			opts = append(opts, engine.PlacementOption{Position: pos, Rotation: rot, MandatoryBridge: &ptr})
		}
	}
	// A bridge on a neighbour carries the new tile's road across it. The
	// cell beyond must be free, or the bridge would end in a wall.
	if len(bad) == 1 && tile.EdgeAt(bad[0], rot) == engine.EdgeRoad {
		side := bad[0]
		nbPos := pos.Add(delta(side))
		nb, _ := b.Get(nbPos)
		ax := axis(side)
		_, blocked := b.Get(nbPos.Add(delta(side)))
		if !blocked && len(nb.Tile.Bridges) == 0 && fieldAxis(func(l engine.Location) engine.Edge { return nb.Tile.EdgeAt(l, nb.Rotation) }, ax) {
			ptr := engine.FeaturePointer{Position: nbPos, Location: ax}
			opts = append(opts, engine.PlacementOption{Position: pos, Rotation: rot, MandatoryBridge: &ptr})
		}
	}
	return opts
}

// fieldAxis reports whether both ends of ax show field.
func fieldAxis(edge func(engine.Location) engine.Edge, ax engine.Location) bool {
	for _, side := range sides {
		if ax&side != 0 && edge(side) != engine.EdgeField {
			return false
		}
	}
	return true
}
