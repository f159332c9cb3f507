package engine

import (
	"strings"
	"testing"
)

// testTile builds a plain road tile with the given modifiers.
func testTile(id string, mods ...Modifier) Tile {
	return Tile{
		ID:        TileID(id),
		Edges:     [4]Edge{EdgeRoad, EdgeField, EdgeRoad, EdgeField},
		Modifiers: mods,
	}
}

// startTile is placed at the origin in every test game.
func startTile() Tile { return testTile("start") }

// lineSource places every tile at the first free cell east of the origin.
// Tiles whose id starts with "dead" have no legal placement; tiles whose id
// starts with "bridge" can only be placed with a bridge on the new tile, and
// only while the turn player still holds one.
func lineSource() PlacementSource {
	return PlacementSourceFunc(func(s Snapshot, tile Tile) []PlacementOption {
		id := string(tile.ID)
		if strings.HasPrefix(id, "dead") {
			return nil
		}
		pos := Position{X: 1}
		for {
			if _, taken := s.Board.Get(pos); !taken {
				break
			}
			pos.X++
		}
		if strings.HasPrefix(id, "bridge") {
			if s.TokenCount(s.TurnPlayer, TokenBridge) == 0 {
				return nil
			}
			ptr := FeaturePointer{Position: pos, Location: LocNS}
			return []PlacementOption{
				{Position: pos, Rotation: R0, MandatoryBridge: &ptr},
				{Position: pos, Rotation: R90, MandatoryBridge: &ptr},
			}
		}
		// Duplicates on purpose: the phase must reduce them to a set.
		return []PlacementOption{
			{Position: pos, Rotation: R90},
			{Position: pos, Rotation: R0},
			{Position: pos, Rotation: R0},
		}
	})
}

// fixedSource offers exactly the given options for every tile.
func fixedSource(opts ...PlacementOption) PlacementSource {
	return PlacementSourceFunc(func(Snapshot, Tile) []PlacementOption { return opts })
}

// newTestGame builds a three-player game with a start tile and two bridges
// per player.
func newTestGame(t *testing.T, tiles []Tile, caps ...CapabilityID) Snapshot {
	t.Helper()
	start := startTile()
	s, err := NewGame(Setup{
		Players:      []string{"alice", "bob", "carol"},
		Tiles:        tiles,
		Capabilities: caps,
		StartTile:    &start,
		BridgeTokens: 2,
	})
	if err != nil {
		t.Fatalf("NewGame: %v", err)
	}
	return s
}

// scripted returns a phase using the standard ruleset and a scripted draw.
func scripted(src PlacementSource, ids ...TileID) *TilePhase {
	return NewTilePhase(src, StandardRuleset(), NewScriptedDrawer(ids...))
}

// checkPausePoint asserts that exactly one of {pending action, phase advanced}
// holds and the drawn slot is clear.
func checkPausePoint(t *testing.T, step Step) {
	t.Helper()
	s := step.State
	if s.Drawn != nil {
		t.Fatalf("drawn tile %s left set at a pause point", s.Drawn.ID)
	}
	if step.Suspended() && s.Pending == nil {
		t.Fatal("suspended without a pending action")
	}
	if !step.Suspended() && s.Pending != nil {
		t.Fatalf("advanced to %s with a pending action", step.Next)
	}
}

// checkConservation asserts that no tile was created or lost.
func checkConservation(t *testing.T, s Snapshot, want int) {
	t.Helper()
	if got := s.TileCount(); got != want {
		t.Fatalf("TileCount = %d (drawable %d, hidden %d, discarded %d, placed %d, held %d), want %d",
			got, s.Pack.Size(), s.Pack.HiddenUnderHills, len(s.Discarded), s.Board.Len(), s.HeldTiles(), want)
	}
}

// eventTypes lists the types of events in order.
func eventTypes(events []Event) []EventType {
	out := make([]EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func countEvents(events []Event, typ EventType) int {
	n := 0
	for _, ev := range events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}
