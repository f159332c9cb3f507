package engine

import (
	"fmt"
	"reflect"
)

// ReplayPack rebuilds the pack state reached by events, starting from the
// initial pack composition. Pack draws are replayed by index and checked
// against the recorded tile id.
func ReplayPack(initial TilePack, events []Event) (TilePack, error) {
	pack := initial
	var lastSeq uint64
	for _, ev := range events {
		if ev.Seq != 0 {
			if ev.Seq != lastSeq+1 {
				return pack, fmt.Errorf("replay pack: event sequence gap: expected %d got %d", lastSeq+1, ev.Seq)
			}
			lastSeq = ev.Seq
		}
		switch ev.Type {
		case EventTileDrawn:
			if ev.Source != DrawFromPack {
				continue
			}
			if ev.Index == nil || ev.Tile == nil {
				return pack, fmt.Errorf("replay pack: event %d: pack draw without index or tile", ev.Seq)
			}
			tile, rest, err := pack.TakeAt(*ev.Index)
			if err != nil {
				return pack, fmt.Errorf("replay pack: event %d: %w", ev.Seq, err)
			}
			if tile.ID != ev.Tile.ID {
				return pack, fmt.Errorf("replay pack: event %d: drew %s, log says %s", ev.Seq, tile.ID, ev.Tile.ID)
			}
			pack = rest
		case EventTilesHidden:
			pack = pack.IncreaseHiddenUnderHills()
			if pack.HiddenUnderHills != ev.Hidden {
				return pack, fmt.Errorf("replay pack: event %d: hidden %d, log says %d", ev.Seq, pack.HiddenUnderHills, ev.Hidden)
			}
		}
	}
	return pack, nil
}

// VerifyPack replays s.Events from initial and reports whether the result
// matches s.Pack exactly.
func VerifyPack(initial TilePack, s Snapshot) error {
	pack, err := ReplayPack(initial, s.Events)
	if err != nil {
		return err
	}
	if !reflect.DeepEqual(normalizePack(pack), normalizePack(s.Pack)) {
		return fmt.Errorf("verify pack: replayed pack (%d tiles, %d hidden) differs from snapshot (%d tiles, %d hidden)",
			len(pack.Tiles), pack.HiddenUnderHills, len(s.Pack.Tiles), s.Pack.HiddenUnderHills)
	}
	return nil
}

// normalizePack treats nil and empty tile lists as equal.
func normalizePack(p TilePack) TilePack {
	if len(p.Tiles) == 0 {
		p.Tiles = nil
	}
	return p
}
