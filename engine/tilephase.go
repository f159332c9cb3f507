package engine

import "fmt"

// Drawer chooses which pack tile the next regular draw takes.
type Drawer interface {
	// NextIndex returns the index into p.Tiles to draw. p is never empty.
	NextIndex(p TilePack) (int, error)
}

// RandomDrawer draws uniformly with an injected generator.
type RandomDrawer struct {
	Random Random
}

func (d RandomDrawer) NextIndex(p TilePack) (int, error) { return p.Pick(d.Random) }

// ScriptedDrawer draws tiles by id in the given order. It is used to replay a
// recorded game and in tests; it never consults a random source.
type ScriptedDrawer struct {
	IDs  []TileID
	next int
}

// NewScriptedDrawer returns a drawer that yields ids in order.
func NewScriptedDrawer(ids ...TileID) *ScriptedDrawer {
	return &ScriptedDrawer{IDs: ids}
}

func (d *ScriptedDrawer) NextIndex(p TilePack) (int, error) {
	if d.next >= len(d.IDs) {
		return -1, fmt.Errorf("scripted draw: script exhausted after %d tiles", len(d.IDs))
	}
	id := d.IDs[d.next]
	idx := p.IndexOf(id)
	if idx < 0 {
		return -1, fmt.Errorf("scripted draw: %w: %s", ErrTileNotInPack, id)
	}
	d.next++
	return idx, nil
}

// Remaining returns how many scripted ids have not been drawn yet.
func (d *ScriptedDrawer) Remaining() int { return len(d.IDs) - d.next }

// TilePhase resolves the tile step of a turn. It holds no game state of its
// own: every call takes a snapshot and returns a new one.
type TilePhase struct {
	source PlacementSource
	rules  Ruleset
	drawer Drawer
}

// NewTilePhase builds a phase over the board geometry src.
func NewTilePhase(src PlacementSource, rules Ruleset, drawer Drawer) *TilePhase {
	return &TilePhase{source: src, rules: rules, drawer: drawer}
}

// Rules returns the phase's capability registry.
func (p *TilePhase) Rules() Ruleset { return p.rules }

// Enter runs the phase until a player decision is needed or control passes
// to another phase. Tiles without a legal placement are discarded and the
// loop draws again; it never recurses, however many discards happen in a row.
func (p *TilePhase) Enter(s Snapshot) (Step, error) {
	if p.source == nil {
		return Step{State: s}, ErrPlacementSourceRequired
	}

	var step Step
	for stage := StageAwaitingDraw; stage != StageDone; {
		switch stage {
		case StageAwaitingDraw:
			if s.Drawn == nil {
				s = p.overrideDraw(s)
			}
			if s.Drawn == nil {
				if s.Pack.IsEmpty() {
					next, phase := p.packExhausted(s)
					step = Step{State: next, Next: phase}
					stage = StageDone
					continue
				}
				var err error
				if s, err = p.drawTile(s); err != nil {
					return Step{State: s}, err
				}
			}
			stage = StageAwaitingDecision

		case StageAwaitingDecision:
			tile := *s.Drawn
			options := PlacementSet(p.source.TilePlacements(s, tile))
			if len(options) == 0 {
				s = discardTile(s.ClearDrawn(), tile)
				stage = StageAwaitingDraw
				continue
			}
			s = s.ClearDrawn().WithPending(PendingAction{
				Kind:    ActionPlaceTile,
				Player:  s.TurnPlayer,
				Tile:    tile,
				Options: options,
				CanPass: CanPass(options),
			})
			step = Step{State: s}
			stage = StageDone

		default:
			return Step{State: s}, fmt.Errorf("tile phase: unexpected stage %s", stage)
		}
	}
	return step, nil
}

// overrideDraw lets active capabilities supply the drawn tile.
func (p *TilePhase) overrideDraw(s Snapshot) Snapshot {
	for _, c := range p.rules.active(s) {
		if o, ok := c.(DrawOverride); ok {
			s = o.OverrideDraw(s)
			if s.Drawn != nil {
				return s
			}
		}
	}
	return s
}

// packExhausted asks active capabilities, in order, where an empty pack
// leads. Without any taker the game is over.
func (p *TilePhase) packExhausted(s Snapshot) (Snapshot, Phase) {
	for _, c := range p.rules.active(s) {
		if e, ok := c.(PackExhaustion); ok {
			next, phase, handled := e.PackExhausted(s)
			s = next
			if handled {
				return s, phase
			}
		}
	}
	return s, PhaseGameOver
}

// drawTile takes the next regular tile from the pack.
func (p *TilePhase) drawTile(s Snapshot) (Snapshot, error) {
	if p.drawer == nil {
		return s, fmt.Errorf("draw tile: drawer is required")
	}
	idx, err := p.drawer.NextIndex(s.Pack)
	if err != nil {
		return s, fmt.Errorf("draw tile: %w", err)
	}
	tile, pack, err := s.Pack.TakeAt(idx)
	if err != nil {
		return s, fmt.Errorf("draw tile: %w", err)
	}
	s = s.WithPack(pack).WithDrawn(tile)
	return s.AppendEvent(tileDrawnEvent(s.TurnPlayer, tile, DrawFromPack, idx)), nil
}

// discardTile moves tile to the discard sequence.
func discardTile(s Snapshot, tile Tile) Snapshot {
	return s.AppendDiscard(tile).AppendEvent(tileDiscardedEvent(tile))
}
