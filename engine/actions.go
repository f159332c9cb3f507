package engine

import "fmt"

// Command is a player reply to a pending tile placement.
type Command interface {
	isCommand()
}

// Pass declines to place the drawn tile.
type Pass struct{}

// PlaceTile places the drawn tile.
type PlaceTile struct {
	TileID   TileID   `json:"tileId"`
	Position Position `json:"position"`
	Rotation Rotation `json:"rotation"`
}

func (Pass) isCommand()      {}
func (PlaceTile) isCommand() {}

// Handle routes cmd from player to its handler.
func (p *TilePhase) Handle(s Snapshot, player int, cmd Command) (Step, error) {
	switch c := cmd.(type) {
	case Pass:
		return p.HandlePass(s, player)
	case PlaceTile:
		return p.HandlePlaceTile(s, player, c)
	case nil:
		return Step{State: s}, fmt.Errorf("%w: command is required", ErrInvalidRequest)
	default:
		return Step{State: s}, fmt.Errorf("%w: unsupported command %T", ErrInvalidRequest, cmd)
	}
}

// pendingPlacement returns the tile placement the snapshot is waiting on.
func pendingPlacement(s Snapshot) (PendingAction, error) {
	if s.Pending == nil || s.Pending.Kind != ActionPlaceTile {
		return PendingAction{}, fmt.Errorf("%w: no tile placement is pending", ErrProtocolViolation)
	}
	return *s.Pending, nil
}

// HandlePass discards the offered tile and draws again. Passing is only
// offered when every placement needs a bridge; a pass at any other time means
// the caller and the engine disagree about the game and is fatal.
func (p *TilePhase) HandlePass(s Snapshot, player int) (Step, error) {
	action, err := pendingPlacement(s)
	if err != nil {
		return Step{State: s}, err
	}
	if player != action.Player {
		return Step{State: s}, fmt.Errorf("%w: player %d is not the acting player", ErrInvalidRequest, player)
	}
	if !CanPass(action.Options) {
		return Step{State: s}, fmt.Errorf("%w: pass is not allowed", ErrProtocolViolation)
	}

	s = discardTile(s.ClearPending().ClearDrawn(), action.Tile)
	return p.Enter(s)
}

// HandlePlaceTile applies a placement chosen from the pending offer, places a
// mandatory bridge first when the option requires one, then runs placement
// effects and hands off to PhaseAction.
func (p *TilePhase) HandlePlaceTile(s Snapshot, player int, msg PlaceTile) (Step, error) {
	action, err := pendingPlacement(s)
	if err != nil {
		return Step{State: s}, err
	}
	// A reply from another seat is a stale or misdirected request, whatever
	// tile it names. Only the acting player can desynchronise the game.
	if player != action.Player {
		return Step{State: s}, fmt.Errorf("%w: player %d is not the acting player", ErrInvalidRequest, player)
	}
	tile := action.Tile
	if tile.ID != msg.TileID {
		return Step{State: s}, fmt.Errorf("%w: %s received, but %s is drawn", ErrProtocolViolation, msg.TileID, tile.ID)
	}
	option, ok := FindOption(action.Options, msg.Position, msg.Rotation)
	if !ok {
		return Step{State: s}, fmt.Errorf("%w: invalid placement %s,%s", ErrInvalidRequest, msg.Position, msg.Rotation)
	}

	// Work on a copy; the caller's snapshot stays valid on every error path.
	next := s
	bridge := option.MandatoryBridge
	if bridge != nil {
		if next.TokenCount(player, TokenBridge) <= 0 {
			return Step{State: s}, fmt.Errorf("%w: player %d has no bridge left", ErrProtocolViolation, player)
		}
		next = next.AddTokens(player, TokenBridge, -1)
		next = recordBridge(next, *bridge)
		if bridge.Position == msg.Position {
			// Bridge on the tile being placed: store it in the tile's own frame.
			tile = tile.AddBridge(bridge.Location.RotateCCW(msg.Rotation))
		} else {
			board, err := next.Board.PlaceBridge(*bridge)
			if err != nil {
				return Step{State: s}, fmt.Errorf("%w: place bridge: %w", ErrProtocolViolation, err)
			}
			next = next.WithBoard(board)
		}
	}

	board, err := next.Board.PlaceTile(tile, msg.Position, msg.Rotation)
	if err != nil {
		return Step{State: s}, fmt.Errorf("%w: place tile: %w", ErrProtocolViolation, err)
	}
	next = next.WithBoard(board).AppendEvent(tilePlacedEvent(player, tile, msg.Position, msg.Rotation))
	if bridge != nil {
		next = next.AppendEvent(tokenPlacedEvent(player, TokenBridge, *bridge))
	}

	next = next.ClearPending().ClearDrawn()
	placed := PlacedTile{Tile: tile, Position: msg.Position, Rotation: msg.Rotation}
	for _, c := range p.rules.active(next) {
		if e, ok := c.(PlacementEffect); ok {
			next = e.AfterPlacement(next, placed)
		}
	}
	return Step{State: next, Next: PhaseAction}, nil
}
