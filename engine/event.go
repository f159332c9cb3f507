package engine

// EventType names a fact appended to the snapshot's event log.
type EventType string

const (
	EventTileDrawn     EventType = "tile_drawn"     // A tile was taken from the pack or the bazaar supply.
	EventTileDiscarded EventType = "tile_discarded" // Drawn tile had no legal placement or was passed.
	EventTilePlaced    EventType = "tile_placed"    // Tile placed on the board.
	EventTokenPlaced   EventType = "token_placed"   // Auxiliary token (bridge) placed.
	EventTilesHidden   EventType = "tiles_hidden"   // Hill hid one more tile from the drawable pack.
)

// DrawSource records where a drawn tile came from.
type DrawSource string

const (
	DrawFromPack   DrawSource = "pack"
	DrawFromBazaar DrawSource = "bazaar"
)

// Event is an immutable log entry. Only the fields relevant to Type are set.
// Events never carry wall-clock data, so equal inputs yield equal logs.
type Event struct {
	Seq      uint64          `json:"seq"`
	Type     EventType       `json:"type"`
	Player   *int            `json:"player,omitempty"`
	Tile     *Tile           `json:"tile,omitempty"`
	Source   DrawSource      `json:"source,omitempty"`
	Index    *int            `json:"index,omitempty"` // pack index of a pack draw
	Position *Position       `json:"position,omitempty"`
	Rotation *Rotation       `json:"rotation,omitempty"`
	Token    *Token          `json:"token,omitempty"`
	Pointer  *FeaturePointer `json:"pointer,omitempty"`
	Hidden   int             `json:"hidden,omitempty"`
}

func intPtr(v int) *int { return &v }

func tileDrawnEvent(player int, tile Tile, source DrawSource, index int) Event {
	ev := Event{Type: EventTileDrawn, Player: intPtr(player), Tile: &tile, Source: source}
	if source == DrawFromPack {
		ev.Index = intPtr(index)
	}
	return ev
}

func tileDiscardedEvent(tile Tile) Event {
	return Event{Type: EventTileDiscarded, Tile: &tile}
}

func tilePlacedEvent(player int, tile Tile, pos Position, rot Rotation) Event {
	return Event{Type: EventTilePlaced, Player: intPtr(player), Tile: &tile, Position: &pos, Rotation: &rot}
}

func tokenPlacedEvent(player int, token Token, ptr FeaturePointer) Event {
	return Event{Type: EventTokenPlaced, Player: intPtr(player), Token: &token, Pointer: &ptr}
}

func tilesHiddenEvent(hidden int) Event {
	return Event{Type: EventTilesHidden, Hidden: hidden}
}
