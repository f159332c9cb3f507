package engine

import "slices"

// Capability identifiers understood by the tile phase.
const (
	CapBazaar CapabilityID = "bazaar"
	CapAbbey  CapabilityID = "abbey"
	CapCount  CapabilityID = "count"
	CapHill   CapabilityID = "hill"
	CapBridge CapabilityID = "bridge"
)

// StandardCapabilities returns every built-in capability in the order the
// tile phase must consult them.
func StandardCapabilities() []Capability {
	return []Capability{Bazaar{}, Abbey{}, Count{}, Hill{}, Bridge{}}
}

// StandardRuleset registers StandardCapabilities.
func StandardRuleset() Ruleset {
	r, _ := NewRuleset(StandardCapabilities()...)
	return r
}

// ---------------------------------------------------------------------------
// Bazaar
// ---------------------------------------------------------------------------

// BazaarItem is a tile bought at auction and earmarked for its owner.
type BazaarItem struct {
	Tile  Tile `json:"tile"`
	Owner int  `json:"owner"`
}

// BazaarQueue is the ordered supply of auctioned tiles.
type BazaarQueue struct {
	Items []BazaarItem `json:"items"`
}

func (q BazaarQueue) IsEmpty() bool { return len(q.Items) == 0 }

// Dequeue returns the head item and the remaining queue.
func (q BazaarQueue) Dequeue() (BazaarItem, BazaarQueue, bool) {
	if q.IsEmpty() {
		return BazaarItem{}, q, false
	}
	return q.Items[0], BazaarQueue{Items: slices.Clone(q.Items[1:])}, true
}

// BazaarModel is the bazaar's capability data. Supply is nil while no auction
// is in flight; an empty non-nil supply means the auction's tiles are used up
// but the auction itself is not resolved yet.
type BazaarModel struct {
	Supply *BazaarQueue `json:"supply"`
}

// Bazaar hands out auctioned tiles before the regular draw and asks for a new
// auction whenever a bazaar tile is placed.
type Bazaar struct{}

func (Bazaar) ID() CapabilityID { return CapBazaar }

// OverrideDraw gives the turn player their bought tile. When the head item
// belongs to someone else the queue is left as is and the regular draw runs.
// That only happens after a previous bazaar tile was discarded or passed.
func (Bazaar) OverrideDraw(s Snapshot) Snapshot {
	model, _ := Model[BazaarModel](s, CapBazaar)
	if model.Supply == nil {
		return s
	}
	item, rest, ok := model.Supply.Dequeue()
	if !ok || item.Owner != s.TurnPlayer {
		return s
	}
	model.Supply = &rest
	s = WithModel(s, CapBazaar, model)
	s = s.WithDrawn(item.Tile)
	return s.AppendEvent(tileDrawnEvent(s.TurnPlayer, item.Tile, DrawFromBazaar, -1))
}

// PackExhausted skips the player's turn when neither the pack nor the bazaar
// can offer a tile.
func (Bazaar) PackExhausted(s Snapshot) (Snapshot, Phase, bool) {
	model, _ := Model[BazaarModel](s, CapBazaar)
	if model.Supply != nil {
		return s, PhaseCleanUpTurn, true
	}
	return s, "", false
}

// AfterPlacement raises the auction flag for a placed bazaar tile unless an
// auction is still unresolved.
func (Bazaar) AfterPlacement(s Snapshot, placed PlacedTile) Snapshot {
	if !placed.Tile.HasModifier(ModifierBazaar) {
		return s
	}
	model, _ := Model[BazaarModel](s, CapBazaar)
	if model.Supply != nil {
		return s
	}
	return s.AddFlag(FlagBazaarAuction)
}

// ---------------------------------------------------------------------------
// Abbey
// ---------------------------------------------------------------------------

// AbbeyModel records the last player allowed a turn once the pack is empty.
type AbbeyModel struct {
	EndPlayer int `json:"endPlayer"`
}

// Abbey gives every player one more turn, to place their abbey, after the
// pack runs out.
type Abbey struct{}

func (Abbey) ID() CapabilityID { return CapAbbey }

// PackExhausted marks the turn player's predecessor as the last player the
// first time the pack is found empty. Until that player's turn comes the
// phase skips to turn-part clean-up; on their turn the game proceeds to end.
func (Abbey) PackExhausted(s Snapshot) (Snapshot, Phase, bool) {
	model, ok := Model[AbbeyModel](s, CapAbbey)
	if !ok {
		model = AbbeyModel{EndPlayer: s.PrevPlayer(s.TurnPlayer)}
		s = WithModel(s, CapAbbey, model)
	}
	if model.EndPlayer != s.TurnPlayer {
		return s, PhaseCleanUpTurnPart, true
	}
	return s, "", false
}

// ---------------------------------------------------------------------------
// Count of Carcassonne
// ---------------------------------------------------------------------------

// Count routes an exhausted game through its own final scoring.
type Count struct{}

func (Count) ID() CapabilityID { return CapCount }

func (Count) PackExhausted(s Snapshot) (Snapshot, Phase, bool) {
	return s, PhaseFinalScoring, true
}

// ---------------------------------------------------------------------------
// Hills
// ---------------------------------------------------------------------------

// Hill hides one tile from the drawable pack for every hill tile placed.
type Hill struct{}

func (Hill) ID() CapabilityID { return CapHill }

func (Hill) AfterPlacement(s Snapshot, placed PlacedTile) Snapshot {
	if !placed.Tile.HasModifier(ModifierHill) || s.Pack.IsEmpty() {
		return s
	}
	s = s.WithPack(s.Pack.IncreaseHiddenUnderHills())
	return s.AppendEvent(tilesHiddenEvent(s.Pack.HiddenUnderHills))
}

// ---------------------------------------------------------------------------
// Bridges
// ---------------------------------------------------------------------------

// BridgeModel is the ledger of bridges placed on the board.
type BridgeModel struct {
	Placed []FeaturePointer `json:"placed"`
}

// Add records ptr once.
func (m BridgeModel) Add(ptr FeaturePointer) BridgeModel {
	if slices.Contains(m.Placed, ptr) {
		return m
	}
	return BridgeModel{Placed: append(slices.Clone(m.Placed), ptr)}
}

// Bridge owns the bridge ledger. Mandatory bridges are applied by the tile
// phase itself; the capability only needs to be active to own the data.
type Bridge struct{}

func (Bridge) ID() CapabilityID { return CapBridge }

// recordBridge adds ptr to the ledger while the capability is active.
func recordBridge(s Snapshot, ptr FeaturePointer) Snapshot {
	if !s.HasCapability(CapBridge) {
		return s
	}
	model, _ := Model[BridgeModel](s, CapBridge)
	return WithModel(s, CapBridge, model.Add(ptr))
}
