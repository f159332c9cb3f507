// internal/game/sync_state.go
package game

import (
	"github.com/google/uuid"
	engine "github.com/jason-s-yu/cloister/engine"
	"github.com/jason-s-yu/cloister/service/internal/integrity"
)

// SyncPlayerState represents one seat as seen by any observer.
type SyncPlayerState struct {
	PlayerID      uuid.UUID `json:"playerId"`
	Name          string    `json:"name"`
	Seat          int       `json:"seat"`
	Connected     bool      `json:"connected"`
	IsCurrentTurn bool      `json:"isCurrentTurn"`
	IsSelf        bool      `json:"isSelf"`
	Bridges       int       `json:"bridges"`
}

// SyncState is the public game state sent on start, reconnect and request.
// The order of the remaining pack is never revealed, only its size.
type SyncState struct {
	GameID          uuid.UUID             `json:"gameId"`
	Started         bool                  `json:"started"`
	GameOver        bool                  `json:"gameOver"`
	Corrupt         bool                  `json:"corrupt"`
	TurnID          int                   `json:"turnId"`
	CurrentPlayerID uuid.UUID             `json:"currentPlayerId"`
	PackSize        int                   `json:"packSize"`
	HiddenTiles     int                   `json:"hiddenTiles"`
	Discarded       []engine.Tile         `json:"discarded"`
	Board           []engine.PlacedTile   `json:"board"`
	Pending         *engine.PendingAction `json:"pending,omitempty"`
	Capabilities    []engine.CapabilityID `json:"capabilities"`
	Players         []SyncPlayerState     `json:"players"`
	// LastSeq is the sequence number of the newest log entry.
	LastSeq uint64 `json:"lastSeq"`
	// Digest fingerprints the full snapshot so replicas can be compared.
	Digest string `json:"digest,omitempty"`
}

// GetCurrentSyncState builds the state for forUser.
// This function assumes the game lock is HELD by the caller.
func (g *TileGame) GetCurrentSyncState(forUser uuid.UUID) SyncState {
	s := g.Snapshot
	st := SyncState{
		GameID:       g.ID,
		Started:      g.Started,
		GameOver:     g.GameOver,
		Corrupt:      g.Corrupt,
		TurnID:       g.TurnID,
		PackSize:     s.Pack.Size(),
		HiddenTiles:  s.Pack.HiddenUnderHills,
		Discarded:    s.Discarded,
		Board:        s.Board.Placed(),
		Capabilities: g.capabilities,
		Players:      make([]SyncPlayerState, len(g.Players)),
	}
	if n := len(s.Events); n > 0 {
		st.LastSeq = s.Events[n-1].Seq
	}
	if s.Pending != nil {
		cp := *s.Pending
		st.Pending = &cp
	}
	acting := -1
	if g.Started && !g.GameOver && len(g.Players) > 0 {
		acting = s.ActingPlayer()
		st.CurrentPlayerID = g.Players[acting].ID
	}
	for i, p := range g.Players {
		st.Players[i] = SyncPlayerState{
			PlayerID:      p.ID,
			Name:          p.Name,
			Seat:          p.Seat,
			Connected:     p.Connected,
			IsCurrentTurn: i == acting,
			IsSelf:        p.ID == forUser,
			Bridges:       s.TokenCount(i, engine.TokenBridge),
		}
	}
	if digest, err := integrity.SnapshotDigest(s); err == nil {
		st.Digest = digest
	} else {
		g.log.WithError(err).Warn("Failed to digest snapshot.")
	}
	return st
}
