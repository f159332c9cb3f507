// internal/game/timeouts.go
package game

import (
	"context"
	"time"

	"github.com/google/uuid"
	engine "github.com/jason-s-yu/cloister/engine"
)

// scheduleTurnTimer arms the timer for the pending decision. A timer that
// fires after the game moved on is ignored.
// Assumes lock is held by caller.
func (g *TileGame) scheduleTurnTimer() {
	g.stopTurnTimer()
	if g.TurnDuration <= 0 || g.GameOver || !g.Started {
		return
	}
	pending := g.Snapshot.Pending
	if pending == nil {
		return
	}
	player := g.Players[pending.Player]
	if !player.Connected {
		g.log.WithField("player", player.ID).Debug("Pending player is disconnected, waiting for the timer.")
	}

	expected := g.commits
	playerID := player.ID
	g.turnTimer = time.AfterFunc(g.TurnDuration, func() {
		g.Mu.Lock()
		defer g.Mu.Unlock()
		if g.GameOver || g.commits != expected {
			return
		}
		g.log.WithField("player", playerID).Infof("Turn %d: timer fired.", g.TurnID)
		g.handleTimeout(context.Background(), playerID)
	})
}

// stopTurnTimer cancels the active timer, if any.
func (g *TileGame) stopTurnTimer() {
	if g.turnTimer != nil {
		g.turnTimer.Stop()
		g.turnTimer = nil
	}
}

// handleTimeout resolves the decision playerID owes: a pass when the rules
// allow one, otherwise the first offered placement.
// Assumes lock is held by caller.
func (g *TileGame) handleTimeout(ctx context.Context, playerID uuid.UUID) {
	p := g.getPlayerByID(playerID)
	pending := g.Snapshot.Pending
	if p == nil || pending == nil || pending.Player != p.Seat {
		return
	}
	cmd := autoReply(*pending)
	g.log.WithField("player", playerID).Infof("Resolving decision on timeout with %T.", cmd)
	g.fireEvent(GameEvent{
		Type:    EventPlayerTimeout,
		User:    g.eventUser(p.Seat),
		Payload: map[string]interface{}{"turn": g.TurnID, "pass": pending.CanPass},
	})
	if err := g.apply(ctx, p, cmd); err != nil {
		g.log.WithField("player", playerID).WithError(err).Error("Timeout reply failed.")
	}
}

// autoReply picks the reply used when a player runs out of time.
func autoReply(p engine.PendingAction) engine.Command {
	if p.CanPass || len(p.Options) == 0 {
		return engine.Pass{}
	}
	o := p.Options[0]
	return engine.PlaceTile{TileID: p.Tile.ID, Position: o.Position, Rotation: o.Rotation}
}
