// internal/game/engine_adapter.go
package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	engine "github.com/jason-s-yu/cloister/engine"
	"github.com/jason-s-yu/cloister/service/internal/cache"
	"github.com/jason-s-yu/cloister/service/internal/storage"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// checkpoint is the persisted form of a session: the engine snapshot plus
// everything the service needs to resume it.
type checkpoint struct {
	Snapshot engine.Snapshot `json:"snapshot"`
	RNG      uint64          `json:"rng"`
	TurnID   int             `json:"turnId"`
	Head     string          `json:"head"`
	Next     engine.Phase    `json:"next,omitempty"`
	Seats    []seatRecord    `json:"seats"`
	Started  bool            `json:"started"`
}

type seatRecord struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// HandlePlayerCommand applies one engine command sent by playerID. A
// rejected request is answered privately and leaves the game unchanged; a
// protocol violation aborts the game.
// Assumes lock is held by the caller.
func (g *TileGame) HandlePlayerCommand(ctx context.Context, playerID uuid.UUID, cmd engine.Command) error {
	ctx, span := g.tracer.Start(ctx, "game.command")
	defer span.End()
	span.SetAttributes(
		attribute.String("game.id", g.ID.String()),
		attribute.String("game.command", fmt.Sprintf("%T", cmd)),
	)

	logger := g.log.WithField("player", playerID)
	if g.GameOver || !g.Started {
		logger.Debugf("Command %T ignored (started:%v, over:%v).", cmd, g.Started, g.GameOver)
		g.fireEventToPlayer(playerID, privateError(ErrGameClosed))
		return ErrGameClosed
	}
	p := g.getPlayerByID(playerID)
	if p == nil {
		logger.Warn("Command from a player not seated in this game.")
		return fmt.Errorf("%w: player %s is not seated", engine.ErrInvalidRequest, playerID)
	}
	span.SetAttributes(attribute.Int("game.seat", p.Seat))

	err := g.apply(ctx, p, cmd)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// apply runs cmd for p and commits the result.
// Assumes lock is held by the caller.
func (g *TileGame) apply(ctx context.Context, p *Player, cmd engine.Command) error {
	step, err := g.phase.Handle(g.Snapshot, p.Seat, cmd)
	if err != nil {
		if errors.Is(err, engine.ErrInvalidRequest) {
			g.log.WithFields(logrus.Fields{"player": p.ID, "seat": p.Seat}).WithError(err).Info("Request rejected.")
			g.fireEventToPlayer(p.ID, privateError(err))
			g.resendPending(p)
			return err
		}
		g.fireEventToPlayer(p.ID, GameEvent{Type: EventPrivateError, Payload: map[string]interface{}{"message": err.Error(), "fatal": true}})
		g.abort(ctx, err)
		return err
	}
	if err := g.advance(ctx, step); err != nil {
		g.abort(ctx, err)
		return err
	}
	return nil
}

// maxHandoffs bounds consecutive phase handoffs without a player decision.
// Only an exhausted pack produces handoffs without drawing, one per seat at most.
func (g *TileGame) maxHandoffs() int { return 2*len(g.Players) + 4 }

// advance commits step and runs the phases that follow the tile phase until
// a player owes a decision or the game ends. No follow-up phase is
// implemented here: every handoff other than the end of the game clears the
// bazaar request, moves to the next player and re-enters the tile phase.
// Assumes lock is held by the caller.
func (g *TileGame) advance(ctx context.Context, step engine.Step) error {
	for handoffs := 0; ; handoffs++ {
		if handoffs > g.maxHandoffs() {
			return fmt.Errorf("phase runner did not settle after %d handoffs", handoffs)
		}
		if err := g.commit(ctx, step); err != nil {
			return err
		}
		if step.Suspended() {
			g.announcePending()
			g.scheduleTurnTimer()
			return nil
		}

		switch step.Next {
		case engine.PhaseGameOver, engine.PhaseFinalScoring:
			g.endGame(ctx, step.Next)
			return nil
		}

		g.log.WithField("phase", step.Next).Debug("Tile phase handed off.")
		g.fireEvent(GameEvent{Type: EventPhaseHandoff, Phase: step.Next, User: g.eventUser(step.State.TurnPlayer)})
		next := step.State.ClearFlag(engine.FlagBazaarAuction)
		next = next.WithTurnPlayer(next.NextPlayer(next.TurnPlayer))
		g.Snapshot = next
		g.TurnID++
		g.broadcastPlayerTurn()

		var err error
		if step, err = g.phase.Enter(next); err != nil {
			return fmt.Errorf("enter tile phase: %w", err)
		}
	}
}

// commit makes the step's snapshot current: new log entries are hashed onto
// the chain, journaled with the checkpoint, cached and broadcast.
// Assumes lock is held by the caller.
func (g *TileGame) commit(ctx context.Context, step engine.Step) error {
	s := step.State
	if len(s.Events) < g.journaled {
		return fmt.Errorf("event log shrank from %d to %d", g.journaled, len(s.Events))
	}
	fresh := s.Events[g.journaled:]
	hashes, err := g.chain.Extend(g.head, fresh)
	if err != nil {
		return err
	}
	head := g.head
	if len(hashes) > 0 {
		head = hashes[len(hashes)-1]
	}

	prevSnap, prevHead, prevNext := g.Snapshot, g.head, g.next
	rollback := func() { g.Snapshot, g.head, g.next = prevSnap, prevHead, prevNext }
	g.Snapshot, g.head, g.next = s, head, step.Next
	blob, err := g.marshalCheckpoint()
	if err != nil {
		rollback()
		return err
	}

	if g.journal != nil {
		records := make([]storage.Record, len(fresh))
		for i, ev := range fresh {
			records[i] = storage.Record{Event: ev, Hash: hashes[i]}
		}
		if err := g.journal.AppendEvents(ctx, g.ID, records, blob); err != nil {
			rollback()
			return fmt.Errorf("journal events: %w", err)
		}
	}
	if err := g.cache.Save(ctx, g.ID, cache.Entry{State: blob, Head: head}); err != nil {
		g.log.WithError(err).Warn("Failed to cache snapshot.")
	}

	g.journaled = len(s.Events)
	g.commits++
	for i := range fresh {
		ev := fresh[i]
		g.fireEvent(GameEvent{Type: EventGameLog, Log: &ev, User: g.eventUser(playerOf(ev))})
	}
	return nil
}

func playerOf(ev engine.Event) int {
	if ev.Player == nil {
		return -1
	}
	return *ev.Player
}

// announcePending tells every player who owes the decision and what it is.
// Assumes lock is held by the caller.
func (g *TileGame) announcePending() {
	pending := g.Snapshot.Pending
	if pending == nil {
		return
	}
	cp := *pending
	g.fireEvent(GameEvent{Type: EventPendingAction, User: g.eventUser(cp.Player), Pending: &cp})
}

// resendPending repeats the pending decision to p after a rejected reply.
func (g *TileGame) resendPending(p *Player) {
	pending := g.Snapshot.Pending
	if pending == nil || pending.Player != p.Seat {
		return
	}
	cp := *pending
	g.fireEventToPlayer(p.ID, GameEvent{Type: EventPendingAction, User: g.eventUser(p.Seat), Pending: &cp})
}

func privateError(err error) GameEvent {
	return GameEvent{Type: EventPrivateError, Payload: map[string]interface{}{"message": err.Error()}}
}

func (g *TileGame) marshalCheckpoint() ([]byte, error) {
	cp := checkpoint{
		Snapshot: g.Snapshot,
		RNG:      g.rng.State(),
		TurnID:   g.TurnID,
		Head:     g.head,
		Next:     g.next,
		Started:  g.Started,
	}
	for _, p := range g.Players {
		cp.Seats = append(cp.Seats, seatRecord{ID: p.ID, Name: p.Name})
	}
	b, err := json.Marshal(cp)
	if err != nil {
		return nil, fmt.Errorf("encode checkpoint: %w", err)
	}
	return b, nil
}

// Restore rebuilds a session from a checkpoint written by a previous
// process. opts must describe the same game; its tiles are replaced by the
// checkpoint's pack.
func Restore(opts Options, data []byte) (*TileGame, error) {
	var cp checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	if len(cp.Seats) != len(cp.Snapshot.Players) {
		return nil, fmt.Errorf("checkpoint has %d seats for %d players", len(cp.Seats), len(cp.Snapshot.Players))
	}
	g, err := NewTileGame(opts)
	if err != nil {
		return nil, err
	}
	g.Snapshot = cp.Snapshot
	g.rng = engine.NewXorShift(cp.RNG)
	g.phase = engine.NewTilePhase(opts.Source, g.phase.Rules(), engine.RandomDrawer{Random: g.rng})
	g.TurnID = cp.TurnID
	g.head = cp.Head
	g.next = cp.Next
	g.journaled = len(cp.Snapshot.Events)
	g.Started = cp.Started
	g.Players = g.Players[:0]
	for i, s := range cp.Seats {
		g.Players = append(g.Players, &Player{ID: s.ID, Name: s.Name, Seat: i})
	}
	return g, nil
}

// Resume re-arms a restored session. A pending decision is announced again
// and its timer restarted; a checkpoint taken at a handoff continues from
// that handoff. Assumes lock is held by caller.
func (g *TileGame) Resume(ctx context.Context) error {
	// The session outlives the request that happened to load it.
	ctx = context.WithoutCancel(ctx)
	if !g.Started || g.GameOver {
		return nil
	}
	if g.Snapshot.Pending != nil {
		g.announcePending()
		g.scheduleTurnTimer()
		return nil
	}
	step := engine.Step{State: g.Snapshot, Next: g.next}
	if step.Suspended() {
		var err error
		if step, err = g.phase.Enter(g.Snapshot); err != nil {
			g.abort(ctx, err)
			return err
		}
	}
	if err := g.advance(ctx, step); err != nil {
		g.abort(ctx, err)
		return err
	}
	return nil
}
