// internal/game/game.go
package game

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	engine "github.com/jason-s-yu/cloister/engine"
	"github.com/jason-s-yu/cloister/service/internal/cache"
	"github.com/jason-s-yu/cloister/service/internal/integrity"
	"github.com/jason-s-yu/cloister/service/internal/storage"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrGameClosed indicates a command sent to a game that is over or corrupt.
	ErrGameClosed = errors.New("game is closed")
	// ErrUnknownCapability indicates a capability id no rule module serves.
	ErrUnknownCapability = errors.New("unknown capability")
)

// OnGameEndFunc defines the signature for a callback function executed when a game ends.
// It receives the game ID, the phase the tile phase handed off to and the tiles
// each player placed.
type OnGameEndFunc func(gameID uuid.UUID, phase engine.Phase, placed map[uuid.UUID]int)

// GameEventType represents the type of a game-related event broadcast via WebSockets.
type GameEventType string

// Constants defining the various GameEvent types used for WebSocket communication.
const (
	EventGameStart        GameEventType = "game_start"         // Public: Game started, includes the first sync.
	EventGameLog          GameEventType = "game_log"           // Public: One engine log entry (draw, discard, placement, token, hidden tiles).
	EventGamePlayerTurn   GameEventType = "game_player_turn"   // Public: Notification of the current player's turn.
	EventPendingAction    GameEventType = "pending_action"     // Public: A player owes a tile decision.
	EventPhaseHandoff     GameEventType = "phase_handoff"      // Public: Tile phase handed control to another phase.
	EventPlayerTimeout    GameEventType = "player_timeout"     // Public: Turn timer resolved a decision for the player.
	EventPrivateSyncState GameEventType = "private_sync_state" // Private: Full game state sync for a player.
	EventPrivateError     GameEventType = "private_error"      // Private: The player's last request was rejected.
	EventGameCorrupt      GameEventType = "game_corrupt"       // Public: Game aborted after a protocol violation.
	EventGameEnd          GameEventType = "game_end"           // Public: Game has ended, includes results.
)

// EventUser identifies a user within a GameEvent payload.
type EventUser struct {
	ID   uuid.UUID `json:"id"`
	Seat int       `json:"seat"`
}

// GameEvent is the standard structure for broadcasting game state changes and actions.
type GameEvent struct {
	Type    GameEventType         `json:"type"`
	User    *EventUser            `json:"user,omitempty"`    // The user initiating or targeted by the event.
	Log     *engine.Event         `json:"log,omitempty"`     // Engine log entry for game_log events.
	Pending *engine.PendingAction `json:"pending,omitempty"` // Decision owed, for pending_action events.
	Phase   engine.Phase          `json:"phase,omitempty"`   // Target phase of a handoff or the end.

	Payload map[string]interface{} `json:"payload,omitempty"` // Additional arbitrary data.

	State *SyncState `json:"state,omitempty"` // Full state for sync events.
}

// Player is one seat at the table.
type Player struct {
	ID        uuid.UUID
	Name      string
	Seat      int
	Connected bool
}

// Options configures a new TileGame.
type Options struct {
	ID           uuid.UUID
	Seed         uint64
	TileSet      string
	Tiles        []engine.Tile
	StartTile    *engine.Tile
	Players      []string
	Capabilities []engine.CapabilityID
	BridgeTokens int
	TurnDuration time.Duration
	// Source computes legal placements; it is required.
	Source  engine.PlacementSource
	Journal storage.Journal
	Cache   *cache.SnapshotCache
	Chain   integrity.Chain
	Logger  *logrus.Entry
}

// TileGame represents the state and logic for a single game session. The
// engine snapshot is authoritative; the session adds seats, persistence,
// broadcasting and the turn timer around it.
type TileGame struct {
	ID      uuid.UUID // Unique identifier for this game instance.
	Seed    uint64    // Seed of the draw order.
	TileSet string    // Name of the tile set the pack was built from.

	Players []*Player // Seats in turn order.

	// Engine integration: authoritative game state.
	Snapshot     engine.Snapshot
	phase        *engine.TilePhase
	rng          *engine.XorShift
	capabilities []engine.CapabilityID
	next         engine.Phase // Handoff target of the last commit, empty while suspended.

	// Turn Management
	TurnID       int           // Increments each turn, useful for state synchronization and checks.
	TurnDuration time.Duration // Configurable duration for each turn timer.
	turnTimer    *time.Timer   // Active timer for the current decision.
	commits      int           // Increments on every committed snapshot; guards stale timers.

	// Game Lifecycle State
	Started  bool
	GameOver bool
	Corrupt  bool // Set when a protocol violation aborted the game.

	// Persistence
	journal   storage.Journal
	cache     *cache.SnapshotCache
	chain     integrity.Chain
	head      string // Chain hash of the last journaled event.
	journaled int    // Number of snapshot events already journaled.

	Mu sync.Mutex // Mutex protecting concurrent access to game state.

	// Communication Callbacks
	BroadcastFn         func(ev GameEvent)                     // Sends an event to all connected players.
	BroadcastToPlayerFn func(playerID uuid.UUID, ev GameEvent) // Sends an event to a single player.
	OnGameEnd           OnGameEndFunc                          // Callback executed when the game finishes.

	log    *logrus.Entry
	tracer trace.Tracer
}

// NewTileGame seats the players and builds the initial snapshot. The game
// does not draw until Start is called.
func NewTileGame(opts Options) (*TileGame, error) {
	if opts.Source == nil {
		return nil, engine.ErrPlacementSourceRequired
	}
	rules := engine.StandardRuleset()
	for _, id := range opts.Capabilities {
		if rules.Get(id) == nil {
			return nil, fmt.Errorf("new game: %w %q", ErrUnknownCapability, id)
		}
	}
	snap, err := engine.NewGame(engine.Setup{
		Players:      opts.Players,
		Tiles:        opts.Tiles,
		Capabilities: opts.Capabilities,
		StartTile:    opts.StartTile,
		BridgeTokens: opts.BridgeTokens,
	})
	if err != nil {
		return nil, err
	}

	id := opts.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	g := &TileGame{
		ID:           id,
		Seed:         opts.Seed,
		TileSet:      opts.TileSet,
		Snapshot:     snap,
		rng:          engine.NewXorShift(opts.Seed),
		capabilities: opts.Capabilities,
		TurnDuration: opts.TurnDuration,
		journal:      opts.Journal,
		cache:        opts.Cache,
		chain:        opts.Chain,
		log:          logger.WithField("game_id", id),
		tracer:       otel.Tracer("github.com/jason-s-yu/cloister/service/internal/game"),
	}
	g.phase = engine.NewTilePhase(opts.Source, rules, engine.RandomDrawer{Random: g.rng})
	for i, name := range opts.Players {
		g.Players = append(g.Players, &Player{ID: uuid.New(), Name: name, Seat: i})
	}
	return g, nil
}

// Record returns the storage header for the game.
// Assumes lock is held by caller.
func (g *TileGame) Record() storage.Game {
	names := make([]string, len(g.Players))
	for i, p := range g.Players {
		names[i] = p.Name
	}
	status := storage.StatusActive
	switch {
	case g.Corrupt:
		status = storage.StatusCorrupt
	case g.GameOver:
		status = storage.StatusFinished
	}
	return storage.Game{
		ID:           g.ID,
		Seed:         g.Seed,
		TileSet:      g.TileSet,
		Players:      names,
		Capabilities: g.capabilities,
		Status:       status,
	}
}

// Start enters the tile phase for the first turn player and announces the
// game. Assumes lock is held by caller.
func (g *TileGame) Start(ctx context.Context) error {
	if g.Started || g.GameOver {
		g.log.Warnf("Start called in invalid state (Started:%v, Over:%v).", g.Started, g.GameOver)
		return nil
	}
	g.Started = true
	g.log.Info("Game started.")
	g.broadcastSyncStateToAll(EventGameStart)
	g.broadcastPlayerTurn()

	step, err := g.phase.Enter(g.Snapshot)
	if err != nil {
		g.abort(ctx, err)
		return err
	}
	if err := g.advance(ctx, step); err != nil {
		g.abort(ctx, err)
		return err
	}
	return nil
}

// fireEvent broadcasts an event to all connected players via the BroadcastFn callback.
// Assumes lock is held by caller.
func (g *TileGame) fireEvent(ev GameEvent) {
	if g.BroadcastFn != nil {
		g.BroadcastFn(ev)
	} else {
		g.log.Debugf("BroadcastFn is nil, dropping event type %s.", ev.Type)
	}
}

// fireEventToPlayer sends an event to a specific connected player.
// Assumes lock is held by caller.
func (g *TileGame) fireEventToPlayer(playerID uuid.UUID, ev GameEvent) {
	if g.BroadcastToPlayerFn == nil {
		g.log.Debugf("BroadcastToPlayerFn is nil, dropping private event type %s.", ev.Type)
		return
	}
	if p := g.getPlayerByID(playerID); p != nil && p.Connected {
		g.BroadcastToPlayerFn(playerID, ev)
	}
}

// HandleDisconnect marks a player as disconnected. If the player owes the
// pending decision it is resolved as on a timeout so the table keeps moving.
// Assumes lock is held by caller.
func (g *TileGame) HandleDisconnect(ctx context.Context, playerID uuid.UUID) {
	p := g.getPlayerByID(playerID)
	if p == nil {
		g.log.WithField("player", playerID).Warn("Disconnected player not found.")
		return
	}
	if !p.Connected {
		return
	}
	p.Connected = false
	g.log.WithField("player", playerID).Infof("Player disconnected, %d still connected.", g.countConnectedPlayers())
	g.broadcastSyncStateToAll(EventPrivateSyncState)

	if g.Started && !g.GameOver && g.Snapshot.Pending != nil && g.Snapshot.Pending.Player == p.Seat {
		g.handleTimeout(ctx, playerID)
	}
}

// HandleReconnect marks a player as connected and sends them the current game state.
// Assumes lock is held by caller.
func (g *TileGame) HandleReconnect(playerID uuid.UUID) bool {
	p := g.getPlayerByID(playerID)
	if p == nil {
		g.log.WithField("player", playerID).Warn("Reconnecting player not found in game.")
		return false
	}
	p.Connected = true
	g.log.WithFields(logrus.Fields{"player": playerID, "name": p.Name}).Info("Player connected.")
	g.broadcastSyncStateToAll(EventPrivateSyncState)
	if g.Snapshot.Pending != nil && g.Snapshot.Pending.Player == p.Seat {
		pending := *g.Snapshot.Pending
		g.fireEventToPlayer(playerID, GameEvent{Type: EventPendingAction, User: g.eventUser(p.Seat), Pending: &pending})
	}
	return true
}

// SendSyncState sends the current game state to a single player.
// Assumes lock is held by caller.
func (g *TileGame) SendSyncState(playerID uuid.UUID) {
	g.sendSyncState(playerID, EventPrivateSyncState)
}

func (g *TileGame) sendSyncState(playerID uuid.UUID, typ GameEventType) {
	state := g.GetCurrentSyncState(playerID)
	g.fireEventToPlayer(playerID, GameEvent{Type: typ, State: &state})
}

// broadcastSyncStateToAll sends the game state to all currently connected players.
// Assumes lock is held by caller.
func (g *TileGame) broadcastSyncStateToAll(typ GameEventType) {
	for _, p := range g.Players {
		if p.Connected {
			g.sendSyncState(p.ID, typ)
		}
	}
}

// broadcastPlayerTurn notifies all players of the current player's turn.
// Assumes lock is held by caller.
func (g *TileGame) broadcastPlayerTurn() {
	seat := g.Snapshot.TurnPlayer
	g.log.WithField("player", g.Players[seat].ID).Debugf("Turn %d starting.", g.TurnID)
	g.fireEvent(GameEvent{
		Type:    EventGamePlayerTurn,
		User:    g.eventUser(seat),
		Payload: map[string]interface{}{"turn": g.TurnID},
	})
}

// countConnectedPlayers returns the number of players currently marked as connected.
// Assumes lock is held by caller.
func (g *TileGame) countConnectedPlayers() int {
	count := 0
	for _, p := range g.Players {
		if p.Connected {
			count++
		}
	}
	return count
}

// getPlayerByID returns the seat held by playerID, or nil.
func (g *TileGame) getPlayerByID(playerID uuid.UUID) *Player {
	for _, p := range g.Players {
		if p.ID == playerID {
			return p
		}
	}
	return nil
}

func (g *TileGame) eventUser(seat int) *EventUser {
	if seat < 0 || seat >= len(g.Players) {
		return nil
	}
	return &EventUser{ID: g.Players[seat].ID, Seat: seat}
}

// abort marks the game corrupt after a protocol violation or an internal
// failure and closes it for every player.
// Assumes lock is held by caller.
func (g *TileGame) abort(ctx context.Context, cause error) {
	if g.Corrupt {
		return
	}
	g.Corrupt = true
	g.GameOver = true
	g.stopTurnTimer()
	g.log.WithError(cause).Error("Game aborted.")

	if g.journal != nil {
		if err := g.journal.SetGameStatus(ctx, g.ID, storage.StatusCorrupt); err != nil {
			g.log.WithError(err).Error("Failed to mark game corrupt in journal.")
		}
	}
	if err := g.cache.Delete(ctx, g.ID); err != nil {
		g.log.WithError(err).Warn("Failed to drop cached snapshot.")
	}
	g.fireEvent(GameEvent{Type: EventGameCorrupt, Payload: map[string]interface{}{"reason": cause.Error()}})
	if g.OnGameEnd != nil {
		g.OnGameEnd(g.ID, "", nil)
	}
}

// endGame closes a game the tile phase ended.
// Assumes lock is held by caller.
func (g *TileGame) endGame(ctx context.Context, phase engine.Phase) {
	if g.GameOver {
		return
	}
	g.GameOver = true
	g.stopTurnTimer()

	placed := make(map[uuid.UUID]int, len(g.Players))
	results := make([]map[string]interface{}, len(g.Players))
	for _, ev := range g.Snapshot.Events {
		if ev.Type == engine.EventTilePlaced && ev.Player != nil {
			placed[g.Players[*ev.Player].ID]++
		}
	}
	for i, p := range g.Players {
		results[i] = map[string]interface{}{
			"id":      p.ID,
			"name":    p.Name,
			"placed":  placed[p.ID],
			"bridges": g.Snapshot.TokenCount(i, engine.TokenBridge),
		}
	}
	g.log.WithField("phase", phase).Info("Game ended.")

	if g.journal != nil {
		if err := g.journal.SetGameStatus(ctx, g.ID, storage.StatusFinished); err != nil {
			g.log.WithError(err).Error("Failed to mark game finished in journal.")
		}
	}
	g.fireEvent(GameEvent{
		Type:  EventGameEnd,
		Phase: phase,
		Payload: map[string]interface{}{
			"players":   results,
			"discarded": len(g.Snapshot.Discarded),
			"board":     g.Snapshot.Board.Len(),
		},
	})
	if g.OnGameEnd != nil {
		g.OnGameEnd(g.ID, phase, placed)
	}
}
