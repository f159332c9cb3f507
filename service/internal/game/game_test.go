// internal/game/game_test.go
package game

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	engine "github.com/jason-s-yu/cloister/engine"
	"github.com/jason-s-yu/cloister/service/internal/integrity"
	"github.com/jason-s-yu/cloister/service/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockBroadcaster captures game events for testing assertions.
type mockBroadcaster struct {
	mu           sync.Mutex
	allEvents    []GameEvent
	playerEvents map[uuid.UUID][]GameEvent
}

// newMockBroadcaster creates an instance of the mock broadcaster.
func newMockBroadcaster() *mockBroadcaster {
	return &mockBroadcaster{
		playerEvents: make(map[uuid.UUID][]GameEvent),
	}
}

func (mb *mockBroadcaster) broadcastFn(ev GameEvent) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.allEvents = append(mb.allEvents, ev)
}

func (mb *mockBroadcaster) broadcastToPlayerFn(playerID uuid.UUID, ev GameEvent) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.playerEvents[playerID] = append(mb.playerEvents[playerID], ev)
}

func (mb *mockBroadcaster) attach(g *TileGame) {
	g.BroadcastFn = mb.broadcastFn
	g.BroadcastToPlayerFn = mb.broadcastToPlayerFn
}

func (mb *mockBroadcaster) clear() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.allEvents = []GameEvent{}
	mb.playerEvents = make(map[uuid.UUID][]GameEvent)
}

func (mb *mockBroadcaster) getLastPlayerEvent(playerID uuid.UUID) *GameEvent {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	events, ok := mb.playerEvents[playerID]
	if !ok || len(events) == 0 {
		return nil
	}
	return &events[len(events)-1]
}

func (mb *mockBroadcaster) findEventByType(eventType GameEventType) *GameEvent {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	for i := len(mb.allEvents) - 1; i >= 0; i-- {
		if mb.allEvents[i].Type == eventType {
			return &mb.allEvents[i]
		}
	}
	return nil
}

func (mb *mockBroadcaster) countEvents(eventType GameEventType) int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	n := 0
	for _, ev := range mb.allEvents {
		if ev.Type == eventType {
			n++
		}
	}
	return n
}

func (mb *mockBroadcaster) playerEventTypes(playerID uuid.UUID) []GameEventType {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	var out []GameEventType
	for _, ev := range mb.playerEvents[playerID] {
		out = append(out, ev.Type)
	}
	return out
}

// memJournal is an in-memory storage.Journal.
type memJournal struct {
	mu     sync.Mutex
	games  map[uuid.UUID]storage.Game
	events map[uuid.UUID][]storage.Record
	fail   error
}

func newMemJournal() *memJournal {
	return &memJournal{games: map[uuid.UUID]storage.Game{}, events: map[uuid.UUID][]storage.Record{}}
}

func (j *memJournal) CreateGame(_ context.Context, game storage.Game) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, ok := j.games[game.ID]; ok {
		return storage.ErrAlreadyExists
	}
	if game.Status == "" {
		game.Status = storage.StatusActive
	}
	j.games[game.ID] = game
	return nil
}

func (j *memJournal) GetGame(_ context.Context, id uuid.UUID) (storage.Game, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	game, ok := j.games[id]
	if !ok {
		return storage.Game{}, storage.ErrNotFound
	}
	return game, nil
}

func (j *memJournal) SetGameStatus(_ context.Context, id uuid.UUID, status storage.GameStatus) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	game, ok := j.games[id]
	if !ok {
		return storage.ErrNotFound
	}
	game.Status = status
	j.games[id] = game
	return nil
}

func (j *memJournal) AppendEvents(ctx context.Context, id uuid.UUID, records []storage.Record, snapshot []byte) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.fail != nil {
		return j.fail
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	game, ok := j.games[id]
	if !ok {
		return storage.ErrNotFound
	}
	game.Snapshot = slices.Clone(snapshot)
	j.games[id] = game
	j.events[id] = append(j.events[id], records...)
	return nil
}

func (j *memJournal) ListEvents(_ context.Context, id uuid.UUID) ([]storage.Record, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return slices.Clone(j.events[id]), nil
}

func (j *memJournal) Close() error { return nil }

func (j *memJournal) status(id uuid.UUID) storage.GameStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.games[id].Status
}

// lineSource places every tile at the first free cell east of the origin.
// Tiles whose id starts with "bridge" can only be placed with a bridge.
func lineSource() engine.PlacementSource {
	return engine.PlacementSourceFunc(func(s engine.Snapshot, tile engine.Tile) []engine.PlacementOption {
		pos := engine.Position{X: 1}
		for {
			if _, taken := s.Board.Get(pos); !taken {
				break
			}
			pos.X++
		}
		if strings.HasPrefix(string(tile.ID), "bridge") {
			if s.TokenCount(s.TurnPlayer, engine.TokenBridge) == 0 {
				return nil
			}
			ptr := engine.FeaturePointer{Position: pos, Location: engine.LocNS}
			return []engine.PlacementOption{{Position: pos, Rotation: engine.R0, MandatoryBridge: &ptr}}
		}
		return []engine.PlacementOption{{Position: pos, Rotation: engine.R0}, {Position: pos, Rotation: engine.R90}}
	})
}

func plainTiles(prefix string, n int) []engine.Tile {
	tiles := make([]engine.Tile, n)
	for i := range tiles {
		tiles[i] = engine.Tile{ID: engine.TileID(fmt.Sprintf("%s-%d", prefix, i))}
	}
	return tiles
}

// setupTestGame builds and starts a two-player game over tiles with a mock
// broadcaster and an in-memory journal.
func setupTestGame(t *testing.T, tiles []engine.Tile, turn time.Duration) (*TileGame, *mockBroadcaster, *memJournal) {
	t.Helper()
	journal := newMemJournal()
	chain, err := integrity.NewChain([]byte("test-key"))
	require.NoError(t, err)
	start := engine.Tile{ID: "start"}
	g, err := NewTileGame(Options{
		Seed:         7,
		TileSet:      "test",
		Tiles:        tiles,
		StartTile:    &start,
		Players:      []string{"alice", "bob"},
		Capabilities: []engine.CapabilityID{engine.CapHill, engine.CapBridge},
		BridgeTokens: 1,
		TurnDuration: turn,
		Source:       lineSource(),
		Journal:      journal,
		Chain:        chain,
	})
	require.NoError(t, err)
	for _, p := range g.Players {
		p.Connected = true
	}
	mb := newMockBroadcaster()
	mb.attach(g)
	require.NoError(t, journal.CreateGame(context.Background(), g.Record()))

	g.Mu.Lock()
	defer g.Mu.Unlock()
	require.NoError(t, g.Start(context.Background()))
	require.True(t, g.Started, "Game should be marked as started")
	return g, mb, journal
}

func placeFirst(t *testing.T, g *TileGame) error {
	t.Helper()
	g.Mu.Lock()
	defer g.Mu.Unlock()
	p := g.Snapshot.Pending
	require.NotNil(t, p, "a decision should be pending")
	o := p.Options[0]
	return g.HandlePlayerCommand(context.Background(), g.Players[p.Player].ID,
		engine.PlaceTile{TileID: p.Tile.ID, Position: o.Position, Rotation: o.Rotation})
}

func TestNewTileGameRejectsBadOptions(t *testing.T) {
	_, err := NewTileGame(Options{Players: []string{"alice"}})
	assert.ErrorIs(t, err, engine.ErrPlacementSourceRequired)

	_, err = NewTileGame(Options{Players: []string{"alice"}, Source: lineSource(), Capabilities: []engine.CapabilityID{"tower"}})
	assert.ErrorIs(t, err, ErrUnknownCapability)

	_, err = NewTileGame(Options{Source: lineSource()})
	assert.Error(t, err, "a game needs players")
}

func TestStartSuspendsOnFirstDecision(t *testing.T) {
	g, mb, journal := setupTestGame(t, plainTiles("plain", 3), 0)

	require.NotNil(t, g.Snapshot.Pending)
	assert.Equal(t, 0, g.Snapshot.Pending.Player)
	assert.Equal(t, 2, g.Snapshot.Pack.Size())

	start := mb.playerEventTypes(g.Players[0].ID)
	require.NotEmpty(t, start)
	assert.Equal(t, EventGameStart, start[0])

	pending := mb.findEventByType(EventPendingAction)
	require.NotNil(t, pending)
	assert.Equal(t, g.Players[0].ID, pending.User.ID)
	assert.Len(t, pending.Pending.Options, 2)

	logEv := mb.findEventByType(EventGameLog)
	require.NotNil(t, logEv)
	assert.Equal(t, engine.EventTileDrawn, logEv.Log.Type)

	records, err := journal.ListEvents(context.Background(), g.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, g.head, records[0].Hash)
}

func TestPlaceTileHandsOffToNextPlayer(t *testing.T) {
	g, mb, journal := setupTestGame(t, plainTiles("plain", 3), 0)
	mb.clear()

	require.NoError(t, placeFirst(t, g))

	assert.Equal(t, 1, g.Snapshot.TurnPlayer)
	assert.Equal(t, 1, g.TurnID)
	require.NotNil(t, g.Snapshot.Pending)
	assert.Equal(t, 1, g.Snapshot.Pending.Player)

	handoff := mb.findEventByType(EventPhaseHandoff)
	require.NotNil(t, handoff)
	assert.Equal(t, engine.PhaseAction, handoff.Phase)
	assert.Equal(t, 1, mb.countEvents(EventGamePlayerTurn))

	records, err := journal.ListEvents(context.Background(), g.ID)
	require.NoError(t, err)
	events := make([]engine.Event, len(records))
	hashes := make([]string, len(records))
	for i, r := range records {
		events[i], hashes[i] = r.Event, r.Hash
	}
	assert.Equal(t, g.Snapshot.Events, events)
	assert.NoError(t, g.chain.Verify(events, hashes))
}

func TestRejectedRequestIsPrivate(t *testing.T) {
	g, mb, journal := setupTestGame(t, plainTiles("plain", 3), 0)
	mb.clear()
	before, err := json.Marshal(g.Snapshot)
	require.NoError(t, err)

	g.Mu.Lock()
	p := *g.Snapshot.Pending
	bob := g.Players[1].ID
	err = g.HandlePlayerCommand(context.Background(), bob,
		engine.PlaceTile{TileID: p.Tile.ID, Position: p.Options[0].Position, Rotation: p.Options[0].Rotation})
	g.Mu.Unlock()

	require.ErrorIs(t, err, engine.ErrInvalidRequest)
	assert.False(t, g.Corrupt)
	after, err := json.Marshal(g.Snapshot)
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after))

	last := mb.getLastPlayerEvent(bob)
	require.NotNil(t, last)
	assert.Equal(t, EventPrivateError, last.Type)
	assert.Empty(t, mb.playerEventTypes(g.Players[0].ID))
	assert.Nil(t, mb.findEventByType(EventGameLog), "nothing was broadcast")
	assert.Equal(t, storage.StatusActive, journal.status(g.ID))
}

func TestRejectedPlacementRepeatsPending(t *testing.T) {
	g, mb, _ := setupTestGame(t, plainTiles("plain", 3), 0)
	mb.clear()

	g.Mu.Lock()
	p := *g.Snapshot.Pending
	alice := g.Players[0].ID
	err := g.HandlePlayerCommand(context.Background(), alice,
		engine.PlaceTile{TileID: p.Tile.ID, Position: engine.Position{X: 9, Y: 9}, Rotation: engine.R0})
	g.Mu.Unlock()

	require.ErrorIs(t, err, engine.ErrInvalidRequest)
	assert.Equal(t, []GameEventType{EventPrivateError, EventPendingAction}, mb.playerEventTypes(alice))
}

func TestProtocolViolationAbortsGame(t *testing.T) {
	var ended bool
	g, mb, journal := setupTestGame(t, plainTiles("plain", 3), 0)
	g.OnGameEnd = func(uuid.UUID, engine.Phase, map[uuid.UUID]int) { ended = true }

	g.Mu.Lock()
	err := g.HandlePlayerCommand(context.Background(), g.Players[0].ID, engine.Pass{})
	g.Mu.Unlock()

	require.ErrorIs(t, err, engine.ErrProtocolViolation)
	assert.True(t, g.Corrupt)
	assert.True(t, g.GameOver)
	assert.True(t, ended)
	assert.NotNil(t, mb.findEventByType(EventGameCorrupt))
	assert.Equal(t, storage.StatusCorrupt, journal.status(g.ID))

	g.Mu.Lock()
	err = g.HandlePlayerCommand(context.Background(), g.Players[0].ID, engine.Pass{})
	g.Mu.Unlock()
	assert.ErrorIs(t, err, ErrGameClosed)
}

func TestStaleReplyAfterPlacementIsRejected(t *testing.T) {
	g, mb, journal := setupTestGame(t, plainTiles("plain", 4), 0)
	g.Mu.Lock()
	p := *g.Snapshot.Pending
	alice := g.Players[0].ID
	g.Mu.Unlock()
	reply := engine.PlaceTile{TileID: p.Tile.ID, Position: p.Options[0].Position, Rotation: p.Options[0].Rotation}

	require.NoError(t, placeFirst(t, g))
	mb.clear()

	g.Mu.Lock()
	err := g.HandlePlayerCommand(context.Background(), alice, reply)
	g.Mu.Unlock()

	require.ErrorIs(t, err, engine.ErrInvalidRequest)
	assert.False(t, engine.IsFatal(err))
	assert.False(t, g.Corrupt)
	assert.False(t, g.GameOver)
	assert.Equal(t, storage.StatusActive, journal.status(g.ID))
	assert.Equal(t, []GameEventType{EventPrivateError}, mb.playerEventTypes(alice))
	assert.Nil(t, mb.findEventByType(EventGameCorrupt))
}

func TestLateReplyAfterTimeoutIsRejected(t *testing.T) {
	g, mb, journal := setupTestGame(t, plainTiles("plain", 4), 0)
	g.Mu.Lock()
	defer g.Mu.Unlock()
	p := *g.Snapshot.Pending
	alice := g.Players[0].ID

	g.handleTimeout(context.Background(), alice)
	require.NotNil(t, g.Snapshot.Pending)
	require.Equal(t, 1, g.Snapshot.Pending.Player, "the timeout moved the turn on")
	mb.clear()

	err := g.HandlePlayerCommand(context.Background(), alice,
		engine.PlaceTile{TileID: p.Tile.ID, Position: p.Options[1].Position, Rotation: p.Options[1].Rotation})
	require.ErrorIs(t, err, engine.ErrInvalidRequest)
	assert.False(t, g.Corrupt)
	assert.Equal(t, storage.StatusActive, journal.status(g.ID))
	assert.Equal(t, 2, g.Snapshot.Board.Len())
}

func TestResumeCommitsAfterRequestCancelled(t *testing.T) {
	g, _, journal := setupTestGame(t, plainTiles("plain", 3), 0)
	g.Mu.Lock()
	defer g.Mu.Unlock()
	// A checkpoint taken between the draw and the decision.
	tile := g.Snapshot.Pending.Tile
	g.Snapshot.Pending = nil
	g.Snapshot.Drawn = &tile
	before := g.commits

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, g.Resume(ctx))

	assert.False(t, g.Corrupt)
	assert.Equal(t, before+1, g.commits)
	require.NotNil(t, g.Snapshot.Pending)
	assert.Equal(t, tile.ID, g.Snapshot.Pending.Tile.ID)
	assert.Equal(t, storage.StatusActive, journal.status(g.ID))
}

func TestUnseatedPlayerRejected(t *testing.T) {
	g, _, _ := setupTestGame(t, plainTiles("plain", 2), 0)
	g.Mu.Lock()
	defer g.Mu.Unlock()
	err := g.HandlePlayerCommand(context.Background(), uuid.New(), engine.Pass{})
	assert.ErrorIs(t, err, engine.ErrInvalidRequest)
	assert.False(t, g.Corrupt)
}

func TestJournalFailureAbortsGame(t *testing.T) {
	g, mb, journal := setupTestGame(t, plainTiles("plain", 3), 0)
	journal.fail = fmt.Errorf("disk full")
	eventsBefore := len(g.Snapshot.Events)

	err := placeFirst(t, g)
	require.Error(t, err)
	assert.True(t, g.Corrupt)
	assert.Len(t, g.Snapshot.Events, eventsBefore, "uncommitted events are rolled back")
	assert.NotNil(t, mb.findEventByType(EventGameCorrupt))
}

func TestGameEndsWhenPackIsEmpty(t *testing.T) {
	var (
		endPhase engine.Phase
		placed   map[uuid.UUID]int
	)
	g, mb, journal := setupTestGame(t, plainTiles("plain", 5), 0)
	g.OnGameEnd = func(_ uuid.UUID, phase engine.Phase, p map[uuid.UUID]int) {
		endPhase, placed = phase, p
	}

	for i := 0; i < 5; i++ {
		require.NoError(t, placeFirst(t, g))
	}

	assert.True(t, g.GameOver)
	assert.False(t, g.Corrupt)
	assert.Nil(t, g.Snapshot.Pending)
	assert.Equal(t, engine.PhaseGameOver, endPhase)
	assert.Equal(t, 3, placed[g.Players[0].ID])
	assert.Equal(t, 2, placed[g.Players[1].ID])
	assert.Equal(t, storage.StatusFinished, journal.status(g.ID))

	end := mb.findEventByType(EventGameEnd)
	require.NotNil(t, end)
	assert.Equal(t, 6, end.Payload["board"])
	assert.NoError(t, engine.VerifyPack(engine.NewTilePack(plainTiles("plain", 5)), g.Snapshot))
}

func TestTimeoutPassesWhenAllowed(t *testing.T) {
	tiles := []engine.Tile{{ID: "bridge-1"}}
	g, mb, _ := setupTestGame(t, tiles, 20*time.Millisecond)
	g.Mu.Lock()
	require.NotNil(t, g.Snapshot.Pending)
	require.True(t, g.Snapshot.Pending.CanPass)
	g.Mu.Unlock()

	require.Eventually(t, func() bool {
		g.Mu.Lock()
		defer g.Mu.Unlock()
		return g.GameOver
	}, 2*time.Second, 5*time.Millisecond)

	timeout := mb.findEventByType(EventPlayerTimeout)
	require.NotNil(t, timeout)
	assert.Equal(t, true, timeout.Payload["pass"])
	g.Mu.Lock()
	defer g.Mu.Unlock()
	assert.Len(t, g.Snapshot.Discarded, 1)
	assert.False(t, g.Corrupt)
}

func TestTimeoutPlacesFirstOption(t *testing.T) {
	g, mb, _ := setupTestGame(t, plainTiles("plain", 2), 20*time.Millisecond)

	require.Eventually(t, func() bool {
		g.Mu.Lock()
		defer g.Mu.Unlock()
		return g.GameOver
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 2, mb.countEvents(EventPlayerTimeout))
	g.Mu.Lock()
	defer g.Mu.Unlock()
	assert.Equal(t, 3, g.Snapshot.Board.Len())
}

func TestStoppedTimerDoesNotFire(t *testing.T) {
	g, mb, _ := setupTestGame(t, plainTiles("plain", 3), 50*time.Millisecond)
	require.NoError(t, placeFirst(t, g))
	g.Mu.Lock()
	g.stopTurnTimer()
	g.Mu.Unlock()

	time.Sleep(100 * time.Millisecond)
	assert.Nil(t, mb.findEventByType(EventPlayerTimeout))
}

func TestDisconnectOfActingPlayerResolvesDecision(t *testing.T) {
	g, mb, _ := setupTestGame(t, plainTiles("plain", 3), 0)
	alice := g.Players[0].ID

	g.Mu.Lock()
	g.HandleDisconnect(context.Background(), alice)
	g.Mu.Unlock()

	assert.False(t, g.Players[0].Connected)
	assert.NotNil(t, mb.findEventByType(EventPlayerTimeout))
	assert.Equal(t, 1, g.Snapshot.TurnPlayer)

	mb.clear()
	g.Mu.Lock()
	g.HandleDisconnect(context.Background(), g.Players[0].ID)
	g.Mu.Unlock()
	assert.Nil(t, mb.findEventByType(EventPlayerTimeout), "second disconnect is a no-op")
}

func TestReconnectSendsSyncState(t *testing.T) {
	g, mb, _ := setupTestGame(t, plainTiles("plain", 3), 0)
	bob := g.Players[1].ID
	require.NoError(t, placeFirst(t, g))

	g.Mu.Lock()
	g.Players[1].Connected = false
	mb.clear()
	ok := g.HandleReconnect(bob)
	g.Mu.Unlock()

	require.True(t, ok)
	types := mb.playerEventTypes(bob)
	assert.Equal(t, []GameEventType{EventPrivateSyncState, EventPendingAction}, types)

	mb.mu.Lock()
	state := mb.playerEvents[bob][0].State
	mb.mu.Unlock()
	require.NotNil(t, state)
	assert.Equal(t, bob, state.CurrentPlayerID)
	assert.True(t, state.Players[1].IsSelf)
	assert.True(t, state.Players[1].IsCurrentTurn)
	assert.Equal(t, 1, state.PackSize)
	assert.Len(t, state.Board, 2)
	assert.NotEmpty(t, state.Digest)

	g.Mu.Lock()
	assert.False(t, g.HandleReconnect(uuid.New()))
	g.Mu.Unlock()
}

func TestAutoReply(t *testing.T) {
	ptr := engine.FeaturePointer{Position: engine.Position{X: 1}, Location: engine.LocNS}
	tests := []struct {
		name    string
		pending engine.PendingAction
		want    engine.Command
	}{
		{
			name: "pass allowed",
			pending: engine.PendingAction{Tile: engine.Tile{ID: "a"}, CanPass: true,
				Options: []engine.PlacementOption{{Position: ptr.Position, MandatoryBridge: &ptr}}},
			want: engine.Pass{},
		},
		{
			name: "first option",
			pending: engine.PendingAction{Tile: engine.Tile{ID: "a"},
				Options: []engine.PlacementOption{{Position: engine.Position{X: 2}, Rotation: engine.R180}, {Position: engine.Position{X: 3}}}},
			want: engine.PlaceTile{TileID: "a", Position: engine.Position{X: 2}, Rotation: engine.R180},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, autoReply(tc.pending))
		})
	}
}
