package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	engine "github.com/jason-s-yu/cloister/engine"
	"github.com/jason-s-yu/cloister/service/internal/auth"
	"github.com/jason-s-yu/cloister/service/internal/game"
	"github.com/jason-s-yu/cloister/service/internal/geometry"
	"github.com/jason-s-yu/cloister/service/internal/integrity"
	"github.com/jason-s-yu/cloister/service/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	hub      *Hub
	registry *game.Registry
	signer   *auth.Signer
	srv      *httptest.Server
	game     *game.TileGame
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	chain, err := integrity.NewChain([]byte("ws-test-key"))
	require.NoError(t, err)
	signer, err := auth.NewSigner("ws-test-secret", time.Hour)
	require.NoError(t, err)

	registry := game.NewRegistry(nil, nil, chain, geometry.EdgeMatcher{}, game.Defaults{Seed: 11}, nil)
	hub := NewHub(registry, signer, nil, nil)
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(srv.Close)

	g, err := registry.Create(context.Background(), game.CreateRequest{Players: []string{"alice", "bob"}})
	require.NoError(t, err)
	return &fixture{hub: hub, registry: registry, signer: signer, srv: srv, game: g}
}

func (f *fixture) token(t *testing.T, seat int) string {
	t.Helper()
	f.game.Mu.Lock()
	p := f.game.Players[seat]
	f.game.Mu.Unlock()
	tok, err := f.signer.Issue(auth.Seat{GameID: f.game.ID, PlayerID: p.ID, Index: seat, Name: p.Name})
	require.NoError(t, err)
	return tok
}

func (f *fixture) url(token string) string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http") + "?token=" + token
}

func (f *fixture) actingSeat(t *testing.T) int {
	t.Helper()
	f.game.Mu.Lock()
	defer f.game.Mu.Unlock()
	require.NotNil(t, f.game.Snapshot.Pending)
	return f.game.Snapshot.Pending.Player
}

func (f *fixture) connected(seat int) bool {
	f.game.Mu.Lock()
	defer f.game.Mu.Unlock()
	return f.game.Players[seat].Connected
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// dial connects and completes the handshake for token.
func dial(t *testing.T, f *fixture, token string) (*websocket.Conn, protocol.WelcomeArg) {
	t.Helper()
	ctx := testContext(t)
	c, _, err := websocket.Dial(ctx, f.url(token), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.CloseNow() })

	hello, err := protocol.New(protocol.CmdHello, protocol.HelloArg{Nickname: "tester"})
	require.NoError(t, err)
	require.NoError(t, wsjson.Write(ctx, c, hello))

	var msg protocol.Message
	require.NoError(t, wsjson.Read(ctx, c, &msg))
	require.Equal(t, protocol.CmdWelcome, msg.Command)
	var welcome protocol.WelcomeArg
	require.NoError(t, json.Unmarshal(msg.Arg, &welcome))
	return c, welcome
}

// readUntil reads frames until a game event of type typ arrives.
func readUntil(t *testing.T, c *websocket.Conn, typ game.GameEventType) {
	t.Helper()
	ctx := testContext(t)
	for {
		var msg protocol.Message
		require.NoError(t, wsjson.Read(ctx, c, &msg), "waiting for %s", typ)
		if msg.Command != protocol.CmdGameEvent {
			continue
		}
		var ev struct {
			Type game.GameEventType `json:"type"`
		}
		require.NoError(t, json.Unmarshal(msg.Arg, &ev))
		if ev.Type == typ {
			return
		}
	}
}

// readCommand reads frames until one with command arrives.
func readCommand(t *testing.T, c *websocket.Conn, command string) protocol.Message {
	t.Helper()
	ctx := testContext(t)
	for {
		var msg protocol.Message
		require.NoError(t, wsjson.Read(ctx, c, &msg), "waiting for %s", command)
		if msg.Command == command {
			return msg
		}
	}
}

func TestServeWSRejectsBadToken(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.srv.URL + "?token=garbage")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServeWSUnknownGame(t *testing.T) {
	f := newFixture(t)
	tok, err := f.signer.Issue(auth.Seat{GameID: uuid.New(), PlayerID: uuid.New(), Index: 0})
	require.NoError(t, err)
	resp, err := http.Get(f.srv.URL + "?token=" + tok)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServeWSRejectsForeignSeat(t *testing.T) {
	f := newFixture(t)
	tok, err := f.signer.Issue(auth.Seat{GameID: f.game.ID, PlayerID: uuid.New(), Index: 1})
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodGet, f.srv.URL, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHandshakeBindsSeat(t *testing.T) {
	f := newFixture(t)
	tok := f.token(t, 1)
	c, welcome := dial(t, f, tok)

	assert.Equal(t, f.game.ID, welcome.GameID)
	assert.Equal(t, 1, welcome.Seat)
	assert.Equal(t, tok, welcome.SessionKey)

	readUntil(t, c, game.EventPrivateSyncState)
	assert.True(t, f.connected(1))
	assert.Equal(t, 1, f.hub.Connections(f.game.ID))
}

func TestHandshakeRequiresHello(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)
	c, _, err := websocket.Dial(ctx, f.url(f.token(t, 0)), nil)
	require.NoError(t, err)
	defer c.CloseNow()

	sync, err := protocol.New(protocol.CmdSync, nil)
	require.NoError(t, err)
	require.NoError(t, wsjson.Write(ctx, c, sync))

	_, _, err = c.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
	assert.False(t, f.connected(0))
}

func TestPlaceTileOverSocket(t *testing.T) {
	f := newFixture(t)
	seat := f.actingSeat(t)
	c, _ := dial(t, f, f.token(t, seat))
	readUntil(t, c, game.EventPrivateSyncState)

	f.game.Mu.Lock()
	pending := *f.game.Snapshot.Pending
	f.game.Mu.Unlock()
	require.NotEmpty(t, pending.Options)
	opt := pending.Options[0]
	place, err := protocol.New(protocol.CmdPlaceTile, engine.PlaceTile{TileID: pending.Tile.ID, Position: opt.Position, Rotation: opt.Rotation})
	require.NoError(t, err)
	require.NoError(t, wsjson.Write(testContext(t), c, place))

	readUntil(t, c, game.EventPhaseHandoff)
	f.game.Mu.Lock()
	defer f.game.Mu.Unlock()
	_, placed := f.game.Snapshot.Board.Get(opt.Position)
	assert.True(t, placed)
	assert.NotEqual(t, seat, f.game.Snapshot.TurnPlayer)
}

func TestRejectedPlacementIsPrivateError(t *testing.T) {
	f := newFixture(t)
	seat := f.actingSeat(t)
	c, _ := dial(t, f, f.token(t, seat))
	readUntil(t, c, game.EventPrivateSyncState)

	f.game.Mu.Lock()
	tileID := f.game.Snapshot.Pending.Tile.ID
	f.game.Mu.Unlock()
	place, err := protocol.New(protocol.CmdPlaceTile, engine.PlaceTile{TileID: tileID, Position: engine.Position{X: 40, Y: 40}})
	require.NoError(t, err)
	require.NoError(t, wsjson.Write(testContext(t), c, place))

	readUntil(t, c, game.EventPrivateError)
	f.game.Mu.Lock()
	defer f.game.Mu.Unlock()
	assert.False(t, f.game.GameOver)
	assert.Equal(t, 1, f.game.Snapshot.Board.Len())
}

func TestMalformedFramesGetErrors(t *testing.T) {
	f := newFixture(t)
	c, _ := dial(t, f, f.token(t, 0))
	ctx := testContext(t)

	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte("not json")))
	msg := readCommand(t, c, protocol.CmdError)
	var arg protocol.ErrorArg
	require.NoError(t, json.Unmarshal(msg.Arg, &arg))
	assert.Contains(t, arg.Message, protocol.ErrMalformed.Error())

	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte(`{"command":"dance"}`)))
	msg = readCommand(t, c, protocol.CmdError)
	require.NoError(t, json.Unmarshal(msg.Arg, &arg))
	assert.Contains(t, arg.Message, protocol.ErrUnknownCommand.Error())
}

func TestSyncResendsState(t *testing.T) {
	f := newFixture(t)
	c, _ := dial(t, f, f.token(t, 0))
	readUntil(t, c, game.EventPrivateSyncState)

	require.NoError(t, c.Write(testContext(t), websocket.MessageText, []byte(`{"command":"sync"}`)))
	readUntil(t, c, game.EventPrivateSyncState)
}

func TestCloseMarksPlayerDisconnected(t *testing.T) {
	f := newFixture(t)
	seat := 1 - f.actingSeat(t)
	c, _ := dial(t, f, f.token(t, seat))
	readUntil(t, c, game.EventPrivateSyncState)
	require.True(t, f.connected(seat))

	require.NoError(t, c.Close(websocket.StatusNormalClosure, "done"))
	assert.Eventually(t, func() bool {
		return !f.connected(seat) && f.hub.Connections(f.game.ID) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNewConnectionTakesOverSeat(t *testing.T) {
	f := newFixture(t)
	tok := f.token(t, 0)
	first, _ := dial(t, f, tok)
	readUntil(t, first, game.EventPrivateSyncState)

	second, _ := dial(t, f, tok)
	readUntil(t, second, game.EventPrivateSyncState)

	ctx := testContext(t)
	for {
		if _, _, err := first.Read(ctx); err != nil {
			break
		}
	}
	assert.Equal(t, 1, f.hub.Connections(f.game.ID))
	assert.True(t, f.connected(0), "replaced connection must not disconnect the seat")
}
