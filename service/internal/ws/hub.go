// Package ws binds websocket connections to seats in live games.
package ws

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	engine "github.com/jason-s-yu/cloister/engine"
	"github.com/jason-s-yu/cloister/service/internal/auth"
	"github.com/jason-s-yu/cloister/service/internal/game"
	"github.com/jason-s-yu/cloister/service/internal/protocol"
	"github.com/sirupsen/logrus"
)

const (
	helloTimeout = 10 * time.Second
	writeTimeout = 5 * time.Second
	pingInterval = 15 * time.Second
	sendBuffer   = 64
)

// Client is one authenticated connection.
type Client struct {
	seat auth.Seat
	conn *websocket.Conn
	send chan protocol.Message

	closeOnce sync.Once
	done      chan struct{}
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// enqueue hands msg to the writer. A client that cannot keep up loses the
// message; a SYNC brings it back in step.
func (c *Client) enqueue(msg protocol.Message) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Hub tracks the connections of every game, keyed by game and player.
type Hub struct {
	registry *game.Registry
	signer   *auth.Signer
	origins  []string
	log      *logrus.Entry

	mu      sync.RWMutex
	clients map[uuid.UUID]map[uuid.UUID]*Client
}

// NewHub returns a hub serving the games of registry and installs itself as
// the registry's broadcaster.
func NewHub(registry *game.Registry, signer *auth.Signer, origins []string, logger *logrus.Entry) *Hub {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	h := &Hub{
		registry: registry,
		signer:   signer,
		origins:  origins,
		log:      logger.WithField("component", "ws"),
		clients:  make(map[uuid.UUID]map[uuid.UUID]*Client),
	}
	registry.Attach = h.Attach
	return h
}

// Attach routes the events of g to its connected players.
func (h *Hub) Attach(g *game.TileGame) {
	gameID := g.ID
	g.BroadcastFn = func(ev game.GameEvent) {
		h.broadcast(gameID, ev)
	}
	g.BroadcastToPlayerFn = func(playerID uuid.UUID, ev game.GameEvent) {
		h.sendToPlayer(gameID, playerID, ev)
	}
	g.OnGameEnd = func(id uuid.UUID, phase engine.Phase, placed map[uuid.UUID]int) {
		h.log.WithFields(logrus.Fields{"game_id": id, "phase": phase}).Info("Game closed, releasing session.")
		// The game lock is held here; Remove takes the registry lock.
		go h.registry.Remove(id)
	}
}

func (h *Hub) broadcast(gameID uuid.UUID, ev game.GameEvent) {
	msg, err := protocol.New(protocol.CmdGameEvent, ev)
	if err != nil {
		h.log.WithError(err).Error("Failed to encode game event.")
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for playerID, c := range h.clients[gameID] {
		if !c.enqueue(msg) {
			h.log.WithFields(logrus.Fields{"game_id": gameID, "player": playerID}).Warnf("Dropped %s event for slow client.", ev.Type)
		}
	}
}

func (h *Hub) sendToPlayer(gameID, playerID uuid.UUID, ev game.GameEvent) {
	msg, err := protocol.New(protocol.CmdGameEvent, ev)
	if err != nil {
		h.log.WithError(err).Error("Failed to encode game event.")
		return
	}
	h.mu.RLock()
	c := h.clients[gameID][playerID]
	h.mu.RUnlock()
	if c != nil && !c.enqueue(msg) {
		h.log.WithFields(logrus.Fields{"game_id": gameID, "player": playerID}).Warnf("Dropped %s event for slow client.", ev.Type)
	}
}

// register binds c to its seat and returns the connection it replaces.
func (h *Hub) register(c *Client) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	seats := h.clients[c.seat.GameID]
	if seats == nil {
		seats = make(map[uuid.UUID]*Client)
		h.clients[c.seat.GameID] = seats
	}
	old := seats[c.seat.PlayerID]
	seats[c.seat.PlayerID] = c
	return old
}

// unregister drops c unless a newer connection already took its seat.
func (h *Hub) unregister(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	seats := h.clients[c.seat.GameID]
	if seats[c.seat.PlayerID] != c {
		return false
	}
	delete(seats, c.seat.PlayerID)
	if len(seats) == 0 {
		delete(h.clients, c.seat.GameID)
	}
	return true
}

// Connections returns the number of open connections to gameID.
func (h *Hub) Connections(gameID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[gameID])
}

func bearerToken(r *http.Request) string {
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok
	}
	if v := r.Header.Get("Authorization"); strings.HasPrefix(v, "Bearer ") {
		return strings.TrimPrefix(v, "Bearer ")
	}
	return ""
}

// ServeWS authenticates the seat token, upgrades the connection, performs the
// HELLO/WELCOME handshake and then relays commands until the socket closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	seat, err := h.signer.Verify(token)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	logger := h.log.WithFields(logrus.Fields{"game_id": seat.GameID, "player": seat.PlayerID})

	g, err := h.registry.Get(r.Context(), seat.GameID)
	if errors.Is(err, game.ErrGameNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		logger.WithError(err).Error("Failed to load game.")
		http.Error(w, "failed to load game", http.StatusInternalServerError)
		return
	}
	g.Mu.Lock()
	seated := seat.Index < len(g.Players) && g.Players[seat.Index].ID == seat.PlayerID
	g.Mu.Unlock()
	if !seated {
		http.Error(w, "seat token does not match the game", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		logger.WithError(err).Warn("Websocket upgrade failed.")
		return
	}
	c := &Client{seat: seat, conn: conn, send: make(chan protocol.Message, sendBuffer), done: make(chan struct{})}
	ctx := r.Context()

	if err := h.handshake(ctx, c, token); err != nil {
		logger.WithError(err).Info("Handshake failed.")
		_ = conn.Close(websocket.StatusPolicyViolation, "expected HELLO")
		return
	}

	if old := h.register(c); old != nil {
		logger.Info("Seat taken over by a new connection.")
		old.close()
	}
	go h.writeLoop(ctx, c)

	g.Mu.Lock()
	g.HandleReconnect(seat.PlayerID)
	g.Mu.Unlock()

	h.readLoop(ctx, c, g, logger)

	if h.unregister(c) {
		g.Mu.Lock()
		g.HandleDisconnect(context.WithoutCancel(ctx), seat.PlayerID)
		g.Mu.Unlock()
	}
	c.close()
	logger.Info("Connection closed.")
}

// handshake waits for HELLO and answers WELCOME with the bound seat.
func (h *Hub) handshake(ctx context.Context, c *Client, token string) error {
	hctx, cancel := context.WithTimeout(ctx, helloTimeout)
	defer cancel()
	var msg protocol.Message
	if err := wsjson.Read(hctx, c.conn, &msg); err != nil {
		return err
	}
	msg.Command = strings.ToUpper(strings.TrimSpace(msg.Command))
	hello, err := msg.Hello()
	if err != nil {
		return err
	}
	h.log.WithFields(logrus.Fields{"game_id": c.seat.GameID, "player": c.seat.PlayerID, "nickname": hello.Nickname}).Debug("HELLO received.")

	welcome, err := protocol.New(protocol.CmdWelcome, protocol.WelcomeArg{
		ClientID:   c.seat.PlayerID,
		SessionKey: token,
		GameID:     c.seat.GameID,
		Seat:       c.seat.Index,
	})
	if err != nil {
		return err
	}
	wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
	defer wcancel()
	return wsjson.Write(wctx, c.conn, welcome)
}

func (h *Hub) writeLoop(ctx context.Context, c *Client) {
	ping := time.NewTicker(pingInterval)
	defer func() {
		ping.Stop()
		_ = c.conn.Close(websocket.StatusNormalClosure, "bye")
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case msg := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, c.conn, msg)
			cancel()
			if err != nil {
				return
			}
		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Ping(pctx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (h *Hub) readLoop(ctx context.Context, c *Client, g *game.TileGame, logger *logrus.Entry) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			h.replyError(c, err)
			continue
		}

		switch {
		case msg.Command == protocol.CmdSync:
			g.Mu.Lock()
			g.SendSyncState(c.seat.PlayerID)
			g.Mu.Unlock()
		case msg.IsEngineCommand():
			cmd, err := msg.EngineCommand()
			if err != nil {
				h.replyError(c, err)
				continue
			}
			g.Mu.Lock()
			err = g.HandlePlayerCommand(ctx, c.seat.PlayerID, cmd)
			g.Mu.Unlock()
			if err != nil {
				// The game already answered with a private event.
				logger.WithError(err).Debugf("%s not applied.", msg.Command)
			}
		default:
			h.replyError(c, protocol.ErrUnknownCommand)
		}
	}
}

func (h *Hub) replyError(c *Client, err error) {
	msg, encErr := protocol.New(protocol.CmdError, protocol.ErrorArg{Message: err.Error()})
	if encErr != nil {
		return
	}
	c.enqueue(msg)
}
