// Package server assembles the HTTP surface: game creation, health and the
// websocket endpoint.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/google/uuid"
	engine "github.com/jason-s-yu/cloister/engine"
	"github.com/jason-s-yu/cloister/service/internal/auth"
	"github.com/jason-s-yu/cloister/service/internal/game"
	"github.com/jason-s-yu/cloister/service/internal/tileset"
	"github.com/jason-s-yu/cloister/service/internal/ws"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const maxPlayers = 6

// CreateGameRequest is the body of POST /games.
type CreateGameRequest struct {
	Players      []string `json:"players"`
	TileSet      string   `json:"tileSet,omitempty"`
	Seed         uint64   `json:"seed,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// SeatToken lets one player connect to their seat.
type SeatToken struct {
	PlayerID uuid.UUID `json:"playerId"`
	Name     string    `json:"name"`
	Seat     int       `json:"seat"`
	Token    string    `json:"token"`
}

// CreateGameResponse answers POST /games.
type CreateGameResponse struct {
	GameID  uuid.UUID   `json:"gameId"`
	Seed    uint64      `json:"seed"`
	TileSet string      `json:"tileSet"`
	Seats   []SeatToken `json:"seats"`
}

// Server routes requests to the registry and the websocket hub.
type Server struct {
	registry *game.Registry
	signer   *auth.Signer
	hub      *ws.Hub
	origins  []string
	log      *logrus.Entry
}

// New returns a server for registry. origins are the host patterns, as
// understood by path.Match, of browser origins allowed to call the API.
func New(registry *game.Registry, signer *auth.Signer, hub *ws.Hub, origins []string, logger *logrus.Entry) *Server {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	var allow []string
	for _, o := range origins {
		if o = strings.ToLower(strings.TrimSpace(o)); o != "" {
			allow = append(allow, o)
		}
	}
	return &Server{registry: registry, signer: signer, hub: hub, origins: allow, log: logger.WithField("component", "http")}
}

func (s *Server) allowOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Host)
	for _, pattern := range s.origins {
		if ok, _ := path.Match(pattern, host); ok {
			return true
		}
	}
	return false
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.hub.ServeWS)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("POST /games", s.createGame)
	return s.cors(mux)
}

func (s *Server) createGame(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("cloister/server").Start(r.Context(), "server.create_game")
	defer span.End()

	var req CreateGameRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if n := len(req.Players); n < 1 || n > maxPlayers {
		writeError(w, http.StatusBadRequest, "between 1 and 6 players are required")
		return
	}
	for _, name := range req.Players {
		if strings.TrimSpace(name) == "" {
			writeError(w, http.StatusBadRequest, "player names must not be empty")
			return
		}
	}
	var caps []engine.CapabilityID
	if req.Capabilities != nil {
		caps = make([]engine.CapabilityID, 0, len(req.Capabilities))
		for _, c := range req.Capabilities {
			caps = append(caps, engine.CapabilityID(strings.ToLower(strings.TrimSpace(c))))
		}
	}

	g, err := s.registry.Create(ctx, game.CreateRequest{
		Players:      req.Players,
		TileSet:      req.TileSet,
		Seed:         req.Seed,
		Capabilities: caps,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, tileset.ErrUnknownSet) || errors.Is(err, game.ErrUnknownCapability) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.WithError(err).Error("Failed to create game.")
		writeError(w, http.StatusInternalServerError, "failed to create game")
		return
	}
	span.SetAttributes(attribute.String("game.id", g.ID.String()))

	g.Mu.Lock()
	resp := CreateGameResponse{GameID: g.ID, Seed: g.Seed, TileSet: g.TileSet}
	seats := make([]auth.Seat, len(g.Players))
	for i, p := range g.Players {
		seats[i] = auth.Seat{GameID: g.ID, PlayerID: p.ID, Index: p.Seat, Name: p.Name}
	}
	g.Mu.Unlock()

	for _, seat := range seats {
		token, err := s.signer.Issue(seat)
		if err != nil {
			s.log.WithError(err).Error("Failed to issue seat token.")
			writeError(w, http.StatusInternalServerError, "failed to issue seat token")
			return
		}
		resp.Seats = append(resp.Seats, SeatToken{PlayerID: seat.PlayerID, Name: seat.Name, Seat: seat.Index, Token: token})
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.allowOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
